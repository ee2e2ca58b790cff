package mcpservice

import (
	"context"

	"github.com/ggoodman/cheqd-mcp-toolkit/mcp"
	"github.com/ggoodman/cheqd-mcp-toolkit/sessions"
)

// ServerOption configures the ServerCapabilities returned by NewServer.
type ServerOption func(*server)

type server struct {
	info         ServerInfoProvider
	protocol     ProtocolVersionProvider
	instructions InstructionsProvider

	resources ResourcesCapabilityProvider
	tools     ToolsCapabilityProvider
	prompts   PromptsCapabilityProvider
	logging   LoggingCapabilityProvider
}

// NewServer builds a ServerCapabilities from functional options. Capabilities
// that are not configured are not advertised.
func NewServer(opts ...ServerOption) ServerCapabilities {
	s := &server{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithServerInfo sets the provider for implementation info.
func WithServerInfo(p ServerInfoProvider) ServerOption {
	return func(s *server) { s.info = p }
}

// WithProtocolVersion sets the provider for the preferred protocol version.
func WithProtocolVersion(p ProtocolVersionProvider) ServerOption {
	return func(s *server) { s.protocol = p }
}

// WithInstructions sets the provider for initialize instructions.
func WithInstructions(p InstructionsProvider) ServerOption {
	return func(s *server) { s.instructions = p }
}

// WithResourcesCapability enables resources.
func WithResourcesCapability(p ResourcesCapabilityProvider) ServerOption {
	return func(s *server) { s.resources = p }
}

// WithToolsCapability enables tools.
func WithToolsCapability(p ToolsCapabilityProvider) ServerOption {
	return func(s *server) { s.tools = p }
}

// WithPromptsCapability enables prompts.
func WithPromptsCapability(p PromptsCapabilityProvider) ServerOption {
	return func(s *server) { s.prompts = p }
}

// WithLoggingCapability enables logging/setLevel.
func WithLoggingCapability(p LoggingCapabilityProvider) ServerOption {
	return func(s *server) { s.logging = p }
}

func (s *server) GetServerInfo(ctx context.Context, session sessions.Session) (mcp.ImplementationInfo, error) {
	if s.info == nil {
		return mcp.ImplementationInfo{Name: "mcp-server", Version: "0.0.0"}, nil
	}
	info, ok, err := s.info.ProvideServerInfo(ctx, session)
	if err != nil {
		return mcp.ImplementationInfo{}, err
	}
	if !ok {
		return mcp.ImplementationInfo{Name: "mcp-server", Version: "0.0.0"}, nil
	}
	return info, nil
}

func (s *server) GetPreferredProtocolVersion(ctx context.Context, session sessions.Session, clientVersion string) (string, bool, error) {
	if s.protocol == nil {
		return "", false, nil
	}
	return s.protocol.ProvideProtocolVersion(ctx, session, clientVersion)
}

func (s *server) GetInstructions(ctx context.Context, session sessions.Session) (string, bool, error) {
	if s.instructions == nil {
		return "", false, nil
	}
	return s.instructions.ProvideInstructions(ctx, session)
}

func (s *server) GetResourcesCapability(ctx context.Context, session sessions.Session) (ResourcesCapability, bool, error) {
	if s.resources == nil {
		return nil, false, nil
	}
	return s.resources.ProvideResources(ctx, session)
}

func (s *server) GetToolsCapability(ctx context.Context, session sessions.Session) (ToolsCapability, bool, error) {
	if s.tools == nil {
		return nil, false, nil
	}
	return s.tools.ProvideTools(ctx, session)
}

func (s *server) GetPromptsCapability(ctx context.Context, session sessions.Session) (PromptsCapability, bool, error) {
	if s.prompts == nil {
		return nil, false, nil
	}
	return s.prompts.ProvidePrompts(ctx, session)
}

func (s *server) GetLoggingCapability(ctx context.Context, session sessions.Session) (LoggingCapability, bool, error) {
	if s.logging == nil {
		return nil, false, nil
	}
	return s.logging.ProvideLogging(ctx, session)
}
