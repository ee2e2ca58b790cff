package mcpservice

import (
	"context"
	"fmt"

	"github.com/ggoodman/cheqd-mcp-toolkit/mcp"
	"github.com/ggoodman/cheqd-mcp-toolkit/sessions"
)

// Provider interfaces & adapter function types. Each returns (value, ok, error)
// where ok distinguishes absence (false) from presence (true).

// ServerInfoProvider yields implementation metadata.
type ServerInfoProvider interface {
	ProvideServerInfo(ctx context.Context, session sessions.Session) (mcp.ImplementationInfo, bool, error)
}
type ServerInfoProviderFunc func(ctx context.Context, session sessions.Session) (mcp.ImplementationInfo, bool, error)

func (f ServerInfoProviderFunc) ProvideServerInfo(ctx context.Context, s sessions.Session) (mcp.ImplementationInfo, bool, error) {
	return f(ctx, s)
}

// ProtocolVersionProvider yields a preferred protocol version given the
// client's requested version.
type ProtocolVersionProvider interface {
	ProvideProtocolVersion(ctx context.Context, session sessions.Session, clientProtocolVersion string) (string, bool, error)
}
type ProtocolVersionProviderFunc func(ctx context.Context, session sessions.Session, clientProtocolVersion string) (string, bool, error)

func (f ProtocolVersionProviderFunc) ProvideProtocolVersion(ctx context.Context, s sessions.Session, v string) (string, bool, error) {
	return f(ctx, s, v)
}

// InstructionsProvider supplies optional instructions returned in initialize.
type InstructionsProvider interface {
	ProvideInstructions(ctx context.Context, session sessions.Session) (string, bool, error)
}
type InstructionsProviderFunc func(ctx context.Context, session sessions.Session) (string, bool, error)

func (f InstructionsProviderFunc) ProvideInstructions(ctx context.Context, s sessions.Session) (string, bool, error) {
	return f(ctx, s)
}

// ResourcesCapabilityProvider yields a ResourcesCapability.
type ResourcesCapabilityProvider interface {
	ProvideResources(ctx context.Context, session sessions.Session) (ResourcesCapability, bool, error)
}

// ToolsCapabilityProvider yields a ToolsCapability. ok=false suppresses the
// entire capability.
type ToolsCapabilityProvider interface {
	ProvideTools(ctx context.Context, session sessions.Session) (ToolsCapability, bool, error)
}
type ToolsCapabilityProviderFunc func(ctx context.Context, session sessions.Session) (ToolsCapability, bool, error)

func (f ToolsCapabilityProviderFunc) ProvideTools(ctx context.Context, s sessions.Session) (ToolsCapability, bool, error) {
	return f(ctx, s)
}

// PromptsCapabilityProvider yields a PromptsCapability.
type PromptsCapabilityProvider interface {
	ProvidePrompts(ctx context.Context, session sessions.Session) (PromptsCapability, bool, error)
}

// LoggingCapabilityProvider yields logging/setLevel support.
type LoggingCapabilityProvider interface {
	ProvideLogging(ctx context.Context, session sessions.Session) (LoggingCapability, bool, error)
}

// ServerInfoOption configures optional fields on the server's implementation info.
type ServerInfoOption func(*mcp.ImplementationInfo)

// WithServerInfoTitle sets the optional human friendly title.
func WithServerInfoTitle(title string) ServerInfoOption {
	return func(info *mcp.ImplementationInfo) { info.Title = title }
}

// StaticServerInfo returns a provider that always supplies the same implementation info.
func StaticServerInfo(name, version string, opts ...ServerInfoOption) ServerInfoProvider {
	info := mcp.ImplementationInfo{Name: name, Version: version}
	for _, opt := range opts {
		if opt != nil {
			opt(&info)
		}
	}
	return ServerInfoProviderFunc(func(context.Context, sessions.Session) (mcp.ImplementationInfo, bool, error) { return info, true, nil })
}

// StaticProtocolVersion pins the negotiated protocol version.
func StaticProtocolVersion(v string) ProtocolVersionProvider {
	if v == "" {
		return ProtocolVersionProviderFunc(func(context.Context, sessions.Session, string) (string, bool, error) { return "", false, nil })
	}
	if !mcp.IsSupportedProtocolVersion(v) {
		return ProtocolVersionProviderFunc(func(context.Context, sessions.Session, string) (string, bool, error) {
			return "", false, fmt.Errorf("unsupported protocol version %q", v)
		})
	}
	return ProtocolVersionProviderFunc(func(context.Context, sessions.Session, string) (string, bool, error) { return v, true, nil })
}

// StaticInstructions returns a provider for fixed instructions. An empty
// string omits the field.
func StaticInstructions(s string) InstructionsProvider {
	return InstructionsProviderFunc(func(context.Context, sessions.Session) (string, bool, error) { return s, s != "", nil })
}

// StaticTools exposes a single ToolsCapability to every session.
func StaticTools(cap ToolsCapability) ToolsCapabilityProvider {
	return ToolsCapabilityProviderFunc(func(context.Context, sessions.Session) (ToolsCapability, bool, error) { return cap, cap != nil, nil })
}
