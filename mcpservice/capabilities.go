package mcpservice

import (
	"context"
	"errors"

	"github.com/ggoodman/cheqd-mcp-toolkit/mcp"
	"github.com/ggoodman/cheqd-mcp-toolkit/sessions"
)

var (
	// ErrToolNotFound is returned by CallTool for unknown tool names.
	ErrToolNotFound = errors.New("tool not found")
	// ErrPromptNotFound is returned by GetPrompt for unknown prompt names.
	ErrPromptNotFound = errors.New("prompt not found")
	// ErrResourceNotFound is returned by ReadResource for unknown URIs.
	ErrResourceNotFound = errors.New("resource not found")
	// ErrInvalidPromptArguments wraps missing or malformed prompt arguments.
	ErrInvalidPromptArguments = errors.New("invalid prompt arguments")
)

// ServerCapabilities is what the engine consults to answer initialize and to
// route every subsequent request. Implementations MUST be safe for concurrent
// use and honor context cancellation.
type ServerCapabilities interface {
	// GetServerInfo returns the implementation info surfaced in initialize.
	GetServerInfo(ctx context.Context, session sessions.Session) (mcp.ImplementationInfo, error)

	// GetPreferredProtocolVersion picks the protocol revision for a client
	// that asked for clientVersion. ok == false lets the engine decide.
	GetPreferredProtocolVersion(ctx context.Context, session sessions.Session, clientVersion string) (version string, ok bool, err error)

	// GetInstructions returns optional usage instructions for the client.
	GetInstructions(ctx context.Context, session sessions.Session) (instructions string, ok bool, err error)

	GetResourcesCapability(ctx context.Context, session sessions.Session) (cap ResourcesCapability, ok bool, err error)
	GetToolsCapability(ctx context.Context, session sessions.Session) (cap ToolsCapability, ok bool, err error)
	GetPromptsCapability(ctx context.Context, session sessions.Session) (cap PromptsCapability, ok bool, err error)
	GetLoggingCapability(ctx context.Context, session sessions.Session) (cap LoggingCapability, ok bool, err error)
}

// ResourcesCapability lists and reads resources. A nil cursor requests the
// first page.
type ResourcesCapability interface {
	ListResources(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Resource], error)
	ListResourceTemplates(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.ResourceTemplate], error)

	// ReadResource returns the contents for uri. Unknown URIs yield an error
	// wrapping ErrResourceNotFound.
	ReadResource(ctx context.Context, session sessions.Session, uri string) ([]mcp.ResourceContents, error)
}

// ToolsCapability lists and invokes tools.
type ToolsCapability interface {
	ListTools(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Tool], error)

	// CallTool invokes the named tool. Tool-level failures are reported in
	// the result with IsError set; a returned error means the call could not
	// be dispatched at all (for example ErrToolNotFound).
	CallTool(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)
}

// PromptsCapability lists and renders prompts.
type PromptsCapability interface {
	ListPrompts(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Prompt], error)
	GetPrompt(ctx context.Context, session sessions.Session, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error)
}

// LoggingCapability serves logging/setLevel.
type LoggingCapability interface {
	SetLevel(ctx context.Context, session sessions.Session, level mcp.LoggingLevel) error
}
