// Package toolkit exposes an SSI agent as MCP tools, resources and prompts.
//
// Handlers are thin: they validate arguments, forward them to the agent
// and serialize the outcome as JSON text. Agent failures are reported as
// tool results with isError set, never as protocol errors.
package toolkit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ggoodman/cheqd-mcp-toolkit/mcp"
	"github.com/ggoodman/cheqd-mcp-toolkit/mcpservice"
	"github.com/ggoodman/cheqd-mcp-toolkit/sessions"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/agent"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/train"
)

// Accreditor resolves trust accreditations of DIDs.
type Accreditor interface {
	ResolveAccreditation(ctx context.Context, id, trustFramework string) (json.RawMessage, error)
}

var _ Accreditor = (*train.Client)(nil)

// Option configures a Toolkit.
type Option func(*Toolkit)

// WithLogger sets the logger. If not provided, slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(t *Toolkit) {
		if l != nil {
			t.log = l
		}
	}
}

// WithAccreditor enables the resolveAccreditation tool.
func WithAccreditor(a Accreditor) Option {
	return func(t *Toolkit) { t.train = a }
}

// Toolkit binds an agent to MCP capabilities.
type Toolkit struct {
	agent *agent.Agent
	train Accreditor
	log   *slog.Logger
}

// New returns a toolkit forwarding to a. The agent must be started before
// tools are called.
func New(a *agent.Agent, opts ...Option) *Toolkit {
	t := &Toolkit{agent: a, log: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Tools returns every tool definition in registration order.
func (t *Toolkit) Tools() []mcpservice.StaticTool {
	var out []mcpservice.StaticTool
	out = append(out, t.didTools()...)
	out = append(out, t.anonCredsTools()...)
	out = append(out, t.connectionTools()...)
	out = append(out, t.credentialTools()...)
	out = append(out, t.proofTools()...)
	if t.train != nil {
		out = append(out, t.trainTools()...)
	}
	for i := range out {
		out[i].Handler = t.logged(out[i].Descriptor.Name, out[i].Handler)
	}
	return out
}

// logged records tool outcomes and durations.
func (t *Toolkit) logged(name string, h mcpservice.ToolHandler) mcpservice.ToolHandler {
	return func(ctx context.Context, s sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
		start := time.Now()
		res, err := h(ctx, s, req)
		dur := time.Since(start).Milliseconds()
		switch {
		case err != nil:
			t.log.ErrorContext(ctx, "toolkit.tool.fail", slog.String("tool", name), slog.Int64("dur_ms", dur), slog.String("err", err.Error()))
		case res != nil && res.IsError:
			t.log.WarnContext(ctx, "toolkit.tool.error_result", slog.String("tool", name), slog.Int64("dur_ms", dur))
		default:
			t.log.DebugContext(ctx, "toolkit.tool.ok", slog.String("tool", name), slog.Int64("dur_ms", dur))
		}
		return res, err
	}
}

// writeJSON appends v as compact JSON text.
func writeJSON(w mcpservice.ToolResponseWriter, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.AppendText(string(b))
}

// fail reports err as the tool result.
func fail(w mcpservice.ToolResponseWriter, err error) error {
	w.SetError(true)
	return w.AppendText(err.Error())
}
