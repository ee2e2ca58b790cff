package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/ggoodman/cheqd-mcp-toolkit/mcp"
	"github.com/ggoodman/cheqd-mcp-toolkit/sessions"
	"github.com/invopop/jsonschema"
)

// ToolHandler is the function signature used to handle a tool invocation.
type ToolHandler func(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)

// StaticTool pairs an MCP tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// ToolRequest is the container for tool call input. It is generic over the
// typed argument struct A.
type ToolRequest[A any] struct {
	name string
	raw  json.RawMessage
	args A
}

func (r *ToolRequest[A]) Name() string                  { return r.name }
func (r *ToolRequest[A]) RawArguments() json.RawMessage { return r.raw }
func (r *ToolRequest[A]) Args() A                       { return r.args }

// ToolOption configures NewTool behavior.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	allowAdditionalProperties bool
}

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolAllowAdditionalProperties controls whether unknown fields are allowed.
// When false (default), the generated schema sets additionalProperties=false and
// runtime decoding rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool constructs a StaticTool from a typed args struct A. The input schema
// is reflected from A's struct tags and arguments are decoded into A before fn
// runs. Decoding failures are reported as tool errors, not protocol errors.
func NewTool[A any](name string, fn func(ctx context.Context, session sessions.Session, w ToolResponseWriter, r *ToolRequest[A]) error, opts ...ToolOption) StaticTool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	desc := mcp.Tool{
		Name:        name,
		Description: cfg.description,
		InputSchema: reflectToMCPInputSchema[A](cfg.allowAdditionalProperties),
	}

	handler := func(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
		var a A
		if err := decodeArguments(req.Arguments, &a, cfg.allowAdditionalProperties); err != nil {
			return Errorf("invalid arguments: %v", err), nil
		}
		if missing := missingRequired(desc.InputSchema, req.Arguments); missing != "" {
			return Errorf("invalid arguments: missing required field %q", missing), nil
		}
		w := newToolResponseWriter(ctx)
		r := &ToolRequest[A]{name: req.Name, raw: req.Arguments, args: a}
		if err := fn(ctx, session, w, r); err != nil {
			return nil, err
		}
		return w.Result(), nil
	}

	return StaticTool{Descriptor: desc, Handler: handler}
}

func decodeArguments(raw json.RawMessage, dst any, lenient bool) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	if lenient {
		return json.Unmarshal(raw, dst)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// missingRequired returns the first required top-level property absent from raw.
// Properties carrying a schema default are filled by the handler and skipped.
func missingRequired(schema mcp.ToolInputSchema, raw json.RawMessage) string {
	if len(schema.Required) == 0 {
		return ""
	}
	var present map[string]json.RawMessage
	if len(bytes.TrimSpace(raw)) > 0 {
		_ = json.Unmarshal(raw, &present)
	}
	for _, name := range schema.Required {
		if prop, ok := schema.Properties[name]; ok && prop.Default != nil {
			continue
		}
		if _, ok := present[name]; !ok {
			return name
		}
	}
	return ""
}

// reflectToMCPInputSchema reflects a Go type A into a jsonschema.Schema, and
// converts it to the simplified mcp.ToolInputSchema.
func reflectToMCPInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	// Expansion looks the root up by type name, so anonymous structs such
	// as struct{} are reflected inline instead.
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            reflect.TypeFor[A]().Name() != "",
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))

	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{
			Type:                 "object",
			Properties:           map[string]mcp.SchemaProperty{},
			AdditionalProperties: allowAdditional,
		}
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toMCPProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}

	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: allowAdditional,
	}
}

// toMCPProperty recursively maps a jsonschema.Schema to the simplified MCP SchemaProperty.
func toMCPProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
		Default:     s.Default,
		Pattern:     s.Pattern,
		MinLength:   s.MinLength,
		MinItems:    s.MinItems,
		Format:      s.Format,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toMCPProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" {
		if s.Properties != nil && s.Properties.Len() > 0 {
			m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
			for el := s.Properties.Oldest(); el != nil; el = el.Next() {
				m[el.Key] = toMCPProperty(el.Value)
			}
			p.Properties = m
			p.Required = append(p.Required, s.Required...)
		}
		if s.AdditionalProperties != nil && s.AdditionalProperties != jsonschema.FalseSchema && s.AdditionalProperties != jsonschema.TrueSchema {
			ap := toMCPProperty(s.AdditionalProperties)
			p.AdditionalProperties = &ap
		}
	}
	return p
}

// ToolsContainer owns a threadsafe set of tool descriptors and handlers. The
// server dispatches tools/call to the handler registered under the name.
type ToolsContainer struct {
	mu       sync.RWMutex
	tools    []mcp.Tool
	handlers map[string]ToolHandler

	pageSize int
}

// NewToolsContainer constructs a new ToolsContainer with the given tool definitions.
func NewToolsContainer(defs ...StaticTool) *ToolsContainer {
	st := &ToolsContainer{pageSize: defaultPageSize}
	st.Replace(defs...)
	return st
}

// ProvideTools makes *ToolsContainer satisfy ToolsCapabilityProvider. An empty
// container is a present-but-empty capability rather than an absent one.
func (st *ToolsContainer) ProvideTools(context.Context, sessions.Session) (ToolsCapability, bool, error) {
	return st, true, nil
}

// SetPageSize sets the pagination size used by ListTools. A non-positive
// value is ignored.
func (st *ToolsContainer) SetPageSize(n int) {
	if n <= 0 {
		return
	}
	st.mu.Lock()
	st.pageSize = n
	st.mu.Unlock()
}

// Snapshot returns a copy of the current tool descriptors.
func (st *ToolsContainer) Snapshot() []mcp.Tool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]mcp.Tool, len(st.tools))
	copy(out, st.tools)
	return out
}

// Replace atomically replaces the entire tool set. On duplicate names the
// last definition wins.
func (st *ToolsContainer) Replace(defs ...StaticTool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.tools = make([]mcp.Tool, 0, len(defs))
	st.handlers = make(map[string]ToolHandler, len(defs))
	index := make(map[string]int, len(defs))
	for _, d := range defs {
		if i, ok := index[d.Descriptor.Name]; ok {
			st.tools[i] = d.Descriptor
		} else {
			index[d.Descriptor.Name] = len(st.tools)
			st.tools = append(st.tools, d.Descriptor)
		}
		if d.Handler != nil {
			st.handlers[d.Descriptor.Name] = d.Handler
		}
	}
}

// Add registers a new tool if it doesn't duplicate an existing name.
// Returns true if added.
func (st *ToolsContainer) Add(def StaticTool) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	name := def.Descriptor.Name
	for _, t := range st.tools {
		if t.Name == name {
			return false
		}
	}
	st.tools = append(st.tools, def.Descriptor)
	if def.Handler != nil {
		st.handlers[name] = def.Handler
	}
	return true
}

// ListTools implements ToolsCapability with offset pagination.
func (st *ToolsContainer) ListTools(_ context.Context, _ sessions.Session, cursor *string) (Page[mcp.Tool], error) {
	st.mu.RLock()
	all := make([]mcp.Tool, len(st.tools))
	copy(all, st.tools)
	pageSize := st.pageSize
	st.mu.RUnlock()
	return paginate(all, cursor, pageSize), nil
}

// CallTool implements ToolsCapability. Unknown names yield ErrToolNotFound.
func (st *ToolsContainer) CallTool(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("invalid tool request: missing name")
	}
	st.mu.RLock()
	h := st.handlers[req.Name]
	st.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, req.Name)
	}
	return h(ctx, session, req)
}

// TextResult is a small helper to build a text CallToolResult.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: s}}}
}

// Errorf returns an error CallToolResult with a single text block and IsError=true.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	msg := fmt.Sprintf(format, a...)
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: msg}}, IsError: true}
}
