package mcpservice

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ggoodman/cheqd-mcp-toolkit/mcp"
	"github.com/ggoodman/cheqd-mcp-toolkit/sessions"
	"github.com/invopop/jsonschema"
)

// PromptHandler handles a prompt get request to produce messages.
type PromptHandler func(ctx context.Context, session sessions.Session, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error)

// StaticPrompt pairs a prompt descriptor with a handler that can materialize it.
type StaticPrompt struct {
	Descriptor mcp.Prompt
	Handler    PromptHandler
}

// NewPrompt builds a StaticPrompt whose arguments are reflected from the
// string fields of A. Missing required arguments are rejected with
// ErrInvalidPromptArguments before fn runs.
func NewPrompt[A any](name, description string, fn func(ctx context.Context, session sessions.Session, args A) ([]mcp.PromptMessage, error)) StaticPrompt {
	schema := reflectToMCPInputSchema[A](true)
	required := make(map[string]bool, len(schema.Required))
	for _, r := range schema.Required {
		required[r] = true
	}

	// Preserve declaration order, which the schema map loses.
	var args []mcp.PromptArgument
	for _, key := range orderedKeys[A]() {
		prop := schema.Properties[key]
		args = append(args, mcp.PromptArgument{Name: key, Description: prop.Description, Required: required[key]})
	}

	desc := mcp.Prompt{Name: name, Description: description, Arguments: args}
	handler := func(ctx context.Context, session sessions.Session, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error) {
		for _, arg := range args {
			if !arg.Required {
				continue
			}
			if v, ok := req.Arguments[arg.Name]; !ok || v == "" {
				return nil, fmt.Errorf("%w: missing required argument %q", ErrInvalidPromptArguments, arg.Name)
			}
		}
		var a A
		if len(req.Arguments) > 0 {
			b, err := json.Marshal(req.Arguments)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPromptArguments, err)
			}
			if err := json.Unmarshal(b, &a); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPromptArguments, err)
			}
		}
		msgs, err := fn(ctx, session, a)
		if err != nil {
			return nil, err
		}
		return &mcp.GetPromptResult{Description: description, Messages: msgs}, nil
	}
	return StaticPrompt{Descriptor: desc, Handler: handler}
}

// UserText is a helper for single-message user prompts.
func UserText(text string) []mcp.PromptMessage {
	return []mcp.PromptMessage{{Role: mcp.RoleUser, Content: mcp.ContentBlock{Type: mcp.ContentTypeText, Text: text}}}
}

// PromptsContainer owns a threadsafe set of prompt descriptors and handlers.
type PromptsContainer struct {
	mu       sync.RWMutex
	prompts  []mcp.Prompt
	handlers map[string]PromptHandler

	pageSize int
}

// NewPromptsContainer constructs a new PromptsContainer with the given definitions.
func NewPromptsContainer(defs ...StaticPrompt) *PromptsContainer {
	sp := &PromptsContainer{handlers: make(map[string]PromptHandler), pageSize: defaultPageSize}
	for _, d := range defs {
		sp.Add(d)
	}
	return sp
}

// ProvidePrompts implements PromptsCapabilityProvider.
func (sp *PromptsContainer) ProvidePrompts(context.Context, sessions.Session) (PromptsCapability, bool, error) {
	return sp, true, nil
}

// Add registers a new prompt if it doesn't duplicate an existing name.
// Returns true if added.
func (sp *PromptsContainer) Add(def StaticPrompt) bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	name := def.Descriptor.Name
	if name == "" {
		return false
	}
	if _, exists := sp.handlers[name]; exists {
		return false
	}
	sp.prompts = append(sp.prompts, def.Descriptor)
	sp.handlers[name] = def.Handler
	return true
}

// Snapshot returns a copy of the current prompt descriptors.
func (sp *PromptsContainer) Snapshot() []mcp.Prompt {
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	out := make([]mcp.Prompt, len(sp.prompts))
	copy(out, sp.prompts)
	return out
}

// ListPrompts implements PromptsCapability.
func (sp *PromptsContainer) ListPrompts(_ context.Context, _ sessions.Session, cursor *string) (Page[mcp.Prompt], error) {
	sp.mu.RLock()
	pageSize := sp.pageSize
	sp.mu.RUnlock()
	return paginate(sp.Snapshot(), cursor, pageSize), nil
}

// GetPrompt implements PromptsCapability.
func (sp *PromptsContainer) GetPrompt(ctx context.Context, session sessions.Session, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrInvalidPromptArguments)
	}
	sp.mu.RLock()
	h := sp.handlers[req.Name]
	sp.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrPromptNotFound, req.Name)
	}
	return h(ctx, session, req)
}

func orderedKeys[A any]() []string {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	s := r.Reflect(new(A))
	if s == nil || s.Properties == nil {
		return nil
	}
	keys := make([]string, 0, s.Properties.Len())
	for el := s.Properties.Oldest(); el != nil; el = el.Next() {
		keys = append(keys, el.Key)
	}
	return keys
}
