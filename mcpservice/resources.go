package mcpservice

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ggoodman/cheqd-mcp-toolkit/mcp"
	"github.com/ggoodman/cheqd-mcp-toolkit/sessions"
	"github.com/yosida95/uritemplate/v3"
)

// ResourceReader produces the contents of a fixed resource.
type ResourceReader func(ctx context.Context, session sessions.Session, uri string) ([]mcp.ResourceContents, error)

// TemplateReader produces the contents of a templated resource. vars holds the
// expression values extracted from the matched URI.
type TemplateReader func(ctx context.Context, session sessions.Session, uri string, vars map[string]string) ([]mcp.ResourceContents, error)

// StaticResource pairs a resource descriptor with its reader.
type StaticResource struct {
	Descriptor mcp.Resource
	Reader     ResourceReader
}

// TemplateResource pairs a resource template with its reader.
type TemplateResource struct {
	Descriptor mcp.ResourceTemplate
	Reader     TemplateReader
}

type compiledTemplate struct {
	desc   mcp.ResourceTemplate
	tpl    *uritemplate.Template
	reader TemplateReader
}

// ResourcesContainer owns a threadsafe set of fixed resources and RFC 6570
// resource templates. Reads resolve exact URIs first, then templates in
// registration order.
type ResourcesContainer struct {
	mu sync.RWMutex

	resources []mcp.Resource
	readers   map[string]ResourceReader
	templates []compiledTemplate

	pageSize int
}

// NewResourcesContainer constructs an empty ResourcesContainer.
func NewResourcesContainer() *ResourcesContainer {
	return &ResourcesContainer{
		readers:  make(map[string]ResourceReader),
		pageSize: defaultPageSize,
	}
}

// SetPageSize configures the maximum number of items returned per page when
// listing resources or templates. Values < 1 are ignored.
func (sr *ResourcesContainer) SetPageSize(n int) {
	if n < 1 {
		return
	}
	sr.mu.Lock()
	sr.pageSize = n
	sr.mu.Unlock()
}

// ProvideResources implements ResourcesCapabilityProvider. Always returns
// itself as present (ok=true) even if empty.
func (sr *ResourcesContainer) ProvideResources(context.Context, sessions.Session) (ResourcesCapability, bool, error) {
	return sr, true, nil
}

// AddResource registers a fixed resource; returns false on a duplicate URI.
func (sr *ResourcesContainer) AddResource(res StaticResource) bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if _, exists := sr.readers[res.Descriptor.URI]; exists {
		return false
	}
	sr.resources = append(sr.resources, res.Descriptor)
	sr.readers[res.Descriptor.URI] = res.Reader
	return true
}

// AddTemplate registers a templated resource. The template must parse as an
// RFC 6570 URI template.
func (sr *ResourcesContainer) AddTemplate(res TemplateResource) error {
	tpl, err := uritemplate.New(reservedExpansion(res.Descriptor.URITemplate))
	if err != nil {
		return fmt.Errorf("parse resource template %q: %w", res.Descriptor.URITemplate, err)
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()
	for _, t := range sr.templates {
		if t.desc.URITemplate == res.Descriptor.URITemplate {
			return fmt.Errorf("duplicate resource template %q", res.Descriptor.URITemplate)
		}
	}
	sr.templates = append(sr.templates, compiledTemplate{desc: res.Descriptor, tpl: tpl, reader: res.Reader})
	return nil
}

// SnapshotResources returns a copy of the current resources slice.
func (sr *ResourcesContainer) SnapshotResources() []mcp.Resource {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	out := make([]mcp.Resource, len(sr.resources))
	copy(out, sr.resources)
	return out
}

// SnapshotTemplates returns a copy of the current templates.
func (sr *ResourcesContainer) SnapshotTemplates() []mcp.ResourceTemplate {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	out := make([]mcp.ResourceTemplate, len(sr.templates))
	for i, t := range sr.templates {
		out[i] = t.desc
	}
	return out
}

// ListResources implements ResourcesCapability.
func (sr *ResourcesContainer) ListResources(_ context.Context, _ sessions.Session, cursor *string) (Page[mcp.Resource], error) {
	sr.mu.RLock()
	pageSize := sr.pageSize
	sr.mu.RUnlock()
	return paginate(sr.SnapshotResources(), cursor, pageSize), nil
}

// ListResourceTemplates implements ResourcesCapability.
func (sr *ResourcesContainer) ListResourceTemplates(_ context.Context, _ sessions.Session, cursor *string) (Page[mcp.ResourceTemplate], error) {
	sr.mu.RLock()
	pageSize := sr.pageSize
	sr.mu.RUnlock()
	return paginate(sr.SnapshotTemplates(), cursor, pageSize), nil
}

// ReadResource implements ResourcesCapability.
func (sr *ResourcesContainer) ReadResource(ctx context.Context, session sessions.Session, uri string) ([]mcp.ResourceContents, error) {
	sr.mu.RLock()
	reader, ok := sr.readers[uri]
	templates := make([]compiledTemplate, len(sr.templates))
	copy(templates, sr.templates)
	sr.mu.RUnlock()

	if ok && reader != nil {
		return reader(ctx, session, uri)
	}
	for _, t := range templates {
		values := t.tpl.Match(uri)
		if values == nil {
			continue
		}
		vars := make(map[string]string)
		for _, name := range t.tpl.Varnames() {
			if v := values.Get(name); v.Valid() {
				vars[name] = v.String()
			}
		}
		if t.reader == nil {
			break
		}
		return t.reader(ctx, session, uri, vars)
	}
	return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, uri)
}

// reservedExpansion rewrites simple {var} expressions as {+var} so matching
// accepts identifiers containing ':' and '/', such as DIDs and resource ids.
func reservedExpansion(tpl string) string {
	var b strings.Builder
	for i := 0; i < len(tpl); i++ {
		b.WriteByte(tpl[i])
		if tpl[i] == '{' && i+1 < len(tpl) && isVarStart(tpl[i+1]) {
			b.WriteByte('+')
		}
	}
	return b.String()
}

func isVarStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// TextContents is a helper for single text resource bodies.
func TextContents(uri, mimeType, text string) []mcp.ResourceContents {
	return []mcp.ResourceContents{{URI: uri, MimeType: mimeType, Text: text}}
}
