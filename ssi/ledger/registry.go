// Package ledger is the agent's DID registry: local did:cheqd documents and
// DID-linked resources kept in storage, with a universal resolver fallback for
// identifiers this agent does not control.
package ledger

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/did"
	"github.com/ggoodman/cheqd-mcp-toolkit/storage"
	"github.com/google/uuid"
)

const (
	nsDIDs      = "ledger-dids"
	nsResources = "ledger-resources"
)

var (
	ErrDIDExists        = errors.New("did already exists")
	ErrDIDNotFound      = errors.New("did not found")
	ErrDIDDeactivated   = errors.New("did is deactivated")
	ErrResourceNotFound = errors.New("resource not found")
	ErrResourceExists   = errors.New("resource already exists")
	ErrInvalidResource  = errors.New("invalid resource")
)

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. If not provided, slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithResolver enables remote resolution of unknown DIDs and resources
// through a universal resolver at baseURL (identifiers are appended).
func WithResolver(baseURL string, client *http.Client) Option {
	return func(r *Registry) {
		r.resolverURL = baseURL
		if client != nil {
			r.httpClient = client
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry is a storage-backed DID registry.
type Registry struct {
	store       storage.Storage
	log         *slog.Logger
	resolverURL string
	httpClient  *http.Client
	now         func() time.Time

	// Serializes read-modify-write on documents.
	mu sync.Mutex
}

// NewRegistry returns a Registry persisting to store.
func NewRegistry(store storage.Storage, opts ...Option) *Registry {
	r := &Registry{
		store:      store,
		log:        slog.Default(),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateDID publishes doc. The id must be unused.
func (r *Registry) CreateDID(ctx context.Context, doc *did.Document) (*ResolutionResult, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.load(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrDIDExists, doc.ID)
	}

	now := r.now().UTC()
	rec := &record{
		Document: doc,
		Metadata: DocumentMetadata{Created: &now, VersionID: uuid.NewString()},
	}
	if err := r.save(ctx, rec); err != nil {
		return nil, err
	}
	r.log.InfoContext(ctx, "ledger.did.created", slog.String("did", doc.ID))
	return r.result(ctx, rec)
}

// UpdateDID replaces the document for doc.ID, bumping versionId.
func (r *Registry) UpdateDID(ctx context.Context, doc *did.Document) (*ResolutionResult, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.load(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrDIDNotFound, doc.ID)
	}
	if rec.Metadata.Deactivated {
		return nil, fmt.Errorf("%w: %s", ErrDIDDeactivated, doc.ID)
	}

	now := r.now().UTC()
	rec.Document = doc
	rec.Metadata.Updated = &now
	rec.Metadata.PreviousVersionID = rec.Metadata.VersionID
	rec.Metadata.VersionID = uuid.NewString()
	if err := r.save(ctx, rec); err != nil {
		return nil, err
	}
	r.log.InfoContext(ctx, "ledger.did.updated", slog.String("did", doc.ID), slog.String("version_id", rec.Metadata.VersionID))
	return r.result(ctx, rec)
}

// DeactivateDID marks id deactivated. Deactivation is permanent.
func (r *Registry) DeactivateDID(ctx context.Context, id string) (*ResolutionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrDIDNotFound, id)
	}
	if rec.Metadata.Deactivated {
		return nil, fmt.Errorf("%w: %s", ErrDIDDeactivated, id)
	}
	now := r.now().UTC()
	rec.Metadata.Deactivated = true
	rec.Metadata.Updated = &now
	rec.Metadata.PreviousVersionID = rec.Metadata.VersionID
	rec.Metadata.VersionID = uuid.NewString()
	if err := r.save(ctx, rec); err != nil {
		return nil, err
	}
	r.log.InfoContext(ctx, "ledger.did.deactivated", slog.String("did", id))
	return r.result(ctx, rec)
}

// IsLocal reports whether id is held by this registry.
func (r *Registry) IsLocal(ctx context.Context, id string) (bool, error) {
	rec, err := r.load(ctx, id)
	return rec != nil, err
}

// ResolveDID resolves id. Resolution failures are reported in the result's
// resolution metadata; the error is reserved for storage or transport faults.
func (r *Registry) ResolveDID(ctx context.Context, id string) (*ResolutionResult, error) {
	if did.Method(id) == "" {
		return failed(ResolutionErrInvalidDID, fmt.Sprintf("%q is not a DID", id)), nil
	}
	rec, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return r.result(ctx, rec)
	}
	if did.Method(id) == did.MethodKey {
		return resolveDIDKey(id), nil
	}
	if r.resolverURL == "" {
		return failed(ResolutionErrNotFound, "DID not found"), nil
	}
	return r.resolveRemote(ctx, id)
}

// ResolveKey resolves id and returns the named verification key.
func (r *Registry) ResolveKey(ctx context.Context, id, kid string) (*did.Document, ed25519.PublicKey, error) {
	res, err := r.ResolveDID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if res.DIDResolutionMetadata.Error != "" || res.DIDDocument == nil {
		return nil, nil, fmt.Errorf("%w: %s (%s)", ErrDIDNotFound, id, res.DIDResolutionMetadata.Error)
	}
	if res.DIDDocumentMetadata.Deactivated {
		return nil, nil, fmt.Errorf("%w: %s", ErrDIDDeactivated, id)
	}
	pub, err := res.DIDDocument.VerificationKey(kid)
	if err != nil {
		return nil, nil, err
	}
	return res.DIDDocument, pub, nil
}

// CreateResource links a new resource to the local DID owner.
func (r *Registry) CreateResource(ctx context.Context, owner string, in ResourceInput) (*Resource, error) {
	if in.Name == "" || in.Type == "" {
		return nil, fmt.Errorf("%w: name and type are required", ErrInvalidResource)
	}
	_, collection, err := did.ParseCheqd(owner)
	if err != nil {
		return nil, err
	}
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: id must be a UUID", ErrInvalidResource)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.load(ctx, owner)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrDIDNotFound, owner)
	}
	if rec.Metadata.Deactivated {
		return nil, fmt.Errorf("%w: %s", ErrDIDDeactivated, owner)
	}

	uri := did.ResourceURL(owner, id)
	if existing, err := r.store.Get(ctx, nsResources, uri); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrResourceExists, uri)
	}

	siblings, err := r.listResources(ctx, owner)
	if err != nil {
		return nil, err
	}
	var prev *Resource
	for _, s := range siblings {
		if s.Metadata.ResourceName == in.Name && s.Metadata.ResourceType == in.Type && s.Metadata.NextVersionID == nil {
			prev = s
		}
	}

	mediaType := in.MediaType
	if mediaType == "" {
		mediaType = detectMediaType(in.Data)
	}
	sum := sha256.Sum256(in.Data)
	res := &Resource{
		Metadata: ResourceMetadata{
			ResourceURI:          uri,
			ResourceCollectionID: collection,
			ResourceID:           id,
			ResourceName:         in.Name,
			ResourceType:         in.Type,
			MediaType:            mediaType,
			ResourceVersion:      in.Version,
			Created:              r.now().UTC(),
			Checksum:             hex.EncodeToString(sum[:]),
		},
		Data: append([]byte(nil), in.Data...),
	}
	if prev != nil {
		prevID := prev.Metadata.ResourceID
		res.Metadata.PreviousVersionID = &prevID
		prev.Metadata.NextVersionID = &id
		if err := r.saveResource(ctx, prev); err != nil {
			return nil, err
		}
	}
	if err := r.saveResource(ctx, res); err != nil {
		return nil, err
	}
	r.log.InfoContext(ctx, "ledger.resource.created",
		slog.String("did", owner),
		slog.String("resource_id", id),
		slog.String("resource_type", in.Type))
	return res, nil
}

// ResolveResource resolves a DID URL of the form <did>/resources/<uuid> or
// <did>?resourceName=..&resourceType=.. (latest version wins).
func (r *Registry) ResolveResource(ctx context.Context, didURL string) (*Resource, error) {
	u, err := did.ParseURL(didURL)
	if err != nil {
		return nil, err
	}
	local, err := r.IsLocal(ctx, u.DID)
	if err != nil {
		return nil, err
	}
	if !local {
		if r.resolverURL == "" {
			return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, didURL)
		}
		return r.resolveRemoteResource(ctx, didURL)
	}

	if id, ok := u.ResourceID(); ok {
		item, err := r.store.Get(ctx, nsResources, did.ResourceURL(u.DID, id))
		if err != nil {
			return nil, err
		}
		if item == nil {
			return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, didURL)
		}
		return decodeResource(item.Data)
	}

	name, typ := u.Query.Get("resourceName"), u.Query.Get("resourceType")
	if name == "" && typ == "" {
		return nil, fmt.Errorf("%w: %s does not address a resource", did.ErrInvalidDIDURL, didURL)
	}
	all, err := r.listResources(ctx, u.DID)
	if err != nil {
		return nil, err
	}
	var best *Resource
	for _, res := range all {
		if (name == "" || res.Metadata.ResourceName == name) && (typ == "" || res.Metadata.ResourceType == typ) {
			if best == nil || !res.Metadata.Created.Before(best.Metadata.Created) {
				best = res
			}
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, didURL)
	}
	return best, nil
}

// ListResources returns the resources linked to owner in creation order.
func (r *Registry) ListResources(ctx context.Context, owner string) ([]ResourceMetadata, error) {
	all, err := r.listResources(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := make([]ResourceMetadata, 0, len(all))
	for _, res := range all {
		out = append(out, res.Metadata)
	}
	return out, nil
}

func (r *Registry) listResources(ctx context.Context, owner string) ([]*Resource, error) {
	items, err := r.store.List(ctx, nsResources)
	if err != nil {
		return nil, err
	}
	prefix := owner + "/resources/"
	var out []*Resource
	for _, it := range items {
		if !strings.HasPrefix(it.Key, prefix) {
			continue
		}
		res, err := decodeResource(it.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (r *Registry) result(ctx context.Context, rec *record) (*ResolutionResult, error) {
	meta := rec.Metadata
	linked, err := r.ListResources(ctx, rec.Document.ID)
	if err != nil {
		return nil, err
	}
	meta.LinkedResourceMetadata = linked
	return &ResolutionResult{
		DIDDocument:         rec.Document,
		DIDDocumentMetadata: meta,
		DIDResolutionMetadata: ResolutionMetadata{
			ContentType: ContentTypeDIDResolution,
			Retrieved:   r.now().UTC().Format(time.RFC3339),
		},
	}, nil
}

func (r *Registry) load(ctx context.Context, id string) (*record, error) {
	item, err := r.store.Get(ctx, nsDIDs, id)
	if err != nil {
		return nil, fmt.Errorf("load did %s: %w", id, err)
	}
	if item == nil {
		return nil, nil
	}
	var rec record
	if err := json.Unmarshal(item.Data, &rec); err != nil {
		return nil, fmt.Errorf("decode did %s: %w", id, err)
	}
	return &rec, nil
}

func (r *Registry) save(ctx context.Context, rec *record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode did %s: %w", rec.Document.ID, err)
	}
	return r.store.Set(ctx, nsDIDs, rec.Document.ID, b)
}

func (r *Registry) saveResource(ctx context.Context, res *Resource) error {
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode resource: %w", err)
	}
	return r.store.Set(ctx, nsResources, res.Metadata.ResourceURI, b)
}

func decodeResource(b []byte) (*Resource, error) {
	var res Resource
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, fmt.Errorf("decode resource: %w", err)
	}
	return &res, nil
}

func detectMediaType(data []byte) string {
	if json.Valid(data) {
		return "application/json"
	}
	return http.DetectContentType(data)
}

func failed(code, msg string) *ResolutionResult {
	return &ResolutionResult{
		DIDResolutionMetadata: ResolutionMetadata{Error: code, Message: msg},
	}
}

func resolveDIDKey(id string) *ResolutionResult {
	pub, err := did.PublicKeyFromDIDKey(id)
	if err != nil {
		return failed(ResolutionErrInvalidDID, err.Error())
	}
	doc, err := did.NewDocument(id, pub)
	if err != nil {
		return failed(ResolutionErrInvalidDID, err.Error())
	}
	return &ResolutionResult{
		DIDDocument:           doc,
		DIDResolutionMetadata: ResolutionMetadata{ContentType: ContentTypeDIDResolution},
	}
}
