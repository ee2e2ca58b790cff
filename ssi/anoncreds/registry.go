package anoncreds

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/did"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/ledger"
	"github.com/ggoodman/cheqd-mcp-toolkit/storage"
	"github.com/google/uuid"
)

const (
	nsSchemas  = "anoncreds-schemas"
	nsCredDefs = "anoncreds-creddefs"
)

// Ledger is the subset of the DID registry used for resources and keys.
type Ledger interface {
	CreateResource(ctx context.Context, owner string, in ledger.ResourceInput) (*ledger.Resource, error)
	ResolveResource(ctx context.Context, didURL string) (*ledger.Resource, error)
	ResolveKey(ctx context.Context, id, kid string) (*did.Document, ed25519.PublicKey, error)
}

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

// Registry registers and resolves AnonCreds objects on the ledger.
type Registry struct {
	ledger Ledger
	store  storage.Storage
	log    *slog.Logger
}

// NewRegistry returns a Registry. store keeps the ids of objects created by
// this agent.
func NewRegistry(l Ledger, store storage.Storage, opts ...Option) *Registry {
	r := &Registry{ledger: l, store: store, log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterSchema publishes s as a DID-linked resource of s.IssuerID.
func (r *Registry) RegisterSchema(ctx context.Context, s Schema) (*SchemaRecord, error) {
	if err := validateSchema(s); err != nil {
		return nil, err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	res, err := r.ledger.CreateResource(ctx, s.IssuerID, ledger.ResourceInput{
		Name:      s.Name,
		Type:      ResourceTypeSchema,
		Version:   s.Version,
		MediaType: "application/json",
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("register schema: %w", err)
	}
	rec := SchemaRecord{
		ID:         uuid.NewString(),
		SchemaID:   res.Metadata.ResourceURI,
		Schema:     s,
		MethodName: MethodCheqd,
		CreatedAt:  res.Metadata.Created,
	}
	if err := putJSON(ctx, r.store, nsSchemas, rec.SchemaID, rec); err != nil {
		return nil, err
	}
	r.log.InfoContext(ctx, "anoncreds.schema.registered", slog.String("schema_id", rec.SchemaID))
	return &rec, nil
}

// GetSchema resolves a schema by its DID URL.
func (r *Registry) GetSchema(ctx context.Context, id string) (*Schema, error) {
	var s Schema
	if err := r.resolveJSON(ctx, id, ResourceTypeSchema, &s); err != nil {
		if errors.Is(err, ledger.ErrResourceNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, id)
		}
		return nil, err
	}
	return &s, nil
}

// ResolveSchema wraps GetSchema in a resolution result; failures are
// reported in the resolution metadata.
func (r *Registry) ResolveSchema(ctx context.Context, id string) *SchemaResult {
	s, err := r.GetSchema(ctx, id)
	if err != nil {
		return &SchemaResult{SchemaID: id, ResolutionMetadata: resolutionError(err), SchemaMetadata: map[string]any{}}
	}
	return &SchemaResult{SchemaID: id, Schema: s, ResolutionMetadata: map[string]any{}, SchemaMetadata: map[string]any{}}
}

// ListSchemas returns schemas registered by this agent.
func (r *Registry) ListSchemas(ctx context.Context) ([]SchemaRecord, error) {
	return listJSON[SchemaRecord](ctx, r.store, nsSchemas)
}

// RegisterCredentialDefinition publishes a CL credential definition for the
// schema cd.SchemaID. The issuer must control cd.IssuerID.
func (r *Registry) RegisterCredentialDefinition(ctx context.Context, cd CredentialDefinition, supportRevocation bool) (*CredDefRecord, error) {
	if !did.IsCheqd(cd.IssuerID) {
		return nil, fmt.Errorf("%w: issuerId must be a did:cheqd identifier", ErrInvalidCredDef)
	}
	if cd.Tag == "" {
		return nil, fmt.Errorf("%w: tag is required", ErrInvalidCredDef)
	}
	schema, err := r.GetSchema(ctx, cd.SchemaID)
	if err != nil {
		return nil, err
	}
	vm := cd.IssuerID + "#" + did.DefaultKeyFragment
	if _, _, err := r.ledger.ResolveKey(ctx, cd.IssuerID, vm); err != nil {
		return nil, fmt.Errorf("%w: issuer key: %v", ErrInvalidCredDef, err)
	}

	cd.Type = CredDefTypeCL
	cd.Value = CredDefValue{
		VerificationMethod: vm,
		Attributes:         slices.Clone(schema.AttrNames),
		SupportRevocation:  supportRevocation,
	}
	data, err := json.Marshal(cd)
	if err != nil {
		return nil, fmt.Errorf("encode credential definition: %w", err)
	}
	res, err := r.ledger.CreateResource(ctx, cd.IssuerID, ledger.ResourceInput{
		Name:      schema.Name + "-" + cd.Tag,
		Type:      ResourceTypeCredDef,
		Version:   cd.Tag,
		MediaType: "application/json",
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("register credential definition: %w", err)
	}
	rec := CredDefRecord{
		ID:                     uuid.NewString(),
		CredentialDefinitionID: res.Metadata.ResourceURI,
		CredentialDefinition:   cd,
		MethodName:             MethodCheqd,
		CreatedAt:              res.Metadata.Created,
	}
	if err := putJSON(ctx, r.store, nsCredDefs, rec.CredentialDefinitionID, rec); err != nil {
		return nil, err
	}
	r.log.InfoContext(ctx, "anoncreds.cred_def.registered",
		slog.String("cred_def_id", rec.CredentialDefinitionID),
		slog.String("schema_id", cd.SchemaID))
	return &rec, nil
}

// GetCredentialDefinition resolves a credential definition by its DID URL.
func (r *Registry) GetCredentialDefinition(ctx context.Context, id string) (*CredentialDefinition, error) {
	var cd CredentialDefinition
	if err := r.resolveJSON(ctx, id, ResourceTypeCredDef, &cd); err != nil {
		if errors.Is(err, ledger.ErrResourceNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCredDefNotFound, id)
		}
		return nil, err
	}
	return &cd, nil
}

// ResolveCredentialDefinition wraps GetCredentialDefinition in a resolution
// result.
func (r *Registry) ResolveCredentialDefinition(ctx context.Context, id string) *CredDefResult {
	cd, err := r.GetCredentialDefinition(ctx, id)
	if err != nil {
		return &CredDefResult{CredentialDefinitionID: id, ResolutionMetadata: resolutionError(err), CredentialDefinitionMetadata: map[string]any{}}
	}
	return &CredDefResult{CredentialDefinitionID: id, CredentialDefinition: cd, ResolutionMetadata: map[string]any{}, CredentialDefinitionMetadata: map[string]any{}}
}

// ListCredentialDefinitions returns credential definitions registered by
// this agent.
func (r *Registry) ListCredentialDefinitions(ctx context.Context) ([]CredDefRecord, error) {
	return listJSON[CredDefRecord](ctx, r.store, nsCredDefs)
}

// GetCredentialDefinitionRecord returns the local record for id, or nil.
func (r *Registry) GetCredentialDefinitionRecord(ctx context.Context, id string) (*CredDefRecord, error) {
	item, err := r.store.Get(ctx, nsCredDefs, id)
	if err != nil || item == nil {
		return nil, err
	}
	var rec CredDefRecord
	if err := json.Unmarshal(item.Data, &rec); err != nil {
		return nil, fmt.Errorf("decode credential definition record: %w", err)
	}
	return &rec, nil
}

// ResolveKey resolves issuer keys through the ledger.
func (r *Registry) ResolveKey(ctx context.Context, id, kid string) (*did.Document, ed25519.PublicKey, error) {
	return r.ledger.ResolveKey(ctx, id, kid)
}

func (r *Registry) resolveJSON(ctx context.Context, id, resourceType string, v any) error {
	if !did.IsResourceURL(id) {
		return fmt.Errorf("%w: %s is not a DID-linked resource URL", did.ErrInvalidDIDURL, id)
	}
	res, err := r.ledger.ResolveResource(ctx, id)
	if err != nil {
		return err
	}
	if res.Metadata.ResourceType != "" && res.Metadata.ResourceType != resourceType {
		return fmt.Errorf("%w: %s is a %s resource", ledger.ErrResourceNotFound, id, res.Metadata.ResourceType)
	}
	if err := json.Unmarshal(res.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", resourceType, err)
	}
	return nil
}

func validateSchema(s Schema) error {
	switch {
	case !did.IsCheqd(s.IssuerID):
		return fmt.Errorf("%w: issuerId must be a did:cheqd identifier", ErrInvalidSchema)
	case strings.TrimSpace(s.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidSchema)
	case strings.TrimSpace(s.Version) == "":
		return fmt.Errorf("%w: version is required", ErrInvalidSchema)
	case len(s.AttrNames) == 0:
		return fmt.Errorf("%w: attrNames must not be empty", ErrInvalidSchema)
	}
	seen := make(map[string]bool, len(s.AttrNames))
	for _, a := range s.AttrNames {
		if a == "" || seen[a] {
			return fmt.Errorf("%w: attribute names must be unique and non-empty", ErrInvalidSchema)
		}
		seen[a] = true
	}
	return nil
}

func resolutionError(err error) map[string]any {
	code := "invalid"
	if errors.Is(err, ErrSchemaNotFound) || errors.Is(err, ErrCredDefNotFound) {
		code = "notFound"
	}
	return map[string]any{"error": code, "message": err.Error()}
}

func putJSON(ctx context.Context, s storage.Storage, ns, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", ns, err)
	}
	return s.Set(ctx, ns, key, b)
}

func listJSON[T any](ctx context.Context, s storage.Storage, ns string) ([]T, error) {
	items, err := s.List(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", ns, err)
	}
	out := make([]T, 0, len(items))
	for _, it := range items {
		var v T
		if err := json.Unmarshal(it.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s record: %w", ns, err)
		}
		out = append(out, v)
	}
	return out, nil
}
