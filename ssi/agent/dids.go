package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/did"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/ledger"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/wallet"
)

// DIDs manages the agent's did:cheqd identifiers and their linked
// resources.
type DIDs struct {
	a *Agent
}

// DIDState describes a registrar operation outcome.
type DIDState struct {
	State       string        `json:"state"`
	DID         string        `json:"did"`
	DIDDocument *did.Document `json:"didDocument,omitempty"`
}

// CreateResult is the outcome of Create, Update and Deactivate.
type CreateResult struct {
	DIDState                DIDState                `json:"didState"`
	DIDDocumentMetadata     ledger.DocumentMetadata `json:"didDocumentMetadata"`
	DIDRegistrationMetadata map[string]any          `json:"didRegistrationMetadata"`
}

// Create generates a key and publishes a new DID on network (the configured
// default when empty).
func (d *DIDs) Create(ctx context.Context, network string) (*CreateResult, error) {
	a := d.a
	if err := a.ready(); err != nil {
		return nil, err
	}
	if network == "" {
		network = a.cfg.Network
	}
	if !did.ValidNetwork(network) {
		return nil, fmt.Errorf("%w: %q", did.ErrUnsupportedNetwork, network)
	}
	kid, pub, err := a.wallet.CreateKey(ctx)
	if err != nil {
		return nil, err
	}
	id, err := did.NewCheqd(network, pub)
	if err != nil {
		return nil, err
	}
	doc, err := did.NewDocument(id, pub)
	if err != nil {
		return nil, err
	}
	res, err := a.ledger.CreateDID(ctx, doc)
	if err != nil {
		return nil, err
	}
	if err := a.wallet.AddDID(ctx, wallet.DIDRecord{DID: id, Method: did.MethodCheqd, Network: network, Kid: kid}); err != nil {
		return nil, err
	}
	a.log.InfoContext(ctx, "agent.did.created", slog.String("did", id))
	return registrarResult("finished", res), nil
}

// Update replaces the document of an owned DID.
func (d *DIDs) Update(ctx context.Context, id string, doc *did.Document) (*CreateResult, error) {
	a := d.a
	if _, err := d.owned(ctx, id); err != nil {
		return nil, err
	}
	if doc.ID == "" {
		doc.ID = id
	}
	if doc.ID != id {
		return nil, fmt.Errorf("%w: document id %s does not match %s", did.ErrInvalidDID, doc.ID, id)
	}
	res, err := a.ledger.UpdateDID(ctx, doc)
	if err != nil {
		return nil, err
	}
	return registrarResult("finished", res), nil
}

// Deactivate permanently deactivates an owned DID.
func (d *DIDs) Deactivate(ctx context.Context, id string) (*CreateResult, error) {
	if _, err := d.owned(ctx, id); err != nil {
		return nil, err
	}
	res, err := d.a.ledger.DeactivateDID(ctx, id)
	if err != nil {
		return nil, err
	}
	return registrarResult("finished", res), nil
}

// Resolve resolves any DID.
func (d *DIDs) Resolve(ctx context.Context, id string) (*ledger.ResolutionResult, error) {
	if err := d.a.ready(); err != nil {
		return nil, err
	}
	return d.a.ledger.ResolveDID(ctx, id)
}

// List returns the DIDs the wallet controls.
func (d *DIDs) List(ctx context.Context) ([]wallet.DIDRecord, error) {
	if err := d.a.ready(); err != nil {
		return nil, err
	}
	return d.a.wallet.ListDIDs(ctx, "")
}

// CreateResource links a resource to an owned DID.
func (d *DIDs) CreateResource(ctx context.Context, id string, in ledger.ResourceInput) (*ledger.Resource, error) {
	if _, err := d.owned(ctx, id); err != nil {
		return nil, err
	}
	return d.a.ledger.CreateResource(ctx, id, in)
}

// ResolveResource resolves a DID-linked resource URL.
func (d *DIDs) ResolveResource(ctx context.Context, didURL string) (*ledger.Resource, error) {
	if err := d.a.ready(); err != nil {
		return nil, err
	}
	return d.a.ledger.ResolveResource(ctx, didURL)
}

// owned returns the wallet record for id, or ErrNotOwned.
func (d *DIDs) owned(ctx context.Context, id string) (*wallet.DIDRecord, error) {
	if err := d.a.ready(); err != nil {
		return nil, err
	}
	rec, err := d.a.wallet.GetDID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotOwned, id)
	}
	return rec, nil
}

func registrarResult(state string, res *ledger.ResolutionResult) *CreateResult {
	out := &CreateResult{
		DIDState:                DIDState{State: state, DIDDocument: res.DIDDocument},
		DIDDocumentMetadata:     res.DIDDocumentMetadata,
		DIDRegistrationMetadata: map[string]any{},
	}
	if res.DIDDocument != nil {
		out.DIDState.DID = res.DIDDocument.ID
	}
	return out
}
