package agent

import (
	"context"
	"fmt"

	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/anoncreds"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/did"
)

// AnonCreds registers and resolves schemas and credential definitions.
type AnonCreds struct {
	a *Agent
}

// RegisterSchema publishes s under an owned issuer DID on network.
func (m *AnonCreds) RegisterSchema(ctx context.Context, s anoncreds.Schema, network string) (*anoncreds.SchemaRecord, error) {
	if err := m.checkIssuer(ctx, s.IssuerID, network); err != nil {
		return nil, err
	}
	return m.a.anoncreds.RegisterSchema(ctx, s)
}

// GetSchema resolves a schema id.
func (m *AnonCreds) GetSchema(ctx context.Context, id string) (*anoncreds.SchemaResult, error) {
	if err := m.a.ready(); err != nil {
		return nil, err
	}
	return m.a.anoncreds.ResolveSchema(ctx, id), nil
}

// ListSchemas returns schemas registered by this agent.
func (m *AnonCreds) ListSchemas(ctx context.Context) ([]anoncreds.SchemaRecord, error) {
	if err := m.a.ready(); err != nil {
		return nil, err
	}
	return m.a.anoncreds.ListSchemas(ctx)
}

// RegisterCredentialDefinition publishes a credential definition under an
// owned issuer DID.
func (m *AnonCreds) RegisterCredentialDefinition(ctx context.Context, cd anoncreds.CredentialDefinition, supportRevocation bool) (*anoncreds.CredDefRecord, error) {
	if err := m.checkIssuer(ctx, cd.IssuerID, ""); err != nil {
		return nil, err
	}
	return m.a.anoncreds.RegisterCredentialDefinition(ctx, cd, supportRevocation)
}

// GetCredentialDefinition resolves a credential definition id.
func (m *AnonCreds) GetCredentialDefinition(ctx context.Context, id string) (*anoncreds.CredDefResult, error) {
	if err := m.a.ready(); err != nil {
		return nil, err
	}
	return m.a.anoncreds.ResolveCredentialDefinition(ctx, id), nil
}

// ListCredentialDefinitions returns credential definitions registered by
// this agent.
func (m *AnonCreds) ListCredentialDefinitions(ctx context.Context) ([]anoncreds.CredDefRecord, error) {
	if err := m.a.ready(); err != nil {
		return nil, err
	}
	return m.a.anoncreds.ListCredentialDefinitions(ctx)
}

func (m *AnonCreds) checkIssuer(ctx context.Context, issuer, network string) error {
	rec, err := m.a.DIDs.owned(ctx, issuer)
	if err != nil {
		return err
	}
	if network != "" && rec.Network != "" && rec.Network != network {
		return fmt.Errorf("%w: issuer %s is on %s, not %s", did.ErrUnsupportedNetwork, issuer, rec.Network, network)
	}
	return nil
}
