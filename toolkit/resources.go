package toolkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ggoodman/cheqd-mcp-toolkit/mcp"
	"github.com/ggoodman/cheqd-mcp-toolkit/mcpservice"
	"github.com/ggoodman/cheqd-mcp-toolkit/sessions"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/wallet"
)

const (
	jsonMime = "application/json"
	textMime = "text/plain"

	identityCredentialType = "AIAgentAuthorisation"
)

// listing describes a fixed resource backed by a single agent query.
type listing struct {
	uri, name, description string
	// failure prefixes the text returned when fetch fails.
	failure string
	fetch   func(ctx context.Context) (any, error)
}

// lookup describes a templated resource resolving one record by id.
type lookup struct {
	template, name, description string
	// missing formats the not-found error for an id.
	missing string
	fetch   func(ctx context.Context, id string) (any, error)
}

// RegisterResources adds the wallet and exchange record resources to rc.
func (t *Toolkit) RegisterResources(rc *mcpservice.ResourcesContainer) error {
	for _, l := range t.listings() {
		if !rc.AddResource(mcpservice.StaticResource{
			Descriptor: mcp.Resource{URI: l.uri, Name: l.name, Description: l.description, MimeType: jsonMime},
			Reader:     l.reader(),
		}) {
			return fmt.Errorf("duplicate resource %q", l.uri)
		}
	}
	for _, l := range t.lookups() {
		if err := rc.AddTemplate(mcpservice.TemplateResource{
			Descriptor: mcp.ResourceTemplate{URITemplate: l.template, Name: l.name, Description: l.description, MimeType: jsonMime},
			Reader:     l.reader(),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (t *Toolkit) listings() []listing {
	return []listing{
		{
			uri: "dids://wallet/all", name: "wallet-dids", failure: "Error fetching DIDs",
			description: "DIDs created by this agent",
			fetch:       func(ctx context.Context) (any, error) { return t.agent.DIDs.List(ctx) },
		},
		{
			uri: "credentials://wallet/all", name: "wallet-credentials", failure: "Error fetching Credentials",
			description: "Credentials held in the wallet",
			fetch:       func(ctx context.Context) (any, error) { return t.heldCredentials(ctx) },
		},
		{
			uri: "credentials://exchange-records/all", name: "credential-exchange-records", failure: "Error fetching Credential Exchange records",
			description: "Issue-credential exchange records",
			fetch:       func(ctx context.Context) (any, error) { return t.agent.Credentials.List(ctx) },
		},
		{
			uri: "anoncreds://schemas/cheqd/all", name: "cheqd-schemas", failure: "Error fetching Cheqd Schemas",
			description: "AnonCreds schemas registered on cheqd by this agent",
			fetch:       func(ctx context.Context) (any, error) { return t.agent.AnonCreds.ListSchemas(ctx) },
		},
		{
			uri: "anoncreds://credential-definitions/cheqd/all", name: "cheqd-credential-definitions", failure: "Error fetching Credential Definitions",
			description: "AnonCreds credential definitions registered on cheqd by this agent",
			fetch:       func(ctx context.Context) (any, error) { return t.agent.AnonCreds.ListCredentialDefinitions(ctx) },
		},
		{
			uri: "connections://out-of-band/all", name: "out-of-band-connections", failure: "Error fetching all Connections",
			description: "DIDComm connection records",
			fetch:       func(ctx context.Context) (any, error) { return t.agent.Connections.List(ctx) },
		},
		{
			uri: "credential-proofs://all", name: "credential-proofs", failure: "Error fetching Credential Proofs",
			description: "Present-proof exchange records",
			fetch:       func(ctx context.Context) (any, error) { return t.agent.Proofs.List(ctx) },
		},
		{
			uri: "connections://stats", name: "connection-stats", failure: "Error generating connection statistics",
			description: "Connection counts per state and the five most recent connections",
			fetch:       func(ctx context.Context) (any, error) { return t.agent.Connections.Stats(ctx) },
		},
		{
			uri: "credentials://wallet/agent-identity", name: "agent-identity-credentials", failure: "Error fetching identity credentials",
			description: "W3C credentials authorising this agent",
			fetch:       t.identityCredentials,
		},
		{
			uri: "agent://status", name: "agent-status", failure: "Error fetching agent status",
			description: "Agent configuration and record counts",
			fetch:       func(ctx context.Context) (any, error) { return t.agent.Status(ctx) },
		},
	}
}

func (t *Toolkit) lookups() []lookup {
	return []lookup{
		{
			template: "credentials://wallet/{id}", name: "wallet-credential-by-id",
			description: "A credential exchange record or stored credential",
			missing:     "Credential with ID %s not found",
			fetch:       t.agent.Credentials.GetRecord,
		},
		{
			template: "anoncreds://schemas/{id}", name: "schema-by-id",
			description: "An AnonCreds schema resolved by id",
			missing:     "Schema with ID %s not found",
			fetch:       t.schemaByID,
		},
		{
			template: "anoncreds://credential-definitions/{id}", name: "credential-definition-by-id",
			description: "An AnonCreds credential definition resolved by id",
			missing:     "Credential Definition with ID %s not found",
			fetch:       t.credDefByID,
		},
		{
			template: "connections://out-of-band/{id}", name: "out-of-band-connection-by-id",
			description: "A connection record found by out-of-band id or connection id",
			missing:     "Connection not found",
			fetch:       t.connectionByAnyID,
		},
		{
			template: "credential-proofs://{id}", name: "credential-proof-by-id",
			description: "A present-proof exchange record",
			missing:     "Proof with ID %s not found",
			fetch:       func(ctx context.Context, id string) (any, error) { return t.agent.Proofs.Get(ctx, id) },
		},
	}
}

func (l listing) reader() mcpservice.ResourceReader {
	return func(ctx context.Context, _ sessions.Session, uri string) ([]mcp.ResourceContents, error) {
		v, err := l.fetch(ctx)
		if err != nil {
			return mcpservice.TextContents(uri, textMime, l.failure+": "+err.Error()), nil
		}
		return indented(uri, v)
	}
}

func (l lookup) reader() mcpservice.TemplateReader {
	return func(ctx context.Context, _ sessions.Session, uri string, vars map[string]string) ([]mcp.ResourceContents, error) {
		id := vars["id"]
		v, err := l.fetch(ctx, id)
		if err != nil {
			msg := l.missing
			if strings.Contains(msg, "%s") {
				msg = fmt.Sprintf(msg, id)
			}
			return indented(uri, map[string]string{"error": msg})
		}
		return indented(uri, v)
	}
}

func indented(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcpservice.TextContents(uri, jsonMime, string(b)), nil
}

// identityCredentials returns W3C credentials carrying the agent
// authorisation type.
func (t *Toolkit) identityCredentials(ctx context.Context) (any, error) {
	all, err := t.agent.Credentials.ListW3C(ctx)
	if err != nil {
		return nil, err
	}
	out := []wallet.W3CRecord{}
	for _, rec := range all {
		for _, typ := range rec.Types {
			if strings.Contains(typ, identityCredentialType) {
				out = append(out, rec)
				break
			}
		}
	}
	return out, nil
}

// connectionByAnyID treats id as an out-of-band id first, then as a
// connection id.
func (t *Toolkit) connectionByAnyID(ctx context.Context, id string) (any, error) {
	conn, err := t.lookupConnection(ctx, id, "")
	if err == nil {
		return conn, nil
	}
	return t.lookupConnection(ctx, "", id)
}

// errUnresolved marks ledger lookups whose resolution metadata carries an
// error.
var errUnresolved = errors.New("unresolved")

func (t *Toolkit) schemaByID(ctx context.Context, id string) (any, error) {
	res, err := t.agent.AnonCreds.GetSchema(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.Schema == nil {
		return nil, errUnresolved
	}
	return res, nil
}

func (t *Toolkit) credDefByID(ctx context.Context, id string) (any, error) {
	res, err := t.agent.AnonCreds.GetCredentialDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.CredentialDefinition == nil {
		return nil, errUnresolved
	}
	return res, nil
}
