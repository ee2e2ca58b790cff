package toolkit

import (
	"context"

	"github.com/ggoodman/cheqd-mcp-toolkit/mcpservice"
	"github.com/ggoodman/cheqd-mcp-toolkit/sessions"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/anoncreds"
)

type schemaIDArgs struct {
	SchemaID string `json:"schemaId" jsonschema:"pattern=^did:cheqd:.+/resources/.+" jsonschema_description:"DID Url of schemaId e.g. did:cheqd:testnet:4769f00d-0af4-472b-aab7-019abbbb8009/resources/5acb3d53-ba06-441a-b48b-07d8c2f129f8"`
}

type schemaInput struct {
	IssuerID  string   `json:"issuerId" jsonschema:"pattern=^did:cheqd:" jsonschema_description:"Decentralized identifier for cheqd e.g. did:cheqd:testnet:4769f00d-0af4-472b-aab7-019abbbb8009"`
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	AttrNames []string `json:"attrNames"`
}

type createSchemaArgs struct {
	Schema  schemaInput `json:"schema"`
	Options struct {
		Network string `json:"network" jsonschema:"enum=testnet,enum=mainnet"`
	} `json:"options"`
}

type credDefIDArgs struct {
	CredentialDefinitionID string `json:"credentialDefinitionId" jsonschema:"pattern=^did:cheqd:.+/resources/.+" jsonschema_description:"DID Url of credentialDefinitionId e.g. did:cheqd:testnet:4769f00d-0af4-472b-aab7-019abbbb8009/resources/5acb3d53-ba06-441a-b48b-07d8c2f129f8"`
}

type credDefInput struct {
	IssuerID string `json:"issuerId" jsonschema:"pattern=^did:cheqd:" jsonschema_description:"Decentralized identifier for cheqd e.g. did:cheqd:testnet:4769f00d-0af4-472b-aab7-019abbbb8009"`
	SchemaID string `json:"schemaId" jsonschema:"pattern=^did:cheqd:.+/resources/.+" jsonschema_description:"DID Url of schemaId e.g. did:cheqd:testnet:4769f00d-0af4-472b-aab7-019abbbb8009/resources/5acb3d53-ba06-441a-b48b-07d8c2f129f8"`
	Tag      string `json:"tag"`
}

type createCredDefArgs struct {
	CredentialDefinition credDefInput `json:"credentialDefinition"`
	Options              struct {
		SupportRevocation bool `json:"supportRevocation,omitempty" jsonschema:"default=false"`
	} `json:"options,omitempty"`
}

// registration mirrors the registrar state envelope returned for schema
// and credential definition registration.
type registration struct {
	State                  string                          `json:"state"`
	SchemaID               string                          `json:"schemaId,omitempty"`
	Schema                 *anoncreds.Schema               `json:"schema,omitempty"`
	CredentialDefinitionID string                          `json:"credentialDefinitionId,omitempty"`
	CredentialDefinition   *anoncreds.CredentialDefinition `json:"credentialDefinition,omitempty"`
}

func (t *Toolkit) anonCredsTools() []mcpservice.StaticTool {
	return []mcpservice.StaticTool{
		mcpservice.NewTool("list-schema", t.listSchemas,
			mcpservice.WithToolDescription("Fetch the list of schemaId's from the wallet")),
		mcpservice.NewTool("get-schema", t.getSchema,
			mcpservice.WithToolDescription("Resolve an anoncreds schema using the didUrl of cheqd")),
		mcpservice.NewTool("create-schema", t.createSchema,
			mcpservice.WithToolDescription("Create and publish a schema as a DID Linked Resource in Cheqd Network")),
		mcpservice.NewTool("list-credential-definition", t.listCredDefs,
			mcpservice.WithToolDescription("Fetch the list of credentialDefinitionId's from the wallet")),
		mcpservice.NewTool("get-credential-definition", t.getCredDef,
			mcpservice.WithToolDescription("Resolve an anoncreds credential definition using the didUrl of cheqd")),
		mcpservice.NewTool("create-credential-definition", t.createCredDef,
			mcpservice.WithToolDescription("Create and publish a credential definition for a specific schema id as a DID Linked Resource in Cheqd Network")),
	}
}

func (t *Toolkit) listSchemas(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, _ *mcpservice.ToolRequest[struct{}]) error {
	recs, err := t.agent.AnonCreds.ListSchemas(ctx)
	if err != nil {
		return fail(w, err)
	}
	return writeJSON(w, recs)
}

func (t *Toolkit) getSchema(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[schemaIDArgs]) error {
	id := r.Args().SchemaID
	if err := checkResourceID("schemaId", id); err != nil {
		return fail(w, err)
	}
	res, err := t.agent.AnonCreds.GetSchema(ctx, id)
	if err != nil {
		return fail(w, err)
	}
	return writeJSON(w, res)
}

func (t *Toolkit) createSchema(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[createSchemaArgs]) error {
	args := r.Args()
	if err := firstErr(
		checkCheqdDID("schema.issuerId", args.Schema.IssuerID),
		checkRequired("schema.name", args.Schema.Name),
		checkRequired("schema.version", args.Schema.Version),
		checkNetwork("options.network", args.Options.Network),
	); err != nil {
		return fail(w, err)
	}
	rec, err := t.agent.AnonCreds.RegisterSchema(ctx, anoncreds.Schema{
		IssuerID:  args.Schema.IssuerID,
		Name:      args.Schema.Name,
		Version:   args.Schema.Version,
		AttrNames: args.Schema.AttrNames,
	}, args.Options.Network)
	if err != nil {
		return fail(w, err)
	}
	return writeJSON(w, map[string]any{
		"schemaState": registration{State: "finished", SchemaID: rec.SchemaID, Schema: &rec.Schema},
	})
}

func (t *Toolkit) listCredDefs(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, _ *mcpservice.ToolRequest[struct{}]) error {
	recs, err := t.agent.AnonCreds.ListCredentialDefinitions(ctx)
	if err != nil {
		return fail(w, err)
	}
	return writeJSON(w, recs)
}

func (t *Toolkit) getCredDef(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[credDefIDArgs]) error {
	id := r.Args().CredentialDefinitionID
	if err := checkResourceID("credentialDefinitionId", id); err != nil {
		return fail(w, err)
	}
	res, err := t.agent.AnonCreds.GetCredentialDefinition(ctx, id)
	if err != nil {
		return fail(w, err)
	}
	return writeJSON(w, res)
}

func (t *Toolkit) createCredDef(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[createCredDefArgs]) error {
	args := r.Args()
	cd := args.CredentialDefinition
	if err := firstErr(
		checkCheqdDID("credentialDefinition.issuerId", cd.IssuerID),
		checkResourceID("credentialDefinition.schemaId", cd.SchemaID),
		checkRequired("credentialDefinition.tag", cd.Tag),
	); err != nil {
		return fail(w, err)
	}
	rec, err := t.agent.AnonCreds.RegisterCredentialDefinition(ctx, anoncreds.CredentialDefinition{
		IssuerID: cd.IssuerID,
		SchemaID: cd.SchemaID,
		Tag:      cd.Tag,
	}, args.Options.SupportRevocation)
	if err != nil {
		return fail(w, err)
	}
	return writeJSON(w, map[string]any{
		"credentialDefinitionState": registration{
			State:                  "finished",
			CredentialDefinitionID: rec.CredentialDefinitionID,
			CredentialDefinition:   &rec.CredentialDefinition,
		},
	})
}
