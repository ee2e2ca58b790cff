package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/ggoodman/cheqd-mcp-toolkit/mcpservice"
	"github.com/ggoodman/cheqd-mcp-toolkit/sessions"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/did"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/ledger"
)

type resolveDIDArgs struct {
	DID string `json:"did" jsonschema:"pattern=^did:cheqd:" jsonschema_description:"Decentralized identifier for cheqd e.g. did:cheqd:testnet:4769f00d-0af4-472b-aab7-019abbbb8009"`
}

type createDIDArgs struct {
	Network string `json:"network" jsonschema:"enum=testnet,enum=mainnet" jsonschema_description:"Provide the cheqd network to publish the did document"`
}

type updateDIDArgs struct {
	DID         string          `json:"did" jsonschema:"pattern=^did:cheqd:" jsonschema_description:"Decentralized identifier for cheqd e.g. did:cheqd:testnet:4769f00d-0af4-472b-aab7-019abbbb8009"`
	DIDDocument json.RawMessage `json:"didDocument" jsonschema_description:"The complete DID document that replaces the current one"`
}

type resolveResourceArgs struct {
	DIDURL string `json:"didUrl" jsonschema:"pattern=^did:cheqd:" jsonschema_description:"DID URL of the resource e.g. did:cheqd:testnet:4769f00d-0af4-472b-aab7-019abbbb8009/resources/5acb3d53-ba06-441a-b48b-07d8c2f129f8"`
}

type createResourceArgs struct {
	DID          string          `json:"did" jsonschema:"pattern=^did:cheqd:" jsonschema_description:"Decentralized identifier for cheqd that will own the resource"`
	Name         string          `json:"name" jsonschema_description:"Name of the resource"`
	ResourceType string          `json:"resourceType" jsonschema_description:"Type of the resource e.g. TrustRegistry"`
	Version      string          `json:"version,omitempty" jsonschema_description:"Optional version label"`
	ID           string          `json:"id,omitempty" jsonschema_description:"Optional UUID for the resource; generated when omitted"`
	Data         json.RawMessage `json:"data" jsonschema_description:"Resource content, a JSON value or a string"`
}

// resolvedResource is the wire form of a resolved DID-linked resource.
type resolvedResource struct {
	Resource         any                     `json:"resource"`
	ResourceMetadata ledger.ResourceMetadata `json:"resourceMetadata"`
}

func (t *Toolkit) didTools() []mcpservice.StaticTool {
	return []mcpservice.StaticTool{
		mcpservice.NewTool("resolve-did", t.resolveDID,
			mcpservice.WithToolDescription("Resolve a didDocument and its metadata")),
		mcpservice.NewTool("create-did", t.createDID,
			mcpservice.WithToolDescription("Create and publish a DID Document to cheqd network")),
		mcpservice.NewTool("update-did", t.updateDID,
			mcpservice.WithToolDescription("Update a DID Document")),
		mcpservice.NewTool("deactivate-did", t.deactivateDID,
			mcpservice.WithToolDescription("Deactivate a DID Document")),
		mcpservice.NewTool("list-did", t.listDIDs,
			mcpservice.WithToolDescription("List the DIDs from the wallet")),
		mcpservice.NewTool("resolve-did-linked-resource", t.resolveResource,
			mcpservice.WithToolDescription("Resolve a DID Linked Resource to cheqd network")),
		mcpservice.NewTool("create-did-linked-resource", t.createResource,
			mcpservice.WithToolDescription("Create and publish a DID Linked Resource to cheqd network")),
	}
}

func (t *Toolkit) resolveDID(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[resolveDIDArgs]) error {
	id := r.Args().DID
	if err := checkCheqdDID("did", id); err != nil {
		return fail(w, err)
	}
	res, err := t.agent.DIDs.Resolve(ctx, id)
	if err != nil {
		return fail(w, err)
	}
	return writeJSON(w, res)
}

func (t *Toolkit) createDID(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[createDIDArgs]) error {
	network := r.Args().Network
	if err := checkNetwork("network", network); err != nil {
		return fail(w, err)
	}
	res, err := t.agent.DIDs.Create(ctx, network)
	if err != nil {
		return fail(w, err)
	}
	return writeJSON(w, res)
}

func (t *Toolkit) updateDID(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[updateDIDArgs]) error {
	args := r.Args()
	if err := checkCheqdDID("did", args.DID); err != nil {
		return fail(w, err)
	}
	doc, err := did.ParseDocument(args.DIDDocument)
	if err != nil {
		return fail(w, fmt.Errorf("%w: didDocument: %v", ErrInvalidArgument, err))
	}
	res, err := t.agent.DIDs.Update(ctx, args.DID, doc)
	if err != nil {
		return fail(w, err)
	}
	return writeJSON(w, res)
}

func (t *Toolkit) deactivateDID(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[resolveDIDArgs]) error {
	id := r.Args().DID
	if err := checkCheqdDID("did", id); err != nil {
		return fail(w, err)
	}
	res, err := t.agent.DIDs.Deactivate(ctx, id)
	if err != nil {
		return fail(w, err)
	}
	return writeJSON(w, res)
}

func (t *Toolkit) listDIDs(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, _ *mcpservice.ToolRequest[struct{}]) error {
	dids, err := t.agent.DIDs.List(ctx)
	if err != nil {
		return fail(w, err)
	}
	return writeJSON(w, dids)
}

func (t *Toolkit) resolveResource(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[resolveResourceArgs]) error {
	u := r.Args().DIDURL
	if err := checkResourceID("didUrl", u); err != nil {
		return fail(w, err)
	}
	res, err := t.agent.DIDs.ResolveResource(ctx, u)
	if err != nil {
		return fail(w, err)
	}
	return writeJSON(w, resolvedResource{Resource: resourceContent(res), ResourceMetadata: res.Metadata})
}

func (t *Toolkit) createResource(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[createResourceArgs]) error {
	args := r.Args()
	if err := firstErr(
		checkCheqdDID("did", args.DID),
		checkRequired("name", args.Name),
		checkRequired("resourceType", args.ResourceType),
	); err != nil {
		return fail(w, err)
	}
	in := ledger.ResourceInput{
		ID:      args.ID,
		Name:    args.Name,
		Type:    args.ResourceType,
		Version: args.Version,
		Data:    args.Data,
	}
	// A JSON string is stored as its text.
	var text string
	if err := json.Unmarshal(args.Data, &text); err == nil {
		in.Data = []byte(text)
		in.MediaType = "text/plain"
	}
	res, err := t.agent.DIDs.CreateResource(ctx, args.DID, in)
	if err != nil {
		return fail(w, err)
	}
	return writeJSON(w, resolvedResource{Resource: resourceContent(res), ResourceMetadata: res.Metadata})
}

// resourceContent decodes JSON resources and returns other UTF-8 data as a
// string. Binary data stays as bytes, which encode as base64.
func resourceContent(res *ledger.Resource) any {
	if json.Valid(res.Data) {
		return json.RawMessage(res.Data)
	}
	if utf8.Valid(res.Data) {
		return string(res.Data)
	}
	return res.Data
}
