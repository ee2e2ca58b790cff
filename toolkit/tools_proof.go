package toolkit

import (
	"context"
	"fmt"

	"github.com/ggoodman/cheqd-mcp-toolkit/mcpservice"
	"github.com/ggoodman/cheqd-mcp-toolkit/sessions"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/agent"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/anoncreds"
)

type restrictionArgs struct {
	SchemaID       string `json:"schema_id,omitempty"`
	SchemaIssuerID string `json:"schema_issuer_id,omitempty"`
	SchemaName     string `json:"schema_name,omitempty"`
	SchemaVersion  string `json:"schema_version,omitempty"`
	IssuerID       string `json:"issuer_id,omitempty"`
	CredDefID      string `json:"cred_def_id,omitempty"`
}

type requestedAttribute struct {
	Attribute    string            `json:"attribute" jsonschema_description:"Name of the attribute to reveal"`
	Restrictions []restrictionArgs `json:"restrictions,omitempty"`
}

type requestedPredicate struct {
	Attribute    string            `json:"attribute" jsonschema_description:"Name of an integer attribute"`
	PType        string            `json:"p_type" jsonschema:"enum=>=,enum=>,enum=<=,enum=<"`
	PValue       int64             `json:"p_value"`
	Restrictions []restrictionArgs `json:"restrictions,omitempty"`
}

type proofRequestArgs struct {
	RequestedAttributes []requestedAttribute `json:"requestedAttributes" jsonschema_description:"Attributes the holder must reveal"`
	RequestedPredicates []requestedPredicate `json:"requestedPredicates" jsonschema_description:"Predicates the holder must satisfy without revealing the value"`
}

type didcommProofRequestArgs struct {
	ConnectionID string `json:"connectionId" jsonschema_description:"Id of a completed connection record"`
	proofRequestArgs
}

type proofRecordArgs struct {
	ProofRecordID string `json:"proofRecordId" jsonschema_description:"Id of the proof exchange record"`
}

func (t *Toolkit) proofTools() []mcpservice.StaticTool {
	return []mcpservice.StaticTool{
		mcpservice.NewTool("create-proof-request-connectionless", t.createConnectionlessProofRequest,
			mcpservice.WithToolDescription("Create a connectionless proof request to request a zero knowledge proof from holder.")),
		mcpservice.NewTool("create-proof-request-didcomm", t.createDIDCommProofRequest,
			mcpservice.WithToolDescription("Request a proof from an existing connection to request a zero knowledge proof via didcomm.")),
		mcpservice.NewTool("list-proof-records", t.listProofs,
			mcpservice.WithToolDescription("List the proof records in wallet")),
		mcpservice.NewTool("get-proof-record", t.getProof,
			mcpservice.WithToolDescription("Retrieve the proof exchange record from wallet")),
		mcpservice.NewTool("accept-proof-request", t.acceptProofRequest,
			mcpservice.WithToolDescription("Accept the proof request to generate a ZKP from credentials in the wallet")),
	}
}

func restrictions(in []restrictionArgs) []anoncreds.Restriction {
	if len(in) == 0 {
		return nil
	}
	out := make([]anoncreds.Restriction, len(in))
	for i, r := range in {
		out[i] = anoncreds.Restriction(r)
	}
	return out
}

func proofOptions(args proofRequestArgs) (agent.ProofRequestOptions, error) {
	opts := agent.ProofRequestOptions{Comment: offerComment}
	if len(args.RequestedAttributes) == 0 && len(args.RequestedPredicates) == 0 {
		return opts, fmt.Errorf("%w: at least one requested attribute or predicate is required", ErrInvalidArgument)
	}
	for i, a := range args.RequestedAttributes {
		if err := checkRequired(fmt.Sprintf("requestedAttributes[%d].attribute", i), a.Attribute); err != nil {
			return opts, err
		}
		opts.Attributes = append(opts.Attributes, agent.AttributeQuery{
			Attribute:    a.Attribute,
			Restrictions: restrictions(a.Restrictions),
		})
	}
	for i, p := range args.RequestedPredicates {
		if err := checkRequired(fmt.Sprintf("requestedPredicates[%d].attribute", i), p.Attribute); err != nil {
			return opts, err
		}
		switch p.PType {
		case ">=", ">", "<=", "<":
		default:
			return opts, fmt.Errorf("%w: requestedPredicates[%d].p_type must be one of >=, >, <=, <", ErrInvalidArgument, i)
		}
		opts.Predicates = append(opts.Predicates, agent.PredicateQuery{
			Attribute:    p.Attribute,
			PType:        p.PType,
			PValue:       p.PValue,
			Restrictions: restrictions(p.Restrictions),
		})
	}
	return opts, nil
}

func (t *Toolkit) createConnectionlessProofRequest(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[proofRequestArgs]) error {
	opts, err := proofOptions(r.Args())
	if err != nil {
		return fail(w, err)
	}
	_, oob, err := t.agent.Proofs.CreateRequest(ctx, opts)
	if err != nil {
		return fail(w, err)
	}
	return writeInvitation(w, oob.InvitationURL, oob, payloadFirst)
}

func (t *Toolkit) createDIDCommProofRequest(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[didcommProofRequestArgs]) error {
	args := r.Args()
	if err := checkRequired("connectionId", args.ConnectionID); err != nil {
		return fail(w, err)
	}
	opts, err := proofOptions(args.proofRequestArgs)
	if err != nil {
		return fail(w, err)
	}
	opts.ConnectionID = args.ConnectionID
	rec, err := t.agent.Proofs.RequestProof(ctx, opts)
	if err != nil {
		return fail(w, err)
	}
	return writeJSON(w, rec)
}

func (t *Toolkit) listProofs(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, _ *mcpservice.ToolRequest[struct{}]) error {
	recs, err := t.agent.Proofs.List(ctx)
	if err != nil {
		return fail(w, err)
	}
	return writeJSON(w, recs)
}

func (t *Toolkit) getProof(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[proofRecordArgs]) error {
	rec, err := t.agent.Proofs.Get(ctx, r.Args().ProofRecordID)
	if err != nil {
		return fail(w, err)
	}
	return writeJSON(w, rec)
}

func (t *Toolkit) acceptProofRequest(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[proofRecordArgs]) error {
	rec, err := t.agent.Proofs.AcceptRequest(ctx, r.Args().ProofRecordID)
	if err != nil {
		return fail(w, err)
	}
	return writeJSON(w, rec)
}
