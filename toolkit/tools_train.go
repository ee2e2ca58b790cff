package toolkit

import (
	"context"

	"github.com/ggoodman/cheqd-mcp-toolkit/mcpservice"
	"github.com/ggoodman/cheqd-mcp-toolkit/sessions"
)

type accreditationArgs struct {
	DID            string `json:"did" jsonschema:"pattern=^did:cheqd:" jsonschema_description:"Decentralized identifier for cheqd whose accreditation is checked"`
	TrustFramework string `json:"trustFramework,omitempty" jsonschema_description:"Optional trust framework the accreditation must belong to"`
}

func (t *Toolkit) trainTools() []mcpservice.StaticTool {
	return []mcpservice.StaticTool{
		mcpservice.NewTool("resolveAccreditation", t.resolveAccreditation,
			mcpservice.WithToolDescription("Resolve an accreditation of a DID, This will determine if the DID is trustable or not")),
	}
}

func (t *Toolkit) resolveAccreditation(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[accreditationArgs]) error {
	args := r.Args()
	if err := checkCheqdDID("did", args.DID); err != nil {
		return fail(w, err)
	}
	verdict, err := t.train.ResolveAccreditation(ctx, args.DID, args.TrustFramework)
	if err != nil {
		return fail(w, err)
	}
	return w.AppendText(string(verdict))
}
