package toolkit

import (
	"context"
	"errors"
	"fmt"

	"github.com/ggoodman/cheqd-mcp-toolkit/mcpservice"
	"github.com/ggoodman/cheqd-mcp-toolkit/sessions"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/agent"
)

type receiveInvitationArgs struct {
	InvitationURL string `json:"invitationUrl" jsonschema_description:"Provide the invitation url to establish a secure didcomm connection"`
}

type getConnectionArgs struct {
	OutOfBandID  string `json:"outOfBandId,omitempty" jsonschema_description:"Out-of-band record id the connection was created from"`
	ConnectionID string `json:"connectionId,omitempty" jsonschema_description:"Connection record id"`
}

func (t *Toolkit) connectionTools() []mcpservice.StaticTool {
	return []mcpservice.StaticTool{
		mcpservice.NewTool("create-connection-invitation-didcomm", t.createInvitation,
			mcpservice.WithToolDescription("Create a connection invitation with a QR code that can be scanned by another agent to establish a secure connection. The QR code image will be displayed in the response.")),
		mcpservice.NewTool("accept-connection-invitation-didcomm", t.acceptInvitation,
			mcpservice.WithToolDescription("Accept a connection invitation provided by a credo agent to establish a secure connection via didcomm")),
		mcpservice.NewTool("list-connections-didcomm", t.listConnections,
			mcpservice.WithToolDescription("List all the connection records created via didcomm")),
		mcpservice.NewTool("get-connection-record-didcomm", t.getConnection,
			mcpservice.WithToolDescription("Retrieve a connection record created via didcomm")),
	}
}

func (t *Toolkit) createInvitation(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, _ *mcpservice.ToolRequest[struct{}]) error {
	oob, err := t.agent.Connections.CreateInvitation(ctx, agent.InvitationOptions{AutoAcceptConnection: true})
	if err != nil {
		return fail(w, err)
	}
	return writeInvitation(w, oob.InvitationURL, oob.OutOfBandInvitation, messageFirst)
}

func (t *Toolkit) acceptInvitation(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[receiveInvitationArgs]) error {
	u := r.Args().InvitationURL
	if err := checkRequired("invitationUrl", u); err != nil {
		return fail(w, err)
	}
	oob, conn, err := t.agent.Connections.ReceiveInvitationFromURL(ctx, u)
	if err != nil {
		return fail(w, err)
	}
	if conn == nil {
		// Connectionless invitations carry a request instead of a handshake.
		return writeJSON(w, oob)
	}
	return writeJSON(w, conn)
}

func (t *Toolkit) listConnections(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, _ *mcpservice.ToolRequest[struct{}]) error {
	recs, err := t.agent.Connections.ListOutOfBand(ctx)
	if err != nil {
		return fail(w, err)
	}
	return writeJSON(w, recs)
}

func (t *Toolkit) getConnection(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[getConnectionArgs]) error {
	conn, err := t.lookupConnection(ctx, r.Args().OutOfBandID, r.Args().ConnectionID)
	if err != nil {
		return fail(w, err)
	}
	return writeJSON(w, conn)
}

var errConnectionNotFound = errors.New("Connection not found")

// lookupConnection finds a connection by out-of-band id, falling back to
// the connection id.
func (t *Toolkit) lookupConnection(ctx context.Context, oobID, connID string) (*agent.ConnectionRecord, error) {
	switch {
	case oobID != "":
		recs, err := t.agent.Connections.FindByOutOfBandID(ctx, oobID)
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			return nil, errConnectionNotFound
		}
		return recs[0], nil
	case connID != "":
		conn, err := t.agent.Connections.Get(ctx, connID)
		if errors.Is(err, agent.ErrRecordNotFound) {
			return nil, errConnectionNotFound
		}
		return conn, err
	}
	return nil, fmt.Errorf("%w: outOfBandId or connectionId is required", ErrInvalidArgument)
}
