package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/did"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/didcomm"
)

// dispatch routes an inbound message to its protocol handler.
func (a *Agent) dispatch(ctx context.Context, msg *didcomm.Message) error {
	if err := a.ready(); err != nil {
		return err
	}
	a.log.DebugContext(ctx, "agent.message.received",
		slog.String("type", msg.Type),
		slog.String("thid", msg.ThreadID()),
		slog.String("connection_id", didcomm.ConnectionIDFromContext(ctx)))

	switch msg.Type {
	case didcomm.TypeDIDExchangeRequest:
		return a.handleDIDExchangeRequest(ctx, msg)
	case didcomm.TypeDIDExchangeResponse:
		return a.handleDIDExchangeResponse(ctx, msg)
	case didcomm.TypeDIDExchangeComplete:
		return a.handleDIDExchangeComplete(ctx, msg)
	case didcomm.TypeOfferCredential:
		_, err := a.handleOffer(ctx, msg, "")
		return err
	case didcomm.TypeRequestCredential:
		return a.handleCredentialRequest(ctx, msg)
	case didcomm.TypeIssueCredential:
		return a.handleIssue(ctx, msg)
	case didcomm.TypeCredentialAck:
		return a.handleCredentialAck(ctx, msg)
	case didcomm.TypeRequestPresentation:
		_, err := a.handleProofRequest(ctx, msg, "")
		return err
	case didcomm.TypePresentation:
		return a.handlePresentation(ctx, msg)
	case didcomm.TypePresentationAck:
		return a.handlePresentationAck(ctx, msg)
	case didcomm.TypeProblemReport:
		return a.handleProblemReport(ctx, msg)
	default:
		return fmt.Errorf("%w: unsupported message type %s", didcomm.ErrInvalidMessage, msg.Type)
	}
}

// receiveConnectionless handles a message attached to an out-of-band
// invitation and returns the exchange record it created.
func (a *Agent) receiveConnectionless(ctx context.Context, msg *didcomm.Message, invitationID string) (string, error) {
	switch msg.Type {
	case didcomm.TypeOfferCredential:
		rec, err := a.handleOffer(ctx, msg, invitationID)
		if err != nil {
			return "", err
		}
		return rec.ID, nil
	case didcomm.TypeRequestPresentation:
		rec, err := a.handleProofRequest(ctx, msg, invitationID)
		if err != nil {
			return "", err
		}
		return rec.ID, nil
	default:
		return "", fmt.Errorf("%w: %s cannot be sent without a connection", didcomm.ErrInvalidMessage, msg.Type)
	}
}

func (a *Agent) handleProblemReport(ctx context.Context, msg *didcomm.Message) error {
	var pr didcomm.ProblemReport
	if err := msg.Decode(&pr); err != nil {
		return err
	}
	reason := pr.Description.Code
	if pr.Description.En != "" {
		reason = pr.Description.En
	}
	thid := msg.ThreadID()

	a.mu.Lock()
	defer a.mu.Unlock()
	if rec, err := a.credentials.find(ctx, func(r *CredentialExchangeRecord) bool { return r.ThreadID == thid }); err == nil {
		rec.State = CredStateAbandoned
		rec.ErrorMessage = reason
		rec.UpdatedAt = a.stamp()
		a.log.WarnContext(ctx, "agent.credential.abandoned", slog.String("record_id", rec.ID), slog.String("reason", reason))
		return a.credentials.put(ctx, rec.ID, rec)
	}
	if rec, err := a.proofs.find(ctx, func(r *ProofExchangeRecord) bool { return r.ThreadID == thid }); err == nil {
		rec.State = ProofStateAbandoned
		rec.ErrorMessage = reason
		rec.UpdatedAt = a.stamp()
		a.log.WarnContext(ctx, "agent.proof.abandoned", slog.String("record_id", rec.ID), slog.String("reason", reason))
		return a.proofs.put(ctx, rec.ID, rec)
	}
	if conn, err := a.connections.find(ctx, func(r *ConnectionRecord) bool { return r.ThreadID == thid }); err == nil {
		conn.State = ConnStateAbandoned
		conn.ErrorMessage = reason
		conn.UpdatedAt = a.stamp()
		return a.connections.put(ctx, conn.ID, conn)
	}
	return fmt.Errorf("%w: %s", didcomm.ErrUnknownThread, thid)
}

// deliver sends msg over the connection, or to replyTo when the exchange is
// connectionless.
func (a *Agent) deliver(ctx context.Context, connectionID string, replyTo *didcomm.ServiceDecorator, msg any) error {
	if connectionID != "" {
		conn, err := a.readyConnection(ctx, connectionID)
		if err != nil {
			return err
		}
		return a.sender.Send(ctx, conn.TheirEndpoint, msg)
	}
	if replyTo == nil || replyTo.ServiceEndpoint == "" {
		return fmt.Errorf("%w: no connection and no ~service to reply to", didcomm.ErrInvalidMessage)
	}
	return a.sender.Send(ctx, replyTo.ServiceEndpoint, msg)
}

// replyService returns a ~service decorator for a connectionless reply,
// backed by a fresh key.
func (a *Agent) replyService(ctx context.Context) (*didcomm.ServiceDecorator, error) {
	_, pub, err := a.wallet.CreateKey(ctx)
	if err != nil {
		return nil, err
	}
	key, err := did.NewKey(pub)
	if err != nil {
		return nil, err
	}
	return a.rootService(key), nil
}

// peer checks that an inbound message arrived where the record expects:
// the record's connection inbox, or the root endpoint when connectionless.
func peer(ctx context.Context, connectionID string) error {
	got := didcomm.ConnectionIDFromContext(ctx)
	if got != connectionID {
		return fmt.Errorf("%w: message for connection %q arrived on %q", didcomm.ErrUnknownThread, connectionID, got)
	}
	return nil
}

// sendProblem reports a failed exchange to the peer. Errors are logged only.
func (a *Agent) sendProblem(ctx context.Context, connectionID string, replyTo *didcomm.ServiceDecorator, thid, code string, cause error) {
	pr := &didcomm.ProblemReport{
		Header:      didcomm.NewHeader(didcomm.TypeProblemReport, thid, ""),
		Description: didcomm.ProblemDescription{Code: code, En: cause.Error()},
	}
	if err := a.deliver(ctx, connectionID, replyTo, pr); err != nil {
		a.log.WarnContext(ctx, "agent.problem_report.fail", slog.String("thid", thid), slog.String("err", err.Error()))
	}
}

// markInvitationDone closes the connectionless invitation carrying
// recordID. Caller holds a.mu.
func (a *Agent) markInvitationDone(ctx context.Context, recordID string) error {
	oob, err := a.oob.find(ctx, func(r *OutOfBandRecord) bool {
		return r.Role == OOBRoleSender && r.AssociatedRecordID == recordID
	})
	if err != nil || oob.State != OOBStateAwaitResponse {
		return nil
	}
	oob.State = OOBStateDone
	oob.UpdatedAt = a.stamp()
	return a.oob.put(ctx, oob.ID, oob)
}
