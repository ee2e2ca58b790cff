package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/anoncreds"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/didcomm"
	"github.com/google/uuid"
)

// Proofs runs the present-proof 2.0 protocol with AnonCreds proof requests.
type Proofs struct {
	a *Agent
}

// AttributeQuery asks for a revealed attribute.
type AttributeQuery struct {
	Attribute    string                  `json:"attribute"`
	Restrictions []anoncreds.Restriction `json:"restrictions,omitempty"`
}

// PredicateQuery asks for a predicate over an integer attribute.
type PredicateQuery struct {
	Attribute    string                  `json:"attribute"`
	PType        string                  `json:"p_type"`
	PValue       int64                   `json:"p_value"`
	Restrictions []anoncreds.Restriction `json:"restrictions,omitempty"`
}

// ProofRequestOptions describes a proof request.
type ProofRequestOptions struct {
	ConnectionID string
	Comment      string
	Attributes   []AttributeQuery
	Predicates   []PredicateQuery
}

func buildProofRequest(opts ProofRequestOptions) (*anoncreds.ProofRequest, error) {
	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	req := &anoncreds.ProofRequest{
		Name:                "proof-request",
		Version:             "1.0",
		Nonce:               nonce,
		RequestedAttributes: map[string]anoncreds.AttributeRequest{},
		RequestedPredicates: map[string]anoncreds.PredicateRequest{},
	}
	for i, q := range opts.Attributes {
		req.RequestedAttributes[fmt.Sprintf("attribute-%d", i)] = anoncreds.AttributeRequest{
			Name:         q.Attribute,
			Restrictions: q.Restrictions,
		}
	}
	for i, q := range opts.Predicates {
		req.RequestedPredicates[fmt.Sprintf("predicate-%d", i)] = anoncreds.PredicateRequest{
			Name:         q.Attribute,
			PType:        q.PType,
			PValue:       q.PValue,
			Restrictions: q.Restrictions,
		}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

func (p *Proofs) newRequest(opts ProofRequestOptions) (*ProofExchangeRecord, *didcomm.RequestPresentation, error) {
	req, err := buildProofRequest(opts)
	if err != nil {
		return nil, nil, err
	}
	att, err := didcomm.NewJSONAttachment("anoncreds", req)
	if err != nil {
		return nil, nil, err
	}
	msg := &didcomm.RequestPresentation{
		Header:   didcomm.NewHeader(didcomm.TypeRequestPresentation, "", ""),
		Comment:  opts.Comment,
		Formats:  []didcomm.Format{{AttachID: att.ID, Format: didcomm.FormatAnonCredsProofRequest}},
		Requests: []didcomm.Attachment{att},
	}
	now := p.a.stamp()
	rec := &ProofExchangeRecord{
		ID:              uuid.NewString(),
		CreatedAt:       now,
		UpdatedAt:       now,
		ThreadID:        msg.ID,
		State:           ProofStateRequestSent,
		Role:            ProofRoleVerifier,
		ProtocolVersion: protocolV2,
		AutoAcceptProof: true,
		Request:         req,
	}
	return rec, msg, nil
}

// RequestProof sends a proof request over a completed connection.
func (p *Proofs) RequestProof(ctx context.Context, opts ProofRequestOptions) (*ProofExchangeRecord, error) {
	a := p.a
	if err := a.ready(); err != nil {
		return nil, err
	}
	if _, err := a.readyConnection(ctx, opts.ConnectionID); err != nil {
		return nil, err
	}
	rec, msg, err := p.newRequest(opts)
	if err != nil {
		return nil, err
	}
	rec.ConnectionID = opts.ConnectionID
	if err := p.save(ctx, rec); err != nil {
		return nil, err
	}
	if err := a.deliver(ctx, rec.ConnectionID, nil, msg); err != nil {
		return nil, a.abandonProof(ctx, rec, err)
	}
	a.log.InfoContext(ctx, "agent.proof.requested", slog.String("record_id", rec.ID), slog.String("connection_id", rec.ConnectionID))
	return rec, nil
}

// CreateRequest creates a connectionless proof request and the out-of-band
// invitation carrying it.
func (p *Proofs) CreateRequest(ctx context.Context, opts ProofRequestOptions) (*ProofExchangeRecord, *OutOfBandRecord, error) {
	a := p.a
	if err := a.ready(); err != nil {
		return nil, nil, err
	}
	rec, msg, err := p.newRequest(opts)
	if err != nil {
		return nil, nil, err
	}
	if err := p.save(ctx, rec); err != nil {
		return nil, nil, err
	}
	oob, err := a.Connections.CreateConnectionlessInvitation(ctx, rec.ID, msg)
	if err != nil {
		return nil, nil, err
	}
	rec.ParentThreadID = oob.OutOfBandInvitation.ID
	if err := p.save(ctx, rec); err != nil {
		return nil, nil, err
	}
	return rec, oob, nil
}

func (a *Agent) handleProofRequest(ctx context.Context, msg *didcomm.Message, invitationID string) (*ProofExchangeRecord, error) {
	var rp didcomm.RequestPresentation
	if err := msg.Decode(&rp); err != nil {
		return nil, err
	}
	connID := didcomm.ConnectionIDFromContext(ctx)
	if connID == "" && rp.Service == nil {
		return nil, fmt.Errorf("%w: connectionless proof request without ~service", didcomm.ErrInvalidMessage)
	}
	att, ok := didcomm.FindAttachment(rp.Formats, rp.Requests, didcomm.FormatAnonCredsProofRequest)
	if !ok {
		return nil, fmt.Errorf("%w: proof request has no anoncreds attachment", didcomm.ErrInvalidMessage)
	}
	var req anoncreds.ProofRequest
	if err := att.Decode(&req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", didcomm.ErrInvalidMessage, err)
	}
	now := a.stamp()
	rec := &ProofExchangeRecord{
		ID:              uuid.NewString(),
		CreatedAt:       now,
		UpdatedAt:       now,
		ConnectionID:    connID,
		ThreadID:        rp.ThreadID(),
		ParentThreadID:  invitationID,
		State:           ProofStateRequestReceived,
		Role:            ProofRoleProver,
		ProtocolVersion: protocolV2,
		Request:         &req,
	}
	if connID == "" {
		rec.ReplyTo = rp.Service
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if connID != "" {
		if _, err := a.readyConnection(ctx, connID); err != nil {
			return nil, err
		}
	}
	if err := a.proofs.put(ctx, rec.ID, rec); err != nil {
		return nil, err
	}
	a.log.InfoContext(ctx, "agent.proof.request_received", slog.String("record_id", rec.ID))
	return rec, nil
}

// AcceptRequest answers a received proof request from the wallet's
// AnonCreds credentials.
func (p *Proofs) AcceptRequest(ctx context.Context, recordID string) (*ProofExchangeRecord, error) {
	a := p.a
	if err := a.ready(); err != nil {
		return nil, err
	}
	rec, err := p.expect(ctx, recordID, ProofRoleProver, ProofStateRequestReceived)
	if err != nil {
		return nil, err
	}
	held, err := p.heldCredentials(ctx)
	if err != nil {
		return nil, err
	}
	sel, err := anoncreds.SelectCredentials(rec.Request, held)
	if err != nil {
		return nil, err
	}
	pres, err := anoncreds.CreatePresentation(rec.Request, sel, held)
	if err != nil {
		return nil, err
	}
	att, err := didcomm.NewJSONAttachment("anoncreds", pres)
	if err != nil {
		return nil, err
	}
	msg := &didcomm.Presentation{
		Header:        didcomm.NewHeader(didcomm.TypePresentation, rec.ThreadID, rec.ParentThreadID),
		Formats:       []didcomm.Format{{AttachID: att.ID, Format: didcomm.FormatAnonCredsProof}},
		Presentations: []didcomm.Attachment{att},
	}
	if rec.ConnectionID == "" {
		if msg.Service, err = a.replyService(ctx); err != nil {
			return nil, err
		}
	}

	rec.Presentation = pres
	if err := p.transition(ctx, rec, ProofStatePresentationSent); err != nil {
		return nil, err
	}
	if err := a.deliver(ctx, rec.ConnectionID, rec.ReplyTo, msg); err != nil {
		return nil, a.abandonProof(ctx, rec, err)
	}
	a.log.InfoContext(ctx, "agent.proof.presented", slog.String("record_id", rec.ID), slog.Int("credentials", len(pres.Proofs)))
	return rec, nil
}

// heldCredentials decodes the wallet's AnonCreds credentials with their
// schemas. Credentials whose schema no longer resolves are skipped.
func (p *Proofs) heldCredentials(ctx context.Context) ([]anoncreds.HeldCredential, error) {
	recs, err := p.a.wallet.ListAnonCreds(ctx)
	if err != nil {
		return nil, err
	}
	held := make([]anoncreds.HeldCredential, 0, len(recs))
	for _, r := range recs {
		var cred anoncreds.Credential
		if err := json.Unmarshal(r.Credential, &cred); err != nil {
			return nil, fmt.Errorf("decode wallet credential %s: %w", r.ID, err)
		}
		schema, err := p.a.anoncreds.GetSchema(ctx, cred.SchemaID)
		if err != nil {
			p.a.log.WarnContext(ctx, "agent.proof.schema_unresolved", slog.String("credential_id", r.ID), slog.String("err", err.Error()))
			continue
		}
		held = append(held, anoncreds.HeldCredential{ID: r.ID, Credential: &cred, Schema: schema})
	}
	return held, nil
}

func (a *Agent) handlePresentation(ctx context.Context, msg *didcomm.Message) error {
	var pm didcomm.Presentation
	if err := msg.Decode(&pm); err != nil {
		return err
	}
	att, ok := didcomm.FindAttachment(pm.Formats, pm.Presentations, didcomm.FormatAnonCredsProof)
	if !ok {
		return fmt.Errorf("%w: presentation has no anoncreds attachment", didcomm.ErrInvalidMessage)
	}
	var pres anoncreds.Presentation
	if err := att.Decode(&pres); err != nil {
		return err
	}

	a.mu.Lock()
	rec, err := a.proofForThread(ctx, msg.ThreadID(), ProofRoleVerifier, ProofStateRequestSent)
	if err == nil && rec.ConnectionID == "" {
		if pm.Service == nil {
			err = fmt.Errorf("%w: connectionless presentation without ~service", didcomm.ErrInvalidMessage)
		} else {
			rec.ReplyTo = pm.Service
			err = a.markInvitationDone(ctx, rec.ID)
		}
	}
	a.mu.Unlock()
	if err != nil {
		return err
	}

	verified, cause := a.anoncreds.VerifyPresentation(ctx, rec.Request, &pres)
	rec.Presentation = &pres
	rec.IsVerified = &verified
	if !verified {
		a.log.WarnContext(ctx, "agent.proof.rejected", slog.String("record_id", rec.ID), slog.String("err", cause.Error()))
		_ = a.abandonProof(ctx, rec, cause)
		a.spawn("agent.proof.problem_report", func(ctx context.Context) error {
			a.sendProblem(ctx, rec.ConnectionID, rec.ReplyTo, rec.ThreadID, "presentation-rejected", cause)
			return nil
		})
		return nil
	}
	if err := a.Proofs.transition(ctx, rec, ProofStatePresentationReceived); err != nil {
		return err
	}
	a.log.InfoContext(ctx, "agent.proof.verified", slog.String("record_id", rec.ID))

	if rec.AutoAcceptProof {
		a.spawn("agent.proof.ack", func(ctx context.Context) error {
			ack := &didcomm.Ack{
				Header: didcomm.NewHeader(didcomm.TypePresentationAck, rec.ThreadID, rec.ParentThreadID),
				Status: "OK",
			}
			if err := a.deliver(ctx, rec.ConnectionID, rec.ReplyTo, ack); err != nil {
				return err
			}
			return a.Proofs.transition(ctx, rec, ProofStateDone)
		})
	}
	return nil
}

func (a *Agent) handlePresentationAck(ctx context.Context, msg *didcomm.Message) error {
	a.mu.Lock()
	rec, err := a.proofForThread(ctx, msg.ThreadID(), ProofRoleProver, ProofStatePresentationSent)
	a.mu.Unlock()
	if err != nil {
		return err
	}
	if err := a.Proofs.transition(ctx, rec, ProofStateDone); err != nil {
		return err
	}
	a.log.InfoContext(ctx, "agent.proof.done", slog.String("record_id", rec.ID))
	return nil
}

// proofForThread loads the record of role on thread thid and checks that
// it is in state. Caller holds a.mu.
func (a *Agent) proofForThread(ctx context.Context, thid, role, state string) (*ProofExchangeRecord, error) {
	rec, err := a.proofs.find(ctx, func(r *ProofExchangeRecord) bool {
		return r.ThreadID == thid && r.Role == role
	})
	if errors.Is(err, ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", didcomm.ErrUnknownThread, thid)
	}
	if err != nil {
		return nil, err
	}
	if err := peer(ctx, rec.ConnectionID); err != nil {
		return nil, err
	}
	if rec.State != state {
		return nil, fmt.Errorf("%w: proof record %s is %s, expected %s", ErrInvalidState, rec.ID, rec.State, state)
	}
	return rec, nil
}

func (p *Proofs) expect(ctx context.Context, id, role, state string) (*ProofExchangeRecord, error) {
	p.a.mu.Lock()
	defer p.a.mu.Unlock()
	rec, err := p.a.proofs.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Role != role || rec.State != state {
		return nil, fmt.Errorf("%w: proof record %s is %s %s, expected %s %s", ErrInvalidState, rec.ID, rec.Role, rec.State, role, state)
	}
	return rec, nil
}

func (p *Proofs) save(ctx context.Context, rec *ProofExchangeRecord) error {
	p.a.mu.Lock()
	defer p.a.mu.Unlock()
	return p.a.proofs.put(ctx, rec.ID, rec)
}

func (p *Proofs) transition(ctx context.Context, rec *ProofExchangeRecord, state string) error {
	p.a.mu.Lock()
	defer p.a.mu.Unlock()
	rec.State = state
	rec.UpdatedAt = p.a.stamp()
	return p.a.proofs.put(ctx, rec.ID, rec)
}

func (a *Agent) abandonProof(ctx context.Context, rec *ProofExchangeRecord, cause error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec.State = ProofStateAbandoned
	rec.ErrorMessage = cause.Error()
	rec.UpdatedAt = a.stamp()
	if err := a.proofs.put(ctx, rec.ID, rec); err != nil {
		return err
	}
	return cause
}

// List returns every proof exchange record.
func (p *Proofs) List(ctx context.Context) ([]*ProofExchangeRecord, error) {
	if err := p.a.ready(); err != nil {
		return nil, err
	}
	return p.a.proofs.list(ctx)
}

// Get returns the proof exchange record id.
func (p *Proofs) Get(ctx context.Context, id string) (*ProofExchangeRecord, error) {
	if err := p.a.ready(); err != nil {
		return nil, err
	}
	return p.a.proofs.get(ctx, id)
}
