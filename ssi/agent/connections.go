package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/did"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/didcomm"
	"github.com/google/uuid"
)

var invitationAccept = []string{"didcomm/aip1", "didcomm/aip2;env=rfc19"}

// Connections runs out-of-band invitations and the DID exchange protocol.
type Connections struct {
	a *Agent
}

// InvitationOptions tunes CreateInvitation.
type InvitationOptions struct {
	Label                string
	AutoAcceptConnection bool
	Reusable             bool
}

// CreateInvitation creates a connection invitation and returns its record
// and URL.
func (c *Connections) CreateInvitation(ctx context.Context, opts InvitationOptions) (*OutOfBandRecord, error) {
	a := c.a
	if err := a.ready(); err != nil {
		return nil, err
	}
	inv, kid, err := c.newInvitation(ctx, opts.Label)
	if err != nil {
		return nil, err
	}
	inv.HandshakeProtocols = []string{didcomm.TypeHandshakeRef}
	return c.saveInvitation(ctx, inv, kid, opts.AutoAcceptConnection, opts.Reusable, "")
}

// CreateConnectionlessInvitation wraps msg, the first message of a
// connectionless exchange recorded under recordID, in an out-of-band
// invitation.
func (c *Connections) CreateConnectionlessInvitation(ctx context.Context, recordID string, msg any) (*OutOfBandRecord, error) {
	a := c.a
	if err := a.ready(); err != nil {
		return nil, err
	}
	inv, kid, err := c.newInvitation(ctx, "")
	if err != nil {
		return nil, err
	}
	att, err := didcomm.NewJSONAttachment("request-0", msg)
	if err != nil {
		return nil, err
	}
	inv.Requests = []didcomm.Attachment{att}
	return c.saveInvitation(ctx, inv, kid, false, false, recordID)
}

func (c *Connections) newInvitation(ctx context.Context, label string) (*didcomm.Invitation, string, error) {
	a := c.a
	kid, pub, err := a.wallet.CreateKey(ctx)
	if err != nil {
		return nil, "", err
	}
	key, err := did.NewKey(pub)
	if err != nil {
		return nil, "", err
	}
	if label == "" {
		label = a.cfg.Label
	}
	inv := &didcomm.Invitation{
		Header: didcomm.NewHeader(didcomm.TypeInvitation, "", ""),
		Label:  label,
		Accept: invitationAccept,
		Services: []didcomm.Service{{
			ID:              "#inline-0",
			Type:            did.ServiceDIDCommunication,
			RecipientKeys:   []string{key},
			ServiceEndpoint: a.cfg.Endpoint,
		}},
	}
	return inv, kid, nil
}

func (c *Connections) saveInvitation(ctx context.Context, inv *didcomm.Invitation, kid string, autoAccept, reusable bool, associated string) (*OutOfBandRecord, error) {
	a := c.a
	u, err := inv.URL(a.cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	now := a.stamp()
	rec := &OutOfBandRecord{
		ID:                   uuid.NewString(),
		CreatedAt:            now,
		UpdatedAt:            now,
		Role:                 OOBRoleSender,
		State:                OOBStateAwaitResponse,
		OutOfBandInvitation:  inv,
		InvitationURL:        u,
		AutoAcceptConnection: autoAccept,
		ReusableConnection:   reusable,
		RecipientKid:         kid,
		AssociatedRecordID:   associated,
	}
	a.mu.Lock()
	err = a.oob.put(ctx, rec.ID, rec)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	a.log.InfoContext(ctx, "agent.invitation.created",
		slog.String("oob_id", rec.ID),
		slog.String("invitation_id", inv.ID),
		slog.Bool("connectionless", associated != ""))
	return rec, nil
}

// ReceiveInvitationFromURL accepts an invitation. A handshake invitation
// starts a DID exchange and returns the new connection. A connectionless
// invitation delivers its attached messages and returns no connection.
func (c *Connections) ReceiveInvitationFromURL(ctx context.Context, invitationURL string) (*OutOfBandRecord, *ConnectionRecord, error) {
	a := c.a
	if err := a.ready(); err != nil {
		return nil, nil, err
	}
	inv, err := didcomm.ParseInvitationURL(invitationURL)
	if err != nil {
		return nil, nil, err
	}

	now := a.stamp()
	oob := &OutOfBandRecord{
		ID:                   uuid.NewString(),
		CreatedAt:            now,
		UpdatedAt:            now,
		Role:                 OOBRoleReceiver,
		State:                OOBStatePrepareResponse,
		OutOfBandInvitation:  inv,
		InvitationURL:        invitationURL,
		AutoAcceptConnection: true,
	}

	if len(inv.Requests) > 0 {
		reply := &didcomm.ServiceDecorator{
			RecipientKeys:   inv.Services[0].RecipientKeys,
			RoutingKeys:     inv.Services[0].RoutingKeys,
			ServiceEndpoint: inv.Services[0].ServiceEndpoint,
		}
		oob.State = OOBStateDone
		for _, att := range inv.Requests {
			var raw json.RawMessage
			if err := att.Decode(&raw); err != nil {
				return nil, nil, err
			}
			msg, err := didcomm.ParseMessage(raw)
			if err != nil {
				return nil, nil, err
			}
			if msg.Service == nil {
				if err := msg.SetService(reply); err != nil {
					return nil, nil, err
				}
			}
			recordID, err := a.receiveConnectionless(ctx, msg, inv.ID)
			if err != nil {
				return nil, nil, err
			}
			oob.AssociatedRecordID = recordID
		}
		a.mu.Lock()
		err := a.oob.put(ctx, oob.ID, oob)
		a.mu.Unlock()
		if err != nil {
			return nil, nil, err
		}
		return oob, nil, nil
	}

	conn, req, err := c.prepareRequest(ctx, inv, oob)
	if err != nil {
		return nil, nil, err
	}
	if err := a.sender.Send(ctx, inv.Services[0].ServiceEndpoint, req); err != nil {
		a.mu.Lock()
		conn.State = ConnStateAbandoned
		conn.ErrorMessage = err.Error()
		conn.UpdatedAt = a.stamp()
		_ = a.connections.put(ctx, conn.ID, conn)
		a.mu.Unlock()
		return nil, nil, err
	}
	return oob, conn, nil
}

// prepareRequest stores the requester's connection in request-sent before
// the request leaves, so an immediate response finds it.
func (c *Connections) prepareRequest(ctx context.Context, inv *didcomm.Invitation, oob *OutOfBandRecord) (*ConnectionRecord, *didcomm.DIDExchangeRequest, error) {
	a := c.a
	conn := &ConnectionRecord{
		ID:          uuid.NewString(),
		CreatedAt:   oob.CreatedAt,
		UpdatedAt:   oob.CreatedAt,
		State:       ConnStateRequestSent,
		Role:        ConnRoleRequester,
		TheirLabel:  inv.Label,
		OutOfBandID: oob.ID,
	}
	doc, kid, err := c.connectionDID(ctx, conn.ID)
	if err != nil {
		return nil, nil, err
	}
	conn.DID, conn.Kid = doc.ID, kid

	att, err := didcomm.NewJSONAttachment(uuid.NewString(), doc)
	if err != nil {
		return nil, nil, err
	}
	req := &didcomm.DIDExchangeRequest{
		Header:    didcomm.NewHeader(didcomm.TypeDIDExchangeRequest, "", inv.ID),
		Label:     a.cfg.Label,
		DID:       doc.ID,
		DIDDocAtt: &att,
	}
	conn.ThreadID = req.ThreadID()

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.oob.put(ctx, oob.ID, oob); err != nil {
		return nil, nil, err
	}
	if err := a.connections.put(ctx, conn.ID, conn); err != nil {
		return nil, nil, err
	}
	return conn, req, nil
}

// connectionDID creates the pairwise did:key for a connection, with its
// per-connection inbox as DIDComm service.
func (c *Connections) connectionDID(ctx context.Context, connectionID string) (*did.Document, string, error) {
	kid, pub, err := c.a.wallet.CreateKey(ctx)
	if err != nil {
		return nil, "", err
	}
	id, err := did.NewKey(pub)
	if err != nil {
		return nil, "", err
	}
	doc, err := did.NewDocument(id, pub)
	if err != nil {
		return nil, "", err
	}
	doc.Service = []did.Service{{
		ID:              id + "#didcomm-0",
		Type:            did.ServiceDIDCommunication,
		ServiceEndpoint: c.a.endpointFor(connectionID),
		RecipientKeys:   []string{id + "#" + did.DefaultKeyFragment},
	}}
	return doc, kid, nil
}

// List returns every connection.
func (c *Connections) List(ctx context.Context) ([]*ConnectionRecord, error) {
	if err := c.a.ready(); err != nil {
		return nil, err
	}
	return c.a.connections.list(ctx)
}

// Get returns the connection id.
func (c *Connections) Get(ctx context.Context, id string) (*ConnectionRecord, error) {
	if err := c.a.ready(); err != nil {
		return nil, err
	}
	return c.a.connections.get(ctx, id)
}

// FindByOutOfBandID returns connections created from the invitation record
// oobID.
func (c *Connections) FindByOutOfBandID(ctx context.Context, oobID string) ([]*ConnectionRecord, error) {
	all, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*ConnectionRecord
	for _, conn := range all {
		if conn.OutOfBandID == oobID {
			out = append(out, conn)
		}
	}
	return out, nil
}

// ListOutOfBand returns every out-of-band record.
func (c *Connections) ListOutOfBand(ctx context.Context) ([]*OutOfBandRecord, error) {
	if err := c.a.ready(); err != nil {
		return nil, err
	}
	return c.a.oob.list(ctx)
}

// GetOutOfBand returns the out-of-band record id.
func (c *Connections) GetOutOfBand(ctx context.Context, id string) (*OutOfBandRecord, error) {
	if err := c.a.ready(); err != nil {
		return nil, err
	}
	return c.a.oob.get(ctx, id)
}

// ConnectionSummary is one entry of ConnectionStats.RecentConnections.
type ConnectionSummary struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	CreatedAt  string `json:"createdAt"`
	TheirLabel string `json:"theirLabel,omitempty"`
}

// ConnectionStats summarizes the connection records.
type ConnectionStats struct {
	Total             int                 `json:"total"`
	ByState           map[string]int      `json:"byState"`
	RecentConnections []ConnectionSummary `json:"recentConnections"`
}

// Stats counts connections per state and lists the five most recent.
func (c *Connections) Stats(ctx context.Context) (*ConnectionStats, error) {
	all, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	st := &ConnectionStats{Total: len(all), ByState: map[string]int{}, RecentConnections: []ConnectionSummary{}}
	for _, conn := range all {
		st.ByState[conn.State]++
	}
	sorted := append([]*ConnectionRecord(nil), all...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })
	if len(sorted) > 5 {
		sorted = sorted[:5]
	}
	for _, conn := range sorted {
		st.RecentConnections = append(st.RecentConnections, ConnectionSummary{
			ID:         conn.ID,
			State:      conn.State,
			CreatedAt:  conn.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
			TheirLabel: conn.TheirLabel,
		})
	}
	return st, nil
}

// readyConnection loads a completed connection.
func (a *Agent) readyConnection(ctx context.Context, id string) (*ConnectionRecord, error) {
	conn, err := a.connections.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conn.IsReady() {
		return nil, fmt.Errorf("%w: %s is %s", ErrConnectionNotReady, id, conn.State)
	}
	return conn, nil
}

func (a *Agent) handleDIDExchangeRequest(ctx context.Context, msg *didcomm.Message) error {
	var req didcomm.DIDExchangeRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}
	theirDoc, endpoint, err := peerDocument(req.DIDDocAtt, req.DID)
	if err != nil {
		return err
	}

	a.mu.Lock()
	oob, err := a.oob.find(ctx, func(r *OutOfBandRecord) bool {
		return r.Role == OOBRoleSender && r.OutOfBandInvitation != nil && r.OutOfBandInvitation.ID == req.ParentThreadID()
	})
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("%w: no invitation %s", didcomm.ErrUnknownThread, req.ParentThreadID())
	}
	if oob.State != OOBStateAwaitResponse && !oob.ReusableConnection {
		a.mu.Unlock()
		return fmt.Errorf("%w: invitation %s is %s", ErrInvalidState, oob.ID, oob.State)
	}
	now := a.stamp()
	conn := &ConnectionRecord{
		ID:            uuid.NewString(),
		CreatedAt:     now,
		UpdatedAt:     now,
		State:         ConnStateRequestReceived,
		Role:          ConnRoleResponder,
		TheirDID:      theirDoc.ID,
		TheirLabel:    req.Label,
		TheirEndpoint: endpoint,
		OutOfBandID:   oob.ID,
		ThreadID:      req.ThreadID(),
	}
	if !oob.ReusableConnection {
		oob.State = OOBStateDone
		oob.UpdatedAt = now
	}
	err = a.oob.put(ctx, oob.ID, oob)
	if err == nil {
		err = a.connections.put(ctx, conn.ID, conn)
	}
	a.mu.Unlock()
	if err != nil {
		return err
	}
	a.log.InfoContext(ctx, "agent.connection.request_received", slog.String("connection_id", conn.ID), slog.String("their_label", req.Label))

	if oob.AutoAcceptConnection {
		a.spawn("agent.connection.respond", func(ctx context.Context) error {
			_, err := a.Connections.AcceptRequest(ctx, conn.ID)
			return err
		})
	}
	return nil
}

// AcceptRequest answers a received DID exchange request.
func (c *Connections) AcceptRequest(ctx context.Context, connectionID string) (*ConnectionRecord, error) {
	a := c.a
	if err := a.ready(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	conn, err := a.connections.get(ctx, connectionID)
	if err == nil && (conn.Role != ConnRoleResponder || conn.State != ConnStateRequestReceived) {
		err = fmt.Errorf("%w: connection %s is %s", ErrInvalidState, conn.ID, conn.State)
	}
	var oob *OutOfBandRecord
	if err == nil {
		oob, err = a.oob.get(ctx, conn.OutOfBandID)
	}
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	doc, kid, err := c.connectionDID(ctx, conn.ID)
	if err != nil {
		return nil, err
	}
	att, err := didcomm.NewJSONAttachment(uuid.NewString(), doc)
	if err != nil {
		return nil, err
	}
	res := &didcomm.DIDExchangeResponse{
		Header:    didcomm.NewHeader(didcomm.TypeDIDExchangeResponse, conn.ThreadID, oob.OutOfBandInvitation.ID),
		DID:       doc.ID,
		DIDDocAtt: &att,
	}

	a.mu.Lock()
	conn.DID, conn.Kid = doc.ID, kid
	conn.State = ConnStateResponseSent
	conn.UpdatedAt = a.stamp()
	err = a.connections.put(ctx, conn.ID, conn)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := a.sender.Send(ctx, conn.TheirEndpoint, res); err != nil {
		return nil, a.abandonConnection(ctx, conn, err)
	}
	return conn, nil
}

func (a *Agent) handleDIDExchangeResponse(ctx context.Context, msg *didcomm.Message) error {
	var res didcomm.DIDExchangeResponse
	if err := msg.Decode(&res); err != nil {
		return err
	}
	theirDoc, endpoint, err := peerDocument(res.DIDDocAtt, res.DID)
	if err != nil {
		return err
	}

	a.mu.Lock()
	conn, err := a.connectionForThread(ctx, msg, ConnRoleRequester)
	if err == nil && conn.State != ConnStateRequestSent {
		err = fmt.Errorf("%w: connection %s is %s", ErrInvalidState, conn.ID, conn.State)
	}
	if err != nil {
		a.mu.Unlock()
		return err
	}
	conn.TheirDID = theirDoc.ID
	conn.TheirEndpoint = endpoint
	conn.State = ConnStateResponseReceived
	conn.UpdatedAt = a.stamp()
	err = a.connections.put(ctx, conn.ID, conn)
	a.mu.Unlock()
	if err != nil {
		return err
	}

	a.spawn("agent.connection.complete", func(ctx context.Context) error {
		complete := &didcomm.DIDExchangeComplete{
			Header: didcomm.NewHeader(didcomm.TypeDIDExchangeComplete, conn.ThreadID, res.ParentThreadID()),
		}
		if err := a.sender.Send(ctx, conn.TheirEndpoint, complete); err != nil {
			return a.abandonConnection(ctx, conn, err)
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		conn.State = ConnStateCompleted
		conn.UpdatedAt = a.stamp()
		if err := a.connections.put(ctx, conn.ID, conn); err != nil {
			return err
		}
		if oob, err := a.oob.get(ctx, conn.OutOfBandID); err == nil {
			oob.State = OOBStateDone
			oob.UpdatedAt = conn.UpdatedAt
			if err := a.oob.put(ctx, oob.ID, oob); err != nil {
				return err
			}
		}
		a.log.InfoContext(ctx, "agent.connection.completed", slog.String("connection_id", conn.ID), slog.String("role", conn.Role))
		return nil
	})
	return nil
}

func (a *Agent) handleDIDExchangeComplete(ctx context.Context, msg *didcomm.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	conn, err := a.connectionForThread(ctx, msg, ConnRoleResponder)
	if err != nil {
		return err
	}
	if conn.State != ConnStateResponseSent {
		return fmt.Errorf("%w: connection %s is %s", ErrInvalidState, conn.ID, conn.State)
	}
	conn.State = ConnStateCompleted
	conn.UpdatedAt = a.stamp()
	if err := a.connections.put(ctx, conn.ID, conn); err != nil {
		return err
	}
	a.log.InfoContext(ctx, "agent.connection.completed", slog.String("connection_id", conn.ID), slog.String("role", conn.Role))
	return nil
}

// connectionForThread finds the connection a DID exchange message belongs
// to: the addressed inbox when present, else the thread. Caller holds a.mu.
func (a *Agent) connectionForThread(ctx context.Context, msg *didcomm.Message, role string) (*ConnectionRecord, error) {
	if id := didcomm.ConnectionIDFromContext(ctx); id != "" {
		conn, err := a.connections.get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: connection %s", didcomm.ErrUnknownThread, id)
		}
		if conn.ThreadID != msg.ThreadID() || conn.Role != role {
			return nil, fmt.Errorf("%w: thread %s does not belong to connection %s", didcomm.ErrUnknownThread, msg.ThreadID(), id)
		}
		return conn, nil
	}
	conn, err := a.connections.find(ctx, func(c *ConnectionRecord) bool {
		return c.ThreadID == msg.ThreadID() && c.Role == role
	})
	if errors.Is(err, ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", didcomm.ErrUnknownThread, msg.ThreadID())
	}
	return conn, err
}

func (a *Agent) abandonConnection(ctx context.Context, conn *ConnectionRecord, cause error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	conn.State = ConnStateAbandoned
	conn.ErrorMessage = cause.Error()
	conn.UpdatedAt = a.stamp()
	if err := a.connections.put(ctx, conn.ID, conn); err != nil {
		return err
	}
	return cause
}

// peerDocument decodes the attached DID document of a peer and returns it
// with its DIDComm endpoint.
func peerDocument(att *didcomm.Attachment, id string) (*did.Document, string, error) {
	if att == nil {
		return nil, "", fmt.Errorf("%w: did_doc~attach is required", didcomm.ErrInvalidMessage)
	}
	var doc did.Document
	if err := att.Decode(&doc); err != nil {
		return nil, "", err
	}
	if err := doc.Validate(); err != nil {
		return nil, "", fmt.Errorf("%w: %v", didcomm.ErrInvalidMessage, err)
	}
	if doc.ID != id {
		return nil, "", fmt.Errorf("%w: attached document is for %s, not %s", didcomm.ErrInvalidMessage, doc.ID, id)
	}
	svc, ok := doc.ServiceByType(did.ServiceDIDCommunication)
	if !ok || svc.ServiceEndpoint == "" {
		return nil, "", fmt.Errorf("%w: peer document has no DIDComm service", didcomm.ErrInvalidMessage)
	}
	return &doc, svc.ServiceEndpoint, nil
}
