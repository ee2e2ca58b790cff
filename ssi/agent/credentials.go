package agent

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/big"
	"sort"

	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/anoncreds"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/did"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/didcomm"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/vc"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/wallet"
	"github.com/google/uuid"
)

const (
	protocolV2 = "v2"

	CredentialRecordAnonCreds = "anoncreds"
	CredentialRecordW3C       = "w3c"
)

// Credentials runs the issue-credential 2.0 protocol and exposes the
// wallet's credential stores.
type Credentials struct {
	a *Agent
}

// AnonCredsOffer describes an AnonCreds credential to offer.
type AnonCredsOffer struct {
	CredentialDefinitionID string            `json:"credentialDefinitionId"`
	Attributes             map[string]string `json:"attributes"`
}

// StatusOption names a status list entry for a JSON-LD credential.
type StatusOption struct {
	StatusListName string `json:"statusListName"`
	StatusPurpose  string `json:"statusPurpose"`
}

// JSONLDOffer describes a JSON-LD credential to offer.
type JSONLDOffer struct {
	IssuerDID        string         `json:"issuerDid"`
	SubjectDID       string         `json:"subjectDid,omitempty"`
	Type             []string       `json:"type,omitempty"`
	Context          []string       `json:"context,omitempty"`
	Attributes       map[string]any `json:"attributes,omitempty"`
	ExpirationDate   string         `json:"expirationDate,omitempty"`
	CredentialStatus *StatusOption  `json:"credentialStatus,omitempty"`
	// AdditionalData is copied onto the credential as top-level properties.
	AdditionalData map[string]any `json:"additionalData,omitempty"`
}

// OfferOptions selects what to offer. Exactly one of AnonCreds and JSONLD
// is used; AnonCreds wins when both are set.
type OfferOptions struct {
	ConnectionID string
	Comment      string
	AnonCreds    *AnonCredsOffer
	JSONLD       *JSONLDOffer
}

// ldDetail is the aries/ld-proof-vc-detail attachment.
type ldDetail struct {
	Credential vc.Credential `json:"credential"`
	Options    struct {
		ProofType    string `json:"proofType"`
		ProofPurpose string `json:"proofPurpose"`
	} `json:"options"`
}

// OfferCredential sends an offer over a completed connection. The issuer
// side auto-accepts the holder's request.
func (c *Credentials) OfferCredential(ctx context.Context, opts OfferOptions) (*CredentialExchangeRecord, error) {
	a := c.a
	if err := a.ready(); err != nil {
		return nil, err
	}
	if opts.ConnectionID == "" {
		return nil, fmt.Errorf("%w: connection id is required", ErrInvalidOffer)
	}
	if _, err := a.readyConnection(ctx, opts.ConnectionID); err != nil {
		return nil, err
	}
	rec, msg, err := c.newOffer(ctx, opts)
	if err != nil {
		return nil, err
	}
	rec.ConnectionID = opts.ConnectionID
	a.mu.Lock()
	err = a.credentials.put(ctx, rec.ID, rec)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := a.deliver(ctx, rec.ConnectionID, nil, msg); err != nil {
		return nil, a.abandonCredential(ctx, rec, err)
	}
	a.log.InfoContext(ctx, "agent.credential.offered",
		slog.String("record_id", rec.ID),
		slog.String("connection_id", rec.ConnectionID),
		slog.String("format", rec.Format))
	return rec, nil
}

// CreateOffer creates a connectionless offer and the out-of-band invitation
// carrying it.
func (c *Credentials) CreateOffer(ctx context.Context, opts OfferOptions) (*CredentialExchangeRecord, *OutOfBandRecord, error) {
	a := c.a
	if err := a.ready(); err != nil {
		return nil, nil, err
	}
	opts.ConnectionID = ""
	rec, msg, err := c.newOffer(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	a.mu.Lock()
	err = a.credentials.put(ctx, rec.ID, rec)
	a.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}
	oob, err := a.Connections.CreateConnectionlessInvitation(ctx, rec.ID, msg)
	if err != nil {
		return nil, nil, err
	}
	rec.ParentThreadID = oob.OutOfBandInvitation.ID
	a.mu.Lock()
	err = a.credentials.put(ctx, rec.ID, rec)
	a.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}
	return rec, oob, nil
}

func (c *Credentials) newOffer(ctx context.Context, opts OfferOptions) (*CredentialExchangeRecord, *didcomm.OfferCredential, error) {
	a := c.a
	msg := &didcomm.OfferCredential{
		Header:  didcomm.NewHeader(didcomm.TypeOfferCredential, "", ""),
		Comment: opts.Comment,
	}
	now := a.stamp()
	rec := &CredentialExchangeRecord{
		ID:                   uuid.NewString(),
		CreatedAt:            now,
		UpdatedAt:            now,
		ThreadID:             msg.ID,
		State:                CredStateOfferSent,
		Role:                 CredRoleIssuer,
		ProtocolVersion:      protocolV2,
		AutoAcceptCredential: true,
		Credentials:          []CredentialRef{},
		Offer:                msg,
	}

	switch {
	case opts.AnonCreds != nil:
		offer, attrs, err := c.anonCredsOffer(ctx, opts.AnonCreds)
		if err != nil {
			return nil, nil, err
		}
		att, err := didcomm.NewJSONAttachment("anoncreds", offer)
		if err != nil {
			return nil, nil, err
		}
		msg.Preview = &didcomm.CredentialPreview{Type: didcomm.TypeCredentialPreview, Attributes: attrs}
		msg.Formats = []didcomm.Format{{AttachID: att.ID, Format: didcomm.FormatAnonCredsOffer}}
		msg.Offers = []didcomm.Attachment{att}
		rec.Format = FormatAnonCreds
		rec.CredentialAttributes = attrs
	case opts.JSONLD != nil:
		detail, err := c.ldOffer(ctx, opts.JSONLD)
		if err != nil {
			return nil, nil, err
		}
		att, err := didcomm.NewJSONAttachment("ld_proof", detail)
		if err != nil {
			return nil, nil, err
		}
		msg.Formats = []didcomm.Format{{AttachID: att.ID, Format: didcomm.FormatLDProofDetail}}
		msg.Offers = []didcomm.Attachment{att}
		rec.Format = FormatJSONLD
	default:
		return nil, nil, fmt.Errorf("%w: an anoncreds or jsonld credential format must be provided", ErrInvalidOffer)
	}
	return rec, msg, nil
}

func (c *Credentials) anonCredsOffer(ctx context.Context, in *AnonCredsOffer) (*anoncreds.Offer, []didcomm.PreviewAttribute, error) {
	a := c.a
	cdRec, err := a.anoncreds.GetCredentialDefinitionRecord(ctx, in.CredentialDefinitionID)
	if err != nil {
		return nil, nil, err
	}
	if cdRec == nil {
		return nil, nil, fmt.Errorf("%w: credential definition %s was not registered by this agent", ErrInvalidOffer, in.CredentialDefinitionID)
	}
	cd := cdRec.CredentialDefinition
	if len(in.Attributes) != len(cd.Value.Attributes) {
		return nil, nil, fmt.Errorf("%w: expected attributes %v", anoncreds.ErrInvalidAttributes, cd.Value.Attributes)
	}
	for _, name := range cd.Value.Attributes {
		if _, ok := in.Attributes[name]; !ok {
			return nil, nil, fmt.Errorf("%w: missing %q", anoncreds.ErrInvalidAttributes, name)
		}
	}
	nonce, err := newNonce()
	if err != nil {
		return nil, nil, err
	}
	return &anoncreds.Offer{SchemaID: cd.SchemaID, CredDefID: in.CredentialDefinitionID, Nonce: nonce}, previewOf(in.Attributes), nil
}

func (c *Credentials) ldOffer(ctx context.Context, in *JSONLDOffer) (*ldDetail, error) {
	a := c.a
	if _, err := a.DIDs.owned(ctx, in.IssuerDID); err != nil {
		return nil, err
	}
	res, err := a.ledger.ResolveDID(ctx, in.IssuerDID)
	if err != nil {
		return nil, err
	}
	if res.DIDDocument == nil || len(res.DIDDocument.AssertionMethod) == 0 {
		return nil, fmt.Errorf("%w: issuer DID %s does not exist with an assertionMethod", ErrInvalidOffer, in.IssuerDID)
	}
	subject := map[string]any{}
	for k, v := range in.Attributes {
		subject[k] = v
	}
	if in.SubjectDID != "" {
		subject["id"] = in.SubjectDID
	}
	cred := vc.Credential{
		Context:           append([]string(nil), in.Context...),
		Type:              append([]string(nil), in.Type...),
		Issuer:            vc.Issuer{ID: in.IssuerDID},
		ExpirationDate:    in.ExpirationDate,
		CredentialSubject: subject,
		Extra:             maps.Clone(in.AdditionalData),
	}
	if in.CredentialStatus != nil {
		cred.CredentialStatus = &vc.Status{ID: in.CredentialStatus.StatusListName, Type: in.CredentialStatus.StatusPurpose}
	}
	cred.Normalize(a.now())
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	detail := &ldDetail{Credential: cred}
	detail.Options.ProofType = vc.ProofTypeEd25519Signature2018
	detail.Options.ProofPurpose = vc.ProofPurposeAssertion
	return detail, nil
}

// handleOffer records a received offer. invitationID is set for offers
// delivered inside an out-of-band invitation.
func (a *Agent) handleOffer(ctx context.Context, msg *didcomm.Message, invitationID string) (*CredentialExchangeRecord, error) {
	var offer didcomm.OfferCredential
	if err := msg.Decode(&offer); err != nil {
		return nil, err
	}
	connID := didcomm.ConnectionIDFromContext(ctx)
	if connID == "" && offer.Service == nil {
		return nil, fmt.Errorf("%w: connectionless offer without ~service", didcomm.ErrInvalidMessage)
	}
	format, err := offerFormat(&offer)
	if err != nil {
		return nil, err
	}
	now := a.stamp()
	rec := &CredentialExchangeRecord{
		ID:              uuid.NewString(),
		CreatedAt:       now,
		UpdatedAt:       now,
		ConnectionID:    connID,
		ThreadID:        offer.ThreadID(),
		ParentThreadID:  invitationID,
		State:           CredStateOfferReceived,
		Role:            CredRoleHolder,
		ProtocolVersion: protocolV2,
		Format:          format,
		Credentials:     []CredentialRef{},
		Offer:           &offer,
	}
	if connID == "" {
		rec.ReplyTo = offer.Service
	}
	if offer.Preview != nil {
		rec.CredentialAttributes = offer.Preview.Attributes
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if connID != "" {
		if _, err := a.readyConnection(ctx, connID); err != nil {
			return nil, err
		}
	}
	if err := a.credentials.put(ctx, rec.ID, rec); err != nil {
		return nil, err
	}
	a.log.InfoContext(ctx, "agent.credential.offer_received", slog.String("record_id", rec.ID), slog.String("format", format))
	return rec, nil
}

// AcceptOffer answers a received offer with a credential request.
func (c *Credentials) AcceptOffer(ctx context.Context, recordID string) (*CredentialExchangeRecord, error) {
	a := c.a
	if err := a.ready(); err != nil {
		return nil, err
	}
	rec, err := c.expect(ctx, recordID, CredRoleHolder, CredStateOfferReceived)
	if err != nil {
		return nil, err
	}

	req := &didcomm.RequestCredential{
		Header: didcomm.NewHeader(didcomm.TypeRequestCredential, rec.ThreadID, rec.ParentThreadID),
	}
	switch rec.Format {
	case FormatAnonCreds:
		att, ok := didcomm.FindAttachment(rec.Offer.Formats, rec.Offer.Offers, didcomm.FormatAnonCredsOffer)
		if !ok {
			return nil, fmt.Errorf("%w: offer lacks its anoncreds attachment", ErrInvalidOffer)
		}
		var offer anoncreds.Offer
		if err := att.Decode(&offer); err != nil {
			return nil, err
		}
		if _, err := a.anoncreds.GetCredentialDefinition(ctx, offer.CredDefID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOffer, err)
		}
		nonce, err := newNonce()
		if err != nil {
			return nil, err
		}
		request := anoncreds.Request{CredDefID: offer.CredDefID, Nonce: nonce}
		if rec.ConnectionID != "" {
			if conn, err := a.connections.get(ctx, rec.ConnectionID); err == nil {
				request.ProverDID = conn.DID
			}
		}
		reqAtt, err := didcomm.NewJSONAttachment("anoncreds", request)
		if err != nil {
			return nil, err
		}
		req.Formats = []didcomm.Format{{AttachID: reqAtt.ID, Format: didcomm.FormatAnonCredsRequest}}
		req.Requests = []didcomm.Attachment{reqAtt}
	case FormatJSONLD:
		att, ok := didcomm.FindAttachment(rec.Offer.Formats, rec.Offer.Offers, didcomm.FormatLDProofDetail)
		if !ok {
			return nil, fmt.Errorf("%w: offer lacks its ld-proof attachment", ErrInvalidOffer)
		}
		req.Formats = []didcomm.Format{{AttachID: att.ID, Format: didcomm.FormatLDProofDetail}}
		req.Requests = []didcomm.Attachment{att}
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalidOffer, rec.Format)
	}
	if rec.ConnectionID == "" {
		if req.Service, err = a.replyService(ctx); err != nil {
			return nil, err
		}
	}

	if err := c.transition(ctx, rec, CredStateRequestSent); err != nil {
		return nil, err
	}
	if err := a.deliver(ctx, rec.ConnectionID, rec.ReplyTo, req); err != nil {
		return nil, a.abandonCredential(ctx, rec, err)
	}
	return rec, nil
}

func (a *Agent) handleCredentialRequest(ctx context.Context, msg *didcomm.Message) error {
	var req didcomm.RequestCredential
	if err := msg.Decode(&req); err != nil {
		return err
	}
	a.mu.Lock()
	rec, err := a.credentialForThread(ctx, msg.ThreadID(), CredRoleIssuer, CredStateOfferSent)
	if err == nil && rec.ConnectionID == "" {
		if req.Service == nil {
			err = fmt.Errorf("%w: connectionless request without ~service", didcomm.ErrInvalidMessage)
		} else {
			rec.ReplyTo = req.Service
			err = a.markInvitationDone(ctx, rec.ID)
		}
	}
	if err == nil {
		err = checkRequest(rec, &req)
	}
	if err == nil {
		rec.State = CredStateRequestReceived
		rec.UpdatedAt = a.stamp()
		err = a.credentials.put(ctx, rec.ID, rec)
	}
	a.mu.Unlock()
	if err != nil {
		return err
	}
	a.log.InfoContext(ctx, "agent.credential.request_received", slog.String("record_id", rec.ID))

	if rec.AutoAcceptCredential {
		a.spawn("agent.credential.issue", func(ctx context.Context) error {
			_, err := a.Credentials.AcceptRequest(ctx, rec.ID)
			return err
		})
	}
	return nil
}

// checkRequest matches a credential request against the offer it answers.
func checkRequest(rec *CredentialExchangeRecord, req *didcomm.RequestCredential) error {
	switch rec.Format {
	case FormatAnonCreds:
		att, ok := didcomm.FindAttachment(req.Formats, req.Requests, didcomm.FormatAnonCredsRequest)
		if !ok {
			return fmt.Errorf("%w: request lacks its anoncreds attachment", didcomm.ErrInvalidMessage)
		}
		var request anoncreds.Request
		if err := att.Decode(&request); err != nil {
			return err
		}
		offerAtt, _ := didcomm.FindAttachment(rec.Offer.Formats, rec.Offer.Offers, didcomm.FormatAnonCredsOffer)
		var offer anoncreds.Offer
		if err := offerAtt.Decode(&offer); err != nil {
			return err
		}
		if request.CredDefID != offer.CredDefID {
			return fmt.Errorf("%w: request is for %s, offer was %s", didcomm.ErrInvalidMessage, request.CredDefID, offer.CredDefID)
		}
	case FormatJSONLD:
		if _, ok := didcomm.FindAttachment(req.Formats, req.Requests, didcomm.FormatLDProofDetail); !ok {
			return fmt.Errorf("%w: request lacks its ld-proof attachment", didcomm.ErrInvalidMessage)
		}
	}
	return nil
}

// AcceptRequest issues the credential for a received request.
func (c *Credentials) AcceptRequest(ctx context.Context, recordID string) (*CredentialExchangeRecord, error) {
	a := c.a
	if err := a.ready(); err != nil {
		return nil, err
	}
	rec, err := c.expect(ctx, recordID, CredRoleIssuer, CredStateRequestReceived)
	if err != nil {
		return nil, err
	}

	var att didcomm.Attachment
	var format string
	switch rec.Format {
	case FormatAnonCreds:
		cred, err := c.issueAnonCreds(ctx, rec)
		if err != nil {
			return nil, a.abandonCredential(ctx, rec, err)
		}
		att, err = didcomm.NewJSONAttachment("anoncreds", cred)
		if err != nil {
			return nil, err
		}
		format = didcomm.FormatAnonCredsCredential
	case FormatJSONLD:
		cred, err := c.issueLD(ctx, rec)
		if err != nil {
			return nil, a.abandonCredential(ctx, rec, err)
		}
		att, err = didcomm.NewJSONAttachment("ld_proof", cred)
		if err != nil {
			return nil, err
		}
		format = didcomm.FormatLDProofVC
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalidOffer, rec.Format)
	}
	issue := &didcomm.IssueCredential{
		Header:      didcomm.NewHeader(didcomm.TypeIssueCredential, rec.ThreadID, rec.ParentThreadID),
		Formats:     []didcomm.Format{{AttachID: att.ID, Format: format}},
		Credentials: []didcomm.Attachment{att},
	}

	if err := c.transition(ctx, rec, CredStateCredentialIssued); err != nil {
		return nil, err
	}
	if err := a.deliver(ctx, rec.ConnectionID, rec.ReplyTo, issue); err != nil {
		return nil, a.abandonCredential(ctx, rec, err)
	}
	a.log.InfoContext(ctx, "agent.credential.issued", slog.String("record_id", rec.ID), slog.String("format", rec.Format))
	return rec, nil
}

func (c *Credentials) issueAnonCreds(ctx context.Context, rec *CredentialExchangeRecord) (*anoncreds.Credential, error) {
	a := c.a
	att, ok := didcomm.FindAttachment(rec.Offer.Formats, rec.Offer.Offers, didcomm.FormatAnonCredsOffer)
	if !ok {
		return nil, fmt.Errorf("%w: offer lacks its anoncreds attachment", ErrInvalidOffer)
	}
	var offer anoncreds.Offer
	if err := att.Decode(&offer); err != nil {
		return nil, err
	}
	cdRec, err := a.anoncreds.GetCredentialDefinitionRecord(ctx, offer.CredDefID)
	if err != nil {
		return nil, err
	}
	if cdRec == nil {
		return nil, fmt.Errorf("%w: %s", anoncreds.ErrCredDefNotFound, offer.CredDefID)
	}
	priv, err := c.issuerKey(ctx, cdRec.CredentialDefinition.IssuerID)
	if err != nil {
		return nil, err
	}
	attrs := make(map[string]string, len(rec.CredentialAttributes))
	for _, pa := range rec.CredentialAttributes {
		attrs[pa.Name] = pa.Value
	}
	return anoncreds.Issue(&cdRec.CredentialDefinition, offer.CredDefID, attrs, priv)
}

func (c *Credentials) issueLD(ctx context.Context, rec *CredentialExchangeRecord) (*vc.Credential, error) {
	att, ok := didcomm.FindAttachment(rec.Offer.Formats, rec.Offer.Offers, didcomm.FormatLDProofDetail)
	if !ok {
		return nil, fmt.Errorf("%w: offer lacks its ld-proof attachment", ErrInvalidOffer)
	}
	var detail ldDetail
	if err := att.Decode(&detail); err != nil {
		return nil, err
	}
	cred := detail.Credential
	priv, err := c.issuerKey(ctx, cred.Issuer.ID)
	if err != nil {
		return nil, err
	}
	if err := vc.SignLD(&cred, cred.Issuer.ID+"#"+did.DefaultKeyFragment, priv, c.a.now()); err != nil {
		return nil, err
	}
	return &cred, nil
}

func (c *Credentials) issuerKey(ctx context.Context, issuer string) (ed25519.PrivateKey, error) {
	owned, err := c.a.DIDs.owned(ctx, issuer)
	if err != nil {
		return nil, err
	}
	return c.a.wallet.Signer(ctx, owned.Kid)
}

func (a *Agent) handleIssue(ctx context.Context, msg *didcomm.Message) error {
	var issue didcomm.IssueCredential
	if err := msg.Decode(&issue); err != nil {
		return err
	}
	a.mu.Lock()
	rec, err := a.credentialForThread(ctx, msg.ThreadID(), CredRoleHolder, CredStateRequestSent)
	a.mu.Unlock()
	if err != nil {
		return err
	}

	ref, cause := a.storeIssued(ctx, rec, &issue)
	if cause != nil {
		a.log.WarnContext(ctx, "agent.credential.rejected", slog.String("record_id", rec.ID), slog.String("err", cause.Error()))
		_ = a.abandonCredential(ctx, rec, cause)
		a.spawn("agent.credential.problem_report", func(ctx context.Context) error {
			a.sendProblem(ctx, rec.ConnectionID, rec.ReplyTo, rec.ThreadID, "issuance-abandoned", cause)
			return nil
		})
		return nil
	}

	a.mu.Lock()
	rec.Credentials = append(rec.Credentials, *ref)
	rec.State = CredStateCredentialReceived
	rec.UpdatedAt = a.stamp()
	err = a.credentials.put(ctx, rec.ID, rec)
	a.mu.Unlock()
	if err != nil {
		return err
	}
	a.log.InfoContext(ctx, "agent.credential.received",
		slog.String("record_id", rec.ID),
		slog.String("credential_type", ref.CredentialRecordType),
		slog.String("credential_id", ref.CredentialRecordID))

	a.spawn("agent.credential.ack", func(ctx context.Context) error {
		ack := &didcomm.Ack{
			Header: didcomm.NewHeader(didcomm.TypeCredentialAck, rec.ThreadID, rec.ParentThreadID),
			Status: "OK",
		}
		if err := a.deliver(ctx, rec.ConnectionID, rec.ReplyTo, ack); err != nil {
			return err
		}
		return a.Credentials.transition(ctx, rec, CredStateDone)
	})
	return nil
}

// storeIssued verifies the issued credential and stores it in the wallet.
func (a *Agent) storeIssued(ctx context.Context, rec *CredentialExchangeRecord, issue *didcomm.IssueCredential) (*CredentialRef, error) {
	switch rec.Format {
	case FormatAnonCreds:
		att, ok := didcomm.FindAttachment(issue.Formats, issue.Credentials, didcomm.FormatAnonCredsCredential)
		if !ok {
			return nil, fmt.Errorf("%w: credential lacks its anoncreds attachment", didcomm.ErrInvalidMessage)
		}
		var cred anoncreds.Credential
		if err := att.Decode(&cred); err != nil {
			return nil, err
		}
		if err := a.anoncreds.VerifyCredential(ctx, &cred); err != nil {
			return nil, err
		}
		raw, err := json.Marshal(cred)
		if err != nil {
			return nil, err
		}
		stored, err := a.wallet.StoreAnonCreds(ctx, wallet.AnonCredsRecord{
			SchemaID:   cred.SchemaID,
			CredDefID:  cred.CredDefID,
			Values:     cred.Attributes(),
			Credential: raw,
		})
		if err != nil {
			return nil, err
		}
		return &CredentialRef{CredentialRecordType: CredentialRecordAnonCreds, CredentialRecordID: stored.ID}, nil
	case FormatJSONLD:
		att, ok := didcomm.FindAttachment(issue.Formats, issue.Credentials, didcomm.FormatLDProofVC)
		if !ok {
			return nil, fmt.Errorf("%w: credential lacks its ld-proof attachment", didcomm.ErrInvalidMessage)
		}
		var cred vc.Credential
		if err := att.Decode(&cred); err != nil {
			return nil, err
		}
		if err := vc.VerifyLD(ctx, &cred, a.ledger); err != nil {
			return nil, err
		}
		stored, err := a.storeW3C(ctx, &cred, vc.FormatLDJSON, "")
		if err != nil {
			return nil, err
		}
		return &CredentialRef{CredentialRecordType: CredentialRecordW3C, CredentialRecordID: stored.ID}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalidOffer, rec.Format)
	}
}

func (a *Agent) handleCredentialAck(ctx context.Context, msg *didcomm.Message) error {
	a.mu.Lock()
	rec, err := a.credentialForThread(ctx, msg.ThreadID(), CredRoleIssuer, CredStateCredentialIssued)
	a.mu.Unlock()
	if err != nil {
		return err
	}
	if err := a.Credentials.transition(ctx, rec, CredStateDone); err != nil {
		return err
	}
	a.log.InfoContext(ctx, "agent.credential.done", slog.String("record_id", rec.ID))
	return nil
}

// credentialForThread loads the record of role on thread thid and checks
// that it is in state. Caller holds a.mu.
func (a *Agent) credentialForThread(ctx context.Context, thid, role, state string) (*CredentialExchangeRecord, error) {
	rec, err := a.credentials.find(ctx, func(r *CredentialExchangeRecord) bool {
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
		return nil, fmt.Errorf("%w: credential record %s is %s, expected %s", ErrInvalidState, rec.ID, rec.State, state)
	}
	return rec, nil
}

// expect loads a record and checks its role and state.
func (c *Credentials) expect(ctx context.Context, id, role, state string) (*CredentialExchangeRecord, error) {
	c.a.mu.Lock()
	defer c.a.mu.Unlock()
	rec, err := c.a.credentials.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Role != role || rec.State != state {
		return nil, fmt.Errorf("%w: credential record %s is %s %s, expected %s %s", ErrInvalidState, rec.ID, rec.Role, rec.State, role, state)
	}
	return rec, nil
}

func (c *Credentials) transition(ctx context.Context, rec *CredentialExchangeRecord, state string) error {
	c.a.mu.Lock()
	defer c.a.mu.Unlock()
	rec.State = state
	rec.UpdatedAt = c.a.stamp()
	return c.a.credentials.put(ctx, rec.ID, rec)
}

func (a *Agent) abandonCredential(ctx context.Context, rec *CredentialExchangeRecord, cause error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec.State = CredStateAbandoned
	rec.ErrorMessage = cause.Error()
	rec.UpdatedAt = a.stamp()
	if err := a.credentials.put(ctx, rec.ID, rec); err != nil {
		return err
	}
	return cause
}

// List returns every credential exchange record.
func (c *Credentials) List(ctx context.Context) ([]*CredentialExchangeRecord, error) {
	if err := c.a.ready(); err != nil {
		return nil, err
	}
	return c.a.credentials.list(ctx)
}

// Get returns the credential exchange record id.
func (c *Credentials) Get(ctx context.Context, id string) (*CredentialExchangeRecord, error) {
	if err := c.a.ready(); err != nil {
		return nil, err
	}
	return c.a.credentials.get(ctx, id)
}

// GetRecord looks id up in the exchange records, then the W3C store, then
// the AnonCreds store.
func (c *Credentials) GetRecord(ctx context.Context, id string) (any, error) {
	if rec, err := c.Get(ctx, id); err == nil {
		return rec, nil
	} else if !errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}
	if rec, err := c.a.wallet.GetW3C(ctx, id); err == nil {
		return rec, nil
	}
	if rec, err := c.a.wallet.GetAnonCreds(ctx, id); err == nil {
		return rec, nil
	}
	return nil, fmt.Errorf("%w: credential with ID %s not found in any credential store", ErrRecordNotFound, id)
}

// ListW3C returns the W3C credentials held in the wallet.
func (c *Credentials) ListW3C(ctx context.Context) ([]wallet.W3CRecord, error) {
	if err := c.a.ready(); err != nil {
		return nil, err
	}
	return c.a.wallet.ListW3C(ctx)
}

// GetW3C returns the W3C credential id.
func (c *Credentials) GetW3C(ctx context.Context, id string) (*wallet.W3CRecord, error) {
	if err := c.a.ready(); err != nil {
		return nil, err
	}
	return c.a.wallet.GetW3C(ctx, id)
}

// ListAnonCreds returns the AnonCreds credentials held in the wallet.
func (c *Credentials) ListAnonCreds(ctx context.Context) ([]wallet.AnonCredsRecord, error) {
	if err := c.a.ready(); err != nil {
		return nil, err
	}
	return c.a.wallet.ListAnonCreds(ctx)
}

// ImportJWT stores a JWT credential supplied by the user. The signature is
// not verified.
func (c *Credentials) ImportJWT(ctx context.Context, token string) (*wallet.W3CRecord, error) {
	if err := c.a.ready(); err != nil {
		return nil, err
	}
	cred, err := vc.DecodeJWT(token)
	if err != nil {
		return nil, err
	}
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	return c.a.storeW3C(ctx, cred, vc.FormatJWT, token)
}

func (a *Agent) storeW3C(ctx context.Context, cred *vc.Credential, format, encoded string) (*wallet.W3CRecord, error) {
	raw, err := json.Marshal(cred)
	if err != nil {
		return nil, err
	}
	return a.wallet.StoreW3C(ctx, wallet.W3CRecord{
		Format:     format,
		Encoded:    encoded,
		Credential: raw,
		Types:      cred.Type,
		Issuer:     cred.Issuer.ID,
		Subject:    cred.SubjectID(),
	})
}

func offerFormat(offer *didcomm.OfferCredential) (string, error) {
	for _, f := range offer.Formats {
		switch f.Format {
		case didcomm.FormatAnonCredsOffer:
			return FormatAnonCreds, nil
		case didcomm.FormatLDProofDetail:
			return FormatJSONLD, nil
		}
	}
	return "", fmt.Errorf("%w: offer has no supported format", didcomm.ErrInvalidMessage)
}

func previewOf(attrs map[string]string) []didcomm.PreviewAttribute {
	names := make([]string, 0, len(attrs))
	for k := range attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]didcomm.PreviewAttribute, 0, len(names))
	for _, n := range names {
		out = append(out, didcomm.PreviewAttribute{Name: n, Value: attrs[n]})
	}
	return out
}

var nonceMax = new(big.Int).Lsh(big.NewInt(1), 80)

// newNonce returns an 80-bit decimal nonce.
func newNonce() (string, error) {
	n, err := rand.Int(rand.Reader, nonceMax)
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return n.String(), nil
}
