package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/anoncreds"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/didcomm"
	"github.com/ggoodman/cheqd-mcp-toolkit/storage"
)

const (
	nsOutOfBand   = "agent-oob"
	nsConnections = "agent-connections"
	nsCredentials = "agent-credentials"
	nsProofs      = "agent-proofs"
)

// Out-of-band record states and roles.
const (
	OOBStateInitial         = "initial"
	OOBStateAwaitResponse   = "await-response"
	OOBStatePrepareResponse = "prepare-response"
	OOBStateDone            = "done"
	OOBStateAbandoned       = "abandoned"

	OOBRoleSender   = "sender"
	OOBRoleReceiver = "receiver"
)

// DID exchange states and roles.
const (
	ConnStateInvitationSent   = "invitation-sent"
	ConnStateRequestSent      = "request-sent"
	ConnStateRequestReceived  = "request-received"
	ConnStateResponseSent     = "response-sent"
	ConnStateResponseReceived = "response-received"
	ConnStateCompleted        = "completed"
	ConnStateAbandoned        = "abandoned"

	ConnRoleRequester = "requester"
	ConnRoleResponder = "responder"
)

// Issue credential states and roles.
const (
	CredStateOfferSent          = "offer-sent"
	CredStateOfferReceived      = "offer-received"
	CredStateRequestSent        = "request-sent"
	CredStateRequestReceived    = "request-received"
	CredStateCredentialIssued   = "credential-issued"
	CredStateCredentialReceived = "credential-received"
	CredStateDone               = "done"
	CredStateAbandoned          = "abandoned"

	CredRoleIssuer = "issuer"
	CredRoleHolder = "holder"
)

// Present proof states and roles.
const (
	ProofStateRequestSent          = "request-sent"
	ProofStateRequestReceived      = "request-received"
	ProofStatePresentationSent     = "presentation-sent"
	ProofStatePresentationReceived = "presentation-received"
	ProofStateDone                 = "done"
	ProofStateAbandoned            = "abandoned"

	ProofRoleVerifier = "verifier"
	ProofRoleProver   = "prover"
)

// Credential formats.
const (
	FormatAnonCreds = "anoncreds"
	FormatJSONLD    = "jsonld"
)

var (
	ErrNotStarted         = errors.New("agent: not started")
	ErrRecordNotFound     = errors.New("agent: record not found")
	ErrInvalidState       = errors.New("agent: record is not in a state that allows this")
	ErrConnectionNotReady = errors.New("agent: connection is not completed")
	ErrNotOwned           = errors.New("agent: DID is not controlled by this agent")
	ErrInvalidOffer       = errors.New("agent: invalid credential offer")
)

// OutOfBandRecord tracks an out-of-band invitation, sent or received.
type OutOfBandRecord struct {
	ID                   string              `json:"id"`
	CreatedAt            time.Time           `json:"createdAt"`
	UpdatedAt            time.Time           `json:"updatedAt"`
	Role                 string              `json:"role"`
	State                string              `json:"state"`
	OutOfBandInvitation  *didcomm.Invitation `json:"outOfBandInvitation"`
	InvitationURL        string              `json:"invitationUrl,omitempty"`
	AutoAcceptConnection bool                `json:"autoAcceptConnection"`
	ReusableConnection   bool                `json:"reusableConnection"`
	RecipientKid         string              `json:"recipientKid,omitempty"`
	AssociatedRecordID   string              `json:"associatedRecordId,omitempty"`
}

// ConnectionRecord is a DID exchange connection.
type ConnectionRecord struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	State         string    `json:"state"`
	Role          string    `json:"role"`
	DID           string    `json:"did"`
	TheirDID      string    `json:"theirDid,omitempty"`
	TheirLabel    string    `json:"theirLabel,omitempty"`
	TheirEndpoint string    `json:"theirEndpoint,omitempty"`
	OutOfBandID   string    `json:"outOfBandId,omitempty"`
	ThreadID      string    `json:"threadId,omitempty"`
	Kid           string    `json:"kid,omitempty"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
}

// IsReady reports whether messages can be exchanged on the connection.
func (c *ConnectionRecord) IsReady() bool {
	return c.State == ConnStateCompleted && c.TheirEndpoint != ""
}

// CredentialRef points at a credential stored in the wallet.
type CredentialRef struct {
	CredentialRecordType string `json:"credentialRecordType"`
	CredentialRecordID   string `json:"credentialRecordId"`
}

// CredentialExchangeRecord tracks an issue-credential 2.0 exchange.
type CredentialExchangeRecord struct {
	ID                   string                     `json:"id"`
	CreatedAt            time.Time                  `json:"createdAt"`
	UpdatedAt            time.Time                  `json:"updatedAt"`
	ConnectionID         string                     `json:"connectionId,omitempty"`
	ThreadID             string                     `json:"threadId"`
	ParentThreadID       string                     `json:"parentThreadId,omitempty"`
	State                string                     `json:"state"`
	Role                 string                     `json:"role"`
	ProtocolVersion      string                     `json:"protocolVersion"`
	AutoAcceptCredential bool                       `json:"autoAcceptCredential"`
	Format               string                     `json:"format"`
	CredentialAttributes []didcomm.PreviewAttribute `json:"credentialAttributes,omitempty"`
	Credentials          []CredentialRef            `json:"credentials"`
	ErrorMessage         string                     `json:"errorMessage,omitempty"`

	// Offer is the issuer's offer as sent; the holder keeps the received one.
	Offer *didcomm.OfferCredential `json:"offer,omitempty"`
	// ReplyTo is the connectionless peer endpoint.
	ReplyTo *didcomm.ServiceDecorator `json:"replyTo,omitempty"`
}

// ProofExchangeRecord tracks a present-proof 2.0 exchange.
type ProofExchangeRecord struct {
	ID              string                    `json:"id"`
	CreatedAt       time.Time                 `json:"createdAt"`
	UpdatedAt       time.Time                 `json:"updatedAt"`
	ConnectionID    string                    `json:"connectionId,omitempty"`
	ThreadID        string                    `json:"threadId"`
	ParentThreadID  string                    `json:"parentThreadId,omitempty"`
	State           string                    `json:"state"`
	Role            string                    `json:"role"`
	ProtocolVersion string                    `json:"protocolVersion"`
	AutoAcceptProof bool                      `json:"autoAcceptProof"`
	IsVerified      *bool                     `json:"isVerified,omitempty"`
	ErrorMessage    string                    `json:"errorMessage,omitempty"`
	Request         *anoncreds.ProofRequest   `json:"proofRequest,omitempty"`
	Presentation    *anoncreds.Presentation   `json:"presentation,omitempty"`
	ReplyTo         *didcomm.ServiceDecorator `json:"replyTo,omitempty"`
}

// records is a typed view over one storage namespace.
type records[T any] struct {
	store storage.Storage
	ns    string
}

func (r records[T]) put(ctx context.Context, id string, v *T) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", r.ns, err)
	}
	if err := r.store.Set(ctx, r.ns, id, b); err != nil {
		return fmt.Errorf("store %s record: %w", r.ns, err)
	}
	return nil
}

func (r records[T]) decode(b []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", r.ns, err)
	}
	return &v, nil
}

func (r records[T]) get(ctx context.Context, id string) (*T, error) {
	item, err := r.store.Get(ctx, r.ns, id)
	if err != nil {
		return nil, fmt.Errorf("load %s record: %w", r.ns, err)
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return r.decode(item.Data)
}

func (r records[T]) list(ctx context.Context) ([]*T, error) {
	items, err := r.store.List(ctx, r.ns)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.ns, err)
	}
	out := make([]*T, 0, len(items))
	for _, it := range items {
		v, err := r.decode(it.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// find returns the first record matching pred, or ErrRecordNotFound.
func (r records[T]) find(ctx context.Context, pred func(*T) bool) (*T, error) {
	all, err := r.list(ctx)
	if err != nil {
		return nil, err
	}
	for _, v := range all {
		if pred(v) {
			return v, nil
		}
	}
	return nil, ErrRecordNotFound
}
