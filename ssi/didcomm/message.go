// Package didcomm holds the Aries DIDComm v1 message models the agent speaks
// (out-of-band 1.1, DID exchange 1.1, issue-credential 2.0, present-proof
// 2.0, problem reports) and their plaintext HTTP transport.
package didcomm

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	TypeInvitation   = "https://didcomm.org/out-of-band/1.1/invitation"
	TypeHandshakeRef = "https://didcomm.org/didexchange/1.1"

	TypeDIDExchangeRequest  = "https://didcomm.org/didexchange/1.1/request"
	TypeDIDExchangeResponse = "https://didcomm.org/didexchange/1.1/response"
	TypeDIDExchangeComplete = "https://didcomm.org/didexchange/1.1/complete"

	TypeOfferCredential   = "https://didcomm.org/issue-credential/2.0/offer-credential"
	TypeRequestCredential = "https://didcomm.org/issue-credential/2.0/request-credential"
	TypeIssueCredential   = "https://didcomm.org/issue-credential/2.0/issue-credential"
	TypeCredentialAck     = "https://didcomm.org/issue-credential/2.0/ack"
	TypeCredentialPreview = "https://didcomm.org/issue-credential/2.0/credential-preview"

	TypeRequestPresentation = "https://didcomm.org/present-proof/2.0/request-presentation"
	TypePresentation        = "https://didcomm.org/present-proof/2.0/presentation"
	TypePresentationAck     = "https://didcomm.org/present-proof/2.0/ack"

	TypeProblemReport = "https://didcomm.org/report-problem/1.0/problem-report"
)

// Attachment formats.
const (
	FormatAnonCredsOffer        = "anoncreds/credential-offer@v1.0"
	FormatAnonCredsRequest      = "anoncreds/credential-request@v1.0"
	FormatAnonCredsCredential   = "anoncreds/credential@v1.0"
	FormatAnonCredsProofRequest = "anoncreds/proof-request@v1.0"
	FormatAnonCredsProof        = "anoncreds/proof@v1.0"
	FormatLDProofDetail         = "aries/ld-proof-vc-detail@v1.0"
	FormatLDProofVC             = "aries/ld-proof-vc@v1.0"
)

var (
	ErrInvalidMessage    = errors.New("didcomm: invalid message")
	ErrInvalidInvitation = errors.New("didcomm: invalid invitation")
	// ErrUnknownThread is returned by dispatchers for messages on threads
	// the agent has no record of.
	ErrUnknownThread = errors.New("didcomm: unknown thread")
)

// Thread is the ~thread decorator.
type Thread struct {
	ID  string `json:"thid,omitempty"`
	PID string `json:"pthid,omitempty"`
}

// NewThread returns a thread decorator. PID is dropped when it equals ID.
func NewThread(ID, PID string) *Thread {
	realPID := ""
	if ID != PID {
		realPID = PID
	}
	return &Thread{ID: ID, PID: realPID}
}

// ServiceDecorator is the ~service decorator used to reply to connectionless
// messages.
type ServiceDecorator struct {
	RecipientKeys   []string `json:"recipientKeys"`
	RoutingKeys     []string `json:"routingKeys,omitempty"`
	ServiceEndpoint string   `json:"serviceEndpoint"`
}

// Header is common to every message.
type Header struct {
	ID      string            `json:"@id"`
	Type    string            `json:"@type"`
	Thread  *Thread           `json:"~thread,omitempty"`
	Service *ServiceDecorator `json:"~service,omitempty"`
}

// NewHeader returns a header with a fresh id. thid empty starts a new thread
// rooted at this message.
func NewHeader(typ, thid, pthid string) Header {
	id := uuid.NewString()
	h := Header{ID: id, Type: typ}
	if thid != "" || pthid != "" {
		h.Thread = NewThread(thid, pthid)
	}
	return h
}

// ThreadID returns the thread this message belongs to.
func (h Header) ThreadID() string {
	if h.Thread != nil && h.Thread.ID != "" {
		return h.Thread.ID
	}
	return h.ID
}

// ParentThreadID returns ~thread.pthid.
func (h Header) ParentThreadID() string {
	if h.Thread == nil {
		return ""
	}
	return h.Thread.PID
}

// AttachmentData carries inline attachment content.
type AttachmentData struct {
	Base64 string          `json:"base64,omitempty"`
	JSON   json.RawMessage `json:"json,omitempty"`
}

// Attachment is an Aries RFC 0017 attachment.
type Attachment struct {
	ID       string         `json:"@id"`
	MimeType string         `json:"mime-type,omitempty"`
	Data     AttachmentData `json:"data"`
}

// NewJSONAttachment base64 encodes the JSON form of v.
func NewJSONAttachment(id string, v any) (Attachment, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Attachment{}, fmt.Errorf("encode attachment: %w", err)
	}
	return Attachment{
		ID:       id,
		MimeType: "application/json",
		Data:     AttachmentData{Base64: base64.StdEncoding.EncodeToString(b)},
	}, nil
}

// Decode unmarshals the attachment content into v.
func (a Attachment) Decode(v any) error {
	var raw []byte
	switch {
	case len(a.Data.JSON) > 0:
		raw = a.Data.JSON
	case a.Data.Base64 != "":
		b, err := base64.StdEncoding.DecodeString(a.Data.Base64)
		if err != nil {
			if b, err = base64.RawURLEncoding.DecodeString(a.Data.Base64); err != nil {
				return fmt.Errorf("%w: attachment %s: %v", ErrInvalidMessage, a.ID, err)
			}
		}
		raw = b
	default:
		return fmt.Errorf("%w: attachment %s is empty", ErrInvalidMessage, a.ID)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: attachment %s: %v", ErrInvalidMessage, a.ID, err)
	}
	return nil
}

// Format ties an attachment to its format identifier.
type Format struct {
	AttachID string `json:"attach_id"`
	Format   string `json:"format"`
}

// FindAttachment returns the attachment whose format is f.
func FindAttachment(formats []Format, atts []Attachment, f string) (Attachment, bool) {
	for _, fm := range formats {
		if fm.Format != f {
			continue
		}
		for _, a := range atts {
			if a.ID == fm.AttachID {
				return a, true
			}
		}
	}
	return Attachment{}, false
}

// DIDExchangeRequest starts a DID exchange in reply to an invitation.
type DIDExchangeRequest struct {
	Header
	Label     string      `json:"label"`
	DID       string      `json:"did"`
	DIDDocAtt *Attachment `json:"did_doc~attach,omitempty"`
}

// DIDExchangeResponse answers a request with the inviter's DID.
type DIDExchangeResponse struct {
	Header
	DID       string      `json:"did"`
	DIDDocAtt *Attachment `json:"did_doc~attach,omitempty"`
}

// DIDExchangeComplete closes the exchange.
type DIDExchangeComplete struct {
	Header
}

// PreviewAttribute is one entry of a credential preview.
type PreviewAttribute struct {
	Name     string `json:"name"`
	MimeType string `json:"mime-type,omitempty"`
	Value    string `json:"value"`
}

// CredentialPreview lists offered attribute values.
type CredentialPreview struct {
	Type       string             `json:"@type"`
	Attributes []PreviewAttribute `json:"attributes"`
}

// OfferCredential is issue-credential 2.0 offer-credential.
type OfferCredential struct {
	Header
	Comment string             `json:"comment,omitempty"`
	Preview *CredentialPreview `json:"credential_preview,omitempty"`
	Formats []Format           `json:"formats"`
	Offers  []Attachment       `json:"offers~attach"`
}

// RequestCredential is issue-credential 2.0 request-credential.
type RequestCredential struct {
	Header
	Formats  []Format     `json:"formats"`
	Requests []Attachment `json:"requests~attach"`
}

// IssueCredential is issue-credential 2.0 issue-credential.
type IssueCredential struct {
	Header
	Formats     []Format     `json:"formats"`
	Credentials []Attachment `json:"credentials~attach"`
}

// RequestPresentation is present-proof 2.0 request-presentation.
type RequestPresentation struct {
	Header
	Comment     string       `json:"comment,omitempty"`
	WillConfirm bool         `json:"will_confirm,omitempty"`
	Formats     []Format     `json:"formats"`
	Requests    []Attachment `json:"request_presentations~attach"`
}

// Presentation is present-proof 2.0 presentation.
type Presentation struct {
	Header
	Formats       []Format     `json:"formats"`
	Presentations []Attachment `json:"presentations~attach"`
}

// Ack acknowledges the end of a protocol.
type Ack struct {
	Header
	Status string `json:"status"`
}

// ProblemDescription is the description block of a problem report.
type ProblemDescription struct {
	Code string `json:"code"`
	En   string `json:"en,omitempty"`
}

// ProblemReport reports a protocol failure on a thread.
type ProblemReport struct {
	Header
	Description ProblemDescription `json:"description"`
}

// Message is a received message with its routing fields decoded.
type Message struct {
	Header
	Raw json.RawMessage `json:"-"`
}

// ParseMessage decodes the header of raw.
func ParseMessage(raw []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m.Header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if m.ID == "" || m.Type == "" {
		return nil, fmt.Errorf("%w: @id and @type are required", ErrInvalidMessage)
	}
	m.Raw = append(json.RawMessage(nil), raw...)
	return &m, nil
}

// SetService sets the ~service decorator on both the header and the raw
// message, so later Decode calls see it.
func (m *Message) SetService(s *ServiceDecorator) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(m.Raw, &fields); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	fields["~service"] = b
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	m.Raw = raw
	m.Service = s
	return nil
}

// Decode unmarshals the full message into v.
func (m *Message) Decode(v any) error {
	if err := json.Unmarshal(m.Raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidMessage, m.Type, err)
	}
	return nil
}
