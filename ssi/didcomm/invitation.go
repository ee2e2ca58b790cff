package didcomm

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Service is an inline DIDComm service block.
type Service struct {
	ID              string   `json:"id"`
	Type            string   `json:"type"`
	RecipientKeys   []string `json:"recipientKeys"`
	RoutingKeys     []string `json:"routingKeys,omitempty"`
	ServiceEndpoint string   `json:"serviceEndpoint"`
}

// Invitation is an out-of-band 1.1 invitation.
type Invitation struct {
	Header
	Label              string       `json:"label,omitempty"`
	GoalCode           string       `json:"goal_code,omitempty"`
	Goal               string       `json:"goal,omitempty"`
	Accept             []string     `json:"accept,omitempty"`
	HandshakeProtocols []string     `json:"handshake_protocols,omitempty"`
	Services           []Service    `json:"services"`
	Requests           []Attachment `json:"requests~attach,omitempty"`
}

// legacyInvitation is the connections/1.0 invitation still carried in c_i
// URLs by older agents.
type legacyInvitation struct {
	ID              string   `json:"@id"`
	Type            string   `json:"@type"`
	Label           string   `json:"label"`
	RecipientKeys   []string `json:"recipientKeys"`
	RoutingKeys     []string `json:"routingKeys"`
	ServiceEndpoint string   `json:"serviceEndpoint"`
}

// Validate checks that the invitation can be acted upon.
func (inv *Invitation) Validate() error {
	if inv.ID == "" {
		return fmt.Errorf("%w: missing @id", ErrInvalidInvitation)
	}
	if len(inv.Services) == 0 {
		return fmt.Errorf("%w: no services", ErrInvalidInvitation)
	}
	for _, s := range inv.Services {
		if s.ServiceEndpoint == "" || len(s.RecipientKeys) == 0 {
			return fmt.Errorf("%w: service %q lacks an endpoint or recipient keys", ErrInvalidInvitation, s.ID)
		}
	}
	if len(inv.HandshakeProtocols) == 0 && len(inv.Requests) == 0 {
		return fmt.Errorf("%w: neither handshake protocols nor attached requests", ErrInvalidInvitation)
	}
	return nil
}

// URL renders the invitation as <endpoint>?oob=<base64url(json)>.
func (inv *Invitation) URL(endpoint string) (string, error) {
	b, err := json.Marshal(inv)
	if err != nil {
		return "", fmt.Errorf("encode invitation: %w", err)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invitation endpoint: %w", err)
	}
	q := u.Query()
	q.Set("oob", base64.RawURLEncoding.EncodeToString(b))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseInvitationURL decodes an invitation URL carrying an oob or legacy c_i
// parameter. Legacy invitations are lifted to out-of-band form.
func ParseInvitationURL(raw string) (*Invitation, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInvitation, err)
	}
	q := u.Query()
	if p := q.Get("oob"); p != "" {
		var inv Invitation
		if err := decodeParam(p, &inv); err != nil {
			return nil, err
		}
		if err := inv.Validate(); err != nil {
			return nil, err
		}
		return &inv, nil
	}
	if p := q.Get("c_i"); p != "" {
		var legacy legacyInvitation
		if err := decodeParam(p, &legacy); err != nil {
			return nil, err
		}
		inv := &Invitation{
			Header:             Header{ID: legacy.ID, Type: TypeInvitation},
			Label:              legacy.Label,
			HandshakeProtocols: []string{TypeHandshakeRef},
			Services: []Service{{
				ID:              "#inline",
				Type:            "did-communication",
				RecipientKeys:   legacy.RecipientKeys,
				RoutingKeys:     legacy.RoutingKeys,
				ServiceEndpoint: legacy.ServiceEndpoint,
			}},
		}
		if err := inv.Validate(); err != nil {
			return nil, err
		}
		return inv, nil
	}
	return nil, fmt.Errorf("%w: URL has neither oob nor c_i parameter", ErrInvalidInvitation)
}

// Both padded and unpadded, standard and URL alphabets occur in the wild.
func decodeParam(p string, v any) error {
	p = strings.TrimRight(p, "=")
	b, err := base64.RawURLEncoding.DecodeString(p)
	if err != nil {
		if b, err = base64.RawStdEncoding.DecodeString(p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInvitation, err)
		}
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInvitation, err)
	}
	return nil
}
