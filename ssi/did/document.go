package did

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"github.com/mr-tron/base58"
)

const (
	ContextDIDv1       = "https://www.w3.org/ns/did/v1"
	ContextEd25519     = "https://w3id.org/security/suites/ed25519-2020/v1"
	ContextJWS2020     = "https://w3id.org/security/suites/jws-2020/v1"
	TypeEd25519Key2020 = "Ed25519VerificationKey2020"
	TypeEd25519Key2018 = "Ed25519VerificationKey2018"
	TypeJSONWebKey2020 = "JsonWebKey2020"

	// ServiceDIDCommunication is the DIDComm v1 service type.
	ServiceDIDCommunication = "did-communication"

	DefaultKeyFragment = "key-1"
)

// ErrKeyNotFound is returned when a document lacks the requested key.
var ErrKeyNotFound = errors.New("verification method not found")

// Document is a DID document.
type Document struct {
	Context            []string             `json:"@context"`
	ID                 string               `json:"id"`
	Controller         []string             `json:"controller,omitempty"`
	VerificationMethod []VerificationMethod `json:"verificationMethod,omitempty"`
	Authentication     []string             `json:"authentication,omitempty"`
	AssertionMethod    []string             `json:"assertionMethod,omitempty"`
	Service            []Service            `json:"service,omitempty"`
}

// VerificationMethod is one public key entry of a Document.
type VerificationMethod struct {
	ID                 string           `json:"id"`
	Type               string           `json:"type"`
	Controller         string           `json:"controller"`
	PublicKeyMultibase string           `json:"publicKeyMultibase,omitempty"`
	PublicKeyBase58    string           `json:"publicKeyBase58,omitempty"`
	PublicKeyJWK       *jose.JSONWebKey `json:"publicKeyJwk,omitempty"`
}

// Service is a DID document service endpoint.
type Service struct {
	ID              string   `json:"id"`
	Type            string   `json:"type"`
	ServiceEndpoint string   `json:"serviceEndpoint"`
	RecipientKeys   []string `json:"recipientKeys,omitempty"`
	RoutingKeys     []string `json:"routingKeys,omitempty"`
	Priority        int      `json:"priority,omitempty"`
}

// NewDocument builds the canonical single-key document for id, with the key
// referenced from authentication and assertionMethod.
func NewDocument(id string, pub ed25519.PublicKey) (*Document, error) {
	mb, err := EncodePublicKeyMultibase(pub)
	if err != nil {
		return nil, err
	}
	kid := id + "#" + DefaultKeyFragment
	return &Document{
		Context:    []string{ContextDIDv1, ContextEd25519},
		ID:         id,
		Controller: []string{id},
		VerificationMethod: []VerificationMethod{{
			ID:                 kid,
			Type:               TypeEd25519Key2020,
			Controller:         id,
			PublicKeyMultibase: mb,
		}},
		Authentication:  []string{kid},
		AssertionMethod: []string{kid},
	}, nil
}

// Validate checks the structural rules a registry enforces before writing.
func (d *Document) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: empty document", ErrInvalidDID)
	}
	if d.ID == "" || Method(d.ID) == "" {
		return fmt.Errorf("%w: document id %q", ErrInvalidDID, d.ID)
	}
	seen := make(map[string]bool, len(d.VerificationMethod))
	for _, vm := range d.VerificationMethod {
		if vm.ID == "" || vm.Type == "" {
			return fmt.Errorf("%w: verification method requires id and type", ErrInvalidDID)
		}
		full := d.qualify(vm.ID)
		if seen[full] {
			return fmt.Errorf("%w: duplicate verification method %q", ErrInvalidDID, vm.ID)
		}
		seen[full] = true
		if _, err := vm.PublicKey(); err != nil {
			return fmt.Errorf("verification method %q: %w", vm.ID, err)
		}
	}
	for _, ref := range append(append([]string(nil), d.Authentication...), d.AssertionMethod...) {
		if !seen[d.qualify(ref)] {
			return fmt.Errorf("%w: relationship references unknown key %q", ErrInvalidDID, ref)
		}
	}
	return nil
}

// VerificationKey returns the ed25519 key named by kid, which may be a full
// DID URL or a bare fragment. An empty kid selects the first assertion key.
func (d *Document) VerificationKey(kid string) (ed25519.PublicKey, error) {
	if kid == "" {
		if len(d.AssertionMethod) > 0 {
			kid = d.AssertionMethod[0]
		} else if len(d.VerificationMethod) > 0 {
			kid = d.VerificationMethod[0].ID
		} else {
			return nil, ErrKeyNotFound
		}
	}
	want := d.qualify(kid)
	for _, vm := range d.VerificationMethod {
		if d.qualify(vm.ID) == want {
			return vm.PublicKey()
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
}

// ServiceByType returns the first service of type t.
func (d *Document) ServiceByType(t string) (Service, bool) {
	for _, s := range d.Service {
		if s.Type == t {
			return s, true
		}
	}
	return Service{}, false
}

func (d *Document) qualify(ref string) string {
	if strings.HasPrefix(ref, "#") {
		return d.ID + ref
	}
	if !strings.Contains(ref, "#") && !strings.HasPrefix(ref, "did:") {
		return d.ID + "#" + ref
	}
	return ref
}

// PublicKey decodes the method's ed25519 key from whichever encoding it uses.
func (vm VerificationMethod) PublicKey() (ed25519.PublicKey, error) {
	switch {
	case vm.PublicKeyMultibase != "":
		return DecodePublicKeyMultibase(vm.PublicKeyMultibase)
	case vm.PublicKeyBase58 != "":
		raw, err := base58.Decode(vm.PublicKeyBase58)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: bad publicKeyBase58", ErrUnsupportedKey)
		}
		return ed25519.PublicKey(raw), nil
	case vm.PublicKeyJWK != nil:
		pub, ok := vm.PublicKeyJWK.Key.(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: JWK is not an Ed25519 public key", ErrUnsupportedKey)
		}
		return pub, nil
	}
	return nil, fmt.Errorf("%w: no public key material", ErrUnsupportedKey)
}

// ParseDocument decodes and validates a JSON DID document.
func ParseDocument(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDID, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}
