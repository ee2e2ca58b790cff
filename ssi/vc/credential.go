// Package vc implements the parts of the W3C Verifiable Credentials data
// model the agent issues and stores: JSON-LD credentials with a detached JWS
// proof, and JWT encoded credentials.
package vc

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

const (
	ContextV1                = "https://www.w3.org/2018/credentials/v1"
	TypeVerifiableCredential = "VerifiableCredential"

	FormatJWT    = "jwt_vc"
	FormatLDJSON = "ldp_vc"
)

var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrInvalidProof      = errors.New("invalid credential proof")
)

// Issuer is the credential issuer. It serializes as a plain id and accepts
// the object form on input.
type Issuer struct {
	ID string
}

func (i Issuer) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.ID)
}

func (i *Issuer) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		i.ID = s
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("%w: issuer must be a string or an object with id", ErrInvalidCredential)
	}
	i.ID = obj.ID
	return nil
}

// Status is a credentialStatus entry.
type Status struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Proof is a linked data proof with a detached JWS.
type Proof struct {
	Type               string `json:"type"`
	Created            string `json:"created"`
	VerificationMethod string `json:"verificationMethod"`
	ProofPurpose       string `json:"proofPurpose"`
	JWS                string `json:"jws"`
}

// Credential is a W3C verifiable credential.
type Credential struct {
	Context           []string       `json:"@context"`
	ID                string         `json:"id,omitempty"`
	Type              []string       `json:"type"`
	Issuer            Issuer         `json:"issuer"`
	IssuanceDate      string         `json:"issuanceDate"`
	ExpirationDate    string         `json:"expirationDate,omitempty"`
	CredentialSubject map[string]any `json:"credentialSubject"`
	CredentialStatus  *Status        `json:"credentialStatus,omitempty"`
	Proof             *Proof         `json:"proof,omitempty"`

	// Extra holds any other top-level properties. Keys of the fields above
	// are ignored.
	Extra map[string]any `json:"-"`
}

var credentialKeys = []string{
	"@context", "id", "type", "issuer", "issuanceDate", "expirationDate",
	"credentialSubject", "credentialStatus", "proof",
}

type credentialFields Credential

func (c Credential) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(credentialFields(c))
	if err != nil || len(c.Extra) == 0 {
		return b, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		if slices.Contains(credentialKeys, k) {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		fields[k] = raw
	}
	return json.Marshal(fields)
}

func (c *Credential) UnmarshalJSON(b []byte) error {
	var base credentialFields
	if err := json.Unmarshal(b, &base); err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	for _, k := range credentialKeys {
		delete(fields, k)
	}
	*c = Credential(base)
	c.Extra = nil
	if len(fields) > 0 {
		c.Extra = fields
	}
	return nil
}

// Normalize adds the base context and type when missing and defaults the
// issuance date.
func (c *Credential) Normalize(now time.Time) {
	if !slices.Contains(c.Context, ContextV1) {
		c.Context = append([]string{ContextV1}, c.Context...)
	}
	if !slices.Contains(c.Type, TypeVerifiableCredential) {
		c.Type = append([]string{TypeVerifiableCredential}, c.Type...)
	}
	if c.IssuanceDate == "" {
		c.IssuanceDate = now.UTC().Format(time.RFC3339)
	}
	if c.CredentialSubject == nil {
		c.CredentialSubject = map[string]any{}
	}
}

// SubjectID returns credentialSubject.id, if any.
func (c *Credential) SubjectID() string {
	id, _ := c.CredentialSubject["id"].(string)
	return id
}

// HasType reports whether the credential lists t among its types.
func (c *Credential) HasType(t string) bool {
	return slices.Contains(c.Type, t)
}

// Validate checks the structural requirements of the data model.
func (c *Credential) Validate() error {
	if len(c.Context) == 0 || c.Context[0] != ContextV1 {
		return fmt.Errorf("%w: first @context must be %s", ErrInvalidCredential, ContextV1)
	}
	if !c.HasType(TypeVerifiableCredential) {
		return fmt.Errorf("%w: type must include %s", ErrInvalidCredential, TypeVerifiableCredential)
	}
	if c.Issuer.ID == "" {
		return fmt.Errorf("%w: issuer is required", ErrInvalidCredential)
	}
	if _, err := time.Parse(time.RFC3339, c.IssuanceDate); err != nil {
		return fmt.Errorf("%w: issuanceDate: %v", ErrInvalidCredential, err)
	}
	if c.ExpirationDate != "" {
		if _, err := time.Parse(time.RFC3339, c.ExpirationDate); err != nil {
			return fmt.Errorf("%w: expirationDate: %v", ErrInvalidCredential, err)
		}
	}
	return nil
}

// Expired reports whether the credential's expirationDate is before now.
func (c *Credential) Expired(now time.Time) bool {
	if c.ExpirationDate == "" {
		return false
	}
	exp, err := time.Parse(time.RFC3339, c.ExpirationDate)
	return err == nil && exp.Before(now)
}
