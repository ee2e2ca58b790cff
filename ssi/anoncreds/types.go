// Package anoncreds registers AnonCreds schemas and credential definitions
// as cheqd DID-linked resources and issues, holds and verifies credentials
// and presentations over them.
//
// Credentials carry an EdDSA JWS by the issuer's DID key in place of CL
// signatures. Presentations disclose the signed credential so the verifier
// can check revealed attributes and predicates against it.
package anoncreds

import (
	"errors"
	"time"
)

const (
	ResourceTypeSchema  = "anonCredsSchema"
	ResourceTypeCredDef = "anonCredsCredDef"

	CredDefTypeCL = "CL"
	MethodCheqd   = "cheqd"
)

var (
	ErrInvalidSchema        = errors.New("invalid anoncreds schema")
	ErrInvalidCredDef       = errors.New("invalid credential definition")
	ErrSchemaNotFound       = errors.New("schema not found")
	ErrCredDefNotFound      = errors.New("credential definition not found")
	ErrInvalidAttributes    = errors.New("credential attributes do not match the credential definition")
	ErrInvalidSignature     = errors.New("invalid credential signature")
	ErrNoMatchingCredential = errors.New("no credential satisfies the proof request")
	ErrInvalidProofRequest  = errors.New("invalid proof request")
)

// Schema is an AnonCreds schema.
type Schema struct {
	IssuerID  string   `json:"issuerId"`
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	AttrNames []string `json:"attrNames"`
}

// CredDefValue is the public part of a credential definition.
type CredDefValue struct {
	VerificationMethod string   `json:"verificationMethod"`
	Attributes         []string `json:"attributes"`
	SupportRevocation  bool     `json:"supportRevocation"`
}

// CredentialDefinition is an AnonCreds credential definition.
type CredentialDefinition struct {
	IssuerID string       `json:"issuerId"`
	SchemaID string       `json:"schemaId"`
	Type     string       `json:"type"`
	Tag      string       `json:"tag"`
	Value    CredDefValue `json:"value"`
}

// SchemaRecord tracks a schema registered by this agent.
type SchemaRecord struct {
	ID         string    `json:"id"`
	SchemaID   string    `json:"schemaId"`
	Schema     Schema    `json:"schema"`
	MethodName string    `json:"methodName"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CredDefRecord tracks a credential definition registered by this agent.
type CredDefRecord struct {
	ID                     string               `json:"id"`
	CredentialDefinitionID string               `json:"credentialDefinitionId"`
	CredentialDefinition   CredentialDefinition `json:"credentialDefinition"`
	MethodName             string               `json:"methodName"`
	CreatedAt              time.Time            `json:"createdAt"`
}

// SchemaResult is the outcome of schema resolution.
type SchemaResult struct {
	SchemaID           string         `json:"schemaId"`
	Schema             *Schema        `json:"schema,omitempty"`
	ResolutionMetadata map[string]any `json:"resolutionMetadata"`
	SchemaMetadata     map[string]any `json:"schemaMetadata"`
}

// CredDefResult is the outcome of credential definition resolution.
type CredDefResult struct {
	CredentialDefinitionID       string                `json:"credentialDefinitionId"`
	CredentialDefinition         *CredentialDefinition `json:"credentialDefinition,omitempty"`
	ResolutionMetadata           map[string]any        `json:"resolutionMetadata"`
	CredentialDefinitionMetadata map[string]any        `json:"credentialDefinitionMetadata"`
}
