package ledger

import (
	"time"

	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/did"
)

// Resolution error codes defined by W3C DID Resolution.
const (
	ResolutionErrNotFound    = "notFound"
	ResolutionErrInvalidDID  = "invalidDid"
	ResolutionErrInternal    = "internalError"
	ContentTypeDIDResolution = "application/did+ld+json"
)

// ResolutionResult is the DID resolution envelope.
type ResolutionResult struct {
	DIDDocument           *did.Document      `json:"didDocument"`
	DIDDocumentMetadata   DocumentMetadata   `json:"didDocumentMetadata"`
	DIDResolutionMetadata ResolutionMetadata `json:"didResolutionMetadata"`
}

// DocumentMetadata describes the state of a DID document.
type DocumentMetadata struct {
	Created                *time.Time         `json:"created,omitempty"`
	Updated                *time.Time         `json:"updated,omitempty"`
	Deactivated            bool               `json:"deactivated,omitempty"`
	VersionID              string             `json:"versionId,omitempty"`
	PreviousVersionID      string             `json:"previousVersionId,omitempty"`
	LinkedResourceMetadata []ResourceMetadata `json:"linkedResourceMetadata,omitempty"`
}

// ResolutionMetadata carries the resolver outcome.
type ResolutionMetadata struct {
	ContentType string `json:"contentType,omitempty"`
	Error       string `json:"error,omitempty"`
	Message     string `json:"message,omitempty"`
	Retrieved   string `json:"retrieved,omitempty"`
	DID         *struct {
		DIDString        string `json:"didString"`
		MethodSpecificID string `json:"methodSpecificId"`
		Method           string `json:"method"`
	} `json:"did,omitempty"`
}

// ResourceMetadata describes one DID-linked resource.
type ResourceMetadata struct {
	ResourceURI          string    `json:"resourceURI"`
	ResourceCollectionID string    `json:"resourceCollectionId"`
	ResourceID           string    `json:"resourceId"`
	ResourceName         string    `json:"resourceName"`
	ResourceType         string    `json:"resourceType"`
	MediaType            string    `json:"mediaType"`
	ResourceVersion      string    `json:"resourceVersion,omitempty"`
	Created              time.Time `json:"created"`
	Checksum             string    `json:"checksum"`
	PreviousVersionID    *string   `json:"previousVersionId"`
	NextVersionID        *string   `json:"nextVersionId"`
}

// Resource is a DID-linked resource with its content.
type Resource struct {
	Metadata ResourceMetadata `json:"resourceMetadata"`
	Data     []byte           `json:"data"`
}

// ResourceInput is the caller-controlled part of a new resource.
type ResourceInput struct {
	// ID is generated when empty.
	ID        string
	Name      string
	Type      string
	Version   string
	MediaType string
	Data      []byte
}

// record is the stored form of a local DID.
type record struct {
	Document *did.Document    `json:"document"`
	Metadata DocumentMetadata `json:"metadata"`
}
