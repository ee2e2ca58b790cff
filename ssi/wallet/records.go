package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DIDRecord is a DID controlled by the wallet.
type DIDRecord struct {
	DID       string    `json:"did"`
	Method    string    `json:"method"`
	Network   string    `json:"network,omitempty"`
	Kid       string    `json:"kid"`
	CreatedAt time.Time `json:"createdAt"`
}

// AddDID records that the wallet controls rec.DID.
func (w *Wallet) AddDID(ctx context.Context, rec DIDRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = w.now().UTC()
	}
	return w.put(ctx, nsDIDs, rec.DID, rec)
}

// GetDID returns the record for an owned DID.
func (w *Wallet) GetDID(ctx context.Context, id string) (*DIDRecord, error) {
	var rec DIDRecord
	if err := w.get(ctx, nsDIDs, id, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListDIDs returns owned DIDs, optionally filtered by method.
func (w *Wallet) ListDIDs(ctx context.Context, method string) ([]DIDRecord, error) {
	all, err := list[DIDRecord](ctx, w, nsDIDs)
	if err != nil || method == "" {
		return all, err
	}
	out := all[:0]
	for _, r := range all {
		if r.Method == method {
			out = append(out, r)
		}
	}
	return out, nil
}

// W3CRecord is a stored W3C verifiable credential.
type W3CRecord struct {
	ID         string          `json:"id"`
	CreatedAt  time.Time       `json:"createdAt"`
	Format     string          `json:"format"`
	Encoded    string          `json:"encoded,omitempty"`
	Credential json.RawMessage `json:"credential"`
	Types      []string        `json:"types"`
	Issuer     string          `json:"issuer,omitempty"`
	Subject    string          `json:"subjectId,omitempty"`
}

// StoreW3C stores rec under a fresh id and returns the stored record.
func (w *Wallet) StoreW3C(ctx context.Context, rec W3CRecord) (*W3CRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = w.now().UTC()
	if err := w.put(ctx, nsW3C, rec.ID, rec); err != nil {
		return nil, err
	}
	w.log.InfoContext(ctx, "wallet.w3c.stored", slog.String("id", rec.ID), slog.String("format", rec.Format))
	return &rec, nil
}

// GetW3C returns the W3C credential record id.
func (w *Wallet) GetW3C(ctx context.Context, id string) (*W3CRecord, error) {
	var rec W3CRecord
	if err := w.get(ctx, nsW3C, id, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListW3C returns W3C credential records in storage order.
func (w *Wallet) ListW3C(ctx context.Context) ([]W3CRecord, error) {
	return list[W3CRecord](ctx, w, nsW3C)
}

// AnonCredsRecord is a stored AnonCreds credential.
type AnonCredsRecord struct {
	ID         string            `json:"credentialId"`
	CreatedAt  time.Time         `json:"createdAt"`
	SchemaID   string            `json:"schemaId"`
	CredDefID  string            `json:"credentialDefinitionId"`
	Values     map[string]string `json:"attributes"`
	Credential json.RawMessage   `json:"credential"`
}

// StoreAnonCreds stores rec under a fresh id.
func (w *Wallet) StoreAnonCreds(ctx context.Context, rec AnonCredsRecord) (*AnonCredsRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = w.now().UTC()
	if err := w.put(ctx, nsAnonCred, rec.ID, rec); err != nil {
		return nil, err
	}
	w.log.InfoContext(ctx, "wallet.anoncreds.stored", slog.String("id", rec.ID), slog.String("cred_def_id", rec.CredDefID))
	return &rec, nil
}

// GetAnonCreds returns the AnonCreds credential id.
func (w *Wallet) GetAnonCreds(ctx context.Context, id string) (*AnonCredsRecord, error) {
	var rec AnonCredsRecord
	if err := w.get(ctx, nsAnonCred, id, &rec); err != nil {
		return nil, fmt.Errorf("anoncreds credential: %w", err)
	}
	return &rec, nil
}

// ListAnonCreds returns AnonCreds credential records.
func (w *Wallet) ListAnonCreds(ctx context.Context) ([]AnonCredsRecord, error) {
	return list[AnonCredsRecord](ctx, w, nsAnonCred)
}
