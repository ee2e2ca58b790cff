package train

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveAccreditation(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tcr/v1/resolve-cheqd" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"verificationStatus":"OK","trustScore":1}`))
	}))
	defer srv.Close()

	c := New(srv.URL + "/tcr/v1/")
	raw, err := c.ResolveAccreditation(context.Background(), "did:cheqd:testnet:abc", "eu.train.trust-scheme.de")
	if err != nil {
		t.Fatalf("ResolveAccreditation() = %v", err)
	}
	if got.DID != "did:cheqd:testnet:abc" || got.TrustFramework != "eu.train.trust-scheme.de" {
		t.Fatalf("request body = %+v", got)
	}
	var verdict map[string]any
	if err := json.Unmarshal(raw, &verdict); err != nil || verdict["verificationStatus"] != "OK" {
		t.Fatalf("verdict = %s (%v)", raw, err)
	}
}

func TestResolveAccreditationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown trust framework", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := New(srv.URL).ResolveAccreditation(context.Background(), "did:cheqd:testnet:abc", "")
	if !errors.Is(err, ErrValidator) {
		t.Fatalf("ResolveAccreditation() = %v, want ErrValidator", err)
	}
}
