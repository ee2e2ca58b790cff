package wallet

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ggoodman/cheqd-mcp-toolkit/storage/memory"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func openWallet(t *testing.T) (*Wallet, *memory.Storage) {
	t.Helper()
	store, err := memory.New(0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	w, err := Open(context.Background(), store, "agent", testMnemonic)
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	return w, store
}

func TestOpenRejectsInvalidMnemonic(t *testing.T) {
	store, _ := memory.New(0)
	defer store.Close()
	if _, err := Open(context.Background(), store, "agent", "not a mnemonic"); !errors.Is(err, ErrInvalidMnemonic) {
		t.Fatalf("Open() = %v, want ErrInvalidMnemonic", err)
	}
}

func TestReopenWithOtherMnemonic(t *testing.T) {
	ctx := context.Background()
	_, store := openWallet(t)

	if _, err := Open(ctx, store, "agent", testMnemonic); err != nil {
		t.Fatalf("reopen = %v", err)
	}
	other := "legal winner thank year wave sausage worth useful legal winner thank yellow"
	if _, err := Open(ctx, store, "agent", other); !errors.Is(err, ErrWrongMnemonic) {
		t.Fatalf("reopen with other mnemonic = %v", err)
	}
	if _, err := Open(ctx, store, "another-agent", other); err != nil {
		t.Fatalf("separate wallet id = %v", err)
	}
}

func TestKeys(t *testing.T) {
	ctx := context.Background()
	w, store := openWallet(t)

	kid, pub, err := w.CreateKey(ctx)
	if err != nil {
		t.Fatal(err)
	}
	priv, err := w.Signer(ctx, kid)
	if err != nil {
		t.Fatalf("Signer() = %v", err)
	}
	msg := []byte("hello")
	if !ed25519.Verify(pub, msg, ed25519.Sign(priv, msg)) {
		t.Fatal("signer does not match public key")
	}
	sig, err := w.Sign(ctx, kid, msg)
	if err != nil || !ed25519.Verify(pub, msg, sig) {
		t.Fatalf("Sign() = %v", err)
	}

	item, _ := store.Get(ctx, nsKeys, "agent/"+kid)
	var rec keyRecord
	if err := json.Unmarshal(item.Data, &rec); err != nil {
		t.Fatal(err)
	}
	if len(rec.Secret) == 0 || json.Valid([]byte(rec.Secret)) {
		t.Fatalf("secret is not a compact JWE: %q", rec.Secret)
	}

	if _, err := w.Signer(ctx, "missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Signer(missing) = %v", err)
	}

	seed := make([]byte, ed25519.SeedSize)
	kid2, pub2, err := w.ImportSeed(ctx, seed)
	if err != nil {
		t.Fatal(err)
	}
	if !pub2.Equal(ed25519.NewKeyFromSeed(seed).Public()) || kid2 == kid {
		t.Fatal("ImportSeed derived the wrong key")
	}
	if ok, _ := w.HasKey(ctx, kid2); !ok {
		t.Fatal("HasKey() = false")
	}
}

func TestDIDs(t *testing.T) {
	ctx := context.Background()
	w, _ := openWallet(t)
	_ = w.AddDID(ctx, DIDRecord{DID: "did:cheqd:testnet:a", Method: "cheqd", Network: "testnet", Kid: "k1"})
	_ = w.AddDID(ctx, DIDRecord{DID: "did:key:z6Mk", Method: "key", Kid: "k2"})

	all, err := w.ListDIDs(ctx, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("ListDIDs() = %d, %v", len(all), err)
	}
	cheqd, _ := w.ListDIDs(ctx, "cheqd")
	if len(cheqd) != 1 || cheqd[0].DID != "did:cheqd:testnet:a" {
		t.Fatalf("ListDIDs(cheqd) = %+v", cheqd)
	}
	rec, err := w.GetDID(ctx, "did:key:z6Mk")
	if err != nil || rec.Kid != "k2" || rec.CreatedAt.IsZero() {
		t.Fatalf("GetDID() = %+v, %v", rec, err)
	}
	if _, err := w.GetDID(ctx, "did:cheqd:testnet:nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetDID(missing) = %v", err)
	}
}

func TestCredentialStores(t *testing.T) {
	ctx := context.Background()
	w, _ := openWallet(t)

	stored, err := w.StoreW3C(ctx, W3CRecord{Format: "jwt_vc", Encoded: "a.b.c", Credential: json.RawMessage(`{"type":["VerifiableCredential"]}`), Types: []string{"VerifiableCredential"}})
	if err != nil {
		t.Fatal(err)
	}
	got, err := w.GetW3C(ctx, stored.ID)
	if err != nil || got.Encoded != "a.b.c" {
		t.Fatalf("GetW3C() = %+v, %v", got, err)
	}
	if list, _ := w.ListW3C(ctx); len(list) != 1 {
		t.Fatalf("ListW3C() = %d", len(list))
	}

	ac, err := w.StoreAnonCreds(ctx, AnonCredsRecord{CredDefID: "did:cheqd:testnet:a/resources/b", Values: map[string]string{"score": "80"}})
	if err != nil {
		t.Fatal(err)
	}
	if got, err := w.GetAnonCreds(ctx, ac.ID); err != nil || got.Values["score"] != "80" {
		t.Fatalf("GetAnonCreds() = %+v, %v", got, err)
	}
	if _, err := w.GetAnonCreds(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetAnonCreds(missing) = %v", err)
	}
	if list, _ := w.ListAnonCreds(ctx); len(list) != 1 {
		t.Fatalf("ListAnonCreds() = %d", len(list))
	}
}
