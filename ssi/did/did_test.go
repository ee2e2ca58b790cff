package did

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/go-jose/go-jose/v4"
)

func testKey(t *testing.T, seed byte) ed25519.PublicKey {
	t.Helper()
	s := make([]byte, ed25519.SeedSize)
	for i := range s {
		s[i] = seed
	}
	return ed25519.NewKeyFromSeed(s).Public().(ed25519.PublicKey)
}

func TestNewCheqd(t *testing.T) {
	pub := testKey(t, 1)
	id, err := NewCheqd(NetworkTestnet, pub)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(id, "did:cheqd:testnet:") {
		t.Fatalf("unexpected did %q", id)
	}
	network, msid, err := ParseCheqd(id)
	if err != nil {
		t.Fatal(err)
	}
	if network != NetworkTestnet || msid == "" {
		t.Fatalf("ParseCheqd = %q, %q", network, msid)
	}
	again, _ := NewCheqd(NetworkTestnet, pub)
	if again != id {
		t.Fatal("identifier derivation is not deterministic")
	}

	if _, err := NewCheqd("devnet", pub); !errors.Is(err, ErrUnsupportedNetwork) {
		t.Fatalf("devnet: %v", err)
	}
}

func TestParseCheqd(t *testing.T) {
	ok := []string{
		"did:cheqd:testnet:4769f00d-0af4-472b-aab7-019abbbb8009",
		"did:cheqd:mainnet:zF7rhDBfUt9d1gJPjx7s1J",
	}
	for _, s := range ok {
		if !IsCheqd(s) {
			t.Fatalf("IsCheqd(%q) = false", s)
		}
	}
	bad := []string{
		"did:key:z6Mk",
		"did:cheqd:testnet",
		"did:cheqd:devnet:abc",
		"did:cheqd:testnet:abc/resources/x",
	}
	for _, s := range bad {
		if IsCheqd(s) {
			t.Fatalf("IsCheqd(%q) = true", s)
		}
	}
}

func TestDIDKeyRoundTrip(t *testing.T) {
	pub := testKey(t, 2)
	id, err := NewKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(id, "did:key:z6Mk") {
		t.Fatalf("did:key = %q", id)
	}
	got, err := PublicKeyFromDIDKey(id + "#" + strings.TrimPrefix(id, "did:key:"))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(pub) {
		t.Fatal("did:key round trip changed the key")
	}
	if _, err := PublicKeyFromDIDKey("did:key:zQ3shokFTS3brHcDQrn82RUDfCZESWL1ZdCEJwekUDPQiYBme"); !errors.Is(err, ErrUnsupportedKey) {
		t.Fatalf("secp256k1 did:key: %v", err)
	}
}

func TestDocument(t *testing.T) {
	pub := testKey(t, 3)
	id, _ := NewCheqd(NetworkMainnet, pub)
	doc, err := NewDocument(id, pub)
	if err != nil {
		t.Fatal(err)
	}
	if err := doc.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if doc.AssertionMethod[0] != id+"#key-1" {
		t.Fatalf("assertionMethod = %v", doc.AssertionMethod)
	}

	for _, kid := range []string{"", "key-1", "#key-1", id + "#key-1"} {
		got, err := doc.VerificationKey(kid)
		if err != nil || !got.Equal(pub) {
			t.Fatalf("VerificationKey(%q) = %v", kid, err)
		}
	}
	if _, err := doc.VerificationKey("key-2"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("missing key: %v", err)
	}

	raw, _ := json.Marshal(doc)
	parsed, err := ParseDocument(raw)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.VerificationMethod[0].Type != TypeEd25519Key2020 {
		t.Fatalf("type = %q", parsed.VerificationMethod[0].Type)
	}
}

func TestDocumentValidateRejectsDanglingReference(t *testing.T) {
	pub := testKey(t, 4)
	doc, _ := NewDocument("did:cheqd:testnet:abc", pub)
	doc.Authentication = append(doc.Authentication, "#key-9")
	if err := doc.Validate(); !errors.Is(err, ErrInvalidDID) {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestJWKVerificationMethod(t *testing.T) {
	pub := testKey(t, 5)
	raw, err := json.Marshal(jose.JSONWebKey{Key: pub})
	if err != nil {
		t.Fatal(err)
	}
	var jwk jose.JSONWebKey
	if err := json.Unmarshal(raw, &jwk); err != nil {
		t.Fatal(err)
	}
	vm := VerificationMethod{ID: "#key-1", Type: TypeJSONWebKey2020, Controller: "did:example:1", PublicKeyJWK: &jwk}
	got, err := vm.PublicKey()
	if err != nil || !got.Equal(pub) {
		t.Fatalf("PublicKey() = %v", err)
	}
}

func TestParseURL(t *testing.T) {
	s := "did:cheqd:testnet:4769f00d-0af4-472b-aab7-019abbbb8009/resources/5acb3d53-ba06-441a-b48b-07d8c2f129f8"
	u, err := ParseURL(s)
	if err != nil {
		t.Fatal(err)
	}
	if u.DID != "did:cheqd:testnet:4769f00d-0af4-472b-aab7-019abbbb8009" {
		t.Fatalf("DID = %q", u.DID)
	}
	id, ok := u.ResourceID()
	if !ok || id != "5acb3d53-ba06-441a-b48b-07d8c2f129f8" {
		t.Fatalf("ResourceID() = %q, %v", id, ok)
	}
	if u.String() != s {
		t.Fatalf("String() = %q", u.String())
	}
	if !IsResourceURL(s) || IsResourceURL("did:cheqd:testnet:abc/resources/not-a-uuid") {
		t.Fatal("IsResourceURL mismatch")
	}

	q, err := ParseURL("did:cheqd:testnet:abc?resourceName=degree&resourceType=anonCredsSchema#frag")
	if err != nil {
		t.Fatal(err)
	}
	if q.Query.Get("resourceName") != "degree" || q.Fragment != "frag" || q.Path != "" {
		t.Fatalf("query parse: %+v", q)
	}
	if _, err := ParseURL("not-a-did"); !errors.Is(err, ErrInvalidDIDURL) {
		t.Fatalf("ParseURL(not-a-did) = %v", err)
	}
}
