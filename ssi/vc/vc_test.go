package vc

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/did"
)

type staticResolver struct {
	doc *did.Document
}

func (s staticResolver) ResolveKey(_ context.Context, id, kid string) (*did.Document, ed25519.PublicKey, error) {
	if id != s.doc.ID {
		return nil, nil, errors.New("unknown did")
	}
	pub, err := s.doc.VerificationKey(kid)
	return s.doc, pub, err
}

func issuer(t *testing.T) (*did.Document, ed25519.PrivateKey) {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	seed[1] = 7
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	id, err := did.NewCheqd(did.NetworkTestnet, pub)
	if err != nil {
		t.Fatal(err)
	}
	doc, err := did.NewDocument(id, pub)
	if err != nil {
		t.Fatal(err)
	}
	return doc, priv
}

func sample(iss string) *Credential {
	c := &Credential{
		ID:     "urn:uuid:1b4f7b52-6f1a-4a57-9f80-17f1a2d5f0a3",
		Type:   []string{"AIAgentAuthorisation"},
		Issuer: Issuer{ID: iss},
		CredentialSubject: map[string]any{
			"id":   "did:key:z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK",
			"name": "agent",
		},
		ExpirationDate: "2099-01-01T00:00:00Z",
	}
	c.Normalize(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	return c
}

func TestNormalize(t *testing.T) {
	c := sample("did:cheqd:testnet:x")
	if c.Context[0] != ContextV1 || c.Type[0] != TypeVerifiableCredential || !c.HasType("AIAgentAuthorisation") {
		t.Fatalf("normalize: %+v", c)
	}
	c.Normalize(time.Now())
	if len(c.Context) != 1 || len(c.Type) != 2 {
		t.Fatalf("normalize is not idempotent: %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if c.Expired(time.Now()) {
		t.Fatal("credential unexpectedly expired")
	}
}

func TestIssuerForms(t *testing.T) {
	var c Credential
	if err := c.Issuer.UnmarshalJSON([]byte(`{"id":"did:cheqd:testnet:abc","name":"x"}`)); err != nil || c.Issuer.ID != "did:cheqd:testnet:abc" {
		t.Fatalf("object issuer: %v %q", err, c.Issuer.ID)
	}
	b, _ := c.Issuer.MarshalJSON()
	if string(b) != `"did:cheqd:testnet:abc"` {
		t.Fatalf("marshal = %s", b)
	}
}

func TestJWTRoundTrip(t *testing.T) {
	doc, priv := issuer(t)
	cred := sample(doc.ID)
	token, err := SignJWT(cred, doc.ID+"#key-1", priv)
	if err != nil {
		t.Fatalf("SignJWT() = %v", err)
	}

	got, err := ParseJWT(context.Background(), token, staticResolver{doc: doc})
	if err != nil {
		t.Fatalf("ParseJWT() = %v", err)
	}
	if got.Issuer.ID != doc.ID || got.SubjectID() != cred.SubjectID() || got.ID != cred.ID {
		t.Fatalf("claims not restored: %+v", got)
	}

	other, _ := issuer(t)
	other.VerificationMethod[0].PublicKeyMultibase, _ = did.EncodePublicKeyMultibase(make(ed25519.PublicKey, ed25519.PublicKeySize))
	if _, err := ParseJWT(context.Background(), token, staticResolver{doc: other}); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("ParseJWT with wrong key = %v", err)
	}

	decoded, err := DecodeJWT(token)
	if err != nil || decoded.Issuer.ID != doc.ID {
		t.Fatalf("DecodeJWT() = %+v, %v", decoded, err)
	}
	if _, err := DecodeJWT("not-a-jwt"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("DecodeJWT(garbage) = %v", err)
	}
}

func TestLDProof(t *testing.T) {
	doc, priv := issuer(t)
	cred := sample(doc.ID)
	if err := SignLD(cred, doc.ID+"#key-1", priv, time.Now()); err != nil {
		t.Fatalf("SignLD() = %v", err)
	}
	if cred.Proof.Type != ProofTypeEd25519Signature2018 || cred.Proof.ProofPurpose != ProofPurposeAssertion {
		t.Fatalf("proof = %+v", cred.Proof)
	}
	r := staticResolver{doc: doc}
	if err := VerifyLD(context.Background(), cred, r); err != nil {
		t.Fatalf("VerifyLD() = %v", err)
	}

	cred.CredentialSubject["name"] = "tampered"
	if err := VerifyLD(context.Background(), cred, r); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("VerifyLD(tampered) = %v", err)
	}
}

func TestExtraProperties(t *testing.T) {
	doc, priv := issuer(t)
	cred := sample(doc.ID)
	cred.Extra = map[string]any{
		"termsOfUse": map[string]any{"type": "IssuerPolicy"},
		"issuer":     "did:cheqd:testnet:ignored",
	}
	if err := SignLD(cred, doc.ID+"#key-1", priv, time.Now()); err != nil {
		t.Fatalf("SignLD() = %v", err)
	}
	b, err := json.Marshal(cred)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Credential
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Issuer.ID != doc.ID {
		t.Fatalf("issuer = %q, extra must not override it", decoded.Issuer.ID)
	}
	terms, ok := decoded.Extra["termsOfUse"].(map[string]any)
	if !ok || terms["type"] != "IssuerPolicy" || len(decoded.Extra) != 1 {
		t.Fatalf("extra = %#v", decoded.Extra)
	}
	r := staticResolver{doc: doc}
	if err := VerifyLD(context.Background(), &decoded, r); err != nil {
		t.Fatalf("VerifyLD(decoded) = %v", err)
	}

	decoded.Extra["termsOfUse"] = "none"
	if err := VerifyLD(context.Background(), &decoded, r); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("VerifyLD(tampered extra) = %v", err)
	}
}
