package anoncreds

import (
	"context"
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/did"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/ledger"
	"github.com/ggoodman/cheqd-mcp-toolkit/storage/memory"
)

type fixture struct {
	reg    *Registry
	issuer string
	priv   ed25519.PrivateKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := memory.New(0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	seed := make([]byte, ed25519.SeedSize)
	seed[2] = 42
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	id, _ := did.NewCheqd(did.NetworkTestnet, pub)
	doc, _ := did.NewDocument(id, pub)

	l := ledger.NewRegistry(store)
	if _, err := l.CreateDID(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
	return &fixture{reg: NewRegistry(l, store), issuer: id, priv: priv}
}

func (f *fixture) credDef(t *testing.T) (*CredDefRecord, *CredentialDefinition) {
	t.Helper()
	ctx := context.Background()
	s, err := f.reg.RegisterSchema(ctx, Schema{IssuerID: f.issuer, Name: "exam", Version: "1.0", AttrNames: []string{"name", "score"}})
	if err != nil {
		t.Fatalf("RegisterSchema() = %v", err)
	}
	rec, err := f.reg.RegisterCredentialDefinition(ctx, CredentialDefinition{IssuerID: f.issuer, SchemaID: s.SchemaID, Tag: "default"}, false)
	if err != nil {
		t.Fatalf("RegisterCredentialDefinition() = %v", err)
	}
	cd, err := f.reg.GetCredentialDefinition(ctx, rec.CredentialDefinitionID)
	if err != nil {
		t.Fatal(err)
	}
	return rec, cd
}

func TestSchemaRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.reg.RegisterSchema(ctx, Schema{IssuerID: f.issuer, Name: "degree", Version: "1.0", AttrNames: []string{"name"}})
	if err != nil {
		t.Fatal(err)
	}
	if !did.IsResourceURL(rec.SchemaID) || rec.MethodName != MethodCheqd {
		t.Fatalf("record = %+v", rec)
	}
	got, err := f.reg.GetSchema(ctx, rec.SchemaID)
	if err != nil || got.Name != "degree" {
		t.Fatalf("GetSchema() = %+v, %v", got, err)
	}
	list, _ := f.reg.ListSchemas(ctx)
	if len(list) != 1 {
		t.Fatalf("ListSchemas() = %d", len(list))
	}

	bad := []Schema{
		{IssuerID: "did:key:z6Mk", Name: "x", Version: "1", AttrNames: []string{"a"}},
		{IssuerID: f.issuer, Version: "1", AttrNames: []string{"a"}},
		{IssuerID: f.issuer, Name: "x", Version: "1"},
		{IssuerID: f.issuer, Name: "x", Version: "1", AttrNames: []string{"a", "a"}},
	}
	for _, s := range bad {
		if _, err := f.reg.RegisterSchema(ctx, s); !errors.Is(err, ErrInvalidSchema) {
			t.Errorf("RegisterSchema(%+v) = %v", s, err)
		}
	}

	res := f.reg.ResolveSchema(ctx, did.ResourceURL(f.issuer, "0b6c8f2e-1d3a-4c5e-8f7a-9b0c1d2e3f4a"))
	if res.Schema != nil || res.ResolutionMetadata["error"] != "notFound" {
		t.Fatalf("ResolveSchema(missing) = %+v", res)
	}
}

func TestCredentialDefinition(t *testing.T) {
	f := newFixture(t)
	rec, cd := f.credDef(t)
	if cd.Type != CredDefTypeCL || cd.Value.VerificationMethod != f.issuer+"#key-1" || len(cd.Value.Attributes) != 2 {
		t.Fatalf("credential definition = %+v", cd)
	}
	if got, _ := f.reg.GetCredentialDefinitionRecord(context.Background(), rec.CredentialDefinitionID); got == nil {
		t.Fatal("local record missing")
	}
	if _, err := f.reg.GetSchema(context.Background(), rec.CredentialDefinitionID); !errors.Is(err, ErrSchemaNotFound) {
		t.Fatalf("cred def resolved as schema: %v", err)
	}
	if _, err := f.reg.RegisterCredentialDefinition(context.Background(), CredentialDefinition{IssuerID: f.issuer, SchemaID: cd.SchemaID}, false); !errors.Is(err, ErrInvalidCredDef) {
		t.Fatalf("missing tag = %v", err)
	}
}

func TestIssueAndVerify(t *testing.T) {
	f := newFixture(t)
	rec, cd := f.credDef(t)
	ctx := context.Background()

	if _, err := Issue(cd, rec.CredentialDefinitionID, map[string]string{"name": "Alice"}, f.priv); !errors.Is(err, ErrInvalidAttributes) {
		t.Fatalf("Issue(missing attr) = %v", err)
	}
	cred, err := Issue(cd, rec.CredentialDefinitionID, map[string]string{"name": "Alice", "score": "80"}, f.priv)
	if err != nil {
		t.Fatal(err)
	}
	if cred.Values["score"].Encoded != "80" || cred.Values["name"].Encoded == "Alice" {
		t.Fatalf("encoding = %+v", cred.Values)
	}
	if err := f.reg.VerifyCredential(ctx, cred); err != nil {
		t.Fatalf("VerifyCredential() = %v", err)
	}

	tampered := *cred
	tampered.Values = map[string]AttrValue{"name": cred.Values["name"], "score": {Raw: "99", Encoded: "99"}}
	if err := f.reg.VerifyCredential(ctx, &tampered); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("VerifyCredential(tampered) = %v", err)
	}
}

func TestPresentation(t *testing.T) {
	f := newFixture(t)
	rec, cd := f.credDef(t)
	ctx := context.Background()
	cred, err := Issue(cd, rec.CredentialDefinitionID, map[string]string{"name": "Alice", "score": "80"}, f.priv)
	if err != nil {
		t.Fatal(err)
	}
	schema, _ := f.reg.GetSchema(ctx, cd.SchemaID)
	held := []HeldCredential{{ID: "c1", Credential: cred, Schema: schema}}

	req := &ProofRequest{
		Name:    "proof-request",
		Version: "1.0",
		Nonce:   "1234",
		RequestedAttributes: map[string]AttributeRequest{
			"attribute-0": {Name: "name", Restrictions: []Restriction{{SchemaName: "exam"}}},
		},
		RequestedPredicates: map[string]PredicateRequest{
			"predicate-0": {Name: "score", PType: ">=", PValue: 70, Restrictions: []Restriction{{CredDefID: rec.CredentialDefinitionID}}},
		},
	}
	if err := req.Validate(); err != nil {
		t.Fatal(err)
	}
	sel, err := SelectCredentials(req, held)
	if err != nil {
		t.Fatalf("SelectCredentials() = %v", err)
	}
	pres, err := CreatePresentation(req, sel, held)
	if err != nil {
		t.Fatal(err)
	}
	if len(pres.Proofs) != 1 || pres.RequestedProof.RevealedAttrs["attribute-0"].Raw != "Alice" {
		t.Fatalf("presentation = %+v", pres)
	}
	ok, err := f.reg.VerifyPresentation(ctx, req, pres)
	if !ok || err != nil {
		t.Fatalf("VerifyPresentation() = %v, %v", ok, err)
	}

	strict := *req
	strict.RequestedPredicates = map[string]PredicateRequest{"predicate-0": {Name: "score", PType: ">", PValue: 80}}
	if _, err := SelectCredentials(&strict, held); !errors.Is(err, ErrNoMatchingCredential) {
		t.Fatalf("unsatisfiable predicate = %v", err)
	}
	if ok, _ := f.reg.VerifyPresentation(ctx, &strict, pres); ok {
		t.Fatal("presentation verified against a stricter request")
	}

	pres.RequestedProof.RevealedAttrs["attribute-0"] = RevealedAttr{Raw: "Mallory", Encoded: EncodeValue("Mallory")}
	if ok, _ := f.reg.VerifyPresentation(ctx, req, pres); ok {
		t.Fatal("forged revealed attribute accepted")
	}

	bad := &ProofRequest{RequestedPredicates: map[string]PredicateRequest{"p": {Name: "score", PType: "=="}}}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidProofRequest) {
		t.Fatalf("Validate(==) = %v", err)
	}
}
