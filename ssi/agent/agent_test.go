package agent

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/anoncreds"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/did"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/vc"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/wallet"
	"github.com/ggoodman/cheqd-mcp-toolkit/storage"
	"github.com/ggoodman/cheqd-mcp-toolkit/storage/memory"
)

const (
	issuerMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	holderMnemonic = "legal winner thank year wave sausage worth useful legal winner thank yellow"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newStore(t *testing.T) storage.Storage {
	t.Helper()
	s, err := memory.New(0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// startAgent runs an agent behind an httptest server. Agents built on the
// same ledger store see each other's DIDs.
func startAgent(t *testing.T, label, mnemonic string, ledgerStore storage.Storage, opts ...Option) *Agent {
	t.Helper()
	srv := httptest.NewUnstartedServer(nil)
	endpoint := "http://" + srv.Listener.Addr().String()

	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithLedgerStorage(ledgerStore),
	}, opts...)
	a := New(newStore(t), Config{
		Label:         label,
		Mnemonic:      mnemonic,
		Endpoint:      endpoint,
		SweepInterval: time.Hour,
	}, opts...)
	srv.Config.Handler = a.Handler()
	srv.Start()

	if err := a.Start(context.Background()); err != nil {
		srv.Close()
		t.Fatalf("Start(%s) = %v", label, err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
		srv.Close()
	})
	return a
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// issuerSetup publishes a DID, an exam schema and its credential
// definition.
func issuerSetup(t *testing.T, a *Agent) (issuerDID, credDefID string) {
	t.Helper()
	ctx := context.Background()
	res, err := a.DIDs.Create(ctx, did.NetworkTestnet)
	if err != nil {
		t.Fatalf("DIDs.Create() = %v", err)
	}
	issuerDID = res.DIDState.DID
	s, err := a.AnonCreds.RegisterSchema(ctx, anoncreds.Schema{
		IssuerID:  issuerDID,
		Name:      "exam",
		Version:   "1.0",
		AttrNames: []string{"name", "score"},
	}, did.NetworkTestnet)
	if err != nil {
		t.Fatalf("RegisterSchema() = %v", err)
	}
	cd, err := a.AnonCreds.RegisterCredentialDefinition(ctx, anoncreds.CredentialDefinition{
		IssuerID: issuerDID,
		SchemaID: s.SchemaID,
		Tag:      "default",
	}, false)
	if err != nil {
		t.Fatalf("RegisterCredentialDefinition() = %v", err)
	}
	return issuerDID, cd.CredentialDefinitionID
}

// connect runs a DID exchange and returns the issuer's and holder's
// connection ids.
func connect(t *testing.T, issuer, holder *Agent) (string, string) {
	t.Helper()
	ctx := context.Background()
	oob, err := issuer.Connections.CreateInvitation(ctx, InvitationOptions{AutoAcceptConnection: true})
	if err != nil {
		t.Fatalf("CreateInvitation() = %v", err)
	}
	if oob.State != OOBStateAwaitResponse || oob.InvitationURL == "" {
		t.Fatalf("invitation record = %+v", oob)
	}
	_, hconn, err := holder.Connections.ReceiveInvitationFromURL(ctx, oob.InvitationURL)
	if err != nil {
		t.Fatalf("ReceiveInvitationFromURL() = %v", err)
	}
	if hconn == nil || hconn.TheirLabel != issuer.Label() {
		t.Fatalf("holder connection = %+v", hconn)
	}

	var issuerConnID string
	waitFor(t, "connection completed on both sides", func() bool {
		h, err := holder.Connections.Get(ctx, hconn.ID)
		if err != nil || h.State != ConnStateCompleted {
			return false
		}
		conns, err := issuer.Connections.FindByOutOfBandID(ctx, oob.ID)
		if err != nil || len(conns) != 1 || conns[0].State != ConnStateCompleted {
			return false
		}
		issuerConnID = conns[0].ID
		return true
	})

	inv, err := issuer.Connections.GetOutOfBand(ctx, oob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if inv.State != OOBStateDone {
		t.Fatalf("invitation state = %s, want done", inv.State)
	}
	return issuerConnID, hconn.ID
}

func onlyCredential(t *testing.T, a *Agent, role string) *CredentialExchangeRecord {
	t.Helper()
	var found *CredentialExchangeRecord
	waitFor(t, role+" credential record", func() bool {
		recs, err := a.Credentials.List(context.Background())
		if err != nil {
			return false
		}
		for _, r := range recs {
			if r.Role == role {
				found = r
				return true
			}
		}
		return false
	})
	return found
}

func onlyProof(t *testing.T, a *Agent, role string) *ProofExchangeRecord {
	t.Helper()
	var found *ProofExchangeRecord
	waitFor(t, role+" proof record", func() bool {
		recs, err := a.Proofs.List(context.Background())
		if err != nil {
			return false
		}
		for _, r := range recs {
			if r.Role == role {
				found = r
				return true
			}
		}
		return false
	})
	return found
}

func credentialState(a *Agent, id, state string) func() bool {
	return func() bool {
		r, err := a.Credentials.Get(context.Background(), id)
		return err == nil && r.State == state
	}
}

func proofState(a *Agent, id, state string) func() bool {
	return func() bool {
		r, err := a.Proofs.Get(context.Background(), id)
		return err == nil && r.State == state
	}
}

func TestModulesRequireStart(t *testing.T) {
	a := New(newStore(t), Config{Label: "idle", Mnemonic: issuerMnemonic, Endpoint: "http://localhost:1"})
	if _, err := a.Connections.List(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("List() = %v, want ErrNotStarted", err)
	}
	st, err := a.Status(context.Background())
	if err != nil || st.Started {
		t.Fatalf("Status() = %+v, %v", st, err)
	}
}

func TestStartRejectsInvalidMnemonic(t *testing.T) {
	a := New(newStore(t), Config{Label: "bad", Mnemonic: "not a mnemonic", Endpoint: "http://localhost:1"})
	if err := a.Start(context.Background()); !errors.Is(err, wallet.ErrInvalidMnemonic) {
		t.Fatalf("Start() = %v, want ErrInvalidMnemonic", err)
	}
}

func TestDIDCommCredentialAndProof(t *testing.T) {
	ctx := context.Background()
	ledgerStore := newStore(t)
	issuer := startAgent(t, "issuer", issuerMnemonic, ledgerStore)
	holder := startAgent(t, "holder", holderMnemonic, ledgerStore)

	_, credDefID := issuerSetup(t, issuer)
	issuerConn, _ := connect(t, issuer, holder)

	offer, err := issuer.Credentials.OfferCredential(ctx, OfferOptions{
		ConnectionID: issuerConn,
		AnonCreds: &AnonCredsOffer{
			CredentialDefinitionID: credDefID,
			Attributes:             map[string]string{"name": "Alice", "score": "80"},
		},
	})
	if err != nil {
		t.Fatalf("OfferCredential() = %v", err)
	}
	if offer.State != CredStateOfferSent || offer.Role != CredRoleIssuer || offer.ConnectionID != issuerConn {
		t.Fatalf("offer record = %+v", offer)
	}

	held := onlyCredential(t, holder, CredRoleHolder)
	waitFor(t, "offer received", credentialState(holder, held.ID, CredStateOfferReceived))
	if _, err := holder.Credentials.AcceptOffer(ctx, held.ID); err != nil {
		t.Fatalf("AcceptOffer() = %v", err)
	}
	waitFor(t, "holder done", credentialState(holder, held.ID, CredStateDone))
	waitFor(t, "issuer done", credentialState(issuer, offer.ID, CredStateDone))

	creds, err := holder.Credentials.ListAnonCreds(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(creds) != 1 || creds[0].Values["score"] != "80" || creds[0].CredDefID != credDefID {
		t.Fatalf("wallet credentials = %+v", creds)
	}
	got, err := holder.Credentials.GetRecord(ctx, creds[0].ID)
	if err != nil {
		t.Fatalf("GetRecord() = %v", err)
	}
	if _, ok := got.(*wallet.AnonCredsRecord); !ok {
		t.Fatalf("GetRecord() = %T", got)
	}

	if _, err := issuer.Credentials.AcceptRequest(ctx, offer.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("AcceptRequest() on done record = %v, want ErrInvalidState", err)
	}

	req, err := issuer.Proofs.RequestProof(ctx, ProofRequestOptions{
		ConnectionID: issuerConn,
		Attributes:   []AttributeQuery{{Attribute: "name", Restrictions: []anoncreds.Restriction{{CredDefID: credDefID}}}},
		Predicates:   []PredicateQuery{{Attribute: "score", PType: ">=", PValue: 50}},
	})
	if err != nil {
		t.Fatalf("RequestProof() = %v", err)
	}
	prover := onlyProof(t, holder, ProofRoleProver)
	waitFor(t, "proof request received", proofState(holder, prover.ID, ProofStateRequestReceived))
	if _, err := holder.Proofs.AcceptRequest(ctx, prover.ID); err != nil {
		t.Fatalf("Proofs.AcceptRequest() = %v", err)
	}
	waitFor(t, "verifier done", proofState(issuer, req.ID, ProofStateDone))
	waitFor(t, "prover done", proofState(holder, prover.ID, ProofStateDone))

	verified, err := issuer.Proofs.Get(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if verified.IsVerified == nil || !*verified.IsVerified {
		t.Fatalf("IsVerified = %v", verified.IsVerified)
	}
	if v := verified.Presentation.RequestedProof.RevealedAttrs["attribute-0"].Raw; v != "Alice" {
		t.Fatalf("revealed name = %q", v)
	}

	stats, err := issuer.Connections.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 1 || stats.ByState[ConnStateCompleted] != 1 || len(stats.RecentConnections) != 1 {
		t.Fatalf("Stats() = %+v", stats)
	}
	st, err := holder.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Started || st.Connections != 1 || st.Credentials != 1 || st.Proofs != 1 {
		t.Fatalf("Status() = %+v", st)
	}
}

func TestJSONLDCredential(t *testing.T) {
	ctx := context.Background()
	ledgerStore := newStore(t)
	issuer := startAgent(t, "issuer", issuerMnemonic, ledgerStore)
	holder := startAgent(t, "holder", holderMnemonic, ledgerStore)

	issuerDID, _ := issuerSetup(t, issuer)
	issuerConn, _ := connect(t, issuer, holder)

	offer, err := issuer.Credentials.OfferCredential(ctx, OfferOptions{
		ConnectionID: issuerConn,
		JSONLD: &JSONLDOffer{
			IssuerDID:  issuerDID,
			SubjectDID: "did:key:z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK",
			Type:       []string{"ExamCredential"},
			Attributes: map[string]any{"score": 80},
			AdditionalData: map[string]any{
				"termsOfUse": map[string]any{"type": "IssuerPolicy", "id": "https://example.org/policy"},
			},
		},
	})
	if err != nil {
		t.Fatalf("OfferCredential() = %v", err)
	}
	if offer.Format != FormatJSONLD {
		t.Fatalf("format = %s", offer.Format)
	}

	held := onlyCredential(t, holder, CredRoleHolder)
	waitFor(t, "offer received", credentialState(holder, held.ID, CredStateOfferReceived))
	if _, err := holder.Credentials.AcceptOffer(ctx, held.ID); err != nil {
		t.Fatalf("AcceptOffer() = %v", err)
	}
	waitFor(t, "issuer done", credentialState(issuer, offer.ID, CredStateDone))

	w3c, err := holder.Credentials.ListW3C(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(w3c) != 1 || w3c[0].Format != vc.FormatLDJSON || w3c[0].Issuer != issuerDID {
		t.Fatalf("ListW3C() = %+v", w3c)
	}
	var stored vc.Credential
	if err := json.Unmarshal(w3c[0].Credential, &stored); err != nil {
		t.Fatal(err)
	}
	terms, _ := stored.Extra["termsOfUse"].(map[string]any)
	if terms["type"] != "IssuerPolicy" || stored.Proof == nil {
		t.Fatalf("stored credential = %s", w3c[0].Credential)
	}
}

func TestConnectionlessExchange(t *testing.T) {
	ctx := context.Background()
	ledgerStore := newStore(t)
	issuer := startAgent(t, "issuer", issuerMnemonic, ledgerStore)
	holder := startAgent(t, "holder", holderMnemonic, ledgerStore)
	_, credDefID := issuerSetup(t, issuer)

	offer, inv, err := issuer.Credentials.CreateOffer(ctx, OfferOptions{
		AnonCreds: &AnonCredsOffer{
			CredentialDefinitionID: credDefID,
			Attributes:             map[string]string{"name": "Bob", "score": "42"},
		},
	})
	if err != nil {
		t.Fatalf("CreateOffer() = %v", err)
	}
	if inv.AssociatedRecordID != offer.ID || len(inv.OutOfBandInvitation.Requests) != 1 {
		t.Fatalf("invitation = %+v", inv)
	}

	received, conn, err := holder.Connections.ReceiveInvitationFromURL(ctx, inv.InvitationURL)
	if err != nil {
		t.Fatalf("ReceiveInvitationFromURL() = %v", err)
	}
	if conn != nil || received.AssociatedRecordID == "" {
		t.Fatalf("received = %+v, connection = %+v", received, conn)
	}
	if _, err := holder.Credentials.AcceptOffer(ctx, received.AssociatedRecordID); err != nil {
		t.Fatalf("AcceptOffer() = %v", err)
	}
	waitFor(t, "holder done", credentialState(holder, received.AssociatedRecordID, CredStateDone))
	waitFor(t, "issuer done", credentialState(issuer, offer.ID, CredStateDone))

	sent, err := issuer.Connections.GetOutOfBand(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sent.State != OOBStateDone {
		t.Fatalf("invitation state = %s, want done", sent.State)
	}

	// A predicate the credential cannot satisfy is refused by the prover.
	_, strict, err := issuer.Proofs.CreateRequest(ctx, ProofRequestOptions{
		Predicates: []PredicateQuery{{Attribute: "score", PType: ">", PValue: 90}},
	})
	if err != nil {
		t.Fatalf("CreateRequest() = %v", err)
	}
	got, _, err := holder.Connections.ReceiveInvitationFromURL(ctx, strict.InvitationURL)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := holder.Proofs.AcceptRequest(ctx, got.AssociatedRecordID); !errors.Is(err, anoncreds.ErrNoMatchingCredential) {
		t.Fatalf("AcceptRequest() = %v, want ErrNoMatchingCredential", err)
	}

	req, lenient, err := issuer.Proofs.CreateRequest(ctx, ProofRequestOptions{
		Attributes: []AttributeQuery{{Attribute: "name"}},
		Predicates: []PredicateQuery{{Attribute: "score", PType: "<", PValue: 50}},
	})
	if err != nil {
		t.Fatalf("CreateRequest() = %v", err)
	}
	got, _, err = holder.Connections.ReceiveInvitationFromURL(ctx, lenient.InvitationURL)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := holder.Proofs.AcceptRequest(ctx, got.AssociatedRecordID); err != nil {
		t.Fatalf("AcceptRequest() = %v", err)
	}
	waitFor(t, "verifier done", proofState(issuer, req.ID, ProofStateDone))
	waitFor(t, "prover done", proofState(holder, got.AssociatedRecordID, ProofStateDone))
}

func TestConnectionlessRequestCarriesInvitationService(t *testing.T) {
	ctx := context.Background()
	ledgerStore := newStore(t)
	verifier := startAgent(t, "verifier", issuerMnemonic, ledgerStore)
	prover := startAgent(t, "prover", holderMnemonic, ledgerStore)

	_, inv, err := verifier.Proofs.CreateRequest(ctx, ProofRequestOptions{
		Attributes: []AttributeQuery{{Attribute: "name"}},
	})
	if err != nil {
		t.Fatalf("CreateRequest() = %v", err)
	}
	received, _, err := prover.Connections.ReceiveInvitationFromURL(ctx, inv.InvitationURL)
	if err != nil {
		t.Fatalf("ReceiveInvitationFromURL() = %v", err)
	}
	rec, err := prover.Proofs.Get(ctx, received.AssociatedRecordID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != ProofStateRequestReceived || rec.ConnectionID != "" {
		t.Fatalf("record = %+v", rec)
	}
	if rec.ReplyTo == nil || rec.ReplyTo.ServiceEndpoint != inv.OutOfBandInvitation.Services[0].ServiceEndpoint {
		t.Fatalf("reply to = %+v, want the invitation service", rec.ReplyTo)
	}
}

func TestOfferValidation(t *testing.T) {
	ctx := context.Background()
	issuer := startAgent(t, "issuer", issuerMnemonic, newStore(t))
	_, credDefID := issuerSetup(t, issuer)

	_, err := issuer.Credentials.OfferCredential(ctx, OfferOptions{
		ConnectionID: "missing",
		AnonCreds:    &AnonCredsOffer{CredentialDefinitionID: credDefID, Attributes: map[string]string{"name": "x", "score": "1"}},
	})
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("OfferCredential(unknown connection) = %v, want ErrRecordNotFound", err)
	}

	_, _, err = issuer.Credentials.CreateOffer(ctx, OfferOptions{
		AnonCreds: &AnonCredsOffer{CredentialDefinitionID: credDefID, Attributes: map[string]string{"name": "x"}},
	})
	if !errors.Is(err, anoncreds.ErrInvalidAttributes) {
		t.Fatalf("CreateOffer(missing attribute) = %v, want ErrInvalidAttributes", err)
	}

	_, _, err = issuer.Credentials.CreateOffer(ctx, OfferOptions{})
	if !errors.Is(err, ErrInvalidOffer) {
		t.Fatalf("CreateOffer(no format) = %v, want ErrInvalidOffer", err)
	}

	_, _, err = issuer.Credentials.CreateOffer(ctx, OfferOptions{
		JSONLD: &JSONLDOffer{IssuerDID: "did:cheqd:testnet:zzzzzzzzzzzzzzzzzzzzzz"},
	})
	if !errors.Is(err, ErrNotOwned) {
		t.Fatalf("CreateOffer(foreign issuer) = %v, want ErrNotOwned", err)
	}
}

func TestImportJWT(t *testing.T) {
	ctx := context.Background()
	a := startAgent(t, "holder", holderMnemonic, newStore(t))

	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 7
	priv := ed25519.NewKeyFromSeed(seed)
	issuer, err := did.NewKey(priv.Public().(ed25519.PublicKey))
	if err != nil {
		t.Fatal(err)
	}
	cred := &vc.Credential{
		Issuer:            vc.Issuer{ID: issuer},
		CredentialSubject: map[string]any{"id": "did:example:alice", "degree": "BSc"},
	}
	cred.Normalize(time.Now())
	token, err := vc.SignJWT(cred, issuer+"#"+did.DefaultKeyFragment, priv)
	if err != nil {
		t.Fatal(err)
	}

	rec, err := a.Credentials.ImportJWT(ctx, token)
	if err != nil {
		t.Fatalf("ImportJWT() = %v", err)
	}
	if rec.Format != vc.FormatJWT || rec.Encoded != token || rec.Issuer != issuer || rec.Subject != "did:example:alice" {
		t.Fatalf("ImportJWT() = %+v", rec)
	}
	got, err := a.Credentials.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if w, ok := got.(*wallet.W3CRecord); !ok || w.ID != rec.ID {
		t.Fatalf("GetRecord() = %+v", got)
	}
	if _, err := a.Credentials.GetRecord(ctx, "nope"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("GetRecord(nope) = %v, want ErrRecordNotFound", err)
	}
	if _, err := a.Credentials.ImportJWT(ctx, "not.a.jwt"); err == nil {
		t.Fatal("ImportJWT(garbage) succeeded")
	}
}

func TestSweepInvitations(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	a := startAgent(t, "issuer", issuerMnemonic, newStore(t), WithClock(clk.now))
	_, credDefID := issuerSetup(t, a)

	conn, err := a.Connections.CreateInvitation(ctx, InvitationOptions{})
	if err != nil {
		t.Fatal(err)
	}
	reusable, err := a.Connections.CreateInvitation(ctx, InvitationOptions{Reusable: true})
	if err != nil {
		t.Fatal(err)
	}
	offer, inv, err := a.Credentials.CreateOffer(ctx, OfferOptions{
		AnonCreds: &AnonCredsOffer{CredentialDefinitionID: credDefID, Attributes: map[string]string{"name": "x", "score": "1"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	if n, err := a.sweepInvitations(ctx); err != nil || n != 0 {
		t.Fatalf("sweep before TTL = %d, %v", n, err)
	}
	clk.advance(defaultInvitationTTL + time.Minute)
	if n, err := a.sweepInvitations(ctx); err != nil || n != 2 {
		t.Fatalf("sweep after TTL = %d, %v; want 2", n, err)
	}

	for _, id := range []string{conn.ID, inv.ID} {
		rec, err := a.Connections.GetOutOfBand(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if rec.State != OOBStateAbandoned {
			t.Fatalf("invitation %s state = %s, want abandoned", id, rec.State)
		}
	}
	rec, err := a.Connections.GetOutOfBand(ctx, reusable.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != OOBStateAwaitResponse {
		t.Fatalf("reusable invitation state = %s", rec.State)
	}
	got, err := a.Credentials.Get(ctx, offer.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != CredStateAbandoned || got.ErrorMessage == "" {
		t.Fatalf("offer after sweep = %+v", got)
	}
}
