package toolkit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/cheqd-mcp-toolkit/mcp"
	"github.com/ggoodman/cheqd-mcp-toolkit/mcpservice"
	"github.com/ggoodman/cheqd-mcp-toolkit/sessions"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/agent"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/didcomm"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/vc"
	"github.com/ggoodman/cheqd-mcp-toolkit/storage"
	"github.com/ggoodman/cheqd-mcp-toolkit/storage/memory"
)

const (
	issuerMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	holderMnemonic = "legal winner thank year wave sausage worth useful legal winner thank yellow"
)

type nopSession struct{ sessions.Session }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newStore(t *testing.T) storage.Storage {
	t.Helper()
	s, err := memory.New(0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// harness is a started agent with its toolkit registered in containers.
type harness struct {
	agent     *agent.Agent
	tools     *mcpservice.ToolsContainer
	resources *mcpservice.ResourcesContainer
}

// newHarness runs an agent behind an httptest server. Harnesses built on
// the same ledger store see each other's DIDs.
func newHarness(t *testing.T, label, mnemonic string, ledgerStore storage.Storage) *harness {
	t.Helper()
	srv := httptest.NewUnstartedServer(nil)
	a := agent.New(newStore(t), agent.Config{
		Label:         label,
		Mnemonic:      mnemonic,
		Endpoint:      "http://" + srv.Listener.Addr().String(),
		SweepInterval: time.Hour,
	}, agent.WithLogger(quietLogger()), agent.WithLedgerStorage(ledgerStore))
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

	tk := New(a, WithLogger(quietLogger()))
	rc := mcpservice.NewResourcesContainer()
	if err := tk.RegisterResources(rc); err != nil {
		t.Fatalf("RegisterResources() = %v", err)
	}
	return &harness{agent: a, tools: mcpservice.NewToolsContainer(tk.Tools()...), resources: rc}
}

func (h *harness) call(t *testing.T, name string, args any) *mcp.CallToolResult {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatal(err)
	}
	res, err := h.tools.CallTool(context.Background(), nopSession{}, &mcp.CallToolRequestReceived{Name: name, Arguments: raw})
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return res
}

// mustCall calls a tool that must succeed and decodes its last text block
// into v.
func (h *harness) mustCall(t *testing.T, name string, args, v any) {
	t.Helper()
	res := h.call(t, name, args)
	if res.IsError {
		t.Fatalf("%s returned error: %s", name, textOf(res))
	}
	if v == nil {
		return
	}
	last := res.Content[len(res.Content)-1]
	if err := json.Unmarshal([]byte(last.Text), v); err != nil {
		t.Fatalf("%s: decode %q: %v", name, last.Text, err)
	}
}

func (h *harness) read(t *testing.T, uri string) mcp.ResourceContents {
	t.Helper()
	got, err := h.resources.ReadResource(context.Background(), nopSession{}, uri)
	if err != nil {
		t.Fatalf("ReadResource(%s) = %v", uri, err)
	}
	if len(got) != 1 {
		t.Fatalf("ReadResource(%s) returned %d contents", uri, len(got))
	}
	return got[0]
}

func textOf(res *mcp.CallToolResult) string {
	var parts []string
	for _, b := range res.Content {
		if b.Type == mcp.ContentTypeText {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
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

type didResult struct {
	DIDState struct {
		State string `json:"state"`
		DID   string `json:"did"`
	} `json:"didState"`
}

// publish creates a DID, a schema and a credential definition through the
// tools.
func (h *harness) publish(t *testing.T) (issuerDID, schemaID, credDefID string) {
	t.Helper()
	var d didResult
	h.mustCall(t, "create-did", map[string]any{"network": "testnet"}, &d)
	if d.DIDState.State != "finished" || !strings.HasPrefix(d.DIDState.DID, "did:cheqd:testnet:") {
		t.Fatalf("create-did = %+v", d)
	}
	var s struct {
		SchemaState registration `json:"schemaState"`
	}
	h.mustCall(t, "create-schema", map[string]any{
		"schema": map[string]any{
			"issuerId":  d.DIDState.DID,
			"name":      "exam",
			"version":   "1.0",
			"attrNames": []string{"name", "score"},
		},
		"options": map[string]any{"network": "testnet"},
	}, &s)
	if s.SchemaState.State != "finished" || !strings.Contains(s.SchemaState.SchemaID, "/resources/") {
		t.Fatalf("create-schema = %+v", s)
	}
	var cd struct {
		CredentialDefinitionState registration `json:"credentialDefinitionState"`
	}
	h.mustCall(t, "create-credential-definition", map[string]any{
		"credentialDefinition": map[string]any{
			"issuerId": d.DIDState.DID,
			"schemaId": s.SchemaState.SchemaID,
			"tag":      "default",
		},
	}, &cd)
	if cd.CredentialDefinitionState.State != "finished" || cd.CredentialDefinitionState.CredentialDefinitionID == "" {
		t.Fatalf("create-credential-definition = %+v", cd)
	}
	return d.DIDState.DID, s.SchemaState.SchemaID, cd.CredentialDefinitionState.CredentialDefinitionID
}

func TestToolNames(t *testing.T) {
	want := []string{
		"resolve-did", "create-did", "update-did", "deactivate-did", "list-did",
		"resolve-did-linked-resource", "create-did-linked-resource",
		"list-schema", "get-schema", "create-schema",
		"list-credential-definition", "get-credential-definition", "create-credential-definition",
		"create-connection-invitation-didcomm", "accept-connection-invitation-didcomm",
		"list-connections-didcomm", "get-connection-record-didcomm",
		"create-credential-offer-connectionless", "create-credential-offer-didcomm",
		"list-credentials", "list-credential-exchange-records", "get-credential-record",
		"accept-credential-offer", "accept-credential-request", "import-credential",
		"create-proof-request-connectionless", "create-proof-request-didcomm",
		"list-proof-records", "get-proof-record", "accept-proof-request",
	}
	tools := New(nil).Tools()
	if len(tools) != len(want) {
		t.Fatalf("got %d tools, want %d", len(tools), len(want))
	}
	for i, tool := range tools {
		if tool.Descriptor.Name != want[i] {
			t.Fatalf("tool %d = %q, want %q", i, tool.Descriptor.Name, want[i])
		}
		if tool.Descriptor.Description == "" {
			t.Fatalf("tool %q has no description", tool.Descriptor.Name)
		}
	}

	withTrain := New(nil, WithAccreditor(fakeAccreditor{})).Tools()
	if got := withTrain[len(withTrain)-1].Descriptor.Name; got != "resolveAccreditation" {
		t.Fatalf("last tool = %q, want resolveAccreditation", got)
	}
}

func TestDIDTools(t *testing.T) {
	h := newHarness(t, "issuer", issuerMnemonic, newStore(t))

	var created didResult
	h.mustCall(t, "create-did", map[string]any{"network": "testnet"}, &created)
	id := created.DIDState.DID

	var resolved struct {
		DIDDocument struct {
			ID string `json:"id"`
		} `json:"didDocument"`
		DIDDocumentMetadata struct {
			Deactivated bool `json:"deactivated"`
		} `json:"didDocumentMetadata"`
	}
	h.mustCall(t, "resolve-did", map[string]any{"did": id}, &resolved)
	if resolved.DIDDocument.ID != id {
		t.Fatalf("resolve-did id = %q, want %q", resolved.DIDDocument.ID, id)
	}

	var listed []struct {
		DID string `json:"did"`
	}
	h.mustCall(t, "list-did", nil, &listed)
	if len(listed) != 1 || listed[0].DID != id {
		t.Fatalf("list-did = %+v", listed)
	}

	h.mustCall(t, "deactivate-did", map[string]any{"did": id}, nil)
	h.mustCall(t, "resolve-did", map[string]any{"did": id}, &resolved)
	if !resolved.DIDDocumentMetadata.Deactivated {
		t.Fatalf("resolve-did after deactivate: not deactivated")
	}
}

func TestArgumentValidation(t *testing.T) {
	h := newHarness(t, "issuer", issuerMnemonic, newStore(t))

	cases := []struct {
		name string
		tool string
		args any
		want string
	}{
		{"unknown network", "create-did", map[string]any{"network": "devnet"}, "invalid arguments"},
		{"missing network", "create-did", map[string]any{}, `missing required field "network"`},
		{"non cheqd did", "resolve-did", map[string]any{"did": "did:key:z6Mk"}, `must start with "did:cheqd:"`},
		{"schema id without resources", "get-schema", map[string]any{"schemaId": "did:cheqd:testnet:abc"}, "/resources/"},
		{"unknown field", "list-did", map[string]any{"extra": true}, "invalid arguments"},
		{"offer without format", "create-credential-offer-connectionless", map[string]any{}, "Error credential format jsonld, anoncreds with arguments must be provided"},
		{"bad predicate", "create-proof-request-connectionless", map[string]any{
			"requestedAttributes": []any{},
			"requestedPredicates": []any{map[string]any{"attribute": "score", "p_type": "!=", "p_value": 1}},
		}, "p_type"},
		{"connection lookup without ids", "get-connection-record-didcomm", map[string]any{}, "outOfBandId or connectionId is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := h.call(t, tc.tool, tc.args)
			if !res.IsError {
				t.Fatalf("expected error result, got %s", textOf(res))
			}
			if !strings.Contains(textOf(res), tc.want) {
				t.Fatalf("error %q does not mention %q", textOf(res), tc.want)
			}
		})
	}
}

func TestDIDLinkedResourceTools(t *testing.T) {
	h := newHarness(t, "issuer", issuerMnemonic, newStore(t))
	var d didResult
	h.mustCall(t, "create-did", map[string]any{"network": "testnet"}, &d)

	var created struct {
		Resource         string `json:"resource"`
		ResourceMetadata struct {
			ResourceURI string `json:"resourceURI"`
			MediaType   string `json:"mediaType"`
		} `json:"resourceMetadata"`
	}
	h.mustCall(t, "create-did-linked-resource", map[string]any{
		"did":          d.DIDState.DID,
		"name":         "greeting",
		"resourceType": "Note",
		"data":         "hello world",
	}, &created)
	if created.Resource != "hello world" || created.ResourceMetadata.MediaType != "text/plain" {
		t.Fatalf("create-did-linked-resource = %+v", created)
	}

	var resolved struct {
		Resource string `json:"resource"`
	}
	h.mustCall(t, "resolve-did-linked-resource", map[string]any{"didUrl": created.ResourceMetadata.ResourceURI}, &resolved)
	if resolved.Resource != "hello world" {
		t.Fatalf("resolve-did-linked-resource = %+v", resolved)
	}
}

func TestAnonCredsTools(t *testing.T) {
	h := newHarness(t, "issuer", issuerMnemonic, newStore(t))
	_, schemaID, credDefID := h.publish(t)

	var schemas []struct {
		SchemaID string `json:"schemaId"`
	}
	h.mustCall(t, "list-schema", nil, &schemas)
	if len(schemas) != 1 || schemas[0].SchemaID != schemaID {
		t.Fatalf("list-schema = %+v", schemas)
	}
	res := h.call(t, "get-schema", map[string]any{"schemaId": schemaID})
	if res.IsError || !strings.Contains(textOf(res), `"exam"`) {
		t.Fatalf("get-schema = %s", textOf(res))
	}

	var defs []struct {
		CredentialDefinitionID string `json:"credentialDefinitionId"`
	}
	h.mustCall(t, "list-credential-definition", nil, &defs)
	if len(defs) != 1 || defs[0].CredentialDefinitionID != credDefID {
		t.Fatalf("list-credential-definition = %+v", defs)
	}
	if res := h.call(t, "get-credential-definition", map[string]any{"credentialDefinitionId": credDefID}); res.IsError {
		t.Fatalf("get-credential-definition = %s", textOf(res))
	}
}

func TestConnectionCredentialAndProofTools(t *testing.T) {
	ledgerStore := newStore(t)
	issuer := newHarness(t, "issuer", issuerMnemonic, ledgerStore)
	holder := newHarness(t, "holder", holderMnemonic, ledgerStore)
	_, _, credDefID := issuer.publish(t)

	inv := issuer.call(t, "create-connection-invitation-didcomm", nil)
	if inv.IsError || len(inv.Content) != 3 {
		t.Fatalf("create-connection-invitation-didcomm = %+v", inv)
	}
	if inv.Content[0].Type != mcp.ContentTypeImage || inv.Content[0].MimeType != "image/png" || inv.Content[0].Data == "" {
		t.Fatalf("first block = %+v, want a PNG image", inv.Content[0])
	}
	msg := inv.Content[1].Text
	if !strings.HasPrefix(msg, "Invitation created successfully.\n\nConnection URL: ") {
		t.Fatalf("invitation text = %q", msg)
	}
	url := strings.TrimPrefix(strings.SplitN(msg, "\n\n", 3)[1], "Connection URL: ")

	var accepted struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	holder.mustCall(t, "accept-connection-invitation-didcomm", map[string]any{"invitationUrl": url}, &accepted)
	waitFor(t, "holder connection completed", func() bool {
		c, err := holder.agent.Connections.Get(context.Background(), accepted.ID)
		return err == nil && c.State == agent.ConnStateCompleted
	})

	var oobs []struct {
		ID string `json:"id"`
	}
	issuer.mustCall(t, "list-connections-didcomm", nil, &oobs)
	if len(oobs) != 1 {
		t.Fatalf("list-connections-didcomm = %+v", oobs)
	}
	var issuerConn struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	waitFor(t, "issuer connection completed", func() bool {
		res := issuer.call(t, "get-connection-record-didcomm", map[string]any{"outOfBandId": oobs[0].ID})
		if res.IsError {
			return false
		}
		_ = json.Unmarshal([]byte(textOf(res)), &issuerConn)
		return issuerConn.State == agent.ConnStateCompleted
	})

	issuer.mustCall(t, "create-credential-offer-didcomm", map[string]any{
		"connectionId": issuerConn.ID,
		"anoncreds": map[string]any{
			"credentialDefinitionId": credDefID,
			"attributes":             map[string]any{"name": "Alice", "score": 80},
		},
	}, nil)

	var heldID string
	waitFor(t, "offer received", func() bool {
		var recs []struct {
			ID    string `json:"id"`
			State string `json:"state"`
		}
		res := holder.call(t, "list-credential-exchange-records", nil)
		if err := json.Unmarshal([]byte(textOf(res)), &recs); err != nil || len(recs) != 1 {
			return false
		}
		heldID = recs[0].ID
		return recs[0].State == agent.CredStateOfferReceived
	})
	holder.mustCall(t, "accept-credential-offer", map[string]any{"credentialRecordId": heldID}, nil)
	waitFor(t, "credential stored", func() bool {
		c, err := holder.agent.Credentials.Get(context.Background(), heldID)
		return err == nil && c.State == agent.CredStateDone
	})

	var held []struct {
		ID         string            `json:"credentialId"`
		Attributes map[string]string `json:"attributes"`
	}
	holder.mustCall(t, "list-credentials", nil, &held)
	if len(held) != 1 || held[0].Attributes["score"] != "80" {
		t.Fatalf("list-credentials = %+v", held)
	}
	if res := holder.call(t, "get-credential-record", map[string]any{"credentialId": held[0].ID}); res.IsError {
		t.Fatalf("get-credential-record = %s", textOf(res))
	}
	missing := holder.call(t, "get-credential-record", map[string]any{"credentialId": "nope"})
	if !missing.IsError || !strings.Contains(textOf(missing), `"status": "failed"`) {
		t.Fatalf("get-credential-record(nope) = %s", textOf(missing))
	}
	cred := holder.read(t, "credentials://wallet/"+held[0].ID)
	if cred.MimeType != jsonMime || !strings.Contains(cred.Text, "Alice") {
		t.Fatalf("credentials://wallet/{id} = %+v", cred)
	}

	var req struct {
		ID string `json:"id"`
	}
	issuer.mustCall(t, "create-proof-request-didcomm", map[string]any{
		"connectionId":        issuerConn.ID,
		"requestedAttributes": []any{map[string]any{"attribute": "name", "restrictions": []any{map[string]any{"cred_def_id": credDefID}}}},
		"requestedPredicates": []any{map[string]any{"attribute": "score", "p_type": ">=", "p_value": 50}},
	}, &req)

	var proverID string
	waitFor(t, "proof request received", func() bool {
		recs, err := holder.agent.Proofs.List(context.Background())
		if err != nil || len(recs) != 1 {
			return false
		}
		proverID = recs[0].ID
		return recs[0].State == agent.ProofStateRequestReceived
	})
	holder.mustCall(t, "accept-proof-request", map[string]any{"proofRecordId": proverID}, nil)
	waitFor(t, "proof verified", func() bool {
		var rec struct {
			State      string `json:"state"`
			IsVerified *bool  `json:"isVerified"`
		}
		res := issuer.call(t, "get-proof-record", map[string]any{"proofRecordId": req.ID})
		if err := json.Unmarshal([]byte(textOf(res)), &rec); err != nil {
			return false
		}
		return rec.State == agent.ProofStateDone && rec.IsVerified != nil && *rec.IsVerified
	})

	var proofs []json.RawMessage
	issuer.mustCall(t, "list-proof-records", nil, &proofs)
	if len(proofs) != 1 {
		t.Fatalf("list-proof-records = %d records", len(proofs))
	}

	stats := issuer.read(t, "connections://stats")
	var st struct {
		Total   int            `json:"total"`
		ByState map[string]int `json:"byState"`
	}
	if err := json.Unmarshal([]byte(stats.Text), &st); err != nil {
		t.Fatal(err)
	}
	if st.Total != 1 || st.ByState[agent.ConnStateCompleted] != 1 {
		t.Fatalf("connections://stats = %s", stats.Text)
	}
	byOOB := issuer.read(t, "connections://out-of-band/"+oobs[0].ID)
	if !strings.Contains(byOOB.Text, issuerConn.ID) {
		t.Fatalf("connections://out-of-band/{id} = %s", byOOB.Text)
	}
}

func TestConnectionlessOfferTool(t *testing.T) {
	h := newHarness(t, "issuer", issuerMnemonic, newStore(t))
	_, _, credDefID := h.publish(t)

	res := h.call(t, "create-credential-offer-connectionless", map[string]any{
		"credentialDefinitionId": credDefID,
		"attributes":             map[string]any{"name": "Bob", "score": "71"},
	})
	if res.IsError || len(res.Content) != 3 {
		t.Fatalf("create-credential-offer-connectionless = %s", textOf(res))
	}
	first := res.Content[0]
	switch first.Type {
	case mcp.ContentTypeImage:
		if first.MimeType != "image/png" {
			t.Fatalf("image mime = %q", first.MimeType)
		}
	case mcp.ContentTypeText:
		if first.Text != ErrQRTooLarge.Error() {
			t.Fatalf("first block = %q", first.Text)
		}
	default:
		t.Fatalf("unexpected first block %+v", first)
	}
	var oob struct {
		InvitationURL      string `json:"invitationUrl"`
		AssociatedRecordID string `json:"associatedRecordId"`
	}
	if err := json.Unmarshal([]byte(res.Content[1].Text), &oob); err != nil {
		t.Fatal(err)
	}
	if oob.InvitationURL == "" || oob.AssociatedRecordID == "" {
		t.Fatalf("out-of-band record = %+v", oob)
	}
	if !strings.HasPrefix(res.Content[2].Text, "Invitation created successfully.") || !strings.Contains(res.Content[2].Text, oob.InvitationURL) {
		t.Fatalf("invitation text = %q", res.Content[2].Text)
	}
}

func TestJSONLDOfferAdditionalData(t *testing.T) {
	var args offerArgs
	err := json.Unmarshal([]byte(`{"jsonld":{
		"issuerDid":"did:cheqd:testnet:4769f00d-0af4-472b-aab7-019abbbb8009",
		"attributes":{"score":80},
		"credentialName":"Exam",
		"termsOfUse":{"type":"IssuerPolicy"}
	}}`), &args)
	if err != nil {
		t.Fatal(err)
	}
	opts, err := offerOptions(args)
	if err != nil {
		t.Fatalf("offerOptions() = %v", err)
	}
	extra := opts.JSONLD.AdditionalData
	if len(extra) != 1 || extra["termsOfUse"] == nil {
		t.Fatalf("additional data = %#v", extra)
	}
	if opts.JSONLD.Attributes["score"] != float64(80) {
		t.Fatalf("attributes = %#v", opts.JSONLD.Attributes)
	}

	h := newHarness(t, "issuer", issuerMnemonic, newStore(t))
	var d didResult
	h.mustCall(t, "create-did", map[string]any{"network": "testnet"}, &d)
	res := h.call(t, "create-credential-offer-connectionless", map[string]any{
		"jsonld": map[string]any{
			"issuerDid":  d.DIDState.DID,
			"attributes": map[string]any{"score": 80},
			"termsOfUse": map[string]any{"type": "IssuerPolicy"},
		},
	})
	if res.IsError || len(res.Content) != 3 {
		t.Fatalf("create-credential-offer-connectionless = %s", textOf(res))
	}
	var oob struct {
		AssociatedRecordID string `json:"associatedRecordId"`
	}
	if err := json.Unmarshal([]byte(res.Content[1].Text), &oob); err != nil {
		t.Fatal(err)
	}
	rec, err := h.agent.Credentials.Get(context.Background(), oob.AssociatedRecordID)
	if err != nil {
		t.Fatal(err)
	}
	att, ok := didcomm.FindAttachment(rec.Offer.Formats, rec.Offer.Offers, didcomm.FormatLDProofDetail)
	if !ok {
		t.Fatalf("offer lacks its ld-proof detail")
	}
	var detail struct {
		Credential vc.Credential `json:"credential"`
	}
	if err := att.Decode(&detail); err != nil {
		t.Fatal(err)
	}
	if terms, _ := detail.Credential.Extra["termsOfUse"].(map[string]any); terms["type"] != "IssuerPolicy" {
		t.Fatalf("offered credential extra = %#v", detail.Credential.Extra)
	}
}

func TestImportCredentialTool(t *testing.T) {
	h := newHarness(t, "holder", holderMnemonic, newStore(t))
	res := h.call(t, "import-credential", map[string]any{"jwt": "not-a-jwt"})
	if !res.IsError {
		t.Fatalf("import-credential accepted garbage: %s", textOf(res))
	}
	res = h.call(t, "import-credential", map[string]any{"jwt": " "})
	if !res.IsError || !strings.Contains(textOf(res), "jwt is required") {
		t.Fatalf("import-credential blank = %s", textOf(res))
	}
}

type fakeAccreditor struct {
	verdict json.RawMessage
	gotDID  *string
}

func (f fakeAccreditor) ResolveAccreditation(_ context.Context, id, _ string) (json.RawMessage, error) {
	if f.gotDID != nil {
		*f.gotDID = id
	}
	return f.verdict, nil
}
