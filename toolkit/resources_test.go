package toolkit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ggoodman/cheqd-mcp-toolkit/mcp"
	"github.com/ggoodman/cheqd-mcp-toolkit/mcpservice"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/agent"
)

func TestResourceListings(t *testing.T) {
	h := newHarness(t, "issuer", issuerMnemonic, newStore(t))
	issuerDID, schemaID, credDefID := h.publish(t)

	dids := h.read(t, "dids://wallet/all")
	if dids.MimeType != jsonMime || !strings.Contains(dids.Text, issuerDID) {
		t.Fatalf("dids://wallet/all = %+v", dids)
	}
	if !strings.Contains(dids.Text, "\n  ") {
		t.Fatalf("resource JSON is not indented: %q", dids.Text)
	}

	schemas := h.read(t, "anoncreds://schemas/cheqd/all")
	if !strings.Contains(schemas.Text, schemaID) {
		t.Fatalf("anoncreds://schemas/cheqd/all = %s", schemas.Text)
	}
	schema := h.read(t, "anoncreds://schemas/"+schemaID)
	if !strings.Contains(schema.Text, `"exam"`) {
		t.Fatalf("anoncreds://schemas/{id} = %s", schema.Text)
	}
	def := h.read(t, "anoncreds://credential-definitions/"+credDefID)
	if strings.Contains(def.Text, `"error"`) {
		t.Fatalf("anoncreds://credential-definitions/{id} = %s", def.Text)
	}

	for _, uri := range []string{"credentials://wallet/all", "credentials://exchange-records/all", "credential-proofs://all", "connections://out-of-band/all"} {
		if got := h.read(t, uri); got.MimeType != jsonMime {
			t.Fatalf("%s mime = %q", uri, got.MimeType)
		}
	}
	if got := h.read(t, "credentials://wallet/agent-identity"); got.Text != "[]" {
		t.Fatalf("credentials://wallet/agent-identity = %q, want []", got.Text)
	}

	var st struct {
		Label   string `json:"label"`
		Started bool   `json:"started"`
		DIDs    int    `json:"dids"`
	}
	if err := json.Unmarshal([]byte(h.read(t, "agent://status").Text), &st); err != nil {
		t.Fatal(err)
	}
	if st.Label != "issuer" || !st.Started || st.DIDs != 1 {
		t.Fatalf("agent://status = %+v", st)
	}
}

func TestResourceLookupMisses(t *testing.T) {
	h := newHarness(t, "issuer", issuerMnemonic, newStore(t))

	cases := map[string]string{
		"credentials://wallet/nope":      "Credential with ID nope not found",
		"credential-proofs://nope":       "Proof with ID nope not found",
		"connections://out-of-band/nope": "Connection not found",
		"anoncreds://schemas/did:cheqd:testnet:00000000-0000-0000-0000-000000000000/resources/00000000-0000-0000-0000-000000000001": "Schema with ID did:cheqd:testnet:00000000-0000-0000-0000-000000000000/resources/00000000-0000-0000-0000-000000000001 not found",
	}
	for uri, want := range cases {
		got := h.read(t, uri)
		var body struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(got.Text), &body); err != nil {
			t.Fatalf("%s: %v", uri, err)
		}
		if body.Error != want {
			t.Fatalf("%s error = %q, want %q", uri, body.Error, want)
		}
	}

	if _, err := h.resources.ReadResource(context.Background(), nopSession{}, "unknown://x"); !errors.Is(err, mcpservice.ErrResourceNotFound) {
		t.Fatalf("ReadResource(unknown) = %v, want ErrResourceNotFound", err)
	}
}

func TestResourceErrorsAreText(t *testing.T) {
	// An agent that was never started fails every query.
	idle := agent.New(newStore(t), agent.Config{Label: "idle", Mnemonic: issuerMnemonic, Endpoint: "http://localhost:1"})
	rc := mcpservice.NewResourcesContainer()
	if err := New(idle).RegisterResources(rc); err != nil {
		t.Fatal(err)
	}
	got, err := rc.ReadResource(context.Background(), nopSession{}, "credential-proofs://all")
	if err != nil {
		t.Fatalf("ReadResource() = %v", err)
	}
	if got[0].MimeType != textMime || !strings.HasPrefix(got[0].Text, "Error fetching Credential Proofs: ") {
		t.Fatalf("credential-proofs://all = %+v", got[0])
	}
	got, err = rc.ReadResource(context.Background(), nopSession{}, "connections://stats")
	if err != nil || !strings.HasPrefix(got[0].Text, "Error generating connection statistics: ") {
		t.Fatalf("connections://stats = %+v, %v", got, err)
	}
}

func TestPrompts(t *testing.T) {
	pc := mcpservice.NewPromptsContainer(Prompts()...)
	get := func(name string, args map[string]string) (*mcp.GetPromptResult, error) {
		return pc.GetPrompt(context.Background(), nopSession{}, &mcp.GetPromptRequestReceived{Name: name, Arguments: args})
	}

	if got := len(Prompts()); got != 14 {
		t.Fatalf("got %d prompts, want 14", got)
	}

	res, err := get("help", nil)
	if err != nil || len(res.Messages) != 1 || res.Messages[0].Role != mcp.RoleUser {
		t.Fatalf("help = %+v, %v", res, err)
	}

	res, err = get("create-schema-guide", map[string]string{
		"schemaName": "exam",
		"attributes": "name, score",
		"issuerId":   "did:cheqd:testnet:abc",
	})
	if err != nil {
		t.Fatalf("create-schema-guide: %v", err)
	}
	if text := res.Messages[0].Content.Text; !strings.Contains(text, "cheqd testnet") || !strings.Contains(text, "name, score") {
		t.Fatalf("create-schema-guide text = %q", text)
	}

	res, err = get("connectionless-credential-guide", map[string]string{
		"credentialDefinitionId": "did:cheqd:testnet:abc/resources/def",
		"attributes":             "name:Alice, score:80, broken",
	})
	if err != nil {
		t.Fatalf("connectionless-credential-guide: %v", err)
	}
	if text := res.Messages[0].Content.Text; !strings.Contains(text, "- name: Alice\n- score: 80\n") || strings.Contains(text, "broken") {
		t.Fatalf("connectionless-credential-guide text = %q", text)
	}

	res, err = get("troubleshoot", map[string]string{"issue": "did-creation", "details": "timeout"})
	if err != nil || !strings.HasPrefix(res.Messages[0].Content.Text, "I'm having trouble with did-creation: timeout") {
		t.Fatalf("troubleshoot = %+v, %v", res, err)
	}

	res, err = get("manage-connections", map[string]string{"action": "details"})
	if err != nil || !strings.Contains(res.Messages[0].Content.Text, "don't have its ID") {
		t.Fatalf("manage-connections details = %+v, %v", res, err)
	}

	invalid := []struct {
		name string
		args map[string]string
	}{
		{"create-did-guide", map[string]string{"network": "devnet"}},
		{"create-did-guide", nil},
		{"resolve-did", map[string]string{"did": "did:key:z6Mk"}},
		{"wallet-management", map[string]string{"operation": "delete"}},
		{"troubleshoot", map[string]string{"issue": "other"}},
	}
	for _, tc := range invalid {
		if _, err := get(tc.name, tc.args); !errors.Is(err, mcpservice.ErrInvalidPromptArguments) {
			t.Fatalf("%s(%v) = %v, want ErrInvalidPromptArguments", tc.name, tc.args, err)
		}
	}
}
