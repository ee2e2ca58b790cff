package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ggoodman/cheqd-mcp-toolkit/mcpservice"
	"github.com/ggoodman/cheqd-mcp-toolkit/sessions"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/agent"
)

const offerComment = "V2 Out of Band offer"

type anonCredsOfferArgs struct {
	CredentialDefinitionID string         `json:"credentialDefinitionId" jsonschema:"pattern=^did:cheqd:.+/resources/.+" jsonschema_description:"DID Url of credentialDefinitionId e.g. did:cheqd:testnet:4769f00d-0af4-472b-aab7-019abbbb8009/resources/5acb3d53-ba06-441a-b48b-07d8c2f129f8"`
	Attributes             map[string]any `json:"attributes" jsonschema_description:"Attribute values keyed by the attribute names of the schema linked to the credential definition"`
}

type statusArgs struct {
	StatusListName string `json:"statusListName"`
	StatusPurpose  string `json:"statusPurpose" jsonschema:"enum=revocation,enum=suspension"`
}

type jsonldOfferArgs struct {
	IssuerDID        string         `json:"issuerDid" jsonschema:"pattern=^did:cheqd:" jsonschema_description:"DID of the issuer; it must be controlled by this agent"`
	SubjectDID       string         `json:"subjectDid,omitempty" jsonschema_description:"DID of the credential subject"`
	Type             []string       `json:"type,omitempty" jsonschema_description:"Credential types added to VerifiableCredential"`
	Context          []string       `json:"context,omitempty" jsonschema_description:"JSON-LD contexts added to the W3C credentials context"`
	Attributes       map[string]any `json:"attributes,omitempty" jsonschema_description:"Claims about the subject"`
	ExpirationDate   string         `json:"expirationDate,omitempty" jsonschema:"format=date-time"`
	CredentialStatus *statusArgs    `json:"credentialStatus,omitempty"`

	// Additional holds the remaining properties, which become top-level
	// credential properties.
	Additional map[string]any `json:"-"`
}

// jsonldDropped are accepted for compatibility but not placed on the
// credential.
var jsonldDropped = []string{"credentialName", "credentialSummary", "credentialSchema", "format", "connector", "credentialId"}

type jsonldFields jsonldOfferArgs

func (a *jsonldOfferArgs) UnmarshalJSON(b []byte) error {
	var base jsonldFields
	if err := json.Unmarshal(b, &base); err != nil {
		return err
	}
	var rest map[string]any
	if err := json.Unmarshal(b, &rest); err != nil {
		return err
	}
	for _, k := range []string{"issuerDid", "subjectDid", "type", "context", "attributes", "expirationDate", "credentialStatus"} {
		delete(rest, k)
	}
	for _, k := range jsonldDropped {
		delete(rest, k)
	}
	*a = jsonldOfferArgs(base)
	a.Additional = nil
	if len(rest) > 0 {
		a.Additional = rest
	}
	return nil
}

// offerArgs accepts either a nested anoncreds or jsonld format, or the
// anoncreds fields at the top level.
type offerArgs struct {
	AnonCreds              *anonCredsOfferArgs `json:"anoncreds,omitempty" jsonschema_description:"AnonCreds credential format"`
	JSONLD                 *jsonldOfferArgs    `json:"jsonld,omitempty" jsonschema_description:"JSON-LD credential format"`
	CredentialDefinitionID string              `json:"credentialDefinitionId,omitempty" jsonschema_description:"DID Url of credentialDefinitionId, shorthand for anoncreds.credentialDefinitionId. You have the option to list the credential definitionIds with the other tool"`
	Attributes             map[string]any      `json:"attributes,omitempty" jsonschema_description:"Provide the list of attributes published in the schema linked to the provided credentialDefinitionId"`
}

type didcommOfferArgs struct {
	ConnectionID string `json:"connectionId" jsonschema_description:"Id of a completed connection record"`
	offerArgs
}

type credentialRecordArgs struct {
	CredentialRecordID string `json:"credentialRecordId" jsonschema_description:"Id of the credential exchange record"`
}

type credentialIDArgs struct {
	CredentialID string `json:"credentialId" jsonschema_description:"Id of a credential exchange record or a stored credential"`
}

type importArgs struct {
	JWT string `json:"jwt" jsonschema_description:"Compact serialized JWT verifiable credential"`
}

func (t *Toolkit) credentialTools() []mcpservice.StaticTool {
	return []mcpservice.StaticTool{
		mcpservice.NewTool("create-credential-offer-connectionless", t.createConnectionlessOffer,
			mcpservice.WithToolDescription("Creates a connectionless credential offer that can be accepted by any holder. Generates a QR code containing the offer URL, which can be scanned to initiate credential issuance. The response includes the QR code image, outOfBand record, and invitation details.")),
		mcpservice.NewTool("create-credential-offer-didcomm", t.createDIDCommOffer,
			mcpservice.WithToolDescription("Creates a credential offer for an existing DIDComm connection. The offer is automatically sent to the connected agent, who can accept it to receive the credential. Returns the credential record with details about the offer status.")),
		mcpservice.NewTool("list-credentials", t.listCredentials,
			mcpservice.WithToolDescription("Retrieves all credential records from the agent's wallet, providing a comprehensive list of all credentials with their states, attributes, and associated metadata.")),
		mcpservice.NewTool("list-credential-exchange-records", t.listExchangeRecords,
			mcpservice.WithToolDescription("Retrieves all credential exchange records from the agent's wallet, providing a comprehensive list of all credential exchanges with their states and associated metadata.")),
		mcpservice.NewTool("get-credential-record", t.getCredentialRecord,
			mcpservice.WithToolDescription("Retrieves a specific credential record from the wallet using its unique identifier. Returns detailed information about the credential, including its attributes, state, and associated metadata.")),
		mcpservice.NewTool("accept-credential-offer", t.acceptOffer,
			mcpservice.WithToolDescription("Accepts a credential offer from an issuer using the provided credential record ID. Automatically completes the credential exchange process and returns the updated credential record with the received credential details.")),
		mcpservice.NewTool("accept-credential-request", t.acceptRequest,
			mcpservice.WithToolDescription("Accepts a credential request from an holder using the provided credential record ID.")),
		mcpservice.NewTool("import-credential", t.importCredential,
			mcpservice.WithToolDescription("Import a jwt credential provided by the user.")),
	}
}

// offerOptions maps tool arguments onto the agent's offer options.
func offerOptions(args offerArgs) (agent.OfferOptions, error) {
	opts := agent.OfferOptions{Comment: offerComment}
	anon := args.AnonCreds
	if anon == nil && args.JSONLD == nil && args.CredentialDefinitionID != "" {
		anon = &anonCredsOfferArgs{CredentialDefinitionID: args.CredentialDefinitionID, Attributes: args.Attributes}
	}
	switch {
	case anon != nil:
		if err := checkResourceID("credentialDefinitionId", anon.CredentialDefinitionID); err != nil {
			return opts, err
		}
		attrs, err := stringValues(anon.Attributes)
		if err != nil {
			return opts, err
		}
		opts.AnonCreds = &agent.AnonCredsOffer{CredentialDefinitionID: anon.CredentialDefinitionID, Attributes: attrs}
	case args.JSONLD != nil:
		ld := args.JSONLD
		if err := checkCheqdDID("jsonld.issuerDid", ld.IssuerDID); err != nil {
			return opts, err
		}
		opts.JSONLD = &agent.JSONLDOffer{
			IssuerDID:      ld.IssuerDID,
			SubjectDID:     ld.SubjectDID,
			Type:           ld.Type,
			Context:        ld.Context,
			Attributes:     ld.Attributes,
			ExpirationDate: ld.ExpirationDate,
			AdditionalData: ld.Additional,
		}
		if ld.CredentialStatus != nil {
			opts.JSONLD.CredentialStatus = &agent.StatusOption{
				StatusListName: ld.CredentialStatus.StatusListName,
				StatusPurpose:  ld.CredentialStatus.StatusPurpose,
			}
		}
	default:
		return opts, fmt.Errorf("%w: Error credential format jsonld, anoncreds with arguments must be provided", ErrInvalidArgument)
	}
	return opts, nil
}

// stringValues renders attribute values as AnonCreds raw strings.
func stringValues(in map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch v := v.(type) {
		case string:
			out[k] = v
		case float64:
			out[k] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(v)
		default:
			return nil, fmt.Errorf("%w: attribute %q must be a string, number or boolean", ErrInvalidArgument, k)
		}
	}
	return out, nil
}

func (t *Toolkit) createConnectionlessOffer(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[offerArgs]) error {
	opts, err := offerOptions(r.Args())
	if err != nil {
		return fail(w, err)
	}
	_, oob, err := t.agent.Credentials.CreateOffer(ctx, opts)
	if err != nil {
		return fail(w, err)
	}
	return writeInvitation(w, oob.InvitationURL, oob, payloadFirst)
}

func (t *Toolkit) createDIDCommOffer(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[didcommOfferArgs]) error {
	args := r.Args()
	if err := checkRequired("connectionId", args.ConnectionID); err != nil {
		return fail(w, err)
	}
	opts, err := offerOptions(args.offerArgs)
	if err != nil {
		return fail(w, err)
	}
	opts.ConnectionID = args.ConnectionID
	rec, err := t.agent.Credentials.OfferCredential(ctx, opts)
	if err != nil {
		return fail(w, err)
	}
	return writeJSON(w, rec)
}

func (t *Toolkit) listCredentials(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, _ *mcpservice.ToolRequest[struct{}]) error {
	all, err := t.heldCredentials(ctx)
	if err != nil {
		return fail(w, err)
	}
	return writeJSON(w, all)
}

// heldCredentials lists W3C credentials followed by AnonCreds credentials.
func (t *Toolkit) heldCredentials(ctx context.Context) ([]any, error) {
	w3c, err := t.agent.Credentials.ListW3C(ctx)
	if err != nil {
		return nil, err
	}
	anon, err := t.agent.Credentials.ListAnonCreds(ctx)
	if err != nil {
		return nil, err
	}
	all := make([]any, 0, len(w3c)+len(anon))
	for _, c := range w3c {
		all = append(all, c)
	}
	for _, c := range anon {
		all = append(all, c)
	}
	return all, nil
}

func (t *Toolkit) listExchangeRecords(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, _ *mcpservice.ToolRequest[struct{}]) error {
	recs, err := t.agent.Credentials.List(ctx)
	if err != nil {
		return fail(w, err)
	}
	return writeJSON(w, recs)
}

func (t *Toolkit) getCredentialRecord(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[credentialIDArgs]) error {
	id := r.Args().CredentialID
	rec, err := t.agent.Credentials.GetRecord(ctx, id)
	if err != nil {
		w.SetError(true)
		b, merr := json.MarshalIndent(map[string]string{
			"error":        fmt.Sprintf("Credential with ID %s not found in any credential store", id),
			"status":       "failed",
			"credentialId": id,
		}, "", "  ")
		if merr != nil {
			return merr
		}
		t.log.DebugContext(ctx, "toolkit.credential.lookup_fail", "err", err.Error())
		return w.AppendText(string(b))
	}
	return writeJSON(w, rec)
}

func (t *Toolkit) acceptOffer(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[credentialRecordArgs]) error {
	rec, err := t.agent.Credentials.AcceptOffer(ctx, r.Args().CredentialRecordID)
	if err != nil {
		return fail(w, err)
	}
	return writeJSON(w, rec)
}

func (t *Toolkit) acceptRequest(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[credentialRecordArgs]) error {
	rec, err := t.agent.Credentials.AcceptRequest(ctx, r.Args().CredentialRecordID)
	if err != nil {
		return fail(w, err)
	}
	return writeJSON(w, rec)
}

func (t *Toolkit) importCredential(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[importArgs]) error {
	token := r.Args().JWT
	if err := checkRequired("jwt", token); err != nil {
		return fail(w, err)
	}
	rec, err := t.agent.Credentials.ImportJWT(ctx, token)
	if err != nil {
		return fail(w, err)
	}
	return writeJSON(w, rec)
}
