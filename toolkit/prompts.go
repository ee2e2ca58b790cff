package toolkit

import (
	"context"
	"fmt"
	"strings"

	"github.com/ggoodman/cheqd-mcp-toolkit/mcp"
	"github.com/ggoodman/cheqd-mcp-toolkit/mcpservice"
	"github.com/ggoodman/cheqd-mcp-toolkit/sessions"
)

type createDIDPromptArgs struct {
	Network string `json:"network" jsonschema_description:"Network to create the DID on (testnet or mainnet)"`
}

type resolveDIDPromptArgs struct {
	DID string `json:"did" jsonschema_description:"DID to resolve"`
}

type schemaPromptArgs struct {
	SchemaName string `json:"schemaName" jsonschema_description:"Name for the schema"`
	Attributes string `json:"attributes" jsonschema_description:"Comma-separated list of attributes"`
	IssuerID   string `json:"issuerId" jsonschema_description:"DID of the issuer"`
	Network    string `json:"network,omitempty" jsonschema_description:"Network to create the schema on, testnet when omitted"`
}

type credDefPromptArgs struct {
	SchemaID string `json:"schemaId" jsonschema_description:"ID of the schema to use for the credential definition"`
	Tag      string `json:"tag" jsonschema_description:"Tag for the credential definition (e.g., \"default\")"`
}

type verificationPromptArgs struct {
	CredentialType         string `json:"credentialType" jsonschema_description:"Type of credential to verify (e.g., \"diploma\", \"license\")"`
	AttributesToCheck      string `json:"attributesToCheck" jsonschema_description:"Specific attributes to verify (comma-separated)"`
	CredentialDefinitionID string `json:"credentialDefinitionId,omitempty" jsonschema_description:"Optional credential definition ID to restrict the verification to"`
	IssuerDID              string `json:"issuerDid,omitempty" jsonschema_description:"Optional issuer DID to restrict verification to credentials from this issuer"`
}

type connectionlessPromptArgs struct {
	CredentialDefinitionID string `json:"credentialDefinitionId" jsonschema_description:"The DID URL of the credential definition to use"`
	Attributes             string `json:"attributes" jsonschema_description:"Comma-separated list of attribute:value pairs"`
	SchemaName             string `json:"schemaName,omitempty" jsonschema_description:"Optional name of the schema for better guidance"`
	ExpiryDate             string `json:"expiryDate,omitempty" jsonschema_description:"Optional expiry date for the credential (ISO format)"`
}

type connectionsPromptArgs struct {
	Action       string `json:"action" jsonschema_description:"Connection action: create, list, or details"`
	ConnectionID string `json:"connectionId,omitempty" jsonschema_description:"Connection ID (required for details)"`
}

type troubleshootPromptArgs struct {
	Issue   string `json:"issue" jsonschema_description:"Type of issue: connection-failed, credential-issuance, proof-verification, did-creation or schema-creation"`
	Details string `json:"details,omitempty" jsonschema_description:"Additional details about the issue"`
}

type revocationPromptArgs struct {
	CredentialID string `json:"credentialId,omitempty" jsonschema_description:"ID of the credential to revoke"`
	Reason       string `json:"reason,omitempty" jsonschema_description:"Reason for revocation"`
}

type workflowPromptArgs struct {
	UseCase    string `json:"useCase" jsonschema_description:"The specific use case (e.g., \"education credentials\", \"membership cards\")"`
	Attributes string `json:"attributes,omitempty" jsonschema_description:"Optional comma-separated list of credential attributes"`
}

type walletPromptArgs struct {
	Operation string `json:"operation" jsonschema_description:"Wallet operation: backup, restore, or migrate"`
}

// Prompts returns the guided workflow prompts.
func Prompts() []mcpservice.StaticPrompt {
	return []mcpservice.StaticPrompt{
		mcpservice.NewPrompt("help", "Overview of the toolkit and how to use it", helpPrompt),
		mcpservice.NewPrompt("create-did-guide", "Guide for creating a DID on the cheqd network", createDIDPrompt),
		mcpservice.NewPrompt("resolve-did", "Guide for resolving a DID on the cheqd network", resolveDIDPrompt),
		mcpservice.NewPrompt("explain-credential-workflow", "A comprehensive guide to the credential issuance workflow", credentialWorkflowPrompt),
		mcpservice.NewPrompt("create-schema-guide", "Interactive guide for creating a credential schema", createSchemaPrompt),
		mcpservice.NewPrompt("explain-schemas", "Explain the schemas created by this agent", explainSchemasPrompt),
		mcpservice.NewPrompt("create-credential-definition-guide", "Guide for creating a credential definition from a schema", createCredDefPrompt),
		mcpservice.NewPrompt("verification-request-guide", "Guide for requesting credential verification", verificationPrompt),
		mcpservice.NewPrompt("connectionless-credential-guide", "Guide for creating a connectionless credential offer", connectionlessPrompt),
		mcpservice.NewPrompt("manage-connections", "Create, list or inspect DIDComm connections", connectionsPrompt),
		mcpservice.NewPrompt("troubleshoot", "Diagnose a failing SSI operation", troubleshootPrompt),
		mcpservice.NewPrompt("credential-revocation-guide", "Guide for revoking a credential", revocationPrompt),
		mcpservice.NewPrompt("complete-ssi-workflow", "End-to-end guide for an SSI use case", workflowPrompt),
		mcpservice.NewPrompt("wallet-management", "Backup, restore or migrate the agent wallet", walletPrompt),
	}
}

// oneOf rejects v unless it is one of allowed.
func oneOf(name, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s must be one of %s", mcpservice.ErrInvalidPromptArguments, name, strings.Join(allowed, ", "))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func bullets(items []string) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = "- " + it
	}
	return strings.Join(lines, "\n")
}

func helpPrompt(context.Context, sessions.Session, struct{}) ([]mcp.PromptMessage, error) {
	return mcpservice.UserText(`I'm working with the cheqd MCP toolkit and want a guide to using it well.

Please tell me:
1. What the toolkit can do
2. The main workflows it supports, such as creating DIDs, schemas and credentials
3. Short examples of common operations
4. Which tools and resources are available
5. How to troubleshoot common problems`), nil
}

func createDIDPrompt(_ context.Context, _ sessions.Session, a createDIDPromptArgs) ([]mcp.PromptMessage, error) {
	if err := oneOf("network", a.Network, "testnet", "mainnet"); err != nil {
		return nil, err
	}
	return mcpservice.UserText(fmt.Sprintf(`I want to create a new decentralized identifier (DID) on the cheqd %s.

Please:
1. Create the DID with the create-did tool
2. Show me the resulting DID document
3. Explain its verification methods and other key parts
4. Describe how I can use this DID to create schemas and issue credentials`, a.Network)), nil
}

func resolveDIDPrompt(_ context.Context, _ sessions.Session, a resolveDIDPromptArgs) ([]mcp.PromptMessage, error) {
	if !strings.HasPrefix(a.DID, cheqdPrefix) {
		return nil, fmt.Errorf("%w: did must start with %q", mcpservice.ErrInvalidPromptArguments, cheqdPrefix)
	}
	return mcpservice.UserText(fmt.Sprintf(`I need to resolve this DID: %s

Please:
1. Fetch the DID document with the resolve-did tool
2. Explain the key parts of the document
3. Tell me whether the DID is active and usable`, a.DID)), nil
}

func credentialWorkflowPrompt(context.Context, sessions.Session, struct{}) ([]mcp.PromptMessage, error) {
	return mcpservice.UserText(`I'm new to verifiable credentials and want to understand the whole flow.

Please explain:
1. How credentials are created, issued and verified end to end
2. The components involved: DIDs, schemas and credential definitions
3. What each component is for
4. A step-by-step example using the toolkit's tools
5. Good practice for issuance and verification`), nil
}

func createSchemaPrompt(_ context.Context, _ sessions.Session, a schemaPromptArgs) ([]mcp.PromptMessage, error) {
	network := a.Network
	if network == "" {
		network = "testnet"
	}
	if err := oneOf("network", network, "testnet", "mainnet"); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(a.IssuerID, cheqdPrefix) {
		return nil, fmt.Errorf("%w: issuerId must start with %q", mcpservice.ErrInvalidPromptArguments, cheqdPrefix)
	}
	return mcpservice.UserText(fmt.Sprintf(`I need to create a credential schema named %s on the cheqd %s.

Attributes: %s
Issuer DID: %s

Please:
1. Create the schema with the create-schema tool
2. Create a credential definition for it
3. Show me the schema ID and the credential definition ID
4. Explain how to issue credentials with them`, a.SchemaName, network, strings.Join(splitList(a.Attributes), ", "), a.IssuerID)), nil
}

func explainSchemasPrompt(context.Context, sessions.Session, struct{}) ([]mcp.PromptMessage, error) {
	return mcpservice.UserText(`I'd like to understand the credential schemas I've created.

Please:
1. List my schemas with the list-schema tool
2. Explain what each one is for based on its attributes
3. Show me how to fetch the full details of one schema
4. Explain how schemas relate to credential definitions`), nil
}

func createCredDefPrompt(_ context.Context, _ sessions.Session, a credDefPromptArgs) ([]mcp.PromptMessage, error) {
	return mcpservice.UserText(fmt.Sprintf(`I want to create a credential definition for schema %s with tag %q.`, a.SchemaID, a.Tag)), nil
}

func verificationPrompt(_ context.Context, _ sessions.Session, a verificationPromptArgs) ([]mcp.PromptMessage, error) {
	if a.IssuerDID != "" && !strings.HasPrefix(a.IssuerDID, cheqdPrefix) {
		return nil, fmt.Errorf("%w: issuerDid must start with %q", mcpservice.ErrInvalidPromptArguments, cheqdPrefix)
	}
	var limits []string
	if a.CredentialDefinitionID != "" {
		limits = append(limits, fmt.Sprintf("specific credential definition (%s)", a.CredentialDefinitionID))
	}
	if a.IssuerDID != "" {
		limits = append(limits, "credentials issued by "+a.IssuerDID)
	}
	restricted := ""
	if len(limits) > 0 {
		restricted = " with restrictions to " + strings.Join(limits, " and ")
	}
	return mcpservice.UserText(fmt.Sprintf(`I need to create a verification request for a %s credential%s.

Attributes to verify:
%s

Please walk me through:
1. Connecting with the credential holder
2. Creating a proof request for exactly these attributes
3. Reading the verification result
4. Keeping the exchange private and secure
5. Handling errors and edge cases

Include the exact tool calls and arguments I should use.`, a.CredentialType, restricted, bullets(splitList(a.AttributesToCheck)))), nil
}

func connectionlessPrompt(_ context.Context, _ sessions.Session, a connectionlessPromptArgs) ([]mcp.PromptMessage, error) {
	var attrs []string
	for _, pair := range splitList(a.Attributes) {
		k, v, ok := strings.Cut(pair, ":")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if ok && k != "" && v != "" {
			attrs = append(attrs, k+": "+v)
		}
	}
	subject := "this credential"
	if a.SchemaName != "" {
		subject = fmt.Sprintf("a %q credential", a.SchemaName)
	}
	expiry := ""
	if a.ExpiryDate != "" {
		expiry = "\nThe credential expires on " + a.ExpiryDate + "."
	}
	return mcpservice.UserText(fmt.Sprintf(`I need a connectionless credential offer for %s, so the recipient does not need an existing connection.

Credential definition:
%s

Attributes:
%s%s

Please walk me through:
1. The arguments for the create-credential-offer-connectionless tool
2. How to deliver the offer by QR code or URL
3. How the recipient accepts and stores the credential
4. How to check that the credential was accepted
5. Common problems and their fixes
6. Security considerations for this kind of issuance`, subject, a.CredentialDefinitionID, bullets(attrs), expiry)), nil
}

func connectionsPrompt(_ context.Context, _ sessions.Session, a connectionsPromptArgs) ([]mcp.PromptMessage, error) {
	if err := oneOf("action", a.Action, "create", "list", "details"); err != nil {
		return nil, err
	}
	var text string
	switch a.Action {
	case "create":
		text = `I need to connect with another agent.

Please:
1. Generate an invitation with the create-connection-invitation-didcomm tool
2. Explain the invitation format and its QR code
3. Tell me how to share the invitation
4. Show me how to see when it is accepted
5. Confirm the connection is established`
	case "list":
		text = `I want to see my connections.

Please:
1. List them with the list-connections-didcomm tool or the connections resources
2. Explain the connection states
3. Point out which connections are ready for credential exchange
4. Order them by creation date and state`
	case "details":
		if a.ConnectionID == "" {
			text = `I want details about a connection but I don't have its ID. Please help me find my connection IDs first.`
			break
		}
		text = fmt.Sprintf(`I need the details of the connection with ID: %s

Please:
1. Fetch the full connection record
2. Explain its state
3. Tell me whether I can issue credentials over it
4. Tell me when it was established`, a.ConnectionID)
	}
	return mcpservice.UserText(text), nil
}

var troubleshootQuestions = map[string]string{
	"connection-failed": `1. What commonly makes connections fail?
2. How do I check the state of my connection attempt?
3. Which tools help debug connection problems?
4. How do I retry a failed connection?
5. How do I tell whether the other party received the invitation?`,
	"credential-issuance": `1. What can block credential issuance?
2. How do I check that my credential definition is correct?
3. How do I follow the state of an issuance?
4. How do I see whether the holder accepted the credential?
5. How do I retry a failed issuance?`,
	"proof-verification": `1. Why might proof verification fail?
2. How do I check that the proof request was well formed?
3. What makes a presentation invalid?
4. How do I debug verification problems?
5. What should I check if the holder says they answered but nothing arrived?`,
	"did-creation": `1. What are common problems creating DIDs on cheqd?
2. How do I confirm my DID was created?
3. What can make DID creation fail?
4. How do I confirm the DID is anchored on the ledger?
5. What should I do if creation is slow?`,
	"schema-creation": `1. What can make schema creation fail?
2. How do I confirm my schema was created?
3. What mistakes are common in schema definitions?
4. How do I look for existing schemas first?
5. What should I do when creation fails?`,
}

func troubleshootPrompt(_ context.Context, _ sessions.Session, a troubleshootPromptArgs) ([]mcp.PromptMessage, error) {
	if err := oneOf("issue", a.Issue, "connection-failed", "credential-issuance", "proof-verification", "did-creation", "schema-creation"); err != nil {
		return nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "I'm having trouble with %s", a.Issue)
	if a.Details != "" {
		fmt.Fprintf(&b, ": %s", a.Details)
	}
	b.WriteString("\n\nPlease help me diagnose it. Specifically:\n")
	b.WriteString(troubleshootQuestions[a.Issue])
	return mcpservice.UserText(b.String()), nil
}

func revocationPrompt(_ context.Context, _ sessions.Session, a revocationPromptArgs) ([]mcp.PromptMessage, error) {
	target := "a credential"
	if a.CredentialID != "" {
		target = "the credential with ID: " + a.CredentialID
		if a.Reason != "" {
			target += ", because: " + a.Reason
		}
	}
	return mcpservice.UserText(fmt.Sprintf(`I need to understand how to revoke %s.

Please explain:
1. What revocation is and when to use it
2. What a credential needs to be revocable
3. How to revoke with the cheqd tools
4. How revocation is checked when a proof is presented
5. Good practice for revocation
6. What revocation means for the holder
7. The limits of revocation support in this agent

If I gave a credential ID, walk me through revoking that credential.`, target)), nil
}

func workflowPrompt(_ context.Context, _ sessions.Session, a workflowPromptArgs) ([]mcp.PromptMessage, error) {
	attrs := ""
	if a.Attributes != "" {
		attrs = "\nThe credential should include: " + strings.Join(splitList(a.Attributes), ", ")
	}
	return mcpservice.UserText(fmt.Sprintf(`I want to build a complete self-sovereign identity workflow for %q.%s

Please guide me from start to finish:
1. Creating the issuer DID
2. Creating a schema and a credential definition
3. Connecting with holders
4. Issuing credentials over those connections
5. Requesting proofs
6. Reading verification results
7. Managing credentials over their lifetime
8. Privacy and security practice`, a.UseCase, attrs)), nil
}

var walletOperations = map[string]string{
	"backup": `I need to back up my agent's wallet so my DIDs, credentials and records are safe.

Please explain:
1. Which data must be backed up
2. The recommended procedure
3. How to store backups securely
4. How often to back up
5. Any limits of wallet backups`,
	"restore": `I need to restore my agent's wallet from a backup.

Please explain:
1. The restore steps
2. What must be in place before restoring
3. How to check the restored wallet is complete
4. Problems that can occur and how to fix them`,
	"migrate": `I need to move my wallet to another environment.

Please explain:
1. The migration procedure
2. How to keep DIDs and credentials intact while moving
3. Compatibility concerns between storage backends
4. How to confirm the migration succeeded`,
}

func walletPrompt(_ context.Context, _ sessions.Session, a walletPromptArgs) ([]mcp.PromptMessage, error) {
	if err := oneOf("operation", a.Operation, "backup", "restore", "migrate"); err != nil {
		return nil, err
	}
	return mcpservice.UserText(walletOperations[a.Operation]), nil
}
