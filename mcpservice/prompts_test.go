package mcpservice

import (
	"context"
	"errors"
	"testing"

	"github.com/ggoodman/cheqd-mcp-toolkit/mcp"
	"github.com/ggoodman/cheqd-mcp-toolkit/sessions"
)

type issueArgs struct {
	Subject string `json:"subject" jsonschema_description:"Holder DID"`
	Format  string `json:"format,omitempty" jsonschema_description:"Credential format"`
}

func issuePrompt() StaticPrompt {
	return NewPrompt[issueArgs]("issue", "Issue a credential", func(ctx context.Context, s sessions.Session, a issueArgs) ([]mcp.PromptMessage, error) {
		return UserText("issue to " + a.Subject + " as " + a.Format), nil
	})
}

func TestNewPrompt_Arguments(t *testing.T) {
	p := issuePrompt()
	args := p.Descriptor.Arguments
	if len(args) != 2 {
		t.Fatalf("expected 2 arguments, got %+v", args)
	}
	if args[0].Name != "subject" || !args[0].Required || args[0].Description != "Holder DID" {
		t.Fatalf("unexpected first argument: %+v", args[0])
	}
	if args[1].Name != "format" || args[1].Required {
		t.Fatalf("unexpected second argument: %+v", args[1])
	}
}

func TestPromptsContainer_Get(t *testing.T) {
	pc := NewPromptsContainer(issuePrompt())
	res, err := pc.GetPrompt(context.Background(), nopSession{}, &mcp.GetPromptRequestReceived{
		Name:      "issue",
		Arguments: map[string]string{"subject": "did:key:z6Mk", "format": "jsonld"},
	})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(res.Messages) != 1 || res.Messages[0].Content.Text != "issue to did:key:z6Mk as jsonld" {
		t.Fatalf("unexpected messages: %+v", res.Messages)
	}
	if res.Description != "Issue a credential" {
		t.Fatalf("unexpected description %q", res.Description)
	}
}

func TestPromptsContainer_Errors(t *testing.T) {
	pc := NewPromptsContainer(issuePrompt())
	_, err := pc.GetPrompt(context.Background(), nopSession{}, &mcp.GetPromptRequestReceived{Name: "issue"})
	if !errors.Is(err, ErrInvalidPromptArguments) {
		t.Fatalf("expected ErrInvalidPromptArguments, got %v", err)
	}
	_, err = pc.GetPrompt(context.Background(), nopSession{}, &mcp.GetPromptRequestReceived{Name: "missing"})
	if !errors.Is(err, ErrPromptNotFound) {
		t.Fatalf("expected ErrPromptNotFound, got %v", err)
	}
}
