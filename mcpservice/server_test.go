package mcpservice

import (
	"context"
	"log/slog"
	"testing"

	"github.com/ggoodman/cheqd-mcp-toolkit/mcp"
	"github.com/ggoodman/cheqd-mcp-toolkit/sessions"
)

func TestNewServer_AbsentCapabilities(t *testing.T) {
	srv := NewServer(WithServerInfo(StaticServerInfo("demo", "1.0.0")))
	ctx := context.Background()
	info, err := srv.GetServerInfo(ctx, nopSession{})
	if err != nil || info.Name != "demo" || info.Version != "1.0.0" {
		t.Fatalf("unexpected info: %+v %v", info, err)
	}
	if _, ok, _ := srv.GetToolsCapability(ctx, nopSession{}); ok {
		t.Fatalf("expected tools to be absent")
	}
	if _, ok, _ := srv.GetInstructions(ctx, nopSession{}); ok {
		t.Fatalf("expected instructions to be absent")
	}
}

func TestNewServer_PresentCapabilities(t *testing.T) {
	srv := NewServer(
		WithToolsCapability(NewToolsContainer()),
		WithResourcesCapability(NewResourcesContainer()),
		WithPromptsCapability(NewPromptsContainer()),
		WithInstructions(StaticInstructions("use the tools")),
		WithProtocolVersion(StaticProtocolVersion("2025-03-26")),
	)
	ctx := context.Background()
	if _, ok, err := srv.GetToolsCapability(ctx, nopSession{}); !ok || err != nil {
		t.Fatalf("expected tools")
	}
	if _, ok, err := srv.GetResourcesCapability(ctx, nopSession{}); !ok || err != nil {
		t.Fatalf("expected resources")
	}
	if _, ok, err := srv.GetPromptsCapability(ctx, nopSession{}); !ok || err != nil {
		t.Fatalf("expected prompts")
	}
	if v, ok, err := srv.GetPreferredProtocolVersion(ctx, nopSession{}, "2025-06-18"); !ok || err != nil || v != "2025-03-26" {
		t.Fatalf("unexpected version %q", v)
	}
	if s, ok, _ := srv.GetInstructions(ctx, nopSession{}); !ok || s != "use the tools" {
		t.Fatalf("unexpected instructions %q", s)
	}
}

func TestStaticProtocolVersion_Unsupported(t *testing.T) {
	_, _, err := StaticProtocolVersion("1999-01-01").ProvideProtocolVersion(context.Background(), nopSession{}, "")
	if err == nil {
		t.Fatalf("expected error for unsupported version")
	}
}

func TestSlogLevelVarLogging(t *testing.T) {
	var lv slog.LevelVar
	h := sessions.NewHandle("s1", "test", sessions.MessageSinkFunc(func(context.Context, []byte) error { return nil }))
	lc, ok, err := NewSlogLevelVarLogging(&lv).ProvideLogging(context.Background(), h)
	if !ok || err != nil {
		t.Fatalf("expected logging capability")
	}
	if err := lc.SetLevel(context.Background(), h, mcp.LoggingLevelWarning); err != nil {
		t.Fatalf("set level: %v", err)
	}
	if lv.Level() != slog.LevelWarn {
		t.Fatalf("expected warn, got %v", lv.Level())
	}
	if h.LogLevel() != mcp.LoggingLevelWarning {
		t.Fatalf("expected session level warning, got %q", h.LogLevel())
	}
	if err := lc.SetLevel(context.Background(), h, "loud"); err == nil {
		t.Fatalf("expected invalid level error")
	}
}
