package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/ggoodman/cheqd-mcp-toolkit/mcp"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (r *recordingSink) WriteMessage(_ context.Context, msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, append([]byte(nil), msg...))
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager()
	sink := &recordingSink{}
	h := m.Create("sse", sink)

	got, err := m.Get(h.SessionID())
	if err != nil || got != h {
		t.Fatalf("Get() = %v, %v", got, err)
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
	if !m.Delete(h.SessionID()) {
		t.Fatal("Delete() = false, want true")
	}
	if _, err := m.Get(h.SessionID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get after delete err = %v", err)
	}
	if err := h.WriteMessage(context.Background(), []byte("{}")); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("write after close err = %v", err)
	}
	select {
	case <-h.Done():
	default:
		t.Fatal("Done() not closed")
	}
}

func TestNotifyEncodesNotification(t *testing.T) {
	sink := &recordingSink{}
	h := NewHandle("s", "stdio", sink)
	if err := h.Notify(context.Background(), mcp.LoggingMessageNotificationMethod, mcp.LoggingMessageNotification{Level: mcp.LoggingLevelDebug, Data: "hi"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(sink.msgs[0], &msg); err != nil {
		t.Fatal(err)
	}
	if msg["method"] != "notifications/message" {
		t.Fatalf("method = %v", msg["method"])
	}
	if _, hasID := msg["id"]; hasID {
		t.Fatal("notification must not carry an id")
	}
}

func TestNotificationHandlerHonorsSessionLevel(t *testing.T) {
	m := NewManager()
	quiet := &recordingSink{}
	chatty := &recordingSink{}
	uninit := &recordingSink{}

	q := m.Create("sse", quiet)
	q.MarkInitialized()
	q.SetLogLevel(mcp.LoggingLevelError)

	c := m.Create("sse", chatty)
	c.MarkInitialized()
	c.SetLogLevel(mcp.LoggingLevelDebug)

	m.Create("sse", uninit)

	log := slog.New(NewNotificationHandler(m, slog.LevelDebug, "test"))
	log.Warn("agent.connection.stale", slog.String("id", "abc"))

	if quiet.count() != 0 {
		t.Fatalf("error-level session got %d messages", quiet.count())
	}
	if chatty.count() != 1 {
		t.Fatalf("debug-level session got %d messages", chatty.count())
	}
	if uninit.count() != 0 {
		t.Fatal("uninitialized session must not receive log notifications")
	}
}
