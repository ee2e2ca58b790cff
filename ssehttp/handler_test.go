package ssehttp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/cheqd-mcp-toolkit/internal/jsonrpc"
	"github.com/ggoodman/cheqd-mcp-toolkit/mcp"
	"github.com/ggoodman/cheqd-mcp-toolkit/mcpservice"
	"github.com/ggoodman/cheqd-mcp-toolkit/sessions"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

type echoArgs struct {
	Text string `json:"text"`
}

func echoServer() mcpservice.ServerCapabilities {
	tools := mcpservice.NewToolsContainer(mcpservice.NewTool[echoArgs]("echo", func(ctx context.Context, s sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[echoArgs]) error {
		return w.AppendText(r.Args().Text)
	}, mcpservice.WithToolDescription("Echo text back.")))
	return mcpservice.NewServer(
		mcpservice.WithServerInfo(mcpservice.StaticServerInfo("test", "1.0.0")),
		mcpservice.WithToolsCapability(tools),
	)
}

type sseEvent struct {
	name string
	data string
}

// readEvents parses SSE frames from r onto the returned channel.
func readEvents(r io.Reader) <-chan sseEvent {
	ch := make(chan sseEvent, 16)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		var ev sseEvent
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			case line == "":
				ch <- ev
				ev = sseEvent{}
			}
		}
	}()
	return ch
}

func nextEvent(t *testing.T, ch <-chan sseEvent) sseEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("stream closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return sseEvent{}
}

// newTestServer registers its shutdown before any stream cleanup, so open
// streams are cancelled and the handler closed before the server waits on them.
func newTestServer(t *testing.T, h *Handler) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.Close(ctx)
		ts.Close()
	})
	return ts
}

func openStream(t *testing.T, ts *httptest.Server) (<-chan sseEvent, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sse", nil)
	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /sse: %v", err)
	}
	t.Cleanup(func() { _ = res.Body.Close() })
	if ct := res.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %q", ct)
	}
	events := readEvents(res.Body)
	ev := nextEvent(t, events)
	if ev.name != "endpoint" {
		t.Fatalf("first event: %+v", ev)
	}
	if !strings.HasPrefix(ev.data, "/messages?sessionId=") {
		t.Fatalf("endpoint data: %q", ev.data)
	}
	return events, ev.data
}

func post(t *testing.T, ts *httptest.Server, path, body string) (int, string) {
	t.Helper()
	res, err := ts.Client().Post(ts.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	return res.StatusCode, strings.TrimSpace(string(b))
}

func TestRootAndUnknownRoutes(t *testing.T) {
	ts := newTestServer(t, New(echoServer()))

	res, err := ts.Client().Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK || string(b) != "Hello World" {
		t.Fatalf("root: %d %q", res.StatusCode, b)
	}

	res, err = ts.Client().Get(ts.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	b, _ = io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest || strings.TrimSpace(string(b)) != "Bad request" {
		t.Fatalf("unknown route: %d %q", res.StatusCode, b)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, New(echoServer()))

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/messages", nil)
	req.Header.Set("Origin", "https://example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if got := res.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow origin: %q", got)
	}
}

func TestPostUnknownSession(t *testing.T) {
	ts := newTestServer(t, New(echoServer()))

	code, body := post(t, ts, "/messages?sessionId=missing", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	if code != http.StatusBadRequest || body != "No transport found for sessionId" {
		t.Fatalf("got %d %q", code, body)
	}
	code, _ = post(t, ts, "/messages", `{}`)
	if code != http.StatusBadRequest {
		t.Fatalf("missing session id: %d", code)
	}
}

func TestMediaTypeChecks(t *testing.T) {
	ts := newTestServer(t, New(echoServer()))

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/sse", nil)
	req.Header.Set("Accept", "application/json")
	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotAcceptable {
		t.Fatalf("GET /sse with Accept application/json: %d", res.StatusCode)
	}

	_, endpoint := openStream(t, ts)
	res, err = ts.Client().Post(ts.URL+endpoint, "text/plain", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest || !strings.HasPrefix(string(b), "Unsupported content-type: text/plain") {
		t.Fatalf("POST text/plain: %d %q", res.StatusCode, b)
	}
}

func TestStreamRoundTrip(t *testing.T) {
	h := New(echoServer())
	ts := newTestServer(t, h)

	events, endpoint := openStream(t, ts)

	code, body := post(t, ts, endpoint, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"c","version":"1"}}}`)
	if code != http.StatusAccepted || body != "Accepted" {
		t.Fatalf("post initialize: %d %q", code, body)
	}
	ev := nextEvent(t, events)
	if ev.name != "message" {
		t.Fatalf("event name: %q", ev.name)
	}
	var res jsonrpc.Response
	if err := json.Unmarshal([]byte(ev.data), &res); err != nil {
		t.Fatal(err)
	}
	var init mcp.InitializeResult
	if err := json.Unmarshal(res.Result, &init); err != nil {
		t.Fatal(err)
	}
	if init.ProtocolVersion != "2025-03-26" || init.ServerInfo.Name != "test" {
		t.Fatalf("unexpected init result: %+v", init)
	}

	if code, _ := post(t, ts, endpoint, `{"jsonrpc":"2.0","method":"notifications/initialized"}`); code != http.StatusAccepted {
		t.Fatalf("post initialized: %d", code)
	}
	if code, _ := post(t, ts, endpoint, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`); code != http.StatusAccepted {
		t.Fatalf("post call: %d", code)
	}
	ev = nextEvent(t, events)
	if !strings.Contains(ev.data, `"text":"hi"`) {
		t.Fatalf("call result: %s", ev.data)
	}

	if code, body := post(t, ts, endpoint, `{not json`); code != http.StatusBadRequest {
		t.Fatalf("invalid json: %d %q", code, body)
	}
}

func TestSessionRemovedOnDisconnect(t *testing.T) {
	h := New(echoServer())
	ts := newTestServer(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sse", nil)
	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	events := readEvents(res.Body)
	ev := nextEvent(t, events)
	if ev.name != "endpoint" {
		t.Fatalf("first event: %+v", ev)
	}
	if h.Sessions().Len() != 1 {
		t.Fatalf("sessions: %d", h.Sessions().Len())
	}
	cancel()
	_ = res.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.Sessions().Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session not removed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOfficialClient(t *testing.T) {
	ts := newTestServer(t, New(echoServer()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := sdk.NewClient(&sdk.Implementation{Name: "sdk-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, &sdk.SSEClientTransport{Endpoint: ts.URL + "/sse"}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer cs.Close()

	tools, err := cs.ListTools(ctx, &sdk.ListToolsParams{})
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if len(tools.Tools) != 1 || tools.Tools[0].Name != "echo" {
		t.Fatalf("tools: %+v", tools.Tools)
	}

	res, err := cs.CallTool(ctx, &sdk.CallToolParams{Name: "echo", Arguments: map[string]any{"text": "round trip"}})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if len(res.Content) != 1 {
		t.Fatalf("content: %+v", res.Content)
	}
	text, ok := res.Content[0].(*sdk.TextContent)
	if !ok || text.Text != "round trip" {
		t.Fatalf("unexpected content: %#v", res.Content[0])
	}
}

func TestCloseEndsStreams(t *testing.T) {
	h := New(echoServer())
	ts := newTestServer(t, h)

	events, _ := openStream(t, ts)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.Close(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected stream to end")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open after Close")
	}
}
