package ssehttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/cheqd-mcp-toolkit/internal/engine"
	"github.com/ggoodman/cheqd-mcp-toolkit/internal/logctx"
	"github.com/ggoodman/cheqd-mcp-toolkit/mcpservice"
	"github.com/ggoodman/cheqd-mcp-toolkit/sessions"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// TransportName identifies SSE sessions in logs and the session manager.
const TransportName = "sse"

const (
	defaultMessagesPath = "/messages"
	defaultMaxBodyBytes = 50 << 20
	sessionIDParam      = "sessionId"
	outboundQueueSize   = 64
)

var errStreamClosed = errors.New("sse stream closed")

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaTypes = []contenttype.MediaType{contenttype.NewMediaType("text/event-stream")}
)

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. If not provided, slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithSessionManager shares a session manager with other components.
func WithSessionManager(mgr *sessions.Manager) Option {
	return func(h *Handler) {
		if mgr != nil {
			h.mgr = mgr
		}
	}
}

// WithMessagesPath sets the POST path advertised in the endpoint event.
func WithMessagesPath(p string) Option {
	return func(h *Handler) {
		if p != "" {
			h.messagesPath = p
		}
	}
}

// WithMaxBodyBytes bounds POST bodies. Defaults to 50 MiB.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// Handler serves the HTTP+SSE transport. It is an http.Handler.
type Handler struct {
	srv mcpservice.ServerCapabilities
	log *slog.Logger
	mgr *sessions.Manager
	eng *engine.Engine

	messagesPath string
	maxBodyBytes int64

	router   chi.Router
	inflight sync.WaitGroup
}

// New builds a Handler serving srv.
func New(srv mcpservice.ServerCapabilities, opts ...Option) *Handler {
	h := &Handler{
		srv:          srv,
		log:          slog.Default(),
		messagesPath: defaultMessagesPath,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.mgr == nil {
		h.mgr = sessions.NewManager()
	}
	h.eng = engine.NewEngine(srv, engine.WithLogger(h.log))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}))
	r.Use(h.requestData)
	r.Get("/", h.handleRoot)
	r.Get("/sse", h.handleSSE)
	r.With(middleware.RequestSize(h.maxBodyBytes)).Post(h.messagesPath, h.handleMessages)
	r.NotFound(badRequest)
	r.MethodNotAllowed(badRequest)
	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Sessions exposes the session manager backing this handler.
func (h *Handler) Sessions() *sessions.Manager { return h.mgr }

// Close ends every open stream and waits for dispatched messages to finish or
// for ctx to expire.
func (h *Handler) Close(ctx context.Context) error {
	h.mgr.CloseAll()
	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) requestData(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
			Method:     r.Method,
			UserAgent:  r.UserAgent(),
			RemoteAddr: r.RemoteAddr,
			Path:       r.URL.Path,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func badRequest(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "Bad request", http.StatusBadRequest)
}

func (h *Handler) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "Hello World")
}

func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if acc := r.Header.Get("Accept"); acc != "" {
		if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
			h.log.WarnContext(ctx, "sse.accept.unsupported", slog.String("accept", acc))
			http.Error(w, "Not Acceptable: client must accept text/event-stream", http.StatusNotAcceptable)
			return
		}
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}

	outbound := make(chan []byte, outboundQueueSize)
	sink := sessions.MessageSinkFunc(func(wctx context.Context, msg []byte) error {
		select {
		case outbound <- msg:
			return nil
		case <-ctx.Done():
			return errStreamClosed
		case <-wctx.Done():
			return wctx.Err()
		}
	})
	sess := h.mgr.Create(TransportName, sink)
	defer func() {
		h.eng.CancelSession(sess.SessionID())
		h.mgr.Delete(sess.SessionID())
	}()

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.SessionID(), Transport: TransportName})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	endpoint := h.messagesPath + "?" + sessionIDParam + "=" + url.QueryEscape(sess.SessionID())
	if err := writeSSEEvent(w, f, "endpoint", []byte(endpoint)); err != nil {
		h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "sse.stream.start")

	for {
		select {
		case <-ctx.Done():
			h.log.InfoContext(ctx, "sse.stream.end", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return
		case <-sess.Done():
			h.log.InfoContext(ctx, "sse.stream.closed", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return
		case msg := <-outbound:
			if err := writeSSEEvent(w, f, "message", msg); err != nil {
				h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
				return
			}
		}
	}
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.URL.Query().Get(sessionIDParam)
	sess, err := h.mgr.Get(sessionID)
	if err != nil {
		h.log.InfoContext(ctx, "sse.post.session_miss", slog.String("session_id", sessionID))
		http.Error(w, "No transport found for sessionId", http.StatusBadRequest)
		return
	}

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		h.log.InfoContext(ctx, "sse.post.content_type", slog.String("content_type", r.Header.Get("Content-Type")))
		http.Error(w, "Unsupported content-type: "+r.Header.Get("Content-Type"), http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, fmt.Sprintf("Invalid message: %v", err), http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		h.log.InfoContext(ctx, "sse.post.invalid_json")
		http.Error(w, "Invalid message: malformed JSON", http.StatusBadRequest)
		return
	}

	// The response travels over the stream, so processing must outlive the POST.
	dispatchCtx := logctx.WithSessionData(context.WithoutCancel(ctx), &logctx.SessionData{
		SessionID:       sess.SessionID(),
		Transport:       TransportName,
		ProtocolVersion: sess.ProtocolVersion(),
	})
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		h.dispatch(dispatchCtx, sess, body)
	}()

	w.WriteHeader(http.StatusAccepted)
	_, _ = io.WriteString(w, "Accepted")
}

func (h *Handler) dispatch(ctx context.Context, sess *sessions.Handle, body []byte) {
	res, err := h.eng.HandleMessage(ctx, sess, body)
	if err != nil {
		h.log.ErrorContext(ctx, "sse.handle_message.fail", slog.String("err", err.Error()))
		return
	}
	if res == nil {
		return
	}
	if err := sess.WriteJSON(ctx, res); err != nil {
		h.log.WarnContext(ctx, "sse.respond.fail", slog.String("err", err.Error()))
	}
}

// writeSSEEvent writes one named Server-Sent Event and flushes it.
func writeSSEEvent(w io.Writer, f http.Flusher, event string, payload []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: ", event); err != nil {
		return fmt.Errorf("failed to write SSE event header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write SSE payload: %w", err)
	}
	if _, err := io.WriteString(w, "\n\n"); err != nil {
		return fmt.Errorf("failed to write SSE frame terminator: %w", err)
	}
	f.Flush()
	return nil
}
