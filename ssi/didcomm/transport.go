package didcomm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// MediaTypePlain is the content type of unencrypted DIDComm v1 messages.
const MediaTypePlain = "application/didcomm-plain+json"

const maxInboundBytes = 10 << 20

// Sender delivers messages to a service endpoint.
type Sender interface {
	Send(ctx context.Context, endpoint string, msg any) error
}

// HTTPSender posts plaintext messages over HTTP.
type HTTPSender struct {
	client *http.Client
	log    *slog.Logger
}

// NewHTTPSender returns a sender using client (nil means a client with a 15s
// timeout). A nil logger means slog.Default().
func NewHTTPSender(client *http.Client, log *slog.Logger) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &HTTPSender{client: client, log: log}
}

// Send posts msg to endpoint. Any 2xx status is success.
func (s *HTTPSender) Send(ctx context.Context, endpoint string, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", MediaTypePlain)

	res, err := s.client.Do(req)
	if err != nil {
		s.log.WarnContext(ctx, "didcomm.send.fail", slog.String("endpoint", endpoint), slog.String("err", err.Error()))
		return fmt.Errorf("send to %s: %w", endpoint, err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<16))
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("send to %s: unexpected status %d", endpoint, res.StatusCode)
	}
	s.log.DebugContext(ctx, "didcomm.send.ok",
		slog.String("endpoint", endpoint),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return nil
}

// Dispatcher consumes inbound messages.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *Message) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, msg *Message) error

func (f DispatcherFunc) Dispatch(ctx context.Context, msg *Message) error { return f(ctx, msg) }

type connectionIDKey struct{}

// ConnectionIDFromContext returns the connection an inbound message was
// addressed to, or "" for the agent's root endpoint.
func ConnectionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(connectionIDKey{}).(string)
	return id
}

// ConnectionEndpoint is the per-connection inbox under endpoint.
func ConnectionEndpoint(endpoint, connectionID string) string {
	return strings.TrimRight(endpoint, "/") + "/connections/" + connectionID
}

// NewInboundHandler returns the agent's inbound endpoint. POST / receives
// out-of-band traffic and POST /connections/{id} traffic on an established
// connection. Both answer 202 once d has accepted the message.
func NewInboundHandler(d Dispatcher, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestSize(maxInboundBytes))

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "DIDComm endpoint")
	})
	receive := inbound(d, log)
	r.Post("/", receive)
	r.Post("/connections/{connectionID}", receive)
	return r
}

func inbound(d Dispatcher, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "failed to read message", http.StatusBadRequest)
			return
		}
		msg, err := ParseMessage(body)
		if err != nil {
			log.WarnContext(req.Context(), "didcomm.inbound.invalid", slog.String("err", err.Error()))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ctx := context.WithoutCancel(req.Context())
		if id := chi.URLParam(req, "connectionID"); id != "" {
			ctx = context.WithValue(ctx, connectionIDKey{}, id)
		}
		start := time.Now()
		if err := d.Dispatch(ctx, msg); err != nil {
			log.WarnContext(req.Context(), "didcomm.inbound.fail",
				slog.String("type", msg.Type),
				slog.String("thid", msg.ThreadID()),
				slog.String("err", err.Error()))
			status := http.StatusInternalServerError
			if errors.Is(err, ErrInvalidMessage) || errors.Is(err, ErrUnknownThread) {
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			return
		}
		log.DebugContext(req.Context(), "didcomm.inbound.ok",
			slog.String("type", msg.Type),
			slog.String("thid", msg.ThreadID()),
			slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		w.WriteHeader(http.StatusAccepted)
	}
}
