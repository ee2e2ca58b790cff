package stdio

import (
	"io"
	"log/slog"

	"github.com/ggoodman/cheqd-mcp-toolkit/sessions"
)

// Option customizes a Handler.
type Option func(*Handler)

// WithIO sets the reader and writer for the handler.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(h *Handler) {
		if r != nil {
			h.r = r
		}
		if w != nil {
			h.w = w
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.l = l
		}
	}
}

// WithSessionManager registers the stdio session with mgr so that process-wide
// components (log forwarding, shutdown) can reach it.
func WithSessionManager(mgr *sessions.Manager) Option {
	return func(h *Handler) {
		if mgr != nil {
			h.mgr = mgr
		}
	}
}

// WithStartedMessage sends msg as a debug notifications/message once the
// client completes the handshake.
func WithStartedMessage(msg string) Option {
	return func(h *Handler) { h.startedMessage = msg }
}

// WithMaxMessageSize bounds a single inbound line. Defaults to 50 MiB.
func WithMaxMessageSize(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxMessageSize = n
		}
	}
}
