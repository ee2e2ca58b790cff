package sessions

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ggoodman/cheqd-mcp-toolkit/mcp"
)

// NotificationHandler is an slog.Handler that mirrors records to every
// initialized session as notifications/message, honoring each session's
// logging/setLevel threshold.
type NotificationHandler struct {
	mgr    *Manager
	level  slog.Leveler
	logger string
	attrs  []slog.Attr
	prefix string
}

var _ slog.Handler = (*NotificationHandler)(nil)

// NewNotificationHandler builds a handler broadcasting to sessions in mgr.
// Records below level are dropped before any session is consulted.
func NewNotificationHandler(mgr *Manager, level slog.Leveler, logger string) *NotificationHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &NotificationHandler{mgr: mgr, level: level, logger: logger}
}

func (h *NotificationHandler) Enabled(_ context.Context, l slog.Level) bool {
	return h.mgr != nil && l >= h.level.Level()
}

func (h *NotificationHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.mgr == nil {
		return nil
	}
	data := map[string]any{"message": r.Message}
	for _, a := range h.attrs {
		data[a.Key] = a.Value.Resolve().Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		data[h.prefix+a.Key] = a.Value.Resolve().Any()
		return true
	})
	params := mcp.LoggingMessageNotification{
		Level:  levelFromSlog(r.Level),
		Data:   data,
		Logger: h.logger,
	}
	rank := mcp.LoggingLevelRank(params.Level)
	h.mgr.Range(func(s *Handle) bool {
		if !s.Initialized() || rank < mcp.LoggingLevelRank(s.LogLevel()) {
			return true
		}
		_ = s.Notify(context.WithoutCancel(ctx), mcp.LoggingMessageNotificationMethod, params)
		return true
	})
	return nil
}

func (h *NotificationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *NotificationHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = strings.TrimPrefix(h.prefix+name+".", ".")
	return &next
}

func levelFromSlog(l slog.Level) mcp.LoggingLevel {
	switch {
	case l >= slog.LevelError:
		return mcp.LoggingLevelError
	case l >= slog.LevelWarn:
		return mcp.LoggingLevelWarning
	case l >= slog.LevelInfo:
		return mcp.LoggingLevelInfo
	default:
		return mcp.LoggingLevelDebug
	}
}
