package mcpservice

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ggoodman/cheqd-mcp-toolkit/mcp"
	"github.com/ggoodman/cheqd-mcp-toolkit/sessions"
)

// ErrInvalidLoggingLevel indicates the provided level is not one of the
// protocol-defined LoggingLevel values.
var ErrInvalidLoggingLevel = errors.New("invalid logging level")

// NewSlogLevelVarLogging returns a LoggingCapabilityProvider that maps MCP levels onto
// lv. When the session supports per-session thresholds (sessions.Handle), the
// threshold is updated too so notifications/message honors the request.
func NewSlogLevelVarLogging(lv *slog.LevelVar) LoggingCapabilityProvider {
	return &slogLevelVarLogging{lv: lv}
}

type slogLevelVarLogging struct{ lv *slog.LevelVar }

// ProvideLogging implements LoggingCapabilityProvider.
func (l *slogLevelVarLogging) ProvideLogging(context.Context, sessions.Session) (LoggingCapability, bool, error) {
	if l == nil {
		return nil, false, nil
	}
	return l, true, nil
}

type levelSetter interface {
	SetLogLevel(level mcp.LoggingLevel)
}

func (l *slogLevelVarLogging) SetLevel(_ context.Context, session sessions.Session, level mcp.LoggingLevel) error {
	if !mcp.IsValidLoggingLevel(level) {
		return ErrInvalidLoggingLevel
	}
	if ls, ok := session.(levelSetter); ok {
		ls.SetLogLevel(level)
	}
	if l.lv == nil {
		return nil
	}
	l.lv.Set(SlogLevel(level))
	return nil
}

// SlogLevel maps an MCP logging level onto the nearest slog level.
func SlogLevel(level mcp.LoggingLevel) slog.Level {
	switch level {
	case mcp.LoggingLevelDebug:
		return slog.LevelDebug
	case mcp.LoggingLevelInfo, mcp.LoggingLevelNotice:
		return slog.LevelInfo
	case mcp.LoggingLevelWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
