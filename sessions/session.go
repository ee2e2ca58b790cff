package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ggoodman/cheqd-mcp-toolkit/internal/jsonrpc"
	"github.com/ggoodman/cheqd-mcp-toolkit/mcp"
)

// ErrSessionClosed is returned when writing to a session whose transport has
// gone away.
var ErrSessionClosed = errors.New("session closed")

// Session is the per-client view handed to capability implementations.
type Session interface {
	SessionID() string
	Transport() string
	ProtocolVersion() string
	ClientInfo() mcp.ImplementationInfo
	LogLevel() mcp.LoggingLevel

	// Notify sends a server-initiated JSON-RPC notification to the client.
	Notify(ctx context.Context, method mcp.Method, params any) error
}

// MessageSink delivers an encoded JSON-RPC message to the client.
type MessageSink interface {
	WriteMessage(ctx context.Context, msg []byte) error
}

// MessageSinkFunc adapts a function to a MessageSink.
type MessageSinkFunc func(ctx context.Context, msg []byte) error

func (f MessageSinkFunc) WriteMessage(ctx context.Context, msg []byte) error { return f(ctx, msg) }

var _ Session = (*Handle)(nil)

// Handle is the concrete session owned by a transport.
type Handle struct {
	id        string
	transport string
	sink      MessageSink

	mu              sync.RWMutex
	protocolVersion string
	clientInfo      mcp.ImplementationInfo
	clientCaps      mcp.ClientCapabilities
	initialized     bool
	logLevel        mcp.LoggingLevel

	closeOnce sync.Once
	done      chan struct{}
}

// NewHandle creates a session bound to sink. Most callers go through
// Manager.Create instead.
func NewHandle(id, transport string, sink MessageSink) *Handle {
	return &Handle{
		id:        id,
		transport: transport,
		sink:      sink,
		logLevel:  mcp.LoggingLevelInfo,
		done:      make(chan struct{}),
	}
}

func (h *Handle) SessionID() string { return h.id }
func (h *Handle) Transport() string { return h.transport }

func (h *Handle) ProtocolVersion() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.protocolVersion
}

func (h *Handle) ClientInfo() mcp.ImplementationInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clientInfo
}

// ClientCapabilities returns the capabilities the client advertised.
func (h *Handle) ClientCapabilities() mcp.ClientCapabilities {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clientCaps
}

func (h *Handle) LogLevel() mcp.LoggingLevel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.logLevel
}

// SetLogLevel changes the minimum severity forwarded as notifications/message.
func (h *Handle) SetLogLevel(level mcp.LoggingLevel) {
	h.mu.Lock()
	h.logLevel = level
	h.mu.Unlock()
}

// Negotiate records the outcome of the initialize handshake.
func (h *Handle) Negotiate(version string, info mcp.ImplementationInfo, caps mcp.ClientCapabilities) {
	h.mu.Lock()
	h.protocolVersion = version
	h.clientInfo = info
	h.clientCaps = caps
	h.mu.Unlock()
}

// MarkInitialized flags that notifications/initialized was received. It
// reports whether this call changed the state.
func (h *Handle) MarkInitialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.initialized {
		return false
	}
	h.initialized = true
	return true
}

// Initialized reports whether the client completed the handshake.
func (h *Handle) Initialized() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.initialized
}

// WriteMessage forwards an encoded message to the transport sink.
func (h *Handle) WriteMessage(ctx context.Context, msg []byte) error {
	select {
	case <-h.done:
		return ErrSessionClosed
	default:
	}
	if h.sink == nil {
		return ErrSessionClosed
	}
	return h.sink.WriteMessage(ctx, msg)
}

// WriteJSON marshals v and forwards it to the sink.
func (h *Handle) WriteJSON(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return h.WriteMessage(ctx, b)
}

func (h *Handle) Notify(ctx context.Context, method mcp.Method, params any) error {
	n, err := jsonrpc.NewNotification(string(method), params)
	if err != nil {
		return err
	}
	return h.WriteJSON(ctx, n)
}

// Close marks the session closed. It is safe to call more than once.
func (h *Handle) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Done is closed when the session is closed.
func (h *Handle) Done() <-chan struct{} { return h.done }
