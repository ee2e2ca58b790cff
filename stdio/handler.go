package stdio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/ggoodman/cheqd-mcp-toolkit/internal/engine"
	"github.com/ggoodman/cheqd-mcp-toolkit/internal/logctx"
	"github.com/ggoodman/cheqd-mcp-toolkit/mcp"
	"github.com/ggoodman/cheqd-mcp-toolkit/mcpservice"
	"github.com/ggoodman/cheqd-mcp-toolkit/sessions"
)

// TransportName identifies stdio sessions in logs and the session manager.
const TransportName = "stdio"

const defaultMaxMessageSize = 50 << 20

// Handler is a single-connection stdio transport that reads JSON-RPC messages
// from an io.Reader and writes responses to an io.Writer. By default, it uses
// os.Stdin and os.Stdout.
//
// The handler is transport-only; it delegates all MCP semantics to the
// engine serving the provided mcpservice.ServerCapabilities.
type Handler struct {
	srv mcpservice.ServerCapabilities
	r   io.Reader
	w   io.Writer
	l   *slog.Logger
	mgr *sessions.Manager

	startedMessage string
	maxMessageSize int

	writeMu sync.Mutex
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(srv mcpservice.ServerCapabilities, opts ...Option) *Handler {
	h := &Handler{
		srv:            srv,
		r:              os.Stdin,
		w:              os.Stdout,
		l:              slog.Default(),
		maxMessageSize: defaultMaxMessageSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.mgr == nil {
		h.mgr = sessions.NewManager()
	}
	return h
}

// Serve runs the stdio event loop until EOF on the reader or the context is
// canceled. EOF is a clean shutdown and yields a nil error. Requests are
// processed concurrently so that notifications/cancelled can reach an
// in-flight tool call.
func (h *Handler) Serve(ctx context.Context) error {
	sess := h.mgr.Create(TransportName, sessions.MessageSinkFunc(h.writeLine))
	defer h.mgr.Delete(sess.SessionID())

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.SessionID(), Transport: TransportName})
	log := h.l.With(slog.String("session_id", sess.SessionID()))

	eng := engine.NewEngine(h.srv, engine.WithLogger(h.l), engine.WithInitializedHook(h.onInitialized))
	defer eng.CancelSession(sess.SessionID())

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go h.readLoop(stop, lines, readErr)

	log.InfoContext(ctx, "stdio.serve.start")

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			log.InfoContext(ctx, "stdio.serve.stop", slog.String("reason", "context done"))
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				log.InfoContext(ctx, "stdio.serve.stop", slog.String("reason", "eof"))
				return nil
			}
			log.ErrorContext(ctx, "stdio.serve.read_fail", slog.String("err", err.Error()))
			return fmt.Errorf("read stdin: %w", err)
		case line := <-lines:
			wg.Add(1)
			go func() {
				defer wg.Done()
				h.handleLine(ctx, eng, sess, line)
			}()
		}
	}
}

func (h *Handler) readLoop(stop <-chan struct{}, lines chan<- []byte, errs chan<- error) {
	sc := bufio.NewScanner(h.r)
	sc.Buffer(make([]byte, 0, 64*1024), h.maxMessageSize)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		buf := make([]byte, len(line))
		copy(buf, line)
		select {
		case lines <- buf:
		case <-stop:
			return
		}
	}
	if err := sc.Err(); err != nil {
		errs <- err
		return
	}
	errs <- io.EOF
}

func (h *Handler) handleLine(ctx context.Context, eng *engine.Engine, sess *sessions.Handle, line []byte) {
	res, err := eng.HandleMessage(ctx, sess, line)
	if err != nil {
		h.l.ErrorContext(ctx, "stdio.handle_message.fail", slog.String("err", err.Error()))
		return
	}
	if res == nil {
		return
	}
	if err := sess.WriteJSON(ctx, res); err != nil {
		h.l.ErrorContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
	}
}

func (h *Handler) onInitialized(ctx context.Context, sess *sessions.Handle) {
	if h.startedMessage == "" {
		return
	}
	note := mcp.LoggingMessageNotification{Level: mcp.LoggingLevelDebug, Data: h.startedMessage}
	if err := sess.Notify(ctx, mcp.LoggingMessageNotificationMethod, note); err != nil {
		h.l.ErrorContext(ctx, "stdio.started_message.fail", slog.String("err", err.Error()))
	}
}

// writeLine frames msg with a trailing newline. Writes are serialized so that
// concurrent responses never interleave.
func (h *Handler) writeLine(_ context.Context, msg []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	buf := make([]byte, 0, len(msg)+1)
	buf = append(buf, msg...)
	buf = append(buf, '\n')
	_, err := h.w.Write(buf)
	return err
}
