package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ggoodman/cheqd-mcp-toolkit/internal/config"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssehttp"
	"github.com/spf13/cobra"
)

const (
	listenAttempts = 10
	listenWait     = time.Second
)

var sseCmd = &cobra.Command{
	Use:   "sse",
	Short: "Serve MCP over HTTP with server-sent events",
	Long: `
Serves MCP on PORT. Clients open GET /sse and post messages to the endpoint
announced in the first event. If PORT is busy the bind is retried before
giving up.
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, os.Stderr)
		if err != nil {
			return err
		}

		ln, err := listen(ctx, ":"+strconv.Itoa(cfg.Port), listenAttempts, listenWait, a.log)
		if err != nil {
			return errors.Join(err, a.shutdown())
		}

		h := ssehttp.New(a.srv, ssehttp.WithLogger(a.log), ssehttp.WithSessionManager(a.mgr))
		srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
		served := make(chan error, 1)
		go func() { served <- srv.Serve(ln) }()
		a.log.Info("server.listening", slog.String("addr", ln.Addr().String()))

		var serveErr error
		select {
		case <-ctx.Done():
		case serveErr = <-served:
		}

		a.log.Info("server.shutdown", slog.String("transport", "sse"))
		return errors.Join(serveErr, a.shutdown(h.Close, srv.Shutdown))
	},
}

// listen binds addr, waiting and retrying while the address is in use.
func listen(ctx context.Context, addr string, attempts int, wait time.Duration, log *slog.Logger) (net.Listener, error) {
	var lc net.ListenConfig
	for attempt := 1; ; attempt++ {
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err == nil {
			return ln, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) || attempt >= attempts {
			return nil, fmt.Errorf("listen on %s: %w", addr, err)
		}
		log.Warn("server.listen.retry",
			slog.String("addr", addr),
			slog.Int("attempt", attempt),
			slog.String("err", err.Error()))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}
