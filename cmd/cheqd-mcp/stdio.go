package main

import (
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ggoodman/cheqd-mcp-toolkit/internal/config"
	"github.com/ggoodman/cheqd-mcp-toolkit/stdio"
	"github.com/spf13/cobra"
)

const startedMessage = "Cheqd MCP Toolkit Server started successfully"

var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Serve MCP over stdin and stdout",
	Long: `
Serves a single MCP session over newline-delimited JSON on stdin and stdout.
Logs go to stderr and to the client as notifications/message. The server
shuts down on SIGINT, SIGTERM or when stdin closes.
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

		h := stdio.NewHandler(a.srv,
			stdio.WithIO(os.Stdin, os.Stdout),
			stdio.WithLogger(a.log),
			stdio.WithSessionManager(a.mgr),
			stdio.WithStartedMessage(startedMessage),
		)
		serveErr := h.Serve(ctx)

		a.log.Info("server.shutdown", slog.String("transport", stdio.TransportName))
		return errors.Join(serveErr, a.shutdown())
	},
}
