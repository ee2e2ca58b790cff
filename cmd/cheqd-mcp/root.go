package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is reported in the initialize handshake and by the version command.
var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "cheqd-mcp",
	Short: "cheqd MCP toolkit server",
	Long: `
Serves DID, AnonCreds, DIDComm connection, credential and proof tools backed
by an embedded SSI agent. Configuration is read from the environment:
TOOLS, CREDO_CHEQD_TESTNET_MNEMONIC, CREDO_PORT, CREDO_NAME, CREDO_ENDPOINT,
TRAIN_ENDPOINT, CHEQD_RESOLVER_URL, PORT, STORAGE_BACKEND, REDIS_ADDR,
REDIS_KEY_PREFIX, LOG_LEVEL and INVITATION_TTL.
`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(stdioCmd, sseCmd, versionCmd)
}
