package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/gridsync/cmd/gridsync/commands"
	"github.com/teranos/gridsync/logger"
)

var rootCmd = &cobra.Command{
	Use:   "gridsync",
	Short: "gridsync - collaborative spreadsheet sync relay",
	Long: `gridsync relays spreadsheet document updates between editing clients.

Clients connect over WebSocket, receive a snapshot of the shared document,
and exchange incremental updates and presence information. Document state is
persisted so late joiners and restarts pick up where editing left off.

Examples:
  gridsync serve                        # Start the relay on the default port
  gridsync serve --addr :9000           # Custom listen address
  gridsync serve --config gridsync.toml # Load settings from a file
  gridsync version                      # Print the build version`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(false); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
