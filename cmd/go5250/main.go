// Go5250 is a command-line client for the go5250 terminal engine.
//
// It connects to IBM midrange hosts over TN5250, prints decoded screen
// text, and exposes small inspection utilities for the engine's
// character tables.
//
// Usage:
//
//	go5250 [command] [flags]
//
// See 'go5250 --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ecmumford/go5250/internal/logging"
)

const version = "0.1.0"

func main() {
	if err := logging.InitializeFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "go5250",
	Short: "TN5250 terminal engine client",
	Long: `A command-line client for driving IBM midrange hosts over the
5250 block-mode terminal protocol.

Set GO5250_LOG_LEVEL=debug for protocol-level tracing.`,
	Version: version,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
