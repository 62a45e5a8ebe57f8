// Command campuslink runs the real-time presence and delivery relay of the
// campus social network.
//
//	campuslink serve --config campuslink.yaml
//	campuslink migrate
//	campuslink token --user 64b7f0c2e4b0a1a2b3c4d5e6
//
// Every setting can also come from CAMPUSLINK_* environment variables; a
// config file, when given, wins over the environment.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// FUNCTIONAL DISCOVERY: Main entry point with comprehensive error handling and signal management
// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := buildRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "campuslink:", err)
		stop()
		os.Exit(1)
	}
}

// buildRootCmd is separated from main so tests can drive the CLI.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "campuslink",
		Short:        "Real-time presence and delivery relay",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildTokenCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}
