// Package cmd implements the brld command-line surface: the daemon
// entrypoint plus interactive operator tooling, a cobra-based command
// tree with a persistent config-path flag shared by every subcommand.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "brld",
	Short: "Braille-access daemon",
	Long: `brld bridges a refreshable braille display to a text console: it
owns the device transport, the key table, the braille session, and a
BrlAPI-compatible server that lets third-party assistive applications
drive the display.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the daemon config file (default ./brld.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(monitorCmd)
}

// Execute runs the root command, exiting the process on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// ExecuteContext runs the root command with ctx wired in for cancellation,
// so a caught signal can unwind the daemon loop gracefully.
func ExecuteContext(ctx context.Context) error {
	rootCmd.SetContext(ctx)
	return rootCmd.Execute()
}
