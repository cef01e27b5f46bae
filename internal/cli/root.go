package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:     "frameloom",
	Short:   "Deterministic executor for AI video production pipelines",
	Long:    `Frameloom executes a pipeline.json production plan stage by stage - assets, keyframes, scenes, assembly - against a local generation backend, tracking per-task status so interrupted runs resume where they left off.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(regenerateCmd)
	rootCmd.AddCommand(assembleCmd)
	rootCmd.AddCommand(approveCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// debugLogger returns a logger honoring --verbose.
func debugLogger() *slog.Logger {
	if verbose {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
