package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var keepChainedBackgrounds bool

var regenerateCmd = &cobra.Command{
	Use:   "regenerate <pipeline.json> <task-id>",
	Short: "Invalidate a task and everything downstream of it, then re-run",
	Long: `Regenerate resets the named task to pending along with every task that
depends on it, directly or transitively, then re-executes exactly that set in
stage order. Other tasks keep their statuses and are never re-run.

With --keep-chained-backgrounds, downstream tasks whose only link to the
regenerated task is a background reference keep their outputs. Use it when a
background tweak should not cascade through footage that merely reuses the
old frame for spatial continuity.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		proj, err := openProject(args[0])
		if err != nil {
			return err
		}

		if err := proj.demoteStale(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		results, err := proj.executor().Regenerate(ctx, args[1], keepChainedBackgrounds)
		if err != nil {
			return describeRunError(err)
		}
		for _, r := range results {
			if err := reportStage(r); err != nil {
				return err
			}
		}
		fmt.Println(okStyle.Render("Regeneration complete"))
		return nil
	},
}

func init() {
	regenerateCmd.Flags().BoolVar(&keepChainedBackgrounds, "keep-chained-backgrounds", false,
		"Do not invalidate tasks linked only through background references")
}
