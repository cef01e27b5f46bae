package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/frameloom/frameloom/internal/assemble"
	"github.com/frameloom/frameloom/internal/executor"
	"github.com/frameloom/frameloom/internal/plan"
)

var (
	runStage string
	runAll   bool
)

var runCmd = &cobra.Command{
	Use:   "run <pipeline.json>",
	Short: "Execute pipeline stages against the generation backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if runStage == "" && !runAll {
			return errors.New("pass --stage <name> or --all")
		}
		if runStage != "" && runAll {
			return errors.New("--stage and --all are mutually exclusive")
		}

		proj, err := openProject(args[0])
		if err != nil {
			return err
		}

		if err := proj.demoteStale(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if runAll {
			return runAllStages(ctx, proj)
		}

		stage := plan.Stage(runStage)
		if !proj.doc.HasStage(stage) {
			return fmt.Errorf("unknown stage %q, plan has: %s", runStage, stageNames(proj.doc))
		}
		if stage == plan.StageAssemble {
			return runAssembly(ctx, proj)
		}
		return runOneStage(ctx, proj, stage)
	},
}

func init() {
	runCmd.Flags().StringVar(&runStage, "stage", "", "Stage to execute (assets, keyframes, videos, scenes, assemble)")
	runCmd.Flags().BoolVar(&runAll, "all", false, "Execute every stage in order")
}

func runOneStage(ctx context.Context, proj *project, stage plan.Stage) error {
	result, err := proj.executor().RunStage(ctx, stage)
	if err != nil {
		return describeRunError(err)
	}
	return reportStage(result)
}

func runAllStages(ctx context.Context, proj *project) error {
	for _, stage := range proj.doc.Stages() {
		if stage == plan.StageAssemble {
			return runAssembly(ctx, proj)
		}
		if err := runOneStage(ctx, proj, stage); err != nil {
			return err
		}
	}
	return nil
}

func runAssembly(ctx context.Context, proj *project) error {
	if blocking := proj.doc.BlockingTasks(proj.ix, plan.StageAssemble); len(blocking) > 0 {
		return fmt.Errorf("assembly blocked, %d earlier task(s) incomplete: %s",
			len(blocking), taskIDs(blocking))
	}

	result, err := assemble.New(proj.planPath, proj.doc, proj.cfg).Assemble(ctx)
	if err != nil {
		return err
	}
	fmt.Println(okStyle.Render(fmt.Sprintf("Assembly complete: %d scene(s) assembled, %d skipped, final video %v",
		result.ScenesAssembled, result.ScenesSkipped, result.FinalAssembled)))
	return nil
}

func reportStage(result executor.StageResult) error {
	if !result.OK() {
		return fmt.Errorf("stage %s failed: %s", result.Stage, strings.Join(result.FailedTasks, ", "))
	}
	fmt.Println(okStyle.Render(fmt.Sprintf("Stage %s complete: %d done, %d skipped in %s",
		result.Stage, result.Done, result.Skipped, result.Duration.Round(time.Second))))
	return nil
}

func describeRunError(err error) error {
	var gate *executor.GateError
	if errors.As(err, &gate) {
		return fmt.Errorf("%v (approve or re-run the earlier stage first)", err)
	}
	var vf *executor.ValidationFailedError
	if errors.As(err, &vf) {
		for _, f := range vf.Findings {
			fmt.Println(errStyle.Render(f.String()))
		}
	}
	return err
}

func stageNames(doc *plan.Document) string {
	names := make([]string, 0, 4)
	for _, s := range doc.Stages() {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}

func taskIDs(tasks []*plan.Task) string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return strings.Join(ids, ", ")
}
