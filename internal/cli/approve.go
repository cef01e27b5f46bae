package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/frameloom/frameloom/internal/plan"
)

var approveCmd = &cobra.Command{
	Use:   "approve <pipeline.json> <stage|task-id>...",
	Short: "Mark finished tasks as reviewed so gated stages may proceed",
	Long: `Approve records operator sign-off on finished work. Each argument is
either a stage name, approving every done task in the stage, or a single
task id. Only done tasks can be approved; regenerating a task clears its
approval until it is reviewed again.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		proj, err := openProject(args[0])
		if err != nil {
			return err
		}

		var approved []string
		for _, arg := range args[1:] {
			ids, err := approveTarget(proj, arg)
			if err != nil {
				return err
			}
			approved = append(approved, ids...)
		}

		if len(approved) == 0 {
			fmt.Println(mutedStyle.Render("Nothing to approve"))
			return nil
		}
		if err := plan.Save(proj.planPath, proj.doc); err != nil {
			return err
		}
		for _, id := range approved {
			fmt.Println(okStyle.Render("Approved " + id))
		}
		return nil
	},
}

func approveTarget(proj *project, target string) ([]string, error) {
	if proj.doc.HasStage(plan.Stage(target)) {
		var ids []string
		for _, t := range proj.ix.StageTasks(plan.Stage(target)) {
			if t.Status() == plan.StatusDone {
				t.SetStatus(plan.StatusApproved)
				ids = append(ids, t.ID)
			}
		}
		return ids, nil
	}

	t, ok := proj.ix.Task(target)
	if !ok {
		return nil, fmt.Errorf("no stage or task named %q", target)
	}
	switch t.Status() {
	case plan.StatusApproved:
		return nil, nil
	case plan.StatusDone:
		t.SetStatus(plan.StatusApproved)
		return []string{t.ID}, nil
	default:
		return nil, fmt.Errorf("task %s is %s, only done tasks can be approved", t.ID, t.Status())
	}
}
