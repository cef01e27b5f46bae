package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/frameloom/frameloom/internal/plan"
	"github.com/frameloom/frameloom/internal/tui"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status <pipeline.json>",
	Short: "Show per-stage progress and per-task statuses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		proj, err := openProject(args[0])
		if err != nil {
			return err
		}
		if statusWatch {
			return tui.Watch(proj.planPath)
		}
		printStatus(proj)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Refresh the status view until interrupted")
}

func printStatus(proj *project) {
	fmt.Println(titleStyle.Render(fmt.Sprintf("PIPELINE: %s", proj.doc.ProjectID)))
	fmt.Println(mutedStyle.Render(proj.planPath))
	fmt.Println()

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Stage", "Total", "Pending", "Running", "Done", "Approved", "Failed"})
	for _, stage := range proj.doc.Stages() {
		if stage == plan.StageAssemble {
			continue
		}
		counts := plan.CountTasks(proj.ix.StageTasks(stage))
		tw.AppendRow(table.Row{
			string(stage), counts.Total(),
			counts[plan.StatusPending], counts[plan.StatusRunning],
			counts[plan.StatusDone], counts[plan.StatusApproved],
			counts[plan.StatusFailed],
		})
	}
	tw.Render()

	for _, stage := range proj.doc.Stages() {
		if stage == plan.StageAssemble {
			continue
		}
		tasks := proj.ix.StageTasks(stage)
		if len(tasks) == 0 {
			continue
		}
		fmt.Println()
		fmt.Println(titleStyle.Render(strings.ToUpper(string(stage)) + ":"))
		for _, t := range tasks {
			line := fmt.Sprintf("  [%s] %s", statusGlyph(t.Status()), t.ID)
			if t.Status() == plan.StatusFailed && t.LastError() != "" {
				line += mutedStyle.Render("  " + firstLine(t.LastError()))
			}
			fmt.Println(statusColor(t.Status()).Render(line))
		}
	}

	printAssemblyStatus(proj.doc)
}

func printAssemblyStatus(doc *plan.Document) {
	if doc.FinalVideo == nil && len(doc.Scenes) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(titleStyle.Render("ASSEMBLY:"))
	for _, scene := range doc.Scenes {
		if scene.OutputVideo == "" {
			continue
		}
		fmt.Println(statusColor(scene.Status).Render(
			fmt.Sprintf("  [%s] %s", statusGlyph(scene.Status), scene.ID)))
	}
	if doc.FinalVideo != nil {
		fmt.Println(statusColor(doc.FinalVideo.Status).Render(
			fmt.Sprintf("  [%s] final: %s", statusGlyph(doc.FinalVideo.Status), doc.FinalVideo.Output)))
	}
}

// statusGlyph mirrors the one-character markers operators already
// read in progress logs.
func statusGlyph(s plan.Status) string {
	switch s {
	case plan.StatusApproved:
		return "+"
	case plan.StatusDone:
		return "o"
	case plan.StatusFailed:
		return "x"
	case plan.StatusRunning:
		return ">"
	default:
		return "."
	}
}

func statusColor(s plan.Status) lipgloss.Style {
	switch s {
	case plan.StatusDone, plan.StatusApproved:
		return okStyle
	case plan.StatusFailed:
		return errStyle
	case plan.StatusRunning:
		return runningStyle
	default:
		return mutedStyle
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
