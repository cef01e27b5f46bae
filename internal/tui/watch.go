// Package tui renders a live status view of a running pipeline.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/frameloom/frameloom/internal/plan"
)

const refreshInterval = 2 * time.Second

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")).MarginBottom(1)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#73F59F"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	runStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#56B6F4"))
)

// reloadMsg carries a freshly read plan, or the read error.
type reloadMsg struct {
	doc *plan.Document
	ix  *plan.Index
	err error
}

type watchModel struct {
	planPath string
	doc      *plan.Document
	ix       *plan.Index
	loadErr  error
	spinner  spinner.Model
	width    int
	height   int
}

// Watch runs a full-screen view that re-reads the plan file every few
// seconds until the user quits. It never writes to the plan.
func Watch(planPath string) error {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = runStyle

	m := watchModel{planPath: planPath, spinner: s}
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.reload(), m.tick())
}

func (m watchModel) reload() tea.Cmd {
	return func() tea.Msg {
		doc, ix, err := plan.Load(m.planPath)
		return reloadMsg{doc: doc, ix: ix, err: err}
	}
}

func (m watchModel) tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

type tickMsg struct{}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		return m, tea.Batch(m.reload(), m.tick())
	case reloadMsg:
		m.loadErr = msg.err
		if msg.err == nil {
			m.doc, m.ix = msg.doc, msg.ix
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder

	if m.doc == nil {
		if m.loadErr != nil {
			b.WriteString(errorStyle.Render(m.loadErr.Error()))
		} else {
			b.WriteString(m.spinner.View() + " loading plan")
		}
		b.WriteString("\n" + subtleStyle.Render("q to quit"))
		return b.String()
	}

	b.WriteString(titleStyle.Render("PIPELINE: "+m.doc.ProjectID) + "\n")
	if m.loadErr != nil {
		b.WriteString(errorStyle.Render("reload failed: "+m.loadErr.Error()) + "\n")
	}

	for _, stage := range m.doc.Stages() {
		if stage == plan.StageAssemble {
			continue
		}
		tasks := m.ix.StageTasks(stage)
		if len(tasks) == 0 {
			continue
		}
		counts := plan.CountTasks(tasks)
		done := counts[plan.StatusDone] + counts[plan.StatusApproved]
		b.WriteString(fmt.Sprintf("\n%s %s\n",
			titleStyle.Render(strings.ToUpper(string(stage))),
			subtleStyle.Render(fmt.Sprintf("%d/%d", done, counts.Total()))))
		for _, t := range tasks {
			b.WriteString(m.taskLine(t) + "\n")
		}
	}

	b.WriteString("\n" + subtleStyle.Render("refreshing every "+refreshInterval.String()+", q to quit"))
	return b.String()
}

func (m watchModel) taskLine(t *plan.Task) string {
	switch t.Status() {
	case plan.StatusDone:
		return successStyle.Render("  o " + t.ID)
	case plan.StatusApproved:
		return successStyle.Render("  + " + t.ID)
	case plan.StatusFailed:
		line := errorStyle.Render("  x " + t.ID)
		if reason := t.LastError(); reason != "" {
			line += subtleStyle.Render("  " + reason)
		}
		return line
	case plan.StatusRunning:
		return runStyle.Render("  " + m.spinner.View() + t.ID)
	default:
		return subtleStyle.Render("  . " + t.ID)
	}
}
