package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/frameloom/frameloom/internal/config"
	"github.com/frameloom/frameloom/internal/executor"
	"github.com/frameloom/frameloom/internal/plan"
	"github.com/frameloom/frameloom/internal/validate"
)

// project bundles everything a command needs to operate on a plan.
type project struct {
	planPath string
	doc      *plan.Document
	ix       *plan.Index
	cfg      *config.Config
}

func openProject(path string) (*project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	doc, ix, err := plan.Load(abs)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(plan.ProjectDir(abs))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	// Relative tool paths are rooted at the project directory.
	cfg.Backend.ScriptsDir = plan.OutputPath(abs, cfg.Backend.ScriptsDir)
	return &project{planPath: abs, doc: doc, ix: ix, cfg: cfg}, nil
}

func (p *project) checker() *validate.Checker {
	c := validate.New()
	c.Strength = validate.StrengthRange{
		Min: p.cfg.Validation.StrengthMin,
		Max: p.cfg.Validation.StrengthMax,
	}
	return c
}

// demoteStale persists the failed status of tasks a previous run left
// mid-flight. Call before executing, never from read-only commands.
func (p *project) demoteStale() error {
	demoted := p.ix.DemoteStale()
	if len(demoted) == 0 {
		return nil
	}
	fmt.Printf("Previous run was interrupted, marking as failed: %s\n", strings.Join(demoted, ", "))
	return plan.Save(p.planPath, p.doc)
}

func (p *project) executor() *executor.Executor {
	backend := executor.NewScriptBackend(p.cfg)
	return executor.New(p.planPath, p.doc, p.ix, backend).
		WithChecker(p.checker()).
		WithLogger(debugLogger())
}
