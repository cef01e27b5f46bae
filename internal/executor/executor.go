// Package executor runs plan stages against the generation backend, one
// task at a time. The backend holds a single GPU-resident model context,
// so there is never more than one generation call in flight.
package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/frameloom/frameloom/internal/plan"
	"github.com/frameloom/frameloom/internal/refs"
	"github.com/frameloom/frameloom/internal/validate"
)

// StageResult summarizes one stage run.
type StageResult struct {
	Stage       plan.Stage
	Done        int
	Failed      int
	Skipped     int
	FailedTasks []string
	Warnings    []validate.Finding
	Duration    time.Duration
}

// OK reports whether the stage finished without failures.
func (r StageResult) OK() bool { return r.Failed == 0 }

// ValidationFailedError aborts a run before any backend call when the
// continuity checks found blocking problems.
type ValidationFailedError struct {
	Findings []validate.Finding
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("plan failed continuity validation with %d error(s)", len(e.Findings))
}

// GateError refuses a stage whose prerequisites are not satisfied.
type GateError struct {
	Stage    plan.Stage
	Blocking []*plan.Task
}

func (e *GateError) Error() string {
	ids := make([]string, 0, len(e.Blocking))
	for _, t := range e.Blocking {
		ids = append(ids, fmt.Sprintf("%s (%s)", t.ID, t.Status()))
	}
	return fmt.Sprintf("stage %s is blocked by incomplete prior work: %s", e.Stage, strings.Join(ids, ", "))
}

// Executor drives stage execution for one plan.
type Executor struct {
	planPath string
	doc      *plan.Document
	ix       *plan.Index
	resolver *refs.Resolver
	checker  *validate.Checker
	backend  Backend
	logger   *plan.ProgressLogger
	lock     *plan.RunLock
	out      io.Writer
	log      *slog.Logger

	// The backend is one exclusive resource; this is its token.
	backendMu sync.Mutex
}

// New creates an Executor for the plan at planPath.
func New(planPath string, doc *plan.Document, ix *plan.Index, backend Backend) *Executor {
	projectDir := plan.ProjectDir(planPath)
	return &Executor{
		planPath: planPath,
		doc:      doc,
		ix:       ix,
		resolver: refs.NewResolver(planPath, ix),
		checker:  validate.New(),
		backend:  backend,
		logger:   plan.NewProgressLogger(projectDir),
		lock:     plan.NewRunLock(projectDir),
		out:      os.Stdout,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithOutput redirects human-readable progress (useful for testing).
func (e *Executor) WithOutput(w io.Writer) *Executor {
	e.out = w
	return e
}

// WithChecker overrides the continuity checker (strength thresholds).
func (e *Executor) WithChecker(c *validate.Checker) *Executor {
	e.checker = c
	return e
}

// WithLogger enables debug logging.
func (e *Executor) WithLogger(l *slog.Logger) *Executor {
	e.log = l
	return e
}

// RunStage executes all pending tasks of the stage in dependency order.
// It halts on the first failure: later tasks in the stage likely consume
// the failed task's output. Previously completed tasks are skipped, which
// makes re-invocation after a partial run cheap and idempotent.
func (e *Executor) RunStage(ctx context.Context, stage plan.Stage) (StageResult, error) {
	return e.runStage(ctx, stage, nil)
}

func (e *Executor) runStage(ctx context.Context, stage plan.Stage, only map[string]bool) (StageResult, error) {
	result := StageResult{Stage: stage}

	if !e.doc.HasStage(stage) || stage == plan.StageAssemble {
		return result, fmt.Errorf("schema %s has no generation stage %q", e.doc.SchemaVersion, stage)
	}

	// Continuity validation gates every run. Errors abort with zero side
	// effects; warnings ride along on the result.
	findings := e.checker.Check(e.doc, e.ix)
	if errs := validate.Errors(findings); len(errs) > 0 {
		return result, &ValidationFailedError{Findings: errs}
	}
	for _, f := range findings {
		result.Warnings = append(result.Warnings, f)
		fmt.Fprintf(e.out, "warning: %s\n", f)
	}

	if blocking := e.blockingTasks(stage, only); len(blocking) > 0 {
		return result, &GateError{Stage: stage, Blocking: blocking}
	}

	tasks, err := e.ix.Topological(e.ix.StageTasks(stage))
	if err != nil {
		return result, err
	}

	// Resolve every runnable task's references up front, so reference
	// policy bugs abort before the first backend call.
	for _, t := range tasks {
		if only != nil && !only[t.ID] {
			continue
		}
		if _, err := e.resolver.Resolve(t); err != nil {
			return result, err
		}
	}

	if err := e.lock.Acquire(); err != nil {
		return result, err
	}
	defer e.lock.Release()

	start := time.Now()
	e.logger.StageStarted(stage, countPending(tasks, only))
	fmt.Fprintf(e.out, "Stage %s: %d task(s)\n", stage, len(tasks))

	freeVideoMemory := true
	for _, t := range tasks {
		if only != nil && !only[t.ID] {
			result.Skipped++
			continue
		}

		switch t.Status() {
		case plan.StatusDone, plan.StatusApproved:
			fmt.Fprintf(e.out, "  [%s] %s - skipping\n", t.Status(), t.ID)
			result.Skipped++
			if t.Kind == plan.KindSegment || t.Kind == plan.KindVideo {
				// The video models are already resident.
				freeVideoMemory = false
			}
			continue
		case plan.StatusFailed:
			// An explicit re-run is the operator action that retries.
			t.SetStatus(plan.StatusPending)
		}

		if blocked := e.incompleteDeps(t); len(blocked) > 0 {
			fmt.Fprintf(e.out, "  [blocked] %s - waiting on %s\n", t.ID, strings.Join(blocked, ", "))
			result.Skipped++
			continue
		}

		err := e.executeTask(ctx, t, &freeVideoMemory)
		if ctx.Err() != nil {
			// Leave the in-flight task as running; the next load demotes
			// it to failed (the backend cannot resume it).
			e.logger.StageCancelled(stage, t.ID)
			fmt.Fprintf(e.out, "\nCancelled during %s.\n", t.ID)
			return result, ctx.Err()
		}
		if err != nil {
			result.Failed++
			result.FailedTasks = append(result.FailedTasks, t.ID)
			e.logger.StageFailed(stage, t.ID)
			fmt.Fprintf(e.out, "  [failed] %s: %v\n", t.ID, err)
			fmt.Fprintf(e.out, "Halting stage %s: later tasks depend on %s.\n", stage, t.ID)
			return result, nil
		}
		result.Done++
	}

	result.Duration = time.Since(start)
	e.logger.StageCompleted(stage, result.Done, result.Skipped, result.Duration)
	fmt.Fprintf(e.out, "Stage %s complete: %d done, %d skipped.\n", stage, result.Done, result.Skipped)
	return result, nil
}

// executeTask runs one task through the backend, persisting every status
// transition before the next task may start.
func (e *Executor) executeTask(ctx context.Context, t *plan.Task, freeVideoMemory *bool) error {
	resolved, err := e.resolver.Resolve(t)
	if err != nil {
		return err
	}

	req, err := e.buildRequest(t, resolved, freeVideoMemory)
	if err != nil {
		t.Fail(err.Error())
		if saveErr := plan.Save(e.planPath, e.doc); saveErr != nil {
			return saveErr
		}
		return err
	}

	t.SetStatus(plan.StatusRunning)
	if err := plan.Save(e.planPath, e.doc); err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	e.logger.TaskStarted(t.ID)
	fmt.Fprintf(e.out, "  [pending] %s - generating...\n", t.ID)
	e.log.Debug("dispatching task", "task", t.ID, "kind", string(t.Kind), "output", req.OutputPath)

	start := time.Now()
	e.backendMu.Lock()
	artifact, genErr := e.backend.Generate(ctx, req)
	e.backendMu.Unlock()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if genErr == nil {
		genErr = checkArtifact(req.OutputPath)
	}
	if genErr != nil {
		t.Fail(genErr.Error())
		if saveErr := plan.Save(e.planPath, e.doc); saveErr != nil {
			return saveErr
		}
		e.logger.TaskFailed(t.ID, genErr.Error())
		return genErr
	}

	t.SetStatus(plan.StatusDone)
	if err := plan.Save(e.planPath, e.doc); err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	e.logger.TaskCompleted(t.ID, time.Since(start))
	e.log.Debug("task done", "task", t.ID, "bytes", artifact.Bytes, "duration", time.Since(start))
	fmt.Fprintf(e.out, "  [done] %s (%s)\n", t.ID, time.Since(start).Round(time.Second))
	return nil
}

func (e *Executor) buildRequest(t *plan.Task, resolved []refs.Resolved, freeVideoMemory *bool) (Request, error) {
	req := Request{
		TaskID:     t.ID,
		Kind:       t.Kind,
		Category:   t.Category,
		Prompt:     t.Prompt,
		References: resolved,
		OutputPath: plan.OutputPath(e.planPath, t.Output),
		Settings:   t.Settings,
	}

	switch t.Kind {
	case plan.KindAsset:
		req.FreeMemory = true
		if t.Source != "" {
			req.Source = plan.OutputPath(e.planPath, t.Source)
		}

	case plan.KindKeyframe:
		req.FreeMemory = true

	case plan.KindExtract:
		deps := t.StructuralDeps()
		if len(deps) == 0 {
			return req, fmt.Errorf("extracted keyframe %s has no source footage", t.ID)
		}
		src, _ := e.ix.Task(deps[0])
		req.Source = plan.OutputPath(e.planPath, src.Output)

	case plan.KindSegment, plan.KindVideo:
		start, end, err := e.framePaths(t)
		if err != nil {
			return req, err
		}
		req.StartFrame = start
		req.EndFrame = end
		if t.LastFrame != "" {
			req.LastFrame = plan.OutputPath(e.planPath, t.LastFrame)
		}
		// Flush image models once when the run switches to video work.
		req.FreeMemory = *freeVideoMemory
		*freeVideoMemory = false
	}
	return req, nil
}

// framePaths resolves the start (and optional end) frame for a video task
// from its structural dependencies.
func (e *Executor) framePaths(t *plan.Task) (string, string, error) {
	deps := t.StructuralDeps()
	if len(deps) == 0 {
		return "", "", fmt.Errorf("video task %s has no start keyframe", t.ID)
	}

	frame := func(id string) (string, error) {
		dep, ok := e.ix.Task(id)
		if !ok {
			return "", fmt.Errorf("video task %s: unknown dependency %q", t.ID, id)
		}
		if dep.Kind == plan.KindSegment {
			if dep.LastFrame == "" {
				return "", fmt.Errorf("video task %s: segment %s has no trailing frame", t.ID, id)
			}
			return plan.OutputPath(e.planPath, dep.LastFrame), nil
		}
		return plan.OutputPath(e.planPath, dep.Output), nil
	}

	start, err := frame(deps[0])
	if err != nil {
		return "", "", err
	}
	var end string
	if t.Kind == plan.KindVideo && len(deps) > 1 {
		end, err = frame(deps[1])
		if err != nil {
			return "", "", err
		}
	}
	return start, end, nil
}

// blockingTasks returns prior-stage tasks that gate this stage, excluding
// tasks a restricted (regeneration) run is about to execute itself.
func (e *Executor) blockingTasks(stage plan.Stage, only map[string]bool) []*plan.Task {
	var out []*plan.Task
	for _, t := range e.doc.BlockingTasks(e.ix, stage) {
		if only != nil && only[t.ID] {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (e *Executor) incompleteDeps(t *plan.Task) []string {
	var blocked []string
	for _, dep := range t.Deps() {
		if d, ok := e.ix.Task(dep); ok && !d.Status().Complete() {
			blocked = append(blocked, dep)
		}
	}
	return blocked
}

func checkArtifact(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("backend reported success but output is missing: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("backend reported success but output %s is empty", path)
	}
	return nil
}

func countPending(tasks []*plan.Task, only map[string]bool) int {
	n := 0
	for _, t := range tasks {
		if only != nil && !only[t.ID] {
			continue
		}
		if !t.Status().Complete() {
			n++
		}
	}
	return n
}
