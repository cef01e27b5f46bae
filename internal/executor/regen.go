package executor

import (
	"context"
	"fmt"
	"sort"

	"github.com/frameloom/frameloom/internal/plan"
)

// Invalidate resets the named task to pending along with every task that
// transitively consumes its output. Downstream tasks linked only through
// background chaining survive when keepChainedBackgrounds is set; a
// changed-but-compatible background predecessor is tolerable, a changed
// identity source is not. Unrelated tasks are never touched.
//
// Assembly outputs derived from any invalidated task (the scene video,
// the final video) are also reset, since they would otherwise merge stale
// footage.
func Invalidate(doc *plan.Document, ix *plan.Index, taskID string, keepChainedBackgrounds bool) ([]*plan.Task, error) {
	root, ok := ix.Task(taskID)
	if !ok {
		return nil, fmt.Errorf("task %q not found in plan", taskID)
	}

	set := map[string]*plan.Task{root.ID: root}
	queue := []*plan.Task{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range ix.Dependents(cur.ID) {
			if _, seen := set[dep.ID]; seen {
				continue
			}
			if keepChainedBackgrounds && onlyBackgroundLink(dep, cur.ID) {
				continue
			}
			set[dep.ID] = dep
			queue = append(queue, dep)
		}
	}

	invalidated := make([]*plan.Task, 0, len(set))
	for _, t := range set {
		invalidated = append(invalidated, t)
	}
	sort.Slice(invalidated, func(i, j int) bool { return invalidated[i].Order < invalidated[j].Order })

	for _, t := range invalidated {
		t.SetStatus(plan.StatusPending)
	}

	scenes := make(map[string]bool)
	for _, t := range invalidated {
		if t.SceneID != "" {
			scenes[t.SceneID] = true
		}
	}
	for _, scene := range doc.Scenes {
		if scenes[scene.ID] && scene.Status.Complete() {
			scene.Status = plan.StatusPending
			scene.LastError = ""
		}
	}
	if doc.FinalVideo != nil && doc.FinalVideo.Status.Complete() {
		doc.FinalVideo.Status = plan.StatusPending
		doc.FinalVideo.LastError = ""
	}

	return invalidated, nil
}

// onlyBackgroundLink reports whether every edge from t to id is a
// background reference. A structural dependency or any identity, style or
// pose reference makes the link hard.
func onlyBackgroundLink(t *plan.Task, id string) bool {
	for _, dep := range t.StructuralDeps() {
		if dep == id {
			return false
		}
	}
	linked := false
	for _, ref := range t.References {
		if ref.Target != id {
			continue
		}
		if ref.Kind != plan.RefBackground {
			return false
		}
		linked = true
	}
	return linked
}

// Regenerate re-executes the named task and its transitive dependents,
// leaving all other completed work untouched.
func (e *Executor) Regenerate(ctx context.Context, taskID string, keepChainedBackgrounds bool) ([]StageResult, error) {
	invalidated, err := Invalidate(e.doc, e.ix, taskID, keepChainedBackgrounds)
	if err != nil {
		return nil, err
	}
	if err := plan.Save(e.planPath, e.doc); err != nil {
		return nil, err
	}

	ids := make([]string, len(invalidated))
	only := make(map[string]bool, len(invalidated))
	for i, t := range invalidated {
		ids[i] = t.ID
		only[t.ID] = true
	}
	e.logger.Regenerated(taskID, ids)
	fmt.Fprintf(e.out, "Regenerating %s (%d task(s) invalidated)\n", taskID, len(invalidated))

	var results []StageResult
	for _, stage := range e.doc.Stages() {
		if stage == plan.StageAssemble || !stageHasAny(e.ix, stage, only) {
			continue
		}
		result, err := e.runStage(ctx, stage, only)
		results = append(results, result)
		if err != nil {
			return results, err
		}
		if !result.OK() {
			break
		}
	}
	return results, nil
}

func stageHasAny(ix *plan.Index, stage plan.Stage, only map[string]bool) bool {
	for _, t := range ix.StageTasks(stage) {
		if only[t.ID] {
			return true
		}
	}
	return false
}
