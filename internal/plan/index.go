package plan

import (
	"fmt"
	"sort"
)

// TaskKind classifies what the backend is asked to produce.
type TaskKind string

const (
	KindAsset    TaskKind = "asset"
	KindKeyframe TaskKind = "keyframe"
	KindExtract  TaskKind = "extract" // trailing-frame extraction, v3 extracted keyframes
	KindSegment  TaskKind = "segment"
	KindVideo    TaskKind = "video"
)

// Task is a uniform, addressable view over one generation task in the
// document. It aliases the document's status and last_error fields, so
// mutations through a Task are visible on the next serialize.
type Task struct {
	ID         string
	Kind       TaskKind
	Stage      Stage
	Category   string // assets only
	SceneID    string // v3 only
	Prompt     string
	Characters []string
	References []Reference
	Settings   Settings
	Source     string // pose extraction source, or extract-kind input
	Output     string
	LastFrame  string // segments: extracted trailing frame
	Order      int

	structDeps []string
	status     *Status
	lastErr    *string
}

// Status returns the task's current lifecycle state.
func (t *Task) Status() Status { return *t.status }

// SetStatus updates the task's state and clears any stale error.
func (t *Task) SetStatus(s Status) {
	*t.status = s
	if s != StatusFailed {
		*t.lastErr = ""
	}
}

// Fail marks the task failed with the given reason.
func (t *Task) Fail(reason string) {
	*t.status = StatusFailed
	*t.lastErr = reason
}

// LastError returns the recorded failure reason, if any.
func (t *Task) LastError() string { return *t.lastErr }

// Deps returns the ids of tasks this task consumes, structural
// dependencies first, then reference targets in slot order.
func (t *Task) Deps() []string {
	deps := make([]string, 0, len(t.structDeps)+len(t.References))
	deps = append(deps, t.structDeps...)
	for _, ref := range t.References {
		deps = append(deps, ref.Target)
	}
	return deps
}

// StructuralDeps returns only the non-reference dependencies: start and
// end keyframes, preceding segments, extraction sources.
func (t *Task) StructuralDeps() []string { return t.structDeps }

// Index is a derived, read-mostly view over a Document: every generation
// task addressable by id, with its dependency edges. Rebuild after
// structural changes (there are none after parse).
type Index struct {
	doc   *Document
	tasks map[string]*Task
	order []*Task
}

// NewIndex builds the task index. It fails on duplicate ids; deeper
// validation belongs to Parse.
func NewIndex(doc *Document) (*Index, error) {
	ix := &Index{doc: doc, tasks: make(map[string]*Task)}

	add := func(t *Task) error {
		if _, exists := ix.tasks[t.ID]; exists {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		t.Order = len(ix.order)
		ix.tasks[t.ID] = t
		ix.order = append(ix.order, t)
		return nil
	}

	// Assets run by category; ids within a category sort alphabetically
	// since JSON object order carries no meaning.
	for _, category := range Categories {
		ids := make([]string, 0, len(doc.Assets[category]))
		for id := range doc.Assets[category] {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			a := doc.Assets[category][id]
			if err := add(&Task{
				ID:       id,
				Kind:     KindAsset,
				Stage:    StageAssets,
				Category: category,
				Prompt:   a.Prompt,
				Settings: a.Settings,
				Source:   a.Source,
				Output:   a.Output,
				status:   &a.Status,
				lastErr:  &a.LastError,
			}); err != nil {
				return nil, err
			}
		}
	}

	for _, kf := range doc.Keyframes {
		if err := add(keyframeTask(kf, StageKeyframes, "", nil)); err != nil {
			return nil, err
		}
	}

	for _, v := range doc.Videos {
		deps := []string{v.StartKeyframe}
		if v.EndKeyframe != "" {
			deps = append(deps, v.EndKeyframe)
		}
		if err := add(&Task{
			ID:         v.ID,
			Kind:       KindVideo,
			Stage:      StageVideos,
			Prompt:     v.Prompt,
			Settings:   v.Settings,
			Output:     v.Output,
			structDeps: deps,
			status:     &v.Status,
			lastErr:    &v.LastError,
		}); err != nil {
			return nil, err
		}
	}

	for i, scene := range doc.Scenes {
		var prev *Scene
		if i > 0 {
			prev = doc.Scenes[i-1]
		}
		if scene.FirstKeyframe != nil {
			if err := add(keyframeTask(scene.FirstKeyframe, StageScenes, scene.ID, prev)); err != nil {
				return nil, err
			}
		}
		for j, seg := range scene.Segments {
			var deps []string
			if j == 0 {
				if scene.FirstKeyframe != nil {
					deps = append(deps, scene.FirstKeyframe.ID)
				}
			} else {
				deps = append(deps, scene.Segments[j-1].ID)
			}
			if err := add(&Task{
				ID:         seg.ID,
				Kind:       KindSegment,
				Stage:      StageScenes,
				SceneID:    scene.ID,
				Prompt:     seg.Prompt,
				Characters: seg.Characters,
				References: seg.References,
				Settings:   seg.Settings,
				Output:     seg.Output,
				LastFrame:  seg.LastFrame,
				structDeps: deps,
				status:     &seg.Status,
				lastErr:    &seg.LastError,
			}); err != nil {
				return nil, err
			}
		}
	}

	return ix, nil
}

func keyframeTask(kf *Keyframe, stage Stage, sceneID string, prevScene *Scene) *Task {
	t := &Task{
		ID:         kf.ID,
		Kind:       KindKeyframe,
		Stage:      stage,
		SceneID:    sceneID,
		Prompt:     kf.Prompt,
		Characters: kf.Characters,
		References: kf.References,
		Settings:   kf.Settings,
		Output:     kf.Output,
		status:     &kf.Status,
		lastErr:    &kf.LastError,
	}
	if !kf.Generated() {
		// Extracted keyframes depend on the previous scene's final footage.
		t.Kind = KindExtract
		if prevScene != nil {
			if n := len(prevScene.Segments); n > 0 {
				t.structDeps = append(t.structDeps, prevScene.Segments[n-1].ID)
			} else if prevScene.FirstKeyframe != nil {
				t.structDeps = append(t.structDeps, prevScene.FirstKeyframe.ID)
			}
		}
	}
	return t
}

// Task returns the task with the given id.
func (ix *Index) Task(id string) (*Task, bool) {
	t, ok := ix.tasks[id]
	return t, ok
}

// Tasks returns all tasks in document order.
func (ix *Index) Tasks() []*Task { return ix.order }

// StageTasks returns the tasks belonging to stage, in document order.
func (ix *Index) StageTasks(stage Stage) []*Task {
	var out []*Task
	for _, t := range ix.order {
		if t.Stage == stage {
			out = append(out, t)
		}
	}
	return out
}

// Dependents returns tasks that directly consume the given task's output.
func (ix *Index) Dependents(id string) []*Task {
	var out []*Task
	for _, t := range ix.order {
		for _, dep := range t.Deps() {
			if dep == id {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// Topological orders tasks so every dependency precedes its consumers,
// breaking ties by document order. Dependencies outside the given set are
// ignored (they are gated on separately). Returns an error on a cycle.
func (ix *Index) Topological(tasks []*Task) ([]*Task, error) {
	inSet := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		inSet[t.ID] = t
	}

	indegree := make(map[string]int, len(tasks))
	for _, t := range tasks {
		deps := t.Deps()
		seen := make(map[string]bool, len(deps))
		for _, dep := range deps {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			if _, ok := inSet[dep]; ok {
				indegree[t.ID]++
			}
		}
	}

	// Ready queue kept in document order for determinism.
	var ready []*Task
	for _, t := range tasks {
		if indegree[t.ID] == 0 {
			ready = append(ready, t)
		}
	}

	var out []*Task
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i].Order < ready[j].Order })
		next := ready[0]
		ready = ready[1:]
		out = append(out, next)

		for _, dep := range ix.Dependents(next.ID) {
			if _, ok := inSet[dep.ID]; !ok {
				continue
			}
			indegree[dep.ID]--
			if indegree[dep.ID] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(out) != len(tasks) {
		var stuck []string
		for _, t := range tasks {
			if indegree[t.ID] > 0 {
				stuck = append(stuck, t.ID)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("dependency cycle involving %v", stuck)
	}
	return out, nil
}
