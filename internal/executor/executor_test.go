package executor

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frameloom/frameloom/internal/plan"
	"github.com/frameloom/frameloom/internal/refs"
)

// fakeBackend records every request and writes a small output file so the
// artifact check passes. Individual tasks can be made to fail or to run a
// hook before returning.
type fakeBackend struct {
	mu     sync.Mutex
	calls  []Request
	fail   map[string]error
	onCall func(Request)
}

func (b *fakeBackend) Generate(ctx context.Context, req Request) (Artifact, error) {
	b.mu.Lock()
	b.calls = append(b.calls, req)
	b.mu.Unlock()

	if b.onCall != nil {
		b.onCall(req)
	}
	if err, ok := b.fail[req.TaskID]; ok {
		return Artifact{}, err
	}

	for _, path := range []string{req.OutputPath, req.LastFrame} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return Artifact{}, err
		}
		if err := os.WriteFile(path, []byte("frame"), 0644); err != nil {
			return Artifact{}, err
		}
	}
	return Artifact{Path: req.OutputPath, Bytes: 5}, nil
}

func (b *fakeBackend) calledTasks() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, len(b.calls))
	for i, req := range b.calls {
		ids[i] = req.TaskID
	}
	return ids
}

func testDocument() *plan.Document {
	return &plan.Document{
		SchemaVersion: plan.SchemaV3,
		ProjectID:     "executor-test",
		Assets: map[string]map[string]*plan.Asset{
			plan.CategoryCharacters: {
				"hero": {Prompt: "a boxer in red trunks", Output: "assets/hero.png"},
			},
			plan.CategoryBackgrounds: {
				"ring": {Prompt: "a boxing ring", Output: "assets/ring.png"},
			},
		},
		Scenes: []*plan.Scene{
			{
				ID: "scene-1",
				FirstKeyframe: &plan.Keyframe{
					ID:         "kf-1",
					Prompt:     "hero warms up",
					Characters: []string{"hero"},
					References: []plan.Reference{
						{Kind: plan.RefIdentity, Target: "hero"},
						{Kind: plan.RefBackground, Target: "ring"},
					},
					Output: "keyframes/kf-1.png",
				},
				Segments: []*plan.Segment{
					{
						ID:         "seg-1",
						Prompt:     "hero shadowboxes",
						Characters: []string{"hero"},
						References: []plan.Reference{{Kind: plan.RefIdentity, Target: "hero"}},
						Output:     "segments/seg-1.mp4",
						LastFrame:  "frames/seg-1-last.png",
					},
					{
						ID:         "seg-2",
						Prompt:     "hero raises his gloves",
						Characters: []string{"hero"},
						References: []plan.Reference{{Kind: plan.RefIdentity, Target: "hero"}},
						Output:     "segments/seg-2.mp4",
					},
				},
				OutputVideo: "scenes/scene-1.mp4",
			},
		},
		FinalVideo: &plan.FinalVideo{Output: "final.mp4"},
	}
}

// setup writes the document into a temp project dir and returns a wired
// executor plus its backend.
func setup(t *testing.T, doc *plan.Document) (*Executor, *fakeBackend, string) {
	t.Helper()
	planPath := filepath.Join(t.TempDir(), "pipeline.json")
	require.NoError(t, plan.Save(planPath, doc))

	loaded, ix, err := plan.Load(planPath)
	require.NoError(t, err)

	backend := &fakeBackend{fail: make(map[string]error)}
	exec := New(planPath, loaded, ix, backend).WithOutput(io.Discard)
	return exec, backend, planPath
}

func markStageDone(t *testing.T, e *Executor, stage plan.Stage) {
	t.Helper()
	for _, task := range e.ix.StageTasks(stage) {
		task.SetStatus(plan.StatusDone)
		require.NoError(t, os.MkdirAll(filepath.Dir(plan.OutputPath(e.planPath, task.Output)), 0755))
		require.NoError(t, os.WriteFile(plan.OutputPath(e.planPath, task.Output), []byte("frame"), 0644))
		if task.LastFrame != "" {
			require.NoError(t, os.MkdirAll(filepath.Dir(plan.OutputPath(e.planPath, task.LastFrame)), 0755))
			require.NoError(t, os.WriteFile(plan.OutputPath(e.planPath, task.LastFrame), []byte("frame"), 0644))
		}
	}
}

func TestRunStageExecutesInDependencyOrder(t *testing.T) {
	exec, backend, _ := setup(t, testDocument())

	result, err := exec.RunStage(context.Background(), plan.StageAssets)
	require.NoError(t, err)
	assert.True(t, result.OK())
	assert.Equal(t, 2, result.Done)
	assert.Equal(t, []string{"hero", "ring"}, backend.calledTasks())

	markStageDone(t, exec, plan.StageAssets)
	backend.calls = nil

	result, err = exec.RunStage(context.Background(), plan.StageScenes)
	require.NoError(t, err)
	assert.True(t, result.OK())
	assert.Equal(t, []string{"kf-1", "seg-1", "seg-2"}, backend.calledTasks())
}

func TestRunStagePersistsEveryTransition(t *testing.T) {
	exec, _, planPath := setup(t, testDocument())

	_, err := exec.RunStage(context.Background(), plan.StageAssets)
	require.NoError(t, err)

	_, ix, err := plan.Load(planPath)
	require.NoError(t, err)
	for _, id := range []string{"hero", "ring"} {
		task, ok := ix.Task(id)
		require.True(t, ok)
		assert.Equal(t, plan.StatusDone, task.Status(), "task %s", id)
	}
}

func TestRunStageIsIdempotent(t *testing.T) {
	exec, backend, _ := setup(t, testDocument())

	_, err := exec.RunStage(context.Background(), plan.StageAssets)
	require.NoError(t, err)
	require.Len(t, backend.calls, 2)

	result, err := exec.RunStage(context.Background(), plan.StageAssets)
	require.NoError(t, err)
	assert.Len(t, backend.calls, 2, "completed tasks must not be re-executed")
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 0, result.Done)
}

func TestRunStageGatesOnPriorStages(t *testing.T) {
	exec, backend, _ := setup(t, testDocument())

	_, err := exec.RunStage(context.Background(), plan.StageScenes)

	var gate *GateError
	require.ErrorAs(t, err, &gate)
	assert.Equal(t, plan.StageScenes, gate.Stage)
	assert.Len(t, gate.Blocking, 2)
	assert.Empty(t, backend.calls, "a gated stage must not touch the backend")
}

func TestApprovalGate(t *testing.T) {
	doc := testDocument()
	doc.RequireApproval = true
	exec, backend, _ := setup(t, doc)

	_, err := exec.RunStage(context.Background(), plan.StageAssets)
	require.NoError(t, err)

	// Assets are done but nobody signed off on them.
	_, err = exec.RunStage(context.Background(), plan.StageScenes)
	var gate *GateError
	require.ErrorAs(t, err, &gate)

	for _, task := range exec.ix.StageTasks(plan.StageAssets) {
		task.SetStatus(plan.StatusApproved)
	}
	backend.calls = nil
	result, err := exec.RunStage(context.Background(), plan.StageScenes)
	require.NoError(t, err)
	assert.True(t, result.OK())
	assert.Len(t, backend.calls, 3)
}

func TestRunStageHaltsOnFirstFailure(t *testing.T) {
	doc := testDocument()
	exec, backend, planPath := setup(t, doc)
	markStageDone(t, exec, plan.StageAssets)
	backend.fail["seg-1"] = errors.New("CUDA out of memory")

	result, err := exec.RunStage(context.Background(), plan.StageScenes)
	require.NoError(t, err, "task failure is reported on the result, not as an error")
	assert.False(t, result.OK())
	assert.Equal(t, []string{"seg-1"}, result.FailedTasks)
	assert.Equal(t, []string{"kf-1", "seg-1"}, backend.calledTasks(),
		"seg-2 must not run after its dependency failed")

	_, ix, err := plan.Load(planPath)
	require.NoError(t, err)
	seg1, _ := ix.Task("seg-1")
	assert.Equal(t, plan.StatusFailed, seg1.Status())
	assert.Contains(t, seg1.LastError(), "CUDA out of memory")
	seg2, _ := ix.Task("seg-2")
	assert.Equal(t, plan.StatusPending, seg2.Status())
}

func TestExplicitRerunRetriesFailedTasks(t *testing.T) {
	exec, backend, _ := setup(t, testDocument())
	markStageDone(t, exec, plan.StageAssets)
	backend.fail["seg-1"] = errors.New("transient glitch")

	result, err := exec.RunStage(context.Background(), plan.StageScenes)
	require.NoError(t, err)
	require.False(t, result.OK())

	// The operator re-runs the stage after fixing the environment.
	delete(backend.fail, "seg-1")
	backend.calls = nil
	result, err = exec.RunStage(context.Background(), plan.StageScenes)
	require.NoError(t, err)
	assert.True(t, result.OK())
	assert.Equal(t, []string{"seg-1", "seg-2"}, backend.calledTasks(),
		"the finished keyframe is skipped, the failed task retried")
}

func TestCancellationLeavesTaskRunning(t *testing.T) {
	exec, backend, planPath := setup(t, testDocument())

	ctx, cancel := context.WithCancel(context.Background())
	backend.onCall = func(req Request) {
		if req.TaskID == "ring" {
			cancel()
		}
	}

	_, err := exec.RunStage(ctx, plan.StageAssets)
	require.ErrorIs(t, err, context.Canceled)

	// The in-flight task stays running on disk; the backend cannot
	// resume it, so the next execution demotes and retries it.
	_, ix, err := plan.Load(planPath)
	require.NoError(t, err)
	ring, _ := ix.Task("ring")
	assert.Equal(t, plan.StatusRunning, ring.Status())

	demoted := ix.DemoteStale()
	assert.Equal(t, []string{"ring"}, demoted)
}

func TestValidationErrorsAbortBeforeAnyBackendCall(t *testing.T) {
	doc := testDocument()
	// Visible character with no identity reference.
	doc.Scenes[0].Segments[0].References = nil
	exec, backend, _ := setup(t, doc)

	_, err := exec.RunStage(context.Background(), plan.StageAssets)

	var vf *ValidationFailedError
	require.ErrorAs(t, err, &vf)
	assert.NotEmpty(t, vf.Findings)
	assert.Empty(t, backend.calls)
}

func TestPolicyViolationAbortsBeforeAnyBackendCall(t *testing.T) {
	doc := testDocument()
	// Identity chained through a generated keyframe.
	doc.Scenes[0].Segments[1].References = []plan.Reference{
		{Kind: plan.RefIdentity, Target: "hero"},
		{Kind: plan.RefStyle, Target: "kf-1"},
	}
	exec, backend, _ := setup(t, doc)
	markStageDone(t, exec, plan.StageAssets)

	_, err := exec.RunStage(context.Background(), plan.StageScenes)

	var violation *refs.PolicyViolation
	require.ErrorAs(t, err, &violation)
	assert.Empty(t, backend.calls, "policy bugs must surface before generation starts")
}

func TestFreeMemoryHintOnVideoSwitch(t *testing.T) {
	exec, backend, _ := setup(t, testDocument())
	markStageDone(t, exec, plan.StageAssets)

	_, err := exec.RunStage(context.Background(), plan.StageScenes)
	require.NoError(t, err)

	byID := make(map[string]Request)
	for _, req := range backend.calls {
		byID[req.TaskID] = req
	}
	assert.True(t, byID["kf-1"].FreeMemory, "image tasks always flush")
	assert.True(t, byID["seg-1"].FreeMemory, "first video task flushes the image models")
	assert.False(t, byID["seg-2"].FreeMemory, "video models stay resident afterwards")
}

func TestSegmentRequestsChainFrames(t *testing.T) {
	exec, backend, _ := setup(t, testDocument())
	markStageDone(t, exec, plan.StageAssets)

	_, err := exec.RunStage(context.Background(), plan.StageScenes)
	require.NoError(t, err)

	byID := make(map[string]Request)
	for _, req := range backend.calls {
		byID[req.TaskID] = req
	}
	projectDir := plan.ProjectDir(exec.planPath)
	assert.Equal(t, filepath.Join(projectDir, "keyframes/kf-1.png"), byID["seg-1"].StartFrame)
	assert.Equal(t, filepath.Join(projectDir, "frames/seg-1-last.png"), byID["seg-1"].LastFrame)
	assert.Equal(t, filepath.Join(projectDir, "frames/seg-1-last.png"), byID["seg-2"].StartFrame)
}

func TestRunStageRejectsAssemble(t *testing.T) {
	exec, _, _ := setup(t, testDocument())
	_, err := exec.RunStage(context.Background(), plan.StageAssemble)
	assert.Error(t, err)
}

func TestMissingArtifactFailsTheTask(t *testing.T) {
	exec, _, planPath := setup(t, testDocument())
	// The backend claims success but writes nothing.
	exec.backend = silentBackend{}

	result, err := exec.RunStage(context.Background(), plan.StageAssets)
	require.NoError(t, err)
	assert.False(t, result.OK())
	assert.Equal(t, []string{"hero"}, result.FailedTasks)

	_, ix, err := plan.Load(planPath)
	require.NoError(t, err)
	hero, _ := ix.Task("hero")
	assert.Equal(t, plan.StatusFailed, hero.Status())
	assert.Contains(t, hero.LastError(), "missing")
}

// silentBackend reports success without producing any output file.
type silentBackend struct{}

func (silentBackend) Generate(context.Context, Request) (Artifact, error) {
	return Artifact{}, nil
}
