package plan

import (
	"os"
	"path/filepath"
	"testing"
)

func writePlan(t *testing.T, doc *Document) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.json")
	if err := Save(path, doc); err != nil {
		t.Fatalf("failed to save plan: %v", err)
	}
	return path
}

func TestSaveLoadRoundTrip(t *testing.T) {
	doc := docV3()
	doc.Scenes[0].Segments[0].Status = StatusDone
	path := writePlan(t, doc)

	loaded, ix, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load plan: %v", err)
	}
	if loaded.ProjectID != "demo-v3" {
		t.Errorf("project id: got %q", loaded.ProjectID)
	}
	seg, _ := ix.Task("seg-1")
	if seg.Status() != StatusDone {
		t.Errorf("seg-1 status: got %q, want %q", seg.Status(), StatusDone)
	}
}

func TestLoadKeepsRunningStatus(t *testing.T) {
	doc := docV3()
	doc.Scenes[0].Segments[0].Status = StatusRunning
	path := writePlan(t, doc)

	_, ix, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load plan: %v", err)
	}
	seg, _ := ix.Task("seg-1")
	if seg.Status() != StatusRunning {
		t.Errorf("load must not rewrite statuses: got %q", seg.Status())
	}
}

func TestDemoteStale(t *testing.T) {
	doc := docV3()
	doc.Scenes[0].Segments[0].Status = StatusRunning
	_, ix := reparse(t, doc)

	demoted := ix.DemoteStale()
	if len(demoted) != 1 || demoted[0] != "seg-1" {
		t.Fatalf("demoted: got %v, want [seg-1]", demoted)
	}
	seg, _ := ix.Task("seg-1")
	if seg.Status() != StatusFailed {
		t.Errorf("seg-1 status: got %q, want %q", seg.Status(), StatusFailed)
	}
	if seg.LastError() != StaleRunError {
		t.Errorf("seg-1 last error: got %q", seg.LastError())
	}

	if again := ix.DemoteStale(); len(again) != 0 {
		t.Errorf("second demote must be a no-op, got %v", again)
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	path := writePlan(t, docV1())

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("failed to list dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "pipeline.json" {
		t.Errorf("unexpected files after save: %v", entries)
	}
}

func TestOutputPath(t *testing.T) {
	planPath := "/work/project/pipeline.json"
	if got := OutputPath(planPath, "assets/hero.png"); got != "/work/project/assets/hero.png" {
		t.Errorf("relative output: got %q", got)
	}
	if got := OutputPath(planPath, "/abs/hero.png"); got != "/abs/hero.png" {
		t.Errorf("absolute output: got %q", got)
	}
	if got := ProjectDir(planPath); got != "/work/project" {
		t.Errorf("project dir: got %q", got)
	}
}
