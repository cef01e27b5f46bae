package plan

import (
	"fmt"
	"os"
	"path/filepath"
)

// StaleRunError is recorded on tasks found mid-flight after a crash. The
// backend gives no resumption guarantee, so a task loaded as running is
// demoted to failed rather than silently resumed.
const StaleRunError = "interrupted: task was running when the previous run stopped"

// Load reads, parses and validates the plan at path. Statuses are kept
// exactly as stored; execution entry points call DemoteStale before
// running, read-only views do not.
func Load(path string) (*Document, *Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(data)
}

// DemoteStale marks every running task as failed and returns their ids.
// A task loaded as running means the previous run stopped mid-flight, and
// the backend gives no resumption guarantee.
func (ix *Index) DemoteStale() []string {
	var demoted []string
	for _, t := range ix.Tasks() {
		if t.Status() == StatusRunning {
			t.Fail(StaleRunError)
			demoted = append(demoted, t.ID)
		}
	}
	return demoted
}

// Save atomically writes the document back to path using a temp file and
// rename, so a crash mid-write never truncates the plan.
func Save(path string, doc *Document) error {
	data, err := Serialize(doc)
	if err != nil {
		return err
	}

	tmpPath := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// ProjectDir returns the directory the plan file lives in. All task output
// paths are relative to it.
func ProjectDir(planPath string) string {
	return filepath.Dir(planPath)
}

// OutputPath resolves a task-relative output path against the project dir.
func OutputPath(planPath, output string) string {
	if filepath.IsAbs(output) {
		return output
	}
	return filepath.Join(ProjectDir(planPath), output)
}
