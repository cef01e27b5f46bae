package plan

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const progressLogFileName = "progress.log"

// Event type constants for progress logging.
const (
	EventStageStarted   = "stage_started"
	EventStageCompleted = "stage_completed"
	EventStageFailed    = "stage_failed"
	EventStageCancelled = "stage_cancelled"
	EventTaskStarted    = "task_started"
	EventTaskCompleted  = "task_completed"
	EventTaskFailed     = "task_failed"
	EventRegenerate     = "regenerate"
)

// ProgressEvent represents a single progress log entry.
type ProgressEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Event     string         `json:"event"`
	Data      map[string]any `json:"data,omitempty"`
}

// ProgressLogger writes progress events to a JSON Lines file in the
// project directory. Every logger instance gets a fresh run id so events
// across restarts can be told apart.
type ProgressLogger struct {
	path  string
	runID string
}

// NewProgressLogger creates a progress logger for the given project directory.
func NewProgressLogger(projectDir string) *ProgressLogger {
	return &ProgressLogger{
		path:  filepath.Join(projectDir, progressLogFileName),
		runID: uuid.NewString(),
	}
}

// RunID returns the id stamped on every event this logger writes.
func (p *ProgressLogger) RunID() string { return p.runID }

// Log appends a progress event to the log file.
func (p *ProgressLogger) Log(event string, data map[string]any) error {
	entry := ProgressEvent{
		Timestamp: time.Now(),
		RunID:     p.runID,
		Event:     event,
		Data:      data,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	jsonBytes = append(jsonBytes, '\n')

	f, err := os.OpenFile(p.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(jsonBytes)
	return err
}

// StageStarted logs a stage_started event.
func (p *ProgressLogger) StageStarted(stage Stage, pending int) error {
	return p.Log(EventStageStarted, map[string]any{
		"stage":   string(stage),
		"pending": pending,
	})
}

// TaskStarted logs a task_started event.
func (p *ProgressLogger) TaskStarted(taskID string) error {
	return p.Log(EventTaskStarted, map[string]any{
		"task_id": taskID,
	})
}

// TaskCompleted logs a task_completed event.
func (p *ProgressLogger) TaskCompleted(taskID string, duration time.Duration) error {
	return p.Log(EventTaskCompleted, map[string]any{
		"task_id":     taskID,
		"duration_ms": duration.Milliseconds(),
	})
}

// TaskFailed logs a task_failed event.
func (p *ProgressLogger) TaskFailed(taskID, reason string) error {
	return p.Log(EventTaskFailed, map[string]any{
		"task_id": taskID,
		"reason":  reason,
	})
}

// StageCompleted logs a stage_completed event with summary statistics.
func (p *ProgressLogger) StageCompleted(stage Stage, done, skipped int, duration time.Duration) error {
	return p.Log(EventStageCompleted, map[string]any{
		"stage":       string(stage),
		"done":        done,
		"skipped":     skipped,
		"duration_ms": duration.Milliseconds(),
	})
}

// StageFailed logs a stage_failed event.
func (p *ProgressLogger) StageFailed(stage Stage, taskID string) error {
	return p.Log(EventStageFailed, map[string]any{
		"stage":   string(stage),
		"task_id": taskID,
	})
}

// StageCancelled logs a stage_cancelled event.
func (p *ProgressLogger) StageCancelled(stage Stage, lastTaskID string) error {
	return p.Log(EventStageCancelled, map[string]any{
		"stage":        string(stage),
		"last_task_id": lastTaskID,
	})
}

// Regenerated logs a regenerate event with the invalidated task set.
func (p *ProgressLogger) Regenerated(taskID string, invalidated []string) error {
	return p.Log(EventRegenerate, map[string]any{
		"task_id":     taskID,
		"invalidated": invalidated,
	})
}
