package executor

import (
	"context"
	"fmt"

	"github.com/frameloom/frameloom/internal/plan"
	"github.com/frameloom/frameloom/internal/refs"
)

// ErrorKind classifies backend failures. None of them is retried
// automatically; a failed task stays failed until the operator re-runs the
// stage or regenerates it.
type ErrorKind string

const (
	ErrTimeout           ErrorKind = "timeout"
	ErrResourceExhausted ErrorKind = "resource_exhausted"
	ErrInvalidInput      ErrorKind = "invalid_input"
	ErrTransient         ErrorKind = "transient"
)

// BackendError is a generation failure reported by the backend adapter.
type BackendError struct {
	Kind   ErrorKind
	TaskID string
	Err    error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s generating %s: %v", e.Kind, e.TaskID, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Artifact describes a successfully generated output.
type Artifact struct {
	Path  string
	Bytes int64
}

// Request carries everything the backend needs for one generation call.
// Settings pass through uninterpreted.
type Request struct {
	TaskID     string
	Kind       plan.TaskKind
	Category   string
	Prompt     string
	References []refs.Resolved
	Source     string // extraction input: pose source image or footage video
	StartFrame string // video tasks: first frame image
	EndFrame   string // video tasks: optional final frame image
	LastFrame  string // segments: where to drop the trailing frame
	OutputPath string
	Settings   plan.Settings
	FreeMemory bool // ask the backend to flush model residency first
}

// Backend is the external generation service boundary. Implementations
// must not be called concurrently; the executor serializes access.
type Backend interface {
	Generate(ctx context.Context, req Request) (Artifact, error)
}
