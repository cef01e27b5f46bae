package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/frameloom/frameloom/internal/config"
	"github.com/frameloom/frameloom/internal/plan"
	"github.com/frameloom/frameloom/internal/refs"
)

// CommandContext is the function used to create exec.Cmd instances.
// It can be replaced in tests to mock command execution.
var CommandContext = exec.CommandContext

// ScriptBackend runs the generation scripts (asset generator, keyframe
// generator, video generator, ffmpeg frame extraction) as subprocesses.
type ScriptBackend struct {
	scriptsDir string
	python     string
	ffmpeg     string
	timeout    time.Duration
}

// NewScriptBackend creates a backend invoking scripts under cfg.Backend.ScriptsDir.
func NewScriptBackend(cfg *config.Config) *ScriptBackend {
	return &ScriptBackend{
		scriptsDir: cfg.Backend.ScriptsDir,
		python:     cfg.Backend.Python,
		ffmpeg:     cfg.Assembly.FFmpeg,
		timeout:    time.Duration(cfg.Backend.TimeoutMinutes) * time.Minute,
	}
}

// Generate runs the script for the requested task kind and waits for it.
func (b *ScriptBackend) Generate(ctx context.Context, req Request) (Artifact, error) {
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0755); err != nil {
		return Artifact{}, &BackendError{Kind: ErrInvalidInput, TaskID: req.TaskID, Err: err}
	}

	name, args, err := b.command(req)
	if err != nil {
		return Artifact{}, &BackendError{Kind: ErrInvalidInput, TaskID: req.TaskID, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Artifact{}, &BackendError{
				Kind:   ErrTimeout,
				TaskID: req.TaskID,
				Err:    fmt.Errorf("no result after %s", b.timeout),
			}
		}
		return Artifact{}, &BackendError{
			Kind:   classify(stderr.String()),
			TaskID: req.TaskID,
			Err:    fmt.Errorf("%w: %s", err, firstLines(stderr.String(), 5)),
		}
	}

	info, err := os.Stat(req.OutputPath)
	if err != nil {
		return Artifact{}, &BackendError{
			Kind:   ErrTransient,
			TaskID: req.TaskID,
			Err:    fmt.Errorf("script succeeded but wrote no output: %w", err),
		}
	}

	// Segments hand their trailing frame to the next segment.
	if req.LastFrame != "" {
		if err := b.extractFrame(ctx, req.OutputPath, req.LastFrame); err != nil {
			return Artifact{}, &BackendError{Kind: ErrTransient, TaskID: req.TaskID, Err: err}
		}
	}
	return Artifact{Path: req.OutputPath, Bytes: info.Size()}, nil
}

func (b *ScriptBackend) extractFrame(ctx context.Context, video, frame string) error {
	if err := os.MkdirAll(filepath.Dir(frame), 0755); err != nil {
		return err
	}
	cmd := CommandContext(ctx, b.ffmpeg,
		"-y", "-sseof", "-0.1",
		"-i", video,
		"-update", "1", "-q:v", "2",
		frame,
	)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("trailing frame extraction failed: %w: %s", err, firstLines(stderr.String(), 3))
	}
	return nil
}

func (b *ScriptBackend) script(file string) string {
	return filepath.Join(b.scriptsDir, file)
}

// command maps a request onto a generation script invocation.
func (b *ScriptBackend) command(req Request) (string, []string, error) {
	switch req.Kind {
	case plan.KindAsset:
		return b.assetCommand(req)

	case plan.KindKeyframe:
		args := []string{b.script("keyframe_generator.py")}
		if req.FreeMemory {
			args = append(args, "--free-memory")
		}
		args = append(args, "--prompt", req.Prompt, "--output", req.OutputPath)
		args = append(args, referenceArgs(req.References)...)
		args = append(args, settingsArgs(req.Settings)...)
		return b.python, args, nil

	case plan.KindSegment, plan.KindVideo:
		if req.StartFrame == "" {
			return "", nil, fmt.Errorf("video task %s has no start frame", req.TaskID)
		}
		args := []string{b.script("wan_video_comfyui.py")}
		if req.FreeMemory {
			args = append(args, "--free-memory")
		}
		args = append(args, "--prompt", req.Prompt,
			"--start-frame", req.StartFrame,
			"--output", req.OutputPath)
		if req.EndFrame != "" {
			args = append(args, "--end-frame", req.EndFrame)
		}
		args = append(args, settingsArgs(req.Settings)...)
		return b.python, args, nil

	case plan.KindExtract:
		if req.Source == "" {
			return "", nil, fmt.Errorf("extract task %s has no source footage", req.TaskID)
		}
		// Grab the final frame of the source footage.
		return b.ffmpeg, []string{
			"-y", "-sseof", "-0.1",
			"-i", req.Source,
			"-update", "1", "-q:v", "2",
			req.OutputPath,
		}, nil
	}
	return "", nil, fmt.Errorf("unknown task kind %q", req.Kind)
}

func (b *ScriptBackend) assetCommand(req Request) (string, []string, error) {
	gen := b.script("asset_generator.py")
	switch req.Category {
	case plan.CategoryCharacters, plan.CategoryBackgrounds, plan.CategoryStyles, plan.CategoryObjects:
		// Category keys are plural, generator subcommands singular.
		sub := strings.TrimSuffix(req.Category, "s")
		return b.python, append([]string{gen, sub,
			"--name", req.TaskID,
			"--description", req.Prompt,
			"--output", req.OutputPath,
			"--free-memory",
		}, settingsArgs(req.Settings)...), nil

	case plan.CategoryPoses:
		if req.Source != "" {
			return b.python, []string{gen, "pose",
				"--source", req.Source,
				"--output", req.OutputPath,
				"--free-memory",
			}, nil
		}
		refOutput := filepath.Join(filepath.Dir(req.OutputPath), "refs", req.TaskID+".png")
		return b.python, []string{gen, "pose-ref",
			"--name", req.TaskID,
			"--pose", req.Prompt,
			"--output", refOutput,
			"--extract-skeleton",
			"--skeleton-output", req.OutputPath,
			"--free-memory",
		}, nil
	}
	return "", nil, fmt.Errorf("unknown asset category %q", req.Category)
}

func referenceArgs(resolved []refs.Resolved) []string {
	var args []string
	for _, r := range resolved {
		switch r.Kind {
		case plan.RefIdentity:
			args = append(args, "--character", r.Path)
		case plan.RefBackground:
			args = append(args, "--background", r.Path)
		case plan.RefPose:
			args = append(args, "--pose", r.Path)
		case plan.RefStyle:
			args = append(args, "--style", r.Path)
		}
		if r.Strength != 0 {
			args = append(args, "--reference-strength", fmt.Sprintf("%g", r.Strength))
		}
	}
	return args
}

// settingsArgs converts the opaque settings bag into CLI flags the
// generators document. Unknown keys are passed through as-is.
func settingsArgs(settings plan.Settings) []string {
	var args []string
	for _, key := range []string{"control_strength", "preset", "steps", "guidance_scale", "resolution"} {
		if v, ok := settings[key]; ok {
			flag := "--" + strings.ReplaceAll(key, "_", "-")
			args = append(args, flag, fmt.Sprintf("%v", v))
		}
	}
	return args
}

func classify(stderr string) ErrorKind {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "out of memory"), strings.Contains(lower, "oom"):
		return ErrResourceExhausted
	case strings.Contains(lower, "invalid"), strings.Contains(lower, "usage:"):
		return ErrInvalidInput
	}
	return ErrTransient
}

func firstLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, " / ")
}
