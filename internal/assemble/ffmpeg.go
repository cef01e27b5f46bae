package assemble

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// CommandContext is the function used to create exec.Cmd instances.
// It can be replaced in tests to mock command execution.
var CommandContext = exec.CommandContext

// ffmpegRunner wraps the ffmpeg/ffprobe invocations assembly needs.
type ffmpegRunner struct {
	ffmpeg  string
	ffprobe string
}

func (r *ffmpegRunner) run(ctx context.Context, name string, args ...string) error {
	cmd := CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if len(msg) > 500 {
			msg = msg[:500]
		}
		return fmt.Errorf("%s failed: %w: %s", filepath.Base(name), err, strings.TrimSpace(msg))
	}
	return nil
}

// duration returns the length of a video in seconds.
func (r *ffmpegRunner) duration(ctx context.Context, path string) (float64, error) {
	cmd := CommandContext(ctx, r.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe returned no duration for %s: %w", path, err)
	}
	return d, nil
}

// concat joins videos losslessly with the concat demuxer. A single input
// is copied through.
func (r *ffmpegRunner) concat(ctx context.Context, inputs []string, output string) error {
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return err
	}
	if len(inputs) == 1 {
		return copyFile(inputs[0], output)
	}

	list, err := os.CreateTemp(filepath.Dir(output), "concat-*.txt")
	if err != nil {
		return err
	}
	defer os.Remove(list.Name())
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return err
		}
		fmt.Fprintf(list, "file '%s'\n", abs)
	}
	if err := list.Close(); err != nil {
		return err
	}

	return r.run(ctx, r.ffmpeg,
		"-y", "-f", "concat", "-safe", "0",
		"-i", list.Name(),
		"-c", "copy",
		output,
	)
}

// fadeMerge joins two videos fading through black over the given duration.
func (r *ffmpegRunner) fadeMerge(ctx context.Context, first, second, output string, duration float64) error {
	d1, err := r.duration(ctx, first)
	if err != nil {
		return err
	}
	fadeOutStart := d1 - duration
	if fadeOutStart < 0 {
		fadeOutStart = 0
	}
	filter := fmt.Sprintf(
		"[0:v]fade=t=out:st=%g:d=%g[v0];[1:v]fade=t=in:st=0:d=%g[v1];[v0][v1]concat=n=2:v=1:a=0[v]",
		fadeOutStart, duration, duration,
	)
	return r.run(ctx, r.ffmpeg,
		"-y",
		"-i", first,
		"-i", second,
		"-filter_complex", filter,
		"-map", "[v]",
		output,
	)
}

// xfadeMerge joins two videos with a cross dissolve.
func (r *ffmpegRunner) xfadeMerge(ctx context.Context, first, second, output string, duration float64) error {
	d1, err := r.duration(ctx, first)
	if err != nil {
		return err
	}
	offset := d1 - duration
	if offset < 0 {
		offset = 0
	}
	filter := fmt.Sprintf("[0:v][1:v]xfade=transition=fade:duration=%g:offset=%g[v]", duration, offset)
	return r.run(ctx, r.ffmpeg,
		"-y",
		"-i", first,
		"-i", second,
		"-filter_complex", filter,
		"-map", "[v]",
		output,
	)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
