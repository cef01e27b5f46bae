// Package assemble merges generated footage into scene videos and the
// final video. Segments are concatenated without re-encoding; boundary
// frames already match because consecutive segments share their
// trailing/starting keyframes. It never fabricates a filler frame: a
// missing or empty input is an error.
package assemble

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/frameloom/frameloom/internal/config"
	"github.com/frameloom/frameloom/internal/plan"
)

// AssemblyError reports a merge that cannot proceed, usually a missing or
// zero-length input artifact.
type AssemblyError struct {
	Target string
	Reason string
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("cannot assemble %s: %s", e.Target, e.Reason)
}

// Result summarizes an assembly pass.
type Result struct {
	ScenesAssembled int
	ScenesSkipped   int
	FinalAssembled  bool
}

// Assembler merges scene segments and scene videos for one plan.
type Assembler struct {
	planPath          string
	doc               *plan.Document
	runner            *ffmpegRunner
	timeout           time.Duration
	defaultTransition float64
	out               io.Writer
}

// New creates an Assembler for the plan at planPath.
func New(planPath string, doc *plan.Document, cfg *config.Config) *Assembler {
	return &Assembler{
		planPath:          planPath,
		doc:               doc,
		runner:            &ffmpegRunner{ffmpeg: cfg.Assembly.FFmpeg, ffprobe: cfg.Assembly.FFprobe},
		timeout:           time.Duration(cfg.Assembly.TimeoutMinutes) * time.Minute,
		defaultTransition: cfg.Assembly.TransitionDuration,
		out:               os.Stdout,
	}
}

// WithOutput redirects human-readable progress (useful for testing).
func (a *Assembler) WithOutput(w io.Writer) *Assembler {
	a.out = w
	return a
}

// Assemble builds every pending scene video, then the final video. Scenes
// already assembled are skipped. The first failure aborts the pass; earlier
// merge results stay on disk and are skipped next time.
func (a *Assembler) Assemble(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	result := Result{}
	for _, scene := range a.doc.Scenes {
		if scene.Status.Complete() {
			fmt.Fprintf(a.out, "  [%s] %s - skipping\n", scene.Status, scene.ID)
			result.ScenesSkipped++
			continue
		}
		if err := a.assembleScene(ctx, scene); err != nil {
			scene.Status = plan.StatusFailed
			scene.LastError = err.Error()
			plan.Save(a.planPath, a.doc)
			return result, err
		}
		scene.Status = plan.StatusDone
		scene.LastError = ""
		if err := plan.Save(a.planPath, a.doc); err != nil {
			return result, err
		}
		fmt.Fprintf(a.out, "  [done] %s -> %s\n", scene.ID, scene.OutputVideo)
		result.ScenesAssembled++
	}

	if a.doc.FinalVideo == nil {
		return result, nil
	}
	if a.doc.FinalVideo.Status.Complete() {
		fmt.Fprintf(a.out, "  [%s] final video - skipping\n", a.doc.FinalVideo.Status)
		return result, nil
	}
	if err := a.assembleFinal(ctx); err != nil {
		a.doc.FinalVideo.Status = plan.StatusFailed
		a.doc.FinalVideo.LastError = err.Error()
		plan.Save(a.planPath, a.doc)
		return result, err
	}
	a.doc.FinalVideo.Status = plan.StatusDone
	a.doc.FinalVideo.LastError = ""
	if err := plan.Save(a.planPath, a.doc); err != nil {
		return result, err
	}
	fmt.Fprintf(a.out, "  [done] final video -> %s\n", a.doc.FinalVideo.Output)
	result.FinalAssembled = true
	return result, nil
}

// assembleScene concatenates a scene's segments into its scene video.
func (a *Assembler) assembleScene(ctx context.Context, scene *plan.Scene) error {
	if len(scene.Segments) == 0 {
		return &AssemblyError{Target: scene.ID, Reason: "scene has no segments"}
	}
	inputs := make([]string, 0, len(scene.Segments))
	for _, seg := range scene.Segments {
		path := plan.OutputPath(a.planPath, seg.Output)
		if err := checkInput(path, seg.ID); err != nil {
			return err
		}
		inputs = append(inputs, path)
	}
	output := plan.OutputPath(a.planPath, scene.OutputVideo)
	if err := a.runner.concat(ctx, inputs, output); err != nil {
		return &AssemblyError{Target: scene.ID, Reason: err.Error()}
	}
	return nil
}

// assembleFinal folds the scene (or v1/v2 video) outputs left to right,
// applying each scene's declared transition at its boundary.
func (a *Assembler) assembleFinal(ctx context.Context) error {
	type clip struct {
		path       string
		transition plan.Transition // from the previous clip into this one
	}

	var clips []clip
	if a.doc.SchemaVersion == plan.SchemaV3 {
		for _, scene := range a.doc.Scenes {
			path := plan.OutputPath(a.planPath, scene.OutputVideo)
			if err := checkInput(path, scene.ID); err != nil {
				return err
			}
			clips = append(clips, clip{path: path, transition: scene.TransitionFromPrevious})
		}
	} else {
		for _, v := range a.doc.Videos {
			path := plan.OutputPath(a.planPath, v.Output)
			if err := checkInput(path, v.ID); err != nil {
				return err
			}
			clips = append(clips, clip{path: path, transition: plan.Transition{Type: plan.TransitionCut}})
		}
	}
	if len(clips) == 0 {
		return &AssemblyError{Target: "final_video", Reason: "no scene videos to merge"}
	}

	output := plan.OutputPath(a.planPath, a.doc.FinalVideo.Output)

	// Pure cut/continuous boundaries collapse into one lossless concat.
	onlyCuts := true
	for _, c := range clips[1:] {
		if c.transition.Type == plan.TransitionFade || c.transition.Type == plan.TransitionDissolve {
			onlyCuts = false
			break
		}
	}
	if onlyCuts {
		paths := make([]string, len(clips))
		for i, c := range clips {
			paths[i] = c.path
		}
		if err := a.runner.concat(ctx, paths, output); err != nil {
			return &AssemblyError{Target: "final_video", Reason: err.Error()}
		}
		return nil
	}

	// Otherwise fold pairwise through temp files.
	current := clips[0].path
	for i := 1; i < len(clips); i++ {
		next := clips[i]
		target := output
		if i < len(clips)-1 {
			tmp, err := os.CreateTemp(plan.ProjectDir(a.planPath), fmt.Sprintf("merge-%02d-*.mp4", i))
			if err != nil {
				return &AssemblyError{Target: "final_video", Reason: err.Error()}
			}
			tmp.Close()
			target = tmp.Name()
			defer os.Remove(target)
		}

		duration := next.transition.Duration
		if duration <= 0 {
			duration = a.defaultTransition
		}

		var err error
		switch next.transition.Type {
		case plan.TransitionFade:
			err = a.runner.fadeMerge(ctx, current, next.path, target, duration)
		case plan.TransitionDissolve:
			err = a.runner.xfadeMerge(ctx, current, next.path, target, duration)
		default:
			// cut and continuous join directly; continuous frames already align.
			err = a.runner.concat(ctx, []string{current, next.path}, target)
		}
		if err != nil {
			return &AssemblyError{Target: "final_video", Reason: err.Error()}
		}
		current = target
	}
	return nil
}

func checkInput(path, owner string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &AssemblyError{Target: owner, Reason: fmt.Sprintf("input %s is missing", path)}
	}
	if info.Size() == 0 {
		return &AssemblyError{Target: owner, Reason: fmt.Sprintf("input %s is empty", path)}
	}
	return nil
}
