package plan

import (
	"encoding/json"
	"fmt"
)

// SchemaError reports a structural problem in a plan document. Parsing is
// all-or-nothing: on any SchemaError no document is returned.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error at %s: %s", e.Field, e.Reason)
}

func schemaErrf(field, format string, args ...any) *SchemaError {
	return &SchemaError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Parse decodes and validates a plan document. It returns the document
// together with its task index, or a SchemaError describing the first
// structural problem found.
func Parse(raw []byte) (*Document, *Index, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, schemaErrf("document", "not valid JSON: %v", err)
	}

	switch doc.SchemaVersion {
	case SchemaV1, SchemaV2, SchemaV3:
	case "":
		return nil, nil, schemaErrf("schema_version", "missing")
	default:
		return nil, nil, schemaErrf("schema_version", "unrecognized version %q", doc.SchemaVersion)
	}
	if doc.ProjectID == "" {
		return nil, nil, schemaErrf("project_id", "missing")
	}

	if doc.SchemaVersion == SchemaV3 {
		if len(doc.Keyframes) > 0 || len(doc.Videos) > 0 {
			return nil, nil, schemaErrf("schema_version", "v3 documents use scenes, not keyframes/videos")
		}
	} else if len(doc.Scenes) > 0 {
		return nil, nil, schemaErrf("schema_version", "%s documents use keyframes/videos, not scenes", doc.SchemaVersion)
	}

	for category := range doc.Assets {
		if !knownCategory(category) {
			return nil, nil, schemaErrf("assets", "unknown asset category %q", category)
		}
	}

	if err := validateCollections(&doc); err != nil {
		return nil, nil, err
	}

	ix, err := NewIndex(&doc)
	if err != nil {
		return nil, nil, schemaErrf("tasks", "%v", err)
	}

	if err := validateOutputs(&doc, ix); err != nil {
		return nil, nil, err
	}
	if err := validateReferences(ix); err != nil {
		return nil, nil, err
	}

	// Acyclic dependency order over the whole graph. A self or forward
	// reference shows up here as a cycle.
	if _, err := ix.Topological(ix.Tasks()); err != nil {
		return nil, nil, schemaErrf("references", "%v", err)
	}

	return &doc, ix, nil
}

// Serialize renders the document for persistence. Parse and Serialize
// round-trip losslessly modulo object key order.
func Serialize(doc *Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal plan: %w", err)
	}
	return append(data, '\n'), nil
}

func knownCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

func validStatus(s Status) bool {
	switch s {
	case StatusPending, StatusRunning, StatusDone, StatusFailed, StatusApproved:
		return true
	}
	return false
}

func validTransition(t string) bool {
	switch t {
	case TransitionCut, TransitionContinuous, TransitionFade, TransitionDissolve:
		return true
	}
	return false
}

func validateCollections(doc *Document) error {
	for category, assets := range doc.Assets {
		for id, a := range assets {
			field := fmt.Sprintf("assets.%s.%s", category, id)
			if a.Output == "" {
				return schemaErrf(field, "missing output")
			}
			if a.Status == "" {
				a.Status = StatusPending
			}
			if !validStatus(a.Status) {
				return schemaErrf(field, "unknown status %q", a.Status)
			}
			if category == CategoryPoses && a.Type == PoseExtract {
				if a.Source == "" {
					return schemaErrf(field, "pose extraction requires a source")
				}
			} else if a.Prompt == "" {
				return schemaErrf(field, "missing prompt")
			}
		}
	}

	for _, kf := range doc.Keyframes {
		if err := validateKeyframe(kf, fmt.Sprintf("keyframes.%s", kf.ID)); err != nil {
			return err
		}
	}

	for _, v := range doc.Videos {
		field := fmt.Sprintf("videos.%s", v.ID)
		if v.ID == "" {
			return schemaErrf("videos", "video with empty id")
		}
		if v.Output == "" {
			return schemaErrf(field, "missing output")
		}
		if v.StartKeyframe == "" {
			return schemaErrf(field, "missing start_keyframe")
		}
		if v.Status == "" {
			v.Status = StatusPending
		}
		if !validStatus(v.Status) {
			return schemaErrf(field, "unknown status %q", v.Status)
		}
	}

	for i, scene := range doc.Scenes {
		field := fmt.Sprintf("scenes.%s", scene.ID)
		if scene.ID == "" {
			return schemaErrf("scenes", "scene with empty id")
		}
		if scene.FirstKeyframe == nil {
			return schemaErrf(field, "missing first_keyframe")
		}
		if scene.OutputVideo == "" {
			return schemaErrf(field, "missing output_video")
		}
		if scene.Status == "" {
			scene.Status = StatusPending
		}
		if !validStatus(scene.Status) {
			return schemaErrf(field, "unknown status %q", scene.Status)
		}
		if i > 0 && !validTransition(scene.TransitionFromPrevious.Type) {
			return schemaErrf(field, "unknown transition type %q", scene.TransitionFromPrevious.Type)
		}
		kf := scene.FirstKeyframe
		if err := validateKeyframe(kf, field+".first_keyframe"); err != nil {
			return err
		}
		if !kf.Generated() {
			if i == 0 {
				return schemaErrf(field, "first scene cannot use an extracted keyframe")
			}
			if kf.SourceScene != "" && kf.SourceScene != doc.Scenes[i-1].ID {
				return schemaErrf(field, "extracted keyframe source_scene %q is not the previous scene", kf.SourceScene)
			}
		}
		for j, seg := range scene.Segments {
			segField := fmt.Sprintf("%s.segments.%s", field, seg.ID)
			if seg.ID == "" {
				return schemaErrf(field, "segment with empty id")
			}
			// Every segment except the last hands its trailing frame to the
			// next segment as a start frame.
			if j < len(scene.Segments)-1 && seg.LastFrame == "" {
				return schemaErrf(segField, "missing last_frame (required before another segment)")
			}
			if seg.Prompt == "" {
				return schemaErrf(segField, "missing prompt")
			}
			if seg.Output == "" {
				return schemaErrf(segField, "missing output")
			}
			if seg.Status == "" {
				seg.Status = StatusPending
			}
			if !validStatus(seg.Status) {
				return schemaErrf(segField, "unknown status %q", seg.Status)
			}
			for _, ref := range seg.References {
				switch ref.Kind {
				case RefIdentity, RefPose, RefBackground, RefStyle:
				default:
					return schemaErrf(segField, "unknown reference kind %q", ref.Kind)
				}
			}
		}
	}

	if doc.FinalVideo != nil {
		if doc.FinalVideo.Output == "" {
			return schemaErrf("final_video", "missing output")
		}
		if doc.FinalVideo.Status == "" {
			doc.FinalVideo.Status = StatusPending
		}
		if !validStatus(doc.FinalVideo.Status) {
			return schemaErrf("final_video", "unknown status %q", doc.FinalVideo.Status)
		}
	}

	return nil
}

func validateKeyframe(kf *Keyframe, field string) error {
	if kf.ID == "" {
		return schemaErrf(field, "keyframe with empty id")
	}
	if kf.Output == "" {
		return schemaErrf(field, "missing output")
	}
	if kf.Status == "" {
		kf.Status = StatusPending
	}
	if !validStatus(kf.Status) {
		return schemaErrf(field, "unknown status %q", kf.Status)
	}
	switch kf.Type {
	case "", KeyframeGenerated:
		if kf.Prompt == "" {
			return schemaErrf(field, "missing prompt")
		}
		// Image generation has a hard slot limit in the backend.
		if len(kf.References) > MaxReferenceSlots {
			return schemaErrf(field, "%d references exceeds the %d reference slot limit", len(kf.References), MaxReferenceSlots)
		}
	case KeyframeExtracted:
		if len(kf.References) > 0 {
			return schemaErrf(field, "extracted keyframes cannot carry references")
		}
	default:
		return schemaErrf(field, "unknown keyframe type %q", kf.Type)
	}
	for _, ref := range kf.References {
		switch ref.Kind {
		case RefIdentity, RefPose, RefBackground, RefStyle:
		default:
			return schemaErrf(field, "unknown reference kind %q", ref.Kind)
		}
	}
	return nil
}

func validateOutputs(doc *Document, ix *Index) error {
	outputs := make(map[string]string)
	claim := func(path, owner string) error {
		if path == "" {
			return nil
		}
		if prev, taken := outputs[path]; taken {
			return schemaErrf(owner, "output path %q already used by %s", path, prev)
		}
		outputs[path] = owner
		return nil
	}

	for _, t := range ix.Tasks() {
		if err := claim(t.Output, t.ID); err != nil {
			return err
		}
	}
	for _, scene := range doc.Scenes {
		for _, seg := range scene.Segments {
			if err := claim(seg.LastFrame, seg.ID); err != nil {
				return err
			}
		}
		if err := claim(scene.OutputVideo, scene.ID); err != nil {
			return err
		}
	}
	if doc.FinalVideo != nil {
		if err := claim(doc.FinalVideo.Output, "final_video"); err != nil {
			return err
		}
	}
	return nil
}

func validateReferences(ix *Index) error {
	for _, t := range ix.Tasks() {
		for _, ref := range t.References {
			if ref.Target == "" {
				return schemaErrf(t.ID, "reference with empty target")
			}
			if _, ok := ix.Task(ref.Target); !ok {
				return schemaErrf(t.ID, "reference target %q not found", ref.Target)
			}
		}
		for _, dep := range t.Deps() {
			if _, ok := ix.Task(dep); !ok {
				return schemaErrf(t.ID, "dependency %q not found", dep)
			}
		}
		for _, ref := range t.References {
			if ref.Target == t.ID {
				return schemaErrf(t.ID, "task references itself")
			}
		}
	}
	return nil
}
