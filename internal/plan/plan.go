package plan

// Document is the full task graph for one production run: assets, then
// keyframes/videos (v1/v2) or scenes (v3), then final assembly. It is
// authored once, validated, and from then on only task statuses and
// last_error fields change.
type Document struct {
	SchemaVersion   string                       `json:"schema_version"`
	ProjectID       string                       `json:"project_id"`
	RequireApproval bool                         `json:"require_approval,omitempty"`
	Assets          map[string]map[string]*Asset `json:"assets"`
	Keyframes       []*Keyframe                  `json:"keyframes,omitempty"`
	Videos          []*Video                     `json:"videos,omitempty"`
	Scenes          []*Scene                     `json:"scenes,omitempty"`
	FinalVideo      *FinalVideo                  `json:"final_video,omitempty"`
}

// Schema version constants.
const (
	SchemaV1 = "v1" // keyframe-first: assets -> keyframes -> videos
	SchemaV2 = "v2" // video-first: same collections, videos carry the prompt
	SchemaV3 = "v3" // scene/segment: assets -> scenes (keyframe + segments)
)

// Asset category keys, in generation order.
const (
	CategoryCharacters  = "characters"
	CategoryBackgrounds = "backgrounds"
	CategoryStyles      = "styles"
	CategoryObjects     = "objects"
	CategoryPoses       = "poses"
)

// Categories lists asset categories in the order the assets stage runs them.
var Categories = []string{
	CategoryCharacters,
	CategoryBackgrounds,
	CategoryStyles,
	CategoryObjects,
	CategoryPoses,
}

// Status is the lifecycle state of a single generation task.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusApproved Status = "approved"
)

// Complete reports whether the task's artifact can be consumed by
// downstream tasks.
func (s Status) Complete() bool {
	return s == StatusDone || s == StatusApproved
}

// RefKind is the role a reference plays when passed to the backend.
type RefKind string

const (
	RefIdentity   RefKind = "identity"
	RefPose       RefKind = "pose"
	RefBackground RefKind = "background"
	RefStyle      RefKind = "style"
)

// MaxReferenceSlots is the hard cap on simultaneous references for a
// single image-generation task. More than three reference images degrades
// all of them in current backends.
const MaxReferenceSlots = 3

// Reference points a task at an asset or at another task's output.
// Order matters: entries map positionally to backend reference slots.
type Reference struct {
	Kind     RefKind `json:"kind"`
	Target   string  `json:"target"`
	Strength float64 `json:"strength,omitempty"`
}

// Settings is an opaque configuration bag passed through to the backend
// unmodified (sampler steps, guidance scale, preset, control strength...).
type Settings map[string]any

// Asset is a frozen reference image generated once and reused verbatim
// for every downstream identity/style/pose reference.
type Asset struct {
	Prompt    string   `json:"prompt,omitempty"`
	Type      string   `json:"type,omitempty"`   // poses only: "generate" or "extract"
	Source    string   `json:"source,omitempty"` // poses with type "extract"
	Output    string   `json:"output"`
	Settings  Settings `json:"settings,omitempty"`
	Status    Status   `json:"status"`
	LastError string   `json:"last_error,omitempty"`
}

// Pose asset types.
const (
	PoseGenerate = "generate"
	PoseExtract  = "extract"
)

// Keyframe is an image-generation task. In v3 it is also the first frame
// of a scene, where Type distinguishes a generated frame from one
// extracted out of the previous scene's footage.
type Keyframe struct {
	ID          string      `json:"id"`
	Type        string      `json:"type,omitempty"` // "generated" (default) or "extracted"
	SourceScene string      `json:"source_scene,omitempty"`
	Prompt      string      `json:"prompt,omitempty"`
	Characters  []string    `json:"characters,omitempty"`
	References  []Reference `json:"references,omitempty"`
	Settings    Settings    `json:"settings,omitempty"`
	Output      string      `json:"output"`
	Status      Status      `json:"status"`
	LastError   string      `json:"last_error,omitempty"`
}

// Keyframe types (v3 first_keyframe).
const (
	KeyframeGenerated = "generated"
	KeyframeExtracted = "extracted"
)

// Generated reports whether the keyframe is produced by the image backend
// (as opposed to extracted from previous footage).
func (k *Keyframe) Generated() bool {
	return k.Type == "" || k.Type == KeyframeGenerated
}

// Video is a v1/v2 video-generation task animated between keyframes.
type Video struct {
	ID            string   `json:"id"`
	Prompt        string   `json:"prompt"`
	StartKeyframe string   `json:"start_keyframe"`
	EndKeyframe   string   `json:"end_keyframe,omitempty"`
	Settings      Settings `json:"settings,omitempty"`
	Output        string   `json:"output"`
	Status        Status   `json:"status"`
	LastError     string   `json:"last_error,omitempty"`
}

// Segment is a v3 video-generation task within a scene. Each segment
// starts from the scene keyframe (first segment) or the previous
// segment's trailing frame, which keeps boundaries aligned by
// construction.
type Segment struct {
	ID         string      `json:"id"`
	Prompt     string      `json:"prompt"`
	Characters []string    `json:"characters,omitempty"`
	References []Reference `json:"references,omitempty"`
	Settings   Settings    `json:"settings,omitempty"`
	Output     string      `json:"output"`
	LastFrame  string      `json:"last_frame,omitempty"`
	Status     Status      `json:"status"`
	LastError  string      `json:"last_error,omitempty"`
}

// Transition describes how a scene joins the previous one in the final
// video.
type Transition struct {
	Type     string  `json:"type"`
	Duration float64 `json:"duration,omitempty"` // seconds, fade/dissolve only
}

// Transition types.
const (
	TransitionCut        = "cut"
	TransitionContinuous = "continuous"
	TransitionFade       = "fade"
	TransitionDissolve   = "dissolve"
)

// Scene is a v3 unit of footage: one first keyframe plus an ordered run
// of segments, concatenated into OutputVideo during assembly.
type Scene struct {
	ID                     string     `json:"id"`
	TransitionFromPrevious Transition `json:"transition_from_previous"`
	FirstKeyframe          *Keyframe  `json:"first_keyframe"`
	Segments               []*Segment `json:"segments"`
	OutputVideo            string     `json:"output_video"`
	Status                 Status     `json:"status"`
	LastError              string     `json:"last_error,omitempty"`
}

// FinalVideo is the whole-plan assembly target.
type FinalVideo struct {
	Output    string `json:"output"`
	Status    Status `json:"status"`
	LastError string `json:"last_error,omitempty"`
}

// Stage names a subset of tasks executed together in one pass.
type Stage string

const (
	StageAssets    Stage = "assets"
	StageKeyframes Stage = "keyframes"
	StageVideos    Stage = "videos"
	StageScenes    Stage = "scenes"
	StageAssemble  Stage = "assemble"
)

// Stages returns the stages of this document in execution order.
func (d *Document) Stages() []Stage {
	if d.SchemaVersion == SchemaV3 {
		return []Stage{StageAssets, StageScenes, StageAssemble}
	}
	return []Stage{StageAssets, StageKeyframes, StageVideos, StageAssemble}
}

// HasStage reports whether stage exists in this document's schema.
func (d *Document) HasStage(stage Stage) bool {
	for _, s := range d.Stages() {
		if s == stage {
			return true
		}
	}
	return false
}

// Asset returns the asset with the given id, searching all categories.
func (d *Document) Asset(id string) (*Asset, string, bool) {
	for _, category := range Categories {
		if a, ok := d.Assets[category][id]; ok {
			return a, category, true
		}
	}
	return nil, "", false
}
