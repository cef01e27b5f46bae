package plan

import "testing"

// docV1 builds a minimal keyframe-first document: two characters, two
// keyframes, one video between them.
func docV1() *Document {
	return &Document{
		SchemaVersion: SchemaV1,
		ProjectID:     "demo-v1",
		Assets: map[string]map[string]*Asset{
			CategoryCharacters: {
				"hero":  {Prompt: "a boxer in red trunks", Output: "assets/hero.png"},
				"rival": {Prompt: "a boxer in blue trunks", Output: "assets/rival.png"},
			},
			CategoryBackgrounds: {
				"ring": {Prompt: "a boxing ring under spotlights", Output: "assets/ring.png"},
			},
		},
		Keyframes: []*Keyframe{
			{
				ID:         "kf-open",
				Prompt:     "hero enters the ring",
				Characters: []string{"hero"},
				References: []Reference{
					{Kind: RefIdentity, Target: "hero"},
					{Kind: RefBackground, Target: "ring"},
				},
				Output: "keyframes/kf-open.png",
			},
			{
				ID:         "kf-faceoff",
				Prompt:     "hero and rival face off",
				Characters: []string{"hero", "rival"},
				References: []Reference{
					{Kind: RefIdentity, Target: "hero"},
					{Kind: RefIdentity, Target: "rival"},
				},
				Output: "keyframes/kf-faceoff.png",
			},
		},
		Videos: []*Video{
			{
				ID:            "vid-entrance",
				Prompt:        "hero walks to the center",
				StartKeyframe: "kf-open",
				EndKeyframe:   "kf-faceoff",
				Output:        "videos/vid-entrance.mp4",
			},
		},
		FinalVideo: &FinalVideo{Output: "final.mp4"},
	}
}

// docV3 builds a minimal scene/segment document: two scenes, the second
// opening on a frame extracted from the first.
func docV3() *Document {
	return &Document{
		SchemaVersion: SchemaV3,
		ProjectID:     "demo-v3",
		Assets: map[string]map[string]*Asset{
			CategoryCharacters: {
				"hero": {Prompt: "a boxer in red trunks", Output: "assets/hero.png"},
			},
			CategoryBackgrounds: {
				"ring": {Prompt: "a boxing ring under spotlights", Output: "assets/ring.png"},
			},
		},
		Scenes: []*Scene{
			{
				ID: "scene-1",
				FirstKeyframe: &Keyframe{
					ID:         "kf-1",
					Prompt:     "hero warms up in the corner",
					Characters: []string{"hero"},
					References: []Reference{
						{Kind: RefIdentity, Target: "hero"},
						{Kind: RefBackground, Target: "ring"},
					},
					Output: "keyframes/kf-1.png",
				},
				Segments: []*Segment{
					{
						ID:         "seg-1",
						Prompt:     "hero shadowboxes",
						Characters: []string{"hero"},
						References: []Reference{{Kind: RefIdentity, Target: "hero"}},
						Output:     "segments/seg-1.mp4",
						LastFrame:  "frames/seg-1-last.png",
					},
					{
						ID:         "seg-2",
						Prompt:     "hero raises his gloves",
						Characters: []string{"hero"},
						References: []Reference{{Kind: RefIdentity, Target: "hero"}},
						Output:     "segments/seg-2.mp4",
					},
				},
				OutputVideo: "scenes/scene-1.mp4",
			},
			{
				ID:                     "scene-2",
				TransitionFromPrevious: Transition{Type: TransitionCut},
				FirstKeyframe: &Keyframe{
					ID:          "kf-2",
					Type:        KeyframeExtracted,
					SourceScene: "scene-1",
					Output:      "keyframes/kf-2.png",
				},
				Segments: []*Segment{
					{
						ID:     "seg-3",
						Prompt: "the bell rings",
						Output: "segments/seg-3.mp4",
					},
				},
				OutputVideo: "scenes/scene-2.mp4",
			},
		},
		FinalVideo: &FinalVideo{Output: "final.mp4"},
	}
}

// reparse serializes the document and parses it back, returning the
// validated document and index.
func reparse(t *testing.T, doc *Document) (*Document, *Index) {
	t.Helper()
	data, err := Serialize(doc)
	if err != nil {
		t.Fatalf("failed to serialize fixture: %v", err)
	}
	parsed, ix, err := Parse(data)
	if err != nil {
		t.Fatalf("fixture does not parse: %v", err)
	}
	return parsed, ix
}
