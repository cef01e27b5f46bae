package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frameloom/frameloom/internal/plan"
)

func fixture(t *testing.T) (*plan.Document, *plan.Index) {
	t.Helper()
	doc := &plan.Document{
		SchemaVersion: plan.SchemaV3,
		ProjectID:     "continuity-test",
		Assets: map[string]map[string]*plan.Asset{
			plan.CategoryCharacters: {
				"hero":  {Prompt: "a boxer in red trunks", Output: "assets/hero.png"},
				"rival": {Prompt: "a boxer in blue trunks", Output: "assets/rival.png"},
			},
			plan.CategoryBackgrounds: {
				"ring": {Prompt: "a boxing ring", Output: "assets/ring.png"},
			},
		},
		Scenes: []*plan.Scene{
			{
				ID: "scene-fight",
				FirstKeyframe: &plan.Keyframe{
					ID:         "kf-fight",
					Prompt:     "hero and rival trade blows",
					Characters: []string{"hero", "rival"},
					References: []plan.Reference{
						{Kind: plan.RefIdentity, Target: "hero"},
						{Kind: plan.RefIdentity, Target: "rival"},
					},
					Output: "keyframes/kf-fight.png",
				},
				Segments: []*plan.Segment{
					{
						ID:         "seg-exchange",
						Prompt:     "a flurry of punches",
						Characters: []string{"hero", "rival"},
						References: []plan.Reference{
							{Kind: plan.RefIdentity, Target: "hero"},
							{Kind: plan.RefIdentity, Target: "rival"},
						},
						Output: "segments/seg-exchange.mp4",
					},
				},
				OutputVideo: "scenes/scene-fight.mp4",
			},
			{
				ID:                     "scene-corner",
				TransitionFromPrevious: plan.Transition{Type: plan.TransitionCut},
				FirstKeyframe: &plan.Keyframe{
					ID:          "kf-corner",
					Type:        plan.KeyframeExtracted,
					SourceScene: "scene-fight",
					Output:      "keyframes/kf-corner.png",
				},
				Segments: []*plan.Segment{
					{ID: "seg-corner", Prompt: "the corner team works", Output: "segments/seg-corner.mp4"},
				},
				OutputVideo: "scenes/scene-corner.mp4",
			},
		},
	}
	ix, err := plan.NewIndex(doc)
	require.NoError(t, err)
	return doc, ix
}

func findRule(findings []Finding, rule string) *Finding {
	for i := range findings {
		if findings[i].Rule == rule {
			return &findings[i]
		}
	}
	return nil
}

func TestCleanPlanHasNoFindings(t *testing.T) {
	doc, ix := fixture(t)
	assert.Empty(t, New().Check(doc, ix))
}

func TestVisibleCharacterNeedsIdentityReference(t *testing.T) {
	doc, ix := fixture(t)
	// The rival is on screen but only the hero is pinned.
	doc.Scenes[0].FirstKeyframe.References = []plan.Reference{
		{Kind: plan.RefIdentity, Target: "hero"},
	}

	findings := New().Check(doc, ix)
	f := findRule(findings, RuleMissingIdentity)
	require.NotNil(t, f, "expected a missing identity finding")
	assert.Equal(t, SeverityError, f.Severity)
	assert.Equal(t, "kf-fight", f.TaskID)
	assert.Contains(t, f.Message, "rival")
}

func TestUnknownCharacterIsAnError(t *testing.T) {
	doc, ix := fixture(t)
	doc.Scenes[0].Segments[0].Characters = []string{"hero", "referee"}

	findings := New().Check(doc, ix)
	f := findRule(findings, RuleUnknownCharacter)
	require.NotNil(t, f)
	assert.Equal(t, SeverityError, f.Severity)
	assert.Contains(t, f.Message, "referee")
}

func TestSlotLimitOnImageTasks(t *testing.T) {
	doc, ix := fixture(t)
	doc.Scenes[0].FirstKeyframe.References = []plan.Reference{
		{Kind: plan.RefIdentity, Target: "hero"},
		{Kind: plan.RefIdentity, Target: "rival"},
		{Kind: plan.RefBackground, Target: "ring"},
		{Kind: plan.RefBackground, Target: "ring"},
	}

	findings := New().Check(doc, ix)
	require.NotNil(t, findRule(findings, RuleSlotLimit))
}

func TestStrengthOutsideRangeIsAWarning(t *testing.T) {
	doc, ix := fixture(t)
	doc.Scenes[0].FirstKeyframe.References[0].Strength = 0.1

	findings := New().Check(doc, ix)
	f := findRule(findings, RuleStrengthRange)
	require.NotNil(t, f)
	assert.Equal(t, SeverityWarning, f.Severity)

	// Warnings do not block execution.
	assert.Empty(t, Errors(findings))
}

func TestZeroStrengthMeansBackendDefault(t *testing.T) {
	doc, ix := fixture(t)
	doc.Scenes[0].FirstKeyframe.References[0].Strength = 0

	assert.Nil(t, findRule(New().Check(doc, ix), RuleStrengthRange))
}

func TestContinuousTransitionAfterVisibleCharacters(t *testing.T) {
	doc, ix := fixture(t)
	// Scene two flows continuously out of a scene with characters on
	// screen, but opens on an extracted frame that pins nobody.
	doc.Scenes[1].TransitionFromPrevious = plan.Transition{Type: plan.TransitionContinuous}

	findings := New().Check(doc, ix)
	f := findRule(findings, RuleContinuousExtracted)
	require.NotNil(t, f)
	assert.Equal(t, SeverityError, f.Severity)
	assert.Equal(t, "scene-corner", f.TaskID)
}

func TestContinuousTransitionWithGeneratedKeyframe(t *testing.T) {
	doc, _ := fixture(t)
	doc.Scenes[1].TransitionFromPrevious = plan.Transition{Type: plan.TransitionContinuous}
	doc.Scenes[1].FirstKeyframe = &plan.Keyframe{
		ID:         "kf-corner",
		Prompt:     "hero slumps on the stool",
		Characters: []string{"hero"},
		References: []plan.Reference{{Kind: plan.RefIdentity, Target: "hero"}},
		Output:     "keyframes/kf-corner.png",
	}

	ix2, err := plan.NewIndex(doc)
	require.NoError(t, err)
	assert.Nil(t, findRule(New().Check(doc, ix2), RuleContinuousExtracted))
}

func TestCustomStrengthRange(t *testing.T) {
	doc, ix := fixture(t)
	doc.Scenes[0].FirstKeyframe.References[0].Strength = 0.25

	c := New()
	c.Strength = StrengthRange{Min: 0.2, Max: 0.9}
	assert.Nil(t, findRule(c.Check(doc, ix), RuleStrengthRange))
}
