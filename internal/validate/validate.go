// Package validate runs the static continuity checks that gate execution:
// transition/keyframe compatibility, identity coverage for visible
// characters, reference slot limits and strength ranges. Errors block
// execution; warnings are surfaced and do not.
package validate

import (
	"fmt"

	"github.com/frameloom/frameloom/internal/plan"
)

// Severity of a finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is one continuity problem located at a task or scene.
type Finding struct {
	Severity Severity
	TaskID   string
	Rule     string
	Message  string
}

func (f Finding) String() string {
	return fmt.Sprintf("[%s] %s: %s", f.Severity, f.TaskID, f.Message)
}

// Rule identifiers, used in findings and tests.
const (
	RuleContinuousExtracted = "continuous-extracted-keyframe"
	RuleMissingIdentity     = "missing-identity-reference"
	RuleUnknownCharacter    = "unknown-character"
	RuleSlotLimit           = "reference-slot-limit"
	RuleStrengthRange       = "strength-out-of-range"
)

// StrengthRange is the documented safe range for reference strengths.
type StrengthRange struct {
	Min float64
	Max float64
}

// DefaultStrengthRange covers the strengths the generation stack is known
// to behave under. Below it references stop binding, above it they
// overpower the prompt.
var DefaultStrengthRange = StrengthRange{Min: 0.3, Max: 1.0}

// Checker runs continuity validation over a plan.
type Checker struct {
	Strength StrengthRange
}

// New returns a Checker with the default strength range.
func New() *Checker {
	return &Checker{Strength: DefaultStrengthRange}
}

// Check validates the plan and returns all findings, errors first in
// document order. An empty result means the plan is safe to execute.
func (c *Checker) Check(doc *plan.Document, ix *plan.Index) []Finding {
	var findings []Finding

	for _, kf := range doc.Keyframes {
		findings = append(findings, c.checkImageTask(doc, kf.ID, kf.Characters, kf.References, true)...)
	}

	for i, scene := range doc.Scenes {
		kf := scene.FirstKeyframe
		if kf == nil {
			continue
		}

		if i > 0 && scene.TransitionFromPrevious.Type == plan.TransitionContinuous {
			prev := doc.Scenes[i-1]
			if charactersVisible(prev) && (!kf.Generated() || len(kf.Characters) == 0) {
				findings = append(findings, Finding{
					Severity: SeverityError,
					TaskID:   scene.ID,
					Rule:     RuleContinuousExtracted,
					Message: "continuous transition after a scene with visible characters requires a generated " +
						"first keyframe with character references, not an extracted frame",
				})
			}
		}

		if kf.Generated() {
			findings = append(findings, c.checkImageTask(doc, kf.ID, kf.Characters, kf.References, true)...)
		}
		for _, seg := range scene.Segments {
			findings = append(findings, c.checkImageTask(doc, seg.ID, seg.Characters, seg.References, false)...)
		}
	}

	return findings
}

// Errors filters the findings down to blocking ones.
func Errors(findings []Finding) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.Severity == SeverityError {
			out = append(out, f)
		}
	}
	return out
}

// charactersVisible reports whether any task of the scene shows a character.
func charactersVisible(scene *plan.Scene) bool {
	if scene.FirstKeyframe != nil && len(scene.FirstKeyframe.Characters) > 0 {
		return true
	}
	for _, seg := range scene.Segments {
		if len(seg.Characters) > 0 {
			return true
		}
	}
	return false
}

func (c *Checker) checkImageTask(doc *plan.Document, taskID string, characters []string, references []plan.Reference, imageTask bool) []Finding {
	var findings []Finding

	for _, name := range characters {
		if _, ok := doc.Assets[plan.CategoryCharacters][name]; !ok {
			findings = append(findings, Finding{
				Severity: SeverityError,
				TaskID:   taskID,
				Rule:     RuleUnknownCharacter,
				Message:  fmt.Sprintf("character %q is not a declared character asset", name),
			})
			continue
		}
		if !hasIdentityRef(references, name) {
			findings = append(findings, Finding{
				Severity: SeverityError,
				TaskID:   taskID,
				Rule:     RuleMissingIdentity,
				Message:  fmt.Sprintf("character %q is visible without an identity reference, which causes drift", name),
			})
		}
	}

	if imageTask && len(references) > plan.MaxReferenceSlots {
		findings = append(findings, Finding{
			Severity: SeverityError,
			TaskID:   taskID,
			Rule:     RuleSlotLimit,
			Message: fmt.Sprintf("%d references exceeds the maximum of %d simultaneous reference slots",
				len(references), plan.MaxReferenceSlots),
		})
	}

	for _, ref := range references {
		if ref.Strength != 0 && (ref.Strength < c.Strength.Min || ref.Strength > c.Strength.Max) {
			findings = append(findings, Finding{
				Severity: SeverityWarning,
				TaskID:   taskID,
				Rule:     RuleStrengthRange,
				Message: fmt.Sprintf("reference %q strength %.2f is outside the safe range %.2f-%.2f",
					ref.Target, ref.Strength, c.Strength.Min, c.Strength.Max),
			})
		}
	}

	return findings
}

func hasIdentityRef(references []plan.Reference, character string) bool {
	for _, ref := range references {
		if ref.Kind == plan.RefIdentity && ref.Target == character {
			return true
		}
	}
	return false
}
