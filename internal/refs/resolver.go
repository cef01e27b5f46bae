// Package refs resolves the symbolic references a task declares into the
// concrete artifact paths the backend consumes, enforcing the
// anti-drift policy: identity, style and pose references always resolve
// to the frozen original asset, never to generated intermediates.
// Chaining generated outputs as identity references compounds small
// generation errors on every pass; resolving to the original resets that.
// Backgrounds are the one exception - they may chain to earlier footage.
package refs

import (
	"fmt"

	"github.com/frameloom/frameloom/internal/plan"
)

// Resolved is one reference mapped to a concrete artifact path plus the
// role tag the backend adapter consumes. Slot order is preserved.
type Resolved struct {
	Kind     plan.RefKind
	Target   string
	Path     string
	Strength float64
}

// PolicyViolation reports a reference that breaks the anti-drift policy.
// It is always a plan-authoring bug and is never silently corrected.
type PolicyViolation struct {
	TaskID string
	Kind   plan.RefKind
	Target string
	Reason string
}

func (e *PolicyViolation) Error() string {
	return fmt.Sprintf("task %s: %s reference to %q violates reference policy: %s",
		e.TaskID, e.Kind, e.Target, e.Reason)
}

// UnresolvedError reports a reference whose target does not exist in the
// plan. The resolver never guesses a substitute.
type UnresolvedError struct {
	TaskID string
	Target string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("task %s: reference target %q cannot be resolved", e.TaskID, e.Target)
}

// Resolver maps task references to absolute artifact paths for one plan.
type Resolver struct {
	planPath string
	ix       *plan.Index
}

// NewResolver creates a resolver for the plan at planPath.
func NewResolver(planPath string, ix *plan.Index) *Resolver {
	return &Resolver{planPath: planPath, ix: ix}
}

// Resolve maps each of the task's references, in slot order, to a path
// and role tag. Policy violations and unresolvable targets are errors.
func (r *Resolver) Resolve(t *plan.Task) ([]Resolved, error) {
	resolved := make([]Resolved, 0, len(t.References))
	for _, ref := range t.References {
		target, ok := r.ix.Task(ref.Target)
		if !ok {
			return nil, &UnresolvedError{TaskID: t.ID, Target: ref.Target}
		}
		if err := checkPolicy(t, ref, target); err != nil {
			return nil, err
		}
		resolved = append(resolved, Resolved{
			Kind:     ref.Kind,
			Target:   ref.Target,
			Path:     plan.OutputPath(r.planPath, target.Output),
			Strength: ref.Strength,
		})
	}
	return resolved, nil
}

// categoriesFor lists the asset categories a reference kind may draw from.
func categoriesFor(kind plan.RefKind) []string {
	switch kind {
	case plan.RefIdentity:
		return []string{plan.CategoryCharacters, plan.CategoryObjects}
	case plan.RefPose:
		return []string{plan.CategoryPoses}
	case plan.RefStyle:
		return []string{plan.CategoryStyles}
	case plan.RefBackground:
		return []string{plan.CategoryBackgrounds}
	}
	return nil
}

func checkPolicy(t *plan.Task, ref plan.Reference, target *plan.Task) error {
	if target.Kind == plan.KindAsset {
		for _, c := range categoriesFor(ref.Kind) {
			if target.Category == c {
				return nil
			}
		}
		return &PolicyViolation{
			TaskID: t.ID,
			Kind:   ref.Kind,
			Target: ref.Target,
			Reason: fmt.Sprintf("%s references cannot target a %s asset", ref.Kind, target.Category),
		}
	}

	// Target is a generated intermediate. Only backgrounds may chain, and
	// only backwards - never to footage of the referring task's own scene.
	if ref.Kind != plan.RefBackground {
		return &PolicyViolation{
			TaskID: t.ID,
			Kind:   ref.Kind,
			Target: ref.Target,
			Reason: fmt.Sprintf("%s references must resolve to the original asset, not a generated output", ref.Kind),
		}
	}
	if target.Order >= t.Order {
		return &PolicyViolation{
			TaskID: t.ID,
			Kind:   ref.Kind,
			Target: ref.Target,
			Reason: "background chaining must point at earlier footage",
		}
	}
	if target.SceneID != "" && target.SceneID == t.SceneID {
		return &PolicyViolation{
			TaskID: t.ID,
			Kind:   ref.Kind,
			Target: ref.Target,
			Reason: "background chaining cannot target the task's own scene",
		}
	}
	return nil
}
