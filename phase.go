package kausality

import (
	"context"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/sttts/kausality/object"
	"github.com/sttts/kausality/policy"
)

// Phase is an object's lifecycle phase, governing which policy sub-section
// applies.
type Phase string

const (
	// PhaseInitializing means the object has not yet been reconciled.
	PhaseInitializing Phase = "Initializing"

	// PhaseSteadyState means the object is reconciled and rule-governed.
	PhaseSteadyState Phase = "SteadyState"

	// PhaseDeleting means the object carries a deletion timestamp.
	PhaseDeleting Phase = "Deleting"
)

// classifyPhase determines an object's lifecycle phase. Deleting wins
// unconditionally when a deletion timestamp is set. Otherwise the policy's
// initializing.when predicate decides; with no predicate configured the
// default applies: the object is Initializing while observedGeneration is
// absent. A predicate evaluation failure classifies as SteadyState, the
// more restrictive phase.
func (e *Engine) classifyPhase(ctx context.Context, pol *policy.AllowancePolicy, obj, oldObj *unstructured.Unstructured) Phase {
	if object.Deleting(obj) {
		return PhaseDeleting
	}

	when := ""
	if pol != nil {
		when = pol.Initializing.When
	}

	if when == "" {
		if _, ok := object.ObservedGeneration(obj); !ok {
			return PhaseInitializing
		}
		return PhaseSteadyState
	}

	initializing, err := e.evaluator.Evaluate(ctx, when, obj, oldObj)
	if err != nil {
		e.logger.Warn("initializing predicate failed, classifying as SteadyState",
			"kind", obj.GetKind(), "name", obj.GetName(), "err", err)
		return PhaseSteadyState
	}

	if initializing {
		return PhaseInitializing
	}

	return PhaseSteadyState
}
