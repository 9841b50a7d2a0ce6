package kausality

import (
	"context"
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/sttts/kausality/policy"
)

func TestClassifyPhase_DeletionTimestampWins(t *testing.T) {
	eng, _ := newTestEngine(t)

	obj := testObject("Deployment", "web", 3, map[string]any{"replicas": int64(3)})
	setObserved(obj, 3)
	_ = unstructured.SetNestedField(obj.Object, "2026-08-01T00:00:00Z", "metadata", "deletionTimestamp")

	pol := &policy.AllowancePolicy{
		ForKind:      policy.TargetRef{APIGroup: "apps", Kind: "Deployment"},
		Initializing: policy.Initializing{When: "status.ready neq true"},
	}

	if got := eng.classifyPhase(context.Background(), pol, obj, nil); got != PhaseDeleting {
		t.Fatalf("expected Deleting regardless of predicate, got %s", got)
	}
}

func TestClassifyPhase_DefaultObservedGeneration(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	obj := testObject("Deployment", "web", 1, map[string]any{"replicas": int64(3)})

	if got := eng.classifyPhase(ctx, nil, obj, nil); got != PhaseInitializing {
		t.Fatalf("expected Initializing without observedGeneration, got %s", got)
	}

	setObserved(obj, 1)
	if got := eng.classifyPhase(ctx, nil, obj, nil); got != PhaseSteadyState {
		t.Fatalf("expected SteadyState once reconciled, got %s", got)
	}
}

func TestClassifyPhase_WhenPredicate(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	pol := &policy.AllowancePolicy{
		ForKind:      policy.TargetRef{APIGroup: "apps", Kind: "Deployment"},
		Initializing: policy.Initializing{When: "status.ready not_exists"},
	}

	obj := testObject("Deployment", "web", 1, map[string]any{"replicas": int64(3)})
	// observedGeneration alone does not settle it when a predicate is set.
	setObserved(obj, 1)

	if got := eng.classifyPhase(ctx, pol, obj, nil); got != PhaseInitializing {
		t.Fatalf("expected predicate-driven Initializing, got %s", got)
	}

	_ = unstructured.SetNestedField(obj.Object, true, "status", "ready")
	if got := eng.classifyPhase(ctx, pol, obj, nil); got != PhaseSteadyState {
		t.Fatalf("expected SteadyState once ready, got %s", got)
	}
}

func TestClassifyPhase_PredicateErrorFailsToSteadyState(t *testing.T) {
	eng, _ := newTestEngine(t)

	pol := &policy.AllowancePolicy{
		ForKind:      policy.TargetRef{APIGroup: "apps", Kind: "Deployment"},
		Initializing: policy.Initializing{When: "status.ready bogus_op x"},
	}

	obj := testObject("Deployment", "web", 1, map[string]any{"replicas": int64(3)})

	// Evaluation failure classifies as the more restrictive phase.
	if got := eng.classifyPhase(context.Background(), pol, obj, nil); got != PhaseSteadyState {
		t.Fatalf("expected SteadyState on predicate failure, got %s", got)
	}
}
