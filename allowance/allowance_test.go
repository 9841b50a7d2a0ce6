package allowance_test

import (
	"reflect"
	"testing"

	"github.com/sttts/kausality/allowance"
	"github.com/sttts/kausality/pathmatch"
)

func TestAddCollapsesDuplicates(t *testing.T) {
	a := allowance.Originate("alice",
		allowance.Hop{Kind: "Deployment", Name: "web", Generation: 7, Field: "spec.replicas"},
		"ReplicaSet", "Mutate", "spec.replicas", 7)

	var set allowance.Set
	set = set.Add(a)
	set = set.Add(a.Clone())

	if len(set) != 1 {
		t.Fatalf("expected duplicate to collapse, got %d allowances", len(set))
	}

	other := a
	other.Field = "spec.paused"
	set = set.Add(other)

	if len(set) != 2 {
		t.Fatalf("expected distinct grant to be kept, got %d allowances", len(set))
	}
}

func TestExtendPreservesTracePrefixAndInitiator(t *testing.T) {
	root := allowance.Originate("ci-bot",
		allowance.Hop{Kind: "Deployment", Name: "web", Generation: 7, Field: "spec.replicas"},
		"ReplicaSet", "Mutate", "spec.replicas", 7)

	child := root.Extend(
		allowance.Hop{Kind: "ReplicaSet", Name: "web-abc", Generation: 14, Field: "spec.replicas"},
		"Pod", "Mutate", "spec.replicas", 14)

	if child.Initiator != "ci-bot" {
		t.Errorf("initiator changed on propagation: %q", child.Initiator)
	}
	if len(child.Trace) != 2 {
		t.Fatalf("expected 2 hops, got %d", len(child.Trace))
	}
	if !reflect.DeepEqual(child.Trace[0], root.Trace[0]) {
		t.Error("trace prefix not preserved")
	}
	if child.Trace[1].Kind != "ReplicaSet" || child.Trace[1].Generation != 14 {
		t.Errorf("unexpected appended hop %+v", child.Trace[1])
	}

	// The parent trace must not alias the child's.
	child.Trace[0].Name = "tampered"
	if root.Trace[0].Name != "web" {
		t.Error("trace storage shared between allowances")
	}
}

func TestExtendKeepsPerObjectGenerations(t *testing.T) {
	// Generations are per-object counters: a fresh child at generation 1
	// extends a parent hop at generation 7 and both values survive as-is.
	root := allowance.Originate("alice",
		allowance.Hop{Kind: "Deployment", Name: "web", Generation: 7, Field: "spec.replicas"},
		"ReplicaSet", "Mutate", "spec.replicas", 7)

	child := root.Extend(
		allowance.Hop{Kind: "ReplicaSet", Name: "web-abc", Generation: 1, Field: "spec.replicas"},
		"Pod", "Create", "", 1)

	if child.Trace[0].Generation != 7 {
		t.Errorf("parent hop generation changed: %d", child.Trace[0].Generation)
	}
	if child.Trace[1].Generation != 1 {
		t.Errorf("child hop generation changed: %d", child.Trace[1].Generation)
	}
	if child.Generation != 1 {
		t.Errorf("grant generation should be the issuing object's own: %d", child.Generation)
	}
}

func TestCovers(t *testing.T) {
	a := allowance.Allowance{
		Target: "ReplicaSet",
		Verb:   "Mutate",
		Field:  "spec.containers[*].image",
	}

	path := pathmatch.MustParsePath("spec.containers[2].image")
	if !a.Covers("ReplicaSet", "Mutate", path) {
		t.Error("expected wildcard grant to cover concrete path")
	}
	if a.Covers("Pod", "Mutate", path) {
		t.Error("wrong target must not be covered")
	}
	if a.Covers("ReplicaSet", "Insert", path) {
		t.Error("wrong verb must not be covered")
	}

	verbOnly := allowance.Allowance{Target: "external:system=rds", Verb: "Update"}
	if !verbOnly.Covers("external:system=rds", "Update", nil) {
		t.Error("expected verb grant to cover verb request")
	}
	if verbOnly.Covers("external:system=rds", "Update", path) {
		t.Error("verb grant must not cover a field mutation")
	}
}

func TestConsumedBy(t *testing.T) {
	a := allowance.Allowance{Generation: 8}

	if a.ConsumedBy(nil) {
		t.Error("absent observedGeneration must not consume")
	}

	behind := int64(7)
	if a.ConsumedBy(&behind) {
		t.Error("observedGeneration 7 must not consume generation 8")
	}

	caught := int64(8)
	if !a.ConsumedBy(&caught) {
		t.Error("observedGeneration 8 must consume generation 8")
	}
}

func TestPruneIdempotent(t *testing.T) {
	set := allowance.Set{
		{Target: "A", Verb: "Mutate", Field: "spec.a", Generation: 5},
		{Target: "B", Verb: "Mutate", Field: "spec.b", Generation: 9},
	}

	observed := int64(8)
	once := set.Prune(&observed)
	twice := once.Prune(&observed)

	if len(once) != 1 || once[0].Target != "B" {
		t.Fatalf("unexpected prune result: %v", once)
	}
	if len(twice) != len(once) {
		t.Error("prune is not idempotent")
	}
}
