package kausality

import (
	"context"
	"testing"

	"github.com/sttts/kausality/object"
	"github.com/sttts/kausality/pathmatch"
	"github.com/sttts/kausality/policy"
)

func mustPath(t *testing.T, s string) pathmatch.Path {
	t.Helper()
	p, err := pathmatch.ParsePath(s)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestBoundMergeIsUnion(t *testing.T) {
	b := NewBound()
	b.Merge([]policy.Entry{{
		Target:   policy.TargetRef{APIGroup: "apps", Kind: "ReplicaSet"},
		Relation: policy.RelationControllerChild,
		Verbs:    []string{"Create"},
	}})
	b.Merge([]policy.Entry{{
		Target:   policy.TargetRef{APIGroup: "apps", Kind: "ReplicaSet"},
		Relation: policy.RelationControllerChild,
		Verbs:    []string{"Delete"},
		Mutations: []policy.MutationGrant{
			{Path: "spec.*", Verbs: []policy.MutationVerb{policy.MutationMutate}},
		},
	}})

	if !b.Permits("apps/ReplicaSet", "Create", nil) {
		t.Fatal("expected Create permitted after union")
	}
	if !b.Permits("apps/ReplicaSet", "Delete", nil) {
		t.Fatal("expected Delete permitted after union")
	}
	if !b.Permits("apps/ReplicaSet", "Mutate", mustPath(t, "spec.replicas")) {
		t.Fatal("expected spec mutation permitted after union")
	}
	if b.Permits("apps/ReplicaSet", "Mutate", mustPath(t, "metadata.labels")) {
		t.Fatal("expected mutation outside spec denied")
	}
	if b.Permits("apps/ReplicaSet", "Update", nil) {
		t.Fatal("expected ungranted verb denied")
	}
}

func TestBoundUnmentionedTargetIsUnrestricted(t *testing.T) {
	b := NewBound()
	b.Merge([]policy.Entry{{
		Target:   policy.TargetRef{APIGroup: "apps", Kind: "ReplicaSet"},
		Relation: policy.RelationControllerChild,
		Verbs:    []string{"Create"},
	}})

	if !b.Permits("Pod", "Delete", nil) {
		t.Fatal("a target never mentioned must be unrestricted")
	}
}

func TestBoundAllVerbCoversEverything(t *testing.T) {
	b := NewBound()
	b.Merge([]policy.Entry{{
		Target:   policy.TargetRef{Kind: "Pod"},
		Relation: policy.RelationControllerChild,
		Verbs:    []string{"all"},
	}})

	if !b.Permits("Pod", "Delete", nil) {
		t.Fatal("expected all to cover whole-object verbs")
	}
	if !b.Permits("Pod", "Mutate", mustPath(t, "spec.containers[0].image")) {
		t.Fatal("expected all to cover field mutations")
	}
}

func TestBoundMarkUnrestricted(t *testing.T) {
	b := NewBound()
	b.Merge([]policy.Entry{{
		Target:   policy.TargetRef{Kind: "Pod"},
		Relation: policy.RelationControllerChild,
		Verbs:    []string{"Create"},
	}})
	b.MarkUnrestricted("Pod")

	if !b.Permits("Pod", "Delete", nil) {
		t.Fatal("an explicitly unrestricted target permits everything")
	}
}

func TestBoundInertEntriesContributeNothing(t *testing.T) {
	b := NewBound()
	b.Merge([]policy.Entry{
		{Relation: policy.RelationControllerChild, Verbs: []string{"Create"}},
		{Relation: policy.RelationExternal, Verbs: []string{"notify"}},
	})

	if len(b.targets) != 0 {
		t.Fatalf("inert entries must not register targets, got %d", len(b.targets))
	}
}

func TestBoundExternalTargetKey(t *testing.T) {
	b := NewBound()
	b.Merge([]policy.Entry{{
		Relation: policy.RelationExternal,
		External: map[string]string{"system": "dns", "zone": "prod"},
		Verbs:    []string{"update-record"},
	}})

	if !b.Permits("external:system=dns,zone=prod", "update-record", nil) {
		t.Fatal("expected granted external verb permitted")
	}
	if b.Permits("external:system=dns,zone=prod", "delete-record", nil) {
		t.Fatal("expected ungranted external verb denied")
	}
}

func TestDeletingDefaultBound(t *testing.T) {
	pol := &policy.AllowancePolicy{
		ForKind: policy.TargetRef{APIGroup: "apps", Kind: "Deployment"},
	}

	b := phaseBound(pol, PhaseDeleting)

	if !b.Permits("apps/ReplicaSet", "Delete", nil) {
		t.Fatal("deleting default must leave controller children fully mutable")
	}
	if b.Permits("external:system=dns", "update-record", nil) {
		t.Fatal("deleting default must deny external targets")
	}
}

func TestDeletingExplicitBoundReplacesDefault(t *testing.T) {
	pol := &policy.AllowancePolicy{
		ForKind: policy.TargetRef{APIGroup: "apps", Kind: "Deployment"},
		Deleting: policy.Deleting{Policies: []policy.Entry{{
			Target:   policy.TargetRef{APIGroup: "apps", Kind: "ReplicaSet"},
			Relation: policy.RelationControllerChild,
			Verbs:    []string{"Delete"},
		}}},
	}

	b := phaseBound(pol, PhaseDeleting)

	if !b.Permits("apps/ReplicaSet", "Delete", nil) {
		t.Fatal("expected explicitly granted Delete permitted")
	}
	if b.Permits("apps/ReplicaSet", "Create", nil) {
		t.Fatal("expected Create denied under the explicit deleting bound")
	}
}

func TestResolveSteadyStateTriggersAndConditions(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	pol := &policy.AllowancePolicy{
		ForKind: policy.TargetRef{APIGroup: "apps", Kind: "Deployment"},
		Rules: []policy.Rule{
			{
				Trigger: "spec.replicas",
				Policies: []policy.Entry{{
					Target:   policy.TargetRef{APIGroup: "apps", Kind: "ReplicaSet"},
					Relation: policy.RelationControllerChild,
					Verbs:    []string{"Create"},
				}},
			},
			{
				// Condition fails: the rule is excluded entirely.
				Trigger:    "spec.replicas",
				Conditions: []string{"spec.paused eq true"},
				Policies: []policy.Entry{{
					Target:   policy.TargetRef{Kind: "Pod"},
					Relation: policy.RelationControllerChild,
					Verbs:    []string{"Delete"},
				}},
			},
			{
				// Unparseable trigger: skipped, never trusted.
				Trigger: "spec.[",
				Policies: []policy.Entry{{
					Target:   policy.TargetRef{Kind: "Secret"},
					Relation: policy.RelationControllerChild,
					Verbs:    []string{"all"},
				}},
			},
		},
	}

	oldObj := testObject("Deployment", "web", 1, map[string]any{"replicas": int64(3), "paused": false})
	newObj := testObject("Deployment", "web", 2, map[string]any{"replicas": int64(5), "paused": false})

	changes := object.Diff(oldObj, newObj)
	bound, triggered := eng.resolveSteadyState(ctx, pol, changes, newObj, oldObj)

	if len(triggered) != 1 {
		t.Fatalf("expected exactly one triggered rule, got %d", len(triggered))
	}
	if triggered[0].matched.String() != "spec.replicas" {
		t.Fatalf("expected matched path spec.replicas, got %s", triggered[0].matched)
	}

	if !bound.Permits("apps/ReplicaSet", "Create", nil) {
		t.Fatal("expected triggered rule's grant in the bound")
	}
	if _, ok := bound.targets["Pod"]; ok {
		t.Fatal("condition-gated rule leaked into the bound")
	}
	if _, ok := bound.targets["Secret"]; ok {
		t.Fatal("rule with unparseable trigger leaked into the bound")
	}
}

func TestResolveSteadyStateEmptyPoliciesIsUnrestricted(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	pol := &policy.AllowancePolicy{
		ForKind: policy.TargetRef{APIGroup: "apps", Kind: "Deployment"},
		Rules:   []policy.Rule{{Trigger: "spec.*"}},
	}

	oldObj := testObject("Deployment", "web", 1, map[string]any{"replicas": int64(3)})
	newObj := testObject("Deployment", "web", 2, map[string]any{"replicas": int64(5)})

	bound, triggered := eng.resolveSteadyState(ctx, pol, object.Diff(oldObj, newObj), newObj, oldObj)

	if len(triggered) != 1 {
		t.Fatalf("expected one triggered rule, got %d", len(triggered))
	}
	if !bound.ExplicitlyUnrestricted() {
		t.Fatal("a matched rule with empty policies is explicitly unrestricted")
	}
}
