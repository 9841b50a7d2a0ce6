package policy_test

import (
	"strings"
	"testing"

	"github.com/sttts/kausality/policy"
)

func validPolicy() *policy.AllowancePolicy {
	return &policy.AllowancePolicy{
		ForKind: policy.TargetRef{APIGroup: "apps", Kind: "Deployment"},
		Subjects: []policy.SubjectMatch{
			{Kind: "User", Name: "alice", MayInitiate: true},
		},
		Initializing: policy.Initializing{
			Policies: []policy.Entry{{
				Target:   policy.TargetRef{APIGroup: "apps", Kind: "ReplicaSet"},
				Relation: policy.RelationControllerChild,
				Verbs:    []string{"Create"},
			}},
		},
		Rules: []policy.Rule{{
			Trigger: "spec.*",
			Capture: []string{"spec.replicas"},
			Policies: []policy.Entry{{
				Target:   policy.TargetRef{APIGroup: "apps", Kind: "ReplicaSet"},
				Relation: policy.RelationControllerChild,
				Mutations: []policy.MutationGrant{
					{Path: "spec.*", Verbs: []policy.MutationVerb{policy.MutationMutate}},
				},
			}},
		}},
	}
}

func TestValidateAcceptsWellFormedPolicy(t *testing.T) {
	if err := validPolicy().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*policy.AllowancePolicy)
		wantSub string
	}{
		{
			name:    "missing for_kind",
			mutate:  func(p *policy.AllowancePolicy) { p.ForKind = policy.TargetRef{} },
			wantSub: "for_kind is required",
		},
		{
			name: "invalid trigger pattern",
			mutate: func(p *policy.AllowancePolicy) {
				p.Rules[0].Trigger = "spec.["
			},
			wantSub: "invalid trigger",
		},
		{
			name: "wildcard capture path",
			mutate: func(p *policy.AllowancePolicy) {
				p.Rules[0].Capture = []string{"spec.*"}
			},
			wantSub: "invalid capture path",
		},
		{
			name: "unknown relation",
			mutate: func(p *policy.AllowancePolicy) {
				p.Rules[0].Policies[0].Relation = "Sibling"
			},
			wantSub: "unknown relation",
		},
		{
			name: "external entry with kind target",
			mutate: func(p *policy.AllowancePolicy) {
				p.Rules[0].Policies[0].Relation = policy.RelationExternal
			},
			wantSub: "must not carry a kind target",
		},
		{
			name: "controller child with external identifier",
			mutate: func(p *policy.AllowancePolicy) {
				p.Initializing.Policies[0].External = map[string]string{"system": "dns"}
			},
			wantSub: "must not carry an external identifier",
		},
		{
			name: "unknown mutation verb",
			mutate: func(p *policy.AllowancePolicy) {
				p.Rules[0].Policies[0].Mutations[0].Verbs = []policy.MutationVerb{"Replace"}
			},
			wantSub: "unknown mutation verb",
		},
		{
			name: "invalid mutation path",
			mutate: func(p *policy.AllowancePolicy) {
				p.Rules[0].Policies[0].Mutations[0].Path = "spec.["
			},
			wantSub: "invalid mutation path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPolicy()
			tt.mutate(p)

			err := p.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Fatalf("expected error containing %q, got %v", tt.wantSub, err)
			}
		})
	}
}

func TestEntryTargetKey(t *testing.T) {
	child := policy.Entry{
		Target:   policy.TargetRef{APIGroup: "apps", Kind: "ReplicaSet"},
		Relation: policy.RelationControllerChild,
	}
	if got := child.TargetKey(); got != "apps/ReplicaSet" {
		t.Fatalf("expected apps/ReplicaSet, got %q", got)
	}

	core := policy.Entry{
		Target:   policy.TargetRef{Kind: "Pod"},
		Relation: policy.RelationControllerChild,
	}
	if got := core.TargetKey(); got != "Pod" {
		t.Fatalf("expected Pod, got %q", got)
	}

	// External keys render with sorted identifier keys.
	ext := policy.Entry{
		Relation: policy.RelationExternal,
		External: map[string]string{"zone": "prod", "system": "dns"},
	}
	if got := ext.TargetKey(); got != "external:system=dns,zone=prod" {
		t.Fatalf("expected deterministic external key, got %q", got)
	}

	inert := policy.Entry{Relation: policy.RelationControllerChild}
	if got := inert.TargetKey(); got != "" {
		t.Fatalf("expected empty key for inert entry, got %q", got)
	}
}

func TestLoad(t *testing.T) {
	data := []byte(`
policies:
  - forKind:
      apiGroup: apps
      kind: Deployment
    subjects:
      - kind: User
        name: alice
        mayInitiate: true
    rules:
      - trigger: spec.*
        policies:
          - target:
              apiGroup: apps
              kind: ReplicaSet
            relation: ControllerChild
            verbs: [Create]
  - forKind:
      apiGroup: apps
      kind: ReplicaSet
    rules:
      - trigger: spec.replicas
        policies:
          - target:
              kind: Pod
            relation: ControllerChild
            verbs: [Create, Delete]
`)

	policies, err := policy.Load(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(policies) != 2 {
		t.Fatalf("expected 2 policies, got %d", len(policies))
	}
	if policies[0].ForKind.Key() != "apps/Deployment" {
		t.Fatalf("unexpected first policy %s", policies[0].ForKind.Key())
	}
	if !policies[0].Subjects[0].MayInitiate {
		t.Fatal("expected mayInitiate to parse")
	}
}

func TestLoadRejectsDuplicateKind(t *testing.T) {
	data := []byte(`
policies:
  - forKind:
      apiGroup: apps
      kind: Deployment
  - forKind:
      apiGroup: apps
      kind: Deployment
`)

	_, err := policy.Load(data)
	if err == nil || !strings.Contains(err.Error(), "duplicate policy") {
		t.Fatalf("expected duplicate kind error, got %v", err)
	}
}

func TestLoadRejectsEmptyFile(t *testing.T) {
	if _, err := policy.Load([]byte("policies: []\n")); err == nil {
		t.Fatal("expected error for a file without policies")
	}
}

func TestLoadRejectsInvalidPolicy(t *testing.T) {
	data := []byte(`
policies:
  - forKind:
      apiGroup: apps
      kind: Deployment
    rules:
      - trigger: "spec.["
`)

	_, err := policy.Load(data)
	if err == nil || !strings.Contains(err.Error(), "invalid trigger") {
		t.Fatalf("expected validation error, got %v", err)
	}
}
