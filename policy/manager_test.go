package policy_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sttts/kausality/policy"
	"github.com/sttts/kausality/store/memory"
)

func writePolicyFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "policies.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestManagerSyncsFileIntoStore(t *testing.T) {
	dir := t.TempDir()
	path := writePolicyFile(t, dir, `
policies:
  - forKind:
      apiGroup: apps
      kind: Deployment
    subjects:
      - kind: User
        name: alice
        mayInitiate: true
  - forKind:
      apiGroup: apps
      kind: ReplicaSet
`)

	s := memory.New()
	m := policy.NewManager(path, s, policy.WithClusterID("c1"))

	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	current, ok := m.Current()
	if !ok || len(current) != 2 {
		t.Fatalf("expected 2 current policies, got %d (loaded %v)", len(current), ok)
	}

	list, err := s.ListPolicies(ctx, &policy.ListFilter{ClusterID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 synced policies, got %d", len(list))
	}

	dep, err := s.GetPolicyForKind(ctx, "c1", policy.TargetRef{APIGroup: "apps", Kind: "Deployment"})
	if err != nil {
		t.Fatal(err)
	}
	if len(dep.Subjects) != 1 || dep.Subjects[0].Name != "alice" {
		t.Fatalf("unexpected synced policy %+v", dep)
	}
}

func TestManagerReconcilesOnRestart(t *testing.T) {
	dir := t.TempDir()
	path := writePolicyFile(t, dir, `
policies:
  - forKind:
      apiGroup: apps
      kind: Deployment
  - forKind:
      apiGroup: apps
      kind: ReplicaSet
`)

	s := memory.New()
	m := policy.NewManager(path, s, policy.WithClusterID("c1"))

	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	dep, err := s.GetPolicyForKind(ctx, "c1", policy.TargetRef{APIGroup: "apps", Kind: "Deployment"})
	if err != nil {
		t.Fatal(err)
	}

	// The file drops ReplicaSet and amends Deployment.
	writePolicyFile(t, dir, `
policies:
  - forKind:
      apiGroup: apps
      kind: Deployment
    subjects:
      - kind: Group
        name: ops
        mayInitiate: true
`)

	m2 := policy.NewManager(path, s, policy.WithClusterID("c1"))
	ctx2, cancel2 := context.WithCancel(context.Background())
	if err := m2.Start(ctx2); err != nil {
		t.Fatal(err)
	}
	cancel2()

	list, err := s.ListPolicies(ctx2, &policy.ListFilter{ClusterID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected the dropped policy deleted, got %d", len(list))
	}

	updated, err := s.GetPolicyForKind(ctx2, "c1", policy.TargetRef{APIGroup: "apps", Kind: "Deployment"})
	if err != nil {
		t.Fatal(err)
	}
	if updated.ID != dep.ID {
		t.Fatalf("expected the existing policy updated in place, got new ID %s", updated.ID)
	}
	if len(updated.Subjects) != 1 || updated.Subjects[0].Name != "ops" {
		t.Fatalf("expected amended subjects, got %+v", updated.Subjects)
	}
}

func TestManagerInitialLoadFailureAborts(t *testing.T) {
	dir := t.TempDir()
	path := writePolicyFile(t, dir, "policies: []\n")

	m := policy.NewManager(path, memory.New(), policy.WithClusterID("c1"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err == nil {
		t.Fatal("expected initial load of an empty policy file to fail")
	}
}
