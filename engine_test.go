package kausality

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/sttts/kausality/allowance"
	"github.com/sttts/kausality/id"
	"github.com/sttts/kausality/policy"
	"github.com/sttts/kausality/store"
	"github.com/sttts/kausality/store/memory"
	"github.com/sttts/kausality/upgradegrant"
)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	eng, err := NewEngine(append([]Option{WithStore(s)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return eng, s
}

// testObject builds an unstructured apps/v1 object with the given spec.
func testObject(kind, name string, generation int64, spec map[string]any) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "apps/v1",
		"kind":       kind,
		"metadata": map[string]any{
			"name":       name,
			"namespace":  "default",
			"generation": generation,
		},
		"spec": spec,
	}}
}

func setObserved(u *unstructured.Unstructured, gen int64) {
	_ = unstructured.SetNestedField(u.Object, gen, "status", "observedGeneration")
}

// deploymentPolicy polices apps/Deployment: alice may initiate, and changes
// under spec grant mutation rights on the owned ReplicaSet's spec.
func deploymentPolicy() *policy.AllowancePolicy {
	return &policy.AllowancePolicy{
		ID:        id.NewPolicyID(),
		ClusterID: "c1",
		ForKind:   policy.TargetRef{APIGroup: "apps", Kind: "Deployment"},
		Subjects: []policy.SubjectMatch{
			{Kind: "User", Name: "alice", MayInitiate: true},
		},
		Initializing: policy.Initializing{
			Policies: []policy.Entry{{
				Target:   policy.TargetRef{APIGroup: "apps", Kind: "ReplicaSet"},
				Relation: policy.RelationControllerChild,
				Verbs:    []string{"Create"},
				Mutations: []policy.MutationGrant{
					{Path: "spec.*", Verbs: []policy.MutationVerb{policy.MutationInsert, policy.MutationMutate}},
				},
			}},
		},
		Rules: []policy.Rule{{
			Trigger: "spec.*",
			Policies: []policy.Entry{{
				Target:   policy.TargetRef{APIGroup: "apps", Kind: "ReplicaSet"},
				Relation: policy.RelationControllerChild,
				Mutations: []policy.MutationGrant{
					{Path: "spec.*", Verbs: []policy.MutationVerb{policy.MutationInsert, policy.MutationDelete, policy.MutationMutate}},
				},
			}},
		}},
	}
}

// replicaSetPolicy polices apps/ReplicaSet: replica changes grant pod
// template mutations downstream.
func replicaSetPolicy() *policy.AllowancePolicy {
	return &policy.AllowancePolicy{
		ID:        id.NewPolicyID(),
		ClusterID: "c1",
		ForKind:   policy.TargetRef{APIGroup: "apps", Kind: "ReplicaSet"},
		Rules: []policy.Rule{{
			Trigger: "spec.replicas",
			Capture: []string{"spec.replicas"},
			Policies: []policy.Entry{{
				Target:   policy.TargetRef{Kind: "Pod"},
				Relation: policy.RelationControllerChild,
				Verbs:    []string{"Create", "Delete"},
			}},
		}},
	}
}

func TestNewEngine_RequiresStore(t *testing.T) {
	_, err := NewEngine()
	if err == nil {
		t.Fatal("expected error when store is nil")
	}
}

func TestDecide_UnpolicedKindAccepts(t *testing.T) {
	ctx := WithCluster(context.Background(), "c1")
	eng, _ := newTestEngine(t)

	d, err := eng.Decide(ctx, &Request{
		Subject: Subject{Kind: SubjectUser, Name: "mallory"},
		Verb:    VerbUpdate,
		Object:  testObject("ConfigMap", "settings", 2, map[string]any{"foo": "bar"}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !d.Accepted() {
		t.Fatalf("expected accept for unpoliced kind, got %s: %s", d.Outcome, d.Reason)
	}
}

func TestDecide_InitiatorCreatesRoot(t *testing.T) {
	ctx := WithCluster(context.Background(), "c1")
	eng, s := newTestEngine(t)
	_ = s.CreatePolicy(ctx, deploymentPolicy())

	obj := testObject("Deployment", "web", 1, map[string]any{"replicas": int64(3)})

	d, err := eng.Decide(ctx, &Request{
		Subject: Subject{Kind: SubjectUser, Name: "alice"},
		Verb:    VerbCreate,
		Object:  obj,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !d.Accepted() {
		t.Fatalf("expected accept for initiator create, got %s: %s", d.Outcome, d.Reason)
	}
	if d.Phase != PhaseInitializing {
		t.Fatalf("expected Initializing phase, got %s", d.Phase)
	}

	// The create triggers the spec.* rule; issued allowances originate a
	// fresh trace with alice as initiator.
	if len(d.Allowances) == 0 {
		t.Fatal("expected issued allowances on accepted create")
	}
	for _, a := range d.Allowances {
		if a.Initiator != "User:alice" {
			t.Fatalf("expected initiator User:alice, got %q", a.Initiator)
		}
		root, ok := a.Root()
		if !ok {
			t.Fatal("issued allowance has no trace")
		}
		if root.Kind != "apps/Deployment" || root.Name != "web" {
			t.Fatalf("unexpected trace root %s/%s", root.Kind, root.Name)
		}
		if a.Target != "apps/ReplicaSet" {
			t.Fatalf("expected allowance targeting apps/ReplicaSet, got %q", a.Target)
		}
	}
}

func TestDecide_DefaultDenyRejects(t *testing.T) {
	ctx := WithCluster(context.Background(), "c1")
	eng, s := newTestEngine(t)
	_ = s.CreatePolicy(ctx, deploymentPolicy())

	oldObj := testObject("Deployment", "web", 1, map[string]any{"replicas": int64(3)})
	setObserved(oldObj, 1)
	newObj := testObject("Deployment", "web", 2, map[string]any{"replicas": int64(5)})
	setObserved(newObj, 1)

	d, err := eng.Decide(ctx, &Request{
		Subject:   Subject{Kind: SubjectUser, Name: "mallory"},
		Verb:      VerbUpdate,
		Object:    newObj,
		OldObject: oldObj,
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Accepted() {
		t.Fatal("expected reject for unrecognized subject")
	}
	if !strings.Contains(d.Reason, "no justification for") {
		t.Fatalf("unexpected reject reason %q", d.Reason)
	}
}

func TestDecide_ParentAllowanceJustifiesAndExtendsTrace(t *testing.T) {
	ctx := WithCluster(context.Background(), "c1")
	eng, s := newTestEngine(t)
	_ = s.CreatePolicy(ctx, deploymentPolicy())
	_ = s.CreatePolicy(ctx, replicaSetPolicy())

	parent := testObject("Deployment", "web", 7, map[string]any{"replicas": int64(5)})
	setObserved(parent, 7)

	oldObj := testObject("ReplicaSet", "web-abc", 2, map[string]any{"replicas": int64(3)})
	setObserved(oldObj, 2)
	newObj := testObject("ReplicaSet", "web-abc", 3, map[string]any{"replicas": int64(5)})
	setObserved(newObj, 2)

	granted := allowance.Originate("User:alice",
		allowance.Hop{Kind: "apps/Deployment", Name: "web", Generation: 7, Field: "spec.replicas"},
		"apps/ReplicaSet", "Mutate", "spec.replicas", 7)

	d, err := eng.Decide(ctx, &Request{
		Subject:          Subject{Kind: SubjectServiceAccount, Name: "deploy-controller", Namespace: "kube-system"},
		Verb:             VerbUpdate,
		Object:           newObj,
		OldObject:        oldObj,
		Parent:           parent,
		ParentAllowances: allowance.Set{granted},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !d.Accepted() {
		t.Fatalf("expected accept via parent allowance, got %s: %s", d.Outcome, d.Reason)
	}
	if d.Phase != PhaseSteadyState {
		t.Fatalf("expected SteadyState phase, got %s", d.Phase)
	}

	// The replica change triggers the ReplicaSet rule; issued allowances
	// extend the justifying trace rather than originating a new one.
	if len(d.Allowances) == 0 {
		t.Fatal("expected issued allowances")
	}
	for _, a := range d.Allowances {
		if a.Initiator != "User:alice" {
			t.Fatalf("expected carried initiator User:alice, got %q", a.Initiator)
		}
		if len(a.Trace) != 2 {
			t.Fatalf("expected two-hop trace, got %d hops", len(a.Trace))
		}
		if a.Trace[0].Kind != "apps/Deployment" {
			t.Fatalf("expected root hop at apps/Deployment, got %s", a.Trace[0].Kind)
		}
		if a.Trace[1].Kind != "apps/ReplicaSet" || a.Trace[1].Name != "web-abc" {
			t.Fatalf("unexpected second hop %s/%s", a.Trace[1].Kind, a.Trace[1].Name)
		}
		if got := a.Trace[1].Attestations["spec.replicas"]; got != "5" {
			t.Fatalf("expected captured spec.replicas=5, got %q", got)
		}
	}
}

func TestDecide_TraceLessParentAllowanceIgnored(t *testing.T) {
	ctx := WithCluster(context.Background(), "c1")
	eng, s := newTestEngine(t)
	_ = s.CreatePolicy(ctx, deploymentPolicy())
	_ = s.CreatePolicy(ctx, replicaSetPolicy())

	parent := testObject("Deployment", "web", 7, map[string]any{"replicas": int64(5)})
	setObserved(parent, 7)

	oldObj := testObject("ReplicaSet", "web-abc", 2, map[string]any{"replicas": int64(3)})
	setObserved(oldObj, 2)
	newObj := testObject("ReplicaSet", "web-abc", 3, map[string]any{"replicas": int64(5)})
	setObserved(newObj, 2)

	// Covers the operation but carries no trace, so it must not justify.
	tamperless := allowance.Allowance{
		Target: "apps/ReplicaSet", Verb: "Mutate", Field: "spec.replicas",
		Generation: 7, Initiator: "User:alice",
	}

	d, err := eng.Decide(ctx, &Request{
		Subject:          Subject{Kind: SubjectServiceAccount, Name: "deploy-controller", Namespace: "kube-system"},
		Verb:             VerbUpdate,
		Object:           newObj,
		OldObject:        oldObj,
		Parent:           parent,
		ParentAllowances: allowance.Set{tamperless},
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Accepted() {
		t.Fatal("expected reject: trace-less allowances justify nothing")
	}

	found := false
	for _, w := range d.Warnings {
		if strings.Contains(w, "without trace") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a trace-less allowance warning, got %v", d.Warnings)
	}
}

func TestDecide_MalformedRawAllowancesWarn(t *testing.T) {
	ctx := WithCluster(context.Background(), "c1")
	eng, _ := newTestEngine(t)

	d, err := eng.Decide(ctx, &Request{
		Subject:             Subject{Kind: SubjectUser, Name: "alice"},
		Verb:                VerbUpdate,
		Object:              testObject("ConfigMap", "settings", 2, map[string]any{"foo": "bar"}),
		ObjectAllowancesRaw: "bogus\t\"record\"\n",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !d.Accepted() {
		t.Fatalf("malformed allowances must warn, not abort: %s", d.Reason)
	}
	if len(d.Warnings) == 0 {
		t.Fatal("expected a warning for the malformed allowance record")
	}
}

func TestDecide_DeterministicReplay(t *testing.T) {
	ctx := WithCluster(context.Background(), "c1")
	eng, s := newTestEngine(t)
	_ = s.CreatePolicy(ctx, deploymentPolicy())
	_ = s.CreatePolicy(ctx, replicaSetPolicy())

	parent := testObject("Deployment", "web", 7, map[string]any{"replicas": int64(5)})
	setObserved(parent, 7)

	oldObj := testObject("ReplicaSet", "web-abc", 2, map[string]any{"replicas": int64(3)})
	setObserved(oldObj, 2)
	newObj := testObject("ReplicaSet", "web-abc", 3, map[string]any{"replicas": int64(5)})
	setObserved(newObj, 2)

	// Two covering allowances with distinct roots; the pick must be stable.
	a1 := allowance.Originate("User:alice",
		allowance.Hop{Kind: "apps/Deployment", Name: "web", Generation: 7, Field: "spec.replicas"},
		"apps/ReplicaSet", "Mutate", "spec.replicas", 7)
	a2 := allowance.Originate("User:bob",
		allowance.Hop{Kind: "apps/Deployment", Name: "web", Generation: 6, Field: "spec.template"},
		"apps/ReplicaSet", "Mutate", "spec.*", 6)

	req := func() *Request {
		return &Request{
			Subject:          Subject{Kind: SubjectServiceAccount, Name: "deploy-controller", Namespace: "kube-system"},
			Verb:             VerbUpdate,
			Object:           newObj.DeepCopy(),
			OldObject:        oldObj.DeepCopy(),
			Parent:           parent.DeepCopy(),
			ParentAllowances: allowance.Set{a2.Clone(), a1.Clone()},
		}
	}

	first, err := eng.Decide(ctx, req())
	if err != nil {
		t.Fatal(err)
	}
	second, err := eng.Decide(ctx, req())
	if err != nil {
		t.Fatal(err)
	}
	if !first.Accepted() || !second.Accepted() {
		t.Fatalf("expected both replays to accept: %s / %s", first.Reason, second.Reason)
	}

	b1, _ := json.Marshal(first.Allowances)
	b2, _ := json.Marshal(second.Allowances)
	if string(b1) != string(b2) {
		t.Fatalf("replay produced different allowances:\n%s\n%s", b1, b2)
	}
}

func TestDecide_InitializingPhaseBound(t *testing.T) {
	ctx := WithCluster(context.Background(), "c1")
	eng, s := newTestEngine(t)
	_ = s.CreatePolicy(ctx, deploymentPolicy())

	// No observedGeneration on the parent: it is still Initializing.
	parent := testObject("Deployment", "web", 1, map[string]any{"replicas": int64(3)})

	oldObj := testObject("ReplicaSet", "web-abc", 1, map[string]any{"replicas": int64(1)})
	newObj := testObject("ReplicaSet", "web-abc", 2, map[string]any{"replicas": int64(3)})

	d, err := eng.Decide(ctx, &Request{
		Subject:   Subject{Kind: SubjectServiceAccount, Name: "deploy-controller", Namespace: "kube-system"},
		Verb:      VerbUpdate,
		Object:    newObj,
		OldObject: oldObj,
		Parent:    parent,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !d.Accepted() {
		t.Fatalf("expected accept under the Initializing bound, got %s: %s", d.Outcome, d.Reason)
	}
	if d.Phase != PhaseInitializing {
		t.Fatalf("expected Initializing phase, got %s", d.Phase)
	}
}

func TestDecide_DeletingPhaseDefaultBound(t *testing.T) {
	ctx := WithCluster(context.Background(), "c1")
	eng, s := newTestEngine(t)
	_ = s.CreatePolicy(ctx, deploymentPolicy())

	parent := testObject("Deployment", "web", 7, map[string]any{"replicas": int64(5)})
	setObserved(parent, 7)
	_ = unstructured.SetNestedField(parent.Object, "2026-08-01T00:00:00Z", "metadata", "deletionTimestamp")

	oldObj := testObject("ReplicaSet", "web-abc", 3, map[string]any{"replicas": int64(5)})
	newObj := testObject("ReplicaSet", "web-abc", 4, map[string]any{"replicas": int64(0)})

	// No deleting policies are configured, so the default applies:
	// controller children stay fully mutable during teardown.
	d, err := eng.Decide(ctx, &Request{
		Subject:   Subject{Kind: SubjectServiceAccount, Name: "deploy-controller", Namespace: "kube-system"},
		Verb:      VerbUpdate,
		Object:    newObj,
		OldObject: oldObj,
		Parent:    parent,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !d.Accepted() {
		t.Fatalf("expected accept under the Deleting default, got %s: %s", d.Outcome, d.Reason)
	}
	if d.Phase != PhaseDeleting {
		t.Fatalf("expected Deleting phase, got %s", d.Phase)
	}
}

func TestDecide_PrunesConsumedAllowances(t *testing.T) {
	ctx := WithCluster(context.Background(), "c1")
	eng, s := newTestEngine(t)

	pol := deploymentPolicy()
	pol.Rules = nil // no issuance, pruning only
	_ = s.CreatePolicy(ctx, pol)

	oldObj := testObject("Deployment", "web", 3, map[string]any{"replicas": int64(3)})
	setObserved(oldObj, 3)
	newObj := testObject("Deployment", "web", 4, map[string]any{"replicas": int64(5)})
	setObserved(newObj, 3)

	consumed := allowance.Originate("User:alice",
		allowance.Hop{Kind: "apps/Deployment", Name: "web", Generation: 1, Field: "spec.replicas"},
		"apps/ReplicaSet", "Mutate", "spec.replicas", 1)
	live := allowance.Originate("User:alice",
		allowance.Hop{Kind: "apps/Deployment", Name: "web", Generation: 5, Field: "spec.template"},
		"apps/ReplicaSet", "Mutate", "spec.*", 5)

	d, err := eng.Decide(ctx, &Request{
		Subject:          Subject{Kind: SubjectUser, Name: "alice"},
		Verb:             VerbUpdate,
		Object:           newObj,
		OldObject:        oldObj,
		ObjectAllowances: allowance.Set{consumed, live},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !d.Accepted() {
		t.Fatalf("expected accept, got %s: %s", d.Outcome, d.Reason)
	}
	if len(d.Allowances) != 1 {
		t.Fatalf("expected the consumed allowance pruned, got %d entries", len(d.Allowances))
	}
	if d.Allowances[0].Generation != 5 {
		t.Fatalf("expected the generation-5 allowance kept, got generation %d", d.Allowances[0].Generation)
	}
}

func TestDecide_DeleteIssuesNothing(t *testing.T) {
	ctx := WithCluster(context.Background(), "c1")
	eng, s := newTestEngine(t)
	_ = s.CreatePolicy(ctx, deploymentPolicy())

	obj := testObject("Deployment", "web", 4, map[string]any{"replicas": int64(5)})
	setObserved(obj, 4)

	d, err := eng.Decide(ctx, &Request{
		Subject:          Subject{Kind: SubjectUser, Name: "alice"},
		Verb:             VerbDelete,
		Object:           obj,
		OldObject:        obj,
		ObjectAllowances: allowance.Set{allowance.Originate("User:alice", allowance.Hop{Kind: "apps/Deployment", Name: "web", Generation: 9, Field: "spec"}, "apps/ReplicaSet", "Create", "", 9)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !d.Accepted() {
		t.Fatalf("expected accept, got %s: %s", d.Outcome, d.Reason)
	}
	if len(d.Allowances) != 0 {
		t.Fatalf("a deleted object issues nothing, got %d allowances", len(d.Allowances))
	}
}

func TestDecide_UpgradeGrantEngages(t *testing.T) {
	ctx := WithCluster(context.Background(), "c1")
	eng, s := newTestEngine(t)
	_ = s.CreatePolicy(ctx, deploymentPolicy())

	subject := Subject{Kind: SubjectServiceAccount, Name: "deploy-operator", Namespace: "kube-system"}
	_ = s.CreateUpgradeGrant(ctx, &upgradegrant.Grant{
		ID:        id.NewUpgradeGrantID(),
		ClusterID: "c1",
		Subject:   subject.String(),
		Policies: []policy.Entry{{
			Target:   policy.TargetRef{APIGroup: "apps", Kind: "Deployment"},
			Relation: policy.RelationControllerChild,
			Mutations: []policy.MutationGrant{
				{Path: "spec.*", Verbs: []policy.MutationVerb{policy.MutationMutate}},
			},
		}},
	})

	oldObj := testObject("Deployment", "web", 3, map[string]any{"replicas": int64(3)})
	setObserved(oldObj, 3)
	newObj := testObject("Deployment", "web", 4, map[string]any{"replicas": int64(5)})
	setObserved(newObj, 3)

	d, err := eng.Decide(ctx, &Request{
		Subject:           subject,
		Verb:              VerbUpdate,
		Object:            newObj,
		OldObject:         oldObj,
		Fingerprint:       "sha256:v2",
		StoredFingerprint: "sha256:v1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !d.Accepted() {
		t.Fatalf("expected accept via upgrade grant, got %s: %s", d.Outcome, d.Reason)
	}
	if d.UpdatedFingerprint != "sha256:v2" {
		t.Fatalf("expected updated fingerprint sha256:v2, got %q", d.UpdatedFingerprint)
	}

	// Once the stored fingerprint matches, the grant deactivates and the
	// unrecognized subject is back to default-deny.
	d, err = eng.Decide(ctx, &Request{
		Subject:           subject,
		Verb:              VerbUpdate,
		Object:            newObj,
		OldObject:         oldObj,
		Fingerprint:       "sha256:v2",
		StoredFingerprint: "sha256:v2",
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Accepted() {
		t.Fatal("expected reject once fingerprints match again")
	}
	if d.UpdatedFingerprint != "" {
		t.Fatalf("expected no fingerprint update, got %q", d.UpdatedFingerprint)
	}
}

func TestDecide_FingerprintMismatchWithoutGrant(t *testing.T) {
	ctx := WithCluster(context.Background(), "c1")
	eng, s := newTestEngine(t)
	_ = s.CreatePolicy(ctx, deploymentPolicy())

	oldObj := testObject("Deployment", "web", 3, map[string]any{"replicas": int64(3)})
	setObserved(oldObj, 3)
	newObj := testObject("Deployment", "web", 4, map[string]any{"replicas": int64(5)})
	setObserved(newObj, 3)

	// A mismatch without a grant widens nothing.
	d, err := eng.Decide(ctx, &Request{
		Subject:           Subject{Kind: SubjectServiceAccount, Name: "deploy-operator", Namespace: "kube-system"},
		Verb:              VerbUpdate,
		Object:            newObj,
		OldObject:         oldObj,
		Fingerprint:       "sha256:v2",
		StoredFingerprint: "sha256:v1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Accepted() {
		t.Fatal("expected reject: fingerprint mismatch alone grants nothing")
	}
}

func TestDecide_WritesDecisionLog(t *testing.T) {
	ctx := WithCluster(context.Background(), "c1")

	enabled := true
	cfg := DefaultConfig()
	cfg.EnableDecisionLog = &enabled

	eng, s := newTestEngine(t, WithConfig(cfg))

	_, err := eng.Decide(ctx, &Request{
		Subject: Subject{Kind: SubjectUser, Name: "alice"},
		Verb:    VerbUpdate,
		Object:  testObject("ConfigMap", "settings", 2, map[string]any{"foo": "bar"}),
	})
	if err != nil {
		t.Fatal(err)
	}

	count, err := s.CountDecisionLogs(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected 1 decision log entry, got %d", count)
	}
}

func TestEnforce_DeniedWrapsSentinel(t *testing.T) {
	ctx := WithCluster(context.Background(), "c1")
	eng, s := newTestEngine(t)
	_ = s.CreatePolicy(ctx, deploymentPolicy())

	oldObj := testObject("Deployment", "web", 1, map[string]any{"replicas": int64(3)})
	setObserved(oldObj, 1)
	newObj := testObject("Deployment", "web", 2, map[string]any{"replicas": int64(5)})
	setObserved(newObj, 1)

	err := eng.Enforce(ctx, &Request{
		Subject:   Subject{Kind: SubjectUser, Name: "mallory"},
		Verb:      VerbUpdate,
		Object:    newObj,
		OldObject: oldObj,
	})
	if !errors.Is(err, ErrDecisionDenied) {
		t.Fatalf("expected ErrDecisionDenied, got %v", err)
	}

	if err := eng.Enforce(ctx, &Request{
		Subject:   Subject{Kind: SubjectUser, Name: "alice"},
		Verb:      VerbUpdate,
		Object:    newObj,
		OldObject: oldObj,
	}); err != nil {
		t.Fatalf("expected initiator update to pass, got %v", err)
	}
}

// faultyPolicyStore simulates a backend outage on policy lookups.
type faultyPolicyStore struct {
	store.Store
}

func (faultyPolicyStore) GetPolicyForKind(context.Context, string, policy.TargetRef) (*policy.AllowancePolicy, error) {
	return nil, errors.New("connection refused")
}

// faultyGrantStore simulates a backend outage on upgrade grant lookups.
type faultyGrantStore struct {
	store.Store
}

func (faultyGrantStore) GetUpgradeGrantForSubject(context.Context, string, string) (*upgradegrant.Grant, error) {
	return nil, errors.New("connection refused")
}

func TestDecide_PolicyStoreFailureIsAnError(t *testing.T) {
	ctx := WithCluster(context.Background(), "c1")
	mem := memory.New()
	_ = mem.CreatePolicy(ctx, deploymentPolicy())

	eng, err := NewEngine(WithStore(faultyPolicyStore{Store: mem}))
	if err != nil {
		t.Fatal(err)
	}

	oldObj := testObject("Deployment", "web", 3, map[string]any{"replicas": int64(3)})
	setObserved(oldObj, 3)
	newObj := testObject("Deployment", "web", 4, map[string]any{"replicas": int64(5)})
	setObserved(newObj, 3)

	// A request rejected under a healthy store must not be admitted as
	// "kind is not policed" when the lookup fails instead of missing.
	d, err := eng.Decide(ctx, &Request{
		Subject:   Subject{Kind: SubjectUser, Name: "mallory"},
		Verb:      VerbUpdate,
		Object:    newObj,
		OldObject: oldObj,
	})
	if err == nil {
		t.Fatalf("expected error from failing policy store, got %s: %s", d.Outcome, d.Reason)
	}
	if d != nil {
		t.Fatalf("expected no decision on store failure, got %s", d.Outcome)
	}
}

func TestDecide_GrantStoreFailureIsAnError(t *testing.T) {
	ctx := WithCluster(context.Background(), "c1")
	mem := memory.New()
	_ = mem.CreatePolicy(ctx, deploymentPolicy())

	eng, err := NewEngine(WithStore(faultyGrantStore{Store: mem}))
	if err != nil {
		t.Fatal(err)
	}

	oldObj := testObject("Deployment", "web", 3, map[string]any{"replicas": int64(3)})
	setObserved(oldObj, 3)
	newObj := testObject("Deployment", "web", 4, map[string]any{"replicas": int64(5)})
	setObserved(newObj, 3)

	d, err := eng.Decide(ctx, &Request{
		Subject:           Subject{Kind: SubjectServiceAccount, Name: "deploy-operator", Namespace: "kube-system"},
		Verb:              VerbUpdate,
		Object:            newObj,
		OldObject:         oldObj,
		Fingerprint:       "sha256:v2",
		StoredFingerprint: "sha256:v1",
	})
	if err == nil {
		t.Fatalf("expected error from failing grant store, got %s: %s", d.Outcome, d.Reason)
	}
	if d != nil {
		t.Fatalf("expected no decision on store failure, got %s", d.Outcome)
	}
}
