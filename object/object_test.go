package object_test

import (
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/sttts/kausality/object"
	"github.com/sttts/kausality/pathmatch"
)

func deployment(gen int64, spec map[string]any) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "apps/v1",
		"kind":       "Deployment",
		"metadata": map[string]any{
			"name":       "web",
			"namespace":  "default",
			"generation": gen,
		},
		"spec": spec,
	}}
}

func changeStrings(changes []object.Change) []string {
	out := make([]string, len(changes))
	for i, c := range changes {
		out[i] = string(c.Op) + " " + c.Path.String()
	}
	return out
}

func TestRefOf(t *testing.T) {
	u := deployment(4, map[string]any{"replicas": int64(3)})
	_ = unstructured.SetNestedField(u.Object, int64(3), "status", "observedGeneration")

	ref := object.RefOf(u)

	if ref.APIGroup != "apps" || ref.APIVersion != "v1" {
		t.Fatalf("unexpected group/version %s/%s", ref.APIGroup, ref.APIVersion)
	}
	if ref.Key() != "apps/Deployment" {
		t.Fatalf("expected key apps/Deployment, got %s", ref.Key())
	}
	if ref.Name != "web" || ref.Namespace != "default" || ref.Generation != 4 {
		t.Fatalf("unexpected ref %+v", ref)
	}
	if ref.ObservedGeneration == nil || *ref.ObservedGeneration != 3 {
		t.Fatalf("expected observedGeneration 3, got %v", ref.ObservedGeneration)
	}

	// Core-group kinds key without a group prefix.
	cm := &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "v1",
		"kind":       "ConfigMap",
		"metadata":   map[string]any{"name": "settings"},
	}}
	if got := object.RefOf(cm).Key(); got != "ConfigMap" {
		t.Fatalf("expected bare kind for core group, got %s", got)
	}
}

func TestDiffScalarMutation(t *testing.T) {
	oldObj := deployment(1, map[string]any{"replicas": int64(3)})
	newObj := deployment(2, map[string]any{"replicas": int64(5)})

	got := changeStrings(object.Diff(oldObj, newObj))
	if len(got) != 1 || got[0] != "Mutate spec.replicas" {
		t.Fatalf("unexpected changes %v", got)
	}
}

func TestDiffInsertAndDelete(t *testing.T) {
	oldObj := deployment(1, map[string]any{"replicas": int64(3), "paused": true})
	newObj := deployment(1, map[string]any{"replicas": int64(3), "minReadySeconds": int64(5)})

	got := changeStrings(object.Diff(oldObj, newObj))
	want := []string{"Insert spec.minReadySeconds", "Delete spec.paused"}
	if len(got) != len(want) {
		t.Fatalf("unexpected changes %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %q at %d, got %v", want[i], i, got)
		}
	}
}

func TestDiffListElements(t *testing.T) {
	oldObj := deployment(1, map[string]any{
		"containers": []any{
			map[string]any{"name": "web", "image": "web:v1"},
		},
	})
	newObj := deployment(1, map[string]any{
		"containers": []any{
			map[string]any{"name": "web", "image": "web:v2"},
			map[string]any{"name": "sidecar", "image": "proxy:v1"},
		},
	})

	got := changeStrings(object.Diff(oldObj, newObj))
	want := []string{
		"Mutate spec.containers[0].image",
		"Insert spec.containers[1]",
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected changes %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %q at %d, got %v", want[i], i, got)
		}
	}
}

func TestDiffSkipsStatusAndBookkeeping(t *testing.T) {
	oldObj := deployment(1, map[string]any{"replicas": int64(3)})
	newObj := deployment(2, map[string]any{"replicas": int64(3)})
	_ = unstructured.SetNestedField(newObj.Object, int64(1), "status", "observedGeneration")
	_ = unstructured.SetNestedField(newObj.Object, "xyz", "metadata", "resourceVersion")

	if got := object.Diff(oldObj, newObj); len(got) != 0 {
		t.Fatalf("expected status and bookkeeping excluded, got %v", changeStrings(got))
	}
}

func TestDiffLabelsAreNotBookkeeping(t *testing.T) {
	oldObj := deployment(1, map[string]any{"replicas": int64(3)})
	newObj := deployment(1, map[string]any{"replicas": int64(3)})
	_ = unstructured.SetNestedField(newObj.Object, "blue", "metadata", "labels", "color")

	got := changeStrings(object.Diff(oldObj, newObj))
	if len(got) != 1 || got[0] != "Insert metadata.labels" {
		t.Fatalf("expected a label insert, got %v", got)
	}
}

func TestDiffCreateFromNil(t *testing.T) {
	newObj := deployment(1, map[string]any{"replicas": int64(3)})

	got := object.Diff(nil, newObj)
	if len(got) == 0 {
		t.Fatal("expected insert changes for a create")
	}
	for _, c := range got {
		if c.Op != object.OpInsert {
			t.Fatalf("expected only inserts, got %s %s", c.Op, c.Path)
		}
	}

	// Inserted subtrees surface at their root only: a create reports
	// "Insert spec", never "Insert spec.replicas".
	for _, c := range got {
		if c.Path.String() == "spec.replicas" {
			t.Fatalf("expected subtree-root inserts only, got %v", changeStrings(got))
		}
	}
	found := false
	for _, c := range got {
		if c.Path.String() == "spec" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an insert at the spec root, got %v", changeStrings(got))
	}
}

func TestDiffNumericEquivalence(t *testing.T) {
	// Decoders disagree on int64 vs float64; equal values must not diff.
	oldObj := deployment(1, map[string]any{"replicas": int64(3)})
	newObj := deployment(1, map[string]any{"replicas": float64(3)})

	if got := object.Diff(oldObj, newObj); len(got) != 0 {
		t.Fatalf("expected numerically equal values to match, got %v", changeStrings(got))
	}
}

func TestLookup(t *testing.T) {
	u := deployment(1, map[string]any{
		"containers": []any{
			map[string]any{"name": "web", "image": "web:v1"},
		},
	})

	path, err := pathmatch.ParsePath("spec.containers[0].image")
	if err != nil {
		t.Fatal(err)
	}

	v, ok := object.Lookup(u, path)
	if !ok || v != "web:v1" {
		t.Fatalf("expected web:v1, got %v (found %v)", v, ok)
	}

	missing, err := pathmatch.ParsePath("spec.containers[3].image")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := object.Lookup(u, missing); ok {
		t.Fatal("expected out-of-range index to miss")
	}
}

func TestObservedGeneration(t *testing.T) {
	u := deployment(1, map[string]any{})

	if _, ok := object.ObservedGeneration(u); ok {
		t.Fatal("expected absent observedGeneration")
	}

	_ = unstructured.SetNestedField(u.Object, int64(7), "status", "observedGeneration")
	got, ok := object.ObservedGeneration(u)
	if !ok || got != 7 {
		t.Fatalf("expected 7, got %d (found %v)", got, ok)
	}
}
