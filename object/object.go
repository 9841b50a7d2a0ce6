// Package object provides typed access to the untyped Kubernetes-style
// object state the engine evaluates: reference extraction, generation
// bookkeeping, field lookup, and structural diffing of before/after state.
package object

import (
	"reflect"
	"sort"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/sttts/kausality/pathmatch"
)

// Ref identifies one object in the hierarchy together with the generation
// bookkeeping the engine reads. An empty Namespace means cluster-scoped.
type Ref struct {
	APIGroup           string     `json:"api_group,omitempty"`
	APIVersion         string     `json:"api_version"`
	Kind               string     `json:"kind"`
	Namespace          string     `json:"namespace,omitempty"`
	Name               string     `json:"name"`
	Generation         int64      `json:"generation"`
	ObservedGeneration *int64     `json:"observed_generation,omitempty"`
	DeletionTimestamp  *time.Time `json:"deletion_timestamp,omitempty"`
}

// Key returns "group/Kind" for namespaceless identity, or "Kind" for the
// core group. Used as the target key in bounds and allowances.
func (r Ref) Key() string {
	if r.APIGroup == "" {
		return r.Kind
	}

	return r.APIGroup + "/" + r.Kind
}

// RefOf extracts a Ref from an object's metadata and status.
func RefOf(u *unstructured.Unstructured) Ref {
	group, version := splitAPIVersion(u.GetAPIVersion())

	ref := Ref{
		APIGroup:   group,
		APIVersion: version,
		Kind:       u.GetKind(),
		Namespace:  u.GetNamespace(),
		Name:       u.GetName(),
		Generation: u.GetGeneration(),
	}

	if og, ok := ObservedGeneration(u); ok {
		ref.ObservedGeneration = &og
	}

	if ts := u.GetDeletionTimestamp(); ts != nil {
		t := ts.Time
		ref.DeletionTimestamp = &t
	}

	return ref
}

func splitAPIVersion(apiVersion string) (group, version string) {
	if i := strings.IndexByte(apiVersion, '/'); i >= 0 {
		return apiVersion[:i], apiVersion[i+1:]
	}

	return "", apiVersion
}

// ObservedGeneration reads status.observedGeneration. The second return is
// false when the field is absent or not an integer.
func ObservedGeneration(u *unstructured.Unstructured) (int64, bool) {
	if u == nil {
		return 0, false
	}

	v, found, err := unstructured.NestedInt64(u.Object, "status", "observedGeneration")
	if err != nil || !found {
		return 0, false
	}

	return v, true
}

// Deleting reports whether the object carries a deletion timestamp.
func Deleting(u *unstructured.Unstructured) bool {
	return u != nil && u.GetDeletionTimestamp() != nil
}

// Lookup resolves a concrete field path against the object's content.
// Returns false when any segment is missing or of the wrong shape.
func Lookup(u *unstructured.Unstructured, path pathmatch.Path) (any, bool) {
	if u == nil {
		return nil, false
	}

	var cur any = u.Object

	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}

		cur, ok = m[seg.Field]
		if !ok {
			return nil, false
		}

		if seg.Index != pathmatch.NoIndex {
			list, ok := cur.([]any)
			if !ok || seg.Index >= len(list) {
				return nil, false
			}

			cur = list[seg.Index]
		}
	}

	return cur, true
}

// Op classifies what happened to a field between the old and new state.
type Op string

// Change operations, matching the mutation verbs a policy can grant.
const (
	OpInsert Op = "Insert"
	OpDelete Op = "Delete"
	OpMutate Op = "Mutate"
)

// Change is one concrete field-level difference between two object states.
type Change struct {
	Path pathmatch.Path
	Op   Op
}

// Fields under metadata that change on every write without expressing a
// requested mutation. They never participate in a diff.
var metadataBookkeeping = map[string]struct{}{
	"generation":        {},
	"resourceVersion":   {},
	"managedFields":     {},
	"uid":               {},
	"creationTimestamp": {},
	"deletionTimestamp": {},
	"finalizers":        {},
	"ownerReferences":   {},
}

// Diff computes the concrete field paths that differ between the old and new
// object state, in deterministic (sorted) order. The status subtree and
// metadata bookkeeping fields are excluded: status is written by the object's
// own controller and bookkeeping moves on every request. A nil old state
// diffs as an empty object, so a create yields Insert changes for every
// top-level populated field.
//
// An inserted subtree is reported as a single Insert at its root, never as
// one change per leaf. Triggers meant to fire on creation therefore need a
// pattern covering the subtree root (spec or spec.*), not a leaf path like
// spec.replicas; leaf paths only appear once the subtree already exists.
func Diff(oldObj, newObj *unstructured.Unstructured) []Change {
	var oldContent, newContent map[string]any

	if oldObj != nil {
		oldContent = oldObj.Object
	}

	if newObj != nil {
		newContent = newObj.Object
	}

	var changes []Change
	diffMaps(nil, oldContent, newContent, &changes)

	return changes
}

// Paths projects a change set onto its concrete paths, preserving order.
func Paths(changes []Change) []pathmatch.Path {
	out := make([]pathmatch.Path, len(changes))
	for i, c := range changes {
		out[i] = c.Path
	}

	return out
}

func diffMaps(prefix pathmatch.Path, oldMap, newMap map[string]any, out *[]Change) {
	keys := make(map[string]struct{}, len(oldMap)+len(newMap))
	for k := range oldMap {
		keys[k] = struct{}{}
	}
	for k := range newMap {
		keys[k] = struct{}{}
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		if skipField(prefix, k) {
			continue
		}

		path := appendSegment(prefix, pathmatch.Segment{Field: k, Index: pathmatch.NoIndex})
		oldVal, inOld := oldMap[k]
		newVal, inNew := newMap[k]

		switch {
		case !inOld:
			*out = append(*out, Change{Path: path, Op: OpInsert})
		case !inNew:
			*out = append(*out, Change{Path: path, Op: OpDelete})
		default:
			diffValues(path, oldVal, newVal, out)
		}
	}
}

func diffValues(path pathmatch.Path, oldVal, newVal any, out *[]Change) {
	switch ov := oldVal.(type) {
	case map[string]any:
		nv, ok := newVal.(map[string]any)
		if !ok {
			*out = append(*out, Change{Path: path, Op: OpMutate})

			return
		}

		diffMaps(path, ov, nv, out)
	case []any:
		nv, ok := newVal.([]any)
		if !ok {
			*out = append(*out, Change{Path: path, Op: OpMutate})

			return
		}

		// A list directly inside a list has no addressable index syntax;
		// compare it wholesale at the element path.
		if path[len(path)-1].Index != pathmatch.NoIndex {
			if !reflect.DeepEqual(ov, nv) {
				*out = append(*out, Change{Path: path, Op: OpMutate})
			}

			return
		}

		diffLists(path, ov, nv, out)
	default:
		if !scalarEqual(oldVal, newVal) {
			*out = append(*out, Change{Path: path, Op: OpMutate})
		}
	}
}

func diffLists(path pathmatch.Path, oldList, newList []any, out *[]Change) {
	n := len(oldList)
	if len(newList) > n {
		n = len(newList)
	}

	// The list's field segment carries the index, so the path for element i
	// replaces the final segment with an indexed one.
	base := path[:len(path)-1]
	field := path[len(path)-1].Field

	for i := 0; i < n; i++ {
		elemPath := appendSegment(base, pathmatch.Segment{Field: field, Index: i})

		switch {
		case i >= len(oldList):
			*out = append(*out, Change{Path: elemPath, Op: OpInsert})
		case i >= len(newList):
			*out = append(*out, Change{Path: elemPath, Op: OpDelete})
		default:
			diffValues(elemPath, oldList[i], newList[i], out)
		}
	}
}

func skipField(prefix pathmatch.Path, field string) bool {
	if len(prefix) == 0 {
		return field == "status"
	}

	if len(prefix) == 1 && prefix[0].Field == "metadata" {
		_, skip := metadataBookkeeping[field]

		return skip
	}

	return false
}

func appendSegment(prefix pathmatch.Path, seg pathmatch.Segment) pathmatch.Path {
	path := make(pathmatch.Path, len(prefix)+1)
	copy(path, prefix)
	path[len(prefix)] = seg

	return path
}

func scalarEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}

	// Numeric values arrive as int64 or float64 depending on the decoder.
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}

	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
