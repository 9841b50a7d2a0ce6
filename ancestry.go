package kausality

import (
	"context"
	"errors"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/sttts/kausality/allowance"
	"github.com/sttts/kausality/object"
	"github.com/sttts/kausality/policy"
)

// ParentLookup resolves ownership edges in the object graph. Implementations
// typically read ownerReferences and fetch the referenced object plus its
// attached allowance annotation.
type ParentLookup interface {
	// LookupParent returns the owning parent of child together with the
	// parent's decoded allowance set, or a nil parent when child has no
	// owner.
	LookupParent(ctx context.Context, child *unstructured.Unstructured) (*unstructured.Unstructured, allowance.Set, error)
}

// resolveAncestry finds the governing parent: the nearest ancestor whose kind
// carries a policy. A pre-resolved request parent is authoritative and is
// never walked past. Without one, ownership is walked via the configured
// ParentLookup up to MaxAncestryDepth hops; exceeding the cap fails the
// decision rather than silently treating the object as a root.
func (e *Engine) resolveAncestry(ctx context.Context, scope clusterScope, req *Request) (*unstructured.Unstructured, *policy.AllowancePolicy, allowance.Set, error) {
	if req.Parent != nil {
		pol, err := e.policyFor(ctx, scope, object.RefOf(req.Parent))
		if err != nil {
			return nil, nil, nil, err
		}

		return req.Parent, pol, req.ParentAllowances, nil
	}

	if e.parents == nil {
		return nil, nil, nil, nil
	}

	current := req.Object
	for depth := 0; depth < e.config.MaxAncestryDepth; depth++ {
		parent, set, err := e.parents.LookupParent(ctx, current)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("kausality ancestry: %w", err)
		}

		if parent == nil {
			return nil, nil, nil, nil
		}

		pol, err := e.policyFor(ctx, scope, object.RefOf(parent))
		if err != nil {
			return nil, nil, nil, err
		}
		if pol != nil {
			return parent, pol, set, nil
		}

		current = parent
	}

	return nil, nil, nil, ErrAncestryDepthExceeded
}

// policyFor fetches the policy governing a kind within the cluster scope.
// Absence is the common case and returns nil with no error; any other store
// failure propagates so an outage never reads as "kind is not policed".
func (e *Engine) policyFor(ctx context.Context, scope clusterScope, ref object.Ref) (*policy.AllowancePolicy, error) {
	forKind := policy.TargetRef{APIGroup: ref.APIGroup, Kind: ref.Kind}

	pol, err := e.store.GetPolicyForKind(ctx, scope.clusterID, forKind)
	if errors.Is(err, policy.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kausality: policy lookup for %s: %w", forKind.Key(), err)
	}

	return pol, nil
}
