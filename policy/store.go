package policy

import (
	"context"
	"errors"

	"github.com/sttts/kausality/id"
)

// ErrNotFound is the sentinel every store backend wraps when a policy
// lookup misses. Callers distinguish absence from backend failure with
// errors.Is.
var ErrNotFound = errors.New("policy not found")

// Store defines persistence operations for allowance policies.
type Store interface {
	// CreatePolicy persists a new policy.
	CreatePolicy(ctx context.Context, p *AllowancePolicy) error

	// GetPolicy retrieves a policy by ID.
	GetPolicy(ctx context.Context, polID id.PolicyID) (*AllowancePolicy, error)

	// GetPolicyForKind retrieves the single policy governing a kind, if any.
	GetPolicyForKind(ctx context.Context, clusterID string, forKind TargetRef) (*AllowancePolicy, error)

	// UpdatePolicy persists changes to a policy.
	UpdatePolicy(ctx context.Context, p *AllowancePolicy) error

	// DeletePolicy removes a policy by ID.
	DeletePolicy(ctx context.Context, polID id.PolicyID) error

	// ListPolicies returns policies matching the filter.
	ListPolicies(ctx context.Context, filter *ListFilter) ([]*AllowancePolicy, error)

	// CountPolicies returns the number of policies matching the filter.
	CountPolicies(ctx context.Context, filter *ListFilter) (int64, error)

	// DeletePoliciesByCluster removes all policies for a cluster.
	DeletePoliciesByCluster(ctx context.Context, clusterID string) error
}
