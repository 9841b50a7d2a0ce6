package upgradegrant

import (
	"context"
	"errors"

	"github.com/sttts/kausality/id"
)

// ErrNotFound is the sentinel every store backend wraps when a grant
// lookup misses.
var ErrNotFound = errors.New("upgrade grant not found")

// Store defines persistence operations for upgrade grants.
type Store interface {
	// CreateUpgradeGrant persists a new grant.
	CreateUpgradeGrant(ctx context.Context, g *Grant) error

	// GetUpgradeGrant retrieves a grant by ID.
	GetUpgradeGrant(ctx context.Context, grantID id.UpgradeGrantID) (*Grant, error)

	// GetUpgradeGrantForSubject retrieves the grant for a service identity, if any.
	GetUpgradeGrantForSubject(ctx context.Context, clusterID, subject string) (*Grant, error)

	// UpdateUpgradeGrant persists changes to a grant.
	UpdateUpgradeGrant(ctx context.Context, g *Grant) error

	// DeleteUpgradeGrant removes a grant by ID.
	DeleteUpgradeGrant(ctx context.Context, grantID id.UpgradeGrantID) error

	// ListUpgradeGrants returns grants matching the filter.
	ListUpgradeGrants(ctx context.Context, filter *ListFilter) ([]*Grant, error)

	// CountUpgradeGrants returns the number of grants matching the filter.
	CountUpgradeGrants(ctx context.Context, filter *ListFilter) (int64, error)

	// DeleteUpgradeGrantsByCluster removes all grants for a cluster.
	DeleteUpgradeGrantsByCluster(ctx context.Context, clusterID string) error
}
