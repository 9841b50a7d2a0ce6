// Package upgradegrant defines the UpgradeGrant entity: a temporary broad
// permission set activated when a controller's identity fingerprint changes.
package upgradegrant

import (
	"time"

	"github.com/sttts/kausality/id"
	"github.com/sttts/kausality/policy"
)

// Grant names the policy entries substituted for the normal upper bound
// while a fingerprint mismatch is detected for the given service identity.
// There is no time window; activation is purely fingerprint-driven.
type Grant struct {
	ID        id.UpgradeGrantID `json:"id" db:"id"`
	ClusterID string            `json:"cluster_id" db:"cluster_id"`
	Subject   string            `json:"subject" db:"subject"`
	Policies  []policy.Entry    `json:"policies" db:"-"`
	Metadata  map[string]any    `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt time.Time         `json:"updated_at" db:"updated_at"`
}

// ListFilter contains filters for listing upgrade grants.
type ListFilter struct {
	ClusterID string `json:"cluster_id,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}
