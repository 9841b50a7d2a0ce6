// Package plugin defines the plugin system for Kausality.
// Plugins are notified of lifecycle events (decision made, policy updated,
// allowances pruned, etc.) and can react: logging, metrics, tracing.
//
// Each lifecycle hook is a separate interface so plugins opt in only
// to the events they care about.
package plugin

import (
	"context"

	"github.com/sttts/kausality/id"
	"github.com/sttts/kausality/policy"
	"github.com/sttts/kausality/upgradegrant"
)

// Plugin is the base interface all plugins must implement.
type Plugin interface {
	// Name returns a unique human-readable name for the plugin.
	Name() string
}

// ──────────────────────────────────────────────────
// Decision lifecycle hooks
// ──────────────────────────────────────────────────

// BeforeDecide is called before an admission decision is evaluated.
// The req parameter is *kausality.Request (passed as any to avoid import cycle).
type BeforeDecide interface {
	OnBeforeDecide(ctx context.Context, req any) error
}

// AfterDecide is called after an admission decision completes.
// The req parameter is *kausality.Request; decision is *kausality.Decision.
type AfterDecide interface {
	OnAfterDecide(ctx context.Context, req, decision any) error
}

// ──────────────────────────────────────────────────
// Policy lifecycle hooks
// ──────────────────────────────────────────────────

// PolicyCreated is called after an allowance policy is created.
type PolicyCreated interface {
	OnPolicyCreated(ctx context.Context, p *policy.AllowancePolicy) error
}

// PolicyUpdated is called after an allowance policy is updated.
type PolicyUpdated interface {
	OnPolicyUpdated(ctx context.Context, p *policy.AllowancePolicy) error
}

// PolicyDeleted is called after an allowance policy is deleted.
type PolicyDeleted interface {
	OnPolicyDeleted(ctx context.Context, polID id.PolicyID) error
}

// ──────────────────────────────────────────────────
// Upgrade grant lifecycle hooks
// ──────────────────────────────────────────────────

// UpgradeGrantCreated is called after an upgrade grant is created.
type UpgradeGrantCreated interface {
	OnUpgradeGrantCreated(ctx context.Context, g *upgradegrant.Grant) error
}

// UpgradeGrantDeleted is called after an upgrade grant is deleted.
type UpgradeGrantDeleted interface {
	OnUpgradeGrantDeleted(ctx context.Context, grantID id.UpgradeGrantID) error
}

// ──────────────────────────────────────────────────
// Allowance lifecycle hooks
// ──────────────────────────────────────────────────

// AllowancesPruned is called when a decision drops consumed allowances.
// The object is identified by its kind key and name; pruned is the count.
type AllowancesPruned interface {
	OnAllowancesPruned(ctx context.Context, objectKind, objectName string, pruned int) error
}

// FingerprintRotated is called when an upgrade grant engages and the
// decision carries a new stored fingerprint for the subject.
type FingerprintRotated interface {
	OnFingerprintRotated(ctx context.Context, subject, fingerprint string) error
}

// ──────────────────────────────────────────────────
// Shutdown hook
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
