package plugin

import (
	"context"
	"log/slog"

	"github.com/sttts/kausality/id"
	"github.com/sttts/kausality/policy"
	"github.com/sttts/kausality/upgradegrant"
)

// Named entry types pair a hook with the plugin name for logging.

type beforeDecideEntry struct {
	name string
	hook BeforeDecide
}
type afterDecideEntry struct {
	name string
	hook AfterDecide
}
type policyCreatedEntry struct {
	name string
	hook PolicyCreated
}
type policyUpdatedEntry struct {
	name string
	hook PolicyUpdated
}
type policyDeletedEntry struct {
	name string
	hook PolicyDeleted
}
type upgradeGrantCreatedEntry struct {
	name string
	hook UpgradeGrantCreated
}
type upgradeGrantDeletedEntry struct {
	name string
	hook UpgradeGrantDeleted
}
type allowancesPrunedEntry struct {
	name string
	hook AllowancesPruned
}
type fingerprintRotatedEntry struct {
	name string
	hook FingerprintRotated
}
type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered plugins and dispatches lifecycle events.
// It type-caches plugins at registration time so emit calls iterate
// only over plugins implementing the relevant hook.
type Registry struct {
	plugins []Plugin
	logger  *slog.Logger

	beforeDecide        []beforeDecideEntry
	afterDecide         []afterDecideEntry
	policyCreated       []policyCreatedEntry
	policyUpdated       []policyUpdatedEntry
	policyDeleted       []policyDeletedEntry
	upgradeGrantCreated []upgradeGrantCreatedEntry
	upgradeGrantDeleted []upgradeGrantDeletedEntry
	allowancesPruned    []allowancesPrunedEntry
	fingerprintRotated  []fingerprintRotatedEntry
	shutdown            []shutdownEntry
}

// NewRegistry creates a plugin registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds a plugin and type-asserts it into all applicable
// hook caches. Plugins are notified in registration order.
func (r *Registry) Register(p Plugin) {
	r.plugins = append(r.plugins, p)
	name := p.Name()

	if h, ok := p.(BeforeDecide); ok {
		r.beforeDecide = append(r.beforeDecide, beforeDecideEntry{name, h})
	}
	if h, ok := p.(AfterDecide); ok {
		r.afterDecide = append(r.afterDecide, afterDecideEntry{name, h})
	}
	if h, ok := p.(PolicyCreated); ok {
		r.policyCreated = append(r.policyCreated, policyCreatedEntry{name, h})
	}
	if h, ok := p.(PolicyUpdated); ok {
		r.policyUpdated = append(r.policyUpdated, policyUpdatedEntry{name, h})
	}
	if h, ok := p.(PolicyDeleted); ok {
		r.policyDeleted = append(r.policyDeleted, policyDeletedEntry{name, h})
	}
	if h, ok := p.(UpgradeGrantCreated); ok {
		r.upgradeGrantCreated = append(r.upgradeGrantCreated, upgradeGrantCreatedEntry{name, h})
	}
	if h, ok := p.(UpgradeGrantDeleted); ok {
		r.upgradeGrantDeleted = append(r.upgradeGrantDeleted, upgradeGrantDeletedEntry{name, h})
	}
	if h, ok := p.(AllowancesPruned); ok {
		r.allowancesPruned = append(r.allowancesPruned, allowancesPrunedEntry{name, h})
	}
	if h, ok := p.(FingerprintRotated); ok {
		r.fingerprintRotated = append(r.fingerprintRotated, fingerprintRotatedEntry{name, h})
	}
	if h, ok := p.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Plugins returns all registered plugins.
func (r *Registry) Plugins() []Plugin { return r.plugins }

// ──────────────────────────────────────────────────
// Decision event emitters
// ──────────────────────────────────────────────────

// EmitBeforeDecide notifies all plugins that implement BeforeDecide.
func (r *Registry) EmitBeforeDecide(ctx context.Context, req any) {
	for _, e := range r.beforeDecide {
		if err := e.hook.OnBeforeDecide(ctx, req); err != nil {
			r.logHookError("OnBeforeDecide", e.name, err)
		}
	}
}

// EmitAfterDecide notifies all plugins that implement AfterDecide.
func (r *Registry) EmitAfterDecide(ctx context.Context, req, decision any) {
	for _, e := range r.afterDecide {
		if err := e.hook.OnAfterDecide(ctx, req, decision); err != nil {
			r.logHookError("OnAfterDecide", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Policy event emitters
// ──────────────────────────────────────────────────

// EmitPolicyCreated notifies all plugins that implement PolicyCreated.
func (r *Registry) EmitPolicyCreated(ctx context.Context, p *policy.AllowancePolicy) {
	for _, e := range r.policyCreated {
		if err := e.hook.OnPolicyCreated(ctx, p); err != nil {
			r.logHookError("OnPolicyCreated", e.name, err)
		}
	}
}

// EmitPolicyUpdated notifies all plugins that implement PolicyUpdated.
func (r *Registry) EmitPolicyUpdated(ctx context.Context, p *policy.AllowancePolicy) {
	for _, e := range r.policyUpdated {
		if err := e.hook.OnPolicyUpdated(ctx, p); err != nil {
			r.logHookError("OnPolicyUpdated", e.name, err)
		}
	}
}

// EmitPolicyDeleted notifies all plugins that implement PolicyDeleted.
func (r *Registry) EmitPolicyDeleted(ctx context.Context, polID id.PolicyID) {
	for _, e := range r.policyDeleted {
		if err := e.hook.OnPolicyDeleted(ctx, polID); err != nil {
			r.logHookError("OnPolicyDeleted", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Upgrade grant event emitters
// ──────────────────────────────────────────────────

// EmitUpgradeGrantCreated notifies all plugins that implement UpgradeGrantCreated.
func (r *Registry) EmitUpgradeGrantCreated(ctx context.Context, g *upgradegrant.Grant) {
	for _, e := range r.upgradeGrantCreated {
		if err := e.hook.OnUpgradeGrantCreated(ctx, g); err != nil {
			r.logHookError("OnUpgradeGrantCreated", e.name, err)
		}
	}
}

// EmitUpgradeGrantDeleted notifies all plugins that implement UpgradeGrantDeleted.
func (r *Registry) EmitUpgradeGrantDeleted(ctx context.Context, grantID id.UpgradeGrantID) {
	for _, e := range r.upgradeGrantDeleted {
		if err := e.hook.OnUpgradeGrantDeleted(ctx, grantID); err != nil {
			r.logHookError("OnUpgradeGrantDeleted", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Allowance event emitters
// ──────────────────────────────────────────────────

// EmitAllowancesPruned notifies all plugins that implement AllowancesPruned.
func (r *Registry) EmitAllowancesPruned(ctx context.Context, objectKind, objectName string, pruned int) {
	for _, e := range r.allowancesPruned {
		if err := e.hook.OnAllowancesPruned(ctx, objectKind, objectName, pruned); err != nil {
			r.logHookError("OnAllowancesPruned", e.name, err)
		}
	}
}

// EmitFingerprintRotated notifies all plugins that implement FingerprintRotated.
func (r *Registry) EmitFingerprintRotated(ctx context.Context, subject, fingerprint string) {
	for _, e := range r.fingerprintRotated {
		if err := e.hook.OnFingerprintRotated(ctx, subject, fingerprint); err != nil {
			r.logHookError("OnFingerprintRotated", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Shutdown emitter
// ──────────────────────────────────────────────────

// EmitShutdown notifies all plugins that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not block the pipeline.
func (r *Registry) logHookError(hook, pluginName string, err error) {
	r.logger.Warn("plugin hook error",
		slog.String("hook", hook),
		slog.String("plugin", pluginName),
		slog.String("error", err.Error()),
	)
}
