package kausality

import "time"

// Config holds configuration for the Kausality engine.
type Config struct {
	// MaxAncestryDepth is the maximum depth for the ownership walk when
	// resolving the governing parent. Defaults to 10.
	MaxAncestryDepth int `json:"max_ancestry_depth,omitempty"`

	// CacheTTL is the time-to-live for cached decisions.
	// Zero means no caching.
	CacheTTL time.Duration `json:"cache_ttl,omitempty"`

	// EnableUpgradeGrants enables fingerprint-driven upgrade matching.
	// Defaults to true.
	EnableUpgradeGrants *bool `json:"enable_upgrade_grants,omitempty"`

	// EnablePruning enables removal of consumed allowances on every decision.
	// Defaults to true.
	EnablePruning *bool `json:"enable_pruning,omitempty"`

	// EnableDecisionLog enables audit logging of decisions to the store.
	// Defaults to false.
	EnableDecisionLog *bool `json:"enable_decision_log,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	t := true
	return Config{
		MaxAncestryDepth:    10,
		EnableUpgradeGrants: &t,
		EnablePruning:       &t,
	}
}

func (c Config) upgradeGrantsEnabled() bool { return c.EnableUpgradeGrants == nil || *c.EnableUpgradeGrants }
func (c Config) pruningEnabled() bool       { return c.EnablePruning == nil || *c.EnablePruning }
func (c Config) decisionLogEnabled() bool   { return c.EnableDecisionLog != nil && *c.EnableDecisionLog }
