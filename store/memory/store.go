// Package memory provides an in-memory implementation of the Kausality
// composite store. It is intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sttts/kausality/decisionlog"
	"github.com/sttts/kausality/id"
	"github.com/sttts/kausality/policy"
	"github.com/sttts/kausality/upgradegrant"
)

// Compile-time interface checks.
var (
	_ policy.Store       = (*Store)(nil)
	_ upgradegrant.Store = (*Store)(nil)
	_ decisionlog.Store  = (*Store)(nil)
)

// Store is a thread-safe in-memory store for all Kausality entities.
type Store struct {
	mu sync.RWMutex

	policies     map[string]*policy.AllowancePolicy
	grants       map[string]*upgradegrant.Grant
	decisionLogs map[string]*decisionlog.Entry
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		policies:     make(map[string]*policy.AllowancePolicy),
		grants:       make(map[string]*upgradegrant.Grant),
		decisionLogs: make(map[string]*decisionlog.Entry),
	}
}

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping is a no-op for the memory store.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Policy Store
// ──────────────────────────────────────────────────

func (s *Store) CreatePolicy(_ context.Context, p *policy.AllowancePolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.ID.String()] = copyPolicy(p)
	return nil
}

func (s *Store) GetPolicy(_ context.Context, polID id.PolicyID) (*policy.AllowancePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[polID.String()]
	if !ok {
		return nil, fmt.Errorf("policy %s: %w", polID, policy.ErrNotFound)
	}
	return copyPolicy(p), nil
}

func (s *Store) GetPolicyForKind(_ context.Context, clusterID string, forKind policy.TargetRef) (*policy.AllowancePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.policies {
		if p.ClusterID == clusterID && p.ForKind.Key() == forKind.Key() {
			return copyPolicy(p), nil
		}
	}
	return nil, fmt.Errorf("policy for kind %q: %w", forKind.Key(), policy.ErrNotFound)
}

func (s *Store) UpdatePolicy(_ context.Context, p *policy.AllowancePolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[p.ID.String()]; !ok {
		return fmt.Errorf("policy %s: %w", p.ID, policy.ErrNotFound)
	}
	s.policies[p.ID.String()] = copyPolicy(p)
	return nil
}

func (s *Store) DeletePolicy(_ context.Context, polID id.PolicyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.policies, polID.String())
	return nil
}

func (s *Store) ListPolicies(_ context.Context, filter *policy.ListFilter) ([]*policy.AllowancePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*policy.AllowancePolicy, 0, len(s.policies))
	for _, p := range s.policies {
		if filter != nil {
			if filter.ClusterID != "" && p.ClusterID != filter.ClusterID {
				continue
			}
			if filter.Kind != "" && p.ForKind.Kind != filter.Kind {
				continue
			}
			if filter.Search != "" && !strings.Contains(strings.ToLower(p.ForKind.Key()), strings.ToLower(filter.Search)) {
				continue
			}
		}
		result = append(result, copyPolicy(p))
	}
	return applyPagination(result, paginationOptsPol(filter)), nil
}

func (s *Store) CountPolicies(ctx context.Context, filter *policy.ListFilter) (int64, error) {
	list, err := s.ListPolicies(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(list)), nil
}

func (s *Store) DeletePoliciesByCluster(_ context.Context, clusterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, p := range s.policies {
		if p.ClusterID == clusterID {
			delete(s.policies, k)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Upgrade Grant Store
// ──────────────────────────────────────────────────

func (s *Store) CreateUpgradeGrant(_ context.Context, g *upgradegrant.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[g.ID.String()] = copyGrant(g)
	return nil
}

func (s *Store) GetUpgradeGrant(_ context.Context, grantID id.UpgradeGrantID) (*upgradegrant.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[grantID.String()]
	if !ok {
		return nil, fmt.Errorf("upgrade grant %s: %w", grantID, upgradegrant.ErrNotFound)
	}
	return copyGrant(g), nil
}

func (s *Store) GetUpgradeGrantForSubject(_ context.Context, clusterID, subject string) (*upgradegrant.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.grants {
		if g.ClusterID == clusterID && g.Subject == subject {
			return copyGrant(g), nil
		}
	}
	return nil, fmt.Errorf("upgrade grant for subject %q: %w", subject, upgradegrant.ErrNotFound)
}

func (s *Store) UpdateUpgradeGrant(_ context.Context, g *upgradegrant.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[g.ID.String()]; !ok {
		return fmt.Errorf("upgrade grant %s: %w", g.ID, upgradegrant.ErrNotFound)
	}
	s.grants[g.ID.String()] = copyGrant(g)
	return nil
}

func (s *Store) DeleteUpgradeGrant(_ context.Context, grantID id.UpgradeGrantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, grantID.String())
	return nil
}

func (s *Store) ListUpgradeGrants(_ context.Context, filter *upgradegrant.ListFilter) ([]*upgradegrant.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*upgradegrant.Grant, 0, len(s.grants))
	for _, g := range s.grants {
		if filter != nil {
			if filter.ClusterID != "" && g.ClusterID != filter.ClusterID {
				continue
			}
			if filter.Subject != "" && g.Subject != filter.Subject {
				continue
			}
		}
		result = append(result, copyGrant(g))
	}
	return applyPagination(result, paginationOptsGrant(filter)), nil
}

func (s *Store) CountUpgradeGrants(ctx context.Context, filter *upgradegrant.ListFilter) (int64, error) {
	list, err := s.ListUpgradeGrants(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(list)), nil
}

func (s *Store) DeleteUpgradeGrantsByCluster(_ context.Context, clusterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, g := range s.grants {
		if g.ClusterID == clusterID {
			delete(s.grants, k)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Decision Log Store
// ──────────────────────────────────────────────────

func (s *Store) CreateDecisionLog(_ context.Context, e *decisionlog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisionLogs[e.ID.String()] = copyDecisionLog(e)
	return nil
}

func (s *Store) GetDecisionLog(_ context.Context, logID id.DecisionLogID) (*decisionlog.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.decisionLogs[logID.String()]
	if !ok {
		return nil, fmt.Errorf("decision log %s: %w", logID, decisionlog.ErrNotFound)
	}
	return copyDecisionLog(e), nil
}

func (s *Store) ListDecisionLogs(_ context.Context, filter *decisionlog.QueryFilter) ([]*decisionlog.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*decisionlog.Entry, 0, len(s.decisionLogs))
	for _, e := range s.decisionLogs {
		if filter != nil {
			if filter.ClusterID != "" && e.ClusterID != filter.ClusterID {
				continue
			}
			if filter.SubjectKind != "" && e.SubjectKind != filter.SubjectKind {
				continue
			}
			if filter.SubjectName != "" && e.SubjectName != filter.SubjectName {
				continue
			}
			if filter.ObjectKind != "" && e.ObjectKind != filter.ObjectKind {
				continue
			}
			if filter.ObjectName != "" && e.ObjectName != filter.ObjectName {
				continue
			}
			if filter.Outcome != "" && e.Outcome != filter.Outcome {
				continue
			}
			if filter.After != nil && e.CreatedAt.Before(*filter.After) {
				continue
			}
			if filter.Before != nil && e.CreatedAt.After(*filter.Before) {
				continue
			}
		}
		result = append(result, copyDecisionLog(e))
	}
	return applyPagination(result, paginationOptsLog(filter)), nil
}

func (s *Store) CountDecisionLogs(ctx context.Context, filter *decisionlog.QueryFilter) (int64, error) {
	list, err := s.ListDecisionLogs(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(list)), nil
}

func (s *Store) PurgeDecisionLogs(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for k, e := range s.decisionLogs {
		if e.CreatedAt.Before(before) {
			delete(s.decisionLogs, k)
			count++
		}
	}
	return count, nil
}

func (s *Store) DeleteDecisionLogsByCluster(_ context.Context, clusterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.decisionLogs {
		if e.ClusterID == clusterID {
			delete(s.decisionLogs, k)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func copyPolicy(p *policy.AllowancePolicy) *policy.AllowancePolicy {
	c := *p
	if p.Subjects != nil {
		c.Subjects = make([]policy.SubjectMatch, len(p.Subjects))
		copy(c.Subjects, p.Subjects)
	}
	if p.Initializing.Policies != nil {
		c.Initializing.Policies = make([]policy.Entry, len(p.Initializing.Policies))
		copy(c.Initializing.Policies, p.Initializing.Policies)
	}
	if p.Deleting.Policies != nil {
		c.Deleting.Policies = make([]policy.Entry, len(p.Deleting.Policies))
		copy(c.Deleting.Policies, p.Deleting.Policies)
	}
	if p.Rules != nil {
		c.Rules = make([]policy.Rule, len(p.Rules))
		copy(c.Rules, p.Rules)
	}
	return &c
}

func copyGrant(g *upgradegrant.Grant) *upgradegrant.Grant {
	c := *g
	if g.Policies != nil {
		c.Policies = make([]policy.Entry, len(g.Policies))
		copy(c.Policies, g.Policies)
	}
	return &c
}

func copyDecisionLog(e *decisionlog.Entry) *decisionlog.Entry {
	c := *e
	return &c
}

// Pagination helpers for each entity type.
type pagOpts struct{ limit, offset int }

func applyPagination[T any](items []*T, p pagOpts) []*T {
	if p.offset > 0 {
		if p.offset >= len(items) {
			return nil
		}
		items = items[p.offset:]
	}
	if p.limit > 0 && p.limit < len(items) {
		items = items[:p.limit]
	}
	return items
}

func paginationOptsPol(f *policy.ListFilter) pagOpts {
	if f == nil {
		return pagOpts{}
	}
	return pagOpts{limit: f.Limit, offset: f.Offset}
}

func paginationOptsGrant(f *upgradegrant.ListFilter) pagOpts {
	if f == nil {
		return pagOpts{}
	}
	return pagOpts{limit: f.Limit, offset: f.Offset}
}

func paginationOptsLog(f *decisionlog.QueryFilter) pagOpts {
	if f == nil {
		return pagOpts{}
	}
	return pagOpts{limit: f.Limit, offset: f.Offset}
}
