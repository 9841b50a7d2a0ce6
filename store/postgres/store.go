// Package postgres provides a PostgreSQL implementation of the kausality
// composite store using grove ORM with Go-based migrations.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/sttts/kausality/decisionlog"
	"github.com/sttts/kausality/id"
	"github.com/sttts/kausality/policy"
	"github.com/sttts/kausality/store"
	"github.com/sttts/kausality/upgradegrant"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is a PostgreSQL implementation of the composite kausality store.
type Store struct {
	db   *grove.DB
	pgdb *pgdriver.PgDB
}

// New creates a new PostgreSQL store.
func New(db *grove.DB) *Store {
	return &Store{
		db:   db,
		pgdb: pgdriver.Unwrap(db),
	}
}

// Migrate runs programmatic migrations via the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pgdb)
	if err != nil {
		return fmt.Errorf("kausality: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("kausality: migration failed: %w", err)
	}
	return nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ──────────────────────────────────────────────────
// Policy operations
// ──────────────────────────────────────────────────

func (s *Store) CreatePolicy(ctx context.Context, p *policy.AllowancePolicy) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	m := policyToModel(p)
	_, err := s.pgdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("kausality: create policy: %w", err)
	}
	return nil
}

func (s *Store) GetPolicy(ctx context.Context, polID id.PolicyID) (*policy.AllowancePolicy, error) {
	m := new(policyModel)
	err := s.pgdb.NewSelect(m).Where("id = ?", polID.String()).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("policy %s: %w", polID, policy.ErrNotFound)
		}
		return nil, fmt.Errorf("kausality: get policy: %w", err)
	}
	return policyFromModel(m), nil
}

func (s *Store) GetPolicyForKind(ctx context.Context, clusterID string, forKind policy.TargetRef) (*policy.AllowancePolicy, error) {
	m := new(policyModel)
	err := s.pgdb.NewSelect(m).
		Where("cluster_id = ?", clusterID).
		Where("for_group = ?", forKind.APIGroup).
		Where("for_kind = ?", forKind.Kind).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("policy for kind %q: %w", forKind.Key(), policy.ErrNotFound)
		}
		return nil, fmt.Errorf("kausality: get policy for kind: %w", err)
	}
	return policyFromModel(m), nil
}

func (s *Store) UpdatePolicy(ctx context.Context, p *policy.AllowancePolicy) error {
	p.UpdatedAt = time.Now().UTC()
	m := policyToModel(p)
	_, err := s.pgdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("kausality: update policy: %w", err)
	}
	return nil
}

func (s *Store) DeletePolicy(ctx context.Context, polID id.PolicyID) error {
	_, err := s.pgdb.NewDelete((*policyModel)(nil)).
		Where("id = ?", polID.String()).Exec(ctx)
	if err != nil {
		return fmt.Errorf("kausality: delete policy: %w", err)
	}
	return nil
}

func (s *Store) ListPolicies(ctx context.Context, filter *policy.ListFilter) ([]*policy.AllowancePolicy, error) {
	var models []policyModel
	q := s.pgdb.NewSelect(&models).OrderExpr("created_at ASC")
	if filter != nil {
		if filter.ClusterID != "" {
			q = q.Where("cluster_id = ?", filter.ClusterID)
		}
		if filter.Kind != "" {
			q = q.Where("for_kind = ?", filter.Kind)
		}
		if filter.Search != "" {
			q = q.Where("LOWER(for_kind) LIKE LOWER(?)", "%"+filter.Search+"%")
		}
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			q = q.Offset(filter.Offset)
		}
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("kausality: list policies: %w", err)
	}
	result := make([]*policy.AllowancePolicy, len(models))
	for i := range models {
		result[i] = policyFromModel(&models[i])
	}
	return result, nil
}

func (s *Store) CountPolicies(ctx context.Context, filter *policy.ListFilter) (int64, error) {
	q := s.pgdb.NewSelect((*policyModel)(nil))
	if filter != nil {
		if filter.ClusterID != "" {
			q = q.Where("cluster_id = ?", filter.ClusterID)
		}
		if filter.Kind != "" {
			q = q.Where("for_kind = ?", filter.Kind)
		}
		if filter.Search != "" {
			q = q.Where("LOWER(for_kind) LIKE LOWER(?)", "%"+filter.Search+"%")
		}
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("kausality: count policies: %w", err)
	}
	return count, nil
}

func (s *Store) DeletePoliciesByCluster(ctx context.Context, clusterID string) error {
	_, err := s.pgdb.NewDelete((*policyModel)(nil)).
		Where("cluster_id = ?", clusterID).Exec(ctx)
	if err != nil {
		return fmt.Errorf("kausality: delete policies by cluster: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Upgrade grant operations
// ──────────────────────────────────────────────────

func (s *Store) CreateUpgradeGrant(ctx context.Context, g *upgradegrant.Grant) error {
	now := time.Now().UTC()
	g.CreatedAt = now
	g.UpdatedAt = now
	m := upgradeGrantToModel(g)
	_, err := s.pgdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("kausality: create upgrade grant: %w", err)
	}
	return nil
}

func (s *Store) GetUpgradeGrant(ctx context.Context, grantID id.UpgradeGrantID) (*upgradegrant.Grant, error) {
	m := new(upgradeGrantModel)
	err := s.pgdb.NewSelect(m).Where("id = ?", grantID.String()).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("upgrade grant %s: %w", grantID, upgradegrant.ErrNotFound)
		}
		return nil, fmt.Errorf("kausality: get upgrade grant: %w", err)
	}
	return upgradeGrantFromModel(m), nil
}

func (s *Store) GetUpgradeGrantForSubject(ctx context.Context, clusterID, subject string) (*upgradegrant.Grant, error) {
	m := new(upgradeGrantModel)
	err := s.pgdb.NewSelect(m).
		Where("cluster_id = ?", clusterID).
		Where("subject = ?", subject).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("upgrade grant for subject %q: %w", subject, upgradegrant.ErrNotFound)
		}
		return nil, fmt.Errorf("kausality: get upgrade grant for subject: %w", err)
	}
	return upgradeGrantFromModel(m), nil
}

func (s *Store) UpdateUpgradeGrant(ctx context.Context, g *upgradegrant.Grant) error {
	g.UpdatedAt = time.Now().UTC()
	m := upgradeGrantToModel(g)
	_, err := s.pgdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("kausality: update upgrade grant: %w", err)
	}
	return nil
}

func (s *Store) DeleteUpgradeGrant(ctx context.Context, grantID id.UpgradeGrantID) error {
	_, err := s.pgdb.NewDelete((*upgradeGrantModel)(nil)).
		Where("id = ?", grantID.String()).Exec(ctx)
	if err != nil {
		return fmt.Errorf("kausality: delete upgrade grant: %w", err)
	}
	return nil
}

func (s *Store) ListUpgradeGrants(ctx context.Context, filter *upgradegrant.ListFilter) ([]*upgradegrant.Grant, error) {
	var models []upgradeGrantModel
	q := s.pgdb.NewSelect(&models).OrderExpr("created_at ASC")
	if filter != nil {
		if filter.ClusterID != "" {
			q = q.Where("cluster_id = ?", filter.ClusterID)
		}
		if filter.Subject != "" {
			q = q.Where("subject = ?", filter.Subject)
		}
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			q = q.Offset(filter.Offset)
		}
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("kausality: list upgrade grants: %w", err)
	}
	result := make([]*upgradegrant.Grant, len(models))
	for i := range models {
		result[i] = upgradeGrantFromModel(&models[i])
	}
	return result, nil
}

func (s *Store) CountUpgradeGrants(ctx context.Context, filter *upgradegrant.ListFilter) (int64, error) {
	q := s.pgdb.NewSelect((*upgradeGrantModel)(nil))
	if filter != nil {
		if filter.ClusterID != "" {
			q = q.Where("cluster_id = ?", filter.ClusterID)
		}
		if filter.Subject != "" {
			q = q.Where("subject = ?", filter.Subject)
		}
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("kausality: count upgrade grants: %w", err)
	}
	return count, nil
}

func (s *Store) DeleteUpgradeGrantsByCluster(ctx context.Context, clusterID string) error {
	_, err := s.pgdb.NewDelete((*upgradeGrantModel)(nil)).
		Where("cluster_id = ?", clusterID).Exec(ctx)
	if err != nil {
		return fmt.Errorf("kausality: delete upgrade grants by cluster: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Decision log operations
// ──────────────────────────────────────────────────

func (s *Store) CreateDecisionLog(ctx context.Context, e *decisionlog.Entry) error {
	e.CreatedAt = time.Now().UTC()
	m := decisionLogToModel(e)
	_, err := s.pgdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("kausality: create decision log: %w", err)
	}
	return nil
}

func (s *Store) GetDecisionLog(ctx context.Context, logID id.DecisionLogID) (*decisionlog.Entry, error) {
	m := new(decisionLogModel)
	err := s.pgdb.NewSelect(m).Where("id = ?", logID.String()).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("decision log %s: %w", logID, decisionlog.ErrNotFound)
		}
		return nil, fmt.Errorf("kausality: get decision log: %w", err)
	}
	return decisionLogFromModel(m), nil
}

func (s *Store) ListDecisionLogs(ctx context.Context, filter *decisionlog.QueryFilter) ([]*decisionlog.Entry, error) {
	var models []decisionLogModel
	q := s.pgdb.NewSelect(&models).OrderExpr("created_at DESC")
	if filter != nil {
		if filter.ClusterID != "" {
			q = q.Where("cluster_id = ?", filter.ClusterID)
		}
		if filter.SubjectKind != "" {
			q = q.Where("subject_kind = ?", filter.SubjectKind)
		}
		if filter.SubjectName != "" {
			q = q.Where("subject_name = ?", filter.SubjectName)
		}
		if filter.ObjectKind != "" {
			q = q.Where("object_kind = ?", filter.ObjectKind)
		}
		if filter.ObjectName != "" {
			q = q.Where("object_name = ?", filter.ObjectName)
		}
		if filter.Outcome != "" {
			q = q.Where("outcome = ?", filter.Outcome)
		}
		if filter.After != nil {
			q = q.Where("created_at >= ?", *filter.After)
		}
		if filter.Before != nil {
			q = q.Where("created_at <= ?", *filter.Before)
		}
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			q = q.Offset(filter.Offset)
		}
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("kausality: list decision logs: %w", err)
	}
	result := make([]*decisionlog.Entry, len(models))
	for i := range models {
		result[i] = decisionLogFromModel(&models[i])
	}
	return result, nil
}

func (s *Store) CountDecisionLogs(ctx context.Context, filter *decisionlog.QueryFilter) (int64, error) {
	q := s.pgdb.NewSelect((*decisionLogModel)(nil))
	if filter != nil {
		if filter.ClusterID != "" {
			q = q.Where("cluster_id = ?", filter.ClusterID)
		}
		if filter.SubjectKind != "" {
			q = q.Where("subject_kind = ?", filter.SubjectKind)
		}
		if filter.SubjectName != "" {
			q = q.Where("subject_name = ?", filter.SubjectName)
		}
		if filter.ObjectKind != "" {
			q = q.Where("object_kind = ?", filter.ObjectKind)
		}
		if filter.ObjectName != "" {
			q = q.Where("object_name = ?", filter.ObjectName)
		}
		if filter.Outcome != "" {
			q = q.Where("outcome = ?", filter.Outcome)
		}
		if filter.After != nil {
			q = q.Where("created_at >= ?", *filter.After)
		}
		if filter.Before != nil {
			q = q.Where("created_at <= ?", *filter.Before)
		}
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("kausality: count decision logs: %w", err)
	}
	return count, nil
}

func (s *Store) PurgeDecisionLogs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.pgdb.NewDelete((*decisionLogModel)(nil)).
		Where("created_at < ?", before).Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("kausality: purge decision logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("kausality: purge decision logs: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteDecisionLogsByCluster(ctx context.Context, clusterID string) error {
	_, err := s.pgdb.NewDelete((*decisionLogModel)(nil)).
		Where("cluster_id = ?", clusterID).Exec(ctx)
	if err != nil {
		return fmt.Errorf("kausality: delete decision logs by cluster: %w", err)
	}
	return nil
}
