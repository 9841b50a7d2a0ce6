// Package mongo provides a MongoDB implementation of the kausality
// composite store using grove ORM.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/sttts/kausality/decisionlog"
	"github.com/sttts/kausality/id"
	"github.com/sttts/kausality/policy"
	"github.com/sttts/kausality/store"
	"github.com/sttts/kausality/upgradegrant"
)

// Collection name constants.
const (
	colPolicies      = "kausality_policies"
	colUpgradeGrants = "kausality_upgrade_grants"
	colDecisionLogs  = "kausality_decision_logs"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is a MongoDB implementation of the composite kausality store.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// Migrate creates indexes for all kausality collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()
	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("kausality/mongo: migrate %s indexes: %w", col, err)
		}
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

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all kausality collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colPolicies: {
			{
				Keys:    bson.D{{Key: "cluster_id", Value: 1}, {Key: "for_group", Value: 1}, {Key: "for_kind", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "cluster_id", Value: 1}}},
		},
		colUpgradeGrants: {
			{
				Keys:    bson.D{{Key: "cluster_id", Value: 1}, {Key: "subject", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "cluster_id", Value: 1}}},
		},
		colDecisionLogs: {
			{Keys: bson.D{{Key: "cluster_id", Value: 1}}},
			{Keys: bson.D{{Key: "cluster_id", Value: 1}, {Key: "object_kind", Value: 1}, {Key: "object_name", Value: 1}}},
			{Keys: bson.D{{Key: "cluster_id", Value: 1}, {Key: "outcome", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
	}
}

// ──────────────────────────────────────────────────
// Policy operations
// ──────────────────────────────────────────────────

func (s *Store) CreatePolicy(ctx context.Context, p *policy.AllowancePolicy) error {
	t := now()
	p.CreatedAt = t
	p.UpdatedAt = t
	m := policyToModel(p)
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("kausality: create policy: %w", err)
	}
	return nil
}

func (s *Store) GetPolicy(ctx context.Context, polID id.PolicyID) (*policy.AllowancePolicy, error) {
	var m policyModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": polID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("policy %s: %w", polID, policy.ErrNotFound)
		}
		return nil, fmt.Errorf("kausality: get policy: %w", err)
	}
	return policyFromModel(&m), nil
}

func (s *Store) GetPolicyForKind(ctx context.Context, clusterID string, forKind policy.TargetRef) (*policy.AllowancePolicy, error) {
	var m policyModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"cluster_id": clusterID, "for_group": forKind.APIGroup, "for_kind": forKind.Kind}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("policy for kind %q: %w", forKind.Key(), policy.ErrNotFound)
		}
		return nil, fmt.Errorf("kausality: get policy for kind: %w", err)
	}
	return policyFromModel(&m), nil
}

func (s *Store) UpdatePolicy(ctx context.Context, p *policy.AllowancePolicy) error {
	p.UpdatedAt = now()
	m := policyToModel(p)
	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("kausality: update policy: %w", err)
	}
	return nil
}

func (s *Store) DeletePolicy(ctx context.Context, polID id.PolicyID) error {
	_, err := s.mdb.NewDelete((*policyModel)(nil)).
		Filter(bson.M{"_id": polID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("kausality: delete policy: %w", err)
	}
	return nil
}

func (s *Store) ListPolicies(ctx context.Context, filter *policy.ListFilter) ([]*policy.AllowancePolicy, error) {
	var models []policyModel
	f := bson.M{}
	if filter != nil {
		if filter.ClusterID != "" {
			f["cluster_id"] = filter.ClusterID
		}
		if filter.Kind != "" {
			f["for_kind"] = filter.Kind
		}
		if filter.Search != "" {
			f["for_kind"] = bson.M{"$regex": filter.Search, "$options": "i"}
		}
	}
	q := s.mdb.NewFind(&models).
		Filter(f).
		Sort(bson.D{{Key: "created_at", Value: 1}})
	if filter != nil {
		if filter.Limit > 0 {
			q = q.Limit(int64(filter.Limit))
		}
		if filter.Offset > 0 {
			q = q.Skip(int64(filter.Offset))
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
	f := bson.M{}
	if filter != nil {
		if filter.ClusterID != "" {
			f["cluster_id"] = filter.ClusterID
		}
		if filter.Kind != "" {
			f["for_kind"] = filter.Kind
		}
		if filter.Search != "" {
			f["for_kind"] = bson.M{"$regex": filter.Search, "$options": "i"}
		}
	}
	count, err := s.mdb.NewFind((*policyModel)(nil)).
		Filter(f).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("kausality: count policies: %w", err)
	}
	return count, nil
}

func (s *Store) DeletePoliciesByCluster(ctx context.Context, clusterID string) error {
	_, err := s.mdb.NewDelete((*policyModel)(nil)).
		Many().
		Filter(bson.M{"cluster_id": clusterID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("kausality: delete policies by cluster: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Upgrade grant operations
// ──────────────────────────────────────────────────

func (s *Store) CreateUpgradeGrant(ctx context.Context, g *upgradegrant.Grant) error {
	t := now()
	g.CreatedAt = t
	g.UpdatedAt = t
	m := upgradeGrantToModel(g)
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("kausality: create upgrade grant: %w", err)
	}
	return nil
}

func (s *Store) GetUpgradeGrant(ctx context.Context, grantID id.UpgradeGrantID) (*upgradegrant.Grant, error) {
	var m upgradeGrantModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": grantID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("upgrade grant %s: %w", grantID, upgradegrant.ErrNotFound)
		}
		return nil, fmt.Errorf("kausality: get upgrade grant: %w", err)
	}
	return upgradeGrantFromModel(&m), nil
}

func (s *Store) GetUpgradeGrantForSubject(ctx context.Context, clusterID, subject string) (*upgradegrant.Grant, error) {
	var m upgradeGrantModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"cluster_id": clusterID, "subject": subject}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("upgrade grant for subject %q: %w", subject, upgradegrant.ErrNotFound)
		}
		return nil, fmt.Errorf("kausality: get upgrade grant for subject: %w", err)
	}
	return upgradeGrantFromModel(&m), nil
}

func (s *Store) UpdateUpgradeGrant(ctx context.Context, g *upgradegrant.Grant) error {
	g.UpdatedAt = now()
	m := upgradeGrantToModel(g)
	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("kausality: update upgrade grant: %w", err)
	}
	return nil
}

func (s *Store) DeleteUpgradeGrant(ctx context.Context, grantID id.UpgradeGrantID) error {
	_, err := s.mdb.NewDelete((*upgradeGrantModel)(nil)).
		Filter(bson.M{"_id": grantID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("kausality: delete upgrade grant: %w", err)
	}
	return nil
}

func (s *Store) ListUpgradeGrants(ctx context.Context, filter *upgradegrant.ListFilter) ([]*upgradegrant.Grant, error) {
	var models []upgradeGrantModel
	f := bson.M{}
	if filter != nil {
		if filter.ClusterID != "" {
			f["cluster_id"] = filter.ClusterID
		}
		if filter.Subject != "" {
			f["subject"] = filter.Subject
		}
	}
	q := s.mdb.NewFind(&models).
		Filter(f).
		Sort(bson.D{{Key: "created_at", Value: 1}})
	if filter != nil {
		if filter.Limit > 0 {
			q = q.Limit(int64(filter.Limit))
		}
		if filter.Offset > 0 {
			q = q.Skip(int64(filter.Offset))
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
	f := bson.M{}
	if filter != nil {
		if filter.ClusterID != "" {
			f["cluster_id"] = filter.ClusterID
		}
		if filter.Subject != "" {
			f["subject"] = filter.Subject
		}
	}
	count, err := s.mdb.NewFind((*upgradeGrantModel)(nil)).
		Filter(f).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("kausality: count upgrade grants: %w", err)
	}
	return count, nil
}

func (s *Store) DeleteUpgradeGrantsByCluster(ctx context.Context, clusterID string) error {
	_, err := s.mdb.NewDelete((*upgradeGrantModel)(nil)).
		Many().
		Filter(bson.M{"cluster_id": clusterID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("kausality: delete upgrade grants by cluster: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Decision log operations
// ──────────────────────────────────────────────────

func (s *Store) CreateDecisionLog(ctx context.Context, e *decisionlog.Entry) error {
	e.CreatedAt = now()
	m := decisionLogToModel(e)
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("kausality: create decision log: %w", err)
	}
	return nil
}

func (s *Store) GetDecisionLog(ctx context.Context, logID id.DecisionLogID) (*decisionlog.Entry, error) {
	var m decisionLogModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": logID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("decision log %s: %w", logID, decisionlog.ErrNotFound)
		}
		return nil, fmt.Errorf("kausality: get decision log: %w", err)
	}
	return decisionLogFromModel(&m), nil
}

func decisionLogFilter(filter *decisionlog.QueryFilter) bson.M {
	f := bson.M{}
	if filter == nil {
		return f
	}
	if filter.ClusterID != "" {
		f["cluster_id"] = filter.ClusterID
	}
	if filter.SubjectKind != "" {
		f["subject_kind"] = filter.SubjectKind
	}
	if filter.SubjectName != "" {
		f["subject_name"] = filter.SubjectName
	}
	if filter.ObjectKind != "" {
		f["object_kind"] = filter.ObjectKind
	}
	if filter.ObjectName != "" {
		f["object_name"] = filter.ObjectName
	}
	if filter.Outcome != "" {
		f["outcome"] = filter.Outcome
	}
	if filter.After != nil || filter.Before != nil {
		dateFilter := bson.M{}
		if filter.After != nil {
			dateFilter["$gte"] = *filter.After
		}
		if filter.Before != nil {
			dateFilter["$lte"] = *filter.Before
		}
		f["created_at"] = dateFilter
	}
	return f
}

func (s *Store) ListDecisionLogs(ctx context.Context, filter *decisionlog.QueryFilter) ([]*decisionlog.Entry, error) {
	var models []decisionLogModel
	q := s.mdb.NewFind(&models).
		Filter(decisionLogFilter(filter)).
		Sort(bson.D{{Key: "created_at", Value: -1}})
	if filter != nil {
		if filter.Limit > 0 {
			q = q.Limit(int64(filter.Limit))
		}
		if filter.Offset > 0 {
			q = q.Skip(int64(filter.Offset))
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
	count, err := s.mdb.NewFind((*decisionLogModel)(nil)).
		Filter(decisionLogFilter(filter)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("kausality: count decision logs: %w", err)
	}
	return count, nil
}

func (s *Store) PurgeDecisionLogs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.mdb.NewDelete((*decisionLogModel)(nil)).
		Many().
		Filter(bson.M{"created_at": bson.M{"$lt": before}}).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("kausality: purge decision logs: %w", err)
	}
	return res.DeletedCount(), nil
}

func (s *Store) DeleteDecisionLogsByCluster(ctx context.Context, clusterID string) error {
	_, err := s.mdb.NewDelete((*decisionLogModel)(nil)).
		Many().
		Filter(bson.M{"cluster_id": clusterID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("kausality: delete decision logs by cluster: %w", err)
	}
	return nil
}
