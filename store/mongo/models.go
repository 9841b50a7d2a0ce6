package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/sttts/kausality/decisionlog"
	"github.com/sttts/kausality/id"
	"github.com/sttts/kausality/policy"
	"github.com/sttts/kausality/upgradegrant"
)

// ──────────────────────────────────────────────────
// Allowance policy model
// ──────────────────────────────────────────────────

type policyModel struct {
	grove.BaseModel `grove:"table:kausality_policies"`
	ID              string                `grove:"id,pk"        bson:"_id"`
	ClusterID       string                `grove:"cluster_id"   bson:"cluster_id"`
	ForGroup        string                `grove:"for_group"    bson:"for_group"`
	ForKind         string                `grove:"for_kind"     bson:"for_kind"`
	Subjects        []policy.SubjectMatch `grove:"subjects"     bson:"subjects,omitempty"`
	Initializing    policy.Initializing   `grove:"initializing" bson:"initializing,omitempty"`
	Deleting        policy.Deleting       `grove:"deleting"     bson:"deleting,omitempty"`
	Rules           []policy.Rule         `grove:"rules"        bson:"rules,omitempty"`
	Metadata        map[string]any        `grove:"metadata"     bson:"metadata,omitempty"`
	CreatedAt       time.Time             `grove:"created_at"   bson:"created_at"`
	UpdatedAt       time.Time             `grove:"updated_at"   bson:"updated_at"`
}

func policyToModel(p *policy.AllowancePolicy) *policyModel {
	return &policyModel{
		ID:           p.ID.String(),
		ClusterID:    p.ClusterID,
		ForGroup:     p.ForKind.APIGroup,
		ForKind:      p.ForKind.Kind,
		Subjects:     p.Subjects,
		Initializing: p.Initializing,
		Deleting:     p.Deleting,
		Rules:        p.Rules,
		Metadata:     p.Metadata,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func policyFromModel(m *policyModel) *policy.AllowancePolicy {
	pid, _ := id.ParsePolicyID(m.ID) //nolint:errcheck // stored IDs are always valid
	return &policy.AllowancePolicy{
		ID:           pid,
		ClusterID:    m.ClusterID,
		ForKind:      policy.TargetRef{APIGroup: m.ForGroup, Kind: m.ForKind},
		Subjects:     m.Subjects,
		Initializing: m.Initializing,
		Deleting:     m.Deleting,
		Rules:        m.Rules,
		Metadata:     m.Metadata,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// ──────────────────────────────────────────────────
// Upgrade grant model
// ──────────────────────────────────────────────────

type upgradeGrantModel struct {
	grove.BaseModel `grove:"table:kausality_upgrade_grants"`
	ID              string         `grove:"id,pk"      bson:"_id"`
	ClusterID       string         `grove:"cluster_id" bson:"cluster_id"`
	Subject         string         `grove:"subject"    bson:"subject"`
	Policies        []policy.Entry `grove:"policies"   bson:"policies,omitempty"`
	Metadata        map[string]any `grove:"metadata"   bson:"metadata,omitempty"`
	CreatedAt       time.Time      `grove:"created_at" bson:"created_at"`
	UpdatedAt       time.Time      `grove:"updated_at" bson:"updated_at"`
}

func upgradeGrantToModel(g *upgradegrant.Grant) *upgradeGrantModel {
	return &upgradeGrantModel{
		ID:        g.ID.String(),
		ClusterID: g.ClusterID,
		Subject:   g.Subject,
		Policies:  g.Policies,
		Metadata:  g.Metadata,
		CreatedAt: g.CreatedAt,
		UpdatedAt: g.UpdatedAt,
	}
}

func upgradeGrantFromModel(m *upgradeGrantModel) *upgradegrant.Grant {
	gid, _ := id.ParseUpgradeGrantID(m.ID) //nolint:errcheck // stored IDs are always valid
	return &upgradegrant.Grant{
		ID:        gid,
		ClusterID: m.ClusterID,
		Subject:   m.Subject,
		Policies:  m.Policies,
		Metadata:  m.Metadata,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// ──────────────────────────────────────────────────
// Decision log model
// ──────────────────────────────────────────────────

type decisionLogModel struct {
	grove.BaseModel `grove:"table:kausality_decision_logs"`
	ID              string         `grove:"id,pk"        bson:"_id"`
	ClusterID       string         `grove:"cluster_id"   bson:"cluster_id"`
	SubjectKind     string         `grove:"subject_kind" bson:"subject_kind"`
	SubjectName     string         `grove:"subject_name" bson:"subject_name"`
	ObjectKind      string         `grove:"object_kind"  bson:"object_kind"`
	ObjectName      string         `grove:"object_name"  bson:"object_name"`
	Namespace       string         `grove:"namespace"    bson:"namespace,omitempty"`
	Generation      int64          `grove:"generation"   bson:"generation"`
	Phase           string         `grove:"phase"        bson:"phase,omitempty"`
	Outcome         string         `grove:"outcome"      bson:"outcome"`
	Reason          string         `grove:"reason"       bson:"reason,omitempty"`
	Allowances      int            `grove:"allowances"   bson:"allowances"`
	EvalTimeNs      int64          `grove:"eval_time_ns" bson:"eval_time_ns"`
	Metadata        map[string]any `grove:"metadata"     bson:"metadata,omitempty"`
	CreatedAt       time.Time      `grove:"created_at"   bson:"created_at"`
}

func decisionLogToModel(e *decisionlog.Entry) *decisionLogModel {
	return &decisionLogModel{
		ID:          e.ID.String(),
		ClusterID:   e.ClusterID,
		SubjectKind: e.SubjectKind,
		SubjectName: e.SubjectName,
		ObjectKind:  e.ObjectKind,
		ObjectName:  e.ObjectName,
		Namespace:   e.Namespace,
		Generation:  e.Generation,
		Phase:       e.Phase,
		Outcome:     e.Outcome,
		Reason:      e.Reason,
		Allowances:  e.Allowances,
		EvalTimeNs:  e.EvalTimeNs,
		Metadata:    e.Metadata,
		CreatedAt:   e.CreatedAt,
	}
}

func decisionLogFromModel(m *decisionLogModel) *decisionlog.Entry {
	dlid, _ := id.ParseDecisionLogID(m.ID) //nolint:errcheck // stored IDs are always valid
	return &decisionlog.Entry{
		ID:          dlid,
		ClusterID:   m.ClusterID,
		SubjectKind: m.SubjectKind,
		SubjectName: m.SubjectName,
		ObjectKind:  m.ObjectKind,
		ObjectName:  m.ObjectName,
		Namespace:   m.Namespace,
		Generation:  m.Generation,
		Phase:       m.Phase,
		Outcome:     m.Outcome,
		Reason:      m.Reason,
		Allowances:  m.Allowances,
		EvalTimeNs:  m.EvalTimeNs,
		Metadata:    m.Metadata,
		CreatedAt:   m.CreatedAt,
	}
}
