package postgres

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
	ID              string                `grove:"id,pk"`
	ClusterID       string                `grove:"cluster_id,notnull"`
	ForGroup        string                `grove:"for_group,notnull"`
	ForKind         string                `grove:"for_kind,notnull"`
	Subjects        []policy.SubjectMatch `grove:"subjects,type:jsonb"`
	Initializing    policy.Initializing   `grove:"initializing,type:jsonb"`
	Deleting        policy.Deleting       `grove:"deleting,type:jsonb"`
	Rules           []policy.Rule         `grove:"rules,type:jsonb"`
	Metadata        map[string]any        `grove:"metadata,type:jsonb"`
	CreatedAt       time.Time             `grove:"created_at,notnull"`
	UpdatedAt       time.Time             `grove:"updated_at,notnull"`
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
	ID              string         `grove:"id,pk"`
	ClusterID       string         `grove:"cluster_id,notnull"`
	Subject         string         `grove:"subject,notnull"`
	Policies        []policy.Entry `grove:"policies,type:jsonb"`
	Metadata        map[string]any `grove:"metadata,type:jsonb"`
	CreatedAt       time.Time      `grove:"created_at,notnull"`
	UpdatedAt       time.Time      `grove:"updated_at,notnull"`
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
	ID              string         `grove:"id,pk"`
	ClusterID       string         `grove:"cluster_id,notnull"`
	SubjectKind     string         `grove:"subject_kind,notnull"`
	SubjectName     string         `grove:"subject_name,notnull"`
	ObjectKind      string         `grove:"object_kind,notnull"`
	ObjectName      string         `grove:"object_name,notnull"`
	Namespace       string         `grove:"namespace"`
	Generation      int64          `grove:"generation,notnull"`
	Phase           string         `grove:"phase"`
	Outcome         string         `grove:"outcome,notnull"`
	Reason          string         `grove:"reason"`
	Allowances      int            `grove:"allowances,notnull"`
	EvalTimeNs      int64          `grove:"eval_time_ns,notnull"`
	Metadata        map[string]any `grove:"metadata,type:jsonb"`
	CreatedAt       time.Time      `grove:"created_at,notnull"`
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
