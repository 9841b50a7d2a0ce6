package sqlite

import (
	"encoding/json"
	"fmt"
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
	ID              string    `grove:"id,pk"`
	ClusterID       string    `grove:"cluster_id,notnull"`
	ForGroup        string    `grove:"for_group"`
	ForKind         string    `grove:"for_kind,notnull"`
	Subjects        string    `grove:"subjects"`     // JSON text
	Initializing    string    `grove:"initializing"` // JSON text
	Deleting        string    `grove:"deleting"`     // JSON text
	Rules           string    `grove:"rules"`        // JSON text
	Metadata        string    `grove:"metadata"`     // JSON text
	CreatedAt       time.Time `grove:"created_at,notnull"`
	UpdatedAt       time.Time `grove:"updated_at,notnull"`
}

func policyToModel(p *policy.AllowancePolicy) (*policyModel, error) {
	subjects, err := json.Marshal(p.Subjects)
	if err != nil {
		return nil, fmt.Errorf("marshal policy subjects: %w", err)
	}
	initializing, err := json.Marshal(p.Initializing)
	if err != nil {
		return nil, fmt.Errorf("marshal policy initializing: %w", err)
	}
	deleting, err := json.Marshal(p.Deleting)
	if err != nil {
		return nil, fmt.Errorf("marshal policy deleting: %w", err)
	}
	rules, err := json.Marshal(p.Rules)
	if err != nil {
		return nil, fmt.Errorf("marshal policy rules: %w", err)
	}
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal policy metadata: %w", err)
	}
	return &policyModel{
		ID:           p.ID.String(),
		ClusterID:    p.ClusterID,
		ForGroup:     p.ForKind.APIGroup,
		ForKind:      p.ForKind.Kind,
		Subjects:     string(subjects),
		Initializing: string(initializing),
		Deleting:     string(deleting),
		Rules:        string(rules),
		Metadata:     string(metadata),
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}, nil
}

func policyFromModel(m *policyModel) (*policy.AllowancePolicy, error) {
	pid, _ := id.ParsePolicyID(m.ID) //nolint:errcheck // stored IDs are always valid

	var subjects []policy.SubjectMatch
	if m.Subjects != "" {
		if err := json.Unmarshal([]byte(m.Subjects), &subjects); err != nil {
			return nil, fmt.Errorf("unmarshal policy subjects: %w", err)
		}
	}
	var initializing policy.Initializing
	if m.Initializing != "" {
		if err := json.Unmarshal([]byte(m.Initializing), &initializing); err != nil {
			return nil, fmt.Errorf("unmarshal policy initializing: %w", err)
		}
	}
	var deleting policy.Deleting
	if m.Deleting != "" {
		if err := json.Unmarshal([]byte(m.Deleting), &deleting); err != nil {
			return nil, fmt.Errorf("unmarshal policy deleting: %w", err)
		}
	}
	var rules []policy.Rule
	if m.Rules != "" {
		if err := json.Unmarshal([]byte(m.Rules), &rules); err != nil {
			return nil, fmt.Errorf("unmarshal policy rules: %w", err)
		}
	}
	var metadata map[string]any
	if m.Metadata != "" {
		if err := json.Unmarshal([]byte(m.Metadata), &metadata); err != nil {
			return nil, fmt.Errorf("unmarshal policy metadata: %w", err)
		}
	}
	return &policy.AllowancePolicy{
		ID:           pid,
		ClusterID:    m.ClusterID,
		ForKind:      policy.TargetRef{APIGroup: m.ForGroup, Kind: m.ForKind},
		Subjects:     subjects,
		Initializing: initializing,
		Deleting:     deleting,
		Rules:        rules,
		Metadata:     metadata,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}, nil
}

// ──────────────────────────────────────────────────
// Upgrade grant model
// ──────────────────────────────────────────────────

type upgradeGrantModel struct {
	grove.BaseModel `grove:"table:kausality_upgrade_grants"`
	ID              string    `grove:"id,pk"`
	ClusterID       string    `grove:"cluster_id,notnull"`
	Subject         string    `grove:"subject,notnull"`
	Policies        string    `grove:"policies"` // JSON text
	Metadata        string    `grove:"metadata"` // JSON text
	CreatedAt       time.Time `grove:"created_at,notnull"`
	UpdatedAt       time.Time `grove:"updated_at,notnull"`
}

func upgradeGrantToModel(g *upgradegrant.Grant) (*upgradeGrantModel, error) {
	policies, err := json.Marshal(g.Policies)
	if err != nil {
		return nil, fmt.Errorf("marshal upgrade grant policies: %w", err)
	}
	metadata, err := json.Marshal(g.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal upgrade grant metadata: %w", err)
	}
	return &upgradeGrantModel{
		ID:        g.ID.String(),
		ClusterID: g.ClusterID,
		Subject:   g.Subject,
		Policies:  string(policies),
		Metadata:  string(metadata),
		CreatedAt: g.CreatedAt,
		UpdatedAt: g.UpdatedAt,
	}, nil
}

func upgradeGrantFromModel(m *upgradeGrantModel) (*upgradegrant.Grant, error) {
	gid, _ := id.ParseUpgradeGrantID(m.ID) //nolint:errcheck // stored IDs are always valid

	var policies []policy.Entry
	if m.Policies != "" {
		if err := json.Unmarshal([]byte(m.Policies), &policies); err != nil {
			return nil, fmt.Errorf("unmarshal upgrade grant policies: %w", err)
		}
	}
	var metadata map[string]any
	if m.Metadata != "" {
		if err := json.Unmarshal([]byte(m.Metadata), &metadata); err != nil {
			return nil, fmt.Errorf("unmarshal upgrade grant metadata: %w", err)
		}
	}
	return &upgradegrant.Grant{
		ID:        gid,
		ClusterID: m.ClusterID,
		Subject:   m.Subject,
		Policies:  policies,
		Metadata:  metadata,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

// ──────────────────────────────────────────────────
// Decision log model
// ──────────────────────────────────────────────────

type decisionLogModel struct {
	grove.BaseModel `grove:"table:kausality_decision_logs"`
	ID              string    `grove:"id,pk"`
	ClusterID       string    `grove:"cluster_id,notnull"`
	SubjectKind     string    `grove:"subject_kind,notnull"`
	SubjectName     string    `grove:"subject_name,notnull"`
	ObjectKind      string    `grove:"object_kind,notnull"`
	ObjectName      string    `grove:"object_name,notnull"`
	Namespace       string    `grove:"namespace"`
	Generation      int64     `grove:"generation,notnull"`
	Phase           string    `grove:"phase"`
	Outcome         string    `grove:"outcome,notnull"`
	Reason          string    `grove:"reason"`
	Allowances      int       `grove:"allowances,notnull"`
	EvalTimeNs      int64     `grove:"eval_time_ns,notnull"`
	Metadata        string    `grove:"metadata"` // JSON text
	CreatedAt       time.Time `grove:"created_at,notnull"`
}

func decisionLogToModel(e *decisionlog.Entry) (*decisionLogModel, error) {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal decision log metadata: %w", err)
	}
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
		Metadata:    string(metadata),
		CreatedAt:   e.CreatedAt,
	}, nil
}

func decisionLogFromModel(m *decisionLogModel) (*decisionlog.Entry, error) {
	dlid, _ := id.ParseDecisionLogID(m.ID) //nolint:errcheck // stored IDs are always valid
	var metadata map[string]any
	if m.Metadata != "" {
		if err := json.Unmarshal([]byte(m.Metadata), &metadata); err != nil {
			return nil, fmt.Errorf("unmarshal decision log metadata: %w", err)
		}
	}
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
		Metadata:    metadata,
		CreatedAt:   m.CreatedAt,
	}, nil
}
