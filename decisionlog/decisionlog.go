// Package decisionlog defines the admission decision audit log Entry entity.
package decisionlog

import (
	"time"

	"github.com/sttts/kausality/id"
)

// Entry is a single admission decision audit record.
type Entry struct {
	ID          id.DecisionLogID `json:"id" db:"id"`
	ClusterID   string           `json:"cluster_id" db:"cluster_id"`
	SubjectKind string           `json:"subject_kind" db:"subject_kind"`
	SubjectName string           `json:"subject_name" db:"subject_name"`
	ObjectKind  string           `json:"object_kind" db:"object_kind"`
	ObjectName  string           `json:"object_name" db:"object_name"`
	Namespace   string           `json:"namespace,omitempty" db:"namespace"`
	Generation  int64            `json:"generation" db:"generation"`
	Phase       string           `json:"phase" db:"phase"`
	Outcome     string           `json:"outcome" db:"outcome"`
	Reason      string           `json:"reason,omitempty" db:"reason"`
	Allowances  int              `json:"allowances" db:"allowances"`
	EvalTimeNs  int64            `json:"eval_time_ns" db:"eval_time_ns"`
	Metadata    map[string]any   `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
}

// QueryFilter contains filters for querying decision logs.
type QueryFilter struct {
	ClusterID   string     `json:"cluster_id,omitempty"`
	SubjectKind string     `json:"subject_kind,omitempty"`
	SubjectName string     `json:"subject_name,omitempty"`
	ObjectKind  string     `json:"object_kind,omitempty"`
	ObjectName  string     `json:"object_name,omitempty"`
	Outcome     string     `json:"outcome,omitempty"`
	After       *time.Time `json:"after,omitempty"`
	Before      *time.Time `json:"before,omitempty"`
	Limit       int        `json:"limit,omitempty"`
	Offset      int        `json:"offset,omitempty"`
}
