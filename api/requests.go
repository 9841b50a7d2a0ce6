package api

import (
	"github.com/sttts/kausality/policy"
)

// ──────────────────────────────────────────────────
// Decide requests
// ──────────────────────────────────────────────────

// DecideRequest is the request body for an admission decision.
type DecideRequest struct {
	SubjectKind      string `json:"subject_kind" description:"Subject type (User, Group, ServiceAccount)"`
	SubjectName      string `json:"subject_name" description:"Subject name"`
	SubjectNamespace string `json:"subject_namespace,omitempty" description:"Service account namespace"`

	Verb      string         `json:"verb,omitempty" description:"Whole-object verb (Create, Update, Delete); inferred when empty"`
	Object    map[string]any `json:"object" description:"Requested new object state"`
	OldObject map[string]any `json:"old_object,omitempty" description:"Stored object state (absent on create)"`

	Parent              map[string]any `json:"parent,omitempty" description:"Pre-resolved governing parent object"`
	ParentAllowancesRaw string         `json:"parent_allowances_raw,omitempty" description:"Annotation-encoded parent allowance set"`
	ObjectAllowancesRaw string         `json:"object_allowances_raw,omitempty" description:"Annotation-encoded object allowance set"`

	Fingerprint       string `json:"fingerprint,omitempty" description:"Current controller identity fingerprint"`
	StoredFingerprint string `json:"stored_fingerprint,omitempty" description:"Fingerprint recorded at last accepted request"`
}

// ──────────────────────────────────────────────────
// Policy requests
// ──────────────────────────────────────────────────

// CreatePolicyRequest is the body for creating an allowance policy.
type CreatePolicyRequest struct {
	ClusterID    string                `json:"cluster_id,omitempty" description:"Cluster scope"`
	ForKind      policy.TargetRef      `json:"for_kind" description:"Object kind this policy governs"`
	Subjects     []policy.SubjectMatch `json:"subjects,omitempty" description:"Recognized subjects"`
	Initializing policy.Initializing   `json:"initializing,omitempty" description:"Initializing phase configuration"`
	Deleting     policy.Deleting       `json:"deleting,omitempty" description:"Deleting phase configuration"`
	Rules        []policy.Rule         `json:"rules,omitempty" description:"Field-triggered propagation rules"`
	Metadata     map[string]any        `json:"metadata,omitempty" description:"Custom metadata"`
}

// UpdatePolicyRequest is the body for updating a policy.
type UpdatePolicyRequest struct {
	Subjects     []policy.SubjectMatch `json:"subjects,omitempty" description:"Recognized subjects"`
	Initializing *policy.Initializing  `json:"initializing,omitempty" description:"Initializing phase configuration"`
	Deleting     *policy.Deleting      `json:"deleting,omitempty" description:"Deleting phase configuration"`
	Rules        []policy.Rule         `json:"rules,omitempty" description:"Field-triggered propagation rules"`
	Metadata     map[string]any        `json:"metadata,omitempty" description:"Custom metadata"`
}

// GetPolicyRequest is the path parameter for getting a policy.
type GetPolicyRequest struct {
	PolicyID string `path:"policyId" description:"Policy ID"`
}

// ListPoliciesRequest holds query parameters.
type ListPoliciesRequest struct {
	ClusterID string `query:"cluster_id" description:"Filter by cluster"`
	Kind      string `query:"kind" description:"Filter by governed kind"`
	Search    string `query:"search" description:"Search by kind"`
	Limit     int    `query:"limit" description:"Maximum results (default: 50)"`
	Offset    int    `query:"offset" description:"Results to skip"`
}

// ──────────────────────────────────────────────────
// Upgrade grant requests
// ──────────────────────────────────────────────────

// CreateUpgradeGrantRequest is the body for creating an upgrade grant.
type CreateUpgradeGrantRequest struct {
	ClusterID string         `json:"cluster_id,omitempty" description:"Cluster scope"`
	Subject   string         `json:"subject" description:"Service identity the grant applies to"`
	Policies  []policy.Entry `json:"policies" description:"Bound entries substituted while the grant is engaged"`
	Metadata  map[string]any `json:"metadata,omitempty" description:"Custom metadata"`
}

// UpdateUpgradeGrantRequest is the body for updating an upgrade grant.
type UpdateUpgradeGrantRequest struct {
	Policies []policy.Entry `json:"policies,omitempty" description:"Bound entries"`
	Metadata map[string]any `json:"metadata,omitempty" description:"Custom metadata"`
}

// GetUpgradeGrantRequest is the path parameter for getting a grant.
type GetUpgradeGrantRequest struct {
	GrantID string `path:"grantId" description:"Upgrade grant ID"`
}

// ListUpgradeGrantsRequest holds query parameters.
type ListUpgradeGrantsRequest struct {
	ClusterID string `query:"cluster_id" description:"Filter by cluster"`
	Subject   string `query:"subject" description:"Filter by service identity"`
	Limit     int    `query:"limit" description:"Maximum results"`
	Offset    int    `query:"offset" description:"Results to skip"`
}

// ──────────────────────────────────────────────────
// Decision log requests
// ──────────────────────────────────────────────────

// ListDecisionLogsRequest holds query parameters for querying decision logs.
type ListDecisionLogsRequest struct {
	ClusterID   string `query:"cluster_id" description:"Filter by cluster"`
	SubjectKind string `query:"subject_kind" description:"Filter by subject type"`
	SubjectName string `query:"subject_name" description:"Filter by subject name"`
	ObjectKind  string `query:"object_kind" description:"Filter by object kind"`
	ObjectName  string `query:"object_name" description:"Filter by object name"`
	Outcome     string `query:"outcome" description:"Filter by outcome (accept/reject)"`
	After       string `query:"after" description:"After timestamp (RFC3339)"`
	Before      string `query:"before" description:"Before timestamp (RFC3339)"`
	Limit       int    `query:"limit" description:"Maximum results"`
	Offset      int    `query:"offset" description:"Results to skip"`
}

// GetDecisionLogRequest is the path parameter for getting a decision log entry.
type GetDecisionLogRequest struct {
	LogID string `path:"logId" description:"Decision log ID"`
}
