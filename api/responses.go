package api

import (
	"github.com/sttts/kausality/allowance"
)

// DecideResponse is the response for an admission decision.
type DecideResponse struct {
	Outcome            string        `json:"outcome" description:"Decision outcome (accept/reject)"`
	Reason             string        `json:"reason,omitempty" description:"Human-readable reason"`
	Phase              string        `json:"phase,omitempty" description:"Governing lifecycle phase"`
	Allowances         allowance.Set `json:"allowances,omitempty" description:"Full allowance set to persist on the object"`
	UpdatedFingerprint string        `json:"updated_fingerprint,omitempty" description:"New fingerprint to persist when an upgrade grant engaged"`
	Warnings           []string      `json:"warnings,omitempty" description:"Non-fatal input problems"`
	EvalTimeNs         int64         `json:"eval_time_ns" description:"Evaluation time in nanoseconds"`
}

// ListResponse wraps a list of items with pagination metadata.
type ListResponse[T any] struct {
	Items  []T   `json:"items" description:"List of items"`
	Total  int64 `json:"total" description:"Total count"`
	Limit  int   `json:"limit" description:"Page size"`
	Offset int   `json:"offset" description:"Page offset"`
}
