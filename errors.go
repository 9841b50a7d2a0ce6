package kausality

import (
	"errors"

	"github.com/sttts/kausality/decisionlog"
	"github.com/sttts/kausality/policy"
	"github.com/sttts/kausality/upgradegrant"
)

var (
	// ErrDecisionDenied is returned by Enforce when a request is rejected.
	ErrDecisionDenied = errors.New("kausality: decision denied")

	// The not-found sentinels are the entity packages' own, re-exported so
	// callers can match store lookup misses without importing each entity
	// package.

	// ErrPolicyNotFound is returned when a policy cannot be found.
	ErrPolicyNotFound = policy.ErrNotFound

	// ErrUpgradeGrantNotFound is returned when an upgrade grant cannot be found.
	ErrUpgradeGrantNotFound = upgradegrant.ErrNotFound

	// ErrDecisionLogNotFound is returned when a decision log entry cannot be found.
	ErrDecisionLogNotFound = decisionlog.ErrNotFound

	// ErrInvalidPredicate is returned when a condition predicate is malformed.
	ErrInvalidPredicate = errors.New("kausality: invalid predicate")

	// ErrInvalidPathPattern is returned when a field path pattern is malformed.
	ErrInvalidPathPattern = errors.New("kausality: invalid path pattern")

	// ErrMalformedAllowance is returned when a stored allowance record cannot be parsed.
	ErrMalformedAllowance = errors.New("kausality: malformed allowance record")

	// ErrAncestryDepthExceeded is returned when the ownership walk exceeds max depth.
	ErrAncestryDepthExceeded = errors.New("kausality: ancestry depth exceeded")

	// ErrDuplicatePolicy is returned when a second policy is created for a kind.
	ErrDuplicatePolicy = errors.New("kausality: policy already exists for kind")
)
