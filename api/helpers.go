package api

import (
	"errors"

	"github.com/xraph/forge"

	"github.com/sttts/kausality"
)

// mapError maps domain errors to Forge HTTP errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return forge.NotFound(err.Error())
	}
	if errors.Is(err, kausality.ErrInvalidPathPattern) || errors.Is(err, kausality.ErrInvalidPredicate) {
		return forge.BadRequest(err.Error())
	}
	if errors.Is(err, kausality.ErrDuplicatePolicy) || errors.Is(err, kausality.ErrMalformedAllowance) {
		return forge.BadRequest(err.Error())
	}
	if errors.Is(err, kausality.ErrAncestryDepthExceeded) {
		return forge.BadRequest(err.Error())
	}
	if errors.Is(err, kausality.ErrDecisionDenied) {
		return forge.Forbidden(err.Error())
	}
	return err
}

// isNotFound matches the not-found sentinels every store backend wraps.
func isNotFound(err error) bool {
	return errors.Is(err, kausality.ErrPolicyNotFound) ||
		errors.Is(err, kausality.ErrUpgradeGrantNotFound) ||
		errors.Is(err, kausality.ErrDecisionLogNotFound)
}

func defaultLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
