package kausality

import (
	"context"
	"errors"
	"fmt"

	"github.com/sttts/kausality/upgradegrant"
)

// Fingerprinter derives the controller identity fingerprint for a request.
// The default returns the request-supplied fingerprint verbatim; deployments
// with their own identity scheme plug in a derivation here.
type Fingerprinter func(req *Request) string

func defaultFingerprinter(req *Request) string { return req.Fingerprint }

// matchUpgrade detects an identity fingerprint change and looks up an
// upgrade grant for the subject. When one exists, its policy entries
// substitute for the normal upper bound and the new fingerprint is returned
// for the caller to persist on accept. A mismatch without a grant widens
// nothing: normal rules apply. Once the stored fingerprint matches again the
// grant deactivates, so re-running a decision is idempotent per fingerprint.
// A grant-store failure is an error; it never reads as grant absence.
func (e *Engine) matchUpgrade(ctx context.Context, scope clusterScope, req *Request) (*Bound, string, error) {
	if !e.config.upgradeGrantsEnabled() {
		return nil, "", nil
	}

	fp := e.fingerprinter(req)
	if fp == "" || fp == req.StoredFingerprint {
		return nil, "", nil
	}

	g, err := e.store.GetUpgradeGrantForSubject(ctx, scope.clusterID, req.Subject.String())
	if errors.Is(err, upgradegrant.ErrNotFound) {
		e.logger.Debug("fingerprint changed but no upgrade grant for subject",
			"subject", req.Subject.String(), "cluster", scope.clusterID)

		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("kausality: upgrade grant lookup for %s: %w", req.Subject.String(), err)
	}

	e.logger.Info("upgrade grant engaged",
		"subject", req.Subject.String(), "grant", g.ID.String())

	return boundFromEntries(g.Policies), fp, nil
}
