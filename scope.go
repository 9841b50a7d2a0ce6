package kausality

import (
	"context"

	"github.com/xraph/forge"
)

type clusterScope struct {
	clusterID string
}

// scopeFromContext extracts the cluster scope from forge.Scope or the
// standalone context. Falls back to the explicit cluster ID if Forge scope
// is not set (standalone mode).
func scopeFromContext(ctx context.Context) clusterScope {
	s, ok := forge.ScopeFrom(ctx)
	if ok {
		return clusterScope{clusterID: s.OrgID()}
	}
	return clusterScope{clusterID: clusterIDFromContext(ctx)}
}
