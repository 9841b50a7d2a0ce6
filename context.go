package kausality

import "context"

type contextKey int

const ctxKeyClusterID contextKey = iota

// WithCluster returns a context carrying the given cluster ID.
// Use this for standalone mode (without Forge).
func WithCluster(ctx context.Context, clusterID string) context.Context {
	return context.WithValue(ctx, ctxKeyClusterID, clusterID)
}

func clusterIDFromContext(ctx context.Context) string {
	v, ok := ctx.Value(ctxKeyClusterID).(string)
	if !ok {
		return ""
	}
	return v
}
