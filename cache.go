package kausality

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Cache provides caching for admission decisions. Decisions are pure
// functions of their inputs, so a cache hit is always safe until a policy or
// upgrade grant changes, at which point the cluster must be invalidated.
type Cache interface {
	// Get returns a cached decision, if available.
	Get(ctx context.Context, clusterID string, req *Request) (*Decision, bool)

	// Set stores a decision in the cache.
	Set(ctx context.Context, clusterID string, req *Request, d *Decision)

	// InvalidateCluster removes all cached decisions for a cluster.
	InvalidateCluster(ctx context.Context, clusterID string)
}

// CacheKey returns a deterministic digest over every decision input. Object
// content marshals with sorted map keys, so equal requests always digest
// equally. An empty key marks the request uncacheable.
func (r *Request) CacheKey() string {
	raw, err := json.Marshal(r)
	if err != nil {
		return ""
	}

	sum := sha256.Sum256(raw)

	return hex.EncodeToString(sum[:])
}
