package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/sttts/kausality"
)

func testRequest(name string) *kausality.Request {
	return &kausality.Request{
		Subject: kausality.Subject{Kind: kausality.SubjectUser, Name: "alice"},
		Object: &unstructured.Unstructured{Object: map[string]any{
			"apiVersion": "apps/v1",
			"kind":       "Deployment",
			"metadata": map[string]any{
				"name":       name,
				"generation": int64(1),
			},
		}},
	}
}

func TestMemoryCacheHitMiss(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(WithTTL(time.Minute))

	req := testRequest("web")
	d := &kausality.Decision{Outcome: kausality.OutcomeAccept}

	// Miss
	_, ok := c.Get(ctx, "c1", req)
	if ok {
		t.Fatal("expected cache miss")
	}

	// Set + Hit
	c.Set(ctx, "c1", req, d)
	got, ok := c.Get(ctx, "c1", req)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if !got.Accepted() {
		t.Fatal("expected accept")
	}
}

func TestMemoryCacheTTLExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(WithTTL(1 * time.Millisecond))

	req := testRequest("web")
	c.Set(ctx, "c1", req, &kausality.Decision{Outcome: kausality.OutcomeAccept})
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get(ctx, "c1", req)
	if ok {
		t.Fatal("expected cache miss after TTL expiry")
	}
}

func TestMemoryCacheInvalidateCluster(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	req1 := testRequest("web")
	req2 := testRequest("api")

	c.Set(ctx, "c1", req1, &kausality.Decision{Outcome: kausality.OutcomeAccept})
	c.Set(ctx, "c1", req2, &kausality.Decision{Outcome: kausality.OutcomeReject})
	c.Set(ctx, "c2", req1, &kausality.Decision{Outcome: kausality.OutcomeAccept})

	c.InvalidateCluster(ctx, "c1")

	if _, ok := c.Get(ctx, "c1", req1); ok {
		t.Fatal("c1 req1 should be invalidated")
	}
	if _, ok := c.Get(ctx, "c1", req2); ok {
		t.Fatal("c1 req2 should be invalidated")
	}
	if _, ok := c.Get(ctx, "c2", req1); !ok {
		t.Fatal("c2 req1 should still be cached")
	}
}

func TestMemoryCacheDistinctRequests(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	req1 := testRequest("web")
	req2 := testRequest("api")

	c.Set(ctx, "c1", req1, &kausality.Decision{Outcome: kausality.OutcomeAccept})

	if _, ok := c.Get(ctx, "c1", req2); ok {
		t.Fatal("different request should not hit")
	}
}

func TestMemoryCacheMaxSize(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(WithMaxSize(2))

	for i := 0; i < 5; i++ {
		req := testRequest(fmt.Sprintf("obj-%d", i))
		c.Set(ctx, "c1", req, &kausality.Decision{Outcome: kausality.OutcomeAccept})
	}

	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()
	if size > 2 {
		t.Fatalf("expected max 2 entries, got %d", size)
	}
}
