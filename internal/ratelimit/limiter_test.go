package ratelimit

import (
	"context"
	"testing"
)

func TestLocalTokenBucketBackend_AllowAndDeny(t *testing.T) {
	b := NewLocalTokenBucketBackend()
	limiter := New(b, TierConfig{RequestsPerSecond: 1, BurstSize: 2})
	ctx := context.Background()
	key := KeyForPid(7)

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, key)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d should be allowed, burst not yet exhausted", i)
		}
	}

	res, err := limiter.Allow(ctx, key)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if res.Allowed {
		t.Fatal("third request should be denied once burst is exhausted")
	}
}

type failingBackend struct{}

func (failingBackend) CheckRateLimit(ctx context.Context, key string, maxTokens int, refillRate float64, requested int) (bool, int, error) {
	return false, 0, context.DeadlineExceeded
}

func TestFallbackBackend_DegradesOnPrimaryError(t *testing.T) {
	fb := NewFallbackBackend(failingBackend{})
	ctx := context.Background()

	allowed, _, err := fb.CheckRateLimit(ctx, KeyForPid(1), 5, 10, 1)
	if err != nil {
		t.Fatalf("CheckRateLimit should degrade rather than error: %v", err)
	}
	if !allowed {
		t.Fatal("fresh local bucket should allow the first request")
	}
	if !fb.Degraded() {
		t.Fatal("backend should report degraded after primary failure")
	}
}
