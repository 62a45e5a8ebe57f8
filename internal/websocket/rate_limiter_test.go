package websocket

import (
	"testing"
	"time"
)

func TestRateLimiter_ExactLimits(t *testing.T) {
	limiter := NewRateLimiter(100, time.Minute)
	key := "conn-1"

	for i := 0; i < 100; i++ {
		if !limiter.Allow(key) {
			t.Fatalf("Frame %d should be allowed (within 100 limit)", i+1)
		}
	}

	if limiter.Allow(key) {
		t.Error("101st frame should be denied")
	}
	for i := 0; i < 10; i++ {
		if limiter.Allow(key) {
			t.Errorf("Frame after limit should be denied (attempt %d)", i+1)
		}
	}
}

func TestRateLimiter_IndependentKeys(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)

	for _, key := range []string{"a", "b", "c"} {
		for i := 0; i < 3; i++ {
			if !limiter.Allow(key) {
				t.Errorf("Frame %d for %s should be allowed", i+1, key)
			}
		}
		if limiter.Allow(key) {
			t.Errorf("4th frame for %s should be denied", key)
		}
	}
}

func TestRateLimiter_WindowReset(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	limiter.Allow("k")
	limiter.Allow("k")
	if limiter.Allow("k") {
		t.Fatal("Third frame in window should be denied")
	}

	now = now.Add(time.Minute)
	if !limiter.Allow("k") {
		t.Error("New window should allow frames again")
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	limiter := NewRateLimiter(0, time.Minute)
	for i := 0; i < 1000; i++ {
		if !limiter.Allow("k") {
			t.Fatal("Disabled limiter must allow everything")
		}
	}
	if limiter.Len() != 0 {
		t.Errorf("Disabled limiter should not track keys, got %d", limiter.Len())
	}
}

func TestRateLimiter_CleanupAndForget(t *testing.T) {
	limiter := NewRateLimiter(10, time.Minute)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	limiter.Allow("stale")
	limiter.Allow("gone")
	limiter.Forget("gone")

	now = now.Add(6 * time.Minute)
	limiter.Allow("fresh")
	limiter.Cleanup()

	if limiter.Len() != 1 {
		t.Errorf("Expected only the fresh key to remain, got %d keys", limiter.Len())
	}
}
