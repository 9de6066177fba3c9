package chat

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsWithinLimit(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Minute)
	defer rl.Close()

	for i := 0; i < 3; i++ {
		if !rl.Allow(1) {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow(1) {
		t.Error("request over the limit should be denied")
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, time.Minute)
	defer rl.Close()

	if !rl.Allow(1) {
		t.Fatal("first request for user 1 should be allowed")
	}
	if !rl.Allow(2) {
		t.Error("user 2 must not be throttled by user 1's traffic")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, 50*time.Millisecond)
	defer rl.Close()

	if !rl.Allow(1) {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow(1) {
		t.Fatal("second request inside the window should be denied")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rl.Allow(1) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("request never allowed after the window passed")
}
