package notifier

import (
	"sync"
	"testing"
	"time"
)

func TestRateLimiterBasic(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxPerWindow: 3, Window: time.Minute, Enabled: true})
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !rl.AllowAt(now) {
			t.Errorf("request %d should be allowed", i+1)
		}
	}
	if rl.AllowAt(now) {
		t.Error("4th request should be denied")
	}
	if dropped := rl.Dropped(); dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
}

func TestRateLimiterRefill(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxPerWindow: 2, Window: time.Minute, Enabled: true})
	now := time.Now()

	rl.AllowAt(now)
	rl.AllowAt(now)
	if rl.AllowAt(now.Add(10 * time.Second)) {
		t.Error("should be denied before a token refills")
	}
	// One token refills every window/max.
	if !rl.AllowAt(now.Add(31 * time.Second)) {
		t.Error("should be allowed after refill")
	}
	if rl.AllowAt(now.Add(32 * time.Second)) {
		t.Error("only one token should have refilled")
	}
	if !rl.AllowAt(now.Add(2 * time.Minute)) {
		t.Error("should be allowed after a full window")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxPerWindow: 1, Window: time.Second, Enabled: false})

	for i := 0; i < 100; i++ {
		if !rl.Allow() {
			t.Errorf("request %d should be allowed when disabled", i+1)
		}
	}
	if dropped := rl.Dropped(); dropped != 0 {
		t.Errorf("dropped = %d, want 0 when disabled", dropped)
	}
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: true})
	stats := rl.Stats()
	if stats.MaxPerWindow != 10 || stats.Window != time.Minute {
		t.Errorf("stats = %+v, want 10 per minute", stats)
	}
	if stats.Available != 10 {
		t.Errorf("available = %d, want 10", stats.Available)
	}
}

func TestRateLimiterConcurrent(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxPerWindow: 50, Window: time.Hour, Enabled: true})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow() {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d, want 50", allowed)
	}
	if dropped := rl.Dropped(); dropped != 50 {
		t.Errorf("dropped = %d, want 50", dropped)
	}
}
