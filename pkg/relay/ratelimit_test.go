// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_BurstThenDelay(t *testing.T) {
	t.Parallel()
	limiter := NewLimiter(RateConfig{PerSecond: 1, Burst: 2}, nil)

	// The first two sends fit in the burst.
	if d := limiter.Acquire(1); d > 0 {
		t.Errorf("first acquire should be immediate, got delay %s", d)
	}
	if d := limiter.Acquire(1); d > 0 {
		t.Errorf("second acquire should be immediate, got delay %s", d)
	}
	// The third must wait for a refill.
	if d := limiter.Acquire(1); d <= 0 {
		t.Error("third acquire should be delayed past the burst")
	}
}

func TestLimiter_DestinationsAreIndependent(t *testing.T) {
	t.Parallel()
	limiter := NewLimiter(RateConfig{PerSecond: 1, Burst: 1}, nil)

	if d := limiter.Acquire(1); d > 0 {
		t.Errorf("destination 1 first acquire delayed: %s", d)
	}
	if d := limiter.Acquire(2); d > 0 {
		t.Errorf("destination 2 should have its own bucket, got delay %s", d)
	}
	if d := limiter.Acquire(1); d <= 0 {
		t.Error("destination 1 second acquire should be delayed")
	}
}

func TestLimiter_Overrides(t *testing.T) {
	t.Parallel()
	limiter := NewLimiter(
		RateConfig{PerSecond: 1, Burst: 1},
		map[int64]RateConfig{42: {PerSecond: 100, Burst: 10}},
	)

	for i := 0; i < 10; i++ {
		if d := limiter.Acquire(42); d > 0 {
			t.Fatalf("acquire %d on overridden destination delayed: %s", i, d)
		}
	}
	limiter.Acquire(7)
	if d := limiter.Acquire(7); d <= 0 {
		t.Error("default bucket should throttle after one send")
	}
}

func TestLimiter_DefaultsApplied(t *testing.T) {
	t.Parallel()
	// Zero config falls back to 1/s with burst 1 instead of blocking forever.
	limiter := NewLimiter(RateConfig{}, nil)
	if d := limiter.Acquire(1); d > 0 {
		t.Errorf("first acquire under defaults delayed: %s", d)
	}
	if d := limiter.Acquire(1); d <= 0 || d > 2*time.Second {
		t.Errorf("second acquire should wait about a second, got %s", d)
	}
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	t.Parallel()
	limiter := NewLimiter(RateConfig{PerSecond: 0.001, Burst: 1}, nil)
	limiter.Acquire(1) // drain the burst

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- limiter.Wait(ctx, 1)
	}()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Wait should return the context error after cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after context cancel")
	}
}
