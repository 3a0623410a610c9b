// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateConfig describes one token bucket: sustained refill rate and burst
// capacity. Zero or negative values fall back to 1.
type RateConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

func (c RateConfig) withDefaults() RateConfig {
	if c.PerSecond <= 0 {
		c.PerSecond = 1
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// Limiter is per-destination token-bucket admission control. Buckets are
// created lazily and shared process-wide: two routes targeting the same
// destination draw from one bucket. All access is serialized through the
// internal mutex.
type Limiter struct {
	def       RateConfig
	overrides map[int64]RateConfig

	mu      sync.Mutex
	buckets map[int64]*rate.Limiter
}

// NewLimiter creates a Limiter with a default bucket config and optional
// per-destination overrides.
func NewLimiter(def RateConfig, overrides map[int64]RateConfig) *Limiter {
	return &Limiter{
		def:       def.withDefaults(),
		overrides: overrides,
		buckets:   make(map[int64]*rate.Limiter),
	}
}

func (l *Limiter) bucketFor(destination int64) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket, ok := l.buckets[destination]
	if !ok {
		cfg := l.def
		if override, found := l.overrides[destination]; found {
			cfg = override.withDefaults()
		}
		bucket = rate.NewLimiter(rate.Limit(cfg.PerSecond), cfg.Burst)
		l.buckets[destination] = bucket
	}
	return bucket
}

// Acquire reserves one send token for the destination and returns how long
// the caller must wait before using it. Zero means the send may proceed
// immediately. The reservation is never dropped; callers defer, not skip.
func (l *Limiter) Acquire(destination int64) time.Duration {
	return l.bucketFor(destination).Reserve().Delay()
}

// Wait acquires a token and blocks until it is usable or ctx is done.
func (l *Limiter) Wait(ctx context.Context, destination int64) error {
	delay := l.Acquire(destination)
	if delay <= 0 {
		return nil
	}
	return sleepContext(ctx, delay)
}

// sleepContext sleeps for d unless ctx is cancelled first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
