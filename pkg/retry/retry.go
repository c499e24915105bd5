// Package retry re-runs idempotent backend calls with exponential backoff.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	cyerrors "github.com/forzax/cycleloop/pkg/errors"
)

// Strategy decides whether and when to try again.
type Strategy interface {
	NextDelay(attempt int) time.Duration
	ShouldRetry(attempt int, err error) bool
}

// Config defines retry configuration
type Config struct {
	MaxAttempts int
	Strategy    Strategy
	// Jitter spreads each delay by up to this fraction in either direction.
	Jitter  float64
	OnRetry func(attempt int, err error)
}

// ExponentialBackoff grows the delay by Multiplier per attempt up to MaxDelay.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func (e ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.InitialDelay) * math.Pow(e.Multiplier, float64(attempt))
	if delay > float64(e.MaxDelay) {
		return e.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry retries transport errors only. Cancellation, malformed
// responses and validation failures are returned immediately.
func (e ExponentialBackoff) ShouldRetry(_ int, err error) bool {
	return cyerrors.Retryable(err) && !cyerrors.IsCancellation(err)
}

// Default suits HTTP backends: three attempts, 250ms doubling to 2s.
func Default() Config {
	return Config{
		MaxAttempts: 3,
		Strategy: ExponentialBackoff{
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
		},
		Jitter: 0.2,
	}
}

// Do runs op until it succeeds, the strategy gives up, attempts run out or
// ctx is done. The last error is returned wrapped.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if cfg.Strategy == nil || !cfg.Strategy.ShouldRetry(attempt, err) || attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := cfg.Strategy.NextDelay(attempt)
		if cfg.Jitter > 0 {
			delay = applyJitter(delay, cfg.Jitter)
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return zero, cyerrors.Wrap(ctx.Err(), cyerrors.ErrCancelled, "retry cancelled")
		}
	}
	if cfg.MaxAttempts > 1 && cfg.Strategy != nil && cfg.Strategy.ShouldRetry(cfg.MaxAttempts-1, lastErr) {
		return zero, fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
	}
	return zero, lastErr
}

func applyJitter(d time.Duration, jitter float64) time.Duration {
	if d <= 0 {
		return d
	}
	spread := float64(d) * jitter
	return time.Duration(float64(d) - spread + rand.Float64()*2*spread)
}
