package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryConfig tunes [Retry]. Zero-value fields are replaced with the
// defaults used for provider calls: 3 attempts, 200ms base delay, factor 2.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt. Each further attempt
	// multiplies the delay by Factor.
	BaseDelay time.Duration

	// Factor is the exponential backoff multiplier.
	Factor float64

	// Jitter is the fraction of the delay randomised in both directions.
	// 0.2 means each wait lands within ±20% of the nominal delay.
	Jitter float64
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 200 * time.Millisecond
	}
	if c.Factor <= 0 {
		c.Factor = 2
	}
	if c.Jitter <= 0 {
		c.Jitter = 0.2
	}
	return c
}

// Permanent wraps err to tell [Retry] that further attempts are pointless.
func Permanent(err error) error {
	return &permanentError{err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Retry runs fn up to cfg.MaxAttempts times with exponential backoff and
// jitter between attempts. It stops early when fn succeeds, when fn returns
// an error wrapped with [Permanent], or when ctx is cancelled. The last error
// from fn is returned.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	cfg = cfg.withDefaults()

	delay := cfg.BaseDelay
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := jittered(delay, cfg.Jitter)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay = time.Duration(float64(delay) * cfg.Factor)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return errors.Join(lastErr, ctx.Err())
		}
	}
	return lastErr
}

// jittered spreads d uniformly across [d*(1-f), d*(1+f)].
func jittered(d time.Duration, f float64) time.Duration {
	spread := float64(d) * f
	return time.Duration(float64(d) - spread + rand.Float64()*2*spread)
}
