// Package retry runs remote operations under an exponential backoff policy.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/mschirtzinger/inksync/internal/types"
)

// Hinter is implemented by errors that carry a server-provided delay,
// such as a Retry-After header on a rate-limit response.
type Hinter interface {
	RetryAfter() time.Duration
}

// Policy describes how many times an operation is attempted and how long
// to wait between attempts.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first one.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the computed and hinted delays.
	MaxDelay time.Duration

	// Multiplier is the exponential backoff multiplier.
	Multiplier float64

	// JitterFactor is the maximum jitter as a fraction of the delay (0.0 to 1.0).
	JitterFactor float64

	// Retryable decides whether an error should be retried.
	// Defaults to errors.Is(err, types.ErrTransient).
	Retryable func(error) bool

	// Logger receives one debug line per retry.
	Logger zerolog.Logger

	sleep func(context.Context, time.Duration) error
}

// DefaultPolicy returns the policy used for remote calls: four attempts,
// starting at half a second and capped at twenty.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  4,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     20 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
		Logger:       zerolog.Nop(),
	}
}

// NoWait returns a copy of p that never sleeps between attempts.
func (p Policy) NoWait() Policy {
	p.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return p
}

// Delay returns the delay before retry number attempt (0-based).
func (p Policy) Delay(attempt int, lastErr error) time.Duration {
	var hint Hinter
	if errors.As(lastErr, &hint) && hint.RetryAfter() > 0 {
		d := hint.RetryAfter()
		if p.MaxDelay > 0 && d > p.MaxDelay {
			d = p.MaxDelay
		}
		return d
	}

	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.JitterFactor > 0 {
		//nolint:gosec // jitter is not security-critical
		delay += delay * p.JitterFactor * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = float64(p.InitialDelay)
		}
	}
	return time.Duration(delay)
}

// Pause waits the delay that precedes retry number attempt, or until ctx is
// done.
func (p Policy) Pause(ctx context.Context, attempt int, lastErr error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	return sleep(ctx, p.Delay(attempt, lastErr))
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return errors.Is(err, types.ErrTransient)
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx is done. The last error is returned unchanged.
func (p Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := Value(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Value is Do for operations that return a result.
func Value[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			d := p.Delay(attempt-1, lastErr)
			p.Logger.Debug().
				Str("op", op).
				Int("attempt", attempt+1).
				Dur("delay", d).
				Err(lastErr).
				Msg("retrying")
			if err := sleep(ctx, d); err != nil {
				return zero, lastErr
			}
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !p.retryable(err) {
			return zero, err
		}
	}
	return zero, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
