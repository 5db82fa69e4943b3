package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/inksync/internal/types"
)

type hintedErr struct{ after time.Duration }

func (e hintedErr) Error() string { return "rate limited" }
func (e hintedErr) RetryAfter() time.Duration { return e.after }
func (e hintedErr) Unwrap() error { return types.ErrTransient }

func TestDoRetriesTransient(t *testing.T) {
	p := DefaultPolicy().NoWait()
	calls := 0
	err := p.Do(context.Background(), "query", func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("503: %w", types.ErrTransient)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanent(t *testing.T) {
	p := DefaultPolicy().NoWait()
	calls := 0
	err := p.Do(context.Background(), "create", func(context.Context) error {
		calls++
		return fmt.Errorf("401: %w", types.ErrAuth)
	})
	assert.ErrorIs(t, err, types.ErrAuth)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	p := DefaultPolicy().NoWait()
	p.MaxAttempts = 4
	calls := 0
	err := p.Do(context.Background(), "patch", func(context.Context) error {
		calls++
		return types.ErrTransient
	})
	assert.ErrorIs(t, err, types.ErrTransient)
	assert.Equal(t, 4, calls)
}

func TestDoCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := DefaultPolicy()
	calls := 0
	err := p.Do(ctx, "patch", func(context.Context) error {
		calls++
		return types.ErrTransient
	})
	assert.ErrorIs(t, err, types.ErrTransient)
	assert.Equal(t, 1, calls)
}

func TestValue(t *testing.T) {
	p := DefaultPolicy().NoWait()
	p.Retryable = func(err error) bool { return err.Error() == "again" }
	n := 0
	v, err := Value(context.Background(), p, "count", func(context.Context) (int, error) {
		n++
		if n == 1 {
			return 0, errors.New("again")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDelay(t *testing.T) {
	p := Policy{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, p.Delay(0, nil))
	assert.Equal(t, 4*time.Second, p.Delay(2, nil))
	assert.Equal(t, 5*time.Second, p.Delay(10, nil))

	assert.Equal(t, 3*time.Second, p.Delay(0, hintedErr{after: 3 * time.Second}))
	assert.Equal(t, 5*time.Second, p.Delay(0, hintedErr{after: time.Minute}))
}

func TestDelayJitterBounds(t *testing.T) {
	p := Policy{InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2, JitterFactor: 0.3}
	for i := 0; i < 50; i++ {
		d := p.Delay(1, nil)
		assert.GreaterOrEqual(t, d, 1400*time.Millisecond)
		assert.LessOrEqual(t, d, 2600*time.Millisecond)
	}
}

func TestPause(t *testing.T) {
	p := DefaultPolicy().NoWait()
	require.NoError(t, p.Pause(context.Background(), 0, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Pause(ctx, 0, nil), context.Canceled)

	slow := Policy{InitialDelay: time.Millisecond, Multiplier: 2}
	start := time.Now()
	require.NoError(t, slow.Pause(context.Background(), 1, nil))
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Millisecond)
}
