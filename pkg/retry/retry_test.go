package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errAddrInUse = errors.New("address already in use")

func fastPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, Initial: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	var notified []int
	p := fastPolicy(4)
	p.Notify = func(attempt int, err error, _ time.Duration) {
		notified = append(notified, attempt)
		assert.ErrorIs(t, err, errAddrInUse)
	}

	err := Do(context.Background(), p, func() error {
		calls++
		if calls < 3 {
			return errAddrInUse
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func() error {
		calls++
		return errAddrInUse
	})
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errAddrInUse)
}

func TestDo_SingleAttemptReturnsErrorAsIs(t *testing.T) {
	for _, attempts := range []int{0, 1} {
		calls := 0
		err := Do(context.Background(), fastPolicy(attempts), func() error {
			calls++
			return errAddrInUse
		})
		assert.Equal(t, 1, calls)
		assert.Equal(t, errAddrInUse, err)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	denied := errors.New("permission denied")
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func() error {
		calls++
		return Permanent(denied)
	})
	assert.Equal(t, 1, calls)
	assert.Equal(t, denied, err)
	assert.Nil(t, Permanent(nil))
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: 10, Initial: time.Hour, Factor: 1}
	p.Notify = func(int, error, time.Duration) { cancel() }

	err := Do(ctx, p, func() error { return errAddrInUse })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "address already in use")
}

func TestDo_ContextAlreadyDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Do(ctx, fastPolicy(3), func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestDoValue(t *testing.T) {
	calls := 0
	port, err := DoValue(context.Background(), fastPolicy(3), func() (int, error) {
		calls++
		if calls == 1 {
			return 0, errAddrInUse
		}
		return 5004, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5004, port)
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2}

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 800*time.Millisecond, p.Delay(4))
	assert.Equal(t, time.Second, p.Delay(5), "capped")

	p.Factor = 0
	assert.Equal(t, 100*time.Millisecond, p.Delay(3), "factor below 1 keeps the delay constant")

	p = Policy{Initial: 100 * time.Millisecond, Factor: 1, Jitter: 0.25}
	for i := 0; i < 50; i++ {
		d := p.Delay(1)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 4, p.Attempts)
	assert.Equal(t, 100*time.Millisecond, p.Initial)
	assert.Equal(t, 2.0, p.Factor)
}
