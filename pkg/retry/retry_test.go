package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var (
	errSerialization = errors.New("could not serialize access")
	errBadData       = errors.New("bad data")
)

func transient(err error) bool { return errors.Is(err, errSerialization) }

func TestDoCounted_RetriesTransientUntilSuccess(t *testing.T) {
	r := CohortRetrier(5, time.Millisecond, 2*time.Millisecond, transient)

	calls := 0
	attempts, err := r.DoCounted(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errSerialization
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoCounted_ExhaustsAttempts(t *testing.T) {
	var retried []int
	r := New(Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		RetryIf:     transient,
		OnRetry:     func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) },
	})

	attempts, err := r.DoCounted(context.Background(), func(context.Context) error {
		return errSerialization
	})

	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, errSerialization)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDoCounted_StopsOnPermanentError(t *testing.T) {
	r := CohortRetrier(4, time.Millisecond, time.Millisecond, transient)

	calls := 0
	attempts, err := r.DoCounted(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return errSerialization
		}
		return errBadData
	})

	assert.Equal(t, 2, attempts)
	assert.ErrorIs(t, err, errBadData)
}

func TestDo_NilRetryIfRunsOnce(t *testing.T) {
	calls := 0
	err := New(Policy{MaxAttempts: 5}).Do(context.Background(), func(context.Context) error {
		calls++
		return errSerialization
	})

	assert.ErrorIs(t, err, errSerialization)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	attempts, err := CohortRetrier(3, time.Millisecond, time.Millisecond, transient).
		DoCounted(ctx, func(context.Context) error {
			calls++
			return nil
		})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, attempts)
	assert.Zero(t, calls)
}

func TestDelay_DoublesAndCaps(t *testing.T) {
	r := New(Policy{MaxAttempts: 10, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond})

	assert.Equal(t, 10*time.Millisecond, r.delay(1))
	assert.Equal(t, 20*time.Millisecond, r.delay(2))
	assert.Equal(t, 40*time.Millisecond, r.delay(3))
	assert.Equal(t, 50*time.Millisecond, r.delay(4))
	assert.Equal(t, 50*time.Millisecond, r.delay(9))
}
