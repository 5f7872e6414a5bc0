// Package retry re-runs an operation with capped exponential backoff.
// The weekly batch uses it for per-cohort transactions that may hit a
// serialization failure or a busy SQLite file.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy describes when and how long to wait between attempts.
type Policy struct {
	// MaxAttempts counts the first call. Values below 1 mean 1.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter spreads each delay by ±Jitter of itself (0..1).
	Jitter float64
	// RetryIf reports whether err is transient. Nil retries nothing.
	RetryIf func(error) bool
	// OnRetry runs before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Retrier applies a Policy. It is safe for concurrent use.
type Retrier struct {
	p Policy
}

func New(p Policy) *Retrier {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = 0
	}
	return &Retrier{p: p}
}

// CohortRetrier is the policy of one cohort transaction in the weekly batch.
func CohortRetrier(maxAttempts int, base, maxDelay time.Duration, retryIf func(error) bool) *Retrier {
	return New(Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   base,
		MaxDelay:    maxDelay,
		Jitter:      0.2,
		RetryIf:     retryIf,
	})
}

func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := r.DoCounted(ctx, op)
	return err
}

// DoCounted runs op until it succeeds, returns a non-transient error, or the
// attempts run out. It reports how many calls were made. When ctx ends
// during a wait the last operation error is returned, not ctx.Err().
func (r *Retrier) DoCounted(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= r.p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt - 1, lastErr
			}
			return attempt - 1, err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		if r.p.RetryIf == nil || !r.p.RetryIf(lastErr) || attempt == r.p.MaxAttempts {
			return attempt, lastErr
		}

		wait := r.delay(attempt)
		if r.p.OnRetry != nil {
			r.p.OnRetry(attempt, lastErr, wait)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return attempt, lastErr
		case <-t.C:
		}
	}
	return r.p.MaxAttempts, lastErr
}

// delay doubles per attempt from BaseDelay and is capped at MaxDelay.
func (r *Retrier) delay(attempt int) time.Duration {
	d := r.p.BaseDelay
	for i := 1; i < attempt && d < r.p.MaxDelay; i++ {
		d *= 2
	}
	if d > r.p.MaxDelay {
		d = r.p.MaxDelay
	}
	if r.p.Jitter > 0 {
		d += time.Duration(float64(d) * r.p.Jitter * (rand.Float64()*2 - 1))
	}
	if d < 0 {
		return 0
	}
	return d
}
