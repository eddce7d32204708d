package coingecko

import (
	"context"
	"fmt"
	"time"
)

// FetchError is the terminal failure of one fetch operation: every attempt
// failed, or a backoff wait was cancelled. It aborts the surrounding fetch
// cycle; the next scheduled cycle proceeds independently.
type FetchError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// sleeper abstracts blocking waits so retry behaviour is testable without
// real delays.
type sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryer runs an operation through a bounded attempt/backoff sequence:
// attempt n fails -> wait baseDelay*2^(n-1) -> attempt n+1, until maxAttempts
// is exhausted. There is no unbounded retry path.
type retryer struct {
	maxAttempts int
	baseDelay   time.Duration
	sleep       sleeper
}

func newRetryer(maxAttempts int, baseDelay time.Duration) *retryer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}
	return &retryer{maxAttempts: maxAttempts, baseDelay: baseDelay, sleep: realSleeper{}}
}

// do executes fn until it succeeds, attempts run out, or the backoff wait is
// cancelled. Both terminal failures surface as *FetchError; a cancelled wait
// is a failed cycle, never a silent partial success.
func (r *retryer) do(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	delay := r.baseDelay
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return &FetchError{Op: op, Attempts: attempt - 1, Err: err}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == r.maxAttempts {
			break
		}
		if err := r.sleep.Sleep(ctx, delay); err != nil {
			return &FetchError{Op: op, Attempts: attempt, Err: err}
		}
		delay *= 2
	}
	return &FetchError{Op: op, Attempts: r.maxAttempts, Err: lastErr}
}
