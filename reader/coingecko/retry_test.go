package coingecko

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	r := newRetryer(3, 2*time.Second)
	sleep := &fakeSleeper{}
	r.sleep = sleep

	calls := 0
	err := r.do(context.Background(), "op", func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(sleep.delays) != 2 || sleep.delays[0] != 2*time.Second || sleep.delays[1] != 4*time.Second {
		t.Fatalf("unexpected delays: %v", sleep.delays)
	}
}

func TestRetryStopsAtMaxAttempts(t *testing.T) {
	r := newRetryer(3, time.Second)
	r.sleep = &fakeSleeper{}

	calls := 0
	failure := errors.New("down")
	err := r.do(context.Background(), "op", func() error {
		calls++
		return failure
	})

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *FetchError, got %T", err)
	}
	if calls != 3 || fetchErr.Attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got calls=%d attempts=%d", calls, fetchErr.Attempts)
	}
	if !errors.Is(err, failure) {
		t.Fatalf("expected wrapped cause, got %v", fetchErr.Err)
	}
}

func TestRetryPreCancelledContext(t *testing.T) {
	r := newRetryer(3, time.Second)
	r.sleep = &fakeSleeper{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.do(ctx, "op", func() error {
		t.Fatalf("operation must not run on cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
