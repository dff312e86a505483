package runner_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/torosent/loadcheck/internal/check"
	"github.com/torosent/loadcheck/internal/runner"
)

func TestRetryTransient(t *testing.T) {
	tests := []struct {
		name     string
		observed check.Observed
		want     bool
	}{
		{"transport error", check.Observed{Err: errors.New("connection reset")}, true},
		{"cancelled", check.Observed{Err: context.Canceled}, false},
		{"too many requests", check.Observed{Status: http.StatusTooManyRequests}, true},
		{"server error", check.Observed{Status: http.StatusInternalServerError}, false},
		{"ok", check.Observed{Status: http.StatusOK}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := runner.RetryTransient(tt.observed); got != tt.want {
				t.Errorf("RetryTransient() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestRetryRespectsMaxAttempts verifies retry count is honored and that a
// retried request still counts once.
func TestRetryRespectsMaxAttempts(t *testing.T) {
	req := &fakeRequester{
		respond: func(call int64) check.Observed {
			if call <= 3 {
				return check.Observed{Err: errors.New("transient failure")}
			}
			return check.Observed{Status: 200}
		},
	}

	d := runner.New(runner.Options{
		Concurrency: 1,
		Preparer:    preparerFor(req),
		Retry: runner.RetryPolicy{
			MaxAttempts: 5,
			DelayFunc: func(attempt int, _ check.Observed) time.Duration {
				return time.Duration(attempt) * time.Millisecond
			},
		},
	})

	report, err := d.Run(context.Background(), mustDescriptor(t, "/flaky", 1))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Attempted != 1 || report.Passed != 1 {
		t.Errorf("attempted/passed = %d/%d, want 1/1", report.Attempted, report.Passed)
	}
	// Succeeds on the 4th attempt (3 retries after the initial failure).
	if got := req.calls.Load(); got != 4 {
		t.Errorf("attempts = %d, want 4", got)
	}
}

func TestRetryExceedsMaxAttempts(t *testing.T) {
	req := &fakeRequester{
		respond: func(int64) check.Observed {
			return check.Observed{Err: errors.New("always down")}
		},
	}

	d := runner.New(runner.Options{
		Preparer: preparerFor(req),
		Retry:    runner.RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond},
	})

	report, err := d.Run(context.Background(), mustDescriptor(t, "/down", 2))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Attempted != 2 || report.Failed != 2 {
		t.Errorf("attempted/failed = %d/%d, want 2/2", report.Attempted, report.Failed)
	}
	if got := req.calls.Load(); got != 6 {
		t.Errorf("attempts = %d, want 6", got)
	}
}

func TestRetrySkipsCheckFailures(t *testing.T) {
	req := &fakeRequester{
		respond: func(int64) check.Observed {
			return check.Observed{Status: http.StatusInternalServerError}
		},
	}

	d := runner.New(runner.Options{
		Preparer: preparerFor(req),
		Retry:    runner.RetryPolicy{MaxAttempts: 4},
	})

	report, err := d.Run(context.Background(), mustDescriptor(t, "/broken", 3))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := req.calls.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3 (500 is not retried)", got)
	}
	if report.Failed != 3 {
		t.Errorf("failed = %d, want 3", report.Failed)
	}
}

func TestRetryRetriesThrottling(t *testing.T) {
	req := &fakeRequester{
		respond: func(call int64) check.Observed {
			if call == 1 {
				return check.Observed{Status: http.StatusTooManyRequests}
			}
			return check.Observed{Status: http.StatusOK}
		},
	}

	d := runner.New(runner.Options{
		Preparer: preparerFor(req),
		Retry:    runner.RetryPolicy{MaxAttempts: 2},
	})

	report, err := d.Run(context.Background(), mustDescriptor(t, "/throttled", 1))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Passed != 1 {
		t.Errorf("passed = %d, want 1 after retrying the 429", report.Passed)
	}
}

func TestRetryShouldRetryStopsEarly(t *testing.T) {
	req := &fakeRequester{
		respond: func(int64) check.Observed {
			return check.Observed{Err: errors.New("permanent failure")}
		},
	}
	d := runner.New(runner.Options{
		Preparer: preparerFor(req),
		Retry: runner.RetryPolicy{
			MaxAttempts: 5,
			ShouldRetry: func(check.Observed) bool { return false },
		},
	})

	if _, err := d.Run(context.Background(), mustDescriptor(t, "/once", 1)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := req.calls.Load(); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}

func TestRetryStopsWhenCancelled(t *testing.T) {
	req := &fakeRequester{
		respond: func(int64) check.Observed {
			return check.Observed{Err: errors.New("connection refused")}
		},
	}
	d := runner.New(runner.Options{
		Preparer: preparerFor(req),
		Retry:    runner.RetryPolicy{MaxAttempts: 5, Delay: time.Hour},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	desc := mustDescriptor(t, "/cancel", 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		report, err := d.Run(ctx, desc)
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
		if report.Attempted != 1 || report.Failed != 1 {
			t.Errorf("attempted/failed = %d/%d, want 1/1", report.Attempted, report.Failed)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("retry backoff ignored cancellation")
	}
	if got := req.calls.Load(); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}
