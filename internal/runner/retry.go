package runner

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/torosent/loadcheck/internal/check"
)

// RetryPolicy configures retry behavior. Retries happen inside one logical
// request: however many attempts it takes, the request is counted once and
// only the last observation is checked.
type RetryPolicy struct {
	MaxAttempts int                                                      // total attempts including initial try
	Delay       time.Duration                                            // fixed delay between retries (used if DelayFunc nil)
	ShouldRetry func(check.Observed) bool                                // predicate; if nil, RetryTransient
	DelayFunc   func(attempt int, observed check.Observed) time.Duration // dynamic backoff; attempt is 1-based
}

// RetryTransient retries transport errors and 429 responses. Any other status
// is a real answer from the target and is left for the check to judge.
func RetryTransient(observed check.Observed) bool {
	if observed.Err != nil {
		return !errors.Is(observed.Err, context.Canceled)
	}
	return observed.Status == http.StatusTooManyRequests
}

func (p RetryPolicy) enabled() bool {
	return p.MaxAttempts > 1
}

func (p RetryPolicy) shouldRetry(observed check.Observed) bool {
	if p.ShouldRetry != nil {
		return p.ShouldRetry(observed)
	}
	return RetryTransient(observed)
}

func (p RetryPolicy) delay(attempt int, observed check.Observed) time.Duration {
	if p.DelayFunc != nil {
		return p.DelayFunc(attempt, observed)
	}
	return p.Delay
}

// execute runs req until it succeeds, the policy gives up, or ctx is
// cancelled. Requests themselves run on reqCtx so a cancellation never aborts
// an attempt already on the wire.
func (p RetryPolicy) execute(ctx, reqCtx context.Context, req Requester) check.Observed {
	observed := req.Execute(reqCtx)
	if !p.enabled() {
		return observed
	}
	for attempt := 1; attempt < p.MaxAttempts; attempt++ {
		if !p.shouldRetry(observed) || ctx.Err() != nil {
			return observed
		}
		if delay := p.delay(attempt, observed); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return observed
			}
		}
		observed = req.Execute(reqCtx)
	}
	return observed
}
