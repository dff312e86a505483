package main

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/loadcheck/internal/check"
	"github.com/torosent/loadcheck/internal/endpoint"
	"github.com/torosent/loadcheck/internal/runner"
)

const (
	baseRetryDelay = 100 * time.Millisecond
	maxRetryDelay  = 5 * time.Second
)

type jitterSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// newRetryPolicy retries transient failures up to retries times with
// exponential backoff and jitter. Zero retries disables retrying.
func newRetryPolicy(retries int) runner.RetryPolicy {
	if retries <= 0 {
		return runner.RetryPolicy{}
	}
	source := &jitterSource{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}

	return runner.RetryPolicy{
		MaxAttempts: retries + 1,
		ShouldRetry: runner.RetryTransient,
		DelayFunc: func(attempt int, _ check.Observed) time.Duration {
			if attempt < 1 {
				attempt = 1
			}
			backoff := maxRetryDelay
			if attempt <= 16 {
				backoff = time.Duration(1<<uint(attempt-1)) * baseRetryDelay
			}
			if backoff > maxRetryDelay {
				backoff = maxRetryDelay
			}
			return backoff + source.jitter(backoff/2)
		},
	}
}

func (j *jitterSource) jitter(max time.Duration) time.Duration {
	if j == nil || max <= 0 {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return time.Duration(j.rnd.Int63n(int64(max)))
}

// zapFailureLogger logs every failed check at debug level.
type zapFailureLogger struct {
	log *zap.Logger
}

func (l *zapFailureLogger) LogFailure(d endpoint.Descriptor, index int, reason string) {
	l.log.Debug("request failed",
		zap.String("endpoint", d.Label()),
		zap.Int("index", index),
		zap.String("reason", reason))
}
