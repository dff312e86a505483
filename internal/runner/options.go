package runner

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/torosent/loadcheck/internal/check"
	"github.com/torosent/loadcheck/internal/endpoint"
	"github.com/torosent/loadcheck/internal/metrics"
)

// Requester performs one request for a prepared endpoint. Implementations
// never retry and report transport failures through check.Observed.Err.
type Requester interface {
	Execute(ctx context.Context) check.Observed
}

// Preparer binds a descriptor to a Requester. It rejects descriptors that
// cannot be turned into requests with an error matching
// endpoint.ErrInvalidDescriptor.
type Preparer interface {
	Prepare(d endpoint.Descriptor) (Requester, error)
}

// PreparerFunc adapts a function to Preparer.
type PreparerFunc func(d endpoint.Descriptor) (Requester, error)

func (f PreparerFunc) Prepare(d endpoint.Descriptor) (Requester, error) {
	return f(d)
}

// Observer is notified of every logical request once its check has been
// evaluated. Implementations must be safe for concurrent use.
type Observer interface {
	Observe(d endpoint.Descriptor, observed check.Observed, result check.Result)
}

// Observers fans out to several observers.
type Observers []Observer

func (o Observers) Observe(d endpoint.Descriptor, observed check.Observed, result check.Result) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(d, observed, result)
		}
	}
}

// FailureLogger logs failed requests.
type FailureLogger interface {
	LogFailure(d endpoint.Descriptor, index int, reason string)
}

type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

// Options configure a Driver.
type Options struct {
	Concurrency    int                         // workers per endpoint
	RatePerSecond  int                         // requests per second pacing (0 means unlimited)
	ArrivalModel   ArrivalModel                // uniform (default) or poisson
	RandomSeed     int64                       // seeds the poisson sampler; 0 picks one
	PoissonSampler func() float64              // optional injection for tests
	Retry          RetryPolicy                 // retries for transport errors and throttling
	FailureSamples int                         // failure reasons kept per endpoint; 0 selects metrics.DefaultFailureSamples, negative keeps none
	Preparer       Preparer                    // required by Run
	Observer       Observer                    // optional
	FailureLogger  FailureLogger               // optional
	LimiterFactory func(rps int) *rate.Limiter // optional injection for tests
}

func (o *Options) normalize() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.RatePerSecond < 0 {
		o.RatePerSecond = 0
	}
	switch {
	case o.FailureSamples == 0:
		o.FailureSamples = metrics.DefaultFailureSamples
	case o.FailureSamples < 0:
		o.FailureSamples = 0
	}
	if o.ArrivalModel == "" {
		o.ArrivalModel = ArrivalModelUniform
	}
	if o.RandomSeed == 0 {
		o.RandomSeed = time.Now().UnixNano()
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(rps int) *rate.Limiter {
			if rps <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			// Burst equal to rps to smooth pacing under concurrency.
			return rate.NewLimiter(rate.Limit(rps), rps)
		}
	}
}
