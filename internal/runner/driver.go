package runner

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/torosent/loadcheck/internal/check"
	"github.com/torosent/loadcheck/internal/endpoint"
	"github.com/torosent/loadcheck/internal/logger"
	"github.com/torosent/loadcheck/internal/metrics"
)

// Driver issues the load of one endpoint through a bounded worker pool.
// A Driver holds only immutable options and may run many endpoints.
type Driver struct {
	opt Options
}

func New(opt Options) *Driver {
	opt.normalize()
	return &Driver{opt: opt}
}

// Prepare validates d and binds it to a Requester. Any failure matches
// endpoint.ErrInvalidDescriptor.
func (dr *Driver) Prepare(d endpoint.Descriptor) (Requester, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if dr.opt.Preparer == nil {
		return nil, errors.New("runner: no preparer configured")
	}
	req, err := dr.opt.Preparer.Prepare(d)
	if err != nil {
		if errors.Is(err, endpoint.ErrInvalidDescriptor) {
			return nil, err
		}
		return nil, endpoint.Invalid(d, err.Error())
	}
	return req, nil
}

// NewCollector returns an empty collector sized by the driver's options.
func (dr *Driver) NewCollector(d endpoint.Descriptor) *metrics.Collector {
	return metrics.NewCollector(d, dr.opt.FailureSamples)
}

// Run validates and prepares d, then issues exactly d.Load requests. The
// only error is an invalid descriptor, returned before anything is sent;
// failed requests are reported, not returned. A cancelled ctx stops dispatch
// and yields an interrupted report.
func (dr *Driver) Run(ctx context.Context, d endpoint.Descriptor) (metrics.EndpointReport, error) {
	req, err := dr.Prepare(d)
	if err != nil {
		return metrics.EndpointReport{}, err
	}
	return dr.Dispatch(ctx, d, req, dr.NewCollector(d)), nil
}

// Dispatch issues d.Load requests through req, recording every outcome into
// collector, and returns the final report. d must already be prepared.
func (dr *Driver) Dispatch(ctx context.Context, d endpoint.Descriptor, req Requester, collector *metrics.Collector) metrics.EndpointReport {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.FromContext(ctx).With(zap.String("endpoint", d.Label()))
	log.Debug("endpoint started", zap.Int("load", d.Load), zap.Int("concurrency", dr.opt.Concurrency))

	collector.Start()
	if d.Load <= 0 {
		return collector.Report(false)
	}

	workers := dr.opt.Concurrency
	if workers > d.Load {
		workers = d.Load
	}
	arrival := newArrivalController(dr.opt)
	permits := make(chan int, workers)

	// Scheduler: serializes pacing so workers never overshoot the rate, and
	// hands out exactly d.Load request indexes unless ctx is cancelled.
	go func() {
		defer close(permits)
		for i := 0; i < d.Load; i++ {
			if ctx.Err() != nil {
				return
			}
			if err := arrival.Wait(ctx); err != nil {
				return
			}
			select {
			case permits <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	// In-flight requests are allowed to finish after cancellation; they stay
	// bounded by the client timeout.
	reqCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for index := range permits {
				if ctx.Err() != nil {
					// Permit issued before cancellation was noticed; drop it.
					continue
				}
				observed := dr.opt.Retry.execute(ctx, reqCtx, req)
				result := check.Evaluate(observed, d.Expected)
				collector.Record(index, observed, result)
				if dr.opt.Observer != nil {
					dr.opt.Observer.Observe(d, observed, result)
				}
				if !result.Passed && dr.opt.FailureLogger != nil {
					dr.opt.FailureLogger.LogFailure(d, index, result.Reason)
				}
			}
		}()
	}
	wg.Wait()

	report := collector.Report(ctx.Err() != nil)
	if report.Interrupted {
		log.Info("endpoint interrupted", zap.Int("attempted", report.Attempted), zap.Int("load", d.Load))
	} else {
		log.Debug("endpoint finished", zap.Int("passed", report.Passed), zap.Int("failed", report.Failed))
	}
	return report
}
