// Package runner drives the load of a single endpoint.
//
// A [Driver] issues exactly Load requests for an endpoint descriptor through
// a bounded pool of workers fed by one scheduler goroutine, checks every
// response, and accumulates the outcomes into a report:
//
//	d := runner.New(runner.Options{
//		Concurrency:   8,
//		RatePerSecond: 100,
//		Preparer:      preparer,
//	})
//	report, err := d.Run(ctx, descriptor)
//
// Run returns an error only for a descriptor that cannot be dispatched, and
// does so before any request is sent. Failed requests are data in the report.
//
// # Pacing
//
// The scheduler paces dispatch with one of two arrival models:
//   - [ArrivalModelUniform]: requests at fixed intervals (rate.Limiter)
//   - [ArrivalModelPoisson]: exponentially distributed gaps for bursty traffic
//
// # Retries
//
// [RetryPolicy] retries one logical request on transport errors and 429
// responses. Retries never change the attempted count.
//
// # Cancellation
//
// Cancelling the context stops the scheduler. Requests already in flight
// complete and are counted; the report is marked interrupted with
// Attempted < Load.
package runner
