// Package campaign drives an ordered list of endpoints and assembles their
// reports.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/loadcheck/internal/endpoint"
	"github.com/torosent/loadcheck/internal/logger"
	"github.com/torosent/loadcheck/internal/metrics"
	"github.com/torosent/loadcheck/internal/runner"
)

// Options configure a Runner. They are copied by New and never change.
type Options struct {
	Driver   runner.Options // per-endpoint load settings; Driver.Preparer is required
	Parallel int            // endpoints driven at once; values <= 1 run them in order
	Tracker  *Tracker       // optional live progress
	RunID    string         // identifies the run in reports and traces; NewRunID when empty
}

// NewRunID returns a new lexically sortable run identifier.
func NewRunID() string {
	return ulid.Make().String()
}

// Runner runs campaigns.
type Runner struct {
	driver   *runner.Driver
	parallel int
	tracker  *Tracker
	runID    string
}

func New(opt Options) *Runner {
	if opt.Parallel < 1 {
		opt.Parallel = 1
	}
	return &Runner{
		driver:   runner.New(opt.Driver),
		parallel: opt.Parallel,
		tracker:  opt.Tracker,
		runID:    opt.RunID,
	}
}

// Run validates every descriptor, then drives them and returns one report per
// descriptor in declaration order.
//
// Validation is all-or-nothing: if any descriptor is invalid, Run returns an
// error matching endpoint.ErrInvalidDescriptor that names every offending
// descriptor by index, and no request is sent for any of them. After that
// point Run never fails; request failures and cancellation are reported in
// the returned Report.
func (r *Runner) Run(ctx context.Context, descriptors []endpoint.Descriptor) (Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := logger.NewContextWithLogger(ctx, "campaign")
	defer cancel()
	log := logger.FromContext(ctx)

	runID := r.runID
	if runID == "" {
		runID = NewRunID()
	}
	report := Report{
		RunID:     runID,
		StartedAt: time.Now().UTC(),
		Endpoints: make([]metrics.EndpointReport, len(descriptors)),
	}

	requesters := make([]runner.Requester, len(descriptors))
	var errs []error
	for i, d := range descriptors {
		req, err := r.driver.Prepare(d)
		if err != nil {
			errs = append(errs, fmt.Errorf("endpoint %d: %w", i, err))
			continue
		}
		requesters[i] = req
	}
	if len(errs) > 0 {
		return Report{}, errors.Join(errs...)
	}

	collectors := make([]*metrics.Collector, len(descriptors))
	for i, d := range descriptors {
		collectors[i] = r.driver.NewCollector(d)
	}
	if r.tracker != nil {
		r.tracker.track(collectors)
	}

	log.Info("campaign started",
		zap.String("run_id", report.RunID),
		zap.Int("endpoints", len(descriptors)),
		zap.Int("parallel", r.parallel))

	var g errgroup.Group
	g.SetLimit(r.parallel)
	for i := range descriptors {
		g.Go(func() error {
			report.Endpoints[i] = r.driver.Dispatch(ctx, descriptors[i], requesters[i], collectors[i])
			return nil
		})
	}
	_ = g.Wait() // drivers report failures in their reports, never as errors

	report.Duration = time.Since(report.StartedAt)
	report.DurationMs = float64(report.Duration) / float64(time.Millisecond)
	for _, ep := range report.Endpoints {
		if ep.Interrupted {
			report.Interrupted = true
			break
		}
	}

	totals := report.Totals()
	log.Info("campaign finished",
		zap.String("run_id", report.RunID),
		zap.Int("attempted", totals.Attempted),
		zap.Int("passed", totals.Passed),
		zap.Int("failed", totals.Failed),
		zap.Bool("interrupted", report.Interrupted),
		zap.Duration("duration", report.Duration))

	return report, nil
}

// Tracker exposes live progress of the campaign currently running.
type Tracker struct {
	mu         sync.Mutex
	collectors []*metrics.Collector
}

func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) track(collectors []*metrics.Collector) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.collectors = collectors
}

// Snapshot returns the progress of every endpoint, in declaration order.
func (t *Tracker) Snapshot() []metrics.Progress {
	t.mu.Lock()
	collectors := t.collectors
	t.mu.Unlock()

	out := make([]metrics.Progress, len(collectors))
	for i, c := range collectors {
		out[i] = c.Progress()
	}
	return out
}
