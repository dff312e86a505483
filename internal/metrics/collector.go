package metrics

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/torosent/loadcheck/internal/check"
	"github.com/torosent/loadcheck/internal/endpoint"
)

// DefaultFailureSamples is the number of failure reasons kept per endpoint
// when no explicit limit is configured.
const DefaultFailureSamples = 10

// Collector records per-request outcomes for one endpoint in a thread-safe manner.
type Collector struct {
	mu              sync.Mutex
	desc            endpoint.Descriptor
	hist            *hdrhistogram.Histogram
	attempted       int
	passed          int
	failed          int
	sumLatency      time.Duration
	statuses        map[int]int
	transportErrors map[string]int
	failures        []FailureSample
	maxSamples      int
	start           time.Time
}

// Progress is a point-in-time view of a running endpoint.
type Progress struct {
	Name      string
	Load      int
	Attempted int
	Passed    int
	Failed    int
}

// Done reports whether every request has been accounted for.
func (p Progress) Done() bool {
	return p.Attempted >= p.Load
}

// NewCollector creates a collector for desc keeping at most maxSamples
// failure reasons. A negative maxSamples selects DefaultFailureSamples.
func NewCollector(desc endpoint.Descriptor, maxSamples int) *Collector {
	if maxSamples < 0 {
		maxSamples = DefaultFailureSamples
	}
	// Track latencies from 1µs up to 60s with 3 significant figures.
	h := hdrhistogram.New(1, 60_000_000, 3)
	return &Collector{
		desc:            desc,
		hist:            h,
		statuses:        make(map[int]int),
		transportErrors: make(map[string]int),
		maxSamples:      maxSamples,
		start:           time.Now(),
	}
}

// Start marks the moment the first request is about to be dispatched.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = time.Now()
}

// Record accounts for one logical request. index is the dispatch index of the
// request within its endpoint.
func (c *Collector) Record(index int, observed check.Observed, result check.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.attempted++
	c.statuses[observed.Status]++

	latency := observed.Elapsed
	if latency > 0 {
		us := latency.Microseconds()
		if us < c.hist.LowestTrackableValue() {
			us = c.hist.LowestTrackableValue()
		}
		if us > c.hist.HighestTrackableValue() {
			us = c.hist.HighestTrackableValue()
		}
		_ = c.hist.RecordValue(us)
		c.sumLatency += latency
	}

	if observed.Err != nil {
		c.transportErrors[FriendlyErrorName(errorTypeName(observed.Err))]++
	}

	if result.Passed {
		c.passed++
		return
	}
	c.failed++
	c.sampleFailure(FailureSample{Index: index, Reason: result.Reason})
}

// sampleFailure keeps the maxSamples failures with the lowest dispatch
// indexes, whatever order they complete in.
func (c *Collector) sampleFailure(sample FailureSample) {
	if c.maxSamples <= 0 {
		return
	}
	if len(c.failures) < c.maxSamples {
		c.failures = append(c.failures, sample)
		return
	}
	highest := 0
	for i, f := range c.failures {
		if f.Index > c.failures[highest].Index {
			highest = i
		}
	}
	if sample.Index < c.failures[highest].Index {
		c.failures[highest] = sample
	}
}

// Progress returns the current counters.
func (c *Collector) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Progress{
		Name:      c.desc.Label(),
		Load:      c.desc.Load,
		Attempted: c.attempted,
		Passed:    c.passed,
		Failed:    c.failed,
	}
}

// Report finalizes the accumulated state. interrupted marks a run that was
// cancelled before every request was dispatched.
func (c *Collector) Report(interrupted bool) EndpointReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.start)
	report := EndpointReport{
		Descriptor:  c.desc,
		Name:        c.desc.Label(),
		Method:      c.desc.Method,
		Route:       c.desc.Route,
		Load:        c.desc.Load,
		Attempted:   c.attempted,
		Passed:      c.passed,
		Failed:      c.failed,
		Interrupted: interrupted && c.attempted < c.desc.Load,
		Duration:    elapsed,
		DurationMs:  float64(elapsed) / float64(time.Millisecond),
	}

	if len(c.failures) > 0 {
		report.Failures = append([]FailureSample(nil), c.failures...)
		sort.Slice(report.Failures, func(i, j int) bool {
			return report.Failures[i].Index < report.Failures[j].Index
		})
	}

	if len(c.statuses) > 0 {
		report.Statuses = make(map[string]int, len(c.statuses))
		for code, count := range c.statuses {
			report.Statuses[strconv.Itoa(code)] = count
		}
	}

	if len(c.transportErrors) > 0 {
		report.TransportErrors = make(map[string]int, len(c.transportErrors))
		for name, count := range c.transportErrors {
			report.TransportErrors[name] = count
		}
	}

	if n := c.hist.TotalCount(); n > 0 {
		report.Latency = newLatencySummary(
			time.Duration(c.hist.Min())*time.Microsecond,
			time.Duration(int64(c.sumLatency)/n),
			time.Duration(c.hist.Max())*time.Microsecond,
		)
	}

	return report
}

// errorTypeName looks through the *url.Error every http.Client failure is
// wrapped in so the breakdown names the underlying cause.
func errorTypeName(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	return fmt.Sprintf("%T", err)
}
