package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/loadcheck/internal/metrics"
)

// ProgressSource yields per-endpoint progress in declaration order.
type ProgressSource interface {
	Snapshot() []metrics.Progress
}

// ProgressReporter displays real-time progress updates on a single line.
type ProgressReporter struct {
	source   ProgressSource
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
	start    time.Time
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(source ProgressSource, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		source:   source,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
		start:    time.Now(),
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates and ends the line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, "\r"+progressLine(p.source.Snapshot(), time.Since(p.start)))
		case <-p.done:
			fmt.Fprint(p.writer, "\r"+progressLine(p.source.Snapshot(), time.Since(p.start))+"\n")
			return
		}
	}
}

func progressLine(snapshot []metrics.Progress, elapsed time.Duration) string {
	var load, attempted, passed, failed int
	for _, p := range snapshot {
		load += p.Load
		attempted += p.Attempted
		passed += p.Passed
		failed += p.Failed
	}

	rps := 0.0
	if elapsed > 0 {
		rps = float64(attempted) / elapsed.Seconds()
	}
	line := fmt.Sprintf("Requests: %d/%d | Passed: %d | Failed: %d | RPS: %.1f",
		attempted, load, passed, failed, rps)
	if current, ok := currentEndpoint(snapshot); ok {
		line += fmt.Sprintf(" | Endpoint: %s (%d/%d)", current.Name, current.Attempted, current.Load)
	}
	return line
}

// currentEndpoint returns the first endpoint that has started but not finished.
func currentEndpoint(snapshot []metrics.Progress) (metrics.Progress, bool) {
	for _, p := range snapshot {
		if p.Attempted > 0 && !p.Done() {
			return p, true
		}
	}
	return metrics.Progress{}, false
}
