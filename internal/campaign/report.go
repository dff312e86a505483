package campaign

import (
	"time"

	"github.com/torosent/loadcheck/internal/metrics"
)

// Report is the outcome of one campaign. Endpoints are in declaration order.
type Report struct {
	RunID       string                   `json:"run_id" yaml:"run_id"`
	StartedAt   time.Time                `json:"started_at" yaml:"started_at"`
	Duration    time.Duration            `json:"-" yaml:"-"`
	DurationMs  float64                  `json:"duration_ms" yaml:"duration_ms"`
	Interrupted bool                     `json:"interrupted,omitempty" yaml:"interrupted,omitempty"`
	Endpoints   []metrics.EndpointReport `json:"endpoints" yaml:"endpoints"`
}

// Totals aggregates counters across every endpoint of a report.
type Totals struct {
	Endpoints   int           `json:"endpoints" yaml:"endpoints"`
	Load        int           `json:"load" yaml:"load"`
	Attempted   int           `json:"attempted" yaml:"attempted"`
	Passed      int           `json:"passed" yaml:"passed"`
	Failed      int           `json:"failed" yaml:"failed"`
	MeanLatency time.Duration `json:"-" yaml:"-"`
	MaxLatency  time.Duration `json:"-" yaml:"-"`

	MeanLatencyMs float64 `json:"mean_latency_ms" yaml:"mean_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms" yaml:"max_latency_ms"`
}

// FailureRate is Failed / Attempted, or 0 when nothing was attempted.
func (t Totals) FailureRate() float64 {
	if t.Attempted == 0 {
		return 0
	}
	return float64(t.Failed) / float64(t.Attempted)
}

// Totals sums the endpoint reports. MeanLatency is weighted by attempts.
func (r Report) Totals() Totals {
	t := Totals{Endpoints: len(r.Endpoints)}
	var weighted float64
	for _, ep := range r.Endpoints {
		t.Load += ep.Load
		t.Attempted += ep.Attempted
		t.Passed += ep.Passed
		t.Failed += ep.Failed
		weighted += float64(ep.Latency.Mean) * float64(ep.Attempted)
		if ep.Latency.Max > t.MaxLatency {
			t.MaxLatency = ep.Latency.Max
		}
	}
	if t.Attempted > 0 {
		t.MeanLatency = time.Duration(weighted / float64(t.Attempted))
	}
	t.MeanLatencyMs = float64(t.MeanLatency) / float64(time.Millisecond)
	t.MaxLatencyMs = float64(t.MaxLatency) / float64(time.Millisecond)
	return t
}

// Failed reports whether any request of any endpoint failed.
func (r Report) Failed() bool {
	for _, ep := range r.Endpoints {
		if ep.Failed > 0 {
			return true
		}
	}
	return false
}
