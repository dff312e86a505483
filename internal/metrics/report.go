package metrics

import (
	"time"

	"github.com/torosent/loadcheck/internal/endpoint"
)

// FailureSample identifies one failed request by its dispatch index.
type FailureSample struct {
	Index  int    `json:"index" yaml:"index"`
	Reason string `json:"reason" yaml:"reason"`
}

// LatencySummary holds min/mean/max latency. Min and Max are recorded with
// three significant figures.
type LatencySummary struct {
	Min  time.Duration `json:"-" yaml:"-"`
	Mean time.Duration `json:"-" yaml:"-"`
	Max  time.Duration `json:"-" yaml:"-"`

	MinMs  float64 `json:"min_ms" yaml:"min_ms"`
	MeanMs float64 `json:"mean_ms" yaml:"mean_ms"`
	MaxMs  float64 `json:"max_ms" yaml:"max_ms"`
}

func newLatencySummary(min, mean, max time.Duration) LatencySummary {
	return LatencySummary{
		Min:    min,
		Mean:   mean,
		Max:    max,
		MinMs:  float64(min) / float64(time.Millisecond),
		MeanMs: float64(mean) / float64(time.Millisecond),
		MaxMs:  float64(max) / float64(time.Millisecond),
	}
}

// EndpointReport is the finalized outcome of driving one endpoint.
// Passed + Failed == Attempted always holds; Attempted == Load unless the run
// was interrupted.
type EndpointReport struct {
	Descriptor endpoint.Descriptor `json:"-" yaml:"-"`

	Name            string          `json:"name" yaml:"name"`
	Method          string          `json:"method" yaml:"method"`
	Route           string          `json:"route" yaml:"route"`
	Load            int             `json:"load" yaml:"load"`
	Attempted       int             `json:"attempted" yaml:"attempted"`
	Passed          int             `json:"passed" yaml:"passed"`
	Failed          int             `json:"failed" yaml:"failed"`
	Interrupted     bool            `json:"interrupted,omitempty" yaml:"interrupted,omitempty"`
	Failures        []FailureSample `json:"failures,omitempty" yaml:"failures,omitempty"`
	Statuses        map[string]int  `json:"statuses,omitempty" yaml:"statuses,omitempty"`
	TransportErrors map[string]int  `json:"transport_errors,omitempty" yaml:"transport_errors,omitempty"`
	Latency         LatencySummary  `json:"latency" yaml:"latency"`
	Duration        time.Duration   `json:"-" yaml:"-"`
	DurationMs      float64         `json:"duration_ms" yaml:"duration_ms"`
}

// RequestsPerSec returns the achieved throughput for the endpoint.
func (r EndpointReport) RequestsPerSec() float64 {
	if r.Duration <= 0 || r.Attempted == 0 {
		return 0
	}
	return float64(r.Attempted) / r.Duration.Seconds()
}
