// Package promexport exposes live campaign counters in the Prometheus text
// format while a campaign runs.
package promexport

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/torosent/loadcheck/internal/check"
	"github.com/torosent/loadcheck/internal/endpoint"
)

const namespace = "loadcheck"

// Recorder turns request outcomes into Prometheus metrics. It is safe for
// concurrent use by every worker of every driver.
type Recorder struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	responses *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewRecorder creates a Recorder with its own registry, including the Go and
// process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Requests issued per endpoint, by check result",
			},
			[]string{"endpoint", "result"},
		),
		responses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "responses_total",
				Help:      "Responses per endpoint by status code; code 0 means no response",
			},
			[]string{"endpoint", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request latency per endpoint in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.requests,
		r.responses,
		r.duration,
	)
	return r
}

// Observe records one logical request.
func (r *Recorder) Observe(d endpoint.Descriptor, observed check.Observed, result check.Result) {
	label := d.Label()
	outcome := "passed"
	if !result.Passed {
		outcome = "failed"
	}
	r.requests.WithLabelValues(label, outcome).Inc()
	r.responses.WithLabelValues(label, strconv.Itoa(observed.Status)).Inc()
	if observed.Elapsed > 0 {
		r.duration.WithLabelValues(label).Observe(observed.Elapsed.Seconds())
	}
}

// Registry returns the registry holding the recorder's collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
