package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/torosent/loadcheck/internal/endpoint"
)

// OutputFormat selects how the campaign report is printed.
type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
	OutputYAML OutputFormat = "yaml"
)

// ProgressMode selects the live progress display.
type ProgressMode string

const (
	ProgressAuto ProgressMode = "auto" // line for text output, none otherwise
	ProgressNone ProgressMode = "none"
	ProgressLine ProgressMode = "line"
	ProgressTUI  ProgressMode = "tui"
)

type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

// Config is the fully resolved campaign configuration.
type Config struct {
	BaseURL        string        `mapstructure:"base_url"`
	Concurrency    int           `mapstructure:"concurrency"`
	Parallel       int           `mapstructure:"parallel"`
	Rate           int           `mapstructure:"rate"`
	Arrival        ArrivalModel  `mapstructure:"arrival_model"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Retries        int           `mapstructure:"retries"`
	FailureSamples int           `mapstructure:"failure_samples"`
	Output         OutputFormat  `mapstructure:"output"`
	OutputFile     string        `mapstructure:"output_file"`
	Progress       ProgressMode  `mapstructure:"progress"`
	Thresholds     []string      `mapstructure:"thresholds"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFormat      string        `mapstructure:"log_format"`
	LogFile        string        `mapstructure:"log_file"`
	Tracing        TracingConfig `mapstructure:"tracing"`
	Endpoints      []Endpoint    `mapstructure:"endpoints"`
	ConfigFile     string        `mapstructure:"-"`
}

// Endpoint is one entry of the endpoints list as written in a campaign file.
type Endpoint struct {
	Name        string            `mapstructure:"name"`
	Route       string            `mapstructure:"route"`
	Method      string            `mapstructure:"method"`
	Load        int               `mapstructure:"load"`
	Headers     map[string]string `mapstructure:"headers"`
	Body        string            `mapstructure:"body"`
	BodyFile    string            `mapstructure:"body_file"`
	ContentType string            `mapstructure:"content_type"`
	Expected    Expected          `mapstructure:"expected"`
}

type Expected struct {
	Status       int               `mapstructure:"status"`
	Headers      map[string]string `mapstructure:"headers"`
	BodyContains string            `mapstructure:"body_contains"`
	JSON         []JSONAssertion   `mapstructure:"json"`
}

type JSONAssertion struct {
	Path   string `mapstructure:"path"`
	Equals string `mapstructure:"equals"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" (default) or "http"
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Propagate   *bool   `mapstructure:"propagate"` // nil follows Enabled
}

// Enabled reports whether an OTLP endpoint is configured, directly or through
// OTEL_EXPORTER_OTLP_ENDPOINT.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate reports whether W3C trace headers are sent to the target.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

// Descriptors converts the configured endpoints into descriptors in
// declaration order. They are not validated here; the campaign runner
// validates all of them before dispatching anything.
func (c Config) Descriptors() []endpoint.Descriptor {
	descriptors := make([]endpoint.Descriptor, 0, len(c.Endpoints))
	for _, ep := range c.Endpoints {
		method := strings.ToUpper(strings.TrimSpace(ep.Method))
		if method == "" {
			method = "GET"
		}
		d := endpoint.Descriptor{
			Name:   ep.Name,
			Route:  strings.TrimSpace(ep.Route),
			Method: method,
			Load:   ep.Load,
			Body: endpoint.Body{
				Content:     ep.Body,
				File:        ep.BodyFile,
				ContentType: ep.ContentType,
			},
			Expected: endpoint.Expected{
				Status:       ep.Expected.Status,
				BodyContains: ep.Expected.BodyContains,
			},
		}
		endpoint.WithHeaders(ep.Headers)(&d)
		if len(ep.Expected.Headers) > 0 {
			d.Expected.Headers = make(map[string]string, len(ep.Expected.Headers))
			for k, v := range ep.Expected.Headers {
				d.Expected.Headers[k] = v
			}
		}
		for _, a := range ep.Expected.JSON {
			d.Expected.JSON = append(d.Expected.JSON, endpoint.JSONAssertion{Path: a.Path, Equals: a.Equals})
		}
		descriptors = append(descriptors, d)
	}
	return descriptors
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate checks campaign-wide settings. Endpoint descriptors are validated
// separately by the campaign runner.
func (c Config) Validate() error {
	var issues []string
	var warnings []string

	if c.Concurrency > 500 {
		warnings = append(warnings, fmt.Sprintf("WARNING: High concurrency configured (%d workers per endpoint). Ensure you have authorization to test the target system.", c.Concurrency))
	}
	if c.Rate > 1000 {
		warnings = append(warnings, fmt.Sprintf("WARNING: High rate limit configured (%d RPS). Ensure you have authorization to test the target system.", c.Rate))
	}
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, w)
	}

	if c.Concurrency < 1 {
		issues = append(issues, "concurrency must be >= 1")
	}
	if c.Parallel < 1 {
		issues = append(issues, "parallel must be >= 1")
	}
	if c.Rate < 0 {
		issues = append(issues, "rate must be >= 0")
	}
	if c.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}
	if c.Retries < 0 {
		issues = append(issues, "retries must be >= 0")
	}
	if c.FailureSamples < 0 {
		issues = append(issues, "failure_samples must be >= 0")
	}

	switch c.Arrival {
	case "", ArrivalModelUniform, ArrivalModelPoisson:
	default:
		issues = append(issues, fmt.Sprintf("arrival_model must be uniform or poisson, got %q", c.Arrival))
	}
	switch c.Output {
	case "", OutputText, OutputJSON, OutputYAML:
	default:
		issues = append(issues, fmt.Sprintf("output must be text, json or yaml, got %q", c.Output))
	}
	switch c.Progress {
	case "", ProgressAuto, ProgressNone, ProgressLine, ProgressTUI:
	default:
		issues = append(issues, fmt.Sprintf("progress must be auto, none, line or tui, got %q", c.Progress))
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("log_level must be debug, info, warn or error, got %q", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		issues = append(issues, fmt.Sprintf("log_format must be text or json, got %q", c.LogFormat))
	}

	issues = append(issues, validateTracing(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateTracing(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing.protocol must be grpc or http, got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing.sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	return issues
}
