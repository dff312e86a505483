package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/torosent/loadcheck/internal/metrics"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "loadcheck",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to campaign file (JSON or YAML)")
	flags.String("base-url", "", "Base URL prepended to relative endpoint routes")

	// Ad-hoc single endpoint
	flags.String("target", "", "Route or URL of a single endpoint to check")
	flags.String("method", http.MethodGet, "HTTP method for --target")
	flags.IntP("load", "n", 1, "Number of requests to send to --target")
	flags.Int("expect-status", http.StatusOK, "Expected status code for --target")
	flags.StringSlice("header", nil, "Request header for --target in key=value form (repeatable)")
	flags.String("body", "", "Inline request body for --target")
	flags.String("body-file", "", "Path to file containing the request body for --target")

	// Load control
	flags.IntP("concurrency", "c", 1, "Concurrent workers per endpoint")
	flags.IntP("parallel", "p", 1, "Number of endpoints driven at the same time")
	flags.IntP("rate", "r", 0, "Requests per second limit per endpoint (0 means unlimited)")
	flags.String("arrival-model", string(ArrivalModelUniform), "Arrival model to use when pacing requests (uniform or poisson)")
	flags.Duration("timeout", 30*time.Second, "Per-request timeout")
	flags.Int("retries", 0, "Retries per request on transport errors and 429 responses")
	flags.Int("failure-samples", metrics.DefaultFailureSamples, "Failure samples kept per endpoint")

	// Output
	flags.StringP("output", "o", string(OutputText), "Report format: text, json or yaml")
	flags.String("output-file", "", "Also write the report to this file")
	flags.String("progress", string(ProgressAuto), "Progress display: auto, none, line or tui")
	flags.StringSlice("threshold", nil, "Campaign thresholds (repeatable, e.g., 'checks_failed:rate < 0.01')")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address while running (e.g. :9090)")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "text", "Log format: text or json")
	flags.String("log-file", "", "Also write JSON logs to this file, rotated by size")

	// Tracing
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (enables tracing)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.String("tracing-service-name", "", "Service name reported in traces")
	flags.Float64("tracing-sample-rate", 1, "Fraction of requests traced (0.0 to 1.0)")
	flags.Bool("tracing-propagate", false, "Send W3C trace context headers to the target")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

var targetOnlyFlags = []string{"method", "load", "expect-status", "header", "body", "body-file"}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file and environment.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("base-url") {
		val, err := fs.GetString("base-url")
		if err != nil {
			return err
		}
		cfg.BaseURL = val
	}

	ints := map[string]*int{
		"concurrency":     &cfg.Concurrency,
		"parallel":        &cfg.Parallel,
		"rate":            &cfg.Rate,
		"retries":         &cfg.Retries,
		"failure-samples": &cfg.FailureSamples,
	}
	for name, dst := range ints {
		if fs.Changed(name) {
			val, err := fs.GetInt(name)
			if err != nil {
				return err
			}
			*dst = val
		}
	}

	strs := map[string]*string{
		"output-file":  &cfg.OutputFile,
		"metrics-addr": &cfg.MetricsAddr,
		"log-level":    &cfg.LogLevel,
		"log-format":   &cfg.LogFormat,
		"log-file":     &cfg.LogFile,
	}
	for name, dst := range strs {
		if fs.Changed(name) {
			val, err := fs.GetString(name)
			if err != nil {
				return err
			}
			*dst = strings.TrimSpace(val)
		}
	}

	if fs.Changed("output") {
		val, err := fs.GetString("output")
		if err != nil {
			return err
		}
		cfg.Output = OutputFormat(val)
	}
	if fs.Changed("progress") {
		val, err := fs.GetString("progress")
		if err != nil {
			return err
		}
		cfg.Progress = ProgressMode(val)
	}
	if fs.Changed("arrival-model") {
		val, err := fs.GetString("arrival-model")
		if err != nil {
			return err
		}
		cfg.Arrival = ArrivalModel(val)
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Timeout = val
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}

	if err := applyTracingFlags(&cfg.Tracing, fs); err != nil {
		return err
	}

	return applyTargetFlags(cfg, fs)
}

func applyTracingFlags(tc *TracingConfig, fs *pflag.FlagSet) error {
	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		tc.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		tc.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		tc.Insecure = val
	}
	if fs.Changed("tracing-service-name") {
		val, err := fs.GetString("tracing-service-name")
		if err != nil {
			return err
		}
		tc.ServiceName = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		tc.SampleRate = val
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		tc.Propagate = &val
	}
	return nil
}

// applyTargetFlags appends the --target endpoint, if any, after the endpoints
// declared in the campaign file.
func applyTargetFlags(cfg *Config, fs *pflag.FlagSet) error {
	if !fs.Changed("target") {
		for _, name := range targetOnlyFlags {
			if fs.Changed(name) {
				return fmt.Errorf("--%s requires --target", name)
			}
		}
		return nil
	}

	route, err := fs.GetString("target")
	if err != nil {
		return err
	}
	method, err := fs.GetString("method")
	if err != nil {
		return err
	}
	load, err := fs.GetInt("load")
	if err != nil {
		return err
	}
	status, err := fs.GetInt("expect-status")
	if err != nil {
		return err
	}
	body, err := fs.GetString("body")
	if err != nil {
		return err
	}
	bodyFile, err := fs.GetString("body-file")
	if err != nil {
		return err
	}
	headerPairs, err := fs.GetStringSlice("header")
	if err != nil {
		return err
	}
	headers, err := parseHeaderPairs(headerPairs)
	if err != nil {
		return err
	}

	cfg.Endpoints = append(cfg.Endpoints, Endpoint{
		Route:    strings.TrimSpace(route),
		Method:   strings.ToUpper(strings.TrimSpace(method)),
		Load:     load,
		Headers:  headers,
		Body:     body,
		BodyFile: strings.TrimSpace(bodyFile),
		Expected: Expected{Status: status},
	})
	return nil
}

func parseHeaderPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			key, value, ok = strings.Cut(pair, ":")
		}
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("header must be in key=value form, got %q", pair)
		}
		headers[http.CanonicalHeaderKey(key)] = strings.TrimSpace(value)
	}
	return headers, nil
}
