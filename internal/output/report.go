// Package output renders campaign reports and live progress.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/loadcheck/internal/campaign"
	"github.com/torosent/loadcheck/internal/config"
	"github.com/torosent/loadcheck/internal/metrics"
	"github.com/torosent/loadcheck/internal/threshold"
)

// Document is the machine-readable form of a finished campaign.
type Document struct {
	campaign.Report `yaml:",inline"`
	Totals          campaign.Totals    `json:"totals" yaml:"totals"`
	FailureRate     float64            `json:"failure_rate" yaml:"failure_rate"`
	Thresholds      []threshold.Result `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// NewDocument assembles a report with its totals and threshold results.
func NewDocument(report campaign.Report, results []threshold.Result) Document {
	if report.Endpoints == nil {
		report.Endpoints = []metrics.EndpointReport{}
	}
	totals := report.Totals()
	return Document{
		Report:      report,
		Totals:      totals,
		FailureRate: totals.FailureRate(),
		Thresholds:  results,
	}
}

// Render writes the report to w in the given format.
func Render(w io.Writer, format config.OutputFormat, report campaign.Report, results []threshold.Result) error {
	switch format {
	case config.OutputJSON:
		return PrintJSONReport(w, report, results)
	case config.OutputYAML:
		return PrintYAMLReport(w, report, results)
	case config.OutputText, "":
		PrintReport(w, report, results)
		return nil
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, report campaign.Report, results []threshold.Result) {
	totals := report.Totals()

	fmt.Fprintln(w, "\n--- Load Check Results ---")
	if report.RunID != "" {
		fmt.Fprintf(w, "Run:               %s\n", report.RunID)
	}
	fmt.Fprintf(w, "Endpoints:         %d\n", totals.Endpoints)
	fmt.Fprintf(w, "Requests:          %d/%d\n", totals.Attempted, totals.Load)
	fmt.Fprintf(w, "Passed:            %d\n", totals.Passed)
	fmt.Fprintf(w, "Failed:            %d (%.2f%%)\n", totals.Failed, totals.FailureRate()*100)
	fmt.Fprintf(w, "Duration:          %s\n", report.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Mean Latency:      %s\n", totals.MeanLatency)
	fmt.Fprintf(w, "Max Latency:       %s\n", totals.MaxLatency)
	if report.Interrupted {
		fmt.Fprintln(w, "Status:            INTERRUPTED (partial results)")
	}

	if len(report.Endpoints) > 0 {
		fmt.Fprintln(w, "\nEndpoints:")
	}
	for _, ep := range report.Endpoints {
		verdict := "PASS"
		switch {
		case ep.Failed > 0:
			verdict = "FAIL"
		case ep.Interrupted:
			verdict = "PARTIAL"
		}
		fmt.Fprintf(w, "  [%s] %s\n", verdict, ep.Name)
		fmt.Fprintf(
			w,
			"    requests=%d/%d, passed=%d, failed=%d, rps=%.2f, latency min/mean/max=%s/%s/%s\n",
			ep.Attempted,
			ep.Load,
			ep.Passed,
			ep.Failed,
			ep.RequestsPerSec(),
			ep.Latency.Min,
			ep.Latency.Mean,
			ep.Latency.Max,
		)
		if len(ep.Statuses) > 0 {
			fmt.Fprintln(w, "    Status Codes:")
			writeStatusBuckets(w, ep.Statuses, "      ")
		}
		if len(ep.TransportErrors) > 0 {
			fmt.Fprintln(w, "    Transport Errors:")
			writeCounts(w, ep.TransportErrors, "      ")
		}
		if len(ep.Failures) > 0 {
			fmt.Fprintf(w, "    Failures (first %d):\n", len(ep.Failures))
			for _, f := range ep.Failures {
				fmt.Fprintf(w, "      #%d: %s\n", f.Index, f.Reason)
			}
		}
	}

	if len(results) > 0 {
		fmt.Fprintln(w, "\nThresholds:")
		for _, r := range results {
			fmt.Fprintf(w, "  %s\n", r.Message)
		}
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, report campaign.Report, results []threshold.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewDocument(report, results))
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, report campaign.Report, results []threshold.Result) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(NewDocument(report, results)); err != nil {
		return err
	}
	return enc.Close()
}

func writeStatusBuckets(w io.Writer, buckets map[string]int, indent string) {
	for _, row := range metrics.FlattenStatusBuckets(buckets) {
		label := row.Code
		if label == "0" {
			label = "0 (no response)"
		}
		fmt.Fprintf(w, "%s%s: %d\n", indent, label, row.Count)
	}
}

func writeCounts(w io.Writer, counts map[string]int, indent string) {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] == counts[names[j]] {
			return strings.Compare(names[i], names[j]) < 0
		}
		return counts[names[i]] > counts[names[j]]
	})
	for _, name := range names {
		fmt.Fprintf(w, "%s%s: %d\n", indent, name, counts[name])
	}
}
