// Package threshold evaluates pass/fail assertions against the totals of a
// finished campaign.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/torosent/loadcheck/internal/campaign"
)

// Threshold represents an assertion on campaign totals.
type Threshold struct {
	Metric    string  // checks_failed, checks_passed, http_req_duration, http_requests
	Aggregate string  // rate, count, avg, max
	Operator  string  // <, <=, >, >=, ==
	Value     float64 // compared against the actual value
	Raw       string  // original threshold string for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold `json:"-" yaml:"-"`
	Raw       string    `json:"threshold" yaml:"threshold"`
	Actual    float64   `json:"actual" yaml:"actual"`
	Pass      bool      `json:"pass" yaml:"pass"`
	Message   string    `json:"message" yaml:"message"`
}

var pattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)

var aggregates = map[string][]string{
	"checks_failed":     {"rate", "count"},
	"checks_passed":     {"rate", "count"},
	"http_req_duration": {"avg", "max"},
	"http_requests":     {"rate", "count"},
}

var operators = []string{"<", "<=", ">", ">=", "=="}

// Evaluator evaluates thresholds against campaign reports.
type Evaluator struct {
	thresholds []Threshold
}

func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Evaluate checks all thresholds against the report totals.
func (e *Evaluator) Evaluate(report campaign.Report) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	totals := report.Totals()
	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, evaluateOne(t, totals, report.Duration))
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func evaluateOne(t Threshold, totals campaign.Totals, elapsed time.Duration) Result {
	actual, err := extractMetricValue(t, totals, elapsed)
	if err != nil {
		return Result{
			Threshold: t,
			Raw:       t.Raw,
			Message:   fmt.Sprintf("error: %v", err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	return Result{
		Threshold: t,
		Raw:       t.Raw,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.4g %s %.4g", status, t.Raw, actual, t.Operator, t.Value),
	}
}

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
//   - "checks_failed:rate < 0.01"     (failed checks / attempted)
//   - "checks_failed:count == 0"      (failed checks)
//   - "checks_passed:count >= 1000"   (passed checks)
//   - "http_req_duration:avg < 200"   (attempt-weighted mean latency in ms)
//   - "http_req_duration:max < 1000"  (max latency in ms)
//   - "http_requests:rate > 100"      (attempted requests per second)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := pattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: metric:aggregate operator value, e.g., 'checks_failed:rate < 0.01')", s)
	}

	metric, aggregate, operator, valueStr := matches[1], matches[2], matches[3], matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	allowed, ok := aggregates[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: checks_failed, checks_passed, http_req_duration, http_requests)", metric)
	}
	if !contains(allowed, aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", aggregate, metric, strings.Join(allowed, ", "))
	}
	if !contains(operators, operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errors []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errors = append(errors, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errors, "; "))
	}

	return result, nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func extractMetricValue(t Threshold, totals campaign.Totals, elapsed time.Duration) (float64, error) {
	switch t.Metric + ":" + t.Aggregate {
	case "checks_failed:count":
		return float64(totals.Failed), nil
	case "checks_failed:rate":
		return totals.FailureRate(), nil
	case "checks_passed:count":
		return float64(totals.Passed), nil
	case "checks_passed:rate":
		if totals.Attempted == 0 {
			return 0, nil
		}
		return float64(totals.Passed) / float64(totals.Attempted), nil
	case "http_req_duration:avg":
		return milliseconds(totals.MeanLatency), nil
	case "http_req_duration:max":
		return milliseconds(totals.MaxLatency), nil
	case "http_requests:count":
		return float64(totals.Attempted), nil
	case "http_requests:rate":
		if elapsed <= 0 {
			return 0, nil
		}
		return float64(totals.Attempted) / elapsed.Seconds(), nil
	default:
		return 0, fmt.Errorf("unsupported threshold %s:%s", t.Metric, t.Aggregate)
	}
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func compareValues(actual float64, operator string, expected float64) bool {
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
