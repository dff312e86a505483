package output

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/torosent/loadcheck/internal/campaign"
	"github.com/torosent/loadcheck/internal/config"
	"github.com/torosent/loadcheck/internal/metrics"
	"github.com/torosent/loadcheck/internal/threshold"
)

func sampleReport() campaign.Report {
	return campaign.Report{
		RunID:      "01J0000000000000000000TEST",
		StartedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration:   2 * time.Second,
		DurationMs: 2000,
		Endpoints: []metrics.EndpointReport{
			{
				Name: "GET /api/exchange-rates", Method: "GET", Route: "/api/exchange-rates",
				Load: 100, Attempted: 100, Passed: 97, Failed: 3,
				Statuses:        map[string]int{"200": 97, "0": 3},
				TransportErrors: map[string]int{"Connection Refused": 3},
				Failures:        []metrics.FailureSample{{Index: 4, Reason: "transport error: connection refused"}},
				Latency:         metrics.LatencySummary{Min: time.Millisecond, Mean: 5 * time.Millisecond, Max: 20 * time.Millisecond, MeanMs: 5},
				Duration:        time.Second,
			},
			{
				Name: "POST /api/orders", Method: "POST", Route: "/api/orders",
				Load: 50, Attempted: 10, Passed: 10, Interrupted: true,
				Statuses: map[string]int{"201": 10},
			},
		},
		Interrupted: true,
	}
}

func TestPrintReportText(t *testing.T) {
	results := []threshold.Result{{Raw: "checks_failed:count == 0", Message: "✗ checks_failed:count == 0: 3 == 0"}}

	var buf bytes.Buffer
	PrintReport(&buf, sampleReport(), results)
	out := buf.String()

	for _, want := range []string{
		"Run:               01J0000000000000000000TEST",
		"Requests:          110/150",
		"Failed:            3 (2.73%)",
		"INTERRUPTED",
		"[FAIL] GET /api/exchange-rates",
		"[PARTIAL] POST /api/orders",
		"0 (no response): 3",
		"Connection Refused: 3",
		"#4: transport error: connection refused",
		"✗ checks_failed:count == 0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("text report missing %q:\n%s", want, out)
		}
	}
	// Endpoints are listed in declaration order.
	if strings.Index(out, "exchange-rates") > strings.Index(out, "/api/orders") {
		t.Error("endpoints out of declaration order")
	}
}

func TestPrintJSONReport(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintJSONReport(&buf, sampleReport(), nil); err != nil {
		t.Fatalf("PrintJSONReport() error = %v", err)
	}

	var doc struct {
		RunID       string  `json:"run_id"`
		Interrupted bool    `json:"interrupted"`
		FailureRate float64 `json:"failure_rate"`
		Totals      struct {
			Attempted int `json:"attempted"`
			Failed    int `json:"failed"`
		} `json:"totals"`
		Endpoints []struct {
			Name     string         `json:"name"`
			Statuses map[string]int `json:"statuses"`
		} `json:"endpoints"`
		Thresholds []any `json:"thresholds"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if doc.RunID != "01J0000000000000000000TEST" || !doc.Interrupted {
		t.Errorf("run_id/interrupted = %q/%v", doc.RunID, doc.Interrupted)
	}
	if doc.Totals.Attempted != 110 || doc.Totals.Failed != 3 {
		t.Errorf("totals = %+v", doc.Totals)
	}
	if len(doc.Endpoints) != 2 || doc.Endpoints[1].Name != "POST /api/orders" {
		t.Errorf("endpoints = %+v", doc.Endpoints)
	}
	if doc.Endpoints[0].Statuses["0"] != 3 {
		t.Errorf("statuses = %v", doc.Endpoints[0].Statuses)
	}
	if doc.Thresholds != nil {
		t.Errorf("thresholds should be omitted, got %v", doc.Thresholds)
	}
}

func TestPrintJSONReportEmptyCampaign(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintJSONReport(&buf, campaign.Report{RunID: "x"}, nil); err != nil {
		t.Fatalf("PrintJSONReport() error = %v", err)
	}
	if !strings.Contains(buf.String(), `"endpoints": []`) {
		t.Fatalf("empty campaign should report an empty endpoint list:\n%s", buf.String())
	}
}

func TestPrintYAMLReport(t *testing.T) {
	results := []threshold.Result{{Raw: "checks_failed:rate < 0.5", Actual: 0.027, Pass: true, Message: "ok"}}

	var buf bytes.Buffer
	if err := PrintYAMLReport(&buf, sampleReport(), results); err != nil {
		t.Fatalf("PrintYAMLReport() error = %v", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("invalid YAML: %v\n%s", err, buf.String())
	}
	if doc["run_id"] != "01J0000000000000000000TEST" {
		t.Errorf("run_id = %v", doc["run_id"])
	}
	endpoints, ok := doc["endpoints"].([]any)
	if !ok || len(endpoints) != 2 {
		t.Fatalf("endpoints = %#v", doc["endpoints"])
	}
	thresholds, ok := doc["thresholds"].([]any)
	if !ok || len(thresholds) != 1 {
		t.Fatalf("thresholds = %#v", doc["thresholds"])
	}
	if _, ok := doc["Report"]; ok {
		t.Error("embedded report should be inlined")
	}
}

func TestRender(t *testing.T) {
	for _, format := range []config.OutputFormat{config.OutputText, config.OutputJSON, config.OutputYAML, ""} {
		var buf bytes.Buffer
		if err := Render(&buf, format, sampleReport(), nil); err != nil {
			t.Errorf("Render(%q) error = %v", format, err)
		}
		if buf.Len() == 0 {
			t.Errorf("Render(%q) wrote nothing", format)
		}
	}
	if err := Render(&bytes.Buffer{}, "xml", sampleReport(), nil); err == nil {
		t.Error("Render(xml) error = nil, want error")
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	if err := os.WriteFile(path, []byte("stale"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := WriteFile(context.Background(), path, config.OutputJSON, sampleReport(), nil); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !json.Valid(data) {
		t.Fatalf("report file is not JSON:\n%s", data)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temporary file %s left behind", e.Name())
		}
	}
}

func TestWriteFileWaitsForLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.yaml")

	held := flock.New(path + ".lock")
	if err := held.Lock(); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	defer func() { _ = held.Unlock() }()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	err := WriteFile(ctx, path, config.OutputYAML, sampleReport(), nil)
	if err == nil {
		t.Fatal("WriteFile() error = nil while the lock is held")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Errorf("report written despite the lock: %v", statErr)
	}
}
