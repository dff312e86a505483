package httpclient

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/torosent/loadcheck/internal/endpoint"
	"github.com/torosent/loadcheck/internal/tracing"
)

func mockClient() (*http.Client, *httpmock.MockTransport) {
	transport := httpmock.NewMockTransport()
	return &http.Client{Transport: transport}, transport
}

func mustDescriptor(t *testing.T, route, method string, status int, opts ...endpoint.Option) endpoint.Descriptor {
	t.Helper()
	d, err := endpoint.New(route, method, 1, endpoint.Expected{Status: status}, opts...)
	if err != nil {
		t.Fatalf("endpoint.New() error = %v", err)
	}
	return d
}

func TestNewExecutorRejectsBadBaseURL(t *testing.T) {
	for _, base := range []string{"ftp://example.com", "http://", "://nope"} {
		if _, err := NewExecutor(nil, Options{BaseURL: base}); err == nil {
			t.Errorf("NewExecutor(%q) error = nil, want error", base)
		}
	}
}

func TestResolve(t *testing.T) {
	exec, err := NewExecutor(nil, Options{BaseURL: "http://api.local/v1/"})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	tests := []struct {
		route   string
		want    string
		wantErr bool
	}{
		{route: "/orders", want: "http://api.local/v1/orders"},
		{route: "orders?limit=5", want: "http://api.local/v1/orders?limit=5"},
		{route: "https://other.local/health", want: "https://other.local/health"},
		{route: "ws://other.local/socket", wantErr: true},
		{route: "  ", wantErr: true},
	}
	for _, tt := range tests {
		got, err := exec.resolve(tt.route)
		if tt.wantErr {
			if err == nil {
				t.Errorf("resolve(%q) = %q, want error", tt.route, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("resolve(%q) error = %v", tt.route, err)
			continue
		}
		if got != tt.want {
			t.Errorf("resolve(%q) = %q, want %q", tt.route, got, tt.want)
		}
	}
}

func TestPrepareRequiresBaseURLForRelativeRoutes(t *testing.T) {
	exec, err := NewExecutor(nil, Options{})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	_, err = exec.Prepare(mustDescriptor(t, "/orders", "GET", 200))
	if !errors.Is(err, endpoint.ErrInvalidDescriptor) {
		t.Fatalf("Prepare() error = %v, want ErrInvalidDescriptor", err)
	}
	if !strings.Contains(err.Error(), "needs a base url") {
		t.Fatalf("Prepare() error = %v", err)
	}
}

func TestPrepareCollectsAllIssues(t *testing.T) {
	exec, err := NewExecutor(nil, Options{})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	d := endpoint.Descriptor{
		Route:    "/relative",
		Method:   "POST",
		Load:     1,
		Headers:  map[string]string{"X-Bad\n": "v", "X-Ok": "line\r\nbreak"},
		Body:     endpoint.Body{File: filepath.Join(t.TempDir(), "missing.json")},
		Expected: endpoint.Expected{Status: 200},
	}

	_, err = exec.Prepare(d)
	var invalid *endpoint.InvalidDescriptorError
	if !errors.As(err, &invalid) {
		t.Fatalf("Prepare() error = %v, want *InvalidDescriptorError", err)
	}
	if len(invalid.Issues) != 4 {
		t.Fatalf("issues = %q, want 4", invalid.Issues)
	}
}

func TestTargetExecuteSendsRequest(t *testing.T) {
	var gotMethod, gotBody, gotAgent, gotType, gotTrace string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAgent = r.Header.Get("User-Agent")
		gotType = r.Header.Get("Content-Type")
		gotTrace = r.Header.Get("X-Trace-Id")
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		w.Header().Set("X-Order", "42")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":42}`))
	}))
	defer srv.Close()

	exec, err := NewExecutor(srv.Client(), Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	d := mustDescriptor(t, "/orders", "post", 201,
		endpoint.WithHeaders(map[string]string{"x-trace-id": "abc"}),
		endpoint.WithBody(endpoint.Body{Content: `{"qty":1}`, ContentType: "application/json"}))

	target, err := exec.Prepare(d)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if target.URL() != srv.URL+"/orders" {
		t.Fatalf("URL() = %q", target.URL())
	}

	for i := 0; i < 2; i++ {
		observed := target.Execute(context.Background())
		if observed.Err != nil {
			t.Fatalf("Execute() error = %v", observed.Err)
		}
		if observed.Status != http.StatusCreated {
			t.Fatalf("status = %d, want 201", observed.Status)
		}
		if observed.Elapsed <= 0 {
			t.Fatalf("elapsed = %s, want > 0", observed.Elapsed)
		}
		if observed.Header.Get("X-Order") != "42" {
			t.Fatalf("response headers = %v", observed.Header)
		}
		if gotMethod != http.MethodPost || gotBody != `{"qty":1}` {
			t.Fatalf("request %d: method/body = %s %q", i, gotMethod, gotBody)
		}
		if gotAgent != defaultUserAgent || gotType != "application/json" || gotTrace != "abc" {
			t.Fatalf("request %d: headers agent=%q type=%q trace=%q", i, gotAgent, gotType, gotTrace)
		}
	}
}

func TestTargetExecuteReadsBodyOnlyWhenChecked(t *testing.T) {
	client, transport := mockClient()
	transport.RegisterResponder(http.MethodGet, "http://api.local/status",
		httpmock.NewStringResponder(http.StatusOK, `{"state":"up"}`))

	exec, err := NewExecutor(client, Options{BaseURL: "http://api.local"})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	plain, err := exec.Prepare(mustDescriptor(t, "/status", "GET", 200))
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if observed := plain.Execute(context.Background()); observed.Body != nil {
		t.Fatalf("body = %q, want nil when no body check is configured", observed.Body)
	}

	d, err := endpoint.New("/status", "GET", 1, endpoint.Expected{
		Status: 200,
		JSON:   []endpoint.JSONAssertion{{Path: "state", Equals: "up"}},
	})
	if err != nil {
		t.Fatalf("endpoint.New() error = %v", err)
	}
	checked, err := exec.Prepare(d)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if observed := checked.Execute(context.Background()); string(observed.Body) != `{"state":"up"}` {
		t.Fatalf("body = %q", observed.Body)
	}
	if got := transport.GetTotalCallCount(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestTargetExecuteTransportError(t *testing.T) {
	client, transport := mockClient()
	transport.RegisterResponder(http.MethodGet, "http://api.local/down",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	exec, err := NewExecutor(client, Options{BaseURL: "http://api.local"})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	observed := exec.Execute(context.Background(), mustDescriptor(t, "/down", "GET", 200))
	if observed.Err == nil || !strings.Contains(observed.Err.Error(), "connection refused") {
		t.Fatalf("Err = %v, want connection refused", observed.Err)
	}
	if observed.Status != 0 {
		t.Fatalf("status = %d, want 0", observed.Status)
	}
}

func TestExecuteReportsPrepareErrors(t *testing.T) {
	exec, err := NewExecutor(nil, Options{})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	observed := exec.Execute(context.Background(), mustDescriptor(t, "/relative", "GET", 200))
	if !errors.Is(observed.Err, endpoint.ErrInvalidDescriptor) || observed.Status != 0 {
		t.Fatalf("observed = %+v, want invalid descriptor error", observed)
	}
}

func TestTargetExecuteTracesRequest(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := tracing.NewProvider(
		tracing.Resource("loadcheck", "01HZXRUNID"),
		sdktrace.NewSimpleSpanProcessor(exporter),
		sdktrace.AlwaysSample(),
		true,
	)
	defer func() { _ = provider.Shutdown(context.Background()) }()

	var traceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("Traceparent")
	}))
	defer srv.Close()

	exec, err := NewExecutor(srv.Client(), Options{BaseURL: srv.URL, Tracing: provider})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	observed := exec.Execute(context.Background(), mustDescriptor(t, "/rates", "GET", 200))
	if observed.Err != nil {
		t.Fatalf("Execute() error = %v", observed.Err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	span := spans[0]
	if span.Name != "GET /rates" {
		t.Errorf("span name = %q", span.Name)
	}
	if !strings.Contains(traceparent, span.SpanContext.TraceID().String()) {
		t.Errorf("traceparent %q does not carry trace %s", traceparent, span.SpanContext.TraceID())
	}
	if v, ok := span.Resource.Set().Value(tracing.RunIDKey); !ok || v.AsString() != "01HZXRUNID" {
		t.Errorf("run id resource attribute = %v (present %v)", v.AsString(), ok)
	}
	attrs := attribute.NewSet(span.Attributes...)
	if v, _ := attrs.Value("url.full"); v.AsString() != srv.URL+"/rates" {
		t.Errorf("url.full = %q", v.AsString())
	}
	if v, _ := attrs.Value("http.response.status_code"); v.AsInt64() != 200 {
		t.Errorf("http.response.status_code = %d", v.AsInt64())
	}
}

func TestTargetExecuteSkipsPropagationWhenDisabled(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := tracing.NewProvider(
		tracing.Resource("loadcheck", ""),
		sdktrace.NewSimpleSpanProcessor(exporter),
		sdktrace.AlwaysSample(),
		false,
	)
	defer func() { _ = provider.Shutdown(context.Background()) }()

	var traceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("Traceparent")
	}))
	defer srv.Close()

	exec, err := NewExecutor(srv.Client(), Options{BaseURL: srv.URL, Tracing: provider})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	exec.Execute(context.Background(), mustDescriptor(t, "/", "GET", 200))

	if traceparent != "" {
		t.Errorf("traceparent = %q, want none", traceparent)
	}
	if len(exporter.GetSpans()) != 1 {
		t.Errorf("spans = %d, want 1 even without propagation", len(exporter.GetSpans()))
	}
}

func TestTargetExecuteBodyFileIsReread(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.txt")
	if err := os.WriteFile(path, []byte("from file"), 0o600); err != nil {
		t.Fatalf("write body file: %v", err)
	}

	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(data))
	}))
	defer srv.Close()

	exec, err := NewExecutor(srv.Client(), Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	target, err := exec.Prepare(mustDescriptor(t, "/upload", "PUT", 200,
		endpoint.WithBody(endpoint.Body{File: path})))
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if observed := target.Execute(context.Background()); observed.Err != nil {
			t.Fatalf("Execute() error = %v", observed.Err)
		}
	}
	if len(bodies) != 3 || bodies[2] != "from file" {
		t.Fatalf("bodies = %q", bodies)
	}
}

func TestClientTimeoutApplied(t *testing.T) {
	timeout := 50 * time.Millisecond
	client := NewClient(timeout, 4)
	defer client.CloseIdleConnections()

	if client.Timeout != timeout {
		t.Fatalf("expected client timeout %s, got %s", timeout, client.Timeout)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(timeout * 3)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	exec, err := NewExecutor(client, Options{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	start := time.Now()
	observed := exec.Execute(context.Background(), mustDescriptor(t, "/slow", "GET", 200))
	elapsed := time.Since(start)
	if observed.Err == nil {
		t.Fatalf("expected timeout error, got status %d", observed.Status)
	}
	if elapsed < timeout {
		t.Fatalf("request returned too quickly: %s < %s", elapsed, timeout)
	}
	if elapsed > timeout*5 {
		t.Fatalf("request took too long: %s", elapsed)
	}
	if !errors.Is(observed.Err, context.DeadlineExceeded) {
		var netErr net.Error
		if !errors.As(observed.Err, &netErr) || !netErr.Timeout() {
			t.Fatalf("expected timeout error, got %v", observed.Err)
		}
	}

	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}
	if transport.MaxIdleConnsPerHost != 4 {
		t.Fatalf("MaxIdleConnsPerHost = %d, want 4", transport.MaxIdleConnsPerHost)
	}
	if transport.IdleConnTimeout == 0 {
		t.Fatalf("expected transport to set idle connection timeout")
	}
}
