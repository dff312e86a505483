package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/torosent/loadcheck/internal/check"
	"github.com/torosent/loadcheck/internal/endpoint"
	"github.com/torosent/loadcheck/internal/tracing"
)

const (
	maxBodyReadSize  = 1024 * 1024
	defaultUserAgent = "loadcheck"
)

// Options configure an Executor.
type Options struct {
	BaseURL   string            // prefix for relative routes
	UserAgent string            // sent unless the endpoint sets its own
	Tracing   *tracing.Provider // optional; nil disables spans and propagation
}

// Executor issues single HTTP requests for endpoint descriptors. It holds no
// per-request state; one Executor and its client are shared by every worker.
type Executor struct {
	client    *http.Client
	base      *url.URL
	userAgent string
	tracing   *tracing.Provider
}

// NewExecutor creates an Executor around client. A nil client gets NewClient(0, 0).
func NewExecutor(client *http.Client, opts Options) (*Executor, error) {
	if client == nil {
		client = NewClient(0, 0)
	}
	exec := &Executor{
		client:    client,
		userAgent: strings.TrimSpace(opts.UserAgent),
		tracing:   opts.Tracing,
	}
	if exec.userAgent == "" {
		exec.userAgent = defaultUserAgent
	}

	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		parsed, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("base url: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return nil, fmt.Errorf("base url %q must use http or https", base)
		}
		if parsed.Host == "" {
			return nil, fmt.Errorf("base url %q has no host", base)
		}
		exec.base = parsed
	}
	return exec, nil
}

// Target is a descriptor bound to a resolved URL, headers and body source,
// ready to be executed any number of times.
type Target struct {
	exec     *Executor
	desc     endpoint.Descriptor
	url      string
	headers  http.Header
	body     BodySource
	readBody bool
}

// URL returns the absolute URL requests are sent to.
func (t *Target) URL() string {
	return t.url
}

// Prepare resolves d against the executor. Descriptors that cannot be turned
// into a request (bad route, bad header, unreadable body file) are rejected
// with an error matching endpoint.ErrInvalidDescriptor.
func (e *Executor) Prepare(d endpoint.Descriptor) (*Target, error) {
	if e == nil {
		return nil, errors.New("executor cannot be nil")
	}

	var issues []string

	target, err := e.resolve(d.Route)
	if err != nil {
		issues = append(issues, err.Error())
	}

	headers, headerIssues := buildHeaders(d.Headers)
	issues = append(issues, headerIssues...)

	body, err := NewBodySource(d.Body)
	if err != nil {
		issues = append(issues, err.Error())
	}

	if len(issues) > 0 {
		return nil, endpoint.Invalid(d, issues...)
	}

	if headers.Get("User-Agent") == "" {
		headers.Set("User-Agent", e.userAgent)
	}
	if d.Body.ContentType != "" && headers.Get("Content-Type") == "" {
		headers.Set("Content-Type", d.Body.ContentType)
	}

	return &Target{
		exec:     e,
		desc:     d,
		url:      target,
		headers:  headers,
		body:     body,
		readBody: check.NeedsBody(d.Expected),
	}, nil
}

// Execute performs exactly one request for d. Preparation and transport
// failures are reported through Observed.Err with Status 0; it never retries.
func (e *Executor) Execute(ctx context.Context, d endpoint.Descriptor) check.Observed {
	target, err := e.Prepare(d)
	if err != nil {
		return check.Observed{Err: err}
	}
	return target.Execute(ctx)
}

// Execute performs one request and returns what was observed.
func (t *Target) Execute(ctx context.Context) check.Observed {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := t.exec.tracing.StartRequest(ctx, t.desc, t.url)
	observed := t.do(ctx)
	tracing.EndRequest(span, observed)
	return observed
}

func (t *Target) do(ctx context.Context) check.Observed {
	start := time.Now()

	reader, err := t.body.NewReader()
	if err != nil {
		return check.Observed{Elapsed: time.Since(start), Err: fmt.Errorf("open body: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, t.desc.Method, t.url, reader)
	if err != nil {
		_ = reader.Close()
		return check.Observed{Elapsed: time.Since(start), Err: err}
	}
	req.Header = t.headers.Clone()
	if length, ok := t.body.ContentLength(); ok {
		req.ContentLength = length
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return t.body.NewReader()
	}
	t.exec.tracing.Inject(ctx, req.Header)

	resp, err := t.exec.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return check.Observed{Elapsed: latency, Err: err}
	}
	defer resp.Body.Close()

	var body []byte
	if t.readBody {
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyReadSize))
		if err != nil {
			return check.Observed{Elapsed: latency, Err: fmt.Errorf("read body: %w", err)}
		}
	}
	// Drain so the connection goes back to the pool.
	_, _ = io.Copy(io.Discard, resp.Body)

	return check.Observed{
		Status:  resp.StatusCode,
		Elapsed: latency,
		Header:  resp.Header,
		Body:    body,
	}
}

func (e *Executor) resolve(route string) (string, error) {
	route = strings.TrimSpace(route)
	if route == "" {
		return "", errors.New("route is required")
	}
	ref, err := url.Parse(route)
	if err != nil {
		return "", fmt.Errorf("route %q: %w", route, err)
	}

	if !ref.IsAbs() {
		if e.base == nil {
			return "", fmt.Errorf("relative route %q needs a base url", route)
		}
		joined := *e.base
		joined.Path = strings.TrimRight(e.base.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
		joined.RawPath = ""
		joined.RawQuery = ref.RawQuery
		joined.Fragment = ""
		ref = &joined
	}

	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", fmt.Errorf("route %q must use http or https", route)
	}
	if ref.Host == "" {
		return "", fmt.Errorf("route %q has no host", route)
	}
	return ref.String(), nil
}

func buildHeaders(values map[string]string) (http.Header, []string) {
	headers := http.Header{}
	var issues []string

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := values[key]
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || strings.ContainsAny(trimmedKey, "\r\n: ") {
			issues = append(issues, fmt.Sprintf("invalid header key %q", key))
			continue
		}
		canonicalKey := http.CanonicalHeaderKey(trimmedKey)
		if strings.ContainsAny(value, "\r\n") {
			issues = append(issues, fmt.Sprintf("invalid header value for %s", canonicalKey))
			continue
		}
		headers.Set(canonicalKey, value)
	}
	return headers, issues
}

// NewClient creates an HTTP client tuned for load generation. maxIdlePerHost
// should be at least the number of workers hitting one host; values <= 0 use 32.
func NewClient(timeout time.Duration, maxIdlePerHost int) *http.Client {
	if timeout < 0 {
		timeout = 0
	}
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = 32
	}
	maxIdle := 256
	if maxIdlePerHost > maxIdle {
		maxIdle = maxIdlePerHost
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
