// Package tracing wires OpenTelemetry into request execution: one client span
// per request, OTLP export over gRPC or HTTP, and optional W3C trace context
// propagation to the system under test.
package tracing

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/torosent/loadcheck/internal/config"
)

const (
	defaultServiceName = "loadcheck"
	instrumentation    = "github.com/torosent/loadcheck"
)

// RunIDKey is the resource attribute that ties every span of a campaign to
// its report.
const RunIDKey = attribute.Key("loadcheck.run_id")

// Provider hands out request spans for one campaign. A nil or disabled
// Provider records nothing.
type Provider struct {
	tp        *sdktrace.TracerProvider
	tracer    trace.Tracer
	propagate bool
}

// Init builds the span pipeline for the campaign identified by runID. Without
// a collector endpoint (config or OTEL_EXPORTER_OTLP_ENDPOINT) nothing is
// exported, but an explicit propagate setting is still honoured.
func Init(ctx context.Context, cfg config.TracingConfig, runID string) (*Provider, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		return &Provider{propagate: cfg.ShouldPropagate()}, nil
	}

	sampler, err := newSampler(cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	exporter, err := newExporter(ctx, cfg, endpoint)
	if err != nil {
		return nil, fmt.Errorf("tracing exporter: %w", err)
	}

	return NewProvider(
		Resource(serviceName(cfg), runID),
		sdktrace.NewBatchSpanProcessor(exporter),
		sampler,
		cfg.ShouldPropagate(),
	), nil
}

// NewProvider installs a tracer provider that sends spans for res through
// processor, and makes it and the W3C propagators the process defaults.
func NewProvider(res *resource.Resource, processor sdktrace.SpanProcessor, sampler sdktrace.Sampler, propagate bool) *Provider {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Provider{
		tp:        tp,
		tracer:    tp.Tracer(instrumentation),
		propagate: propagate,
	}
}

// Resource describes a campaign run to the collector.
func Resource(service, runID string) *resource.Resource {
	attrs := []attribute.KeyValue{semconv.ServiceName(service)}
	if runID != "" {
		attrs = append(attrs, RunIDKey.String(runID))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

func serviceName(cfg config.TracingConfig) string {
	if cfg.ServiceName != "" {
		return cfg.ServiceName
	}
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		return name
	}
	return defaultServiceName
}

// newSampler samples a fraction of requests. 1 keeps every span, 0 none.
func newSampler(rate float64) (sdktrace.Sampler, error) {
	switch {
	case rate < 0 || rate > 1:
		return nil, fmt.Errorf("tracing sample_rate must be between 0.0 and 1.0, got %g", rate)
	case rate == 0:
		return sdktrace.NeverSample(), nil
	case rate == 1:
		return sdktrace.AlwaysSample(), nil
	default:
		return sdktrace.TraceIDRatioBased(rate), nil
	}
}

// Tracer returns the campaign tracer, or a no-op tracer when disabled.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentation)
	}
	return p.tracer
}

// ShouldPropagate reports whether W3C trace headers are sent to the target.
func (p *Provider) ShouldPropagate() bool {
	return p != nil && p.propagate
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

func newExporter(ctx context.Context, cfg config.TracingConfig, endpoint string) (sdktrace.SpanExporter, error) {
	switch protocol := strings.ToLower(cfg.Protocol); protocol {
	case "", "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts,
				otlptracegrpc.WithInsecure(),
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			)
		}
		return otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q: use \"grpc\" or \"http\"", protocol)
	}
}
