package tracing

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/loadcheck/internal/check"
	"github.com/torosent/loadcheck/internal/endpoint"
)

const (
	endpointKey = attribute.Key("loadcheck.endpoint")
	loadKey     = attribute.Key("loadcheck.load")
)

// StartRequest starts the client span for one request to d at url. The span
// is named after the endpoint's report label.
func (p *Provider) StartRequest(ctx context.Context, d endpoint.Descriptor, url string) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, d.Label(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(d.Method),
			semconv.URLFull(url),
			endpointKey.String(d.Label()),
			loadKey.Int(d.Load),
		),
	)
}

// EndRequest records what the request observed and ends span. Transport
// errors and 4xx/5xx responses mark the span as an error, whatever the
// endpoint's check expects.
func EndRequest(span trace.Span, observed check.Observed) {
	switch {
	case observed.Err != nil:
		span.RecordError(observed.Err)
		span.SetStatus(codes.Error, observed.Err.Error())
	case observed.Status >= http.StatusBadRequest:
		span.SetAttributes(semconv.HTTPResponseStatusCode(observed.Status))
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", observed.Status))
	default:
		span.SetAttributes(semconv.HTTPResponseStatusCode(observed.Status))
	}
	span.End()
}

// Inject writes W3C trace context for ctx into headers when propagation is
// enabled.
func (p *Provider) Inject(ctx context.Context, headers http.Header) {
	if !p.ShouldPropagate() {
		return
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
