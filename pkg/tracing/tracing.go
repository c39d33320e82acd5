// Package tracing exports OpenTelemetry spans to Jaeger and provides the span
// helpers used around signaling, the control API and the event feed.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "midilink"

// Provider owns the SDK tracer provider installed by Init.
type Provider struct {
	sdk *tracesdk.TracerProvider
}

type Config struct {
	Enabled     bool
	ServiceName string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "midilink",
		JaegerURL:   "http://localhost:14268/api/traces",
		Environment: "local",
		SampleRate:  1.0,
	}
}

type Option func(*options)

type options struct {
	processors []tracesdk.SpanProcessor
}

// WithSpanProcessor adds a processor next to the Jaeger exporter. With
// tracing disabled, spans are sampled only for these processors.
func WithSpanProcessor(p tracesdk.SpanProcessor) Option {
	return func(o *options) { o.processors = append(o.processors, p) }
}

// Init installs the global tracer provider. It is a no-op when tracing is
// disabled and no processor was given.
func Init(cfg Config, opts ...Option) (*Provider, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if !cfg.Enabled && len(o.processors) == 0 {
		return &Provider{}, nil
	}

	sampler := tracesdk.AlwaysSample()
	var providerOpts []tracesdk.TracerProviderOption
	if cfg.Enabled {
		exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
		if err != nil {
			return nil, fmt.Errorf("create jaeger exporter: %w", err)
		}
		providerOpts = append(providerOpts, tracesdk.WithBatcher(exp))
		sampler = tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))
	}
	for _, p := range o.processors {
		providerOpts = append(providerOpts, tracesdk.WithSpanProcessor(p))
	}

	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceNameKey.String(cfg.ServiceName),
		attribute.String("deployment.environment", cfg.Environment),
	)
	providerOpts = append(providerOpts,
		tracesdk.WithResource(res),
		tracesdk.WithSampler(sampler),
	)

	sdk := tracesdk.NewTracerProvider(providerOpts...)
	otel.SetTracerProvider(sdk)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Provider{sdk: sdk}, nil
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}

var (
	SessionIDKey = attribute.Key("session.id")
	RoleKey      = attribute.Key("session.role")
	FrameKey     = attribute.Key("feed.frame")
	TargetKey    = attribute.Key("midi.target")
)

func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError marks the span in ctx as failed.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err == nil || !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return StartSpan(ctx, "http."+method,
		semconv.HTTPMethodKey.String(method),
		semconv.HTTPRouteKey.String(route),
	)
}

// TraceSignaling wraps one step of the offer/answer handshake.
func TraceSignaling(ctx context.Context, operation string, sessionID uint64, role string) (context.Context, trace.Span) {
	return StartSpan(ctx, "signaling."+operation,
		SessionIDKey.Int64(int64(sessionID)),
		RoleKey.String(role),
	)
}

// TraceFeedRequest wraps a request frame received on the event feed.
func TraceFeedRequest(ctx context.Context, frameType, target string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{FrameKey.String(frameType)}
	if target != "" {
		attrs = append(attrs, TargetKey.String(target))
	}
	return StartSpan(ctx, "feed."+frameType, attrs...)
}
