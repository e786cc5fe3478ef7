package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config describes the tracer provider installed by InitOpenTelemetry.
type Config struct {
	ServiceName string
	Version     string
	// SampleRatio is the fraction of root invocations sampled, clamped to [0,1].
	SampleRatio float64
}

func (c Config) sampler() sdktrace.Sampler {
	ratio := c.SampleRatio
	switch {
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

var (
	providerMu sync.Mutex
	provider   *sdktrace.TracerProvider
)

// InitOpenTelemetry installs a process-wide tracer provider. A second call
// while a provider is installed is a no-op.
func InitOpenTelemetry(cfg Config) error {
	providerMu.Lock()
	defer providerMu.Unlock()
	if provider != nil {
		return nil
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.Version),
	))
	if err != nil {
		return err
	}

	provider = sdktrace.NewTracerProvider(
		sdktrace.WithSampler(cfg.sampler()),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return nil
}

// ShutdownOpenTelemetry flushes the provider and uninstalls it, so a later
// InitOpenTelemetry starts a fresh one.
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.Lock()
	tp := provider
	provider = nil
	providerMu.Unlock()

	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span and stores its trace id in the context when none
// is present yet. Unsampled spans get a uuid trace id so logs still correlate.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
	if GetTraceID(ctx) != "" {
		return ctx, span
	}
	if sc := span.SpanContext(); sc.IsValid() {
		return WithTraceID(ctx, sc.TraceID().String()), span
	}
	return WithTraceID(ctx, NewTraceID()), span
}

// InvocationSpan is the span around one tool invocation.
type InvocationSpan struct {
	span trace.Span
}

// StartInvocation opens a "tool.invoke" span for the requested tool name and
// records the invocation id on it and in the context.
func StartInvocation(ctx context.Context, tracerName, requested, invocationID string) (context.Context, *InvocationSpan) {
	ctx = WithInvocationID(ctx, invocationID)
	ctx, span := StartSpan(ctx, tracerName, "tool.invoke",
		attribute.String("tool.requested", requested),
		attribute.String("invocation.id", invocationID),
	)
	return ctx, &InvocationSpan{span: span}
}

// Finish records the outcome and ends the span. kind and message are only
// recorded for failures.
func (s *InvocationSpan) Finish(toolID string, success bool, kind, message string) {
	s.span.SetAttributes(
		attribute.String("tool.id", toolID),
		attribute.Bool("invocation.success", success),
	)
	if !success {
		s.span.SetAttributes(attribute.String("invocation.kind", kind))
		s.span.SetStatus(codes.Error, message)
	}
	s.span.End()
}
