// Package tracing installs the OpenTelemetry tracer provider used to
// thread trace/span/parent-span identifiers through autonomic ticks and
// Pulse turns (spec.md §3 "autonomic_audit ... optional trace/span/
// parent-span identifiers for observability"; §4.9 step 1 "refresh
// trace/span context"). Grounded on
// _examples/r3e-network-service_layer/pkg/tracing/otlp.go's
// resource+batcher+shutdown-func tracer-provider shape, swapped from its
// gRPC OTLP exporter to the otlptracehttp exporter this repo's go.mod
// actually carries.
package tracing

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/machina/internal/config"
)

const instrumentationName = "github.com/nextlevelbuilder/machina"

// Setup installs a global tracer provider per cfg and returns a shutdown
// func to call during graceful shutdown. When cfg.Enabled is false, it
// installs nothing and returns the current global provider (otel's
// built-in no-op by default), so callers can always take a span without
// branching on whether telemetry is on.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (trace.TracerProvider, func(context.Context) error, error) {
	if !cfg.Enabled {
		// Leave whatever provider is already installed (otel defaults to
		// an internal no-op until SetTracerProvider is called), so Tracer()
		// always works without a branch on cfg.Enabled.
		return otel.GetTracerProvider(), func(context.Context) error { return nil }, nil
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, nil, fmt.Errorf("telemetry.endpoint required when telemetry.enabled")
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "machina"
	}
	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return provider, provider.Shutdown, nil
}

// Tracer returns the package-wide tracer, reading whatever provider is
// currently installed globally (otel's default no-op, or the one Setup
// installed).
func Tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer(instrumentationName)
}

// StartTick opens the span for one autonomic heartbeat tick (spec.md
// §4.9 step 1 "refresh trace/span context").
func StartTick(ctx context.Context) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "autonomic.tick")
}

// StartTurn opens the span for one Pulse Executor turn, tagged with the
// chat id so a trace backend can filter per-conversation.
func StartTurn(ctx context.Context, chatID string) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, "pulse.turn")
	span.SetAttributes(attribute.String("chat_id", chatID))
	return ctx, span
}

// StartLevel opens a child span for one autonomic level handler's run.
func StartLevel(ctx context.Context, level string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "autonomic.level."+level)
}

// IDs extracts the hex trace/span identifiers from ctx's current span,
// for embedding into an autonomic_audit record (spec.md §3). Returns
// empty strings when ctx carries no recording span, so callers can embed
// them unconditionally with `omitempty`.
func IDs(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}
