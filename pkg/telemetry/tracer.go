// Package telemetry provides OpenTelemetry tracing for launchpad.
// Tracing is disabled unless an OTLP endpoint or the debug exporter is configured.
package telemetry

import (
	"context"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "launchpad"

var (
	mu             sync.RWMutex
	tracer         trace.Tracer
	tracerProvider *sdktrace.TracerProvider
	initOnce       sync.Once
)

// Config holds telemetry configuration
type Config struct {
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint is the OTLP/gRPC collector endpoint (e.g. localhost:4317)
	OTLPEndpoint string
	// Debug pretty-prints spans to stderr
	Debug bool
}

// DefaultConfig reads the standard OTEL endpoint and LAUNCHPAD_TRACE_DEBUG
func DefaultConfig(version string) Config {
	return Config{
		ServiceName:    instrumentationName,
		ServiceVersion: version,
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Debug:          os.Getenv("LAUNCHPAD_TRACE_DEBUG") == "1",
	}
}

// Init sets up the tracer provider once. Without an exporter it installs a noop tracer.
func Init(cfg Config) error {
	var err error
	initOnce.Do(func() {
		err = initTracer(cfg)
	})
	return err
}

func initTracer(cfg Config) error {
	if cfg.OTLPEndpoint == "" && !cfg.Debug {
		setTracer(noop.NewTracerProvider().Tracer(instrumentationName), nil)
		return nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var exporter sdktrace.SpanExporter
	if cfg.Debug {
		exporter, err = stdouttrace.New(
			stdouttrace.WithWriter(os.Stderr),
			stdouttrace.WithPrettyPrint(),
		)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		))
	}
	if err != nil {
		return err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	setTracer(tp.Tracer(instrumentationName), tp)
	return nil
}

func setTracer(t trace.Tracer, tp *sdktrace.TracerProvider) {
	mu.Lock()
	defer mu.Unlock()
	tracer = t
	tracerProvider = tp
}

// Shutdown flushes pending spans
func Shutdown(ctx context.Context) error {
	mu.RLock()
	tp := tracerProvider
	mu.RUnlock()
	if tp != nil {
		return tp.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the configured tracer, or a noop tracer before Init
func Tracer() trace.Tracer {
	mu.RLock()
	defer mu.RUnlock()
	if tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return tracer
}

// StartSpan starts a new span with the given name
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// TraceRequest starts a span for a REST call to the backend
func TraceRequest(ctx context.Context, method, path string) (context.Context, trace.Span) {
	return StartSpan(ctx, "api.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", path),
		),
	)
}

// TraceStreamConnect starts a span for one log stream connection attempt
func TraceStreamConnect(ctx context.Context, deploymentID string, attempt int) (context.Context, trace.Span) {
	return StartSpan(ctx, "stream.connect",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("deployment.id", deploymentID),
			attribute.Int("stream.attempt", attempt),
		),
	)
}

// TracePoll starts a span for one status poll tick
func TracePoll(ctx context.Context, deploymentID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "poller.tick",
		trace.WithAttributes(attribute.String("deployment.id", deploymentID)),
	)
}

// EndSpan records err on span, if any, and ends it
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
