package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"
)

// Configured indicates whether a trace exporter has been set up. When
// false, StartSpan returns no-op spans.
var Configured bool

// Attrs is a convenience type for span attributes.
type Attrs map[string]string

// Config holds trace export configuration. All fields are optional; with no
// OTLP address set, tracing stays disabled.
type Config struct {
	ServiceName string            `long:"service-name"  default:"proa" description:"service name attached to exported traces"`
	OTLPAddress string            `long:"otlp-address"  description:"OTLP gRPC endpoint for trace export"`
	OTLPHeaders map[string]string `long:"otlp-header"   description:"headers to attach to OTLP requests"`
	OTLPUseTLS  bool              `long:"otlp-use-tls"  description:"use TLS for the OTLP connection"`

	Sampling SamplingConfig
	Metrics  MetricsConfig
}

// Prepare configures the global OTel providers from the Config. It returns
// a shutdown function to flush exporters on process exit. With nothing
// configured it is a no-op returning a nil-safe shutdown.
func (c Config) Prepare(ctx context.Context) (func(context.Context) error, error) {
	var shutdowns []func(context.Context) error

	if c.OTLPAddress != "" {
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(c.OTLPAddress),
			otlptracegrpc.WithHeaders(c.OTLPHeaders),
		}
		if c.OTLPUseTLS {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
		} else {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}

		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, err
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(c.Sampler()),
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(resource.NewSchemaless(
				attribute.String("service.name", c.ServiceName),
			)),
		)
		otel.SetTracerProvider(tp)
		Configured = true
		shutdowns = append(shutdowns, tp.Shutdown)
	}

	mp, mpShutdown, err := c.Metrics.MeterProvider()
	if err != nil {
		return nil, err
	}
	if mp != nil {
		ConfigureMeterProvider(mp)
		shutdowns = append(shutdowns, mpShutdown)
	}

	return func(ctx context.Context) error {
		var firstErr error
		for _, fn := range shutdowns {
			if err := fn(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}, nil
}

// StartSpan starts a span named component with the given attributes. When
// tracing is not configured this delegates to the global no-op provider.
func StartSpan(ctx context.Context, component string, attrs Attrs) (context.Context, trace.Span) {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, v))
	}
	return otel.Tracer("proa").Start(ctx, component, trace.WithAttributes(kvs...))
}

// End ends the span, recording err as its status when non-nil.
func End(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	span.End()
}
