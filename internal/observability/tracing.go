package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// TraceConfig describes where spans go and what they are tagged with.
type TraceConfig struct {
	// Service is the service.name resource attribute, e.g. kettleplane-worker.
	Service string
	// Endpoint is the OTLP/gRPC collector address.
	Endpoint string
	// SampleRatio is the share of root traces kept, in (0, 1]. Zero keeps all.
	// Child spans follow their parent's decision.
	SampleRatio float64
	// Repository and CarteURL tag every span with the Kettle installation
	// it belongs to. Empty values are left out.
	Repository string
	CarteURL   string
}

// InitTracer installs a global provider that batches spans to the collector
// at cfg.Endpoint. Call the returned function on exit to flush them.
func InitTracer(ctx context.Context, cfg TraceConfig) (func(context.Context) error, error) {
	exporter, err := otlptracegrpc.New(
		ctx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp, err := NewTracerProvider(ctx, cfg, sdktrace.NewBatchSpanProcessor(exporter))
	if err != nil {
		return nil, err
	}
	Install(tp)
	return tp.Shutdown, nil
}

// NewTracerProvider builds the provider for cfg around sp without installing
// it. Tests pass a synchronous processor over an in-memory exporter.
func NewTracerProvider(ctx context.Context, cfg TraceConfig, sp sdktrace.SpanProcessor) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(serviceAttributes(cfg)...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	), nil
}

// Install makes tp the global provider and propagates W3C trace context and
// baggage. Tracers obtained earlier from the global keep working only if
// this is the first provider installed.
func Install(tp *sdktrace.TracerProvider) {
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	)
}

func serviceAttributes(cfg TraceConfig) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.Service),
		semconv.ServiceNamespace("kettleplane"),
	}
	if cfg.Repository != "" {
		attrs = append(attrs, attribute.String("kettle.repository", cfg.Repository))
	}
	if cfg.CarteURL != "" {
		attrs = append(attrs, attribute.String("kettle.carte.url", cfg.CarteURL))
	}
	return attrs
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
