package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"harvestsync/internal/shared/config"
)

type shutdownFunc func(context.Context) error

// Init installs the global meter provider, served as Prometheus text on
// MetricsPort, and the tracer provider exporting over OTLP/gRPC. Tracing is
// skipped when no endpoint is configured. The returned function flushes
// and stops everything in reverse order.
func Init(ctx context.Context, cfg config.TelemetryConfig) (func(context.Context) error, error) {
	var funcs []shutdownFunc
	shutdown := func(ctx context.Context) error {
		var errs []error
		for i := len(funcs) - 1; i >= 0; i-- {
			if err := funcs[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return shutdown, fmt.Errorf("failed to create resource: %w", err)
	}

	meterShutdown, err := initMetrics(res, cfg.MetricsPort)
	if err != nil {
		return shutdown, err
	}
	funcs = append(funcs, meterShutdown...)

	if cfg.OTLPEndpoint != "" {
		tracerShutdown, err := initTracing(ctx, res, cfg.OTLPEndpoint, cfg.SampleRatio)
		if err != nil {
			return shutdown, err
		}
		funcs = append(funcs, tracerShutdown)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Printf("OpenTelemetry initialized (metrics=:%s/metrics, traces=%q, sample=%.2f)", cfg.MetricsPort, cfg.OTLPEndpoint, cfg.SampleRatio)
	return shutdown, nil
}

func initMetrics(res *resource.Resource, port string) ([]shutdownFunc, error) {
	exporter, err := prometheus.New(prometheus.WithNamespace("harvestsync"))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	return []shutdownFunc{provider.Shutdown, srv.Shutdown}, nil
}

// sampler keeps the caller's decision for propagated traces and samples
// new roots at ratio.
func sampler(ratio float64) sdktrace.Sampler {
	if ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	if ratio <= 0 {
		return sdktrace.ParentBased(sdktrace.NeverSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func initTracing(ctx context.Context, res *resource.Resource, endpoint string, ratio float64) (shutdownFunc, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithSampler(sampler(ratio)),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}
