package observability

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/signalsfoundry/commensal-automator/internal/config"
	"github.com/signalsfoundry/commensal-automator/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// TracerName is the instrumentation scope used for automator spans.
const TracerName = "github.com/signalsfoundry/commensal-automator"

const (
	defaultOTLPEndpoint   = "localhost:4317"
	tracingShutdownBudget = 5 * time.Second
)

// Resource attribute keys describing which part of the array this process
// coordinates.
const (
	AttrDAQDomain  = attribute.Key("automator.daq_domain")
	AttrAntennaKey = attribute.Key("automator.antenna_key")
	AttrInstances  = attribute.Key("automator.instances")
)

// InitTracing installs the global tracer provider. With tracing disabled it
// installs a noop provider and the returned shutdown does nothing; otherwise
// spans are batched to the configured exporter and shutdown flushes them.
func InitTracing(ctx context.Context, cfg config.Config, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	tc := cfg.Tracing

	if !tc.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, tc)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(ResourceAttributes(cfg)...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(tc.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", tc.Exporter),
		logging.String("service_name", tc.ServiceName),
		logging.String("namespace", tc.Namespace),
		logging.Any("sample_ratio", tc.SampleRatio),
	)
	return tp.Shutdown, nil
}

// ResourceAttributes describes this automator to the trace backend. Several
// automators sharing one collector are told apart by namespace and domain.
func ResourceAttributes(cfg config.Config) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.Tracing.ServiceName),
		AttrDAQDomain.String(cfg.Automator.DAQDomain),
		AttrAntennaKey.String(cfg.Automator.AntennaKey),
		AttrInstances.StringSlice(cfg.Automator.Instances),
	}
	if cfg.Tracing.Namespace != "" {
		attrs = append(attrs, attribute.String("service.namespace", cfg.Tracing.Namespace))
	}
	if host, err := os.Hostname(); err == nil {
		attrs = append(attrs, attribute.String("host.name", host))
	}
	return attrs
}

func newExporter(ctx context.Context, tc config.Tracing) (sdktrace.SpanExporter, error) {
	switch tc.Exporter {
	case "", "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(os.Stdout), stdouttrace.WithoutTimestamps())
	case "otlp", "otlpgrpc":
		endpoint := tc.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	}
	return nil, fmt.Errorf("unsupported tracing exporter: %s", tc.Exporter)
}

// ShutdownWithTimeout flushes pending spans within a fixed budget. Errors
// are logged, not returned: the process is already exiting.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}
	ctx, cancel := context.WithTimeout(ctx, tracingShutdownBudget)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
