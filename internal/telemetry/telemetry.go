// Package telemetry initialises optional OpenTelemetry trace, metric, and log
// providers backed by an OTLP gRPC collector, and bridges slog records into
// the log provider. All three providers share a single gRPC connection.
//
// Call [Setup] once during startup. The returned [ShutdownFunc] must be called
// before the process exits to flush pending telemetry. Until Setup runs, or
// when telemetry is not configured, the global providers are no-ops.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Config mirrors the telemetry block of the YAML config.
type Config struct {
	// OTLPEndpoint is the collector's gRPC host:port, e.g. "localhost:4317".
	OTLPEndpoint string
	// Insecure dials the collector without TLS.
	Insecure bool
	// ServiceName defaults to [DefaultServiceName].
	ServiceName    string
	ServiceVersion string
	// Headers are sent as gRPC metadata on every export, typically an
	// Authorization bearer token.
	Headers map[string]string
}

// DefaultServiceName is the service.name used when Config leaves it empty.
const DefaultServiceName = "omadamirror"

// ShutdownFunc flushes and closes all OTel providers. Call it with a fresh
// context: the main context is usually cancelled by then.
type ShutdownFunc func(context.Context) error

// closer is one component torn down by a ShutdownFunc, in reverse order of
// creation.
type closer struct {
	name string
	fn   func(context.Context) error
}

type closers []closer

func (cs closers) shutdown(ctx context.Context) error {
	var errs []error
	for i := len(cs) - 1; i >= 0; i-- {
		if err := cs[i].fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s shutdown: %w", cs[i].name, err))
		}
	}
	return errors.Join(errs...)
}

// Setup installs global trace, metric and log providers exporting to
// cfg.OTLPEndpoint over one gRPC connection. The returned ShutdownFunc is
// never nil, so callers may defer it even when Setup fails.
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	if cfg.OTLPEndpoint == "" {
		return noopShutdown, errors.New("OTLP endpoint is required")
	}
	res, err := buildResource(cfg)
	if err != nil {
		return noopShutdown, err
	}

	conn, err := dial(cfg)
	if err != nil {
		return noopShutdown, err
	}
	cs := closers{{"OTLP gRPC connection", func(context.Context) error { return conn.Close() }}}

	for _, install := range []func(context.Context, *grpc.ClientConn, Config, *resource.Resource) (closer, error){
		installTracing,
		installMetrics,
		installLogs,
	} {
		c, err := install(ctx, conn, cfg, res)
		if err != nil {
			_ = cs.shutdown(ctx)
			return noopShutdown, err
		}
		cs = append(cs, c)
	}
	return cs.shutdown, nil
}

func dial(cfg Config) (*grpc.ClientConn, error) {
	creds := credentials.NewTLS(nil)
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.NewClient(cfg.OTLPEndpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dialling OTLP collector at %q: %w", cfg.OTLPEndpoint, err)
	}
	return conn, nil
}

// --- Traces ------------------------------------------------------------------

func installTracing(ctx context.Context, conn *grpc.ClientConn, cfg Config, res *resource.Resource) (closer, error) {
	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn), otlptracegrpc.WithHeaders(cfg.Headers))
	if err != nil {
		return closer{}, fmt.Errorf("creating OTLP trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	return closer{"trace provider", tp.Shutdown}, nil
}

// --- Metrics -----------------------------------------------------------------

func installMetrics(ctx context.Context, conn *grpc.ClientConn, cfg Config, res *resource.Resource) (closer, error) {
	exp, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn), otlpmetricgrpc.WithHeaders(cfg.Headers))
	if err != nil {
		return closer{}, fmt.Errorf("creating OTLP metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	return closer{"metric provider", mp.Shutdown}, nil
}

// --- Logs --------------------------------------------------------------------

// installLogs sets the global log provider that LogHandler forwards to.
func installLogs(ctx context.Context, conn *grpc.ClientConn, cfg Config, res *resource.Resource) (closer, error) {
	exp, err := otlploggrpc.New(ctx, otlploggrpc.WithGRPCConn(conn), otlploggrpc.WithHeaders(cfg.Headers))
	if err != nil {
		return closer{}, fmt.Errorf("creating OTLP log exporter: %w", err)
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)
	return closer{"log provider", lp.Shutdown}, nil
}

// buildResource describes this process: service.name and, when known,
// service.version. NewSchemaless keeps the merge free of schema URL
// conflicts with resource.Default.
func buildResource(cfg Config) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	attrs := []attribute.KeyValue{semconv.ServiceName(name)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, fmt.Errorf("building OTel resource: %w", err)
	}
	return res, nil
}

func noopShutdown(context.Context) error { return nil }
