package observability

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/groundtrack/internal/logging"
)

const (
	tickTracerName = "github.com/signalsfoundry/groundtrack/tracker"
	defaultOTLP    = "localhost:4317"
)

// Resource and span attribute keys specific to ground tracking.
const (
	AttrGravityModel = attribute.Key("groundtrack.gravity_model")
	AttrFeedSource   = attribute.Key("groundtrack.feed.source")
	AttrTimeMode     = attribute.Key("groundtrack.time_mode")
	AttrSatellite    = attribute.Key("groundtrack.satellite")
	AttrTickInstant  = attribute.Key("groundtrack.tick.instant")
	AttrTickStatus   = attribute.Key("groundtrack.tick.status")
)

// TracingConfig selects the exporter and describes the propagation setup
// every exported span is tagged with.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string // stdout | otlp
	Endpoint    string
	SampleRatio float64

	Gravity    string
	FeedSource string
	TimeMode   string
}

// TracingConfigFromEnv reads GROUNDTRACK_TRACING_* settings through getenv.
// Unparseable values fall back to the defaults.
func TracingConfigFromEnv(getenv func(string) string) TracingConfig {
	cfg := TracingConfig{
		ServiceName: "groundtrackd",
		Exporter:    "stdout",
		Endpoint:    getenv("GROUNDTRACK_OTLP_ENDPOINT"),
		SampleRatio: 1,
	}
	cfg.Enabled, _ = strconv.ParseBool(getenv("GROUNDTRACK_TRACING_ENABLED"))
	if v := strings.ToLower(getenv("GROUNDTRACK_TRACING_EXPORTER")); v != "" {
		cfg.Exporter = v
	}
	if v := getenv("GROUNDTRACK_TRACING_SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}
	if ratio, err := strconv.ParseFloat(getenv("GROUNDTRACK_TRACING_SAMPLE_RATIO"), 64); err == nil && ratio >= 0 && ratio <= 1 {
		cfg.SampleRatio = ratio
	}
	return cfg
}

// resourceAttributes tags the process with its propagation setup.
func resourceAttributes(cfg TracingConfig) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "groundtrack"),
	}
	for _, kv := range []struct {
		key attribute.Key
		val string
	}{
		{AttrGravityModel, cfg.Gravity},
		{AttrFeedSource, cfg.FeedSource},
		{AttrTimeMode, cfg.TimeMode},
	} {
		if kv.val != "" {
			attrs = append(attrs, kv.key.String(kv.val))
		}
	}
	return attrs
}

// InitTracing installs the global tracer provider and propagators. The
// returned function flushes pending spans.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(resourceAttributes(cfg)...))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.Float64("sample_ratio", cfg.SampleRatio),
		logging.String("gravity", cfg.Gravity),
		logging.String("time_mode", cfg.TimeMode),
	)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "", "stdout":
		// stderr keeps spans apart from JSON printed by the CLI.
		return stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithoutTimestamps())
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLP
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}
}

// Tracer returns the named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartTick opens the span covering one tracker refresh at the simulated
// instant at.
func StartTick(ctx context.Context, at time.Time) (context.Context, trace.Span) {
	return otel.Tracer(tickTracerName).Start(ctx, "tracker.tick",
		trace.WithAttributes(AttrTickInstant.String(at.UTC().Format(time.RFC3339))),
	)
}

// EndTick records the tick outcome and ends span. A reason marks the span
// as an error.
func EndTick(span trace.Span, satellite, status, reason string) {
	span.SetAttributes(AttrSatellite.String(satellite), AttrTickStatus.String(status))
	if reason != "" {
		span.SetStatus(codes.Error, reason)
	}
	span.End()
}

// ShutdownWithTimeout flushes spans, giving up after five seconds.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
