package observability

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/signalsfoundry/groundtrack/internal/logging"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestTracingConfigFromEnv(t *testing.T) {
	cfg := TracingConfigFromEnv(env(map[string]string{
		"GROUNDTRACK_TRACING_ENABLED":      "true",
		"GROUNDTRACK_TRACING_EXPORTER":     "OTLP",
		"GROUNDTRACK_TRACING_SAMPLE_RATIO": "0.25",
		"GROUNDTRACK_OTLP_ENDPOINT":        "collector:4317",
	}))
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.SampleRatio != 0.25 || cfg.Endpoint != "collector:4317" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.ServiceName != "groundtrackd" {
		t.Fatalf("service name = %q, want default", cfg.ServiceName)
	}
}

func TestTracingConfigIgnoresBadRatio(t *testing.T) {
	cfg := TracingConfigFromEnv(env(map[string]string{"GROUNDTRACK_TRACING_SAMPLE_RATIO": "7"}))
	if cfg.SampleRatio != 1 || cfg.Enabled || cfg.Exporter != "stdout" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestResourceAttributesCarryPropagationSetup(t *testing.T) {
	attrs := resourceAttributes(TracingConfig{
		ServiceName: "groundtrackd",
		Gravity:     "wgs84",
		FeedSource:  "https://celestrak.org/NORAD/elements/gp.php?GROUP=stations&FORMAT=tle",
		TimeMode:    "accelerated",
	})
	got := make(map[attribute.Key]string, len(attrs))
	for _, kv := range attrs {
		got[kv.Key] = kv.Value.AsString()
	}
	if got[AttrGravityModel] != "wgs84" || got[AttrTimeMode] != "accelerated" || got[AttrFeedSource] == "" {
		t.Fatalf("attributes = %v", got)
	}
	if got["service.namespace"] != "groundtrack" {
		t.Fatalf("namespace = %q", got["service.namespace"])
	}

	if attrs := resourceAttributes(TracingConfig{ServiceName: "x"}); len(attrs) != 2 {
		t.Fatalf("empty domain fields should be omitted, got %v", attrs)
	}
}

func TestTickSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	at := time.Date(2024, time.April, 9, 12, 0, 0, 0, time.UTC)
	_, span := StartTick(context.Background(), at)
	EndTick(span, "ISS (ZARYA)", "LIVE", "")
	_, span = StartTick(context.Background(), at.Add(time.Second))
	EndTick(span, "ISS (ZARYA)", "STALE", "propagation failed")

	ended := rec.Ended()
	if len(ended) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(ended))
	}
	attrs := make(map[attribute.Key]string)
	for _, kv := range ended[0].Attributes() {
		attrs[kv.Key] = kv.Value.AsString()
	}
	if ended[0].Name() != "tracker.tick" || attrs[AttrTickInstant] != "2024-04-09T12:00:00Z" || attrs[AttrSatellite] != "ISS (ZARYA)" {
		t.Fatalf("live tick span = %s %v", ended[0].Name(), attrs)
	}
	if ended[0].Status().Code == codes.Error {
		t.Fatalf("live tick must not be an error")
	}
	if st := ended[1].Status(); st.Code != codes.Error || st.Description != "propagation failed" {
		t.Fatalf("stale tick status = %+v", st)
	}
}

func TestInitTracingDisabledAndStdout(t *testing.T) {
	ctx := context.Background()
	shutdown, err := InitTracing(ctx, TracingConfig{}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing disabled: %v", err)
	}
	ShutdownWithTimeout(ctx, shutdown, nil)

	shutdown, err = InitTracing(ctx, TracingConfig{Enabled: true, Exporter: "stdout", ServiceName: "test", SampleRatio: 1, Gravity: "wgs72"}, nil)
	if err != nil {
		t.Fatalf("InitTracing stdout: %v", err)
	}
	_, span := Tracer("test").Start(ctx, "span")
	span.End()
	ShutdownWithTimeout(ctx, shutdown, logging.Noop())

	if _, err := InitTracing(ctx, TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("expected unsupported exporter error")
	}
}
