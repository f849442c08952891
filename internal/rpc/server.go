package rpc

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/groundtrack/internal/logging"
	"github.com/signalsfoundry/groundtrack/internal/service"
	"github.com/signalsfoundry/groundtrack/internal/tracker"
)

// Server implements TrackServer on top of the query service.
type Server struct {
	svc *service.Service
	log logging.Logger
}

// NewServer returns a TrackServer backed by svc.
func NewServer(svc *service.Service, log logging.Logger) *Server {
	return &Server{svc: svc, log: logging.Component(log, "rpc")}
}

func (s *Server) ListSatellites(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	cat := s.svc.Catalog()
	names := cat.Names()
	list := make([]any, len(names))
	for i, n := range names {
		list[i] = n
	}
	out := map[string]any{
		"names":  list,
		"count":  len(names),
		"source": cat.Source(),
	}
	if !cat.FetchedAt().IsZero() {
		out["fetched_at"] = cat.FetchedAt().Format(time.RFC3339)
	}
	return respond(out)
}

func (s *Server) GetPosition(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := stringField(req, "name")
	at, err := instantField(req, "at")
	if err != nil {
		return nil, ToStatusError(err)
	}

	_, span := startChildSpan(ctx, "engine.Current", name)
	es, cur, err := s.svc.Position(name, at)
	if err != nil {
		span.RecordError(err)
		span.End()
		s.logFailure(ctx, "GetPosition", name, err)
		return nil, ToStatusError(err)
	}
	span.End()

	return respond(map[string]any{
		"name":     es.Name,
		"norad_id": es.NoradID,
		"sample":   sampleFields(cur),
	})
}

func (s *Server) GetTrack(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := stringField(req, "name")
	at, err := instantField(req, "at")
	if err != nil {
		return nil, ToStatusError(err)
	}
	span, err := minutesField(req, "span_minutes", tracker.DefaultSpan)
	if err != nil {
		return nil, ToStatusError(err)
	}
	step, err := minutesField(req, "step_minutes", tracker.DefaultStep)
	if err != nil {
		return nil, ToStatusError(err)
	}

	_, sp := startChildSpan(ctx, "engine.Track", name,
		attribute.Float64("span_minutes", span.Minutes()),
		attribute.Float64("step_minutes", step.Minutes()),
	)
	es, cur, history, err := s.svc.Track(name, at, span, step)
	if err != nil {
		sp.RecordError(err)
		sp.End()
		s.logFailure(ctx, "GetTrack", name, err)
		return nil, ToStatusError(err)
	}
	sp.End()

	return respond(map[string]any{
		"name":     es.Name,
		"norad_id": es.NoradID,
		"current":  sampleFields(cur),
		"history":  seriesFields(history),
	})
}

func (s *Server) GetLive(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return respond(snapshotFields(s.svc.Live()))
}

func (s *Server) ReloadCatalog(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	cat, err := s.svc.Reload(ctx)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return respond(map[string]any{
		"count":  cat.Len(),
		"source": cat.Source(),
	})
}

func (s *Server) logFailure(ctx context.Context, method, name string, err error) {
	log := logging.LoggerFromContext(ctx)
	if log == nil {
		log = s.log
	}
	if service.IsClientError(err) {
		log.Debug(ctx, "request rejected", logging.String("rpc", method), logging.Satellite(name, 0), logging.Err(err))
		return
	}
	log.Warn(ctx, "request failed", logging.String("rpc", method), logging.Satellite(name, 0), logging.Err(err))
}

func respond(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

// UnaryInterceptor is satisfied by the Prometheus service collector.
type UnaryInterceptor interface {
	UnaryServerInterceptor() grpc.UnaryServerInterceptor
}

// NewGRPCServer builds a grpc.Server with TrackService and the health
// service registered. Interceptors run request id, then tracing, then
// metrics; metrics may be nil.
func NewGRPCServer(impl TrackServer, log logging.Logger, metrics UnaryInterceptor) (*grpc.Server, *health.Server) {
	interceptors := []grpc.UnaryServerInterceptor{
		RequestIDUnaryServerInterceptor(log),
		TracingUnaryServerInterceptor(),
	}
	if metrics != nil {
		interceptors = append(interceptors, metrics.UnaryServerInterceptor())
	}
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	)
	RegisterTrackServer(srv, impl)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}
