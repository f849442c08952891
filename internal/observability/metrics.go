package observability

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Tracker status label values.
var trackerStatuses = []string{"LIVE", "STALE", "NO SIGNAL"}

// ServiceCollector bundles Prometheus metrics for the gRPC and HTTP surfaces
// and the live tracker, and provides helpers to wire them into servers.
type ServiceCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec

	CatalogSatellites prometheus.Gauge
	TrackerStatus     *prometheus.GaugeVec
	LastGoodAge       prometheus.Gauge
}

// NewServiceCollector registers service metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewServiceCollector(reg prometheus.Registerer) (*ServiceCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "groundtrack_rpc_requests_total",
		Help: "Total number of handled RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "groundtrack_rpc_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "groundtrack_rpc_request_duration_seconds",
		Help:    "RPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"}), "groundtrack_rpc_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	httpRequests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "groundtrack_http_requests_total",
		Help: "Total number of HTTP requests, labeled by route, method, and status code.",
	}, []string{"route", "method", "code"}), "groundtrack_http_requests_total")
	if err != nil {
		return nil, err
	}
	httpDurations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "groundtrack_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"}), "groundtrack_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	satellites, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "groundtrack_catalog_satellites",
		Help: "Number of element sets in the loaded catalog.",
	}), "groundtrack_catalog_satellites")
	if err != nil {
		return nil, err
	}
	trackerStatus, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "groundtrack_tracker_status",
		Help: "1 for the live tracker's current status, 0 otherwise.",
	}, []string{"status"}), "groundtrack_tracker_status")
	if err != nil {
		return nil, err
	}
	lastGoodAge, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "groundtrack_last_good_age_seconds",
		Help: "Seconds since the tracker last produced a good sample.",
	}), "groundtrack_last_good_age_seconds")
	if err != nil {
		return nil, err
	}

	return &ServiceCollector{
		gatherer:          gatherer,
		RPCRequests:       requests,
		RPCDurations:      durations,
		HTTPRequests:      httpRequests,
		HTTPDurations:     httpDurations,
		CatalogSatellites: satellites,
		TrackerStatus:     trackerStatus,
		LastGoodAge:       lastGoodAge,
	}, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *ServiceCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// HTTPMiddleware records request count and duration per route. routeOf maps
// a request onto a bounded label (normally the mux pattern); nil falls back
// to "unmatched".
func (c *ServiceCollector) HTTPMiddleware(routeOf func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rec := NewStatusRecorder(w)
			next.ServeHTTP(rec, r)

			route := "unmatched"
			if routeOf != nil {
				if p := routeOf(r); p != "" {
					route = p
				}
			}
			if c.HTTPRequests != nil {
				c.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.Status())).Inc()
			}
			if c.HTTPDurations != nil {
				c.HTTPDurations.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
			}
		})
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ServiceCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetCatalogSize records the number of satellites in the active catalog.
func (c *ServiceCollector) SetCatalogSize(n int) {
	if c == nil || c.CatalogSatellites == nil {
		return
	}
	c.CatalogSatellites.Set(float64(n))
}

// SetTrackerStatus satisfies the tracker's MetricsRecorder so each tick can
// drive the status gauges directly.
func (c *ServiceCollector) SetTrackerStatus(current string, lastGoodAge time.Duration) {
	if c == nil {
		return
	}
	if c.TrackerStatus != nil {
		for _, s := range trackerStatuses {
			v := 0.0
			if s == current {
				v = 1
			}
			c.TrackerStatus.WithLabelValues(s).Set(v)
		}
	}
	if c.LastGoodAge != nil {
		c.LastGoodAge.Set(lastGoodAge.Seconds())
	}
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

// StatusRecorder captures the status code written through it. It passes
// Hijack through so WebSocket upgrades still work behind the middleware.
type StatusRecorder struct {
	http.ResponseWriter
	status int
}

func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	if rec, ok := w.(*StatusRecorder); ok {
		return rec
	}
	return &StatusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *StatusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *StatusRecorder) Status() int { return r.status }

func (r *StatusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *StatusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *StatusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// register adds coll to reg, reusing an already-registered collector of the
// same type so repeated construction against one registry is harmless.
func register[T prometheus.Collector](reg prometheus.Registerer, coll T, name string) (T, error) {
	if err := reg.Register(coll); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return coll, nil
}
