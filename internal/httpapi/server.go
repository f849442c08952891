// Package httpapi serves the JSON and WebSocket surface of groundtrackd.
package httpapi

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/time/rate"

	"github.com/signalsfoundry/groundtrack/internal/logging"
	"github.com/signalsfoundry/groundtrack/internal/observability"
	"github.com/signalsfoundry/groundtrack/internal/service"
)

// Config holds the listener and limiter settings.
type Config struct {
	Addr string

	// RateLimit is the sustained requests per second allowed per client IP;
	// zero disables limiting.
	RateLimit float64
	Burst     int
	// TrustProxy makes ClientIP honour X-Forwarded-For and X-Real-IP.
	TrustProxy bool

	// AutocertHosts enables ACME certificates for the listed host names.
	AutocertHosts []string
	AutocertDir   string
}

// Server is the HTTP front end.
type Server struct {
	cfg      Config
	svc      *service.Service
	metrics  *observability.ServiceCollector
	log      logging.Logger
	mux      *http.ServeMux
	limiter  *IPRateLimiter
	upgrader websocket.Upgrader

	httpServer *http.Server
}

// NewServer builds the mux and the middleware chain. metrics may be nil.
func NewServer(cfg Config, svc *service.Service, metrics *observability.ServiceCollector, log logging.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		metrics: metrics,
		log:     logging.Component(log, "httpapi"),
		mux:     http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = NewIPRateLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	s.routes()

	// Build middleware chain: metrics -> logging -> rate limit -> mux.
	var handler http.Handler = s.mux
	handler = s.rateLimitMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = metrics.HTTPMiddleware(s.routeOf)(handler)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.healthz)
	s.mux.HandleFunc("GET /readyz", s.readyz)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
	s.mux.HandleFunc("GET /api/v1/satellites", s.listSatellites)
	s.mux.HandleFunc("GET /api/v1/satellites/{name}/position", s.position)
	s.mux.HandleFunc("GET /api/v1/satellites/{name}/track", s.track)
	s.mux.HandleFunc("GET /api/v1/live", s.live)
	s.mux.HandleFunc("GET /api/v1/live/ws", s.liveStream)
	s.mux.HandleFunc("PUT /api/v1/live/selection", s.selection)
	s.mux.HandleFunc("POST /api/v1/archive", s.archive)
	s.mux.HandleFunc("POST /api/v1/catalog/reload", s.reload)
}

// routeOf returns the registered pattern serving r, used as a metrics label.
func (s *Server) routeOf(r *http.Request) string {
	_, pattern := s.mux.Handler(r)
	return pattern
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// HTTPServer returns the underlying *http.Server for external control.
func (s *Server) HTTPServer() *http.Server { return s.httpServer }

// Serve accepts connections on lis, terminating TLS through ACME when
// autocert hosts are configured.
func (s *Server) Serve(lis net.Listener) error {
	if len(s.cfg.AutocertHosts) == 0 {
		return s.httpServer.Serve(lis)
	}
	m, err := s.certManager()
	if err != nil {
		return err
	}
	s.httpServer.TLSConfig = m.TLSConfig()
	s.log.Info(context.Background(), "serving TLS with ACME certificates",
		logging.Any("hosts", s.cfg.AutocertHosts),
		logging.String("cache_dir", s.cfg.AutocertDir),
	)
	return s.httpServer.Serve(tls.NewListener(lis, s.httpServer.TLSConfig))
}

// ListenAndServe listens on the configured address and serves.
func (s *Server) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(lis)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) certManager() (*autocert.Manager, error) {
	dir := s.cfg.AutocertDir
	if dir == "" {
		dir = "certs"
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cert cache %s: %w", dir, err)
	}
	allowed := make(map[string]struct{}, len(s.cfg.AutocertHosts))
	for _, h := range s.cfg.AutocertHosts {
		allowed[h] = struct{}{}
	}
	return &autocert.Manager{
		Cache:  autocert.DirCache(dir),
		Prompt: autocert.AcceptTOS,
		HostPolicy: func(ctx context.Context, host string) error {
			if _, ok := allowed[host]; ok {
				return nil
			}
			s.log.Warn(ctx, "rejecting certificate request", logging.String("host", host))
			return fmt.Errorf("host %q not configured", host)
		},
	}, nil
}

// IsClosed reports whether err is the normal result of Shutdown.
func IsClosed(err error) bool {
	return errors.Is(err, http.ErrServerClosed)
}
