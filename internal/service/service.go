// Package service is the query facade shared by the HTTP and gRPC surfaces.
// It resolves names against the live catalog, runs the engine and owns
// catalog reloads.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/groundtrack/core"
	"github.com/signalsfoundry/groundtrack/internal/archive"
	"github.com/signalsfoundry/groundtrack/internal/feed"
	"github.com/signalsfoundry/groundtrack/internal/logging"
	"github.com/signalsfoundry/groundtrack/internal/tracker"
	"github.com/signalsfoundry/groundtrack/kb"
	"github.com/signalsfoundry/groundtrack/model"
)

// Window limits accepted from clients.
const (
	MaxSpan = 24 * time.Hour
	MinStep = time.Minute
)

// CatalogLoader produces a fresh catalog; *feed.Loader satisfies it.
type CatalogLoader interface {
	Load(ctx context.Context) (*kb.Catalog, error)
}

// CatalogMetrics receives the catalog size after every (re)load.
type CatalogMetrics interface {
	SetCatalogSize(n int)
}

// Service answers position, track, live and archive queries.
type Service struct {
	tracker *tracker.Tracker
	engine  *core.CachedEngine
	loader  CatalogLoader
	metrics CatalogMetrics
	log     logging.Logger
	now     func() time.Time

	reloadMu sync.Mutex
}

// Option customises a Service.
type Option func(*Service)

func WithLoader(l CatalogLoader) Option { return func(s *Service) { s.loader = l } }

func WithCatalogMetrics(m CatalogMetrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = logging.Component(l, "service")
		}
	}
}

// WithClock overrides the source of "now" for queries without an instant.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New wires a Service around a tracker and a cached engine.
func New(t *tracker.Tracker, engine *core.CachedEngine, opts ...Option) *Service {
	s := &Service{
		tracker: t,
		engine:  engine,
		log:     logging.Noop(),
		now:     engine.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics != nil {
		s.metrics.SetCatalogSize(t.Catalog().Len())
	}
	return s
}

// Now is the instant used when a request does not name one. It is truncated
// to the whole second, the propagator's resolution, so requests within the
// same second share track cache entries.
func (s *Service) Now() time.Time { return s.now().UTC().Truncate(time.Second) }

// Catalog returns the catalog currently in use.
func (s *Service) Catalog() *kb.Catalog { return s.tracker.Catalog() }

// Ready reports whether a non-empty catalog is loaded.
func (s *Service) Ready() bool { return !s.Catalog().Empty() }

// Lookup resolves name against the current catalog.
func (s *Service) Lookup(name string) (model.ElementSet, error) {
	return s.Catalog().Lookup(name)
}

// Position computes the sample of name at at; a zero at means now.
func (s *Service) Position(name string, at time.Time) (model.ElementSet, model.KinematicSample, error) {
	es, err := s.Lookup(name)
	if err != nil {
		return model.ElementSet{}, model.KinematicSample{}, err
	}
	if at.IsZero() {
		at = s.Now()
	}
	cur, err := s.engine.Current(es, at)
	if err != nil {
		return es, model.KinematicSample{}, err
	}
	return es, cur, nil
}

// Track computes the current sample and history of name.
func (s *Service) Track(name string, at time.Time, span, step time.Duration) (model.ElementSet, model.KinematicSample, model.TrackHistory, error) {
	if err := ValidateWindow(span, step); err != nil {
		return model.ElementSet{}, model.KinematicSample{}, nil, err
	}
	es, err := s.Lookup(name)
	if err != nil {
		return model.ElementSet{}, model.KinematicSample{}, nil, err
	}
	if at.IsZero() {
		at = s.Now()
	}
	cur, history, err := s.engine.Track(es, at, span, step)
	if err != nil {
		return es, model.KinematicSample{}, nil, err
	}
	return es, cur, history, nil
}

// Live returns the tracker snapshot.
func (s *Service) Live() tracker.Snapshot { return s.tracker.Snapshot() }

// Subscribe forwards to the tracker.
func (s *Service) Subscribe(fn func(tracker.Snapshot)) func() { return s.tracker.Subscribe(fn) }

// Select changes the live selection and, when step > 0, its window.
func (s *Service) Select(name string, span, step time.Duration) error {
	if step > 0 || span > 0 {
		if err := ValidateWindow(span, step); err != nil {
			return err
		}
	}
	if name != "" {
		if err := s.tracker.Select(name); err != nil {
			return err
		}
	}
	if step > 0 {
		return s.tracker.SetWindow(span, step)
	}
	return nil
}

// Archive seals the live snapshot with password.
func (s *Service) Archive(password string) (archive.Bundle, []byte, error) {
	if password == "" {
		return archive.Bundle{}, nil, archive.ErrEmptyPassword
	}
	b, err := archive.Build(s.tracker.Snapshot(), s.Now())
	if err != nil {
		return archive.Bundle{}, nil, err
	}
	sealed, err := archive.Seal(b, password)
	if err != nil {
		return archive.Bundle{}, nil, err
	}
	return b, sealed, nil
}

// Reload fetches the feed again. A reload that yields no satellites keeps
// the current catalog and returns the error.
func (s *Service) Reload(ctx context.Context) (*kb.Catalog, error) {
	if s.loader == nil {
		return s.Catalog(), fmt.Errorf("%w: no loader configured", feed.ErrFeedUnavailable)
	}
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	cat, err := s.loader.Load(ctx)
	if cat.Empty() {
		if err == nil {
			err = fmt.Errorf("%w: feed contained no satellites", feed.ErrFeedUnavailable)
		}
		s.log.Warn(ctx, "catalog reload failed; keeping current catalog", logging.Err(err))
		return s.Catalog(), err
	}

	s.tracker.SetCatalog(cat)
	s.engine.Cache().InvalidateAll()
	if s.metrics != nil {
		s.metrics.SetCatalogSize(cat.Len())
	}
	s.log.Info(ctx, "catalog reloaded",
		logging.String("source", cat.Source()),
		logging.Int("satellites", cat.Len()),
	)
	return cat, nil
}

// ValidateWindow enforces client window limits on top of the engine's own.
func ValidateWindow(span, step time.Duration) error {
	switch {
	case step < MinStep:
		return fmt.Errorf("%w: step %s below %s", core.ErrInvalidWindow, step, MinStep)
	case span < 0:
		return fmt.Errorf("%w: negative span %s", core.ErrInvalidWindow, span)
	case span > MaxSpan:
		return fmt.Errorf("%w: span %s exceeds %s", core.ErrInvalidWindow, span, MaxSpan)
	}
	return nil
}

// IsClientError reports whether err stems from the request rather than
// from the feed or the orbit model.
func IsClientError(err error) bool {
	return errors.Is(err, core.ErrInvalidInstant) ||
		errors.Is(err, core.ErrInvalidWindow) ||
		errors.Is(err, kb.ErrSatelliteNotFound) ||
		errors.Is(err, archive.ErrEmptyPassword)
}
