// Package tracker keeps one selected satellite's position fresh on every
// refresh tick and degrades to the last good sample when a tick fails.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/groundtrack/core"
	"github.com/signalsfoundry/groundtrack/internal/logging"
	"github.com/signalsfoundry/groundtrack/kb"
	"github.com/signalsfoundry/groundtrack/model"
)

// Status is the tracker's signal state.
type Status string

const (
	StatusLive     Status = "LIVE"
	StatusStale    Status = "STALE"
	StatusNoSignal Status = "NO SIGNAL"
)

const (
	DefaultSpan = 100 * time.Minute
	DefaultStep = 10 * time.Minute
)

// Reasons reported alongside StatusNoSignal.
const (
	ReasonCatalogUnavailable = "catalog unavailable"
	ReasonNotInCatalog       = "satellite not in catalog"
	ReasonAwaitingTick       = "awaiting first tick"
)

// Engine computes the current sample and trailing history.
type Engine interface {
	Track(es model.ElementSet, at time.Time, span, step time.Duration) (model.KinematicSample, model.TrackHistory, error)
}

// MetricsRecorder receives the status after every tick.
type MetricsRecorder interface {
	SetTrackerStatus(status string, lastGoodAge time.Duration)
}

// Snapshot is a consistent copy of the tracker state.
type Snapshot struct {
	Satellite string
	Elements  model.ElementSet
	Status    Status
	Reason    string

	// Current and History hold the last good computation; they are kept
	// while Status is STALE and cleared for NO SIGNAL.
	Current *model.KinematicSample
	History model.TrackHistory

	Span      time.Duration
	Step      time.Duration
	UpdatedAt time.Time
	LastGood  time.Time
}

// LastGoodAge is the time between the last good computation and the last tick.
func (s Snapshot) LastGoodAge() time.Duration {
	if s.LastGood.IsZero() || s.UpdatedAt.Before(s.LastGood) {
		return 0
	}
	return s.UpdatedAt.Sub(s.LastGood)
}

func (s Snapshot) clone() Snapshot {
	if s.Current != nil {
		cur := *s.Current
		s.Current = &cur
	}
	s.History = s.History.Clone()
	return s
}

// Option customises Tracker construction.
type Option func(*Tracker)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = logging.Component(l, "tracker")
		}
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithWindow sets the initial history window.
func WithWindow(span, step time.Duration) Option {
	return func(t *Tracker) {
		if step > 0 && span >= 0 {
			t.span, t.step = span, step
		}
	}
}

// Tracker recomputes the selected satellite on every Tick.
type Tracker struct {
	mu sync.RWMutex

	engine    Engine
	catalog   *kb.Catalog
	selection string
	span      time.Duration
	step      time.Duration
	snap      Snapshot
	failures  int64

	subs    map[int]func(Snapshot)
	nextSub int

	log     logging.Logger
	metrics MetricsRecorder
}

// New builds a tracker. An empty selection picks the first catalog name.
func New(engine Engine, catalog *kb.Catalog, selection string, opts ...Option) *Tracker {
	t := &Tracker{
		engine: engine,
		span:   DefaultSpan,
		step:   DefaultStep,
		subs:   make(map[int]func(Snapshot)),
		log:    logging.Noop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.catalog = catalog
	t.selection = selection
	t.resolveSelectionLocked()
	t.snap = t.pendingSnapshotLocked()
	return t
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap.clone()
}

// Selection returns the selected satellite name.
func (t *Tracker) Selection() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.selection
}

// Window returns the history span and step.
func (t *Tracker) Window() (span, step time.Duration) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.span, t.step
}

// Catalog returns the catalog currently in use.
func (t *Tracker) Catalog() *kb.Catalog {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.catalog
}

// Failures counts ticks that did not produce a good sample.
func (t *Tracker) Failures() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.failures
}

// Select switches the tracked satellite. The previous last-good state is
// dropped; the next tick computes the new one.
func (t *Tracker) Select(name string) error {
	t.mu.Lock()
	es, ok := t.catalog.Get(name)
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %q", kb.ErrSatelliteNotFound, name)
	}
	t.selection = es.Name
	t.snap = t.pendingSnapshotLocked()
	snap := t.snap.clone()
	subs := t.subscribersLocked()
	t.mu.Unlock()

	notify(subs, snap)
	return nil
}

// SetWindow changes the history window used from the next tick on.
func (t *Tracker) SetWindow(span, step time.Duration) error {
	if step <= 0 || span < 0 {
		return fmt.Errorf("%w: span=%s step=%s", core.ErrInvalidWindow, span, step)
	}
	t.mu.Lock()
	t.span, t.step = span, step
	t.mu.Unlock()
	return nil
}

// SetCatalog swaps in a freshly loaded catalog.
func (t *Tracker) SetCatalog(c *kb.Catalog) {
	t.mu.Lock()
	t.catalog = c
	prev := t.selection
	t.resolveSelectionLocked()
	if t.selection != prev {
		t.snap = t.pendingSnapshotLocked()
	}
	t.mu.Unlock()
}

// Subscribe registers fn to receive a snapshot after every tick. It returns
// an unsubscribe function. Callbacks run outside the tracker lock.
func (t *Tracker) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Tick recomputes the selected satellite at now. It never panics and never
// returns an error: failures are folded into the snapshot status.
func (t *Tracker) Tick(ctx context.Context, now time.Time) Snapshot {
	t.mu.RLock()
	catalog, selection, span, step := t.catalog, t.selection, t.span, t.step
	t.mu.RUnlock()

	var (
		es       model.ElementSet
		cur      model.KinematicSample
		history  model.TrackHistory
		err      error
		reason   string
		computed bool
	)
	switch {
	case catalog.Empty():
		reason = ReasonCatalogUnavailable
	default:
		var ok bool
		es, ok = catalog.Get(selection)
		if !ok {
			reason = ReasonNotInCatalog
			break
		}
		cur, history, err = t.compute(es, now, span, step)
		computed = true
	}

	t.mu.Lock()
	if t.selection != selection {
		// Selection changed while computing; the result belongs to the old one.
		snap := t.snap.clone()
		t.mu.Unlock()
		return snap
	}

	next := t.snap
	next.Satellite = selection
	next.Span, next.Step = span, step
	next.UpdatedAt = now.UTC()
	switch {
	case computed && err == nil:
		next.Elements = es
		next.Status = StatusLive
		next.Reason = ""
		next.Current = &cur
		next.History = history
		next.LastGood = now.UTC()
	case computed && next.Current != nil && next.Elements.ID() == es.ID():
		t.failures++
		next.Status = StatusStale
		next.Reason = err.Error()
	default:
		if computed {
			t.failures++
			reason = err.Error()
		}
		next.Elements = es
		next.Status = StatusNoSignal
		next.Reason = reason
		next.Current = nil
		next.History = nil
		next.LastGood = time.Time{}
	}
	t.snap = next
	snap := next.clone()
	subs := t.subscribersLocked()
	t.mu.Unlock()

	if err != nil {
		t.log.Warn(ctx, "tracker tick failed",
			logging.Satellite(selection, es.NoradID),
			logging.String("status", string(snap.Status)),
			logging.Err(err),
		)
	}
	if t.metrics != nil {
		t.metrics.SetTrackerStatus(string(snap.Status), snap.LastGoodAge())
	}
	notify(subs, snap)
	return snap
}

// compute runs the engine and converts a panic into core.ErrPropagation.
func (t *Tracker) compute(es model.ElementSet, now time.Time, span, step time.Duration) (cur model.KinematicSample, history model.TrackHistory, err error) {
	defer func() {
		if r := recover(); r != nil {
			cur, history = model.KinematicSample{}, nil
			err = fmt.Errorf("%w: %s: panic: %v", core.ErrPropagation, es.ID(), r)
		}
	}()
	if t.engine == nil {
		return model.KinematicSample{}, nil, fmt.Errorf("%w: no engine configured", core.ErrPropagation)
	}
	return t.engine.Track(es, now, span, step)
}

func (t *Tracker) resolveSelectionLocked() {
	if t.catalog.Empty() {
		return
	}
	if es, ok := t.catalog.Get(t.selection); ok {
		t.selection = es.Name
		return
	}
	if t.selection == "" {
		t.selection = t.catalog.Names()[0]
	}
}

func (t *Tracker) pendingSnapshotLocked() Snapshot {
	s := Snapshot{
		Satellite: t.selection,
		Status:    StatusNoSignal,
		Reason:    ReasonAwaitingTick,
		Span:      t.span,
		Step:      t.step,
	}
	if t.catalog.Empty() {
		s.Reason = ReasonCatalogUnavailable
	} else if es, ok := t.catalog.Get(t.selection); ok {
		s.Elements = es
	}
	return s
}

func (t *Tracker) subscribersLocked() []func(Snapshot) {
	subs := make([]func(Snapshot), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(Snapshot), snap Snapshot) {
	for _, fn := range subs {
		fn(snap.clone())
	}
}
