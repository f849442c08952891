package core

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/groundtrack/model"
)

const (
	// DefaultMaxEpochAge bounds how far from the element epoch a result is
	// still trusted.
	DefaultMaxEpochAge = 30 * 24 * time.Hour

	// maxHistorySamples caps a single History call.
	maxHistorySamples = 100000
)

// PropagationObserver is notified once per propagation attempt.
type PropagationObserver interface {
	ObservePropagation(d time.Duration, err error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithGravity selects the SGP4 geopotential model.
func WithGravity(g Gravity) Option {
	return func(e *Engine) { e.gravity = g }
}

// WithMaxEpochAge sets how far from the element epoch propagation is
// accepted. Zero disables the check.
func WithMaxEpochAge(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.maxEpochAge = d
		}
	}
}

// WithClock overrides the clock used by CurrentNow.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithObserver installs a PropagationObserver.
func WithObserver(o PropagationObserver) Option {
	return func(e *Engine) { e.observer = o }
}

// Engine computes the sub-satellite point and speed for an element set at a
// given instant, and the trailing history behind it.
//
// Engine holds only configuration; it is safe for concurrent use and every
// method is a pure function of its arguments.
type Engine struct {
	gravity     Gravity
	maxEpochAge time.Duration
	now         func() time.Time
	observer    PropagationObserver
}

// NewEngine returns an Engine with WGS72 gravity and a 30 day epoch window.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		gravity:     GravityWGS72,
		maxEpochAge: DefaultMaxEpochAge,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Gravity reports the configured geopotential model.
func (e *Engine) Gravity() Gravity { return e.gravity }

// Now returns the engine clock reading in UTC.
func (e *Engine) Now() time.Time { return e.now().UTC() }

// Current returns the kinematic sample of es at the instant at.
func (e *Engine) Current(es model.ElementSet, at time.Time) (model.KinematicSample, error) {
	if at.IsZero() {
		return model.KinematicSample{}, ErrInvalidInstant
	}
	p, err := NewSGP4Propagator(es, e.gravity)
	if err != nil {
		return model.KinematicSample{}, err
	}
	return e.sample(p, es, at)
}

// CurrentNow is Current at the engine clock's present instant.
func (e *Engine) CurrentNow(es model.ElementSet) (model.KinematicSample, error) {
	return e.Current(es, e.Now())
}

// History samples es at at, at-step, at-2*step, ... for every k*step <= span.
// The sample at at itself is always first.
func (e *Engine) History(es model.ElementSet, at time.Time, span, step time.Duration) (model.TrackHistory, error) {
	if at.IsZero() {
		return nil, ErrInvalidInstant
	}
	n, err := sampleCount(span, step)
	if err != nil {
		return nil, err
	}
	p, err := NewSGP4Propagator(es, e.gravity)
	if err != nil {
		return nil, err
	}

	history := make(model.TrackHistory, 0, n)
	for k := 0; k < n; k++ {
		t := at.Add(-time.Duration(k) * step)
		s, err := e.sample(p, es, t)
		if err != nil {
			return nil, fmt.Errorf("history sample %d at %s: %w", k, t.UTC().Format(time.RFC3339), err)
		}
		history = append(history, s)
	}
	return history, nil
}

// Track returns the current sample together with the history ending at it.
func (e *Engine) Track(es model.ElementSet, at time.Time, span, step time.Duration) (model.KinematicSample, model.TrackHistory, error) {
	history, err := e.History(es, at, span, step)
	if err != nil {
		return model.KinematicSample{}, nil, err
	}
	return history[0], history, nil
}

// LookAngle describes a satellite as seen from a ground observer. Visible
// means above the observer's geometric horizon.
type LookAngle struct {
	ElevationDeg float64 `json:"elevation_deg"`
	RangeKm      float64 `json:"range_km"`
	Visible      bool    `json:"visible"`
}

// LookAngle returns the elevation and slant range of es from observer at at.
func (e *Engine) LookAngle(es model.ElementSet, at time.Time, observer model.GroundPoint) (LookAngle, error) {
	if at.IsZero() {
		return LookAngle{}, ErrInvalidInstant
	}
	p, err := NewSGP4Propagator(es, e.gravity)
	if err != nil {
		return LookAngle{}, err
	}
	if err := e.checkEpoch(es, at); err != nil {
		return LookAngle{}, err
	}
	state, err := e.propagate(p, at)
	if err != nil {
		return LookAngle{}, err
	}

	sat := state.ECEF()
	obs := GeodeticToECEF(observer.LatitudeDeg, observer.LongitudeDeg, observer.AltitudeKm)
	el := ElevationDegrees(obs, sat)
	return LookAngle{
		ElevationDeg: el,
		RangeKm:      obs.DistanceTo(sat),
		Visible:      el >= 0,
	}, nil
}

func (e *Engine) sample(p *SGP4Propagator, es model.ElementSet, at time.Time) (model.KinematicSample, error) {
	if err := e.checkEpoch(es, at); err != nil {
		return model.KinematicSample{}, err
	}
	state, err := e.propagate(p, at)
	if err != nil {
		return model.KinematicSample{}, err
	}
	return model.KinematicSample{
		Point:     state.GroundPoint(),
		SpeedKmh:  state.SpeedKmh(),
		Timestamp: at.UTC(),
	}, nil
}

func (e *Engine) checkEpoch(es model.ElementSet, at time.Time) error {
	if e.maxEpochAge <= 0 || es.Epoch.IsZero() {
		return nil
	}
	if age := es.EpochAge(at); age > e.maxEpochAge {
		return fmt.Errorf("%w: %s: %s from epoch %s exceeds %s",
			ErrPropagation, es.ID(), age.Round(time.Hour), es.Epoch.UTC().Format(time.RFC3339), e.maxEpochAge)
	}
	return nil
}

// propagate runs SGP4 and turns library panics into ErrPropagation.
func (e *Engine) propagate(p *SGP4Propagator, at time.Time) (state stateVector, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			state = stateVector{}
			err = fmt.Errorf("%w: %s: %v", ErrPropagation, p.id, r)
		}
		if e.observer != nil {
			e.observer.ObservePropagation(time.Since(start), err)
		}
	}()
	return p.Propagate(at)
}

func sampleCount(span, step time.Duration) (int, error) {
	if step <= 0 {
		return 0, fmt.Errorf("%w: step %s must be positive", ErrInvalidWindow, step)
	}
	if span < 0 {
		return 0, fmt.Errorf("%w: span %s must not be negative", ErrInvalidWindow, span)
	}
	n := int64(span/step) + 1
	if n > maxHistorySamples {
		return 0, fmt.Errorf("%w: %d samples exceeds limit %d", ErrInvalidWindow, n, maxHistorySamples)
	}
	return int(n), nil
}
