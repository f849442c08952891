package timectrl

import (
	"context"
	"sync"
	"time"
)

// Clock is the read side of a TimeController. Components that only need the
// current instant depend on this rather than on the controller.
type Clock interface {
	Now() time.Time
}

// Mode describes how the TimeController advances time.
type Mode int

const (
	// RealTime stamps every tick with the wall clock in UTC.
	RealTime Mode = iota
	// Accelerated advances the controller's own time by Tick on every tick,
	// starting from an arbitrary instant. Used for predictive runs.
	Accelerated
)

func (m Mode) String() string {
	if m == Accelerated {
		return "accelerated"
	}
	return "realtime"
}

// ParseMode maps "realtime"/"accelerated" onto a Mode; anything else is RealTime.
func ParseMode(s string) Mode {
	if s == "accelerated" || s == "predictive" {
		return Accelerated
	}
	return RealTime
}

// TimeController drives the refresh tick and notifies registered listeners.
// Listeners run sequentially on the controller goroutine.
type TimeController struct {
	mu   sync.RWMutex
	Tick time.Duration
	Mode Mode

	currentTime time.Time
	wall        func() time.Time

	listeners []func(time.Time)
}

// NewTimeController constructs a controller. A zero start in RealTime mode
// means the current wall clock.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	if tick <= 0 {
		tick = time.Second
	}
	tc := &TimeController{
		Tick: tick,
		Mode: mode,
		wall: time.Now,
	}
	if start.IsZero() && mode == RealTime {
		start = tc.wall()
	}
	tc.currentTime = start.UTC()
	return tc
}

// Now returns the controller's current instant. Implements Clock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// RequestClock is the clock for on-demand queries. In RealTime mode it reads
// the wall clock, so queries between ticks are not pinned to the last tick;
// in Accelerated mode it is the simulated time.
func (tc *TimeController) RequestClock() func() time.Time {
	if tc.Mode == Accelerated {
		return tc.Now
	}
	return func() time.Time { return tc.wall().UTC() }
}

// SetTime moves the controller to t. In RealTime mode the next tick
// overwrites it with the wall clock again.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t.UTC()
	tc.mu.Unlock()
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// Start runs the controller for the specified duration in a separate goroutine.
// It returns a channel that is closed when the controller finishes.
func (tc *TimeController) Start(duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		elapsed := time.Duration(0)
		ticker := time.NewTicker(tc.Tick)
		defer ticker.Stop()

		for {
			if duration > 0 && elapsed >= duration {
				return
			}
			<-ticker.C
			elapsed += tc.Tick
			tc.fire(tc.advance())
		}
	}()
	return done
}

// Run notifies listeners once immediately and then on every tick until ctx
// is cancelled. It returns ctx.Err().
func (tc *TimeController) Run(ctx context.Context) error {
	if tc.Mode == RealTime {
		tc.SetTime(tc.wall())
	}
	tc.fire(tc.Now())

	ticker := time.NewTicker(tc.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tc.fire(tc.advance())
		}
	}
}

func (tc *TimeController) advance() time.Time {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.Mode == RealTime {
		tc.currentTime = tc.wall().UTC()
	} else {
		tc.currentTime = tc.currentTime.Add(tc.Tick)
	}
	return tc.currentTime
}

func (tc *TimeController) fire(now time.Time) {
	tc.mu.RLock()
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.RUnlock()
	for _, fn := range listeners {
		fn(now)
	}
}
