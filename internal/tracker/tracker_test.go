package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/groundtrack/core"
	"github.com/signalsfoundry/groundtrack/kb"
	"github.com/signalsfoundry/groundtrack/model"
)

var t0 = time.Date(2024, time.April, 9, 12, 0, 0, 0, time.UTC)

// scriptedEngine returns a canned sample, or fails/panics on demand.
type scriptedEngine struct {
	mu    sync.Mutex
	fail  error
	panic bool
	calls int
}

func (e *scriptedEngine) set(fail error, panics bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail, e.panic = fail, panics
}

func (e *scriptedEngine) Track(es model.ElementSet, at time.Time, span, step time.Duration) (model.KinematicSample, model.TrackHistory, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.panic {
		panic("sgp4 exploded")
	}
	if e.fail != nil {
		return model.KinematicSample{}, nil, e.fail
	}
	s := model.KinematicSample{
		Point:     model.GroundPoint{LatitudeDeg: 10, LongitudeDeg: float64(es.NoradID % 180), AltitudeKm: 420},
		SpeedKmh:  27600,
		Timestamp: at.UTC(),
	}
	n := int(span/step) + 1
	h := make(model.TrackHistory, n)
	for k := range h {
		h[k] = s
		h[k].Timestamp = at.Add(-time.Duration(k) * step)
	}
	return s, h, nil
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []string
	ages     []time.Duration
}

func (r *statusRecorder) SetTrackerStatus(status string, age time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
	r.ages = append(r.ages, age)
}

func testCatalog() *kb.Catalog {
	return kb.NewCatalog([]model.ElementSet{
		{Name: "ISS (ZARYA)", NoradID: 25544, Line1: "a", Line2: "b"},
		{Name: "CSS (TIANHE)", NoradID: 48274, Line1: "c", Line2: "d"},
	}, t0, "test")
}

func TestTickLiveStaleNoSignal(t *testing.T) {
	eng := &scriptedEngine{}
	rec := &statusRecorder{}
	tr := New(eng, testCatalog(), "ISS (ZARYA)", WithMetricsRecorder(rec), WithWindow(20*time.Minute, 10*time.Minute))
	ctx := context.Background()

	if s := tr.Snapshot(); s.Status != StatusNoSignal || s.Reason != ReasonAwaitingTick {
		t.Fatalf("initial snapshot = %+v", s)
	}

	live := tr.Tick(ctx, t0)
	if live.Status != StatusLive || live.Current == nil || len(live.History) != 3 {
		t.Fatalf("live snapshot = %+v", live)
	}

	eng.set(core.ErrPropagation, false)
	stale := tr.Tick(ctx, t0.Add(time.Second))
	if stale.Status != StatusStale {
		t.Fatalf("status = %s, want STALE", stale.Status)
	}
	if stale.Current == nil || !stale.Current.Timestamp.Equal(t0) {
		t.Fatalf("stale snapshot should keep last good sample, got %+v", stale.Current)
	}
	if stale.LastGoodAge() != time.Second {
		t.Fatalf("last good age = %s, want 1s", stale.LastGoodAge())
	}

	// A new selection has no last-good state, so failures become NO SIGNAL.
	if err := tr.Select("css (tianhe)"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	none := tr.Tick(ctx, t0.Add(2*time.Second))
	if none.Status != StatusNoSignal || none.Current != nil || none.Satellite != "CSS (TIANHE)" {
		t.Fatalf("snapshot = %+v, want NO SIGNAL for CSS", none)
	}

	eng.set(nil, false)
	if s := tr.Tick(ctx, t0.Add(3*time.Second)); s.Status != StatusLive {
		t.Fatalf("status = %s after recovery, want LIVE", s.Status)
	}

	if tr.Failures() != 2 {
		t.Fatalf("failures = %d, want 2", tr.Failures())
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []string{"LIVE", "STALE", "NO SIGNAL", "LIVE"}
	if len(rec.statuses) != len(want) {
		t.Fatalf("recorded statuses %v, want %v", rec.statuses, want)
	}
	for i := range want {
		if rec.statuses[i] != want[i] {
			t.Fatalf("recorded statuses %v, want %v", rec.statuses, want)
		}
	}
}

func TestTickRecoversPanics(t *testing.T) {
	eng := &scriptedEngine{panic: true}
	tr := New(eng, testCatalog(), "ISS (ZARYA)")

	s := tr.Tick(context.Background(), t0)
	if s.Status != StatusNoSignal {
		t.Fatalf("status = %s, want NO SIGNAL", s.Status)
	}
	if s.Reason == "" {
		t.Fatalf("expected panic reason")
	}
}

func TestEmptyCatalog(t *testing.T) {
	eng := &scriptedEngine{}
	tr := New(eng, kb.NewCatalog(nil, t0, "none"), "ISS (ZARYA)")

	s := tr.Tick(context.Background(), t0)
	if s.Status != StatusNoSignal || s.Reason != ReasonCatalogUnavailable {
		t.Fatalf("snapshot = %+v", s)
	}
	if eng.calls != 0 {
		t.Fatalf("engine called %d times with empty catalog", eng.calls)
	}
	if err := tr.Select("ISS (ZARYA)"); !errors.Is(err, kb.ErrSatelliteNotFound) {
		t.Fatalf("Select err = %v, want ErrSatelliteNotFound", err)
	}

	tr.SetCatalog(testCatalog())
	if s := tr.Tick(context.Background(), t0); s.Status != StatusLive {
		t.Fatalf("status after reload = %s, want LIVE", s.Status)
	}
}

func TestDefaultSelectionIsFirstName(t *testing.T) {
	tr := New(&scriptedEngine{}, testCatalog(), "")
	if got := tr.Selection(); got != "CSS (TIANHE)" {
		t.Fatalf("Selection = %q, want first sorted name", got)
	}
}

func TestSetWindow(t *testing.T) {
	tr := New(&scriptedEngine{}, testCatalog(), "ISS (ZARYA)")
	if err := tr.SetWindow(time.Hour, 0); !errors.Is(err, core.ErrInvalidWindow) {
		t.Fatalf("err = %v, want ErrInvalidWindow", err)
	}
	if err := tr.SetWindow(30*time.Minute, 5*time.Minute); err != nil {
		t.Fatalf("SetWindow: %v", err)
	}
	if s := tr.Tick(context.Background(), t0); len(s.History) != 7 {
		t.Fatalf("history len = %d, want 7", len(s.History))
	}
}

func TestSubscribersReceiveCopies(t *testing.T) {
	tr := New(&scriptedEngine{}, testCatalog(), "ISS (ZARYA)")

	var got []Snapshot
	unsubscribe := tr.Subscribe(func(s Snapshot) {
		// Calling back into the tracker must not deadlock.
		_ = tr.Snapshot()
		s.History[0].SpeedKmh = -1
		got = append(got, s)
	})

	tr.Tick(context.Background(), t0)
	if len(got) != 1 || got[0].Status != StatusLive {
		t.Fatalf("subscriber got %+v", got)
	}
	if tr.Snapshot().History[0].SpeedKmh < 0 {
		t.Fatalf("subscriber mutated tracker state")
	}

	unsubscribe()
	tr.Tick(context.Background(), t0.Add(time.Second))
	if len(got) != 1 {
		t.Fatalf("unsubscribed callback still invoked")
	}
}

func TestConcurrentTickAndSelect(t *testing.T) {
	tr := New(&scriptedEngine{}, testCatalog(), "ISS (ZARYA)")
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			tr.Tick(context.Background(), t0.Add(time.Duration(i)*time.Second))
		}
	}()
	go func() {
		defer wg.Done()
		names := []string{"ISS (ZARYA)", "CSS (TIANHE)"}
		for i := 0; i < 200; i++ {
			_ = tr.Select(names[i%2])
			_ = tr.Snapshot()
		}
	}()
	wg.Wait()
}
