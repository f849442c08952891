package timectrl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestTimeControllerSetTime(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, RealTime)

	newNow := start.Add(42 * time.Second)
	tc.SetTime(newNow)

	if got := tc.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
}

func TestTimeControllerStartUpdatesNow(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, 5*time.Millisecond, Accelerated)

	done := tc.Start(15 * time.Millisecond)
	<-done

	expected := start.Add(15 * time.Millisecond)
	if got := tc.Now(); !got.Equal(expected) {
		t.Fatalf("Now() = %v, want %v", got, expected)
	}
}

func TestRunAcceleratedNotifiesListeners(t *testing.T) {
	start := time.Date(2030, time.June, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Millisecond, Accelerated)

	var mu sync.Mutex
	var seen []time.Time
	ctx, cancel := context.WithCancel(context.Background())
	tc.AddListener(func(now time.Time) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, now)
		if len(seen) == 4 {
			cancel()
		}
	})

	if err := tc.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v, want context.Canceled", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 4 {
		t.Fatalf("listener saw %d ticks, want at least 4", len(seen))
	}
	for i := 0; i < 4; i++ {
		if want := start.Add(time.Duration(i) * time.Millisecond); !seen[i].Equal(want) {
			t.Fatalf("tick %d at %v, want %v", i, seen[i], want)
		}
	}
}

func TestRunRealTimeUsesWallClock(t *testing.T) {
	wall := time.Date(2024, time.April, 9, 12, 0, 0, 0, time.FixedZone("X", 3600))
	tc := NewTimeController(time.Time{}, time.Millisecond, RealTime)
	tc.wall = func() time.Time { return wall }

	ctx, cancel := context.WithCancel(context.Background())
	var got time.Time
	tc.AddListener(func(now time.Time) {
		got = now
		cancel()
	})
	_ = tc.Run(ctx)

	if !got.Equal(wall) || got.Location() != time.UTC {
		t.Fatalf("tick stamped %v, want %v in UTC", got, wall)
	}
}

func TestRequestClockFollowsMode(t *testing.T) {
	tickAt := time.Date(2024, time.April, 9, 12, 0, 0, 0, time.UTC)
	wall := tickAt.Add(900 * time.Millisecond)

	rt := NewTimeController(tickAt, time.Second, RealTime)
	rt.wall = func() time.Time { return wall }
	if got := rt.RequestClock()(); !got.Equal(wall) {
		t.Fatalf("realtime request clock = %v, want wall %v", got, wall)
	}
	if got := rt.Now(); !got.Equal(tickAt) {
		t.Fatalf("Now() = %v, want last tick %v", got, tickAt)
	}

	acc := NewTimeController(tickAt, time.Minute, Accelerated)
	acc.wall = func() time.Time { return wall }
	clock := acc.RequestClock()
	acc.SetTime(tickAt.Add(time.Hour))
	if got := clock(); !got.Equal(tickAt.Add(time.Hour)) {
		t.Fatalf("accelerated request clock = %v, want simulated time", got)
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode("accelerated") != Accelerated || ParseMode("predictive") != Accelerated {
		t.Fatalf("expected accelerated mode")
	}
	if ParseMode("") != RealTime || RealTime.String() != "realtime" {
		t.Fatalf("expected realtime default")
	}
}
