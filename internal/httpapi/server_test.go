package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/groundtrack/core"
	"github.com/signalsfoundry/groundtrack/internal/archive"
	"github.com/signalsfoundry/groundtrack/internal/logging"
	"github.com/signalsfoundry/groundtrack/internal/observability"
	"github.com/signalsfoundry/groundtrack/internal/service"
	"github.com/signalsfoundry/groundtrack/internal/tracker"
	"github.com/signalsfoundry/groundtrack/kb"
	"github.com/signalsfoundry/groundtrack/model"
)

const (
	issLine1 = "1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005"
	issLine2 = "2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09"
)

var epoch = time.Date(2024, time.April, 9, 12, 0, 0, 0, time.UTC)

type fixture struct {
	srv     *Server
	tracker *tracker.Tracker
	metrics *observability.ServiceCollector
}

func newFixture(t *testing.T, cfg Config, sets ...model.ElementSet) fixture {
	t.Helper()
	if len(sets) == 0 {
		es, err := model.ParseElementSet("ISS (ZARYA)", issLine1, issLine2)
		if err != nil {
			t.Fatalf("ParseElementSet: %v", err)
		}
		sets = []model.ElementSet{es}
	}
	cat := kb.NewCatalog(sets, epoch, "test")
	engine := core.NewCachedEngine(core.NewEngine(core.WithClock(func() time.Time { return epoch })), nil, nil)
	tr := tracker.New(engine.Engine, cat, "")
	tr.Tick(context.Background(), epoch)

	metrics, err := observability.NewServiceCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewServiceCollector: %v", err)
	}
	svc := service.New(tr, engine)
	return fixture{srv: NewServer(cfg, svc, metrics, logging.Noop()), tracker: tr, metrics: metrics}
}

func (f fixture) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func TestProbes(t *testing.T) {
	f := newFixture(t, Config{})
	if w := f.do(t, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/readyz", nil); w.Code != http.StatusOK {
		t.Fatalf("readyz = %d", w.Code)
	}
	w := f.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "groundtrack_catalog_satellites") {
		t.Fatalf("metrics = %d\n%s", w.Code, w.Body.String())
	}
}

func TestReadyzWithoutCatalog(t *testing.T) {
	engine := core.NewCachedEngine(core.NewEngine(), nil, nil)
	tr := tracker.New(engine.Engine, kb.NewCatalog(nil, time.Time{}, ""), "")
	srv := NewServer(Config{}, service.New(tr, engine), nil, nil)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz = %d, want 503", w.Code)
	}
}

func TestListSatellites(t *testing.T) {
	f := newFixture(t, Config{})
	w := f.do(t, http.MethodGet, "/api/v1/satellites", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got catalogView
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Count != 1 || got.Names[0] != "ISS (ZARYA)" || got.Source != "test" || got.FetchedAt == nil {
		t.Fatalf("catalog = %+v", got)
	}
}

func TestPositionAndTrack(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(t, http.MethodGet, "/api/v1/satellites/ISS%20(ZARYA)/position?at=2024-04-09T12:00:00Z", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("position = %d %s", w.Code, w.Body.String())
	}
	var pos positionView
	if err := json.NewDecoder(w.Body).Decode(&pos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pos.NoradID != 25544 || !pos.Sample.Timestamp.Equal(epoch) {
		t.Fatalf("position = %+v", pos)
	}

	w = f.do(t, http.MethodGet, "/api/v1/satellites/iss%20(zarya)/track?at=2024-04-09T12:00:00Z&span=30&step=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("track = %d %s", w.Code, w.Body.String())
	}
	var tr trackView
	if err := json.NewDecoder(w.Body).Decode(&tr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n := len(tr.History.Timestamps); n != 4 {
		t.Fatalf("history samples = %d, want 4", n)
	}
	if len(tr.History.Latitudes) != 4 || tr.History.Latitudes[0] != tr.Current.Point.LatitudeDeg {
		t.Fatalf("history does not start at the current sample: %+v", tr.History)
	}
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t, Config{})
	cases := []struct {
		target string
		want   int
	}{
		{"/api/v1/satellites/NOPE/position", http.StatusNotFound},
		{"/api/v1/satellites/ISS%20(ZARYA)/position?at=2024-04-09T12:00:00", http.StatusBadRequest},
		{"/api/v1/satellites/ISS%20(ZARYA)/track?span=2000", http.StatusBadRequest},
		{"/api/v1/satellites/ISS%20(ZARYA)/track?step=0", http.StatusBadRequest},
		{"/api/v1/satellites/ISS%20(ZARYA)/track?span=abc", http.StatusBadRequest},
		{"/api/v1/satellites/ISS%20(ZARYA)/track?span=9007199254741052", http.StatusBadRequest},
		{"/api/v1/satellites/ISS%20(ZARYA)/track?step=-9007199254740988", http.StatusBadRequest},
		{"/api/v1/satellites/ISS%20(ZARYA)/position?at=2030-01-01T00:00:00Z", http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		w := f.do(t, http.MethodGet, tc.target, nil)
		if w.Code != tc.want {
			t.Errorf("GET %s = %d, want %d (%s)", tc.target, w.Code, tc.want, w.Body.String())
			continue
		}
		var body errorBody
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body.Error == "" {
			t.Errorf("GET %s: error body = %+v, %v", tc.target, body, err)
		}
	}

	if w := f.do(t, http.MethodPost, "/api/v1/catalog/reload", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("reload without loader = %d, want 503", w.Code)
	}
}

func TestLiveAndSelection(t *testing.T) {
	f := newFixture(t, Config{})
	w := f.do(t, http.MethodGet, "/api/v1/live", nil)
	var live liveView
	if err := json.NewDecoder(w.Body).Decode(&live); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if live.Status != tracker.StatusLive || live.Current == nil || len(live.History.Timestamps) != 11 {
		t.Fatalf("live = %+v", live)
	}

	w = f.do(t, http.MethodPut, "/api/v1/live/selection", []byte(`{"name":"ISS (ZARYA)","span_minutes":60,"step_minutes":5}`))
	if w.Code != http.StatusAccepted {
		t.Fatalf("selection = %d %s", w.Code, w.Body.String())
	}
	if span, step := f.tracker.Window(); span != time.Hour || step != 5*time.Minute {
		t.Fatalf("window = %s/%s", span, step)
	}

	if w := f.do(t, http.MethodPut, "/api/v1/live/selection", []byte(`{"name":"NOPE"}`)); w.Code != http.StatusNotFound {
		t.Fatalf("unknown selection = %d", w.Code)
	}
	if w := f.do(t, http.MethodPut, "/api/v1/live/selection", []byte(`{"bogus":1}`)); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown field = %d", w.Code)
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	f := newFixture(t, Config{})
	if w := f.do(t, http.MethodPost, "/api/v1/archive", []byte(`{"password":""}`)); w.Code != http.StatusBadRequest {
		t.Fatalf("empty password = %d", w.Code)
	}

	w := f.do(t, http.MethodPost, "/api/v1/archive", []byte(`{"password":"orbit"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("archive = %d %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Fatalf("content type = %q", ct)
	}
	b, err := archive.Open(w.Body.Bytes(), "orbit")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if b.Satellite != "ISS (ZARYA)" || w.Header().Get("X-Archive-Manifest") != b.Manifest() {
		t.Fatalf("bundle = %+v", b)
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Config{RateLimit: 1, Burst: 2})
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, f.do(t, http.MethodGet, "/api/v1/live", nil).Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
	if w := f.do(t, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Fatalf("probes must bypass the limiter, got %d", w.Code)
	}
}

func TestRateLimiterForgetsIdleClients(t *testing.T) {
	l := NewIPRateLimiter(1, 1)
	now := epoch
	l.now = func() time.Time { return now }
	l.lastSweep = now

	for i := 0; i < 100; i++ {
		l.GetLimiter(fmt.Sprintf("198.51.100.%d", i))
	}
	if got := l.Len(); got != 100 {
		t.Fatalf("Len = %d, want 100", got)
	}

	now = now.Add(limiterIdle / 2)
	busy := l.GetLimiter("198.51.100.7")
	if got := l.Len(); got != 100 {
		t.Fatalf("Len before the idle period = %d, want 100", got)
	}

	// The next request past the idle period sweeps everyone but the client
	// seen half way through.
	now = now.Add(limiterIdle/2 + time.Second)
	l.GetLimiter("203.0.113.1")
	if got := l.Len(); got != 2 {
		t.Fatalf("Len after sweep = %d, want 2", got)
	}
	if l.GetLimiter("198.51.100.7") != busy {
		t.Fatalf("recently seen client lost its bucket")
	}

	now = now.Add(limiterIdle + time.Second)
	if n := l.Sweep(); n != 2 || l.Len() != 0 {
		t.Fatalf("Sweep removed %d, %d left", n, l.Len())
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	if got := ClientIP(r, false); got != "10.0.0.1" {
		t.Fatalf("untrusted = %q", got)
	}
	if got := ClientIP(r, true); got != "203.0.113.9" {
		t.Fatalf("trusted = %q", got)
	}
}

func TestRequestIDAndMetrics(t *testing.T) {
	f := newFixture(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/satellites/ISS%20(ZARYA)/position", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)

	if got := w.Header().Get(requestIDHeader); got != "abc-123" {
		t.Fatalf("request id = %q", got)
	}
	got := testutil.ToFloat64(f.metrics.HTTPRequests.WithLabelValues("GET /api/v1/satellites/{name}/position", "GET", "200"))
	if got != 1 {
		t.Fatalf("http requests = %v, want 1", got)
	}
}

func TestLiveStream(t *testing.T) {
	f := newFixture(t, Config{})
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/live/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first liveView
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if first.Status != tracker.StatusLive {
		t.Fatalf("initial status = %s", first.Status)
	}

	// The subscription is registered before the initial write, so this tick
	// is delivered.
	f.tracker.Tick(context.Background(), epoch.Add(time.Minute))
	var next liveView
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read tick: %v", err)
	}
	if next.Current == nil || !next.Current.Timestamp.Equal(epoch.Add(time.Minute)) {
		t.Fatalf("tick snapshot = %+v", next.Current)
	}
}
