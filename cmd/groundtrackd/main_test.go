package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/groundtrack/core"
	"github.com/signalsfoundry/groundtrack/internal/logging"
	"github.com/signalsfoundry/groundtrack/internal/rpc"
	"github.com/signalsfoundry/groundtrack/timectrl"
)

const issFeed = `ISS (ZARYA)
1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005
2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09
`

var epoch = time.Date(2024, time.April, 9, 12, 0, 0, 0, time.UTC)

func env(m map[string]string) envLookup {
	return func(k string) string { return m[k] }
}

func TestLoadConfigPrecedence(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(logging.Config{Level: "warn", Format: "text", Output: &buf})

	cfg, err := loadConfig([]string{"-span", "30"}, env(map[string]string{
		"GROUNDTRACK_SATELLITE":    "STARLINK-1007",
		"GROUNDTRACK_SPAN_MINUTES": "60",
		"GROUNDTRACK_TICK":         "soon",
		"GROUNDTRACK_GRAVITY":      "wgs84",
		"GROUNDTRACK_TIME_MODE":    "accelerated",
		"GROUNDTRACK_START":        "2024-04-09T12:00:00Z",
	}), log)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Satellite != "STARLINK-1007" {
		t.Fatalf("satellite = %q", cfg.Satellite)
	}
	if cfg.Span != 30*time.Minute {
		t.Fatalf("flag should override env: span = %s", cfg.Span)
	}
	if cfg.Tick != time.Second {
		t.Fatalf("invalid env should keep default: tick = %s", cfg.Tick)
	}
	if cfg.Gravity != core.GravityWGS84 || cfg.Mode != timectrl.Accelerated || !cfg.Start.Equal(epoch) {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !bytes.Contains(buf.Bytes(), []byte("GROUNDTRACK_TICK")) {
		t.Fatalf("expected a warning for GROUNDTRACK_TICK, got %q", buf.String())
	}
}

func TestLoadConfigRejectsBadWindow(t *testing.T) {
	if _, err := loadConfig([]string{"-step", "0"}, env(nil), logging.Noop()); err == nil {
		t.Fatalf("expected error for zero step")
	}
	if _, err := loadConfig([]string{"-start", "2024-04-09T12:00:00"}, env(nil), logging.Noop()); err == nil {
		t.Fatalf("expected error for zoneless start")
	}
	if _, err := loadConfig([]string{"-span", "9007199254741052"}, env(nil), logging.Noop()); !errors.Is(err, core.ErrInvalidWindow) {
		t.Fatalf("oversized span err = %v, want ErrInvalidWindow", err)
	}

	var buf bytes.Buffer
	log := logging.New(logging.Config{Level: "warn", Output: &buf})
	cfg, err := loadConfig(nil, env(map[string]string{"GROUNDTRACK_SPAN_MINUTES": "9007199254741052"}), log)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Span != defaultConfig().Span {
		t.Fatalf("span = %s, want default kept", cfg.Span)
	}
	if !bytes.Contains(buf.Bytes(), []byte("GROUNDTRACK_SPAN_MINUTES")) {
		t.Fatalf("expected a warning for GROUNDTRACK_SPAN_MINUTES, got %q", buf.String())
	}
}

func TestGroundtrackdStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	feedPath := filepath.Join(t.TempDir(), "stations.txt")
	if err := os.WriteFile(feedPath, []byte(issFeed), 0o644); err != nil {
		t.Fatalf("write feed: %v", err)
	}

	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	cfg := defaultConfig()
	cfg.FeedURL = feedPath
	cfg.CacheDir = t.TempDir()
	cfg.Tick = 20 * time.Millisecond
	cfg.Mode = timectrl.Accelerated
	cfg.Start = epoch
	cfg.RateLimit = 0
	cfg.ReloadEvery = 0

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, logging.New(logging.Config{Level: "warn", Format: "text"}), httpLis, grpcLis)
	}()

	conn, err := grpc.NewClient(grpcLis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()

	cur, err := rpc.NewClient(conn).GetPosition(ctx, "ISS (ZARYA)", epoch, grpc.WaitForReady(true))
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if cur.Point.AltitudeKm < 300 || cur.Point.AltitudeKm > 500 {
		t.Fatalf("altitude = %.1f", cur.Point.AltitudeKm)
	}

	liveURL := "http://" + httpLis.Addr().String() + "/api/v1/live"
	deadline := time.Now().Add(5 * time.Second)
	for {
		var live struct {
			Status string `json:"status"`
		}
		resp, err := http.Get(liveURL)
		if err == nil {
			_ = json.NewDecoder(resp.Body).Decode(&live)
			resp.Body.Close()
			if live.Status == "LIVE" {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("tracker never reported LIVE (last status %q, err %v)", live.Status, err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run returned error: %v", err)
	}
}
