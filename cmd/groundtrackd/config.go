package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/groundtrack/core"
	"github.com/signalsfoundry/groundtrack/internal/feed"
	"github.com/signalsfoundry/groundtrack/internal/logging"
	"github.com/signalsfoundry/groundtrack/internal/service"
	"github.com/signalsfoundry/groundtrack/internal/tracker"
	"github.com/signalsfoundry/groundtrack/timectrl"
)

// config is the resolved daemon configuration. Precedence: flags, then
// GROUNDTRACK_* environment variables, then defaults.
type config struct {
	HTTPAddr string
	GRPCAddr string

	FeedURL       string
	ExtraFeedURLs []string
	CacheDir      string
	MaxCacheFiles int
	ReloadEvery   time.Duration

	Tick      time.Duration
	Mode      timectrl.Mode
	Start     time.Time
	Satellite string
	Span      time.Duration
	Step      time.Duration

	MaxEpochAge time.Duration
	Gravity     core.Gravity

	RateLimit  float64
	Burst      int
	TrustProxy bool

	AutocertHosts []string
	AutocertDir   string
}

func defaultConfig() config {
	return config{
		HTTPAddr:      ":8080",
		GRPCAddr:      ":50051",
		FeedURL:       feed.DefaultSourceURL,
		CacheDir:      "data/tle",
		MaxCacheFiles: 5,
		ReloadEvery:   6 * time.Hour,
		Tick:          time.Second,
		Mode:          timectrl.RealTime,
		Satellite:     "ISS (ZARYA)",
		Span:          tracker.DefaultSpan,
		Step:          tracker.DefaultStep,
		MaxEpochAge:   core.DefaultMaxEpochAge,
		Gravity:       core.GravityWGS72,
		RateLimit:     10,
		Burst:         20,
		AutocertDir:   "certs",
	}
}

type envLookup func(string) string

// applyEnv overlays GROUNDTRACK_* variables. Invalid values are logged and
// the current value is kept.
func applyEnv(cfg *config, getenv envLookup, log logging.Logger) {
	ctx := context.Background()
	warn := func(key, value string) {
		log.Warn(ctx, "invalid environment value, using default",
			logging.String("key", key),
			logging.String("value", value),
		)
	}
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v := getenv(key); v != "" {
			*dst = splitList(v)
		}
	}
	dur := func(key string, dst *time.Duration, allowZero bool) {
		v := getenv(key)
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 || (d == 0 && !allowZero) {
			warn(key, v)
			return
		}
		*dst = d
	}
	minutes := func(key string, dst *time.Duration) {
		v := getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 || n > core.MaxMinutes {
			warn(key, v)
			return
		}
		*dst = time.Duration(n) * time.Minute
	}
	integer := func(key string, dst *int) {
		v := getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			warn(key, v)
			return
		}
		*dst = n
	}

	str("GROUNDTRACK_HTTP_ADDR", &cfg.HTTPAddr)
	str("GROUNDTRACK_GRPC_ADDR", &cfg.GRPCAddr)
	str("GROUNDTRACK_FEED_URL", &cfg.FeedURL)
	list("GROUNDTRACK_FEED_EXTRA_URLS", &cfg.ExtraFeedURLs)
	str("GROUNDTRACK_CACHE_DIR", &cfg.CacheDir)
	integer("GROUNDTRACK_CACHE_MAX_FILES", &cfg.MaxCacheFiles)
	dur("GROUNDTRACK_RELOAD_INTERVAL", &cfg.ReloadEvery, true)
	dur("GROUNDTRACK_TICK", &cfg.Tick, false)
	str("GROUNDTRACK_SATELLITE", &cfg.Satellite)
	minutes("GROUNDTRACK_SPAN_MINUTES", &cfg.Span)
	minutes("GROUNDTRACK_STEP_MINUTES", &cfg.Step)
	dur("GROUNDTRACK_MAX_EPOCH_AGE", &cfg.MaxEpochAge, true)
	integer("GROUNDTRACK_RATE_BURST", &cfg.Burst)
	list("GROUNDTRACK_AUTOCERT_HOSTS", &cfg.AutocertHosts)
	str("GROUNDTRACK_AUTOCERT_DIR", &cfg.AutocertDir)

	if v := getenv("GROUNDTRACK_TIME_MODE"); v != "" {
		cfg.Mode = timectrl.ParseMode(v)
	}
	if v := getenv("GROUNDTRACK_START"); v != "" {
		if t, err := core.ParseInstant(v); err != nil {
			warn("GROUNDTRACK_START", v)
		} else {
			cfg.Start = t
		}
	}
	if v := getenv("GROUNDTRACK_GRAVITY"); v != "" {
		if g, err := core.ParseGravity(v); err != nil {
			warn("GROUNDTRACK_GRAVITY", v)
		} else {
			cfg.Gravity = g
		}
	}
	if v := getenv("GROUNDTRACK_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err != nil || f < 0 {
			warn("GROUNDTRACK_RATE_LIMIT", v)
		} else {
			cfg.RateLimit = f
		}
	}
	if v := getenv("GROUNDTRACK_TRUST_PROXY"); v != "" {
		if b, err := strconv.ParseBool(v); err != nil {
			warn("GROUNDTRACK_TRUST_PROXY", v)
		} else {
			cfg.TrustProxy = b
		}
	}
}

// loadConfig resolves defaults, environment and command-line flags.
func loadConfig(args []string, getenv envLookup, log logging.Logger) (config, error) {
	cfg := defaultConfig()
	applyEnv(&cfg, getenv, log)

	fs := flag.NewFlagSet("groundtrackd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address (API, WebSocket and /metrics)")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC listen address; empty disables gRPC")
	fs.StringVar(&cfg.FeedURL, "feed-url", cfg.FeedURL, "TLE feed URL or local file")
	extra := fs.String("feed-extra-urls", strings.Join(cfg.ExtraFeedURLs, ","), "comma-separated additional feed URLs")
	fs.StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "directory for cached feed snapshots; empty disables the cache")
	fs.IntVar(&cfg.MaxCacheFiles, "cache-max-files", cfg.MaxCacheFiles, "number of cached feed snapshots to keep")
	fs.DurationVar(&cfg.ReloadEvery, "reload-interval", cfg.ReloadEvery, "catalog refresh interval; 0 disables periodic reloads")
	fs.DurationVar(&cfg.Tick, "tick", cfg.Tick, "live refresh interval")
	mode := fs.String("time-mode", cfg.Mode.String(), "realtime or accelerated")
	start := fs.String("start", "", "start instant (RFC 3339) for accelerated mode")
	fs.StringVar(&cfg.Satellite, "satellite", cfg.Satellite, "initially tracked satellite")
	span := fs.Int64("span", int64(cfg.Span/time.Minute), "trailing history span in minutes")
	step := fs.Int64("step", int64(cfg.Step/time.Minute), "history step in minutes")
	fs.DurationVar(&cfg.MaxEpochAge, "max-epoch-age", cfg.MaxEpochAge, "reject propagation this far from the element epoch; 0 disables")
	gravity := fs.String("gravity", cfg.Gravity.String(), "gravity model: wgs72 or wgs84")
	fs.Float64Var(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "requests per second per client IP; 0 disables")
	fs.IntVar(&cfg.Burst, "rate-burst", cfg.Burst, "rate limiter burst")
	fs.BoolVar(&cfg.TrustProxy, "trust-proxy", cfg.TrustProxy, "honour X-Forwarded-For when limiting")
	hosts := fs.String("autocert-hosts", strings.Join(cfg.AutocertHosts, ","), "comma-separated host names served with ACME certificates")
	fs.StringVar(&cfg.AutocertDir, "autocert-dir", cfg.AutocertDir, "ACME certificate cache directory")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg.ExtraFeedURLs = splitList(*extra)
	cfg.AutocertHosts = splitList(*hosts)
	cfg.Mode = timectrl.ParseMode(*mode)
	var err error
	if cfg.Span, err = core.Minutes(*span); err != nil {
		return config{}, fmt.Errorf("-span: %w", err)
	}
	if cfg.Step, err = core.Minutes(*step); err != nil {
		return config{}, fmt.Errorf("-step: %w", err)
	}

	if *start != "" {
		t, err := core.ParseInstant(*start)
		if err != nil {
			return config{}, fmt.Errorf("-start: %w", err)
		}
		cfg.Start = t
	}
	g, err := core.ParseGravity(*gravity)
	if err != nil {
		return config{}, fmt.Errorf("-gravity: %w", err)
	}
	cfg.Gravity = g

	if err := service.ValidateWindow(cfg.Span, cfg.Step); err != nil {
		return config{}, err
	}
	if cfg.Tick <= 0 {
		return config{}, fmt.Errorf("-tick must be positive, got %s", cfg.Tick)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
