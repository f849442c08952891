package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineCollector exposes propagation and track cache metrics. It satisfies
// core.PropagationObserver and core.CacheObserver.
type EngineCollector struct {
	gatherer prometheus.Gatherer

	Propagations        *prometheus.CounterVec
	PropagationDuration prometheus.Histogram
	CacheHits           prometheus.Counter
	CacheMisses         prometheus.Counter
}

// NewEngineCollector registers engine metrics against the provided registerer.
func NewEngineCollector(reg prometheus.Registerer) (*EngineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	propagations, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "groundtrack_propagations_total",
		Help: "SGP4 propagations, labeled by result (ok or error).",
	}, []string{"result"}), "groundtrack_propagations_total")
	if err != nil {
		return nil, err
	}
	duration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "groundtrack_propagation_duration_seconds",
		Help:    "Duration of single SGP4 propagations.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	}), "groundtrack_propagation_duration_seconds")
	if err != nil {
		return nil, err
	}
	hits, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "groundtrack_track_cache_hits_total",
		Help: "Track requests answered from the track cache.",
	}), "groundtrack_track_cache_hits_total")
	if err != nil {
		return nil, err
	}
	misses, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "groundtrack_track_cache_misses_total",
		Help: "Track requests that had to be computed.",
	}), "groundtrack_track_cache_misses_total")
	if err != nil {
		return nil, err
	}

	return &EngineCollector{
		gatherer:            gatherer,
		Propagations:        propagations,
		PropagationDuration: duration,
		CacheHits:           hits,
		CacheMisses:         misses,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *EngineCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObservePropagation records one propagation attempt.
func (c *EngineCollector) ObservePropagation(d time.Duration, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	if c.Propagations != nil {
		c.Propagations.WithLabelValues(result).Inc()
	}
	if c.PropagationDuration != nil {
		c.PropagationDuration.Observe(d.Seconds())
	}
}

// ObserveTrackCache counts a track cache lookup.
func (c *EngineCollector) ObserveTrackCache(hit bool) {
	if c == nil {
		return
	}
	if hit {
		if c.CacheHits != nil {
			c.CacheHits.Inc()
		}
		return
	}
	if c.CacheMisses != nil {
		c.CacheMisses.Inc()
	}
}
