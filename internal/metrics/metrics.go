// Package metrics exposes Prometheus instrumentation for the simulation
// driver. It is grounded on the NBICollector register-helper pattern
// (other_examples/Cizor-spacetime-constellation-sim/internal/observability/metrics.go),
// adapted from gRPC request counters to tick/build gauges.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the gauges and histograms the driver updates every tick.
type Collector struct {
	gatherer prometheus.Gatherer

	VehicleCount     prometheus.Gauge
	TickDuration     prometheus.Histogram
	BuildDuration    prometheus.Histogram
	BuildComparisons prometheus.Gauge
	BuildAvgNearby   prometheus.Gauge
	BuildsSkipped    prometheus.Counter
	BuildsCompleted  prometheus.Counter
}

// NewCollector registers driver metrics against reg, defaulting to the
// global Prometheus registry when reg is nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	vehicleCount, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "v2v_vehicle_count",
		Help: "Current number of simulated vehicles.",
	}), "v2v_vehicle_count")
	if err != nil {
		return nil, err
	}

	tickDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "v2v_tick_duration_seconds",
		Help:    "Wall-clock duration of one driver tick, including motion update and dispatch.",
		Buckets: prometheus.DefBuckets,
	}), "v2v_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	buildDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "v2v_build_duration_seconds",
		Help:    "Wall-clock duration of one interference-graph build.",
		Buckets: prometheus.DefBuckets,
	}), "v2v_build_duration_seconds")
	if err != nil {
		return nil, err
	}

	buildComparisons, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "v2v_build_comparisons",
		Help: "Distance comparisons performed by the most recently published build.",
	}), "v2v_build_comparisons")
	if err != nil {
		return nil, err
	}

	buildAvgNearby, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "v2v_build_avg_nearby",
		Help: "Average distance-comparison candidates examined per vehicle in the most recently published build.",
	}), "v2v_build_avg_nearby")
	if err != nil {
		return nil, err
	}

	buildsSkipped, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "v2v_builds_skipped_total",
		Help: "Ticks that found a build still in flight and skipped dispatching a new one.",
	}), "v2v_builds_skipped_total")
	if err != nil {
		return nil, err
	}

	buildsCompleted, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "v2v_builds_completed_total",
		Help: "Interference-graph builds published to the live graph.",
	}), "v2v_builds_completed_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:         gatherer,
		VehicleCount:     vehicleCount,
		TickDuration:     tickDuration,
		BuildDuration:    buildDuration,
		BuildComparisons: buildComparisons,
		BuildAvgNearby:   buildAvgNearby,
		BuildsSkipped:    buildsSkipped,
		BuildsCompleted:  buildsCompleted,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
