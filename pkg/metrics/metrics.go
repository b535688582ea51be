// Package metrics exposes Prometheus collectors for ensemble evaluations.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "volumeguard"

// Collector records evaluation counters and detector timings.
// A nil *Collector is valid and records nothing.
type Collector struct {
	evaluations  *prometheus.CounterVec
	observations prometheus.Counter
	anomalies    *prometheus.CounterVec
	skipped      *prometheus.CounterVec
	fitDuration  *prometheus.HistogramVec
}

// New creates a Collector and registers it with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Total number of ensemble evaluations.",
		}, []string{"mode"}),
		observations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_total",
			Help:      "Total number of observations evaluated.",
		}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Total number of observations flagged anomalous.",
		}, []string{"mode"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_skipped_total",
			Help:      "Detectors skipped because the series was too short.",
		}, []string{"detector"}),
		fitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detector_duration_seconds",
			Help:      "Time spent running a detector over one series.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"detector"}),
	}

	for _, col := range []prometheus.Collector{c.evaluations, c.observations, c.anomalies, c.skipped, c.fitDuration} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	return c, nil
}

// ObserveEvaluation records one finished evaluation.
func (c *Collector) ObserveEvaluation(mode string, observations, anomalies int) {
	if c == nil {
		return
	}
	c.evaluations.WithLabelValues(mode).Inc()
	c.observations.Add(float64(observations))
	c.anomalies.WithLabelValues(mode).Add(float64(anomalies))
}

// ObserveDetector records how long one detector took.
func (c *Collector) ObserveDetector(detector string, d time.Duration) {
	if c == nil {
		return
	}
	c.fitDuration.WithLabelValues(detector).Observe(d.Seconds())
}

// DetectorSkipped records a detector skipped for insufficient data.
func (c *Collector) DetectorSkipped(detector string) {
	if c == nil {
		return
	}
	c.skipped.WithLabelValues(detector).Inc()
}
