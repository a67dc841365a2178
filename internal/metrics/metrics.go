// Package metrics exposes classification counters in Prometheus form and can
// export them for the node exporter textfile collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"codetax/internal/taxonomy"
	"codetax/internal/temporal"
)

const namespace = "codetax"

// Metrics holds the collectors of one process. It implements
// taxonomy.Observer.
type Metrics struct {
	registry *prometheus.Registry

	batches       *prometheus.CounterVec
	rawMatches    *prometheus.CounterVec
	keptMatches   *prometheus.CounterVec
	batchDuration prometheus.Histogram

	points      prometheus.Counter
	pointCount  prometheus.Gauge
	epicMatches *prometheus.GaugeVec
}

// New creates and registers the collectors on a private registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "batches_total",
			Help:      "Total number of backend searches, by batch head rule",
		}, []string{"head"}),
		rawMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "raw_matches_total",
			Help:      "Total number of matches returned by the backend",
		}, []string{"head"}),
		keptMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "classified_matches_total",
			Help:      "Total number of matches that survived classification",
		}, []string{"head"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "batch_duration_seconds",
			Help:      "Time spent searching and classifying one batch",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}),
		points: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "points_total",
			Help:      "Total number of history points emitted",
		}),
		pointCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "last_point_matches",
			Help:      "Match count of the most recent history point",
		}),
		epicMatches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "last_point_epic_matches",
			Help:      "Per-epic match count of the most recent history point",
		}, []string{"epic"}),
	}

	collectors := []prometheus.Collector{
		m.batches, m.rawMatches, m.keptMatches, m.batchDuration,
		m.points, m.pointCount, m.epicMatches,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// BatchDone records one finished batch.
func (m *Metrics) BatchDone(b taxonomy.Batch, raw, kept int, elapsed time.Duration) {
	head := b.Head.Name()
	m.batches.WithLabelValues(head).Inc()
	m.rawMatches.WithLabelValues(head).Add(float64(raw))
	m.keptMatches.WithLabelValues(head).Add(float64(kept))
	m.batchDuration.Observe(elapsed.Seconds())
}

// ObservePoint records a history point. Epic gauges are replaced so they
// always describe the latest point.
func (m *Metrics) ObservePoint(p temporal.Point) {
	m.points.Inc()
	m.pointCount.Set(float64(p.Count))
	m.epicMatches.Reset()
	for epic, n := range p.Epics {
		m.epicMatches.WithLabelValues(epic).Set(float64(n))
	}
}

// WriteTextfile writes every metric to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

var _ taxonomy.Observer = (*Metrics)(nil)
