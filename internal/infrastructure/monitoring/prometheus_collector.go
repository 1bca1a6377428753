package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"meetkit/internal/core/domain"
	"meetkit/internal/core/ports"
)

// PrometheusCollector records SDK internals: translated and dropped samples,
// snapshot emission and observer failures, plus the live tile count.
type PrometheusCollector struct {
	// Counters
	samplesAccepted  *prometheus.CounterVec
	samplesDropped   *prometheus.CounterVec
	snapshotsEmitted prometheus.Counter
	snapshotsDiscard prometheus.Counter
	observerFailures *prometheus.CounterVec
	tileEventsTotal  *prometheus.CounterVec

	// Histograms
	snapshotSize   prometheus.Histogram
	snapshotFanout prometheus.Histogram

	// Gauges
	activeTiles *prometheus.GaugeVec
}

// NewPrometheusCollector registers the collector's metrics on reg. Passing
// nil uses the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		samplesAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetkit_metric_samples_accepted_total",
			Help: "Raw metric samples translated into observable metrics",
		}, []string{"subsystem"}),

		samplesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetkit_metric_samples_dropped_total",
			Help: "Raw metric samples with no observable translation",
		}, []string{"subsystem"}),

		snapshotsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetkit_metric_snapshots_emitted_total",
			Help: "Metric snapshots delivered to at least one observer",
		}),

		snapshotsDiscard: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetkit_metric_snapshots_discarded_total",
			Help: "Metric snapshots discarded because nobody was subscribed",
		}),

		observerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetkit_observer_failures_total",
			Help: "Observer callbacks that panicked",
		}, []string{"component"}),

		tileEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetkit_video_tile_events_total",
			Help: "Video tile structural changes",
		}, []string{"event", "kind"}),

		snapshotSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meetkit_metric_snapshot_size",
			Help:    "Number of metrics carried by an emitted snapshot",
			Buckets: prometheus.LinearBuckets(1, 1, 9),
		}),

		snapshotFanout: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meetkit_metric_snapshot_subscribers",
			Help:    "Number of observers a snapshot was delivered to",
			Buckets: prometheus.ExponentialBuckets(1, 2, 6),
		}),

		activeTiles: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meetkit_video_tiles_active",
			Help: "Video tiles currently tracked",
		}, []string{"kind"}),
	}
}

func (p *PrometheusCollector) SamplesAccepted(subsystem domain.Subsystem, n int) {
	p.samplesAccepted.WithLabelValues(subsystem.String()).Add(float64(n))
}

func (p *PrometheusCollector) SamplesDropped(subsystem domain.Subsystem, n int) {
	p.samplesDropped.WithLabelValues(subsystem.String()).Add(float64(n))
}

func (p *PrometheusCollector) SnapshotEmitted(metrics, subscribers int) {
	p.snapshotsEmitted.Inc()
	p.snapshotSize.Observe(float64(metrics))
	p.snapshotFanout.Observe(float64(subscribers))
}

func (p *PrometheusCollector) SnapshotDiscarded(int) {
	p.snapshotsDiscard.Inc()
}

func (p *PrometheusCollector) ObserverFailure(component string) {
	p.observerFailures.WithLabelValues(component).Inc()
}

func (p *PrometheusCollector) TileAdded(local bool) {
	kind := tileKind(local)
	p.activeTiles.WithLabelValues(kind).Inc()
	p.tileEventsTotal.WithLabelValues("add", kind).Inc()
}

func (p *PrometheusCollector) TileRemoved(local bool) {
	kind := tileKind(local)
	p.activeTiles.WithLabelValues(kind).Dec()
	p.tileEventsTotal.WithLabelValues("remove", kind).Inc()
}

func tileKind(local bool) string {
	if local {
		return "local"
	}
	return "remote"
}

var _ ports.Telemetry = (*PrometheusCollector)(nil)
