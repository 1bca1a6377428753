package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"meetkit/internal/core/domain"
	"meetkit/internal/core/ports"
)

// SnapshotGaugeObserver is a metrics observer that mirrors the latest
// snapshot into a gauge vector and keeps it for the HTTP API. Metrics absent
// from a snapshot keep their previous gauge value.
type SnapshotGaugeObserver struct {
	gauge      *prometheus.GaugeVec
	lastUpdate prometheus.Gauge

	mu     sync.RWMutex
	latest domain.MetricSnapshot
	now    func() time.Time
}

func NewSnapshotGaugeObserver(reg prometheus.Registerer) *SnapshotGaugeObserver {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &SnapshotGaugeObserver{
		gauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meetkit_observable_metric",
			Help: "Latest value of each observable client metric",
		}, []string{"metric"}),
		lastUpdate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetkit_observable_metric_last_update_timestamp_seconds",
			Help: "Unix time of the last snapshot received",
		}),
		latest: make(domain.MetricSnapshot),
		now:    time.Now,
	}
}

func (o *SnapshotGaugeObserver) OnMetricsReceive(snapshot domain.MetricSnapshot) {
	o.mu.Lock()
	for metric, value := range snapshot {
		o.latest[metric] = value
	}
	o.mu.Unlock()

	for metric, value := range snapshot {
		o.gauge.WithLabelValues(metric.String()).Set(value)
	}
	o.lastUpdate.Set(float64(o.now().Unix()))
}

// Latest returns the accumulated view of every metric seen so far.
func (o *SnapshotGaugeObserver) Latest() (domain.MetricSnapshot, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if len(o.latest) == 0 {
		return nil, false
	}
	return o.latest.Clone(), true
}

var (
	_ ports.MetricsObserver = (*SnapshotGaugeObserver)(nil)
	_ ports.SnapshotSource  = (*SnapshotGaugeObserver)(nil)
)
