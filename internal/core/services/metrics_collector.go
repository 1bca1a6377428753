package services

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"meetkit/internal/core/domain"
	"meetkit/internal/core/ports"
	"meetkit/pkg/dispatch"
	"meetkit/pkg/tracing"
)

// DefaultEmissionInterval is the rate limit applied to snapshot delivery.
const DefaultEmissionInterval = time.Second

type collectorState int

const (
	collectorCreated collectorState = iota
	collectorRunning
	collectorStopped
)

// TickerFunc starts a ticker and returns its channel and a stop function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// MetricsCollector translates raw native engine counters into observable
// metrics, merges them per emission window and fans the merged snapshot out
// to subscribers through the delivery queue.
//
// Example usage:
//
//	collector := NewMetricsCollector(queue, logger)
//	collector.Subscribe(observer)
//	collector.Start(ctx)
//	defer collector.Stop()
type MetricsCollector struct {
	interval  time.Duration
	table     TranslationTable
	queue     *dispatch.Queue
	logger    *zap.SugaredLogger
	telemetry ports.Telemetry
	ticker    TickerFunc
	now       func() time.Time

	mu        sync.Mutex
	state     collectorState
	startedAt time.Time
	pending   domain.MetricSnapshot

	subscribers *observerSet[ports.MetricsObserver]

	cancel context.CancelFunc
	done   chan struct{}

	dropLog rate.Sometimes
}

type CollectorOption func(*MetricsCollector)

func WithEmissionInterval(d time.Duration) CollectorOption {
	return func(c *MetricsCollector) {
		if d > 0 {
			c.interval = d
		}
	}
}

func WithTranslationTable(table TranslationTable) CollectorOption {
	return func(c *MetricsCollector) {
		if table != nil {
			c.table = table
		}
	}
}

func WithCollectorTelemetry(t ports.Telemetry) CollectorOption {
	return func(c *MetricsCollector) {
		if t != nil {
			c.telemetry = t
		}
	}
}

// WithTicker replaces the wall-clock ticker and clock, mainly for tests.
func WithTicker(ticker TickerFunc, now func() time.Time) CollectorOption {
	return func(c *MetricsCollector) {
		if ticker != nil {
			c.ticker = ticker
		}
		if now != nil {
			c.now = now
		}
	}
}

func NewMetricsCollector(queue *dispatch.Queue, logger *zap.SugaredLogger, opts ...CollectorOption) *MetricsCollector {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	c := &MetricsCollector{
		interval:    DefaultEmissionInterval,
		table:       DefaultTranslationTable(),
		queue:       queue,
		logger:      logger,
		telemetry:   nopTelemetry{},
		ticker:      realTicker,
		now:         time.Now,
		pending:     make(domain.MetricSnapshot),
		subscribers: newObserverSet[ports.MetricsObserver](),
		dropLog:     rate.Sometimes{Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Start arms the emission ticker. Samples are accepted only while running.
func (c *MetricsCollector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case collectorRunning:
		return domain.ErrAlreadyRunning
	case collectorStopped:
		return domain.ErrCollectorStopped
	}

	// The baseline is taken before the ticker is armed so the first tick is
	// never earlier than one full interval after it.
	c.startedAt = c.now()
	ctx, cancel := context.WithCancel(ctx)
	tick, stopTicker := c.ticker(c.interval)

	c.state = collectorRunning
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(ctx, tick, stopTicker, c.done)

	c.logger.Infow("metrics collector started", "interval", c.interval)
	return nil
}

// Stop cancels the emission ticker and discards any pending window. No
// further snapshots are emitted once Stop returns.
func (c *MetricsCollector) Stop() {
	c.mu.Lock()
	if c.state != collectorRunning {
		c.state = collectorStopped
		c.mu.Unlock()
		return
	}
	c.state = collectorStopped
	c.pending = make(domain.MetricSnapshot)
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done

	c.logger.Infow("metrics collector stopped")
}

func (c *MetricsCollector) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == collectorRunning
}

func (c *MetricsCollector) Interval() time.Duration {
	return c.interval
}

func (c *MetricsCollector) Subscribe(observer ports.MetricsObserver) {
	if observer == nil {
		return
	}
	if c.subscribers.Add(observer) {
		c.logger.Debugw("metrics observer subscribed", "subscribers", c.subscribers.Len())
	}
}

func (c *MetricsCollector) Unsubscribe(observer ports.MetricsObserver) {
	if observer == nil {
		return
	}
	if c.subscribers.Remove(observer) {
		c.logger.Debugw("metrics observer unsubscribed", "subscribers", c.subscribers.Len())
	}
}

func (c *MetricsCollector) ProcessAudioMetrics(batch []domain.RawMetricSample) {
	c.process(domain.SubsystemAudio, batch)
}

func (c *MetricsCollector) ProcessVideoMetrics(batch []domain.RawMetricSample) {
	c.process(domain.SubsystemVideo, batch)
}

func (c *MetricsCollector) process(subsystem domain.Subsystem, batch []domain.RawMetricSample) {
	if len(batch) == 0 {
		return
	}

	c.mu.Lock()
	if c.state != collectorRunning {
		c.mu.Unlock()
		return
	}

	accepted, dropped := 0, 0
	for _, sample := range batch {
		metric, ok := c.table.Translate(subsystem, sample.Key)
		if !ok {
			dropped++
			continue
		}
		c.pending[metric] = sample.Value
		accepted++
	}
	c.mu.Unlock()

	if accepted > 0 {
		c.telemetry.SamplesAccepted(subsystem, accepted)
	}
	if dropped > 0 {
		c.telemetry.SamplesDropped(subsystem, dropped)
		c.dropLog.Do(func() {
			c.logger.Debugw("dropping non-observable metrics",
				"subsystem", subsystem,
				"dropped", dropped,
				"batch_size", len(batch),
			)
		})
	}
}

func (c *MetricsCollector) run(ctx context.Context, tick <-chan time.Time, stopTicker func(), done chan struct{}) {
	defer close(done)
	defer stopTicker()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick:
			c.emit(ctx, now)
		}
	}
}

// emit closes the current window. Ticks inside the first interval after
// Start are skipped so startup bursts are held back for one full interval.
func (c *MetricsCollector) emit(ctx context.Context, now time.Time) {
	c.mu.Lock()
	if c.state != collectorRunning || now.Sub(c.startedAt) < c.interval || len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	snapshot := c.pending
	c.pending = make(domain.MetricSnapshot)
	c.mu.Unlock()

	if c.subscribers.Len() == 0 {
		c.telemetry.SnapshotDiscarded(len(snapshot))
		return
	}

	if !c.queue.Enqueue(func() { c.deliver(ctx, snapshot) }) {
		c.telemetry.SnapshotDiscarded(len(snapshot))
		c.logger.Warnw("delivery queue closed, discarding metrics snapshot", "metrics", len(snapshot))
	}
}

func (c *MetricsCollector) deliver(ctx context.Context, snapshot domain.MetricSnapshot) {
	if ctx.Err() != nil {
		// Stopped between tick and delivery.
		c.telemetry.SnapshotDiscarded(len(snapshot))
		return
	}
	observers := c.subscribers.Snapshot()

	spanCtx, span := tracing.StartSpan(ctx, "metrics.emit")
	defer span.End()
	defer tracing.MeasureDuration(spanCtx, time.Now(), "metrics.deliver")
	tracing.AddSpanAttributes(spanCtx,
		attribute.Int("metrics.count", len(snapshot)),
		tracing.ObserversKey.Int(len(observers)),
	)

	if len(observers) == 0 {
		c.telemetry.SnapshotDiscarded(len(snapshot))
		return
	}

	for _, observer := range observers {
		observer := observer
		copyForObserver := snapshot.Clone()
		notifyObserver(spanCtx, c.logger, c.telemetry, "metrics_collector", func() {
			observer.OnMetricsReceive(copyForObserver)
		})
	}
	c.telemetry.SnapshotEmitted(len(snapshot), len(observers))
}
