package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"meetkit/internal/core/domain"
	"meetkit/internal/core/ports"
	"meetkit/pkg/dispatch"
)

type FacadeConfig struct {
	MetricsInterval  time.Duration
	TranslationTable TranslationTable
	Telemetry        ports.Telemetry
	VideoClient      ports.VideoClientController
	Devices          ports.DeviceController
}

// AudioVideoFacade is the client-facing entry point. It owns the delivery
// queue shared by the metrics collector, the tile tracker and the client
// event dispatcher, and tears them down in dependency order.
type AudioVideoFacade struct {
	logger  *zap.SugaredLogger
	queue   *dispatch.Queue
	metrics *MetricsCollector
	tiles   *VideoTileTracker
	events  *ClientEventDispatcher
	devices ports.DeviceController

	stopOnce sync.Once
}

func NewAudioVideoFacade(cfg FacadeConfig, logger *zap.SugaredLogger) *AudioVideoFacade {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	telemetry := cfg.Telemetry
	if telemetry == nil {
		telemetry = nopTelemetry{}
	}

	queue := dispatch.New(logger.Named("dispatch"))

	return &AudioVideoFacade{
		logger: logger,
		queue:  queue,
		metrics: NewMetricsCollector(queue, logger.Named("metrics"),
			WithEmissionInterval(cfg.MetricsInterval),
			WithTranslationTable(cfg.TranslationTable),
			WithCollectorTelemetry(telemetry),
		),
		tiles: NewVideoTileTracker(queue, cfg.VideoClient, logger.Named("tiles"),
			WithTrackerTelemetry(telemetry),
		),
		events:  NewClientEventDispatcher(queue, logger.Named("events"), telemetry),
		devices: cfg.Devices,
	}
}

func (f *AudioVideoFacade) Start(ctx context.Context) error {
	if err := f.metrics.Start(ctx); err != nil {
		return fmt.Errorf("start metrics collector: %w", err)
	}
	f.logger.Infow("audio video facade started")
	return nil
}

// Stop halts emission, drops every tile and drains the delivery queue. The
// queue closes last so notifications scheduled during teardown still reach
// their observers.
func (f *AudioVideoFacade) Stop() {
	f.stopOnce.Do(func() {
		f.metrics.Stop()
		f.tiles.Close()
		f.queue.Close()
		f.logger.Infow("audio video facade stopped")
	})
}

// Ping waits for the delivery queue to drain up to now and reports whether
// emission is running.
func (f *AudioVideoFacade) Ping(ctx context.Context) error {
	if err := f.queue.Sync(ctx); err != nil {
		return fmt.Errorf("delivery queue: %w", err)
	}
	if !f.metrics.IsRunning() {
		return domain.ErrCollectorStopped
	}
	return nil
}

func (f *AudioVideoFacade) Metrics() *MetricsCollector { return f.metrics }

func (f *AudioVideoFacade) Tiles() *VideoTileTracker { return f.tiles }

func (f *AudioVideoFacade) Events() *ClientEventDispatcher { return f.events }

// Devices returns the device controller, or nil when none was configured.
func (f *AudioVideoFacade) Devices() ports.DeviceController { return f.devices }

func (f *AudioVideoFacade) QueueDepth() int { return f.queue.Pending() }

func (f *AudioVideoFacade) ProcessAudioMetrics(batch []domain.RawMetricSample) {
	f.metrics.ProcessAudioMetrics(batch)
}

func (f *AudioVideoFacade) ProcessVideoMetrics(batch []domain.RawMetricSample) {
	f.metrics.ProcessVideoMetrics(batch)
}

func (f *AudioVideoFacade) OnRawFrameEvent(tileID domain.TileID, attendeeID domain.AttendeeID, frame *domain.VideoFrame, pauseCode int) {
	f.tiles.OnRawFrameEvent(tileID, attendeeID, frame, pauseCode)
}

var (
	_ ports.MetricsSink      = (*AudioVideoFacade)(nil)
	_ ports.FrameSink        = (*AudioVideoFacade)(nil)
	_ ports.VideoTileService = (*VideoTileTracker)(nil)
)
