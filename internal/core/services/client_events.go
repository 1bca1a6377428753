package services

import (
	"context"

	"go.uber.org/zap"

	"meetkit/internal/core/domain"
	"meetkit/internal/core/ports"
	"meetkit/pkg/dispatch"
	"meetkit/pkg/tracing"
)

// ClientEventDispatcher fans audio/video client session events out to
// AudioVideoObserver subscribers on the delivery queue. Native adapters call
// the Notify methods from any goroutine.
type ClientEventDispatcher struct {
	logger    *zap.SugaredLogger
	queue     *dispatch.Queue
	telemetry ports.Telemetry
	observers *observerSet[ports.AudioVideoObserver]
}

func NewClientEventDispatcher(queue *dispatch.Queue, logger *zap.SugaredLogger, telemetry ports.Telemetry) *ClientEventDispatcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if telemetry == nil {
		telemetry = nopTelemetry{}
	}
	return &ClientEventDispatcher{
		logger:    logger,
		queue:     queue,
		telemetry: telemetry,
		observers: newObserverSet[ports.AudioVideoObserver](),
	}
}

func (d *ClientEventDispatcher) AddObserver(observer ports.AudioVideoObserver) {
	if observer != nil {
		d.observers.Add(observer)
	}
}

func (d *ClientEventDispatcher) RemoveObserver(observer ports.AudioVideoObserver) {
	if observer != nil {
		d.observers.Remove(observer)
	}
}

func (d *ClientEventDispatcher) NotifyAudioClientConnecting(reconnecting bool) {
	d.publish("audio_client_connecting", func(o ports.AudioVideoObserver) { o.OnAudioClientConnecting(reconnecting) })
}

func (d *ClientEventDispatcher) NotifyAudioClientStart(reconnecting bool) {
	d.publish("audio_client_start", func(o ports.AudioVideoObserver) { o.OnAudioClientStart(reconnecting) })
}

func (d *ClientEventDispatcher) NotifyAudioClientStop(status domain.SessionStatus) {
	d.publish("audio_client_stop", func(o ports.AudioVideoObserver) { o.OnAudioClientStop(status) })
}

func (d *ClientEventDispatcher) NotifyAudioClientReconnectionCancel() {
	d.publish("audio_client_reconnection_cancel", func(o ports.AudioVideoObserver) { o.OnAudioClientReconnectionCancel() })
}

func (d *ClientEventDispatcher) NotifyConnectionRecover() {
	d.publish("connection_recover", func(o ports.AudioVideoObserver) { o.OnConnectionRecover() })
}

func (d *ClientEventDispatcher) NotifyConnectionBecomePoor() {
	d.publish("connection_become_poor", func(o ports.AudioVideoObserver) { o.OnConnectionBecomePoor() })
}

func (d *ClientEventDispatcher) NotifyVideoClientConnecting() {
	d.publish("video_client_connecting", func(o ports.AudioVideoObserver) { o.OnVideoClientConnecting() })
}

func (d *ClientEventDispatcher) NotifyVideoClientStart() {
	d.publish("video_client_start", func(o ports.AudioVideoObserver) { o.OnVideoClientStart() })
}

func (d *ClientEventDispatcher) NotifyVideoClientStop(status domain.SessionStatus) {
	d.publish("video_client_stop", func(o ports.AudioVideoObserver) { o.OnVideoClientStop(status) })
}

func (d *ClientEventDispatcher) publish(event string, call func(ports.AudioVideoObserver)) {
	d.logger.Debugw("client event", "event", event)

	ok := d.queue.Enqueue(func() {
		ctx, span := tracing.TraceClientEvent(context.Background(), event)
		defer span.End()

		for _, observer := range d.observers.Snapshot() {
			observer := observer
			notifyObserver(ctx, d.logger, d.telemetry, "client_events", func() { call(observer) })
		}
	})
	if !ok {
		d.logger.Warnw("delivery queue closed, dropping client event", "event", event)
	}
}
