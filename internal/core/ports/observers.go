package ports

import "meetkit/internal/core/domain"

// MetricsObserver receives merged metric snapshots at most once per emission
// interval. Snapshots are never empty and are owned by the receiver.
type MetricsObserver interface {
	OnMetricsReceive(snapshot domain.MetricSnapshot)
}

// VideoTileObserver is notified on structural tile changes. Callbacks run on
// the delivery context, never concurrently with each other.
type VideoTileObserver interface {
	OnAddVideoTrack(tile domain.VideoTileState)
	OnRemoveVideoTrack(tile domain.VideoTileState)
}

// AudioVideoObserver handles audio/video client session and connection
// health events.
type AudioVideoObserver interface {
	OnAudioClientConnecting(reconnecting bool)
	OnAudioClientStart(reconnecting bool)
	OnAudioClientStop(status domain.SessionStatus)
	OnAudioClientReconnectionCancel()
	OnConnectionRecover()
	OnConnectionBecomePoor()
	OnVideoClientConnecting()
	OnVideoClientStart()
	OnVideoClientStop(status domain.SessionStatus)
}

type DeviceChangeObserver interface {
	OnAudioDeviceChange(devices []domain.MediaDevice)
}
