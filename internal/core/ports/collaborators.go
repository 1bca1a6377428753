package ports

import (
	"context"

	"meetkit/internal/core/domain"
)

// RenderTarget is a platform view a tile renders frames into. RenderFrame
// must not bind or unbind the tile it is rendering.
type RenderTarget interface {
	RenderFrame(frame *domain.VideoFrame)
}

// VideoClientController is the native video client surface used for
// server-side pause of remote streams.
type VideoClientController interface {
	SetRemotePaused(ctx context.Context, paused bool, tileID domain.TileID) error
}

// DeviceController enumerates and selects capture and playback devices.
type DeviceController interface {
	ListAudioDevices() []domain.MediaDevice
	ChooseAudioDevice(device domain.MediaDevice) error
	ActiveCamera() (domain.MediaDevice, error)
	SwitchCamera() error
	AddDeviceChangeObserver(observer DeviceChangeObserver)
	RemoveDeviceChangeObserver(observer DeviceChangeObserver)
}

// MetricsSink is the ingress side of the metrics collector used by native
// engine adapters.
type MetricsSink interface {
	ProcessAudioMetrics(batch []domain.RawMetricSample)
	ProcessVideoMetrics(batch []domain.RawMetricSample)
}

// FrameSink is the ingress side of the video tile tracker used by native
// engine adapters. Pause codes are native integers validated on ingress.
type FrameSink interface {
	OnRawFrameEvent(tileID domain.TileID, attendeeID domain.AttendeeID, frame *domain.VideoFrame, pauseCode int)
}

// Telemetry records SDK-internal counters. Implementations must be safe for
// concurrent use.
type Telemetry interface {
	SamplesAccepted(subsystem domain.Subsystem, n int)
	SamplesDropped(subsystem domain.Subsystem, n int)
	SnapshotEmitted(metrics, subscribers int)
	SnapshotDiscarded(metrics int)
	ObserverFailure(component string)
	TileAdded(local bool)
	TileRemoved(local bool)
}
