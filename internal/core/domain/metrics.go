package domain

import (
	"fmt"
	"strings"
)

// Subsystem identifies the native engine that produced a raw metric sample.
type Subsystem int

const (
	SubsystemAudio Subsystem = iota
	SubsystemVideo
)

func (s Subsystem) String() string {
	switch s {
	case SubsystemAudio:
		return "audio"
	case SubsystemVideo:
		return "video"
	default:
		return fmt.Sprintf("subsystem(%d)", int(s))
	}
}

// RawMetricKey is a subsystem-local counter id. It has no meaning outside
// the subsystem that emitted it.
type RawMetricKey int

// Audio engine counters.
const (
	AudioRawPostJBSpk1sPacketsLostPercent RawMetricKey = 1
	AudioRawPostJBMic1sPacketsLostPercent RawMetricKey = 2
	AudioRawPreJBSpk1sPacketsLostPercent  RawMetricKey = 3
	AudioRawMicDeviceFramesLostPercent    RawMetricKey = 4
	AudioRawSpkDeviceFramesLostPercent    RawMetricKey = 5
	AudioRawJitterBufferDepthMs           RawMetricKey = 6
	AudioRawInterarrivalJitterMs          RawMetricKey = 7
)

// Video engine counters.
const (
	VideoRawAvailableSendBandwidth    RawMetricKey = 101
	VideoRawAvailableReceiveBandwidth RawMetricKey = 102
	VideoRawSendBitrate               RawMetricKey = 103
	VideoRawSendPacketLostPercent     RawMetricKey = 104
	VideoRawSendFps                   RawMetricKey = 105
	VideoRawReceiveBitrate            RawMetricKey = 106
	VideoRawReceivePacketLostPercent  RawMetricKey = 107
	VideoRawSendRttMs                 RawMetricKey = 108
	VideoRawNackCount                 RawMetricKey = 109
	VideoRawEncoderQueueDepth         RawMetricKey = 110
)

type RawMetricSample struct {
	Key   RawMetricKey
	Value float64
}

// ObservableMetric is the public, stable metric taxonomy exposed to the
// application.
type ObservableMetric int

const (
	AudioPacketsReceivedFractionLossPercent ObservableMetric = iota + 1
	AudioPacketsSentFractionLossPercent
	VideoAvailableSendBandwidth
	VideoAvailableReceiveBandwidth
	VideoSendBitrate
	VideoSendPacketLossPercent
	VideoSendFps
	VideoReceiveBitrate
	VideoReceivePacketLossPercent
)

var observableMetricNames = map[ObservableMetric]string{
	AudioPacketsReceivedFractionLossPercent: "audioPacketsReceivedFractionLossPercent",
	AudioPacketsSentFractionLossPercent:     "audioPacketsSentFractionLossPercent",
	VideoAvailableSendBandwidth:             "videoAvailableSendBandwidth",
	VideoAvailableReceiveBandwidth:          "videoAvailableReceiveBandwidth",
	VideoSendBitrate:                        "videoSendBitrate",
	VideoSendPacketLossPercent:              "videoSendPacketLossPercent",
	VideoSendFps:                            "videoSendFps",
	VideoReceiveBitrate:                     "videoReceiveBitrate",
	VideoReceivePacketLossPercent:           "videoReceivePacketLossPercent",
}

// AllObservableMetrics lists every member of the taxonomy in declaration order.
func AllObservableMetrics() []ObservableMetric {
	return []ObservableMetric{
		AudioPacketsReceivedFractionLossPercent,
		AudioPacketsSentFractionLossPercent,
		VideoAvailableSendBandwidth,
		VideoAvailableReceiveBandwidth,
		VideoSendBitrate,
		VideoSendPacketLossPercent,
		VideoSendFps,
		VideoReceiveBitrate,
		VideoReceivePacketLossPercent,
	}
}

func (m ObservableMetric) String() string {
	if name, ok := observableMetricNames[m]; ok {
		return name
	}
	return fmt.Sprintf("observableMetric(%d)", int(m))
}

// MarshalText lets snapshots encode as JSON objects keyed by metric name.
func (m ObservableMetric) MarshalText() ([]byte, error) {
	name, ok := observableMetricNames[m]
	if !ok {
		return nil, fmt.Errorf("unknown observable metric %d", int(m))
	}
	return []byte(name), nil
}

func (m *ObservableMetric) UnmarshalText(text []byte) error {
	metric, err := ParseObservableMetric(string(text))
	if err != nil {
		return err
	}
	*m = metric
	return nil
}

func ParseObservableMetric(name string) (ObservableMetric, error) {
	for metric, n := range observableMetricNames {
		if strings.EqualFold(n, name) {
			return metric, nil
		}
	}
	return 0, fmt.Errorf("unknown observable metric %q", name)
}

// MetricSnapshot maps observable metrics to their latest value within one
// emission window.
type MetricSnapshot map[ObservableMetric]float64

func (s MetricSnapshot) Clone() MetricSnapshot {
	out := make(MetricSnapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
