package services

import "meetkit/internal/core/domain"

// TranslationTable maps subsystem-local raw keys onto the public metric
// taxonomy. Keys missing from the table are internal diagnostics and are
// never surfaced.
type TranslationTable map[domain.Subsystem]map[domain.RawMetricKey]domain.ObservableMetric

// DefaultTranslationTable returns the table for the native audio and video
// engines.
func DefaultTranslationTable() TranslationTable {
	return TranslationTable{
		domain.SubsystemAudio: {
			domain.AudioRawPostJBSpk1sPacketsLostPercent: domain.AudioPacketsReceivedFractionLossPercent,
			domain.AudioRawPostJBMic1sPacketsLostPercent: domain.AudioPacketsSentFractionLossPercent,
		},
		domain.SubsystemVideo: {
			domain.VideoRawAvailableSendBandwidth:    domain.VideoAvailableSendBandwidth,
			domain.VideoRawAvailableReceiveBandwidth: domain.VideoAvailableReceiveBandwidth,
			domain.VideoRawSendBitrate:               domain.VideoSendBitrate,
			domain.VideoRawSendPacketLostPercent:     domain.VideoSendPacketLossPercent,
			domain.VideoRawSendFps:                   domain.VideoSendFps,
			domain.VideoRawReceiveBitrate:            domain.VideoReceiveBitrate,
			domain.VideoRawReceivePacketLostPercent:  domain.VideoReceivePacketLossPercent,
		},
	}
}

// Translate looks up a raw key in the subsystem partition.
func (t TranslationTable) Translate(subsystem domain.Subsystem, key domain.RawMetricKey) (domain.ObservableMetric, bool) {
	partition, ok := t[subsystem]
	if !ok {
		return 0, false
	}
	metric, ok := partition[key]
	return metric, ok
}
