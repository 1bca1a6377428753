package webrtc

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"meetkit/internal/core/domain"
	"meetkit/internal/core/ports"
)

const defaultAudioClockRate = 48000

type Direction int

const (
	// Outbound streams are sent by this client; the remote end reports on
	// them with receiver reports, NACKs and REMB.
	Outbound Direction = iota
	// Inbound streams are received; their sender reports drive receive
	// bitrate.
	Inbound
)

type rtcpStream struct {
	kind      webrtc.RTPCodecType
	direction Direction
	clockRate uint32

	lastOctets uint32
	lastNTP    uint64
	haveSR     bool
}

// RTCPMetricsSource translates RTCP feedback into raw native metric samples
// for the metrics collector. Samples the public taxonomy does not cover
// (jitter, NACK count) are still emitted and dropped by translation.
type RTCPMetricsSource struct {
	sink   ports.MetricsSink
	logger *zap.SugaredLogger

	mu      sync.Mutex
	streams map[uint32]*rtcpStream
}

func NewRTCPMetricsSource(sink ports.MetricsSink, logger *zap.SugaredLogger) *RTCPMetricsSource {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RTCPMetricsSource{
		sink:    sink,
		logger:  logger,
		streams: make(map[uint32]*rtcpStream),
	}
}

func (s *RTCPMetricsSource) Register(ssrc uint32, kind webrtc.RTPCodecType, direction Direction) {
	clockRate := uint32(defaultVideoClockRate)
	if kind == webrtc.RTPCodecTypeAudio {
		clockRate = defaultAudioClockRate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[ssrc] = &rtcpStream{kind: kind, direction: direction, clockRate: clockRate}
}

func (s *RTCPMetricsSource) Unregister(ssrc uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, ssrc)
}

// HandleRaw parses a compound RTCP packet and handles it.
func (s *RTCPMetricsSource) HandleRaw(buf []byte) error {
	packets, err := rtcp.Unmarshal(buf)
	if err != nil {
		return fmt.Errorf("unmarshal rtcp packet: %w", err)
	}
	s.HandlePackets(packets)
	return nil
}

// HandlePackets converts one compound packet into at most one audio and one
// video batch.
func (s *RTCPMetricsSource) HandlePackets(packets []rtcp.Packet) {
	var audio, video []domain.RawMetricSample

	add := func(kind webrtc.RTPCodecType, audioKey, videoKey domain.RawMetricKey, value float64) {
		switch kind {
		case webrtc.RTPCodecTypeAudio:
			if audioKey != 0 {
				audio = append(audio, domain.RawMetricSample{Key: audioKey, Value: value})
			}
		case webrtc.RTPCodecTypeVideo:
			if videoKey != 0 {
				video = append(video, domain.RawMetricSample{Key: videoKey, Value: value})
			}
		}
	}

	s.mu.Lock()
	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.ReceiverReport:
			for _, report := range p.Reports {
				stream, ok := s.streams[report.SSRC]
				if !ok || stream.direction != Outbound {
					continue
				}
				lossPercent := float64(report.FractionLost) * 100 / 256
				add(stream.kind, domain.AudioRawPostJBMic1sPacketsLostPercent, domain.VideoRawSendPacketLostPercent, lossPercent)

				jitterMs := float64(report.Jitter) * 1000 / float64(stream.clockRate)
				add(stream.kind, domain.AudioRawInterarrivalJitterMs, 0, jitterMs)
			}

		case *rtcp.SenderReport:
			stream, ok := s.streams[p.SSRC]
			if !ok || stream.direction != Inbound {
				continue
			}
			if stream.haveSR && p.NTPTime > stream.lastNTP {
				elapsed := ntpDuration(p.NTPTime - stream.lastNTP)
				octets := p.OctetCount - stream.lastOctets
				if elapsed > 0 {
					kbps := float64(octets) * 8 / elapsed.Seconds() / 1000
					add(stream.kind, 0, domain.VideoRawReceiveBitrate, kbps)
				}
			}
			stream.lastOctets = p.OctetCount
			stream.lastNTP = p.NTPTime
			stream.haveSR = true

		case *rtcp.ReceiverEstimatedMaximumBitrate:
			for _, ssrc := range p.SSRCs {
				stream, ok := s.streams[ssrc]
				if !ok || stream.direction != Outbound || stream.kind != webrtc.RTPCodecTypeVideo {
					continue
				}
				add(stream.kind, 0, domain.VideoRawAvailableSendBandwidth, float64(p.Bitrate)/1000)
				break
			}

		case *rtcp.TransportLayerNack:
			stream, ok := s.streams[p.MediaSSRC]
			if !ok || stream.direction != Outbound {
				continue
			}
			lost := 0
			for _, pair := range p.Nacks {
				lost += len(pair.PacketList())
			}
			add(stream.kind, 0, domain.VideoRawNackCount, float64(lost))

		default:
			s.logger.Debugw("ignoring rtcp packet", "type", fmt.Sprintf("%T", packet))
		}
	}
	s.mu.Unlock()

	if len(audio) > 0 {
		s.sink.ProcessAudioMetrics(audio)
	}
	if len(video) > 0 {
		s.sink.ProcessVideoMetrics(video)
	}
}

// ntpDuration converts a 32.32 fixed point NTP interval.
func ntpDuration(ntp uint64) time.Duration {
	seconds := ntp >> 32
	fraction := ntp & 0xFFFFFFFF
	return time.Duration(seconds)*time.Second + time.Duration(fraction*uint64(time.Second)>>32)
}
