package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"meetkit/internal/core/domain"
	"meetkit/internal/core/ports"
	rtcadapter "meetkit/internal/infrastructure/webrtc"
)

const (
	videoClockRate   = 90000
	maxPacketPayload = 1000
	videoPayloadType = 96
	// Seconds between 1900 and 1970.
	ntpEpochOffset = 2208988800
)

// Sink is the ingress surface of the facade the engine feeds.
type Sink interface {
	ports.FrameSink
	ports.MetricsSink
}

// ClientEvents receives the session lifecycle of the simulated audio and
// video clients.
type ClientEvents interface {
	NotifyAudioClientConnecting(reconnecting bool)
	NotifyAudioClientStart(reconnecting bool)
	NotifyAudioClientStop(status domain.SessionStatus)
	NotifyConnectionBecomePoor()
	NotifyConnectionRecover()
	NotifyVideoClientConnecting()
	NotifyVideoClientStart()
	NotifyVideoClientStop(status domain.SessionStatus)
}

type Config struct {
	RemoteStreams  int
	LocalStream    bool
	FrameRate      int
	ReportInterval time.Duration
	// ChurnInterval of zero disables pause and stop cycling.
	ChurnInterval time.Duration
	Seed          int64
}

func (c Config) validate() error {
	if c.RemoteStreams < 0 {
		return errors.New("remote streams must not be negative")
	}
	if c.FrameRate <= 0 {
		return errors.New("frame rate must be positive")
	}
	if c.ReportInterval <= 0 {
		return errors.New("report interval must be positive")
	}
	if c.ChurnInterval < 0 {
		return errors.New("churn interval must not be negative")
	}
	return nil
}

type streamState int

const (
	streamActive streamState = iota
	streamPoor
	streamStopped
)

type stream struct {
	ssrc       uint32
	tileID     domain.TileID
	attendeeID domain.AttendeeID

	seq       uint16
	timestamp uint32
	packets   uint32
	octets    uint32
	dropped   uint32

	state      streamState
	userPaused bool
	cycle      int
}

func (s *stream) local() bool { return s.attendeeID.IsLocal() }

// Engine simulates the native media engine of one meeting client. It
// produces RTP video for every stream, RTCP feedback and raw metric batches,
// and cycles remote streams through poor connection and stop.
//
// The step methods are not safe for concurrent use; Run drives them from a
// single goroutine.
type Engine struct {
	cfg    Config
	sink   Sink
	events ClientEvents
	client *VideoClient
	logger *zap.SugaredLogger

	assembler *rtcadapter.FrameAssembler
	rtcp      *rtcadapter.RTCPMetricsSource
	rng       *rand.Rand

	streams   []*stream
	audioSSRC uint32
	nextSSRC  uint32
	started   bool
}

func NewEngine(cfg Config, sink Sink, events ClientEvents, client *VideoClient, logger *zap.SugaredLogger) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid simulator config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if client == nil {
		client = NewVideoClient(logger)
	}
	return &Engine{
		cfg:       cfg,
		sink:      sink,
		events:    events,
		client:    client,
		logger:    logger,
		assembler: rtcadapter.NewFrameAssembler(sink, logger.Named("rtp")),
		rtcp:      rtcadapter.NewRTCPMetricsSource(sink, logger.Named("rtcp")),
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		nextSSRC:  0x1000,
	}, nil
}

// Run joins the simulated meeting and streams until ctx is cancelled, then
// stops every stream and leaves.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.start(); err != nil {
		return err
	}
	defer e.shutdown()

	frames := time.NewTicker(time.Second / time.Duration(e.cfg.FrameRate))
	defer frames.Stop()
	reports := time.NewTicker(e.cfg.ReportInterval)
	defer reports.Stop()

	var churn <-chan time.Time
	if e.cfg.ChurnInterval > 0 {
		churnTicker := time.NewTicker(e.cfg.ChurnInterval)
		defer churnTicker.Stop()
		churn = churnTicker.C
	}

	e.logger.Infow("simulator running",
		"remote_streams", e.cfg.RemoteStreams,
		"local_stream", e.cfg.LocalStream,
		"frame_rate", e.cfg.FrameRate,
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-frames.C:
			e.sendFrames()
		case now := <-reports.C:
			e.sendReports(now)
		case <-churn:
			e.churn()
		}
	}
}

func (e *Engine) start() error {
	if e.started {
		return domain.ErrAlreadyRunning
	}
	e.started = true

	e.events.NotifyAudioClientConnecting(false)
	e.events.NotifyAudioClientStart(false)
	e.events.NotifyVideoClientConnecting()

	e.audioSSRC = e.allocateSSRC()
	e.rtcp.Register(e.audioSSRC, webrtc.RTPCodecTypeAudio, rtcadapter.Outbound)

	tileID := domain.TileID(1)
	if e.cfg.LocalStream {
		if err := e.addStream(tileID, ""); err != nil {
			return err
		}
		tileID++
	}
	for i := 0; i < e.cfg.RemoteStreams; i++ {
		if err := e.addStream(tileID, domain.AttendeeID(fmt.Sprintf("attendee-%d", i+1))); err != nil {
			return err
		}
		tileID++
	}

	e.events.NotifyVideoClientStart()
	return nil
}

func (e *Engine) allocateSSRC() uint32 {
	ssrc := e.nextSSRC
	e.nextSSRC++
	return ssrc
}

func (e *Engine) addStream(tileID domain.TileID, attendeeID domain.AttendeeID) error {
	s := &stream{tileID: tileID, attendeeID: attendeeID}
	if err := e.register(s); err != nil {
		return err
	}
	e.streams = append(e.streams, s)
	return nil
}

func (e *Engine) register(s *stream) error {
	s.ssrc = e.allocateSSRC()
	s.seq = uint16(e.rng.Intn(1 << 16))
	s.timestamp = e.rng.Uint32()
	s.packets, s.octets, s.dropped = 0, 0, 0

	err := e.assembler.Register(s.ssrc, rtcadapter.StreamInfo{
		TileID:     s.tileID,
		AttendeeID: s.attendeeID,
		Kind:       webrtc.RTPCodecTypeVideo,
		ClockRate:  videoClockRate,
		Width:      640,
		Height:     360,
	})
	if err != nil {
		return fmt.Errorf("register stream for tile %d: %w", s.tileID, err)
	}

	direction := rtcadapter.Inbound
	if s.local() {
		direction = rtcadapter.Outbound
	}
	e.rtcp.Register(s.ssrc, webrtc.RTPCodecTypeVideo, direction)
	return nil
}

// sendFrames produces one frame for every stream that is sending.
func (e *Engine) sendFrames() {
	for _, s := range e.streams {
		if s.state != streamActive {
			continue
		}
		if !s.local() && e.client.IsPaused(s.tileID) {
			if !s.userPaused {
				s.userPaused = true
				e.assembler.Pause(s.ssrc, domain.NativePauseCodeUserRequest)
			}
			continue
		}
		s.userPaused = false
		e.sendFrame(s)
	}
}

func (e *Engine) sendFrame(s *stream) {
	size := 400 + e.rng.Intn(2000)
	for offset := 0; offset < size; offset += maxPacketPayload {
		end := min(offset+maxPacketPayload, size)
		payload := make([]byte, end-offset)
		for i := range payload {
			payload[i] = byte(s.seq) ^ byte(i)
		}

		packet := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    videoPayloadType,
				SequenceNumber: s.seq,
				Timestamp:      s.timestamp,
				SSRC:           s.ssrc,
				Marker:         end == size,
			},
			Payload: payload,
		}
		s.seq++

		// Remote streams lose the odd packet on the way in.
		if !s.local() && e.rng.Intn(200) == 0 {
			s.dropped++
			continue
		}

		buf, err := packet.Marshal()
		if err != nil {
			e.logger.Warnw("failed to marshal rtp packet", "ssrc", s.ssrc, "error", err)
			continue
		}
		if err := e.assembler.HandleRaw(buf); err != nil {
			e.logger.Warnw("failed to handle rtp packet", "ssrc", s.ssrc, "error", err)
			continue
		}
		s.packets++
		s.octets += uint32(len(payload))
	}
	s.timestamp += uint32(videoClockRate / e.cfg.FrameRate)
}

// sendReports emits one RTCP compound packet and one raw batch per
// subsystem, including diagnostic keys that are never surfaced.
func (e *Engine) sendReports(now time.Time) {
	rr := &rtcp.ReceiverReport{
		SSRC: 1,
		Reports: []rtcp.ReceptionReport{{
			SSRC:         e.audioSSRC,
			FractionLost: uint8(e.rng.Intn(16)),
			Jitter:       uint32(240 + e.rng.Intn(960)),
		}},
	}
	packets := []rtcp.Packet{rr}

	var sendKbps, receiveLoss float64
	var sending, receiving int
	for _, s := range e.streams {
		if s.state == streamStopped {
			continue
		}
		if s.local() {
			sending++
			rr.Reports = append(rr.Reports, rtcp.ReceptionReport{
				SSRC:               s.ssrc,
				FractionLost:       uint8(e.rng.Intn(24)),
				LastSequenceNumber: uint32(s.seq),
			})
			packets = append(packets, &rtcp.ReceiverEstimatedMaximumBitrate{
				SenderSSRC: 1,
				Bitrate:    float32(1_200_000 + e.rng.Intn(800_000)),
				SSRCs:      []uint32{s.ssrc},
			})
			if nacked := e.rng.Intn(4); nacked > 0 {
				packets = append(packets, &rtcp.TransportLayerNack{
					SenderSSRC: 1,
					MediaSSRC:  s.ssrc,
					Nacks:      []rtcp.NackPair{{PacketID: s.seq - 1, LostPackets: rtcp.PacketBitmap(1<<nacked - 1)}},
				})
			}
			sendKbps += float64(s.octets) * 8 / e.cfg.ReportInterval.Seconds() / 1000
			s.octets = 0
			continue
		}

		receiving++
		packets = append(packets, &rtcp.SenderReport{
			SSRC:        s.ssrc,
			NTPTime:     ntpTime(now),
			RTPTime:     s.timestamp,
			PacketCount: s.packets,
			OctetCount:  s.octets,
		})
		if total := s.packets + s.dropped; total > 0 {
			receiveLoss += float64(s.dropped) * 100 / float64(total)
		}
	}
	if receiving > 0 {
		receiveLoss /= float64(receiving)
	}

	buf, err := rtcp.Marshal(packets)
	if err != nil {
		e.logger.Warnw("failed to marshal rtcp compound packet", "error", err)
	} else if err := e.rtcp.HandleRaw(buf); err != nil {
		e.logger.Warnw("failed to handle rtcp compound packet", "error", err)
	}

	e.sink.ProcessAudioMetrics([]domain.RawMetricSample{
		{Key: domain.AudioRawPostJBSpk1sPacketsLostPercent, Value: float64(e.rng.Intn(500)) / 100},
		{Key: domain.AudioRawPreJBSpk1sPacketsLostPercent, Value: float64(e.rng.Intn(800)) / 100},
		{Key: domain.AudioRawMicDeviceFramesLostPercent, Value: float64(e.rng.Intn(100)) / 100},
		{Key: domain.AudioRawJitterBufferDepthMs, Value: float64(40 + e.rng.Intn(60))},
	})

	video := []domain.RawMetricSample{
		{Key: domain.VideoRawAvailableReceiveBandwidth, Value: float64(2000 + e.rng.Intn(3000))},
		{Key: domain.VideoRawSendRttMs, Value: float64(20 + e.rng.Intn(180))},
		{Key: domain.VideoRawEncoderQueueDepth, Value: float64(e.rng.Intn(5))},
	}
	if sending > 0 {
		video = append(video,
			domain.RawMetricSample{Key: domain.VideoRawSendBitrate, Value: sendKbps},
			domain.RawMetricSample{Key: domain.VideoRawSendFps, Value: float64(e.cfg.FrameRate)},
		)
	}
	if receiving > 0 {
		video = append(video, domain.RawMetricSample{Key: domain.VideoRawReceivePacketLostPercent, Value: receiveLoss})
	}
	e.sink.ProcessVideoMetrics(video)
}

// churn advances one remote stream through poor connection, recovery, stop
// and restart.
func (e *Engine) churn() {
	var remotes []*stream
	for _, s := range e.streams {
		if !s.local() {
			remotes = append(remotes, s)
		}
	}
	if len(remotes) == 0 {
		return
	}
	s := remotes[e.rng.Intn(len(remotes))]

	switch s.cycle % 4 {
	case 0:
		s.state = streamPoor
		e.assembler.Pause(s.ssrc, domain.NativePauseCodePoorConnection)
		e.events.NotifyConnectionBecomePoor()
	case 1:
		s.state = streamActive
		e.events.NotifyConnectionRecover()
	case 2:
		s.state = streamStopped
		e.assembler.Stop(s.ssrc)
		e.rtcp.Unregister(s.ssrc)
	case 3:
		if err := e.register(s); err != nil {
			e.logger.Warnw("failed to restart stream", "tile_id", s.tileID, "error", err)
			return
		}
		s.state = streamActive
	}
	s.cycle++

	e.logger.Debugw("stream churned", "tile_id", s.tileID, "attendee_id", s.attendeeID, "cycle", s.cycle)
}

func (e *Engine) shutdown() {
	for _, s := range e.streams {
		if s.state == streamStopped {
			continue
		}
		s.state = streamStopped
		e.assembler.Stop(s.ssrc)
		e.rtcp.Unregister(s.ssrc)
	}
	e.rtcp.Unregister(e.audioSSRC)

	left := domain.SessionStatus{Code: domain.StatusLeft}
	e.events.NotifyVideoClientStop(left)
	e.events.NotifyAudioClientStop(left)
	e.logger.Infow("simulator left meeting")
}

// ntpTime encodes t as a 32.32 fixed point NTP timestamp.
func ntpTime(t time.Time) uint64 {
	seconds := uint64(t.Unix()) + ntpEpochOffset
	fraction := uint64(t.Nanosecond()) << 32 / uint64(time.Second)
	return seconds<<32 | fraction
}
