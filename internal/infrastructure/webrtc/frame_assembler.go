package webrtc

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"meetkit/internal/core/domain"
	"meetkit/internal/core/ports"
)

const defaultVideoClockRate = 90000

// StreamInfo describes the tile an SSRC renders into.
type StreamInfo struct {
	TileID     domain.TileID
	AttendeeID domain.AttendeeID
	Kind       webrtc.RTPCodecType
	ClockRate  uint32
	Width      int
	Height     int
}

type assemblyState struct {
	info StreamInfo

	buf       []byte
	corrupt   bool
	firstTS   uint32
	haveFirst bool
	lastSeq   uint16
	haveSeq   bool

	frames uint64
	lost   uint64
}

// FrameAssembler turns RTP video packets into frame-arrival events. Packets
// are grouped into frames by the marker bit; a sequence gap discards the
// frame in progress.
//
// HandlePacket for a given SSRC must not be called concurrently.
type FrameAssembler struct {
	sink   ports.FrameSink
	logger *zap.SugaredLogger

	mu      sync.Mutex
	streams map[uint32]*assemblyState
}

func NewFrameAssembler(sink ports.FrameSink, logger *zap.SugaredLogger) *FrameAssembler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &FrameAssembler{
		sink:    sink,
		logger:  logger,
		streams: make(map[uint32]*assemblyState),
	}
}

// Register maps an SSRC onto a tile. Only video streams carry frames.
func (a *FrameAssembler) Register(ssrc uint32, info StreamInfo) error {
	if info.Kind != webrtc.RTPCodecTypeVideo {
		return fmt.Errorf("ssrc %d: frame assembly needs a video stream, got %s", ssrc, info.Kind)
	}
	if info.ClockRate == 0 {
		info.ClockRate = defaultVideoClockRate
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.streams[ssrc]; exists {
		return fmt.Errorf("ssrc %d already registered", ssrc)
	}
	a.streams[ssrc] = &assemblyState{info: info}
	a.logger.Debugw("registered video stream", "ssrc", ssrc, "tile_id", info.TileID, "attendee_id", info.AttendeeID)
	return nil
}

// HandleRaw parses and handles a marshalled RTP packet.
func (a *FrameAssembler) HandleRaw(buf []byte) error {
	packet := &rtp.Packet{}
	if err := packet.Unmarshal(buf); err != nil {
		return fmt.Errorf("unmarshal rtp packet: %w", err)
	}
	a.HandlePacket(packet)
	return nil
}

func (a *FrameAssembler) HandlePacket(packet *rtp.Packet) {
	a.mu.Lock()
	state, ok := a.streams[packet.SSRC]
	if !ok {
		a.mu.Unlock()
		return
	}

	if state.haveSeq {
		// Duplicates and late packets are behind lastSeq and carry
		// nothing the current frame still needs.
		delta := int16(packet.SequenceNumber - state.lastSeq)
		if delta <= 0 {
			a.mu.Unlock()
			return
		}
		if delta > 1 {
			state.lost += uint64(delta - 1)
			state.corrupt = true
		}
	}
	state.lastSeq = packet.SequenceNumber
	state.haveSeq = true

	if !state.corrupt {
		state.buf = append(state.buf, packet.Payload...)
	}

	if !packet.Marker {
		a.mu.Unlock()
		return
	}

	if state.corrupt {
		state.buf = state.buf[:0]
		state.corrupt = false
		a.mu.Unlock()
		a.logger.Debugw("discarding incomplete frame", "ssrc", packet.SSRC, "lost_packets", state.lost)
		return
	}

	if !state.haveFirst {
		state.firstTS = packet.Timestamp
		state.haveFirst = true
	}
	elapsed := packet.Timestamp - state.firstTS
	frame := &domain.VideoFrame{
		Width:     state.info.Width,
		Height:    state.info.Height,
		Timestamp: time.Duration(uint64(elapsed) * uint64(time.Second) / uint64(state.info.ClockRate)),
		Data:      append([]byte(nil), state.buf...),
	}
	state.buf = state.buf[:0]
	state.frames++
	info := state.info
	a.mu.Unlock()

	a.sink.OnRawFrameEvent(info.TileID, info.AttendeeID, frame, domain.NativePauseCodeNone)
}

// Pause reports a frameless paused event for the SSRC's tile.
func (a *FrameAssembler) Pause(ssrc uint32, pauseCode int) {
	a.mu.Lock()
	state, ok := a.streams[ssrc]
	if ok {
		state.buf = state.buf[:0]
		state.corrupt = false
	}
	a.mu.Unlock()

	if !ok {
		a.logger.Debugw("pause for unknown ssrc", "ssrc", ssrc)
		return
	}
	a.sink.OnRawFrameEvent(state.info.TileID, state.info.AttendeeID, nil, pauseCode)
}

// Stop ends the stream: the tile is told it stopped and the SSRC is
// forgotten.
func (a *FrameAssembler) Stop(ssrc uint32) {
	a.mu.Lock()
	state, ok := a.streams[ssrc]
	delete(a.streams, ssrc)
	a.mu.Unlock()

	if !ok {
		return
	}
	a.logger.Debugw("video stream stopped", "ssrc", ssrc, "frames", state.frames, "lost_packets", state.lost)
	a.sink.OnRawFrameEvent(state.info.TileID, state.info.AttendeeID, nil, domain.NativePauseCodeStreamStopped)
}

// Stats returns the frames assembled and packets lost for an SSRC.
func (a *FrameAssembler) Stats(ssrc uint32) (frames, lost uint64, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.streams[ssrc]
	if !ok {
		return 0, 0, false
	}
	return state.frames, state.lost, true
}
