package simulator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"meetkit/internal/core/domain"
)

type frameEvent struct {
	tileID     domain.TileID
	attendeeID domain.AttendeeID
	hasFrame   bool
	pauseCode  int
}

type recordingSink struct {
	mu     sync.Mutex
	frames []frameEvent
	audio  [][]domain.RawMetricSample
	video  [][]domain.RawMetricSample
}

func (r *recordingSink) OnRawFrameEvent(tileID domain.TileID, attendeeID domain.AttendeeID, frame *domain.VideoFrame, pauseCode int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frameEvent{tileID, attendeeID, frame != nil, pauseCode})
}

func (r *recordingSink) ProcessAudioMetrics(batch []domain.RawMetricSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio = append(r.audio, batch)
}

func (r *recordingSink) ProcessVideoMetrics(batch []domain.RawMetricSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.video = append(r.video, batch)
}

func (r *recordingSink) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames, r.audio, r.video = nil, nil, nil
}

func (r *recordingSink) framesFor(tileID domain.TileID) []frameEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []frameEvent
	for _, ev := range r.frames {
		if ev.tileID == tileID {
			out = append(out, ev)
		}
	}
	return out
}

func hasKey(batches [][]domain.RawMetricSample, key domain.RawMetricKey) bool {
	for _, batch := range batches {
		for _, s := range batch {
			if s.Key == key {
				return true
			}
		}
	}
	return false
}

type recordingEvents struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingEvents) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
}

func (r *recordingEvents) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func (r *recordingEvents) NotifyAudioClientConnecting(bool)           { r.record("audio_connecting") }
func (r *recordingEvents) NotifyAudioClientStart(bool)                { r.record("audio_start") }
func (r *recordingEvents) NotifyAudioClientStop(domain.SessionStatus) { r.record("audio_stop") }
func (r *recordingEvents) NotifyConnectionBecomePoor()                { r.record("poor") }
func (r *recordingEvents) NotifyConnectionRecover()                   { r.record("recover") }
func (r *recordingEvents) NotifyVideoClientConnecting()               { r.record("video_connecting") }
func (r *recordingEvents) NotifyVideoClientStart()                    { r.record("video_start") }
func (r *recordingEvents) NotifyVideoClientStop(domain.SessionStatus) { r.record("video_stop") }

func newEngine(t *testing.T, cfg Config) (*Engine, *recordingSink, *recordingEvents, *VideoClient) {
	t.Helper()
	sink := &recordingSink{}
	events := &recordingEvents{}
	client := NewVideoClient(zaptest.NewLogger(t).Sugar())
	engine, err := NewEngine(cfg, sink, events, client, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return engine, sink, events, client
}

func testConfig() Config {
	return Config{
		RemoteStreams:  2,
		LocalStream:    true,
		FrameRate:      30,
		ReportInterval: 200 * time.Millisecond,
		Seed:           7,
	}
}

func TestEngine_StartStreamsFramesForEveryTile(t *testing.T) {
	engine, sink, events, _ := newEngine(t, testConfig())
	require.NoError(t, engine.start())
	assert.Equal(t, []string{"audio_connecting", "audio_start", "video_connecting", "video_start"}, events.all())

	for i := 0; i < 5; i++ {
		engine.sendFrames()
	}

	local := sink.framesFor(1)
	require.NotEmpty(t, local)
	assert.Equal(t, domain.AttendeeID(""), local[0].attendeeID)
	assert.True(t, local[0].hasFrame)

	for tileID, attendee := range map[domain.TileID]domain.AttendeeID{2: "attendee-1", 3: "attendee-2"} {
		remote := sink.framesFor(tileID)
		require.NotEmpty(t, remote, "tile %d", tileID)
		assert.Equal(t, attendee, remote[0].attendeeID)
		assert.Equal(t, domain.NativePauseCodeNone, remote[0].pauseCode)
	}

	assert.ErrorIs(t, engine.start(), domain.ErrAlreadyRunning)
}

func TestEngine_UserPausedTileStopsSending(t *testing.T) {
	engine, sink, _, client := newEngine(t, testConfig())
	require.NoError(t, engine.start())

	require.NoError(t, client.SetRemotePaused(context.Background(), true, 2))
	engine.sendFrames()
	engine.sendFrames()

	events := sink.framesFor(2)
	require.Len(t, events, 1)
	assert.False(t, events[0].hasFrame)
	assert.Equal(t, domain.NativePauseCodeUserRequest, events[0].pauseCode)

	require.NoError(t, client.SetRemotePaused(context.Background(), false, 2))
	sink.reset()
	for i := 0; i < 3; i++ {
		engine.sendFrames()
	}
	resumed := sink.framesFor(2)
	require.NotEmpty(t, resumed)
	assert.True(t, resumed[0].hasFrame)
}

func TestEngine_ReportsIncludeDiagnosticKeys(t *testing.T) {
	engine, sink, _, _ := newEngine(t, testConfig())
	require.NoError(t, engine.start())

	now := time.Unix(1_700_000_000, 0)
	engine.sendFrames()
	engine.sendReports(now)

	assert.True(t, hasKey(sink.audio, domain.AudioRawPostJBMic1sPacketsLostPercent))
	assert.True(t, hasKey(sink.audio, domain.AudioRawInterarrivalJitterMs))
	assert.True(t, hasKey(sink.audio, domain.AudioRawPostJBSpk1sPacketsLostPercent))
	assert.True(t, hasKey(sink.audio, domain.AudioRawJitterBufferDepthMs))

	assert.True(t, hasKey(sink.video, domain.VideoRawAvailableSendBandwidth))
	assert.True(t, hasKey(sink.video, domain.VideoRawSendPacketLostPercent))
	assert.True(t, hasKey(sink.video, domain.VideoRawSendBitrate))
	assert.True(t, hasKey(sink.video, domain.VideoRawEncoderQueueDepth))
	assert.False(t, hasKey(sink.video, domain.VideoRawReceiveBitrate), "first sender report has no baseline")

	for i := 0; i < 5; i++ {
		engine.sendFrames()
	}
	engine.sendReports(now.Add(time.Second))
	assert.True(t, hasKey(sink.video, domain.VideoRawReceiveBitrate))
}

func TestEngine_ChurnCyclesRemoteStream(t *testing.T) {
	cfg := testConfig()
	cfg.RemoteStreams = 1
	cfg.LocalStream = false
	engine, sink, events, _ := newEngine(t, cfg)
	require.NoError(t, engine.start())

	engine.churn()
	engine.sendFrames()
	paused := sink.framesFor(1)
	require.Len(t, paused, 1)
	assert.Equal(t, domain.NativePauseCodePoorConnection, paused[0].pauseCode)

	engine.churn()
	sink.reset()
	for i := 0; i < 3; i++ {
		engine.sendFrames()
	}
	assert.NotEmpty(t, sink.framesFor(1))

	engine.churn()
	stopped := sink.framesFor(1)
	assert.Equal(t, domain.NativePauseCodeStreamStopped, stopped[len(stopped)-1].pauseCode)

	sink.reset()
	engine.sendFrames()
	assert.Empty(t, sink.framesFor(1))

	engine.churn()
	for i := 0; i < 3; i++ {
		engine.sendFrames()
	}
	restarted := sink.framesFor(1)
	require.NotEmpty(t, restarted)
	assert.True(t, restarted[0].hasFrame)

	assert.Contains(t, events.all(), "poor")
	assert.Contains(t, events.all(), "recover")
}

func TestEngine_RunLeavesOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.ReportInterval = 10 * time.Millisecond
	cfg.ChurnInterval = 15 * time.Millisecond
	cfg.FrameRate = 100
	engine, sink, events, _ := newEngine(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	time.Sleep(80 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}

	names := events.all()
	require.GreaterOrEqual(t, len(names), 2)
	assert.Equal(t, []string{"video_stop", "audio_stop"}, names[len(names)-2:])

	local := sink.framesFor(1)
	require.NotEmpty(t, local)
	assert.Equal(t, domain.NativePauseCodeStreamStopped, local[len(local)-1].pauseCode)
	assert.NotEmpty(t, sink.video)
}

func TestNewEngine_RejectsInvalidConfig(t *testing.T) {
	for name, cfg := range map[string]Config{
		"frame rate":      {FrameRate: 0, ReportInterval: time.Second},
		"report interval": {FrameRate: 10},
		"remote streams":  {RemoteStreams: -1, FrameRate: 10, ReportInterval: time.Second},
		"churn interval":  {FrameRate: 10, ReportInterval: time.Second, ChurnInterval: -time.Second},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewEngine(cfg, &recordingSink{}, &recordingEvents{}, nil, nil)
			assert.Error(t, err)
		})
	}
}

func TestNTPTime(t *testing.T) {
	got := ntpTime(time.Unix(0, int64(500*time.Millisecond)))
	assert.Equal(t, uint64(ntpEpochOffset)<<32|uint64(1)<<31, got)
}

type recordingDeviceObserver struct {
	calls [][]domain.MediaDevice
}

func (r *recordingDeviceObserver) OnAudioDeviceChange(devices []domain.MediaDevice) {
	r.calls = append(r.calls, devices)
}

type panickingDeviceObserver struct{}

func (panickingDeviceObserver) OnAudioDeviceChange([]domain.MediaDevice) { panic("observer failure") }

func TestDeviceManager(t *testing.T) {
	devices := NewDeviceManager(zaptest.NewLogger(t).Sugar())
	headset := domain.MediaDevice{Label: "Headset", Type: domain.DeviceAudioWiredHeadset}

	assert.Len(t, devices.ListAudioDevices(), 2)
	assert.ErrorIs(t, devices.ChooseAudioDevice(headset), domain.ErrDeviceNotFound)

	observer := &recordingDeviceObserver{}
	devices.AddDeviceChangeObserver(panickingDeviceObserver{})
	devices.AddDeviceChangeObserver(observer)
	devices.AddDeviceChangeObserver(observer)

	devices.PlugAudioDevice(headset)
	devices.PlugAudioDevice(headset)
	require.Len(t, observer.calls, 1)
	assert.Contains(t, observer.calls[0], headset)

	require.NoError(t, devices.ChooseAudioDevice(headset))
	chosen, ok := devices.ChosenAudioDevice()
	require.True(t, ok)
	assert.Equal(t, headset, chosen)

	devices.UnplugAudioDevice(headset)
	require.Len(t, observer.calls, 2)
	assert.NotContains(t, observer.calls[1], headset)
	_, ok = devices.ChosenAudioDevice()
	assert.False(t, ok)

	devices.RemoveDeviceChangeObserver(observer)
	devices.PlugAudioDevice(headset)
	assert.Len(t, observer.calls, 2)
}

func TestDeviceManager_SwitchCamera(t *testing.T) {
	devices := NewDeviceManager(nil)

	camera, err := devices.ActiveCamera()
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceVideoFrontCamera, camera.Type)

	require.NoError(t, devices.SwitchCamera())
	camera, err = devices.ActiveCamera()
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceVideoBackCamera, camera.Type)

	require.NoError(t, devices.SwitchCamera())
	camera, _ = devices.ActiveCamera()
	assert.Equal(t, domain.DeviceVideoFrontCamera, camera.Type)
}

func TestVideoClient_RejectsCancelledContext(t *testing.T) {
	client := NewVideoClient(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, client.SetRemotePaused(ctx, true, 3), context.Canceled)
	assert.False(t, client.IsPaused(3))
}
