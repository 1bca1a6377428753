package livefeed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"meetkit/internal/core/domain"
	"meetkit/internal/core/ports"
)

type fakeSources struct {
	mu      sync.Mutex
	metrics []ports.MetricsObserver
	tiles   []ports.VideoTileObserver
	events  []ports.AudioVideoObserver
	current []domain.VideoTileState
}

func (f *fakeSources) Subscribe(o ports.MetricsObserver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = append(f.metrics, o)
}

func (f *fakeSources) Unsubscribe(o ports.MetricsObserver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.metrics {
		if existing == o {
			f.metrics = append(f.metrics[:i], f.metrics[i+1:]...)
			return
		}
	}
}

func (f *fakeSources) Tiles() []domain.VideoTileState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeSources) metricObservers() []ports.MetricsObserver {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ports.MetricsObserver(nil), f.metrics...)
}

// registered reports whether a connection has attached to every source.
func (f *fakeSources) registered() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.metrics) == 1 && len(f.tiles) == 1 && len(f.events) == 1
}

type fakeTileSource struct{ *fakeSources }

func (f fakeTileSource) AddObserver(o ports.VideoTileObserver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tiles = append(f.tiles, o)
}

func (f fakeTileSource) RemoveObserver(ports.VideoTileObserver) {}

type fakeEventSource struct{ *fakeSources }

func (f fakeEventSource) AddObserver(o ports.AudioVideoObserver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, o)
}

func (f fakeEventSource) RemoveObserver(ports.AudioVideoObserver) {}

func startServer(t *testing.T, opts Options) (*Server, *fakeSources, string) {
	t.Helper()
	sources := &fakeSources{
		current: []domain.VideoTileState{{TileID: 1, AttendeeID: "remote-1"}},
	}
	server := NewServer(sources, fakeTileSource{sources}, fakeEventSource{sources}, opts, zaptest.NewLogger(t).Sugar())

	httpServer := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	t.Cleanup(func() {
		server.Close()
		httpServer.Close()
	})

	return server, sources, "ws" + strings.TrimPrefix(httpServer.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event Event
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestServer_StreamsObserverEvents(t *testing.T) {
	server, sources, url := startServer(t, DefaultOptions())
	conn := dial(t, url)

	initial := readEvent(t, conn)
	assert.Equal(t, EventTiles, initial.Type)
	require.Len(t, initial.Tiles, 1)
	assert.Equal(t, domain.TileID(1), initial.Tiles[0].TileID)

	require.Eventually(t, sources.registered, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, server.ConnectionCount())

	sources.mu.Lock()
	tileObserver, eventObserver := sources.tiles[0], sources.events[0]
	sources.mu.Unlock()

	sources.metricObservers()[0].OnMetricsReceive(domain.MetricSnapshot{domain.VideoSendBitrate: 900})
	tileObserver.OnAddVideoTrack(domain.VideoTileState{TileID: 2, AttendeeID: "remote-2"})
	eventObserver.OnVideoClientStop(domain.SessionStatus{Code: domain.StatusVideoServiceFailed})
	eventObserver.OnAudioClientStart(true)

	metrics := readEvent(t, conn)
	assert.Equal(t, EventMetrics, metrics.Type)
	assert.Equal(t, 900.0, metrics.Metrics[domain.VideoSendBitrate])

	added := readEvent(t, conn)
	assert.Equal(t, EventTileAdded, added.Type)
	require.NotNil(t, added.Tile)
	assert.Equal(t, domain.TileID(2), added.Tile.TileID)

	stop := readEvent(t, conn)
	assert.Equal(t, EventClient, stop.Type)
	assert.Equal(t, "video_client_stop", stop.Name)
	require.NotNil(t, stop.Status)

	start := readEvent(t, conn)
	assert.Equal(t, "audio_client_start", start.Name)
	require.NotNil(t, start.Reconnecting)
	assert.True(t, *start.Reconnecting)
}

func TestServer_DisconnectUnsubscribes(t *testing.T) {
	server, sources, url := startServer(t, DefaultOptions())
	conn := dial(t, url)
	readEvent(t, conn)

	require.Eventually(t, sources.registered, 2*time.Second, 5*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return len(sources.metricObservers()) == 0 && server.ConnectionCount() == 0
	}, 2*time.Second, 5*time.Millisecond)
}

// racingTileSource announces a new tile to its observers while the
// inventory is being read.
type racingTileSource struct{ fakeTileSource }

func (f racingTileSource) Tiles() []domain.VideoTileState {
	f.mu.Lock()
	snapshot := append([]domain.VideoTileState(nil), f.current...)
	observers := append([]ports.VideoTileObserver(nil), f.tiles...)
	f.current = append(f.current, domain.VideoTileState{TileID: 2, AttendeeID: "remote-2"})
	f.mu.Unlock()

	for _, o := range observers {
		o.OnAddVideoTrack(domain.VideoTileState{TileID: 2, AttendeeID: "remote-2"})
	}
	return snapshot
}

func TestServer_TileAddedDuringConnectIsDelivered(t *testing.T) {
	sources := &fakeSources{
		current: []domain.VideoTileState{{TileID: 1, AttendeeID: "remote-1"}},
	}
	tiles := racingTileSource{fakeTileSource{sources}}
	server := NewServer(sources, tiles, fakeEventSource{sources}, DefaultOptions(), zaptest.NewLogger(t).Sugar())
	httpServer := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	t.Cleanup(func() {
		server.Close()
		httpServer.Close()
	})
	conn := dial(t, "ws"+strings.TrimPrefix(httpServer.URL, "http"))

	initial := readEvent(t, conn)
	assert.Equal(t, EventTiles, initial.Type)
	require.Len(t, initial.Tiles, 1)

	added := readEvent(t, conn)
	assert.Equal(t, EventTileAdded, added.Type)
	require.NotNil(t, added.Tile)
	assert.Equal(t, domain.TileID(2), added.Tile.TileID)
}

func TestServer_RejectsForeignOrigin(t *testing.T) {
	opts := DefaultOptions()
	opts.AllowedOrigins = []string{"https://app.example.test"}
	_, _, url := startServer(t, opts)

	header := http.Header{"Origin": []string{"https://evil.example.test"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_ClosedServerRefusesClients(t *testing.T) {
	server, _, url := startServer(t, DefaultOptions())
	server.Close()

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestConnection_SlowClientDropsInsteadOfBlocking(t *testing.T) {
	c := &connection{
		id:       "slow",
		outbound: make(chan Event, 1),
		done:     make(chan struct{}),
		logger:   zaptest.NewLogger(t).Sugar(),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			c.OnConnectionBecomePoor()
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("send blocked on a full buffer")
	}
	assert.Equal(t, int64(4), c.dropped.Load())
}
