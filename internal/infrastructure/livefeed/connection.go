package livefeed

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"meetkit/internal/core/domain"
)

const maxInboundMessageSize = 512

const (
	EventMetrics     = "metrics"
	EventTiles       = "tiles"
	EventTileAdded   = "tile_added"
	EventTileRemoved = "tile_removed"
	EventClient      = "client_event"
)

// Event is the JSON frame written to live feed clients.
type Event struct {
	Type         string                  `json:"type"`
	Timestamp    time.Time               `json:"timestamp"`
	Metrics      domain.MetricSnapshot   `json:"metrics,omitempty"`
	Tile         *domain.VideoTileState  `json:"tile,omitempty"`
	Tiles        []domain.VideoTileState `json:"tiles,omitempty"`
	Name         string                  `json:"name,omitempty"`
	Reconnecting *bool                   `json:"reconnecting,omitempty"`
	Status       *domain.SessionStatus   `json:"status,omitempty"`
}

// connection is one websocket client. Observer callbacks arrive on the
// delivery queue and must not block it, so events go through a bounded
// buffer and are dropped when the client falls behind.
type connection struct {
	id     string
	conn   *websocket.Conn
	opts   Options
	logger *zap.SugaredLogger

	outbound   chan Event
	done       chan struct{}
	closeOnce  sync.Once
	writerDone chan struct{}
	dropped    atomic.Int64

	// Tile changes seen before the initial inventory went out are held
	// back so they are never overwritten by an older snapshot.
	tilesMu      sync.Mutex
	tilesSynced  bool
	pendingTiles []Event
}

func newConnection(id string, conn *websocket.Conn, opts Options, logger *zap.SugaredLogger) *connection {
	return &connection{
		id:         id,
		conn:       conn,
		opts:       opts,
		logger:     logger,
		outbound:   make(chan Event, opts.SendBuffer),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func (c *connection) send(event Event) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.outbound <- event:
	default:
		if c.dropped.Add(1) == 1 {
			c.logger.Warnw("live feed client is slow, dropping events", "connection_id", c.id)
		}
	}
}

// sendTiles writes the inventory snapshot followed by any tile changes
// that raced with it.
func (c *connection) sendTiles(tiles []domain.VideoTileState) {
	c.tilesMu.Lock()
	defer c.tilesMu.Unlock()
	c.send(Event{Type: EventTiles, Timestamp: time.Now(), Tiles: tiles})
	for _, event := range c.pendingTiles {
		c.send(event)
	}
	c.pendingTiles = nil
	c.tilesSynced = true
}

func (c *connection) sendTileChange(event Event) {
	c.tilesMu.Lock()
	defer c.tilesMu.Unlock()
	if !c.tilesSynced {
		c.pendingTiles = append(c.pendingTiles, event)
		return
	}
	c.send(event)
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readLoop only consumes control frames. It returns once the peer goes away
// or stops answering pings.
func (c *connection) readLoop() {
	c.conn.SetReadLimit(maxInboundMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Infow("error reading from live feed client", "connection_id", c.id, "error", err)
			}
			return
		}
	}
}

func (c *connection) writeLoop() {
	defer close(c.writerDone)
	defer c.close()

	pingTicker := time.NewTicker(c.opts.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-c.done:
			return

		case event := <-c.outbound:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteJSON(event); err != nil {
				c.logger.Infow("error writing to live feed client", "connection_id", c.id, "error", err)
				return
			}

		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Infow("error sending ping", "connection_id", c.id, "error", err)
				return
			}
		}
	}
}

func (c *connection) OnMetricsReceive(snapshot domain.MetricSnapshot) {
	c.send(Event{Type: EventMetrics, Timestamp: time.Now(), Metrics: snapshot})
}

func (c *connection) OnAddVideoTrack(tile domain.VideoTileState) {
	c.sendTileChange(Event{Type: EventTileAdded, Timestamp: time.Now(), Tile: &tile})
}

func (c *connection) OnRemoveVideoTrack(tile domain.VideoTileState) {
	c.sendTileChange(Event{Type: EventTileRemoved, Timestamp: time.Now(), Tile: &tile})
}

func (c *connection) clientEvent(name string) Event {
	return Event{Type: EventClient, Timestamp: time.Now(), Name: name}
}

func (c *connection) OnAudioClientConnecting(reconnecting bool) {
	e := c.clientEvent("audio_client_connecting")
	e.Reconnecting = &reconnecting
	c.send(e)
}

func (c *connection) OnAudioClientStart(reconnecting bool) {
	e := c.clientEvent("audio_client_start")
	e.Reconnecting = &reconnecting
	c.send(e)
}

func (c *connection) OnAudioClientStop(status domain.SessionStatus) {
	e := c.clientEvent("audio_client_stop")
	e.Status = &status
	c.send(e)
}

func (c *connection) OnAudioClientReconnectionCancel() {
	c.send(c.clientEvent("audio_client_reconnection_cancel"))
}

func (c *connection) OnConnectionRecover() {
	c.send(c.clientEvent("connection_recover"))
}

func (c *connection) OnConnectionBecomePoor() {
	c.send(c.clientEvent("connection_become_poor"))
}

func (c *connection) OnVideoClientConnecting() {
	c.send(c.clientEvent("video_client_connecting"))
}

func (c *connection) OnVideoClientStart() {
	c.send(c.clientEvent("video_client_start"))
}

func (c *connection) OnVideoClientStop(status domain.SessionStatus) {
	e := c.clientEvent("video_client_stop")
	e.Status = &status
	c.send(e)
}
