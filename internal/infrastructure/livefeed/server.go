package livefeed

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"meetkit/internal/core/domain"
	"meetkit/internal/core/ports"
)

// MetricsSource is the subscription surface of the metrics collector.
type MetricsSource interface {
	Subscribe(observer ports.MetricsObserver)
	Unsubscribe(observer ports.MetricsObserver)
}

// TileSource is the observer and inventory surface of the tile tracker.
type TileSource interface {
	AddObserver(observer ports.VideoTileObserver)
	RemoveObserver(observer ports.VideoTileObserver)
	Tiles() []domain.VideoTileState
}

// ClientEventSource is the observer surface of the client event dispatcher.
type ClientEventSource interface {
	AddObserver(observer ports.AudioVideoObserver)
	RemoveObserver(observer ports.AudioVideoObserver)
}

type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	AllowedOrigins []string
}

func DefaultOptions() Options {
	return Options{
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		SendBuffer:     64,
		AllowedOrigins: []string{"*"},
	}
}

// Server streams metric snapshots, tile changes and client session events to
// websocket clients. Every connection registers itself as an observer for as
// long as it is open.
type Server struct {
	metrics MetricsSource
	tiles   TileSource
	events  ClientEventSource

	upgrader websocket.Upgrader
	opts     Options

	connections map[string]*connection
	mu          sync.RWMutex
	closed      bool

	logger *zap.SugaredLogger
}

func NewServer(metrics MetricsSource, tiles TileSource, events ClientEventSource, opts Options, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	defaults := DefaultOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = defaults.PongTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaults.SendBuffer
	}

	s := &Server{
		metrics:     metrics,
		tiles:       tiles,
		events:      events,
		opts:        opts,
		connections: make(map[string]*connection),
		logger:      logger,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		http.Error(w, "live feed shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	c := newConnection(uuid.NewString(), conn, s.opts, s.logger)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.connections[c.id] = c
	s.mu.Unlock()

	s.logger.Infow("live feed client connected", "connection_id", c.id, "remote_addr", r.RemoteAddr)

	// Register before reading the inventory so a tile added in between is
	// not lost.
	if s.tiles != nil {
		s.tiles.AddObserver(c)
		c.sendTiles(s.tiles.Tiles())
	}
	if s.metrics != nil {
		s.metrics.Subscribe(c)
	}
	if s.events != nil {
		s.events.AddObserver(c)
	}

	go c.writeLoop()
	c.readLoop()

	s.detach(c)
	c.close()
	<-c.writerDone

	s.logger.Infow("live feed client disconnected", "connection_id", c.id, "dropped_events", c.dropped.Load())
}

func (s *Server) detach(c *connection) {
	if s.metrics != nil {
		s.metrics.Unsubscribe(c)
	}
	if s.tiles != nil {
		s.tiles.RemoveObserver(c)
	}
	if s.events != nil {
		s.events.RemoveObserver(c)
	}

	s.mu.Lock()
	delete(s.connections, c.id)
	s.mu.Unlock()
}

func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// Close refuses new clients and disconnects the existing ones.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}
