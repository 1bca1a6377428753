package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"meetkit/internal/core/domain"
	"meetkit/internal/core/ports"
	"meetkit/pkg/dispatch"
	"meetkit/pkg/tracing"
)

const remotePauseTimeout = 5 * time.Second

type tileEventKind int

const (
	tileAdded tileEventKind = iota
	tileRemoved
)

func (k tileEventKind) String() string {
	if k == tileAdded {
		return "add"
	}
	return "remove"
}

// VideoTileTracker maps native video stream ids onto tiles. Frame arrival
// creates a tile, a frameless stop event removes it and a frameless pause
// event leaves it in place.
//
// Table mutations happen on the caller's goroutine; observer notifications
// are scheduled on the delivery queue while the table lock is held, so the
// add and remove of one tile always reach observers in order.
type VideoTileTracker struct {
	logger     *zap.SugaredLogger
	queue      *dispatch.Queue
	controller ports.VideoClientController
	telemetry  ports.Telemetry
	now        func() time.Time

	mu     sync.Mutex
	tiles  map[domain.TileID]*videoTile
	closed bool

	observers *observerSet[ports.VideoTileObserver]

	invalidPauseLog rate.Sometimes
}

type TrackerOption func(*VideoTileTracker)

func WithTrackerTelemetry(t ports.Telemetry) TrackerOption {
	return func(tr *VideoTileTracker) {
		if t != nil {
			tr.telemetry = t
		}
	}
}

func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(tr *VideoTileTracker) {
		if now != nil {
			tr.now = now
		}
	}
}

func NewVideoTileTracker(
	queue *dispatch.Queue,
	controller ports.VideoClientController,
	logger *zap.SugaredLogger,
	opts ...TrackerOption,
) *VideoTileTracker {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	t := &VideoTileTracker{
		logger:          logger,
		queue:           queue,
		controller:      controller,
		telemetry:       nopTelemetry{},
		now:             time.Now,
		tiles:           make(map[domain.TileID]*videoTile),
		observers:       newObserverSet[ports.VideoTileObserver](),
		invalidPauseLog: rate.Sometimes{Interval: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}

	return t
}

func (t *VideoTileTracker) AddObserver(observer ports.VideoTileObserver) {
	if observer != nil {
		t.observers.Add(observer)
	}
}

func (t *VideoTileTracker) RemoveObserver(observer ports.VideoTileObserver) {
	if observer != nil {
		t.observers.Remove(observer)
	}
}

// OnRawFrameEvent validates the native pause code before handing the event
// to OnFrameEvent. Events with unknown codes are dropped.
func (t *VideoTileTracker) OnRawFrameEvent(tileID domain.TileID, attendeeID domain.AttendeeID, frame *domain.VideoFrame, pauseCode int) {
	pause, err := domain.ParsePauseCode(pauseCode)
	if err != nil {
		t.invalidPauseLog.Do(func() {
			t.logger.Warnw("dropping frame event with invalid pause code",
				"tile_id", tileID,
				"attendee_id", attendeeID,
				"error", err,
			)
		})
		return
	}
	t.OnFrameEvent(tileID, attendeeID, frame, pause)
}

// OnFrameEvent applies one frame-arrival event:
//
//   - unknown id, frame present: create tile, notify add
//   - known id, frame present: render into the bound target
//   - known id, no frame, paused: keep tile
//   - known id, no frame, not paused: remove tile, notify remove
//   - unknown id, no frame: ignore
func (t *VideoTileTracker) OnFrameEvent(tileID domain.TileID, attendeeID domain.AttendeeID, frame *domain.VideoFrame, pause domain.PauseKind) {
	if !pause.Valid() {
		t.logger.Warnw("dropping frame event with invalid pause kind", "tile_id", tileID, "pause", pause)
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	tile, exists := t.tiles[tileID]
	switch {
	case exists && frame != nil:
		if tile.pauseState == domain.TilePausedForPoorConnection {
			tile.pauseState = domain.TileUnpaused
		}
		tile.recordFrame(frame)
		t.mu.Unlock()

		t.renderBound(tile, frame)

	case exists && pause == domain.PausePaused:
		if tile.pauseState == domain.TileUnpaused {
			tile.pauseState = domain.TilePausedForPoorConnection
		}
		t.mu.Unlock()

	case exists:
		delete(t.tiles, tileID)
		state := tile.state()
		t.schedule(tileRemoved, state)
		t.mu.Unlock()

		t.telemetry.TileRemoved(state.Local)
		t.logger.Infow("removing video tile", "tile_id", tileID, "attendee_id", state.AttendeeID, "pause", pause)

	case frame != nil:
		tile = newVideoTile(tileID, attendeeID, t.now())
		tile.recordFrame(frame)
		t.tiles[tileID] = tile
		state := tile.state()
		t.schedule(tileAdded, state)
		t.mu.Unlock()

		t.telemetry.TileAdded(state.Local)
		t.logger.Infow("adding video tile", "tile_id", tileID, "attendee_id", attendeeID)

	default:
		t.mu.Unlock()
	}
}

// BindRenderTarget attaches a render target to an existing tile.
func (t *VideoTileTracker) BindRenderTarget(tileID domain.TileID, target ports.RenderTarget) {
	if target == nil {
		t.logger.Warnw("refusing to bind nil render target", "tile_id", tileID)
		return
	}

	t.mu.Lock()
	tile, ok := t.tiles[tileID]
	if ok {
		tile.target = target
	}
	t.mu.Unlock()

	if !ok {
		t.logger.Warnw("cannot bind render target to unknown tile", "tile_id", tileID)
		return
	}
	tile.drainRender()
	t.logger.Infow("bound render target to tile", "tile_id", tileID)
}

// UnbindRenderTarget detaches the render target and drops the tile from the
// table. Callers that only want to stop rendering must keep their own record
// of the tile.
func (t *VideoTileTracker) UnbindRenderTarget(tileID domain.TileID) {
	t.mu.Lock()
	tile, ok := t.tiles[tileID]
	if ok {
		tile.target = nil
		delete(t.tiles, tileID)
	}
	t.mu.Unlock()

	if !ok {
		t.logger.Warnw("cannot unbind unknown tile", "tile_id", tileID)
		return
	}
	tile.drainRender()
	t.telemetry.TileRemoved(tile.attendeeID.IsLocal())
	t.logger.Infow("unbound tile", "tile_id", tileID)
}

// PauseRemoteTile asks the video client to stop sending a remote stream.
// Local tiles have no server-side pause and are rejected.
func (t *VideoTileTracker) PauseRemoteTile(tileID domain.TileID) {
	t.setRemotePaused(tileID, true)
}

func (t *VideoTileTracker) ResumeRemoteTile(tileID domain.TileID) {
	t.setRemotePaused(tileID, false)
}

func (t *VideoTileTracker) setRemotePaused(tileID domain.TileID, paused bool) {
	action := "resume"
	if paused {
		action = "pause"
	}

	t.mu.Lock()
	tile, ok := t.tiles[tileID]
	if !ok {
		t.mu.Unlock()
		t.logger.Warnw("cannot "+action+" unknown tile", "tile_id", tileID)
		return
	}
	if tile.attendeeID.IsLocal() {
		t.mu.Unlock()
		t.logger.Warnw("cannot "+action+" local video tile", "tile_id", tileID)
		return
	}
	if paused {
		tile.pauseState = domain.TilePausedByUserRequest
	} else {
		tile.pauseState = domain.TileUnpaused
	}
	t.mu.Unlock()

	t.logger.Infow(action+" remote video tile", "tile_id", tileID, "attendee_id", tile.attendeeID)

	if t.controller == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), remotePauseTimeout)
	defer cancel()
	if err := t.controller.SetRemotePaused(ctx, paused, tileID); err != nil {
		t.logger.Warnw("video client rejected remote pause change",
			"tile_id", tileID,
			"paused", paused,
			"error", err,
		)
	}
}

// Tiles returns a snapshot of every live tile ordered by id.
func (t *VideoTileTracker) Tiles() []domain.VideoTileState {
	t.mu.Lock()
	out := make([]domain.VideoTileState, 0, len(t.tiles))
	for _, tile := range t.tiles {
		out = append(out, tile.state())
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TileID < out[j].TileID })
	return out
}

func (t *VideoTileTracker) Tile(tileID domain.TileID) (domain.VideoTileState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tile, ok := t.tiles[tileID]
	if !ok {
		return domain.VideoTileState{}, false
	}
	return tile.state(), true
}

// Close tears the tracker down. Later ingress and control calls are no-ops.
func (t *VideoTileTracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	remaining := t.tiles
	t.tiles = make(map[domain.TileID]*videoTile)
	t.mu.Unlock()

	for _, tile := range remaining {
		t.telemetry.TileRemoved(tile.attendeeID.IsLocal())
	}
	t.logger.Infow("video tile tracker closed", "dropped_tiles", len(remaining))
}

// schedule must be called with t.mu held.
func (t *VideoTileTracker) schedule(kind tileEventKind, state domain.VideoTileState) {
	if !t.queue.Enqueue(func() { t.deliver(kind, state) }) {
		t.logger.Warnw("delivery queue closed, dropping tile event", "tile_id", state.TileID, "event", kind)
	}
}

func (t *VideoTileTracker) deliver(kind tileEventKind, state domain.VideoTileState) {
	ctx, span := tracing.TraceTileEvent(context.Background(), kind.String(), int(state.TileID), string(state.AttendeeID))
	defer span.End()

	for _, observer := range t.observers.Snapshot() {
		observer := observer
		notifyObserver(ctx, t.logger, t.telemetry, "video_tile_tracker", func() {
			if kind == tileAdded {
				observer.OnAddVideoTrack(state)
			} else {
				observer.OnRemoveVideoTrack(state)
			}
		})
	}
}

// renderBound delivers a frame to whatever target is bound once the tile's
// render slot is free. The target is read again inside the slot so a frame
// never reaches a target that was replaced or unbound while it waited.
func (t *VideoTileTracker) renderBound(tile *videoTile, frame *domain.VideoFrame) {
	tile.renderMu.Lock()
	defer tile.renderMu.Unlock()

	t.mu.Lock()
	target := tile.target
	t.mu.Unlock()

	if target != nil {
		t.render(tile.id, target, frame)
	}
}

func (t *VideoTileTracker) render(tileID domain.TileID, target ports.RenderTarget, frame *domain.VideoFrame) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Errorw("render target panicked", "tile_id", tileID, "panic", r)
		}
	}()
	target.RenderFrame(frame)
}
