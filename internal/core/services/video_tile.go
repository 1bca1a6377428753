package services

import (
	"sync"
	"time"

	"meetkit/internal/core/domain"
	"meetkit/internal/core/ports"
)

// videoTile is one shared video stream. It is owned by VideoTileTracker and
// only touched under the tracker's lock, except renderMu which serializes
// frame delivery to the bound target.
type videoTile struct {
	id         domain.TileID
	attendeeID domain.AttendeeID
	pauseState domain.TilePauseState
	target     ports.RenderTarget
	createdAt  time.Time

	renderMu sync.Mutex

	frames uint64
	width  int
	height int
}

func newVideoTile(id domain.TileID, attendeeID domain.AttendeeID, createdAt time.Time) *videoTile {
	return &videoTile{
		id:         id,
		attendeeID: attendeeID,
		pauseState: domain.TileUnpaused,
		createdAt:  createdAt,
	}
}

func (t *videoTile) recordFrame(frame *domain.VideoFrame) {
	t.frames++
	t.width = frame.Width
	t.height = frame.Height
}

func (t *videoTile) state() domain.VideoTileState {
	return domain.VideoTileState{
		TileID:     t.id,
		AttendeeID: t.attendeeID,
		Local:      t.attendeeID.IsLocal(),
		PauseState: t.pauseState,
		Bound:      t.target != nil,
		Width:      t.width,
		Height:     t.height,
		Frames:     t.frames,
		CreatedAt:  t.createdAt,
	}
}

// drainRender waits for an in-flight render to finish. Callers must not hold
// the tracker's lock.
func (v *videoTile) drainRender() {
	v.renderMu.Lock()
	v.renderMu.Unlock() //nolint:staticcheck
}
