package ports

import (
	"meetkit/internal/core/domain"
)

// VideoTileService is the tile surface consumed by HTTP handlers.
type VideoTileService interface {
	Tiles() []domain.VideoTileState
	Tile(tileID domain.TileID) (domain.VideoTileState, bool)
	PauseRemoteTile(tileID domain.TileID)
	ResumeRemoteTile(tileID domain.TileID)
	UnbindRenderTarget(tileID domain.TileID)
}

// SnapshotSource returns the last snapshot delivered to an observer.
type SnapshotSource interface {
	Latest() (domain.MetricSnapshot, bool)
}
