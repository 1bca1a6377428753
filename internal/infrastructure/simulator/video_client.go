package simulator

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"meetkit/internal/core/domain"
	"meetkit/internal/core/ports"
)

// VideoClient stands in for the native video client. It records which remote
// tiles the user asked the server to pause; the engine stops sending those.
type VideoClient struct {
	logger *zap.SugaredLogger

	mu     sync.Mutex
	paused map[domain.TileID]bool
}

func NewVideoClient(logger *zap.SugaredLogger) *VideoClient {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &VideoClient{
		logger: logger,
		paused: make(map[domain.TileID]bool),
	}
}

func (v *VideoClient) SetRemotePaused(ctx context.Context, paused bool, tileID domain.TileID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	if paused {
		v.paused[tileID] = true
	} else {
		delete(v.paused, tileID)
	}
	v.mu.Unlock()

	v.logger.Infow("remote video pause requested", "tile_id", tileID, "paused", paused)
	return nil
}

func (v *VideoClient) IsPaused(tileID domain.TileID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused[tileID]
}

var _ ports.VideoClientController = (*VideoClient)(nil)
