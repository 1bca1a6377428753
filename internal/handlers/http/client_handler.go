package http

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"meetkit/internal/core/domain"
	"meetkit/internal/core/ports"
	"meetkit/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ClientHandler exposes the tile inventory, tile controls, the latest metric
// snapshot and media devices of one client.
type ClientHandler struct {
	tiles     ports.VideoTileService
	snapshots ports.SnapshotSource
	devices   ports.DeviceController
}

func NewClientHandler(
	tiles ports.VideoTileService,
	snapshots ports.SnapshotSource,
	devices ports.DeviceController,
) *ClientHandler {
	return &ClientHandler{
		tiles:     tiles,
		snapshots: snapshots,
		devices:   devices,
	}
}

// SetupRoutes registers read endpoints on api and control endpoints on
// control, which is expected to carry authentication.
func (h *ClientHandler) SetupRoutes(api, control *gin.RouterGroup) {
	api.GET("/metrics/latest", h.LatestMetrics)
	api.GET("/tiles", h.ListTiles)
	api.GET("/tiles/:id", h.GetTile)
	api.GET("/devices", h.ListDevices)

	control.POST("/tiles/:id/pause", h.PauseTile)
	control.POST("/tiles/:id/resume", h.ResumeTile)
	control.DELETE("/tiles/:id/binding", h.UnbindTile)
	control.POST("/devices/audio", h.ChooseAudioDevice)
	control.POST("/devices/camera/switch", h.SwitchCamera)
}

func (h *ClientHandler) LatestMetrics(c *gin.Context) {
	snapshot, ok := h.snapshots.Latest()
	if !ok {
		c.Error(errors.NewNotFoundError("metrics snapshot"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"metrics": snapshot,
	})
}

func (h *ClientHandler) ListTiles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tiles": h.tiles.Tiles(),
	})
}

func (h *ClientHandler) GetTile(c *gin.Context) {
	tile, ok := h.lookupTile(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tile": tile,
	})
}

func (h *ClientHandler) PauseTile(c *gin.Context) {
	h.setRemotePaused(c, true)
}

func (h *ClientHandler) ResumeTile(c *gin.Context) {
	h.setRemotePaused(c, false)
}

func (h *ClientHandler) setRemotePaused(c *gin.Context, paused bool) {
	tile, ok := h.lookupTile(c)
	if !ok {
		return
	}
	if tile.Local {
		c.Error(errors.NewConflictError("local video tile cannot be paused or resumed").
			WithCause(domain.ErrLocalTilePause).
			WithContext("tile_id", tile.TileID))
		return
	}

	status := "resume_requested"
	if paused {
		h.tiles.PauseRemoteTile(tile.TileID)
		status = "pause_requested"
	} else {
		h.tiles.ResumeRemoteTile(tile.TileID)
	}

	c.JSON(http.StatusAccepted, gin.H{
		"tile_id": tile.TileID,
		"status":  status,
	})
}

func (h *ClientHandler) UnbindTile(c *gin.Context) {
	tile, ok := h.lookupTile(c)
	if !ok {
		return
	}

	h.tiles.UnbindRenderTarget(tile.TileID)
	c.Status(http.StatusNoContent)
}

func (h *ClientHandler) ListDevices(c *gin.Context) {
	response := gin.H{
		"audio": h.devices.ListAudioDevices(),
	}
	if camera, err := h.devices.ActiveCamera(); err == nil {
		response["camera"] = camera
	}
	c.JSON(http.StatusOK, response)
}

type chooseAudioDeviceRequest struct {
	Label string                 `json:"label" binding:"required,max=256"`
	Type  domain.MediaDeviceType `json:"type"`
}

func (h *ClientHandler) ChooseAudioDevice(c *gin.Context) {
	var req chooseAudioDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	device := domain.MediaDevice{Label: req.Label, Type: req.Type}
	if err := h.devices.ChooseAudioDevice(device); err != nil {
		if stderrors.Is(err, domain.ErrDeviceNotFound) {
			c.Error(errors.NewNotFoundError("audio device").WithContext("label", req.Label))
			return
		}
		c.Error(errors.NewInternalError("failed to choose audio device").WithCause(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device": device,
	})
}

func (h *ClientHandler) SwitchCamera(c *gin.Context) {
	if err := h.devices.SwitchCamera(); err != nil {
		if stderrors.Is(err, domain.ErrNoActiveCamera) {
			c.Error(errors.NewNotFoundError("camera"))
			return
		}
		c.Error(errors.NewInternalError("failed to switch camera").WithCause(err))
		return
	}

	camera, err := h.devices.ActiveCamera()
	if err != nil {
		c.Error(errors.NewInternalError("failed to read active camera").WithCause(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"camera": camera,
	})
}

// lookupTile parses the :id parameter and reports the error itself when the
// tile cannot be resolved.
func (h *ClientHandler) lookupTile(c *gin.Context) (domain.VideoTileState, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 0 {
		c.Error(errors.NewInvalidInputError("tile id must be a non-negative integer").WithContext("id", c.Param("id")))
		return domain.VideoTileState{}, false
	}

	tile, ok := h.tiles.Tile(domain.TileID(id))
	if !ok {
		c.Error(errors.NewNotFoundError("video tile").
			WithCause(domain.ErrTileNotFound).
			WithContext("tile_id", id))
		return domain.VideoTileState{}, false
	}
	return tile, true
}
