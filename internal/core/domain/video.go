package domain

import (
	"fmt"
	"time"
)

// TileID is the native video stream id. It doubles as the tile id while the
// tile is alive and may be reused once the tile is gone.
type TileID int

// AttendeeID identifies the remote attendee that owns a tile. The zero
// value marks the local tile.
type AttendeeID string

func (a AttendeeID) IsLocal() bool {
	return a == ""
}

type VideoFrame struct {
	Width     int
	Height    int
	Rotation  int
	Timestamp time.Duration
	Data      []byte
}

// PauseKind is the validated form of the native pause code carried by a
// frame event.
type PauseKind int

const (
	PauseNone PauseKind = iota
	PausePaused
	PauseStopped
)

func (p PauseKind) Valid() bool {
	return p >= PauseNone && p <= PauseStopped
}

func (p PauseKind) String() string {
	switch p {
	case PauseNone:
		return "none"
	case PausePaused:
		return "paused"
	case PauseStopped:
		return "stopped"
	default:
		return fmt.Sprintf("pause(%d)", int(p))
	}
}

// Native pause codes as delivered by the video engine.
const (
	NativePauseCodeNone           = 0
	NativePauseCodeUserRequest    = 1
	NativePauseCodePoorConnection = 2
	NativePauseCodeStreamStopped  = 3
)

// ParsePauseCode validates a native pause code.
func ParsePauseCode(code int) (PauseKind, error) {
	switch code {
	case NativePauseCodeNone:
		return PauseNone, nil
	case NativePauseCodeUserRequest, NativePauseCodePoorConnection:
		return PausePaused, nil
	case NativePauseCodeStreamStopped:
		return PauseStopped, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidPauseCode, code)
	}
}

type TilePauseState int

const (
	TileUnpaused TilePauseState = iota
	TilePausedByUserRequest
	TilePausedForPoorConnection
)

func (s TilePauseState) String() string {
	switch s {
	case TileUnpaused:
		return "unpaused"
	case TilePausedByUserRequest:
		return "paused_by_user_request"
	case TilePausedForPoorConnection:
		return "paused_for_poor_connection"
	default:
		return fmt.Sprintf("tile_pause_state(%d)", int(s))
	}
}

func (s TilePauseState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TilePauseState) UnmarshalText(text []byte) error {
	for candidate := TileUnpaused; candidate <= TilePausedForPoorConnection; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown tile pause state %q", text)
}

// VideoTileState is an immutable view of a tile handed to observers and API
// callers.
type VideoTileState struct {
	TileID     TileID         `json:"tile_id"`
	AttendeeID AttendeeID     `json:"attendee_id,omitempty"`
	Local      bool           `json:"local"`
	PauseState TilePauseState `json:"pause_state"`
	Bound      bool           `json:"bound"`
	Width      int            `json:"width,omitempty"`
	Height     int            `json:"height,omitempty"`
	Frames     uint64         `json:"frames"`
	CreatedAt  time.Time      `json:"created_at"`
}
