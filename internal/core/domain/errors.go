package domain

import "errors"

var (
	ErrTileNotFound     = errors.New("video tile not found")
	ErrLocalTilePause   = errors.New("local video tile cannot be paused or resumed")
	ErrInvalidPauseCode = errors.New("invalid native pause code")
	ErrAlreadyRunning   = errors.New("already running")
	ErrCollectorStopped = errors.New("metrics collector stopped")
	ErrTrackerClosed    = errors.New("video tile tracker closed")
	ErrDeviceNotFound   = errors.New("media device not found")
	ErrNoActiveCamera   = errors.New("no active camera")
)
