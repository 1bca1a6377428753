package services

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"meetkit/internal/core/domain"
	"meetkit/internal/core/ports"
	"meetkit/pkg/tracing"
)

type nopTelemetry struct{}

func (nopTelemetry) SamplesAccepted(domain.Subsystem, int) {}
func (nopTelemetry) SamplesDropped(domain.Subsystem, int)  {}
func (nopTelemetry) SnapshotEmitted(int, int)              {}
func (nopTelemetry) SnapshotDiscarded(int)                 {}
func (nopTelemetry) ObserverFailure(string)                {}
func (nopTelemetry) TileAdded(bool)                        {}
func (nopTelemetry) TileRemoved(bool)                      {}

var _ ports.Telemetry = nopTelemetry{}

// notifyObserver runs one observer callback and contains a panic to that
// observer so the rest of the pass still gets delivered. A panic marks the
// delivery span in ctx as failed.
func notifyObserver(ctx context.Context, logger *zap.SugaredLogger, telemetry ports.Telemetry, component string, callback func()) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.ObserverFailure(component)
			tracing.RecordError(ctx, fmt.Errorf("%s observer panicked: %v", component, r))
			tracing.SetSpanStatus(ctx, codes.Error, "observer failure")
			logger.Errorw("observer callback panicked",
				"component", component,
				"panic", r,
			)
		}
	}()
	callback()
}
