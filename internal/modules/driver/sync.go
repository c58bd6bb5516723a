// README: Recomputes a driver's cached occupancy from the live active count.
package driver

import (
	"context"

	"foodbridge/internal/types"
)

type OccupancyWriter interface {
	SetOccupancy(ctx context.Context, id types.ID, to Occupancy) error
}

// Synchronizer must run on the same transaction as the status write that
// took a donation out of the active set.
type Synchronizer struct {
	counter ActiveCounter
	writer  OccupancyWriter
}

func NewSynchronizer(counter ActiveCounter, writer OccupancyWriter) *Synchronizer {
	return &Synchronizer{counter: counter, writer: writer}
}

func (s *Synchronizer) Sync(ctx context.Context, driverID, excluding types.ID) (Occupancy, error) {
	n, err := s.counter.CountActive(ctx, driverID, excluding)
	if err != nil {
		return "", err
	}
	to := OccupancyAvailable
	if n > 0 {
		to = OccupancyBusy
	}
	if err := s.writer.SetOccupancy(ctx, driverID, to); err != nil {
		return "", err
	}
	return to, nil
}
