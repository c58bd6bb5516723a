// README: Driver eligibility: cached pre-filter plus authoritative live count.
package driver

import (
	"context"

	"foodbridge/internal/types"
)

// ActiveCounter counts a driver's donations in assigned or picked_up,
// optionally leaving one donation out of the count.
type ActiveCounter interface {
	CountActive(ctx context.Context, driverID types.ID, excluding types.ID) (int, error)
}

// Prefilter applies the checks answerable from the driver record alone.
func Prefilter(d *Driver) bool {
	return d != nil &&
		d.Role == types.RoleDriver &&
		d.Active &&
		d.Occupancy == OccupancyAvailable &&
		d.HasLocation()
}

type AvailabilityChecker struct {
	counter ActiveCounter
}

func NewAvailabilityChecker(counter ActiveCounter) *AvailabilityChecker {
	return &AvailabilityChecker{counter: counter}
}

// IsEligible requires both the cached flag and a zero live count; the flag
// may be stale under concurrent load.
func (c *AvailabilityChecker) IsEligible(ctx context.Context, d *Driver) (bool, error) {
	if !Prefilter(d) {
		return false, nil
	}
	n, err := c.counter.CountActive(ctx, d.ID, "")
	if err != nil {
		return false, err
	}
	return n == 0, nil
}
