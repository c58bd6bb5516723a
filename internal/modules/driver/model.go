// README: Driver view of the user record and its cached occupancy flag.
package driver

import (
	"time"

	"foodbridge/internal/types"
)

type Occupancy string

const (
	OccupancyAvailable Occupancy = "available"
	OccupancyBusy      Occupancy = "busy"
)

type Driver struct {
	ID           types.ID           `json:"id"`
	Name         string             `json:"name"`
	Role         types.Role         `json:"role"`
	Active       bool               `json:"active"`
	VehicleClass types.VehicleClass `json:"vehicle_class"`
	Occupancy    Occupancy          `json:"occupancy"`
	Reputation   float64            `json:"reputation"`
	Position     *types.Point       `json:"position,omitempty"`
	DeviceToken  string             `json:"-"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

func (d *Driver) HasLocation() bool {
	return d.Position != nil
}
