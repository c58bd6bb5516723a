// README: Food item, unit, and vehicle class value types.
package types

import "time"

type Unit string

const (
	UnitKg      Unit = "kg"
	UnitPieces  Unit = "pieces"
	UnitPackets Unit = "packets"
	UnitLiters  Unit = "liters"
	UnitBoxes   Unit = "boxes"
)

// Valid reports whether u is one of the units a donor may declare.
func (u Unit) Valid() bool {
	switch u {
	case UnitKg, UnitPieces, UnitPackets, UnitLiters, UnitBoxes:
		return true
	}
	return false
}

type FoodItem struct {
	Name      string     `json:"name"`
	Quantity  float64    `json:"quantity"`
	Unit      Unit       `json:"unit"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type VehicleClass string

const (
	VehicleSmall  VehicleClass = "small"
	VehicleMedium VehicleClass = "medium"
	VehicleLarge  VehicleClass = "large"
)

func (v VehicleClass) Valid() bool {
	switch v {
	case VehicleSmall, VehicleMedium, VehicleLarge:
		return true
	}
	return false
}
