// README: Vehicle payload capacity and kg-equivalent demand of a food item list.
package capacity

import "foodbridge/internal/types"

const DefaultCapacityKg = 150.0

var classCapacityKg = map[types.VehicleClass]float64{
	types.VehicleSmall:  50,
	types.VehicleMedium: 150,
	types.VehicleLarge:  300,
}

var unitFactor = map[types.Unit]float64{
	types.UnitKg:      1,
	types.UnitLiters:  1,
	types.UnitBoxes:   5,
	types.UnitPackets: 0.5,
	types.UnitPieces:  0.2,
}

// CapacityKg returns the payload of a vehicle class. Unknown or empty
// classes are treated as medium.
func CapacityKg(class types.VehicleClass) float64 {
	if kg, ok := classCapacityKg[class]; ok {
		return kg
	}
	return DefaultCapacityKg
}

// UnitFactor converts one unit of u into kilograms. Unrecognized units count as 1.
func UnitFactor(u types.Unit) float64 {
	if f, ok := unitFactor[u]; ok {
		return f
	}
	return 1
}

// DemandKg sums quantity·factor over items.
func DemandKg(items []types.FoodItem) float64 {
	var total float64
	for _, it := range items {
		total += it.Quantity * UnitFactor(it.Unit)
	}
	return total
}

// Fits reports whether a vehicle of the given class can carry demandKg.
func Fits(class types.VehicleClass, demandKg float64) bool {
	return CapacityKg(class) >= demandKg
}

// Utilization is demandKg as a fraction of the class capacity.
func Utilization(class types.VehicleClass, demandKg float64) float64 {
	return demandKg / CapacityKg(class)
}
