// README: Matching inputs, scored candidates and ranking results.
package matching

import (
	"time"

	"foodbridge/internal/types"
)

const (
	WeightDistance    = 0.4
	WeightReputation  = 0.3
	WeightUtilization = 0.2

	maxReputation = 100.0
)

// Request describes the donation being matched.
type Request struct {
	DonationID types.ID
	Pickup     *types.Point
	Items      []types.FoodItem
}

// Candidate is an eligible driver with its score breakdown.
type Candidate struct {
	DriverID     types.ID           `json:"driver_id"`
	Name         string             `json:"name,omitempty"`
	VehicleClass types.VehicleClass `json:"vehicle_class"`
	Reputation   float64            `json:"reputation"`
	DistanceKm   float64            `json:"distance_km"`
	CapacityKg   float64            `json:"capacity_kg"`
	Utilization  float64            `json:"utilization"`
	Score        float64            `json:"score"`
}

// Ranking is the advisory result for one donation. An empty Candidates list
// is a valid outcome and is flagged with CapacityExceeded.
type Ranking struct {
	DonationID       types.ID    `json:"donation_id"`
	DemandKg         float64     `json:"demand_kg"`
	Candidates       []Candidate `json:"candidates"`
	Considered       int         `json:"considered"`
	CapacityExceeded bool        `json:"capacity_exceeded"`
	Reason           string      `json:"reason,omitempty"`
	ComputedAt       time.Time   `json:"computed_at"`
}

// Best returns the top candidate, if any.
func (r *Ranking) Best() (Candidate, bool) {
	if r == nil || len(r.Candidates) == 0 {
		return Candidate{}, false
	}
	return r.Candidates[0], true
}
