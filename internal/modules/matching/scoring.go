// README: Composite driver score and the deterministic ranking order.
package matching

import "sort"

// Score is lower-is-better: 0.4·km + 0.3·(100−reputation) + 0.2·utilization.
func Score(distanceKm, reputation, utilization float64) float64 {
	return WeightDistance*distanceKm +
		WeightReputation*(maxReputation-reputation) +
		WeightUtilization*utilization
}

// Less orders by score, then lower distance, then higher reputation, then
// smaller driver id.
func Less(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	if a.DistanceKm != b.DistanceKm {
		return a.DistanceKm < b.DistanceKm
	}
	if a.Reputation != b.Reputation {
		return a.Reputation > b.Reputation
	}
	return a.DriverID < b.DriverID
}

// Sort ranks candidates in place.
func Sort(cands []Candidate) {
	sort.Slice(cands, func(i, j int) bool { return Less(cands[i], cands[j]) })
}
