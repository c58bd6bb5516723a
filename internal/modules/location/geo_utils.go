// Package location holds pure geographic helpers and the optional geocoder.
package location

import (
	"math"

	"foodbridge/internal/types"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees. It uses the atan2 form of the
// haversine formula, which stays accurate for points a few metres apart.
func DistanceKm(latA, lngA, latB, lngB float64) float64 {
	dLat := degreesToRadians(latB - latA)
	dLng := degreesToRadians(lngB - lngA)

	rLatA := degreesToRadians(latA)
	rLatB := degreesToRadians(latB)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLatA)*math.Cos(rLatB)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// Between is DistanceKm over two Points.
func Between(a, b types.Point) float64 {
	return DistanceKm(a.Lat, a.Lng, b.Lat, b.Lng)
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
