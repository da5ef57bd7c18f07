// Package geo holds the great-circle distance helpers used by catalog search.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used by the haversine formula.
const EarthRadiusKm = 6371.0

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// DistanceKm returns the haversine distance between a and b in kilometres.
func DistanceKm(a, b Point) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

// MinDistanceKm returns the smallest distance from origin to any candidate.
// ok is false when there are no candidates.
func MinDistanceKm(origin Point, candidates []Point) (nearest float64, ok bool) {
	nearest = math.Inf(1)
	for _, c := range candidates {
		if d := DistanceKm(origin, c); d < nearest {
			nearest = d
		}
	}
	return nearest, len(candidates) > 0
}

// WithinRadius reports whether the nearest candidate lies at most radiusKm
// away. The boundary is inclusive.
func WithinRadius(origin Point, candidates []Point, radiusKm float64) bool {
	d, ok := MinDistanceKm(origin, candidates)
	return ok && d <= radiusKm
}
