package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceKm(t *testing.T) {
	t.Run("same point", func(t *testing.T) {
		p := Point{Lat: 40.4168, Lng: -3.7038}
		assert.Equal(t, 0.0, DistanceKm(p, p))
	})

	t.Run("one degree of latitude", func(t *testing.T) {
		d := DistanceKm(Point{Lat: 0, Lng: 0}, Point{Lat: 1, Lng: 0})
		assert.InDelta(t, EarthRadiusKm*math.Pi/180, d, 1e-9)
	})

	t.Run("symmetric", func(t *testing.T) {
		a := Point{Lat: -34.6037, Lng: -58.3816}
		b := Point{Lat: -34.9205, Lng: -57.9536}
		assert.InDelta(t, DistanceKm(a, b), DistanceKm(b, a), 1e-12)
	})

	t.Run("madrid to barcelona", func(t *testing.T) {
		d := DistanceKm(Point{Lat: 40.4168, Lng: -3.7038}, Point{Lat: 41.3874, Lng: 2.1686})
		assert.InDelta(t, 505, d, 2)
	})

	t.Run("antipodes", func(t *testing.T) {
		d := DistanceKm(Point{Lat: 0, Lng: 0}, Point{Lat: 0, Lng: 180})
		assert.InDelta(t, EarthRadiusKm*math.Pi, d, 1e-6)
	})
}

func TestWithinRadiusBoundary(t *testing.T) {
	origin := Point{Lat: -34.6037, Lng: -58.3816}
	addr := Point{Lat: -34.6500, Lng: -58.4500}
	exact := DistanceKm(origin, addr)

	assert.True(t, WithinRadius(origin, []Point{addr}, exact), "exactly at radius is included")
	assert.False(t, WithinRadius(origin, []Point{addr}, math.Nextafter(exact, 0)), "just beyond radius is excluded")
	assert.True(t, WithinRadius(origin, []Point{addr}, exact+0.001))
}

func TestWithinRadiusUsesNearestAddress(t *testing.T) {
	origin := Point{Lat: 0, Lng: 0}
	far := Point{Lat: 10, Lng: 10}
	near := Point{Lat: 0, Lng: 0.05}

	assert.True(t, WithinRadius(origin, []Point{far, near}, 10))
	assert.False(t, WithinRadius(origin, []Point{far}, 10))
}

func TestWithinRadiusNoCandidates(t *testing.T) {
	assert.False(t, WithinRadius(Point{}, nil, math.MaxFloat64))

	_, ok := MinDistanceKm(Point{}, nil)
	assert.False(t, ok)
}

func TestPointValid(t *testing.T) {
	assert.True(t, Point{Lat: 90, Lng: -180}.Valid())
	assert.False(t, Point{Lat: 91, Lng: 0}.Valid())
	assert.False(t, Point{Lat: 0, Lng: 181}.Valid())
}
