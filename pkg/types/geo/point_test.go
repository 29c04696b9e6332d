package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoint_Valid(t *testing.T) {
	tests := []struct {
		name string
		p    Point
		want bool
	}{
		{"city centre", Point{Lat: 41.8781, Lon: -87.6298}, true},
		{"poles and antimeridian", Point{Lat: -90, Lon: 180}, true},
		{"lat too large", Point{Lat: 90.01, Lon: 0}, false},
		{"lon too small", Point{Lat: 0, Lon: -180.5}, false},
		{"NaN", Point{Lat: math.NaN(), Lon: 0}, false},
		{"Inf", Point{Lat: 0, Lon: math.Inf(1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.Valid())
		})
	}
}

func TestDistanceMeters(t *testing.T) {
	// One degree of latitude is ~111.2 km on the mean sphere.
	d := DistanceMeters(Point{Lat: 0, Lon: 0}, Point{Lat: 1, Lon: 0})
	assert.InDelta(t, 111195, d, 50)

	assert.Zero(t, DistanceMeters(Point{Lat: 10, Lon: 10}, Point{Lat: 10, Lon: 10}))

	a := Point{Lat: 41.88, Lon: -87.63}
	b := Point{Lat: 41.90, Lon: -87.65}
	assert.InDelta(t, DistanceMeters(a, b), DistanceMeters(b, a), 1e-9)
}

func TestOffset_RoundTripsDistance(t *testing.T) {
	origin := Point{Lat: 41.88, Lon: -87.63}
	north := Offset(origin, 500, 0)
	east := Offset(origin, 0, 500)

	assert.InDelta(t, 500, DistanceMeters(origin, north), 2)
	assert.InDelta(t, 500, DistanceMeters(origin, east), 2)
}

func TestCentroid(t *testing.T) {
	c := Centroid([]Point{{Lat: 0, Lon: 0}, {Lat: 2, Lon: 4}})
	assert.Equal(t, Point{Lat: 1, Lon: 2}, c)
	assert.Equal(t, Point{}, Centroid(nil))
}

func TestIntersectionArea(t *testing.T) {
	c := Point{Lat: 41.88, Lon: -87.63}
	a := Circle{Center: c, RadiusMeters: 100}

	assert.InDelta(t, a.Area(), IntersectionArea(a, a), 1e-6)

	far := Circle{Center: Offset(c, 1000, 0), RadiusMeters: 100}
	assert.Zero(t, IntersectionArea(a, far))
	assert.False(t, a.Overlaps(far))

	half := Circle{Center: Offset(c, 100, 0), RadiusMeters: 100}
	lens := IntersectionArea(a, half)
	assert.Greater(t, lens, 0.0)
	assert.Less(t, lens, a.Area())
	assert.True(t, a.Overlaps(half))
}
