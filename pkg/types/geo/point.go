// Package geo holds the coordinate value types shared by every engine
// component, together with great-circle distance and disk helpers.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used for great-circle distance.
const EarthRadiusMeters = 6371000.0

// metersPerDegreeLat is the length of one degree of latitude.
const metersPerDegreeLat = 111320.0

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether p is a finite coordinate inside the WGS84 range.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// IsZero reports whether p is the (0,0) null-island coordinate, which feeds
// overwhelmingly use for "missing".
func (p Point) IsZero() bool {
	return p.Lat == 0 && p.Lon == 0
}

func (p Point) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", p.Lat, p.Lon)
}

// DistanceMeters returns the haversine great-circle distance between a and b.
func DistanceMeters(a, b Point) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// Centroid returns the arithmetic mean of points.  Adequate at city scale;
// callers never pass clusters that straddle the antimeridian.
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	var lat, lon float64
	for _, p := range points {
		lat += p.Lat
		lon += p.Lon
	}
	n := float64(len(points))
	return Point{Lat: lat / n, Lon: lon / n}
}

// Offset returns the point displaced by northMeters and eastMeters using a
// local equirectangular approximation.
func Offset(p Point, northMeters, eastMeters float64) Point {
	dLat := northMeters / metersPerDegreeLat
	cosLat := math.Cos(toRadians(p.Lat))
	if cosLat < 1e-6 {
		cosLat = 1e-6
	}
	dLon := eastMeters / (metersPerDegreeLat * cosLat)
	return Point{Lat: p.Lat + dLat, Lon: p.Lon + dLon}
}

// DegreesForMeters converts a distance into latitude and longitude degree
// spans at latitude lat.
func DegreesForMeters(meters, lat float64) (dLat, dLon float64) {
	dLat = meters / metersPerDegreeLat
	cosLat := math.Cos(toRadians(lat))
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	dLon = meters / (metersPerDegreeLat * cosLat)
	return dLat, dLon
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
