package geo

import "math"

// Circle is a disk on the Earth's surface, small enough to treat as planar.
type Circle struct {
	Center       Point   `json:"center"`
	RadiusMeters float64 `json:"radius_m"`
}

// Area returns the disk area in square meters.
func (c Circle) Area() float64 {
	return math.Pi * c.RadiusMeters * c.RadiusMeters
}

// Contains reports whether p lies inside or on the disk.
func (c Circle) Contains(p Point) bool {
	return DistanceMeters(c.Center, p) <= c.RadiusMeters
}

// Overlaps reports whether the two disks share any area or touch.
func (c Circle) Overlaps(o Circle) bool {
	return DistanceMeters(c.Center, o.Center) <= c.RadiusMeters+o.RadiusMeters
}

// IntersectionArea returns the lens area shared by two disks.
func IntersectionArea(a, b Circle) float64 {
	d := DistanceMeters(a.Center, b.Center)
	r1, r2 := a.RadiusMeters, b.RadiusMeters
	if d >= r1+r2 {
		return 0
	}
	if d <= math.Abs(r1-r2) {
		r := math.Min(r1, r2)
		return math.Pi * r * r
	}
	alpha := math.Acos(clampUnit((d*d + r1*r1 - r2*r2) / (2 * d * r1)))
	beta := math.Acos(clampUnit((d*d + r2*r2 - r1*r1) / (2 * d * r2)))
	return r1*r1*(alpha-math.Sin(2*alpha)/2) + r2*r2*(beta-math.Sin(2*beta)/2)
}

func clampUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
