// Package patrol builds bounded-distance patrol routes over prioritized
// locations.
package patrol

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/risk"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/geo"
)

// Status of a route.
type Status string

const (
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
	StatusEmpty   Status = "empty"
)

// Waypoint types.
const (
	TypeReturn = "return"
)

// Candidate is a location that may be visited.
type Candidate struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Location       geo.Point `json:"location"`
	RiskScore      float64   `json:"risk_score"`
	Override       *float64  `json:"override,omitempty"`
	OverrideReason string    `json:"override_reason,omitempty"`
	DominantFactor string    `json:"dominant_factor,omitempty"`
}

// Priority is the command override when set, else the risk score.
func (c Candidate) Priority() float64 {
	if c.Override != nil {
		return *c.Override
	}
	return c.RiskScore
}

// FromScore turns a risk score into a candidate at loc.
func FromScore(s risk.Score, loc geo.Point) Candidate {
	return Candidate{
		ID:             s.TargetID,
		Type:           string(s.Kind),
		Location:       loc,
		RiskScore:      s.Value,
		DominantFactor: s.DominantFactor,
	}
}

// Params configures Optimize.
type Params struct {
	MaxDistanceMeters    float64 `json:"max_distance_m"`
	WaypointCount        int     `json:"waypoint_count"`
	DistancePenaltyPerKm float64 `json:"distance_penalty_per_km"`
	CoverageRadiusMeters float64 `json:"coverage_radius_m"`
	SpeedKmh             float64 `json:"speed_kmh"`
}

// DefaultParams returns a 15 km, eight stop route at 25 km/h.
func DefaultParams() Params {
	return Params{
		MaxDistanceMeters:    15000,
		WaypointCount:        8,
		DistancePenaltyPerKm: 0.5,
		CoverageRadiusMeters: 250,
		SpeedKmh:             25,
	}
}

// WithDefaults fills zero fields.
func (p Params) WithDefaults() Params {
	d := DefaultParams()
	if p.MaxDistanceMeters == 0 {
		p.MaxDistanceMeters = d.MaxDistanceMeters
	}
	if p.WaypointCount == 0 {
		p.WaypointCount = d.WaypointCount
	}
	if p.DistancePenaltyPerKm == 0 {
		p.DistancePenaltyPerKm = d.DistancePenaltyPerKm
	}
	if p.CoverageRadiusMeters == 0 {
		p.CoverageRadiusMeters = d.CoverageRadiusMeters
	}
	if p.SpeedKmh == 0 {
		p.SpeedKmh = d.SpeedKmh
	}
	return p
}

// Validate rejects non-positive budgets.
func (p Params) Validate() error {
	switch {
	case p.MaxDistanceMeters <= 0 || math.IsNaN(p.MaxDistanceMeters):
		return errors.New(errors.ErrCodeInvalidRouteParams, "max_distance must be positive")
	case p.WaypointCount < 1:
		return errors.New(errors.ErrCodeInvalidRouteParams, "waypoint_count must be at least 1")
	case p.DistancePenaltyPerKm < 0:
		return errors.New(errors.ErrCodeInvalidRouteParams, "distance penalty must be non-negative")
	case p.CoverageRadiusMeters < 0:
		return errors.New(errors.ErrCodeInvalidRouteParams, "coverage radius must be non-negative")
	case p.SpeedKmh <= 0:
		return errors.New(errors.ErrCodeInvalidRouteParams, "speed must be positive")
	}
	return nil
}

// Waypoint is one stop on a route.
type Waypoint struct {
	Sequence             int     `json:"sequence"`
	Lat                  float64 `json:"lat"`
	Lon                  float64 `json:"lon"`
	Type                 string  `json:"type"`
	CandidateID          string  `json:"candidate_id,omitempty"`
	Score                float64 `json:"score"`
	DistanceFromPrevious float64 `json:"distance_from_previous"`
	CumulativeDistance   float64 `json:"cumulative_distance"`
	Justification        string  `json:"justification,omitempty"`
}

// Statistics aggregates a route.
type Statistics struct {
	TotalDistanceMeters float64       `json:"total_distance_m"`
	WaypointCount       int           `json:"waypoint_count"`
	EstimatedDuration   time.Duration `json:"estimated_duration"`
	CoverageAreaSqM     float64       `json:"coverage_area_m2"`
	TotalScore          float64       `json:"total_score"`
	AverageScore        float64       `json:"average_score"`
	MaxScore            float64       `json:"max_score"`
}

// Route is an ordered tour from Start through Waypoints and back.
type Route struct {
	Start      geo.Point  `json:"start"`
	Waypoints  []Waypoint `json:"waypoints"`
	ReturnLeg  Waypoint   `json:"return_leg"`
	Statistics Statistics `json:"statistics"`
	Requested  int        `json:"requested"`
	Status     Status     `json:"status"`
}

// Optimize greedily extends the route with the candidate maximizing
// priority / (1 + penalty·km) among those that still fit the distance
// budget including the way back to start.
func Optimize(start geo.Point, candidates []Candidate, p Params) (*Route, error) {
	p = p.WithDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if !start.Valid() || start.IsZero() {
		return nil, errors.Newf(errors.ErrCodeInvalidCoordinate, "missing or invalid start %s", start)
	}
	if err := validateCandidates(candidates); err != nil {
		return nil, err
	}

	ordered := append([]Candidate(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := ordered[i].Priority(), ordered[j].Priority()
		if pi != pj {
			return pi > pj
		}
		return ordered[i].ID < ordered[j].ID
	})

	route := &Route{Start: start, Requested: p.WaypointCount, Waypoints: []Waypoint{}}
	visited := make([]bool, len(ordered))
	cur := start
	cum := 0.0

	for len(route.Waypoints) < p.WaypointCount {
		best, bestUtility, bestDist := -1, math.Inf(-1), 0.0
		for i, c := range ordered {
			if visited[i] {
				continue
			}
			d := geo.DistanceMeters(cur, c.Location)
			if cum+d+geo.DistanceMeters(c.Location, start) > p.MaxDistanceMeters {
				continue
			}
			u := c.Priority() / (1 + p.DistancePenaltyPerKm*d/1000)
			if u > bestUtility {
				best, bestUtility, bestDist = i, u, d
			}
		}
		if best < 0 {
			break
		}
		visited[best] = true
		c := ordered[best]
		cum += bestDist
		route.Waypoints = append(route.Waypoints, Waypoint{
			Sequence:             len(route.Waypoints) + 1,
			Lat:                  c.Location.Lat,
			Lon:                  c.Location.Lon,
			Type:                 c.Type,
			CandidateID:          c.ID,
			Score:                c.Priority(),
			DistanceFromPrevious: bestDist,
			CumulativeDistance:   cum,
			Justification:        justify(c),
		})
		cur = c.Location
	}

	back := geo.DistanceMeters(cur, start)
	route.ReturnLeg = Waypoint{
		Sequence:             len(route.Waypoints) + 1,
		Lat:                  start.Lat,
		Lon:                  start.Lon,
		Type:                 TypeReturn,
		DistanceFromPrevious: back,
		CumulativeDistance:   cum + back,
		Justification:        "return to start",
	}

	switch {
	case len(route.Waypoints) == 0:
		route.Status = StatusEmpty
	case len(route.Waypoints) < p.WaypointCount:
		route.Status = StatusPartial
	default:
		route.Status = StatusOK
	}
	route.Statistics = statistics(route, p)
	return route, nil
}

func statistics(r *Route, p Params) Statistics {
	s := Statistics{
		TotalDistanceMeters: r.ReturnLeg.CumulativeDistance,
		WaypointCount:       len(r.Waypoints),
	}
	s.EstimatedDuration = time.Duration(s.TotalDistanceMeters / (p.SpeedKmh * 1000) * float64(time.Hour))
	circles := make([]geo.Circle, len(r.Waypoints))
	for i, w := range r.Waypoints {
		s.TotalScore += w.Score
		s.MaxScore = math.Max(s.MaxScore, w.Score)
		circles[i] = geo.Circle{Center: geo.Point{Lat: w.Lat, Lon: w.Lon}, RadiusMeters: p.CoverageRadiusMeters}
	}
	if len(r.Waypoints) > 0 {
		s.AverageScore = s.TotalScore / float64(len(r.Waypoints))
	}
	s.CoverageAreaSqM = CoverageArea(circles)
	return s
}

// CoverageArea approximates the union of disks as the sum of areas minus
// pairwise overlaps, clamped between the largest disk and the plain sum.
func CoverageArea(disks []geo.Circle) float64 {
	if len(disks) == 0 {
		return 0
	}
	sum, largest := 0.0, 0.0
	for _, d := range disks {
		sum += d.Area()
		largest = math.Max(largest, d.Area())
	}
	overlap := 0.0
	for i := range disks {
		for j := i + 1; j < len(disks); j++ {
			overlap += geo.IntersectionArea(disks[i], disks[j])
		}
	}
	return math.Min(sum, math.Max(largest, sum-overlap))
}

func justify(c Candidate) string {
	if c.Override != nil {
		if c.OverrideReason != "" {
			return "command override: " + c.OverrideReason
		}
		return "command override"
	}
	level := risk.LevelFor(c.RiskScore)
	if c.DominantFactor == "" {
		return fmt.Sprintf("%s risk (%.2f)", level, c.RiskScore)
	}
	return fmt.Sprintf("%s risk (%.2f), driven by %s", level, c.RiskScore, c.DominantFactor)
}

func validateCandidates(cs []Candidate) error {
	seen := make(map[string]bool, len(cs))
	for _, c := range cs {
		if c.ID == "" {
			return errors.New(errors.ErrCodeInvalidCandidate, "candidate id is required")
		}
		if seen[c.ID] {
			return errors.Newf(errors.ErrCodeInvalidCandidate, "duplicate candidate %q", c.ID)
		}
		seen[c.ID] = true
		if !c.Location.Valid() {
			return errors.Newf(errors.ErrCodeInvalidCandidate, "candidate %q has invalid location", c.ID)
		}
		if c.RiskScore < 0 || c.RiskScore > 1 || math.IsNaN(c.RiskScore) {
			return errors.Newf(errors.ErrCodeInvalidCandidate, "candidate %q risk score out of [0,1]", c.ID)
		}
		if c.Override != nil && (*c.Override < 0 || *c.Override > 1 || math.IsNaN(*c.Override)) {
			return errors.Newf(errors.ErrCodeInvalidCandidate, "candidate %q override out of [0,1]", c.ID)
		}
	}
	return nil
}
