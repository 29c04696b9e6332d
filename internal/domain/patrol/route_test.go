package patrol

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/risk"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/geo"
)

var start = geo.Point{Lat: 40.7128, Lon: -74.0060}

func cand(id string, north, east, score float64) Candidate {
	return Candidate{ID: id, Type: "zone", Location: geo.Offset(start, north, east), RiskScore: score, DominantFactor: "violent"}
}

func TestOptimize_PrefersNearbyOverSlightlyHigherPriority(t *testing.T) {
	r, err := Optimize(start, []Candidate{
		cand("far", 3000, 0, 0.9),
		cand("near", 500, 0, 0.8),
	}, Params{WaypointCount: 2})
	require.NoError(t, err)
	require.Len(t, r.Waypoints, 2)
	assert.Equal(t, "near", r.Waypoints[0].CandidateID)
	assert.Equal(t, "far", r.Waypoints[1].CandidateID)
	assert.Equal(t, StatusOK, r.Status)
	assert.Equal(t, "critical risk (0.80), driven by violent", r.Waypoints[0].Justification)

	assert.InDelta(t, 500, r.Waypoints[0].DistanceFromPrevious, 2)
	assert.InDelta(t, 3000, r.Waypoints[1].CumulativeDistance, 10)
	assert.Equal(t, 3, r.ReturnLeg.Sequence)
	assert.InDelta(t, 6000, r.Statistics.TotalDistanceMeters, 20)
	assert.InDelta(t, 0.85, r.Statistics.AverageScore, 1e-12)
	assert.InDelta(t, 0.9, r.Statistics.MaxScore, 1e-12)
	assert.InDelta(t, float64(6000)/25000, r.Statistics.EstimatedDuration.Hours(), 1e-3)
}

func TestOptimize_NothingReachableIsEmpty(t *testing.T) {
	r, err := Optimize(start, []Candidate{
		cand("a", 5000, 0, 0.9),
		cand("b", 0, 4000, 0.7),
	}, Params{MaxDistanceMeters: 1000, WaypointCount: 3})
	require.NoError(t, err)
	assert.Equal(t, StatusEmpty, r.Status)
	assert.Empty(t, r.Waypoints)
	assert.Equal(t, 1, r.ReturnLeg.Sequence)
	assert.Zero(t, r.ReturnLeg.CumulativeDistance)
	assert.Zero(t, r.Statistics.CoverageAreaSqM)
}

func TestOptimize_FewerReachableIsPartial(t *testing.T) {
	r, err := Optimize(start, []Candidate{
		cand("a", 1000, 0, 0.5),
		cand("b", 20000, 0, 1.0),
	}, Params{MaxDistanceMeters: 5000, WaypointCount: 4})
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, r.Status)
	require.Len(t, r.Waypoints, 1)
	assert.Equal(t, "a", r.Waypoints[0].CandidateID)
}

func TestOptimize_Override(t *testing.T) {
	one := 1.0
	c := cand("cmd", 800, 0, 0.1)
	c.Override = &one
	c.OverrideReason = "school event"

	r, err := Optimize(start, []Candidate{cand("risk", 800, 0, 0.9), c}, Params{WaypointCount: 1})
	require.NoError(t, err)
	require.Len(t, r.Waypoints, 1)
	assert.Equal(t, "cmd", r.Waypoints[0].CandidateID)
	assert.Equal(t, 1.0, r.Waypoints[0].Score)
	assert.Equal(t, "command override: school event", r.Waypoints[0].Justification)
}

func TestOptimize_TiesBrokenByID(t *testing.T) {
	r, err := Optimize(start, []Candidate{cand("b", 1000, 0, 0.5), cand("a", 1000, 0, 0.5)}, Params{WaypointCount: 1})
	require.NoError(t, err)
	assert.Equal(t, "a", r.Waypoints[0].CandidateID)
}

func TestOptimize_RouteInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 60; trial++ {
		var cs []Candidate
		for i := 0; i < rng.Intn(25); i++ {
			cs = append(cs, cand(fmt.Sprintf("c%02d", i), (rng.Float64()-0.5)*12000, (rng.Float64()-0.5)*12000, rng.Float64()))
		}
		p := Params{MaxDistanceMeters: 1000 + rng.Float64()*20000, WaypointCount: 1 + rng.Intn(10)}
		r, err := Optimize(start, cs, p)
		require.NoError(t, err)

		assert.LessOrEqual(t, len(r.Waypoints), p.WaypointCount)
		prev := 0.0
		for i, w := range r.Waypoints {
			assert.Equal(t, i+1, w.Sequence)
			assert.GreaterOrEqual(t, w.CumulativeDistance, prev)
			prev = w.CumulativeDistance
		}
		assert.Equal(t, len(r.Waypoints)+1, r.ReturnLeg.Sequence)
		assert.GreaterOrEqual(t, r.ReturnLeg.CumulativeDistance, prev)
		assert.LessOrEqual(t, r.Statistics.TotalDistanceMeters, p.MaxDistanceMeters+1e-6)
	}
}

func TestOptimize_Idempotent(t *testing.T) {
	cs := []Candidate{cand("a", 100, 900, 0.4), cand("b", -700, 200, 0.6), cand("c", 1500, -300, 0.95)}
	first, err := Optimize(start, cs, Params{})
	require.NoError(t, err)
	second, err := Optimize(start, cs, Params{})
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(first, second))
}

func TestOptimize_Validation(t *testing.T) {
	bad := 1.5
	tests := []struct {
		name  string
		start geo.Point
		cs    []Candidate
		p     Params
		code  errors.ErrorCode
	}{
		{"negative budget", start, nil, Params{MaxDistanceMeters: -1}, errors.ErrCodeInvalidRouteParams},
		{"negative count", start, nil, Params{WaypointCount: -1}, errors.ErrCodeInvalidRouteParams},
		{"bad start", geo.Point{Lat: 200}, nil, Params{}, errors.ErrCodeInvalidCoordinate},
		{"missing start", geo.Point{}, []Candidate{cand("a", 0, 0, 0.5)}, Params{}, errors.ErrCodeInvalidCoordinate},
		{"missing id", start, []Candidate{{Location: start}}, Params{}, errors.ErrCodeInvalidCandidate},
		{"duplicate id", start, []Candidate{cand("a", 0, 0, 0.1), cand("a", 0, 0, 0.2)}, Params{}, errors.ErrCodeInvalidCandidate},
		{"score range", start, []Candidate{cand("a", 0, 0, 1.2)}, Params{}, errors.ErrCodeInvalidCandidate},
		{"override range", start, []Candidate{{ID: "a", Location: start, Override: &bad}}, Params{}, errors.ErrCodeInvalidCandidate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Optimize(tt.start, tt.cs, tt.p)
			assert.True(t, errors.IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestCoverageArea(t *testing.T) {
	disk := geo.Circle{Center: start, RadiusMeters: 100}
	area := math.Pi * 100 * 100

	assert.Zero(t, CoverageArea(nil))
	assert.InDelta(t, area, CoverageArea([]geo.Circle{disk}), 1e-6)
	assert.InDelta(t, area, CoverageArea([]geo.Circle{disk, disk}), 1e-6)

	apart := geo.Circle{Center: geo.Offset(start, 1000, 0), RadiusMeters: 100}
	assert.InDelta(t, 2*area, CoverageArea([]geo.Circle{disk, apart}), 1e-6)

	half := geo.Circle{Center: geo.Offset(start, 100, 0), RadiusMeters: 100}
	got := CoverageArea([]geo.Circle{disk, half})
	assert.Greater(t, got, area)
	assert.Less(t, got, 2*area)

	// Three coincident disks: pairwise subtraction undershoots, clamp holds.
	assert.InDelta(t, area, CoverageArea([]geo.Circle{disk, disk, disk}), 1e-6)
}

func TestFromScore(t *testing.T) {
	c := FromScore(risk.Score{TargetID: "cell-1", Kind: risk.TargetCell, Value: 0.7, DominantFactor: "drug"}, start)
	assert.Equal(t, "cell-1", c.ID)
	assert.Equal(t, "cell", c.Type)
	assert.Equal(t, 0.7, c.Priority())
}
