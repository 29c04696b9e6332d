package allocation

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/geo"
)

var all = []Objective{MaximizeCoverage}

func unitIn(id, zone string, capacity float64) Resource {
	return Resource{ID: id, Type: "patrol_car", CurrentZone: zone, Capacity: capacity, Utilization: 0.5, CostPerHour: 50}
}

func TestOptimize_MovesResourceIntoGap(t *testing.T) {
	zones := []Zone{
		{ID: "a", CurrentCoverage: 0.5, TargetCoverage: 0.9, DemandLevel: 1},
		{ID: "b", CurrentCoverage: 0.95, TargetCoverage: 0.6, DemandLevel: 1},
	}
	res, err := Optimize(context.Background(), []Resource{unitIn("r1", "b", 0.3)}, zones, all, Params{})
	require.NoError(t, err)

	require.Len(t, res.Allocations, 1)
	a := res.Allocations[0]
	assert.Equal(t, "r1", a.ResourceID)
	assert.Equal(t, "b", a.FromZone)
	assert.Equal(t, "a", a.ToZone)
	assert.Greater(t, a.ExpectedImpact, 0.0)
	assert.InDelta(t, 50, a.CostDelta, 1e-12)
	assert.InDelta(t, 50, res.CostImpact, 1e-12)

	assert.Greater(t, res.MetricsAfter.AverageCoverage, res.MetricsBefore.AverageCoverage)
	assert.Greater(t, res.Improvement.AverageCoverage, 0.0)
	assert.Equal(t, StatusOptimized, res.Status)
	assert.InDelta(t, 0.65, res.ZonesAfter[0].CurrentCoverage, 1e-12)
	assert.Equal(t, "a", res.ResourcesAfter[0].CurrentZone)
	assert.Equal(t, ResourceAssigned, res.ResourcesAfter[0].Status)
	assert.Equal(t, 1, res.MetricsAfter.ResourcesPerZone["a"])

	assert.Equal(t, "b", zones[1].ID)
	assert.Equal(t, 0.95, zones[1].CurrentCoverage, "inputs must not be modified")
}

func TestOptimize_Balanced(t *testing.T) {
	zones := []Zone{
		{ID: "a", CurrentCoverage: 0.88, TargetCoverage: 0.9},
		{ID: "b", CurrentCoverage: 0.7, TargetCoverage: 0.6},
	}
	res, err := Optimize(context.Background(), []Resource{unitIn("r1", "b", 0.3)}, zones, all, Params{})
	require.NoError(t, err)
	assert.Equal(t, StatusBalanced, res.Status)
	assert.Empty(t, res.Allocations)
}

func TestOptimize_InfeasibleWhenNoCompatibleType(t *testing.T) {
	zones := []Zone{
		{ID: "a", CurrentCoverage: 0.2, TargetCoverage: 0.9, AcceptedTypes: []string{"k9"}},
		{ID: "b", CurrentCoverage: 0.95, TargetCoverage: 0.3},
	}
	res, err := Optimize(context.Background(), []Resource{unitIn("r1", "b", 0.3)}, zones, all, Params{})
	require.NoError(t, err)
	assert.Equal(t, StatusInfeasible, res.Status)
	assert.NotNil(t, res.Allocations)
	assert.Empty(t, res.Allocations)
	assert.Equal(t, "no compatible available resource for a", res.Message)
	assert.Equal(t, res.MetricsBefore, res.MetricsAfter)
}

func TestOptimize_InfeasibleWhenSourceWouldBeUncovered(t *testing.T) {
	zones := []Zone{
		{ID: "a", CurrentCoverage: 0.2, TargetCoverage: 0.9},
		{ID: "b", CurrentCoverage: 0.65, TargetCoverage: 0.6},
	}
	res, err := Optimize(context.Background(), []Resource{unitIn("r1", "b", 0.3)}, zones, all, Params{})
	require.NoError(t, err)
	assert.Equal(t, StatusInfeasible, res.Status)
	assert.Contains(t, res.Message, "without uncovering")
}

func TestOptimize_OutOfServiceNeverMoves(t *testing.T) {
	zones := []Zone{
		{ID: "a", CurrentCoverage: 0.2, TargetCoverage: 0.9},
		{ID: "b", CurrentCoverage: 0.99, TargetCoverage: 0.3},
	}
	r := unitIn("r1", "b", 0.3)
	r.Status = ResourceOutOfService
	res, err := Optimize(context.Background(), []Resource{r}, zones, all, Params{})
	require.NoError(t, err)
	assert.Equal(t, StatusInfeasible, res.Status)
}

func TestOptimize_TiesByZoneAndResourceID(t *testing.T) {
	zones := []Zone{
		{ID: "sink-b", CurrentCoverage: 0.3, TargetCoverage: 0.8},
		{ID: "sink-a", CurrentCoverage: 0.3, TargetCoverage: 0.8},
		{ID: "src", CurrentCoverage: 0.99, TargetCoverage: 0.2},
	}
	resources := []Resource{unitIn("r2", "src", 0.2), unitIn("r1", "src", 0.2)}
	res, err := Optimize(context.Background(), resources, zones, all, Params{MaxMoves: 1})
	require.NoError(t, err)
	require.Len(t, res.Allocations, 1)
	assert.Equal(t, "sink-a", res.Allocations[0].ToZone)
	assert.Equal(t, "r1", res.Allocations[0].ResourceID)
}

func TestOptimize_ObjectivesSteerResourceChoice(t *testing.T) {
	zones := []Zone{
		{ID: "a", CurrentCoverage: 0.3, TargetCoverage: 0.6},
		{ID: "b", CurrentCoverage: 0.99, TargetCoverage: 0.2},
	}
	cheap := Resource{ID: "r-cheap", Type: "car", CurrentZone: "b", Capacity: 0.3, Utilization: 0.9, CostPerHour: 10}
	idle := Resource{ID: "r-idle", Type: "car", CurrentZone: "b", Capacity: 0.3, Utilization: 0.1, CostPerHour: 90}

	res, err := Optimize(context.Background(), []Resource{cheap, idle}, zones, []Objective{MinimizeCost}, Params{MaxMoves: 1})
	require.NoError(t, err)
	assert.Equal(t, "r-cheap", res.Allocations[0].ResourceID)

	res, err = Optimize(context.Background(), []Resource{cheap, idle}, zones, []Objective{BalanceWorkload}, Params{MaxMoves: 1})
	require.NoError(t, err)
	assert.Equal(t, "r-idle", res.Allocations[0].ResourceID)

	res, err = Optimize(context.Background(), []Resource{cheap, idle}, zones, []Objective{MinimizeCost, BalanceWorkload},
		Params{MaxMoves: 1, ObjectiveWeights: map[Objective]float64{MinimizeCost: 3, BalanceWorkload: 1}})
	require.NoError(t, err)
	assert.Equal(t, "r-cheap", res.Allocations[0].ResourceID)
}

func TestOptimize_RelocationCostFromDistance(t *testing.T) {
	center := geo.Point{Lat: 40.7, Lon: -74}
	zones := []Zone{
		{ID: "a", Center: center, CurrentCoverage: 0.3, TargetCoverage: 0.6},
		{ID: "b", Center: geo.Offset(center, 20000, 0), CurrentCoverage: 0.99, TargetCoverage: 0.2},
	}
	res, err := Optimize(context.Background(), []Resource{unitIn("r1", "b", 0.3)}, zones, all, Params{})
	require.NoError(t, err)
	require.Len(t, res.Allocations, 1)
	// ~20 km at 40 km/h is half an hour at 50/h.
	assert.InDelta(t, 25, res.Allocations[0].CostDelta, 0.1)
}

func TestOptimize_ExpiredDeadlineIsDegraded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	zones := []Zone{
		{ID: "a", CurrentCoverage: 0.5, TargetCoverage: 0.9},
		{ID: "b", CurrentCoverage: 0.95, TargetCoverage: 0.6},
	}
	res, err := Optimize(ctx, []Resource{unitIn("r1", "b", 0.3)}, zones, all, Params{})
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Empty(t, res.Allocations)
}

func TestOptimize_ConservesResources(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for trial := 0; trial < 50; trial++ {
		var zones []Zone
		for i := 0; i < 2+rng.Intn(6); i++ {
			zones = append(zones, Zone{
				ID:              fmt.Sprintf("z%d", i),
				CurrentCoverage: rng.Float64(),
				TargetCoverage:  rng.Float64(),
				DemandLevel:     rng.Float64() * 3,
			})
		}
		var resources []Resource
		for i := 0; i < rng.Intn(20); i++ {
			resources = append(resources, Resource{
				ID:          fmt.Sprintf("r%02d", i),
				Type:        []string{"car", "foot"}[rng.Intn(2)],
				CurrentZone: zones[rng.Intn(len(zones))].ID,
				Capacity:    0.05 + rng.Float64()*0.5,
				Utilization: rng.Float64(),
				CostPerHour: rng.Float64() * 100,
			})
		}
		res, err := Optimize(context.Background(), resources, zones, Objectives(), Params{})
		require.NoError(t, err)

		assert.Equal(t, res.MetricsBefore.TotalResources, res.MetricsAfter.TotalResources)
		sumBefore, sumAfter := 0, 0
		for _, n := range res.MetricsBefore.ResourcesPerZone {
			sumBefore += n
		}
		for _, n := range res.MetricsAfter.ResourcesPerZone {
			sumAfter += n
		}
		assert.Equal(t, sumBefore, sumAfter)
		assert.Len(t, res.ResourcesAfter, len(resources))

		seen := map[string]bool{}
		for _, a := range res.Allocations {
			assert.False(t, seen[a.ResourceID], "resource %s moved twice", a.ResourceID)
			seen[a.ResourceID] = true
		}
		assert.GreaterOrEqual(t, res.MetricsAfter.WorkloadBalance, 0.0)
		assert.LessOrEqual(t, res.MetricsAfter.WorkloadBalance, 1.0)
	}
}

func TestOptimize_Idempotent(t *testing.T) {
	zones := []Zone{
		{ID: "a", CurrentCoverage: 0.1, TargetCoverage: 0.9, DemandLevel: 2},
		{ID: "b", CurrentCoverage: 0.3, TargetCoverage: 0.7, DemandLevel: 1},
		{ID: "c", CurrentCoverage: 0.99, TargetCoverage: 0.4, DemandLevel: 1},
	}
	resources := []Resource{unitIn("r1", "c", 0.2), unitIn("r2", "c", 0.25), unitIn("r3", "c", 0.3)}
	first, err := Optimize(context.Background(), resources, zones, Objectives(), Params{})
	require.NoError(t, err)
	second, err := Optimize(context.Background(), resources, zones, Objectives(), Params{})
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(first, second))
}

func TestOptimize_Validation(t *testing.T) {
	good := []Zone{{ID: "a", TargetCoverage: 0.5}}
	tests := []struct {
		name       string
		resources  []Resource
		zones      []Zone
		objectives []Objective
		params     Params
		code       errors.ErrorCode
	}{
		{"no objectives", nil, good, nil, Params{}, errors.ErrCodeEmptyObjectives},
		{"unknown objective", nil, good, []Objective{"maximize_fun"}, Params{}, errors.ErrCodeUnknownObjective},
		{"unknown weight", nil, good, all, Params{ObjectiveWeights: map[Objective]float64{"x": 1}}, errors.ErrCodeUnknownObjective},
		{"duplicate zone", nil, []Zone{{ID: "a"}, {ID: "a"}}, all, Params{}, errors.ErrCodeInvalidZone},
		{"coverage range", nil, []Zone{{ID: "a", CurrentCoverage: 1.5}}, all, Params{}, errors.ErrCodeInvalidZone},
		{"unknown zone", []Resource{unitIn("r", "nowhere", 0.2)}, good, all, Params{}, errors.ErrCodeInvalidResource},
		{"capacity range", []Resource{unitIn("r", "a", 1)}, good, all, Params{}, errors.ErrCodeInvalidResource},
		{"duplicate resource", []Resource{unitIn("r", "a", 0.2), unitIn("r", "a", 0.2)}, good, all, Params{}, errors.ErrCodeInvalidResource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Optimize(context.Background(), tt.resources, tt.zones, tt.objectives, tt.params)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tt.code), "got %v", err)
			assert.True(t, errors.IsValidation(err))
		})
	}
}

func TestParseObjectives(t *testing.T) {
	got, err := ParseObjectives([]string{"maximize_coverage", " Minimize_Cost ", "maximize_coverage"})
	require.NoError(t, err)
	assert.Equal(t, []Objective{MaximizeCoverage, MinimizeCost}, got)

	_, err = ParseObjectives(nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeEmptyObjectives))
	_, err = ParseObjectives([]string{"win"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownObjective))
}

func TestCoverageModel(t *testing.T) {
	assert.InDelta(t, 0.65, AddCoverage(0.5, 0.3), 1e-12)
	assert.InDelta(t, 0.5, RemoveCoverage(AddCoverage(0.5, 0.3), 0.3), 1e-12)
	assert.Zero(t, RemoveCoverage(0.2, 0.5))

	m := ComputeMetrics(
		[]Zone{{ID: "a", CurrentCoverage: 0.4, DemandLevel: 3}, {ID: "b", CurrentCoverage: 0.8, DemandLevel: 1}},
		[]Resource{{ID: "r1", CurrentZone: "a", Utilization: 0.5}, {ID: "r2", CurrentZone: "a", Utilization: 0.5}},
	)
	assert.InDelta(t, 0.6, m.AverageCoverage, 1e-12)
	assert.InDelta(t, 0.5, m.ResponseTimeScore, 1e-12)
	assert.InDelta(t, 1.0, m.WorkloadBalance, 1e-12)
	assert.Equal(t, map[string]int{"a": 2, "b": 0}, m.ResourcesPerZone)
}
