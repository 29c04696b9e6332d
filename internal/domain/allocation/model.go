// Package allocation redistributes mobile resources across coverage zones.
package allocation

import (
	"math"
	"sort"
	"strings"

	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/geo"
)

// Objective is one optimization goal.
type Objective string

const (
	MaximizeCoverage     Objective = "maximize_coverage"
	MinimizeResponseTime Objective = "minimize_response_time"
	BalanceWorkload      Objective = "balance_workload"
	MinimizeCost         Objective = "minimize_cost"
)

// Objectives lists every supported objective.
func Objectives() []Objective {
	return []Objective{MaximizeCoverage, MinimizeResponseTime, BalanceWorkload, MinimizeCost}
}

// ParseObjectives validates and de-duplicates names, preserving order.
func ParseObjectives(names []string) ([]Objective, error) {
	if len(names) == 0 {
		return nil, errors.New(errors.ErrCodeEmptyObjectives, "at least one objective is required")
	}
	seen := make(map[Objective]bool, len(names))
	out := make([]Objective, 0, len(names))
	for _, n := range names {
		o := Objective(strings.ToLower(strings.TrimSpace(n)))
		if !o.Valid() {
			return nil, errors.Newf(errors.ErrCodeUnknownObjective, "unknown objective %q", n)
		}
		if !seen[o] {
			seen[o] = true
			out = append(out, o)
		}
	}
	return out, nil
}

// Valid reports whether o is a supported objective.
func (o Objective) Valid() bool {
	for _, x := range Objectives() {
		if o == x {
			return true
		}
	}
	return false
}

// ResourceStatus is the duty state of a resource.
type ResourceStatus string

const (
	ResourceAvailable    ResourceStatus = "available"
	ResourceAssigned     ResourceStatus = "assigned"
	ResourceOutOfService ResourceStatus = "out_of_service"
)

// Zone is a coverage region.
type Zone struct {
	ID              string    `json:"id"`
	Name            string    `json:"name,omitempty"`
	Center          geo.Point `json:"center"`
	CurrentCoverage float64   `json:"current_coverage"`
	TargetCoverage  float64   `json:"target_coverage"`
	DemandLevel     float64   `json:"demand_level"`
	Population      int       `json:"population"`
	Status          string    `json:"status,omitempty"`
	AcceptedTypes   []string  `json:"accepted_types,omitempty"`
}

// Gap is target minus current coverage.
func (z Zone) Gap() float64 { return z.TargetCoverage - z.CurrentCoverage }

// Accepts reports whether resources of type t may serve z.  An empty list
// accepts every type.
func (z Zone) Accepts(t string) bool {
	if len(z.AcceptedTypes) == 0 {
		return true
	}
	for _, a := range z.AcceptedTypes {
		if a == t {
			return true
		}
	}
	return false
}

// Resource is a mobile unit.  Capacity is the coverage fraction the unit
// adds to a zone.
type Resource struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	CurrentZone string         `json:"current_zone"`
	Capacity    float64        `json:"capacity"`
	Utilization float64        `json:"utilization"`
	CostPerHour float64        `json:"cost_per_hour"`
	Status      ResourceStatus `json:"status,omitempty"`
}

// Movable reports whether the resource may be reassigned.
func (r Resource) Movable() bool {
	return r.Status == "" || r.Status == ResourceAvailable
}

// AddCoverage is the coverage after adding one unit of capacity c.
func AddCoverage(cov, c float64) float64 {
	return 1 - (1-cov)*(1-c)
}

// RemoveCoverage inverts AddCoverage.
func RemoveCoverage(cov, c float64) float64 {
	if c >= 1 {
		return 0
	}
	return math.Max(0, 1-(1-cov)/(1-c))
}

// Metrics summarizes a zone/resource configuration.
type Metrics struct {
	AverageCoverage   float64        `json:"average_coverage"`
	ResponseTimeScore float64        `json:"response_time_score"`
	WorkloadBalance   float64        `json:"workload_balance"`
	TotalResources    int            `json:"total_resources"`
	ResourcesPerZone  map[string]int `json:"resources_per_zone"`
}

// Improvement is metrics_after minus metrics_before.
type Improvement struct {
	AverageCoverage   float64 `json:"average_coverage"`
	ResponseTimeScore float64 `json:"response_time_score"`
	WorkloadBalance   float64 `json:"workload_balance"`
}

// ComputeMetrics derives Metrics.  Response time score is demand-weighted
// coverage; workload balance is 1 - coefficient of variation of the
// utilization of in-service resources.
func ComputeMetrics(zones []Zone, resources []Resource) Metrics {
	m := Metrics{ResourcesPerZone: make(map[string]int, len(zones))}
	var cov, weighted, demand float64
	for _, z := range zones {
		cov += z.CurrentCoverage
		weighted += z.DemandLevel * z.CurrentCoverage
		demand += z.DemandLevel
		m.ResourcesPerZone[z.ID] = 0
	}
	if len(zones) > 0 {
		m.AverageCoverage = cov / float64(len(zones))
	}
	m.ResponseTimeScore = m.AverageCoverage
	if demand > 0 {
		m.ResponseTimeScore = weighted / demand
	}

	var utils []float64
	for _, r := range resources {
		m.ResourcesPerZone[r.CurrentZone]++
		m.TotalResources++
		if r.Status != ResourceOutOfService {
			utils = append(utils, r.Utilization)
		}
	}
	m.WorkloadBalance = 1 - coefficientOfVariation(utils)
	m.WorkloadBalance = math.Max(0, math.Min(1, m.WorkloadBalance))
	return m
}

func coefficientOfVariation(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	if mean == 0 {
		return 0
	}
	v := 0.0
	for _, x := range xs {
		v += (x - mean) * (x - mean)
	}
	return math.Sqrt(v/float64(len(xs))) / mean
}

// Validate checks the zone in isolation.
func (z Zone) Validate() error {
	if z.ID == "" {
		return errors.New(errors.ErrCodeInvalidZone, "zone id is required")
	}
	if !unit(z.CurrentCoverage) || !unit(z.TargetCoverage) {
		return errors.Newf(errors.ErrCodeInvalidZone, "zone %q coverage must be in [0,1]", z.ID)
	}
	if z.DemandLevel < 0 || math.IsNaN(z.DemandLevel) || z.Population < 0 {
		return errors.Newf(errors.ErrCodeInvalidZone, "zone %q demand and population must be non-negative", z.ID)
	}
	if !z.Center.Valid() {
		return errors.Newf(errors.ErrCodeInvalidZone, "zone %q has invalid center", z.ID)
	}
	return nil
}

// Validate checks the resource in isolation; zone membership is checked by
// the caller.
func (r Resource) Validate() error {
	if r.ID == "" {
		return errors.New(errors.ErrCodeInvalidResource, "resource id is required")
	}
	if r.Capacity <= 0 || r.Capacity >= 1 || math.IsNaN(r.Capacity) {
		return errors.Newf(errors.ErrCodeInvalidResource, "resource %q capacity must be in (0,1)", r.ID)
	}
	if !unit(r.Utilization) {
		return errors.Newf(errors.ErrCodeInvalidResource, "resource %q utilization must be in [0,1]", r.ID)
	}
	if r.CostPerHour < 0 || math.IsNaN(r.CostPerHour) {
		return errors.Newf(errors.ErrCodeInvalidResource, "resource %q cost must be non-negative", r.ID)
	}
	switch r.Status {
	case "", ResourceAvailable, ResourceAssigned, ResourceOutOfService:
	default:
		return errors.Newf(errors.ErrCodeInvalidResource, "resource %q has unknown status %q", r.ID, r.Status)
	}
	return nil
}

func validateInputs(resources []Resource, zones []Zone) error {
	zoneIDs := make(map[string]bool, len(zones))
	for _, z := range zones {
		if err := z.Validate(); err != nil {
			return err
		}
		if zoneIDs[z.ID] {
			return errors.Newf(errors.ErrCodeInvalidZone, "duplicate zone %q", z.ID)
		}
		zoneIDs[z.ID] = true
	}

	resIDs := make(map[string]bool, len(resources))
	for _, r := range resources {
		if err := r.Validate(); err != nil {
			return err
		}
		if resIDs[r.ID] {
			return errors.Newf(errors.ErrCodeInvalidResource, "duplicate resource %q", r.ID)
		}
		resIDs[r.ID] = true
		if !zoneIDs[r.CurrentZone] {
			return errors.Newf(errors.ErrCodeInvalidResource, "resource %q is in unknown zone %q", r.ID, r.CurrentZone)
		}
	}
	return nil
}

func unit(v float64) bool { return v >= 0 && v <= 1 && !math.IsNaN(v) }

func sortedZoneIDs(zones map[string]*Zone) []string {
	ids := make([]string, 0, len(zones))
	for id := range zones {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
