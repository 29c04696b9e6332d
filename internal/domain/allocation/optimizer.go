package allocation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/geo"
)

// Status of an optimization.
type Status string

const (
	StatusOptimized  Status = "optimized"
	StatusBalanced   Status = "balanced"
	StatusInfeasible Status = "infeasible"
	StatusDegraded   Status = "degraded"
)

// Params configures Optimize.
type Params struct {
	Tolerance          float64               `json:"tolerance"`
	RelocationSpeedKmh float64               `json:"relocation_speed_kmh"`
	RelocationHours    float64               `json:"relocation_hours"`
	MaxMoves           int                   `json:"max_moves"`
	ObjectiveWeights   map[Objective]float64 `json:"objective_weights,omitempty"`
}

// DefaultParams uses a 0.05 coverage tolerance and one hour relocations.
func DefaultParams() Params {
	return Params{Tolerance: 0.05, RelocationSpeedKmh: 40, RelocationHours: 1}
}

// WithDefaults fills zero fields.
func (p Params) WithDefaults() Params {
	d := DefaultParams()
	if p.Tolerance == 0 {
		p.Tolerance = d.Tolerance
	}
	if p.RelocationSpeedKmh == 0 {
		p.RelocationSpeedKmh = d.RelocationSpeedKmh
	}
	if p.RelocationHours == 0 {
		p.RelocationHours = d.RelocationHours
	}
	return p
}

// Allocation is one resource move.
type Allocation struct {
	ResourceID     string  `json:"resource_id"`
	ResourceType   string  `json:"resource_type"`
	FromZone       string  `json:"from_zone"`
	ToZone         string  `json:"to_zone"`
	Reason         string  `json:"reason"`
	ExpectedImpact float64 `json:"expected_impact"`
	CostDelta      float64 `json:"cost_delta"`
}

// Result is the outcome of Optimize.
type Result struct {
	Objectives     []Objective  `json:"objectives"`
	Allocations    []Allocation `json:"allocations"`
	MetricsBefore  Metrics      `json:"metrics_before"`
	MetricsAfter   Metrics      `json:"metrics_after"`
	Improvement    Improvement  `json:"improvement"`
	CostImpact     float64      `json:"cost_impact"`
	Status         Status       `json:"status"`
	Message        string       `json:"message,omitempty"`
	ZonesAfter     []Zone       `json:"zones_after"`
	ResourcesAfter []Resource   `json:"resources_after"`
}

type move struct {
	res              int
	source           string
	gain, loss       float64
	score, costDelta float64
}

// Optimize repeatedly moves a compatible resource from the most
// over-covered zone into the zone with the largest coverage gap until every
// gap is within tolerance or no feasible move remains.  Sinks and sources
// are taken in gap order with ties by zone id; among feasible resources the
// scalarized objective score decides, ties by resource id.  Each resource
// moves at most once.  An expired ctx stops the loop and returns the moves
// made so far with status degraded.
func Optimize(ctx context.Context, resources []Resource, zones []Zone, objectives []Objective, p Params) (*Result, error) {
	p = p.WithDefaults()
	weights, err := objectiveWeights(objectives, p.ObjectiveWeights)
	if err != nil {
		return nil, err
	}
	if p.Tolerance < 0 || p.RelocationSpeedKmh <= 0 || p.RelocationHours < 0 || p.MaxMoves < 0 {
		return nil, errors.New(errors.ErrCodeBadRequest, "allocation tolerance, speed and limits must be non-negative")
	}
	if err := validateInputs(resources, zones); err != nil {
		return nil, err
	}

	res := append([]Resource(nil), resources...)
	for i := range res {
		if res[i].Status == "" {
			res[i].Status = ResourceAvailable
		}
	}
	byZone := make(map[string]*Zone, len(zones))
	for _, z := range zones {
		z := z
		z.AcceptedTypes = append([]string(nil), z.AcceptedTypes...)
		byZone[z.ID] = &z
	}
	zoneIDs := sortedZoneIDs(byZone)

	result := &Result{
		Objectives:    append([]Objective(nil), objectives...),
		Allocations:   []Allocation{},
		MetricsBefore: ComputeMetrics(zones, resources),
	}

	maxMoves := p.MaxMoves
	if maxMoves == 0 {
		maxMoves = len(res)
	}
	maxCost, maxDemand := 0.0, 0.0
	for _, r := range res {
		maxCost = math.Max(maxCost, r.CostPerHour)
	}
	for _, z := range zones {
		maxDemand = math.Max(maxDemand, z.DemandLevel)
	}

	moved := make([]bool, len(res))
	degraded := false
	for len(result.Allocations) < maxMoves {
		if ctx.Err() != nil {
			degraded = true
			break
		}
		sink, m, ok := nextMove(byZone, zoneIDs, res, moved, weights, p, maxCost, maxDemand)
		if !ok {
			break
		}
		r := &res[m.res]
		src := byZone[m.source]
		dst := byZone[sink]
		result.Allocations = append(result.Allocations, Allocation{
			ResourceID:     r.ID,
			ResourceType:   r.Type,
			FromZone:       src.ID,
			ToZone:         dst.ID,
			Reason:         fmt.Sprintf("zone %s coverage %.2f below target %.2f; zone %s above target at %.2f", dst.ID, dst.CurrentCoverage, dst.TargetCoverage, src.ID, src.CurrentCoverage),
			ExpectedImpact: m.gain - m.loss,
			CostDelta:      m.costDelta,
		})
		result.CostImpact += m.costDelta
		src.CurrentCoverage = RemoveCoverage(src.CurrentCoverage, r.Capacity)
		dst.CurrentCoverage = AddCoverage(dst.CurrentCoverage, r.Capacity)
		r.CurrentZone = dst.ID
		r.Status = ResourceAssigned
		moved[m.res] = true
	}

	result.ZonesAfter = make([]Zone, len(zones))
	for i, z := range zones {
		result.ZonesAfter[i] = *byZone[z.ID]
	}
	result.ResourcesAfter = res
	result.MetricsAfter = ComputeMetrics(result.ZonesAfter, res)
	result.Improvement = Improvement{
		AverageCoverage:   result.MetricsAfter.AverageCoverage - result.MetricsBefore.AverageCoverage,
		ResponseTimeScore: result.MetricsAfter.ResponseTimeScore - result.MetricsBefore.ResponseTimeScore,
		WorkloadBalance:   result.MetricsAfter.WorkloadBalance - result.MetricsBefore.WorkloadBalance,
	}

	short := underCovered(byZone, zoneIDs, p.Tolerance)
	switch {
	case degraded:
		result.Status = StatusDegraded
		result.Message = "deadline expired; allocations are partial"
	case len(result.Allocations) > 0:
		result.Status = StatusOptimized
		if len(short) > 0 {
			result.Message = "gaps remain in " + strings.Join(short, ", ")
		}
	case len(short) == 0:
		result.Status = StatusBalanced
		result.Message = "all zones within tolerance of target coverage"
	default:
		result.Status = StatusInfeasible
		result.Message = infeasibleReason(byZone, short, res)
	}
	return result, nil
}

// nextMove finds the first sink, in descending gap order, that can receive a
// resource from some over-covered source.
func nextMove(byZone map[string]*Zone, zoneIDs []string, res []Resource, moved []bool,
	weights map[Objective]float64, p Params, maxCost, maxDemand float64) (string, move, bool) {

	sinks := underCovered(byZone, zoneIDs, p.Tolerance)
	sort.SliceStable(sinks, func(i, j int) bool { return byZone[sinks[i]].Gap() > byZone[sinks[j]].Gap() })

	var sources []string
	for _, id := range zoneIDs {
		if byZone[id].Gap() < 0 {
			sources = append(sources, id)
		}
	}
	sort.SliceStable(sources, func(i, j int) bool { return byZone[sources[i]].Gap() < byZone[sources[j]].Gap() })

	for _, sinkID := range sinks {
		sink := byZone[sinkID]
		for _, srcID := range sources {
			if srcID == sinkID {
				continue
			}
			src := byZone[srcID]
			best := move{res: -1}
			for i, r := range res {
				if moved[i] || r.CurrentZone != srcID || !r.Movable() || !sink.Accepts(r.Type) {
					continue
				}
				after := RemoveCoverage(src.CurrentCoverage, r.Capacity)
				if after < src.TargetCoverage-p.Tolerance {
					continue
				}
				m := move{
					res:    i,
					source: srcID,
					gain:   AddCoverage(sink.CurrentCoverage, r.Capacity) - sink.CurrentCoverage,
					loss:   src.CurrentCoverage - after,
				}
				m.costDelta = r.CostPerHour * relocationHours(src.Center, sink.Center, p)
				m.score = scalarize(weights, m, r, sink, src, maxCost, maxDemand)
				if best.res < 0 || m.score > best.score || (m.score == best.score && r.ID < res[best.res].ID) {
					best = m
				}
			}
			if best.res >= 0 {
				return sinkID, best, true
			}
		}
	}
	return "", move{}, false
}

// scalarize combines per-objective scores, each in roughly [0,1].
func scalarize(weights map[Objective]float64, m move, r Resource, sink, src *Zone, maxCost, maxDemand float64) float64 {
	total, sum := 0.0, 0.0
	for _, o := range Objectives() {
		w, ok := weights[o]
		if !ok {
			continue
		}
		var s float64
		switch o {
		case MaximizeCoverage:
			s = m.gain - m.loss
		case MinimizeResponseTime:
			if maxDemand > 0 {
				s = (sink.DemandLevel*m.gain - src.DemandLevel*m.loss) / maxDemand
			}
		case BalanceWorkload:
			s = 1 - r.Utilization
		case MinimizeCost:
			if maxCost > 0 {
				s = 1 - r.CostPerHour/maxCost
			} else {
				s = 1
			}
		}
		total += w * s
		sum += w
	}
	if sum == 0 {
		return 0
	}
	return total / sum
}

func relocationHours(from, to geo.Point, p Params) float64 {
	if from.IsZero() || to.IsZero() {
		return p.RelocationHours
	}
	return geo.DistanceMeters(from, to) / 1000 / p.RelocationSpeedKmh
}

func objectiveWeights(objectives []Objective, explicit map[Objective]float64) (map[Objective]float64, error) {
	if len(objectives) == 0 {
		return nil, errors.New(errors.ErrCodeEmptyObjectives, "at least one objective is required")
	}
	for o, w := range explicit {
		if !o.Valid() {
			return nil, errors.Newf(errors.ErrCodeUnknownObjective, "unknown objective %q in weights", o)
		}
		if w < 0 || math.IsNaN(w) {
			return nil, errors.Newf(errors.ErrCodeBadRequest, "objective weight for %s must be non-negative", o)
		}
	}
	out := make(map[Objective]float64, len(objectives))
	for _, o := range objectives {
		if !o.Valid() {
			return nil, errors.Newf(errors.ErrCodeUnknownObjective, "unknown objective %q", o)
		}
		w := 1.0
		if len(explicit) > 0 {
			w = explicit[o]
		}
		out[o] = w
	}
	return out, nil
}

func underCovered(byZone map[string]*Zone, zoneIDs []string, tol float64) []string {
	var out []string
	for _, id := range zoneIDs {
		if byZone[id].Gap() > tol {
			out = append(out, id)
		}
	}
	return out
}

func infeasibleReason(byZone map[string]*Zone, short []string, res []Resource) string {
	for _, id := range short {
		for _, r := range res {
			if r.CurrentZone != id && r.Movable() && byZone[id].Accepts(r.Type) {
				return "no move can close the gaps in " + strings.Join(short, ", ") + " without uncovering a source zone"
			}
		}
	}
	return "no compatible available resource for " + strings.Join(short, ", ")
}
