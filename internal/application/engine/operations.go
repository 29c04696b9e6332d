package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/allocation"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/forecast"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/hotspot"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/incident"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/patrol"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/risk"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/spatial"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/geo"
)

// ─────────────────────────────────────────────────────────────────────────────
// Spatial
// ─────────────────────────────────────────────────────────────────────────────

// Bin aggregates incidents into H3 cells.
func (s *service) Bin(ctx context.Context, req *BinRequest) (*BinResponse, error) {
	if req == nil {
		req = &BinRequest{}
	}
	opts := callOptions{snapshotBacked: len(req.Incidents) == 0}
	return run(ctx, s, OpBin, req, opts, func(ctx context.Context, c *call) (*BinResponse, error) {
		incs, err := c.incidentsUnchecked(req.Incidents)
		if err != nil {
			return nil, err
		}
		res, err := resolutionFor(req.Resolution, c.rc)
		if err != nil {
			return nil, err
		}
		bucket, err := spatial.BucketByName(req.Bucket)
		if err != nil {
			return nil, err
		}
		out, err := spatial.Bin(incs, res, spatial.BinOptions{Bucket: bucket, Jurisdictions: c.jurisdictions()})
		if err != nil {
			return nil, err
		}
		return &BinResponse{Result: out}, nil
	})
}

// incidentsUnchecked is incidents without validation; spatial.Bin reports
// invalid rows itself.
func (c *call) incidentsUnchecked(own []incident.Incident) ([]incident.Incident, error) {
	if len(own) > 0 {
		return own, nil
	}
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	return snap.Incidents, nil
}

func resolutionFor(requested int, rc RunConfig) (spatial.Resolution, error) {
	if requested == 0 {
		return rc.Resolution, nil
	}
	r := spatial.Resolution(requested)
	if !r.Valid() {
		return 0, errors.Newf(errors.ErrCodeInvalidResolution, "unsupported resolution %d", requested)
	}
	return r, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Risk
// ─────────────────────────────────────────────────────────────────────────────

// ScoreRisk scores cells or snapshot zones.
func (s *service) ScoreRisk(ctx context.Context, req *RiskRequest) (*RiskResponse, error) {
	if req == nil {
		req = &RiskRequest{}
	}
	opts := callOptions{snapshotBacked: len(req.Incidents) == 0, asOf: req.AsOf}
	return run(ctx, s, OpScoreRisk, req, opts, func(ctx context.Context, c *call) (*RiskResponse, error) {
		incs, err := c.incidents(req.Incidents)
		if err != nil {
			return nil, err
		}
		scores, hs, locate, err := scoreAreas(c, req.Scope, req.Resolution, incs)
		if err != nil {
			return nil, err
		}
		if c.rc.BiasDetection {
			if note := biasNote(incs, c.rc.BiasShareThreshold); note != "" {
				c.note(note)
			}
		}
		c.emit(c.src.ZoneRiskUpdates(scores, c.at)...)
		c.emit(c.src.TacticalAlerts(scores, locate, c.rc.AlertLevel, c.at)...)
		return &RiskResponse{Scores: scores, Hotspots: hs}, nil
	})
}

// scoreAreas detects recent hotspots for the proximity term and scores the
// requested scope.  locate resolves a score's target to a point.
func scoreAreas(c *call, scope string, resolution int, incs []incident.Incident) ([]risk.Score, []hotspot.Hotspot, func(string) (geo.Point, bool), error) {
	window := hotspot.TimeWindow{Start: c.asOf.Add(-c.rc.Forecast.RecentWindow)}
	hs, err := hotspot.Detect(incs, window, c.rc.Hotspot)
	if err != nil {
		return nil, nil, nil, err
	}

	var (
		areas  []risk.Area
		locate func(string) (geo.Point, bool)
	)
	switch scope {
	case "", ScopeCells:
		res, err := resolutionFor(resolution, c.rc)
		if err != nil {
			return nil, nil, nil, err
		}
		if areas, err = risk.AreasFromCells(incs, res); err != nil {
			return nil, nil, nil, err
		}
		locate = func(id string) (geo.Point, bool) {
			p, err := spatial.CellCenter(spatial.CellID(id))
			return p, err == nil
		}
	case ScopeZones:
		snap, err := c.snapshot()
		if err != nil {
			return nil, nil, nil, err
		}
		areas = risk.AreasFromSites(snap.Sites(c.rc.ZoneRadiusMeters), incs)
		locate = snap.Locate
	default:
		return nil, nil, nil, errors.Newf(errors.ErrCodeValidation, "unknown scope %q; expected cells or zones", scope)
	}

	scores, err := risk.ScoreAreas(areas, hotspot.Circles(hs), c.rc.Risk, c.asOf)
	if err != nil {
		return nil, nil, nil, err
	}
	risk.Stamp(scores, c.at)
	return scores, hs, locate, nil
}

// biasNote flags a scope dominated by one jurisdiction.
func biasNote(incs []incident.Incident, threshold float64) string {
	shares := incident.Shares(incs)
	ids := make([]string, 0, len(shares))
	for j := range shares {
		ids = append(ids, j)
	}
	sort.Strings(ids)
	for _, j := range ids {
		if shares[j] > threshold {
			return fmt.Sprintf("jurisdiction %s contributes %.0f%% of incidents in scope (threshold %.0f%%); scores may reflect reporting bias",
				j, shares[j]*100, threshold*100)
		}
	}
	return ""
}

// ScoreEntities scores the offenders and vehicles referenced by incidents.
func (s *service) ScoreEntities(ctx context.Context, req *EntityRequest) (*EntityResponse, error) {
	if req == nil {
		req = &EntityRequest{}
	}
	opts := callOptions{snapshotBacked: len(req.Incidents) == 0, asOf: req.AsOf}
	return run(ctx, s, OpScoreEntities, req, opts, func(ctx context.Context, c *call) (*EntityResponse, error) {
		incs, err := c.incidents(req.Incidents)
		if err != nil {
			return nil, err
		}
		aff := req.Affiliations
		if aff == nil && c.snap != nil {
			aff = c.snap.Affiliations
		}
		scores, err := risk.ScoreEntities(risk.BuildEntityProfiles(incs, aff), c.rc.Entity, c.asOf)
		if err != nil {
			return nil, err
		}
		risk.Stamp(scores, c.at)
		c.emit(c.src.TacticalAlerts(scores, nil, c.rc.AlertLevel, c.at)...)
		return &EntityResponse{Scores: scores}, nil
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Hotspots
// ─────────────────────────────────────────────────────────────────────────────

// DetectHotspots clusters incidents within the request window.
func (s *service) DetectHotspots(ctx context.Context, req *HotspotRequest) (*HotspotResponse, error) {
	if req == nil {
		req = &HotspotRequest{}
	}
	opts := callOptions{snapshotBacked: len(req.Incidents) == 0}
	return run(ctx, s, OpDetectHotspots, req, opts, func(ctx context.Context, c *call) (*HotspotResponse, error) {
		incs, err := c.incidents(req.Incidents)
		if err != nil {
			return nil, err
		}
		hs, err := hotspot.Detect(incs, req.Window, c.rc.Hotspot)
		if err != nil {
			return nil, err
		}
		c.emit(c.src.NewHotspots(hs, c.at)...)
		return &HotspotResponse{Hotspots: hs}, nil
	})
}

// TrackEvolution links hotspots across periods.  Periods are detected from
// incidents unless the request carries a precomputed series.
func (s *service) TrackEvolution(ctx context.Context, req *EvolutionRequest) (*EvolutionResponse, error) {
	if req == nil {
		req = &EvolutionRequest{}
	}
	opts := callOptions{snapshotBacked: len(req.Series) == 0 && len(req.Incidents) == 0}
	return run(ctx, s, OpTrackEvolution, req, opts, func(ctx context.Context, c *call) (*EvolutionResponse, error) {
		series := req.Series
		if len(series) == 0 {
			if len(req.Periods) == 0 {
				return nil, errors.New(errors.ErrCodeInvalidSeries, "either series or periods is required")
			}
			incs, err := c.incidents(req.Incidents)
			if err != nil {
				return nil, err
			}
			series = make([]hotspot.PeriodHotspots, len(req.Periods))
			for i, p := range req.Periods {
				if err := ctx.Err(); err != nil {
					return nil, errors.Wrap(err, errors.ErrCodeTimeout, "evolution tracking interrupted")
				}
				hs, err := hotspot.Detect(incs, hotspot.TimeWindow{Start: p.Start, End: p.End}, c.rc.Hotspot)
				if err != nil {
					return nil, err
				}
				series[i] = hotspot.PeriodHotspots{Period: p.Label, Start: p.Start, End: p.End, Hotspots: hs}
			}
		}
		recs, err := hotspot.Track(series, c.rc.Evolution)
		if err != nil {
			return nil, err
		}
		return &EvolutionResponse{Records: recs}, nil
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Forecast
// ─────────────────────────────────────────────────────────────────────────────

// Forecast runs the three forecast models.  With a snapshot loaded and no
// explicit zone states, each zone's weekly counts feed the Markov model.
func (s *service) Forecast(ctx context.Context, req *ForecastRequest) (*ForecastResponse, error) {
	if req == nil {
		req = &ForecastRequest{}
	}
	opts := callOptions{snapshotBacked: len(req.Incidents) == 0 && len(req.Counts) == 0, asOf: req.AsOf}
	return run(ctx, s, OpForecast, req, opts, func(ctx context.Context, c *call) (*ForecastResponse, error) {
		var incs []incident.Incident
		if len(req.Incidents) > 0 || len(req.Counts) == 0 {
			var err error
			if incs, err = c.incidents(req.Incidents); err != nil {
				return nil, err
			}
		}
		p := c.rc.Forecast
		if req.Horizon != 0 {
			p.Horizon = req.Horizon
		}
		h := forecast.History{Incidents: incs, Counts: req.Counts, ZoneStates: req.ZoneStates}
		if len(h.ZoneStates) == 0 && c.snap != nil && len(c.snap.Zones) > 0 {
			h.ZoneStates = zoneStates(risk.AreasFromSites(c.snap.Sites(c.rc.ZoneRadiusMeters), incs), c.asOf, p.PeriodLength)
		}

		w, err := forecast.Run(ctx, h, p, c.asOf)
		if err != nil {
			return nil, err
		}
		switch w.Status {
		case forecast.StatusDegraded:
			c.degraded = "deadline"
		case forecast.StatusInsufficientData:
			c.degraded = "insufficient_data"
		}
		c.emit(c.src.PredictedClusters(w, c.at)...)
		return &ForecastResponse{Window: w}, nil
	})
}

func zoneStates(areas []risk.Area, asOf time.Time, period time.Duration) map[string][]forecast.State {
	out := make(map[string][]forecast.State, len(areas))
	for _, a := range areas {
		if counts := forecast.PeriodCounts(a.Incidents, asOf, period); len(counts) > 0 {
			out[a.ID] = forecast.StatesFromCounts(counts)
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Patrol & allocation
// ─────────────────────────────────────────────────────────────────────────────

// OptimizePatrol builds a route.  Without explicit candidates the snapshot
// zones are scored and their centres become candidates.
func (s *service) OptimizePatrol(ctx context.Context, req *PatrolRequest) (*PatrolResponse, error) {
	if req == nil {
		req = &PatrolRequest{}
	}
	opts := callOptions{snapshotBacked: len(req.Candidates) == 0, asOf: req.AsOf}
	return run(ctx, s, OpOptimizePatrol, req, opts, func(ctx context.Context, c *call) (*PatrolResponse, error) {
		cands := req.Candidates
		if len(cands) == 0 {
			snap, err := c.snapshot()
			if err != nil {
				return nil, err
			}
			scores, _, locate, err := scoreAreas(c, ScopeZones, 0, snap.Incidents)
			if err != nil {
				return nil, err
			}
			for _, sc := range scores {
				if sc.InsufficientData {
					continue
				}
				loc, _ := locate(sc.TargetID)
				cands = append(cands, patrol.FromScore(sc, loc))
			}
		}

		p := c.rc.Patrol
		if req.MaxDistanceMeters != 0 {
			p.MaxDistanceMeters = req.MaxDistanceMeters
		}
		if req.WaypointCount != 0 {
			p.WaypointCount = req.WaypointCount
		}
		route, err := patrol.Optimize(req.Start, cands, p)
		if err != nil {
			return nil, err
		}
		c.emit(c.src.PatrolRoute(req.UnitID, route, c.at)...)
		return &PatrolResponse{Route: route}, nil
	})
}

// AllocateResources redistributes resources across zones.
func (s *service) AllocateResources(ctx context.Context, req *AllocationRequest) (*AllocationResponse, error) {
	if req == nil {
		req = &AllocationRequest{}
	}
	opts := callOptions{snapshotBacked: len(req.Zones) == 0 && len(req.Resources) == 0}
	return run(ctx, s, OpAllocate, req, opts, func(ctx context.Context, c *call) (*AllocationResponse, error) {
		objectives, err := allocation.ParseObjectives(req.Objectives)
		if err != nil {
			return nil, err
		}
		zones, resources := req.Zones, req.Resources
		if len(zones) == 0 && len(resources) == 0 {
			snap, err := c.snapshot()
			if err != nil {
				return nil, err
			}
			zones, resources = snap.Zones, snap.Resources
		}
		res, err := allocation.Optimize(ctx, resources, zones, objectives, c.rc.Allocation)
		if err != nil {
			return nil, err
		}
		if res.Status == allocation.StatusDegraded {
			c.degraded = "deadline"
		}
		return &AllocationResponse{Result: res}, nil
	})
}

// SnapshotInfo reports the snapshot new calls would read.
func (s *service) SnapshotInfo(ctx context.Context) (*SnapshotInfoResponse, error) {
	snap, err := s.deps.Store.Load()
	if err != nil {
		return nil, err
	}
	return &SnapshotInfoResponse{
		Engine:        s.name,
		ConfigVersion: s.RunConfig().Version,
		Snapshot:      snap.Info(),
	}, nil
}
