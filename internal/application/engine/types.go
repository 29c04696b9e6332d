package engine

import (
	"time"

	"github.com/turtacn/CrimeSight-Intelligence/internal/application/snapshot"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/allocation"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/forecast"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/hotspot"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/incident"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/patrol"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/risk"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/spatial"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/geo"
)

// Operation names, used in cache keys, metrics and logs.
const (
	OpBin            = "bin"
	OpScoreRisk      = "score_risk"
	OpScoreEntities  = "score_entities"
	OpDetectHotspots = "detect_hotspots"
	OpTrackEvolution = "track_evolution"
	OpForecast       = "forecast"
	OpOptimizePatrol = "optimize_patrol"
	OpAllocate       = "allocate_resources"
)

// Scope values for RiskRequest.
const (
	ScopeCells = "cells"
	ScopeZones = "zones"
)

// Meta describes how a response was produced.
type Meta struct {
	RequestID       string    `json:"request_id"`
	Engine          string    `json:"engine"`
	ConfigVersion   string    `json:"config_version"`
	SnapshotVersion uint64    `json:"snapshot_version"`
	AsOf            time.Time `json:"as_of"`
	Cached          bool      `json:"cached"`
	Notes           []string  `json:"notes,omitempty"`
}

// Every request may carry its own incidents.  When it does not, the engine
// reads them from the current snapshot.

// BinRequest asks for a spatial aggregation.
type BinRequest struct {
	Incidents  []incident.Incident `json:"incidents,omitempty"`
	Resolution int                 `json:"resolution,omitempty"`
	Bucket     string              `json:"bucket,omitempty"`
}

// BinResponse wraps spatial.BinResult.
type BinResponse struct {
	Meta   Meta               `json:"meta"`
	Result *spatial.BinResult `json:"result"`
}

// RiskRequest asks for area scores.  Scope is cells (default) or zones;
// zones come from the snapshot.
type RiskRequest struct {
	Incidents  []incident.Incident `json:"incidents,omitempty"`
	Scope      string              `json:"scope,omitempty"`
	Resolution int                 `json:"resolution,omitempty"`
	AsOf       time.Time           `json:"as_of,omitempty"`
}

// RiskResponse carries the scores and the hotspots used for the proximity
// term.
type RiskResponse struct {
	Meta     Meta              `json:"meta"`
	Scores   []risk.Score      `json:"scores"`
	Hotspots []hotspot.Hotspot `json:"hotspots"`
}

// EntityRequest asks for offender and vehicle scores.
type EntityRequest struct {
	Incidents    []incident.Incident `json:"incidents,omitempty"`
	Affiliations map[string][]string `json:"affiliations,omitempty"`
	AsOf         time.Time           `json:"as_of,omitempty"`
}

// EntityResponse carries entity scores, sorted by kind then id.
type EntityResponse struct {
	Meta   Meta         `json:"meta"`
	Scores []risk.Score `json:"scores"`
}

// HotspotRequest asks for cluster detection within Window.
type HotspotRequest struct {
	Incidents []incident.Incident `json:"incidents,omitempty"`
	Window    hotspot.TimeWindow  `json:"window"`
}

// HotspotResponse lists detected hotspots.
type HotspotResponse struct {
	Meta     Meta              `json:"meta"`
	Hotspots []hotspot.Hotspot `json:"hotspots"`
}

// PeriodSpec names one period to detect hotspots in.
type PeriodSpec struct {
	Label string    `json:"label"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// EvolutionRequest supplies either precomputed Series or Periods to detect
// from incidents.
type EvolutionRequest struct {
	Series    []hotspot.PeriodHotspots `json:"series,omitempty"`
	Periods   []PeriodSpec             `json:"periods,omitempty"`
	Incidents []incident.Incident      `json:"incidents,omitempty"`
}

// EvolutionResponse lists the tracked identities.
type EvolutionResponse struct {
	Meta    Meta                      `json:"meta"`
	Records []hotspot.EvolutionRecord `json:"records"`
}

// ForecastRequest asks for a forecast window.  Counts and ZoneStates
// override what the engine would derive from incidents.
type ForecastRequest struct {
	Incidents  []incident.Incident         `json:"incidents,omitempty"`
	Counts     []float64                   `json:"counts,omitempty"`
	ZoneStates map[string][]forecast.State `json:"zone_states,omitempty"`
	Horizon    int                         `json:"horizon,omitempty"`
	AsOf       time.Time                   `json:"as_of,omitempty"`
}

// ForecastResponse wraps forecast.Window.
type ForecastResponse struct {
	Meta   Meta             `json:"meta"`
	Window *forecast.Window `json:"window"`
}

// PatrolRequest asks for a route from Start.  Without Candidates the
// engine scores snapshot zones and visits their centres.
type PatrolRequest struct {
	UnitID            string             `json:"unit_id,omitempty"`
	Start             geo.Point          `json:"start"`
	Candidates        []patrol.Candidate `json:"candidates,omitempty"`
	MaxDistanceMeters float64            `json:"max_distance_m,omitempty"`
	WaypointCount     int                `json:"waypoint_count,omitempty"`
	AsOf              time.Time          `json:"as_of,omitempty"`
}

// PatrolResponse wraps patrol.Route.
type PatrolResponse struct {
	Meta  Meta          `json:"meta"`
	Route *patrol.Route `json:"route"`
}

// AllocationRequest asks for a redistribution.  Zones and Resources default
// to the snapshot.
type AllocationRequest struct {
	Objectives []string              `json:"objectives"`
	Zones      []allocation.Zone     `json:"zones,omitempty"`
	Resources  []allocation.Resource `json:"resources,omitempty"`
}

// AllocationResponse wraps allocation.Result.
type AllocationResponse struct {
	Meta   Meta               `json:"meta"`
	Result *allocation.Result `json:"result"`
}

// SnapshotInfoResponse reports the snapshot an engine reads.
type SnapshotInfoResponse struct {
	Engine        string        `json:"engine"`
	ConfigVersion string        `json:"config_version"`
	Snapshot      snapshot.Info `json:"snapshot"`
}
