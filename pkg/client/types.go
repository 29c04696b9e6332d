package client

import (
	"github.com/turtacn/CrimeSight-Intelligence/internal/application/engine"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/hotspot"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/incident"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/geo"
)

// Wire types shared with the server.  They are aliased so callers outside
// this module can build requests.
type (
	Incident   = incident.Incident
	Point      = geo.Point
	TimeWindow = hotspot.TimeWindow

	BinRequest         = engine.BinRequest
	BinResponse        = engine.BinResponse
	RiskRequest        = engine.RiskRequest
	RiskResponse       = engine.RiskResponse
	EntityRequest      = engine.EntityRequest
	EntityResponse     = engine.EntityResponse
	HotspotRequest     = engine.HotspotRequest
	HotspotResponse    = engine.HotspotResponse
	EvolutionRequest   = engine.EvolutionRequest
	EvolutionResponse  = engine.EvolutionResponse
	ForecastRequest    = engine.ForecastRequest
	ForecastResponse   = engine.ForecastResponse
	PatrolRequest      = engine.PatrolRequest
	PatrolResponse     = engine.PatrolResponse
	AllocationRequest  = engine.AllocationRequest
	AllocationResponse = engine.AllocationResponse
	SnapshotInfo       = engine.SnapshotInfoResponse
)

// Risk scopes.
const (
	ScopeCells = engine.ScopeCells
	ScopeZones = engine.ScopeZones
)
