package engine

import (
	"time"

	"github.com/turtacn/CrimeSight-Intelligence/internal/config"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/allocation"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/forecast"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/hotspot"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/incident"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/patrol"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/risk"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/spatial"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
)

// RunConfig is the immutable, versioned configuration one engine operation
// runs with.  It is resolved once per call; a reload never changes the
// RunConfig of a call already in progress.
type RunConfig struct {
	Engine             string                  `json:"engine"`
	Version            string                  `json:"version"`
	Resolution         spatial.Resolution      `json:"resolution"`
	Deadline           time.Duration           `json:"deadline"`
	CacheTTL           time.Duration           `json:"cache_ttl"`
	ZoneRadiusMeters   float64                 `json:"zone_radius_m"`
	AlertLevel         risk.Level              `json:"alert_level"`
	Risk               risk.Weights            `json:"risk"`
	Entity             risk.EntityWeights      `json:"entity"`
	Hotspot            hotspot.Params          `json:"hotspot"`
	Evolution          hotspot.EvolutionParams `json:"evolution"`
	Forecast           forecast.Params         `json:"forecast"`
	Patrol             patrol.Params           `json:"patrol"`
	Allocation         allocation.Params       `json:"allocation"`
	AutoCorrection     bool                    `json:"enable_auto_correction"`
	BiasDetection      bool                    `json:"enable_bias_detection"`
	BiasShareThreshold float64                 `json:"bias_share_threshold"`
}

// DefaultBiasShareThreshold is used when bias detection is on and no
// threshold is configured.
const DefaultBiasShareThreshold = 0.5

// NewRunConfig translates engine settings into domain parameters.  Knobs
// left at zero take the domain package defaults.
func NewRunConfig(engine, version string, s config.EngineSettings) (RunConfig, error) {
	rc := RunConfig{
		Engine:             engine,
		Version:            version,
		Resolution:         spatial.Resolution(s.Resolution),
		Deadline:           s.Deadline,
		CacheTTL:           s.CacheTTL,
		ZoneRadiusMeters:   s.ZoneRadiusMeters,
		AutoCorrection:     s.Toggles.EnableAutoCorrection,
		BiasDetection:      s.Toggles.EnableBiasDetection,
		BiasShareThreshold: s.Toggles.BiasShareThreshold,
	}
	if rc.Resolution == 0 {
		rc.Resolution = spatial.ResolutionNeighborhood
	}
	if !rc.Resolution.Valid() {
		return RunConfig{}, errors.Newf(errors.ErrCodeInvalidResolution, "engine %s: unsupported resolution %d", engine, s.Resolution)
	}
	if rc.BiasShareThreshold == 0 {
		rc.BiasShareThreshold = DefaultBiasShareThreshold
	}
	if rc.ZoneRadiusMeters == 0 {
		rc.ZoneRadiusMeters = config.DefaultZoneRadius
	}
	rc.AlertLevel = risk.LevelHigh
	if s.AlertLevel != "" {
		l, err := risk.ParseLevel(s.AlertLevel)
		if err != nil {
			return RunConfig{}, err
		}
		rc.AlertLevel = l
	}

	cats, err := categoryWeights(s.Risk.CategoryWeights)
	if err != nil {
		return RunConfig{}, err
	}
	rc.Risk = risk.Weights{
		Category:              cats,
		HalfLife:              s.Risk.HalfLife,
		ProximityRadiusMeters: s.Risk.ProximityRadiusMeters,
		ProximityBoost:        s.Risk.ProximityBoost,
	}.WithDefaults()
	if err := rc.Risk.Validate(); err != nil {
		return RunConfig{}, err
	}
	rc.Entity = risk.EntityWeights{
		Escalation:  s.Risk.EscalationWeight,
		Repeat:      s.Risk.RepeatWeight,
		Affiliation: s.Risk.AffiliationWeight,
		HalfLife:    s.Risk.HalfLife,
	}

	rc.Hotspot = hotspot.Params{
		EpsilonMeters:   s.Hotspot.EpsilonMeters,
		MinClusterSize:  s.Hotspot.MinClusterSize,
		MinRadiusMeters: s.Hotspot.MinRadiusMeters,
		CategoryWeights: cats,
	}.WithDefaults()
	if err := rc.Hotspot.Validate(); err != nil {
		return RunConfig{}, err
	}
	rc.Evolution = hotspot.EvolutionParams{
		EmergingThreshold:  s.Hotspot.EmergingThreshold,
		DecliningThreshold: s.Hotspot.DecliningThreshold,
		MinClusterSize:     s.Hotspot.MinClusterSize,
	}.WithDefaults()

	f := s.Forecast
	rc.Forecast = forecast.Params{
		Horizon:             f.Horizon,
		PeriodLength:        f.PeriodLength,
		RecentWindow:        f.RecentWindow,
		MinSamples:          f.MinSamples,
		ConfidenceFloor:     f.ConfidenceFloor,
		TemporalWeight:      f.TemporalWeight,
		SpatialWeight:       f.SpatialWeight,
		DisagreementPenalty: f.DisagreementPenalty,
		SmoothingAlpha:      f.SmoothingAlpha,
		Tolerance:           f.Tolerance,
		MaxIterations:       f.MaxIterations,
		SpatialResolution:   spatial.Resolution(f.SpatialResolution),
		TopCells:            f.TopCells,
		MovingAverageWindow: f.MovingAverageWindow,
		AutoCorrection:      s.Toggles.EnableAutoCorrection,
		Hotspot:             rc.Hotspot,
	}.WithDefaults()
	if err := rc.Forecast.Validate(); err != nil {
		return RunConfig{}, err
	}

	rc.Patrol = patrol.Params{
		MaxDistanceMeters:    s.Patrol.MaxDistanceMeters,
		WaypointCount:        s.Patrol.WaypointCount,
		DistancePenaltyPerKm: s.Patrol.DistancePenaltyPerKm,
		CoverageRadiusMeters: s.Patrol.CoverageRadiusMeters,
		SpeedKmh:             s.Patrol.SpeedKmh,
	}.WithDefaults()
	if err := rc.Patrol.Validate(); err != nil {
		return RunConfig{}, err
	}

	rc.Allocation = allocation.Params{
		Tolerance:          s.Allocation.Tolerance,
		RelocationSpeedKmh: s.Allocation.RelocationSpeedKmh,
		RelocationHours:    s.Allocation.RelocationHours,
		MaxMoves:           s.Allocation.MaxMoves,
	}.WithDefaults()
	if len(s.Allocation.ObjectiveWeights) > 0 {
		rc.Allocation.ObjectiveWeights = make(map[allocation.Objective]float64, len(s.Allocation.ObjectiveWeights))
		for name, w := range s.Allocation.ObjectiveWeights {
			o := allocation.Objective(name)
			if !o.Valid() {
				return RunConfig{}, errors.Newf(errors.ErrCodeUnknownObjective, "engine %s: unknown objective %q", engine, name)
			}
			rc.Allocation.ObjectiveWeights[o] = w
		}
	}
	return rc, nil
}

func categoryWeights(in map[string]float64) (map[incident.Category]float64, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[incident.Category]float64, len(in))
	for name, w := range in {
		c, err := incident.ParseCategory(name)
		if err != nil {
			return nil, err
		}
		out[c] = w
	}
	return out, nil
}
