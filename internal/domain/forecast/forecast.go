// Package forecast projects near-term risk from incident history with three
// independent models: a temporal trend, a spatial density projection and a
// Markov chain over discretized zone states.
package forecast

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/hotspot"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/incident"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/spatial"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
)

// Status of a forecast window.
type Status string

const (
	StatusOK               Status = "ok"
	StatusDegraded         Status = "degraded"
	StatusInsufficientData Status = "insufficient_data"
)

// MaxHorizon bounds the number of periods a forecast may look ahead.
const MaxHorizon = 520

// Params configures Run.
type Params struct {
	Horizon             int                `json:"horizon"`
	PeriodLength        time.Duration      `json:"period_length"`
	RecentWindow        time.Duration      `json:"recent_window"`
	MinSamples          int                `json:"min_samples"`
	ConfidenceFloor     float64            `json:"confidence_floor"`
	TemporalWeight      float64            `json:"temporal_weight"`
	SpatialWeight       float64            `json:"spatial_weight"`
	DisagreementPenalty float64            `json:"disagreement_penalty"`
	SmoothingAlpha      float64            `json:"smoothing_alpha"`
	Tolerance           float64            `json:"tolerance"`
	MaxIterations       int                `json:"max_iterations"`
	SpatialResolution   spatial.Resolution `json:"spatial_resolution"`
	TopCells            int                `json:"top_cells"`
	MovingAverageWindow int                `json:"moving_average_window"`
	AutoCorrection      bool               `json:"auto_correction"`
	Hotspot             hotspot.Params     `json:"hotspot"`
}

// DefaultParams forecasts four weekly periods ahead.
func DefaultParams() Params {
	return Params{
		Horizon:             4,
		PeriodLength:        7 * 24 * time.Hour,
		RecentWindow:        28 * 24 * time.Hour,
		MinSamples:          3,
		ConfidenceFloor:     0.1,
		TemporalWeight:      0.6,
		SpatialWeight:       0.4,
		DisagreementPenalty: 0.3,
		SmoothingAlpha:      1,
		Tolerance:           1e-10,
		MaxIterations:       10000,
		SpatialResolution:   spatial.ResolutionDistrict,
		TopCells:            10,
		MovingAverageWindow: 3,
		Hotspot:             hotspot.DefaultParams(),
	}
}

// WithDefaults fills zero fields from DefaultParams.
func (p Params) WithDefaults() Params {
	d := DefaultParams()
	if p.Horizon == 0 {
		p.Horizon = d.Horizon
	}
	if p.PeriodLength == 0 {
		p.PeriodLength = d.PeriodLength
	}
	if p.RecentWindow == 0 {
		p.RecentWindow = d.RecentWindow
	}
	if p.MinSamples == 0 {
		p.MinSamples = d.MinSamples
	}
	if p.ConfidenceFloor == 0 {
		p.ConfidenceFloor = d.ConfidenceFloor
	}
	if p.TemporalWeight == 0 && p.SpatialWeight == 0 {
		p.TemporalWeight, p.SpatialWeight = d.TemporalWeight, d.SpatialWeight
	}
	if p.DisagreementPenalty == 0 {
		p.DisagreementPenalty = d.DisagreementPenalty
	}
	if p.SmoothingAlpha == 0 {
		p.SmoothingAlpha = d.SmoothingAlpha
	}
	if p.Tolerance == 0 {
		p.Tolerance = d.Tolerance
	}
	if p.MaxIterations == 0 {
		p.MaxIterations = d.MaxIterations
	}
	if p.SpatialResolution == 0 {
		p.SpatialResolution = d.SpatialResolution
	}
	if p.TopCells == 0 {
		p.TopCells = d.TopCells
	}
	if p.MovingAverageWindow == 0 {
		p.MovingAverageWindow = d.MovingAverageWindow
	}
	p.Hotspot = p.Hotspot.WithDefaults()
	return p
}

// Validate checks ranges after defaults are applied.
func (p Params) Validate() error {
	if p.Horizon < 1 || p.Horizon > MaxHorizon {
		return errors.Newf(errors.ErrCodeInvalidHorizon, "horizon must be between 1 and %d periods", MaxHorizon)
	}
	if p.PeriodLength <= 0 || p.RecentWindow < p.PeriodLength {
		return errors.New(errors.ErrCodeInvalidForecastParams, "recent window must cover at least one period")
	}
	if p.ConfidenceFloor < 0 || p.ConfidenceFloor > 1 {
		return errors.New(errors.ErrCodeInvalidForecastParams, "confidence floor must be in [0,1]")
	}
	if p.TemporalWeight < 0 || p.SpatialWeight < 0 {
		return errors.New(errors.ErrCodeInvalidForecastParams, "model weights must be non-negative")
	}
	if p.DisagreementPenalty < 0 || p.DisagreementPenalty > 1 {
		return errors.New(errors.ErrCodeInvalidForecastParams, "disagreement penalty must be in [0,1]")
	}
	if p.SmoothingAlpha < 0 || p.Tolerance <= 0 || p.MaxIterations < 1 {
		return errors.New(errors.ErrCodeInvalidForecastParams, "markov smoothing, tolerance and iterations must be positive")
	}
	if !p.SpatialResolution.Valid() {
		return errors.Newf(errors.ErrCodeInvalidResolution, "invalid spatial resolution %d", p.SpatialResolution)
	}
	return p.Hotspot.Validate()
}

// History is the input of Run.  Counts, when set, replaces the period
// counts derived from Incidents.  ZoneStates, when empty, is derived from
// the period counts as a single "all" sequence.
type History struct {
	Incidents  []incident.Incident `json:"incidents"`
	Counts     []float64           `json:"counts,omitempty"`
	ZoneStates map[string][]State  `json:"zone_states,omitempty"`
}

// Window is the combined forecast.
type Window struct {
	Start             time.Time       `json:"start"`
	End               time.Time       `json:"end"`
	Horizon           int             `json:"horizon"`
	PeriodLength      time.Duration   `json:"period_length"`
	SampleSize        int             `json:"sample_size"`
	Temporal          *TemporalResult `json:"temporal,omitempty"`
	Spatial           *SpatialResult  `json:"spatial,omitempty"`
	Markov            *MarkovResult   `json:"markov,omitempty"`
	ExpectedIncidents float64         `json:"expected_incidents"`
	Confidence        float64         `json:"confidence"`
	Status            Status          `json:"status"`
	Notes             []string        `json:"notes,omitempty"`
}

// Run executes the three models concurrently and combines whatever finished
// before ctx expired.  Invalid parameters or incidents are errors; short
// history and expired deadlines yield a floored-confidence window.
func Run(ctx context.Context, h History, p Params, asOf time.Time) (*Window, error) {
	p = p.WithDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := incident.ValidateAll(h.Incidents, nil); err != nil {
		return nil, err
	}
	for _, c := range h.Counts {
		if c < 0 || math.IsNaN(c) {
			return nil, errors.New(errors.ErrCodeInvalidForecastParams, "period counts must be non-negative")
		}
	}

	counts := h.Counts
	if len(counts) == 0 {
		counts = PeriodCounts(h.Incidents, asOf, p.PeriodLength)
	}
	zoneStates := h.ZoneStates
	if len(zoneStates) == 0 && len(counts) > 0 {
		zoneStates = map[string][]State{"all": StatesFromCounts(counts)}
	}

	w := &Window{
		Start:        asOf,
		End:          asOf.Add(time.Duration(p.Horizon) * p.PeriodLength),
		Horizon:      p.Horizon,
		PeriodLength: p.PeriodLength,
		SampleSize:   len(counts),
		Status:       StatusOK,
	}

	var (
		mu       sync.Mutex
		temporal *TemporalResult
		spat     *SpatialResult
		markov   *MarkovResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := Temporal(gctx, counts, p.Horizon, p.MovingAverageWindow, p.AutoCorrection)
		mu.Lock()
		temporal = r
		mu.Unlock()
		return err
	})
	g.Go(func() error {
		r, err := Spatial(gctx, h.Incidents, asOf, SpatialParams{
			Horizon: p.Horizon, PeriodLength: p.PeriodLength, RecentWindow: p.RecentWindow,
			Resolution: p.SpatialResolution, TopCells: p.TopCells, Hotspot: p.Hotspot,
		})
		mu.Lock()
		spat = r
		mu.Unlock()
		return err
	})
	g.Go(func() error {
		r, err := Markov(gctx, zoneStates, MarkovParams{
			Horizon: p.Horizon, Alpha: p.SmoothingAlpha, Tolerance: p.Tolerance, MaxIterations: p.MaxIterations,
		})
		mu.Lock()
		markov = r
		mu.Unlock()
		return err
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		runErr = ctx.Err()
	}

	mu.Lock()
	w.Temporal, w.Spatial, w.Markov = temporal, spat, markov
	mu.Unlock()

	if runErr != nil && ctx.Err() == nil {
		// A model failed on its own input rather than the deadline.
		return nil, runErr
	}

	combine(w, p)

	switch {
	case ctx.Err() != nil:
		w.Status = StatusDegraded
		w.Confidence = p.ConfidenceFloor
		w.Notes = append(w.Notes, "deadline expired before all models completed")
	case w.SampleSize < p.MinSamples:
		w.Status = StatusInsufficientData
		w.Confidence = p.ConfidenceFloor
		w.Notes = append(w.Notes, "fewer historical periods than the minimum sample size")
	}
	if w.Temporal != nil && w.Temporal.Corrected > 0 {
		w.Notes = append(w.Notes, "outlier periods winsorized before fitting")
	}
	return w, nil
}

func combine(w *Window, p Params) {
	var num, den float64
	if w.Temporal != nil && p.TemporalWeight > 0 {
		num += p.TemporalWeight * w.Temporal.Expected
		den += p.TemporalWeight
	}
	if w.Spatial != nil && p.SpatialWeight > 0 {
		num += p.SpatialWeight * w.Spatial.Expected
		den += p.SpatialWeight
	}
	if den > 0 {
		w.ExpectedIncidents = num / den
	}

	conf := p.ConfidenceFloor
	if w.Temporal != nil {
		conf = 0.5 + 0.5*w.Temporal.RSquared
		if w.Spatial != nil && opposite(w.Temporal.Direction, w.Spatial.Direction) {
			conf *= 1 - p.DisagreementPenalty
			w.Notes = append(w.Notes, "temporal and spatial models disagree on direction")
		}
	}
	w.Confidence = math.Min(1, math.Max(p.ConfidenceFloor, conf))
}

func opposite(a, b Direction) bool {
	return (a == DirectionUp && b == DirectionDown) || (a == DirectionDown && b == DirectionUp)
}
