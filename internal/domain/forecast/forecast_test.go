package forecast

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/incident"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/risk"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/geo"
)

var (
	asOf   = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	center = geo.Point{Lat: 40.7128, Lon: -74.0060}
	week   = 7 * 24 * time.Hour
)

func at(id string, ago time.Duration, north float64) incident.Incident {
	return incident.Incident{
		ID: id, OccurredAt: asOf.Add(-ago), Location: geo.Offset(center, north, 0),
		Category: incident.CategoryProperty, Severity: 0.5, Jurisdiction: "j1",
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Temporal
// ─────────────────────────────────────────────────────────────────────────────

func TestPeriodCounts(t *testing.T) {
	incs := []incident.Incident{
		at("a", time.Hour, 0),
		at("b", week, 0),
		at("c", 8*24*time.Hour, 0),
		at("future", -time.Hour, 0),
	}
	assert.Equal(t, []float64{1, 2}, PeriodCounts(incs, asOf, week))
	assert.Nil(t, PeriodCounts(nil, asOf, week))
	assert.Nil(t, PeriodCounts(incs, asOf, 0))
}

func TestTemporal_LinearTrend(t *testing.T) {
	r, err := Temporal(context.Background(), []float64{2, 4, 6, 8}, 2, 3, false)
	require.NoError(t, err)
	assert.InDelta(t, 2, r.Slope, 1e-12)
	assert.InDelta(t, 2, r.Intercept, 1e-12)
	assert.InDelta(t, 1, r.RSquared, 1e-12)
	assert.InDelta(t, 6, r.MovingAverage, 1e-12)
	assert.Equal(t, DirectionUp, r.Direction)
	assert.InDeltaSlice(t, []float64{10, 12}, r.Projected, 1e-9)
	assert.InDelta(t, 22, r.Expected, 1e-9)
}

func TestTemporal_ProjectionNeverNegative(t *testing.T) {
	r, err := Temporal(context.Background(), []float64{9, 6, 3, 0}, 3, 0, false)
	require.NoError(t, err)
	assert.Equal(t, DirectionDown, r.Direction)
	for _, v := range r.Projected {
		assert.GreaterOrEqual(t, v, 0.0)
	}
}

func TestTemporal_AutoCorrection(t *testing.T) {
	counts := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 1000}
	r, err := Temporal(context.Background(), counts, 1, 3, true)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Corrected)
	assert.Less(t, r.Counts[11], 1000.0)
	assert.Equal(t, 1000.0, counts[11], "input must not be modified")
}

// ─────────────────────────────────────────────────────────────────────────────
// Markov
// ─────────────────────────────────────────────────────────────────────────────

func rowSums(t *testing.T, m Matrix) {
	t.Helper()
	for i := range m {
		s := 0.0
		for _, v := range m[i] {
			s += v
		}
		assert.InDelta(t, 1, s, 1e-12, "row %d", i)
	}
}

func TestEstimateTransitions_LaplaceSmoothing(t *testing.T) {
	m, pairs, err := EstimateTransitions([][]State{{StateLow, StateLow, StateHigh}}, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, pairs)
	assert.InDeltaSlice(t, []float64{2.0 / 6, 1.0 / 6, 2.0 / 6, 1.0 / 6}, m[StateLow][:], 1e-12)
	assert.InDeltaSlice(t, []float64{0.25, 0.25, 0.25, 0.25}, m[StateCritical][:], 1e-12)
	rowSums(t, m)
	require.NoError(t, m.Validate())

	m, _, err = EstimateTransitions([][]State{{StateLow, StateMedium}}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, m[StateLow][StateMedium])
	assert.InDelta(t, 0.25, m[StateHigh][StateHigh], 1e-12)

	_, _, err = EstimateTransitions(nil, -1)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidForecastParams))
	_, _, err = EstimateTransitions([][]State{{7}}, 1)
	assert.Error(t, err)
}

func TestMatrixValidate(t *testing.T) {
	var m Matrix
	assert.True(t, errors.IsCode(m.Validate(), errors.ErrCodeInvalidTransitionMatrix))
	m = identity()
	m[0][1] = -0.1
	assert.Error(t, m.Validate())
}

func TestPower(t *testing.T) {
	m, _, err := EstimateTransitions([][]State{{0, 1, 2, 3, 2, 1, 0}}, 1)
	require.NoError(t, err)
	assert.Equal(t, identity(), Power(m, 0))
	assert.Equal(t, m, Power(m, 1))

	naive := identity()
	for i := 0; i < 5; i++ {
		naive = naive.mul(m)
	}
	p5 := Power(m, 5)
	for i := range p5 {
		assert.InDeltaSlice(t, naive[i][:], p5[i][:], 1e-12)
	}
	rowSums(t, p5)
}

func TestStationary_KnownDistribution(t *testing.T) {
	row := [NumStates]float64{0.1, 0.2, 0.3, 0.4}
	var m Matrix
	for i := range m {
		m[i] = row
	}
	d, _, converged, err := Stationary(context.Background(), m, 1e-12, 100)
	require.NoError(t, err)
	assert.True(t, converged)
	assert.InDeltaSlice(t, row[:], d[:], 1e-9)
}

func TestStationary_SumsToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for trial := 0; trial < 100; trial++ {
		seq := make([]State, 2+rng.Intn(40))
		for i := range seq {
			seq[i] = State(rng.Intn(NumStates))
		}
		m, _, err := EstimateTransitions([][]State{seq}, rng.Float64()*2)
		require.NoError(t, err)
		d, _, _, err := Stationary(context.Background(), m, 1e-10, 10000)
		require.NoError(t, err)
		sum := 0.0
		for _, v := range d {
			assert.GreaterOrEqual(t, v, 0.0)
			sum += v
		}
		assert.InDelta(t, 1, sum, 1e-9)
	}
}

func TestMarkov_ZoneProjection(t *testing.T) {
	zones := map[string][]State{
		"z2": {StateLow, StateHigh, StateCritical, StateCritical},
		"z1": {StateLow, StateLow, StateLow},
		"z3": {},
	}
	r, err := Markov(context.Background(), zones, MarkovParams{Horizon: 2, Alpha: 1, Tolerance: 1e-10, MaxIterations: 1000})
	require.NoError(t, err)
	require.Len(t, r.Zones, 2)
	assert.Equal(t, "z1", r.Zones[0].Zone)
	assert.Equal(t, StateLow, r.Zones[0].Current)
	assert.Equal(t, StateCritical, r.Zones[1].Current)
	assert.Equal(t, 5, r.Pairs)

	sum := 0.0
	for _, v := range r.Horizon {
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-12)
	assert.InDelta(t, r.Horizon[StateHigh]+r.Horizon[StateCritical], r.CriticalRisk, 1e-12)
}

func TestStates(t *testing.T) {
	assert.Equal(t, []State{StateLow, StateMedium, StateCritical, StateLow}, StatesFromCounts([]float64{1, 5, 10, 0}))
	assert.Equal(t, StateMedium, StateForLevel(risk.LevelElevated))

	s, err := ParseState("moderate")
	require.NoError(t, err)
	assert.Equal(t, StateMedium, s)
	_, err = ParseState("extreme")
	assert.Error(t, err)

	b, err := StateCritical.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "critical", string(b))
}

// ─────────────────────────────────────────────────────────────────────────────
// Run
// ─────────────────────────────────────────────────────────────────────────────

type RunSuite struct {
	suite.Suite
	history History
}

func (s *RunSuite) SetupTest() {
	// Eight weeks of rising counts concentrated around one block.
	var incs []incident.Incident
	for w := 0; w < 8; w++ {
		for k := 0; k <= 8-w; k++ {
			ago := time.Duration(w)*week + time.Duration(k+1)*time.Hour
			incs = append(incs, at(fmt.Sprintf("w%d-%d", w, k), ago, float64(k)*20))
		}
	}
	s.history = History{Incidents: incs}
}

func (s *RunSuite) TestCombinesAllModels() {
	w, err := Run(context.Background(), s.history, Params{}, asOf)
	s.Require().NoError(err)
	s.Equal(StatusOK, w.Status)
	s.Equal(8, w.SampleSize)
	s.Require().NotNil(w.Temporal)
	s.Require().NotNil(w.Spatial)
	s.Require().NotNil(w.Markov)
	s.Equal(DirectionUp, w.Temporal.Direction)
	s.NotEmpty(w.Spatial.ProjectedHotspots)
	s.GreaterOrEqual(w.Confidence, 0.1)
	s.LessOrEqual(w.Confidence, 1.0)
	s.Greater(w.ExpectedIncidents, 0.0)
	s.Equal(asOf.Add(4*week), w.End)

	expected := (0.6*w.Temporal.Expected + 0.4*w.Spatial.Expected) / 1.0
	s.InDelta(expected, w.ExpectedIncidents, 1e-9)
}

func (s *RunSuite) TestIdempotent() {
	first, err := Run(context.Background(), s.history, Params{}, asOf)
	s.Require().NoError(err)
	second, err := Run(context.Background(), s.history, Params{}, asOf)
	s.Require().NoError(err)
	s.Empty(cmp.Diff(first, second))
}

func (s *RunSuite) TestSinglePeriodIsFlooredNotFailed() {
	h := History{Incidents: []incident.Incident{at("a", time.Hour, 0), at("b", 2*time.Hour, 0)}}
	w, err := Run(context.Background(), h, Params{}, asOf)
	s.Require().NoError(err)
	s.Equal(1, w.SampleSize)
	s.Equal(StatusInsufficientData, w.Status)
	s.Equal(0.1, w.Confidence)

	w, err = Run(context.Background(), History{Counts: []float64{5}}, Params{ConfidenceFloor: 0.2}, asOf)
	s.Require().NoError(err)
	s.Equal(StatusInsufficientData, w.Status)
	s.Equal(0.2, w.Confidence)
}

func (s *RunSuite) TestEmptyHistory() {
	w, err := Run(context.Background(), History{}, Params{}, asOf)
	s.Require().NoError(err)
	s.Equal(StatusInsufficientData, w.Status)
	s.Zero(w.ExpectedIncidents)
}

func (s *RunSuite) TestExpiredDeadlineDegrades() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w, err := Run(ctx, s.history, Params{}, asOf)
	s.Require().NoError(err)
	s.Equal(StatusDegraded, w.Status)
	s.Equal(0.1, w.Confidence)
}

func (s *RunSuite) TestDisagreementLowersConfidence() {
	h := History{
		Counts: []float64{1, 2, 3, 4, 5},
		Incidents: []incident.Incident{
			at("a", 20*24*time.Hour, 0), at("b", 20*24*time.Hour, 10), at("c", 20*24*time.Hour, 20),
			at("d", 2*24*time.Hour, 0),
		},
	}
	w, err := Run(context.Background(), h, Params{}, asOf)
	s.Require().NoError(err)
	s.Equal(DirectionUp, w.Temporal.Direction)
	s.Equal(DirectionDown, w.Spatial.Direction)
	s.InDelta(0.7, w.Confidence, 1e-9)
	s.Contains(w.Notes, "temporal and spatial models disagree on direction")
}

func (s *RunSuite) TestValidation() {
	_, err := Run(context.Background(), s.history, Params{Horizon: -1}, asOf)
	s.True(errors.IsCode(err, errors.ErrCodeInvalidHorizon))

	_, err = Run(context.Background(), s.history, Params{Horizon: MaxHorizon + 1}, asOf)
	s.True(errors.IsCode(err, errors.ErrCodeInvalidHorizon))

	_, err = Run(context.Background(), History{Counts: []float64{1, math.NaN()}}, Params{}, asOf)
	s.True(errors.IsValidation(err))

	bad := History{Incidents: []incident.Incident{{ID: "x", OccurredAt: asOf, Location: geo.Point{Lat: 91}, Category: incident.CategoryDrug}}}
	_, err = Run(context.Background(), bad, Params{}, asOf)
	s.True(errors.IsCode(err, errors.ErrCodeInvalidCoordinate))
}

func TestRunSuite(t *testing.T) {
	suite.Run(t, new(RunSuite))
}
