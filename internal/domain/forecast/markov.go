package forecast

import (
	"context"
	"math"
	"sort"

	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/risk"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
)

// State is a discretized zone risk state.
type State int

const (
	StateLow State = iota
	StateMedium
	StateHigh
	StateCritical
)

// NumStates is the size of the state space.
const NumStates = 4

var stateNames = [NumStates]string{"low", "medium", "high", "critical"}

func (s State) String() string {
	if s < 0 || int(s) >= NumStates {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText accepts state names and risk level names.
func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseState accepts low/medium/high/critical as well as risk levels.
func ParseState(v string) (State, error) {
	for i, n := range stateNames {
		if v == n {
			return State(i), nil
		}
	}
	l, err := risk.ParseLevel(v)
	if err != nil {
		return 0, errors.Newf(errors.ErrCodeInvalidForecastParams, "unknown state %q", v)
	}
	return StateForLevel(l), nil
}

// StateForLevel maps a risk level onto the state space.
func StateForLevel(l risk.Level) State {
	switch l {
	case risk.LevelCritical:
		return StateCritical
	case risk.LevelHigh:
		return StateHigh
	case risk.LevelElevated:
		return StateMedium
	default:
		return StateLow
	}
}

// Matrix is a row-stochastic transition matrix; row is the from-state.
type Matrix [NumStates][NumStates]float64

// Distribution is a probability vector over states.
type Distribution [NumStates]float64

// Validate checks entries are in [0,1] and rows sum to 1.
func (m Matrix) Validate() error {
	for i := range m {
		sum := 0.0
		for j := range m[i] {
			v := m[i][j]
			if v < 0 || v > 1 || math.IsNaN(v) {
				return errors.Newf(errors.ErrCodeInvalidTransitionMatrix, "entry [%d][%d] = %v out of range", i, j, v)
			}
			sum += v
		}
		if math.Abs(sum-1) > 1e-9 {
			return errors.Newf(errors.ErrCodeInvalidTransitionMatrix, "row %d sums to %v", i, sum)
		}
	}
	return nil
}

func (m Matrix) mul(o Matrix) Matrix {
	var out Matrix
	for i := 0; i < NumStates; i++ {
		for k := 0; k < NumStates; k++ {
			if m[i][k] == 0 {
				continue
			}
			for j := 0; j < NumStates; j++ {
				out[i][j] += m[i][k] * o[k][j]
			}
		}
	}
	return out
}

func identity() Matrix {
	var m Matrix
	for i := range m {
		m[i][i] = 1
	}
	return m
}

// Power returns m raised to h by repeated squaring.
func Power(m Matrix, h int) Matrix {
	result := identity()
	base := m
	for h > 0 {
		if h&1 == 1 {
			result = result.mul(base)
		}
		base = base.mul(base)
		h >>= 1
	}
	return result
}

// Step returns d·m.
func (d Distribution) Step(m Matrix) Distribution {
	var out Distribution
	for i := 0; i < NumStates; i++ {
		for j := 0; j < NumStates; j++ {
			out[j] += d[i] * m[i][j]
		}
	}
	return out
}

// MostLikely returns the state with the highest probability, lowest state on
// ties.
func (d Distribution) MostLikely() State {
	best := 0
	for i := 1; i < NumStates; i++ {
		if d[i] > d[best] {
			best = i
		}
	}
	return State(best)
}

// OneHot is the distribution concentrated on s.
func OneHot(s State) Distribution {
	var d Distribution
	d[s] = 1
	return d
}

// EstimateTransitions counts consecutive state pairs over all sequences and
// row-normalizes them with additive smoothing alpha.  A row with no mass
// becomes uniform.
func EstimateTransitions(sequences [][]State, alpha float64) (Matrix, int, error) {
	if alpha < 0 || math.IsNaN(alpha) {
		return Matrix{}, 0, errors.New(errors.ErrCodeInvalidForecastParams, "smoothing alpha must be non-negative")
	}
	var counts Matrix
	pairs := 0
	for _, seq := range sequences {
		for i, s := range seq {
			if s < 0 || int(s) >= NumStates {
				return Matrix{}, 0, errors.Newf(errors.ErrCodeInvalidForecastParams, "state %d out of range", s)
			}
			if i == 0 {
				continue
			}
			counts[seq[i-1]][s]++
			pairs++
		}
	}
	var m Matrix
	for i := range counts {
		total := 0.0
		for j := range counts[i] {
			total += counts[i][j] + alpha
		}
		for j := range counts[i] {
			if total == 0 {
				m[i][j] = 1.0 / NumStates
				continue
			}
			m[i][j] = (counts[i][j] + alpha) / total
		}
	}
	return m, pairs, nil
}

// Stationary power-iterates a uniform start vector until the L1 change is
// below tol or maxIter steps have run.  The result is renormalized to sum
// to 1.
func Stationary(ctx context.Context, m Matrix, tol float64, maxIter int) (Distribution, int, bool, error) {
	var d Distribution
	for i := range d {
		d[i] = 1.0 / NumStates
	}
	for it := 1; it <= maxIter; it++ {
		if it%64 == 0 {
			if err := ctx.Err(); err != nil {
				return d, it, false, err
			}
		}
		next := d.Step(m)
		delta := 0.0
		for i := range next {
			delta += math.Abs(next[i] - d[i])
		}
		d = next
		if delta < tol {
			return normalized(d), it, true, nil
		}
	}
	return normalized(d), maxIter, false, nil
}

func normalized(d Distribution) Distribution {
	sum := 0.0
	for _, v := range d {
		sum += v
	}
	if sum == 0 {
		return d
	}
	for i := range d {
		d[i] /= sum
	}
	return d
}

// ZoneProjection is the horizon distribution for one zone.
type ZoneProjection struct {
	Zone         string       `json:"zone"`
	Current      State        `json:"current"`
	Distribution Distribution `json:"distribution"`
	MostLikely   State        `json:"most_likely"`
}

// MarkovResult is the output of the state model.
type MarkovResult struct {
	Transitions  Matrix           `json:"transitions"`
	Pairs        int              `json:"pairs"`
	Horizon      Distribution     `json:"horizon_distribution"`
	Steady       Distribution     `json:"steady_state"`
	Converged    bool             `json:"converged"`
	Iterations   int              `json:"iterations"`
	Zones        []ZoneProjection `json:"zones"`
	CriticalRisk float64          `json:"critical_risk"`
}

// MarkovParams configures Markov.
type MarkovParams struct {
	Horizon       int
	Alpha         float64
	Tolerance     float64
	MaxIterations int
}

// Markov estimates the transition matrix from per-zone state sequences and
// projects each zone's last state horizon steps ahead.  The aggregate
// horizon distribution is the mean over zones.
func Markov(ctx context.Context, zoneStates map[string][]State, p MarkovParams) (*MarkovResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	zones := make([]string, 0, len(zoneStates))
	for z, seq := range zoneStates {
		if len(seq) > 0 {
			zones = append(zones, z)
		}
	}
	sort.Strings(zones)

	seqs := make([][]State, len(zones))
	for i, z := range zones {
		seqs[i] = zoneStates[z]
	}
	m, pairs, err := EstimateTransitions(seqs, p.Alpha)
	if err != nil {
		return nil, err
	}

	res := &MarkovResult{Transitions: m, Pairs: pairs}
	res.Steady, res.Iterations, res.Converged, err = Stationary(ctx, m, p.Tolerance, p.MaxIterations)
	if err != nil {
		return nil, err
	}

	ph := Power(m, p.Horizon)
	for _, z := range zones {
		seq := zoneStates[z]
		cur := seq[len(seq)-1]
		d := OneHot(cur).Step(ph)
		res.Zones = append(res.Zones, ZoneProjection{Zone: z, Current: cur, Distribution: d, MostLikely: d.MostLikely()})
		for i := range d {
			res.Horizon[i] += d[i] / float64(len(zones))
		}
	}
	res.CriticalRisk = res.Horizon[StateHigh] + res.Horizon[StateCritical]
	return res, nil
}

// StatesFromCounts discretizes a count series by its share of the series
// maximum, using the risk level cutoffs.
func StatesFromCounts(counts []float64) []State {
	max := 0.0
	for _, c := range counts {
		max = math.Max(max, c)
	}
	out := make([]State, len(counts))
	for i, c := range counts {
		if max > 0 {
			out[i] = StateForLevel(risk.LevelFor(c / max))
		}
	}
	return out
}
