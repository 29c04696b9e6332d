package forecast

import (
	"context"
	"math"
	"time"

	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/incident"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/risk"
)

// Direction is the sign of a projected trend.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionFlat Direction = "flat"
)

// flatBand is the relative change below which a trend counts as flat.
const flatBand = 0.05

// TemporalResult is the trend fitted over period-level counts.
type TemporalResult struct {
	Counts        []float64 `json:"counts"`
	Slope         float64   `json:"slope"`
	Intercept     float64   `json:"intercept"`
	RSquared      float64   `json:"r_squared"`
	MovingAverage float64   `json:"moving_average"`
	Direction     Direction `json:"direction"`
	Projected     []float64 `json:"projected"`
	Expected      float64   `json:"expected"`
	Corrected     int       `json:"corrected,omitempty"`
}

// PeriodCounts buckets incidents into consecutive periods of length period
// ending at asOf, oldest first.  Incidents at or after asOf are ignored.
// The series starts at the period holding the earliest incident.
func PeriodCounts(incidents []incident.Incident, asOf time.Time, period time.Duration) []float64 {
	if period <= 0 {
		return nil
	}
	var earliest time.Time
	for _, inc := range incidents {
		if !inc.OccurredAt.Before(asOf) {
			continue
		}
		if earliest.IsZero() || inc.OccurredAt.Before(earliest) {
			earliest = inc.OccurredAt
		}
	}
	if earliest.IsZero() {
		return nil
	}
	n := int(asOf.Sub(earliest)/period) + 1
	if asOf.Sub(earliest)%period == 0 {
		n--
	}
	counts := make([]float64, n)
	for _, inc := range incidents {
		if !inc.OccurredAt.Before(asOf) {
			continue
		}
		back := int(asOf.Sub(inc.OccurredAt) / period)
		if asOf.Sub(inc.OccurredAt)%period == 0 {
			back--
		}
		counts[n-1-back]++
	}
	return counts
}

// Temporal fits a least-squares trend to counts and projects it horizon
// periods ahead.
func Temporal(ctx context.Context, counts []float64, horizon, maWindow int, autoCorrect bool) (*TemporalResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	series := append([]float64(nil), counts...)
	res := &TemporalResult{}
	if autoCorrect {
		res.Corrected = winsorize(series, 3)
	}
	res.Counts = series

	mean := meanOf(series)
	res.MovingAverage = movingAverage(series, maWindow)

	xs := make([]float64, len(series))
	for i := range xs {
		xs[i] = float64(i)
	}
	slope, intercept, ok := risk.LeastSquares(xs, series)
	if ok {
		res.Slope = slope
		res.Intercept = intercept
		res.RSquared = rSquared(xs, series, slope, intercept)
	} else {
		res.Intercept = mean
	}

	switch {
	case mean == 0 || math.Abs(res.Slope) <= flatBand*mean:
		res.Direction = DirectionFlat
	case res.Slope > 0:
		res.Direction = DirectionUp
	default:
		res.Direction = DirectionDown
	}

	res.Projected = make([]float64, horizon)
	n := float64(len(series))
	for k := 1; k <= horizon; k++ {
		v := res.MovingAverage
		if ok {
			v = res.Intercept + res.Slope*(n-1+float64(k))
		}
		v = math.Max(0, v)
		res.Projected[k-1] = v
		res.Expected += v
	}
	return res, nil
}

// winsorize clips values outside mean ± z·σ in place and returns how many
// were clipped.
func winsorize(xs []float64, z float64) int {
	if len(xs) < 3 {
		return 0
	}
	mean := meanOf(xs)
	variance := 0.0
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	sd := math.Sqrt(variance / float64(len(xs)))
	if sd == 0 {
		return 0
	}
	lo, hi := mean-z*sd, mean+z*sd
	clipped := 0
	for i, x := range xs {
		switch {
		case x > hi:
			xs[i] = hi
			clipped++
		case x < lo:
			xs[i] = lo
			clipped++
		}
	}
	return clipped
}

func movingAverage(xs []float64, window int) float64 {
	if len(xs) == 0 {
		return 0
	}
	if window <= 0 || window > len(xs) {
		window = len(xs)
	}
	return meanOf(xs[len(xs)-window:])
}

func rSquared(xs, ys []float64, slope, intercept float64) float64 {
	mean := meanOf(ys)
	var ssRes, ssTot float64
	for i := range xs {
		fit := intercept + slope*xs[i]
		ssRes += (ys[i] - fit) * (ys[i] - fit)
		ssTot += (ys[i] - mean) * (ys[i] - mean)
	}
	if ssTot == 0 {
		return 1
	}
	return math.Max(0, 1-ssRes/ssTot)
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}
