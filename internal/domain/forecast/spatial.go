package forecast

import (
	"context"
	"sort"
	"time"

	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/hotspot"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/incident"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/spatial"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/geo"
)

// ringWeight is the share of a neighbour's count added to a cell.
const ringWeight = 0.5

// CellProjection is the projected per-period rate of one cell.
type CellProjection struct {
	Cell   spatial.CellID `json:"cell"`
	Center geo.Point      `json:"center"`
	Rate   float64        `json:"rate"`
	Share  float64        `json:"share"`
}

// SpatialResult projects the recent spatial concentration forward.
type SpatialResult struct {
	Window            hotspot.TimeWindow `json:"window"`
	RecentCount       int                `json:"recent_count"`
	RatePerPeriod     float64            `json:"rate_per_period"`
	Direction         Direction          `json:"direction"`
	Expected          float64            `json:"expected"`
	TopCells          []CellProjection   `json:"top_cells"`
	ProjectedHotspots []hotspot.Hotspot  `json:"projected_hotspots"`
}

// SpatialParams configures Spatial.
type SpatialParams struct {
	Horizon      int
	PeriodLength time.Duration
	RecentWindow time.Duration
	Resolution   spatial.Resolution
	TopCells     int
	Hotspot      hotspot.Params
}

// Spatial estimates cell densities over the recent window, smoothed over
// each cell's first ring, and assumes that concentration continues.
func Spatial(ctx context.Context, incidents []incident.Incident, asOf time.Time, p SpatialParams) (*SpatialResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	win := hotspot.TimeWindow{Start: asOf.Add(-p.RecentWindow), End: asOf}
	mid := asOf.Add(-p.RecentWindow / 2)

	var recent []incident.Incident
	var firstHalf, secondHalf int
	for _, inc := range incidents {
		if !win.Contains(inc.OccurredAt) {
			continue
		}
		recent = append(recent, inc)
		if inc.OccurredAt.Before(mid) {
			firstHalf++
		} else {
			secondHalf++
		}
	}

	res := &SpatialResult{Window: win, RecentCount: len(recent)}
	periods := float64(p.RecentWindow) / float64(p.PeriodLength)
	res.RatePerPeriod = float64(len(recent)) / periods
	res.Expected = res.RatePerPeriod * float64(p.Horizon)

	switch {
	case float64(secondHalf) > float64(firstHalf)*(1+flatBand):
		res.Direction = DirectionUp
	case float64(secondHalf) < float64(firstHalf)*(1-flatBand):
		res.Direction = DirectionDown
	default:
		res.Direction = DirectionFlat
	}

	cells, err := smoothedDensity(ctx, recent, p.Resolution)
	if err != nil {
		return nil, err
	}
	total := 0.0
	for _, c := range cells {
		total += c.Rate
	}
	for i := range cells {
		if total > 0 {
			cells[i].Share = cells[i].Rate / total
		}
		cells[i].Rate = cells[i].Share * res.RatePerPeriod
	}
	sort.SliceStable(cells, func(i, j int) bool {
		if cells[i].Rate != cells[j].Rate {
			return cells[i].Rate > cells[j].Rate
		}
		return cells[i].Cell < cells[j].Cell
	})
	if p.TopCells > 0 && len(cells) > p.TopCells {
		cells = cells[:p.TopCells]
	}
	res.TopCells = cells

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.ProjectedHotspots, err = hotspot.Detect(recent, win, p.Hotspot)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// smoothedDensity returns, for every occupied cell and its first ring, the
// cell count plus ringWeight times each neighbour's count.  Rate holds the
// unnormalized density.
func smoothedDensity(ctx context.Context, incidents []incident.Incident, r spatial.Resolution) ([]CellProjection, error) {
	counts := make(map[spatial.CellID]float64)
	for _, inc := range incidents {
		id, err := spatial.CellFor(inc.Location, r)
		if err != nil {
			return nil, err
		}
		counts[id]++
	}

	density := make(map[spatial.CellID]float64, len(counts)*7)
	occupied := make([]spatial.CellID, 0, len(counts))
	for id := range counts {
		occupied = append(occupied, id)
	}
	sort.Slice(occupied, func(i, j int) bool { return occupied[i] < occupied[j] })

	for _, id := range occupied {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := counts[id]
		density[id] += c
		ring, err := spatial.Neighbors(id, 1)
		if err != nil {
			return nil, err
		}
		for _, n := range ring {
			density[n] += ringWeight * c
		}
	}

	out := make([]CellProjection, 0, len(density))
	for id, d := range density {
		center, err := spatial.CellCenter(id)
		if err != nil {
			return nil, err
		}
		out = append(out, CellProjection{Cell: id, Center: center, Rate: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cell < out[j].Cell })
	return out, nil
}
