// Package hotspot clusters incident points into hotspots and tracks those
// hotspots across successive periods.
package hotspot

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/incident"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/spatial"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/geo"
)

// Status is the heat band of a hotspot.
type Status string

const (
	StatusHot  Status = "hot"
	StatusWarm Status = "warm"
	StatusCool Status = "cool"
	StatusCold Status = "cold"
)

// StatusFor bands a heat value in [0,1].
func StatusFor(heat float64) Status {
	switch {
	case heat >= 0.75:
		return StatusHot
	case heat >= 0.5:
		return StatusWarm
	case heat >= 0.25:
		return StatusCool
	default:
		return StatusCold
	}
}

// TimeWindow is a half-open [Start, End) interval; zero bounds are open.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	return true
}

// Params configures Detect.
type Params struct {
	EpsilonMeters   float64                       `json:"epsilon_m"`
	MinClusterSize  int                           `json:"min_cluster_size"`
	MinRadiusMeters float64                       `json:"min_radius_m"`
	CategoryWeights map[incident.Category]float64 `json:"category_weights,omitempty"`
}

// DefaultParams links incidents within 250 m and keeps clusters of five or
// more.
func DefaultParams() Params {
	return Params{
		EpsilonMeters:   250,
		MinClusterSize:  5,
		MinRadiusMeters: 50,
		CategoryWeights: map[incident.Category]float64{
			incident.CategoryViolent:  1.0,
			incident.CategoryProperty: 0.6,
			incident.CategoryDrug:     0.5,
			incident.CategoryDisorder: 0.3,
		},
	}
}

// WithDefaults fills zero fields from DefaultParams.
func (p Params) WithDefaults() Params {
	d := DefaultParams()
	if p.EpsilonMeters == 0 {
		p.EpsilonMeters = d.EpsilonMeters
	}
	if p.MinClusterSize == 0 {
		p.MinClusterSize = d.MinClusterSize
	}
	if p.MinRadiusMeters == 0 {
		p.MinRadiusMeters = d.MinRadiusMeters
	}
	if len(p.CategoryWeights) == 0 {
		p.CategoryWeights = d.CategoryWeights
	}
	return p
}

// Validate rejects non-positive epsilon and cluster size.
func (p Params) Validate() error {
	if p.EpsilonMeters <= 0 || math.IsNaN(p.EpsilonMeters) {
		return errors.New(errors.ErrCodeInvalidClusterParams, "epsilon must be positive")
	}
	if p.MinClusterSize < 1 {
		return errors.New(errors.ErrCodeInvalidClusterParams, "min_cluster_size must be at least 1")
	}
	if p.MinRadiusMeters < 0 {
		return errors.New(errors.ErrCodeInvalidClusterParams, "min_radius must be non-negative")
	}
	return nil
}

// Hotspot is one qualifying cluster.
type Hotspot struct {
	ID                   string                        `json:"id"`
	Centroid             geo.Point                     `json:"centroid"`
	RadiusMeters         float64                       `json:"radius_m"`
	IncidentCount        int                           `json:"incident_count"`
	CategoryDistribution map[incident.Category]float64 `json:"category_distribution"`
	SeverityScore        float64                       `json:"severity_score"`
	Heat                 float64                       `json:"heat"`
	Status               Status                        `json:"status"`
	IncidentIDs          []string                      `json:"incident_ids"`
	Window               TimeWindow                    `json:"window"`
}

// Circle is the hotspot footprint.
func (h Hotspot) Circle() geo.Circle {
	return geo.Circle{Center: h.Centroid, RadiusMeters: h.RadiusMeters}
}

// Circles returns the footprints of hs.
func Circles(hs []Hotspot) []geo.Circle {
	out := make([]geo.Circle, len(hs))
	for i, h := range hs {
		out[i] = h.Circle()
	}
	return out
}

// Detect clusters the incidents inside window.  Two incidents are linked when
// within EpsilonMeters of each other; linked components of at least
// MinClusterSize members become hotspots, ordered by centroid latitude then
// longitude.  Any invalid incident fails the call.
func Detect(incidents []incident.Incident, window TimeWindow, p Params) ([]Hotspot, error) {
	p = p.WithDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if !window.Start.IsZero() && !window.End.IsZero() && !window.End.After(window.Start) {
		return nil, errors.New(errors.ErrCodeInvalidWindow, "window end must be after start")
	}
	if err := incident.ValidateAll(incidents, nil); err != nil {
		return nil, err
	}

	members := make([]incident.Incident, 0, len(incidents))
	for _, inc := range incidents {
		if window.Contains(inc.OccurredAt) {
			members = append(members, inc)
		}
	}
	if len(members) < p.MinClusterSize {
		return []Hotspot{}, nil
	}

	components := cluster(incident.Points(members), p.EpsilonMeters)

	out := make([]Hotspot, 0, len(components))
	for _, comp := range components {
		if len(comp) < p.MinClusterSize {
			continue
		}
		out = append(out, summarize(members, comp, window, p))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Centroid.Lat != out[j].Centroid.Lat {
			return out[i].Centroid.Lat < out[j].Centroid.Lat
		}
		return out[i].Centroid.Lon < out[j].Centroid.Lon
	})
	for i := range out {
		cell, err := spatial.CellFor(out[i].Centroid, spatial.ResolutionNeighborhood)
		if err != nil {
			return nil, err
		}
		out[i].ID = fmt.Sprintf("hs-%d-%s", i+1, cell)
	}
	return out, nil
}

func summarize(members []incident.Incident, comp []int, window TimeWindow, p Params) Hotspot {
	pts := make([]geo.Point, len(comp))
	ids := make([]string, len(comp))
	cats := make(map[incident.Category]float64)
	sev := 0.0
	for k, idx := range comp {
		m := members[idx]
		pts[k] = m.Location
		ids[k] = m.ID
		cats[m.Category]++
		w := p.CategoryWeights[m.Category]
		sev += m.Severity * math.Min(1, w)
	}
	n := float64(len(comp))
	for c := range cats {
		cats[c] /= n
	}
	sort.Strings(ids)

	centroid := geo.Centroid(pts)
	radius := 0.0
	for _, pt := range pts {
		radius = math.Max(radius, geo.DistanceMeters(centroid, pt))
	}
	radius = math.Max(radius, p.MinRadiusMeters)

	severity := sev / n
	heat := 0.5*severity + 0.5*math.Min(1, n/(4*float64(p.MinClusterSize)))

	return Hotspot{
		Centroid:             centroid,
		RadiusMeters:         radius,
		IncidentCount:        len(comp),
		CategoryDistribution: cats,
		SeverityScore:        severity,
		Heat:                 heat,
		Status:               StatusFor(heat),
		IncidentIDs:          ids,
		Window:               window,
	}
}

// cluster returns the single-linkage components of pts at distance eps.  A
// degree grid whose cells are at least eps wide everywhere in the input
// limits distance checks to the 3x3 neighbourhood; the 1% margin absorbs the
// difference between the flat degree length and the haversine sphere.  Each
// component lists indices ascending.
func cluster(pts []geo.Point, eps float64) [][]int {
	maxAbsLat := 0.0
	for _, p := range pts {
		maxAbsLat = math.Max(maxAbsLat, math.Abs(p.Lat))
	}
	dLat, dLon := geo.DegreesForMeters(eps*1.01, math.Min(maxAbsLat, 89))

	type key struct{ x, y int64 }
	keyOf := func(p geo.Point) key {
		return key{int64(math.Floor(p.Lat / dLat)), int64(math.Floor(p.Lon / dLon))}
	}
	grid := make(map[key][]int, len(pts))
	for i, p := range pts {
		k := keyOf(p)
		grid[k] = append(grid[k], i)
	}

	uf := newUnionFind(len(pts))
	for i, p := range pts {
		k := keyOf(p)
		for dx := int64(-1); dx <= 1; dx++ {
			for dy := int64(-1); dy <= 1; dy++ {
				for _, j := range grid[key{k.x + dx, k.y + dy}] {
					if j <= i {
						continue
					}
					if geo.DistanceMeters(p, pts[j]) <= eps {
						uf.union(i, j)
					}
				}
			}
		}
	}

	byRoot := make(map[int][]int)
	for i := range pts {
		r := uf.find(i)
		byRoot[r] = append(byRoot[r], i)
	}
	out := make([][]int, 0, len(byRoot))
	for _, comp := range byRoot {
		out = append(out, comp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a][0] < out[b][0] })
	return out
}

type unionFind struct{ parent, rank []int }

func newUnionFind(n int) *unionFind {
	u := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range u.parent {
		u.parent[i] = i
	}
	return u
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}
