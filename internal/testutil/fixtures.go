package testutil

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/allocation"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/incident"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/geo"
)

// Fixture reference values.  Every generator is seeded so the same call
// always yields the same data.
var (
	Origin = geo.Point{Lat: 41.8781, Lon: -87.6298}
	AsOf   = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
)

// Jurisdictions used by the fixtures.
const (
	JurisdictionNorth = "north"
	JurisdictionSouth = "south"
)

// Generator produces synthetic incidents, zones and resources.  It is for
// tests only and never substitutes for real data.
type Generator struct {
	rng *rand.Rand
	seq int
}

// NewGenerator returns a Generator seeded with seed.
func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

func (g *Generator) nextID(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s-%04d", prefix, g.seq)
}

// Scatter places n incidents uniformly within radius of center, spread over
// the span before end.
func (g *Generator) Scatter(n int, center geo.Point, radiusMeters float64, end time.Time, span time.Duration) []incident.Incident {
	cats := incident.Categories()
	out := make([]incident.Incident, n)
	for i := range out {
		north := (g.rng.Float64()*2 - 1) * radiusMeters
		east := (g.rng.Float64()*2 - 1) * radiusMeters
		jur := JurisdictionNorth
		if north < 0 {
			jur = JurisdictionSouth
		}
		out[i] = incident.Incident{
			ID:           g.nextID("inc"),
			OccurredAt:   end.Add(-time.Duration(g.rng.Int63n(int64(span)))),
			Location:     geo.Offset(center, north, east),
			Category:     cats[g.rng.Intn(len(cats))],
			Severity:     0.2 * float64(1+g.rng.Intn(5)),
			Jurisdiction: jur,
		}
		if i%5 == 0 {
			out[i].Entities = []incident.EntityRef{{Kind: incident.EntityOffender, ID: fmt.Sprintf("off-%d", g.rng.Intn(4))}}
		}
	}
	return out
}

// Cluster places n incidents in a tight line 20 m apart heading north from
// center, all at the given time.
func (g *Generator) Cluster(center geo.Point, n int, cat incident.Category, severity float64, at time.Time) []incident.Incident {
	out := make([]incident.Incident, n)
	for i := range out {
		out[i] = incident.Incident{
			ID:           g.nextID("hs"),
			OccurredAt:   at.Add(-time.Duration(i) * time.Hour),
			Location:     geo.Offset(center, float64(i)*20, 0),
			Category:     cat,
			Severity:     severity,
			Jurisdiction: JurisdictionNorth,
		}
	}
	return out
}

// Weekly emits counts[k] incidents in week k of the series ending at end,
// oldest week first, all within 200 m of center.
func (g *Generator) Weekly(center geo.Point, counts []int, end time.Time) []incident.Incident {
	var out []incident.Incident
	week := 7 * 24 * time.Hour
	for k, c := range counts {
		start := end.Add(-time.Duration(len(counts)-k) * week)
		for i := 0; i < c; i++ {
			out = append(out, incident.Incident{
				ID:           g.nextID("wk"),
				OccurredAt:   start.Add(time.Duration(i+1) * time.Hour),
				Location:     geo.Offset(center, (g.rng.Float64()*2-1)*200, (g.rng.Float64()*2-1)*200),
				Category:     incident.CategoryProperty,
				Severity:     0.6,
				Jurisdiction: JurisdictionNorth,
			})
		}
	}
	return out
}

// Zones lays out a rows x cols grid of zones 2 km apart starting at Origin.
// Coverage alternates between under- and over-covered.
func (g *Generator) Zones(rows, cols int) []allocation.Zone {
	out := make([]allocation.Zone, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			i := len(out)
			cov := 0.4
			if i%2 == 1 {
				cov = 0.9
			}
			out = append(out, allocation.Zone{
				ID:              fmt.Sprintf("z%02d", i),
				Name:            fmt.Sprintf("Zone %d-%d", r, c),
				Center:          geo.Offset(Origin, float64(r)*2000, float64(c)*2000),
				CurrentCoverage: cov,
				TargetCoverage:  0.7,
				DemandLevel:     float64(1 + g.rng.Intn(10)),
				Population:      10000 + g.rng.Intn(40000),
			})
		}
	}
	return out
}

// Resources places perZone patrol units in every zone.
func (g *Generator) Resources(zones []allocation.Zone, perZone int) []allocation.Resource {
	var out []allocation.Resource
	for _, z := range zones {
		for i := 0; i < perZone; i++ {
			out = append(out, allocation.Resource{
				ID:          g.nextID("unit"),
				Type:        "patrol",
				CurrentZone: z.ID,
				Capacity:    0.25,
				Utilization: g.rng.Float64(),
				CostPerHour: 40 + float64(g.rng.Intn(40)),
				Status:      allocation.ResourceAvailable,
			})
		}
	}
	return out
}

// Dataset is a complete fixture for engine-level tests.
type Dataset struct {
	Zones         []allocation.Zone
	Resources     []allocation.Resource
	Incidents     []incident.Incident
	Jurisdictions []string
}

// City builds a small deterministic city: a 2x2 zone grid, two units per
// zone, background noise and one dense violent cluster at Origin.
func City(seed int64) Dataset {
	g := NewGenerator(seed)
	zones := g.Zones(2, 2)
	incs := g.Scatter(60, Origin, 3000, AsOf, 60*24*time.Hour)
	incs = append(incs, g.Cluster(Origin, 8, incident.CategoryViolent, 0.9, AsOf.Add(-2*24*time.Hour))...)
	return Dataset{
		Zones:         zones,
		Resources:     g.Resources(zones, 2),
		Incidents:     incs,
		Jurisdictions: []string{JurisdictionNorth, JurisdictionSouth},
	}
}
