package risk

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

// TargetKind names what a score is attached to.
type TargetKind string

const (
	TargetCell     TargetKind = "cell"
	TargetZone     TargetKind = "zone"
	TargetOffender TargetKind = "offender"
	TargetVehicle  TargetKind = "vehicle"
)

// FactorHotspotProximity is the component key of the proximity term.
const FactorHotspotProximity = "hotspot_proximity"

// Score is one computed risk value.  Components holds each factor's
// contribution to the raw value before scope normalization.
type Score struct {
	TargetID         string             `json:"target_id"`
	Kind             TargetKind         `json:"kind"`
	Value            float64            `json:"value"`
	Level            Level              `json:"level"`
	InsufficientData bool               `json:"insufficient_data"`
	Raw              float64            `json:"raw"`
	Components       map[string]float64 `json:"components"`
	DominantFactor   string             `json:"dominant_factor,omitempty"`
	IncidentCount    int                `json:"incident_count"`
	AsOf             time.Time          `json:"as_of"`
	ComputedAt       time.Time          `json:"computed_at"`
}

// Stamp sets ComputedAt on every score.
func Stamp(scores []Score, at time.Time) {
	at = at.UTC()
	for i := range scores {
		scores[i].ComputedAt = at
	}
}

// Weights configures area scoring.
type Weights struct {
	Category              map[incident.Category]float64 `json:"category"`
	HalfLife              time.Duration                 `json:"half_life"`
	ProximityRadiusMeters float64                       `json:"proximity_radius_m"`
	// ProximityBoost is nil for the default; zero turns the term off.
	ProximityBoost        *float64                      `json:"proximity_boost,omitempty"`
}

// Boost returns p as a ProximityBoost value.
func Boost(p float64) *float64 { return &p }

func (w Weights) boost() float64 {
	if w.ProximityBoost == nil {
		return 0
	}
	return *w.ProximityBoost
}

// DefaultWeights returns violent 1.0, property 0.6, drug 0.5, disorder 0.3,
// a 30 day half-life and a 0.15 boost within 500 m of a hotspot.
func DefaultWeights() Weights {
	return Weights{
		Category: map[incident.Category]float64{
			incident.CategoryViolent:  1.0,
			incident.CategoryProperty: 0.6,
			incident.CategoryDrug:     0.5,
			incident.CategoryDisorder: 0.3,
		},
		HalfLife:              30 * 24 * time.Hour,
		ProximityRadiusMeters: 500,
		ProximityBoost:        Boost(0.15),
	}
}

// WithDefaults fills unset fields from DefaultWeights.
func (w Weights) WithDefaults() Weights {
	d := DefaultWeights()
	if len(w.Category) == 0 {
		w.Category = d.Category
	}
	if w.HalfLife == 0 {
		w.HalfLife = d.HalfLife
	}
	if w.ProximityRadiusMeters == 0 {
		w.ProximityRadiusMeters = d.ProximityRadiusMeters
	}
	if w.ProximityBoost == nil {
		w.ProximityBoost = d.ProximityBoost
	}
	return w
}

// Validate rejects negative or all-zero category weights and a
// non-positive half-life.
func (w Weights) Validate() error {
	total := 0.0
	for c, v := range w.Category {
		if !c.Valid() {
			return errors.Newf(errors.ErrCodeInvalidWeights, "unknown category %q in weights", c)
		}
		if v < 0 || math.IsNaN(v) {
			return errors.Newf(errors.ErrCodeInvalidWeights, "weight for %s must be non-negative", c)
		}
		total += v
	}
	if total == 0 {
		return errors.New(errors.ErrCodeInvalidWeights, "at least one category weight must be positive")
	}
	if w.HalfLife <= 0 {
		return errors.New(errors.ErrCodeInvalidWeights, "half-life must be positive")
	}
	if w.ProximityRadiusMeters < 0 || w.boost() < 0 || math.IsNaN(w.boost()) {
		return errors.New(errors.ErrCodeInvalidWeights, "proximity radius and boost must be non-negative")
	}
	return nil
}

// Area is a spatial target with the incidents attributed to it.
type Area struct {
	ID        string              `json:"id"`
	Kind      TargetKind          `json:"kind"`
	Center    geo.Point           `json:"center"`
	Incidents []incident.Incident `json:"incidents,omitempty"`
}

// Decay returns 0.5^(age/halfLife); incidents after asOf weigh zero.
func Decay(occurredAt, asOf time.Time, halfLife time.Duration) float64 {
	if occurredAt.After(asOf) {
		return 0
	}
	age := asOf.Sub(occurredAt)
	return math.Pow(0.5, float64(age)/float64(halfLife))
}

// ScoreAreas scores every area relative to the others in the call.  The
// hotspots are the disks considered for the proximity term.  Output order
// matches the input order.
func ScoreAreas(areas []Area, hotspots []geo.Circle, w Weights, asOf time.Time) ([]Score, error) {
	w = w.WithDefaults()
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if err := validateTargets(len(areas), func(i int) string { return areas[i].ID }); err != nil {
		return nil, err
	}

	cats := incident.Categories()
	decayed := make([]map[incident.Category]float64, len(areas))
	counts := make([]int, len(areas))
	maxByCat := make(map[incident.Category]float64, len(cats))
	for i, a := range areas {
		decayed[i] = make(map[incident.Category]float64, len(cats))
		for _, inc := range a.Incidents {
			if inc.OccurredAt.After(asOf) {
				continue
			}
			decayed[i][inc.Category] += Decay(inc.OccurredAt, asOf, w.HalfLife)
			counts[i]++
		}
		for c, v := range decayed[i] {
			if v > maxByCat[c] {
				maxByCat[c] = v
			}
		}
	}

	weightTotal := 0.0
	for _, c := range cats {
		weightTotal += w.Category[c]
	}

	scores := make([]Score, len(areas))
	for i, a := range areas {
		s := Score{TargetID: a.ID, Kind: a.Kind, AsOf: asOf, IncidentCount: counts[i], Components: map[string]float64{}}
		if s.Kind == "" {
			s.Kind = TargetZone
		}
		if counts[i] == 0 {
			s.InsufficientData = true
			scores[i] = s
			continue
		}
		for _, c := range cats {
			if maxByCat[c] == 0 {
				continue
			}
			contrib := w.Category[c] * decayed[i][c] / maxByCat[c] / weightTotal
			if contrib > 0 {
				s.Components[string(c)] = contrib
				s.Raw += contrib
			}
		}
		if boost := w.boost(); boost > 0 && nearHotspot(a.Center, hotspots, w.ProximityRadiusMeters) {
			s.Components[FactorHotspotProximity] = boost
			s.Raw += boost
		}
		s.DominantFactor = dominant(s.Components)
		scores[i] = s
	}

	normalize(scores)
	return scores, nil
}

func nearHotspot(p geo.Point, hotspots []geo.Circle, radius float64) bool {
	if p.IsZero() {
		return false
	}
	for _, h := range hotspots {
		if geo.DistanceMeters(p, h.Center) <= h.RadiusMeters+radius {
			return true
		}
	}
	return false
}

// normalize applies min-max scaling over the scores with history.  A zero
// range keeps the raw value clamped to [0,1].
func normalize(scores []Score) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range scores {
		if s.InsufficientData {
			continue
		}
		lo = math.Min(lo, s.Raw)
		hi = math.Max(hi, s.Raw)
	}
	for i := range scores {
		s := &scores[i]
		if s.InsufficientData {
			s.Value = 0
			s.Level = LevelFor(0)
			continue
		}
		if hi-lo > 1e-12 {
			s.Value = (s.Raw - lo) / (hi - lo)
		} else {
			s.Value = clamp01(s.Raw)
		}
		s.Value = clamp01(s.Value)
		s.Level = LevelFor(s.Value)
	}
}

func dominant(components map[string]float64) string {
	keys := make([]string, 0, len(components))
	for k := range components {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	best, bestV := "", 0.0
	for _, k := range keys {
		if components[k] > bestV {
			best, bestV = k, components[k]
		}
	}
	return best
}

func validateTargets(n int, id func(int) string) error {
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		t := id(i)
		if t == "" {
			return errors.New(errors.ErrCodeInvalidTarget, fmt.Sprintf("target %d has an empty id", i))
		}
		if _, dup := seen[t]; dup {
			return errors.Newf(errors.ErrCodeInvalidTarget, "duplicate target id %q", t)
		}
		seen[t] = struct{}{}
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ─────────────────────────────────────────────────────────────────────────────
// Area builders
// ─────────────────────────────────────────────────────────────────────────────

// AreasFromCells groups incidents by H3 cell at r.  Incidents with invalid
// coordinates are skipped; callers that need rejections use spatial.Bin.
func AreasFromCells(incidents []incident.Incident, r spatial.Resolution) ([]Area, error) {
	if !r.Valid() {
		return nil, errors.Newf(errors.ErrCodeInvalidResolution, "unsupported resolution %d", int(r))
	}
	groups := spatial.CellsOf(incidents, r)
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	areas := make([]Area, 0, len(ids))
	for _, id := range ids {
		center, err := spatial.CellCenter(spatial.CellID(id))
		if err != nil {
			return nil, err
		}
		idx := groups[spatial.CellID(id)]
		members := make([]incident.Incident, len(idx))
		for j, k := range idx {
			members[j] = incidents[k]
		}
		areas = append(areas, Area{ID: id, Kind: TargetCell, Center: center, Incidents: members})
	}
	return areas, nil
}

// Site is a named point with a catchment radius, such as a zone centre.
type Site struct {
	ID           string    `json:"id"`
	Center       geo.Point `json:"center"`
	RadiusMeters float64   `json:"radius_m"`
}

// AreasFromSites attributes each incident to every site whose catchment
// contains it.
func AreasFromSites(sites []Site, incidents []incident.Incident) []Area {
	areas := make([]Area, len(sites))
	for i, s := range sites {
		areas[i] = Area{ID: s.ID, Kind: TargetZone, Center: s.Center}
		for _, inc := range incidents {
			if geo.DistanceMeters(s.Center, inc.Location) <= s.RadiusMeters {
				areas[i].Incidents = append(areas[i].Incidents, inc)
			}
		}
	}
	return areas
}
