package risk

import (
	"math"
	"sort"
	"time"

	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/incident"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
)

// Entity factor keys.
const (
	FactorEscalation  = "escalation"
	FactorRepeat      = "repeat_incidents"
	FactorAffiliation = "affiliation"
)

// EntityWeights configures entity scoring.
type EntityWeights struct {
	Escalation  float64       `json:"escalation"`
	Repeat      float64       `json:"repeat"`
	Affiliation float64       `json:"affiliation"`
	HalfLife    time.Duration `json:"half_life"`
}

// DefaultEntityWeights returns escalation 0.4, repeat 0.4, affiliation 0.2.
func DefaultEntityWeights() EntityWeights {
	return EntityWeights{Escalation: 0.4, Repeat: 0.4, Affiliation: 0.2, HalfLife: 30 * 24 * time.Hour}
}

func (w EntityWeights) withDefaults() EntityWeights {
	if w.Escalation == 0 && w.Repeat == 0 && w.Affiliation == 0 {
		d := DefaultEntityWeights()
		d.HalfLife = w.HalfLife
		w = d
	}
	if w.HalfLife == 0 {
		w.HalfLife = DefaultEntityWeights().HalfLife
	}
	return w
}

// EntityProfile is a tracked offender or vehicle with its history.
type EntityProfile struct {
	ID           string              `json:"id"`
	Kind         incident.EntityKind `json:"kind"`
	Incidents    []incident.Incident `json:"incidents,omitempty"`
	Affiliations []string            `json:"affiliations,omitempty"`
}

// ScoreEntities scores profiles relative to each other.  Output order
// matches the input order.
func ScoreEntities(profiles []EntityProfile, w EntityWeights, asOf time.Time) ([]Score, error) {
	w = w.withDefaults()
	if w.Escalation < 0 || w.Repeat < 0 || w.Affiliation < 0 {
		return nil, errors.New(errors.ErrCodeInvalidWeights, "entity weights must be non-negative")
	}
	if w.HalfLife < 0 {
		return nil, errors.New(errors.ErrCodeInvalidWeights, "half-life must be positive")
	}
	if err := validateTargets(len(profiles), func(i int) string { return profiles[i].ID }); err != nil {
		return nil, err
	}
	for _, p := range profiles {
		if p.Kind != incident.EntityOffender && p.Kind != incident.EntityVehicle {
			return nil, errors.Newf(errors.ErrCodeInvalidTarget, "entity %s has unknown kind %q", p.ID, p.Kind)
		}
	}

	type inputs struct {
		escalation, repeat float64
		affiliation        float64
		count              int
	}
	in := make([]inputs, len(profiles))
	maxRepeat, maxAff := 0.0, 0.0
	for i, p := range profiles {
		var past []incident.Incident
		for _, inc := range p.Incidents {
			if !inc.OccurredAt.After(asOf) {
				past = append(past, inc)
			}
		}
		in[i].count = len(past)
		in[i].escalation = escalation(past)
		for _, inc := range past {
			in[i].repeat += Decay(inc.OccurredAt, asOf, w.HalfLife)
		}
		in[i].affiliation = float64(len(p.Affiliations))
		if len(past) > 0 {
			maxRepeat = math.Max(maxRepeat, in[i].repeat)
			maxAff = math.Max(maxAff, in[i].affiliation)
		}
	}

	total := w.Escalation + w.Repeat + w.Affiliation
	scores := make([]Score, len(profiles))
	for i, p := range profiles {
		s := Score{TargetID: p.ID, Kind: TargetKind(p.Kind), AsOf: asOf, IncidentCount: in[i].count, Components: map[string]float64{}}
		if in[i].count == 0 {
			s.InsufficientData = true
			scores[i] = s
			continue
		}
		add := func(key string, weight, v float64) {
			if c := weight * v / total; c > 0 {
				s.Components[key] = c
				s.Raw += c
			}
		}
		add(FactorEscalation, w.Escalation, in[i].escalation)
		if maxRepeat > 0 {
			add(FactorRepeat, w.Repeat, in[i].repeat/maxRepeat)
		}
		if maxAff > 0 {
			add(FactorAffiliation, w.Affiliation, in[i].affiliation/maxAff)
		}
		s.DominantFactor = dominant(s.Components)
		scores[i] = s
	}
	normalize(scores)
	return scores, nil
}

// escalation is the least-squares slope of severity against time in days,
// squashed with tanh over a 30 day horizon.  Flat or falling trends give 0.
func escalation(incs []incident.Incident) float64 {
	if len(incs) < 2 {
		return 0
	}
	sorted := incident.SortedByTime(incs)
	t0 := sorted[0].OccurredAt
	xs := make([]float64, len(sorted))
	ys := make([]float64, len(sorted))
	for i, inc := range sorted {
		xs[i] = inc.OccurredAt.Sub(t0).Hours() / 24
		ys[i] = inc.Severity
	}
	slope, _, ok := LeastSquares(xs, ys)
	if !ok || slope <= 0 {
		return 0
	}
	return math.Tanh(slope * 30)
}

// LeastSquares fits y = slope·x + intercept.  ok is false when x has no
// variance.
func LeastSquares(xs, ys []float64) (slope, intercept float64, ok bool) {
	n := float64(len(xs))
	if len(xs) < 2 || len(xs) != len(ys) {
		return 0, 0, false
	}
	var sx, sy float64
	for i := range xs {
		sx += xs[i]
		sy += ys[i]
	}
	mx, my := sx/n, sy/n
	var sxx, sxy float64
	for i := range xs {
		dx := xs[i] - mx
		sxx += dx * dx
		sxy += dx * (ys[i] - my)
	}
	if sxx == 0 {
		return 0, my, false
	}
	slope = sxy / sxx
	return slope, my - slope*mx, true
}

// BuildEntityProfiles groups incidents by referenced entity.  affiliations
// maps entity id to its flags.  Profiles are sorted by kind then id.
func BuildEntityProfiles(incidents []incident.Incident, affiliations map[string][]string) []EntityProfile {
	byKey := make(map[incident.EntityRef]*EntityProfile)
	for _, inc := range incidents {
		for _, ref := range inc.Entities {
			p, ok := byKey[ref]
			if !ok {
				p = &EntityProfile{ID: ref.ID, Kind: ref.Kind, Affiliations: affiliations[ref.ID]}
				byKey[ref] = p
			}
			p.Incidents = append(p.Incidents, inc)
		}
	}
	out := make([]EntityProfile, 0, len(byKey))
	for _, p := range byKey {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out
}
