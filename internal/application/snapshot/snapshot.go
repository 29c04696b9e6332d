// Package snapshot holds the immutable reference data (zones, resources,
// recent incidents, jurisdictions) that engine operations read, and the
// single refresher that replaces it.
package snapshot

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/allocation"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/incident"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/risk"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/geo"
)

// Data is the raw content a Source loads.
type Data struct {
	Zones         []allocation.Zone     `json:"zones"`
	Resources     []allocation.Resource `json:"resources"`
	Incidents     []incident.Incident   `json:"incidents"`
	Jurisdictions []string              `json:"jurisdictions"`
	// Affiliations maps offender or vehicle id to its gang/network flags.
	Affiliations map[string][]string `json:"affiliations,omitempty"`
}

// Snapshot is one published version of the reference data.  A Snapshot is
// never modified after Store.Swap returns it; callers must not mutate the
// slices they read from it.
type Snapshot struct {
	Version  uint64    `json:"version"`
	Label    string    `json:"label"`
	LoadedAt time.Time `json:"loaded_at"`
	Data
	// Rejected counts the rows left out because they failed validation;
	// Problems holds the first few reasons.
	Rejected Rejected `json:"rejected"`
	Problems []string `json:"problems,omitempty"`

	jurisdictions incident.JurisdictionSet
	zoneIndex     map[string]int
}

// Info is the summary reported by SnapshotInfo.
type Info struct {
	Version       uint64    `json:"version"`
	Label         string    `json:"label"`
	LoadedAt      time.Time `json:"loaded_at"`
	Zones         int       `json:"zones"`
	Resources     int       `json:"resources"`
	Incidents     int       `json:"incidents"`
	Jurisdictions []string  `json:"jurisdictions"`
	Rejected      Rejected  `json:"rejected"`
}

// Rejected counts reference rows that failed validation on load.
type Rejected struct {
	Zones     int `json:"zones"`
	Resources int `json:"resources"`
	Incidents int `json:"incidents"`
}

// Total is the number of rejected rows of every kind.
func (r Rejected) Total() int { return r.Zones + r.Resources + r.Incidents }

// Info summarizes s.
func (s *Snapshot) Info() Info {
	return Info{
		Version:       s.Version,
		Label:         s.Label,
		LoadedAt:      s.LoadedAt,
		Zones:         len(s.Zones),
		Resources:     len(s.Resources),
		Incidents:     len(s.Incidents),
		Jurisdictions: s.jurisdictions.IDs(),
		Rejected:      s.Rejected,
	}
}

// JurisdictionSet returns the accepted jurisdictions.
func (s *Snapshot) JurisdictionSet() incident.JurisdictionSet { return s.jurisdictions }

// Zone looks up a zone by id.
func (s *Snapshot) Zone(id string) (allocation.Zone, bool) {
	i, ok := s.zoneIndex[id]
	if !ok {
		return allocation.Zone{}, false
	}
	return s.Zones[i], true
}

// Locate returns the centre of the zone with the given id.
func (s *Snapshot) Locate(id string) (geo.Point, bool) {
	z, ok := s.Zone(id)
	return z.Center, ok
}

// Sites turns every zone into a scoring site with the given catchment.
func (s *Snapshot) Sites(radiusMeters float64) []risk.Site {
	out := make([]risk.Site, len(s.Zones))
	for i, z := range s.Zones {
		out[i] = risk.Site{ID: z.ID, Center: z.Center, RadiusMeters: radiusMeters}
	}
	return out
}

// IncidentsSince returns the incidents at or after t.  The returned slice
// shares no backing array with the snapshot.
func (s *Snapshot) IncidentsSince(t time.Time) []incident.Incident {
	return incident.Within(s.Incidents, t, time.Time{})
}

// ─────────────────────────────────────────────────────────────────────────────
// Store
// ─────────────────────────────────────────────────────────────────────────────

// Store publishes snapshots.  Load is wait-free; Swap may be called by one
// writer at a time.
type Store struct {
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
}

// NewStore returns an empty Store.  Load fails until the first Swap.
func NewStore() *Store { return &Store{} }

// Load returns the current snapshot.
func (s *Store) Load() (*Snapshot, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, errors.New(errors.ErrCodeSnapshotUnavailable, "reference snapshot not loaded yet")
	}
	return snap, nil
}

// Ready reports whether a snapshot has been published.
func (s *Store) Ready() bool { return s.current.Load() != nil }

// Swap deep-copies d into a new snapshot with the next version and publishes
// it.  Zones, resources and incidents that fail validation are left out and
// counted in Rejected, so operations only ever read valid reference rows.
// Readers holding the previous snapshot keep seeing it unchanged.
func (s *Store) Swap(d Data, at time.Time) *Snapshot {
	snap := &Snapshot{
		Version:  s.version.Add(1),
		Label:    uuid.NewString(),
		LoadedAt: at.UTC(),
		Data:     clone(d),
	}
	snap.jurisdictions = incident.NewJurisdictionSet(snap.Jurisdictions...)
	snap.sanitize()
	snap.zoneIndex = make(map[string]int, len(snap.Zones))
	for i, z := range snap.Zones {
		snap.zoneIndex[z.ID] = i
	}
	s.current.Store(snap)
	return snap
}

const maxProblems = 10

func (s *Snapshot) reject(err error) {
	if len(s.Problems) < maxProblems {
		s.Problems = append(s.Problems, err.Error())
	}
}

// sanitize filters the cloned rows in place.
func (s *Snapshot) sanitize() {
	zones := s.Zones[:0]
	seenZone := make(map[string]bool, len(s.Zones))
	for _, z := range s.Zones {
		err := z.Validate()
		if err == nil && seenZone[z.ID] {
			err = errors.Newf(errors.ErrCodeInvalidZone, "duplicate zone %q", z.ID)
		}
		if err != nil {
			s.Rejected.Zones++
			s.reject(err)
			continue
		}
		seenZone[z.ID] = true
		zones = append(zones, z)
	}
	s.Zones = zones

	resources := s.Resources[:0]
	seenRes := make(map[string]bool, len(s.Resources))
	for _, r := range s.Resources {
		err := r.Validate()
		switch {
		case err != nil:
		case seenRes[r.ID]:
			err = errors.Newf(errors.ErrCodeInvalidResource, "duplicate resource %q", r.ID)
		case !seenZone[r.CurrentZone]:
			err = errors.Newf(errors.ErrCodeInvalidResource, "resource %q is in unknown zone %q", r.ID, r.CurrentZone)
		}
		if err != nil {
			s.Rejected.Resources++
			s.reject(err)
			continue
		}
		seenRes[r.ID] = true
		resources = append(resources, r)
	}
	s.Resources = resources

	incidents := s.Incidents[:0]
	for _, inc := range s.Incidents {
		if err := inc.Validate(s.jurisdictions); err != nil {
			s.Rejected.Incidents++
			s.reject(err)
			continue
		}
		incidents = append(incidents, inc)
	}
	s.Incidents = incidents
}

func clone(d Data) Data {
	out := Data{
		Zones:         make([]allocation.Zone, len(d.Zones)),
		Resources:     append([]allocation.Resource(nil), d.Resources...),
		Incidents:     make([]incident.Incident, len(d.Incidents)),
		Jurisdictions: append([]string(nil), d.Jurisdictions...),
	}
	for i, z := range d.Zones {
		z.AcceptedTypes = append([]string(nil), z.AcceptedTypes...)
		out.Zones[i] = z
	}
	for i, inc := range d.Incidents {
		inc.Entities = append([]incident.EntityRef(nil), inc.Entities...)
		out.Incidents[i] = inc
	}
	out.Incidents = incident.SortedByTime(out.Incidents)
	sort.Strings(out.Jurisdictions)
	if len(d.Affiliations) > 0 {
		out.Affiliations = make(map[string][]string, len(d.Affiliations))
		for k, v := range d.Affiliations {
			out.Affiliations[k] = append([]string(nil), v...)
		}
	}
	return out
}
