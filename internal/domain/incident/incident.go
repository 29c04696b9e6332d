// Package incident defines the immutable point-event value that every engine
// component consumes, along with its validation rules.
package incident

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/geo"
)

// Category is the coarse crime-type classification.
type Category string

const (
	CategoryViolent  Category = "violent"
	CategoryProperty Category = "property"
	CategoryDrug     Category = "drug"
	CategoryDisorder Category = "disorder"
)

// Categories returns every category, violent first.
func Categories() []Category {
	return []Category{CategoryViolent, CategoryProperty, CategoryDrug, CategoryDisorder}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryViolent, CategoryProperty, CategoryDrug, CategoryDisorder:
		return true
	}
	return false
}

// ParseCategory normalises s into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", errors.Newf(errors.ErrCodeInvalidCategory, "unknown incident category %q", s)
	}
	return c, nil
}

// EntityKind identifies the type of tracked entity referenced by an incident.
type EntityKind string

const (
	EntityOffender EntityKind = "offender"
	EntityVehicle  EntityKind = "vehicle"
)

// EntityRef links an incident to a tracked offender or vehicle.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// Incident is a single reported event.  Values are never mutated after
// ingestion; every component treats slices of Incident as read-only.
type Incident struct {
	ID           string      `json:"id"`
	OccurredAt   time.Time   `json:"occurred_at"`
	Location     geo.Point   `json:"location"`
	Category     Category    `json:"category"`
	Severity     float64     `json:"severity"`
	Jurisdiction string      `json:"jurisdiction"`
	Entities     []EntityRef `json:"entities,omitempty"`
}

// Validate checks the incident in isolation and against the accepted
// jurisdictions.  A nil or empty JurisdictionSet accepts any jurisdiction.
func (i Incident) Validate(jurisdictions JurisdictionSet) error {
	if !i.Location.Valid() || i.Location.IsZero() {
		return errors.New(errors.ErrCodeInvalidCoordinate, "missing or invalid coordinates").
			WithDetail(fmt.Sprintf("incident=%s location=%s", i.ID, i.Location))
	}
	if !i.Category.Valid() {
		return errors.Newf(errors.ErrCodeInvalidCategory, "unknown incident category %q", i.Category).
			WithDetail("incident=" + i.ID)
	}
	if math.IsNaN(i.Severity) || i.Severity < 0 || i.Severity > 1 {
		return errors.Newf(errors.ErrCodeInvalidSeverity, "severity %.3f outside [0,1]", i.Severity).
			WithDetail("incident=" + i.ID)
	}
	if !jurisdictions.Contains(i.Jurisdiction) {
		return errors.Newf(errors.ErrCodeUnknownJurisdiction, "unknown jurisdiction %q", i.Jurisdiction).
			WithDetail("incident=" + i.ID)
	}
	for _, e := range i.Entities {
		if e.ID == "" || (e.Kind != EntityOffender && e.Kind != EntityVehicle) {
			return errors.NewValidationError("invalid entity reference").
				WithDetail(fmt.Sprintf("incident=%s kind=%q id=%q", i.ID, e.Kind, e.ID))
		}
	}
	return nil
}

// ValidateAll validates every incident and returns the first failure.
func ValidateAll(incidents []Incident, jurisdictions JurisdictionSet) error {
	for _, inc := range incidents {
		if err := inc.Validate(jurisdictions); err != nil {
			return err
		}
	}
	return nil
}

// Points extracts the incident locations.
func Points(incidents []Incident) []geo.Point {
	out := make([]geo.Point, len(incidents))
	for i, inc := range incidents {
		out[i] = inc.Location
	}
	return out
}

// Within returns the incidents whose OccurredAt lies in [start, end).  A zero
// end means unbounded.
func Within(incidents []Incident, start, end time.Time) []Incident {
	out := make([]Incident, 0, len(incidents))
	for _, inc := range incidents {
		if !start.IsZero() && inc.OccurredAt.Before(start) {
			continue
		}
		if !end.IsZero() && !inc.OccurredAt.Before(end) {
			continue
		}
		out = append(out, inc)
	}
	return out
}

// SortedByTime returns a copy ordered by OccurredAt then ID.
func SortedByTime(incidents []Incident) []Incident {
	out := append([]Incident(nil), incidents...)
	sort.SliceStable(out, func(a, b int) bool {
		if !out[a].OccurredAt.Equal(out[b].OccurredAt) {
			return out[a].OccurredAt.Before(out[b].OccurredAt)
		}
		return out[a].ID < out[b].ID
	})
	return out
}
