// Package event defines the typed events the engine emits and the port
// through which they leave it.
package event

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/forecast"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/hotspot"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/patrol"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/risk"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/geo"
)

// Type names an event kind.
type Type string

const (
	TypeZoneRiskUpdate    Type = "zone_risk_update"
	TypeNewHotspot        Type = "new_hotspot"
	TypeTacticalAlert     Type = "tactical_alert"
	TypePredictedCluster  Type = "predicted_cluster"
	TypePatrolRouteUpdate Type = "patrol_route_update"
)

// Types lists every event type.
func Types() []Type {
	return []Type{TypeZoneRiskUpdate, TypeNewHotspot, TypeTacticalAlert, TypePredictedCluster, TypePatrolRouteUpdate}
}

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	for _, x := range Types() {
		if t == x {
			return true
		}
	}
	return false
}

// Event is one engine notification.  Payload holds one of the payload
// structs below, matching Type.
type Event struct {
	ID              string    `json:"id"`
	Type            Type      `json:"type"`
	Engine          string    `json:"engine"`
	ConfigVersion   string    `json:"config_version"`
	SnapshotVersion uint64    `json:"snapshot_version"`
	OccurredAt      time.Time `json:"occurred_at"`
	Payload         any       `json:"payload"`
}

// Source identifies the computation that produced an event.
type Source struct {
	Engine          string
	ConfigVersion   string
	SnapshotVersion uint64
}

func (s Source) newEvent(t Type, payload any, at time.Time) Event {
	return Event{
		ID:              uuid.NewString(),
		Type:            t,
		Engine:          s.Engine,
		ConfigVersion:   s.ConfigVersion,
		SnapshotVersion: s.SnapshotVersion,
		OccurredAt:      at.UTC(),
		Payload:         payload,
	}
}

// ZoneRiskUpdate carries a recomputed area score.
type ZoneRiskUpdate struct {
	Score risk.Score `json:"score"`
}

// NewHotspot announces a detected hotspot.
type NewHotspot struct {
	Hotspot hotspot.Hotspot `json:"hotspot"`
}

// AlertSeverity grades tactical alerts.
type AlertSeverity string

const (
	AlertWarning  AlertSeverity = "warning"
	AlertCritical AlertSeverity = "critical"
)

// TacticalAlert flags a target that needs immediate attention.
type TacticalAlert struct {
	Severity   AlertSeverity `json:"severity"`
	Title      string        `json:"title"`
	Message    string        `json:"message"`
	Location   *geo.Point    `json:"location,omitempty"`
	TargetID   string        `json:"target_id"`
	RiskLevel  risk.Level    `json:"risk_level"`
	RelatedIDs []string      `json:"related_ids,omitempty"`
}

// PredictedCluster is a hotspot projected by the spatial forecast.
type PredictedCluster struct {
	Hotspot    hotspot.Hotspot `json:"hotspot"`
	Start      time.Time       `json:"window_start"`
	End        time.Time       `json:"window_end"`
	Confidence float64         `json:"confidence"`
}

// PatrolRouteUpdate carries a freshly optimized route.
type PatrolRouteUpdate struct {
	UnitID string       `json:"unit_id,omitempty"`
	Route  patrol.Route `json:"route"`
}

// Publisher delivers events.  Implementations must be safe for concurrent
// use.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, ...Event) error { return nil }

// ─────────────────────────────────────────────────────────────────────────────
// Builders
// ─────────────────────────────────────────────────────────────────────────────

// ZoneRiskUpdates emits one event per score that has incident history.
func (s Source) ZoneRiskUpdates(scores []risk.Score, at time.Time) []Event {
	var out []Event
	for _, sc := range scores {
		if sc.InsufficientData {
			continue
		}
		out = append(out, s.newEvent(TypeZoneRiskUpdate, ZoneRiskUpdate{Score: sc}, at))
	}
	return out
}

// TacticalAlerts emits an alert for every score at or above minLevel.
// Critical scores raise critical alerts, the rest warnings.
func (s Source) TacticalAlerts(scores []risk.Score, locate func(id string) (geo.Point, bool), minLevel risk.Level, at time.Time) []Event {
	var out []Event
	for _, sc := range scores {
		if sc.InsufficientData || !sc.Level.AtLeast(minLevel) {
			continue
		}
		a := TacticalAlert{
			Severity:  AlertWarning,
			Title:     fmt.Sprintf("%s risk at %s", sc.Level, sc.TargetID),
			Message:   fmt.Sprintf("%s %s scored %.2f, driven by %s", sc.Kind, sc.TargetID, sc.Value, sc.DominantFactor),
			TargetID:  sc.TargetID,
			RiskLevel: sc.Level,
		}
		if sc.Level == risk.LevelCritical {
			a.Severity = AlertCritical
		}
		if locate != nil {
			if p, ok := locate(sc.TargetID); ok {
				a.Location = &p
			}
		}
		out = append(out, s.newEvent(TypeTacticalAlert, a, at))
	}
	return out
}

// NewHotspots emits one event per hotspot.
func (s Source) NewHotspots(hs []hotspot.Hotspot, at time.Time) []Event {
	out := make([]Event, 0, len(hs))
	for _, h := range hs {
		out = append(out, s.newEvent(TypeNewHotspot, NewHotspot{Hotspot: h}, at))
	}
	return out
}

// PredictedClusters emits the projected hotspots of a forecast window.
func (s Source) PredictedClusters(w *forecast.Window, at time.Time) []Event {
	if w == nil || w.Spatial == nil {
		return nil
	}
	out := make([]Event, 0, len(w.Spatial.ProjectedHotspots))
	for _, h := range w.Spatial.ProjectedHotspots {
		out = append(out, s.newEvent(TypePredictedCluster, PredictedCluster{
			Hotspot: h, Start: w.Start, End: w.End, Confidence: w.Confidence,
		}, at))
	}
	return out
}

// PatrolRoute emits a route update unless the route is empty.
func (s Source) PatrolRoute(unitID string, r *patrol.Route, at time.Time) []Event {
	if r == nil || r.Status == patrol.StatusEmpty {
		return nil
	}
	return []Event{s.newEvent(TypePatrolRouteUpdate, PatrolRouteUpdate{UnitID: unitID, Route: *r}, at)}
}

// Validate checks the envelope fields a transport relies on.
func (e Event) Validate() error {
	if e.ID == "" {
		return errors.New(errors.ErrCodeValidation, "event id is required")
	}
	if !e.Type.Valid() {
		return errors.Newf(errors.ErrCodeValidation, "unknown event type %q", e.Type)
	}
	if e.Payload == nil {
		return errors.New(errors.ErrCodeValidation, "event payload is required")
	}
	return nil
}
