package hotspot

import (
	"fmt"
	"sort"
	"time"

	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/geo"
)

// Trend classifies how a tracked hotspot changed over the series.
type Trend string

const (
	TrendNew         Trend = "new"
	TrendEmerging    Trend = "emerging"
	TrendStable      Trend = "stable"
	TrendDeclining   Trend = "declining"
	TrendDisappeared Trend = "disappeared"
)

// PeriodHotspots is the detector output for one period of a series.
type PeriodHotspots struct {
	Period   string    `json:"period"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Hotspots []Hotspot `json:"hotspots"`
}

// EvolutionParams configures Track.  Thresholds are percentages.
type EvolutionParams struct {
	EmergingThreshold  float64 `json:"emerging_threshold"`
	DecliningThreshold float64 `json:"declining_threshold"`
	MinClusterSize     int     `json:"min_cluster_size"`
}

// DefaultEvolutionParams uses ±20 % and a persistence floor of five.
func DefaultEvolutionParams() EvolutionParams {
	return EvolutionParams{EmergingThreshold: 20, DecliningThreshold: -20, MinClusterSize: 5}
}

// WithDefaults fills zero fields.
func (p EvolutionParams) WithDefaults() EvolutionParams {
	d := DefaultEvolutionParams()
	if p.EmergingThreshold == 0 {
		p.EmergingThreshold = d.EmergingThreshold
	}
	if p.DecliningThreshold == 0 {
		p.DecliningThreshold = d.DecliningThreshold
	}
	if p.MinClusterSize == 0 {
		p.MinClusterSize = d.MinClusterSize
	}
	return p
}

// EvolutionRecord follows one hotspot identity through the series.  Slices
// are indexed by period; absent periods have count 0 and an empty id.
type EvolutionRecord struct {
	TrackID       string    `json:"track_id"`
	Periods       []string  `json:"periods"`
	Counts        []int     `json:"counts"`
	Present       []bool    `json:"present"`
	HotspotIDs    []string  `json:"hotspot_ids"`
	PercentChange float64   `json:"percent_change"`
	Trend         Trend     `json:"trend"`
	IsPersistent  bool      `json:"is_persistent"`
	FirstSeen     string    `json:"first_seen"`
	LastSeen      string    `json:"last_seen"`
	Centroid      geo.Point `json:"centroid"`
	RadiusMeters  float64   `json:"radius_m"`
}

type track struct {
	rec       EvolutionRecord
	footprint geo.Circle
}

// Track links hotspots across the ordered series by footprint overlap and
// classifies each resulting identity.  Within a period every track and every
// hotspot is matched at most once, closest pairs first.  percent_change
// compares the latest count with the count in the first period, or with the
// first appearance for tracks absent from the first period.
func Track(series []PeriodHotspots, p EvolutionParams) ([]EvolutionRecord, error) {
	p = p.WithDefaults()
	if err := validateSeries(series, p); err != nil {
		return nil, err
	}

	n := len(series)
	labels := make([]string, n)
	for i, s := range series {
		labels[i] = s.Period
		if labels[i] == "" {
			labels[i] = fmt.Sprintf("p%d", i+1)
		}
	}

	var tracks []*track
	for pi, period := range series {
		matched := matchPeriod(tracks, period.Hotspots)
		for hi, h := range period.Hotspots {
			t, ok := matched[hi]
			if !ok {
				t = &track{rec: EvolutionRecord{
					TrackID:    fmt.Sprintf("trk-%03d", len(tracks)+1),
					Periods:    append([]string(nil), labels...),
					Counts:     make([]int, n),
					Present:    make([]bool, n),
					HotspotIDs: make([]string, n),
				}}
				tracks = append(tracks, t)
			}
			t.rec.Counts[pi] = h.IncidentCount
			t.rec.Present[pi] = true
			t.rec.HotspotIDs[pi] = h.ID
			t.footprint = h.Circle()
		}
	}

	out := make([]EvolutionRecord, len(tracks))
	for i, t := range tracks {
		classify(&t.rec, p)
		t.rec.Centroid = t.footprint.Center
		t.rec.RadiusMeters = t.footprint.RadiusMeters
		out[i] = t.rec
	}
	return out, nil
}

// matchPeriod pairs existing tracks with this period's hotspots.  The result
// maps hotspot index to its track.
func matchPeriod(tracks []*track, hotspots []Hotspot) map[int]*track {
	type pair struct {
		ti, hi int
		d      float64
	}
	var pairs []pair
	for ti, t := range tracks {
		for hi, h := range hotspots {
			if t.footprint.Overlaps(h.Circle()) {
				pairs = append(pairs, pair{ti, hi, geo.DistanceMeters(t.footprint.Center, h.Centroid)})
			}
		}
	}
	sort.SliceStable(pairs, func(a, b int) bool {
		if pairs[a].d != pairs[b].d {
			return pairs[a].d < pairs[b].d
		}
		if pairs[a].ti != pairs[b].ti {
			return pairs[a].ti < pairs[b].ti
		}
		return pairs[a].hi < pairs[b].hi
	})

	usedTrack := make(map[int]bool)
	out := make(map[int]*track)
	for _, pr := range pairs {
		if usedTrack[pr.ti] {
			continue
		}
		if _, taken := out[pr.hi]; taken {
			continue
		}
		usedTrack[pr.ti] = true
		out[pr.hi] = tracks[pr.ti]
	}
	return out
}

func classify(r *EvolutionRecord, p EvolutionParams) {
	n := len(r.Counts)
	latest := n - 1

	first := -1
	for i, present := range r.Present {
		if present {
			if first < 0 {
				first = i
			}
			r.LastSeen = r.Periods[i]
		}
	}
	r.FirstSeen = r.Periods[first]

	r.IsPersistent = true
	for i := range r.Counts {
		if !r.Present[i] || r.Counts[i] < p.MinClusterSize {
			r.IsPersistent = false
			break
		}
	}

	baseline := r.Counts[first]
	if baseline > 0 {
		r.PercentChange = float64(r.Counts[latest]-baseline) / float64(baseline) * 100
	}

	presentEarlier := first < latest
	switch {
	case !r.Present[latest] && presentEarlier:
		r.Trend = TrendDisappeared
	case r.Present[latest] && !presentEarlier:
		r.Trend = TrendNew
	case r.PercentChange > p.EmergingThreshold:
		r.Trend = TrendEmerging
	case r.PercentChange < p.DecliningThreshold:
		r.Trend = TrendDeclining
	default:
		r.Trend = TrendStable
	}
}

func validateSeries(series []PeriodHotspots, p EvolutionParams) error {
	if len(series) == 0 {
		return errors.New(errors.ErrCodeInvalidSeries, "series must contain at least one period")
	}
	if p.EmergingThreshold < 0 || p.DecliningThreshold > 0 {
		return errors.New(errors.ErrCodeInvalidSeries, "emerging threshold must be positive and declining threshold negative")
	}
	seen := make(map[string]bool, len(series))
	for i, s := range series {
		if s.Period != "" {
			if seen[s.Period] {
				return errors.Newf(errors.ErrCodeInvalidSeries, "duplicate period %q", s.Period)
			}
			seen[s.Period] = true
		}
		if i > 0 && !s.Start.IsZero() && !series[i-1].Start.IsZero() && s.Start.Before(series[i-1].Start) {
			return errors.Newf(errors.ErrCodeInvalidSeries, "period %d starts before its predecessor", i)
		}
		for _, h := range s.Hotspots {
			if !h.Centroid.Valid() || h.RadiusMeters < 0 {
				return errors.Newf(errors.ErrCodeInvalidSeries, "hotspot %q in period %d has an invalid footprint", h.ID, i)
			}
		}
	}
	return nil
}
