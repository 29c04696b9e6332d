package spatial

import (
	"fmt"
	"sort"
	"time"

	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/incident"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/geo"
)

// BucketFunc maps an incident time to the aggregation bucket label.
type BucketFunc func(time.Time) string

// YearBucket labels by calendar year ("2024").
func YearBucket(t time.Time) string { return t.UTC().Format("2006") }

// MonthBucket labels by calendar month ("2024-03").
func MonthBucket(t time.Time) string { return t.UTC().Format("2006-01") }

// WeekBucket labels by ISO week ("2024-W09").
func WeekBucket(t time.Time) string {
	y, w := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w)
}

// BucketByName resolves year, month or week.  The empty name means year.
func BucketByName(name string) (BucketFunc, error) {
	switch name {
	case "", "year":
		return YearBucket, nil
	case "month":
		return MonthBucket, nil
	case "week":
		return WeekBucket, nil
	}
	return nil, errors.InvalidParam(fmt.Sprintf("unknown time bucket %q", name))
}

// BinOptions carries the caller-supplied aggregation context.
type BinOptions struct {
	Bucket        BucketFunc
	Jurisdictions incident.JurisdictionSet
}

// CellAggregate is the per-cell result of a Bin call.
type CellAggregate struct {
	Cell           CellID                    `json:"cell_id"`
	Resolution     Resolution                `json:"resolution"`
	Center         geo.Point                 `json:"center"`
	Counts         map[string]int            `json:"counts"`
	CategoryCounts map[incident.Category]int `json:"category_counts"`
	Total          int                       `json:"total"`
	SeveritySum    float64                   `json:"severity_sum"`
	Intensity      float64                   `json:"intensity"`
}

// Rejection records an incident excluded from aggregation.
type Rejection struct {
	IncidentID string           `json:"incident_id"`
	Code       errors.ErrorCode `json:"code"`
	Message    string           `json:"message"`
}

// BinResult is the output of Bin.  Cells is sorted by cell id.
type BinResult struct {
	Resolution Resolution      `json:"resolution"`
	Cells      []CellAggregate `json:"cells"`
	Accepted   int             `json:"accepted"`
	Rejected   []Rejection     `json:"rejected"`
}

// RejectedCount is len(Rejected), reported even when zero.
func (r *BinResult) RejectedCount() int { return len(r.Rejected) }

// Cell looks up one aggregate by id.
func (r *BinResult) Cell(id CellID) (CellAggregate, bool) {
	i := sort.Search(len(r.Cells), func(i int) bool { return r.Cells[i].Cell >= id })
	if i < len(r.Cells) && r.Cells[i].Cell == id {
		return r.Cells[i], true
	}
	return CellAggregate{}, false
}

// Bin aggregates incidents into cells at resolution r.  Invalid incidents are
// listed in Rejected and excluded; an unsupported resolution fails the call.
// Intensity is relative to the busiest cell of this call only.
func Bin(incidents []incident.Incident, r Resolution, opts BinOptions) (*BinResult, error) {
	if !r.Valid() {
		return nil, errors.Newf(errors.ErrCodeInvalidResolution, "unsupported resolution %d", int(r))
	}
	bucket := opts.Bucket
	if bucket == nil {
		bucket = YearBucket
	}

	res := &BinResult{Resolution: r, Rejected: []Rejection{}}
	byCell := make(map[CellID]*CellAggregate)

	for _, inc := range incidents {
		if err := inc.Validate(opts.Jurisdictions); err != nil {
			res.Rejected = append(res.Rejected, Rejection{
				IncidentID: inc.ID,
				Code:       errors.GetCode(err),
				Message:    err.Error(),
			})
			continue
		}
		id, err := CellFor(inc.Location, r)
		if err != nil {
			res.Rejected = append(res.Rejected, Rejection{IncidentID: inc.ID, Code: errors.GetCode(err), Message: err.Error()})
			continue
		}
		agg, ok := byCell[id]
		if !ok {
			agg = &CellAggregate{
				Cell:           id,
				Resolution:     r,
				Counts:         make(map[string]int),
				CategoryCounts: make(map[incident.Category]int),
			}
			byCell[id] = agg
		}
		agg.Counts[bucket(inc.OccurredAt)]++
		agg.CategoryCounts[inc.Category]++
		agg.Total++
		agg.SeveritySum += inc.Severity
		res.Accepted++
	}

	maxTotal := 0
	for _, agg := range byCell {
		if agg.Total > maxTotal {
			maxTotal = agg.Total
		}
	}

	res.Cells = make([]CellAggregate, 0, len(byCell))
	for id, agg := range byCell {
		center, err := CellCenter(id)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "cell centre lookup failed")
		}
		agg.Center = center
		if maxTotal > 0 {
			agg.Intensity = float64(agg.Total) / float64(maxTotal)
		}
		res.Cells = append(res.Cells, *agg)
	}
	sort.Slice(res.Cells, func(i, j int) bool { return res.Cells[i].Cell < res.Cells[j].Cell })
	return res, nil
}

// CellsOf groups incident indices by their cell at r, skipping invalid
// coordinates.  The forecast density model and the hotspot ids share it.
func CellsOf(incidents []incident.Incident, r Resolution) map[CellID][]int {
	out := make(map[CellID][]int)
	for i, inc := range incidents {
		id, err := CellFor(inc.Location, r)
		if err != nil {
			continue
		}
		out[id] = append(out[id], i)
	}
	return out
}

func sortCells(ids []CellID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
