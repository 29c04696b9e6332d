package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/turtacn/CrimeSight-Intelligence/internal/application/engine"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/allocation"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/hotspot"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/patrol"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/risk"
)

// view is the format-independent rendering of a response.
type view struct {
	title   string
	header  []string
	rows    [][]string
	summary []string
}

func writeResult(w io.Writer, format string, resp interface{}, render func() view) error {
	if isJSON(format) {
		return printJSON(w, resp)
	}
	v := render()
	fmt.Fprintln(w, color.New(color.Bold).Sprint(v.title))
	switch {
	case len(v.rows) == 0:
		fmt.Fprintln(w, "  (none)")
	case format == FormatTable:
		table := tablewriter.NewWriter(w)
		table.SetHeader(v.header)
		table.SetAutoWrapText(false)
		for _, row := range v.rows {
			table.Append(row)
		}
		table.Render()
	default:
		for _, row := range v.rows {
			parts := make([]string, 0, len(row))
			for i, cell := range row {
				if cell == "" {
					continue
				}
				parts = append(parts, strings.ToLower(strings.ReplaceAll(v.header[i], " ", "_"))+"="+cell)
			}
			fmt.Fprintln(w, "  "+strings.Join(parts, " "))
		}
	}
	for _, line := range v.summary {
		fmt.Fprintln(w, line)
	}
	return nil
}

func colorizeLevel(level risk.Level) string {
	s := strings.ToUpper(string(level))
	switch level {
	case risk.LevelCritical, risk.LevelHigh:
		return color.RedString(s)
	case risk.LevelElevated:
		return color.YellowString(s)
	case risk.LevelLow:
		return color.GreenString(s)
	default:
		return s
	}
}

func colorizeStatus(s hotspot.Status) string {
	switch s {
	case hotspot.StatusHot:
		return color.RedString(string(s))
	case hotspot.StatusWarm:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

func colorizeTrend(t hotspot.Trend) string {
	switch t {
	case hotspot.TrendEmerging, hotspot.TrendNew:
		return color.RedString(string(t))
	case hotspot.TrendDeclining, hotspot.TrendDisappeared:
		return color.GreenString(string(t))
	default:
		return string(t)
	}
}

func f2(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
func f0(v float64) string { return strconv.FormatFloat(v, 'f', 0, 64) }
func coord(v float64) string {
	return strconv.FormatFloat(v, 'f', 5, 64)
}

func metaLine(m engine.Meta) string {
	return fmt.Sprintf("engine %s  config %s  snapshot v%d  as of %s",
		m.Engine, m.ConfigVersion, m.SnapshotVersion, m.AsOf.Format(time.RFC3339))
}

func withNotes(summary []string, m engine.Meta) []string {
	for _, n := range m.Notes {
		summary = append(summary, color.YellowString("note: ")+n)
	}
	return append(summary, metaLine(m))
}

func binView(resp *engine.BinResponse) view {
	r := resp.Result
	v := view{
		title:  fmt.Sprintf("Spatial bins (resolution %d)", int(r.Resolution)),
		header: []string{"Cell", "Lat", "Lon", "Incidents", "Severity", "Intensity"},
	}
	for _, c := range r.Cells {
		v.rows = append(v.rows, []string{
			string(c.Cell), coord(c.Center.Lat), coord(c.Center.Lon),
			strconv.Itoa(c.Total), f2(c.SeveritySum), f2(c.Intensity),
		})
	}
	v.summary = append(v.summary, fmt.Sprintf("accepted: %d  rejected: %d", r.Accepted, r.RejectedCount()))
	for _, rej := range r.Rejected {
		v.summary = append(v.summary, fmt.Sprintf("  rejected %s [%s] %s", rej.IncidentID, rej.Code, rej.Message))
	}
	v.summary = withNotes(v.summary, resp.Meta)
	return v
}

func scoreRows(scores []risk.Score) [][]string {
	rows := make([][]string, 0, len(scores))
	for _, s := range scores {
		factor := s.DominantFactor
		if s.InsufficientData {
			factor = "insufficient data"
		}
		rows = append(rows, []string{
			s.TargetID, string(s.Kind), f2(s.Value), colorizeLevel(s.Level), factor, strconv.Itoa(s.IncidentCount),
		})
	}
	return rows
}

var scoreHeader = []string{"Target", "Kind", "Score", "Level", "Dominant factor", "Incidents"}

func riskView(resp *engine.RiskResponse) view {
	v := view{title: "Risk scores", header: scoreHeader, rows: scoreRows(resp.Scores)}
	v.summary = append(v.summary, fmt.Sprintf("hotspots used for proximity: %d", len(resp.Hotspots)))
	v.summary = withNotes(v.summary, resp.Meta)
	return v
}

func entityView(resp *engine.EntityResponse) view {
	v := view{title: "Entity risk scores", header: scoreHeader, rows: scoreRows(resp.Scores)}
	v.summary = withNotes(v.summary, resp.Meta)
	return v
}

func hotspotView(resp *engine.HotspotResponse) view {
	v := view{
		title:  "Hotspots",
		header: []string{"ID", "Status", "Incidents", "Radius m", "Heat", "Severity", "Centroid"},
	}
	for _, h := range resp.Hotspots {
		v.rows = append(v.rows, []string{
			h.ID, colorizeStatus(h.Status), strconv.Itoa(h.IncidentCount), f0(h.RadiusMeters),
			f2(h.Heat), f2(h.SeverityScore), h.Centroid.String(),
		})
	}
	v.summary = withNotes(v.summary, resp.Meta)
	return v
}

func evolutionView(resp *engine.EvolutionResponse) view {
	v := view{
		title:  "Hotspot evolution",
		header: []string{"Track", "Trend", "Counts", "Change %", "Persistent", "First seen", "Last seen"},
	}
	for _, r := range resp.Records {
		counts := make([]string, len(r.Counts))
		for i, c := range r.Counts {
			counts[i] = strconv.Itoa(c)
		}
		v.rows = append(v.rows, []string{
			r.TrackID, colorizeTrend(r.Trend), strings.Join(counts, ","), f2(r.PercentChange),
			strconv.FormatBool(r.IsPersistent), r.FirstSeen, r.LastSeen,
		})
	}
	v.summary = withNotes(v.summary, resp.Meta)
	return v
}

func forecastView(resp *engine.ForecastResponse) view {
	w := resp.Window
	v := view{
		title:  fmt.Sprintf("Forecast %s to %s", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339)),
		header: []string{"Metric", "Value"},
	}
	add := func(k, val string) { v.rows = append(v.rows, []string{k, val}) }
	add("status", string(w.Status))
	add("horizon", fmt.Sprintf("%d x %s", w.Horizon, w.PeriodLength))
	add("sample size", strconv.Itoa(w.SampleSize))
	add("expected incidents", f2(w.ExpectedIncidents))
	add("confidence", f2(w.Confidence))
	if t := w.Temporal; t != nil {
		add("temporal trend", fmt.Sprintf("%s (slope %s, r2 %s)", t.Direction, f2(t.Slope), f2(t.RSquared)))
	}
	if s := w.Spatial; s != nil {
		add("spatial trend", fmt.Sprintf("%s (%d recent, %d projected hotspots)", s.Direction, s.RecentCount, len(s.ProjectedHotspots)))
	}
	if m := w.Markov; m != nil {
		add("critical risk", f2(m.CriticalRisk))
		for _, z := range m.Zones {
			add("zone "+z.Zone, fmt.Sprintf("%s -> %s", z.Current, z.MostLikely))
		}
	}
	for _, n := range w.Notes {
		v.summary = append(v.summary, "  "+n)
	}
	v.summary = withNotes(v.summary, resp.Meta)
	return v
}

func routeView(resp *engine.PatrolResponse) view {
	r := resp.Route
	v := view{
		title:  fmt.Sprintf("Patrol route from %s", r.Start),
		header: []string{"Seq", "Type", "Lat", "Lon", "Score", "Leg m", "Total m", "Reason"},
	}
	for _, wp := range r.Waypoints {
		v.rows = append(v.rows, waypointRow(strconv.Itoa(wp.Sequence), wp))
	}
	if len(r.Waypoints) > 0 {
		v.rows = append(v.rows, waypointRow("", r.ReturnLeg))
	}
	st := r.Statistics
	v.summary = append(v.summary,
		fmt.Sprintf("status: %s  waypoints: %d/%d  distance: %.2f km  duration: %s",
			r.Status, st.WaypointCount, r.Requested, st.TotalDistanceMeters/1000, st.EstimatedDuration.Round(time.Minute)))
	v.summary = withNotes(v.summary, resp.Meta)
	return v
}

func waypointRow(seq string, wp patrol.Waypoint) []string {
	score := ""
	if wp.Score > 0 {
		score = f2(wp.Score)
	}
	return []string{seq, wp.Type, coord(wp.Lat), coord(wp.Lon), score,
		f0(wp.DistanceFromPrevious), f0(wp.CumulativeDistance), wp.Justification}
}

func allocationView(resp *engine.AllocationResponse) view {
	r := resp.Result
	v := view{
		title:  "Resource allocation",
		header: []string{"Resource", "Type", "From", "To", "Impact", "Cost delta", "Reason"},
	}
	for _, a := range r.Allocations {
		v.rows = append(v.rows, []string{
			a.ResourceID, a.ResourceType, a.FromZone, a.ToZone, f2(a.ExpectedImpact), f2(a.CostDelta), a.Reason,
		})
	}
	status := string(r.Status)
	if r.Status == allocation.StatusInfeasible || r.Status == allocation.StatusDegraded {
		status = color.YellowString(status)
	}
	v.summary = append(v.summary, "status: "+status)
	if r.Message != "" {
		v.summary = append(v.summary, "  "+r.Message)
	}
	v.summary = append(v.summary,
		fmt.Sprintf("coverage: %s -> %s  response: %s -> %s  balance: %s -> %s  cost: %s/h",
			f2(r.MetricsBefore.AverageCoverage), f2(r.MetricsAfter.AverageCoverage),
			f2(r.MetricsBefore.ResponseTimeScore), f2(r.MetricsAfter.ResponseTimeScore),
			f2(r.MetricsBefore.WorkloadBalance), f2(r.MetricsAfter.WorkloadBalance),
			f2(r.CostImpact)))
	v.summary = withNotes(v.summary, resp.Meta)
	return v
}
