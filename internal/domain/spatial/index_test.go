package spatial

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/incident"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/geo"
)

var loop = geo.Point{Lat: 41.8781, Lon: -87.6298}

func inc(id string, p geo.Point, at time.Time, cat incident.Category) incident.Incident {
	return incident.Incident{ID: id, OccurredAt: at, Location: p, Category: cat, Severity: 0.5, Jurisdiction: "district-1"}
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in      string
		want    Resolution
		wantErr bool
	}{
		{"7", ResolutionCity, false},
		{"street", ResolutionStreet, false},
		{" Neighborhood ", ResolutionNeighborhood, false},
		{"6", 0, true},
		{"block", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseResolution(tt.in)
			if tt.wantErr {
				assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidResolution))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCellFor_DeterministicAcrossResolutions(t *testing.T) {
	for _, r := range Resolutions() {
		a, err := CellFor(loop, r)
		require.NoError(t, err)
		b, err := CellFor(loop, r)
		require.NoError(t, err)
		assert.Equal(t, a, b)

		got, err := CellResolution(a)
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}

	city := MustCellFor(loop, ResolutionCity)
	street := MustCellFor(loop, ResolutionStreet)
	assert.NotEqual(t, city, street)
}

func TestCellFor_Invalid(t *testing.T) {
	_, err := CellFor(loop, 11)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidResolution))

	_, err = CellFor(geo.Point{Lat: 95, Lon: 0}, ResolutionCity)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidCoordinate))
}

func TestCellCenter_WithinCell(t *testing.T) {
	id := MustCellFor(loop, ResolutionNeighborhood)
	center, err := CellCenter(id)
	require.NoError(t, err)
	// res 9 hexagons have an edge of roughly 175 m.
	assert.Less(t, geo.DistanceMeters(center, loop), 400.0)
	assert.Equal(t, id, MustCellFor(center, ResolutionNeighborhood))

	_, err = CellCenter("not-a-cell")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidCell))
}

func TestNeighbors(t *testing.T) {
	id := MustCellFor(loop, ResolutionNeighborhood)
	ring, err := Neighbors(id, 1)
	require.NoError(t, err)
	assert.Len(t, ring, 6)
	assert.NotContains(t, ring, id)
	assert.IsIncreasing(t, ring)

	_, err = Neighbors(id, -1)
	assert.Error(t, err)
}

func TestBin_AggregatesAndRejects(t *testing.T) {
	base := time.Date(2023, 12, 30, 12, 0, 0, 0, time.UTC)
	far := geo.Offset(loop, 5000, 0)

	incidents := []incident.Incident{
		inc("a", loop, base, incident.CategoryViolent),
		inc("b", loop, base.Add(72*time.Hour), incident.CategoryProperty),
		inc("c", loop, base.Add(96*time.Hour), incident.CategoryViolent),
		inc("d", far, base, incident.CategoryDrug),
		inc("bad-coord", geo.Point{}, base, incident.CategoryDrug),
		inc("bad-cat", loop, base, "arson"),
	}

	res, err := Bin(incidents, ResolutionNeighborhood, BinOptions{Bucket: YearBucket})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Accepted)
	require.Equal(t, 2, res.RejectedCount())
	assert.Equal(t, "bad-coord", res.Rejected[0].IncidentID)
	assert.Equal(t, errors.ErrCodeInvalidCoordinate, res.Rejected[0].Code)
	assert.Equal(t, errors.ErrCodeInvalidCategory, res.Rejected[1].Code)

	hot, ok := res.Cell(MustCellFor(loop, ResolutionNeighborhood))
	require.True(t, ok)
	assert.Equal(t, 3, hot.Total)
	assert.Equal(t, map[string]int{"2023": 1, "2024": 2}, hot.Counts)
	assert.Equal(t, 2, hot.CategoryCounts[incident.CategoryViolent])
	assert.InDelta(t, 1.5, hot.SeveritySum, 1e-9)
	assert.InDelta(t, 1.0, hot.Intensity, 1e-9)

	cold, ok := res.Cell(MustCellFor(far, ResolutionNeighborhood))
	require.True(t, ok)
	assert.InDelta(t, 1.0/3.0, cold.Intensity, 1e-9)
}

func TestBin_IngestionOrderIndependent(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	incidents := []incident.Incident{
		inc("a", loop, base, incident.CategoryViolent),
		inc("b", geo.Offset(loop, 900, 900), base, incident.CategoryDisorder),
		inc("c", geo.Offset(loop, -900, 300), base, incident.CategoryDrug),
	}
	reversed := []incident.Incident{incidents[2], incidents[1], incidents[0]}

	a, err := Bin(incidents, ResolutionStreet, BinOptions{Bucket: MonthBucket})
	require.NoError(t, err)
	b, err := Bin(reversed, ResolutionStreet, BinOptions{Bucket: MonthBucket})
	require.NoError(t, err)
	assert.Equal(t, a.Cells, b.Cells)
}

func TestBin_JurisdictionFilter(t *testing.T) {
	i := inc("x", loop, time.Now(), incident.CategoryViolent)
	i.Jurisdiction = "elsewhere"
	res, err := Bin([]incident.Incident{i}, ResolutionCity, BinOptions{Jurisdictions: incident.NewJurisdictionSet("district-1")})
	require.NoError(t, err)
	assert.Empty(t, res.Cells)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, errors.ErrCodeUnknownJurisdiction, res.Rejected[0].Code)
}

func TestBin_InvalidResolutionFailsWholeCall(t *testing.T) {
	_, err := Bin([]incident.Incident{inc("a", loop, time.Now(), incident.CategoryViolent)}, 3, BinOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestBuckets(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024", YearBucket(at))
	assert.Equal(t, "2024-03", MonthBucket(at))
	assert.Equal(t, "2024-W09", WeekBucket(at))

	f, err := BucketByName("month")
	require.NoError(t, err)
	assert.Equal(t, "2024-03", f(at))
	_, err = BucketByName("decade")
	assert.Error(t, err)
}
