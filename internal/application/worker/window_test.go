package worker

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/incident"
	"github.com/turtacn/CrimeSight-Intelligence/internal/testutil"
)

func at(id string, ago time.Duration) incident.Incident {
	return incident.Incident{ID: id, OccurredAt: testutil.AsOf.Add(-ago)}
}

func ids(incs []incident.Incident) []string {
	out := make([]string, len(incs))
	for i, inc := range incs {
		out[i] = inc.ID
	}
	return out
}

func TestWindow_AddDeduplicates(t *testing.T) {
	w := NewWindow(10, 0)
	assert.True(t, w.Add(at("a", time.Hour)))
	assert.False(t, w.Add(at("a", 2*time.Hour)))
	assert.Equal(t, 1, w.Len())
	assert.Equal(t, testutil.AsOf.Add(-2*time.Hour), w.Incidents()[0].OccurredAt, "redelivery replaces")
}

func TestWindow_PruneByAge(t *testing.T) {
	w := NewWindow(10, 24*time.Hour)
	w.Add(at("old", 48*time.Hour))
	w.Add(at("older", 72*time.Hour))
	w.Add(at("b", 3*time.Hour))
	w.Add(at("c", 2*time.Hour))

	assert.Equal(t, 2, w.Prune(testutil.AsOf))
	assert.Equal(t, []string{"b", "c"}, ids(w.Incidents()))
}

func TestWindow_AddEvictsOldestBeyondSize(t *testing.T) {
	w := NewWindow(3, 0)
	for i := 0; i < 1000; i++ {
		w.Add(at(fmt.Sprintf("i%04d", i), time.Duration(1000-i)*time.Minute))
		assert.LessOrEqual(t, w.Len(), 3)
	}
	assert.Equal(t, []string{"i0997", "i0998", "i0999"}, ids(w.Incidents()))
}

func TestWindow_AddOlderThanFullWindowIsNotKept(t *testing.T) {
	w := NewWindow(2, 0)
	w.Add(at("b", 2*time.Hour))
	w.Add(at("c", time.Hour))

	assert.True(t, w.Add(at("a", 3*time.Hour)), "a new id is reported even when evicted")
	assert.Equal(t, []string{"b", "c"}, ids(w.Incidents()))
}

func TestWindow_RedeliveryWithNewTimeReordersEviction(t *testing.T) {
	w := NewWindow(2, 0)
	w.Add(at("a", 3*time.Hour))
	w.Add(at("b", 2*time.Hour))
	assert.False(t, w.Add(at("a", time.Minute)), "a moved to the newest position")

	w.Add(at("c", time.Hour))
	assert.Equal(t, []string{"c", "a"}, ids(w.Incidents()))
}

func TestWindow_OrderedByTimeThenID(t *testing.T) {
	w := NewWindow(0, 0)
	w.Add(at("z", time.Hour))
	w.Add(at("y", 2*time.Hour))
	w.Add(at("x", time.Hour))

	assert.Zero(t, w.Prune(testutil.AsOf))
	assert.Equal(t, []string{"y", "x", "z"}, ids(w.Incidents()))
}
