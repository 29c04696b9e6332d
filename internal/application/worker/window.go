package worker

import (
	"container/heap"
	"sort"
	"time"

	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/incident"
)

// Window holds the most recent ingested incidents, at most size of them and
// none older than period.  Size is enforced on every Add; age on Prune.  It
// is not safe for concurrent use.
type Window struct {
	size   int
	period time.Duration
	byID   map[string]incident.Incident
	oldest ageHeap
}

// NewWindow returns an empty window.  A non-positive size or period leaves
// that bound off.
func NewWindow(size int, period time.Duration) *Window {
	return &Window{size: size, period: period, byID: make(map[string]incident.Incident)}
}

// Add inserts inc and reports whether its id was new.  A re-delivered id
// replaces the stored copy.  When the window is full the oldest incident is
// evicted, which may be inc itself.
func (w *Window) Add(inc incident.Incident) bool {
	prev, seen := w.byID[inc.ID]
	w.byID[inc.ID] = inc
	if w.size <= 0 {
		return !seen
	}
	if !seen || !prev.OccurredAt.Equal(inc.OccurredAt) {
		heap.Push(&w.oldest, aged{id: inc.ID, at: inc.OccurredAt})
	}
	for len(w.byID) > w.size {
		w.evictOldest()
	}
	return !seen
}

// evictOldest pops heap entries until one still describes a held incident.
// Entries left behind by re-deliveries with a new time are skipped.
func (w *Window) evictOldest() {
	for w.oldest.Len() > 0 {
		e := heap.Pop(&w.oldest).(aged)
		if cur, ok := w.byID[e.id]; ok && cur.OccurredAt.Equal(e.at) {
			delete(w.byID, e.id)
			return
		}
	}
}

// Len is the number of incidents held.
func (w *Window) Len() int { return len(w.byID) }

// Prune drops incidents older than period before now and returns how many
// were dropped.
func (w *Window) Prune(now time.Time) int {
	if w.period <= 0 {
		return 0
	}
	dropped := 0
	cutoff := now.Add(-w.period)
	for id, inc := range w.byID {
		if inc.OccurredAt.Before(cutoff) {
			delete(w.byID, id)
			dropped++
		}
	}
	if w.size > 0 && (dropped > 0 || w.oldest.Len() > 2*len(w.byID)) {
		w.rebuild()
	}
	return dropped
}

func (w *Window) rebuild() {
	w.oldest = w.oldest[:0]
	for id, inc := range w.byID {
		w.oldest = append(w.oldest, aged{id: id, at: inc.OccurredAt})
	}
	heap.Init(&w.oldest)
}

// Incidents returns a copy of the window ordered by time then id.
func (w *Window) Incidents() []incident.Incident {
	out := make([]incident.Incident, 0, len(w.byID))
	for _, inc := range w.byID {
		out = append(out, inc)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type aged struct {
	id string
	at time.Time
}

// ageHeap is a min-heap on (at, id), the same order Incidents uses.
type ageHeap []aged

func (h ageHeap) Len() int { return len(h) }

func (h ageHeap) Less(i, j int) bool {
	if !h[i].at.Equal(h[j].at) {
		return h[i].at.Before(h[j].at)
	}
	return h[i].id < h[j].id
}

func (h ageHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *ageHeap) Push(x any) { *h = append(*h, x.(aged)) }

func (h *ageHeap) Pop() any {
	old := *h
	e := old[len(old)-1]
	*h = old[:len(old)-1]
	return e
}
