package application

import (
	"sort"
	"sync"
)

// DayKey identifies one (classroom, local date) pair needing recompute.
type DayKey struct {
	Classroom string
	Date      string
}

// Tracker collects dirty days between scheduler passes. Marking is
// cheap and lossy-safe: a lost mark is healed by the nightly pass.
type Tracker struct {
	mu    sync.Mutex
	dirty map[DayKey]struct{}
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{dirty: make(map[DayKey]struct{})}
}

// Mark flags a day dirty.
func (t *Tracker) Mark(classroom, date string) {
	if classroom == "" || date == "" {
		return
	}
	t.mu.Lock()
	t.dirty[DayKey{Classroom: classroom, Date: date}] = struct{}{}
	t.mu.Unlock()
}

// Drain returns the dirty set sorted and clears it.
func (t *Tracker) Drain() []DayKey {
	t.mu.Lock()
	keys := make([]DayKey, 0, len(t.dirty))
	for key := range t.dirty {
		keys = append(keys, key)
	}
	t.dirty = make(map[DayKey]struct{})
	t.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Classroom != keys[j].Classroom {
			return keys[i].Classroom < keys[j].Classroom
		}
		return keys[i].Date < keys[j].Date
	})
	return keys
}

// Len reports the current dirty count.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dirty)
}
