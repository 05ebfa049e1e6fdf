package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	ledger "autovolt-cloud/internal/ledger/domain"
)

type entryKey struct {
	deviceID string
	switchID string
	startTS  time.Time
}

// EntryRepository is an in-memory ledger used by tests. Uniqueness on
// (device, switch, start) mirrors the Postgres constraint.
type EntryRepository struct {
	mu      sync.RWMutex
	entries map[string]*ledger.Entry
	byKey   map[entryKey]string
}

// NewEntryRepository returns an empty in-memory ledger.
func NewEntryRepository() *EntryRepository {
	return &EntryRepository{
		entries: make(map[string]*ledger.Entry),
		byKey:   make(map[entryKey]string),
	}
}

func (r *EntryRepository) Append(_ context.Context, entry *ledger.Entry) (bool, error) {
	if err := entry.Validate(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := entryKey{entry.DeviceID, entry.SwitchID, entry.StartTS.UTC()}
	if _, exists := r.byKey[key]; exists {
		return false, nil
	}
	clone := cloneEntry(entry)
	r.entries[clone.EntryID] = clone
	r.byKey[key] = clone.EntryID
	return true, nil
}

func (r *EntryRepository) LatestForSwitch(_ context.Context, deviceID, switchID string) (*ledger.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *ledger.Entry
	for _, entry := range r.entries {
		if entry.DeviceID != deviceID || entry.SwitchID != switchID {
			continue
		}
		if latest == nil || entry.EndTS.After(latest.EndTS) {
			latest = entry
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneEntry(latest), nil
}

func (r *EntryRepository) ListOverlapping(_ context.Context, classroom string, from, to time.Time) ([]ledger.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ledger.Entry
	for _, entry := range r.entries {
		if entry.Classroom != classroom {
			continue
		}
		if !entry.StartTS.Before(to) || !entry.EndTS.After(from) {
			continue
		}
		out = append(out, *cloneEntry(entry))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTS.Equal(out[j].StartTS) {
			return out[i].StartTS.Before(out[j].StartTS)
		}
		if out[i].DeviceID != out[j].DeviceID {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].SwitchID < out[j].SwitchID
	})
	return out, nil
}

// All returns every stored entry ordered by start_ts, for assertions.
func (r *EntryRepository) All() []ledger.Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ledger.Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, *cloneEntry(entry))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTS.Equal(out[j].StartTS) {
			return out[i].StartTS.Before(out[j].StartTS)
		}
		return out[i].SwitchID < out[j].SwitchID
	})
	return out
}

func cloneEntry(entry *ledger.Entry) *ledger.Entry {
	clone := *entry
	if entry.PowerW != nil {
		v := *entry.PowerW
		clone.PowerW = &v
	}
	return &clone
}
