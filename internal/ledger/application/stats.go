package application

import (
	"sync"
	"sync/atomic"
	"time"
)

// GeneratorStats counts pipeline outcomes. It is injected into the
// generator rather than kept as package globals so generators stay
// independently testable.
type GeneratorStats struct {
	entriesCreated atomic.Int64
	duplicates     atomic.Int64
	resetsDetected atomic.Int64
	staleSkipped   atomic.Int64
	priceFallbacks atomic.Int64
	errors         atomic.Int64

	mu          sync.Mutex
	lastError   string
	lastEntryAt time.Time
}

// NewGeneratorStats constructs an empty stats object.
func NewGeneratorStats() *GeneratorStats {
	return &GeneratorStats{}
}

// StatsSnapshot is a point-in-time copy for health reporting.
type StatsSnapshot struct {
	EntriesCreated int64     `json:"ledger_entries_created"`
	Duplicates     int64     `json:"duplicates"`
	ResetsDetected int64     `json:"resets_detected"`
	StaleSkipped   int64     `json:"stale_skipped"`
	PriceFallbacks int64     `json:"price_fallbacks"`
	Errors         int64     `json:"errors"`
	LastError      string    `json:"last_error,omitempty"`
	LastEntryAt    time.Time `json:"last_entry_at,omitempty"`
}

// IncEntries records created entries.
func (s *GeneratorStats) IncEntries(count int, at time.Time) {
	if s == nil || count <= 0 {
		return
	}
	s.entriesCreated.Add(int64(count))
	s.mu.Lock()
	if at.After(s.lastEntryAt) {
		s.lastEntryAt = at
	}
	s.mu.Unlock()
}

// IncDuplicate records a uniqueness-key no-op append.
func (s *GeneratorStats) IncDuplicate() {
	if s != nil {
		s.duplicates.Add(1)
	}
}

// IncReset records a detected cumulative counter reset.
func (s *GeneratorStats) IncReset() {
	if s != nil {
		s.resetsDetected.Add(1)
	}
}

// IncStale records an out-of-order reading skip.
func (s *GeneratorStats) IncStale() {
	if s != nil {
		s.staleSkipped.Add(1)
	}
}

// IncPriceFallback records a price resolution falling back to default.
func (s *GeneratorStats) IncPriceFallback() {
	if s != nil {
		s.priceFallbacks.Add(1)
	}
}

// RecordError counts an internal error and keeps the latest message.
func (s *GeneratorStats) RecordError(err error) {
	if s == nil || err == nil {
		return
	}
	s.errors.Add(1)
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
}

// Snapshot returns a copy of all counters.
func (s *GeneratorStats) Snapshot() StatsSnapshot {
	if s == nil {
		return StatsSnapshot{}
	}
	s.mu.Lock()
	lastError := s.lastError
	lastEntryAt := s.lastEntryAt
	s.mu.Unlock()
	return StatsSnapshot{
		EntriesCreated: s.entriesCreated.Load(),
		Duplicates:     s.duplicates.Load(),
		ResetsDetected: s.resetsDetected.Load(),
		StaleSkipped:   s.staleSkipped.Load(),
		PriceFallbacks: s.priceFallbacks.Load(),
		Errors:         s.errors.Load(),
		LastError:      lastError,
		LastEntryAt:    lastEntryAt,
	}
}
