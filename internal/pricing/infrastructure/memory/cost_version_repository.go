package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	pricing "autovolt-cloud/internal/pricing/domain"
)

type scopeTarget struct {
	scope     pricing.Scope
	classroom string
}

// CostVersionRepository is an in-memory implementation for tests.
type CostVersionRepository struct {
	mu       sync.RWMutex
	versions map[scopeTarget][]*pricing.CostVersion
}

// NewCostVersionRepository constructs an empty repository.
func NewCostVersionRepository() *CostVersionRepository {
	return &CostVersionRepository{versions: make(map[scopeTarget][]*pricing.CostVersion)}
}

// FindActive returns the version containing ts for the scope target, or nil.
func (r *CostVersionRepository) FindActive(ctx context.Context, scope pricing.Scope, classroom string, ts time.Time) (*pricing.CostVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, version := range r.versions[scopeTarget{scope: scope, classroom: classroom}] {
		if version.Contains(ts) {
			clone := cloneVersion(version)
			return &clone, nil
		}
	}
	return nil, nil
}

// Create applies the compare-and-close rules in memory.
func (r *CostVersionRepository) Create(ctx context.Context, version *pricing.CostVersion) error {
	if version == nil {
		return pricing.ErrNilVersion
	}
	if err := version.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := scopeTarget{scope: version.Scope, classroom: version.Classroom}
	newFrom := version.EffectiveFrom.UTC()

	var open *pricing.CostVersion
	for _, existing := range r.versions[key] {
		if existing.Open() {
			open = existing
			continue
		}
		if existing.EffectiveUntil.After(newFrom) {
			return pricing.ErrVersionOverlap
		}
	}
	if open != nil && !open.EffectiveFrom.Before(newFrom) {
		return pricing.ErrVersionOverlap
	}
	if open != nil {
		until := newFrom
		open.EffectiveUntil = &until
	}

	clone := cloneVersion(version)
	clone.EffectiveFrom = newFrom
	clone.EffectiveUntil = nil
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	r.versions[key] = append(r.versions[key], &clone)
	sort.Slice(r.versions[key], func(i, j int) bool {
		return r.versions[key][i].EffectiveFrom.After(r.versions[key][j].EffectiveFrom)
	})
	version.CreatedAt = clone.CreatedAt
	return nil
}

// List returns versions newest first.
func (r *CostVersionRepository) List(ctx context.Context, classroom string) ([]pricing.CostVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []pricing.CostVersion
	for key, versions := range r.versions {
		if classroom != "" && key.scope == pricing.ScopeClassroom && key.classroom != classroom {
			continue
		}
		for _, version := range versions {
			result = append(result, cloneVersion(version))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Scope != result[j].Scope {
			return result[i].Scope < result[j].Scope
		}
		if result[i].Classroom != result[j].Classroom {
			return result[i].Classroom < result[j].Classroom
		}
		return result[i].EffectiveFrom.After(result[j].EffectiveFrom)
	})
	return result, nil
}

func cloneVersion(version *pricing.CostVersion) pricing.CostVersion {
	clone := *version
	if version.EffectiveUntil != nil {
		t := *version.EffectiveUntil
		clone.EffectiveUntil = &t
	}
	return clone
}
