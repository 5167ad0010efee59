package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/zekenewsom/hyperlocal/internal/domain"
	"github.com/zekenewsom/hyperlocal/internal/storage"
)

type progressKey struct {
	venue    domain.Venue
	symbol   string
	interval domain.Interval
}

// ProgressStore is an in-memory implementation of storage.ProgressStore.
type ProgressStore struct {
	mu   sync.RWMutex
	data map[progressKey]*domain.BackfillProgress
}

// NewProgressStore creates a new in-memory progress store.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{data: make(map[progressKey]*domain.BackfillProgress)}
}

// Compile-time interface check.
var _ storage.ProgressStore = (*ProgressStore)(nil)

// UpsertProgress writes the current counters for one (venue, series).
func (s *ProgressStore) UpsertProgress(_ context.Context, p *domain.BackfillProgress) error {
	if p == nil || p.Symbol == "" || !p.Interval.Valid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	progressCopy := *p
	s.data[progressKey{p.Venue, p.Symbol, p.Interval}] = &progressCopy
	return nil
}

// GetProgress returns stored counters for all series of a venue.
func (s *ProgressStore) GetProgress(_ context.Context, venue domain.Venue) ([]*domain.BackfillProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.BackfillProgress
	for k, p := range s.data {
		if k.venue == venue {
			progressCopy := *p
			out = append(out, &progressCopy)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Interval < out[j].Interval
	})
	return out, nil
}
