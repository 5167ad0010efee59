package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/zekenewsom/hyperlocal/internal/domain"
	"github.com/zekenewsom/hyperlocal/internal/storage"
)

type featureKey struct {
	venue     domain.Venue
	symbol    string
	interval  domain.Interval
	closeTime int64
}

// FeatureStore is an in-memory implementation of storage.FeatureStore.
type FeatureStore struct {
	mu   sync.RWMutex
	data map[featureKey]*domain.FeatureRow
}

// NewFeatureStore creates a new in-memory feature store.
func NewFeatureStore() *FeatureStore {
	return &FeatureStore{data: make(map[featureKey]*domain.FeatureRow)}
}

// Compile-time interface check.
var _ storage.FeatureStore = (*FeatureStore)(nil)

// Upsert writes one row, replacing any existing row with the same key.
func (s *FeatureStore) Upsert(_ context.Context, row *domain.FeatureRow) error {
	if row == nil || row.Symbol == "" || !row.Interval.Valid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rowCopy := *row
	s.data[featureKey{row.Venue, row.Symbol, row.Interval, row.CloseTime}] = &rowCopy
	return nil
}

// GetByTimeRange retrieves rows for a series within [start, end], close_time ASC.
func (s *FeatureStore) GetByTimeRange(_ context.Context, venue domain.Venue, key domain.SeriesKey, start, end int64) ([]*domain.FeatureRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []*domain.FeatureRow
	for k, r := range s.data {
		if k.venue == venue && k.symbol == key.Symbol && k.interval == key.Interval &&
			k.closeTime >= start && k.closeTime <= end {
			rowCopy := *r
			rows = append(rows, &rowCopy)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CloseTime < rows[j].CloseTime })
	return rows, nil
}

// DeleteByInterval removes all rows for the given interval.
func (s *FeatureStore) DeleteByInterval(_ context.Context, interval domain.Interval) error {
	if !interval.Valid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.data {
		if k.interval == interval {
			delete(s.data, k)
		}
	}
	return nil
}

// Len returns the number of stored rows. Test helper.
func (s *FeatureStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
