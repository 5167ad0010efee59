// Package memory provides in-memory store implementations used by unit
// tests and local development without a database.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/zekenewsom/hyperlocal/internal/domain"
	"github.com/zekenewsom/hyperlocal/internal/storage"
)

type barKey struct {
	venue    domain.Venue
	symbol   string
	interval domain.Interval
	openTime int64
}

// BarStore is an in-memory implementation of storage.BarStore.
type BarStore struct {
	mu   sync.RWMutex
	data map[barKey]*domain.Bar
}

// NewBarStore creates a new in-memory bar store.
func NewBarStore() *BarStore {
	return &BarStore{data: make(map[barKey]*domain.Bar)}
}

// Compile-time interface check.
var _ storage.BarStore = (*BarStore)(nil)

// InsertBatch writes a batch of bars sharing one (venue, symbol, interval).
// Existing bars with the same open_time are replaced.
func (s *BarStore) InsertBatch(_ context.Context, bars []*domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	first := bars[0]
	for _, b := range bars {
		if b == nil || b.Symbol == "" || !b.Interval.Valid() {
			return storage.ErrInvalidInput
		}
		if b.Venue != first.Venue || b.Symbol != first.Symbol || b.Interval != first.Interval {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range bars {
		barCopy := *b
		s.data[barKey{b.Venue, b.Symbol, b.Interval, b.OpenTime}] = &barCopy
	}
	return nil
}

// MaxCloseTime returns the newest close_time for a series.
func (s *BarStore) MaxCloseTime(_ context.Context, venue domain.Venue, key domain.SeriesKey) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max int64
	found := false
	for k, b := range s.data {
		if k.venue == venue && k.symbol == key.Symbol && k.interval == key.Interval {
			if !found || b.CloseTime > max {
				max = b.CloseTime
				found = true
			}
		}
	}
	if !found {
		return 0, storage.ErrNotFound
	}
	return max, nil
}

// MaxOpenTime returns the newest open_time for a series.
func (s *BarStore) MaxOpenTime(_ context.Context, venue domain.Venue, key domain.SeriesKey) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max int64
	found := false
	for k := range s.data {
		if k.venue == venue && k.symbol == key.Symbol && k.interval == key.Interval {
			if !found || k.openTime > max {
				max = k.openTime
				found = true
			}
		}
	}
	if !found {
		return 0, storage.ErrNotFound
	}
	return max, nil
}

// MinOpenTime returns the oldest open_time for a series.
func (s *BarStore) MinOpenTime(_ context.Context, venue domain.Venue, key domain.SeriesKey) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var min int64
	found := false
	for k := range s.data {
		if k.venue == venue && k.symbol == key.Symbol && k.interval == key.Interval {
			if !found || k.openTime < min {
				min = k.openTime
				found = true
			}
		}
	}
	if !found {
		return 0, storage.ErrNotFound
	}
	return min, nil
}

// OpenTimes returns ascending open_times for a series, bounded below by sinceMs.
func (s *BarStore) OpenTimes(_ context.Context, venue domain.Venue, key domain.SeriesKey, sinceMs int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var times []int64
	for k := range s.data {
		if k.venue == venue && k.symbol == key.Symbol && k.interval == key.Interval {
			if sinceMs > 0 && k.openTime < sinceMs {
				continue
			}
			times = append(times, k.openTime)
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	return times, nil
}

// RecentBars returns the most recent limit bars in ascending open_time order.
func (s *BarStore) RecentBars(_ context.Context, venue domain.Venue, key domain.SeriesKey, limit int) ([]*domain.Bar, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var bars []*domain.Bar
	for k, b := range s.data {
		if k.venue == venue && k.symbol == key.Symbol && k.interval == key.Interval {
			barCopy := *b
			bars = append(bars, &barCopy)
		}
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].OpenTime < bars[j].OpenTime })
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

// Count returns the number of distinct bars stored for a series.
func (s *BarStore) Count(_ context.Context, venue domain.Venue, key domain.SeriesKey) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for k := range s.data {
		if k.venue == venue && k.symbol == key.Symbol && k.interval == key.Interval {
			n++
		}
	}
	return n, nil
}
