// Package storage defines the durable-store contracts consumed by the
// ingestion pipeline and the feature engine. Implementations live in the
// clickhouse, postgres and memory subpackages.
package storage

import (
	"context"

	"github.com/zekenewsom/hyperlocal/internal/domain"
)

// BarStore provides access to bar (candle) storage.
//
// Writes are idempotent upserts: overlapping or retried windows must resolve
// to a single surviving record per (venue, symbol, interval, open_time), not
// duplication.
type BarStore interface {
	// InsertBatch writes a batch of bars sharing one (venue, symbol, interval).
	// Returns ErrInvalidInput on a heterogeneous batch. Empty batches are a no-op.
	InsertBatch(ctx context.Context, bars []*domain.Bar) error

	// MaxCloseTime returns the newest close_time for a series.
	// Returns ErrNotFound if the series has no bars.
	MaxCloseTime(ctx context.Context, venue domain.Venue, key domain.SeriesKey) (int64, error)

	// MaxOpenTime returns the newest open_time for a series.
	// Returns ErrNotFound if the series has no bars.
	MaxOpenTime(ctx context.Context, venue domain.Venue, key domain.SeriesKey) (int64, error)

	// MinOpenTime returns the oldest open_time for a series.
	// Returns ErrNotFound if the series has no bars.
	MinOpenTime(ctx context.Context, venue domain.Venue, key domain.SeriesKey) (int64, error)

	// OpenTimes returns the ordered (ascending) open_times for a series,
	// bounded below by sinceMs when sinceMs > 0.
	OpenTimes(ctx context.Context, venue domain.Venue, key domain.SeriesKey, sinceMs int64) ([]int64, error)

	// RecentBars returns the most recent limit bars of a series in ascending
	// open_time order, for feature-engine warmup replay.
	RecentBars(ctx context.Context, venue domain.Venue, key domain.SeriesKey, limit int) ([]*domain.Bar, error)

	// Count returns the number of distinct bars stored for a series.
	Count(ctx context.Context, venue domain.Venue, key domain.SeriesKey) (int64, error)
}

// FeatureStore provides access to derived feature rows.
type FeatureStore interface {
	// Upsert writes one feature row, replacing any existing row with the same
	// (venue, symbol, interval, close_time). Latest write wins.
	Upsert(ctx context.Context, row *domain.FeatureRow) error

	// GetByTimeRange retrieves rows for a series within [start, end] (inclusive,
	// close_time ms), ordered by close_time ASC.
	GetByTimeRange(ctx context.Context, venue domain.Venue, key domain.SeriesKey, start, end int64) ([]*domain.FeatureRow, error)

	// DeleteByInterval removes all feature rows for the given interval.
	// Maintenance/reset path.
	DeleteByInterval(ctx context.Context, interval domain.Interval) error
}

// ProgressStore persists backfill progress counters for restart visibility.
// The in-memory counters held by the fetchers stay authoritative; this store
// is a mirror updated as windows complete.
type ProgressStore interface {
	// UpsertProgress writes the current counters for one (venue, series).
	UpsertProgress(ctx context.Context, p *domain.BackfillProgress) error

	// GetProgress returns the stored counters for all series of a venue.
	GetProgress(ctx context.Context, venue domain.Venue) ([]*domain.BackfillProgress, error)
}
