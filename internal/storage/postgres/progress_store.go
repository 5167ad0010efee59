package postgres

import (
	"context"
	"fmt"

	"github.com/zekenewsom/hyperlocal/internal/domain"
	"github.com/zekenewsom/hyperlocal/internal/storage"
)

// ProgressStore is a PostgreSQL implementation of storage.ProgressStore.
// One row per (venue, symbol, interval), upserted as backfill windows
// complete so operators can see progress across restarts.
type ProgressStore struct {
	pool *Pool
}

// NewProgressStore creates a new PostgreSQL progress store.
func NewProgressStore(pool *Pool) *ProgressStore {
	return &ProgressStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ProgressStore = (*ProgressStore)(nil)

// UpsertProgress writes the current counters for one (venue, series).
func (s *ProgressStore) UpsertProgress(ctx context.Context, p *domain.BackfillProgress) error {
	if p == nil || p.Symbol == "" || !p.Interval.Valid() {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO backfill_progress (venue, symbol, interval, windows_planned, windows_done, rows_written, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (venue, symbol, interval) DO UPDATE
		SET windows_planned = EXCLUDED.windows_planned,
		    windows_done = EXCLUDED.windows_done,
		    rows_written = EXCLUDED.rows_written,
		    updated_at = NOW()
	`, string(p.Venue), p.Symbol, string(p.Interval), p.WindowsPlanned, p.WindowsDone, p.RowsWritten)
	if err != nil {
		return fmt.Errorf("upsert backfill progress: %w", err)
	}
	return nil
}

// GetProgress returns stored counters for all series of a venue.
func (s *ProgressStore) GetProgress(ctx context.Context, venue domain.Venue) ([]*domain.BackfillProgress, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT venue, symbol, interval, windows_planned, windows_done, rows_written
		FROM backfill_progress
		WHERE venue = $1
		ORDER BY symbol, interval
	`, string(venue))
	if err != nil {
		return nil, fmt.Errorf("query backfill progress: %w", err)
	}
	defer rows.Close()

	var out []*domain.BackfillProgress
	for rows.Next() {
		var p domain.BackfillProgress
		var v, interval string
		if err := rows.Scan(&v, &p.Symbol, &interval, &p.WindowsPlanned, &p.WindowsDone, &p.RowsWritten); err != nil {
			return nil, fmt.Errorf("scan backfill progress row: %w", err)
		}
		p.Venue = domain.Venue(v)
		p.Interval = domain.Interval(interval)
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backfill progress rows: %w", err)
	}
	return out, nil
}
