package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/zekenewsom/hyperlocal/internal/domain"
	"github.com/zekenewsom/hyperlocal/internal/storage"
)

// BarStore implements storage.BarStore using ClickHouse.
//
// The bars table is a ReplacingMergeTree keyed by
// (venue, symbol, interval, open_time) with inserted_at as the version
// column, so a rewrite of the same bar supersedes the old row. Reads that
// must not see stale duplicates use FINAL.
type BarStore struct {
	conn *Conn
}

// NewBarStore creates a new BarStore.
func NewBarStore(conn *Conn) *BarStore {
	return &BarStore{conn: conn}
}

// Compile-time interface check.
var _ storage.BarStore = (*BarStore)(nil)

// InsertBatch writes a batch of bars sharing one (venue, symbol, interval).
func (s *BarStore) InsertBatch(ctx context.Context, bars []*domain.Bar) error {
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

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO bars (
			venue, symbol, interval, open_time, close_time,
			open, high, low, close, volume, trade_count, vwap, inserted_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	now := time.Now()
	for _, b := range bars {
		err = batch.Append(
			string(b.Venue), b.Symbol, string(b.Interval),
			b.OpenTime, b.CloseTime,
			b.Open, b.High, b.Low, b.Close,
			b.Volume, uint32(b.TradeCount), b.VWAP, now,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// MaxCloseTime returns the newest close_time for a series.
func (s *BarStore) MaxCloseTime(ctx context.Context, venue domain.Venue, key domain.SeriesKey) (int64, error) {
	return s.timeBound(ctx, "max(close_time)", venue, key)
}

// MaxOpenTime returns the newest open_time for a series.
func (s *BarStore) MaxOpenTime(ctx context.Context, venue domain.Venue, key domain.SeriesKey) (int64, error) {
	return s.timeBound(ctx, "max(open_time)", venue, key)
}

// MinOpenTime returns the oldest open_time for a series.
func (s *BarStore) MinOpenTime(ctx context.Context, venue domain.Venue, key domain.SeriesKey) (int64, error) {
	return s.timeBound(ctx, "min(open_time)", venue, key)
}

// timeBound runs one of the min/max aggregate queries. The aggregate
// expression is a fixed internal constant, never external input.
func (s *BarStore) timeBound(ctx context.Context, agg string, venue domain.Venue, key domain.SeriesKey) (int64, error) {
	query := fmt.Sprintf(`
		SELECT count(), %s
		FROM bars
		WHERE venue = ? AND symbol = ? AND interval = ?
	`, agg)

	var count uint64
	var bound int64
	err := s.conn.QueryRow(ctx, query, string(venue), key.Symbol, string(key.Interval)).Scan(&count, &bound)
	if err != nil {
		return 0, fmt.Errorf("query series bound: %w", err)
	}
	if count == 0 {
		return 0, storage.ErrNotFound
	}
	return bound, nil
}

// OpenTimes returns ascending distinct open_times, bounded below by sinceMs.
func (s *BarStore) OpenTimes(ctx context.Context, venue domain.Venue, key domain.SeriesKey, sinceMs int64) ([]int64, error) {
	query := `
		SELECT DISTINCT open_time
		FROM bars
		WHERE venue = ? AND symbol = ? AND interval = ? AND open_time >= ?
		ORDER BY open_time ASC
	`

	rows, err := s.conn.Query(ctx, query, string(venue), key.Symbol, string(key.Interval), sinceMs)
	if err != nil {
		return nil, fmt.Errorf("query open times: %w", err)
	}
	defer rows.Close()

	var times []int64
	for rows.Next() {
		var t int64
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan open time: %w", err)
		}
		times = append(times, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate open times: %w", err)
	}
	return times, nil
}

// RecentBars returns the most recent limit bars in ascending open_time order.
func (s *BarStore) RecentBars(ctx context.Context, venue domain.Venue, key domain.SeriesKey, limit int) ([]*domain.Bar, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	// Select newest-first with LIMIT, then re-sort ascending in the outer query.
	query := `
		SELECT venue, symbol, interval, open_time, close_time,
		       open, high, low, close, volume, trade_count, vwap
		FROM (
			SELECT venue, symbol, interval, open_time, close_time,
			       open, high, low, close, volume, trade_count, vwap
			FROM bars FINAL
			WHERE venue = ? AND symbol = ? AND interval = ?
			ORDER BY open_time DESC
			LIMIT ?
		)
		ORDER BY open_time ASC
	`

	rows, err := s.conn.Query(ctx, query, string(venue), key.Symbol, string(key.Interval), uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("query recent bars: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// Count returns the number of distinct bars stored for a series.
func (s *BarStore) Count(ctx context.Context, venue domain.Venue, key domain.SeriesKey) (int64, error) {
	query := `
		SELECT count()
		FROM bars FINAL
		WHERE venue = ? AND symbol = ? AND interval = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, string(venue), key.Symbol, string(key.Interval)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("query bar count: %w", err)
	}
	return int64(count), nil
}

// scanBars scans multiple rows.
func scanBars(rows chRows) ([]*domain.Bar, error) {
	var bars []*domain.Bar

	for rows.Next() {
		var b domain.Bar
		var venue, interval string
		var tradeCount uint32

		err := rows.Scan(
			&venue, &b.Symbol, &interval, &b.OpenTime, &b.CloseTime,
			&b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &tradeCount, &b.VWAP,
		)
		if err != nil {
			return nil, fmt.Errorf("scan bar row: %w", err)
		}

		b.Venue = domain.Venue(venue)
		b.Interval = domain.Interval(interval)
		b.TradeCount = int(tradeCount)
		bars = append(bars, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bar rows: %w", err)
	}

	return bars, nil
}
