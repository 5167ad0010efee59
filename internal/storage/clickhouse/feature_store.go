package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/zekenewsom/hyperlocal/internal/domain"
	"github.com/zekenewsom/hyperlocal/internal/storage"
)

// FeatureStore implements storage.FeatureStore using ClickHouse.
//
// The features table is a ReplacingMergeTree keyed by
// (venue, symbol, interval, close_time) versioned by computed_at, giving
// latest-write-wins upsert semantics without read-before-write.
type FeatureStore struct {
	conn *Conn
}

// NewFeatureStore creates a new FeatureStore.
func NewFeatureStore(conn *Conn) *FeatureStore {
	return &FeatureStore{conn: conn}
}

// Compile-time interface check.
var _ storage.FeatureStore = (*FeatureStore)(nil)

// Upsert writes one feature row, replacing any existing row with the same key.
func (s *FeatureStore) Upsert(ctx context.Context, row *domain.FeatureRow) error {
	if row == nil || row.Symbol == "" || !row.Interval.Valid() {
		return storage.ErrInvalidInput
	}

	computedAt := row.ComputedAt
	if computedAt == 0 {
		computedAt = time.Now().UnixMilli()
	}

	err := s.conn.Exec(ctx, `
		INSERT INTO features (
			venue, symbol, interval, close_time,
			ret_log, ret_pct, ew_var, ew_vol, atr,
			rsi, stoch_k, stoch_d, vol_z, var_spike, vol_ratio,
			cvd, cvd_slope, obi_top, obi_cum, microprice,
			vol_regime, trend_state, computed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(row.Venue), row.Symbol, string(row.Interval), row.CloseTime,
		row.RetLog, row.RetPct, row.EWVar, row.EWVol, row.ATR,
		row.RSI, row.StochK, row.StochD, row.VolZ, row.VarSpike, row.VolRatio,
		row.CVD, row.CVDSlope, row.OBITop, row.OBICum, row.Microprice,
		row.VolRegime, row.TrendState, computedAt,
	)
	if err != nil {
		return fmt.Errorf("insert feature row: %w", err)
	}
	return nil
}

// GetByTimeRange retrieves rows for a series within [start, end], close_time ASC.
func (s *FeatureStore) GetByTimeRange(ctx context.Context, venue domain.Venue, key domain.SeriesKey, start, end int64) ([]*domain.FeatureRow, error) {
	query := `
		SELECT venue, symbol, interval, close_time,
		       ret_log, ret_pct, ew_var, ew_vol, atr,
		       rsi, stoch_k, stoch_d, vol_z, var_spike, vol_ratio,
		       cvd, cvd_slope, obi_top, obi_cum, microprice,
		       vol_regime, trend_state, computed_at
		FROM features FINAL
		WHERE venue = ? AND symbol = ? AND interval = ?
		  AND close_time >= ? AND close_time <= ?
		ORDER BY close_time ASC
	`

	rows, err := s.conn.Query(ctx, query, string(venue), key.Symbol, string(key.Interval), start, end)
	if err != nil {
		return nil, fmt.Errorf("query features by time range: %w", err)
	}
	defer rows.Close()

	return scanFeatureRows(rows)
}

// DeleteByInterval removes all feature rows for the given interval.
func (s *FeatureStore) DeleteByInterval(ctx context.Context, interval domain.Interval) error {
	if !interval.Valid() {
		return storage.ErrInvalidInput
	}

	err := s.conn.Exec(ctx, `DELETE FROM features WHERE interval = ?`, string(interval))
	if err != nil {
		return fmt.Errorf("delete features for interval: %w", err)
	}
	return nil
}

// scanFeatureRows scans multiple rows.
func scanFeatureRows(rows chRows) ([]*domain.FeatureRow, error) {
	var out []*domain.FeatureRow

	for rows.Next() {
		var r domain.FeatureRow
		var venue, interval string

		err := rows.Scan(
			&venue, &r.Symbol, &interval, &r.CloseTime,
			&r.RetLog, &r.RetPct, &r.EWVar, &r.EWVol, &r.ATR,
			&r.RSI, &r.StochK, &r.StochD, &r.VolZ, &r.VarSpike, &r.VolRatio,
			&r.CVD, &r.CVDSlope, &r.OBITop, &r.OBICum, &r.Microprice,
			&r.VolRegime, &r.TrendState, &r.ComputedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan feature row: %w", err)
		}

		r.Venue = domain.Venue(venue)
		r.Interval = domain.Interval(interval)
		out = append(out, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feature rows: %w", err)
	}

	return out, nil
}
