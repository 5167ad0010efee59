// Package archive writes bar batches to Parquet files, one file per
// (venue, symbol, interval, first open_time). The durable store stays
// authoritative; the archive is a flat-file mirror for offline analysis.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/zekenewsom/hyperlocal/internal/domain"
)

// barRecord is the Parquet row shape.
type barRecord struct {
	Venue      string  `parquet:"venue"`
	Symbol     string  `parquet:"symbol"`
	Interval   string  `parquet:"interval"`
	OpenTime   int64   `parquet:"open_time"`
	CloseTime  int64   `parquet:"close_time"`
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     float64 `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap,optional"`
}

// Writer appends bar batches to a directory of Parquet files.
type Writer struct {
	dir string
}

// NewWriter creates the archive directory if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir %s: %w", dir, err)
	}
	return &Writer{dir: dir}, nil
}

// WriteBars writes one batch to its own file. Empty batches are a no-op.
// Rewriting the same window overwrites the previous file, keeping the
// archive idempotent per window.
func (w *Writer) WriteBars(bars []*domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	records := make([]barRecord, 0, len(bars))
	for _, b := range bars {
		rec := barRecord{
			Venue:      string(b.Venue),
			Symbol:     b.Symbol,
			Interval:   string(b.Interval),
			OpenTime:   b.OpenTime,
			CloseTime:  b.CloseTime,
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			TradeCount: int64(b.TradeCount),
		}
		if b.VWAP != nil {
			rec.VWAP = *b.VWAP
		}
		records = append(records, rec)
	}

	first := bars[0]
	name := fmt.Sprintf("%s_%s_%s_%d.parquet", first.Venue, first.Symbol, first.Interval, first.OpenTime)
	path := filepath.Join(w.dir, name)
	if err := parquet.WriteFile(path, records); err != nil {
		return fmt.Errorf("write archive file %s: %w", name, err)
	}
	return nil
}

// ResetInterval deletes all archived files of one interval. Maintenance path.
func (w *Writer) ResetInterval(interval domain.Interval) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read archive dir: %w", err)
	}

	suffix := "_" + string(interval) + "_"
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".parquet") {
			continue
		}
		if !strings.Contains(entry.Name(), suffix) {
			continue
		}
		if err := os.Remove(filepath.Join(w.dir, entry.Name())); err != nil {
			return fmt.Errorf("remove %s: %w", entry.Name(), err)
		}
	}
	return nil
}
