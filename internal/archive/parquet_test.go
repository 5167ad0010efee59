package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/zekenewsom/hyperlocal/internal/domain"
)

func archiveBar(interval domain.Interval, openTime int64) *domain.Bar {
	return &domain.Bar{
		Venue:     domain.VenueHyperliquid,
		Symbol:    "BTC",
		Interval:  interval,
		OpenTime:  openTime,
		CloseTime: openTime + interval.Ms() - 1,
		Open:      100, High: 101, Low: 99, Close: 100.5, Volume: 10,
	}
}

func TestWriteBars_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	bars := []*domain.Bar{
		archiveBar(domain.Interval1m, 1_700_000_000_000),
		archiveBar(domain.Interval1m, 1_700_000_060_000),
	}
	if err := w.WriteBars(bars); err != nil {
		t.Fatalf("write: %v", err)
	}

	path := filepath.Join(dir, "hyperliquid_BTC_1m_1700000000000.parquet")
	rows, err := parquet.ReadFile[barRecord](path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Symbol != "BTC" || rows[0].OpenTime != 1_700_000_000_000 || rows[0].Close != 100.5 {
		t.Errorf("row fields wrong: %+v", rows[0])
	}
}

func TestWriteBars_EmptyNoop(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	if err := w.WriteBars(nil); err != nil {
		t.Fatalf("empty write: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("empty batch produced %d files", len(entries))
	}
}

func TestResetInterval_DeletesOnlyMatching(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	if err := w.WriteBars([]*domain.Bar{archiveBar(domain.Interval1m, 1_700_000_000_000)}); err != nil {
		t.Fatalf("write 1m: %v", err)
	}
	if err := w.WriteBars([]*domain.Bar{archiveBar(domain.Interval1h, 1_700_000_000_000)}); err != nil {
		t.Fatalf("write 1h: %v", err)
	}

	if err := w.ResetInterval(domain.Interval1m); err != nil {
		t.Fatalf("reset: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d files, want 1", len(entries))
	}
	if entries[0].Name() != "hyperliquid_BTC_1h_1700000000000.parquet" {
		t.Errorf("wrong survivor: %s", entries[0].Name())
	}
}
