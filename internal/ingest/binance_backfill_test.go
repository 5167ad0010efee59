package ingest

import (
	"context"
	"sync"
	"testing"

	"github.com/zekenewsom/hyperlocal/internal/domain"
	"github.com/zekenewsom/hyperlocal/internal/storage/memory"
)

// stubKlines serves secondary-venue bars from a fixed history keyed by pair.
type stubKlines struct {
	mu      sync.Mutex
	history []*domain.Bar
	pair    string
	calls   int
}

func (s *stubKlines) FetchBars(_ context.Context, pair, baseSymbol string, _ domain.Interval, startMs, endMs int64) ([]*domain.Bar, error) {
	s.mu.Lock()
	s.calls++
	s.pair = pair
	s.mu.Unlock()

	var out []*domain.Bar
	for _, b := range s.history {
		if b.Symbol == baseSymbol && b.OpenTime >= startMs && b.OpenTime <= endMs {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *stubKlines) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// makeBinanceBars builds n contiguous 1m secondary-venue bars ending just
// before endOpen.
func makeBinanceBars(symbol string, endOpen int64, n int) []*domain.Bar {
	bars := make([]*domain.Bar, n)
	for i := range bars {
		open := endOpen - int64(n-i)*60_000
		bars[i] = &domain.Bar{
			Venue:    domain.VenueBinance,
			Symbol:   symbol,
			Interval: domain.Interval1m,
			OpenTime: open, CloseTime: open + 59_999,
			Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10,
		}
	}
	return bars
}

func TestBinanceBackfill_ExtendsBackwardFromPrimaryBaseline(t *testing.T) {
	ctx := context.Background()
	key := domain.SeriesKey{Symbol: "BTC", Interval: domain.Interval1m}
	store := memory.NewBarStore()

	// Primary baseline: oldest primary bar opens at testBase.
	if err := store.InsertBatch(ctx, makeBars("BTC", testBase, 10)); err != nil {
		t.Fatalf("seed primary: %v", err)
	}

	// 1500 bars of older secondary history: one full 1000-bar page, then a
	// short 500-bar page that ends the walk.
	source := &stubKlines{history: makeBinanceBars("BTC", testBase, 1500)}

	b := NewBinanceBackfiller(BinanceBackfillOptions{Source: source, Bars: store})
	if err := b.Run(ctx, []domain.SeriesKey{key}); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := source.pair; got != "BTCUSDT" {
		t.Errorf("pair: got %q, want BTCUSDT", got)
	}
	if got := source.callCount(); got != 2 {
		t.Errorf("got %d fetches, want 2", got)
	}

	count, err := store.Count(ctx, domain.VenueBinance, key)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1500 {
		t.Errorf("got %d secondary bars, want 1500", count)
	}

	minOpen, err := store.MinOpenTime(ctx, domain.VenueBinance, key)
	if err != nil {
		t.Fatalf("min open: %v", err)
	}
	if want := testBase - 1500*60_000; minOpen != want {
		t.Errorf("min open: got %d, want %d", minOpen, want)
	}

	progress := b.Progress()
	if len(progress) != 1 {
		t.Fatalf("got %d progress entries, want 1", len(progress))
	}
	if p := progress[0]; p.WindowsDone != 2 || p.RowsWritten != 1500 {
		t.Errorf("progress: %+v", p)
	}
}

func TestBinanceBackfill_SkipsSeriesWithoutPrimaryBaseline(t *testing.T) {
	ctx := context.Background()
	key := domain.SeriesKey{Symbol: "BTC", Interval: domain.Interval1m}
	source := &stubKlines{}

	b := NewBinanceBackfiller(BinanceBackfillOptions{
		Source: source,
		Bars:   memory.NewBarStore(),
	})
	if err := b.Run(ctx, []domain.SeriesKey{key}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := source.callCount(); got != 0 {
		t.Errorf("got %d fetches for baseline-less series, want 0", got)
	}
}

func TestBinanceBackfill_StopsOnEmptyPage(t *testing.T) {
	ctx := context.Background()
	key := domain.SeriesKey{Symbol: "BTC", Interval: domain.Interval1m}
	store := memory.NewBarStore()

	if err := store.InsertBatch(ctx, makeBars("BTC", testBase, 10)); err != nil {
		t.Fatalf("seed primary: %v", err)
	}

	// No secondary history at all: first page is empty, walk ends.
	source := &stubKlines{}
	b := NewBinanceBackfiller(BinanceBackfillOptions{Source: source, Bars: store})
	if err := b.Run(ctx, []domain.SeriesKey{key}); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := source.callCount(); got != 1 {
		t.Errorf("got %d fetches, want 1", got)
	}
	count, _ := store.Count(ctx, domain.VenueBinance, key)
	if count != 0 {
		t.Errorf("got %d secondary bars, want 0", count)
	}
}
