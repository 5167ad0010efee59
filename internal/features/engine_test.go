package features

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zekenewsom/hyperlocal/internal/domain"
	"github.com/zekenewsom/hyperlocal/internal/storage/memory"
)

func newTestEngine(t *testing.T) (*Engine, *memory.BarStore, *memory.FeatureStore) {
	t.Helper()
	bars := memory.NewBarStore()
	feats := memory.NewFeatureStore()
	return NewEngine(Options{Bars: bars, Features: feats}), bars, feats
}

func testBar(openTime int64, open, high, low, close, volume float64) *domain.Bar {
	return &domain.Bar{
		Venue:     domain.VenueHyperliquid,
		Symbol:    "BTC",
		Interval:  domain.Interval1m,
		OpenTime:  openTime,
		CloseTime: openTime + 59_999,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
	}
}

func TestOnBar_WritesOneRowPerClose(t *testing.T) {
	e, _, feats := newTestEngine(t)
	e.Start()
	ctx := context.Background()

	base := int64(1_700_000_000_000)
	for i := 0; i < 3; i++ {
		bar := testBar(base+int64(i)*60_000, 100, 101, 99, 100.5, 10)
		require.NoError(t, e.OnBar(ctx, bar))
	}

	require.Equal(t, 3, feats.Len())

	rows, err := feats.GetByTimeRange(ctx, domain.VenueHyperliquid,
		domain.SeriesKey{Symbol: "BTC", Interval: domain.Interval1m}, 0, base+10*60_000)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// First bar has no previous close.
	require.Zero(t, rows[0].RetLog)
	require.Zero(t, rows[0].RetPct)
	// Subsequent bars roll prevClose = close.
	require.InDelta(t, 0, rows[1].RetLog, 1e-12)
	require.Equal(t, domain.VenueHyperliquid, rows[1].Venue)
}

func TestOnBar_DroppedWhileStopped(t *testing.T) {
	e, _, feats := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.OnBar(ctx, testBar(1_700_000_000_000, 100, 101, 99, 100, 10)))
	require.Zero(t, feats.Len())

	e.Start()
	e.Stop()
	require.NoError(t, e.OnBar(ctx, testBar(1_700_000_060_000, 100, 101, 99, 100, 10)))
	require.Zero(t, feats.Len())
}

func TestOnTrade_CVDResetsEachBar(t *testing.T) {
	e, _, feats := newTestEngine(t)
	e.Start()
	ctx := context.Background()

	base := int64(1_700_000_000_000)
	// First bar establishes series state so trades have a lane to land in.
	require.NoError(t, e.OnBar(ctx, testBar(base, 100, 101, 99, 100, 10)))

	e.OnTrade(&domain.Trade{Symbol: "BTC", Price: 100, Size: 2, Side: domain.SideBuy})
	e.OnTrade(&domain.Trade{Symbol: "BTC", Price: 100, Size: 0.5, Side: domain.SideSell})
	e.OnTrade(&domain.Trade{Symbol: "BTC", Price: 100, Size: 9, Side: domain.SideUndetermined})
	e.OnTrade(&domain.Trade{Symbol: "ETH", Price: 100, Size: 7, Side: domain.SideBuy}) // other symbol

	require.NoError(t, e.OnBar(ctx, testBar(base+60_000, 100, 101, 99, 100, 10)))
	require.NoError(t, e.OnBar(ctx, testBar(base+120_000, 100, 101, 99, 100, 10)))

	key := domain.SeriesKey{Symbol: "BTC", Interval: domain.Interval1m}
	rows, err := feats.GetByTimeRange(ctx, domain.VenueHyperliquid, key, 0, base+10*60_000)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.InDelta(t, 1.5, rows[1].CVD, 1e-12)
	require.InDelta(t, 1.5/60_000.0, rows[1].CVDSlope, 1e-15)
	// Accumulator resets after each close.
	require.Zero(t, rows[2].CVD)
}

func TestOnBar_BookAndQuoteFeatures(t *testing.T) {
	e, _, feats := newTestEngine(t)
	e.Start()
	ctx := context.Background()

	base := int64(1_700_000_000_000)
	require.NoError(t, e.OnBar(ctx, testBar(base, 100, 101, 99, 100, 10)))

	e.OnBook(&domain.BookSnapshot{
		Symbol: "BTC",
		Bids:   []domain.BookLevel{{Price: 99.9, Size: 3}},
		Asks:   []domain.BookLevel{{Price: 100.1, Size: 1}},
	})
	e.OnQuote(&domain.BestQuote{Symbol: "BTC", BidPrice: 99.9, BidSize: 3, AskPrice: 100.1, AskSize: 1})

	require.NoError(t, e.OnBar(ctx, testBar(base+60_000, 100, 101, 99, 100, 10)))

	key := domain.SeriesKey{Symbol: "BTC", Interval: domain.Interval1m}
	rows, err := feats.GetByTimeRange(ctx, domain.VenueHyperliquid, key, 0, base+10*60_000)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// No book or quote retained before the first close.
	require.Zero(t, rows[0].OBITop)
	require.True(t, math.IsNaN(rows[0].Microprice))

	require.InDelta(t, 0.5, rows[1].OBITop, 1e-12) // (3-1)/(3+1)
	require.InDelta(t, 0.5, rows[1].OBICum, 1e-12)
	want := (100.1*3 + 99.9*1) / 4
	require.InDelta(t, want, rows[1].Microprice, 1e-12)
}

func TestWarmup_ReplaysRecentBarsAndPersists(t *testing.T) {
	e, bars, feats := newTestEngine(t)
	ctx := context.Background()

	base := int64(1_700_000_000_000)
	var seed []*domain.Bar
	for i := 0; i < 20; i++ {
		seed = append(seed, testBar(base+int64(i)*60_000, 100, 101, 99, 100+float64(i), 10))
	}
	require.NoError(t, bars.InsertBatch(ctx, seed))

	key := domain.SeriesKey{Symbol: "BTC", Interval: domain.Interval1m}
	require.NoError(t, e.Warmup(ctx, []domain.SeriesKey{key}, 10))

	// Engine stays stopped, but warmup rows are persisted.
	require.False(t, e.Running())
	require.Equal(t, 10, feats.Len())

	rows, err := feats.GetByTimeRange(ctx, domain.VenueHyperliquid, key, 0, base+100*60_000)
	require.NoError(t, err)
	require.Len(t, rows, 10)
	// Replay covers the most recent bars in ascending order.
	require.Equal(t, base+10*60_000+59_999, rows[0].CloseTime)
	require.Greater(t, rows[1].RetLog, 0.0) // warmed prevClose produces real returns
}

func TestOnBar_VolRegimeAndTrend(t *testing.T) {
	e, _, feats := newTestEngine(t)
	e.Start()
	ctx := context.Background()

	base := int64(1_700_000_000_000)
	// Close at the bar high -> trend_up.
	bar := testBar(base, 100, 101, 99, 101, 10)
	require.NoError(t, e.OnBar(ctx, bar))

	key := domain.SeriesKey{Symbol: "BTC", Interval: domain.Interval1m}
	rows, err := feats.GetByTimeRange(ctx, domain.VenueHyperliquid, key, 0, base+60_000)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, domain.TrendUp, rows[0].TrendState)
	require.Contains(t, []string{domain.VolRegimeLow, domain.VolRegimeMid, domain.VolRegimeHigh}, rows[0].VolRegime)
}
