package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zekenewsom/hyperlocal/internal/domain"
	"github.com/zekenewsom/hyperlocal/internal/observability"
	"github.com/zekenewsom/hyperlocal/internal/ratelimit"
	"github.com/zekenewsom/hyperlocal/internal/storage"
	"github.com/zekenewsom/hyperlocal/internal/venue/binance"
)

// KlinesSource fetches one page of secondary-venue klines.
type KlinesSource interface {
	FetchBars(ctx context.Context, pair, baseSymbol string, interval domain.Interval, startMs, endMs int64) ([]*domain.Bar, error)
}

// Cap on backward windows planned per series; the walk normally stops much
// earlier on an empty or undersized response.
const maxBackwardWindows = 10_000

// BinanceBackfillOptions configures a BinanceBackfiller.
type BinanceBackfillOptions struct {
	Source  KlinesSource
	Bars    storage.BarStore
	Archive BarArchiver
	Metrics *observability.Metrics
	Logger  *log.Logger

	// WeightPerMin is the request budget; klines cost 1 each.
	WeightPerMin int
}

// BinanceBackfiller extends each series' history backward from the oldest
// primary-venue bar. The walk is strictly sequential per series: each page
// bounds the next request, and an empty or undersized page means the start
// of available history.
type BinanceBackfiller struct {
	source  KlinesSource
	bars    storage.BarStore
	archive BarArchiver
	metrics *observability.Metrics
	logger  *log.Logger
	bucket  *ratelimit.TokenBucket

	mu     sync.Mutex
	perKey map[domain.SeriesKey]*domain.BackfillProgress
}

// NewBinanceBackfiller creates a secondary-venue backfiller.
func NewBinanceBackfiller(opts BinanceBackfillOptions) *BinanceBackfiller {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[binance] ", log.LstdFlags)
	}
	weight := opts.WeightPerMin
	if weight < 1 {
		weight = 600
	}
	return &BinanceBackfiller{
		source:  opts.Source,
		bars:    opts.Bars,
		archive: opts.Archive,
		metrics: opts.Metrics,
		logger:  logger,
		bucket:  ratelimit.NewTokenBucket(float64(weight), float64(weight)/60),
		perKey:  make(map[domain.SeriesKey]*domain.BackfillProgress),
	}
}

// pairFor maps a base symbol to the venue's USDT pair.
func pairFor(symbol string) string { return symbol + "USDT" }

// Run walks every series backward. A series with no primary-venue baseline
// is skipped with a log line: secondary data only ever extends primary
// history, it never seeds a series.
func (b *BinanceBackfiller) Run(ctx context.Context, keys []domain.SeriesKey) error {
	for _, key := range keys {
		if err := b.runSeries(ctx, key); err != nil {
			if b.metrics != nil {
				b.metrics.BackfillErrors.WithLabelValues(string(domain.VenueBinance)).Inc()
			}
			return fmt.Errorf("binance backfill %s: %w", key, err)
		}
	}
	return nil
}

func (b *BinanceBackfiller) runSeries(ctx context.Context, key domain.SeriesKey) error {
	prog := &domain.BackfillProgress{
		Venue:    domain.VenueBinance,
		Symbol:   key.Symbol,
		Interval: key.Interval,
	}
	b.mu.Lock()
	b.perKey[key] = prog
	b.mu.Unlock()

	minOpen, err := b.bars.MinOpenTime(ctx, domain.VenueHyperliquid, key)
	if errors.Is(err, storage.ErrNotFound) {
		b.logger.Printf("%s: no primary baseline yet, skipping", key)
		return nil
	}
	if err != nil {
		return fmt.Errorf("min open time: %w", err)
	}

	endMs := minOpen - 1
	if endMs <= 0 {
		return nil
	}

	intervalMs := key.Interval.Ms()
	step := intervalMs*binance.MaxBarsPerRequest - 1
	pair := pairFor(key.Symbol)

	// Conservative plan: the walk usually stops well short of this on an
	// empty or undersized page.
	planned := int(endMs/(step+1)) + 1
	if planned > maxBackwardWindows {
		planned = maxBackwardWindows
	}
	b.mu.Lock()
	prog.WindowsPlanned = planned
	b.mu.Unlock()

	windows := 0
	for curEnd := endMs; curEnd > 0 && windows < maxBackwardWindows; windows++ {
		startMs := curEnd - step
		if startMs < 0 {
			startMs = 0
		}

		if err := b.bucket.Wait(ctx, 1); err != nil {
			return err
		}

		fetchStart := time.Now()
		bars, err := b.source.FetchBars(ctx, pair, key.Symbol, key.Interval, startMs, curEnd)
		if b.metrics != nil {
			b.metrics.FetchLatency.WithLabelValues(string(domain.VenueBinance)).
				Observe(time.Since(fetchStart).Seconds())
		}
		if err != nil {
			return fmt.Errorf("window [%d,%d]: %w", startMs, curEnd, err)
		}

		if len(bars) == 0 {
			b.logger.Printf("%s: empty window [%d,%d], end of history", key, startMs, curEnd)
			return nil
		}

		if err := b.bars.InsertBatch(ctx, bars); err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		if b.archive != nil {
			if err := b.archive.WriteBars(bars); err != nil {
				b.logger.Printf("archive write failed for %s: %v", key, err)
			}
		}
		if b.metrics != nil {
			b.metrics.WindowsFetched.WithLabelValues(string(domain.VenueBinance)).Inc()
			b.metrics.BarsWritten.WithLabelValues(string(domain.VenueBinance)).Add(float64(len(bars)))
		}

		b.mu.Lock()
		prog.WindowsDone++
		prog.RowsWritten += len(bars)
		b.mu.Unlock()

		// A short page means the venue has nothing older.
		if len(bars) < binance.MaxBarsPerRequest {
			b.logger.Printf("%s: reached start of history after %d windows, %d rows",
				key, prog.WindowsDone, prog.RowsWritten)
			return nil
		}
		curEnd = startMs - 1
	}
	return nil
}

// Progress returns a snapshot of all per-series counters.
func (b *BinanceBackfiller) Progress() []*domain.BackfillProgress {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*domain.BackfillProgress, 0, len(b.perKey))
	for _, p := range b.perKey {
		snapshot := *p
		out = append(out, &snapshot)
	}
	return out
}
