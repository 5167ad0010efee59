// Package ingest contains the backfill fetchers, the gap detector/filler
// and the orchestrator that sequences them around the live stream.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zekenewsom/hyperlocal/internal/domain"
	"github.com/zekenewsom/hyperlocal/internal/observability"
	"github.com/zekenewsom/hyperlocal/internal/ratelimit"
	"github.com/zekenewsom/hyperlocal/internal/storage"
)

// HistoricalSource fetches all bars of one series within [startMs, endMs].
type HistoricalSource interface {
	FetchBars(ctx context.Context, symbol string, interval domain.Interval, startMs, endMs int64) ([]*domain.Bar, error)
}

// BarArchiver mirrors written batches to flat files. Optional.
type BarArchiver interface {
	WriteBars(bars []*domain.Bar) error
}

// Primary-venue REST budget: 1200 weight per minute; a window fetch costs
// 20 + ceil(items/60).
const (
	primaryWeightCapacity = 1200
	primaryWeightPerSec   = 1200.0 / 60.0
	windowBaseWeight      = 20
)

// BackfillOptions configures a Backfiller.
type BackfillOptions struct {
	Source   HistoricalSource
	Bars     storage.BarStore
	Progress storage.ProgressStore // optional restart-visibility mirror
	Archive  BarArchiver           // optional
	Metrics  *observability.Metrics
	Logger   *log.Logger

	LookbackDays   int
	WindowCandles  int
	MaxConcurrency int
}

// Backfiller brings every configured primary-venue series up to
// near-real-time: it computes the uncovered range per series, partitions it
// into bounded windows and fetches them with a bounded worker pool under
// the venue's weight budget.
type Backfiller struct {
	source   HistoricalSource
	bars     storage.BarStore
	progress storage.ProgressStore
	archive  BarArchiver
	metrics  *observability.Metrics
	logger   *log.Logger

	lookbackDays   int
	windowCandles  int
	maxConcurrency int

	bucket *ratelimit.TokenBucket

	mu       sync.Mutex
	perKey   map[domain.SeriesKey]*domain.BackfillProgress
	now      func() time.Time
}

// NewBackfiller creates a primary-venue backfiller.
func NewBackfiller(opts BackfillOptions) *Backfiller {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[backfill] ", log.LstdFlags)
	}
	concurrency := opts.MaxConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > 8 {
		concurrency = 8
	}
	windowCandles := opts.WindowCandles
	if windowCandles < 1 {
		windowCandles = 3000
	}
	lookbackDays := opts.LookbackDays
	if lookbackDays < 1 {
		lookbackDays = 30
	}
	return &Backfiller{
		source:         opts.Source,
		bars:           opts.Bars,
		progress:       opts.Progress,
		archive:        opts.Archive,
		metrics:        opts.Metrics,
		logger:         logger,
		lookbackDays:   lookbackDays,
		windowCandles:  windowCandles,
		maxConcurrency: concurrency,
		bucket:         ratelimit.NewTokenBucket(primaryWeightCapacity, primaryWeightPerSec),
		perKey:         make(map[domain.SeriesKey]*domain.BackfillProgress),
		now:            time.Now,
	}
}

type window struct {
	start int64
	end   int64
}

// planWindows partitions [startMs, endMs] into fixed-size windows of at
// most windowCandles bars each.
func planWindows(startMs, endMs, intervalMs int64, windowCandles int) []window {
	step := intervalMs*int64(windowCandles) - 1
	var windows []window
	for s := startMs; s <= endMs; {
		e := s + step
		if e > endMs {
			e = endMs
		}
		windows = append(windows, window{start: s, end: e})
		s = e + 1
	}
	return windows
}

// windowWeight is the venue's cost model for one window fetch.
func windowWeight(w window, intervalMs int64) float64 {
	items := math.Ceil(float64(w.end-w.start+1) / float64(intervalMs))
	return windowBaseWeight + math.Ceil(items/60)
}

// Run backfills every series. Within one series the windows are fetched by
// maxConcurrency workers claiming indices in order; window writes are
// order-independent because the store upserts. The first error cancels the
// remaining windows of the run.
func (b *Backfiller) Run(ctx context.Context, keys []domain.SeriesKey) error {
	nowMs := b.now().UnixMilli()

	for _, key := range keys {
		if err := b.runSeries(ctx, key, nowMs); err != nil {
			if b.metrics != nil {
				b.metrics.BackfillErrors.WithLabelValues(string(domain.VenueHyperliquid)).Inc()
			}
			return fmt.Errorf("backfill %s: %w", key, err)
		}
	}
	return nil
}

func (b *Backfiller) runSeries(ctx context.Context, key domain.SeriesKey, nowMs int64) error {
	// Resume just past the newest stored bar; otherwise cover the lookback.
	startMs := nowMs - int64(b.lookbackDays)*86_400_000
	maxClose, err := b.bars.MaxCloseTime(ctx, domain.VenueHyperliquid, key)
	switch {
	case err == nil:
		startMs = maxClose + 1
	case errors.Is(err, storage.ErrNotFound):
	default:
		return fmt.Errorf("max close time: %w", err)
	}

	intervalMs := key.Interval.Ms()
	windows := planWindows(startMs, nowMs, intervalMs, b.windowCandles)

	prog := &domain.BackfillProgress{
		Venue:          domain.VenueHyperliquid,
		Symbol:         key.Symbol,
		Interval:       key.Interval,
		WindowsPlanned: len(windows),
	}
	b.mu.Lock()
	b.perKey[key] = prog
	b.mu.Unlock()

	if len(windows) == 0 {
		return nil
	}
	b.logger.Printf("%s: %d windows from %d to %d", key, len(windows), startMs, nowMs)

	var next atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < b.maxConcurrency; i++ {
		g.Go(func() error {
			for {
				idx := next.Add(1) - 1
				if idx >= int64(len(windows)) {
					return nil
				}
				if err := b.fetchWindow(gctx, key, windows[idx], intervalMs); err != nil {
					return err
				}
				b.recordWindow(gctx, key)
			}
		})
	}
	return g.Wait()
}

func (b *Backfiller) fetchWindow(ctx context.Context, key domain.SeriesKey, w window, intervalMs int64) error {
	if err := b.bucket.Wait(ctx, windowWeight(w, intervalMs)); err != nil {
		return err
	}

	start := time.Now()
	bars, err := b.source.FetchBars(ctx, key.Symbol, key.Interval, w.start, w.end)
	if b.metrics != nil {
		b.metrics.FetchLatency.WithLabelValues(string(domain.VenueHyperliquid)).
			Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("window [%d,%d]: %w", w.start, w.end, err)
	}
	if err := b.writeBars(ctx, key, bars); err != nil {
		return fmt.Errorf("window [%d,%d]: %w", w.start, w.end, err)
	}
	return nil
}

func (b *Backfiller) writeBars(ctx context.Context, key domain.SeriesKey, bars []*domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	if err := b.bars.InsertBatch(ctx, bars); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	if b.archive != nil {
		if err := b.archive.WriteBars(bars); err != nil {
			// The store is authoritative; a failed archive write is a warning.
			b.logger.Printf("archive write failed for %s: %v", key, err)
		}
	}
	if b.metrics != nil {
		b.metrics.BarsWritten.WithLabelValues(string(domain.VenueHyperliquid)).Add(float64(len(bars)))
	}

	b.mu.Lock()
	if p, ok := b.perKey[key]; ok {
		p.RowsWritten += len(bars)
	}
	b.mu.Unlock()
	return nil
}

// recordWindow bumps the per-series counters and mirrors them to the
// progress store when one is configured.
func (b *Backfiller) recordWindow(ctx context.Context, key domain.SeriesKey) {
	b.mu.Lock()
	p, ok := b.perKey[key]
	if ok {
		p.WindowsDone++
	}
	var snapshot domain.BackfillProgress
	if ok {
		snapshot = *p
	}
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.WindowsFetched.WithLabelValues(string(domain.VenueHyperliquid)).Inc()
	}
	if ok && b.progress != nil {
		if err := b.progress.UpsertProgress(ctx, &snapshot); err != nil {
			b.logger.Printf("progress mirror failed for %s: %v", key, err)
		}
	}
}

// FillGap replays the fetch-and-write path over [gapStart, gapEnd],
// sequentially per chunk. Gap fills are lower priority than the startup
// pool and must not contend with its rate-budget assumptions.
func (b *Backfiller) FillGap(ctx context.Context, gap domain.Gap) error {
	key := domain.SeriesKey{Symbol: gap.Symbol, Interval: gap.Interval}
	intervalMs := gap.Interval.Ms()

	for _, w := range planWindows(gap.GapStart, gap.GapEnd, intervalMs, b.windowCandles) {
		if err := b.fetchWindow(ctx, key, w, intervalMs); err != nil {
			return fmt.Errorf("fill gap %s: %w", key, err)
		}
	}
	return nil
}

// Progress returns a snapshot of all per-series counters.
func (b *Backfiller) Progress() []*domain.BackfillProgress {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*domain.BackfillProgress, 0, len(b.perKey))
	for _, p := range b.perKey {
		snapshot := *p
		out = append(out, &snapshot)
	}
	return out
}
