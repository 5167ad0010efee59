package ingest

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/zekenewsom/hyperlocal/internal/domain"
	"github.com/zekenewsom/hyperlocal/internal/observability"
	"github.com/zekenewsom/hyperlocal/internal/storage"
)

// FindGaps scans an ascending open-time sequence for missing bars. Each
// consecutive pair spaced by more than one interval yields a Gap covering
// the missing run. BarsMissing is the distance between the bracketing
// present opens in interval steps.
func FindGaps(key domain.SeriesKey, opens []int64, intervalMs int64) []domain.Gap {
	var gaps []domain.Gap
	for i := 1; i < len(opens); i++ {
		prev, curr := opens[i-1], opens[i]
		if curr-prev <= intervalMs {
			continue
		}
		gaps = append(gaps, domain.Gap{
			Symbol:      key.Symbol,
			Interval:    key.Interval,
			GapStart:    prev + intervalMs,
			GapEnd:      curr - 1,
			BarsMissing: (curr - prev) / intervalMs,
		})
	}
	return gaps
}

// GapFiller replays the backfill fetch-and-write path over one gap.
type GapFiller interface {
	FillGap(ctx context.Context, gap domain.Gap) error
}

// GapServiceOptions configures a GapService.
type GapServiceOptions struct {
	Bars    storage.BarStore
	Filler  GapFiller
	Metrics *observability.Metrics
	Logger  *log.Logger
}

// GapService detects missing-bar runs in the primary venue's stored series
// and fills them. At most one fill per series runs at a time; a second
// trigger for the same series while one is in flight is a silent no-op.
type GapService struct {
	bars    storage.BarStore
	filler  GapFiller
	metrics *observability.Metrics
	logger  *log.Logger

	mu       sync.Mutex
	inFlight map[domain.SeriesKey]struct{}
}

// NewGapService creates a gap detector/filler.
func NewGapService(opts GapServiceOptions) *GapService {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[gaps] ", log.LstdFlags)
	}
	return &GapService{
		bars:     opts.Bars,
		filler:   opts.Filler,
		metrics:  opts.Metrics,
		logger:   logger,
		inFlight: make(map[domain.SeriesKey]struct{}),
	}
}

// ListGaps scans the given series for gaps, bounded below by sinceMs when
// sinceMs > 0.
func (s *GapService) ListGaps(ctx context.Context, keys []domain.SeriesKey, sinceMs int64) ([]domain.Gap, error) {
	var all []domain.Gap
	for _, key := range keys {
		opens, err := s.bars.OpenTimes(ctx, domain.VenueHyperliquid, key, sinceMs)
		if err != nil {
			return nil, fmt.Errorf("open times %s: %w", key, err)
		}
		all = append(all, FindGaps(key, opens, key.Interval.Ms())...)
	}
	if s.metrics != nil {
		s.metrics.GapsDetected.Add(float64(len(all)))
	}
	return all, nil
}

// FillGaps scans and fills every detected gap sequentially. Series whose
// fill is already in flight are skipped.
func (s *GapService) FillGaps(ctx context.Context, keys []domain.SeriesKey, sinceMs int64) error {
	gaps, err := s.ListGaps(ctx, keys, sinceMs)
	if err != nil {
		return err
	}
	if len(gaps) == 0 {
		return nil
	}
	s.logger.Printf("detected %d gaps, filling", len(gaps))

	for _, gap := range gaps {
		key := domain.SeriesKey{Symbol: gap.Symbol, Interval: gap.Interval}
		if !s.acquire(key) {
			if s.metrics != nil {
				s.metrics.GapFillSkips.Inc()
			}
			continue
		}
		err := s.filler.FillGap(ctx, gap)
		s.release(key)
		if err != nil {
			return fmt.Errorf("fill gap %s [%d,%d]: %w", key, gap.GapStart, gap.GapEnd, err)
		}
		if s.metrics != nil {
			s.metrics.GapsFilled.Inc()
		}
	}
	return nil
}

// ScheduleFill fills one known gap asynchronously, so live message
// processing is never blocked. A fill already in flight for the series
// makes this a silent no-op.
func (s *GapService) ScheduleFill(ctx context.Context, gap domain.Gap) {
	key := domain.SeriesKey{Symbol: gap.Symbol, Interval: gap.Interval}
	if !s.acquire(key) {
		if s.metrics != nil {
			s.metrics.GapFillSkips.Inc()
		}
		return
	}

	go func() {
		defer s.release(key)
		s.logger.Printf("filling live gap %s [%d,%d] (%d bars)",
			key, gap.GapStart, gap.GapEnd, gap.BarsMissing)
		if err := s.filler.FillGap(ctx, gap); err != nil {
			s.logger.Printf("live gap fill %s failed: %v", key, err)
			return
		}
		if s.metrics != nil {
			s.metrics.GapsFilled.Inc()
		}
	}()
}

func (s *GapService) acquire(key domain.SeriesKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[key]; ok {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

func (s *GapService) release(key domain.SeriesKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
}
