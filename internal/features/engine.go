package features

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync/atomic"
	"time"

	"github.com/zekenewsom/hyperlocal/internal/domain"
	"github.com/zekenewsom/hyperlocal/internal/storage"
)

const (
	halfLifeShort = 10
	halfLifeMid   = 50
	halfLifeLong  = 200

	atrPeriod    = 14
	rsiPeriod    = 14
	stochWindow  = 14
	stochSmooth  = 3
	volumeWindow = 100

	obiDepth = 5

	regimeThreshold = 0.2

	// DefaultWarmupBars is how many recent bars per series Warmup replays.
	DefaultWarmupBars = 1000
	maxWarmupBars     = 10000
)

// seriesState is the per-(symbol, interval) indicator lane. All state mutates
// on the single dispatch path; the engine adds no locking of its own.
type seriesState struct {
	ewVar      *EWVar
	ewVarShort *EWVar
	ewVarLong  *EWVar
	atr        *ATR
	rsi        *RSI
	stoch      *Stoch
	volStat    *RollingMeanStd

	prevClose    float64
	hasPrevClose bool
	cvd          float64

	book  *domain.BookSnapshot
	quote *domain.BestQuote
}

func newSeriesState() *seriesState {
	return &seriesState{
		ewVar:      NewEWVar(LambdaFromHalfLife(halfLifeMid)),
		ewVarShort: NewEWVar(LambdaFromHalfLife(halfLifeShort)),
		ewVarLong:  NewEWVar(LambdaFromHalfLife(halfLifeLong)),
		atr:        NewATR(atrPeriod),
		rsi:        NewRSI(rsiPeriod),
		stoch:      NewStoch(stochWindow, stochSmooth),
		volStat:    NewRollingMeanStd(volumeWindow),
	}
}

// Engine consumes closed bars, trades, book snapshots and best quotes, and
// produces one feature row per bar close. It expects its caller to deliver
// events for any one series from a single goroutine in temporal order;
// replaying a bar mutates state again.
type Engine struct {
	bars     storage.BarStore
	features storage.FeatureStore
	logger   *log.Logger

	running atomic.Bool
	series  map[domain.SeriesKey]*seriesState

	now func() time.Time
}

// Options configures an Engine.
type Options struct {
	Bars     storage.BarStore
	Features storage.FeatureStore
	Logger   *log.Logger
}

// NewEngine creates a stopped feature engine.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[features] ", log.LstdFlags)
	}
	return &Engine{
		bars:     opts.Bars,
		features: opts.Features,
		logger:   logger,
		series:   make(map[domain.SeriesKey]*seriesState),
		now:      time.Now,
	}
}

// Start accepts inbound events. Idempotent.
func (e *Engine) Start() { e.running.Store(true) }

// Stop drops inbound events (they are not queued). Idempotent.
func (e *Engine) Stop() { e.running.Store(false) }

// Running reports whether the engine accepts events.
func (e *Engine) Running() bool { return e.running.Load() }

// Series returns the keys of all series that have state.
func (e *Engine) Series() []domain.SeriesKey {
	keys := make([]domain.SeriesKey, 0, len(e.series))
	for k := range e.series {
		keys = append(keys, k)
	}
	return keys
}

func (e *Engine) state(key domain.SeriesKey) *seriesState {
	s, ok := e.series[key]
	if !ok {
		s = newSeriesState()
		e.series[key] = s
	}
	return s
}

// OnTrade accumulates the trade's signed size into the CVD of every series
// on the same symbol. Dropped while stopped.
func (e *Engine) OnTrade(t *domain.Trade) {
	if !e.running.Load() {
		return
	}
	for k, s := range e.series {
		if k.Symbol == t.Symbol {
			s.cvd += SignedSize(*t)
		}
	}
}

// OnBook retains the latest book snapshot for every series on the same
// symbol. Dropped while stopped.
func (e *Engine) OnBook(b *domain.BookSnapshot) {
	if !e.running.Load() {
		return
	}
	for k, s := range e.series {
		if k.Symbol == b.Symbol {
			s.book = b
		}
	}
}

// OnQuote retains the latest best bid/offer for every series on the same
// symbol. Dropped while stopped.
func (e *Engine) OnQuote(q *domain.BestQuote) {
	if !e.running.Load() {
		return
	}
	for k, s := range e.series {
		if k.Symbol == q.Symbol {
			s.quote = q
		}
	}
}

// OnBar runs the full bar-close update path and upserts one feature row.
// Dropped while stopped.
func (e *Engine) OnBar(ctx context.Context, bar *domain.Bar) error {
	if !e.running.Load() {
		return nil
	}
	return e.processBar(ctx, bar)
}

func (e *Engine) processBar(ctx context.Context, bar *domain.Bar) error {
	s := e.state(bar.Key())

	var retLog, retPct float64
	if s.hasPrevClose {
		retLog = math.Log(bar.Close / s.prevClose)
		retPct = bar.Close/s.prevClose - 1
	}

	ewVar := s.ewVar.Push(retLog)
	volEW := math.Sqrt(ewVar)
	volShort := math.Sqrt(s.ewVarShort.Push(retLog))
	volLong := math.Sqrt(s.ewVarLong.Push(retLog))

	varSpike := 0.0
	if volLong > 0 {
		varSpike = volShort / volLong
	}

	atr := s.atr.Push(bar.High, bar.Low, bar.Close)
	rsi := s.rsi.Push(bar.Close)
	stochK, stochD := s.stoch.Push(bar.High, bar.Low, bar.Close)

	s.volStat.Push(bar.Volume)
	volZ := s.volStat.Z(bar.Volume)

	volRatio := 1.0
	if mean := s.volStat.Mean(); mean > 0 {
		volRatio = bar.Volume / mean
	}

	obiTop, obiCum := 0.0, 0.0
	if s.book != nil {
		obiTop = OBITop(s.book.Bids, s.book.Asks, obiDepth)
		obiCum = OBICum(s.book.Bids, s.book.Asks)
	}
	micro := math.NaN()
	if s.quote != nil {
		micro = Microprice(s.quote.BidPrice, s.quote.BidSize, s.quote.AskPrice, s.quote.AskSize)
	}

	cvd := s.cvd
	cvdSlope := 0.0
	if dur := bar.Interval.Ms(); dur > 0 {
		cvdSlope = cvd / float64(dur)
	}

	// Volatility regime from the deviation of mid-half-life vol above the
	// long-half-life baseline.
	zVol := 0.0
	if volEW > 0 && volLong > 0 {
		zVol = (volEW - volLong) / (1e-6 + volLong)
	}
	volRegime := domain.VolRegimeMid
	switch {
	case zVol < -regimeThreshold:
		volRegime = domain.VolRegimeLow
	case zVol > regimeThreshold:
		volRegime = domain.VolRegimeHigh
	}

	trendState := domain.TrendRange
	switch {
	case bar.Close >= bar.High:
		trendState = domain.TrendUp
	case bar.Close <= bar.Low:
		trendState = domain.TrendDown
	}

	row := &domain.FeatureRow{
		Venue:      bar.Venue,
		Symbol:     bar.Symbol,
		Interval:   bar.Interval,
		CloseTime:  bar.CloseTime,
		RetLog:     retLog,
		RetPct:     retPct,
		EWVar:      ewVar,
		EWVol:      volEW,
		ATR:        atr,
		RSI:        rsi,
		StochK:     stochK,
		StochD:     stochD,
		VolZ:       volZ,
		VarSpike:   varSpike,
		VolRatio:   volRatio,
		CVD:        cvd,
		CVDSlope:   cvdSlope,
		OBITop:     obiTop,
		OBICum:     obiCum,
		Microprice: micro,
		VolRegime:  volRegime,
		TrendState: trendState,
		ComputedAt: e.now().UnixMilli(),
	}
	if err := e.features.Upsert(ctx, row); err != nil {
		return fmt.Errorf("upsert features %s close=%d: %w", bar.Key(), bar.CloseTime, err)
	}

	s.cvd = 0
	s.prevClose = bar.Close
	s.hasPrevClose = true
	return nil
}

// Warmup replays up to barsPerSeries recent primary-venue bars per series
// through the full bar-close path, so smoothed indicators are not cold when
// live traffic starts. Feature rows for the replayed bars are persisted as a
// side effect. Runs regardless of the running flag.
func (e *Engine) Warmup(ctx context.Context, keys []domain.SeriesKey, barsPerSeries int) error {
	if barsPerSeries < 1 {
		barsPerSeries = 1
	}
	if barsPerSeries > maxWarmupBars {
		barsPerSeries = maxWarmupBars
	}

	for _, key := range keys {
		bars, err := e.bars.RecentBars(ctx, domain.VenueHyperliquid, key, barsPerSeries)
		if err != nil {
			return fmt.Errorf("load warmup bars %s: %w", key, err)
		}
		for _, bar := range bars {
			if err := e.processBar(ctx, bar); err != nil {
				return fmt.Errorf("warmup replay %s: %w", key, err)
			}
		}
		e.logger.Printf("warmup %s: replayed %d bars", key, len(bars))
	}
	return nil
}
