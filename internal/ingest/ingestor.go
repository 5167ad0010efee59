package ingest

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zekenewsom/hyperlocal/internal/domain"
	"github.com/zekenewsom/hyperlocal/internal/features"
	"github.com/zekenewsom/hyperlocal/internal/observability"
	"github.com/zekenewsom/hyperlocal/internal/storage"
	"github.com/zekenewsom/hyperlocal/internal/venue/hyperliquid"
)

// Status is the orchestrator's aggregate view, served on the control surface.
type Status struct {
	Running         bool                        `json:"running"`
	Connection      hyperliquid.Stats           `json:"connection"`
	Backfill        []*domain.BackfillProgress  `json:"backfill"`
	MessageCounters map[string]uint64           `json:"message_counters"`
	LastMessageMs   int64                       `json:"last_message_ms"`
}

// IngestorOptions configures an Ingestor.
type IngestorOptions struct {
	Series    []domain.SeriesKey
	WSURL     string
	WSConfig  hyperliquid.WSClientConfig
	Engine    *features.Engine
	Primary   *Backfiller
	Secondary *BinanceBackfiller // nil when the secondary venue is disabled
	Gaps      *GapService
	Bars      storage.BarStore
	Metrics   *observability.Metrics
	Logger    *log.Logger

	WarmupBars    int
	GapScanPeriod time.Duration
	LookbackDays  int
}

// Ingestor sequences startup (primary backfill, gap fill, warmup, secondary
// backfill, live subscribe), dispatches live messages into the feature
// engine, and runs the periodic gap scan. All live messages flow through
// the single onMessage path, so any one series sees bar closes in order.
type Ingestor struct {
	series    []domain.SeriesKey
	symbols   []string
	wsURL     string
	wsConfig  hyperliquid.WSClientConfig
	engine    *features.Engine
	primary   *Backfiller
	secondary *BinanceBackfiller
	gaps      *GapService
	bars      storage.BarStore
	metrics   *observability.Metrics
	logger    *log.Logger

	warmupBars    int
	gapScanPeriod time.Duration
	lookbackDays  int

	running  atomic.Bool
	scanning atomic.Bool
	runCtx   context.Context
	cancel   context.CancelFunc
	ws       *hyperliquid.WSClient

	mu            sync.Mutex
	lastOpenTimes map[domain.SeriesKey]int64
	counters      map[string]uint64
	lastMessageMs int64
}

// NewIngestor creates a stopped orchestrator.
func NewIngestor(opts IngestorOptions) *Ingestor {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[ingestor] ", log.LstdFlags)
	}
	gapScanPeriod := opts.GapScanPeriod
	if gapScanPeriod <= 0 {
		gapScanPeriod = 15 * time.Minute
	}
	lookbackDays := opts.LookbackDays
	if lookbackDays < 1 {
		lookbackDays = 30
	}
	warmupBars := opts.WarmupBars
	if warmupBars < 0 {
		warmupBars = 0
	}

	var symbols []string
	seen := make(map[string]struct{})
	for _, key := range opts.Series {
		if _, ok := seen[key.Symbol]; !ok {
			seen[key.Symbol] = struct{}{}
			symbols = append(symbols, key.Symbol)
		}
	}

	return &Ingestor{
		series:        opts.Series,
		symbols:       symbols,
		wsURL:         opts.WSURL,
		wsConfig:      opts.WSConfig,
		engine:        opts.Engine,
		primary:       opts.Primary,
		secondary:     opts.Secondary,
		gaps:          opts.Gaps,
		bars:          opts.Bars,
		metrics:       opts.Metrics,
		logger:        logger,
		warmupBars:    warmupBars,
		gapScanPeriod: gapScanPeriod,
		lookbackDays:  lookbackDays,
		lastOpenTimes: make(map[domain.SeriesKey]int64),
		counters:      make(map[string]uint64),
	}
}

// Start runs the startup sequence and opens the live stream. Idempotent:
// a second start while running is a no-op. Backfill, gap-fill and warmup
// failures are logged and do not abort startup.
func (in *Ingestor) Start(ctx context.Context) error {
	if !in.running.CompareAndSwap(false, true) {
		return nil
	}
	in.runCtx, in.cancel = context.WithCancel(context.Background())

	in.logger.Printf("starting: %d series across %d symbols", len(in.series), len(in.symbols))

	if err := in.primary.Run(ctx, in.series); err != nil {
		in.logger.Printf("primary backfill: %v", err)
	}

	sinceMs := time.Now().UnixMilli() - int64(in.lookbackDays)*86_400_000
	if err := in.gaps.FillGaps(ctx, in.series, sinceMs); err != nil {
		in.logger.Printf("startup gap fill: %v", err)
	}

	if in.warmupBars > 0 {
		if err := in.engine.Warmup(ctx, in.series, in.warmupBars); err != nil {
			in.logger.Printf("feature warmup: %v", err)
		}
	}

	if in.secondary != nil {
		if err := in.secondary.Run(ctx, in.series); err != nil {
			in.logger.Printf("secondary backfill: %v", err)
		}
	}

	in.populateLastOpenTimes(ctx)
	in.engine.Start()

	ws := hyperliquid.NewWSClient(hyperliquid.WSClientOptions{
		URL:     in.wsURL,
		Config:  in.wsConfig,
		Handler: in.onMessage,
		Logger:  in.logger,
	})
	in.mu.Lock()
	in.ws = ws
	in.mu.Unlock()
	if err := ws.Connect(ctx); err != nil {
		// Non-fatal: keep retrying in the background until stopped.
		in.logger.Printf("live connect: %v", err)
		go in.retryConnect()
	} else {
		in.subscribeAll()
	}

	go in.gapScanLoop()
	return nil
}

func (in *Ingestor) retryConnect() {
	ws := in.wsClient()
	for in.running.Load() {
		select {
		case <-in.runCtx.Done():
			return
		case <-time.After(time.Second + time.Duration(rand.Int63n(int64(3*time.Second)))):
		}
		if err := ws.Connect(in.runCtx); err != nil {
			in.logger.Printf("live connect retry: %v", err)
			continue
		}
		in.subscribeAll()
		return
	}
}

func (in *Ingestor) subscribeAll() {
	ws := in.wsClient()
	if ws == nil {
		return
	}
	for _, key := range in.series {
		ws.Subscribe(hyperliquid.Subscription{
			Type: hyperliquid.SubCandle, Symbol: key.Symbol, Interval: key.Interval,
		})
	}
	for _, sym := range in.symbols {
		ws.Subscribe(hyperliquid.Subscription{Type: hyperliquid.SubTrades, Symbol: sym})
		ws.Subscribe(hyperliquid.Subscription{Type: hyperliquid.SubBook, Symbol: sym})
		ws.Subscribe(hyperliquid.Subscription{Type: hyperliquid.SubBbo, Symbol: sym})
	}
	if in.metrics != nil {
		in.metrics.SubscriptionsOpen.Set(float64(ws.Stats().Subs))
	}
}

// wsClient reads the live-connection handle under the state lock; Start
// replaces it on every successful start.
func (in *Ingestor) wsClient() *hyperliquid.WSClient {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.ws
}

// populateLastOpenTimes seeds the live gap trigger from the store after
// backfills complete.
func (in *Ingestor) populateLastOpenTimes(ctx context.Context) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, key := range in.series {
		openTime, err := in.bars.MaxOpenTime(ctx, domain.VenueHyperliquid, key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			in.logger.Printf("last open time %s: %v", key, err)
			continue
		}
		in.lastOpenTimes[key] = openTime
	}
	in.logger.Printf("seeded %d last open times", len(in.lastOpenTimes))
}

// Stop flips running off, stops the engine, cancels the gap timer and
// tears down the live connection. In-flight backfill work is not forcibly
// cancelled. Idempotent.
func (in *Ingestor) Stop() {
	if !in.running.CompareAndSwap(true, false) {
		return
	}
	in.engine.Stop()
	in.cancel()
	if ws := in.wsClient(); ws != nil {
		ws.Close()
	}
	in.logger.Printf("stopped")
}

// Running reports whether the orchestrator is started.
func (in *Ingestor) Running() bool { return in.running.Load() }

// GetStatus aggregates the orchestrator's state.
func (in *Ingestor) GetStatus() Status {
	in.mu.Lock()
	counters := make(map[string]uint64, len(in.counters))
	for k, v := range in.counters {
		counters[k] = v
	}
	lastMsg := in.lastMessageMs
	in.mu.Unlock()

	var conn hyperliquid.Stats
	if ws := in.wsClient(); ws != nil {
		conn = ws.Stats()
	}

	backfill := in.primary.Progress()
	if in.secondary != nil {
		backfill = append(backfill, in.secondary.Progress()...)
	}

	return Status{
		Running:         in.running.Load(),
		Connection:      conn,
		Backfill:        backfill,
		MessageCounters: counters,
		LastMessageMs:   lastMsg,
	}
}

// ListGaps exposes the on-demand gap scan. sinceMs <= 0 selects the
// configured lookback horizon.
func (in *Ingestor) ListGaps(ctx context.Context, sinceMs int64) ([]domain.Gap, error) {
	return in.gaps.ListGaps(ctx, in.series, in.normalizeSince(sinceMs))
}

// FillGapsNow runs a full scan-and-fill on demand.
func (in *Ingestor) FillGapsNow(ctx context.Context, sinceMs int64) error {
	return in.gaps.FillGaps(ctx, in.series, in.normalizeSince(sinceMs))
}

func (in *Ingestor) normalizeSince(sinceMs int64) int64 {
	if sinceMs > 0 {
		return sinceMs
	}
	return time.Now().UnixMilli() - int64(in.lookbackDays)*86_400_000
}

func (in *Ingestor) gapScanLoop() {
	ticker := time.NewTicker(in.gapScanPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-in.runCtx.Done():
			return
		case <-ticker.C:
			if !in.running.Load() || !in.scanning.CompareAndSwap(false, true) {
				continue
			}
			if err := in.FillGapsNow(in.runCtx, 0); err != nil {
				in.logger.Printf("periodic gap fill: %v", err)
			}
			in.scanning.Store(false)
		}
	}
}

// onMessage is the single live dispatch path.
func (in *Ingestor) onMessage(msg hyperliquid.Message) {
	in.mu.Lock()
	in.lastMessageMs = time.Now().UnixMilli()
	in.mu.Unlock()
	if in.metrics != nil {
		in.metrics.LastMessageUnixMs.Set(float64(time.Now().UnixMilli()))
	}

	switch m := msg.(type) {
	case hyperliquid.CandleBatch:
		in.count("candles", uint64(len(m.Bars)))
		for _, bar := range m.Bars {
			in.onBar(bar)
		}
	case hyperliquid.TradeBatch:
		in.count("trades", uint64(len(m.Trades)))
		for _, t := range m.Trades {
			in.engine.OnTrade(t)
		}
	case hyperliquid.BookUpdate:
		in.count("books", 1)
		in.engine.OnBook(m.Book)
	case hyperliquid.QuoteUpdate:
		in.count("quotes", 1)
		in.engine.OnQuote(m.Quote)
	case hyperliquid.SubscriptionAck:
		in.count("acks", 1)
	case hyperliquid.Pong:
		in.count("pongs", 1)
	}
}

// onBar forwards a live bar to the engine and schedules an asynchronous
// fill when its open time jumps more than one interval past the series'
// last-known open time.
func (in *Ingestor) onBar(bar *domain.Bar) {
	key := bar.Key()
	intervalMs := bar.Interval.Ms()

	in.mu.Lock()
	last, seen := in.lastOpenTimes[key]
	if !seen || bar.OpenTime > last {
		in.lastOpenTimes[key] = bar.OpenTime
	}
	in.mu.Unlock()

	if seen && intervalMs > 0 && bar.OpenTime-last > intervalMs {
		in.gaps.ScheduleFill(in.runCtx, domain.Gap{
			Symbol:      bar.Symbol,
			Interval:    bar.Interval,
			GapStart:    last + intervalMs,
			GapEnd:      bar.OpenTime - 1,
			BarsMissing: (bar.OpenTime - last) / intervalMs,
		})
	}

	if err := in.engine.OnBar(in.runCtx, bar); err != nil {
		in.logger.Printf("feature update %s: %v", key, err)
		if in.metrics != nil {
			in.metrics.FeatureWriteErrors.Inc()
		}
		return
	}
	if in.metrics != nil {
		in.metrics.FeatureRowsComputed.Inc()
	}
}

func (in *Ingestor) count(kind string, n uint64) {
	in.mu.Lock()
	in.counters[kind] += n
	in.mu.Unlock()
	if in.metrics != nil {
		in.metrics.MessagesReceived.WithLabelValues(kind).Add(float64(n))
	}
}
