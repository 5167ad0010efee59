package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zekenewsom/hyperlocal/internal/domain"
	"github.com/zekenewsom/hyperlocal/internal/features"
	"github.com/zekenewsom/hyperlocal/internal/storage/memory"
	"github.com/zekenewsom/hyperlocal/internal/venue/hyperliquid"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// stubWSServer accepts one connection at a time and drains inbound frames.
func stubWSServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

type ingestorFixture struct {
	ingestor *Ingestor
	bars     *memory.BarStore
	features *memory.FeatureStore
	filler   *recordingFiller
}

func newTestIngestor(t *testing.T) *ingestorFixture {
	t.Helper()
	server := stubWSServer(t)

	bars := memory.NewBarStore()
	featureStore := memory.NewFeatureStore()
	engine := features.NewEngine(features.Options{Bars: bars, Features: featureStore})

	series := []domain.SeriesKey{{Symbol: "BTC", Interval: domain.Interval1m}}
	primary := NewBackfiller(BackfillOptions{
		Source:       &stubSource{},
		Bars:         bars,
		LookbackDays: 1,
	})
	filler := &recordingFiller{}
	gaps := NewGapService(GapServiceOptions{Bars: bars, Filler: filler})

	ingestor := NewIngestor(IngestorOptions{
		Series:        series,
		WSURL:         "ws" + strings.TrimPrefix(server.URL, "http"),
		Engine:        engine,
		Primary:       primary,
		Gaps:          gaps,
		Bars:          bars,
		WarmupBars:    0,
		GapScanPeriod: time.Hour,
		LookbackDays:  1,
	})
	return &ingestorFixture{ingestor: ingestor, bars: bars, features: featureStore, filler: filler}
}

func TestIngestor_StartStopIdempotent(t *testing.T) {
	f := newTestIngestor(t)
	ctx := context.Background()

	if err := f.ingestor.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !f.ingestor.Running() {
		t.Fatal("not running after start")
	}
	if err := f.ingestor.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}

	// candle + trades + l2Book + bbo for one symbol.
	if subs := f.ingestor.GetStatus().Connection.Subs; subs != 4 {
		t.Errorf("got %d subscriptions, want 4", subs)
	}

	f.ingestor.Stop()
	if f.ingestor.Running() {
		t.Fatal("still running after stop")
	}
	f.ingestor.Stop() // no-op
}

func TestIngestor_StatusSafeDuringStartup(t *testing.T) {
	f := newTestIngestor(t)

	// The control surface may be queried while Start is still wiring up the
	// live connection.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_ = f.ingestor.GetStatus()
		}
	}()

	if err := f.ingestor.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-done
	f.ingestor.Stop()

	status := f.ingestor.GetStatus()
	if status.Running {
		t.Error("still running after stop")
	}
}

func TestIngestor_CandleDispatchComputesFeatures(t *testing.T) {
	f := newTestIngestor(t)
	if err := f.ingestor.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer f.ingestor.Stop()

	bar := &domain.Bar{
		Venue: domain.VenueHyperliquid, Symbol: "BTC", Interval: domain.Interval1m,
		OpenTime: testBase, CloseTime: testBase + 59_999,
		Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10,
	}
	f.ingestor.onMessage(hyperliquid.CandleBatch{Bars: []*domain.Bar{bar}})

	if got := f.features.Len(); got != 1 {
		t.Fatalf("got %d feature rows, want 1", got)
	}

	status := f.ingestor.GetStatus()
	if status.MessageCounters["candles"] != 1 {
		t.Errorf("candle counter: got %d, want 1", status.MessageCounters["candles"])
	}
	if status.LastMessageMs == 0 {
		t.Error("last message timestamp not set")
	}
}

func TestIngestor_OnBarSchedulesGapFill(t *testing.T) {
	f := newTestIngestor(t)
	if err := f.ingestor.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer f.ingestor.Stop()

	mk := func(openTime int64) *domain.Bar {
		return &domain.Bar{
			Venue: domain.VenueHyperliquid, Symbol: "BTC", Interval: domain.Interval1m,
			OpenTime: openTime, CloseTime: openTime + 59_999,
			Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10,
		}
	}

	// First bar seeds the last-open tracker, then the open jumps five steps.
	f.ingestor.onBar(mk(testBase))
	f.ingestor.onBar(mk(testBase + 5*60_000))

	deadline := time.Now().Add(2 * time.Second)
	for {
		f.filler.mu.Lock()
		n := len(f.filler.gaps)
		f.filler.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("gap fill never scheduled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.filler.mu.Lock()
	g := f.filler.gaps[0]
	f.filler.mu.Unlock()
	if g.GapStart != testBase+60_000 || g.GapEnd != testBase+5*60_000-1 || g.BarsMissing != 5 {
		t.Errorf("unexpected gap: %+v", g)
	}
}

func TestIngestor_ContiguousBarsDoNotTriggerFills(t *testing.T) {
	f := newTestIngestor(t)
	if err := f.ingestor.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer f.ingestor.Stop()

	for i := int64(0); i < 5; i++ {
		open := testBase + i*60_000
		f.ingestor.onBar(&domain.Bar{
			Venue: domain.VenueHyperliquid, Symbol: "BTC", Interval: domain.Interval1m,
			OpenTime: open, CloseTime: open + 59_999,
			Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10,
		})
	}

	time.Sleep(50 * time.Millisecond)
	f.filler.mu.Lock()
	n := len(f.filler.gaps)
	f.filler.mu.Unlock()
	if n != 0 {
		t.Errorf("contiguous bars scheduled %d fills", n)
	}
}
