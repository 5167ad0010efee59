package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zekenewsom/hyperlocal/internal/domain"
)

const klineBase = int64(1_690_000_000_000)

func klineRow(openTime int64) string {
	return fmt.Sprintf(`[%d,"26000.1","26100.5","25900.0","26050.25","12.5",%d,"325628.1",42,"6.2","161530.0","0"]`,
		openTime, openTime+59_999)
}

func TestFetchBars_DecodesKlineTuples(t *testing.T) {
	var gotQuery map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		gotQuery = map[string]string{
			"symbol":   r.URL.Query().Get("symbol"),
			"interval": r.URL.Query().Get("interval"),
			"limit":    r.URL.Query().Get("limit"),
		}
		fmt.Fprintf(w, "[%s,%s]", klineRow(klineBase), klineRow(klineBase+60_000))
	}))
	defer server.Close()

	bars, err := NewClient(server.URL).
		FetchBars(context.Background(), "BTCUSDT", "BTC", domain.Interval1m, klineBase, klineBase+120_000-1)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if gotQuery["symbol"] != "BTCUSDT" || gotQuery["interval"] != "1m" || gotQuery["limit"] != "1000" {
		t.Errorf("query: %v", gotQuery)
	}

	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	b := bars[0]
	if b.Venue != domain.VenueBinance || b.Symbol != "BTC" || b.Interval != domain.Interval1m {
		t.Errorf("identity: %+v", b)
	}
	if b.OpenTime != klineBase || b.CloseTime != klineBase+59_999 {
		t.Errorf("times: open %d close %d", b.OpenTime, b.CloseTime)
	}
	if b.Open != 26000.1 || b.High != 26100.5 || b.Low != 25900.0 || b.Close != 26050.25 {
		t.Errorf("ohlc: %+v", b)
	}
	if b.Volume != 12.5 || b.TradeCount != 42 {
		t.Errorf("volume/trades: %+v", b)
	}
}

func TestFetchBars_ShortRowIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[[1690000000000,"26000.1"]]`)
	}))
	defer server.Close()

	_, err := NewClient(server.URL).
		FetchBars(context.Background(), "BTCUSDT", "BTC", domain.Interval1m, klineBase, klineBase+59_999)
	if err == nil {
		t.Fatal("fetch succeeded, want error")
	}
}

func TestFetchBars_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "banned", http.StatusTeapot)
	}))
	defer server.Close()

	_, err := NewClient(server.URL).
		FetchBars(context.Background(), "BTCUSDT", "BTC", domain.Interval1m, klineBase, klineBase+59_999)
	if err == nil {
		t.Fatal("fetch succeeded, want error")
	}
}

func TestFetchBars_EmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "[]")
	}))
	defer server.Close()

	bars, err := NewClient(server.URL).
		FetchBars(context.Background(), "BTCUSDT", "BTC", domain.Interval1m, klineBase, klineBase+59_999)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(bars) != 0 {
		t.Errorf("got %d bars, want 0", len(bars))
	}
}
