// Package binance implements the secondary-venue historical klines client.
// Binance serves history only; it never streams live data here.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/zekenewsom/hyperlocal/internal/domain"
)

// DefaultBaseURL is the production REST endpoint. No API key is required
// for klines.
const DefaultBaseURL = "https://api.binance.us"

// MaxBarsPerRequest is the venue's klines row cap per request.
const MaxBarsPerRequest = 1000

// Client fetches historical klines.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a klines client. An empty baseURL selects the
// production endpoint.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchBars fetches klines for one pair in [startMs, endMs], at most
// MaxBarsPerRequest rows. symbol is the venue pair name (e.g. BTCUSDT);
// the returned bars carry the given base symbol.
func (c *Client) FetchBars(ctx context.Context, pair, baseSymbol string, interval domain.Interval, startMs, endMs int64) ([]*domain.Bar, error) {
	params := url.Values{}
	params.Set("symbol", pair)
	params.Set("interval", string(interval))
	params.Set("startTime", strconv.FormatInt(startMs, 10))
	params.Set("endTime", strconv.FormatInt(endMs, 10))
	params.Set("limit", strconv.Itoa(MaxBarsPerRequest))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v3/klines?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build klines request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("klines %s/%s: %w", pair, interval, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("klines %s/%s: status %d", pair, interval, resp.StatusCode)
	}

	// Kline rows are fixed-shape tuples:
	// [openTime, open, high, low, close, volume, closeTime,
	//  quoteAssetVolume, numberOfTrades, takerBuyBase, takerBuyQuote, ignore]
	var rows [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode klines response: %w", err)
	}

	bars := make([]*domain.Bar, 0, len(rows))
	for _, row := range rows {
		if len(row) < 9 {
			return nil, fmt.Errorf("klines %s/%s: short row (%d fields)", pair, interval, len(row))
		}
		bars = append(bars, &domain.Bar{
			Venue:      domain.VenueBinance,
			Symbol:     baseSymbol,
			Interval:   interval,
			OpenTime:   tupleInt(row[0]),
			CloseTime:  tupleInt(row[6]),
			Open:       tupleFloat(row[1]),
			High:       tupleFloat(row[2]),
			Low:        tupleFloat(row[3]),
			Close:      tupleFloat(row[4]),
			Volume:     tupleFloat(row[5]),
			TradeCount: int(tupleInt(row[8])),
		})
	}
	return bars, nil
}

// tupleFloat reads a kline tuple element that may be a JSON number or a
// numeric string.
func tupleFloat(raw json.RawMessage) float64 {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	return 0
}

func tupleInt(raw json.RawMessage) int64 {
	return int64(tupleFloat(raw))
}
