package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zekenewsom/hyperlocal/internal/domain"
)

// DefaultAPIURL is the venue's request/response endpoint.
const DefaultAPIURL = "https://api.hyperliquid.xyz/info"

// HistoricalClient fetches windowed bar snapshots over HTTP.
type HistoricalClient struct {
	url  string
	http *http.Client
}

// NewHistoricalClient creates a snapshot client. An empty url selects the
// production endpoint.
func NewHistoricalClient(url string) *HistoricalClient {
	if url == "" {
		url = DefaultAPIURL
	}
	return &HistoricalClient{
		url:  url,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type snapshotRequest struct {
	Type string          `json:"type"`
	Req  snapshotReqBody `json:"req"`
}

type snapshotReqBody struct {
	Coin      string `json:"coin"`
	Interval  string `json:"interval"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

// snapshotWrapper tolerates responses that wrap the bar array in an object.
type snapshotWrapper struct {
	Data []wsCandle `json:"data"`
}

// FetchBars fetches all bars of one series in [startMs, endMs]. Timestamps
// are sent in milliseconds first; an empty response triggers one retry with
// epoch seconds, since some deployments expect those.
func (c *HistoricalClient) FetchBars(ctx context.Context, symbol string, interval domain.Interval, startMs, endMs int64) ([]*domain.Bar, error) {
	bars, err := c.fetch(ctx, symbol, interval, startMs, endMs)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		bars, err = c.fetch(ctx, symbol, interval, startMs/1000, endMs/1000)
		if err != nil {
			return nil, err
		}
	}
	return bars, nil
}

func (c *HistoricalClient) fetch(ctx context.Context, symbol string, interval domain.Interval, start, end int64) ([]*domain.Bar, error) {
	body, err := json.Marshal(snapshotRequest{
		Type: "candleSnapshot",
		Req:  snapshotReqBody{Coin: symbol, Interval: string(interval), StartTime: start, EndTime: end},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("candle snapshot %s/%s: %w", symbol, interval, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("candle snapshot %s/%s: status %d", symbol, interval, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read snapshot response: %w", err)
	}

	var wire []wsCandle
	if err := json.Unmarshal(raw, &wire); err != nil {
		var wrapped snapshotWrapper
		if err2 := json.Unmarshal(raw, &wrapped); err2 != nil {
			return nil, fmt.Errorf("decode snapshot response: %w", err)
		}
		wire = wrapped.Data
	}

	bars := make([]*domain.Bar, 0, len(wire))
	for _, w := range wire {
		bars = append(bars, c.toBar(w, symbol, interval))
	}
	return bars, nil
}

// toBar converts one snapshot record, filling identity fields the response
// may omit.
func (c *HistoricalClient) toBar(w wsCandle, symbol string, interval domain.Interval) *domain.Bar {
	sym := w.Symbol
	if sym == "" {
		sym = symbol
	}
	itv := interval
	if parsed, err := domain.ParseInterval(w.Interval); err == nil {
		itv = parsed
	}
	openTime := w.OpenTime
	if openTime == 0 && w.CloseTime > 0 {
		openTime = w.CloseTime - itv.Ms() + 1
	}
	return &domain.Bar{
		Venue:      domain.VenueHyperliquid,
		Symbol:     sym,
		Interval:   itv,
		OpenTime:   openTime,
		CloseTime:  w.CloseTime,
		Open:       numToFloat(w.Open),
		High:       numToFloat(w.High),
		Low:        numToFloat(w.Low),
		Close:      numToFloat(w.Close),
		Volume:     numToFloat(w.Volume),
		TradeCount: w.TradeCount,
	}
}
