package hyperliquid

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/zekenewsom/hyperlocal/internal/domain"
)

// Message is one decoded inbound frame. Exactly one of the concrete types
// below; dispatch with a type switch.
type Message interface {
	isMessage()
}

// CandleBatch carries closed (or in-progress) bars from the candle channel.
type CandleBatch struct {
	Bars []*domain.Bar
}

// TradeBatch carries live trades from the trades channel.
type TradeBatch struct {
	Trades []*domain.Trade
}

// BookUpdate carries a full order-book snapshot from the l2Book channel.
type BookUpdate struct {
	Book *domain.BookSnapshot
}

// QuoteUpdate carries a best-bid/offer update from the bbo channel.
type QuoteUpdate struct {
	Quote *domain.BestQuote
}

// SubscriptionAck confirms a subscribe request.
type SubscriptionAck struct{}

// Pong is the reply to an outbound ping.
type Pong struct{}

func (CandleBatch) isMessage()     {}
func (TradeBatch) isMessage()      {}
func (BookUpdate) isMessage()      {}
func (QuoteUpdate) isMessage()     {}
func (SubscriptionAck) isMessage() {}
func (Pong) isMessage()            {}

// Wire shapes. Prices and sizes arrive as either JSON numbers or strings
// depending on the channel; json.Number absorbs both.

type wsEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type wsCandle struct {
	OpenTime   int64       `json:"t"`
	CloseTime  int64       `json:"T"`
	Symbol     string      `json:"s"`
	Interval   string      `json:"i"`
	Open       json.Number `json:"o"`
	Close      json.Number `json:"c"`
	High       json.Number `json:"h"`
	Low        json.Number `json:"l"`
	Volume     json.Number `json:"v"`
	TradeCount int         `json:"n"`
}

type wsTrade struct {
	Coin string `json:"coin"`
	Side string `json:"side"` // "B" buy, "S" sell
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Time int64  `json:"time"`
}

type wsLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
}

type wsBook struct {
	Coin   string       `json:"coin"`
	Levels [2][]wsLevel `json:"levels"` // [bids, asks]
	Time   int64        `json:"time"`
}

type wsBbo struct {
	Coin string      `json:"coin"`
	Time int64       `json:"time"`
	Bbo  [2]*wsLevel `json:"bbo"` // [bid, ask], either may be null
}

// DecodeMessage parses one raw frame into a typed Message.
// Frames on unknown channels decode to (nil, nil) and should be dropped.
func DecodeMessage(raw []byte) (Message, error) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Channel {
	case "candle":
		return decodeCandles(env.Data)
	case "trades":
		return decodeTrades(env.Data)
	case "l2Book":
		return decodeBook(env.Data)
	case "bbo":
		return decodeBbo(env.Data)
	case "subscriptionResponse":
		return SubscriptionAck{}, nil
	case "pong":
		return Pong{}, nil
	default:
		return nil, nil
	}
}

func decodeCandles(data json.RawMessage) (Message, error) {
	var wire []wsCandle
	if err := json.Unmarshal(data, &wire); err != nil {
		// Single-object frames appear alongside batched ones.
		var one wsCandle
		if err2 := json.Unmarshal(data, &one); err2 != nil {
			return nil, fmt.Errorf("decode candle data: %w", err)
		}
		wire = []wsCandle{one}
	}

	bars := make([]*domain.Bar, 0, len(wire))
	for _, w := range wire {
		interval, err := domain.ParseInterval(w.Interval)
		if err != nil {
			return nil, fmt.Errorf("candle %s: %w", w.Symbol, err)
		}
		bars = append(bars, &domain.Bar{
			Venue:      domain.VenueHyperliquid,
			Symbol:     w.Symbol,
			Interval:   interval,
			OpenTime:   w.OpenTime,
			CloseTime:  w.CloseTime,
			Open:       numToFloat(w.Open),
			High:       numToFloat(w.High),
			Low:        numToFloat(w.Low),
			Close:      numToFloat(w.Close),
			Volume:     numToFloat(w.Volume),
			TradeCount: w.TradeCount,
		})
	}
	return CandleBatch{Bars: bars}, nil
}

func decodeTrades(data json.RawMessage) (Message, error) {
	var wire []wsTrade
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode trade data: %w", err)
	}

	trades := make([]*domain.Trade, 0, len(wire))
	for _, w := range wire {
		side := domain.SideUndetermined
		switch w.Side {
		case "B":
			side = domain.SideBuy
		case "S":
			side = domain.SideSell
		}
		trades = append(trades, &domain.Trade{
			Venue:     domain.VenueHyperliquid,
			Symbol:    w.Coin,
			Timestamp: w.Time,
			Price:     strToFloat(w.Px),
			Size:      strToFloat(w.Sz),
			Side:      side,
		})
	}
	return TradeBatch{Trades: trades}, nil
}

func decodeBook(data json.RawMessage) (Message, error) {
	var wire wsBook
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode book data: %w", err)
	}

	return BookUpdate{Book: &domain.BookSnapshot{
		Venue:     domain.VenueHyperliquid,
		Symbol:    wire.Coin,
		Timestamp: wire.Time,
		Bids:      toLevels(wire.Levels[0]),
		Asks:      toLevels(wire.Levels[1]),
	}}, nil
}

func decodeBbo(data json.RawMessage) (Message, error) {
	var wire wsBbo
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode bbo data: %w", err)
	}

	q := &domain.BestQuote{
		Symbol:    wire.Coin,
		Timestamp: wire.Time,
		BidPrice:  math.NaN(),
		AskPrice:  math.NaN(),
	}
	if bid := wire.Bbo[0]; bid != nil {
		q.BidPrice = strToFloat(bid.Px)
		q.BidSize = strToFloat(bid.Sz)
	}
	if ask := wire.Bbo[1]; ask != nil {
		q.AskPrice = strToFloat(ask.Px)
		q.AskSize = strToFloat(ask.Sz)
	}
	return QuoteUpdate{Quote: q}, nil
}

func toLevels(wire []wsLevel) []domain.BookLevel {
	levels := make([]domain.BookLevel, 0, len(wire))
	for _, l := range wire {
		levels = append(levels, domain.BookLevel{Price: strToFloat(l.Px), Size: strToFloat(l.Sz)})
	}
	return levels
}

func numToFloat(n json.Number) float64 {
	f, err := n.Float64()
	if err != nil {
		return 0
	}
	return f
}

func strToFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
