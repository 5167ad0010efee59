package domain

// Venue identifies an upstream market-data source.
type Venue string

const (
	// VenueHyperliquid is the primary venue: live streaming plus historical snapshots.
	VenueHyperliquid Venue = "hyperliquid"
	// VenueBinance is the secondary venue: historical klines only, used to
	// extend history further into the past than the primary venue covers.
	VenueBinance Venue = "binance"
)

// Bar is one OHLCV record for a fixed time interval.
// Identified by (venue, symbol, interval, open_time); open_time is the
// partition and ordering key. Within a series bars are expected contiguous
// at exactly one interval-duration spacing; any larger spacing is a gap.
type Bar struct {
	Venue      Venue
	Symbol     string
	Interval   Interval
	OpenTime   int64 // Unix ms
	CloseTime  int64 // Unix ms
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	TradeCount int
	VWAP       *float64 // optional, nil when the venue does not report it
}

// Key returns the series key of the bar.
func (b *Bar) Key() SeriesKey {
	return SeriesKey{Symbol: b.Symbol, Interval: b.Interval}
}

// TradeSide is the taker side of a trade.
type TradeSide string

const (
	SideBuy          TradeSide = "buy"
	SideSell         TradeSide = "sell"
	SideUndetermined TradeSide = "undetermined"
)

// Trade is a single live trade. Ephemeral: consumed by the feature engine
// between two bar closes, then discarded.
type Trade struct {
	Venue     Venue
	Symbol    string
	Timestamp int64 // Unix ms
	Price     float64
	Size      float64
	Side      TradeSide
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price float64
	Size  float64
}

// BookSnapshot is the latest observed order book for a symbol.
// Latest-observed-wins; no historical retention.
type BookSnapshot struct {
	Venue     Venue
	Symbol    string
	Timestamp int64 // Unix ms
	Bids      []BookLevel
	Asks      []BookLevel
}

// BestQuote is the latest observed best bid/offer for a symbol.
type BestQuote struct {
	Symbol    string
	Timestamp int64 // Unix ms
	BidPrice  float64
	BidSize   float64
	AskPrice  float64
	AskSize   float64
}

// SeriesKey identifies one lane of indicator state and one lane of
// backfill/gap progress.
type SeriesKey struct {
	Symbol   string
	Interval Interval
}

func (k SeriesKey) String() string {
	return k.Symbol + ":" + string(k.Interval)
}

// Gap is a run of missing bars inferred from non-adjacent open timestamps.
// Derived, never persisted; recomputed on each scan.
type Gap struct {
	Symbol      string
	Interval    Interval
	GapStart    int64 // open time of the first missing bar (ms)
	GapEnd      int64 // one ms before the next present bar's open time
	BarsMissing int64 // distance between the bracketing present opens, in interval steps
}

// BackfillProgress tracks one series of one venue's backfill run.
// Counters are monotonically non-decreasing during a run and reset at the
// start of each run.
type BackfillProgress struct {
	Venue          Venue
	Symbol         string
	Interval       Interval
	WindowsPlanned int
	WindowsDone    int
	RowsWritten    int
}
