package domain

// Volatility regime labels derived from the short/long EW-volatility ratio.
const (
	VolRegimeLow  = "low"
	VolRegimeMid  = "mid"
	VolRegimeHigh = "high"
)

// Trend state labels derived from close position within the bar range.
const (
	TrendUp    = "trend_up"
	TrendDown  = "trend_down"
	TrendRange = "range"
)

// FeatureRow is the full set of derived features for one closed bar.
// Identified by (venue, symbol, interval, close_time); an idempotent upsert
// target in the durable store — at most one row per key, latest write wins.
type FeatureRow struct {
	Venue     Venue
	Symbol    string
	Interval  Interval
	CloseTime int64 // Unix ms

	RetLog float64
	RetPct float64

	EWVar    float64 // exponentially weighted variance, mid half-life
	EWVol    float64 // sqrt(EWVar)
	ATR      float64
	RSI      float64
	StochK   float64
	StochD   float64
	VolZ     float64 // volume z-score against the rolling window
	VarSpike float64 // short EW-vol / long EW-vol, 0 when long vol is 0
	VolRatio float64 // bar volume / rolling mean volume

	CVD        float64 // cumulative volume delta over the bar
	CVDSlope   float64 // CVD / bar duration ms
	OBITop     float64 // top-of-book order-book imbalance
	OBICum     float64 // cumulative order-book imbalance
	Microprice float64 // NaN when both best sizes are 0

	VolRegime  string
	TrendState string

	ComputedAt int64 // Unix ms
}

// Key returns the series key of the row.
func (r *FeatureRow) Key() SeriesKey {
	return SeriesKey{Symbol: r.Symbol, Interval: r.Interval}
}
