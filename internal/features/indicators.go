// Package features holds the streaming feature engine and its incremental
// indicator state. All indicators update in O(1) per bar.
package features

import "math"

// Wilder is the smoothing used by ATR and RSI: v += (x - v) / n.
// The first pushed value seeds the accumulator.
type Wilder struct {
	ready bool
	v     float64
	alpha float64
}

// NewWilder creates a Wilder smoother over n periods.
func NewWilder(n int) *Wilder {
	return &Wilder{alpha: 1 / float64(n)}
}

// Push feeds one value and returns the smoothed result.
func (w *Wilder) Push(x float64) float64 {
	if w.ready {
		w.v += w.alpha * (x - w.v)
	} else {
		w.v = x
		w.ready = true
	}
	return w.v
}

// Value returns the current smoothed value.
func (w *Wilder) Value() float64 { return w.v }

// EWVar is an exponentially weighted variance tracker over log returns.
// Lambda in (0, 1); see LambdaFromHalfLife.
type EWVar struct {
	ready  bool
	v      float64
	lambda float64
}

// NewEWVar creates a tracker with the given decay lambda.
func NewEWVar(lambda float64) *EWVar {
	return &EWVar{lambda: lambda}
}

// Push feeds one log return and returns the updated variance.
func (e *EWVar) Push(retLog float64) float64 {
	if e.ready {
		e.v = e.lambda*e.v + (1-e.lambda)*retLog*retLog
	} else {
		e.v = retLog * retLog
		e.ready = true
	}
	return e.v
}

// Value returns the current variance.
func (e *EWVar) Value() float64 { return e.v }

// LambdaFromHalfLife converts a half-life in bars to a decay lambda.
func LambdaFromHalfLife(hlBars float64) float64 {
	return math.Exp(-math.Ln2 / hlBars)
}

// ATR is a Wilder-smoothed average true range.
type ATR struct {
	w            *Wilder
	prevClose    float64
	hasPrevClose bool
}

// NewATR creates an ATR over n periods.
func NewATR(n int) *ATR {
	return &ATR{w: NewWilder(n)}
}

// Push feeds one bar and returns the updated ATR.
func (a *ATR) Push(high, low, close float64) float64 {
	tr := high - low
	if a.hasPrevClose {
		if d := math.Abs(high - a.prevClose); d > tr {
			tr = d
		}
		if d := math.Abs(low - a.prevClose); d > tr {
			tr = d
		}
	}
	a.prevClose = close
	a.hasPrevClose = true
	return a.w.Push(tr)
}

// Value returns the current ATR.
func (a *ATR) Value() float64 { return a.w.Value() }

// RSI is a Wilder-smoothed relative strength index.
// RS is +Inf when avgLoss is 0 and avgGain > 0, and 0 when both are 0,
// so the output stays within [0, 100].
type RSI struct {
	avgGain *Wilder
	avgLoss *Wilder
	prev    float64
	hasPrev bool
}

// NewRSI creates an RSI over n periods.
func NewRSI(n int) *RSI {
	return &RSI{avgGain: NewWilder(n), avgLoss: NewWilder(n)}
}

// Push feeds one close and returns the updated RSI.
func (r *RSI) Push(close float64) float64 {
	var diff float64
	if r.hasPrev {
		diff = close - r.prev
	}
	r.prev = close
	r.hasPrev = true

	gain, loss := math.Max(0, diff), math.Max(0, -diff)
	ag := r.avgGain.Push(gain)
	al := r.avgLoss.Push(loss)

	var rs float64
	switch {
	case al == 0 && ag > 0:
		rs = math.Inf(1)
	case al == 0:
		rs = 0
	default:
		rs = ag / al
	}
	return 100 - 100/(1+rs)
}

// Stoch is a stochastic oscillator: %K over an n-bar high/low window,
// %D as an m-bar simple average of %K.
type Stoch struct {
	highs *Ring
	lows  *Ring
	ks    *Ring
}

// NewStoch creates a stochastic oscillator with window n and %K smoothing m.
func NewStoch(n, m int) *Stoch {
	return &Stoch{highs: NewRing(n), lows: NewRing(n), ks: NewRing(m)}
}

// Push feeds one bar and returns updated (%K, %D).
func (s *Stoch) Push(high, low, close float64) (k, d float64) {
	s.highs.Push(high)
	s.lows.Push(low)

	hh := s.highs.Max()
	ll := s.lows.Min()
	if hh == ll {
		k = 50
	} else {
		k = 100 * (close - ll) / (hh - ll)
	}

	s.ks.Push(k)
	d = s.ks.Mean()
	return k, d
}
