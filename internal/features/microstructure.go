package features

import (
	"math"

	"github.com/zekenewsom/hyperlocal/internal/domain"
)

// Microprice is the size-weighted blend of best bid/ask prices:
// (ask*bidSize + bid*askSize) / (bidSize + askSize).
// NaN when both sizes are zero.
func Microprice(bid, bidSize, ask, askSize float64) float64 {
	denom := bidSize + askSize
	if denom <= 0 {
		return math.NaN()
	}
	return (ask*bidSize + bid*askSize) / denom
}

// OBITop is the order-book imbalance over the top depth levels of each side:
// (sumBid - sumAsk) / (sumBid + sumAsk), 0 when both sides are empty.
func OBITop(bids, asks []domain.BookLevel, depth int) float64 {
	return imbalance(levelSum(bids, depth), levelSum(asks, depth))
}

// OBICum is the order-book imbalance over all levels of each side.
func OBICum(bids, asks []domain.BookLevel) float64 {
	return imbalance(levelSum(bids, len(bids)), levelSum(asks, len(asks)))
}

func levelSum(levels []domain.BookLevel, depth int) float64 {
	if depth > len(levels) {
		depth = len(levels)
	}
	var sum float64
	for _, l := range levels[:depth] {
		sum += l.Size
	}
	return sum
}

func imbalance(bidSum, askSum float64) float64 {
	denom := bidSum + askSum
	if denom <= 0 {
		return 0
	}
	return (bidSum - askSum) / denom
}

// SignedSize returns the CVD contribution of one trade: +size for a buy,
// -size for a sell, 0 for undetermined.
func SignedSize(t domain.Trade) float64 {
	switch t.Side {
	case domain.SideBuy:
		return t.Size
	case domain.SideSell:
		return -t.Size
	default:
		return 0
	}
}
