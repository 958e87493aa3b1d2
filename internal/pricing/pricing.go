// Package pricing implements the pure quoting-math primitives.
//
// Every function here is total: given valid decimal inputs it always
// returns a value, never an error, and never depends on anything but its
// arguments. The quoting state machine (internal/quoting) is the only
// caller — keeping this package side-effect free is what makes it
// straightforward to test.
package pricing

import (
	"github.com/shopspring/decimal"

	"standxmm/pkg/types"
)

var (
	bpsDenominator = decimal.NewFromInt(10_000)
	two            = decimal.NewFromInt(2)
)

// QuotePrices derives the bid (buy) and ask (sell) quote from a mark price
// and a half-spread in basis points:
//
//	buy  = mark * (1 - spreadBps/10000)
//	sell = mark * (1 + spreadBps/10000)
func QuotePrices(mark decimal.Decimal, spreadBps decimal.Decimal) (buy, sell decimal.Decimal) {
	frac := spreadBps.Div(bpsDenominator)
	buy = mark.Mul(decimal.NewFromInt(1).Sub(frac))
	sell = mark.Mul(decimal.NewFromInt(1).Add(frac))
	return buy, sell
}

// DriftBps returns the basis-point distance between current and ref. It is
// defined as 0 when ref is zero (an order with no reference can't have
// drifted) rather than dividing by zero.
func DriftBps(current, ref decimal.Decimal) decimal.Decimal {
	if ref.IsZero() {
		return decimal.Zero
	}
	diff := current.Sub(ref).Abs()
	return diff.Div(ref).Mul(bpsDenominator)
}

// BookSpreadBps returns the observed top-of-book spread in basis points,
// relative to the book's own mid, or 0 if bid is zero (empty/invalid book).
func BookSpreadBps(bid, ask decimal.Decimal) decimal.Decimal {
	if bid.IsZero() {
		return decimal.Zero
	}
	mid := bid.Add(ask).Div(two)
	return ask.Sub(bid).Div(mid).Mul(bpsDenominator)
}

// WeightedMid returns the size-weighted midpoint of the book:
//
//	(bid*bidSize + ask*askSize) / (bidSize + askSize)
//
// falling back to the arithmetic mid when the combined size is zero.
func WeightedMid(b types.OrderBookSnapshot) decimal.Decimal {
	totalSize := b.BestBidSize.Add(b.BestAskSize)
	if totalSize.IsZero() {
		return b.BestBidPrice.Add(b.BestAskPrice).Div(two)
	}
	weighted := b.BestBidPrice.Mul(b.BestBidSize).Add(b.BestAskPrice.Mul(b.BestAskSize))
	return weighted.Div(totalSize)
}

// MakerClassification reports whether each side of a proposed quote pair
// would rest passively (maker) or cross the book immediately (taker).
// A buy is maker iff it prices strictly below the best ask; a sell is
// maker iff it prices strictly above the best bid. Equality counts as
// taker — crossing the touch, not just the spread, is what matters here.
func MakerClassification(buy, sell, bid, ask decimal.Decimal) (buyIsMaker, sellIsMaker bool) {
	return buy.LessThan(ask), sell.GreaterThan(bid)
}

// QuantizeSize sizes an order off available collateral, leverage, and mark
// price, then snaps the result to the nearest multiple of unit (rounding,
// not flooring, so the displayed size doesn't silently shrink from
// floating-point-style truncation). maxSize, if non-nil, caps the raw size
// before quantization. Returns zero when available or mark is non-positive.
func QuantizeSize(available, mark, leverage, unit decimal.Decimal, maxSize *decimal.Decimal) decimal.Decimal {
	if available.Sign() <= 0 || mark.Sign() <= 0 {
		return decimal.Zero
	}

	raw := available.Mul(leverage).Div(two).Div(mark)
	if maxSize != nil && raw.GreaterThan(*maxSize) {
		raw = *maxSize
	}
	if unit.Sign() <= 0 {
		return raw
	}

	units := raw.Div(unit).Round(0)
	quantized := units.Mul(unit)
	if quantized.Sign() < 0 {
		return decimal.Zero
	}
	return quantized
}
