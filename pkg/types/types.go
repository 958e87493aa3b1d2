// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the market-making core — order,
// position, order book, and market tick. It has no dependencies on internal
// packages, so it can be imported by any layer. All money-shaped fields use
// decimal.Decimal rather than float64: the quoting state machine computes
// drift against a stored reference price every tick, and float64 rounding
// noise would eventually show up as phantom drift.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: buy or sell.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderStatus is the lifecycle state of a resting order.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
)

// PositionSide is the directional sign of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// CloseSide returns the side an unwind must trade to flatten this position:
// selling closes a long, buying closes a short.
func (p PositionSide) CloseSide() Side {
	if p == PositionLong {
		return Sell
	}
	return Buy
}

// Mode selects whether the order manager is backed by in-memory bookkeeping
// or the live exchange adapter.
type Mode string

const (
	ModeTest Mode = "TEST"
	ModeLive Mode = "LIVE"
)

// CloseMethod selects the unwind engine's liquidation policy.
type CloseMethod string

const (
	CloseMarket     CloseMethod = "market"
	CloseAggressive CloseMethod = "aggressive"
	CloseChase      CloseMethod = "chase"
)

// OrderKindMM and OrderKindClose are the client-ID prefixes that identify
// which subsystem generated an order: the quoting state machine or the
// unwind engine.
const (
	OrderKindMM    = "MM"
	OrderKindClose = "CLOSE"
)

// ————————————————————————————————————————————————————————————————————————
// Order
// ————————————————————————————————————————————————————————————————————————

// Order is a single resting or terminal limit order. ReferencePrice is the
// mark price sampled at the instant the order was submitted; it is the sole
// input to drift computation for this order and must never be mutated once
// the order is open.
type Order struct {
	ID             string
	Side           Side
	Price          decimal.Decimal
	Size           decimal.Decimal
	Status         OrderStatus
	PlacedAt       time.Time
	ReferencePrice decimal.Decimal
	ReduceOnly     bool
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// OrderBookSnapshot is an immutable top-of-book tuple. BestBidPrice must be
// strictly less than BestAskPrice and both sizes must be non-negative.
type OrderBookSnapshot struct {
	BestBidPrice decimal.Decimal
	BestBidSize  decimal.Decimal
	BestAskPrice decimal.Decimal
	BestAskSize  decimal.Decimal
}

// Empty reports whether either side of the book has a zero price, the
// signal the orchestrator uses to skip a tick.
func (b OrderBookSnapshot) Empty() bool {
	return b.BestBidPrice.IsZero() || b.BestAskPrice.IsZero()
}

// ————————————————————————————————————————————————————————————————————————
// Position & collateral
// ————————————————————————————————————————————————————————————————————————

// Position is the account's current inventory in the quoted instrument.
// Size == 0 is semantically "no position" regardless of Side.
type Position struct {
	Side          PositionSide
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// IsFlat reports whether the position carries no inventory.
func (p Position) IsFlat() bool {
	return p.Size.IsZero()
}

// Collateral is the account's margin balance in quote currency.
type Collateral struct {
	Total     decimal.Decimal
	Available decimal.Decimal
}

// ————————————————————————————————————————————————————————————————————————
// Market tick
// ————————————————————————————————————————————————————————————————————————

// MarketTick is everything the orchestrator samples together once per
// iteration. Any individual field may be stale by at most one tick; a
// zero/missing MarkPrice or an empty book causes the whole tick to be
// skipped.
type MarketTick struct {
	MarkPrice  decimal.Decimal
	Book       OrderBookSnapshot
	Position   Position
	Collateral Collateral
	SampledAt  time.Time
}
