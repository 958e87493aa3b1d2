// Package exchange implements the venue-facing adapter contract: a
// REST+WebSocket client for live trading, and an in-memory simulator
// for dry runs. Both satisfy the same Adapter interface so the order
// manager (internal/ordermanager) never branches on mode.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"standxmm/pkg/types"
)

// OrderRequest is the input to CreateOrder. Price is ignored for market
// orders. ClientOrderID, if empty, is assigned by the adapter.
type OrderRequest struct {
	Symbol        string
	Side          types.Side
	Size          decimal.Decimal
	Price         decimal.Decimal
	Market        bool
	ClientOrderID string
	ReduceOnly    bool
}

// OrderResult is the venue's acknowledgement of an order request. Code 0
// means accepted; any other value means rejected, with Message carrying
// the venue's reason.
type OrderResult struct {
	Code          int
	Message       string
	OrderID       string
	ClientOrderID string
}

// Accepted reports whether the venue accepted the order.
func (r OrderResult) Accepted() bool { return r.Code == 0 }

// OpenOrder is a single resting order as reported by the venue.
type OpenOrder struct {
	Side          types.Side
	Price         decimal.Decimal
	Size          decimal.Decimal
	ClientOrderID string
	OrderID       string
}

// PriceTick is a single mark-price update delivered over the WSClient
// price stream.
type PriceTick struct {
	Symbol string
	Price  decimal.Decimal
}

// BookTick is a single order-book update delivered over the WSClient book
// stream. It carries a full top-of-book snapshot rather than a delta —
// the adapter is responsible for maintaining any deeper book state it
// needs internally.
type BookTick struct {
	Symbol string
	Book   types.OrderBookSnapshot
}

// WSClient streams mark-price and order-book updates for a symbol. It is
// the push-side complement to Adapter's pull-side Get* methods; the
// orchestrator may use either or both depending on staleness tolerance.
type WSClient interface {
	SubscribePrice(ctx context.Context, symbol string) (<-chan PriceTick, error)
	SubscribeOrderBook(ctx context.Context, symbol string) (<-chan BookTick, error)
	Close() error
}

// Adapter is the full venue contract consumed by the order manager and
// the unwind engine. Every method takes a context so the caller can
// bound a stalled network call without leaking the cooperative tick
// loop.
type Adapter interface {
	GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetOrderBook(ctx context.Context, symbol string) (types.OrderBookSnapshot, error)
	GetPosition(ctx context.Context, symbol string) (types.Position, bool, error)
	GetCollateral(ctx context.Context) (types.Collateral, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)

	CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, clientOrderID string) error
	CancelOrders(ctx context.Context, symbol string, openOrders []OpenOrder) error
	ClosePosition(ctx context.Context, symbol string, pos types.Position) (OrderResult, error)

	WSClient() WSClient

	Close() error
}
