// Package ordermanager implements the order-manager abstraction:
// one small interface with two variants, Simulated and Live, sharing a
// reference-price table. Placing or cancelling orders is the only way
// anything in this module mutates resting-order state — the quoting
// state machine (internal/quoting) never touches an exchange.Adapter
// directly.
package ordermanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"standxmm/internal/exchange"
	"standxmm/pkg/types"
)

// ErrRejected is returned (wrapped) by Live.Place when the venue answers
// with a non-success code. Simulated.Place never returns it.
var ErrRejected = fmt.Errorf("order rejected")

// Stats are the observability counters the manager maintains. They never gate
// behavior; they are read only for dashboard rendering and the final
// statistics (via stats.Stats.Snapshot).
type Stats struct {
	Placed     int
	Cancelled  int
	Rebalanced int
}

// Manager is the order-manager contract, identical in signature across
// both variants.
type Manager interface {
	// Place submits a single order tagged with referencePrice and, on
	// success, records referencePrice in the reference-price table for
	// side. Returns ErrRejected (wrapped) when the venue answers with a
	// non-success code; a transport error is returned wrapped as is.
	Place(ctx context.Context, side types.Side, price, size, referencePrice decimal.Decimal) (types.Order, error)

	// CancelAll cancels every order this manager currently holds,
	// clears the reference-price table, and returns the count
	// cancelled. reason is for logging only.
	CancelAll(ctx context.Context, reason string) (int, error)

	// FetchOpen refreshes the manager's view of open orders from the
	// venue. A no-op for Simulated.
	FetchOpen(ctx context.Context) error

	// GetOrder returns the order currently resting on side, if any.
	GetOrder(side types.Side) (types.Order, bool)

	// RebalanceNoted bumps the rebalanced counter. Observability only.
	RebalanceNoted()

	Stats() Stats

	// History returns the capped sliding window of completed order
	// events (placed, cancelled), oldest first.
	History() []types.Order
}

// Simulated is the in-memory variant: place/cancel never leave the
// process, matching spec's "simulated returns its local record" directly.
// It does not talk to an exchange.Adapter at all — market data for a
// TEST-mode run comes from exchange.Simulated independently.
type Simulated struct {
	mu     sync.Mutex
	orders map[types.Side]types.Order
	refPx  map[types.Side]decimal.Decimal
	stats  Stats
	hist   *history
	logger *slog.Logger
}

// NewSimulated creates an empty simulated order manager. maxHistory caps
// the sliding window returned by History (0 disables it).
func NewSimulated(logger *slog.Logger, maxHistory int) *Simulated {
	return &Simulated{
		orders: make(map[types.Side]types.Order),
		refPx:  make(map[types.Side]decimal.Decimal),
		hist:   newHistory(maxHistory),
		logger: logger.With("component", "ordermanager_sim"),
	}
}

// Place fabricates a local order record; it is always accepted.
func (s *Simulated) Place(ctx context.Context, side types.Side, price, size, referencePrice decimal.Decimal) (types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := types.Order{
		ID:             types.OrderKindMM + "-" + uuid.NewString(),
		Side:           side,
		Price:          price,
		Size:           size,
		Status:         types.OrderOpen,
		PlacedAt:       time.Now(),
		ReferencePrice: referencePrice,
	}
	s.orders[side] = order
	s.refPx[side] = referencePrice
	s.stats.Placed++
	s.hist.record(order)
	return order, nil
}

// CancelAll empties the local order table.
func (s *Simulated) CancelAll(ctx context.Context, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.orders)
	for _, o := range s.orders {
		o.Status = types.OrderCancelled
		s.hist.record(o)
	}
	s.orders = make(map[types.Side]types.Order)
	s.refPx = make(map[types.Side]decimal.Decimal)
	s.stats.Cancelled += count
	s.logger.Debug("cancel all", "reason", reason, "count", count)
	return count, nil
}

// FetchOpen is a no-op: the simulated manager's cache is always current.
func (s *Simulated) FetchOpen(ctx context.Context) error { return nil }

// GetOrder returns the simulated local record for side.
func (s *Simulated) GetOrder(side types.Side) (types.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[side]
	return o, ok
}

// RebalanceNoted bumps the rebalanced counter.
func (s *Simulated) RebalanceNoted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Rebalanced++
}

// Stats returns a copy of the current counters.
func (s *Simulated) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// History returns the capped window of placed/cancelled orders.
func (s *Simulated) History() []types.Order { return s.hist.snapshot() }

// Live is the variant backed by a real exchange.Adapter. It keeps a
// local cache of resting orders: the ones it placed, replaced on each
// FetchOpen by the venue's open orders for the symbol (at most one per
// side). Cancelling only ever targets orders held in this cache, never a
// blanket symbol-wide cancel, so a racing fresh placement from the same
// tick is never torn down by a stale cancel.
type Live struct {
	mu     sync.Mutex
	symbol string
	venue  exchange.Adapter
	cache  map[types.Side]types.Order
	refPx  map[types.Side]decimal.Decimal
	stats  Stats
	hist   *history
	logger *slog.Logger
}

// NewLive creates a live order manager over venue for symbol. maxHistory
// caps the sliding window returned by History (0 disables it).
func NewLive(symbol string, venue exchange.Adapter, logger *slog.Logger, maxHistory int) *Live {
	return &Live{
		symbol: symbol,
		venue:  venue,
		cache:  make(map[types.Side]types.Order),
		refPx:  make(map[types.Side]decimal.Decimal),
		hist:   newHistory(maxHistory),
		logger: logger.With("component", "ordermanager_live"),
	}
}

// Place submits side's order to the venue. On acceptance, the order is
// cached and the reference-price table updated; on rejection, neither is
// touched.
func (l *Live) Place(ctx context.Context, side types.Side, price, size, referencePrice decimal.Decimal) (types.Order, error) {
	result, err := l.venue.CreateOrder(ctx, exchange.OrderRequest{
		Symbol:        l.symbol,
		Side:          side,
		Price:         price,
		Size:          size,
		ClientOrderID: types.OrderKindMM + "-" + uuid.NewString(),
	})
	if err != nil {
		return types.Order{}, fmt.Errorf("place %s order: %w", side, err)
	}
	if !result.Accepted() {
		return types.Order{}, fmt.Errorf("%w: %s", ErrRejected, result.Message)
	}

	order := types.Order{
		ID:             result.ClientOrderID,
		Side:           side,
		Price:          price,
		Size:           size,
		Status:         types.OrderOpen,
		PlacedAt:       time.Now(),
		ReferencePrice: referencePrice,
	}

	l.mu.Lock()
	l.cache[side] = order
	l.refPx[side] = referencePrice
	l.stats.Placed++
	l.mu.Unlock()
	l.hist.record(order)

	return order, nil
}

// CancelAll cancels only the orders this manager currently holds in its
// cache, then clears it — never a blanket symbol-wide cancel, which
// could race a fresh placement from the same tick. The final shutdown
// path uses a symbol-wide cancel directly against the venue instead (see
// the orchestrator's shutdown handling).
func (l *Live) CancelAll(ctx context.Context, reason string) (int, error) {
	l.mu.Lock()
	held := make([]exchange.OpenOrder, 0, len(l.cache))
	cancelled := make([]types.Order, 0, len(l.cache))
	for _, o := range l.cache {
		held = append(held, exchange.OpenOrder{ClientOrderID: o.ID, Side: o.Side, Price: o.Price, Size: o.Size})
		o.Status = types.OrderCancelled
		cancelled = append(cancelled, o)
	}
	count := len(held)
	l.mu.Unlock()

	err := l.venue.CancelOrders(ctx, l.symbol, held)

	// Cancel failure clears the local cache defensively rather than
	// leaving it pointing at orders we're no longer sure are live.
	l.mu.Lock()
	l.cache = make(map[types.Side]types.Order)
	l.refPx = make(map[types.Side]decimal.Decimal)
	l.stats.Cancelled += count
	l.mu.Unlock()
	for _, o := range cancelled {
		l.hist.record(o)
	}

	if err != nil {
		l.logger.Warn("cancel all failed, cache cleared anyway", "reason", reason, "error", err)
		return count, fmt.Errorf("cancel all: %w", err)
	}
	l.logger.Debug("cancel all", "reason", reason, "count", count)
	return count, nil
}

// FetchOpen refreshes the cache from the venue, mapping each open order
// to at most one per side (the most recently observed one wins — the
// invariant is that at most one order per side should ever exist).
func (l *Live) FetchOpen(ctx context.Context) error {
	open, err := l.venue.GetOpenOrders(ctx, l.symbol)
	if err != nil {
		return fmt.Errorf("fetch open orders: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fresh := make(map[types.Side]types.Order, 2)
	for _, o := range open {
		ref := l.refPx[o.Side]
		fresh[o.Side] = types.Order{
			ID:             o.ClientOrderID,
			Side:           o.Side,
			Price:          o.Price,
			Size:           o.Size,
			Status:         types.OrderOpen,
			ReferencePrice: ref,
		}
	}
	l.cache = fresh
	return nil
}

// GetOrder returns the cached server order for side, combined with the
// reference price recorded when it was placed.
func (l *Live) GetOrder(side types.Side) (types.Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.cache[side]
	return o, ok
}

// RebalanceNoted bumps the rebalanced counter.
func (l *Live) RebalanceNoted() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.Rebalanced++
}

// Stats returns a copy of the current counters.
func (l *Live) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// History returns the capped window of placed/cancelled orders.
func (l *Live) History() []types.Order { return l.hist.snapshot() }

var (
	_ Manager = (*Simulated)(nil)
	_ Manager = (*Live)(nil)
)
