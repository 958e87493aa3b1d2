package exchange

import (
	"context"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"standxmm/pkg/types"
)

// Simulated is an in-memory Adapter used for mode: TEST. It never touches
// the network: mark price follows a bounded random walk, the book is
// synthesized at a fixed spread around it, and orders fill immediately
// (market orders at the walked price, limit orders at their own price)
// using the same average-entry/realized-PnL accounting as a real venue.
type Simulated struct {
	mu sync.Mutex

	symbol string
	rng    *rand.Rand

	mark       decimal.Decimal
	stepBps    decimal.Decimal
	bookSpread decimal.Decimal

	position *types.Position
	entry    decimal.Decimal
	realized decimal.Decimal

	collateral decimal.Decimal

	openOrders map[string]OpenOrder
}

// NewSimulated creates a simulated adapter seeded at initialMark with
// initialCollateral total collateral, walking the price by up to
// stepBps basis points per call and quoting a synthetic book at
// bookSpreadBps around it.
func NewSimulated(symbol string, initialMark, initialCollateral, stepBps, bookSpreadBps decimal.Decimal, seed int64) *Simulated {
	return &Simulated{
		symbol:     symbol,
		rng:        rand.New(rand.NewSource(seed)),
		mark:       initialMark,
		stepBps:    stepBps,
		bookSpread: bookSpreadBps,
		collateral: initialCollateral,
		openOrders: make(map[string]OpenOrder),
	}
}

func (s *Simulated) walkLocked() {
	// uniform in [-stepBps, +stepBps]
	r := (s.rng.Float64()*2 - 1)
	step := s.stepBps.Mul(decimal.NewFromFloat(r)).Div(decimal.NewFromInt(10_000))
	s.mark = s.mark.Mul(decimal.NewFromInt(1).Add(step))
	if s.mark.Sign() <= 0 {
		s.mark = decimal.NewFromInt(1)
	}
}

// GetMarkPrice advances the random walk by one step and returns the
// resulting price.
func (s *Simulated) GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.walkLocked()
	return s.mark, nil
}

// GetOrderBook returns a synthetic top-of-book centered on the current
// mark price at the configured spread.
func (s *Simulated) GetOrderBook(ctx context.Context, symbol string) (types.OrderBookSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	half := s.bookSpread.Div(decimal.NewFromInt(2)).Div(decimal.NewFromInt(10_000))
	bid := s.mark.Mul(decimal.NewFromInt(1).Sub(half))
	ask := s.mark.Mul(decimal.NewFromInt(1).Add(half))
	return types.OrderBookSnapshot{
		BestBidPrice: bid,
		BestBidSize:  decimal.NewFromInt(1),
		BestAskPrice: ask,
		BestAskSize:  decimal.NewFromInt(1),
	}, nil
}

// GetPosition returns the simulated account's current position.
func (s *Simulated) GetPosition(ctx context.Context, symbol string) (types.Position, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.position == nil || s.position.Size.IsZero() {
		return types.Position{}, false, nil
	}
	pos := *s.position
	pos.UnrealizedPnL = unrealizedPnL(pos, s.mark)
	return pos, true, nil
}

func unrealizedPnL(pos types.Position, mark decimal.Decimal) decimal.Decimal {
	diff := mark.Sub(pos.EntryPrice)
	if pos.Side == types.PositionShort {
		diff = diff.Neg()
	}
	return diff.Mul(pos.Size)
}

// GetCollateral returns the simulated account's margin balance.
// Available collateral is reduced by the notional value of any open
// position to emulate margin usage.
func (s *Simulated) GetCollateral(ctx context.Context) (types.Collateral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	used := decimal.Zero
	if s.position != nil {
		used = s.position.Size.Mul(s.mark)
	}
	available := s.collateral.Add(s.realized).Sub(used)
	if available.Sign() < 0 {
		available = decimal.Zero
	}
	return types.Collateral{Total: s.collateral.Add(s.realized), Available: available}, nil
}

// GetOpenOrders returns resting orders for symbol.
func (s *Simulated) GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := make([]OpenOrder, 0, len(s.openOrders))
	for _, o := range s.openOrders {
		orders = append(orders, o)
	}
	return orders, nil
}

// CreateOrder fills req immediately: market orders (and orders with a zero
// price) at the current mark price, limit orders at their own price, since
// the simulator has no resting book to cross. It updates the simulated
// position with the same
// average-entry and realized-PnL accounting a real venue would apply.
func (s *Simulated) CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clientOrderID := req.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = uuid.NewString()
	}

	price := req.Price
	if req.Market || price.IsZero() {
		price = s.mark
	}

	if req.ReduceOnly && (s.position == nil || s.position.Size.IsZero()) {
		return OrderResult{Code: 1, Message: "reduce-only order with no position to reduce", ClientOrderID: clientOrderID}, nil
	}

	s.fillLocked(req.Side, price, req.Size, req.ReduceOnly)

	s.openOrders[clientOrderID] = OpenOrder{
		Side: req.Side, Price: price, Size: req.Size,
		ClientOrderID: clientOrderID, OrderID: clientOrderID,
	}

	return OrderResult{Code: 0, OrderID: clientOrderID, ClientOrderID: clientOrderID}, nil
}

func (s *Simulated) fillLocked(side types.Side, price, size decimal.Decimal, reduceOnly bool) {
	delta := size
	if side == types.Sell {
		delta = delta.Neg()
	}

	if s.position == nil || s.position.Size.IsZero() {
		if reduceOnly {
			return
		}
		newSide := types.PositionLong
		if side == types.Sell {
			newSide = types.PositionShort
		}
		s.position = &types.Position{Side: newSide, Size: size, EntryPrice: price}
		return
	}

	signedExisting := s.position.Size
	if s.position.Side == types.PositionShort {
		signedExisting = signedExisting.Neg()
	}

	if reduceOnly {
		maxSize := s.position.Size
		if size.GreaterThan(maxSize) {
			size = maxSize
			if side == types.Sell {
				delta = size.Neg()
			} else {
				delta = size
			}
		}
	}

	newSigned := signedExisting.Add(delta)

	if signedExisting.Sign() != 0 && signedExisting.Sign() != delta.Sign() {
		closeSize := decimal.Min(signedExisting.Abs(), delta.Abs())
		dir := decimal.NewFromInt(1)
		if signedExisting.Sign() < 0 {
			dir = decimal.NewFromInt(-1)
		}
		s.realized = s.realized.Add(closeSize.Mul(price.Sub(s.position.EntryPrice)).Mul(dir))
	}

	switch {
	case newSigned.IsZero():
		s.position = nil
		return
	case signedExisting.Sign() == 0 || signedExisting.Sign() == delta.Sign():
		totalCost := signedExisting.Mul(s.position.EntryPrice).Add(delta.Mul(price))
		s.position.EntryPrice = totalCost.Div(newSigned).Abs()
	default:
		s.position.EntryPrice = price
	}

	if newSigned.Sign() < 0 {
		s.position.Side = types.PositionShort
	} else {
		s.position.Side = types.PositionLong
	}
	s.position.Size = newSigned.Abs()
}

// CancelOrder removes a single order from the local cache. The simulator
// fills synchronously, so cancellation only ever clears bookkeeping.
func (s *Simulated) CancelOrder(ctx context.Context, clientOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.openOrders, clientOrderID)
	return nil
}

// CancelOrders clears a batch of orders from the local cache.
func (s *Simulated) CancelOrders(ctx context.Context, symbol string, openOrders []OpenOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range openOrders {
		delete(s.openOrders, o.ClientOrderID)
	}
	return nil
}

// ClosePosition submits a reduce-only market fill sized to flatten pos.
func (s *Simulated) ClosePosition(ctx context.Context, symbol string, pos types.Position) (OrderResult, error) {
	if pos.Size.IsZero() {
		return OrderResult{Code: 0}, nil
	}
	return s.CreateOrder(ctx, OrderRequest{
		Symbol:        symbol,
		Side:          pos.Side.CloseSide(),
		Size:          pos.Size,
		Market:        true,
		ClientOrderID: types.OrderKindClose + "-" + uuid.NewString(),
		ReduceOnly:    true,
	})
}

// WSClient returns nil: the simulator has no streaming transport, callers
// poll the Get* methods instead.
func (s *Simulated) WSClient() WSClient { return nil }

// Close is a no-op for the simulator.
func (s *Simulated) Close() error { return nil }

var _ Adapter = (*Simulated)(nil)
