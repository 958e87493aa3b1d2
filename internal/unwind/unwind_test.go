package unwind

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"standxmm/internal/exchange"
	"standxmm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// fakeVenue is a minimal exchange.Adapter double for unwind tests: each
// CreateOrder call mutates position according to flattenAfter.
type fakeVenue struct {
	mu sync.Mutex

	book types.OrderBookSnapshot
	mark decimal.Decimal

	position     types.Position
	flattenAfter int // number of CreateOrder calls after which position goes flat
	createCalls  int

	createErr error
}

func (f *fakeVenue) GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f.mark, nil
}
func (f *fakeVenue) GetOrderBook(ctx context.Context, symbol string) (types.OrderBookSnapshot, error) {
	return f.book, nil
}
func (f *fakeVenue) GetPosition(ctx context.Context, symbol string) (types.Position, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.position.IsFlat() {
		return types.Position{}, false, nil
	}
	return f.position, true, nil
}
func (f *fakeVenue) GetCollateral(ctx context.Context) (types.Collateral, error) {
	return types.Collateral{}, nil
}
func (f *fakeVenue) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.OpenOrder, error) {
	return nil, nil
}
func (f *fakeVenue) CreateOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return exchange.OrderResult{}, f.createErr
	}
	if req.Market || (f.flattenAfter > 0 && f.createCalls >= f.flattenAfter) {
		f.position = types.Position{}
	}
	return exchange.OrderResult{Code: 0, ClientOrderID: req.ClientOrderID}, nil
}
func (f *fakeVenue) CancelOrder(ctx context.Context, clientOrderID string) error { return nil }
func (f *fakeVenue) CancelOrders(ctx context.Context, symbol string, openOrders []exchange.OpenOrder) error {
	return nil
}
func (f *fakeVenue) ClosePosition(ctx context.Context, symbol string, pos types.Position) (exchange.OrderResult, error) {
	return exchange.OrderResult{}, nil
}
func (f *fakeVenue) WSClient() exchange.WSClient { return nil }
func (f *fakeVenue) Close() error                { return nil }

var _ exchange.Adapter = (*fakeVenue)(nil)

func TestRunMarketMethodIssuesSingleReduceOnlyMarket(t *testing.T) {
	venue := &fakeVenue{position: types.Position{Side: types.PositionLong, Size: d("0.01")}}
	e := NewEngine("BTC-PERP", venue, Config{Method: types.CloseMarket}, testLogger())

	result, err := e.Run(context.Background(), venue.position)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatal("expected success")
	}
	if result.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", result.Iterations)
	}
	if venue.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1", venue.createCalls)
	}
}

func TestRunAggressiveFillsOnFirstIteration(t *testing.T) {
	venue := &fakeVenue{
		position: types.Position{Side: types.PositionLong, Size: d("0.01")},
		book: types.OrderBookSnapshot{
			BestBidPrice: d("99990"), BestBidSize: d("1"),
			BestAskPrice: d("100010"), BestAskSize: d("1"),
		},
		flattenAfter: 1,
	}
	cfg := Config{
		Method:        types.CloseAggressive,
		AggressiveBps: decimal.Zero,
		WaitSec:       50 * time.Millisecond,
		MinSizeMarket: d("0.0001"),
		MaxIterations: 20,
	}
	e := NewEngine("BTC-PERP", venue, cfg, testLogger())

	result, err := e.Run(context.Background(), venue.position)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, summary=%q", result.Summary)
	}
	if result.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", result.Iterations)
	}
}

func TestRunDustFallsBackToMarket(t *testing.T) {
	venue := &fakeVenue{position: types.Position{Side: types.PositionShort, Size: d("0.002")}}
	cfg := Config{
		Method:        types.CloseAggressive,
		WaitSec:       10 * time.Millisecond,
		MinSizeMarket: d("0.01"),
		MaxIterations: 20,
	}
	e := NewEngine("BTC-PERP", venue, cfg, testLogger())

	result, err := e.Run(context.Background(), venue.position)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatal("expected success")
	}
	if result.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", result.Iterations)
	}
	if venue.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1", venue.createCalls)
	}
}

func TestRunChaseEmptyBookForcesMarket(t *testing.T) {
	venue := &fakeVenue{position: types.Position{Side: types.PositionLong, Size: d("0.01")}}
	cfg := Config{
		Method:        types.CloseChase,
		WaitSec:       10 * time.Millisecond,
		MinSizeMarket: d("0.0001"),
		MaxIterations: 20,
	}
	e := NewEngine("BTC-PERP", venue, cfg, testLogger())

	result, err := e.Run(context.Background(), venue.position)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatal("expected success")
	}
	if venue.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1 (forced market)", venue.createCalls)
	}
}

func TestRunMaxIterationsForcesMarketFallback(t *testing.T) {
	venue := &fakeVenue{
		position: types.Position{Side: types.PositionLong, Size: d("0.01")},
		book: types.OrderBookSnapshot{
			BestBidPrice: d("99990"), BestBidSize: d("1"),
			BestAskPrice: d("100010"), BestAskSize: d("1"),
		},
		// flattenAfter left at 0: position never flattens from limit fills,
		// forcing the engine through every iteration to the fallback.
	}
	cfg := Config{
		Method:        types.CloseAggressive,
		WaitSec:       2 * time.Millisecond,
		MinSizeMarket: d("0.0001"),
		MaxIterations: 2,
	}
	e := NewEngine("BTC-PERP", venue, cfg, testLogger())

	result, err := e.Run(context.Background(), venue.position)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Iterations != 3 {
		t.Errorf("iterations = %d, want 3 (max_iterations+1)", result.Iterations)
	}
	if !result.Success {
		t.Fatal("expected the forced market fallback to succeed")
	}
}

func TestRunPartialFillReducesRemainingWithoutCancelling(t *testing.T) {
	venue := &fakeVenue{
		position: types.Position{Side: types.PositionLong, Size: d("0.01")},
		book: types.OrderBookSnapshot{
			BestBidPrice: d("99990"), BestBidSize: d("1"),
			BestAskPrice: d("100010"), BestAskSize: d("1"),
		},
	}
	cfg := Config{
		Method:        types.CloseAggressive,
		WaitSec:       15 * time.Millisecond,
		MinSizeMarket: d("0.0001"),
		MaxIterations: 5,
	}
	e := NewEngine("BTC-PERP", venue, cfg, testLogger())

	go func() {
		time.Sleep(5 * time.Millisecond)
		venue.mu.Lock()
		venue.position.Size = d("0.004")
		venue.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		venue.mu.Lock()
		venue.position = types.Position{}
		venue.mu.Unlock()
	}()

	result, err := e.Run(context.Background(), venue.position)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected eventual success, summary=%q", result.Summary)
	}
}
