package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"standxmm/internal/config"
	"standxmm/internal/exchange"
	"standxmm/internal/ordermanager"
	"standxmm/internal/quoting"
	"standxmm/internal/stats"
	"standxmm/internal/store"
	"standxmm/internal/unwind"
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

// fakeAdapter is a minimal exchange.Adapter double for orchestrator tests.
type fakeAdapter struct {
	mu sync.Mutex

	mark    decimal.Decimal
	markErr error
	book    types.OrderBookSnapshot

	position    types.Position
	hasPosition bool

	closeCalls int
}

func (f *fakeAdapter) GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mark, f.markErr
}
func (f *fakeAdapter) GetOrderBook(ctx context.Context, symbol string) (types.OrderBookSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.book, nil
}
func (f *fakeAdapter) GetPosition(ctx context.Context, symbol string) (types.Position, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position, f.hasPosition, nil
}
func (f *fakeAdapter) GetCollateral(ctx context.Context) (types.Collateral, error) {
	return types.Collateral{Total: d("1000"), Available: d("1000")}, nil
}
func (f *fakeAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.OpenOrder, error) {
	return nil, nil
}
func (f *fakeAdapter) CreateOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	f.position = types.Position{}
	f.hasPosition = false
	return exchange.OrderResult{Code: 0, ClientOrderID: req.ClientOrderID}, nil
}
func (f *fakeAdapter) CancelOrder(ctx context.Context, clientOrderID string) error { return nil }
func (f *fakeAdapter) CancelOrders(ctx context.Context, symbol string, openOrders []exchange.OpenOrder) error {
	return nil
}
func (f *fakeAdapter) ClosePosition(ctx context.Context, symbol string, pos types.Position) (exchange.OrderResult, error) {
	return exchange.OrderResult{}, nil
}
func (f *fakeAdapter) WSClient() exchange.WSClient { return nil }
func (f *fakeAdapter) Close() error                { return nil }

var _ exchange.Adapter = (*fakeAdapter)(nil)

func baseCfg() config.Config {
	return config.Config{
		Mode: types.ModeTest,
		Quoting: config.QuotingConfig{
			SpreadBps:       d("10"),
			DriftThreshold:  d("50"),
			RefreshInterval: 5 * time.Millisecond,
			SizeUnit:        d("0.0001"),
			Leverage:        d("6"),
		},
		Close: config.CloseConfig{
			Method:        types.CloseMarket,
			MaxIterations: 20,
			WaitSec:       50 * time.Millisecond,
			MinSizeMarket: d("0.0001"),
		},
		MaxConsecutiveErrors: 2,
		Store: config.StoreConfig{
			SnapshotInterval: time.Hour,
			SnapshotFile:     "status.txt",
		},
	}
}

func newLoop(t *testing.T, venue *fakeAdapter, cfg config.Config) *Loop {
	t.Helper()
	logger := testLogger()
	mgr := ordermanager.NewSimulated(logger, 100)
	qcfg := quoting.Config{
		SpreadBps:         cfg.Quoting.SpreadBps,
		DriftThresholdBps: cfg.Quoting.DriftThreshold,
		MinWait:           0,
		CancelAfterDelay:  time.Millisecond,
		SizeUnit:          cfg.Quoting.SizeUnit,
		Leverage:          cfg.Quoting.Leverage,
	}
	machine := quoting.NewMachine("BTC-PERP", mgr, qcfg, logger)
	ucfg := unwind.Config{
		Method:        cfg.Close.Method,
		AggressiveBps: cfg.Close.AggressiveBps,
		WaitSec:       cfg.Close.WaitSec,
		MinSizeMarket: cfg.Close.MinSizeMarket,
		MaxIterations: cfg.Close.MaxIterations,
	}
	engine := unwind.NewEngine("BTC-PERP", venue, ucfg, logger)
	st := stats.New()

	dir := t.TempDir()
	str, err := store.Open(dir, cfg.Store.SnapshotFile)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { str.Close() })

	return New("BTC-PERP", cfg.Mode, venue, mgr, machine, engine, st, str, cfg, logger)
}

func TestRunSkipsTickOnEmptyBook(t *testing.T) {
	venue := &fakeAdapter{mark: d("100")} // zero-value book is empty
	l := newLoop(t, venue, baseCfg())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunExitsAfterMaxConsecutiveErrors(t *testing.T) {
	venue := &fakeAdapter{mark: d("100"), markErr: errors.New("network down")}
	cfg := baseCfg()
	cfg.MaxConsecutiveErrors = 2
	l := newLoop(t, venue, cfg)

	err := l.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error after exhausting the error budget")
	}
}

func TestRunInvokesUnwindOnNonzeroPosition(t *testing.T) {
	venue := &fakeAdapter{
		mark: d("100"),
		book: types.OrderBookSnapshot{
			BestBidPrice: d("99.8"), BestBidSize: d("1"),
			BestAskPrice: d("100.2"), BestAskSize: d("1"),
		},
		position:    types.Position{Side: types.PositionLong, Size: d("0.01")},
		hasPosition: true,
	}
	cfg := baseCfg()
	cfg.Close.AutoClosePosition = true
	l := newLoop(t, venue, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	venue.mu.Lock()
	calls := venue.closeCalls
	venue.mu.Unlock()
	if calls == 0 {
		t.Error("expected the unwind engine to submit at least one close order")
	}
}
