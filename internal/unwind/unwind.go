// Package unwind implements the position-unwind engine: liquidates
// an open position under a selected policy with bounded iterations, dust
// handling, partial-fill accounting, and a forced market fallback. Every
// order this package submits is reduce-only.
package unwind

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"standxmm/internal/exchange"
	"standxmm/pkg/types"
)

const pollInterval = 10 * time.Millisecond

// Config holds the unwind policy tunables, sourced from the close.*
// configuration block.
type Config struct {
	Method        types.CloseMethod
	AggressiveBps decimal.Decimal
	WaitSec       time.Duration
	MinSizeMarket decimal.Decimal
	MaxIterations int
}

// Result is the engine's return tuple: success, wall-clock elapsed, iterations
// consumed, and a human-readable summary for the dashboard and logs.
type Result struct {
	Success    bool
	Elapsed    time.Duration
	Iterations int
	Summary    string
}

// Engine runs the unwind policy against a single exchange.Adapter.
type Engine struct {
	symbol string
	venue  exchange.Adapter
	cfg    Config
	logger *slog.Logger
}

// NewEngine constructs an unwind engine for symbol.
func NewEngine(symbol string, venue exchange.Adapter, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{symbol: symbol, venue: venue, cfg: cfg, logger: logger.With("component", "unwind")}
}

// Run liquidates pos under the engine's configured method. Callers must
// have already cancelled all quoting orders and cleared the quoting time
// anchor before invoking Run.
func (e *Engine) Run(ctx context.Context, pos types.Position) (Result, error) {
	start := time.Now()
	closeSide := pos.Side.CloseSide()
	remaining := pos.Size.Abs()

	if e.cfg.Method == types.CloseMarket {
		result, err := e.submitMarket(ctx, closeSide, remaining)
		elapsed := time.Since(start)
		if err != nil {
			return Result{Elapsed: elapsed, Iterations: 1, Summary: fmt.Sprintf("market close failed: %v", err)}, err
		}
		_ = result
		return Result{
			Success:    true,
			Elapsed:    elapsed,
			Iterations: 1,
			Summary:    fmt.Sprintf("market close of %s %s, reduce-only", remaining, closeSide),
		}, nil
	}

	iter := 1
	for {
		if iter > e.cfg.MaxIterations {
			_, err := e.submitMarket(ctx, closeSide, remaining)
			return Result{
				Success:    err == nil,
				Elapsed:    time.Since(start),
				Iterations: iter,
				Summary:    fmt.Sprintf("max iterations (%d) exhausted, forced market fallback for %s", e.cfg.MaxIterations, remaining),
			}, err
		}
		if remaining.LessThan(e.cfg.MinSizeMarket) {
			_, err := e.submitMarket(ctx, closeSide, remaining)
			return Result{
				Success:    err == nil,
				Elapsed:    time.Since(start),
				Iterations: iter,
				Summary:    fmt.Sprintf("dust fallback: remaining %s below min_size_market %s", remaining, e.cfg.MinSizeMarket),
			}, err
		}

		limitPrice, useMarket, err := e.computeLimitPrice(ctx, closeSide)
		if err != nil {
			return Result{Elapsed: time.Since(start), Iterations: iter, Summary: fmt.Sprintf("book/mark fetch failed: %v", err)}, err
		}
		if useMarket {
			_, err := e.submitMarket(ctx, closeSide, remaining)
			return Result{
				Success:    err == nil,
				Elapsed:    time.Since(start),
				Iterations: iter,
				Summary:    "empty book on chase method, forced market close",
			}, err
		}

		result, err := e.submitLimit(ctx, closeSide, limitPrice, remaining)
		if err != nil || !result.Accepted() {
			e.logger.Warn("unwind limit submit failed, retrying", "iteration", iter, "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return Result{Elapsed: time.Since(start), Iterations: iter, Summary: "cancelled"}, ctx.Err()
			}
			iter++
			continue
		}

		flat, newRemaining, err := e.pollPosition(ctx, remaining)
		if err != nil {
			return Result{Elapsed: time.Since(start), Iterations: iter, Summary: fmt.Sprintf("position poll failed: %v", err)}, err
		}
		if flat {
			return Result{
				Success:    true,
				Elapsed:    time.Since(start),
				Iterations: iter,
				Summary:    fmt.Sprintf("closed %s %s in %d iteration(s)", pos.Size.Abs(), closeSide, iter),
			}, nil
		}

		remaining = newRemaining
		if err := e.venue.CancelOrder(ctx, result.ClientOrderID); err != nil {
			e.logger.Debug("cancel outstanding unwind order failed, may already be filled", "error", err)
		}
		iter++
	}
}

// computeLimitPrice picks the limit price for the aggressive or chase
// method. useMarket reports that the chase method hit an empty book and
// must fall back to a market order instead of returning a limit price.
func (e *Engine) computeLimitPrice(ctx context.Context, closeSide types.Side) (price decimal.Decimal, useMarket bool, err error) {
	book, err := e.venue.GetOrderBook(ctx, e.symbol)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("get order book: %w", err)
	}

	switch e.cfg.Method {
	case types.CloseChase:
		if book.Empty() {
			return decimal.Zero, true, nil
		}
		if closeSide == types.Sell {
			return book.BestAskPrice, false, nil
		}
		return book.BestBidPrice, false, nil

	case types.CloseAggressive:
		if e.cfg.AggressiveBps.IsZero() {
			if book.Empty() {
				mark, err := e.venue.GetMarkPrice(ctx, e.symbol)
				if err != nil {
					return decimal.Zero, false, fmt.Errorf("get mark price: %w", err)
				}
				return mark, false, nil
			}
			if closeSide == types.Sell {
				return book.BestBidPrice, false, nil
			}
			return book.BestAskPrice, false, nil
		}
		mark, err := e.venue.GetMarkPrice(ctx, e.symbol)
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("get mark price: %w", err)
		}
		frac := e.cfg.AggressiveBps.Div(decimal.NewFromInt(10_000))
		if closeSide == types.Sell {
			return mark.Mul(decimal.NewFromInt(1).Sub(frac)), false, nil
		}
		return mark.Mul(decimal.NewFromInt(1).Add(frac)), false, nil

	default:
		return decimal.Zero, false, fmt.Errorf("unsupported loop method %q", e.cfg.Method)
	}
}

// pollPosition polls the live position every 10ms up to WaitSec. It
// returns flat=true on reaching zero size, or the latest observed
// remaining size on timeout or partial fill.
func (e *Engine) pollPosition(ctx context.Context, remaining decimal.Decimal) (flat bool, newRemaining decimal.Decimal, err error) {
	deadline := time.Now().Add(e.cfg.WaitSec)
	newRemaining = remaining
	for time.Now().Before(deadline) {
		pos, ok, err := e.venue.GetPosition(ctx, e.symbol)
		if err != nil {
			return false, remaining, fmt.Errorf("get position: %w", err)
		}
		if !ok || pos.IsFlat() {
			return true, decimal.Zero, nil
		}
		if pos.Size.Abs().LessThan(newRemaining) {
			newRemaining = pos.Size.Abs()
		}
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return false, newRemaining, ctx.Err()
		}
	}
	return false, newRemaining, nil
}

func (e *Engine) submitMarket(ctx context.Context, side types.Side, size decimal.Decimal) (exchange.OrderResult, error) {
	return e.venue.CreateOrder(ctx, exchange.OrderRequest{
		Symbol:        e.symbol,
		Side:          side,
		Size:          size,
		Market:        true,
		ReduceOnly:    true,
		ClientOrderID: types.OrderKindClose + "-" + uuid.NewString(),
	})
}

func (e *Engine) submitLimit(ctx context.Context, side types.Side, price, size decimal.Decimal) (exchange.OrderResult, error) {
	return e.venue.CreateOrder(ctx, exchange.OrderRequest{
		Symbol:        e.symbol,
		Side:          side,
		Price:         price,
		Size:          size,
		ReduceOnly:    true,
		ClientOrderID: types.OrderKindClose + "-" + uuid.NewString(),
	})
}
