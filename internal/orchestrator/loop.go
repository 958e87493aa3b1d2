// Package orchestrator drives the single cooperative control loop: one
// tick samples market data, classifies and acts via the quoting state
// machine, renders the dashboard, and paces itself before the next
// tick. The loop is single-threaded and cooperative: one goroutine per
// symbol rather than a pool of market workers.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"standxmm/internal/config"
	"standxmm/internal/dashboard"
	"standxmm/internal/exchange"
	"standxmm/internal/ordermanager"
	"standxmm/internal/quoting"
	"standxmm/internal/stats"
	"standxmm/internal/store"
	"standxmm/internal/unwind"
	"standxmm/pkg/types"
)

const maxErrorBackoff = 10 * time.Second

// Loop owns every dependency the control loop needs for one symbol.
type Loop struct {
	symbol string
	mode   types.Mode

	venue   exchange.Adapter
	mgr     ordermanager.Manager
	machine *quoting.Machine
	unwind  *unwind.Engine

	st     *stats.Stats
	str    *store.Store
	cfg    config.Config
	out    io.Writer
	logger *slog.Logger

	startedAt       time.Time
	collateralDirty bool
	collateral      types.Collateral
	lastSnapshotAt  time.Time
}

// New constructs a Loop. Rendered panels are written to stdout mirrored
// into str's console log.
func New(symbol string, mode types.Mode, venue exchange.Adapter, mgr ordermanager.Manager, machine *quoting.Machine, engine *unwind.Engine, st *stats.Stats, str *store.Store, cfg config.Config, logger *slog.Logger) *Loop {
	return &Loop{
		symbol:  symbol,
		mode:    mode,
		venue:   venue,
		mgr:     mgr,
		machine: machine,
		unwind:  engine,
		st:      st,
		str:     str,
		cfg:     cfg,
		out:     io.MultiWriter(os.Stdout, str.ConsoleWriter()),
		logger:  logger.With("component", "orchestrator"),
	}
}

// Run drives ticks until ctx is cancelled or the error budget is
// exhausted. It returns nil on a clean shutdown (context cancellation or
// a completed restart-interval cycle) and a non-nil error only when
// max_consecutive_errors was reached.
func (l *Loop) Run(ctx context.Context) error {
	l.startedAt = time.Now()
	l.collateralDirty = true

	for {
		if ctx.Err() != nil {
			return l.shutdown()
		}

		if l.cfg.RestartInterval > 0 && time.Since(l.startedAt) >= l.cfg.RestartInterval {
			return l.restart(ctx)
		}

		skip, err := l.tick(ctx)
		if err != nil {
			n := l.st.IncrementErrors()
			l.logger.Error("tick failed", "error", err, "consecutive_errors", n)
			if n >= l.cfg.MaxConsecutiveErrors {
				l.logger.Error("max consecutive errors reached, exiting")
				return fmt.Errorf("max consecutive errors (%d) reached: %w", l.cfg.MaxConsecutiveErrors, err)
			}
			if !l.sleep(ctx, errorBackoff(n)) {
				return l.shutdown()
			}
			continue
		}

		l.st.ResetErrors()
		if skip {
			l.logger.Debug("tick skipped: no tradeable market data")
		}
		if !l.sleep(ctx, l.cfg.Quoting.RefreshInterval) {
			return l.shutdown()
		}
	}
}

// tick samples collateral, orders, mark price, book and position, then
// drives the quoting state machine. It reports whether the tick was
// skipped for a transient market-data gap (which never counts toward
// the consecutive-error budget).
func (l *Loop) tick(ctx context.Context) (skip bool, err error) {
	if l.collateralDirty {
		collateral, err := l.venue.GetCollateral(ctx)
		if err != nil {
			return false, fmt.Errorf("refresh collateral: %w", err)
		}
		l.collateral = collateral
		l.collateralDirty = false
	}

	if l.mode == types.ModeLive {
		if err := l.mgr.FetchOpen(ctx); err != nil {
			return false, fmt.Errorf("refresh open orders: %w", err)
		}
	}

	mark, err := l.venue.GetMarkPrice(ctx, l.symbol)
	if err != nil {
		return false, fmt.Errorf("get mark price: %w", err)
	}
	book, err := l.venue.GetOrderBook(ctx, l.symbol)
	if err != nil {
		return false, fmt.Errorf("get order book: %w", err)
	}
	if mark.Sign() <= 0 || book.Empty() {
		return true, nil
	}

	position, hasPosition, err := l.venue.GetPosition(ctx, l.symbol)
	if err != nil {
		return false, fmt.Errorf("get position: %w", err)
	}

	marketTick := types.MarketTick{
		MarkPrice:  mark,
		Book:       book,
		Position:   position,
		Collateral: l.collateral,
		SampledAt:  time.Now(),
	}

	if l.cfg.Close.AutoClosePosition && hasPosition && !position.IsFlat() {
		return false, l.runUnwind(ctx, position)
	}

	result, err := l.machine.Tick(ctx, marketTick)
	if err != nil {
		return false, fmt.Errorf("quoting tick: %w", err)
	}

	l.render(result, marketTick)
	return false, nil
}

// runUnwind cancels resting quoting orders, invokes the unwind engine,
// records the outcome, and marks collateral dirty so the next tick
// refreshes the margin balance the unwind consumed or freed.
func (l *Loop) runUnwind(ctx context.Context, position types.Position) error {
	if _, err := l.mgr.CancelAll(ctx, "position"); err != nil {
		l.logger.Warn("cancel before unwind failed", "error", err)
	}

	result, unwindErr := l.unwind.Run(ctx, position)
	l.st.RecordUnwind(result.Success, position.Size.Abs())
	l.collateralDirty = true

	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	logLine := fmt.Sprintf("unwind %s: %s (iterations=%d, elapsed=%s)", outcome, result.Summary, result.Iterations, result.Elapsed)
	if err := l.str.LogPosition(logLine); err != nil {
		l.logger.Warn("position log write failed", "error", err)
	}

	if unwindErr != nil {
		return fmt.Errorf("unwind: %w", unwindErr)
	}
	return nil
}

// render draws the dashboard panel for this tick and, if the snapshot
// interval has elapsed, atomically rewrites the status snapshot file.
func (l *Loop) render(result quoting.Result, tick types.MarketTick) {
	snap := l.st.Snapshot(l.mgr)

	panel := dashboard.Render(dashboard.Snapshot{
		Coin:                l.symbol,
		Mode:                string(l.mode),
		Mark:                tick.MarkPrice,
		Mid:                 result.Mid,
		State:               string(result.State),
		BuyPrice:            result.Buy,
		SellPrice:           result.Sell,
		Size:                result.Size,
		PositionSide:        string(tick.Position.Side),
		PositionSize:        tick.Position.Size,
		EntryPrice:          tick.Position.EntryPrice,
		UnrealizedPnL:       tick.Position.UnrealizedPnL,
		Collateral:          tick.Collateral.Total,
		AvailableCollateral: tick.Collateral.Available,
		Placed:              snap.Placed,
		Cancelled:           snap.Cancelled,
		Rebalanced:          snap.Rebalanced,
		ConsecutiveErrors:   snap.ConsecutiveErrors,
		UpdatedAt:           tick.SampledAt,
	})

	fmt.Fprintln(l.out, panel)

	if l.cfg.Store.SnapshotInterval > 0 && time.Since(l.lastSnapshotAt) >= l.cfg.Store.SnapshotInterval {
		if err := l.str.WriteSnapshot(panel); err != nil {
			l.logger.Warn("snapshot write failed", "error", err)
		}
		l.lastSnapshotAt = time.Now()
	}
}

// restart cancels all open orders and sleeps for the restart delay.
// Re-exec of the process itself is an external concern left to the
// caller; Run returns cleanly so cmd/mm can decide how to restart.
func (l *Loop) restart(ctx context.Context) error {
	l.logger.Info("restart interval elapsed")
	if _, err := l.mgr.CancelAll(context.Background(), "restart"); err != nil {
		l.logger.Warn("restart cancel failed", "error", err)
	}
	select {
	case <-time.After(l.cfg.RestartDelay):
	case <-ctx.Done():
	}
	return nil
}

// shutdown cancels all symbol orders in live mode, emits final
// statistics, and closes the adapter.
func (l *Loop) shutdown() error {
	if l.mode == types.ModeLive {
		if err := l.venue.CancelOrders(context.Background(), l.symbol, nil); err != nil {
			l.logger.Warn("shutdown cancel failed", "error", err)
		}
	}
	snap := l.st.Snapshot(l.mgr)
	l.logger.Info("final statistics",
		"placed", snap.Placed, "cancelled", snap.Cancelled, "rebalanced", snap.Rebalanced,
		"unwind_attempts", snap.UnwindAttempts, "unwind_successes", snap.UnwindSuccesses,
		"unwind_volume", snap.UnwindVolume)
	return l.venue.Close()
}

// sleep waits for d or ctx cancellation, reporting false if ctx won.
func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// errorBackoff grows 500ms per consecutive error, capped at 10s.
func errorBackoff(n int) time.Duration {
	d := time.Duration(n) * 500 * time.Millisecond
	if d > maxErrorBackoff {
		return maxErrorBackoff
	}
	return d
}
