// Package quoting implements the quoting state machine: classifies the
// current tick into exactly one state and performs at most one action,
// as an explicit, logged state machine rather than an implicit
// if/else quote-update cascade.
package quoting

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"standxmm/internal/ordermanager"
	"standxmm/internal/pricing"
	"standxmm/pkg/types"
)

// State is one of six classifications a tick can resolve to, in
// priority order.
type State string

const (
	NoSize      State = "NO_SIZE"
	Waiting     State = "WAITING"
	MidWait     State = "MID_WAIT"
	Rebalancing State = "REBALANCING"
	Monitoring  State = "MONITORING"
	Placing     State = "PLACING"
)

// Config holds the tunables the classification and action logic reads
// every tick.
type Config struct {
	SpreadBps           decimal.Decimal
	DriftThresholdBps   decimal.Decimal
	UseMidDrift         bool
	MarkMidDiffLimitBps decimal.Decimal // 0 disables the mid-stability check
	MidUnstableCooldown time.Duration
	MinWait             time.Duration
	CancelAfterDelay    time.Duration
	SizeUnit            decimal.Decimal
	Leverage            decimal.Decimal
	MaxSize             *decimal.Decimal
}

// Machine runs the per-tick classification and action against a Manager.
type Machine struct {
	symbol string
	mgr    ordermanager.Manager
	cfg    Config
	logger *slog.Logger

	ordersExistSince time.Time // zero value means "no orders"
	lastMidUnstable  time.Time // zero value means "never"
}

// NewMachine constructs a quoting state machine for symbol.
func NewMachine(symbol string, mgr ordermanager.Manager, cfg Config, logger *slog.Logger) *Machine {
	return &Machine{symbol: symbol, mgr: mgr, cfg: cfg, logger: logger.With("component", "quoting")}
}

// Result reports what the machine observed and did this tick, for
// dashboard rendering.
type Result struct {
	State State
	Size  decimal.Decimal
	Buy   decimal.Decimal
	Sell  decimal.Decimal
	Mid   decimal.Decimal
}

// Tick runs one classification-and-action cycle against tick.
func (m *Machine) Tick(ctx context.Context, tick types.MarketTick) (Result, error) {
	mark := tick.MarkPrice
	mid := pricing.WeightedMid(tick.Book)
	midDiffBps := pricing.DriftBps(mid, mark)

	buy, sell := pricing.QuotePrices(mark, m.cfg.SpreadBps)
	buyMaker, sellMaker := pricing.MakerClassification(buy, sell, tick.Book.BestBidPrice, tick.Book.BestAskPrice)

	size := pricing.QuantizeSize(tick.Collateral.Total, mark, m.cfg.Leverage, m.cfg.SizeUnit, m.cfg.MaxSize)

	buyOrder, hasBuy := m.mgr.GetOrder(types.Buy)
	sellOrder, hasSell := m.mgr.GetOrder(types.Sell)
	hasOrders := hasBuy || hasSell
	noOrders := !hasOrders

	var drift decimal.Decimal
	if hasBuy {
		drift = pricing.DriftBps(mark, buyOrder.ReferencePrice)
	} else if hasSell {
		drift = pricing.DriftBps(mark, sellOrder.ReferencePrice)
	}
	effectiveDrift := drift
	if m.cfg.UseMidDrift {
		effectiveDrift = drift.Add(midDiffBps)
	}

	midUnstable := m.cfg.MarkMidDiffLimitBps.Sign() > 0 && midDiffBps.GreaterThan(m.cfg.MarkMidDiffLimitBps)
	if midUnstable {
		m.lastMidUnstable = time.Now()
	}
	midCooldown := m.cfg.MidUnstableCooldown > 0 && !m.lastMidUnstable.IsZero() &&
		time.Since(m.lastMidUnstable) < m.cfg.MidUnstableCooldown

	canModify := m.ordersExistSince.IsZero() || time.Since(m.ordersExistSince) >= m.cfg.MinWait

	state := classify(size, buyMaker, sellMaker, midUnstable, midCooldown, noOrders, hasOrders, effectiveDrift, m.cfg.DriftThresholdBps)
	m.logger.Debug("tick classified", "state", state, "drift_bps", effectiveDrift, "size", size)

	result := Result{State: state, Size: size, Buy: buy, Sell: sell, Mid: mid}

	switch {
	case state == Rebalancing && canModify:
		m.mgr.RebalanceNoted()
		if _, err := m.mgr.CancelAll(ctx, "drift"); err != nil {
			m.logger.Warn("rebalance cancel failed", "error", err)
		}
		m.ordersExistSince = time.Time{}
		select {
		case <-time.After(m.cfg.CancelAfterDelay):
		case <-ctx.Done():
			return result, ctx.Err()
		}
		return result, nil

	case state == Placing:
		if err := m.placePair(ctx, buy, sell, size, mark); err != nil {
			m.logger.Warn("place pair failed", "error", err)
			return result, nil
		}
		m.ordersExistSince = time.Now()
		return result, nil

	case state == Waiting && hasOrders:
		if _, err := m.mgr.CancelAll(ctx, "not_maker"); err != nil {
			m.logger.Warn("waiting-state cancel failed", "error", err)
		}
		m.ordersExistSince = time.Time{}
		return result, nil

	default:
		return result, nil
	}
}

// classify runs the priority-ordered state table against one tick's
// derived quantities.
func classify(size decimal.Decimal, buyMaker, sellMaker, midUnstable, midCooldown, noOrders, hasOrders bool, effectiveDrift, driftThreshold decimal.Decimal) State {
	switch {
	case size.IsZero():
		return NoSize
	case !buyMaker || !sellMaker:
		return Waiting
	case (midUnstable || midCooldown) && noOrders:
		return MidWait
	case hasOrders && effectiveDrift.GreaterThan(driftThreshold):
		return Rebalancing
	case hasOrders:
		return Monitoring
	default:
		return Placing
	}
}

// placePair places the bid and ask concurrently, joined via errgroup.
// It is the only concurrent pair of calls within a tick.
func (m *Machine) placePair(ctx context.Context, buy, sell, size, mark decimal.Decimal) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := m.mgr.Place(gctx, types.Buy, buy, size, mark)
		return err
	})
	g.Go(func() error {
		_, err := m.mgr.Place(gctx, types.Sell, sell, size, mark)
		return err
	})
	return g.Wait()
}
