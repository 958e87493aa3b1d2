// Command mm runs the market-making agent for a single perpetual futures
// instrument: it quotes a symmetric two-sided book around the mark
// price, rebalances on drift, and unwinds any unintended inventory.
//
// Architecture:
//
//	main.go                    — entry point: load config, wire components, run until signalled
//	internal/pricing           — pure quoting math
//	internal/exchange          — venue adapter: REST+WS client, or an in-memory simulator
//	internal/ordermanager      — order bookkeeping, simulated or live
//	internal/quoting           — the quoting state machine
//	internal/unwind            — the position-unwind engine
//	internal/orchestrator      — the single cooperative control loop
//	internal/stats             — observability counters
//	internal/store             — position log, status snapshot, console mirror
//	internal/dashboard         — terminal panel renderer
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shopspring/decimal"

	"standxmm/internal/config"
	"standxmm/internal/exchange"
	"standxmm/internal/ordermanager"
	"standxmm/internal/orchestrator"
	"standxmm/internal/quoting"
	"standxmm/internal/stats"
	"standxmm/internal/store"
	"standxmm/internal/unwind"
	"standxmm/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("MM_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	str, err := store.Open(cfg.Store.DataDir, cfg.Store.SnapshotFile)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer str.Close()

	logger := newLogger(*cfg, str)

	if cfg.Mode == types.ModeLive && !cfg.AutoConfirm {
		if !confirmLive() {
			logger.Warn("live-mode confirmation declined, aborting")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	venue, err := buildAdapter(ctx, *cfg, logger)
	if err != nil {
		logger.Error("failed to build exchange adapter", "error", err)
		os.Exit(1)
	}

	mgr := buildOrderManager(*cfg, venue, logger)

	qcfg := quoting.Config{
		SpreadBps:           cfg.Quoting.SpreadBps,
		DriftThresholdBps:   cfg.Quoting.DriftThreshold,
		UseMidDrift:         cfg.Quoting.UseMidDrift,
		MarkMidDiffLimitBps: cfg.Quoting.MarkMidDiffLimit,
		MidUnstableCooldown: cfg.Quoting.MidUnstableCooldown,
		MinWait:             cfg.Quoting.MinWaitSec,
		CancelAfterDelay:    cfg.Quoting.CancelAfterDelay,
		SizeUnit:            cfg.Quoting.SizeUnit,
		Leverage:            cfg.Quoting.Leverage,
	}
	if cfg.Quoting.MaxSize.IsPositive() {
		max := cfg.Quoting.MaxSize
		qcfg.MaxSize = &max
	}
	machine := quoting.NewMachine(cfg.Coin, mgr, qcfg, logger)

	unwindEngine := unwind.NewEngine(cfg.Coin, venue, unwind.Config{
		Method:        cfg.Close.Method,
		AggressiveBps: cfg.Close.AggressiveBps,
		WaitSec:       cfg.Close.WaitSec,
		MinSizeMarket: cfg.Close.MinSizeMarket,
		MaxIterations: cfg.Close.MaxIterations,
	}, logger)

	st := stats.New()
	loop := orchestrator.New(cfg.Coin, cfg.Mode, venue, mgr, machine, unwindEngine, st, str, *cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	logger.Info("market maker started",
		"coin", cfg.Coin, "mode", cfg.Mode, "spread_bps", cfg.Quoting.SpreadBps, "leverage", cfg.Quoting.Leverage)

	if err := loop.Run(ctx); err != nil {
		logger.Error("control loop exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("market maker stopped cleanly")
}

func buildAdapter(ctx context.Context, cfg config.Config, logger *slog.Logger) (exchange.Adapter, error) {
	if cfg.Mode == types.ModeTest {
		return exchange.NewSimulated(
			cfg.Coin,
			decimal.NewFromInt(50_000),
			decimal.NewFromInt(10_000),
			decimal.NewFromInt(5),
			decimal.NewFromInt(2),
			1,
		), nil
	}

	ws := exchange.NewWSFeed(ctx, cfg.Exchange.WSBaseURL, logger)
	auth := exchange.NewAuth(exchange.Credentials{APIKey: cfg.Exchange.APIKey, Secret: cfg.Exchange.Secret})
	limits := exchange.RateLimits{
		Order:  exchange.BucketLimits{Burst: cfg.Exchange.RateLimits.Order.Burst, RatePerSecond: cfg.Exchange.RateLimits.Order.RatePerSecond},
		Cancel: exchange.BucketLimits{Burst: cfg.Exchange.RateLimits.Cancel.Burst, RatePerSecond: cfg.Exchange.RateLimits.Cancel.RatePerSecond},
		Read:   exchange.BucketLimits{Burst: cfg.Exchange.RateLimits.Read.Burst, RatePerSecond: cfg.Exchange.RateLimits.Read.RatePerSecond},
	}
	return exchange.NewRESTClient(cfg.Exchange.BaseURL, auth, ws, limits, logger), nil
}

func buildOrderManager(cfg config.Config, venue exchange.Adapter, logger *slog.Logger) ordermanager.Manager {
	if cfg.Mode == types.ModeTest {
		return ordermanager.NewSimulated(logger, cfg.MaxHistory)
	}
	return ordermanager.NewLive(cfg.Coin, venue, logger, cfg.MaxHistory)
}

func newLogger(cfg config.Config, str *store.Store) *slog.Logger {
	out := io.MultiWriter(os.Stdout, str.ConsoleWriter())
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// confirmLive prompts for the literal "YES" on standard input before
// live trading starts without auto-confirm.
func confirmLive() bool {
	fmt.Print("LIVE mode without auto_confirm — type YES to proceed: ")
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line) == "YES"
}
