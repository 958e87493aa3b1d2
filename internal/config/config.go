// Package config defines all configuration for the market-making bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via MM_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"standxmm/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Mode        types.Mode     `mapstructure:"mode"`
	Exchange    ExchangeConfig `mapstructure:"exchange"`
	Coin        string         `mapstructure:"coin"`
	AutoConfirm bool           `mapstructure:"auto_confirm"`

	Quoting QuotingConfig `mapstructure:"quoting"`
	Close   CloseConfig   `mapstructure:"close"`

	// MaxHistory caps the order manager's sliding-window history of
	// placed/cancelled orders (internal/ordermanager.history); the
	// oldest entry is evicted once the cap is exceeded.
	MaxHistory           int           `mapstructure:"max_history"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors"`
	RestartInterval      time.Duration `mapstructure:"restart_interval"`
	RestartDelay         time.Duration `mapstructure:"restart_delay"`

	Store   StoreConfig   `mapstructure:"store"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ExchangeConfig holds the venue's REST/WebSocket endpoints and the API
// credential pair used to sign trading requests: a key/secret pair
// issued by a centralized venue, not an on-chain wallet (see DESIGN.md).
type ExchangeConfig struct {
	BaseURL    string          `mapstructure:"base_url"`
	WSBaseURL  string          `mapstructure:"ws_base_url"`
	APIKey     string          `mapstructure:"api_key"`
	Secret     string          `mapstructure:"secret"`
	RateLimits RateLimitConfig `mapstructure:"rate_limits"`
}

// RateLimitConfig tunes the per-category token buckets the REST client
// waits on before each request (internal/exchange.RateLimiter). Every venue
// publishes its own per-10-second limits, so these are config, not
// constants; a zero BucketConfig leaves that category unthrottled.
type RateLimitConfig struct {
	Order  BucketConfig `mapstructure:"order"`
	Cancel BucketConfig `mapstructure:"cancel"`
	Read   BucketConfig `mapstructure:"read"`
}

// BucketConfig is one token bucket's burst capacity and steady-state
// refill rate.
type BucketConfig struct {
	Burst         float64 `mapstructure:"burst"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
}

// QuotingConfig tunes the quoting state machine.
//
//   - SpreadBps: half-spread applied to mark price for both quotes.
//   - DriftThreshold: bps the mark may drift from a resting order's
//     reference price before the pair is considered stale and eligible
//     for rebalancing.
//   - UseMidDrift: also gate rebalancing on book-mid drift, not just mark.
//   - MarkMidDiffLimit: bps mark may diverge from book mid before quoting
//     pauses (0 disables the check).
//   - MidUnstableCooldown: how long quoting stays paused after a
//     mark/mid divergence trips.
//   - MinWaitSec: minimum dwell time for a resting pair before a drift
//     rebalance may cancel it (the not-maker cancel ignores it).
//   - RefreshInterval: control loop tick period.
//   - CancelAfterDelay: pause after a rebalance cancel before the tick
//     returns.
//   - SizeUnit: quantization unit for order size.
//   - Leverage: account leverage used to size orders off collateral.
//   - MaxSize: hard cap on order size regardless of collateral.
type QuotingConfig struct {
	SpreadBps            decimal.Decimal `mapstructure:"spread_bps"`
	DriftThreshold       decimal.Decimal `mapstructure:"drift_threshold"`
	UseMidDrift          bool            `mapstructure:"use_mid_drift"`
	MarkMidDiffLimit     decimal.Decimal `mapstructure:"mark_mid_diff_limit"`
	MidUnstableCooldown  time.Duration   `mapstructure:"mid_unstable_cooldown"`
	MinWaitSec           time.Duration   `mapstructure:"min_wait_sec"`
	RefreshInterval      time.Duration   `mapstructure:"refresh_interval"`
	CancelAfterDelay     time.Duration   `mapstructure:"cancel_after_delay"`
	SizeUnit             decimal.Decimal `mapstructure:"size_unit"`
	Leverage             decimal.Decimal `mapstructure:"leverage"`
	MaxSize              decimal.Decimal `mapstructure:"max_size"`
}

// CloseConfig tunes the unwind engine.
type CloseConfig struct {
	AutoClosePosition bool              `mapstructure:"auto_close_position"`
	Method            types.CloseMethod `mapstructure:"close_method"`
	AggressiveBps     decimal.Decimal   `mapstructure:"close_aggressive_bps"`
	WaitSec           time.Duration     `mapstructure:"close_wait_sec"`
	MinSizeMarket     decimal.Decimal   `mapstructure:"close_min_size_market"`
	MaxIterations     int               `mapstructure:"close_max_iterations"`
}

// StoreConfig sets where the position log and status snapshot are written.
type StoreConfig struct {
	DataDir          string        `mapstructure:"data_dir"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	SnapshotFile     string        `mapstructure:"snapshot_file"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: MM_API_KEY, MM_API_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("MM_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("MM_API_SECRET"); secret != "" {
		cfg.Exchange.Secret = secret
	}
	if mode := os.Getenv("MM_MODE"); mode != "" {
		cfg.Mode = types.Mode(mode)
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	switch c.Mode {
	case types.ModeTest, types.ModeLive:
	default:
		return fmt.Errorf("mode must be TEST or LIVE, got %q", c.Mode)
	}
	if c.Coin == "" {
		return fmt.Errorf("coin is required")
	}
	if c.Exchange.BaseURL == "" {
		return fmt.Errorf("exchange.base_url is required")
	}
	if c.Mode == types.ModeLive && !c.Exchange.credentialsPresent() {
		return fmt.Errorf("exchange.api_key and exchange.secret are required in LIVE mode")
	}
	if c.Quoting.SpreadBps.Sign() <= 0 {
		return fmt.Errorf("quoting.spread_bps must be > 0")
	}
	if c.Quoting.SizeUnit.Sign() <= 0 {
		return fmt.Errorf("quoting.size_unit must be > 0")
	}
	if c.Quoting.Leverage.Sign() <= 0 {
		return fmt.Errorf("quoting.leverage must be > 0")
	}
	if c.MaxConsecutiveErrors <= 0 {
		return fmt.Errorf("max_consecutive_errors must be > 0")
	}
	if c.MaxHistory <= 0 {
		return fmt.Errorf("max_history must be > 0")
	}
	switch c.Close.Method {
	case types.CloseMarket, types.CloseAggressive, types.CloseChase:
	default:
		return fmt.Errorf("close.close_method must be one of market, aggressive, chase, got %q", c.Close.Method)
	}
	if c.Close.MaxIterations <= 0 {
		return fmt.Errorf("close.close_max_iterations must be > 0")
	}
	return nil
}

func (e ExchangeConfig) credentialsPresent() bool {
	return e.APIKey != "" && e.Secret != ""
}
