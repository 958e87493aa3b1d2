package config

import (
	"testing"

	"github.com/shopspring/decimal"

	"standxmm/pkg/types"
)

func validConfig() Config {
	return Config{
		Mode:                 types.ModeTest,
		Coin:                 "BTC-PERP",
		Exchange:             ExchangeConfig{BaseURL: "https://example.test"},
		MaxConsecutiveErrors: 10,
		MaxHistory:           500,
		Quoting: QuotingConfig{
			SpreadBps: decimal.NewFromInt(8),
			SizeUnit:  decimal.NewFromFloat(0.0001),
			Leverage:  decimal.NewFromInt(6),
		},
		Close: CloseConfig{
			Method:        types.CloseMarket,
			MaxIterations: 20,
		},
	}
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "BOGUS"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid mode")
	}
}

func TestValidateRequiresCredentialsInLiveMode(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = types.ModeLive
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing live credentials")
	}

	cfg.Exchange.APIKey = "k"
	cfg.Exchange.Secret = "s"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error with credentials present: %v", err)
	}
}

func TestValidateRejectsNonPositiveSpread(t *testing.T) {
	cfg := validConfig()
	cfg.Quoting.SpreadBps = decimal.Zero
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero spread_bps")
	}
}

func TestValidateRejectsUnknownCloseMethod(t *testing.T) {
	cfg := validConfig()
	cfg.Close.Method = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown close method")
	}
}
