package dashboard

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestRenderIncludesCoreFields(t *testing.T) {
	s := Snapshot{
		Coin:                "BTC-PERP",
		Mode:                "LIVE",
		Mark:                decimal.NewFromInt(100000),
		Mid:                 decimal.NewFromInt(100001),
		State:               "MONITORING",
		BuyPrice:            decimal.NewFromInt(99990),
		SellPrice:           decimal.NewFromInt(100010),
		Size:                decimal.NewFromFloat(0.01),
		PositionSide:        "long",
		PositionSize:        decimal.NewFromFloat(0.01),
		EntryPrice:          decimal.NewFromInt(99995),
		UnrealizedPnL:       decimal.NewFromInt(5),
		Collateral:          decimal.NewFromInt(1000),
		AvailableCollateral: decimal.NewFromInt(900),
		Placed:              4,
		Cancelled:           2,
		Rebalanced:          1,
		ConsecutiveErrors:   0,
		UpdatedAt:           time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	out := Render(s)

	for _, want := range []string{"BTC-PERP", "LIVE", "MONITORING", "100000", "long"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered panel missing %q:\n%s", want, out)
		}
	}
}

func TestRenderOmitsUnwindSummaryWhenEmpty(t *testing.T) {
	out := Render(Snapshot{Coin: "BTC-PERP", UpdatedAt: time.Now()})
	if strings.Contains(out, "last unwind") {
		t.Error("expected no unwind row when summary is empty")
	}
}

func TestRenderShowsConsecutiveErrorsWhenNonzero(t *testing.T) {
	out := Render(Snapshot{Coin: "BTC-PERP", ConsecutiveErrors: 3, UpdatedAt: time.Now()})
	if !strings.Contains(out, "consecutive errors") {
		t.Error("expected consecutive errors row")
	}
}
