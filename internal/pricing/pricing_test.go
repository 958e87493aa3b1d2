package pricing

import (
	"testing"

	"github.com/shopspring/decimal"

	"standxmm/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestQuotePrices(t *testing.T) {
	buy, sell := QuotePrices(d("100"), d("10"))
	if !buy.Equal(d("99.9")) {
		t.Errorf("buy = %s, want 99.9", buy)
	}
	if !sell.Equal(d("100.1")) {
		t.Errorf("sell = %s, want 100.1", sell)
	}
}

func TestDriftBps(t *testing.T) {
	cases := []struct {
		name         string
		current, ref string
		want         string
	}{
		{"no drift", "100", "100", "0"},
		{"zero ref", "100", "0", "0"},
		{"up 1pct", "101", "100", "100"},
		{"down 1pct still positive", "99", "100", "100"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DriftBps(d(tc.current), d(tc.ref))
			if !got.Equal(d(tc.want)) {
				t.Errorf("DriftBps(%s, %s) = %s, want %s", tc.current, tc.ref, got, tc.want)
			}
		})
	}
}

func TestBookSpreadBps(t *testing.T) {
	got := BookSpreadBps(d("99"), d("101"))
	if !got.Equal(d("200")) {
		t.Errorf("BookSpreadBps = %s, want 200", got)
	}
	if !BookSpreadBps(decimal.Zero, d("101")).IsZero() {
		t.Error("expected zero spread for zero bid")
	}
}

func TestWeightedMid(t *testing.T) {
	b := types.OrderBookSnapshot{
		BestBidPrice: d("99"), BestBidSize: d("1"),
		BestAskPrice: d("101"), BestAskSize: d("1"),
	}
	got := WeightedMid(b)
	if !got.Equal(d("100")) {
		t.Errorf("WeightedMid = %s, want 100", got)
	}

	skewed := types.OrderBookSnapshot{
		BestBidPrice: d("99"), BestBidSize: d("3"),
		BestAskPrice: d("101"), BestAskSize: d("1"),
	}
	got = WeightedMid(skewed)
	if !got.Equal(d("99.5")) {
		t.Errorf("WeightedMid skewed = %s, want 99.5", got)
	}

	empty := types.OrderBookSnapshot{BestBidPrice: d("99"), BestAskPrice: d("101")}
	got = WeightedMid(empty)
	if !got.Equal(d("100")) {
		t.Errorf("WeightedMid empty-size = %s, want 100 (arithmetic mid fallback)", got)
	}
}

func TestMakerClassification(t *testing.T) {
	buyMaker, sellMaker := MakerClassification(d("99"), d("101"), d("99.5"), d("100.5"))
	if !buyMaker || !sellMaker {
		t.Fatalf("expected both maker, got buy=%v sell=%v", buyMaker, sellMaker)
	}

	buyMaker, sellMaker = MakerClassification(d("101"), d("99"), d("99.5"), d("100.5"))
	if buyMaker || sellMaker {
		t.Fatalf("expected both taker, got buy=%v sell=%v", buyMaker, sellMaker)
	}
}

func TestQuantizeSize(t *testing.T) {
	got := QuantizeSize(d("1000"), d("50000"), d("6"), d("0.0001"), nil)
	if got.Sign() <= 0 {
		t.Fatalf("expected positive size, got %s", got)
	}
	// (1000*6)/2/50000 = 0.06, already a multiple of 0.0001
	if !got.Equal(d("0.06")) {
		t.Errorf("got %s, want 0.06", got)
	}

	max := d("0.05")
	capped := QuantizeSize(d("1000"), d("50000"), d("6"), d("0.0001"), &max)
	if !capped.Equal(d("0.05")) {
		t.Errorf("capped = %s, want 0.05", capped)
	}

	if !QuantizeSize(decimal.Zero, d("50000"), d("6"), d("0.0001"), nil).IsZero() {
		t.Error("expected zero size for zero available collateral")
	}
}
