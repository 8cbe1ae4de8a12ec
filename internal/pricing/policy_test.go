package pricing

import (
	"testing"

	"github.com/gustavoferreira/dropmart-backend/pkg/config"
	"github.com/shopspring/decimal"
)

func defaultConfig() config.MarginConfig {
	return config.MarginConfig{
		Minimum:        "0.40",
		RelaxedMinimum: "0.10",
		FeeRate:        "0.05",
	}
}

func mustPolicy(t *testing.T, cfg config.MarginConfig) *Policy {
	t.Helper()
	policy, err := NewPolicy(cfg)
	if err != nil {
		t.Fatalf("build policy: %v", err)
	}
	return policy
}

func TestEvaluateSaleGate(t *testing.T) {
	t.Parallel()

	policy := mustPolicy(t, defaultConfig())

	tests := []struct {
		name    string
		price   string
		cost    string
		allowed bool
		margin  string
	}{
		{name: "forty five percent passes", price: "100", cost: "50", allowed: true, margin: "0.45"},
		{name: "thirty percent fails", price: "100", cost: "65", allowed: false, margin: "0.3"},
		{name: "exactly at threshold passes", price: "100", cost: "55", allowed: true, margin: "0.4"},
		{name: "zero cost always passes", price: "10", cost: "0", allowed: true, margin: "0.95"},
		{name: "negative cost always passes", price: "10", cost: "-2", allowed: true, margin: "1.15"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ev := policy.EvaluateSale(decimal.RequireFromString(tc.price), decimal.RequireFromString(tc.cost))
			if ev.Allowed != tc.allowed {
				t.Fatalf("allowed = %v, want %v (margin %s)", ev.Allowed, tc.allowed, ev.MarginPct)
			}
			if !ev.MarginPct.Equal(decimal.RequireFromString(tc.margin)) {
				t.Fatalf("margin = %s, want %s", ev.MarginPct, tc.margin)
			}
		})
	}
}

func TestEvaluateSaleProfit(t *testing.T) {
	t.Parallel()

	policy := mustPolicy(t, defaultConfig())
	ev := policy.EvaluateSale(decimal.RequireFromString("100"), decimal.RequireFromString("50"))
	if !ev.Profit.Equal(decimal.RequireFromString("45")) {
		t.Fatalf("profit = %s, want 45", ev.Profit)
	}
}

func TestEvaluateSaleZeroPriceWithCost(t *testing.T) {
	t.Parallel()

	policy := mustPolicy(t, defaultConfig())
	ev := policy.EvaluateSale(decimal.Zero, decimal.RequireFromString("10"))
	if ev.Allowed {
		t.Fatal("zero price with positive cost must not pass")
	}
}

func TestZeroProcessingCostProfile(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.ZeroProcessingCost = true
	policy := mustPolicy(t, cfg)

	// 30% margin fails the default gate but clears the relaxed one.
	ev := policy.EvaluateSale(decimal.RequireFromString("100"), decimal.RequireFromString("70"))
	if !ev.Allowed {
		t.Fatalf("expected relaxed gate to pass, margin %s", ev.MarginPct)
	}
	if !policy.FeeRate().IsZero() {
		t.Fatalf("expected zero fee rate, got %s", policy.FeeRate())
	}
}

func TestMinimumViablePrice(t *testing.T) {
	t.Parallel()

	policy := mustPolicy(t, defaultConfig())

	tests := []struct {
		name string
		cost string
		want string
	}{
		// cost/0.55 = 90.909..., next .90 boundary is 91.90
		{name: "rounds up past boundary", cost: "50", want: "91.90"},
		// cost/0.55 = 20, the same unit's .90 still clears
		{name: "lands under boundary", cost: "11", want: "20.90"},
		{name: "zero cost", cost: "0", want: "0"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := policy.MinimumViablePrice(decimal.RequireFromString(tc.cost))
			if !got.Equal(decimal.RequireFromString(tc.want)) {
				t.Fatalf("minimum viable price = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestMinimumViablePriceClearsGate(t *testing.T) {
	t.Parallel()

	policy := mustPolicy(t, defaultConfig())
	cost := decimal.RequireFromString("37.25")
	price := policy.MinimumViablePrice(cost)
	if ev := policy.EvaluateSale(price, cost); !ev.Allowed {
		t.Fatalf("price %s from cost %s fails its own gate (margin %s)", price, cost, ev.MarginPct)
	}
}

func TestNewPolicyRejectsImpossibleThresholds(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.Minimum = "0.96"
	if _, err := NewPolicy(cfg); err == nil {
		t.Fatal("expected error when margin plus fees reach 100%")
	}
}

func TestNewPolicyRejectsBadNumbers(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.FeeRate = "five percent"
	if _, err := NewPolicy(cfg); err == nil {
		t.Fatal("expected parse error")
	}
}
