package pricing

import (
	"fmt"

	"github.com/gustavoferreira/dropmart-backend/pkg/config"
	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	point90 = decimal.RequireFromString("0.90")
)

// Evaluation is the outcome of a margin check for a single sale price.
type Evaluation struct {
	Allowed   bool
	Profit    decimal.Decimal
	MarginPct decimal.Decimal
}

// Policy gates sale prices on the margin left after payment processor fees.
type Policy struct {
	minimum decimal.Decimal
	feeRate decimal.Decimal
}

// NewPolicy parses the configured thresholds. Under the zero-processing-cost
// profile the relaxed minimum applies and the fee rate is zeroed.
func NewPolicy(cfg config.MarginConfig) (*Policy, error) {
	minimum, err := decimal.NewFromString(cfg.Minimum)
	if err != nil {
		return nil, fmt.Errorf("parse minimum margin %q: %w", cfg.Minimum, err)
	}
	feeRate, err := decimal.NewFromString(cfg.FeeRate)
	if err != nil {
		return nil, fmt.Errorf("parse fee rate %q: %w", cfg.FeeRate, err)
	}
	if cfg.ZeroProcessingCost {
		relaxed, err := decimal.NewFromString(cfg.RelaxedMinimum)
		if err != nil {
			return nil, fmt.Errorf("parse relaxed margin %q: %w", cfg.RelaxedMinimum, err)
		}
		minimum = relaxed
		feeRate = decimal.Zero
	}
	if minimum.Add(feeRate).GreaterThanOrEqual(one) {
		return nil, fmt.Errorf("margin %s plus fee rate %s leave no viable price", minimum, feeRate)
	}
	return &Policy{minimum: minimum, feeRate: feeRate}, nil
}

// MinimumMargin reports the active margin threshold.
func (p *Policy) MinimumMargin() decimal.Decimal {
	return p.minimum
}

// FeeRate reports the active payment processor fee rate.
func (p *Policy) FeeRate() decimal.Decimal {
	return p.feeRate
}

// EvaluateSale computes profit and margin for selling at price with the given
// unit cost. Products with cost at or below zero always pass the gate.
func (p *Policy) EvaluateSale(price, cost decimal.Decimal) Evaluation {
	profit := price.Sub(cost).Sub(price.Mul(p.feeRate))
	ev := Evaluation{Profit: profit}

	if price.IsPositive() {
		ev.MarginPct = profit.Div(price)
	}
	if cost.LessThanOrEqual(decimal.Zero) {
		ev.Allowed = true
		return ev
	}
	if !price.IsPositive() {
		return ev
	}
	ev.Allowed = ev.MarginPct.GreaterThanOrEqual(p.minimum)
	return ev
}

// MinimumViablePrice returns the lowest price that clears the gate for the
// given cost, rounded up to the next x.90 boundary.
func (p *Policy) MinimumViablePrice(cost decimal.Decimal) decimal.Decimal {
	if cost.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	raw := cost.Div(one.Sub(p.minimum).Sub(p.feeRate))
	candidate := raw.Floor().Add(point90)
	if candidate.GreaterThanOrEqual(raw) {
		return candidate
	}
	return candidate.Add(one)
}
