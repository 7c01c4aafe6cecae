// Package plan models the recurring purchase plan: which assets to buy,
// how the gross spend is split between them, and the per-symbol order
// constraints the exchange enforces.
package plan

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// Line describes one asset in the plan along with the exchange metadata
// needed to size an order for it.
type Line struct {
	Asset          string          // ledger asset code, e.g. BTC
	Symbol         string          // exchange trading pair, e.g. btcgusd
	Percent        decimal.Decimal // share of Total allocated to this asset, 0-100
	TickSize       int32           // base currency precision in decimal places
	MinQuantity    decimal.Decimal // exchange minimum order size in base units
	SlippageFactor decimal.Decimal // ask multiplier for maker pricing, e.g. 0.999
	PriceIncrement int32           // quote currency precision in decimal places
}

// Plan is the immutable per-invocation purchase plan. Total is the gross
// quote-currency spend per run, fees included.
type Plan struct {
	Currency string
	Total    decimal.Decimal
	Lines    []Line
}

// Validate checks structural soundness: positive total, unique assets,
// percents summing to exactly 100, and sane per-line constraints.
func (p Plan) Validate() error {
	if strings.TrimSpace(p.Currency) == "" {
		return fmt.Errorf("plan: currency required")
	}
	if !p.Total.IsPositive() {
		return fmt.Errorf("plan: total must be positive, got %s", p.Total)
	}
	if len(p.Lines) == 0 {
		return fmt.Errorf("plan: at least one asset required")
	}

	seen := make(map[string]struct{}, len(p.Lines))
	sum := decimal.Zero
	for i, line := range p.Lines {
		if strings.TrimSpace(line.Asset) == "" {
			return fmt.Errorf("plan: line %d missing asset", i)
		}
		if strings.TrimSpace(line.Symbol) == "" {
			return fmt.Errorf("plan: %s missing symbol", line.Asset)
		}
		if _, dup := seen[line.Asset]; dup {
			return fmt.Errorf("plan: duplicate asset %s", line.Asset)
		}
		seen[line.Asset] = struct{}{}
		if !line.Percent.IsPositive() {
			return fmt.Errorf("plan: %s percent must be positive", line.Asset)
		}
		if line.SlippageFactor.IsPositive() && line.SlippageFactor.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("plan: %s slippage factor must be <= 1", line.Asset)
		}
		if !line.SlippageFactor.IsPositive() {
			return fmt.Errorf("plan: %s slippage factor must be positive", line.Asset)
		}
		if line.MinQuantity.IsNegative() {
			return fmt.Errorf("plan: %s min quantity must not be negative", line.Asset)
		}
		if line.TickSize < 0 || line.PriceIncrement < 0 {
			return fmt.Errorf("plan: %s precision must not be negative", line.Asset)
		}
		sum = sum.Add(line.Percent)
	}
	if !sum.Equal(oneHundred) {
		return fmt.Errorf("plan: percents must sum to 100, got %s", sum)
	}
	return nil
}

// Allocations splits Total into per-asset gross caps. Every line except
// the last is rounded half-up to the plan currency precision; the last
// line takes the exact remainder so the caps always sum to Total.
func (p Plan) Allocations() map[string]decimal.Decimal {
	caps := make(map[string]decimal.Decimal, len(p.Lines))
	remaining := p.Total
	for i, line := range p.Lines {
		if i == len(p.Lines)-1 {
			caps[line.Asset] = remaining
			break
		}
		gross := p.Total.Mul(line.Percent).Div(oneHundred).Round(2)
		caps[line.Asset] = gross
		remaining = remaining.Sub(gross)
	}
	return caps
}
