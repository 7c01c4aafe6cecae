// Package risk holds the guard-rails applied before any order is placed.
package risk

import "github.com/shopspring/decimal"

// Limits caps how much quote currency one invocation may spend. A zero
// cap disables the check.
type Limits struct {
	MaxNotionalPerRun decimal.Decimal
}

// Allow reports whether the invocation's gross spend fits the cap.
func (l Limits) Allow(total decimal.Decimal) bool {
	if l.MaxNotionalPerRun.IsZero() {
		return true
	}
	return total.LessThanOrEqual(l.MaxNotionalPerRun)
}
