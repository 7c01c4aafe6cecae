package risk

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestAllowWithinCap(t *testing.T) {
	limits := Limits{MaxNotionalPerRun: decimal.NewFromInt(100)}
	if !limits.Allow(decimal.NewFromInt(85)) {
		t.Fatalf("expected spend within cap to be allowed")
	}
	if !limits.Allow(decimal.NewFromInt(100)) {
		t.Fatalf("expected spend equal to cap to be allowed")
	}
}

func TestAllowRejectsOverCap(t *testing.T) {
	limits := Limits{MaxNotionalPerRun: decimal.NewFromInt(100)}
	if limits.Allow(decimal.RequireFromString("100.01")) {
		t.Fatalf("expected spend over cap to be rejected")
	}
}

func TestZeroCapDisablesCheck(t *testing.T) {
	var limits Limits
	if !limits.Allow(decimal.NewFromInt(1_000_000)) {
		t.Fatalf("expected zero cap to allow any spend")
	}
}
