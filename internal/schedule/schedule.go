// Package schedule derives deterministic invocation identifiers from the
// purchase cron schedule. Duplicate deliveries inside one tick window map
// to the same id, which is what the idempotency checks key on.
package schedule

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
)

const idTimeLayout = "20060102T150405Z"

// Validate reports whether expr is a parseable cron expression.
func Validate(expr string) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("schedule: invalid cron expression %q", expr)
	}
	return nil
}

// TickFor returns the schedule tick at or before ref, in UTC. Any delivery
// that lands between two ticks resolves to the earlier one.
func TickFor(expr string, ref time.Time) (time.Time, error) {
	tick, err := gronx.PrevTickBefore(expr, ref, true)
	if err != nil {
		return time.Time{}, fmt.Errorf("schedule: resolve tick: %w", err)
	}
	return tick.UTC(), nil
}

// InvocationID derives the idempotency id for the tick covering ref.
// Same tick, same id.
func InvocationID(expr string, ref time.Time) (string, error) {
	tick, err := TickFor(expr, ref)
	if err != nil {
		return "", err
	}
	return IDForTick(tick), nil
}

// IDForTick formats the id for an already-resolved tick. Used directly
// when no cron expression is configured and the trigger timestamp itself
// is the tick.
func IDForTick(tick time.Time) string {
	return "buy-" + tick.UTC().Format(idTimeLayout)
}

// ManualInvocationID returns a unique id for operator-initiated one-off
// runs, which deliberately opt out of tick-based deduplication.
func ManualInvocationID() string {
	return "manual-" + uuid.NewString()
}
