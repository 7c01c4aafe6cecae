// Package records tracks per-(invocation, asset) submission state in a
// durable store. The at-most-one-order guarantee rests entirely on this
// package's create-if-absent and compare-and-set semantics.
package records

import "time"

// Status is the lifecycle state of one asset within one invocation.
type Status string

const (
	// StatusPending is written before the order is handed to the exchange.
	StatusPending Status = "PENDING"
	// StatusSubmitted means the exchange accepted the order.
	StatusSubmitted Status = "SUBMITTED"
	// StatusConfirmed means the order was observed filled.
	StatusConfirmed Status = "CONFIRMED"
	// StatusFailed means the exchange rejected the order or was unreachable.
	StatusFailed Status = "FAILED"
	// StatusSkipped means the sized order fell below the exchange minimum.
	StatusSkipped Status = "SKIPPED"
)

// Placed reports whether an order reached the exchange under this status.
// Placed records must never be resubmitted.
func (s Status) Placed() bool {
	return s == StatusSubmitted || s == StatusConfirmed
}

// Record is the audit and idempotency entry for one (invocation, asset)
// pair. Error holds a sanitized message only; credentials never appear here.
type Record struct {
	InvocationID  string    `json:"invocation_id" dynamodbav:"invocation_id"`
	Asset         string    `json:"asset" dynamodbav:"asset"`
	Status        Status    `json:"status" dynamodbav:"status"`
	OrderID       string    `json:"order_id,omitempty" dynamodbav:"order_id,omitempty"`
	ClientOrderID string    `json:"client_order_id,omitempty" dynamodbav:"client_order_id,omitempty"`
	QuoteAmount   string    `json:"quote_amount,omitempty" dynamodbav:"quote_amount,omitempty"`
	AttemptedAt   time.Time `json:"attempted_at" dynamodbav:"attempted_at"`
	UpdatedAt     time.Time `json:"updated_at" dynamodbav:"updated_at"`
	Error         string    `json:"error,omitempty" dynamodbav:"error,omitempty"`
	Reason        string    `json:"reason,omitempty" dynamodbav:"reason,omitempty"`
}
