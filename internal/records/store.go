package records

import (
	"context"
	"errors"
)

var (
	// ErrExists is returned by Create when a record for the key already exists.
	ErrExists = errors.New("records: record already exists")
	// ErrStale is returned by Update when the stored status no longer matches
	// the expected one, meaning another writer got there first.
	ErrStale = errors.New("records: stale status")
	// ErrUnavailable wraps backend connectivity failures. Callers treat it as
	// fatal for the whole invocation.
	ErrUnavailable = errors.New("records: store unavailable")
)

// Backend names accepted by configuration.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendDynamo = "dynamodb"
)

// Store persists invocation records with the conditional-write semantics
// the orchestrator's idempotency checks require.
type Store interface {
	// Get returns the record for (invocationID, asset), or nil when absent.
	Get(ctx context.Context, invocationID, asset string) (*Record, error)
	// Create writes rec only if no record exists for its key.
	Create(ctx context.Context, rec Record) error
	// Update replaces the stored record only while its status equals from.
	Update(ctx context.Context, rec Record, from Status) error
}
