package records

import (
	"context"
	"sync"
	"time"
)

// Memory is a mutex-guarded in-process store. It backs tests and local
// runs; durable deployments use the Redis or DynamoDB backends.
type Memory struct {
	mu   sync.Mutex
	recs map[string]Record
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{recs: make(map[string]Record)}
}

func key(invocationID, asset string) string {
	return invocationID + ":" + asset
}

// Get returns a copy of the stored record, or nil when absent.
func (m *Memory) Get(_ context.Context, invocationID, asset string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[key(invocationID, asset)]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

// Create stores rec if its key is absent.
func (m *Memory) Create(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(rec.InvocationID, rec.Asset)
	if _, ok := m.recs[k]; ok {
		return ErrExists
	}
	m.recs[k] = rec
	return nil
}

// Update replaces the stored record while its status still equals from.
func (m *Memory) Update(_ context.Context, rec Record, from Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(rec.InvocationID, rec.Asset)
	cur, ok := m.recs[k]
	if !ok || cur.Status != from {
		return ErrStale
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	m.recs[k] = rec
	return nil
}
