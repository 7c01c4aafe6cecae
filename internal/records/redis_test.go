package records

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, "autobuy", ttl), srv
}

func TestRedisCreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t, 0)

	if err := store.Create(ctx, pendingRecord("buy-1", "BTC")); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if err := store.Create(ctx, pendingRecord("buy-1", "BTC")); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists on duplicate create, got %v", err)
	}
	if err := store.Create(ctx, pendingRecord("buy-1", "ETH")); err != nil {
		t.Fatalf("unexpected create error for second asset: %v", err)
	}
}

func TestRedisGetAbsent(t *testing.T) {
	store, _ := newRedisStore(t, 0)
	rec, err := store.Get(context.Background(), "buy-1", "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil for absent record, got %+v", rec)
	}
}

func TestRedisCompareAndSet(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t, 0)
	rec := pendingRecord("buy-1", "BTC")
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	rec.Status = StatusSubmitted
	rec.OrderID = "106817811"
	if err := store.Update(ctx, rec, StatusPending); err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}

	// Second writer expecting Pending must lose.
	stale := pendingRecord("buy-1", "BTC")
	stale.Status = StatusFailed
	if err := store.Update(ctx, stale, StatusPending); !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}

	got, err := store.Get(ctx, "buy-1", "BTC")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if got.Status != StatusSubmitted || got.OrderID != "106817811" {
		t.Fatalf("unexpected record after CAS: %+v", got)
	}
}

func TestRedisUpdateMissing(t *testing.T) {
	store, _ := newRedisStore(t, 0)
	err := store.Update(context.Background(), pendingRecord("buy-1", "BTC"), StatusPending)
	if !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale for missing record, got %v", err)
	}
}

func TestRedisTTLSurvivesUpdate(t *testing.T) {
	ctx := context.Background()
	store, srv := newRedisStore(t, time.Hour)
	rec := pendingRecord("buy-1", "BTC")
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	key := store.key("buy-1", "BTC")
	if srv.TTL(key) <= 0 {
		t.Fatalf("expected a TTL on created record, got %s", srv.TTL(key))
	}

	rec.Status = StatusSubmitted
	if err := store.Update(ctx, rec, StatusPending); err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if srv.TTL(key) <= 0 {
		t.Fatalf("expected TTL retained after update, got %s", srv.TTL(key))
	}
}

func TestRedisUnreachableWrapsUnavailable(t *testing.T) {
	ctx := context.Background()
	store, srv := newRedisStore(t, 0)
	srv.Close()

	if _, err := store.Get(ctx, "buy-1", "BTC"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from get, got %v", err)
	}
	if err := store.Create(ctx, pendingRecord("buy-1", "BTC")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from create, got %v", err)
	}
	if err := store.Update(ctx, pendingRecord("buy-1", "BTC"), StatusPending); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from update, got %v", err)
	}
}
