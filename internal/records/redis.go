package records

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// casScript swaps the stored record only while its status matches the
// expected one. Returns 1 on success, 0 when missing or stale.
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then return 0 end
local rec = cjson.decode(cur)
if rec['status'] ~= ARGV[1] then return 0 end
if ARGV[3] == '0' then
  redis.call('SET', KEYS[1], ARGV[2], 'KEEPTTL')
else
  redis.call('SET', KEYS[1], ARGV[2], 'EX', ARGV[3])
end
return 1
`)

// Redis stores records as JSON values keyed <prefix>:<invocation>:<asset>.
// Create relies on SET NX; Update runs a small Lua script so the
// status check and the write are a single atomic step.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis wraps an existing client. A zero ttl keeps records forever;
// retention is otherwise delegated to the key expiry.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "autobuy"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) key(invocationID, asset string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, invocationID, asset)
}

// Get returns the record for (invocationID, asset), or nil when absent.
func (r *Redis) Get(ctx context.Context, invocationID, asset string) (*Record, error) {
	raw, err := r.client.Get(ctx, r.key(invocationID, asset)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", ErrUnavailable, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	return &rec, nil
}

// Create writes rec only when its key is absent.
func (r *Redis) Create(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("records: encode: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.key(rec.InvocationID, rec.Asset), raw, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: setnx: %v", ErrUnavailable, err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

// Update replaces the stored record while its status still equals from.
func (r *Redis) Update(ctx context.Context, rec Record, from Status) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("records: encode: %w", err)
	}
	ttlSecs := int64(r.ttl / time.Second)
	res, err := casScript.Run(ctx, r.client,
		[]string{r.key(rec.InvocationID, rec.Asset)},
		string(from), raw, ttlSecs,
	).Int()
	if err != nil {
		return fmt.Errorf("%w: cas: %v", ErrUnavailable, err)
	}
	if res != 1 {
		return ErrStale
	}
	return nil
}
