package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/safeguard/internal/model"
)

// DefaultRedisPrefix namespaces ledger keys.
const DefaultRedisPrefix = "safeguard:idem:"

// finalizeScript applies a terminal status only while the record is still
// pending under the caller's claim. Completed records keep the shorter of
// their remaining TTL and the retention window.
var finalizeScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then return 0 end
local rec = cjson.decode(cur)
if rec.status ~= 'pending' or rec.created_at ~= ARGV[1] then return 0 end
rec.status = ARGV[2]
rec.result = ARGV[3]
rec.error = ARGV[4]
rec.completed_at = ARGV[5]
redis.call('SET', KEYS[1], cjson.encode(rec), 'KEEPTTL')
local retention = tonumber(ARGV[6])
if ARGV[2] == 'completed' and retention > 0 then
  local ttl = redis.call('PTTL', KEYS[1])
  if ttl < 0 or ttl > retention then redis.call('PEXPIRE', KEYS[1], retention) end
end
return 1
`)

var deleteExpiredScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then return 0 end
local rec = cjson.decode(cur)
if tonumber(rec.expires_at) <= tonumber(ARGV[1]) then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

// redisRecord is the JSON value stored under a ledger key. Timestamps are
// decimal unix nanoseconds so Lua compares them as exact strings.
type redisRecord struct {
	Operation   string `json:"op"`
	Status      string `json:"status"`
	PayloadHash string `json:"payload_hash"`
	Result      string `json:"result"`
	Error       string `json:"error"`
	CreatedAt   string `json:"created_at"`
	ExpiresAt   string `json:"expires_at"`
	CompletedAt string `json:"completed_at"`
}

// RedisBackend stores records as JSON strings with a native TTL.
//
// Expired keys disappear on their own, so Reap only reports zero; the
// retention window is applied as a shortened TTL at completion.
type RedisBackend struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisBackend creates a backend on client. retention bounds how long a
// completed record stays replayable; zero keeps it until its TTL.
func NewRedisBackend(client redis.UniversalClient, prefix string, retention time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix, retention: retention}
}

func (b *RedisBackend) k(key string) string { return b.prefix + key }

func (b *RedisBackend) Claim(ctx context.Context, rec model.IdempotencyRecord) (bool, error) {
	ttl := rec.ExpiresAt.Sub(rec.CreatedAt)
	if ttl <= 0 {
		return false, fmt.Errorf("redis claim %s: non-positive ttl", rec.Key)
	}
	val, err := json.Marshal(redisRecord{
		Operation:   rec.OperationName,
		Status:      string(model.StatusPending),
		PayloadHash: rec.PayloadHash,
		CreatedAt:   nanos(rec.CreatedAt),
		ExpiresAt:   nanos(rec.ExpiresAt),
	})
	if err != nil {
		return false, fmt.Errorf("redis claim %s: %w", rec.Key, err)
	}
	ok, err := b.client.SetNX(ctx, b.k(rec.Key), val, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim %s: %w", rec.Key, err)
	}
	return ok, nil
}

func (b *RedisBackend) Get(ctx context.Context, key string) (model.IdempotencyRecord, error) {
	raw, err := b.client.Get(ctx, b.k(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.IdempotencyRecord{}, ErrRecordNotFound
	}
	if err != nil {
		return model.IdempotencyRecord{}, fmt.Errorf("redis get %s: %w", key, err)
	}

	var rr redisRecord
	if err := json.Unmarshal(raw, &rr); err != nil {
		return model.IdempotencyRecord{}, fmt.Errorf("redis get %s: decode: %w", key, err)
	}
	rec := model.IdempotencyRecord{
		Key:           key,
		OperationName: rr.Operation,
		Status:        model.Status(rr.Status),
		PayloadHash:   rr.PayloadHash,
		Error:         rr.Error,
	}
	if rr.Result != "" {
		if rec.Result, err = base64.StdEncoding.DecodeString(rr.Result); err != nil {
			return model.IdempotencyRecord{}, fmt.Errorf("redis get %s: result: %w", key, err)
		}
	}
	if rec.CreatedAt, err = parseNanos(rr.CreatedAt); err != nil {
		return model.IdempotencyRecord{}, fmt.Errorf("redis get %s: created_at: %w", key, err)
	}
	if rec.ExpiresAt, err = parseNanos(rr.ExpiresAt); err != nil {
		return model.IdempotencyRecord{}, fmt.Errorf("redis get %s: expires_at: %w", key, err)
	}
	if rr.CompletedAt != "" {
		if rec.CompletedAt, err = parseNanos(rr.CompletedAt); err != nil {
			return model.IdempotencyRecord{}, fmt.Errorf("redis get %s: completed_at: %w", key, err)
		}
	}
	return rec, nil
}

func (b *RedisBackend) Finalize(ctx context.Context, key string, claimedAt time.Time, status model.Status, result []byte, errMsg string, at time.Time) error {
	if !model.StatusPending.CanTransition(status) {
		return fmt.Errorf("redis finalize %s: invalid target status %q", key, status)
	}
	n, err := finalizeScript.Run(ctx, b.client, []string{b.k(key)},
		nanos(claimedAt),
		string(status),
		base64.StdEncoding.EncodeToString(result),
		errMsg,
		nanos(at),
		b.retention.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("redis finalize %s: %w", key, err)
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}

func (b *RedisBackend) DeleteExpired(ctx context.Context, key string, now time.Time) (bool, error) {
	n, err := deleteExpiredScript.Run(ctx, b.client, []string{b.k(key)}, nanos(now)).Int()
	if err != nil {
		return false, fmt.Errorf("redis delete expired %s: %w", key, err)
	}
	return n == 1, nil
}

func (b *RedisBackend) Reap(context.Context, time.Time, time.Duration) (int64, error) {
	return 0, nil
}

func nanos(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

func parseNanos(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}
