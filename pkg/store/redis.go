package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warden-labs/warden/pkg/escalation"
	"github.com/warden-labs/warden/pkg/workflow"
)

var (
	_ workflow.ReservationStore = (*RedisReservations)(nil)
	_ escalation.AtomicWindow   = (*RedisEscalationWindow)(nil)
)

// RedisReservations is the insert-once, TTL-bounded replay guard.
// SET NX gives the insert-once semantics atomically on the server.
type RedisReservations struct {
	client *redis.Client
}

// NewRedisReservations builds a reservation store on a Redis client.
func NewRedisReservations(client *redis.Client) *RedisReservations {
	return &RedisReservations{client: client}
}

// Reserve implements workflow.ReservationStore.
func (r *RedisReservations) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, "warden:reservation:"+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("store: reservation setnx: %w", err)
	}
	return ok, nil
}

// escalationWindowScript prunes, checks, and registers in one atomic
// step, closing the read-prune-append race of the store-backed path.
// KEYS[1] = window key (sorted set of escalation timestamps)
// ARGV[1] = now (unix milliseconds)
// ARGV[2] = window span (milliseconds)
// ARGV[3] = limit
var escalationWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local span = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - span)
local count = redis.call("ZCARD", key)
if count >= limit then
    return 0
end
redis.call("ZADD", key, now, tostring(now) .. "-" .. tostring(count))
redis.call("PEXPIRE", key, span)
return 1
`)

// RedisEscalationWindow is the atomic escalation window primitive.
type RedisEscalationWindow struct {
	client *redis.Client
}

// NewRedisEscalationWindow builds the window on a Redis client.
func NewRedisEscalationWindow(client *redis.Client) *RedisEscalationWindow {
	return &RedisEscalationWindow{client: client}
}

// Register implements escalation.AtomicWindow.
func (r *RedisEscalationWindow) Register(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error) {
	res, err := escalationWindowScript.Run(ctx, r.client,
		[]string{"warden:escwindow:" + key},
		now.UnixMilli(), window.Milliseconds(), limit,
	).Result()
	if err != nil {
		return false, fmt.Errorf("store: escalation window script: %w", err)
	}
	allowed, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("store: unexpected script result %T", res)
	}
	return allowed == 1, nil
}
