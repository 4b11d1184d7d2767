// Package dedup suppresses provider webhook redeliveries.
//
// Providers retry webhook batches on timeout and redeliver on their own
// schedule, so the same event routinely arrives more than once. A Redis
// SET NX with a sliding TTL records each event key the first time it is
// seen; later arrivals inside the window are dropped before they reach
// the queue.
//
// The gate fails open: when Redis is unreachable the event is treated as
// first-seen and admitted. Downstream writes are idempotent enough that
// an occasional duplicate is cheaper than dropping real events during a
// Redis outage. The TTL bound also means a redelivery arriving after the
// window expires is admitted again; callers needing exactly-once must
// enforce it at the storage layer.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/propel-crm/email-events/internal/domain"
	"github.com/propel-crm/email-events/internal/pkg/logger"
)

// DefaultWindow is how long an event key blocks redeliveries.
const DefaultWindow = 24 * time.Hour

// Gate answers whether an event has been seen inside the window.
type Gate interface {
	// FirstSeen returns true if the event has not been recorded inside
	// the window, atomically recording it. Returns false for
	// duplicates.
	FirstSeen(ctx context.Context, evt domain.NormalizedEvent) (bool, error)

	// Forget releases an event's record so a redelivery passes the
	// gate again. Callers use it when admission succeeded but the
	// event could not be queued; without it the redelivery would be
	// dropped as a duplicate for the rest of the window.
	Forget(ctx context.Context, evt domain.NormalizedEvent) error
}

// RedisGate implements Gate on a shared Redis.
type RedisGate struct {
	client *redis.Client
	window time.Duration
	log    *logger.Logger
}

// NewRedisGate creates a gate with the given window. A zero window means
// DefaultWindow.
func NewRedisGate(client *redis.Client, window time.Duration, log *logger.Logger) *RedisGate {
	if window <= 0 {
		window = DefaultWindow
	}
	if log == nil {
		log = logger.Component("dedup")
	}
	return &RedisGate{client: client, window: window, log: log}
}

// Key derives the Redis key for an event. The identity fields are hashed
// so recipient addresses never land in Redis keyspace dumps.
func Key(evt domain.NormalizedEvent) string {
	sum := sha256.Sum256([]byte(evt.EventKey()))
	return fmt.Sprintf("dedup:%s:%s", evt.Provider, hex.EncodeToString(sum[:]))
}

// FirstSeen records the event key with SET NX. The TTL refreshes only on
// first write; redeliveries do not extend the window.
func (g *RedisGate) FirstSeen(ctx context.Context, evt domain.NormalizedEvent) (bool, error) {
	key := Key(evt)
	ok, err := g.client.SetNX(ctx, key, 1, g.window).Result()
	if err != nil {
		// Fail open. Admitting a possible duplicate beats losing the
		// event while Redis is down.
		g.log.Warn("dedup check failed, admitting event",
			"provider", string(evt.Provider),
			"error", err.Error(),
		)
		return true, err
	}
	return ok, nil
}

// Forget deletes the event's record. Best effort: a failed delete means
// the redelivery waits out the TTL, which is logged but not fatal.
func (g *RedisGate) Forget(ctx context.Context, evt domain.NormalizedEvent) error {
	if err := g.client.Del(ctx, Key(evt)).Err(); err != nil {
		g.log.Warn("dedup release failed",
			"provider", string(evt.Provider),
			"error", err.Error(),
		)
		return err
	}
	return nil
}
