// Package presence tracks live gateway connections in Redis. Each user has a
// sorted set of connection ids scored by last-seen time; heartbeats bump the
// score and stale members are evicted on read, so a user is online exactly
// while at least one fresh connection exists. Typing indicators use a
// 10-second SET NX key to deduplicate rapid keystrokes.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// typingTTL is the lifetime of a typing indicator key. Clients may re-trigger
// the typing endpoint, but SET NX suppresses duplicate dispatches until the
// key expires.
const typingTTL = 10 * time.Second

// Registry reads and writes gateway connection state in Redis.
type Registry struct {
	rdb   *redis.Client
	env   string
	stale time.Duration
	now   func() time.Time
}

// NewRegistry creates a registry. Keys are prefixed with env so multiple
// deployments can share one Redis. Connections whose last heartbeat is older
// than stale are treated as dead.
func NewRegistry(rdb *redis.Client, env string, stale time.Duration) *Registry {
	return &Registry{rdb: rdb, env: env, stale: stale, now: time.Now}
}

// Register records a new connection for the user and returns the number of
// active connections including the new one.
func (r *Registry) Register(ctx context.Context, userID, connID string) (int64, error) {
	key := r.key(userID)
	now := r.now()

	pipe := r.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", r.staleMax(now))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: connID})
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("register connection %s for %s: %w", connID, userID, err)
	}
	return card.Val(), nil
}

// Touch refreshes the connection's last-seen time. Called on each heartbeat.
func (r *Registry) Touch(ctx context.Context, userID, connID string) error {
	score := float64(r.now().UnixMilli())
	if err := r.rdb.ZAdd(ctx, r.key(userID), redis.Z{Score: score, Member: connID}).Err(); err != nil {
		return fmt.Errorf("touch connection %s for %s: %w", connID, userID, err)
	}
	return nil
}

// Unregister removes a connection and returns the number of connections the
// user still has. A return of zero means the user just went offline.
func (r *Registry) Unregister(ctx context.Context, userID, connID string) (int64, error) {
	key := r.key(userID)

	pipe := r.rdb.TxPipeline()
	pipe.ZRem(ctx, key, connID)
	pipe.ZRemRangeByScore(ctx, key, "-inf", r.staleMax(r.now()))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("unregister connection %s for %s: %w", connID, userID, err)
	}
	return card.Val(), nil
}

// CountActive returns the number of fresh connections the user has, evicting
// stale members first.
func (r *Registry) CountActive(ctx context.Context, userID string) (int64, error) {
	key := r.key(userID)

	pipe := r.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", r.staleMax(r.now()))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("count connections for %s: %w", userID, err)
	}
	return card.Val(), nil
}

// Online reports whether the user has at least one fresh connection.
func (r *Registry) Online(ctx context.Context, userID string) (bool, error) {
	n, err := r.CountActive(ctx, userID)
	return n > 0, err
}

// SetTyping records that the user started typing in the given channel. The
// key uses SET NX so repeated calls within the TTL window are no-ops. Returns
// true when the key was newly created, meaning a typing_started event should
// be published.
func (r *Registry) SetTyping(ctx context.Context, channelID, userID string) (bool, error) {
	key := r.env + "-typing:" + channelID + ":" + userID
	ok, err := r.rdb.SetNX(ctx, key, 1, typingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("set typing for %s in %s: %w", userID, channelID, err)
	}
	return ok, nil
}

func (r *Registry) key(userID string) string {
	return r.env + "-gateway-connections-v2:" + userID
}

// staleMax is the inclusive upper score bound for eviction: anything last
// seen at or before now-stale is dead.
func (r *Registry) staleMax(now time.Time) string {
	return strconv.FormatInt(now.Add(-r.stale).UnixMilli(), 10)
}
