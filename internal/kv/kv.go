// Package kv owns the Redis connection shared by the event stream, the
// presence registry, and typing dedupe.
package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect parses the Redis URL, connects, and pings to verify the connection.
// The dialTimeout parameter controls how long the client waits when
// establishing new connections.
func Connect(ctx context.Context, rawURL string, dialTimeout time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.DialTimeout = dialTimeout

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}
