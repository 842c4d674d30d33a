// Package stream implements the durable event bus on a Redis stream. API
// nodes append envelopes; gateway nodes tail the stream for live fan-out and
// range-read it for replay after reconnect.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kajgg/kaj-server/internal/event"
)

const (
	// streamName is the single stream all events flow through. No
	// partitioning: total order within the stream is the ordering guarantee
	// clients rely on.
	streamName = "events"

	// blockTimeout bounds each blocking read; the tail loop simply issues
	// another read when it elapses.
	blockTimeout = 30 * time.Second

	// maxLen is the approximate retention cap. Replay past the horizon
	// silently yields whatever remains and the client resumes live.
	maxLen = 65536
)

// LiveCursor starts a tail at the current end of the stream.
const LiveCursor = "$"

// Entry pairs a stream id with the decoded envelope at that position.
type Entry struct {
	ID       string
	Envelope event.Envelope
}

// Bus is the durable event bus.
type Bus struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewBus creates an event bus on the given Redis client.
func NewBus(rdb *redis.Client, logger zerolog.Logger) *Bus {
	return &Bus{rdb: rdb, log: logger.With().Str("component", "stream").Logger()}
}

// Publish appends an envelope to the stream and returns after the write is
// acknowledged. The payload is stored as three flat fields so consumers in
// any language can read it.
func (b *Bus) Publish(ctx context.Context, env event.Envelope) error {
	values := map[string]any{
		"t":  env.T,
		"d":  string(env.D),
		"ts": env.TS,
	}
	err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName,
		MaxLen: maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", env.T, err)
	}
	return nil
}

// Tail reads the stream from the given cursor and invokes fn for each entry
// in stream order. Each read blocks up to 30 s, then retries; the loop never
// loses its place because it threads the last delivered id. Tail returns when
// the context is cancelled or fn returns an error.
func (b *Bus) Tail(ctx context.Context, cursor string, fn func(Entry) error) error {
	lastID := cursor
	if lastID == "" {
		lastID = LiveCursor
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := b.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{streamName, lastID},
			Block:   blockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // block timeout, read again
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			b.log.Warn().Err(err).Msg("Stream read failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, s := range res {
			for _, msg := range s.Messages {
				lastID = msg.ID
				entry, ok := decodeFields(msg.ID, msg.Values)
				if !ok {
					b.log.Warn().Str("id", msg.ID).Msg("Dropping malformed stream entry")
					continue
				}
				if err := fn(entry); err != nil {
					return err
				}
			}
		}
	}
}

// Range returns every entry with an envelope timestamp strictly greater than
// sinceMillis, oldest first. Used for replay when a client reconnects with a
// cursor.
func (b *Bus) Range(ctx context.Context, sinceMillis int64) ([]Entry, error) {
	// Stream ids are ms-seq, so starting at since+1 excludes everything
	// published in the cursor's millisecond or earlier.
	min := strconv.FormatInt(sinceMillis+1, 10)
	msgs, err := b.rdb.XRange(ctx, streamName, min, "+").Result()
	if err != nil {
		return nil, fmt.Errorf("xrange from %s: %w", min, err)
	}

	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		entry, ok := decodeFields(msg.ID, msg.Values)
		if !ok {
			continue
		}
		if entry.Envelope.Timestamp() <= sinceMillis {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// decodeFields rebuilds an envelope from the flat stream fields.
func decodeFields(id string, values map[string]any) (Entry, bool) {
	t, ok := values["t"].(string)
	if !ok || t == "" {
		return Entry{}, false
	}
	ts, _ := values["ts"].(string)
	d, _ := values["d"].(string)

	env := event.Envelope{T: t, TS: ts}
	if d != "" {
		env.D = []byte(d)
	}
	return Entry{ID: id, Envelope: env}, true
}
