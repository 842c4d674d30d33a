package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kajgg/kaj-server/internal/event"
	"github.com/kajgg/kaj-server/internal/httputil"
	"github.com/kajgg/kaj-server/internal/ident"
)

// heartbeatInterval paces the keep-alive events that hold idle SSE
// connections open through proxies.
const heartbeatInterval = 15 * time.Second

// Handler returns the SSE endpoint. EventSource cannot set headers, so the
// bearer token is accepted as a query parameter as well. Reconnecting clients
// pass last_event_ts to replay everything they missed.
func (n *Node) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Query("token")
		if token == "" {
			token = c.Get("Authorization")
		}
		if token == "" {
			return httputil.Fail(c, fiber.StatusUnauthorized, "Missing token")
		}

		u, err := n.users.GetByToken(c.Context(), token)
		if err != nil {
			return httputil.Fail(c, fiber.StatusUnauthorized, "Invalid token")
		}

		var cursor int64
		if raw := c.Query("last_event_ts"); raw != "" {
			cursor, err = strconv.ParseInt(raw, 10, 64)
			if err != nil || cursor < 0 {
				return httputil.Fail(c, fiber.StatusBadRequest, "Invalid last_event_ts")
			}
		}

		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")
		c.Set("X-Accel-Buffering", "no")

		userID := u.ID
		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			n.serve(w, userID, cursor)
		})
		return nil
	}
}

// serve runs one SSE connection to completion. The request context is gone by
// the time the stream writer runs; client disconnects surface as flush errors.
func (n *Node) serve(w *bufio.Writer, userID string, cursor int64) {
	ctx := context.Background()
	connID := ident.New()
	log := n.log.With().Str("user_id", userID).Str("conn_id", connID).Logger()

	u, err := n.users.GetByID(ctx, userID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load user for connection")
		return
	}

	if err := n.entitlements.Acquire(ctx, userID); err != nil {
		log.Error().Err(err).Msg("Failed to build entitlements")
		return
	}
	defer n.entitlements.Release(userID)

	active, err := n.presence.Register(ctx, userID, connID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to register connection")
		return
	}
	if active == 1 {
		n.publish(ctx, event.AuthorUpdated{Author: u.ToAuthor(u.EffectiveStatus(true))})
	}
	defer func() {
		remaining, err := n.presence.Unregister(ctx, userID, connID)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to unregister connection")
			return
		}
		if remaining == 0 {
			n.publish(ctx, event.AuthorUpdated{Author: u.ToAuthor(u.EffectiveStatus(false))})
		}
	}()

	// Attach before replaying so nothing published in between is lost; the
	// live queue buffers until the replay is written out.
	c := &conn{userID: userID, connID: connID, ch: make(chan event.Envelope, sendBuffer)}
	n.attach(c)
	defer func() {
		n.detach(c)
		c.close()
	}()

	var lastSent int64
	if cursor > 0 {
		lastSent, err = n.replay(ctx, w, userID, cursor)
		if err != nil {
			return
		}
	} else if err := n.sendRoster(ctx, w); err != nil {
		return
	}

	log.Info().Msg("Gateway connection open")
	defer log.Info().Msg("Gateway connection closed")

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-c.ch:
			if !ok {
				return // dropped by the fan-out loop
			}
			// Replay may already have covered this envelope.
			if ts := env.Timestamp(); ts != 0 && ts <= lastSent {
				continue
			}
			if err := writeEnvelope(w, env); err != nil {
				return
			}
		case <-ticker.C:
			if err := n.presence.Touch(ctx, userID, connID); err != nil {
				log.Warn().Err(err).Msg("Failed to refresh presence")
			}
			env, err := event.Encode(event.Heartbeat{})
			if err != nil {
				continue
			}
			if err := writeEnvelope(w, env); err != nil {
				return
			}
		}
	}
}

// replay writes every entitled event published after the cursor and returns
// the timestamp of the newest one written.
func (n *Node) replay(ctx context.Context, w *bufio.Writer, userID string, cursor int64) (int64, error) {
	entries, err := n.bus.Range(ctx, cursor)
	if err != nil {
		n.log.Warn().Err(err).Msg("Replay read failed")
		return cursor, nil // degrade to live-only
	}

	last := cursor
	for _, entry := range entries {
		ev, err := event.Decode(entry.Envelope)
		if err != nil {
			continue
		}
		if !n.entitlements.Allows(userID, ev) {
			continue
		}
		if err := writeEnvelope(w, entry.Envelope); err != nil {
			return last, err
		}
		if ts := entry.Envelope.Timestamp(); ts > last {
			last = ts
		}
	}
	return last, nil
}

// sendRoster sends a fresh connection one author_updated per known user so
// the client can populate its user cache before live events reference them.
func (n *Node) sendRoster(ctx context.Context, w *bufio.Writer) error {
	users, err := n.users.List(ctx)
	if err != nil {
		n.log.Warn().Err(err).Msg("Failed to load user roster")
		return nil
	}

	for i := range users {
		u := &users[i]
		online, err := n.presence.Online(ctx, u.ID)
		if err != nil {
			online = false
		}
		env, err := event.Encode(event.AuthorUpdated{Author: u.ToAuthor(u.EffectiveStatus(online))})
		if err != nil {
			continue
		}
		if err := writeEnvelope(w, env); err != nil {
			return err
		}
	}
	return nil
}

// writeEnvelope frames one envelope as an SSE data event and flushes it.
func writeEnvelope(w *bufio.Writer, env event.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if _, err := w.WriteString("data: "); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if _, err := w.WriteString("\n\n"); err != nil {
		return err
	}
	return w.Flush()
}
