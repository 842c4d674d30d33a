// Package gateway serves the real-time side: it tails the event stream,
// filters each event through the entitlement cache, and fans it out to the
// node's SSE connections. Connections that cannot keep up are dropped so one
// slow client never stalls the stream for everyone else.
package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kajgg/kaj-server/internal/entitlement"
	"github.com/kajgg/kaj-server/internal/event"
	"github.com/kajgg/kaj-server/internal/presence"
	"github.com/kajgg/kaj-server/internal/stream"
	"github.com/kajgg/kaj-server/internal/user"
)

// sendBuffer is the per-connection envelope queue. A connection whose queue
// fills up is closed and must reconnect with its replay cursor.
const sendBuffer = 128

// conn is one live SSE connection.
type conn struct {
	userID string
	connID string
	ch     chan event.Envelope

	closeOnce sync.Once
}

// close makes the connection's send channel drain to EOF. Safe to call from
// both the fan-out loop and the handler teardown.
func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.ch) })
}

// Node is one gateway process: a stream tail plus the set of local
// connections it feeds.
type Node struct {
	bus          *stream.Bus
	entitlements *entitlement.Cache
	presence     *presence.Registry
	users        user.Repository
	log          zerolog.Logger

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewNode wires a gateway node.
func NewNode(
	bus *stream.Bus,
	entitlements *entitlement.Cache,
	registry *presence.Registry,
	users user.Repository,
	logger zerolog.Logger,
) *Node {
	return &Node{
		bus:          bus,
		entitlements: entitlements,
		presence:     registry,
		users:        users,
		log:          logger.With().Str("component", "gateway").Logger(),
		conns:        make(map[*conn]struct{}),
	}
}

// Run tails the event stream from its current end and fans out until the
// context is cancelled.
func (n *Node) Run(ctx context.Context) error {
	err := n.bus.Tail(ctx, stream.LiveCursor, func(entry stream.Entry) error {
		n.dispatch(entry.Envelope)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// dispatch applies one envelope to the entitlement cache and forwards it to
// every connection allowed to see it.
func (n *Node) dispatch(env event.Envelope) {
	ev, err := event.Decode(env)
	if err != nil {
		if !errors.Is(err, event.ErrUnknownType) {
			n.log.Warn().Err(err).Str("type", env.T).Msg("Dropping undecodable event")
		}
		return
	}

	// Entitlements are consulted on both sides of Apply: a channel deletion
	// revokes the very entitlement its members need to receive it, while a
	// creation or join grants the entitlement only after Apply runs.
	var overflowed []*conn
	n.mu.RLock()
	pre := make(map[*conn]bool, len(n.conns))
	for c := range n.conns {
		pre[c] = n.entitlements.Allows(c.userID, ev)
	}
	n.entitlements.Apply(ev)
	for c := range n.conns {
		if !pre[c] && !n.entitlements.Allows(c.userID, ev) {
			continue
		}
		select {
		case c.ch <- env:
		default:
			overflowed = append(overflowed, c)
		}
	}
	n.mu.RUnlock()

	for _, c := range overflowed {
		n.log.Warn().Str("user_id", c.userID).Str("conn_id", c.connID).Msg("Dropping connection that fell behind")
		n.detach(c)
		c.close()
	}
}

// attach adds a connection to the fan-out set.
func (n *Node) attach(c *conn) {
	n.mu.Lock()
	n.conns[c] = struct{}{}
	n.mu.Unlock()
}

// detach removes a connection from the fan-out set.
func (n *Node) detach(c *conn) {
	n.mu.Lock()
	delete(n.conns, c)
	n.mu.Unlock()
}

// connCount returns the number of live connections on this node.
func (n *Node) connCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.conns)
}

// publish encodes an event and appends it to the bus.
func (n *Node) publish(ctx context.Context, ev event.Event) {
	env, err := event.Encode(ev)
	if err != nil {
		n.log.Error().Err(err).Str("type", string(ev.EventType())).Msg("Failed to encode event")
		return
	}
	if err := n.bus.Publish(ctx, env); err != nil {
		n.log.Error().Err(err).Str("type", string(ev.EventType())).Msg("Failed to publish event")
	}
}
