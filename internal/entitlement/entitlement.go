// Package entitlement maintains a node-local cache of which channels each
// connected user may see. A channel-scoped event is delivered to a user when
// the channel is public, the user authored it, or the user is a member. The
// cache is refcounted per user so N connections from one user share a single
// entry, and it is kept fresh by applying the same event stream the gateway
// fans out.
package entitlement

import (
	"context"
	"fmt"
	"sync"

	"github.com/kajgg/kaj-server/internal/event"
	"github.com/kajgg/kaj-server/internal/model"
)

// Loader supplies the channel sets needed to build cache entries. Implemented
// by the channel repository.
type Loader interface {
	PublicChannelIDs(ctx context.Context) ([]string, error)
	MemberChannelIDs(ctx context.Context, userID string) ([]string, error)
}

// Cache is the per-node entitlement cache.
type Cache struct {
	loader Loader

	mu     sync.RWMutex
	public map[string]struct{}
	users  map[string]*userEntry
}

// userEntry tracks one user's member channels and how many live connections
// reference it.
type userEntry struct {
	refs     int
	channels map[string]struct{}
}

// NewCache creates a cache and loads the public channel set. Membership
// entries are built lazily per user on Acquire.
func NewCache(ctx context.Context, loader Loader) (*Cache, error) {
	c := &Cache{
		loader: loader,
		public: make(map[string]struct{}),
		users:  make(map[string]*userEntry),
	}

	ids, err := loader.PublicChannelIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load public channels: %w", err)
	}
	for _, id := range ids {
		c.public[id] = struct{}{}
	}
	return c, nil
}

// Acquire registers a connection for the user, building the user's membership
// set on first reference. Every Acquire must be paired with a Release.
func (c *Cache) Acquire(ctx context.Context, userID string) error {
	c.mu.Lock()
	if entry, ok := c.users[userID]; ok {
		entry.refs++
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	// Load outside the lock; membership queries can be slow.
	ids, err := c.loader.MemberChannelIDs(ctx, userID)
	if err != nil {
		return fmt.Errorf("load member channels for %s: %w", userID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.users[userID]; ok {
		// Lost the race to another connection of the same user.
		entry.refs++
		return nil
	}
	channels := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		channels[id] = struct{}{}
	}
	c.users[userID] = &userEntry{refs: 1, channels: channels}
	return nil
}

// Release drops one connection's reference. The entry is evicted when the
// last reference goes away.
func (c *Cache) Release(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.users[userID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(c.users, userID)
	}
}

// Allows reports whether the event may be delivered to the user. Events with
// no channel scope are delivered to everyone.
func (c *Cache) Allows(userID string, ev event.Event) bool {
	channelID, scoped := event.ChannelScope(ev)
	if !scoped {
		return true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.public[channelID]; ok {
		return true
	}
	entry, ok := c.users[userID]
	if !ok {
		return false
	}
	_, ok = entry.channels[channelID]
	return ok
}

// Apply updates the cache from an event flowing through the gateway. Channel
// lifecycle events maintain the public set; join and leave system messages
// maintain the membership set of locally connected users.
func (c *Cache) Apply(ev event.Event) {
	switch e := ev.(type) {
	case event.ChannelCreated:
		c.applyChannel(e.Channel)
	case event.ChannelUpdated:
		c.applyChannel(e.Channel)
	case event.ChannelDeleted:
		c.mu.Lock()
		delete(c.public, e.ChannelID)
		for _, entry := range c.users {
			delete(entry.channels, e.ChannelID)
		}
		c.mu.Unlock()
	case event.MessageCreated:
		switch e.Message.Type {
		case model.MessageJoin:
			c.setMembership(e.Message.AuthorID, e.Message.ChannelID, true)
		case model.MessageLeave:
			c.setMembership(e.Message.AuthorID, e.Message.ChannelID, false)
		}
	}
}

// applyChannel reconciles the public set with the channel's privacy flag and
// guarantees the author keeps access when the channel goes private.
func (c *Cache) applyChannel(ch model.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch.Private {
		delete(c.public, ch.ID)
	} else {
		c.public[ch.ID] = struct{}{}
	}
	if entry, ok := c.users[ch.AuthorID]; ok {
		entry.channels[ch.ID] = struct{}{}
	}
}

func (c *Cache) setMembership(userID, channelID string, member bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.users[userID]
	if !ok {
		return
	}
	if member {
		entry.channels[channelID] = struct{}{}
	} else {
		delete(entry.channels, channelID)
	}
}
