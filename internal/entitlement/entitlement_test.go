package entitlement

import (
	"context"
	"testing"

	"github.com/kajgg/kaj-server/internal/event"
	"github.com/kajgg/kaj-server/internal/model"
)

// fakeLoader serves fixed channel sets.
type fakeLoader struct {
	public  []string
	members map[string][]string
}

func (f *fakeLoader) PublicChannelIDs(context.Context) ([]string, error) {
	return f.public, nil
}

func (f *fakeLoader) MemberChannelIDs(_ context.Context, userID string) ([]string, error) {
	return f.members[userID], nil
}

func newTestCache(t *testing.T, loader *fakeLoader) *Cache {
	t.Helper()
	c, err := NewCache(context.Background(), loader)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	return c
}

func messageIn(channelID string) event.Event {
	return event.MessageCreated{Message: model.Message{ChannelID: channelID, Type: model.MessageDefault}}
}

func TestAllowsPublicAndMemberChannels(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, &fakeLoader{
		public:  []string{"pub"},
		members: map[string][]string{"u1": {"priv"}},
	})
	ctx := context.Background()

	if err := c.Acquire(ctx, "u1"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := c.Acquire(ctx, "u2"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	tests := []struct {
		user    string
		channel string
		want    bool
	}{
		{"u1", "pub", true},
		{"u1", "priv", true},
		{"u2", "pub", true},
		{"u2", "priv", false},
		{"u1", "unknown", false},
	}
	for _, tt := range tests {
		if got := c.Allows(tt.user, messageIn(tt.channel)); got != tt.want {
			t.Errorf("Allows(%s, %s) = %v, want %v", tt.user, tt.channel, got, tt.want)
		}
	}
}

func TestAllowsUnscopedEvents(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, &fakeLoader{})

	if !c.Allows("anyone", event.AuthorUpdated{Author: model.Author{ID: "x"}}) {
		t.Error("Allows(author_updated) = false, want true")
	}
	if !c.Allows("anyone", event.Heartbeat{}) {
		t.Error("Allows(heartbeat) = false, want true")
	}
}

func TestApplyJoinAndLeave(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, &fakeLoader{members: map[string][]string{}})
	ctx := context.Background()

	if err := c.Acquire(ctx, "u1"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if c.Allows("u1", messageIn("priv")) {
		t.Fatal("Allows() before join = true, want false")
	}

	c.Apply(event.MessageCreated{Message: model.Message{
		ChannelID: "priv", AuthorID: "u1", Type: model.MessageJoin,
	}})
	if !c.Allows("u1", messageIn("priv")) {
		t.Error("Allows() after join = false, want true")
	}

	c.Apply(event.MessageCreated{Message: model.Message{
		ChannelID: "priv", AuthorID: "u1", Type: model.MessageLeave,
	}})
	if c.Allows("u1", messageIn("priv")) {
		t.Error("Allows() after leave = true, want false")
	}
}

func TestApplyChannelLifecycle(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, &fakeLoader{members: map[string][]string{}})
	ctx := context.Background()

	if err := c.Acquire(ctx, "author"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := c.Acquire(ctx, "other"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// A new private channel is visible only to its author.
	c.Apply(event.ChannelCreated{Channel: model.Channel{ID: "c1", AuthorID: "author", Private: true}})
	if !c.Allows("author", messageIn("c1")) {
		t.Error("author lost access to own private channel")
	}
	if c.Allows("other", messageIn("c1")) {
		t.Error("non-member sees private channel")
	}

	// Making it public opens it to everyone.
	c.Apply(event.ChannelUpdated{Channel: model.Channel{ID: "c1", AuthorID: "author", Private: false}})
	if !c.Allows("other", messageIn("c1")) {
		t.Error("non-member cannot see public channel")
	}

	// Back to private closes it again.
	c.Apply(event.ChannelUpdated{Channel: model.Channel{ID: "c1", AuthorID: "author", Private: true}})
	if c.Allows("other", messageIn("c1")) {
		t.Error("non-member still sees re-privated channel")
	}

	c.Apply(event.ChannelDeleted{ChannelID: "c1"})
	if c.Allows("author", messageIn("c1")) {
		t.Error("author still sees deleted channel")
	}
}

func TestRefcounting(t *testing.T) {
	t.Parallel()
	loader := &fakeLoader{members: map[string][]string{"u1": {"priv"}}}
	c := newTestCache(t, loader)
	ctx := context.Background()

	if err := c.Acquire(ctx, "u1"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := c.Acquire(ctx, "u1"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// First release keeps the entry alive for the second connection.
	c.Release("u1")
	if !c.Allows("u1", messageIn("priv")) {
		t.Error("entry evicted while a connection still references it")
	}

	c.Release("u1")
	if c.Allows("u1", messageIn("priv")) {
		t.Error("entry survived last release")
	}
}
