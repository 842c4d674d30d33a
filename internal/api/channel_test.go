package api

import (
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/kajgg/kaj-server/internal/channel"
	"github.com/kajgg/kaj-server/internal/event"
	"github.com/kajgg/kaj-server/internal/model"
)

func TestLeaveChannelOwnerForbidden(t *testing.T) {
	t.Parallel()

	channels := &fakeChannelsRepo{
		ch:      &channel.Channel{ID: "c1abcdefgh", AuthorID: "u1abcdefgh"},
		members: map[string]bool{"u1abcdefgh": true},
	}
	bus := &captureBus{}
	svc, _ := newMessagesService(channels, &fakeUsersRepo{}, bus)
	h := NewChannelHandler(channels, svc, &fakeUsersRepo{}, bus, stubPresence{}, zerolog.Nop())

	app := fiber.New()
	app.Use(authAs(testUser("u1abcdefgh", "alice")))
	app.Post("/v1/channels/:channelID/leave", h.LeaveChannel)

	resp := doRequest(t, app, http.MethodPost, "/v1/channels/c1abcdefgh/leave", nil)
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestLeaveChannelPostsNotice(t *testing.T) {
	t.Parallel()

	channels := &fakeChannelsRepo{
		ch:      &channel.Channel{ID: "c1abcdefgh", AuthorID: "u1abcdefgh"},
		members: map[string]bool{"u2abcdefgh": true},
	}
	bus := &captureBus{}
	svc, repo := newMessagesService(channels, &fakeUsersRepo{}, bus)
	h := NewChannelHandler(channels, svc, &fakeUsersRepo{}, bus, stubPresence{}, zerolog.Nop())

	app := fiber.New()
	app.Use(authAs(testUser("u2abcdefgh", "bob")))
	app.Post("/v1/channels/:channelID/leave", h.LeaveChannel)

	resp := doRequest(t, app, http.MethodPost, "/v1/channels/c1abcdefgh/leave", nil)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	if channels.members["u2abcdefgh"] {
		t.Error("membership was not removed")
	}
	types := repo.types()
	if len(types) != 1 || types[0] != model.MessageLeave {
		t.Errorf("system messages = %v, want one leave notice", types)
	}
}

func TestLeaveChannelNotMember(t *testing.T) {
	t.Parallel()

	channels := &fakeChannelsRepo{
		ch:      &channel.Channel{ID: "c1abcdefgh", AuthorID: "u1abcdefgh"},
		members: map[string]bool{},
	}
	bus := &captureBus{}
	svc, _ := newMessagesService(channels, &fakeUsersRepo{}, bus)
	h := NewChannelHandler(channels, svc, &fakeUsersRepo{}, bus, stubPresence{}, zerolog.Nop())

	app := fiber.New()
	app.Use(authAs(testUser("u3abcdefgh", "carol")))
	app.Post("/v1/channels/:channelID/leave", h.LeaveChannel)

	resp := doRequest(t, app, http.MethodPost, "/v1/channels/c1abcdefgh/leave", nil)
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestDeleteChannelAuthorOnly(t *testing.T) {
	t.Parallel()

	channels := &fakeChannelsRepo{
		ch: &channel.Channel{ID: "c1abcdefgh", AuthorID: "u1abcdefgh"},
	}
	bus := &captureBus{}
	svc, _ := newMessagesService(channels, &fakeUsersRepo{}, bus)
	h := NewChannelHandler(channels, svc, &fakeUsersRepo{}, bus, stubPresence{}, zerolog.Nop())

	app := fiber.New()
	app.Use(authAs(testUser("u2abcdefgh", "bob")))
	app.Delete("/v1/channels/:channelID", h.DeleteChannel)

	resp := doRequest(t, app, http.MethodDelete, "/v1/channels/c1abcdefgh", nil)
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("stranger delete status = %d, want 403", resp.StatusCode)
	}
	if channels.deleted {
		t.Error("channel was deleted by a non-author")
	}

	owner := fiber.New()
	owner.Use(authAs(testUser("u1abcdefgh", "alice")))
	owner.Delete("/v1/channels/:channelID", h.DeleteChannel)

	resp = doRequest(t, owner, http.MethodDelete, "/v1/channels/c1abcdefgh", nil)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("author delete status = %d, want 204", resp.StatusCode)
	}
	if !channels.deleted {
		t.Error("channel was not deleted")
	}

	evs := bus.events(t)
	if len(evs) != 1 {
		t.Fatalf("published %d events, want 1", len(evs))
	}
	deleted, ok := evs[0].(event.ChannelDeleted)
	if !ok || deleted.ChannelID != "c1abcdefgh" {
		t.Errorf("event = %+v, want ChannelDeleted for c1abcdefgh", evs[0])
	}
}

func TestCreateChannelPublishes(t *testing.T) {
	t.Parallel()

	channels := &fakeChannelsRepo{}
	channels.createFn = func(p channel.CreateParams) *channel.Channel {
		return &channel.Channel{ID: p.ID, Name: p.Name, Topic: p.Topic, AuthorID: p.AuthorID, Private: p.Private}
	}
	bus := &captureBus{}
	svc, _ := newMessagesService(channels, &fakeUsersRepo{}, bus)
	h := NewChannelHandler(channels, svc, &fakeUsersRepo{}, bus, stubPresence{}, zerolog.Nop())

	app := fiber.New()
	app.Use(authAs(testUser("u1abcdefgh", "alice")))
	app.Post("/v1/channels", h.CreateChannel)

	resp := doRequest(t, app, http.MethodPost, "/v1/channels",
		fiber.Map{"name": "general", "topic": "talk", "private": false})
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	body := decodeBody(t, resp)
	if body["name"] != "general" || body["author_id"] != "u1abcdefgh" {
		t.Errorf("body = %v", body)
	}

	evs := bus.events(t)
	if len(evs) != 1 {
		t.Fatalf("published %d events, want 1", len(evs))
	}
	if _, ok := evs[0].(event.ChannelCreated); !ok {
		t.Errorf("event = %T, want ChannelCreated", evs[0])
	}
}
