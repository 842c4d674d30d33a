package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/kajgg/kaj-server/internal/channel"
	"github.com/kajgg/kaj-server/internal/invite"
	"github.com/kajgg/kaj-server/internal/model"
)

func newInviteApp(t *testing.T, invites *fakeInvitesRepo, channels *fakeChannelsRepo, currentID string) (*fiber.App, *memMessagesRepo) {
	t.Helper()

	bus := &captureBus{}
	svc, repo := newMessagesService(channels, &fakeUsersRepo{}, bus)
	h := NewInviteHandler(invites, channels, svc, zerolog.Nop())

	app := fiber.New()
	app.Use(authAs(testUser(currentID, "tester")))
	app.Post("/v1/invites/:code/join", h.JoinInvite)
	app.Post("/v1/channels/:channelID/invites", h.CreateInvite)
	return app, repo
}

func TestJoinInviteAddsMemberAndPostsNotice(t *testing.T) {
	t.Parallel()

	channels := &fakeChannelsRepo{
		ch:      &channel.Channel{ID: "c1abcdefgh", AuthorID: "u1abcdefgh"},
		members: map[string]bool{},
	}
	invites := &fakeInvitesRepo{byCode: map[string]*invite.Invite{
		"welcome": {ID: "i1abcdefgh", Code: "welcome", ChannelID: "c1abcdefgh", AuthorID: "u1abcdefgh"},
	}}
	app, repo := newInviteApp(t, invites, channels, "u2abcdefgh")

	resp := doRequest(t, app, http.MethodPost, "/v1/invites/welcome/join", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	body := decodeBody(t, resp)
	if body["id"] != "c1abcdefgh" {
		t.Errorf("body = %v, want the joined channel", body)
	}
	if !channels.members["u2abcdefgh"] {
		t.Error("membership was not added")
	}
	types := repo.types()
	if len(types) != 1 || types[0] != model.MessageJoin {
		t.Errorf("system messages = %v, want one join notice", types)
	}
}

func TestJoinInviteGoneWhenExhausted(t *testing.T) {
	t.Parallel()

	one := 1
	channels := &fakeChannelsRepo{
		ch:      &channel.Channel{ID: "c1abcdefgh", AuthorID: "u1abcdefgh"},
		members: map[string]bool{},
	}
	invites := &fakeInvitesRepo{byCode: map[string]*invite.Invite{
		"spent": {
			ID: "i1abcdefgh", Code: "spent", ChannelID: "c1abcdefgh",
			AuthorID: "u1abcdefgh", MaxUses: &one, Uses: 1,
		},
	}}
	app, _ := newInviteApp(t, invites, channels, "u2abcdefgh")

	resp := doRequest(t, app, http.MethodPost, "/v1/invites/spent/join", nil)
	if resp.StatusCode != fiber.StatusGone {
		t.Errorf("status = %d, want 410", resp.StatusCode)
	}
}

func TestJoinInviteUnknownCode(t *testing.T) {
	t.Parallel()

	app, _ := newInviteApp(t, &fakeInvitesRepo{}, &fakeChannelsRepo{}, "u2abcdefgh")

	resp := doRequest(t, app, http.MethodPost, "/v1/invites/nope/join", nil)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestJoinInviteIdempotentForMembers(t *testing.T) {
	t.Parallel()

	channels := &fakeChannelsRepo{
		ch:      &channel.Channel{ID: "c1abcdefgh", AuthorID: "u1abcdefgh"},
		members: map[string]bool{"u2abcdefgh": true},
	}
	invites := &fakeInvitesRepo{byCode: map[string]*invite.Invite{
		"welcome": {ID: "i1abcdefgh", Code: "welcome", ChannelID: "c1abcdefgh", AuthorID: "u1abcdefgh"},
	}}
	app, repo := newInviteApp(t, invites, channels, "u2abcdefgh")

	resp := doRequest(t, app, http.MethodPost, "/v1/invites/welcome/join", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(repo.types()) != 0 {
		t.Error("rejoining posted a duplicate join notice")
	}
}

func TestCreateInviteRejectsPastExpiry(t *testing.T) {
	t.Parallel()

	channels := &fakeChannelsRepo{
		ch: &channel.Channel{ID: "c1abcdefgh", AuthorID: "u1abcdefgh"},
	}
	app, _ := newInviteApp(t, &fakeInvitesRepo{}, channels, "u1abcdefgh")

	resp := doRequest(t, app, http.MethodPost, "/v1/channels/c1abcdefgh/invites",
		fiber.Map{"expires_at": time.Now().Add(-time.Hour).Format(time.RFC3339)})
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateInviteRequiresChannelAuthor(t *testing.T) {
	t.Parallel()

	channels := &fakeChannelsRepo{
		ch: &channel.Channel{ID: "c1abcdefgh", AuthorID: "u1abcdefgh"},
	}
	app, _ := newInviteApp(t, &fakeInvitesRepo{}, channels, "u2abcdefgh")

	resp := doRequest(t, app, http.MethodPost, "/v1/channels/c1abcdefgh/invites", fiber.Map{})
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}
