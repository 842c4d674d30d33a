package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/kajgg/kaj-server/internal/auth"
	"github.com/kajgg/kaj-server/internal/channel"
	"github.com/kajgg/kaj-server/internal/event"
	"github.com/kajgg/kaj-server/internal/httputil"
	"github.com/kajgg/kaj-server/internal/ident"
	"github.com/kajgg/kaj-server/internal/message"
	"github.com/kajgg/kaj-server/internal/model"
	"github.com/kajgg/kaj-server/internal/user"
)

// ChannelHandler serves channel endpoints.
type ChannelHandler struct {
	channels channel.Repository
	messages *message.Service
	users    user.Repository
	bus      Publisher
	presence Presence
	log      zerolog.Logger
}

// NewChannelHandler creates a new channel handler.
func NewChannelHandler(
	channels channel.Repository,
	messages *message.Service,
	users user.Repository,
	bus Publisher,
	presence Presence,
	logger zerolog.Logger,
) *ChannelHandler {
	return &ChannelHandler{
		channels: channels,
		messages: messages,
		users:    users,
		bus:      bus,
		presence: presence,
		log:      logger,
	}
}

// ListChannels handles GET /v1/channels. Public channels are visible to
// everyone; private ones only to their author and members.
func (h *ChannelHandler) ListChannels(c *fiber.Ctx) error {
	current := auth.CurrentUser(c)

	channels, err := h.channels.ListVisible(c.Context(), current.ID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "channel").Msg("Failed to list channels")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}

	out := make([]model.Channel, 0, len(channels))
	for i := range channels {
		out = append(out, channels[i].ToModel())
	}
	return httputil.Success(c, out)
}

type createChannelRequest struct {
	Name    string `json:"name"`
	Topic   string `json:"topic"`
	Private bool   `json:"private"`
}

// CreateChannel handles POST /v1/channels. The creator becomes the channel
// author and its first member.
func (h *ChannelHandler) CreateChannel(c *fiber.Ctx) error {
	current := auth.CurrentUser(c)

	var body createChannelRequest
	if err := c.BodyParser(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	name, err := channel.ValidateName(body.Name)
	if err != nil {
		return h.mapChannelError(c, err)
	}
	if err := channel.ValidateTopic(&body.Topic); err != nil {
		return h.mapChannelError(c, err)
	}

	ch, err := h.channels.Create(c.Context(), channel.CreateParams{
		ID:       ident.New(),
		Name:     name,
		Topic:    body.Topic,
		AuthorID: current.ID,
		Private:  body.Private,
	})
	if err != nil {
		return h.mapChannelError(c, err)
	}

	publish(c.Context(), h.bus, h.log, event.ChannelCreated{Channel: ch.ToModel()})
	return httputil.SuccessStatus(c, fiber.StatusCreated, ch.ToModel())
}

type updateChannelRequest struct {
	Name    *string `json:"name"`
	Topic   *string `json:"topic"`
	Private *bool   `json:"private"`
}

// UpdateChannel handles PATCH /v1/channels/:channelID. Only the author may
// edit.
func (h *ChannelHandler) UpdateChannel(c *fiber.Ctx) error {
	current := auth.CurrentUser(c)

	ch, err := h.channels.GetByID(c.Context(), c.Params("channelID"))
	if err != nil {
		return h.mapChannelError(c, err)
	}
	if ch.AuthorID != current.ID {
		return httputil.Fail(c, fiber.StatusForbidden, "Only the channel author may edit it")
	}

	var body updateChannelRequest
	if err := c.BodyParser(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	params := channel.UpdateParams{Topic: body.Topic, Private: body.Private}
	if body.Name != nil {
		name, err := channel.ValidateName(*body.Name)
		if err != nil {
			return h.mapChannelError(c, err)
		}
		params.Name = &name
	}
	if err := channel.ValidateTopic(body.Topic); err != nil {
		return h.mapChannelError(c, err)
	}

	updated, err := h.channels.Update(c.Context(), ch.ID, params)
	if err != nil {
		return h.mapChannelError(c, err)
	}

	publish(c.Context(), h.bus, h.log, event.ChannelUpdated{Channel: updated.ToModel()})
	return httputil.Success(c, updated.ToModel())
}

// DeleteChannel handles DELETE /v1/channels/:channelID. Only the author may
// delete; messages, membership, invites and webhooks go with it.
func (h *ChannelHandler) DeleteChannel(c *fiber.Ctx) error {
	current := auth.CurrentUser(c)

	ch, err := h.channels.GetByID(c.Context(), c.Params("channelID"))
	if err != nil {
		return h.mapChannelError(c, err)
	}
	if ch.AuthorID != current.ID {
		return httputil.Fail(c, fiber.StatusForbidden, "Only the channel author may delete it")
	}

	if err := h.channels.Delete(c.Context(), ch.ID); err != nil {
		return h.mapChannelError(c, err)
	}

	publish(c.Context(), h.bus, h.log, event.ChannelDeleted{ChannelID: ch.ID})
	return httputil.NoContent(c)
}

// LeaveChannel handles POST /v1/channels/:channelID/leave. The author cannot
// leave their own channel; they delete it instead.
func (h *ChannelHandler) LeaveChannel(c *fiber.Ctx) error {
	current := auth.CurrentUser(c)

	ch, err := h.channels.GetByID(c.Context(), c.Params("channelID"))
	if err != nil {
		return h.mapChannelError(c, err)
	}
	if ch.AuthorID == current.ID {
		return h.mapChannelError(c, channel.ErrOwnerCannotLeave)
	}

	if err := h.channels.RemoveMember(c.Context(), ch.ID, current.ID); err != nil {
		return h.mapChannelError(c, err)
	}

	if _, err := h.messages.CreateSystem(c.Context(), current, ch.ID, model.MessageLeave); err != nil {
		h.log.Warn().Err(err).Str("channel_id", ch.ID).Msg("Failed to post leave notice")
	}

	return httputil.NoContent(c)
}

// ListMembers handles GET /v1/channels/:channelID/members. Members come back
// as public authors with live statuses.
func (h *ChannelHandler) ListMembers(c *fiber.Ctx) error {
	current := auth.CurrentUser(c)

	ch, err := h.channels.GetByID(c.Context(), c.Params("channelID"))
	if err != nil {
		return h.mapChannelError(c, err)
	}
	ok, err := h.channels.CanAccess(c.Context(), ch.ID, current.ID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "channel").Msg("Failed to check channel access")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if !ok {
		return h.mapChannelError(c, channel.ErrNotMember)
	}

	memberIDs, err := h.channels.MemberIDs(c.Context(), ch.ID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "channel").Msg("Failed to list members")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}

	members, err := h.users.GetByIDs(c.Context(), memberIDs)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "channel").Msg("Failed to load member accounts")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}

	out := make([]model.Author, 0, len(members))
	for i := range members {
		u := &members[i]
		out = append(out, u.ToAuthor(effectiveStatus(c.Context(), h.presence, h.log, u)))
	}
	return httputil.Success(c, out)
}

// mapChannelError translates channel errors to HTTP responses.
func (h *ChannelHandler) mapChannelError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, channel.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, "Channel not found")
	case errors.Is(err, channel.ErrNameLength),
		errors.Is(err, channel.ErrTopicLength),
		errors.Is(err, channel.ErrAlreadyMember):
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, channel.ErrNotMember),
		errors.Is(err, channel.ErrOwnerCannotLeave):
		return httputil.Fail(c, fiber.StatusForbidden, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "channel").Msg("Unhandled channel error")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
}
