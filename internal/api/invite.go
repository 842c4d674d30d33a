package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kajgg/kaj-server/internal/auth"
	"github.com/kajgg/kaj-server/internal/channel"
	"github.com/kajgg/kaj-server/internal/httputil"
	"github.com/kajgg/kaj-server/internal/ident"
	"github.com/kajgg/kaj-server/internal/invite"
	"github.com/kajgg/kaj-server/internal/message"
	"github.com/kajgg/kaj-server/internal/model"
)

// InviteHandler serves channel invite endpoints.
type InviteHandler struct {
	invites  invite.Repository
	channels channel.Repository
	messages *message.Service
	log      zerolog.Logger
}

// NewInviteHandler creates a new invite handler.
func NewInviteHandler(
	invites invite.Repository,
	channels channel.Repository,
	messages *message.Service,
	logger zerolog.Logger,
) *InviteHandler {
	return &InviteHandler{
		invites:  invites,
		channels: channels,
		messages: messages,
		log:      logger,
	}
}

// ListInvites handles GET /v1/channels/:channelID/invites. Restricted to the
// channel author and admins, since codes grant membership.
func (h *InviteHandler) ListInvites(c *fiber.Ctx) error {
	ch, err := h.authorizeManage(c)
	if err != nil {
		return err
	}

	invites, err := h.invites.ListByChannel(c.Context(), ch.ID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "invite").Msg("Failed to list invites")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}

	out := make([]model.ChannelInvite, 0, len(invites))
	for i := range invites {
		out = append(out, invites[i].ToModel())
	}
	return httputil.Success(c, out)
}

type createInviteRequest struct {
	ExpiresAt *time.Time `json:"expires_at"`
	MaxUses   *int       `json:"max_uses"`
}

// CreateInvite handles POST /v1/channels/:channelID/invites.
func (h *InviteHandler) CreateInvite(c *fiber.Ctx) error {
	current := auth.CurrentUser(c)

	ch, err := h.authorizeManage(c)
	if err != nil {
		return err
	}

	var body createInviteRequest
	if err := c.BodyParser(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	params := invite.CreateParams{
		ID:        ident.New(),
		Code:      uuid.NewString(),
		ChannelID: ch.ID,
		AuthorID:  current.ID,
		ExpiresAt: body.ExpiresAt,
		MaxUses:   body.MaxUses,
	}
	if err := params.Validate(time.Now()); err != nil {
		return h.mapInviteError(c, err)
	}

	inv, err := h.invites.Create(c.Context(), params)
	if err != nil {
		return h.mapInviteError(c, err)
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, inv.ToModel())
}

// DeleteInvite handles DELETE /v1/channels/:channelID/invites/:inviteID. The
// invite author, the channel author and admins may revoke.
func (h *InviteHandler) DeleteInvite(c *fiber.Ctx) error {
	current := auth.CurrentUser(c)

	ch, err := h.channels.GetByID(c.Context(), c.Params("channelID"))
	if err != nil {
		if errors.Is(err, channel.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, "Channel not found")
		}
		h.log.Error().Err(err).Str("handler", "invite").Msg("Failed to load channel")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}

	invites, err := h.invites.ListByChannel(c.Context(), ch.ID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "invite").Msg("Failed to list invites")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}

	inviteID := c.Params("inviteID")
	for i := range invites {
		inv := &invites[i]
		if inv.ID != inviteID {
			continue
		}
		if inv.AuthorID != current.ID && ch.AuthorID != current.ID && !current.Admin {
			return httputil.Fail(c, fiber.StatusForbidden, "You may not revoke this invite")
		}
		if err := h.invites.Delete(c.Context(), inv.ID); err != nil {
			return h.mapInviteError(c, err)
		}
		return httputil.NoContent(c)
	}
	return httputil.Fail(c, fiber.StatusNotFound, "Invite not found")
}

// JoinInvite handles POST /v1/invites/:code/join. Redemption atomically
// consumes a use; joining a channel you already belong to is a no-op that
// still returns the channel.
func (h *InviteHandler) JoinInvite(c *fiber.Ctx) error {
	current := auth.CurrentUser(c)

	inv, err := h.invites.Redeem(c.Context(), c.Params("code"))
	if err != nil {
		return h.mapInviteError(c, err)
	}

	ch, err := h.channels.GetByID(c.Context(), inv.ChannelID)
	if err != nil {
		if errors.Is(err, channel.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, "Channel not found")
		}
		h.log.Error().Err(err).Str("handler", "invite").Msg("Failed to load channel")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}

	if err := h.channels.AddMember(c.Context(), ch.ID, current.ID); err != nil {
		if !errors.Is(err, channel.ErrAlreadyMember) {
			h.log.Error().Err(err).Str("handler", "invite").Msg("Failed to add member")
			return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
		}
		return httputil.Success(c, ch.ToModel())
	}

	if _, err := h.messages.CreateSystem(c.Context(), current, ch.ID, model.MessageJoin); err != nil {
		h.log.Warn().Err(err).Str("channel_id", ch.ID).Msg("Failed to post join notice")
	}

	return httputil.Success(c, ch.ToModel())
}

// authorizeManage loads the channel and checks the caller may manage its
// invites.
func (h *InviteHandler) authorizeManage(c *fiber.Ctx) (*channel.Channel, error) {
	current := auth.CurrentUser(c)

	ch, err := h.channels.GetByID(c.Context(), c.Params("channelID"))
	if err != nil {
		if errors.Is(err, channel.ErrNotFound) {
			return nil, httputil.Fail(c, fiber.StatusNotFound, "Channel not found")
		}
		h.log.Error().Err(err).Str("handler", "invite").Msg("Failed to load channel")
		return nil, httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if ch.AuthorID != current.ID && !current.Admin {
		return nil, httputil.Fail(c, fiber.StatusForbidden, "Only the channel author may manage invites")
	}
	return ch, nil
}

// mapInviteError translates invite errors to HTTP responses.
func (h *InviteHandler) mapInviteError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, invite.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, "Invite not found")
	case errors.Is(err, invite.ErrUnusable):
		return httputil.Fail(c, fiber.StatusGone, err.Error())
	case errors.Is(err, invite.ErrInvalidTTL), errors.Is(err, invite.ErrInvalidMax):
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "invite").Msg("Unhandled invite error")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
}
