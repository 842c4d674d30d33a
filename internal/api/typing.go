package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/kajgg/kaj-server/internal/auth"
	"github.com/kajgg/kaj-server/internal/channel"
	"github.com/kajgg/kaj-server/internal/event"
	"github.com/kajgg/kaj-server/internal/httputil"
)

// TypingHandler serves the typing indicator endpoint.
type TypingHandler struct {
	channels channel.Repository
	presence Presence
	bus      Publisher
	log      zerolog.Logger
}

// NewTypingHandler creates a new typing handler.
func NewTypingHandler(channels channel.Repository, presence Presence, bus Publisher, logger zerolog.Logger) *TypingHandler {
	return &TypingHandler{
		channels: channels,
		presence: presence,
		bus:      bus,
		log:      logger,
	}
}

// StartTyping handles POST /v1/channels/:channelID/typing. Repeated calls
// within the indicator's lifetime are deduplicated, so clients can fire on
// every keystroke.
func (h *TypingHandler) StartTyping(c *fiber.Ctx) error {
	current := auth.CurrentUser(c)
	channelID := c.Params("channelID")

	if _, err := h.channels.GetByID(c.Context(), channelID); err != nil {
		if errors.Is(err, channel.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, "Channel not found")
		}
		h.log.Error().Err(err).Str("handler", "typing").Msg("Failed to load channel")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}

	ok, err := h.channels.CanAccess(c.Context(), channelID, current.ID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "typing").Msg("Failed to check channel access")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if !ok {
		return httputil.Fail(c, fiber.StatusForbidden, channel.ErrNotMember.Error())
	}

	fresh, err := h.presence.SetTyping(c.Context(), channelID, current.ID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "typing").Msg("Failed to set typing indicator")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if fresh {
		publish(c.Context(), h.bus, h.log, event.TypingStarted{ChannelID: channelID, UserID: current.ID})
	}

	return httputil.NoContent(c)
}
