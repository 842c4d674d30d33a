package api

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/kajgg/kaj-server/internal/auth"
	"github.com/kajgg/kaj-server/internal/channel"
	"github.com/kajgg/kaj-server/internal/file"
	"github.com/kajgg/kaj-server/internal/httputil"
	"github.com/kajgg/kaj-server/internal/message"
	"github.com/kajgg/kaj-server/internal/model"
)

// MessageHandler serves message endpoints. All the interesting work happens
// in the message service; the handler parses, maps errors and nothing else.
type MessageHandler struct {
	messages *message.Service
	log      zerolog.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(messages *message.Service, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, log: logger}
}

// ListMessages handles GET /v1/channels/:channelID/messages. History is
// filtered by after/before millisecond cursors, author_id and a contains
// substring match.
func (h *MessageHandler) ListMessages(c *fiber.Ctx) error {
	current := auth.CurrentUser(c)

	filter, err := parseListFilter(
		c.Query("after"),
		c.Query("before"),
		c.Query("limit"),
		c.Query("author_id"),
		c.Query("contains"),
	)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	}

	msgs, err := h.messages.List(c.Context(), current, c.Params("channelID"), filter)
	if err != nil {
		return h.mapMessageError(c, err)
	}
	return httputil.Success(c, msgs)
}

type createMessageRequest struct {
	Content string        `json:"content"`
	Nonce   *string       `json:"nonce"`
	Embeds  []model.Embed `json:"embeds"`
	FileIDs []string      `json:"file_ids"`
}

// CreateMessage handles POST /v1/channels/:channelID/messages.
func (h *MessageHandler) CreateMessage(c *fiber.Ctx) error {
	current := auth.CurrentUser(c)

	var body createMessageRequest
	if err := c.BodyParser(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	msg, err := h.messages.Create(c.Context(), current, c.Params("channelID"), message.CreateInput{
		Content: body.Content,
		Nonce:   body.Nonce,
		Embeds:  body.Embeds,
		FileIDs: body.FileIDs,
	})
	if err != nil {
		return h.mapMessageError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, msg)
}

// GetMessage handles GET /v1/channels/:channelID/messages/:messageID.
func (h *MessageHandler) GetMessage(c *fiber.Ctx) error {
	current := auth.CurrentUser(c)

	msg, err := h.messages.Get(c.Context(), current, c.Params("channelID"), c.Params("messageID"))
	if err != nil {
		return h.mapMessageError(c, err)
	}
	return httputil.Success(c, msg)
}

type updateMessageRequest struct {
	Content string `json:"content"`
}

// UpdateMessage handles PATCH /v1/channels/:channelID/messages/:messageID.
func (h *MessageHandler) UpdateMessage(c *fiber.Ctx) error {
	current := auth.CurrentUser(c)

	var body updateMessageRequest
	if err := c.BodyParser(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	msg, err := h.messages.Update(c.Context(), current, c.Params("channelID"), c.Params("messageID"), body.Content)
	if err != nil {
		return h.mapMessageError(c, err)
	}
	return httputil.Success(c, msg)
}

// DeleteMessage handles DELETE /v1/channels/:channelID/messages/:messageID.
func (h *MessageHandler) DeleteMessage(c *fiber.Ctx) error {
	current := auth.CurrentUser(c)

	if err := h.messages.Delete(c.Context(), current, c.Params("channelID"), c.Params("messageID")); err != nil {
		return h.mapMessageError(c, err)
	}
	return httputil.NoContent(c)
}

// parseListFilter builds a history filter from raw query values. after and
// before are millisecond timestamps.
func parseListFilter(after, before, limit, authorID, contains string) (message.ListFilter, error) {
	var filter message.ListFilter

	if after != "" {
		ms, err := strconv.ParseInt(after, 10, 64)
		if err != nil {
			return filter, errors.New("after must be a millisecond timestamp")
		}
		t := time.UnixMilli(ms)
		filter.After = &t
	}
	if before != "" {
		ms, err := strconv.ParseInt(before, 10, 64)
		if err != nil {
			return filter, errors.New("before must be a millisecond timestamp")
		}
		t := time.UnixMilli(ms)
		filter.Before = &t
	}
	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return filter, errors.New("limit must be an integer")
		}
		filter.Limit = n
	}
	filter.AuthorID = authorID
	filter.Contains = contains
	filter.ClampLimit()
	return filter, nil
}

// mapMessageError translates message pipeline errors to HTTP responses.
func (h *MessageHandler) mapMessageError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, message.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, "Message not found")
	case errors.Is(err, channel.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, "Channel not found")
	case errors.Is(err, message.ErrNotAuthor),
		errors.Is(err, channel.ErrNotMember):
		return httputil.Fail(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, message.ErrContentLength),
		errors.Is(err, message.ErrNonceLength),
		errors.Is(err, message.ErrTooManyFiles),
		errors.Is(err, message.ErrTooManyEmbeds),
		errors.Is(err, message.ErrEmbedTooLong),
		errors.Is(err, message.ErrEmptyMessage),
		errors.Is(err, file.ErrNotFound),
		errors.Is(err, file.ErrNotOwner),
		errors.Is(err, file.ErrNotUploaded):
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "message").Msg("Unhandled message error")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
}
