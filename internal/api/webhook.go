package api

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kajgg/kaj-server/internal/auth"
	"github.com/kajgg/kaj-server/internal/channel"
	"github.com/kajgg/kaj-server/internal/httputil"
	"github.com/kajgg/kaj-server/internal/ident"
	"github.com/kajgg/kaj-server/internal/message"
	"github.com/kajgg/kaj-server/internal/model"
	"github.com/kajgg/kaj-server/internal/user"
	"github.com/kajgg/kaj-server/internal/webhook"
)

// defaultWebhookColor is used when a webhook is created without one.
const defaultWebhookColor = "#000000"

// WebhookHandler serves webhook management plus the public delivery endpoint.
type WebhookHandler struct {
	webhooks webhook.Repository
	channels channel.Repository
	messages *message.Service
	log      zerolog.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(
	webhooks webhook.Repository,
	channels channel.Repository,
	messages *message.Service,
	logger zerolog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		webhooks: webhooks,
		channels: channels,
		messages: messages,
		log:      logger,
	}
}

// ListWebhooks handles GET /v1/channels/:channelID/webhooks. Channel author
// only; secrets are included since the author manages the integrations.
func (h *WebhookHandler) ListWebhooks(c *fiber.Ctx) error {
	ch, err := h.authorizeManage(c)
	if err != nil {
		return err
	}

	hooks, err := h.webhooks.ListByChannel(c.Context(), ch.ID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "webhook").Msg("Failed to list webhooks")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}

	out := make([]model.Webhook, 0, len(hooks))
	for i := range hooks {
		out = append(out, hooks[i].ToModel(true))
	}
	return httputil.Success(c, out)
}

type createWebhookRequest struct {
	Name  string  `json:"name"`
	Color *string `json:"color"`
}

// CreateWebhook handles POST /v1/channels/:channelID/webhooks.
func (h *WebhookHandler) CreateWebhook(c *fiber.Ctx) error {
	current := auth.CurrentUser(c)

	ch, err := h.authorizeManage(c)
	if err != nil {
		return err
	}

	var body createWebhookRequest
	if err := c.BodyParser(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	name, err := webhook.ValidateName(body.Name)
	if err != nil {
		return h.mapWebhookError(c, err)
	}

	color := defaultWebhookColor
	if body.Color != nil {
		if err := user.ValidateColor(body.Color); err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
		}
		color = *body.Color
	}

	wh, err := h.webhooks.Create(c.Context(), webhook.CreateParams{
		ID:        ident.New(),
		ChannelID: ch.ID,
		OwnerID:   current.ID,
		Name:      strings.ToLower(name),
		Color:     color,
		Secret:    uuid.NewString(),
	})
	if err != nil {
		return h.mapWebhookError(c, err)
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, wh.ToModel(true))
}

type updateWebhookRequest struct {
	Name  *string `json:"name"`
	Color *string `json:"color"`
}

// UpdateWebhook handles PATCH /v1/channels/:channelID/webhooks/:webhookID.
func (h *WebhookHandler) UpdateWebhook(c *fiber.Ctx) error {
	ch, err := h.authorizeManage(c)
	if err != nil {
		return err
	}

	wh, err := h.loadInChannel(c, ch.ID)
	if err != nil {
		return err
	}

	var body updateWebhookRequest
	if err := c.BodyParser(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	params := webhook.UpdateParams{Color: body.Color}
	if body.Name != nil {
		name, err := webhook.ValidateName(*body.Name)
		if err != nil {
			return h.mapWebhookError(c, err)
		}
		name = strings.ToLower(name)
		params.Name = &name
	}
	if body.Color != nil {
		if err := user.ValidateColor(body.Color); err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
		}
	}

	updated, err := h.webhooks.Update(c.Context(), wh.ID, params)
	if err != nil {
		return h.mapWebhookError(c, err)
	}
	return httputil.Success(c, updated.ToModel(true))
}

// DeleteWebhook handles DELETE /v1/channels/:channelID/webhooks/:webhookID.
func (h *WebhookHandler) DeleteWebhook(c *fiber.Ctx) error {
	ch, err := h.authorizeManage(c)
	if err != nil {
		return err
	}

	wh, err := h.loadInChannel(c, ch.ID)
	if err != nil {
		return err
	}

	if err := h.webhooks.Delete(c.Context(), wh.ID); err != nil {
		return h.mapWebhookError(c, err)
	}
	return httputil.NoContent(c)
}

// Receive handles POST /v1/webhooks/:channelID/:webhookID/:secret. This is
// the only unauthenticated write endpoint; the secret in the path is the
// credential. Wrong ids and wrong secrets are indistinguishable.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	wh, err := h.webhooks.GetByID(c.Context(), c.Params("webhookID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusNotFound, "Webhook not found")
	}
	if wh.ChannelID != c.Params("channelID") ||
		subtle.ConstantTimeCompare([]byte(wh.Secret), []byte(c.Params("secret"))) != 1 {
		return httputil.Fail(c, fiber.StatusNotFound, "Webhook not found")
	}

	in, err := webhook.Translate(c.Get("User-Agent"), c.Get("X-GitHub-Event"), c.Body())
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid webhook payload")
	}
	if in.Content == "" && len(in.Embeds) == 0 {
		// Recognised but uninteresting, like a GitHub ping.
		return httputil.NoContent(c)
	}

	msg, err := h.messages.CreateFromWebhook(c.Context(), wh, in)
	if err != nil {
		return h.mapWebhookError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, msg)
}

// authorizeManage loads the channel and checks the caller is its author.
func (h *WebhookHandler) authorizeManage(c *fiber.Ctx) (*channel.Channel, error) {
	current := auth.CurrentUser(c)

	ch, err := h.channels.GetByID(c.Context(), c.Params("channelID"))
	if err != nil {
		if errors.Is(err, channel.ErrNotFound) {
			return nil, httputil.Fail(c, fiber.StatusNotFound, "Channel not found")
		}
		h.log.Error().Err(err).Str("handler", "webhook").Msg("Failed to load channel")
		return nil, httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if ch.AuthorID != current.ID {
		return nil, httputil.Fail(c, fiber.StatusForbidden, "Only the channel author may manage webhooks")
	}
	return ch, nil
}

// loadInChannel fetches the addressed webhook and checks it belongs to the
// channel in the path.
func (h *WebhookHandler) loadInChannel(c *fiber.Ctx, channelID string) (*webhook.Webhook, error) {
	wh, err := h.webhooks.GetByID(c.Context(), c.Params("webhookID"))
	if err != nil {
		return nil, h.mapWebhookError(c, err)
	}
	if wh.ChannelID != channelID {
		return nil, httputil.Fail(c, fiber.StatusNotFound, "Webhook not found")
	}
	return wh, nil
}

// mapWebhookError translates webhook errors to HTTP responses.
func (h *WebhookHandler) mapWebhookError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, webhook.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, "Webhook not found")
	case errors.Is(err, webhook.ErrNotOwner):
		return httputil.Fail(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, webhook.ErrAlreadyExists),
		errors.Is(err, webhook.ErrNameLength),
		errors.Is(err, message.ErrContentLength),
		errors.Is(err, message.ErrTooManyEmbeds),
		errors.Is(err, message.ErrEmbedTooLong),
		errors.Is(err, message.ErrEmptyMessage):
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "webhook").Msg("Unhandled webhook error")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
}
