package api

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/kajgg/kaj-server/internal/auth"
	"github.com/kajgg/kaj-server/internal/emoji"
	"github.com/kajgg/kaj-server/internal/httputil"
	"github.com/kajgg/kaj-server/internal/ident"
	"github.com/kajgg/kaj-server/internal/model"
)

// EmojiHandler serves custom emoji endpoints.
type EmojiHandler struct {
	emojis    emoji.Repository
	store     ObjectStore
	env       string
	publicURL string
	log       zerolog.Logger
}

// NewEmojiHandler creates a new emoji handler. store may be nil when object
// storage is not configured; creation is then rejected.
func NewEmojiHandler(emojis emoji.Repository, store ObjectStore, env, publicURL string, logger zerolog.Logger) *EmojiHandler {
	return &EmojiHandler{
		emojis:    emojis,
		store:     store,
		env:       env,
		publicURL: publicURL,
		log:       logger,
	}
}

// ListAll handles GET /v1/emojis. Clients need everyone's emojis to render
// messages that use them.
func (h *EmojiHandler) ListAll(c *fiber.Ctx) error {
	emojis, err := h.emojis.List(c.Context())
	if err != nil {
		h.log.Error().Err(err).Str("handler", "emoji").Msg("Failed to list emojis")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return httputil.Success(c, h.project(emojis))
}

// ListByOwner handles GET /v1/users/:userID/emojis.
func (h *EmojiHandler) ListByOwner(c *fiber.Ctx) error {
	ownerID := h.resolveOwner(c)

	emojis, err := h.emojis.ListByOwner(c.Context(), ownerID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "emoji").Msg("Failed to list emojis")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return httputil.Success(c, h.project(emojis))
}

type createEmojiRequest struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// CreateEmoji handles POST /v1/users/:userID/emojis. Only "@me" accepts
// writes. The image is a base64 data url; gifs come out animated.
func (h *EmojiHandler) CreateEmoji(c *fiber.Ctx) error {
	current := auth.CurrentUser(c)
	if ownerID := h.resolveOwner(c); ownerID != current.ID {
		return httputil.Fail(c, fiber.StatusForbidden, "You may only manage your own emojis")
	}
	if h.store == nil {
		return h.mapEmojiError(c, errStorageDisabled)
	}

	var body createEmojiRequest
	if err := c.BodyParser(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	name, err := emoji.ValidateName(body.Name)
	if err != nil {
		return h.mapEmojiError(c, err)
	}
	name = strings.ToLower(name)

	mimeType, data, err := parseDataURL(body.Image)
	if err != nil {
		return h.mapEmojiError(c, err)
	}
	ext, animated, err := emoji.ExtForMIME(mimeType)
	if err != nil {
		return h.mapEmojiError(c, err)
	}
	if len(data) > emoji.MaxImageSize {
		return h.mapEmojiError(c, emoji.ErrTooLarge)
	}

	record, err := h.emojis.Create(c.Context(), emoji.CreateParams{
		ID:       ident.New(),
		OwnerID:  current.ID,
		Name:     name,
		Animated: animated,
		Ext:      ext,
	})
	if err != nil {
		return h.mapEmojiError(c, err)
	}

	// Two objects per emoji: the canonical extensioned key and a bare alias
	// for clients that address emojis by id alone.
	for _, key := range []string{record.Key(h.env), record.BareKey(h.env)} {
		if err := h.store.Put(c.Context(), key, mimeType, bytes.NewReader(data)); err != nil {
			h.log.Error().Err(err).Str("key", key).Msg("Failed to upload emoji image")
			if err := h.emojis.Delete(c.Context(), record.ID); err != nil {
				h.log.Warn().Err(err).Str("emoji_id", record.ID).Msg("Failed to roll back emoji record")
			}
			return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
		}
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, record.ToModel(h.publicURL, h.env))
}

type renameEmojiRequest struct {
	Name string `json:"name"`
}

// RenameEmoji handles PATCH /v1/users/:userID/emojis/:emojiID.
func (h *EmojiHandler) RenameEmoji(c *fiber.Ctx) error {
	record, err := h.authorizeOwn(c)
	if err != nil {
		return err
	}

	var body renameEmojiRequest
	if err := c.BodyParser(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	name, err := emoji.ValidateName(body.Name)
	if err != nil {
		return h.mapEmojiError(c, err)
	}

	updated, err := h.emojis.Rename(c.Context(), record.ID, strings.ToLower(name))
	if err != nil {
		return h.mapEmojiError(c, err)
	}
	return httputil.Success(c, updated.ToModel(h.publicURL, h.env))
}

// DeleteEmoji handles DELETE /v1/users/:userID/emojis/:emojiID. The stored
// images are removed best effort after the record goes.
func (h *EmojiHandler) DeleteEmoji(c *fiber.Ctx) error {
	record, err := h.authorizeOwn(c)
	if err != nil {
		return err
	}

	if err := h.emojis.Delete(c.Context(), record.ID); err != nil {
		return h.mapEmojiError(c, err)
	}

	if h.store != nil {
		keys := []string{record.Key(h.env), record.BareKey(h.env)}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			for _, key := range keys {
				if err := h.store.Delete(ctx, key); err != nil {
					h.log.Warn().Err(err).Str("key", key).Msg("Failed to delete emoji object")
				}
			}
		}()
	}

	return httputil.NoContent(c)
}

// authorizeOwn loads the emoji and checks the caller owns it (admins may
// manage any emoji).
func (h *EmojiHandler) authorizeOwn(c *fiber.Ctx) (*emoji.Emoji, error) {
	current := auth.CurrentUser(c)

	record, err := h.emojis.GetByID(c.Context(), c.Params("emojiID"))
	if err != nil {
		return nil, h.mapEmojiError(c, err)
	}
	if record.OwnerID != current.ID && !current.Admin {
		return nil, h.mapEmojiError(c, emoji.ErrNotOwner)
	}
	return record, nil
}

// resolveOwner maps the userID path parameter to an account id.
func (h *EmojiHandler) resolveOwner(c *fiber.Ctx) string {
	id := c.Params("userID")
	if id == "@me" {
		return auth.CurrentUser(c).ID
	}
	return id
}

func (h *EmojiHandler) project(emojis []emoji.Emoji) []model.Emoji {
	out := make([]model.Emoji, 0, len(emojis))
	for i := range emojis {
		out = append(out, emojis[i].ToModel(h.publicURL, h.env))
	}
	return out
}

// mapEmojiError translates emoji errors to HTTP responses.
func (h *EmojiHandler) mapEmojiError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, emoji.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, "Emoji not found")
	case errors.Is(err, emoji.ErrNotOwner):
		return httputil.Fail(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, emoji.ErrAlreadyExists),
		errors.Is(err, emoji.ErrNameInvalid),
		errors.Is(err, emoji.ErrTooLarge),
		errors.Is(err, emoji.ErrUnsupportedType),
		errors.Is(err, errDataURL),
		errors.Is(err, errStorageDisabled):
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "emoji").Msg("Unhandled emoji error")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
}
