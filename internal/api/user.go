package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/kajgg/kaj-server/internal/auth"
	"github.com/kajgg/kaj-server/internal/event"
	"github.com/kajgg/kaj-server/internal/httputil"
	"github.com/kajgg/kaj-server/internal/model"
	"github.com/kajgg/kaj-server/internal/user"
)

// maxAvatarSize caps decoded avatar images at 1 MiB.
const maxAvatarSize = 1 << 20

// Avatar upload errors.
var (
	errAvatarFormat   = errors.New("avatar must be a base64 data url of a png, jpeg or gif image")
	errAvatarTooLarge = errors.New("avatar image exceeds 1 MiB")
)

// avatarMIMETypes lists the image formats accepted for avatars.
var avatarMIMETypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
}

// UserHandler serves user endpoints.
type UserHandler struct {
	users    user.Repository
	store    ObjectStore
	bus      Publisher
	presence Presence
	env      string
	log      zerolog.Logger
}

// NewUserHandler creates a new user handler. store may be nil when object
// storage is not configured; avatar uploads are then rejected.
func NewUserHandler(
	users user.Repository,
	store ObjectStore,
	bus Publisher,
	presence Presence,
	env string,
	logger zerolog.Logger,
) *UserHandler {
	return &UserHandler{
		users:    users,
		store:    store,
		bus:      bus,
		presence: presence,
		env:      env,
		log:      logger,
	}
}

// GetUser handles GET /v1/users/:userID. "@me" resolves to the caller and
// returns the private projection; anyone else comes back as a public author.
func (h *UserHandler) GetUser(c *fiber.Ctx) error {
	current := auth.CurrentUser(c)
	id := c.Params("userID")

	if id == "@me" || id == current.ID {
		status := effectiveStatus(c.Context(), h.presence, h.log, current)
		return httputil.Success(c, current.ToModel(status, false))
	}

	u, err := h.users.GetByID(c.Context(), id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, "User not found")
		}
		h.log.Error().Err(err).Str("handler", "user").Msg("Failed to load user")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}

	return httputil.Success(c, u.ToAuthor(effectiveStatus(c.Context(), h.presence, h.log, u)))
}

type updateUserRequest struct {
	Username        *string       `json:"username"`
	Email           *string       `json:"email"`
	Password        *string       `json:"password"`
	DefaultStatus   *model.Status `json:"default_status"`
	Bio             *string       `json:"bio"`
	Color           *string       `json:"color"`
	BackgroundColor *string       `json:"background_color"`
	Avatar          *string       `json:"avatar"`
}

// UpdateUser handles PATCH /v1/users/:userID. Only "@me" (or the caller's own
// id) can be edited. The avatar field takes a base64 data url, or an empty
// string to clear the current image.
func (h *UserHandler) UpdateUser(c *fiber.Ctx) error {
	current := auth.CurrentUser(c)
	if id := c.Params("userID"); id != "@me" && id != current.ID {
		return httputil.Fail(c, fiber.StatusForbidden, "You may only edit your own account")
	}

	var body updateUserRequest
	if err := c.BodyParser(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	params := user.UpdateParams{
		DefaultStatus:   body.DefaultStatus,
		Bio:             body.Bio,
		Color:           body.Color,
		BackgroundColor: body.BackgroundColor,
	}

	if body.Username != nil {
		username, err := user.ValidateUsername(*body.Username)
		if err != nil {
			return h.mapUserError(c, err)
		}
		params.Username = &username
	}
	if body.Email != nil {
		email, err := user.ValidateEmail(*body.Email)
		if err != nil {
			return h.mapUserError(c, err)
		}
		params.Email = &email
	}
	if body.Password != nil {
		if err := user.ValidatePassword(*body.Password); err != nil {
			return h.mapUserError(c, err)
		}
		hash, err := auth.HashPassword(*body.Password)
		if err != nil {
			h.log.Error().Err(err).Str("handler", "user").Msg("Failed to hash password")
			return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
		}
		params.Password = &hash
	}
	if err := user.ValidateStatus(body.DefaultStatus); err != nil {
		return h.mapUserError(c, err)
	}
	if err := user.ValidateBio(body.Bio); err != nil {
		return h.mapUserError(c, err)
	}
	if err := user.ValidateColor(body.Color); err != nil {
		return h.mapUserError(c, err)
	}
	if err := user.ValidateColor(body.BackgroundColor); err != nil {
		return h.mapUserError(c, err)
	}

	clearAvatar := false
	if body.Avatar != nil {
		if *body.Avatar == "" {
			params.SetAvatarNull = true
			clearAvatar = true
		} else {
			url, err := h.storeAvatar(c, current.ID, *body.Avatar)
			if err != nil {
				return h.mapUserError(c, err)
			}
			params.AvatarURL = &url
		}
	}

	updated, err := h.users.Update(c.Context(), current.ID, params)
	if err != nil {
		return h.mapUserError(c, err)
	}

	if clearAvatar {
		h.deleteAvatarObject(current.ID)
	}

	status := effectiveStatus(c.Context(), h.presence, h.log, updated)
	publish(c.Context(), h.bus, h.log, event.AuthorUpdated{Author: updated.ToAuthor(status)})

	return httputil.Success(c, updated.ToModel(status, false))
}

type uploadAvatarRequest struct {
	Avatar string `json:"avatar"`
}

// UploadAvatar handles POST /v1/users/:userID/avatar. The body carries the
// image as a base64 data url; only "@me" (or the caller's own id) is allowed.
func (h *UserHandler) UploadAvatar(c *fiber.Ctx) error {
	current := auth.CurrentUser(c)
	if id := c.Params("userID"); id != "@me" && id != current.ID {
		return httputil.Fail(c, fiber.StatusForbidden, "You may only edit your own avatar")
	}

	var body uploadAvatarRequest
	if err := c.BodyParser(&body); err != nil || body.Avatar == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	url, err := h.storeAvatar(c, current.ID, body.Avatar)
	if err != nil {
		return h.mapUserError(c, err)
	}

	updated, err := h.users.Update(c.Context(), current.ID, user.UpdateParams{AvatarURL: &url})
	if err != nil {
		return h.mapUserError(c, err)
	}

	status := effectiveStatus(c.Context(), h.presence, h.log, updated)
	publish(c.Context(), h.bus, h.log, event.AuthorUpdated{Author: updated.ToAuthor(status)})

	return httputil.Success(c, updated.ToModel(status, false))
}

// DeleteAvatar handles DELETE /v1/users/:userID/avatar. The database row is
// cleared first; removing the stored object is best effort.
func (h *UserHandler) DeleteAvatar(c *fiber.Ctx) error {
	current := auth.CurrentUser(c)
	if id := c.Params("userID"); id != "@me" && id != current.ID {
		return httputil.Fail(c, fiber.StatusForbidden, "You may only edit your own avatar")
	}

	updated, err := h.users.Update(c.Context(), current.ID, user.UpdateParams{SetAvatarNull: true})
	if err != nil {
		return h.mapUserError(c, err)
	}

	h.deleteAvatarObject(current.ID)

	status := effectiveStatus(c.Context(), h.presence, h.log, updated)
	publish(c.Context(), h.bus, h.log, event.AuthorUpdated{Author: updated.ToAuthor(status)})

	return httputil.Success(c, updated.ToModel(status, false))
}

// deleteAvatarObject removes the stored avatar image in the background. The
// database row is already cleared, so failures only leave an orphan object.
func (h *UserHandler) deleteAvatarObject(userID string) {
	if h.store == nil {
		return
	}
	key := h.avatarKey(userID)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.store.Delete(ctx, key); err != nil {
			h.log.Warn().Err(err).Str("key", key).Msg("Failed to delete avatar object")
		}
	}()
}

// storeAvatar decodes, validates and uploads an avatar image, returning its
// public URL with a cache-busting version parameter.
func (h *UserHandler) storeAvatar(c *fiber.Ctx, userID, dataURL string) (string, error) {
	if h.store == nil {
		return "", errStorageDisabled
	}

	data, mimeType, err := decodeAvatarDataURL(dataURL)
	if err != nil {
		return "", err
	}
	if _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
		return "", errAvatarFormat
	}

	key := h.avatarKey(userID)
	if err := h.store.Put(c.Context(), key, mimeType, bytes.NewReader(data)); err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("Failed to upload avatar")
		return "", fmt.Errorf("store avatar: %w", err)
	}

	return h.store.URL(key) + "?v=" + strconv.FormatInt(time.Now().UnixMilli(), 10), nil
}

func (h *UserHandler) avatarKey(userID string) string {
	return fmt.Sprintf("%s/avatars/%s", h.env, userID)
}

// decodeAvatarDataURL parses a data url into raw image bytes, enforcing the
// accepted formats and the size cap.
func decodeAvatarDataURL(s string) ([]byte, string, error) {
	mimeType, data, err := parseDataURL(s)
	if err != nil || !avatarMIMETypes[mimeType] {
		return nil, "", errAvatarFormat
	}
	if len(data) > maxAvatarSize {
		return nil, "", errAvatarTooLarge
	}
	return data, mimeType, nil
}

// mapUserError translates profile errors to HTTP responses.
func (h *UserHandler) mapUserError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, user.ErrUsernameInvalid),
		errors.Is(err, user.ErrPasswordLength),
		errors.Is(err, user.ErrBioLength),
		errors.Is(err, user.ErrInvalidColor),
		errors.Is(err, user.ErrInvalidStatus),
		errors.Is(err, user.ErrAlreadyExists),
		errors.Is(err, errAvatarFormat),
		errors.Is(err, errAvatarTooLarge),
		errors.Is(err, errStorageDisabled):
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, user.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, "User not found")
	default:
		h.log.Error().Err(err).Str("handler", "user").Msg("Unhandled user error")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
}
