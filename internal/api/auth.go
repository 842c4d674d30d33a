package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kajgg/kaj-server/internal/auth"
	"github.com/kajgg/kaj-server/internal/channel"
	"github.com/kajgg/kaj-server/internal/email"
	"github.com/kajgg/kaj-server/internal/httputil"
	"github.com/kajgg/kaj-server/internal/ident"
	"github.com/kajgg/kaj-server/internal/message"
	"github.com/kajgg/kaj-server/internal/model"
	"github.com/kajgg/kaj-server/internal/user"
)

// signupJoinTimeout bounds the background pass that adds a fresh account to
// every public channel.
const signupJoinTimeout = 30 * time.Second

// AuthHandler serves signup, login and email verification.
type AuthHandler struct {
	users    user.Repository
	channels channel.Repository
	messages *message.Service
	presence Presence
	mail     *email.Client
	log      zerolog.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(
	users user.Repository,
	channels channel.Repository,
	messages *message.Service,
	presence Presence,
	mail *email.Client,
	logger zerolog.Logger,
) *AuthHandler {
	return &AuthHandler{
		users:    users,
		channels: channels,
		messages: messages,
		presence: presence,
		mail:     mail,
		log:      logger,
	}
}

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signup handles POST /v1/signup. The response includes the bearer token;
// membership of every public channel is granted in the background.
func (h *AuthHandler) Signup(c *fiber.Ctx) error {
	var body signupRequest
	if err := c.BodyParser(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	username, err := user.ValidateUsername(body.Username)
	if err != nil {
		return h.mapAuthError(c, err)
	}
	address, err := user.ValidateEmail(body.Email)
	if err != nil {
		return h.mapAuthError(c, err)
	}
	if err := user.ValidatePassword(body.Password); err != nil {
		return h.mapAuthError(c, err)
	}

	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "auth").Msg("Failed to hash password")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}

	id := ident.New()
	u, err := h.users.Create(c.Context(), user.CreateParams{
		ID:               id,
		Username:         username,
		Email:            address,
		Password:         hash,
		Token:            ident.GenerateToken(id),
		VerificationCode: uuid.NewString(),
	})
	if err != nil {
		return h.mapAuthError(c, err)
	}

	if h.mail.Enabled() {
		go h.sendVerification(u)
	}
	go h.joinPublicChannels(u)

	return httputil.SuccessStatus(c, fiber.StatusCreated, u.ToModel(u.EffectiveStatus(false), true))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /v1/login. The username field accepts either a username
// or an email address. Lookup misses still burn a hash comparison so timing
// does not reveal whether the account exists.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var body loginRequest
	if err := c.BodyParser(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	u, err := h.lookup(c.Context(), body.Username)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			auth.BurnVerification(body.Password)
			return httputil.Fail(c, fiber.StatusUnauthorized, "Invalid credentials")
		}
		h.log.Error().Err(err).Str("handler", "auth").Msg("Failed to look up account")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}

	if !auth.VerifyPassword(body.Password, u.Password) {
		return httputil.Fail(c, fiber.StatusUnauthorized, "Invalid credentials")
	}

	return httputil.Success(c, u.ToModel(effectiveStatus(c.Context(), h.presence, h.log, u), true))
}

type verifyRequest struct {
	Code string `json:"code"`
}

// Verify handles POST /v1/verify for the authenticated account.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	u := auth.CurrentUser(c)

	var body verifyRequest
	if err := c.BodyParser(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	updated, err := h.users.Verify(c.Context(), u.ID, body.Code)
	if err != nil {
		if errors.Is(err, user.ErrInvalidCode) {
			return httputil.Fail(c, fiber.StatusBadRequest, "Invalid verification code")
		}
		h.log.Error().Err(err).Str("handler", "auth").Msg("Failed to verify account")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}

	return httputil.Success(c, updated.ToModel(effectiveStatus(c.Context(), h.presence, h.log, updated), false))
}

// lookup finds an account by username or email. Both are stored lowercased.
func (h *AuthHandler) lookup(ctx context.Context, name string) (*user.User, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, user.ErrNotFound
	}

	if strings.ContainsRune(name, '@') {
		return h.users.GetByEmail(ctx, name)
	}

	matches, err := h.users.GetByUsernames(ctx, []string{name})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, user.ErrNotFound
	}
	return &matches[0], nil
}

// sendVerification delivers the signup email in the background.
func (h *AuthHandler) sendVerification(u *user.User) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	code := ""
	if u.VerificationCode != nil {
		code = *u.VerificationCode
	}
	if err := h.mail.SendVerification(ctx, u.Email, u.Username, code); err != nil {
		h.log.Warn().Err(err).Str("user_id", u.ID).Msg("Failed to send verification email")
	}
}

// joinPublicChannels adds a fresh account to every public channel and posts
// the join notices. Runs in the background so signup latency stays flat as
// the channel count grows.
func (h *AuthHandler) joinPublicChannels(u *user.User) {
	ctx, cancel := context.WithTimeout(context.Background(), signupJoinTimeout)
	defer cancel()

	ids, err := h.channels.PublicChannelIDs(ctx)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", u.ID).Msg("Failed to list public channels for signup")
		return
	}

	for _, channelID := range ids {
		if err := h.channels.AddMember(ctx, channelID, u.ID); err != nil {
			if !errors.Is(err, channel.ErrAlreadyMember) {
				h.log.Warn().Err(err).Str("channel_id", channelID).Str("user_id", u.ID).Msg("Failed to auto-join public channel")
			}
			continue
		}
		if _, err := h.messages.CreateSystem(ctx, u, channelID, model.MessageJoin); err != nil {
			h.log.Warn().Err(err).Str("channel_id", channelID).Str("user_id", u.ID).Msg("Failed to post join notice")
		}
	}
}

// mapAuthError translates account validation errors to HTTP responses.
func (h *AuthHandler) mapAuthError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, user.ErrUsernameInvalid),
		errors.Is(err, user.ErrEmailInvalid),
		errors.Is(err, user.ErrPasswordLength),
		errors.Is(err, user.ErrAlreadyExists):
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "auth").Msg("Unhandled auth error")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
}
