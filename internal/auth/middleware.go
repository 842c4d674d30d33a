package auth

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/kajgg/kaj-server/internal/httputil"
	"github.com/kajgg/kaj-server/internal/user"
)

// Locals keys set by the middleware.
const (
	LocalUser   = "authUser"
	LocalUserID = "userID"
)

// RequireAuth returns Fiber middleware that resolves the Authorization header
// to a user record. Tokens are opaque and matched by database lookup. The
// resolved user is stored in c.Locals under LocalUser and LocalUserID.
func RequireAuth(users user.Repository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return httputil.Fail(c, fiber.StatusUnauthorized, "Missing authorization header")
		}

		u, err := users.GetByToken(c.Context(), token)
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				return httputil.Fail(c, fiber.StatusUnauthorized, "Invalid token")
			}
			return httputil.Fail(c, fiber.StatusInternalServerError, "Internal server error")
		}

		c.Locals(LocalUser, u)
		c.Locals(LocalUserID, u.ID)
		return c.Next()
	}
}

// RequireInternal returns middleware that guards operator endpoints behind a
// shared secret. When no secret is configured the endpoints are disabled.
func RequireInternal(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" || bearerToken(c) != secret {
			return httputil.Fail(c, fiber.StatusUnauthorized, "Invalid token")
		}
		return c.Next()
	}
}

// CurrentUser returns the authenticated user stored by RequireAuth.
func CurrentUser(c *fiber.Ctx) *user.User {
	u, _ := c.Locals(LocalUser).(*user.User)
	return u
}

// bearerToken extracts the token from an "Authorization: Bearer x" header.
// A bare token without the Bearer prefix is accepted too.
func bearerToken(c *fiber.Ctx) string {
	header := c.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return header
}
