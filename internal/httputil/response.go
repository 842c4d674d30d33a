// Package httputil holds the small Fiber helpers shared by every handler:
// response envelopes and request logging.
package httputil

import (
	"github.com/gofiber/fiber/v2"
)

// ErrorResponse is the body of every failed API response.
type ErrorResponse struct {
	Message string `json:"message"`
}

// Success sends a 200 JSON response with the given data.
func Success(c *fiber.Ctx, data any) error {
	return c.JSON(data)
}

// SuccessStatus sends a JSON response with a custom status code.
func SuccessStatus(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(data)
}

// NoContent sends an empty 204 response.
func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}

// Fail sends a JSON error response with the given status and message.
func Fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(ErrorResponse{Message: message})
}
