package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kajgg/kaj-server/internal/httputil"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	db  *pgxpool.Pool
	rdb *redis.Client
	log zerolog.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db *pgxpool.Pool, rdb *redis.Client, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{db: db, rdb: rdb, log: logger}
}

// Live handles GET /v1/health. It answers as long as the process serves.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return httputil.Success(c, fiber.Map{"status": "ok"})
}

// Ready handles GET /v1/internal/ready. It checks the backing stores, so it
// sits behind the internal token.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	if err := h.db.Ping(c.Context()); err != nil {
		h.log.Warn().Err(err).Str("handler", "health").Msg("Database ping failed")
		return httputil.Fail(c, fiber.StatusServiceUnavailable, "Database unavailable")
	}
	if err := h.rdb.Ping(c.Context()).Err(); err != nil {
		h.log.Warn().Err(err).Str("handler", "health").Msg("Redis ping failed")
		return httputil.Fail(c, fiber.StatusServiceUnavailable, "Redis unavailable")
	}
	return httputil.Success(c, fiber.Map{"status": "ready"})
}
