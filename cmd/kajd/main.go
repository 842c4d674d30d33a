package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kajgg/kaj-server/internal/api"
	"github.com/kajgg/kaj-server/internal/auth"
	"github.com/kajgg/kaj-server/internal/channel"
	"github.com/kajgg/kaj-server/internal/config"
	"github.com/kajgg/kaj-server/internal/email"
	"github.com/kajgg/kaj-server/internal/emoji"
	"github.com/kajgg/kaj-server/internal/entitlement"
	"github.com/kajgg/kaj-server/internal/file"
	"github.com/kajgg/kaj-server/internal/gateway"
	"github.com/kajgg/kaj-server/internal/httputil"
	"github.com/kajgg/kaj-server/internal/invite"
	"github.com/kajgg/kaj-server/internal/kv"
	"github.com/kajgg/kaj-server/internal/message"
	"github.com/kajgg/kaj-server/internal/objstore"
	"github.com/kajgg/kaj-server/internal/postgres"
	"github.com/kajgg/kaj-server/internal/presence"
	"github.com/kajgg/kaj-server/internal/stream"
	"github.com/kajgg/kaj-server/internal/unfurl"
	"github.com/kajgg/kaj-server/internal/user"
	"github.com/kajgg/kaj-server/internal/webhook"
)

const redisDialTimeout = 5 * time.Second

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().Str("env", cfg.Env).Str("mode", cfg.Mode).Msg("Starting kaj server")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is set to a wildcard \"*\". Set an explicit origin for production deployments.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	rdb, err := kv.Connect(ctx, cfg.RedisURL, redisDialTimeout)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	app := fiber.New(fiber.Config{
		AppName:               "kaj",
		DisableStartupMessage: true,
		BodyLimit:             cfg.BodyLimitBytes(),
		// ErrorHandler catches errors handlers did not map themselves,
		// including Fiber's built-in 404/405.
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return c.Status(fe.Code).JSON(fiber.Map{"message": fe.Message})
			}
			log.Error().Err(err).
				Str("method", c.Method()).
				Str("path", c.Path()).
				Msg("Unhandled error")
			return c.Status(fiber.StatusInternalServerError).
				JSON(fiber.Map{"message": "An internal error occurred"})
		},
	})

	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(log.Logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.CORSAllowOrigins,
		AllowMethods:  "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,Authorization",
		ExposeHeaders: "X-Request-ID",
	}))

	switch cfg.Mode {
	case config.ModeAPI:
		if err := buildAPI(ctx, app, cfg, db, rdb); err != nil {
			return err
		}
	case config.ModeGateway:
		if err := buildGateway(ctx, app, cfg, db, rdb); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down server")
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Info().Str("addr", addr).Msg("Server listening")
	if err := app.Listen(addr); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// buildAPI wires the REST surface: repositories over the shared pool, the
// message pipeline, and one handler per resource.
func buildAPI(ctx context.Context, app *fiber.App, cfg *config.Config, db *pgxpool.Pool, rdb *redis.Client) error {
	users := user.NewPGRepository(db, log.Logger)
	channels := channel.NewPGRepository(db, log.Logger)
	invites := invite.NewPGRepository(db, log.Logger)
	files := file.NewPGRepository(db, log.Logger)
	emojis := emoji.NewPGRepository(db, log.Logger)
	webhooks := webhook.NewPGRepository(db, log.Logger)

	var store api.ObjectStore
	if cfg.ObjectStoreConfigured() {
		client, err := objstore.New(ctx, cfg.R2AccountID, cfg.R2AccessKeyID,
			cfg.R2SecretAccessKey, cfg.R2Bucket, cfg.R2PublicURL)
		if err != nil {
			return fmt.Errorf("connect object storage: %w", err)
		}
		store = client
		log.Info().Str("bucket", cfg.R2Bucket).Msg("Object storage connected")
	} else {
		log.Warn().Msg("Object storage not configured, uploads are disabled")
	}

	mail := email.NewClient(cfg.ResendToken, cfg.EmailFrom)
	if !mail.Enabled() {
		log.Warn().Msg("RESEND_TOKEN not set, verification emails are disabled")
	}

	bus := stream.NewBus(rdb, log.Logger)
	registry := presence.NewRegistry(rdb, cfg.Env, cfg.GatewayConnStale)
	messages := message.NewService(
		message.NewPGRepository(db, log.Logger),
		channels, users, files, bus, registry, unfurl.New(log.Logger),
		log.Logger, cfg.Env, cfg.R2PublicURL, cfg.MaxFilesPerMessage,
	)

	h := api.Handlers{
		Auth:     api.NewAuthHandler(users, channels, messages, registry, mail, log.Logger),
		Users:    api.NewUserHandler(users, store, bus, registry, cfg.Env, log.Logger),
		Channels: api.NewChannelHandler(channels, messages, users, bus, registry, log.Logger),
		Invites:  api.NewInviteHandler(invites, channels, messages, log.Logger),
		Messages: api.NewMessageHandler(messages, log.Logger),
		Typing:   api.NewTypingHandler(channels, registry, bus, log.Logger),
		Files:    api.NewFileHandler(files, store, cfg.Env, cfg.R2PublicURL, cfg.MaxUploadSize, cfg.MaxFilesPerMessage, log.Logger),
		Emojis:   api.NewEmojiHandler(emojis, store, cfg.Env, cfg.R2PublicURL, log.Logger),
		Webhooks: api.NewWebhookHandler(webhooks, channels, messages, log.Logger),
		Health:   api.NewHealthHandler(db, rdb, log.Logger),
	}
	api.Register(app, h, auth.RequireAuth(users), auth.RequireInternal(cfg.InternalToken))
	return nil
}

// buildGateway wires the SSE fan-out node. The tail loop runs for the life of
// the process; if it dies the process exits and the supervisor restarts it.
func buildGateway(ctx context.Context, app *fiber.App, cfg *config.Config, db *pgxpool.Pool, rdb *redis.Client) error {
	users := user.NewPGRepository(db, log.Logger)
	channels := channel.NewPGRepository(db, log.Logger)

	cache, err := entitlement.NewCache(ctx, channels)
	if err != nil {
		return fmt.Errorf("load entitlements: %w", err)
	}

	bus := stream.NewBus(rdb, log.Logger)
	registry := presence.NewRegistry(rdb, cfg.Env, cfg.GatewayConnStale)
	node := gateway.NewNode(bus, cache, registry, users, log.Logger)

	go func() {
		if err := node.Run(ctx); err != nil {
			log.Fatal().Err(err).Msg("Event stream tail stopped")
		}
	}()

	// The gateway is its own deployment, so the stream lives at the root;
	// /v1/gateway stays mounted for clients that route both roles through
	// one origin.
	app.Get("/", node.Handler())
	app.Get("/v1/gateway", node.Handler())
	app.Get("/v1/health", api.NewHealthHandler(db, rdb, log.Logger).Live)
	return nil
}
