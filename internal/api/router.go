package api

import (
	"github.com/gofiber/fiber/v2"
)

// Handlers bundles every resource handler for route registration.
type Handlers struct {
	Auth     *AuthHandler
	Users    *UserHandler
	Channels *ChannelHandler
	Invites  *InviteHandler
	Messages *MessageHandler
	Typing   *TypingHandler
	Files    *FileHandler
	Emojis   *EmojiHandler
	Webhooks *WebhookHandler
	Health   *HealthHandler
}

// Register mounts the REST surface under /v1. requireAuth guards everything
// except signup, login, the liveness probe and the webhook delivery endpoint;
// requireInternal guards operator probes.
func Register(app *fiber.App, h Handlers, requireAuth, requireInternal fiber.Handler) {
	v1 := app.Group("/v1")

	v1.Get("/health", h.Health.Live)
	v1.Post("/signup", h.Auth.Signup)
	v1.Post("/login", h.Auth.Login)
	v1.Post("/webhooks/:channelID/:webhookID/:secret", h.Webhooks.Receive)

	internal := v1.Group("/internal", requireInternal)
	internal.Get("/ready", h.Health.Ready)

	authed := v1.Group("", requireAuth)
	authed.Post("/verify", h.Auth.Verify)

	authed.Get("/users/:userID", h.Users.GetUser)
	authed.Patch("/users/:userID", h.Users.UpdateUser)
	authed.Post("/users/:userID/avatar", h.Users.UploadAvatar)
	authed.Delete("/users/:userID/avatar", h.Users.DeleteAvatar)

	authed.Get("/emojis", h.Emojis.ListAll)
	authed.Get("/users/:userID/emojis", h.Emojis.ListByOwner)
	authed.Post("/users/:userID/emojis", h.Emojis.CreateEmoji)
	authed.Patch("/users/:userID/emojis/:emojiID", h.Emojis.RenameEmoji)
	authed.Delete("/users/:userID/emojis/:emojiID", h.Emojis.DeleteEmoji)

	authed.Get("/channels", h.Channels.ListChannels)
	authed.Post("/channels", h.Channels.CreateChannel)
	authed.Patch("/channels/:channelID", h.Channels.UpdateChannel)
	authed.Delete("/channels/:channelID", h.Channels.DeleteChannel)
	authed.Post("/channels/:channelID/leave", h.Channels.LeaveChannel)
	authed.Get("/channels/:channelID/members", h.Channels.ListMembers)

	authed.Get("/channels/:channelID/invites", h.Invites.ListInvites)
	authed.Post("/channels/:channelID/invites", h.Invites.CreateInvite)
	authed.Delete("/channels/:channelID/invites/:inviteID", h.Invites.DeleteInvite)
	authed.Post("/invites/:code/join", h.Invites.JoinInvite)

	authed.Get("/channels/:channelID/messages", h.Messages.ListMessages)
	authed.Post("/channels/:channelID/messages", h.Messages.CreateMessage)
	authed.Get("/channels/:channelID/messages/:messageID", h.Messages.GetMessage)
	authed.Patch("/channels/:channelID/messages/:messageID", h.Messages.UpdateMessage)
	authed.Delete("/channels/:channelID/messages/:messageID", h.Messages.DeleteMessage)
	authed.Post("/channels/:channelID/typing", h.Typing.StartTyping)

	authed.Post("/files/presign", h.Files.Presign)
	authed.Post("/files/complete", h.Files.Complete)

	authed.Get("/channels/:channelID/webhooks", h.Webhooks.ListWebhooks)
	authed.Post("/channels/:channelID/webhooks", h.Webhooks.CreateWebhook)
	authed.Patch("/channels/:channelID/webhooks/:webhookID", h.Webhooks.UpdateWebhook)
	authed.Delete("/channels/:channelID/webhooks/:webhookID", h.Webhooks.DeleteWebhook)
}
