// Package event defines the sealed set of gateway event variants and the
// codec between them and the wire envelope carried on the stream.
package event

import "github.com/kajgg/kaj-server/internal/model"

// Type is the discriminator tag carried in the envelope's t field.
type Type string

// Event types. The tag is authoritative: decoding dispatches on it and
// unknown tags are dropped for forward compatibility.
const (
	TypeChannelCreated Type = "channel_created"
	TypeChannelUpdated Type = "channel_updated"
	TypeChannelDeleted Type = "channel_deleted"
	TypeMessageCreated Type = "message_created"
	TypeMessageUpdated Type = "message_updated"
	TypeMessageDeleted Type = "message_deleted"
	TypeAuthorUpdated  Type = "author_updated"
	TypeTypingStarted  Type = "typing_started"
	TypeHeartbeat      Type = "heartbeat"
)

// Event is the sealed interface over all gateway event variants.
type Event interface {
	// EventType returns the envelope tag for this variant.
	EventType() Type
}

// ChannelCreated announces a new channel.
type ChannelCreated struct {
	Channel model.Channel `json:"channel"`
}

// ChannelUpdated announces edits to a channel.
type ChannelUpdated struct {
	Channel model.Channel `json:"channel"`
}

// ChannelDeleted announces a channel removal. Only the id survives.
type ChannelDeleted struct {
	ChannelID string `json:"channel_id"`
}

// MessageCreated announces a new message. Author and channel are expanded
// opportunistically so clients can render without extra lookups.
type MessageCreated struct {
	Message model.Message  `json:"message"`
	Author  *model.Author  `json:"author,omitempty"`
	Channel *model.Channel `json:"channel,omitempty"`
}

// MessageUpdated announces an edit, including unfurler embed updates.
type MessageUpdated struct {
	Message model.Message `json:"message"`
}

// MessageDeleted announces a soft deletion.
type MessageDeleted struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
}

// AuthorUpdated announces a change to a user's public profile or presence.
type AuthorUpdated struct {
	Author model.Author `json:"author"`
}

// TypingStarted announces that a user began typing in a channel.
type TypingStarted struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

// Heartbeat keeps SSE connections warm. It carries no payload.
type Heartbeat struct{}

func (ChannelCreated) EventType() Type { return TypeChannelCreated }
func (ChannelUpdated) EventType() Type { return TypeChannelUpdated }
func (ChannelDeleted) EventType() Type { return TypeChannelDeleted }
func (MessageCreated) EventType() Type { return TypeMessageCreated }
func (MessageUpdated) EventType() Type { return TypeMessageUpdated }
func (MessageDeleted) EventType() Type { return TypeMessageDeleted }
func (AuthorUpdated) EventType() Type  { return TypeAuthorUpdated }
func (TypingStarted) EventType() Type  { return TypeTypingStarted }
func (Heartbeat) EventType() Type      { return TypeHeartbeat }

// ChannelScope returns the channel id an event is scoped to, if any.
// Channel-scoped events are subject to entitlement filtering; everything else
// is delivered to every connected client.
func ChannelScope(ev Event) (string, bool) {
	switch e := ev.(type) {
	case ChannelCreated:
		return e.Channel.ID, true
	case ChannelUpdated:
		return e.Channel.ID, true
	case ChannelDeleted:
		return e.ChannelID, true
	case MessageCreated:
		return e.Message.ChannelID, true
	case MessageUpdated:
		return e.Message.ChannelID, true
	case MessageDeleted:
		return e.ChannelID, true
	default:
		return "", false
	}
}
