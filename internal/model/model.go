// Package model defines the API-facing wire types. Domain records keep only
// ids; these types are the flattened projections sent to clients and carried
// inside gateway events.
package model

// Status is a user presence status.
type Status string

// Presence statuses. Offline is derived and never stored as a default.
const (
	StatusOnline    Status = "online"
	StatusAway      Status = "away"
	StatusDND       Status = "dnd"
	StatusInvisible Status = "invisible"
	StatusOffline   Status = "offline"
)

// ValidStatus reports whether a client may select the given default status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusOnline, StatusAway, StatusDND, StatusInvisible:
		return true
	default:
		return false
	}
}

// MessageType discriminates ordinary messages from membership notices.
type MessageType string

// Message types.
const (
	MessageDefault MessageType = "default"
	MessageJoin    MessageType = "join"
	MessageLeave   MessageType = "leave"
)

// UserFlags is the public flag set on an author.
type UserFlags struct {
	Admin   bool `json:"admin"`
	Webhook bool `json:"webhook"`
}

// Author is the public view of a user, safe to broadcast to anyone.
type Author struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	Status          Status    `json:"status"`
	AvatarURL       *string   `json:"avatar_url"`
	Bio             *string   `json:"bio"`
	Color           *string   `json:"color"`
	BackgroundColor *string   `json:"background_color"`
	Flags           UserFlags `json:"flags"`
	CreatedAt       Time      `json:"created_at"`
	UpdatedAt       Time      `json:"updated_at"`
}

// User is the private view of a user, only returned to the account owner.
// Password and verification code never appear on the wire.
type User struct {
	Author

	Email         string `json:"email"`
	DefaultStatus Status `json:"default_status"`
	Verified      bool   `json:"verified"`
	Bytes         int64  `json:"bytes"`
	Token         string `json:"token,omitempty"`
}

// Channel is a messaging context.
type Channel struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Topic         string `json:"topic"`
	AuthorID      string `json:"author_id"`
	Private       bool   `json:"private"`
	LastMessageAt *Time  `json:"last_message_at"`
	CreatedAt     Time   `json:"created_at"`
	UpdatedAt     Time   `json:"updated_at"`
}

// Embed is a rich content card attached to a message, either supplied by the
// author (or a webhook) or computed by the unfurler.
type Embed struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	URL         *string `json:"url,omitempty"`
	ImageURL    *string `json:"image_url,omitempty"`
	VideoURL    *string `json:"video_url,omitempty"`
	AudioURL    *string `json:"audio_url,omitempty"`
	Footer      *string `json:"footer,omitempty"`
	Color       *string `json:"color,omitempty"`
}

// Empty reports whether the embed carries no visible content at all.
func (e Embed) Empty() bool {
	for _, p := range []*string{e.Title, e.Description, e.ImageURL, e.VideoURL, e.AudioURL, e.Footer} {
		if p != nil && *p != "" {
			return false
		}
	}
	return true
}

// File is the public projection of an uploaded file.
type File struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

// Message is the API projection of a message. Embeds merges user-supplied and
// system embeds, user first.
type Message struct {
	ID        string      `json:"id"`
	ChannelID string      `json:"channel_id"`
	AuthorID  string      `json:"author_id"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Nonce     *string     `json:"nonce,omitempty"`
	Embeds    []Embed     `json:"embeds"`
	Files     []File      `json:"files"`
	Mentions  []string    `json:"mentions"`
	CreatedAt Time        `json:"created_at"`
	UpdatedAt Time        `json:"updated_at"`
}

// ChannelInvite grants channel membership to whoever redeems its code.
type ChannelInvite struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	ChannelID string `json:"channel_id"`
	AuthorID  string `json:"author_id"`
	ExpiresAt *Time  `json:"expires_at"`
	MaxUses   *int   `json:"max_uses"`
	Uses      int    `json:"uses"`
	CreatedAt Time   `json:"created_at"`
}

// Emoji is a custom emoji owned by a user.
type Emoji struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Name      string `json:"name"`
	Animated  bool   `json:"animated"`
	URL       string `json:"url"`
	CreatedAt Time   `json:"created_at"`
}

// Webhook posts messages into a channel when its secret URL is called.
type Webhook struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	OwnerID   string `json:"owner_id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	Secret    string `json:"secret,omitempty"`
	CreatedAt Time   `json:"created_at"`
	UpdatedAt Time   `json:"updated_at"`
}
