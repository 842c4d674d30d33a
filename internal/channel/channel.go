// Package channel owns messaging contexts and their membership. Access
// follows one rule everywhere: a user may see a channel when it is public,
// when they authored it, or when they are a member.
package channel

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kajgg/kaj-server/internal/model"
)

// Sentinel errors for the channel package.
var (
	ErrNotFound        = errors.New("channel not found")
	ErrNameLength      = errors.New("channel name must be 3 to 32 letters, digits, underscores or hyphens")
	ErrTopicLength     = errors.New("channel topic must be 1000 characters or fewer")
	ErrNotMember       = errors.New("user is not a member of the channel")
	ErrAlreadyMember   = errors.New("user is already a member of the channel")
	ErrOwnerCannotLeave = errors.New("channel owner cannot leave their own channel")
)

// Channel holds the fields read from the database.
type Channel struct {
	ID            string
	Name          string
	Topic         string
	AuthorID      string
	Private       bool
	LastMessageAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ToModel converts the record to its API projection.
func (c *Channel) ToModel() model.Channel {
	m := model.Channel{
		ID:        c.ID,
		Name:      c.Name,
		Topic:     c.Topic,
		AuthorID:  c.AuthorID,
		Private:   c.Private,
		CreatedAt: model.At(c.CreatedAt),
		UpdatedAt: model.At(c.UpdatedAt),
	}
	if c.LastMessageAt != nil {
		t := model.At(*c.LastMessageAt)
		m.LastMessageAt = &t
	}
	return m
}

// CreateParams groups the inputs for creating a channel.
type CreateParams struct {
	ID       string
	Name     string
	Topic    string
	AuthorID string
	Private  bool
}

// UpdateParams groups the optional fields for PATCH semantics. A nil pointer
// means "no change".
type UpdateParams struct {
	Name    *string
	Topic   *string
	Private *bool
}

// ValidateName trims and checks a required channel name. The charset matches
// usernames so channels stay addressable in plain text.
func ValidateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	n := utf8.RuneCountInString(trimmed)
	if n < 3 || n > 32 {
		return "", ErrNameLength
	}
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return "", ErrNameLength
		}
	}
	return trimmed, nil
}

// ValidateTopic checks a non-nil topic is 1000 characters or fewer. A nil
// pointer means "no change".
func ValidateTopic(topic *string) error {
	if topic == nil {
		return nil
	}
	if utf8.RuneCountInString(*topic) > 1000 {
		return ErrTopicLength
	}
	return nil
}

// Repository defines the data-access contract for channels and membership.
// PublicChannelIDs and MemberChannelIDs also serve the gateway's entitlement
// cache.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Channel, error)
	GetByID(ctx context.Context, id string) (*Channel, error)
	Update(ctx context.Context, id string, params UpdateParams) (*Channel, error)
	Delete(ctx context.Context, id string) error
	ListVisible(ctx context.Context, userID string) ([]Channel, error)
	SetLastMessageAt(ctx context.Context, id string, at time.Time) error

	PublicChannelIDs(ctx context.Context) ([]string, error)
	MemberChannelIDs(ctx context.Context, userID string) ([]string, error)

	AddMember(ctx context.Context, channelID, userID string) error
	RemoveMember(ctx context.Context, channelID, userID string) error
	MemberIDs(ctx context.Context, channelID string) ([]string, error)
	CanAccess(ctx context.Context, channelID, userID string) (bool, error)
}
