// Package webhook owns channel webhooks: secret URLs that let external
// services post messages into a channel. Messages posted this way carry a
// synthetic author derived from the webhook itself.
package webhook

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kajgg/kaj-server/internal/model"
)

// Sentinel errors for the webhook package.
var (
	ErrNotFound      = errors.New("webhook not found")
	ErrAlreadyExists = errors.New("a webhook with that name already exists in the channel")
	ErrNameLength    = errors.New("webhook name must be between 1 and 80 characters")
	ErrNotOwner      = errors.New("webhook belongs to another user")
)

// Webhook holds the fields read from the database.
type Webhook struct {
	ID        string
	ChannelID string
	OwnerID   string
	Name      string
	Color     string
	Secret    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ToModel converts the record to its API projection. The secret is only
// included for the owner.
func (w *Webhook) ToModel(includeSecret bool) model.Webhook {
	m := model.Webhook{
		ID:        w.ID,
		ChannelID: w.ChannelID,
		OwnerID:   w.OwnerID,
		Name:      w.Name,
		Color:     w.Color,
		CreatedAt: model.At(w.CreatedAt),
		UpdatedAt: model.At(w.UpdatedAt),
	}
	if includeSecret {
		m.Secret = w.Secret
	}
	return m
}

// SyntheticAuthor builds the author shown on messages this webhook posts.
// The author id is the webhook id, so clients can render webhook messages
// without a matching user record.
func (w *Webhook) SyntheticAuthor() model.Author {
	color := w.Color
	return model.Author{
		ID:        w.ID,
		Username:  w.Name,
		Status:    model.StatusOnline,
		Color:     &color,
		Flags:     model.UserFlags{Webhook: true},
		CreatedAt: model.At(w.CreatedAt),
		UpdatedAt: model.At(w.UpdatedAt),
	}
}

// CreateParams groups the inputs for creating a webhook.
type CreateParams struct {
	ID        string
	ChannelID string
	OwnerID   string
	Name      string
	Color     string
	Secret    string
}

// UpdateParams groups the optional fields for PATCH semantics. A nil pointer
// means "no change".
type UpdateParams struct {
	Name  *string
	Color *string
}

// ValidateName trims and checks a webhook name.
func ValidateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	n := utf8.RuneCountInString(trimmed)
	if n < 1 || n > 80 {
		return "", ErrNameLength
	}
	return trimmed, nil
}

// Repository defines the data-access contract for webhooks.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Webhook, error)
	GetByID(ctx context.Context, id string) (*Webhook, error)
	GetBySecret(ctx context.Context, secret string) (*Webhook, error)
	ListByChannel(ctx context.Context, channelID string) ([]Webhook, error)
	Update(ctx context.Context, id string, params UpdateParams) (*Webhook, error)
	Delete(ctx context.Context, id string) error
}
