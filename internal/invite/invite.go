// Package invite owns channel invites: codes that grant membership to
// whoever redeems them, optionally bounded by expiry or use count.
package invite

import (
	"context"
	"errors"
	"time"

	"github.com/kajgg/kaj-server/internal/model"
)

// Sentinel errors for the invite package.
var (
	ErrNotFound = errors.New("invite not found")
	// ErrUnusable marks an invite that exists but can no longer be redeemed,
	// because it expired or ran out of uses. Surfaced as 410 Gone.
	ErrUnusable   = errors.New("invite expired or exhausted")
	ErrInvalidTTL = errors.New("invite expiry must be in the future")
	ErrInvalidMax = errors.New("invite max uses must be at least 1")
)

// Invite holds the fields read from the database.
type Invite struct {
	ID        string
	Code      string
	ChannelID string
	AuthorID  string
	ExpiresAt *time.Time
	MaxUses   *int
	Uses      int
	CreatedAt time.Time
}

// ToModel converts the record to its API projection.
func (i *Invite) ToModel() model.ChannelInvite {
	m := model.ChannelInvite{
		ID:        i.ID,
		Code:      i.Code,
		ChannelID: i.ChannelID,
		AuthorID:  i.AuthorID,
		MaxUses:   i.MaxUses,
		Uses:      i.Uses,
		CreatedAt: model.At(i.CreatedAt),
	}
	if i.ExpiresAt != nil {
		t := model.At(*i.ExpiresAt)
		m.ExpiresAt = &t
	}
	return m
}

// Usable reports whether the invite can still be redeemed at the given time.
func (i *Invite) Usable(now time.Time) bool {
	if i.ExpiresAt != nil && !now.Before(*i.ExpiresAt) {
		return false
	}
	if i.MaxUses != nil && i.Uses >= *i.MaxUses {
		return false
	}
	return true
}

// CreateParams groups the inputs for creating an invite.
type CreateParams struct {
	ID        string
	Code      string
	ChannelID string
	AuthorID  string
	ExpiresAt *time.Time
	MaxUses   *int
}

// Validate checks the optional bounds against the current time.
func (p CreateParams) Validate(now time.Time) error {
	if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
		return ErrInvalidTTL
	}
	if p.MaxUses != nil && *p.MaxUses < 1 {
		return ErrInvalidMax
	}
	return nil
}

// Repository defines the data-access contract for invites.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Invite, error)
	GetByCode(ctx context.Context, code string) (*Invite, error)
	ListByChannel(ctx context.Context, channelID string) ([]Invite, error)
	Delete(ctx context.Context, id string) error
	// Redeem atomically checks the invite's bounds and increments its use
	// count, returning the invite as of after the increment.
	Redeem(ctx context.Context, code string) (*Invite, error)
}
