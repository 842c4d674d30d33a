// Package user owns accounts: identity, credentials, profile fields and the
// storage quota counter.
package user

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kajgg/kaj-server/internal/model"
)

// Sentinel errors for the user package.
var (
	ErrNotFound        = errors.New("user not found")
	ErrAlreadyExists   = errors.New("email or username already taken")
	ErrInvalidCode     = errors.New("invalid verification code")
	ErrUsernameInvalid = errors.New("username must be 3 to 32 characters of letters, digits, underscore or hyphen")
	ErrEmailInvalid    = errors.New("email address is not valid")
	ErrPasswordLength  = errors.New("password must be between 8 and 128 characters")
	ErrBioLength       = errors.New("bio must be 1000 characters or fewer")
	ErrInvalidColor    = errors.New("color must be a hex value like #ffaa00")
	ErrInvalidStatus   = errors.New("invalid status")
)

// User holds the account fields read from the database. Password is the
// bcrypt hash; it never leaves this package except through the auth path.
type User struct {
	ID               string
	Username         string
	Email            string
	Password         string
	Token            string
	Verified         bool
	VerificationCode *string
	DefaultStatus    model.Status
	AvatarURL        *string
	Bio              *string
	Color            *string
	BackgroundColor  *string
	Admin            bool
	Bytes            int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ToAuthor converts the record to its public projection. The caller supplies
// the effective status, which depends on live gateway connections.
func (u *User) ToAuthor(status model.Status) model.Author {
	return model.Author{
		ID:              u.ID,
		Username:        u.Username,
		Status:          status,
		AvatarURL:       u.AvatarURL,
		Bio:             u.Bio,
		Color:           u.Color,
		BackgroundColor: u.BackgroundColor,
		Flags:           model.UserFlags{Admin: u.Admin},
		CreatedAt:       model.At(u.CreatedAt),
		UpdatedAt:       model.At(u.UpdatedAt),
	}
}

// ToModel converts the record to the private projection returned to the
// account owner. The token is only attached on signup and login.
func (u *User) ToModel(status model.Status, includeToken bool) model.User {
	m := model.User{
		Author:        u.ToAuthor(status),
		Email:         u.Email,
		DefaultStatus: u.DefaultStatus,
		Verified:      u.Verified,
		Bytes:         u.Bytes,
	}
	if includeToken {
		m.Token = u.Token
	}
	return m
}

// EffectiveStatus resolves the status to show for this user given whether any
// gateway connection is live. Invisible users always read as offline to
// others.
func (u *User) EffectiveStatus(online bool) model.Status {
	if !online || u.DefaultStatus == model.StatusInvisible {
		return model.StatusOffline
	}
	return u.DefaultStatus
}

// CreateParams groups the inputs for creating a new account. Password must
// already be hashed.
type CreateParams struct {
	ID               string
	Username         string
	Email            string
	Password         string
	Token            string
	VerificationCode string
}

// UpdateParams groups the optional profile fields for PATCH semantics. A nil
// pointer means "no change". SetAvatarNull distinguishes clearing the avatar
// from leaving it alone.
type UpdateParams struct {
	Username        *string
	Email           *string
	Password        *string
	DefaultStatus   *model.Status
	Bio             *string
	Color           *string
	BackgroundColor *string
	AvatarURL       *string
	SetAvatarNull   bool
}

// ValidateUsername lowercases and checks length and charset after trimming.
// The charset matches what mention parsing recognises, so every valid
// username is mentionable.
func ValidateUsername(name string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	n := utf8.RuneCountInString(trimmed)
	if n < 3 || n > 32 {
		return "", ErrUsernameInvalid
	}
	for _, r := range trimmed {
		if !mentionRune(r) {
			return "", ErrUsernameInvalid
		}
	}
	return trimmed, nil
}

// mentionRune reports whether r belongs to the username charset.
func mentionRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		return true
	}
	return false
}

// ValidateEmail parses and normalises an email address.
func ValidateEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(email)
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", ErrEmailInvalid
	}
	return strings.ToLower(trimmed), nil
}

// ValidatePassword checks the plaintext length before hashing.
func ValidatePassword(password string) error {
	n := len(password)
	if n < 8 || n > 128 {
		return ErrPasswordLength
	}
	return nil
}

// ValidateBio checks a non-nil bio is 1000 characters or fewer. A nil pointer
// means "no change".
func ValidateBio(bio *string) error {
	if bio == nil {
		return nil
	}
	if utf8.RuneCountInString(*bio) > 1000 {
		return ErrBioLength
	}
	return nil
}

// ValidateColor checks a non-nil value is a #rgb or #rrggbb hex color. A nil
// pointer means "no change".
func ValidateColor(color *string) error {
	if color == nil {
		return nil
	}
	c := *color
	if len(c) != 4 && len(c) != 7 {
		return ErrInvalidColor
	}
	if c[0] != '#' {
		return ErrInvalidColor
	}
	for _, r := range c[1:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return ErrInvalidColor
		}
	}
	return nil
}

// ValidateStatus checks a non-nil default status is selectable.
func ValidateStatus(s *model.Status) error {
	if s == nil {
		return nil
	}
	if !model.ValidStatus(*s) {
		return ErrInvalidStatus
	}
	return nil
}

// Repository defines the data-access contract for accounts.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByToken(ctx context.Context, token string) (*User, error)
	GetByUsernames(ctx context.Context, usernames []string) ([]User, error)
	GetByIDs(ctx context.Context, ids []string) ([]User, error)
	List(ctx context.Context) ([]User, error)
	Update(ctx context.Context, id string, params UpdateParams) (*User, error)
	Verify(ctx context.Context, id, code string) (*User, error)
	AddBytes(ctx context.Context, id string, delta int64) error
}
