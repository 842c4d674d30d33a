// Package emoji owns custom emojis. Each emoji is an image in object storage
// plus a record naming it; names are unique per owner.
package emoji

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kajgg/kaj-server/internal/model"
)

// MaxImageSize caps emoji uploads at 1 MiB.
const MaxImageSize = 1 << 20

// Sentinel errors for the emoji package.
var (
	ErrNotFound        = errors.New("emoji not found")
	ErrAlreadyExists   = errors.New("an emoji with that name already exists")
	ErrNotOwner        = errors.New("emoji belongs to another user")
	ErrNameInvalid     = errors.New("emoji name must be 1 to 32 characters of letters, digits, underscore or hyphen")
	ErrTooLarge        = errors.New("emoji image exceeds 1 MiB")
	ErrUnsupportedType = errors.New("emoji image must be png, jpeg, gif or webp")
)

// extensions maps accepted image MIME types to their storage extension.
var extensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// Emoji holds the fields read from the database.
type Emoji struct {
	ID        string
	OwnerID   string
	Name      string
	Animated  bool
	Ext       string
	CreatedAt time.Time
}

// Key returns the object storage key for the emoji image. A second key
// without the extension is kept for clients that address emojis by bare id.
func (e *Emoji) Key(env string) string {
	return fmt.Sprintf("%s/emojis/%s.%s", env, e.ID, e.Ext)
}

// BareKey returns the extensionless storage key.
func (e *Emoji) BareKey(env string) string {
	return fmt.Sprintf("%s/emojis/%s", env, e.ID)
}

// ToModel converts the record to its API projection.
func (e *Emoji) ToModel(publicURL, env string) model.Emoji {
	return model.Emoji{
		ID:        e.ID,
		OwnerID:   e.OwnerID,
		Name:      e.Name,
		Animated:  e.Animated,
		URL:       publicURL + "/" + e.Key(env),
		CreatedAt: model.At(e.CreatedAt),
	}
}

// CreateParams groups the inputs for creating an emoji.
type CreateParams struct {
	ID       string
	OwnerID  string
	Name     string
	Animated bool
	Ext      string
}

// ValidateName trims and checks an emoji name.
func ValidateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	n := utf8.RuneCountInString(trimmed)
	if n < 1 || n > 32 {
		return "", ErrNameInvalid
	}
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return "", ErrNameInvalid
		}
	}
	return trimmed, nil
}

// ExtForMIME returns the storage extension for an accepted image MIME type,
// along with whether the format is animated.
func ExtForMIME(mimeType string) (ext string, animated bool, err error) {
	ext, ok := extensions[mimeType]
	if !ok {
		return "", false, ErrUnsupportedType
	}
	return ext, mimeType == "image/gif", nil
}

// Repository defines the data-access contract for emojis.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Emoji, error)
	GetByID(ctx context.Context, id string) (*Emoji, error)
	List(ctx context.Context) ([]Emoji, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Emoji, error)
	Rename(ctx context.Context, id, name string) (*Emoji, error)
	Delete(ctx context.Context, id string) error
}
