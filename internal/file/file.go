// Package file owns uploaded file records. Uploads are a two-step flow: the
// client reserves a record and receives a presigned URL, uploads directly to
// object storage, then completes the reservation. Only completed files can be
// attached to messages.
package file

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kajgg/kaj-server/internal/model"
)

// Sentinel errors for the file package.
var (
	ErrNotFound    = errors.New("file not found")
	ErrNotOwner    = errors.New("file belongs to another user")
	ErrNotUploaded = errors.New("file upload was never completed")
	ErrTooLarge    = errors.New("file exceeds the maximum upload size")
	ErrNameLength  = errors.New("file name must be between 1 and 255 characters")
	ErrSizeInvalid = errors.New("file size must be greater than zero")
	// ErrSizeMismatch marks a completed upload whose stored object size does
	// not match the reserved size.
	ErrSizeMismatch = errors.New("uploaded object size does not match reservation")
)

// File holds the fields read from the database.
type File struct {
	ID         string
	OwnerID    string
	Name       string
	MimeType   string
	Size       int64
	Uploaded   bool
	UploadedAt *time.Time
	CreatedAt  time.Time
}

// Key returns the object storage key for the file. The env prefix keeps
// deployments apart inside one bucket.
func (f *File) Key(env string) string {
	return fmt.Sprintf("%s/uploads/%s/%s/%s", env, f.OwnerID, f.ID, f.Name)
}

// ToModel converts the record to its API projection. The URL carries the
// upload time as a cache-busting query parameter.
func (f *File) ToModel(publicURL, env string) model.File {
	url := publicURL + "/" + f.Key(env)
	if f.UploadedAt != nil {
		url += "?v=" + strconv.FormatInt(f.UploadedAt.UnixMilli(), 10)
	}
	return model.File{
		ID:       f.ID,
		Name:     f.Name,
		MimeType: f.MimeType,
		Size:     f.Size,
		URL:      url,
	}
}

// CreateParams groups the inputs for reserving an upload.
type CreateParams struct {
	ID       string
	OwnerID  string
	Name     string
	MimeType string
	Size     int64
}

// Validate checks the reservation against the configured upload cap.
func (p CreateParams) Validate(maxSize int64) error {
	name := strings.TrimSpace(p.Name)
	n := utf8.RuneCountInString(name)
	if n < 1 || n > 255 {
		return ErrNameLength
	}
	if p.Size < 1 {
		return ErrSizeInvalid
	}
	if p.Size > maxSize {
		return ErrTooLarge
	}
	return nil
}

// Repository defines the data-access contract for file records.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*File, error)
	GetByID(ctx context.Context, id string) (*File, error)
	GetByIDs(ctx context.Context, ids []string) ([]File, error)
	MarkUploaded(ctx context.Context, id string, at time.Time) (*File, error)
	Delete(ctx context.Context, id string) error
}
