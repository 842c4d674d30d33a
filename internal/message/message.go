// Package message owns messages: validation, persistence, mention
// resolution and the ingestion pipeline that turns a request into a stored
// message plus a published event.
package message

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kajgg/kaj-server/internal/model"
)

// Validation caps for user-supplied messages.
const (
	MaxContentLength = 4000
	MaxNonceLength   = 100
	MaxEmbeds        = 10
	MaxMentions      = 25

	maxEmbedTitle       = 256
	maxEmbedDescription = 4096
	maxEmbedFooter      = 256
	maxEmbedURL         = 2048
)

// Sentinel errors for the message package.
var (
	ErrNotFound      = errors.New("message not found")
	ErrNotAuthor     = errors.New("user is not the author of the message")
	ErrContentLength = errors.New("message content must be between 1 and 4000 characters")
	ErrNonceLength   = errors.New("nonce must be 100 characters or fewer")
	ErrTooManyFiles  = errors.New("message has too many files")
	ErrTooManyEmbeds = errors.New("message has too many embeds")
	ErrEmbedTooLong  = errors.New("embed field exceeds its maximum length")
	ErrEmbedColor    = errors.New("embed color must be a #rrggbb hex color")
	ErrEmbedURL      = errors.New("embed urls must use http or https")
	ErrEmptyMessage  = errors.New("message must have content, files or embeds")
)

// Message holds the fields read from the database. UserEmbeds were supplied
// by the author (or a webhook); SystemEmbeds were computed by the unfurler.
type Message struct {
	ID           string
	ChannelID    string
	AuthorID     string
	Type         model.MessageType
	Content      string
	Nonce        *string
	FileIDs      []string
	UserEmbeds   []model.Embed
	SystemEmbeds []model.Embed
	Mentions     []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// ToModel converts the record to its API projection, merging user embeds
// before system embeds and attaching resolved file projections.
func (m *Message) ToModel(files []model.File) model.Message {
	embeds := make([]model.Embed, 0, len(m.UserEmbeds)+len(m.SystemEmbeds))
	embeds = append(embeds, m.UserEmbeds...)
	embeds = append(embeds, m.SystemEmbeds...)

	if files == nil {
		files = []model.File{}
	}
	mentions := m.Mentions
	if mentions == nil {
		mentions = []string{}
	}

	out := model.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		AuthorID:  m.AuthorID,
		Type:      m.Type,
		Content:   m.Content,
		Nonce:     m.Nonce,
		Embeds:    embeds,
		Files:     files,
		Mentions:  mentions,
		CreatedAt: model.At(m.CreatedAt),
		UpdatedAt: model.At(m.UpdatedAt),
	}
	return out
}

// CreateParams groups the inputs for inserting a message row.
type CreateParams struct {
	ID           string
	ChannelID    string
	AuthorID     string
	Type         model.MessageType
	Content      string
	Nonce        *string
	FileIDs      []string
	UserEmbeds   []model.Embed
	SystemEmbeds []model.Embed
	Mentions     []string
}

// ListFilter narrows a channel history read. After and Before bound creation
// time exclusively; Contains matches content by substring.
type ListFilter struct {
	After    *time.Time
	Before   *time.Time
	Limit    int
	AuthorID string
	Contains string
}

// ClampLimit normalises the page size into [1, 100], defaulting to 50.
func (f *ListFilter) ClampLimit() {
	if f.Limit == 0 {
		f.Limit = 50
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Limit < 1 {
		f.Limit = 1
	}
}

// Ascending reports whether results should come oldest first. That is the
// natural order when paging forward from a cursor with no upper bound.
func (f *ListFilter) Ascending() bool {
	return f.After != nil && f.Before == nil
}

// ValidateContent trims user-supplied content and checks its length,
// returning the trimmed form. Content may be empty when the message carries
// files or embeds instead.
func ValidateContent(content string, allowEmpty bool) (string, error) {
	trimmed := strings.TrimSpace(content)
	n := utf8.RuneCountInString(trimmed)
	if n == 0 {
		if allowEmpty {
			return "", nil
		}
		return "", ErrContentLength
	}
	if n > MaxContentLength {
		return "", ErrContentLength
	}
	return trimmed, nil
}

// ValidateNonce checks a non-nil client nonce. A nil pointer means none was
// supplied.
func ValidateNonce(nonce *string) error {
	if nonce == nil {
		return nil
	}
	if utf8.RuneCountInString(*nonce) > MaxNonceLength {
		return ErrNonceLength
	}
	return nil
}

// ValidateEmbeds checks author-supplied embeds: at most MaxEmbeds, each with
// bounded fields, an http(s) scheme on every link, a #rrggbb color and at
// least some visible content.
func ValidateEmbeds(embeds []model.Embed) error {
	if len(embeds) > MaxEmbeds {
		return ErrTooManyEmbeds
	}
	for _, e := range embeds {
		if e.Empty() {
			return ErrEmptyMessage
		}
		if over(e.Title, maxEmbedTitle) || over(e.Description, maxEmbedDescription) || over(e.Footer, maxEmbedFooter) {
			return ErrEmbedTooLong
		}
		if over(e.URL, maxEmbedURL) || over(e.ImageURL, maxEmbedURL) || over(e.VideoURL, maxEmbedURL) || over(e.AudioURL, maxEmbedURL) {
			return ErrEmbedTooLong
		}
		for _, link := range []*string{e.URL, e.ImageURL, e.VideoURL, e.AudioURL} {
			if link != nil && !httpScheme(*link) {
				return ErrEmbedURL
			}
		}
		if e.Color != nil && !hexColor(*e.Color) {
			return ErrEmbedColor
		}
	}
	return nil
}

func over(s *string, max int) bool {
	return s != nil && utf8.RuneCountInString(*s) > max
}

func httpScheme(link string) bool {
	return strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://")
}

// hexColor accepts the #rrggbb form only.
func hexColor(c string) bool {
	if len(c) != 7 || c[0] != '#' {
		return false
	}
	for _, r := range c[1:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
