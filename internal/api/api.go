// Package api serves the REST surface. Each resource gets its own handler
// struct; handlers validate through the owning domain package, map its
// sentinel errors to HTTP statuses, and publish a gateway event for every
// mutation that other clients need to see.
package api

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kajgg/kaj-server/internal/event"
	"github.com/kajgg/kaj-server/internal/model"
	"github.com/kajgg/kaj-server/internal/user"
)

// errStorageDisabled is returned by upload endpoints when no object store is
// configured.
var errStorageDisabled = errors.New("file storage is not configured")

// Publisher appends envelopes to the event stream.
type Publisher interface {
	Publish(ctx context.Context, env event.Envelope) error
}

// Presence answers live-connection questions: status projection for author
// payloads and deduplication for typing indicators.
type Presence interface {
	Online(ctx context.Context, userID string) (bool, error)
	SetTyping(ctx context.Context, channelID, userID string) (bool, error)
}

// ObjectStore is the storage surface behind uploads, avatars and emoji
// images.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) error
	Head(ctx context.Context, key string) (int64, error)
	Delete(ctx context.Context, key string) error
	PresignPut(ctx context.Context, key, contentType string) (string, error)
	URL(key string) string
}

// publish encodes and appends one event. Failures are logged rather than
// surfaced: the mutation already committed by the time it announces.
func publish(ctx context.Context, bus Publisher, log zerolog.Logger, ev event.Event) {
	env, err := event.Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("type", string(ev.EventType())).Msg("Failed to encode event")
		return
	}
	if err := bus.Publish(ctx, env); err != nil {
		log.Error().Err(err).Str("type", string(ev.EventType())).Msg("Failed to publish event")
	}
}

// errDataURL marks a malformed base64 data url.
var errDataURL = errors.New("expected a base64 data url")

// parseDataURL decodes a "data:<mime>;base64,<payload>" string into its MIME
// type and raw bytes.
func parseDataURL(s string) (mimeType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, errDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, errDataURL
	}
	mimeType, ok = strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, errDataURL
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, errDataURL
	}
	return mimeType, data, nil
}

// effectiveStatus resolves the status to show for a user right now. Presence
// lookups that fail degrade to offline.
func effectiveStatus(ctx context.Context, presence Presence, log zerolog.Logger, u *user.User) model.Status {
	online := false
	if presence != nil {
		var err error
		online, err = presence.Online(ctx, u.ID)
		if err != nil {
			log.Warn().Err(err).Str("user_id", u.ID).Msg("Failed to resolve presence")
			online = false
		}
	}
	return u.EffectiveStatus(online)
}
