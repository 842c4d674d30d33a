package model

import (
	"fmt"
	"strings"
	"time"
)

// timeLayout pins the wire format for timestamps: UTC, millisecond precision,
// trailing Z.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Time is a time.Time that serialises as ISO-8601 with millisecond precision
// and a trailing Z, matching every timestamp on the wire.
type Time struct {
	time.Time
}

// Now returns the current UTC time truncated to millisecond precision.
func Now() Time {
	return Time{time.Now().UTC().Truncate(time.Millisecond)}
}

// At wraps an existing time.Time.
func At(t time.Time) Time {
	return Time{t.UTC().Truncate(time.Millisecond)}
}

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(timeLayout) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler. It accepts the canonical layout
// plus RFC3339 variants with other sub-second precision.
func (t *Time) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		return nil
	}
	for _, layout := range []string{timeLayout, time.RFC3339Nano, time.RFC3339} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

// UnixMilli returns the timestamp as milliseconds since the epoch.
func (t Time) UnixMilli() int64 {
	return t.Time.UnixMilli()
}
