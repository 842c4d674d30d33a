package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrUnknownType marks an envelope whose tag has no registered variant.
// Consumers drop these rather than failing, so newer producers can roll out
// event types ahead of older gateways.
var ErrUnknownType = errors.New("unknown event type")

// Envelope is the wire form of an event: a type tag, a compact JSON payload,
// and the publish timestamp in milliseconds as a decimal string. The ts field
// doubles as the replay cursor clients thread back on reconnect.
type Envelope struct {
	T  string          `json:"t"`
	D  json.RawMessage `json:"d,omitempty"`
	TS string          `json:"ts"`
}

// Timestamp returns the envelope's publish time in milliseconds since the
// epoch, or 0 when the field is absent or malformed.
func (e Envelope) Timestamp() int64 {
	ms, err := strconv.ParseInt(e.TS, 10, 64)
	if err != nil {
		return 0
	}
	return ms
}

// Encode wraps an event in an envelope stamped with the current time.
func Encode(ev Event) (Envelope, error) {
	return EncodeAt(ev, time.Now())
}

// EncodeAt wraps an event in an envelope with an explicit timestamp. Split out
// from Encode so tests can pin the cursor.
func EncodeAt(ev Event, at time.Time) (Envelope, error) {
	env := Envelope{
		T:  string(ev.EventType()),
		TS: strconv.FormatInt(at.UnixMilli(), 10),
	}

	if _, ok := ev.(Heartbeat); ok {
		return env, nil
	}

	d, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", env.T, err)
	}
	env.D = d
	return env, nil
}

// Decode maps an envelope back to its typed variant. Returns ErrUnknownType
// for tags this build does not know about.
func Decode(env Envelope) (Event, error) {
	var ev Event
	switch Type(env.T) {
	case TypeChannelCreated:
		ev = &ChannelCreated{}
	case TypeChannelUpdated:
		ev = &ChannelUpdated{}
	case TypeChannelDeleted:
		ev = &ChannelDeleted{}
	case TypeMessageCreated:
		ev = &MessageCreated{}
	case TypeMessageUpdated:
		ev = &MessageUpdated{}
	case TypeMessageDeleted:
		ev = &MessageDeleted{}
	case TypeAuthorUpdated:
		ev = &AuthorUpdated{}
	case TypeTypingStarted:
		ev = &TypingStarted{}
	case TypeHeartbeat:
		return Heartbeat{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.T)
	}

	if len(env.D) > 0 {
		if err := json.Unmarshal(env.D, ev); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.T, err)
		}
	}

	return deref(ev), nil
}

// deref returns the value variant so callers can type-switch without pointer
// cases.
func deref(ev Event) Event {
	switch e := ev.(type) {
	case *ChannelCreated:
		return *e
	case *ChannelUpdated:
		return *e
	case *ChannelDeleted:
		return *e
	case *MessageCreated:
		return *e
	case *MessageUpdated:
		return *e
	case *MessageDeleted:
		return *e
	case *AuthorUpdated:
		return *e
	case *TypingStarted:
		return *e
	default:
		return ev
	}
}
