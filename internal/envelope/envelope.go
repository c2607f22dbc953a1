// ABOUTME: Envelope tagged union (raw fragment or structured event) and bus codec
// ABOUTME: Encodes sender metadata in underscore fields and strips them for clients

package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned when a bus payload cannot be decoded.
	ErrMalformed = errors.New("malformed envelope")
	// ErrUnknownKind is returned for structured events outside the closed kind set.
	ErrUnknownKind = errors.New("unknown event kind")
)

// Wire field names for envelope metadata.
const (
	fieldRaw        = "_raw_html"
	fieldSenderID   = "_sender_id"
	fieldSenderConn = "_sender_conn"
	fieldID         = "_id"
)

// Envelope is either a raw fragment or a structured event, plus metadata.
type Envelope struct {
	// ID is a unique identifier used to drop bus redeliveries.
	ID string
	// SenderID is the publishing user, nil when the envelope has no sender.
	SenderID *int64
	// SenderConn is the originating connection, if any.
	SenderConn string

	raw   *string
	event *Event
}

// Raw returns an envelope carrying an opaque pre-rendered fragment.
func Raw(fragment string) Envelope {
	return Envelope{raw: &fragment}
}

// Structured returns an envelope carrying a structured event.
func Structured(ev Event) Envelope {
	return Envelope{event: &ev}
}

// IsRaw reports whether the envelope carries a fragment.
func (e Envelope) IsRaw() bool {
	return e.raw != nil
}

// Fragment returns the raw fragment, or "" for structured envelopes.
func (e Envelope) Fragment() string {
	if e.raw == nil {
		return ""
	}
	return *e.raw
}

// Event returns the structured event and whether one is present.
func (e Envelope) Event() (Event, bool) {
	if e.event == nil {
		return Event{}, false
	}
	return *e.event, true
}

// Kind returns the event kind, or "" for raw fragments.
func (e Envelope) Kind() Kind {
	if e.event == nil {
		return ""
	}
	return e.event.Kind
}

// WithSender returns a copy tagged with the sending user and connection.
func (e Envelope) WithSender(userID int64, connID string) Envelope {
	e.SenderID = &userID
	e.SenderConn = connID
	return e
}

// Sender returns the sending user ID, if tagged.
func (e Envelope) Sender() (int64, bool) {
	if e.SenderID == nil {
		return 0, false
	}
	return *e.SenderID, true
}

// Encode serializes the envelope to its bus wire form.
func Encode(e Envelope) ([]byte, error) {
	var obj map[string]any
	switch {
	case e.raw != nil:
		obj = map[string]any{fieldRaw: *e.raw}
	case e.event != nil:
		obj = e.event.fields()
	default:
		return nil, fmt.Errorf("%w: empty envelope", ErrMalformed)
	}

	if e.SenderID != nil {
		obj[fieldSenderID] = *e.SenderID
	} else {
		obj[fieldSenderID] = nil
	}
	if e.SenderConn != "" {
		obj[fieldSenderConn] = e.SenderConn
	}
	if e.ID != "" {
		obj[fieldID] = e.ID
	}
	return json.Marshal(obj)
}

// Decode parses a bus payload. Unknown structured kinds and non-object
// payloads are rejected.
func Decode(data []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return Envelope{}, fmt.Errorf("%w: null payload", ErrMalformed)
	}

	var env Envelope
	if raw, ok := fields[fieldID]; ok {
		if err := json.Unmarshal(raw, &env.ID); err != nil {
			return Envelope{}, fmt.Errorf("%w: %s: %v", ErrMalformed, fieldID, err)
		}
	}
	if raw, ok := fields[fieldSenderID]; ok {
		var sender *int64
		if err := json.Unmarshal(raw, &sender); err != nil {
			return Envelope{}, fmt.Errorf("%w: %s: %v", ErrMalformed, fieldSenderID, err)
		}
		env.SenderID = sender
	}
	if raw, ok := fields[fieldSenderConn]; ok {
		if err := json.Unmarshal(raw, &env.SenderConn); err != nil {
			return Envelope{}, fmt.Errorf("%w: %s: %v", ErrMalformed, fieldSenderConn, err)
		}
	}

	if raw, ok := fields[fieldRaw]; ok {
		var fragment string
		if err := json.Unmarshal(raw, &fragment); err != nil {
			return Envelope{}, fmt.Errorf("%w: %s: %v", ErrMalformed, fieldRaw, err)
		}
		env.raw = &fragment
		return env, nil
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		if errors.Is(err, ErrUnknownKind) || errors.Is(err, ErrMalformed) {
			return Envelope{}, err
		}
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	env.event = &ev
	return env, nil
}

// ClientFrame returns the bytes sent to a client: the fragment verbatim, or
// the event JSON without any metadata fields.
func (e Envelope) ClientFrame() ([]byte, error) {
	switch {
	case e.raw != nil:
		return []byte(*e.raw), nil
	case e.event != nil:
		return json.Marshal(e.event)
	default:
		return nil, fmt.Errorf("%w: empty envelope", ErrMalformed)
	}
}
