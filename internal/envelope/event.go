// ABOUTME: Structured event kinds carried by envelopes
// ABOUTME: Closed set of kinds with per-kind JSON shape and constructors

package envelope

import (
	"encoding/json"
	"time"
)

// Kind is the discriminator of a structured event.
type Kind string

const (
	KindMessage        Kind = "message"
	KindTypingUpdate   Kind = "typing_update"
	KindPresenceUpdate Kind = "presence_update"
	KindAvatarUpdate   Kind = "avatar_update"
	KindNotification   Kind = "notification"
	KindSound          Kind = "sound"
)

// Valid reports whether k is one of the known event kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindMessage, KindTypingUpdate, KindPresenceUpdate, KindAvatarUpdate, KindNotification, KindSound:
		return true
	}
	return false
}

// Reaction summarizes one emoji on a message.
type Reaction struct {
	Emoji   string  `json:"emoji"`
	UserIDs []int64 `json:"user_ids"`
}

// Message is the client-facing view of a chat message.
type Message struct {
	ID                int64      `json:"id"`
	ConversationID    string     `json:"conversation_id"`
	UserID            int64      `json:"user_id"`
	Username          string     `json:"username"`
	Content           string     `json:"content"`
	ParentMessageID   *int64     `json:"parent_message_id,omitempty"`
	ReplyType         string     `json:"reply_type,omitempty"`
	QuotedMessageID   *int64     `json:"quoted_message_id,omitempty"`
	AttachmentFileIDs []int64    `json:"attachment_file_ids,omitempty"`
	Reactions         []Reaction `json:"reactions,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Event is a structured client event. Only the fields belonging to Kind are
// encoded.
type Event struct {
	Kind Kind

	// typing_update
	Typists []string

	// presence_update, avatar_update
	UserID      int64
	StatusClass string
	AvatarURL   string

	// notification
	Title string
	Body  string
	Icon  string
	Tag   string

	// message
	Message *Message
}

// TypingUpdate builds a typing roster event. A nil roster encodes as [].
func TypingUpdate(typists []string) Event {
	if typists == nil {
		typists = []string{}
	}
	return Event{Kind: KindTypingUpdate, Typists: typists}
}

// PresenceUpdate builds a presence event for one user.
func PresenceUpdate(userID int64, statusClass string) Event {
	return Event{Kind: KindPresenceUpdate, UserID: userID, StatusClass: statusClass}
}

// AvatarUpdate builds an avatar change event.
func AvatarUpdate(userID int64, avatarURL string) Event {
	return Event{Kind: KindAvatarUpdate, UserID: userID, AvatarURL: avatarURL}
}

// Notification builds a desktop notification event.
func Notification(title, body, icon, tag string) Event {
	return Event{Kind: KindNotification, Title: title, Body: body, Icon: icon, Tag: tag}
}

// Sound builds a sound alert event.
func Sound() Event {
	return Event{Kind: KindSound}
}

// NewMessage wraps a message view in an event.
func NewMessage(m Message) Event {
	return Event{Kind: KindMessage, Message: &m}
}

// fields returns the JSON object for the event, keyed by wire name.
func (e Event) fields() map[string]any {
	out := map[string]any{"type": e.Kind}
	switch e.Kind {
	case KindMessage:
		out["message"] = e.Message
	case KindTypingUpdate:
		typists := e.Typists
		if typists == nil {
			typists = []string{}
		}
		out["typists"] = typists
	case KindPresenceUpdate:
		out["user_id"] = e.UserID
		out["status_class"] = e.StatusClass
	case KindAvatarUpdate:
		out["user_id"] = e.UserID
		out["avatar_url"] = e.AvatarURL
	case KindNotification:
		out["title"] = e.Title
		out["body"] = e.Body
		out["icon"] = e.Icon
		out["tag"] = e.Tag
	}
	return out
}

// MarshalJSON encodes the event in its client-facing shape.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.fields())
}

// wireEvent is the decoding shape shared by every kind.
type wireEvent struct {
	Type        Kind     `json:"type"`
	Typists     []string `json:"typists"`
	UserID      int64    `json:"user_id"`
	StatusClass string   `json:"status_class"`
	AvatarURL   string   `json:"avatar_url"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Icon        string   `json:"icon"`
	Tag         string   `json:"tag"`
	Message     *Message `json:"message"`
}

// UnmarshalJSON decodes a client-facing event and rejects unknown kinds.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if !w.Type.Valid() {
		return ErrUnknownKind
	}
	if w.Type == KindMessage && w.Message == nil {
		return ErrMalformed
	}

	ev := Event{Kind: w.Type}
	switch w.Type {
	case KindMessage:
		ev.Message = w.Message
	case KindTypingUpdate:
		ev.Typists = w.Typists
		if ev.Typists == nil {
			ev.Typists = []string{}
		}
	case KindPresenceUpdate:
		ev.UserID = w.UserID
		ev.StatusClass = w.StatusClass
	case KindAvatarUpdate:
		ev.UserID = w.UserID
		ev.AvatarURL = w.AvatarURL
	case KindNotification:
		ev.Title = w.Title
		ev.Body = w.Body
		ev.Icon = w.Icon
		ev.Tag = w.Tag
	}
	*e = ev
	return nil
}
