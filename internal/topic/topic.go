// ABOUTME: Canonical conversation topic identifiers used for fan-out routing
// ABOUTME: Derives channel_<id> and sorted dm_<a>_<b> forms and parses them back

package topic

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalid is returned when a string is not a well-formed topic.
var ErrInvalid = errors.New("invalid topic")

// Kind is the conversation type encoded in a topic.
type Kind string

const (
	KindChannel Kind = "channel"
	KindDM      Kind = "dm"
)

// Topic identifies a conversation for fan-out purposes.
type Topic string

// Channel returns the topic for a channel conversation.
func Channel(id int64) Topic {
	return Topic(fmt.Sprintf("%s_%d", KindChannel, id))
}

// DM returns the topic for a direct conversation between two users.
// Argument order does not matter.
func DM(a, b int64) Topic {
	if a > b {
		a, b = b, a
	}
	return Topic(fmt.Sprintf("%s_%d_%d", KindDM, a, b))
}

// Parse validates s and returns it as a Topic. DM topics whose participants
// are out of order are rewritten into canonical form.
func Parse(s string) (Topic, error) {
	kind, rest, ok := strings.Cut(s, "_")
	if !ok || rest == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	switch Kind(kind) {
	case KindChannel:
		id, err := parseID(rest)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalid, s)
		}
		return Channel(id), nil
	case KindDM:
		first, second, ok := strings.Cut(rest, "_")
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrInvalid, s)
		}
		a, err := parseID(first)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalid, s)
		}
		b, err := parseID(second)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalid, s)
		}
		return DM(a, b), nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalid, kind)
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if id < 0 {
		return 0, ErrInvalid
	}
	return id, nil
}

// String implements fmt.Stringer.
func (t Topic) String() string {
	return string(t)
}

// Kind reports the conversation kind, or "" for a malformed topic.
func (t Topic) Kind() Kind {
	kind, _, _ := strings.Cut(string(t), "_")
	switch Kind(kind) {
	case KindChannel, KindDM:
		return Kind(kind)
	}
	return ""
}

// IsChannel reports whether t names a channel.
func (t Topic) IsChannel() bool {
	return t.Kind() == KindChannel
}

// IsDM reports whether t names a direct conversation.
func (t Topic) IsDM() bool {
	return t.Kind() == KindDM
}

// ChannelID returns the channel identifier of a channel topic.
func (t Topic) ChannelID() (int64, bool) {
	if !t.IsChannel() {
		return 0, false
	}
	id, err := parseID(strings.TrimPrefix(string(t), string(KindChannel)+"_"))
	if err != nil {
		return 0, false
	}
	return id, true
}

// Participants returns the two user IDs of a DM topic in ascending order.
// For a self-DM both values are equal.
func (t Topic) Participants() (int64, int64, bool) {
	if !t.IsDM() {
		return 0, 0, false
	}
	first, second, ok := strings.Cut(strings.TrimPrefix(string(t), string(KindDM)+"_"), "_")
	if !ok {
		return 0, 0, false
	}
	a, err := parseID(first)
	if err != nil {
		return 0, 0, false
	}
	b, err := parseID(second)
	if err != nil {
		return 0, 0, false
	}
	return a, b, true
}
