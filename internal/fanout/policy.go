// ABOUTME: Echo policy deciding which connections skip the bus copy of their own envelope
// ABOUTME: Typing rosters only ever skip the originating connection

package fanout

import (
	"fmt"

	"github.com/2389/coven-chat/internal/envelope"
	"github.com/2389/coven-chat/internal/registry"
)

// EchoPolicy selects sender-echo suppression on the listener side.
type EchoPolicy string

const (
	EchoExcludeSender EchoPolicy = "exclude_sender"
	EchoExcludeOrigin EchoPolicy = "exclude_origin"
	EchoAll           EchoPolicy = "all"
)

// ParseEchoPolicy validates a configured policy name. Empty means the default.
func ParseEchoPolicy(s string) (EchoPolicy, error) {
	switch EchoPolicy(s) {
	case "":
		return EchoExcludeSender, nil
	case EchoExcludeSender, EchoExcludeOrigin, EchoAll:
		return EchoPolicy(s), nil
	}
	return "", fmt.Errorf("unknown echo policy %q", s)
}

// suppressed reports whether c should skip env under policy p.
func (p EchoPolicy) suppressed(env envelope.Envelope, c registry.Conn) bool {
	isOrigin := env.SenderConn != "" && env.SenderConn == c.ID()

	if env.Kind() == envelope.KindTypingUpdate {
		return isOrigin
	}

	switch p {
	case EchoAll:
		return false
	case EchoExcludeOrigin:
		return isOrigin
	default:
		sender, ok := env.Sender()
		return isOrigin || (ok && sender == c.UserID())
	}
}
