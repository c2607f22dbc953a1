// ABOUTME: Formatter for the raw fragments carried by notification signals
// ABOUTME: Default HTML implementation swaps sidebar links out of band

package notify

import (
	"fmt"
	"html"

	"github.com/2389/coven-chat/internal/topic"
)

// Formatter renders the fragments sent as unread signals. label is the
// conversation's display name from the recipient's point of view.
type Formatter interface {
	MentionBadge(t topic.Topic, label string, count int) string
	UnreadLink(t topic.Topic, label string) string
	UnreadCount(t topic.Topic, label string, count int) string
	UnreadsIndicator() string
	ThreadsUnread() string
}

// HTMLFormatter renders out-of-band swap fragments for the sidebar.
type HTMLFormatter struct{}

var _ Formatter = HTMLFormatter{}

func linkID(t topic.Topic) string {
	return "link-" + t.String()
}

func (HTMLFormatter) MentionBadge(t topic.Topic, label string, count int) string {
	return fmt.Sprintf(
		`<a id="%s" class="conversation-link unread has-mention" hx-swap-oob="outerHTML">%s <span class="mention-badge">%d</span></a>`,
		linkID(t), html.EscapeString(label), count,
	)
}

func (HTMLFormatter) UnreadLink(t topic.Topic, label string) string {
	return fmt.Sprintf(
		`<a id="%s" class="conversation-link unread" hx-swap-oob="outerHTML">%s</a>`,
		linkID(t), html.EscapeString(label),
	)
}

func (HTMLFormatter) UnreadCount(t topic.Topic, label string, count int) string {
	return fmt.Sprintf(
		`<a id="%s" class="conversation-link unread" hx-swap-oob="outerHTML">%s <span class="unread-count">%d</span></a>`,
		linkID(t), html.EscapeString(label), count,
	)
}

func (HTMLFormatter) UnreadsIndicator() string {
	return `<a id="unreads-link" class="nav-link unread" hx-swap-oob="outerHTML">Unreads</a>`
}

func (HTMLFormatter) ThreadsUnread() string {
	return `<a id="threads-link" class="nav-link unread" hx-swap-oob="outerHTML">Threads</a>`
}
