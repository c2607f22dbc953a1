// ABOUTME: Store interfaces and data types for chat persistence
// ABOUTME: Users, conversations, messages, reactions, and notification state

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/coven-chat/internal/topic"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when creating an entity that already exists.
var ErrDuplicate = errors.New("already exists")

// User is a chat account.
type User struct {
	ID             int64
	Username       string
	DisplayName    string
	AvatarURL      string
	PresenceStatus string // "online", "away" or "busy"
	IsAdmin        bool
	CreatedAt      time.Time
}

// ConversationType distinguishes channels from direct conversations.
type ConversationType string

const (
	ConversationChannel ConversationType = "channel"
	ConversationDM      ConversationType = "dm"
)

// Conversation is a channel or a direct conversation, keyed by topic.
type Conversation struct {
	Topic                     topic.Topic
	Type                      ConversationType
	Name                      string
	PostingRestrictedToAdmins bool
	CreatedAt                 time.Time
}

// Reply types for messages with a parent.
const (
	ReplyTypeThread = "thread"
	ReplyTypeQuote  = "quote"
)

// Message is one chat message.
type Message struct {
	ID                int64
	Topic             topic.Topic
	UserID            int64
	Content           string
	ParentMessageID   *int64
	ReplyType         string
	QuotedMessageID   *int64
	AttachmentFileIDs []int64
	CreatedAt         time.Time
}

// Reaction is one user's emoji on a message.
type Reaction struct {
	MessageID int64
	UserID    int64
	Emoji     string
}

// NotificationState is per-user, per-conversation read bookkeeping.
type NotificationState struct {
	UserID            int64
	Topic             topic.Topic
	LastRead          *time.Time
	LastNotified      *time.Time
	LastSeenMentionID *int64
}

// UserStore manages accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUsersByUsernames(ctx context.Context, usernames []string) ([]*User, error)
	UpdateAvatar(ctx context.Context, userID int64, avatarURL string) error
	SetPresenceStatus(ctx context.Context, userID int64, status string) error
}

// ConversationStore manages conversations and membership.
type ConversationStore interface {
	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, t topic.Topic) (*Conversation, error)
	// EnsureDirectConversation returns the DM between a and b, creating it
	// and its memberships on first use.
	EnsureDirectConversation(ctx context.Context, a, b int64) (*Conversation, error)
	AddMember(ctx context.Context, t topic.Topic, userID int64) error
	ConversationMembers(ctx context.Context, t topic.Topic) ([]int64, error)
	IsMember(ctx context.Context, t topic.Topic, userID int64) (bool, error)
}

// MessageStore manages messages, mentions and reactions.
type MessageStore interface {
	// CreateMessage assigns msg.ID (and CreatedAt when zero) and records a
	// mention row for each mentioned user in the same transaction.
	CreateMessage(ctx context.Context, msg *Message, mentionedUserIDs []int64) error
	GetMessage(ctx context.Context, id int64) (*Message, error)
	// ThreadParticipants returns the parent author and every replier.
	ThreadParticipants(ctx context.Context, parentID int64) ([]int64, error)
	// ToggleReaction adds the reaction if absent, removes it otherwise, and
	// reports whether it was added.
	ToggleReaction(ctx context.Context, messageID, userID int64, emoji string) (bool, error)
	ListReactions(ctx context.Context, messageID int64) ([]Reaction, error)
}

// NotificationStore manages read and notification bookkeeping.
type NotificationStore interface {
	GetOrCreateNotificationState(ctx context.Context, userID int64, t topic.Topic) (*NotificationState, error)
	// MarkRead stamps last-read and advances the last seen mention marker.
	MarkRead(ctx context.Context, userID int64, t topic.Topic, at time.Time) error
	// CompareAndSwapLastNotified sets last-notified to next only if it still
	// equals old (nil meaning never notified). It reports whether it wrote.
	CompareAndSwapLastNotified(ctx context.Context, userID int64, t topic.Topic, old *time.Time, next time.Time) (bool, error)
	// CountUnreadMentions counts mentions of the user in t newer than since.
	CountUnreadMentions(ctx context.Context, userID int64, t topic.Topic, since *time.Time) (int, error)
	// CountUnreadMessages counts messages from other users in t newer than since.
	CountUnreadMessages(ctx context.Context, userID int64, t topic.Topic, since *time.Time) (int, error)
	IsMentioned(ctx context.Context, messageID, userID int64) (bool, error)
}

// Store is the full persistence surface.
type Store interface {
	UserStore
	ConversationStore
	MessageStore
	NotificationStore
	Close() error
}

const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func conversationTypeOf(t topic.Topic) ConversationType {
	if t.IsDM() {
		return ConversationDM
	}
	return ConversationChannel
}
