// ABOUTME: Notification policy engine for new messages and thread replies
// ABOUTME: Computes per-member badges and alerts with a compare-and-swap cooldown

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/2389/coven-chat/internal/envelope"
	"github.com/2389/coven-chat/internal/presence"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/topic"
)

// DefaultCooldown is the minimum gap between non-mention alerts for one
// member in one conversation.
const DefaultCooldown = 60 * time.Second

// DefaultPreviewLength caps the desktop notification body, in runes.
const DefaultPreviewLength = 200

// Store is the persistence the engine reads and writes.
type Store interface {
	GetUsersByUsernames(ctx context.Context, usernames []string) ([]*store.User, error)
	ConversationMembers(ctx context.Context, t topic.Topic) ([]int64, error)
	ThreadParticipants(ctx context.Context, parentID int64) ([]int64, error)
	store.NotificationStore
}

// Options tunes the engine. Zero values take defaults.
type Options struct {
	Cooldown      time.Duration
	PreviewLength int
}

// Message is a newly stored message as the engine sees it.
type Message struct {
	ID           int64
	Topic        topic.Topic
	ChannelName  string // channels only
	SenderID     int64
	SenderName   string
	SenderAvatar string
	Content      string
}

// label is the conversation's name as the recipient sees it: the channel,
// or for a direct conversation the other participant.
func (m Message) label() string {
	if m.Topic.IsChannel() {
		return "# " + m.ChannelName
	}
	return m.SenderName
}

// ThreadReply identifies a reply posted into a thread.
type ThreadReply struct {
	ParentID int64
	Topic    topic.Topic // the parent's conversation
	SenderID int64
}

// Engine decides and sends per-member notification signals.
type Engine struct {
	store     Store
	directory presence.Directory
	pub       Publisher
	format    Formatter
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine creates an engine. A nil formatter uses HTMLFormatter.
func NewEngine(st Store, dir presence.Directory, pub Publisher, f Formatter, opts Options, logger *slog.Logger) *Engine {
	if f == nil {
		f = HTMLFormatter{}
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.PreviewLength <= 0 {
		opts.PreviewLength = DefaultPreviewLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     st,
		directory: dir,
		pub:       pub,
		format:    f,
		opts:      opts,
		logger:    logger.With("component", "notify"),
		now:       time.Now,
	}
}

// Cooldown returns the alert throttling window.
func (e *Engine) Cooldown() time.Duration {
	return e.opts.Cooldown
}

// ResolveMentions turns content into the user IDs to record as mentioned.
// Sweeps only apply to channels, and the sender is never included.
func (e *Engine) ResolveMentions(ctx context.Context, t topic.Topic, senderID int64, content string) ([]int64, error) {
	m := ParseMentions(content)

	var ids []int64
	if len(m.Usernames) > 0 {
		users, err := e.store.GetUsersByUsernames(ctx, m.Usernames)
		if err != nil {
			return nil, fmt.Errorf("resolving usernames: %w", err)
		}
		ids = append(ids, lo.Map(users, func(u *store.User, _ int) int64 { return u.ID })...)
	}

	if t.IsChannel() && (m.Channel || m.Here) {
		members, err := e.store.ConversationMembers(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("listing members: %w", err)
		}
		if m.Channel {
			ids = append(ids, members...)
		} else {
			online, err := e.directory.OnlineAmong(ctx, members)
			if err != nil {
				return nil, fmt.Errorf("filtering online members: %w", err)
			}
			ids = append(ids, online...)
		}
	}

	ids = lo.Without(lo.Uniq(ids), senderID)
	slices.Sort(ids)
	return ids, nil
}

// NotifyNewMessage sends unread and alert signals for msg to every online
// member who is not the sender and is not viewing msg.Topic. Failures for one
// member are logged and do not stop the others.
func (e *Engine) NotifyNewMessage(ctx context.Context, msg Message) error {
	members, err := e.store.ConversationMembers(ctx, msg.Topic)
	if err != nil {
		return fmt.Errorf("listing members: %w", err)
	}
	online, err := e.directory.OnlineAmong(ctx, lo.Without(members, msg.SenderID))
	if err != nil {
		return fmt.Errorf("filtering online members: %w", err)
	}

	var errs []error
	for _, uid := range online {
		if err := e.notifyMember(ctx, msg, uid); err != nil {
			e.logger.Warn("notify member failed",
				"user_id", uid,
				"topic", msg.Topic,
				"message_id", msg.ID,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) notifyMember(ctx context.Context, msg Message, uid int64) error {
	viewing, err := e.directory.IsViewing(ctx, uid, msg.Topic)
	if err != nil {
		return fmt.Errorf("checking view: %w", err)
	}
	if viewing {
		return nil
	}

	state, err := e.store.GetOrCreateNotificationState(ctx, uid, msg.Topic)
	if err != nil {
		return fmt.Errorf("loading notification state: %w", err)
	}

	mentioned, err := e.store.IsMentioned(ctx, msg.ID, uid)
	if err != nil {
		return fmt.Errorf("checking mention: %w", err)
	}
	if mentioned {
		return e.notifyMention(ctx, msg, uid, state)
	}

	unread, err := e.store.CountUnreadMessages(ctx, uid, msg.Topic, state.LastRead)
	if err != nil {
		return fmt.Errorf("counting unread: %w", err)
	}
	if unread == 0 {
		return nil
	}

	var badge string
	if msg.Topic.IsChannel() {
		badge = e.format.UnreadLink(msg.Topic, msg.label())
	} else {
		badge = e.format.UnreadCount(msg.Topic, msg.label(), unread)
	}
	if err := e.sendRaw(ctx, uid, badge, e.format.UnreadsIndicator()); err != nil {
		return err
	}

	if !msg.Topic.IsDM() {
		return nil
	}
	fire, err := e.claimAlert(ctx, uid, msg.Topic, state.LastNotified)
	if err != nil || !fire {
		return err
	}
	return e.alert(ctx, uid, "New message from "+msg.SenderName, msg)
}

func (e *Engine) notifyMention(ctx context.Context, msg Message, uid int64, state *store.NotificationState) error {
	count, err := e.store.CountUnreadMentions(ctx, uid, msg.Topic, state.LastRead)
	if err != nil {
		return fmt.Errorf("counting mentions: %w", err)
	}

	badge := e.format.MentionBadge(msg.Topic, msg.label(), count)
	if err := e.sendRaw(ctx, uid, badge, e.format.UnreadsIndicator()); err != nil {
		return err
	}
	if err := e.alert(ctx, uid, "New mention from "+msg.SenderName, msg); err != nil {
		return err
	}

	swapped, err := e.store.CompareAndSwapLastNotified(ctx, uid, msg.Topic, state.LastNotified, e.now())
	if err != nil {
		return fmt.Errorf("stamping last notified: %w", err)
	}
	if !swapped {
		e.logger.Debug("last notified changed concurrently", "user_id", uid, "topic", msg.Topic)
	}
	return nil
}

// NotifyThreadReply signals every online thread participant other than the
// sender, with a sound throttled by the cooldown on the parent conversation.
func (e *Engine) NotifyThreadReply(ctx context.Context, reply ThreadReply) error {
	participants, err := e.store.ThreadParticipants(ctx, reply.ParentID)
	if err != nil {
		return fmt.Errorf("listing thread participants: %w", err)
	}
	online, err := e.directory.OnlineAmong(ctx, lo.Without(participants, reply.SenderID))
	if err != nil {
		return fmt.Errorf("filtering online participants: %w", err)
	}

	var errs []error
	for _, uid := range online {
		if err := e.notifyParticipant(ctx, reply, uid); err != nil {
			e.logger.Warn("thread notification failed",
				"user_id", uid,
				"parent_id", reply.ParentID,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) notifyParticipant(ctx context.Context, reply ThreadReply, uid int64) error {
	if err := e.sendRaw(ctx, uid, e.format.ThreadsUnread()); err != nil {
		return err
	}

	state, err := e.store.GetOrCreateNotificationState(ctx, uid, reply.Topic)
	if err != nil {
		return fmt.Errorf("loading notification state: %w", err)
	}
	fire, err := e.claimAlert(ctx, uid, reply.Topic, state.LastNotified)
	if err != nil || !fire {
		return err
	}
	return e.send(ctx, uid, envelope.Structured(envelope.Sound()))
}

// claimAlert reports whether the cooldown has passed and this caller won the
// right to alert by moving last-notified forward.
func (e *Engine) claimAlert(ctx context.Context, uid int64, t topic.Topic, last *time.Time) (bool, error) {
	now := e.now()
	if last != nil && now.Sub(*last) <= e.opts.Cooldown {
		return false, nil
	}
	swapped, err := e.store.CompareAndSwapLastNotified(ctx, uid, t, last, now)
	if err != nil {
		return false, fmt.Errorf("stamping last notified: %w", err)
	}
	if !swapped {
		e.logger.Debug("alert claimed by another writer", "user_id", uid, "topic", t)
	}
	return swapped, nil
}

func (e *Engine) alert(ctx context.Context, uid int64, title string, msg Message) error {
	if err := e.send(ctx, uid, envelope.Structured(envelope.Sound())); err != nil {
		return err
	}
	note := envelope.Notification(title, e.preview(msg.Content), msg.SenderAvatar, msg.Topic.String())
	return e.send(ctx, uid, envelope.Structured(note))
}

func (e *Engine) preview(content string) string {
	if utf8.RuneCountInString(content) <= e.opts.PreviewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:e.opts.PreviewLength]) + "…"
}

func (e *Engine) sendRaw(ctx context.Context, uid int64, fragments ...string) error {
	for _, f := range fragments {
		if err := e.send(ctx, uid, envelope.Raw(f)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) send(ctx context.Context, uid int64, env envelope.Envelope) error {
	if err := e.pub.PublishToUser(ctx, uid, env); err != nil {
		return fmt.Errorf("publishing to user %d: %w", uid, err)
	}
	return nil
}
