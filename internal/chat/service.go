// ABOUTME: Service records messages, reactions and profile changes, then fans them out
// ABOUTME: Store first, echo to the sender, publish to the topic, then notify

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/coven-chat/internal/envelope"
	"github.com/2389/coven-chat/internal/notify"
	"github.com/2389/coven-chat/internal/presence"
	"github.com/2389/coven-chat/internal/registry"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/topic"
)

var (
	// ErrNotMember is returned when the sender does not belong to the conversation.
	ErrNotMember = errors.New("not a member of this conversation")
	// ErrPostingRestricted is returned when a non-admin posts to an admin-only channel.
	ErrPostingRestricted = errors.New("posting is restricted to admins")
	// ErrEmptyMessage is returned for a message with no text and no attachments.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrInvalidReply is returned when the parent or quoted message is unusable.
	ErrInvalidReply = errors.New("invalid reply target")
	// ErrInvalidReaction is returned for an empty emoji.
	ErrInvalidReaction = errors.New("invalid reaction")
	// ErrInvalidStatus is returned for a status a user cannot choose.
	ErrInvalidStatus = errors.New("invalid presence status")
)

// Store is the persistence the service uses.
type Store interface {
	store.UserStore
	store.ConversationStore
	store.MessageStore
}

// Fanout delivers events to live connections.
type Fanout interface {
	Publish(ctx context.Context, t topic.Topic, env envelope.Envelope, sender registry.Conn) error
	PublishGlobal(ctx context.Context, env envelope.Envelope) error
	Echo(ctx context.Context, c registry.Conn, env envelope.Envelope) error
}

// Notifier computes per-member signals for new messages.
type Notifier interface {
	ResolveMentions(ctx context.Context, t topic.Topic, senderID int64, content string) ([]int64, error)
	NotifyNewMessage(ctx context.Context, msg notify.Message) error
	NotifyThreadReply(ctx context.Context, reply notify.ThreadReply) error
}

// StatusBroadcaster announces a user's chosen status.
type StatusBroadcaster interface {
	SetStatus(ctx context.Context, userID int64, status presence.Status) error
}

// Service is the message service.
type Service struct {
	store    Store
	fanout   Fanout
	notifier Notifier
	presence StatusBroadcaster
	render   Renderer
	logger   *slog.Logger
}

// New creates a Service. A nil renderer publishes structured events.
func New(st Store, fan Fanout, n Notifier, p StatusBroadcaster, r Renderer, logger *slog.Logger) *Service {
	if r == nil {
		r = StructuredRenderer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		fanout:   fan,
		notifier: n,
		presence: p,
		render:   r,
		logger:   logger.With("component", "chat"),
	}
}

// PostRequest is a message as submitted by a client.
type PostRequest struct {
	Topic             topic.Topic
	Content           string
	ParentMessageID   *int64
	ReplyType         string // "thread" or "quote"; defaults to thread when a parent is set
	QuotedMessageID   *int64
	AttachmentFileIDs []int64
}

// PostMessage stores a message from sender, echoes it back, publishes it to
// the topic and triggers notifications.
func (s *Service) PostMessage(ctx context.Context, sender registry.Conn, req PostRequest) (*store.Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" && len(req.AttachmentFileIDs) == 0 {
		return nil, ErrEmptyMessage
	}

	user, err := s.store.GetUser(ctx, sender.UserID())
	if err != nil {
		return nil, fmt.Errorf("loading sender: %w", err)
	}
	conv, err := s.authorizePost(ctx, user, req.Topic)
	if err != nil {
		return nil, err
	}

	msg := &store.Message{
		Topic:             conv.Topic,
		UserID:            user.ID,
		Content:           content,
		AttachmentFileIDs: req.AttachmentFileIDs,
	}
	if err := s.resolveReply(ctx, msg, req); err != nil {
		return nil, err
	}

	mentioned, err := s.notifier.ResolveMentions(ctx, conv.Topic, user.ID, content)
	if err != nil {
		return nil, fmt.Errorf("resolving mentions: %w", err)
	}
	if err := s.store.CreateMessage(ctx, msg, mentioned); err != nil {
		return nil, fmt.Errorf("storing message: %w", err)
	}

	s.logger.Debug("message stored",
		"message_id", msg.ID,
		"topic", msg.Topic,
		"user_id", user.ID,
		"mentions", len(mentioned),
	)

	s.deliver(ctx, sender, conv.Topic, s.render.RenderMessage(view(msg, user.Username, nil)))

	if msg.ReplyType == store.ReplyTypeThread {
		reply := notify.ThreadReply{ParentID: *msg.ParentMessageID, Topic: msg.Topic, SenderID: user.ID}
		if err := s.notifier.NotifyThreadReply(ctx, reply); err != nil {
			s.logger.Warn("thread notifications incomplete", "message_id", msg.ID, "error", err)
		}
	}
	note := notify.Message{
		ID:           msg.ID,
		Topic:        msg.Topic,
		ChannelName:  conv.Name,
		SenderID:     user.ID,
		SenderName:   user.Username,
		SenderAvatar: user.AvatarURL,
		Content:      content,
	}
	if err := s.notifier.NotifyNewMessage(ctx, note); err != nil {
		s.logger.Warn("notifications incomplete", "message_id", msg.ID, "error", err)
	}

	return msg, nil
}

// authorizePost checks that user may post to t. Direct conversations are
// created on first use.
func (s *Service) authorizePost(ctx context.Context, user *store.User, t topic.Topic) (*store.Conversation, error) {
	if a, b, ok := t.Participants(); ok {
		if user.ID != a && user.ID != b {
			return nil, ErrNotMember
		}
		conv, err := s.store.EnsureDirectConversation(ctx, a, b)
		if err != nil {
			return nil, fmt.Errorf("opening direct conversation: %w", err)
		}
		return conv, nil
	}

	conv, err := s.store.GetConversation(ctx, t)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotMember
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	member, err := s.store.IsMember(ctx, t, user.ID)
	if err != nil {
		return nil, fmt.Errorf("checking membership: %w", err)
	}
	if !member {
		return nil, ErrNotMember
	}
	if conv.PostingRestrictedToAdmins && !user.IsAdmin {
		return nil, ErrPostingRestricted
	}
	return conv, nil
}

func (s *Service) resolveReply(ctx context.Context, msg *store.Message, req PostRequest) error {
	if req.QuotedMessageID != nil {
		if err := s.checkTarget(ctx, *req.QuotedMessageID, msg.Topic); err != nil {
			return err
		}
		msg.QuotedMessageID = req.QuotedMessageID
	}
	if req.ParentMessageID == nil {
		return nil
	}

	switch req.ReplyType {
	case "", store.ReplyTypeThread:
		msg.ReplyType = store.ReplyTypeThread
	case store.ReplyTypeQuote:
		msg.ReplyType = store.ReplyTypeQuote
	default:
		return fmt.Errorf("%w: reply type %q", ErrInvalidReply, req.ReplyType)
	}
	if err := s.checkTarget(ctx, *req.ParentMessageID, msg.Topic); err != nil {
		return err
	}
	msg.ParentMessageID = req.ParentMessageID
	return nil
}

func (s *Service) checkTarget(ctx context.Context, id int64, t topic.Topic) error {
	target, err := s.store.GetMessage(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: message %d not found", ErrInvalidReply, id)
	}
	if err != nil {
		return fmt.Errorf("loading message %d: %w", id, err)
	}
	if target.Topic != t {
		return fmt.Errorf("%w: message %d is in another conversation", ErrInvalidReply, id)
	}
	return nil
}

// ToggleReaction adds or removes the sender's emoji on a message and
// republishes the message with its updated reactions.
func (s *Service) ToggleReaction(ctx context.Context, sender registry.Conn, messageID int64, emoji string) (bool, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return false, ErrInvalidReaction
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return false, fmt.Errorf("loading message: %w", err)
	}
	member, err := s.store.IsMember(ctx, msg.Topic, sender.UserID())
	if err != nil {
		return false, fmt.Errorf("checking membership: %w", err)
	}
	if !member {
		return false, ErrNotMember
	}

	added, err := s.store.ToggleReaction(ctx, messageID, sender.UserID(), emoji)
	if err != nil {
		return false, fmt.Errorf("toggling reaction: %w", err)
	}

	reactions, err := s.store.ListReactions(ctx, messageID)
	if err != nil {
		return added, fmt.Errorf("listing reactions: %w", err)
	}
	author, err := s.store.GetUser(ctx, msg.UserID)
	if err != nil {
		return added, fmt.Errorf("loading author: %w", err)
	}

	s.deliver(ctx, sender, msg.Topic, s.render.RenderMessage(view(msg, author.Username, reactions)))
	return added, nil
}

// UpdateAvatar stores a new avatar and tells every connection.
func (s *Service) UpdateAvatar(ctx context.Context, userID int64, avatarURL string) error {
	if err := s.store.UpdateAvatar(ctx, userID, avatarURL); err != nil {
		return fmt.Errorf("storing avatar: %w", err)
	}
	env := envelope.Structured(envelope.AvatarUpdate(userID, avatarURL))
	if err := s.fanout.PublishGlobal(ctx, env); err != nil {
		s.logger.Warn("avatar update not broadcast", "user_id", userID, "error", err)
	}
	return nil
}

// SetStatus stores a user-chosen status and announces it.
func (s *Service) SetStatus(ctx context.Context, userID int64, status string) error {
	st, ok := presence.ParseStatus(status)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if err := s.store.SetPresenceStatus(ctx, userID, string(st)); err != nil {
		return fmt.Errorf("storing status: %w", err)
	}
	if err := s.presence.SetStatus(ctx, userID, st); err != nil {
		s.logger.Warn("status change not broadcast", "user_id", userID, "error", err)
	}
	return nil
}

// deliver echoes env to the sender and publishes it to t. Neither failure
// is returned: the change is already stored.
func (s *Service) deliver(ctx context.Context, sender registry.Conn, t topic.Topic, env envelope.Envelope) {
	if err := s.fanout.Echo(ctx, sender, env); err != nil {
		s.logger.Debug("echo to sender failed", "conn_id", sender.ID(), "error", err)
	}
	if err := s.fanout.Publish(ctx, t, env, sender); err != nil {
		s.logger.Warn("publish failed, topic will catch up on reload", "topic", t, "error", err)
	}
}

func view(m *store.Message, username string, reactions []store.Reaction) envelope.Message {
	v := envelope.Message{
		ID:                m.ID,
		ConversationID:    m.Topic.String(),
		UserID:            m.UserID,
		Username:          username,
		Content:           m.Content,
		ParentMessageID:   m.ParentMessageID,
		ReplyType:         m.ReplyType,
		QuotedMessageID:   m.QuotedMessageID,
		AttachmentFileIDs: m.AttachmentFileIDs,
		CreatedAt:         m.CreatedAt,
	}

	index := make(map[string]int)
	for _, r := range reactions {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(v.Reactions)
			index[r.Emoji] = i
			v.Reactions = append(v.Reactions, envelope.Reaction{Emoji: r.Emoji})
		}
		v.Reactions[i].UserIDs = append(v.Reactions[i].UserIDs, r.UserID)
	}
	return v
}
