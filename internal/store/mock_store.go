// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/2389/coven-chat/internal/topic"
)

type mention struct {
	id        int64
	messageID int64
	userID    int64
}

type statusKey struct {
	userID int64
	topic  topic.Topic
}

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	users         map[int64]*User
	conversations map[topic.Topic]*Conversation
	members       map[topic.Topic]map[int64]struct{}
	messages      map[int64]*Message
	mentions      []mention
	reactions     []Reaction // in insertion order
	states        map[statusKey]*NotificationState
	nextUserID    int64
	nextMessageID int64
	nextMention   int64
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[int64]*User),
		conversations: make(map[topic.Topic]*Conversation),
		members:       make(map[topic.Topic]map[int64]struct{}),
		messages:      make(map[int64]*Message),
		states:        make(map[statusKey]*NotificationState),
	}
}

// CreateUser stores a new user and assigns its ID.
func (m *MockStore) CreateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Username == u.Username {
			return ErrDuplicate
		}
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.PresenceStatus == "" {
		u.PresenceStatus = "online"
	}
	m.nextUserID++
	u.ID = m.nextUserID

	// Make a copy to avoid external modification
	stored := *u
	m.users[u.ID] = &stored
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id int64) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// GetUsersByUsernames returns known users with the given names, ordered by ID.
func (m *MockStore) GetUsersByUsernames(ctx context.Context, usernames []string) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*User
	for _, u := range m.users {
		if slices.Contains(usernames, u.Username) {
			c := *u
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *User) int { return int(a.ID - b.ID) })
	return out, nil
}

// UpdateAvatar sets a user's avatar URL.
func (m *MockStore) UpdateAvatar(ctx context.Context, userID int64, avatarURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.AvatarURL = avatarURL
	return nil
}

// SetPresenceStatus stores a user-chosen status.
func (m *MockStore) SetPresenceStatus(ctx context.Context, userID int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PresenceStatus = status
	return nil
}

// CreateConversation stores a conversation.
func (m *MockStore) CreateConversation(ctx context.Context, c *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[c.Topic]; ok {
		return ErrDuplicate
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Type == "" {
		c.Type = conversationTypeOf(c.Topic)
	}
	stored := *c
	m.conversations[c.Topic] = &stored
	return nil
}

// GetConversation retrieves a conversation by topic.
func (m *MockStore) GetConversation(ctx context.Context, t topic.Topic) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[t]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// EnsureDirectConversation creates the DM between a and b on first use.
func (m *MockStore) EnsureDirectConversation(ctx context.Context, a, b int64) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := topic.DM(a, b)
	c, ok := m.conversations[t]
	if !ok {
		c = &Conversation{Topic: t, Type: ConversationDM, CreatedAt: time.Now().UTC()}
		m.conversations[t] = c
	}
	m.addMemberLocked(t, a)
	m.addMemberLocked(t, b)

	result := *c
	return &result, nil
}

func (m *MockStore) addMemberLocked(t topic.Topic, userID int64) {
	set, ok := m.members[t]
	if !ok {
		set = make(map[int64]struct{})
		m.members[t] = set
	}
	set[userID] = struct{}{}
}

// AddMember adds a user to a conversation.
func (m *MockStore) AddMember(ctx context.Context, t topic.Topic, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.addMemberLocked(t, userID)
	return nil
}

// ConversationMembers lists member user IDs in ascending order.
func (m *MockStore) ConversationMembers(ctx context.Context, t topic.Topic) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := lo.Keys(m.members[t])
	slices.Sort(ids)
	return ids, nil
}

// IsMember reports whether the user belongs to the conversation.
func (m *MockStore) IsMember(ctx context.Context, t topic.Topic, userID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.members[t][userID]
	return ok, nil
}

// CreateMessage stores msg and its mentions.
func (m *MockStore) CreateMessage(ctx context.Context, msg *Message, mentionedUserIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	m.nextMessageID++
	msg.ID = m.nextMessageID

	stored := *msg
	stored.AttachmentFileIDs = slices.Clone(msg.AttachmentFileIDs)
	m.messages[msg.ID] = &stored

	for _, uid := range lo.Uniq(mentionedUserIDs) {
		m.nextMention++
		m.mentions = append(m.mentions, mention{id: m.nextMention, messageID: msg.ID, userID: uid})
	}
	return nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *msg
	result.AttachmentFileIDs = slices.Clone(msg.AttachmentFileIDs)
	return &result, nil
}

// ThreadParticipants returns the parent's author and every thread replier.
func (m *MockStore) ThreadParticipants(ctx context.Context, parentID int64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[int64]struct{})
	if parent, ok := m.messages[parentID]; ok {
		seen[parent.UserID] = struct{}{}
	}
	for _, msg := range m.messages {
		if msg.ParentMessageID != nil && *msg.ParentMessageID == parentID && msg.ReplyType == ReplyTypeThread {
			seen[msg.UserID] = struct{}{}
		}
	}
	ids := lo.Keys(seen)
	slices.Sort(ids)
	return ids, nil
}

// ToggleReaction flips one user's emoji on a message.
func (m *MockStore) ToggleReaction(ctx context.Context, messageID, userID int64, emoji string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.messages[messageID]; !ok {
		return false, ErrNotFound
	}
	r := Reaction{MessageID: messageID, UserID: userID, Emoji: emoji}
	if i := slices.Index(m.reactions, r); i >= 0 {
		m.reactions = slices.Delete(m.reactions, i, i+1)
		return false, nil
	}
	m.reactions = append(m.reactions, r)
	return true, nil
}

// ListReactions returns a message's reactions in insertion order.
func (m *MockStore) ListReactions(ctx context.Context, messageID int64) ([]Reaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return lo.Filter(m.reactions, func(r Reaction, _ int) bool {
		return r.MessageID == messageID
	}), nil
}

func copyState(s *NotificationState) *NotificationState {
	c := *s
	if s.LastRead != nil {
		v := *s.LastRead
		c.LastRead = &v
	}
	if s.LastNotified != nil {
		v := *s.LastNotified
		c.LastNotified = &v
	}
	if s.LastSeenMentionID != nil {
		v := *s.LastSeenMentionID
		c.LastSeenMentionID = &v
	}
	return &c
}

func (m *MockStore) stateLocked(userID int64, t topic.Topic) *NotificationState {
	key := statusKey{userID: userID, topic: t}
	s, ok := m.states[key]
	if !ok {
		s = &NotificationState{UserID: userID, Topic: t}
		m.states[key] = s
	}
	return s
}

// GetOrCreateNotificationState returns the user's state for t.
func (m *MockStore) GetOrCreateNotificationState(ctx context.Context, userID int64, t topic.Topic) (*NotificationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return copyState(m.stateLocked(userID, t)), nil
}

// MarkRead stamps last-read and advances the mention marker.
func (m *MockStore) MarkRead(ctx context.Context, userID int64, t topic.Topic, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stateLocked(userID, t)
	readAt := at.UTC()
	s.LastRead = &readAt

	var latest *int64
	for _, mn := range m.mentions {
		msg := m.messages[mn.messageID]
		if mn.userID == userID && msg != nil && msg.Topic == t {
			id := mn.id
			latest = &id
		}
	}
	s.LastSeenMentionID = latest
	return nil
}

// CompareAndSwapLastNotified writes next only if last-notified equals old.
func (m *MockStore) CompareAndSwapLastNotified(ctx context.Context, userID int64, t topic.Topic, old *time.Time, next time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.states[statusKey{userID: userID, topic: t}]
	if !ok {
		return false, nil
	}
	switch {
	case old == nil && s.LastNotified != nil,
		old != nil && s.LastNotified == nil,
		old != nil && !old.Equal(*s.LastNotified):
		return false, nil
	}
	v := next.UTC()
	s.LastNotified = &v
	return true, nil
}

// CountUnreadMentions counts mentions of the user in t after since.
func (m *MockStore) CountUnreadMentions(ctx context.Context, userID int64, t topic.Topic, since *time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return lo.CountBy(m.mentions, func(mn mention) bool {
		msg := m.messages[mn.messageID]
		return mn.userID == userID && msg != nil && msg.Topic == t &&
			(since == nil || msg.CreatedAt.After(*since))
	}), nil
}

// CountUnreadMessages counts messages from other users in t after since.
func (m *MockStore) CountUnreadMessages(ctx context.Context, userID int64, t topic.Topic, since *time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, msg := range m.messages {
		if msg.Topic == t && msg.UserID != userID && (since == nil || msg.CreatedAt.After(*since)) {
			n++
		}
	}
	return n, nil
}

// IsMentioned reports whether the message mentions the user.
func (m *MockStore) IsMentioned(ctx context.Context, messageID, userID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return lo.ContainsBy(m.mentions, func(mn mention) bool {
		return mn.messageID == messageID && mn.userID == userID
	}), nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
