// ABOUTME: Behavior tests shared by every Store implementation
// ABOUTME: Each implementation's test file runs the suite against its own constructor

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/topic"
)

type storeFactory func(t *testing.T) Store

func runStoreSuite(t *testing.T, newStore storeFactory) {
	t.Run("users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("conversations", func(t *testing.T) { testConversations(t, newStore(t)) })
	t.Run("direct conversations", func(t *testing.T) { testDirectConversations(t, newStore(t)) })
	t.Run("messages", func(t *testing.T) { testMessages(t, newStore(t)) })
	t.Run("thread participants", func(t *testing.T) { testThreadParticipants(t, newStore(t)) })
	t.Run("reactions", func(t *testing.T) { testReactions(t, newStore(t)) })
	t.Run("notification state", func(t *testing.T) { testNotificationState(t, newStore(t)) })
	t.Run("unread counts", func(t *testing.T) { testUnreadCounts(t, newStore(t)) })
}

func mustUser(t *testing.T, s Store, name string) *User {
	t.Helper()
	u := &User{Username: name, DisplayName: name}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func mustChannel(t *testing.T, s Store, id int64, members ...int64) topic.Topic {
	t.Helper()
	ctx := context.Background()
	tp := topic.Channel(id)
	require.NoError(t, s.CreateConversation(ctx, &Conversation{Topic: tp, Name: "general"}))
	for _, uid := range members {
		require.NoError(t, s.AddMember(ctx, tp, uid))
	}
	return tp
}

func testUsers(t *testing.T, s Store) {
	ctx := context.Background()

	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")
	assert.NotZero(t, alice.ID)
	assert.NotEqual(t, alice.ID, bob.ID)

	err := s.CreateUser(ctx, &User{Username: "alice"})
	assert.True(t, errors.Is(err, ErrDuplicate), "expected ErrDuplicate, got %v", err)

	got, err := s.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "online", got.PresenceStatus)

	_, err = s.GetUser(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	users, err := s.GetUsersByUsernames(ctx, []string{"bob", "nobody", "alice"})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, alice.ID, users[0].ID)
	assert.Equal(t, bob.ID, users[1].ID)

	users, err = s.GetUsersByUsernames(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, users)

	require.NoError(t, s.UpdateAvatar(ctx, alice.ID, "/avatars/alice.png"))
	require.NoError(t, s.SetPresenceStatus(ctx, alice.ID, "busy"))
	got, err = s.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "/avatars/alice.png", got.AvatarURL)
	assert.Equal(t, "busy", got.PresenceStatus)

	assert.ErrorIs(t, s.UpdateAvatar(ctx, 9999, "x"), ErrNotFound)
	assert.ErrorIs(t, s.SetPresenceStatus(ctx, 9999, "away"), ErrNotFound)
}

func testConversations(t *testing.T, s Store) {
	ctx := context.Background()
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")

	tp := topic.Channel(5)
	conv := &Conversation{Topic: tp, Name: "announcements", PostingRestrictedToAdmins: true}
	require.NoError(t, s.CreateConversation(ctx, conv))
	assert.Equal(t, ConversationChannel, conv.Type)
	assert.ErrorIs(t, s.CreateConversation(ctx, &Conversation{Topic: tp}), ErrDuplicate)

	got, err := s.GetConversation(ctx, tp)
	require.NoError(t, err)
	assert.Equal(t, "announcements", got.Name)
	assert.True(t, got.PostingRestrictedToAdmins)

	_, err = s.GetConversation(ctx, topic.Channel(6))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.AddMember(ctx, tp, bob.ID))
	require.NoError(t, s.AddMember(ctx, tp, alice.ID))
	require.NoError(t, s.AddMember(ctx, tp, alice.ID))

	members, err := s.ConversationMembers(ctx, tp)
	require.NoError(t, err)
	assert.Equal(t, []int64{alice.ID, bob.ID}, members)

	ok, err := s.IsMember(ctx, tp, alice.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.IsMember(ctx, tp, 9999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testDirectConversations(t *testing.T, s Store) {
	ctx := context.Background()
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")

	first, err := s.EnsureDirectConversation(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, topic.DM(alice.ID, bob.ID), first.Topic)
	assert.Equal(t, ConversationDM, first.Type)

	second, err := s.EnsureDirectConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Topic, second.Topic)

	members, err := s.ConversationMembers(ctx, first.Topic)
	require.NoError(t, err)
	assert.Equal(t, []int64{alice.ID, bob.ID}, members)

	self, err := s.EnsureDirectConversation(ctx, alice.ID, alice.ID)
	require.NoError(t, err)
	members, err = s.ConversationMembers(ctx, self.Topic)
	require.NoError(t, err)
	assert.Equal(t, []int64{alice.ID}, members)
}

func testMessages(t *testing.T, s Store) {
	ctx := context.Background()
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")
	tp := mustChannel(t, s, 1, alice.ID, bob.ID)

	msg := &Message{Topic: tp, UserID: alice.ID, Content: "hi @bob", AttachmentFileIDs: []int64{7, 3}}
	require.NoError(t, s.CreateMessage(ctx, msg, []int64{bob.ID}))
	assert.NotZero(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi @bob", got.Content)
	assert.Equal(t, tp, got.Topic)
	assert.ElementsMatch(t, []int64{3, 7}, got.AttachmentFileIDs)
	assert.Nil(t, got.ParentMessageID)
	assert.Empty(t, got.ReplyType)

	_, err = s.GetMessage(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	mentioned, err := s.IsMentioned(ctx, msg.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, mentioned)
	mentioned, err = s.IsMentioned(ctx, msg.ID, alice.ID)
	require.NoError(t, err)
	assert.False(t, mentioned)

	quote := &Message{Topic: tp, UserID: bob.ID, Content: "quoted", QuotedMessageID: &msg.ID, ReplyType: ReplyTypeQuote, ParentMessageID: &msg.ID}
	require.NoError(t, s.CreateMessage(ctx, quote, nil))
	got, err = s.GetMessage(ctx, quote.ID)
	require.NoError(t, err)
	require.NotNil(t, got.QuotedMessageID)
	assert.Equal(t, msg.ID, *got.QuotedMessageID)
	assert.Equal(t, ReplyTypeQuote, got.ReplyType)
}

func testThreadParticipants(t *testing.T, s Store) {
	ctx := context.Background()
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")
	carol := mustUser(t, s, "carol")
	tp := mustChannel(t, s, 1, alice.ID, bob.ID, carol.ID)

	parent := &Message{Topic: tp, UserID: alice.ID, Content: "root"}
	require.NoError(t, s.CreateMessage(ctx, parent, nil))

	reply := &Message{Topic: tp, UserID: bob.ID, Content: "reply", ParentMessageID: &parent.ID, ReplyType: ReplyTypeThread}
	require.NoError(t, s.CreateMessage(ctx, reply, nil))

	// A quote of the parent does not join the thread.
	quote := &Message{Topic: tp, UserID: carol.ID, Content: "quote", ParentMessageID: &parent.ID, ReplyType: ReplyTypeQuote}
	require.NoError(t, s.CreateMessage(ctx, quote, nil))

	ids, err := s.ThreadParticipants(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{alice.ID, bob.ID}, ids)

	ids, err = s.ThreadParticipants(ctx, 9999)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func testReactions(t *testing.T, s Store) {
	ctx := context.Background()
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")
	tp := mustChannel(t, s, 1, alice.ID, bob.ID)

	msg := &Message{Topic: tp, UserID: alice.ID, Content: "ship it"}
	require.NoError(t, s.CreateMessage(ctx, msg, nil))

	added, err := s.ToggleReaction(ctx, msg.ID, bob.ID, "👍")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.ToggleReaction(ctx, msg.ID, alice.ID, "👍")
	require.NoError(t, err)
	assert.True(t, added)

	list, err := s.ListReactions(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)

	added, err = s.ToggleReaction(ctx, msg.ID, bob.ID, "👍")
	require.NoError(t, err)
	assert.False(t, added)

	list, err = s.ListReactions(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []Reaction{{MessageID: msg.ID, UserID: alice.ID, Emoji: "👍"}}, list)
}

func testNotificationState(t *testing.T, s Store) {
	ctx := context.Background()
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")
	tp := mustChannel(t, s, 1, alice.ID, bob.ID)

	state, err := s.GetOrCreateNotificationState(ctx, bob.ID, tp)
	require.NoError(t, err)
	assert.Nil(t, state.LastRead)
	assert.Nil(t, state.LastNotified)
	assert.Nil(t, state.LastSeenMentionID)

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ok, err := s.CompareAndSwapLastNotified(ctx, bob.ID, tp, nil, t0)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second writer holding the stale value loses.
	ok, err = s.CompareAndSwapLastNotified(ctx, bob.ID, tp, nil, t0.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	t1 := t0.Add(2 * time.Minute)
	ok, err = s.CompareAndSwapLastNotified(ctx, bob.ID, tp, &t0, t1)
	require.NoError(t, err)
	assert.True(t, ok)

	state, err = s.GetOrCreateNotificationState(ctx, bob.ID, tp)
	require.NoError(t, err)
	require.NotNil(t, state.LastNotified)
	assert.True(t, t1.Equal(*state.LastNotified))

	msg := &Message{Topic: tp, UserID: alice.ID, Content: "@bob look", CreatedAt: t0}
	require.NoError(t, s.CreateMessage(ctx, msg, []int64{bob.ID}))

	readAt := t0.Add(time.Hour)
	require.NoError(t, s.MarkRead(ctx, bob.ID, tp, readAt))
	state, err = s.GetOrCreateNotificationState(ctx, bob.ID, tp)
	require.NoError(t, err)
	require.NotNil(t, state.LastRead)
	assert.True(t, readAt.Equal(*state.LastRead))
	assert.NotNil(t, state.LastSeenMentionID)

	// MarkRead works before any state row exists.
	require.NoError(t, s.MarkRead(ctx, alice.ID, tp, readAt))
	state, err = s.GetOrCreateNotificationState(ctx, alice.ID, tp)
	require.NoError(t, err)
	require.NotNil(t, state.LastRead)
	assert.Nil(t, state.LastSeenMentionID)
}

func testUnreadCounts(t *testing.T, s Store) {
	ctx := context.Background()
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")
	tp := mustChannel(t, s, 1, alice.ID, bob.ID)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	post := func(from int64, at time.Time, mentions ...int64) {
		t.Helper()
		require.NoError(t, s.CreateMessage(ctx, &Message{Topic: tp, UserID: from, Content: "m", CreatedAt: at}, mentions))
	}
	post(alice.ID, base, bob.ID)
	post(alice.ID, base.Add(time.Minute))
	post(bob.ID, base.Add(2*time.Minute))
	post(alice.ID, base.Add(3*time.Minute), bob.ID)

	n, err := s.CountUnreadMessages(ctx, bob.ID, tp, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.CountUnreadMentions(ctx, bob.ID, tp, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	since := base.Add(90 * time.Second)
	n, err = s.CountUnreadMessages(ctx, bob.ID, tp, &since)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountUnreadMentions(ctx, bob.ID, tp, &since)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountUnreadMentions(ctx, alice.ID, tp, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
