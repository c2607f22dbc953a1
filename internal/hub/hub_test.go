// ABOUTME: Tests for connection lifecycle, subscription switching and leave effects
// ABOUTME: Uses recording publishers in place of the fan-out adapter

package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/envelope"
	"github.com/2389/coven-chat/internal/presence"
	"github.com/2389/coven-chat/internal/registry"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/topic"
	"github.com/2389/coven-chat/internal/typing"
)

type fakeConn struct {
	id       string
	userID   int64
	username string

	mu     sync.Mutex
	closed string
}

func (c *fakeConn) ID() string                         { return c.id }
func (c *fakeConn) UserID() int64                      { return c.userID }
func (c *fakeConn) Username() string                   { return c.username }
func (c *fakeConn) Send(context.Context, []byte) error { return nil }

func (c *fakeConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = reason
	return nil
}

type published struct {
	topic topic.Topic
	env   envelope.Envelope
}

// recorder stands in for the fan-out adapter on both the topic and global
// channels.
type recorder struct {
	mu     sync.Mutex
	topics []published
	global []envelope.Envelope
}

func (r *recorder) Publish(_ context.Context, t topic.Topic, env envelope.Envelope, _ registry.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, published{topic: t, env: env})
	return nil
}

func (r *recorder) PublishGlobal(_ context.Context, env envelope.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.global = append(r.global, env)
	return nil
}

func (r *recorder) typingRosters(t topic.Topic) [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]string
	for _, p := range r.topics {
		if p.topic != t {
			continue
		}
		if ev, ok := p.env.Event(); ok && ev.Kind == envelope.KindTypingUpdate {
			out = append(out, ev.Typists)
		}
	}
	return out
}

func (r *recorder) presence() []envelope.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []envelope.Event
	for _, env := range r.global {
		if ev, ok := env.Event(); ok && ev.Kind == envelope.KindPresenceUpdate {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	hub   *Hub
	reg   *registry.Registry
	dir   *presence.MemoryDirectory
	store *store.MockStore
	rec   *recorder
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rec := &recorder{}
	reg := registry.New(nil)
	dir := presence.NewMemoryDirectory()
	st := store.NewMockStore()
	broadcaster := presence.NewBroadcaster(rec, 0, nil)
	t.Cleanup(broadcaster.Close)

	f := &fixture{
		hub:   New(reg, dir, typing.NewTracker(rec, nil), broadcaster, st, nil),
		reg:   reg,
		dir:   dir,
		store: st,
		rec:   rec,
		now:   time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
	}
	f.hub.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) user(t *testing.T, name, status string) *fakeConn {
	t.Helper()
	u := &store.User{Username: name, PresenceStatus: status}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return &fakeConn{id: name + "-1", userID: u.ID, username: name}
}

func (f *fixture) channel(t *testing.T, id int64, members ...int64) topic.Topic {
	t.Helper()
	ctx := context.Background()
	tp := topic.Channel(id)
	require.NoError(t, f.store.CreateConversation(ctx, &store.Conversation{Topic: tp}))
	for _, uid := range members {
		require.NoError(t, f.store.AddMember(ctx, tp, uid))
	}
	return tp
}

func TestPresenceRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "busy")

	require.NoError(t, f.hub.Connect(ctx, alice))
	assert.True(t, f.reg.IsOnline(alice.userID))
	online, err := f.dir.IsOnline(ctx, alice.userID)
	require.NoError(t, err)
	assert.True(t, online)

	f.hub.Disconnect(ctx, alice)
	assert.False(t, f.reg.IsOnline(alice.userID))
	online, err = f.dir.IsOnline(ctx, alice.userID)
	require.NoError(t, err)
	assert.False(t, online)

	events := f.rec.presence()
	require.Len(t, events, 2)
	assert.Equal(t, alice.userID, events[0].UserID)
	assert.Equal(t, string(presence.ClassBusy), events[0].StatusClass)
	assert.Equal(t, string(presence.ClassOffline), events[1].StatusClass)

	// A second disconnect for the same connection changes nothing.
	f.hub.Disconnect(ctx, alice)
	assert.Len(t, f.rec.presence(), 2)
}

func TestSecondTabDoesNotFlapPresence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "")
	tab2 := &fakeConn{id: "alice-2", userID: alice.userID, username: "alice"}

	require.NoError(t, f.hub.Connect(ctx, alice))
	require.NoError(t, f.hub.Connect(ctx, tab2))
	f.hub.Disconnect(ctx, alice)
	assert.True(t, f.reg.IsOnline(alice.userID))
	f.hub.Disconnect(ctx, tab2)

	events := f.rec.presence()
	require.Len(t, events, 2)
	assert.Equal(t, string(presence.ClassOnline), events[0].StatusClass)
	assert.Equal(t, string(presence.ClassOffline), events[1].StatusClass)
}

func TestSubscribeSwitchLeavesPreviousTopic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "")
	ch1 := f.channel(t, 1, alice.userID)
	ch2 := f.channel(t, 2, alice.userID)
	require.NoError(t, f.hub.Connect(ctx, alice))

	require.NoError(t, f.hub.Subscribe(ctx, alice, ch1))
	require.NoError(t, f.hub.SetTyping(ctx, alice, true))
	assert.Equal(t, [][]string{{"alice"}}, f.rec.typingRosters(ch1))

	require.NoError(t, f.hub.Subscribe(ctx, alice, ch2))

	got, ok := f.reg.TopicOf(alice.ID())
	require.True(t, ok)
	assert.Equal(t, ch2, got)

	// Leaving ch1 cleared the roster and stamped it read.
	assert.Equal(t, [][]string{{"alice"}, {}}, f.rec.typingRosters(ch1))
	state, err := f.store.GetOrCreateNotificationState(ctx, alice.userID, ch1)
	require.NoError(t, err)
	require.NotNil(t, state.LastRead)
	assert.True(t, f.now.Equal(*state.LastRead))

	viewing, err := f.dir.IsViewing(ctx, alice.userID, ch2)
	require.NoError(t, err)
	assert.True(t, viewing)
	viewing, err = f.dir.IsViewing(ctx, alice.userID, ch1)
	require.NoError(t, err)
	assert.False(t, viewing)
}

func TestResubscribeSameTopicHasNoLeaveEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "")
	ch := f.channel(t, 1, alice.userID)
	require.NoError(t, f.hub.Connect(ctx, alice))

	require.NoError(t, f.hub.Subscribe(ctx, alice, ch))
	require.NoError(t, f.hub.Subscribe(ctx, alice, ch))

	assert.Empty(t, f.rec.typingRosters(ch))
	state, err := f.store.GetOrCreateNotificationState(ctx, alice.userID, ch)
	require.NoError(t, err)
	assert.Nil(t, state.LastRead)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "")
	ch := f.channel(t, 1, alice.userID)
	require.NoError(t, f.hub.Connect(ctx, alice))
	require.NoError(t, f.hub.Subscribe(ctx, alice, ch))

	f.hub.Unsubscribe(ctx, alice)
	f.hub.Unsubscribe(ctx, alice)

	_, ok := f.reg.TopicOf(alice.ID())
	assert.False(t, ok)
	assert.Equal(t, [][]string{{}}, f.rec.typingRosters(ch), "exactly one roster broadcast")

	assert.ErrorIs(t, f.hub.SetTyping(ctx, alice, true), ErrNotSubscribed)
}

func TestTypingStartStopLeavesEmptyRoster(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "")
	ch := f.channel(t, 1, alice.userID)
	require.NoError(t, f.hub.Connect(ctx, alice))
	require.NoError(t, f.hub.Subscribe(ctx, alice, ch))

	require.NoError(t, f.hub.SetTyping(ctx, alice, true))
	require.NoError(t, f.hub.SetTyping(ctx, alice, true))
	require.NoError(t, f.hub.SetTyping(ctx, alice, false))
	require.NoError(t, f.hub.SetTyping(ctx, alice, false))

	rosters := f.rec.typingRosters(ch)
	require.Len(t, rosters, 4)
	assert.Empty(t, rosters[3])
}

func TestSubscribeRequiresMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "")
	bob := f.user(t, "bob", "")
	carol := f.user(t, "carol", "")
	private := f.channel(t, 1, bob.userID)
	require.NoError(t, f.hub.Connect(ctx, alice))

	assert.ErrorIs(t, f.hub.Subscribe(ctx, alice, private), ErrForbidden)
	assert.ErrorIs(t, f.hub.Subscribe(ctx, alice, topic.DM(bob.userID, carol.userID)), ErrForbidden)
	assert.NoError(t, f.hub.Subscribe(ctx, alice, topic.DM(alice.userID, bob.userID)))
	assert.NoError(t, f.hub.Subscribe(ctx, alice, topic.DM(alice.userID, alice.userID)))
}

func TestDisconnectLeavesTopic(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	alice := f.user(t, "alice", "")
	ch := f.channel(t, 1, alice.userID)
	require.NoError(t, f.hub.Connect(ctx, alice))
	require.NoError(t, f.hub.Subscribe(ctx, alice, ch))
	require.NoError(t, f.hub.SetTyping(ctx, alice, true))

	// The request context is usually gone by the time cleanup runs.
	cancel()
	f.hub.Disconnect(ctx, alice)

	assert.Equal(t, 0, f.reg.Len())
	rosters := f.rec.typingRosters(ch)
	require.Len(t, rosters, 2)
	assert.Empty(t, rosters[1])

	state, err := f.store.GetOrCreateNotificationState(context.Background(), alice.userID, ch)
	require.NoError(t, err)
	assert.NotNil(t, state.LastRead)
}

func TestHandleSendFailureClosesAndCleansUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "")
	require.NoError(t, f.hub.Connect(ctx, alice))

	f.hub.HandleSendFailure(alice, assert.AnError)

	assert.Equal(t, "send failed", alice.closed)
	assert.False(t, f.reg.IsOnline(alice.userID))
	assert.Len(t, f.rec.presence(), 2)
}

// newNode builds a hub as one process of a fleet sharing dir and st.
func newNode(t *testing.T, dir presence.Directory, st *store.MockStore, rec *recorder) *Hub {
	t.Helper()
	broadcaster := presence.NewBroadcaster(rec, 0, nil)
	t.Cleanup(broadcaster.Close)
	return New(registry.New(nil), dir, typing.NewTracker(rec, nil), broadcaster, st, nil)
}

func TestPresenceFollowsFleetDirectory(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	dir := presence.NewMemoryDirectory()
	st := store.NewMockStore()
	node1 := newNode(t, dir, st, rec)
	node2 := newNode(t, dir, st, rec)

	u := &store.User{Username: "alice"}
	require.NoError(t, st.CreateUser(ctx, u))
	onNode1 := &fakeConn{id: "alice-1", userID: u.ID, username: "alice"}
	onNode2 := &fakeConn{id: "alice-2", userID: u.ID, username: "alice"}

	require.NoError(t, node1.Connect(ctx, onNode1))
	require.NoError(t, node2.Connect(ctx, onNode2))
	assert.Len(t, rec.presence(), 1, "second process must not announce again")

	node1.Disconnect(ctx, onNode1)
	online, err := dir.IsOnline(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, online)
	assert.Len(t, rec.presence(), 1, "user is still connected on the other process")

	node2.Disconnect(ctx, onNode2)
	events := rec.presence()
	require.Len(t, events, 2)
	assert.Equal(t, string(presence.ClassOnline), events[0].StatusClass)
	assert.Equal(t, string(presence.ClassOffline), events[1].StatusClass)
}

func TestLeavingTabKeepsOtherTabTyping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "")
	tab2 := &fakeConn{id: "alice-2", userID: alice.userID, username: "alice"}
	ch := f.channel(t, 1, alice.userID)

	require.NoError(t, f.hub.Connect(ctx, alice))
	require.NoError(t, f.hub.Connect(ctx, tab2))
	require.NoError(t, f.hub.Subscribe(ctx, alice, ch))
	require.NoError(t, f.hub.Subscribe(ctx, tab2, ch))
	require.NoError(t, f.hub.SetTyping(ctx, tab2, true))

	f.hub.Unsubscribe(ctx, alice)
	assert.Equal(t, [][]string{{"alice"}}, f.rec.typingRosters(ch))

	// The last tab leaving clears the roster.
	f.hub.Disconnect(ctx, tab2)
	assert.Equal(t, [][]string{{"alice"}, {}}, f.rec.typingRosters(ch))
}
