// ABOUTME: Tests for the connection registry and subscription router
// ABOUTME: Covers last-connect-wins, exclusive subscription, and switch delivery

package registry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/topic"
)

type fakeConn struct {
	id     string
	userID int64

	mu     sync.Mutex
	frames []string
	err    error
}

func newFakeConn(id string, userID int64) *fakeConn {
	return &fakeConn{id: id, userID: userID}
}

func (c *fakeConn) ID() string    { return c.id }
func (c *fakeConn) UserID() int64 { return c.userID }

func (c *fakeConn) Send(_ context.Context, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, string(frame))
	return nil
}

func (c *fakeConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

func TestRegister_MarksOnline(t *testing.T) {
	r := New(nil)
	c := newFakeConn("c1", 1)

	assert.False(t, r.IsOnline(1))
	assert.True(t, r.Register(c))
	assert.True(t, r.IsOnline(1))

	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, c, got)

	// Idempotent for the same connection.
	assert.False(t, r.Register(c))
	assert.Equal(t, 1, r.Len())
}

func TestRegister_LastConnectWins(t *testing.T) {
	r := New(nil)
	first := newFakeConn("c1", 1)
	second := newFakeConn("c2", 1)

	assert.True(t, r.Register(first))
	assert.False(t, r.Register(second))

	got, _ := r.Lookup(1)
	assert.Equal(t, second, got)
	assert.Equal(t, 2, r.Len())

	// Dropping the older connection leaves the user online with the newer handle.
	assert.False(t, r.Unregister(first))
	assert.True(t, r.IsOnline(1))
	got, _ = r.Lookup(1)
	assert.Equal(t, second, got)

	assert.True(t, r.Unregister(second))
	assert.False(t, r.IsOnline(1))
}

func TestUnregister_PromotesRemainingConnection(t *testing.T) {
	r := New(nil)
	a := newFakeConn("a", 1)
	b := newFakeConn("b", 1)
	c := newFakeConn("c", 1)
	r.Register(a)
	r.Register(b)
	r.Register(c)

	assert.False(t, r.Unregister(c))
	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, b, got)
}

func TestUnregister_Unknown(t *testing.T) {
	r := New(nil)
	assert.False(t, r.Unregister(newFakeConn("ghost", 9)))
}

func TestSubscribe_ReturnsPrevious(t *testing.T) {
	r := New(nil)
	c := newFakeConn("c1", 1)
	r.Register(c)

	prev, had := r.Subscribe("c1", topic.Channel(1))
	assert.False(t, had)
	assert.Empty(t, prev)

	prev, had = r.Subscribe("c1", topic.Channel(2))
	assert.True(t, had)
	assert.Equal(t, topic.Channel(1), prev)

	current, ok := r.TopicOf("c1")
	require.True(t, ok)
	assert.Equal(t, topic.Channel(2), current)
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	r := New(nil)
	r.Register(newFakeConn("c1", 1))
	r.Subscribe("c1", topic.DM(1, 2))

	prev, had := r.Unsubscribe("c1")
	assert.True(t, had)
	assert.Equal(t, topic.DM(1, 2), prev)

	prev, had = r.Unsubscribe("c1")
	assert.False(t, had)
	assert.Empty(t, prev)

	_, ok := r.TopicOf("c1")
	assert.False(t, ok)
}

func TestSubscribe_UnknownConnection(t *testing.T) {
	r := New(nil)
	_, had := r.Subscribe("nope", topic.Channel(1))
	assert.False(t, had)
	_, ok := r.TopicOf("nope")
	assert.False(t, ok)
}

func TestExclusiveSubscription_RandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	topics := []topic.Topic{topic.Channel(1), topic.Channel(2), topic.DM(1, 2), topic.DM(3, 3)}

	for run := 0; run < 50; run++ {
		r := New(nil)
		r.Register(newFakeConn("c", 1))

		var want topic.Topic
		for step := 0; step < 30; step++ {
			if rng.Intn(3) == 0 {
				r.Unsubscribe("c")
				want = ""
				continue
			}
			want = topics[rng.Intn(len(topics))]
			r.Subscribe("c", want)
		}

		got, ok := r.TopicOf("c")
		if want == "" {
			assert.False(t, ok, "run %d", run)
		} else {
			assert.Equal(t, want, got, "run %d", run)
		}
	}
}

func TestDeliverIfSubscribed_ExactMatch(t *testing.T) {
	r := New(nil)
	c := newFakeConn("c1", 1)
	r.Register(c)
	ctx := context.Background()

	r.Subscribe("c1", topic.Channel(1))
	r.Subscribe("c1", topic.Channel(2))

	delivered, err := r.DeliverIfSubscribed(ctx, c, topic.Channel(1), []byte("old"))
	require.NoError(t, err)
	assert.False(t, delivered)

	delivered, err = r.DeliverIfSubscribed(ctx, c, topic.Channel(2), []byte("new"))
	require.NoError(t, err)
	assert.True(t, delivered)

	assert.Equal(t, []string{"new"}, c.received())
}

func TestDeliverIfSubscribed_SendError(t *testing.T) {
	r := New(nil)
	c := newFakeConn("c1", 1)
	c.err = errors.New("broken pipe")
	r.Register(c)
	r.Subscribe("c1", topic.Channel(1))

	delivered, err := r.DeliverIfSubscribed(context.Background(), c, topic.Channel(1), []byte("x"))
	assert.Error(t, err)
	assert.False(t, delivered)
}

func TestSubscribers(t *testing.T) {
	r := New(nil)
	a := newFakeConn("a", 1)
	b := newFakeConn("b", 2)
	c := newFakeConn("c", 3)
	r.Register(a)
	r.Register(b)
	r.Register(c)
	r.Subscribe("a", topic.Channel(5))
	r.Subscribe("b", topic.Channel(5))
	r.Subscribe("c", topic.Channel(6))

	assert.ElementsMatch(t, []Conn{a, b}, r.Subscribers(topic.Channel(5)))
	assert.ElementsMatch(t, []Conn{c}, r.Subscribers(topic.Channel(6)))
	assert.Empty(t, r.Subscribers(topic.Channel(7)))
	assert.Len(t, r.Local(), 3)
}

func TestRegistry_Concurrent(t *testing.T) {
	r := New(nil)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newFakeConn(fmt.Sprintf("c%d", i), int64(i%10))
			r.Register(c)
			r.Subscribe(c.ID(), topic.Channel(int64(i%3)))
			_, _ = r.DeliverIfSubscribed(context.Background(), c, topic.Channel(int64(i%3)), []byte("x"))
			r.Unsubscribe(c.ID())
			r.Unregister(c)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
	for uid := int64(0); uid < 10; uid++ {
		assert.False(t, r.IsOnline(uid))
	}
}
