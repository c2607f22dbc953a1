// ABOUTME: Tests for the in-process bus
// ABOUTME: Covers glob routing, subscription close, and simulated outages

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for bus message")
	}
	return Message{}
}

func assertNoMessage(t *testing.T, sub Subscription) {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected message on %s", msg.Channel)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBus_PatternRouting(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := t.Context()

	chat, err := b.Subscribe(ctx, "chat:*")
	require.NoError(t, err)
	global, err := b.Subscribe(ctx, "global:events")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "chat:channel_1", []byte("a")))
	require.NoError(t, b.Publish(ctx, "global:events", []byte("b")))
	require.NoError(t, b.Publish(ctx, "user:4", []byte("c")))

	msg := receive(t, chat)
	assert.Equal(t, "chat:channel_1", msg.Channel)
	assert.Equal(t, []byte("a"), msg.Payload)
	assertNoMessage(t, chat)

	msg = receive(t, global)
	assert.Equal(t, "global:events", msg.Channel)
	assertNoMessage(t, global)
}

func TestMemoryBus_MultiplePatterns(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := t.Context()

	sub, err := b.Subscribe(ctx, "chat:*", "user:*", "global:events")
	require.NoError(t, err)

	for _, ch := range []string{"chat:dm_1_2", "user:9", "global:events"} {
		require.NoError(t, b.Publish(ctx, ch, []byte(ch)))
	}
	for _, ch := range []string{"chat:dm_1_2", "user:9", "global:events"} {
		assert.Equal(t, ch, receive(t, sub).Channel)
	}
}

func TestMemoryBus_OrderPerChannel(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := t.Context()

	sub, err := b.Subscribe(ctx, "chat:*")
	require.NoError(t, err)

	for _, p := range []string{"1", "2", "3"} {
		require.NoError(t, b.Publish(ctx, "chat:channel_1", []byte(p)))
	}
	for _, p := range []string{"1", "2", "3"} {
		assert.Equal(t, p, string(receive(t, sub).Payload))
	}
}

func TestMemoryBus_CloseSubscription(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := t.Context()

	sub, err := b.Subscribe(ctx, "chat:*")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	_, ok := <-sub.Messages()
	assert.False(t, ok)

	// Publishing with no subscribers is fine.
	assert.NoError(t, b.Publish(ctx, "chat:channel_1", []byte("x")))
}

func TestMemoryBus_Unavailable(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := t.Context()

	sub, err := b.Subscribe(ctx, "chat:*")
	require.NoError(t, err)

	b.SetAvailable(false)

	_, ok := <-sub.Messages()
	assert.False(t, ok, "outage should end subscriptions")
	assert.ErrorIs(t, b.Publish(ctx, "chat:x", nil), ErrUnavailable)
	assert.ErrorIs(t, b.Ping(ctx), ErrUnavailable)
	_, err = b.Subscribe(ctx, "chat:*")
	assert.ErrorIs(t, err, ErrUnavailable)

	b.SetAvailable(true)
	assert.NoError(t, b.Ping(ctx))
	_, err = b.Subscribe(ctx, "chat:*")
	assert.NoError(t, err)
}

func TestMemoryBus_Closed(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(ctx, "chat:x", nil), ErrClosed)
	_, err := b.Subscribe(ctx, "chat:*")
	assert.ErrorIs(t, err, ErrClosed)
}
