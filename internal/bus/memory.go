// ABOUTME: In-process Bus implementation with glob pattern matching
// ABOUTME: Used for single-node deployments and for exercising fan-out in tests

package bus

import (
	"context"
	"path"
	"sync"
)

const defaultMemoryBuffer = 1024

// MemoryBus is an in-process Bus. Slow subscribers drop messages once their
// buffer is full.
type MemoryBus struct {
	mu          sync.RWMutex
	subs        map[*memorySubscription]struct{}
	buffer      int
	closed      bool
	unavailable bool
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs:   make(map[*memorySubscription]struct{}),
		buffer: defaultMemoryBuffer,
	}
}

type memorySubscription struct {
	bus      *MemoryBus
	patterns []string
	ch       chan Message
	once     sync.Once
}

func (s *memorySubscription) Messages() <-chan Message {
	return s.ch
}

func (s *memorySubscription) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *memorySubscription) closeLocked() {
	s.once.Do(func() {
		delete(s.bus.subs, s)
		close(s.ch)
	})
}

func (s *memorySubscription) matches(channel string) bool {
	for _, p := range s.patterns {
		if ok, _ := path.Match(p, channel); ok {
			return true
		}
	}
	return false
}

// Publish delivers payload to every subscription with a matching pattern.
func (b *MemoryBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	if b.unavailable {
		return ErrUnavailable
	}

	msg := Message{Channel: channel, Payload: append([]byte(nil), payload...)}
	for sub := range b.subs {
		if !sub.matches(channel) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscription for the given glob patterns.
func (b *MemoryBus) Subscribe(ctx context.Context, patterns ...string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if b.unavailable {
		return nil, ErrUnavailable
	}

	sub := &memorySubscription{
		bus:      b,
		patterns: append([]string(nil), patterns...),
		ch:       make(chan Message, b.buffer),
	}
	b.subs[sub] = struct{}{}
	return sub, nil
}

// Ping reports whether the bus is accepting operations.
func (b *MemoryBus) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	if b.unavailable {
		return ErrUnavailable
	}
	return nil
}

// SetAvailable simulates losing or regaining the backbone. Going
// unavailable ends every open subscription.
func (b *MemoryBus) SetAvailable(available bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unavailable = !available
	if !available {
		for sub := range b.subs {
			sub.closeLocked()
		}
	}
}

// Close ends all subscriptions and rejects further use.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subs {
		sub.closeLocked()
	}
	return nil
}
