// ABOUTME: Publishes presence_update events for connect, disconnect and status changes
// ABOUTME: Optional grace period suppresses broadcasts for quick reconnects

package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-chat/internal/envelope"
)

// GlobalPublisher sends an envelope to every connection in the fleet.
type GlobalPublisher interface {
	PublishGlobal(ctx context.Context, env envelope.Envelope) error
}

// Broadcaster announces presence transitions.
type Broadcaster struct {
	pub    GlobalPublisher
	grace  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending map[int64]*time.Timer
	closed  bool
}

// NewBroadcaster creates a Broadcaster. A grace of zero broadcasts every
// transition as it happens.
func NewBroadcaster(pub GlobalPublisher, grace time.Duration, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		pub:     pub,
		grace:   grace,
		logger:  logger.With("component", "presence"),
		pending: make(map[int64]*time.Timer),
	}
}

// SetOnline announces that the user connected with the given stored status.
// If an offline announcement for the user is still pending, both are
// dropped.
func (b *Broadcaster) SetOnline(ctx context.Context, userID int64, status Status) error {
	b.mu.Lock()
	t, ok := b.pending[userID]
	if ok {
		// Removing the entry also disarms a timer that has fired but not
		// yet claimed it.
		delete(b.pending, userID)
	}
	b.mu.Unlock()

	if ok && t.Stop() {
		b.logger.Debug("reconnect within grace period, presence unchanged", "user_id", userID)
		return nil
	}

	return b.publish(ctx, userID, ClassFor(status))
}

// SetOffline announces that the user's last connection dropped.
func (b *Broadcaster) SetOffline(ctx context.Context, userID int64) error {
	if b.grace <= 0 {
		return b.publish(ctx, userID, ClassOffline)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	if t, ok := b.pending[userID]; ok {
		t.Stop()
	}
	// The connection context is gone by the time the timer fires.
	detached := context.WithoutCancel(ctx)
	var timer *time.Timer
	timer = time.AfterFunc(b.grace, func() {
		b.mu.Lock()
		if b.pending[userID] != timer {
			b.mu.Unlock()
			return
		}
		delete(b.pending, userID)
		b.mu.Unlock()

		if err := b.publish(detached, userID, ClassOffline); err != nil {
			b.logger.Error("deferred offline broadcast failed", "user_id", userID, "error", err)
		}
	})
	b.pending[userID] = timer
	return nil
}

// SetStatus announces a user-chosen status change.
func (b *Broadcaster) SetStatus(ctx context.Context, userID int64, status Status) error {
	return b.publish(ctx, userID, ClassFor(status))
}

// Pending reports whether an offline announcement is waiting for the user.
func (b *Broadcaster) Pending(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[userID]
	return ok
}

// Close cancels pending offline announcements.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, t := range b.pending {
		t.Stop()
		delete(b.pending, id)
	}
}

func (b *Broadcaster) publish(ctx context.Context, userID int64, class Class) error {
	env := envelope.Structured(envelope.PresenceUpdate(userID, string(class)))
	if err := b.pub.PublishGlobal(ctx, env); err != nil {
		return fmt.Errorf("publishing presence for user %d: %w", userID, err)
	}
	b.logger.Debug("presence broadcast", "user_id", userID, "status_class", class)
	return nil
}
