// ABOUTME: Connection lifecycle: connect, subscribe, typing, unsubscribe, disconnect
// ABOUTME: Applies leave side effects and presence transitions exactly once

package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/2389/coven-chat/internal/presence"
	"github.com/2389/coven-chat/internal/registry"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/topic"
	"github.com/2389/coven-chat/internal/typing"
)

var (
	// ErrForbidden is returned when subscribing to a conversation the user
	// does not belong to.
	ErrForbidden = errors.New("not allowed to watch this conversation")
	// ErrNotSubscribed is returned for typing from a connection with no topic.
	ErrNotSubscribed = errors.New("connection is not watching a conversation")
)

// cleanupTimeout bounds the storage and bus work done after a client is gone.
const cleanupTimeout = 5 * time.Second

// Conn is a live client connection.
type Conn interface {
	registry.Conn
	// Username is shown in typing rosters.
	Username() string
	// Close tears down the transport. The connection's own read loop then
	// calls Disconnect.
	Close(reason string) error
}

// Store is the persistence the hub touches.
type Store interface {
	GetUser(ctx context.Context, id int64) (*store.User, error)
	IsMember(ctx context.Context, t topic.Topic, userID int64) (bool, error)
	MarkRead(ctx context.Context, userID int64, t topic.Topic, at time.Time) error
}

// Presence announces online and offline transitions.
type Presence interface {
	SetOnline(ctx context.Context, userID int64, status presence.Status) error
	SetOffline(ctx context.Context, userID int64) error
}

// Hub wires connections to the registry, directory, typing tracker and
// presence broadcaster.
type Hub struct {
	reg       *registry.Registry
	directory presence.Directory
	typing    *typing.Tracker
	presence  Presence
	store     Store
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Hub.
func New(reg *registry.Registry, dir presence.Directory, tracker *typing.Tracker, p Presence, st Store, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		reg:       reg,
		directory: dir,
		typing:    tracker,
		presence:  p,
		store:     st,
		logger:    logger.With("component", "hub"),
		now:       time.Now,
	}
}

// Connect registers c. If the user had no connection anywhere in the fleet,
// they are announced online with their stored status.
func (h *Hub) Connect(ctx context.Context, c Conn) error {
	cameOnline := h.reg.Register(c)
	if cameOnline {
		cameOnline = !h.onlineElsewhere(ctx, c.UserID())
	}

	if err := h.directory.Track(ctx, c.UserID(), c.ID()); err != nil {
		h.logger.Warn("directory track failed", "conn_id", c.ID(), "user_id", c.UserID(), "error", err)
	}

	h.logger.Info("client connected",
		"conn_id", c.ID(),
		"user_id", c.UserID(),
		"username", c.Username(),
		"came_online", cameOnline,
	)

	if !cameOnline {
		return nil
	}

	status := presence.StatusOnline
	if u, err := h.store.GetUser(ctx, c.UserID()); err != nil {
		h.logger.Warn("loading stored status failed", "user_id", c.UserID(), "error", err)
	} else if u.PresenceStatus != "" {
		status = presence.Status(u.PresenceStatus)
	}
	if err := h.presence.SetOnline(ctx, c.UserID(), status); err != nil {
		return fmt.Errorf("announcing online: %w", err)
	}
	return nil
}

// onlineElsewhere asks the fleet directory whether the user has a
// connection on another process. It is only called once the local registry
// has none, so any tracked connection belongs to another process. A
// directory error leaves the local decision in place.
func (h *Hub) onlineElsewhere(ctx context.Context, userID int64) bool {
	online, err := h.directory.IsOnline(ctx, userID)
	if err != nil {
		h.logger.Warn("directory lookup failed", "user_id", userID, "error", err)
		return false
	}
	return online
}

// Subscribe makes c watch t. Any previous topic is left first.
func (h *Hub) Subscribe(ctx context.Context, c Conn, t topic.Topic) error {
	if err := h.authorize(ctx, c.UserID(), t); err != nil {
		return err
	}

	prev, hadPrev := h.reg.Subscribe(c.ID(), t)
	if hadPrev && prev != t {
		h.leave(ctx, c, prev)
	}
	if err := h.directory.SetTopic(ctx, c.UserID(), c.ID(), t); err != nil {
		h.logger.Warn("directory update failed", "conn_id", c.ID(), "topic", t, "error", err)
	}

	h.logger.Debug("subscribed", "conn_id", c.ID(), "topic", t, "previous", prev)
	return nil
}

func (h *Hub) authorize(ctx context.Context, userID int64, t topic.Topic) error {
	if a, b, ok := t.Participants(); ok {
		if userID != a && userID != b {
			return ErrForbidden
		}
		return nil
	}
	member, err := h.store.IsMember(ctx, t, userID)
	if err != nil {
		return fmt.Errorf("checking membership: %w", err)
	}
	if !member {
		return ErrForbidden
	}
	return nil
}

// Unsubscribe stops c watching its topic. Calling it with no topic is a
// no-op.
func (h *Hub) Unsubscribe(ctx context.Context, c Conn) {
	prev, hadPrev := h.reg.Unsubscribe(c.ID())
	if !hadPrev {
		return
	}
	h.leave(ctx, c, prev)
	if err := h.directory.SetTopic(ctx, c.UserID(), c.ID(), ""); err != nil {
		h.logger.Warn("directory update failed", "conn_id", c.ID(), "error", err)
	}
}

// leave marks t read for the user and removes them from its typing roster,
// unless another of their local connections still watches t.
func (h *Hub) leave(ctx context.Context, c Conn, t topic.Topic) {
	if err := h.store.MarkRead(ctx, c.UserID(), t, h.now()); err != nil {
		h.logger.Warn("mark read on leave failed", "user_id", c.UserID(), "topic", t, "error", err)
	}
	stillWatching := lo.ContainsBy(h.reg.Subscribers(t), func(o registry.Conn) bool {
		return o.UserID() == c.UserID() && o.ID() != c.ID()
	})
	if stillWatching {
		return
	}
	if err := h.typing.Remove(ctx, t, c.Username(), c); err != nil {
		h.logger.Warn("typing cleanup failed", "topic", t, "error", err)
	}
}

// SetTyping records a typing start or stop in c's current topic.
func (h *Hub) SetTyping(ctx context.Context, c Conn, isTyping bool) error {
	t, ok := h.reg.TopicOf(c.ID())
	if !ok {
		return ErrNotSubscribed
	}
	return h.typing.SetTyping(ctx, t, c.Username(), isTyping, c)
}

// TopicOf reports the topic c is watching.
func (h *Hub) TopicOf(c Conn) (topic.Topic, bool) {
	return h.reg.TopicOf(c.ID())
}

// Disconnect runs the cleanup for a connection that is gone. It runs its
// own bounded context so cleanup completes after the request context ends.
func (h *Hub) Disconnect(ctx context.Context, c Conn) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if prev, hadPrev := h.reg.Unsubscribe(c.ID()); hadPrev {
		h.leave(ctx, c, prev)
	}

	wentOffline := h.reg.Unregister(c)
	if err := h.directory.Untrack(ctx, c.UserID(), c.ID()); err != nil {
		h.logger.Warn("directory untrack failed", "conn_id", c.ID(), "error", err)
	}
	if wentOffline {
		wentOffline = !h.onlineElsewhere(ctx, c.UserID())
	}

	h.logger.Info("client disconnected",
		"conn_id", c.ID(),
		"user_id", c.UserID(),
		"went_offline", wentOffline,
	)

	if wentOffline {
		if err := h.presence.SetOffline(ctx, c.UserID()); err != nil {
			h.logger.Warn("announcing offline failed", "user_id", c.UserID(), "error", err)
		}
	}
}

// HandleSendFailure closes a connection the fan-out layer could not write
// to and runs its cleanup.
func (h *Hub) HandleSendFailure(c registry.Conn, err error) {
	hc, ok := c.(Conn)
	if !ok {
		return
	}
	h.logger.Debug("closing connection after send failure", "conn_id", c.ID(), "error", err)
	_ = hc.Close("send failed")
	h.Disconnect(context.Background(), hc)
}
