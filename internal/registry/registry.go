// ABOUTME: Per-process connection registry and single-topic subscription router
// ABOUTME: One mutex guards both maps; sends happen outside the lock

package registry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/2389/coven-chat/internal/topic"
)

// Conn is a sendable client endpoint owned by the registry while live.
type Conn interface {
	// ID uniquely identifies the connection within the fleet.
	ID() string
	// UserID is the authenticated owner of the connection.
	UserID() int64
	// Send queues one frame for the client. It must not block for long.
	Send(ctx context.Context, frame []byte) error
}

type entry struct {
	conn  Conn
	topic topic.Topic
	seq   uint64
}

// Registry holds the connections and subscriptions of one process.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*entry
	byUser map[int64]*entry
	seq    uint64
	logger *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string]*entry),
		byUser: make(map[int64]*entry),
		logger: logger.With("component", "registry"),
	}
}

// Register adds c and makes it its user's handle. It reports whether the
// user was offline on this process before the call. Registering the same
// connection twice only refreshes its handle status.
func (r *Registry) Register(c Conn) (cameOnline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	e, exists := r.conns[c.ID()]
	if !exists {
		e = &entry{conn: c}
		r.conns[c.ID()] = e
	}
	e.seq = r.seq

	_, online := r.byUser[c.UserID()]
	r.byUser[c.UserID()] = e

	r.logger.Debug("connection registered",
		"conn_id", c.ID(),
		"user_id", c.UserID(),
		"total_conns", len(r.conns),
	)
	return !online
}

// Unregister removes c. It reports whether its user has no local
// connection left. Unknown connections are ignored and report false.
func (r *Registry) Unregister(c Conn) (wentOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.conns[c.ID()]
	if !exists {
		return false
	}
	delete(r.conns, c.ID())

	uid := c.UserID()
	if r.byUser[uid] == e {
		delete(r.byUser, uid)
		if next := r.newestForUserLocked(uid); next != nil {
			r.byUser[uid] = next
		} else {
			wentOffline = true
		}
	}

	r.logger.Debug("connection unregistered",
		"conn_id", c.ID(),
		"user_id", uid,
		"went_offline", wentOffline,
		"total_conns", len(r.conns),
	)
	return wentOffline
}

func (r *Registry) newestForUserLocked(uid int64) *entry {
	var newest *entry
	for _, e := range r.conns {
		if e.conn.UserID() != uid {
			continue
		}
		if newest == nil || e.seq > newest.seq {
			newest = e
		}
	}
	return newest
}

// IsOnline reports whether the user has a connection on this process.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[userID]
	return ok
}

// Lookup returns the user's current handle on this process.
func (r *Registry) Lookup(userID int64) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byUser[userID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Local returns a snapshot of every live connection on this process.
func (r *Registry) Local() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.conns))
	for _, e := range r.conns {
		out = append(out, e.conn)
	}
	return out
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Subscribe points the connection at t and returns the topic it replaced.
// Unknown connections are ignored.
func (r *Registry) Subscribe(connID string, t topic.Topic) (prev topic.Topic, hadPrev bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	prev, hadPrev = e.topic, e.topic != ""
	e.topic = t
	return prev, hadPrev
}

// Unsubscribe clears the connection's topic and returns what it was.
// A second call returns hadPrev=false.
func (r *Registry) Unsubscribe(connID string) (prev topic.Topic, hadPrev bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok || e.topic == "" {
		return "", false
	}
	prev = e.topic
	e.topic = ""
	return prev, true
}

// TopicOf returns the topic the connection is watching.
func (r *Registry) TopicOf(connID string) (topic.Topic, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connID]
	if !ok || e.topic == "" {
		return "", false
	}
	return e.topic, true
}

// Subscribers returns the local connections currently watching t.
func (r *Registry) Subscribers(t topic.Topic) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Conn
	for _, e := range r.conns {
		if e.topic == t {
			out = append(out, e.conn)
		}
	}
	return out
}

// DeliverIfSubscribed sends frame to c only if c is watching exactly t.
// Frames for a topic the connection has already left are dropped silently.
func (r *Registry) DeliverIfSubscribed(ctx context.Context, c Conn, t topic.Topic, frame []byte) (bool, error) {
	current, ok := r.TopicOf(c.ID())
	if !ok || current != t {
		return false, nil
	}
	if err := c.Send(ctx, frame); err != nil {
		return false, err
	}
	return true, nil
}
