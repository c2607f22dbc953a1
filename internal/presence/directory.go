// ABOUTME: Fleet-wide directory of connected users and the topic each connection views
// ABOUTME: In-memory implementation for single-process deployments and tests

package presence

import (
	"context"
	"sync"

	"github.com/samber/lo"

	"github.com/2389/coven-chat/internal/topic"
)

// Directory is the fleet-wide view of live connections.
type Directory interface {
	// Track records a new connection with no topic.
	Track(ctx context.Context, userID int64, connID string) error
	// SetTopic records the topic a connection is watching; "" clears it.
	SetTopic(ctx context.Context, userID int64, connID string, t topic.Topic) error
	// Untrack forgets a connection.
	Untrack(ctx context.Context, userID int64, connID string) error
	// IsOnline reports whether the user has any live connection.
	IsOnline(ctx context.Context, userID int64) (bool, error)
	// IsViewing reports whether any of the user's connections watches t.
	IsViewing(ctx context.Context, userID int64, t topic.Topic) (bool, error)
	// OnlineAmong filters userIDs down to those with a live connection.
	OnlineAmong(ctx context.Context, userIDs []int64) ([]int64, error)
}

// MemoryDirectory is a Directory for a single process.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[int64]map[string]topic.Topic
}

// NewMemoryDirectory creates an empty MemoryDirectory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{users: make(map[int64]map[string]topic.Topic)}
}

func (d *MemoryDirectory) Track(_ context.Context, userID int64, connID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	conns := d.users[userID]
	if conns == nil {
		conns = make(map[string]topic.Topic)
		d.users[userID] = conns
	}
	if _, ok := conns[connID]; !ok {
		conns[connID] = ""
	}
	return nil
}

func (d *MemoryDirectory) SetTopic(_ context.Context, userID int64, connID string, t topic.Topic) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if conns, ok := d.users[userID]; ok {
		if _, tracked := conns[connID]; tracked {
			conns[connID] = t
		}
	}
	return nil
}

func (d *MemoryDirectory) Untrack(_ context.Context, userID int64, connID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if conns, ok := d.users[userID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(d.users, userID)
		}
	}
	return nil
}

func (d *MemoryDirectory) IsOnline(_ context.Context, userID int64) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users[userID]) > 0, nil
}

func (d *MemoryDirectory) IsViewing(_ context.Context, userID int64, t topic.Topic) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, viewing := range d.users[userID] {
		if viewing == t {
			return true, nil
		}
	}
	return false, nil
}

func (d *MemoryDirectory) OnlineAmong(_ context.Context, userIDs []int64) ([]int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return lo.Filter(userIDs, func(id int64, _ int) bool {
		return len(d.users[id]) > 0
	}), nil
}
