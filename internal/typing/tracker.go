// ABOUTME: Per-topic typing roster with a broadcast on every transition
// ABOUTME: Publishes typing_update events carrying the full sorted roster

package typing

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/2389/coven-chat/internal/envelope"
	"github.com/2389/coven-chat/internal/registry"
	"github.com/2389/coven-chat/internal/topic"
)

// Publisher sends an envelope to every connection watching a topic.
type Publisher interface {
	Publish(ctx context.Context, t topic.Topic, env envelope.Envelope, sender registry.Conn) error
}

// Tracker maintains typing rosters.
type Tracker struct {
	mu      sync.Mutex
	rosters map[topic.Topic]map[string]struct{}
	pub     Publisher
	logger  *slog.Logger
}

// NewTracker creates a Tracker that broadcasts through pub.
func NewTracker(pub Publisher, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		rosters: make(map[topic.Topic]map[string]struct{}),
		pub:     pub,
		logger:  logger.With("component", "typing"),
	}
}

// SetTyping adds or removes username from the topic's roster and broadcasts
// the resulting roster, tagged with sender. The broadcast happens even when
// membership did not change.
func (t *Tracker) SetTyping(ctx context.Context, tp topic.Topic, username string, isTyping bool, sender registry.Conn) error {
	roster := t.update(tp, username, isTyping)

	env := envelope.Structured(envelope.TypingUpdate(roster))
	if err := t.pub.Publish(ctx, tp, env, sender); err != nil {
		return fmt.Errorf("publishing typing roster: %w", err)
	}

	t.logger.Debug("typing roster broadcast", "topic", tp, "typists", len(roster))
	return nil
}

// Remove drops username from the topic's roster and broadcasts the result.
func (t *Tracker) Remove(ctx context.Context, tp topic.Topic, username string, sender registry.Conn) error {
	return t.SetTyping(ctx, tp, username, false, sender)
}

// Roster returns the sorted names currently typing in tp.
func (t *Tracker) Roster(tp topic.Topic) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedNames(t.rosters[tp])
}

func (t *Tracker) update(tp topic.Topic, username string, isTyping bool) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := t.rosters[tp]
	if isTyping {
		if names == nil {
			names = make(map[string]struct{})
			t.rosters[tp] = names
		}
		names[username] = struct{}{}
	} else if names != nil {
		delete(names, username)
		if len(names) == 0 {
			delete(t.rosters, tp)
		}
	}
	return sortedNames(t.rosters[tp])
}

func sortedNames(names map[string]struct{}) []string {
	out := lo.Keys(names)
	slices.Sort(out)
	return out
}
