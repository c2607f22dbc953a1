// ABOUTME: Redis-backed Directory shared by every process in the fleet
// ABOUTME: One hash per user, one field per connection, each field with its own expiry

package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"

	"github.com/2389/coven-chat/internal/topic"
)

type connRecord struct {
	Topic     string `json:"topic"`
	ExpiresAt int64  `json:"exp"`
}

// RedisDirectory stores presence in Redis hashes keyed by user.
type RedisDirectory struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	local map[int64]map[string]topic.Topic
}

// NewRedisDirectory creates a directory whose entries expire after ttl
// unless Run keeps refreshing them.
func NewRedisDirectory(client redis.UniversalClient, prefix string, ttl time.Duration, logger *slog.Logger) *RedisDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &RedisDirectory{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With("component", "directory"),
		local:  make(map[int64]map[string]topic.Topic),
	}
}

func (d *RedisDirectory) key(userID int64) string {
	return d.prefix + "presence:" + strconv.FormatInt(userID, 10)
}

func (d *RedisDirectory) record(t topic.Topic) (string, error) {
	data, err := json.Marshal(connRecord{Topic: string(t), ExpiresAt: d.now().Add(d.ttl).UnixMilli()})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (d *RedisDirectory) write(ctx context.Context, userID int64, connID string, t topic.Topic) error {
	value, err := d.record(t)
	if err != nil {
		return fmt.Errorf("encoding presence record: %w", err)
	}
	key := d.key(userID)
	_, err = d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, connID, value)
		pipe.Expire(ctx, key, d.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing presence for user %d: %w", userID, err)
	}
	return nil
}

func (d *RedisDirectory) Track(ctx context.Context, userID int64, connID string) error {
	d.mu.Lock()
	conns := d.local[userID]
	if conns == nil {
		conns = make(map[string]topic.Topic)
		d.local[userID] = conns
	}
	conns[connID] = ""
	d.mu.Unlock()

	return d.write(ctx, userID, connID, "")
}

func (d *RedisDirectory) SetTopic(ctx context.Context, userID int64, connID string, t topic.Topic) error {
	d.mu.Lock()
	conns, ok := d.local[userID]
	if ok {
		_, ok = conns[connID]
	}
	if ok {
		conns[connID] = t
	}
	d.mu.Unlock()
	if !ok {
		return nil
	}

	return d.write(ctx, userID, connID, t)
}

func (d *RedisDirectory) Untrack(ctx context.Context, userID int64, connID string) error {
	d.mu.Lock()
	if conns, ok := d.local[userID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(d.local, userID)
		}
	}
	d.mu.Unlock()

	if err := d.client.HDel(ctx, d.key(userID), connID).Err(); err != nil {
		return fmt.Errorf("removing presence for user %d: %w", userID, err)
	}
	return nil
}

// live decodes a user's hash and returns the unexpired records.
func (d *RedisDirectory) live(fields map[string]string) []connRecord {
	now := d.now().UnixMilli()
	var out []connRecord
	for connID, raw := range fields {
		var rec connRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			d.logger.Warn("ignoring unreadable presence record", "conn_id", connID, "error", err)
			continue
		}
		if rec.ExpiresAt > now {
			out = append(out, rec)
		}
	}
	return out
}

func (d *RedisDirectory) IsOnline(ctx context.Context, userID int64) (bool, error) {
	fields, err := d.client.HGetAll(ctx, d.key(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("reading presence for user %d: %w", userID, err)
	}
	return len(d.live(fields)) > 0, nil
}

func (d *RedisDirectory) IsViewing(ctx context.Context, userID int64, t topic.Topic) (bool, error) {
	fields, err := d.client.HGetAll(ctx, d.key(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("reading presence for user %d: %w", userID, err)
	}
	return lo.ContainsBy(d.live(fields), func(rec connRecord) bool {
		return rec.Topic == string(t)
	}), nil
}

func (d *RedisDirectory) OnlineAmong(ctx context.Context, userIDs []int64) ([]int64, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(userIDs))
	_, err := d.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range userIDs {
			cmds[i] = pipe.HGetAll(ctx, d.key(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading presence: %w", err)
	}

	var online []int64
	for i, cmd := range cmds {
		if len(d.live(cmd.Val())) > 0 {
			online = append(online, userIDs[i])
		}
	}
	return online, nil
}

// Refresh rewrites every connection tracked by this process with a new
// expiry.
func (d *RedisDirectory) Refresh(ctx context.Context) error {
	d.mu.Lock()
	snapshot := make(map[int64]map[string]topic.Topic, len(d.local))
	for uid, conns := range d.local {
		snapshot[uid] = lo.Assign(conns)
	}
	d.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}

	_, err := d.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for uid, conns := range snapshot {
			key := d.key(uid)
			for connID, t := range conns {
				value, err := d.record(t)
				if err != nil {
					return err
				}
				pipe.HSet(ctx, key, connID, value)
			}
			pipe.Expire(ctx, key, d.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("refreshing presence: %w", err)
	}
	return nil
}

// Run refreshes local entries every third of the TTL until ctx ends.
func (d *RedisDirectory) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.Refresh(ctx); err != nil {
				d.logger.Error("presence refresh failed", "error", err)
			}
		}
	}
}
