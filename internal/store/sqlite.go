// ABOUTME: SQLite implementation of the Store interfaces using modernc.org/sqlite
// ABOUTME: Creates the schema on open and applies idempotent column migrations

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/coven-chat/internal/topic"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path. Parent
// directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection.
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			username        TEXT NOT NULL UNIQUE,
			display_name    TEXT NOT NULL DEFAULT '',
			avatar_url      TEXT NOT NULL DEFAULT '',
			presence_status TEXT NOT NULL DEFAULT 'online',
			is_admin        INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,

			CHECK (presence_status IN ('online', 'away', 'busy'))
		);

		CREATE TABLE IF NOT EXISTS conversations (
			topic      TEXT PRIMARY KEY,
			type       TEXT NOT NULL,
			name       TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,

			CHECK (type IN ('channel', 'dm'))
		);

		CREATE TABLE IF NOT EXISTS conversation_members (
			conversation TEXT NOT NULL REFERENCES conversations(topic) ON DELETE CASCADE,
			user_id      INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			joined_at    TEXT NOT NULL,
			PRIMARY KEY (conversation, user_id)
		);

		CREATE INDEX IF NOT EXISTS idx_members_user ON conversation_members(user_id);

		CREATE TABLE IF NOT EXISTS messages (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation      TEXT NOT NULL REFERENCES conversations(topic) ON DELETE CASCADE,
			user_id           INTEGER NOT NULL REFERENCES users(id),
			content           TEXT NOT NULL,
			parent_message_id INTEGER REFERENCES messages(id),
			reply_type        TEXT,
			quoted_message_id INTEGER REFERENCES messages(id),
			created_at        TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation, created_at);

		CREATE INDEX IF NOT EXISTS idx_messages_parent
			ON messages(parent_message_id);

		CREATE TABLE IF NOT EXISTS message_attachments (
			message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			file_id    INTEGER NOT NULL,
			PRIMARY KEY (message_id, file_id)
		);

		CREATE TABLE IF NOT EXISTS mentions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			UNIQUE (message_id, user_id)
		);

		CREATE INDEX IF NOT EXISTS idx_mentions_user ON mentions(user_id);

		CREATE TABLE IF NOT EXISTS reactions (
			message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			emoji      TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (message_id, user_id, emoji)
		);

		CREATE TABLE IF NOT EXISTS user_conversation_status (
			user_id              INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			conversation         TEXT NOT NULL REFERENCES conversations(topic) ON DELETE CASCADE,
			last_read            TEXT,
			last_notified        TEXT,
			last_seen_mention_id INTEGER,
			PRIMARY KEY (user_id, conversation)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies column additions for databases created by older
// builds. Each step is idempotent.
func (s *SQLiteStore) runMigrations() error {
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "conversations",
			column: "posting_restricted_to_admins",
			apply:  `ALTER TABLE conversations ADD COLUMN posting_restricted_to_admins INTEGER NOT NULL DEFAULT 0`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(
			`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column,
		).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking %s.%s: %w", m.table, m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite constraint violation.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint failed")
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func timePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

type rowScanner interface {
	Scan(dest ...any) error
}

// ---- users ----

// CreateUser inserts u and sets its ID. Usernames are unique.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.PresenceStatus == "" {
		u.PresenceStatus = "online"
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, display_name, avatar_url, presence_status, is_admin, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, u.Username, u.DisplayName, u.AvatarURL, u.PresenceStatus, u.IsAdmin, formatTime(u.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	u.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading user id: %w", err)
	}
	return nil
}

const userColumns = `id, username, display_name, avatar_url, presence_status, is_admin, created_at`

func scanUser(row rowScanner) (*User, error) {
	var u User
	var createdAt string
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.AvatarURL, &u.PresenceStatus, &u.IsAdmin, &createdAt); err != nil {
		return nil, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	u.CreatedAt = t
	return &u, nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

// GetUsersByUsernames returns the users whose usernames appear in the list.
// Unknown names are skipped.
func (s *SQLiteStore) GetUsersByUsernames(ctx context.Context, usernames []string) ([]*User, error) {
	if len(usernames) == 0 {
		return nil, nil
	}

	args := make([]any, len(usernames))
	for i, name := range usernames {
		args[i] = name
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username IN (`+placeholders(len(usernames))+`) ORDER BY id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) updateUser(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAvatar sets a user's avatar URL.
func (s *SQLiteStore) UpdateAvatar(ctx context.Context, userID int64, avatarURL string) error {
	return s.updateUser(ctx, `UPDATE users SET avatar_url = ? WHERE id = ?`, avatarURL, userID)
}

// SetPresenceStatus stores a user-chosen status.
func (s *SQLiteStore) SetPresenceStatus(ctx context.Context, userID int64, status string) error {
	return s.updateUser(ctx, `UPDATE users SET presence_status = ? WHERE id = ?`, status, userID)
}

// ---- conversations ----

// CreateConversation inserts a conversation. The type is derived from the
// topic when unset.
func (s *SQLiteStore) CreateConversation(ctx context.Context, c *Conversation) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Type == "" {
		c.Type = conversationTypeOf(c.Topic)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (topic, type, name, posting_restricted_to_admins, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(c.Topic), string(c.Type), c.Name, c.PostingRestrictedToAdmins, formatTime(c.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}
	s.logger.Debug("created conversation", "topic", c.Topic, "type", c.Type)
	return nil
}

// GetConversation retrieves a conversation by topic.
func (s *SQLiteStore) GetConversation(ctx context.Context, t topic.Topic) (*Conversation, error) {
	var c Conversation
	var tp, typ, createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT topic, type, name, posting_restricted_to_admins, created_at
		FROM conversations
		WHERE topic = ?
	`, string(t)).Scan(&tp, &typ, &c.Name, &c.PostingRestrictedToAdmins, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	c.Topic = topic.Topic(tp)
	c.Type = ConversationType(typ)
	c.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &c, nil
}

// EnsureDirectConversation creates the DM between a and b on first use.
func (s *SQLiteStore) EnsureDirectConversation(ctx context.Context, a, b int64) (*Conversation, error) {
	t := topic.DM(a, b)
	now := formatTime(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversations (topic, type, name, created_at)
		VALUES (?, 'dm', '', ?)
	`, string(t), now); err != nil {
		return nil, fmt.Errorf("inserting dm: %w", err)
	}
	for _, uid := range []int64{a, b} {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO conversation_members (conversation, user_id, joined_at)
			VALUES (?, ?, ?)
		`, string(t), uid, now); err != nil {
			return nil, fmt.Errorf("adding dm member: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing dm: %w", err)
	}

	return s.GetConversation(ctx, t)
}

// AddMember adds a user to a conversation. Adding twice is a no-op.
func (s *SQLiteStore) AddMember(ctx context.Context, t topic.Topic, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversation_members (conversation, user_id, joined_at)
		VALUES (?, ?, ?)
	`, string(t), userID, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("adding member: %w", err)
	}
	return nil
}

// ConversationMembers lists member user IDs in ascending order.
func (s *SQLiteStore) ConversationMembers(ctx context.Context, t topic.Topic) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM conversation_members WHERE conversation = ? ORDER BY user_id
	`, string(t))
	if err != nil {
		return nil, fmt.Errorf("querying members: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsMember reports whether the user belongs to the conversation.
func (s *SQLiteStore) IsMember(ctx context.Context, t topic.Topic, userID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM conversation_members WHERE conversation = ? AND user_id = ?)
	`, string(t), userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("querying membership: %w", err)
	}
	return exists, nil
}

// ---- messages ----

// CreateMessage inserts msg with its attachments and mentions atomically.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message, mentionedUserIDs []int64) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var replyType any
	if msg.ReplyType != "" {
		replyType = msg.ReplyType
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation, user_id, content, parent_message_id, reply_type, quoted_message_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(msg.Topic), msg.UserID, msg.Content,
		nullInt64(msg.ParentMessageID), replyType, nullInt64(msg.QuotedMessageID),
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading message id: %w", err)
	}

	for _, fileID := range msg.AttachmentFileIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO message_attachments (message_id, file_id) VALUES (?, ?)
		`, id, fileID); err != nil {
			return fmt.Errorf("linking attachment: %w", err)
		}
	}
	for _, uid := range mentionedUserIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO mentions (message_id, user_id) VALUES (?, ?)
		`, id, uid); err != nil {
			return fmt.Errorf("inserting mention: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}
	msg.ID = id

	s.logger.Debug("created message",
		"id", id,
		"topic", msg.Topic,
		"mentions", len(mentionedUserIDs),
	)
	return nil
}

// GetMessage retrieves a message and its attachment IDs.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	var m Message
	var conv, createdAt string
	var parent, quoted sql.NullInt64
	var replyType sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, conversation, user_id, content, parent_message_id, reply_type, quoted_message_id, created_at
		FROM messages
		WHERE id = ?
	`, id).Scan(&m.ID, &conv, &m.UserID, &m.Content, &parent, &replyType, &quoted, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}

	m.Topic = topic.Topic(conv)
	m.ParentMessageID = int64Ptr(parent)
	m.QuotedMessageID = int64Ptr(quoted)
	m.ReplyType = replyType.String
	m.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT file_id FROM message_attachments WHERE message_id = ? ORDER BY file_id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying attachments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var fileID int64
		if err := rows.Scan(&fileID); err != nil {
			return nil, fmt.Errorf("scanning attachment: %w", err)
		}
		m.AttachmentFileIDs = append(m.AttachmentFileIDs, fileID)
	}
	return &m, rows.Err()
}

// ThreadParticipants returns the parent's author and every thread replier.
func (s *SQLiteStore) ThreadParticipants(ctx context.Context, parentID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM messages WHERE id = ?
		UNION
		SELECT user_id FROM messages WHERE parent_message_id = ? AND reply_type = 'thread'
		ORDER BY user_id
	`, parentID, parentID)
	if err != nil {
		return nil, fmt.Errorf("querying thread participants: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ToggleReaction flips one user's emoji on a message.
func (s *SQLiteStore) ToggleReaction(ctx context.Context, messageID, userID int64, emoji string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM reactions WHERE message_id = ? AND user_id = ? AND emoji = ?
	`, messageID, userID, emoji)
	if err != nil {
		return false, fmt.Errorf("removing reaction: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}

	added := removed == 0
	if added {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reactions (message_id, user_id, emoji, created_at) VALUES (?, ?, ?, ?)
		`, messageID, userID, emoji, formatTime(time.Now())); err != nil {
			if isConstraintViolation(err) {
				return false, ErrNotFound
			}
			return false, fmt.Errorf("adding reaction: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing reaction: %w", err)
	}
	return added, nil
}

// ListReactions returns a message's reactions in the order they were added.
func (s *SQLiteStore) ListReactions(ctx context.Context, messageID int64) ([]Reaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, user_id, emoji FROM reactions
		WHERE message_id = ?
		ORDER BY created_at, user_id
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("querying reactions: %w", err)
	}
	defer rows.Close()

	var out []Reaction
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.Emoji); err != nil {
			return nil, fmt.Errorf("scanning reaction: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- notification state ----

// GetOrCreateNotificationState returns the user's state for t, inserting an
// empty row on first access.
func (s *SQLiteStore) GetOrCreateNotificationState(ctx context.Context, userID int64, t topic.Topic) (*NotificationState, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO user_conversation_status (user_id, conversation) VALUES (?, ?)
	`, userID, string(t)); err != nil {
		return nil, fmt.Errorf("creating notification state: %w", err)
	}

	var lastRead, lastNotified sql.NullString
	var lastMention sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_read, last_notified, last_seen_mention_id
		FROM user_conversation_status
		WHERE user_id = ? AND conversation = ?
	`, userID, string(t)).Scan(&lastRead, &lastNotified, &lastMention)
	if err != nil {
		return nil, fmt.Errorf("querying notification state: %w", err)
	}

	state := &NotificationState{
		UserID:            userID,
		Topic:             t,
		LastSeenMentionID: int64Ptr(lastMention),
	}
	if state.LastRead, err = timePtr(lastRead); err != nil {
		return nil, fmt.Errorf("parsing last_read: %w", err)
	}
	if state.LastNotified, err = timePtr(lastNotified); err != nil {
		return nil, fmt.Errorf("parsing last_notified: %w", err)
	}
	return state, nil
}

// MarkRead stamps last-read for the user and advances the mention marker to
// the newest mention of them in t.
func (s *SQLiteStore) MarkRead(ctx context.Context, userID int64, t topic.Topic, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_conversation_status (user_id, conversation, last_read, last_seen_mention_id)
		VALUES (?1, ?2, ?3, (
			SELECT MAX(m.id) FROM mentions m
			JOIN messages msg ON msg.id = m.message_id
			WHERE m.user_id = ?1 AND msg.conversation = ?2
		))
		ON CONFLICT (user_id, conversation) DO UPDATE SET
			last_read = excluded.last_read,
			last_seen_mention_id = excluded.last_seen_mention_id
	`, userID, string(t), formatTime(at))
	if err != nil {
		return fmt.Errorf("marking read: %w", err)
	}
	return nil
}

// CompareAndSwapLastNotified writes next only if last_notified still equals
// old.
func (s *SQLiteStore) CompareAndSwapLastNotified(ctx context.Context, userID int64, t topic.Topic, old *time.Time, next time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_conversation_status
		SET last_notified = ?
		WHERE user_id = ? AND conversation = ? AND last_notified IS ?
	`, formatTime(next), userID, string(t), nullTime(old))
	if err != nil {
		return false, fmt.Errorf("updating last_notified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n == 1, nil
}

// CountUnreadMentions counts mentions of the user in t after since.
func (s *SQLiteStore) CountUnreadMentions(ctx context.Context, userID int64, t topic.Topic, since *time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM mentions m
		JOIN messages msg ON msg.id = m.message_id
		WHERE m.user_id = ?1 AND msg.conversation = ?2 AND (?3 IS NULL OR msg.created_at > ?3)
	`, userID, string(t), nullTime(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unread mentions: %w", err)
	}
	return n, nil
}

// CountUnreadMessages counts messages from other users in t after since.
func (s *SQLiteStore) CountUnreadMessages(ctx context.Context, userID int64, t topic.Topic, since *time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation = ?1 AND user_id != ?2 AND (?3 IS NULL OR created_at > ?3)
	`, string(t), userID, nullTime(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return n, nil
}

// IsMentioned reports whether the message mentions the user.
func (s *SQLiteStore) IsMentioned(ctx context.Context, messageID, userID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM mentions WHERE message_id = ? AND user_id = ?)
	`, messageID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("querying mention: %w", err)
	}
	return exists, nil
}
