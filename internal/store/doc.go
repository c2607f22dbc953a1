// Package store persists users, conversations, messages and per-user
// notification state in SQLite.
//
// # Interfaces
//
// The Store interface is composed of narrower ones so consumers can depend on
// only what they use:
//
//   - UserStore: accounts, avatars, chosen presence status
//   - ConversationStore: channels, direct conversations, membership
//   - MessageStore: messages, mentions, thread replies, reactions
//   - NotificationStore: last-read and last-notified bookkeeping
//
// SQLiteStore implements all of them. MockStore is an in-memory twin for
// tests that do not need a database file.
//
// # Conversations
//
// Conversations are keyed by their topic string ("channel_5", "dm_3_7"), so
// the fan-out layer and storage agree on identity without a lookup.
//
// # Timestamps
//
// Times are stored as UTC text in a fixed-width layout with nanosecond
// precision. Fixed width keeps lexical and chronological order identical,
// which the unread queries rely on.
//
// # Notification state
//
// CompareAndSwapLastNotified only writes when the stored last-notified value
// still equals the one the caller read. Two processes racing to alert the
// same user about the same conversation therefore produce one alert.
package store
