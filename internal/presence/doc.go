// Package presence publishes online, away, busy and offline transitions to
// every connection in the fleet, and keeps the fleet-wide view of who is
// connected and what they are looking at.
//
// The Broadcaster turns registry transitions into presence_update events on
// the global channel. With a zero grace period every transition is broadcast
// immediately. With a positive grace period an offline transition is held
// back, and a reconnect inside the window cancels both the offline and the
// following online broadcast.
//
// A Directory answers "is this user connected anywhere" and "is this user
// viewing this topic anywhere". RedisDirectory keeps one hash per user with a
// field per connection; every field carries its own expiry so a crashed
// process ages out. MemoryDirectory serves single-process deployments.
package presence
