// Package registry tracks the live connections held by one process and the
// single topic each of them is watching.
//
// # Connection Registry
//
// Every local connection is kept by ID. Per user, the most recently
// registered connection is the user's handle (last-connect-wins); it is what
// Lookup returns and what user-targeted envelopes are delivered to. When the
// handle disconnects and the user still has another local connection, the
// newest remaining one takes its place, so a user is offline on this process
// only once their last local connection is gone.
//
// # Subscription Router
//
// Each connection watches at most one topic. Subscribe replaces the current
// topic and returns the one it replaced so the caller can run leave effects.
// Unsubscribe is idempotent.
//
// Both maps share one mutex. No method holds it while sending.
package registry
