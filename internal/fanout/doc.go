// Package fanout relays envelopes between request handlers and the live
// connections of every process through the external bus.
//
// Publishing never touches local connections. Each process runs exactly one
// listener (Adapter.Run) that pattern-subscribes to three namespaces and
// redistributes what it receives:
//
//	chat:<topic>   every local connection currently watching <topic>
//	user:<id>      the local handle of that user, if this process holds it
//	global:events  every local connection
//
// The listener survives bad payloads and failed sends. A failed send is
// handed to the registered failure handler on its own goroutine so the
// connection can be cleaned up while the loop moves on. When the bus is lost
// the listener reconnects with capped exponential backoff and reports itself
// unhealthy until it is subscribed again.
//
// # Echo policy
//
// Senders get their own confirmation directly through Echo, so the bus copy
// of their envelope is usually redundant. EchoPolicy decides who skips it:
//
//	exclude_sender  every connection of the sending user (default)
//	exclude_origin  only the originating connection
//	all             nobody; clients must render idempotently
//
// Typing rosters always skip only the originating connection so a user's
// other tabs still see them.
package fanout
