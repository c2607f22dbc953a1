// Package ws is the client transport: one WebSocket per browser tab at
// /ws/chat.
//
// # Connection Lifecycle
//
//  1. The upgrade request is authenticated (see package auth). A rejected
//     client is accepted only to be closed with StatusPolicyViolation; it is
//     never registered.
//  2. Cross-origin upgrades are refused unless the origin matches one of
//     websocket.allowed_origins.
//  3. The connection is handed to the hub, which registers it and announces
//     presence.
//  4. A writer goroutine drains the connection's send queue and pings the
//     client. The request goroutine runs the read loop.
//  5. Whatever ends the read loop, the hub's Disconnect runs exactly once
//     per connection before the handler returns.
//
// # Client Frames
//
// Frames are JSON objects with a "type" field:
//
//	{"type":"subscribe","conversation_id":"channel_4"}
//	{"type":"unsubscribe"}
//	{"type":"typing_start"}  {"type":"typing_stop"}
//	{"conversation_id":"dm_3_9","chat_message":"hi","parent_message_id":"12"}
//	{"type":"reaction","message_id":12,"emoji":"👍"}
//	{"type":"avatar","avatar_url":"https://..."}
//	{"type":"status","status":"busy"}
//
// A frame without a type, or with type "chat_message", posts a message. Its
// conversation_id defaults to the subscribed conversation. Numeric IDs may be
// sent as JSON numbers or strings since HTML forms submit strings.
//
// Malformed, invalid and over-rate frames are dropped and logged. They never
// close the connection.
package ws
