// Package topic derives the canonical fan-out identifiers for conversations.
//
// A topic is a string of the form <kind>_<id...>. Channels map to
// "channel_<id>"; direct messages map to "dm_<a>_<b>" with the two
// participant IDs sorted ascending, so both directions of a pair share one
// topic. A user messaging themselves gets "dm_<id>_<id>".
//
// Topics are never created or destroyed here. They are derived from the
// conversation identifiers owned by storage.
package topic
