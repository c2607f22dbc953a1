// Package envelope defines the unit of fan-out and its bus wire format.
//
// An Envelope is a tagged union. It carries either an opaque pre-rendered
// fragment, which is sent to clients verbatim, or a structured Event from a
// closed set of kinds. Every envelope also carries optional sender metadata
// so listeners can suppress echoes.
//
// On the bus an envelope is one JSON object. Metadata lives in
// underscore-prefixed fields (_raw_html, _sender_id, _sender_conn, _id) that
// are stripped before anything reaches a client.
package envelope
