// Package hub owns the lifecycle of a client connection on one process.
//
// Connect registers the connection, records it in the fleet directory and
// announces the user online when this is their first local connection.
// Subscribe switches the single topic a connection watches. Leaving a topic,
// by switching, unsubscribing or disconnecting, marks it read for the user
// and drops them from its typing roster. Disconnect runs every exit path's
// cleanup and is safe to call more than once.
package hub
