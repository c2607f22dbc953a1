// Package chat is the message service: it records user actions in storage
// and then hands the resulting events to the fan-out and notification
// layers.
//
// Every action follows the same order. The change is written to the store
// first. The sender's own connection then gets a direct echo, which does not
// depend on the bus. The event is published to the conversation topic, and
// finally the notification engine computes per-member signals. Failures after
// the store write are logged but do not fail the action, because the data is
// already durable and clients reconcile on their next view load.
package chat
