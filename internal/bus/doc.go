// Package bus abstracts the external pub/sub backbone shared by every
// process in the fleet.
//
// Two implementations are provided. RedisBus publishes with PUBLISH and
// listens with PSUBSCRIBE on a go-redis client; it is what a multi-process
// deployment uses. MemoryBus matches the same glob patterns in process and
// serves single-node deployments and tests.
//
// Delivery is at-least-once and ordered per channel. Nothing here
// de-duplicates; that is left to the consumer.
package bus
