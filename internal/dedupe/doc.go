// Package dedupe remembers recently seen envelope IDs so a listener can
// drop bus redeliveries. Entries expire after a TTL and the oldest entry is
// evicted once the cache is full.
package dedupe
