// ABOUTME: Tests for the in-memory MockStore
// ABOUTME: Keeps the test double in step with the SQLite store

package store

import "testing"

func TestMockStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMockStore() })
}
