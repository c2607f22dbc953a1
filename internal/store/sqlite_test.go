// ABOUTME: Tests for the SQLite store
// ABOUTME: Runs the shared suite against a temporary database file

package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return newTestStore(t) })
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chat.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	u := mustUser(t, s, "alice")
	require.NoError(t, s.Close())

	// Migrations must be idempotent on an existing schema.
	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetUser(t.Context(), u.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", got.Username)
}

func TestSQLiteStore_RejectsUnknownPresenceStatus(t *testing.T) {
	s := newTestStore(t)
	u := mustUser(t, s, "alice")

	err := s.SetPresenceStatus(t.Context(), u.ID, "offline")
	require.Error(t, err)
}
