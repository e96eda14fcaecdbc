package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bertona88/wofi/internal/store"
)

// OpenStore opens a migrated SQLite store in a temp dir, driven by clock,
// and closes it when the test ends. A nil clock uses a fresh
// DeterministicClock.
func OpenStore(t testing.TB, clock *DeterministicClock) *store.Store {
	t.Helper()
	if clock == nil {
		clock = NewDeterministicClock(DefaultStart)
	}
	path := filepath.Join(t.TempDir(), "wofi.db")
	st, err := store.Open(context.Background(), path, store.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}
