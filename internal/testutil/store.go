package testutil

import (
	"testing"

	"tgdump-go/internal/store"
)

// NewTestStore creates an in-memory record and media store.
func NewTestStore() *store.MemoryStore {
	return store.NewMemoryStore()
}

// NewTestJSONLStore creates a JSON Lines store in a temporary directory.
func NewTestJSONLStore(t *testing.T) *store.JSONLStore {
	t.Helper()

	s, err := store.NewJSONLStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}
