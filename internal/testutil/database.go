package testutil

import (
	"testing"

	"syncapp/internal/database"
)

// NewTestStore creates an in-memory SQLite store with the schema applied.
// The store is closed automatically when the test completes.
func NewTestStore(t *testing.T) *database.Store {
	t.Helper()

	store, err := database.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
