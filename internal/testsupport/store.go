package testsupport

import (
	"testing"

	"convertd/internal/config"
	"convertd/internal/queue"
)

// MustOpenStore opens the SQLite queue for cfg and closes it when the test ends.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()
	store, err := queue.OpenStore(cfg)
	if err != nil {
		t.Fatalf("queue.OpenStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
