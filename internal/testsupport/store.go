package testsupport

import (
	"testing"

	"tenk/internal/config"
	"tenk/internal/store/sqlite"
)

// MustOpenStore opens the sqlite store in the config's data directory and
// closes it when the test finishes.
func MustOpenStore(t testing.TB, cfg *config.Config) *sqlite.Store {
	t.Helper()

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	store, err := sqlite.Open(cfg.DatabasePath())
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
