package testsupport

import (
	"testing"

	"ozonassist/internal/config"
	"ozonassist/internal/queue"
	"ozonassist/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewEngine opens a store for cfg and returns a queue engine over it.
func NewEngine(t testing.TB, cfg *config.Config, opts ...queue.Option) (*queue.Engine, *store.Store) {
	t.Helper()

	st := MustOpenStore(t, cfg)
	return queue.New(st, opts...), st
}
