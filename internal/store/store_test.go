package store_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"tenk/internal/store"
	"tenk/internal/testsupport"
	"tenk/internal/tracker"
)

func TestOpenSQLiteCreatesDatabase(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	backend, err := store.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })

	if _, err := os.Stat(cfg.DatabasePath()); err != nil {
		t.Fatalf("expected database file: %v", err)
	}
	if _, ok := backend.(store.Pinger); !ok {
		t.Fatal("sqlite backend should report connectivity")
	}
	if _, err := backend.GetSession(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Store.Backend = "redis"
	if _, err := store.Open(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestOpenMongoRequiresURI(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Store.Backend = store.BackendMongo
	cfg.Store.MongoURI = ""
	backend, err := store.Open(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error without mongo uri")
	}
	if backend != nil {
		t.Fatalf("expected nil backend on error, got %T", backend)
	}
	if !errors.Is(tracker.ErrDuplicate, store.ErrDuplicate) {
		t.Fatal("store.ErrDuplicate should alias the tracker sentinel")
	}
}
