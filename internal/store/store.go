package store

import (
	"context"
	"fmt"

	"tenk/internal/config"
	"tenk/internal/store/mongo"
	"tenk/internal/store/sqlite"
	"tenk/internal/tracker"
)

// Backend names accepted by store.backend.
const (
	BackendSQLite = "sqlite"
	BackendMongo  = "mongo"
)

var (
	// ErrDuplicate is returned when a placement idempotency key was already recorded.
	ErrDuplicate = tracker.ErrDuplicate
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = tracker.ErrNotFound
)

var (
	_ tracker.Store = (*sqlite.Store)(nil)
	_ tracker.Store = (*mongo.Store)(nil)
)

// Pinger is implemented by backends that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Open connects to the backend named by cfg.Store.Backend.
func Open(ctx context.Context, cfg *config.Config) (tracker.Store, error) {
	switch cfg.Store.Backend {
	case BackendSQLite, "":
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("ensure directories: %w", err)
		}
		backend, err := sqlite.Open(cfg.DatabasePath())
		if err != nil {
			return nil, err
		}
		return backend, nil
	case BackendMongo:
		backend, err := mongo.Open(ctx, mongo.Options{
			URI:                  cfg.Store.MongoURI,
			Database:             cfg.Store.MongoDatabase,
			PlacementsCollection: cfg.Store.PlacementsCollection,
			SessionsCollection:   cfg.Store.SessionsCollection,
			DetectionsCollection: cfg.Store.DetectionsCollection,
		})
		if err != nil {
			return nil, err
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("store.backend: unsupported value %q", cfg.Store.Backend)
	}
}
