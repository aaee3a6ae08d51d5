package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"tagstream/internal/config"
	"tagstream/internal/model"
)

// Store is the engine's write path into the external relational store:
// accepted location updates and tag-state snapshots. The engine never
// reads updates back; tag states are read to reload evicted entries and
// listed in bulk so the sweep sees tags no longer resident in cache.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveUpdate(ctx context.Context, update model.LocationUpdate) error
	SaveTagState(ctx context.Context, state model.TagState) error
	LoadTagState(ctx context.Context, tagID string) (model.TagState, bool, error)
	ListTagStates(ctx context.Context) ([]model.TagState, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
