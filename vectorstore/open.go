package vectorstore

import (
	"context"
	"fmt"

	"github.com/fabfab/rag-assistant/config"
	"github.com/fabfab/rag-assistant/database"
)

// Open builds the backend named by cfg.Store.Backend. The returned closer
// releases the underlying connection and is never nil.
func Open(ctx context.Context, cfg config.Config) (Store, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreMemory:
		return NewMemory(), func() {}, nil
	case config.StoreSQLite:
		db, err := database.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, func() {}, err
		}
		store, err := NewSQLite(ctx, db)
		if err != nil {
			db.Close()
			return nil, func() {}, err
		}
		return store, func() { db.Close() }, nil
	case config.StorePostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, func() {}, err
		}
		store, err := NewPostgres(ctx, pool, cfg.Embeddings.Dimension)
		if err != nil {
			pool.Close()
			return nil, func() {}, err
		}
		return store, pool.Close, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}
