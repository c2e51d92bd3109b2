package vectorstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/rag-assistant/config"
	"github.com/fabfab/rag-assistant/database"
)

var fixtures = []Entry{
	{ID: "chess_identity", DocumentID: "chess", Role: "identity", Text: "Chess club", Vector: []float32{1, 0, 0}},
	{ID: "chess_contact", DocumentID: "chess", Role: "contact", Text: "chess@example.edu", Vector: []float32{0.8, 0.2, 0}},
	{ID: "rowing_identity", DocumentID: "rowing", Role: "identity", Text: "Rowing club", Vector: []float32{0, 1, 0}},
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.Clear(ctx))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	matches, err := store.Query(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches, "empty store yields no matches")

	require.NoError(t, store.Upsert(ctx, fixtures...))
	require.NoError(t, store.Upsert(ctx, fixtures[0]))

	n, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "upsert by id must not duplicate")

	matches, err = store.Query(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "chess_identity", matches[0].ID)
	assert.Equal(t, "chess_contact", matches[1].ID)
	assert.InDelta(t, 0, matches[0].Distance, 1e-6)
	assert.LessOrEqual(t, matches[0].Distance, matches[1].Distance)

	matches, err = store.Query(ctx, []float32{0, 1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, matches, 3, "fewer entries than k returns all of them")
	assert.Equal(t, "rowing_identity", matches[0].ID)

	updated := fixtures[2]
	updated.Text = "Rowing club (updated)"
	require.NoError(t, store.Upsert(ctx, updated))
	matches, err = store.Query(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "Rowing club (updated)", matches[0].Text)

	require.NoError(t, store.Clear(ctx))
	n, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())

	t.Run("rejects invalid entries", func(t *testing.T) {
		err := NewMemory().Upsert(context.Background(), Entry{ID: "x"})
		assert.ErrorContains(t, err, "empty vector")
	})
}

func TestSQLiteStore(t *testing.T) {
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "rag.db"))
	require.NoError(t, err)
	defer db.Close()

	store, err := NewSQLite(context.Background(), db)
	require.NoError(t, err)

	exerciseStore(t, store)
}

func TestPostgresStore(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run database connectivity checks")
	}

	ctx := context.Background()
	cfg := config.Load()

	pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	require.NoError(t, err)
	defer pool.Close()

	_, _ = pool.Exec(ctx, "DROP TABLE IF EXISTS rag_entries")
	store, err := NewPostgres(ctx, pool, 3)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, "DROP TABLE IF EXISTS rag_entries")
	})

	exerciseStore(t, store)
}

func TestCosineDistance(t *testing.T) {
	d, err := CosineDistance([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 1, d, 1e-9)

	d, err = CosineDistance([]float32{0, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.Equal(t, float64(1), d)

	_, err = CosineDistance([]float32{1}, []float32{1, 2})
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	store, closer, err := Open(ctx, config.Config{Store: config.StoreConfig{Backend: config.StoreMemory}})
	require.NoError(t, err)
	defer closer()
	assert.IsType(t, &Memory{}, store)

	sqliteCfg := config.Config{Store: config.StoreConfig{Backend: config.StoreSQLite, SQLitePath: filepath.Join(t.TempDir(), "nested", "rag.db")}}
	store, closer, err = Open(ctx, sqliteCfg)
	require.NoError(t, err)
	defer closer()
	assert.IsType(t, &SQLite{}, store)

	_, closer, err = Open(ctx, config.Config{Store: config.StoreConfig{Backend: "qdrant"}})
	assert.Error(t, err)
	closer()
}
