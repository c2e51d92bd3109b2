package vectorstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/fabfab/rag-assistant/database"
)

// Postgres stores entries in a pgvector column and lets the database rank them
// with the cosine distance operator.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, pool *pgxpool.Pool, dimension int) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if err := database.EnsureVectorSchema(ctx, pool, dimension); err != nil {
		return nil, fmt.Errorf("ensure vector schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Upsert(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		if err := validateEntry(e); err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO rag_entries (id, document_id, role, content, embedding, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
			ON CONFLICT (id) DO UPDATE SET
				document_id = EXCLUDED.document_id,
				role = EXCLUDED.role,
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding,
				updated_at = NOW()
		`, e.ID, e.DocumentID, e.Role, e.Text, pgvector.NewVector(e.Vector))
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for _, e := range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert entry %s: %w", e.ID, err)
		}
	}
	return nil
}

func (s *Postgres) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	if k <= 0 {
		k = 5
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, role, content, (embedding <=> $1::vector) AS distance
		FROM rag_entries
		ORDER BY embedding <=> $1::vector, id
		LIMIT $2
	`, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("query similar entries: %w", err)
	}
	defer rows.Close()

	matches := make([]Match, 0, k)
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.DocumentID, &m.Role, &m.Text, &m.Distance); err != nil {
			return nil, fmt.Errorf("scan similar entry: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return matches, nil
}

func (s *Postgres) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM rag_entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

func (s *Postgres) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "TRUNCATE rag_entries"); err != nil {
		return fmt.Errorf("truncate rag_entries: %w", err)
	}
	return nil
}

var _ Store = (*Postgres)(nil)
