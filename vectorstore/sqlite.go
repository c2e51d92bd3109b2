package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fabfab/rag-assistant/database"
)

// SQLite persists entries with the embedding stored as a JSON array and ranks
// them in process by cosine distance.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(ctx context.Context, db *sql.DB) (*SQLite, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite db is nil")
	}
	if err := database.EnsureSQLiteSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Upsert(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rag_entries (id, document_id, role, content, embedding_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			document_id = excluded.document_id,
			role = excluded.role,
			content = excluded.content,
			embedding_json = excluded.embedding_json,
			updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if err := validateEntry(e); err != nil {
			return err
		}
		vec, err := json.Marshal(e.Vector)
		if err != nil {
			return fmt.Errorf("marshal embedding %s: %w", e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.DocumentID, e.Role, e.Text, string(vec)); err != nil {
			return fmt.Errorf("upsert entry %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

func (s *SQLite) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id, document_id, role, content, embedding_json FROM rag_entries")
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	matches := make([]Match, 0)
	for rows.Next() {
		var (
			m       Match
			rawJSON string
		)
		if err := rows.Scan(&m.ID, &m.DocumentID, &m.Role, &m.Text, &rawJSON); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		var stored []float32
		if err := json.Unmarshal([]byte(rawJSON), &stored); err != nil {
			return nil, fmt.Errorf("decode embedding %s: %w", m.ID, err)
		}
		m.Distance, err = CosineDistance(vector, stored)
		if err != nil {
			return nil, fmt.Errorf("score entry %s: %w", m.ID, err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}

	return rank(matches, k), nil
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rag_entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

func (s *SQLite) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM rag_entries"); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	return nil
}

var _ Store = (*SQLite)(nil)
