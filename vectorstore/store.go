// Package vectorstore holds the index entries written by ingestion and read by
// retrieval, behind one Store interface with pgvector, SQLite and in-memory
// backends.
package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// Entry is one indexed chunk: its stable ID, text and embedding.
type Entry struct {
	ID         string
	DocumentID string
	Role       string
	Text       string
	Vector     []float32
}

// Match is a query result. Distance is cosine distance (0 is identical).
type Match struct {
	ID         string
	DocumentID string
	Role       string
	Text       string
	Distance   float64
}

// Store is the vector store boundary. Upsert is keyed by Entry.ID, so writing
// the same entry twice never creates a duplicate. Query returns at most k
// matches ordered by ascending distance.
type Store interface {
	Upsert(ctx context.Context, entries ...Entry) error
	Query(ctx context.Context, vector []float32, k int) ([]Match, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// CosineDistance returns 1 - cosine similarity of a and b.
func CosineDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector length mismatch: %d vs %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1, nil
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB)), nil
}

// Score converts a distance into a similarity in (0, 1].
func (m Match) Score() float64 {
	return 1 / (1 + m.Distance)
}

func validateEntry(e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("entry id is empty")
	}
	if len(e.Vector) == 0 {
		return fmt.Errorf("entry %s has empty vector", e.ID)
	}
	return nil
}

// rank sorts matches closest first, breaking ties by ID, and keeps k.
func rank(matches []Match, k int) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance == matches[j].Distance {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Distance < matches[j].Distance
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
