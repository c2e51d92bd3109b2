// Package retrieval answers similarity queries against the indexed corpus.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fabfab/rag-assistant/embeddings"
	"github.com/fabfab/rag-assistant/logging"
	"github.com/fabfab/rag-assistant/vectorstore"
)

const (
	DefaultTopK = 5

	// ContextSeparator divides retrieved chunks in the joined context.
	ContextSeparator = "\n\n---\n\n"
)

type Retriever struct {
	embedder embeddings.Embedder
	store    vectorstore.Store
	logger   *zap.Logger
}

func NewRetriever(embedder embeddings.Embedder, store vectorstore.Store, logger *zap.Logger) *Retriever {
	return &Retriever{embedder: embedder, store: store, logger: logging.OrNop(logger)}
}

// Retrieve embeds query and returns up to k closest entries, nearest first.
// An empty store yields an empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]vectorstore.Match, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vectors))
	}

	matches, err := r.store.Query(ctx, vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("query store: %w", err)
	}
	if matches == nil {
		matches = []vectorstore.Match{}
	}

	r.logger.Debug("retrieved context", zap.Int("k", k), zap.Int("matches", len(matches)))
	return matches, nil
}

// JoinContext concatenates match texts in order.
func JoinContext(matches []vectorstore.Match) string {
	if len(matches) == 0 {
		return ""
	}
	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Text
	}
	return strings.Join(texts, ContextSeparator)
}
