package chat

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fabfab/rag-assistant/knowledge"
	"github.com/fabfab/rag-assistant/vectorstore"
)

const maxSnippetChars = 500

// Source is one grounding document, merged from its retrieved chunks.
type Source struct {
	DocumentID string            `json:"document_id"`
	ChunkIDs   []string          `json:"chunk_ids"`
	Snippet    string            `json:"snippet"`
	Score      float64           `json:"score"`
	Insight    knowledge.Insight `json:"insight"`
}

func (s *Service) buildSources(ctx context.Context, matches []vectorstore.Match) []Source {
	if len(matches) == 0 {
		return nil
	}

	insights := map[string]knowledge.Insight{}
	if s.insights != nil {
		docIDs := make([]string, 0, len(matches))
		for _, m := range matches {
			docIDs = append(docIDs, m.DocumentID)
		}
		found, err := s.insights.DocumentInsights(ctx, unique(docIDs))
		if err != nil {
			s.logger.Warn("graph insights error", zap.Error(err))
		} else {
			insights = found
		}
	}
	return mergeSources(matches, insights)
}

func mergeSources(matches []vectorstore.Match, insights map[string]knowledge.Insight) []Source {
	grouped := make(map[string]*Source, len(matches))
	order := make([]string, 0, len(matches))
	for _, m := range matches {
		docID := m.DocumentID
		if docID == "" {
			docID = m.ID
		}

		source, ok := grouped[docID]
		if !ok {
			source = &Source{DocumentID: docID, Score: m.Score()}
			grouped[docID] = source
			order = append(order, docID)
		} else if m.Score() > source.Score {
			source.Score = m.Score()
		}
		source.ChunkIDs = append(source.ChunkIDs, m.ID)

		snippet := strings.TrimSpace(m.Text)
		if len(snippet) > maxSnippetChars {
			snippet = truncate(snippet, maxSnippetChars) + "..."
		}
		if source.Snippet == "" {
			source.Snippet = snippet
		} else if !strings.Contains(source.Snippet, snippet) {
			source.Snippet += "\n---\n" + snippet
		}

		if insight, ok := insights[docID]; ok {
			source.Insight = insight
		}
	}

	sources := make([]Source, 0, len(order))
	for _, docID := range order {
		sources = append(sources, *grouped[docID])
	}
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Score > sources[j].Score
	})
	return sources
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
