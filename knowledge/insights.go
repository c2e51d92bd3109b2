package knowledge

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Insight is what the graph knows about one indexed document.
type Insight struct {
	Title      string            `json:"title,omitempty"`
	Type       string            `json:"type,omitempty"`
	ChunkCount int               `json:"chunk_count,omitempty"`
	Related    []RelatedDocument `json:"related,omitempty"`
}

// RelatedDocument is another document sharing the same organization type.
type RelatedDocument struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

const maxRelated = 5

// DocumentInsights looks up chunk counts, types and same-type neighbours for
// the given document IDs. Unknown IDs are absent from the result.
func (g *Graph) DocumentInsights(ctx context.Context, docIDs []string) (map[string]Insight, error) {
	if g == nil || g.driver == nil {
		return nil, ErrNoDriver
	}
	if len(docIDs) == 0 {
		return map[string]Insight{}, nil
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (d:Document)
		WHERE d.id IN $ids
		OPTIONAL MATCH (d)-[:HAS_CHUNK]->(c:Chunk)
		OPTIONAL MATCH (d)-[:OF_TYPE]->(t:OrgType)
		OPTIONAL MATCH (t)<-[:OF_TYPE]-(related:Document)
		WITH d,
		     count(DISTINCT c) AS chunkCount,
		     head(collect(DISTINCT t.name)) AS typeName,
		     collect(DISTINCT related) AS relatedNodes
		RETURN d.id AS id,
		       d.title AS title,
		       chunkCount,
		       typeName,
		       [r IN relatedNodes WHERE r IS NOT NULL AND r.id <> d.id | {id: r.id, title: r.title}][0..$max_related] AS related
	`, map[string]any{"ids": docIDs, "max_related": maxRelated})
	if err != nil {
		return nil, fmt.Errorf("run neo4j insights query: %w", err)
	}

	insights := make(map[string]Insight, len(docIDs))
	for result.Next(ctx) {
		record := result.Record()
		id, _ := record.Get("id")
		docID, ok := id.(string)
		if !ok {
			continue
		}
		title, _ := record.Get("title")
		count, _ := record.Get("chunkCount")
		typeName, _ := record.Get("typeName")
		related, _ := record.Get("related")

		insight := Insight{Related: convertRelated(related)}
		insight.Title, _ = title.(string)
		insight.Type, _ = typeName.(string)
		if n, ok := toInt(count); ok {
			insight.ChunkCount = n
		}
		insights[docID] = insight
	}

	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("neo4j insights result error: %w", err)
	}
	return insights, nil
}

func convertRelated(value any) []RelatedDocument {
	raw, ok := value.([]any)
	if !ok {
		return nil
	}

	related := make([]RelatedDocument, 0, len(raw))
	for _, item := range raw {
		data, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := data["id"].(string)
		title, _ := data["title"].(string)
		if id == "" {
			continue
		}
		related = append(related, RelatedDocument{ID: id, Title: title})
	}
	return related
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
