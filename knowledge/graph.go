// Package knowledge mirrors indexed documents into Neo4j as
// (:Document)-[:HAS_CHUNK]->(:Chunk) graphs, with organization types linked
// as (:Document)-[:OF_TYPE]->(:OrgType).
package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

var ErrNoDriver = errors.New("neo4j driver is nil")

type Document struct {
	ID     string
	Path   string
	Title  string
	Type   string
	Chunks []Chunk
}

type Chunk struct {
	ID   string
	Role string
	Text string
}

// Graph writes documents to a Neo4j database.
type Graph struct {
	driver neo4j.DriverWithContext
}

func NewGraph(driver neo4j.DriverWithContext) *Graph {
	return &Graph{driver: driver}
}

// SyncDocument replaces the document node, its chunk nodes and its type
// relation in a single write transaction.
func (g *Graph) SyncDocument(ctx context.Context, doc Document) error {
	if g == nil || g.driver == nil {
		return ErrNoDriver
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	params := map[string]any{
		"id":    doc.ID,
		"path":  doc.Path,
		"title": doc.Title,
		"type":  doc.Type,
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (d:Document {id: $id})
			SET d.path = $path,
			    d.title = $title,
			    d.updated_at = datetime()
		`, params); err != nil {
			return nil, fmt.Errorf("upsert document node: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})-[r:OF_TYPE]->(:OrgType)
			DELETE r
		`, params); err != nil {
			return nil, fmt.Errorf("remove stale type relation: %w", err)
		}
		if doc.Type != "" {
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {id: $id})
				MERGE (t:OrgType {name: $type})
				MERGE (d)-[:OF_TYPE]->(t)
			`, params); err != nil {
				return nil, fmt.Errorf("upsert type relation: %w", err)
			}
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})-[:HAS_CHUNK]->(c:Chunk)
			DETACH DELETE c
		`, map[string]any{"id": doc.ID}); err != nil {
			return nil, fmt.Errorf("clear existing chunk nodes: %w", err)
		}

		for order, chunk := range doc.Chunks {
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {id: $doc_id})
				MERGE (c:Chunk {id: $chunk_id})
				SET c.role = $chunk_role,
				    c.text = $chunk_text
				MERGE (d)-[:HAS_CHUNK {order: $chunk_order}]->(c)
			`, map[string]any{
				"doc_id":      doc.ID,
				"chunk_id":    chunk.ID,
				"chunk_role":  chunk.Role,
				"chunk_text":  chunk.Text,
				"chunk_order": order,
			}); err != nil {
				return nil, fmt.Errorf("upsert chunk node: %w", err)
			}
		}

		return nil, nil
	})

	if err == nil {
		if _, cleanupErr := session.Run(ctx, `
			MATCH (t:OrgType)
			WHERE NOT (t)<-[:OF_TYPE]-(:Document)
			DELETE t
		`, nil); cleanupErr != nil {
			err = cleanupErr
		}
	}

	return err
}

// Purge removes every node written by SyncDocument.
func (g *Graph) Purge(ctx context.Context) error {
	if g == nil || g.driver == nil {
		return ErrNoDriver
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	queries := []string{
		"MATCH (d:Document) DETACH DELETE d",
		"MATCH (c:Chunk) DETACH DELETE c",
		"MATCH (t:OrgType) DETACH DELETE t",
	}
	for _, query := range queries {
		result, err := session.Run(ctx, query, nil)
		if err != nil {
			return fmt.Errorf("purge graph: %w", err)
		}
		if _, err := result.Consume(ctx); err != nil {
			return fmt.Errorf("purge graph: %w", err)
		}
	}
	return nil
}
