package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fabfab/rag-assistant/embeddings"
	"github.com/fabfab/rag-assistant/knowledge"
	"github.com/fabfab/rag-assistant/logging"
	"github.com/fabfab/rag-assistant/vectorstore"
)

// ErrDuplicateDocument marks a file whose document ID is already taken by an
// earlier file in the same build.
var ErrDuplicateDocument = errors.New("duplicate document id")

// GraphSyncer mirrors indexed documents into a graph database.
type GraphSyncer interface {
	SyncDocument(ctx context.Context, doc knowledge.Document) error
}

type IndexerOptions struct {
	// RequestsPerSecond throttles embedding calls; zero disables throttling.
	RequestsPerSecond float64
}

type BuildOptions struct {
	Force bool
}

// Failure records one document or chunk that could not be indexed.
type Failure struct {
	Path    string
	ChunkID string
	Err     error
}

type Report struct {
	Documents int
	Chunks    int
	Skipped   bool
	Failures  []Failure
}

// Indexer embeds chunks and writes them to a vector store.
type Indexer struct {
	store    vectorstore.Store
	embedder embeddings.Embedder
	graph    GraphSyncer
	logger   *zap.Logger
	limiter  *rate.Limiter
}

// NewIndexer wires an indexer. graph may be nil.
func NewIndexer(store vectorstore.Store, embedder embeddings.Embedder, graph GraphSyncer, logger *zap.Logger, opts IndexerOptions) *Indexer {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &Indexer{
		store:    store,
		embedder: embedder,
		graph:    graph,
		logger:   logging.OrNop(logger),
		limiter:  limiter,
	}
}

// BuildCorpus indexes every supported file under dir. A non-empty store is
// left untouched unless opts.Force is set. Per-document and per-chunk
// failures are collected in the report; only setup errors are returned.
func (ix *Indexer) BuildCorpus(ctx context.Context, dir string, opts BuildOptions) (Report, error) {
	if ix.embedder == nil {
		return Report{}, fmt.Errorf("embedder not configured")
	}

	count, err := ix.store.Count(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("count entries: %w", err)
	}
	if count > 0 && !opts.Force {
		ix.logger.Info("index already populated, skipping build", zap.Int("entries", count))
		return Report{Skipped: true}, nil
	}

	if _, err := os.Stat(dir); err != nil {
		return Report{}, fmt.Errorf("data directory: %w", err)
	}

	var paths []string
	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if DetectFormat(path) == FormatUnknown {
			ix.logger.Debug("skip unsupported file", zap.String("path", path))
			return nil
		}
		paths = append(paths, path)
		return nil
	}); err != nil {
		return Report{}, fmt.Errorf("walk data directory: %w", err)
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		ix.logger.Warn("no supported documents found", zap.String("dir", dir))
		return Report{}, nil
	}

	var report Report
	owners := make(map[string]string, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		id := DocumentID(path)
		if first, taken := owners[id]; taken {
			ix.recordFailure(&report, Failure{Path: path, Err: fmt.Errorf("%w %q: already indexed from %s", ErrDuplicateDocument, id, first)})
			continue
		}
		owners[id] = path
		ix.indexFile(ctx, path, &report)
	}

	ix.logger.Info("corpus built",
		zap.Int("documents", report.Documents),
		zap.Int("chunks", report.Chunks),
		zap.Int("failures", len(report.Failures)),
	)
	return report, nil
}

func (ix *Indexer) indexFile(ctx context.Context, path string, report *Report) {
	data, err := os.ReadFile(path)
	if err != nil {
		ix.recordFailure(report, Failure{Path: path, Err: &ExtractionError{Path: path, Err: err}})
		return
	}

	doc := Document{ID: DocumentID(path), Path: path, Format: DetectFormat(path), Data: data}
	rec, err := ExtractRecord(doc)
	if err != nil {
		ix.recordFailure(report, Failure{Path: path, Err: err})
		return
	}

	chunks := ChunkRecord(doc.ID, rec)
	indexed := make([]knowledge.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		if err := ix.IndexChunk(ctx, chunk); err != nil {
			ix.recordFailure(report, Failure{Path: path, ChunkID: chunk.ID, Err: err})
			continue
		}
		report.Chunks++
		indexed = append(indexed, knowledge.Chunk{ID: chunk.ID, Role: chunk.Role, Text: chunk.Text})
	}
	report.Documents++
	ix.logger.Debug("indexed document", zap.String("path", path), zap.Int("chunks", len(indexed)))

	if ix.graph == nil || len(indexed) == 0 {
		return
	}
	if err := ix.graph.SyncDocument(ctx, knowledge.Document{
		ID:     doc.ID,
		Path:   path,
		Title:  rec.Name,
		Type:   rec.Type,
		Chunks: indexed,
	}); err != nil {
		ix.logger.Warn("sync knowledge graph failed", zap.String("path", path), zap.Error(err))
	}
}

// IndexChunk embeds one chunk and upserts it under its stable ID.
func (ix *Indexer) IndexChunk(ctx context.Context, chunk Chunk) error {
	if err := ix.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for rate limiter: %w", err)
	}

	vectors, err := ix.embedder.Embed(ctx, []string{chunk.Text})
	if err != nil {
		return fmt.Errorf("embed chunk %s: %w", chunk.ID, err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("embed chunk %s: expected 1 vector, got %d", chunk.ID, len(vectors))
	}

	if err := ix.store.Upsert(ctx, vectorstore.Entry{
		ID:         chunk.ID,
		DocumentID: chunk.DocumentID,
		Role:       chunk.Role,
		Text:       chunk.Text,
		Vector:     vectors[0],
	}); err != nil {
		return fmt.Errorf("upsert chunk %s: %w", chunk.ID, err)
	}
	return nil
}

func (ix *Indexer) recordFailure(report *Report, failure Failure) {
	report.Failures = append(report.Failures, failure)

	fields := []zap.Field{zap.String("path", failure.Path), zap.Error(failure.Err)}
	if failure.ChunkID != "" {
		fields = append(fields, zap.String("chunk", failure.ChunkID))
	}
	var extractErr *ExtractionError
	if errors.As(failure.Err, &extractErr) {
		ix.logger.Warn("skip document", fields...)
		return
	}
	ix.logger.Warn("index chunk failed", fields...)
}
