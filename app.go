package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fabfab/rag-assistant/chat"
	"github.com/fabfab/rag-assistant/config"
	"github.com/fabfab/rag-assistant/database"
	"github.com/fabfab/rag-assistant/embeddings"
	"github.com/fabfab/rag-assistant/ingestion"
	"github.com/fabfab/rag-assistant/knowledge"
	"github.com/fabfab/rag-assistant/llm"
	"github.com/fabfab/rag-assistant/logging"
	"github.com/fabfab/rag-assistant/retrieval"
	"github.com/fabfab/rag-assistant/tools"
	"github.com/fabfab/rag-assistant/vectorstore"
)

// app holds the services shared by the subcommands. Fields are populated
// lazily by the open* methods; close releases whatever was opened.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	store    vectorstore.Store
	embedder embeddings.Embedder
	graph    *knowledge.Graph
	closers  []func()
}

func newApp() (*app, error) {
	var (
		cfg config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Load()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	logger, err := logging.New(debugLog || cfg.Debug())
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger}, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}

func (a *app) openStore(ctx context.Context) (vectorstore.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, closer, err := vectorstore.Open(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.cfg.Store.Backend, err)
	}
	a.closers = append(a.closers, closer)
	a.store = store
	return store, nil
}

func (a *app) openEmbedder(ctx context.Context) (embeddings.Embedder, error) {
	if a.embedder != nil {
		return a.embedder, nil
	}
	embedder, err := embeddings.NewEmbedder(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("embedder setup: %w", err)
	}
	if closer, ok := embedder.(interface{ Close() error }); ok {
		a.closers = append(a.closers, func() { _ = closer.Close() })
	}
	a.embedder = embedder
	return embedder, nil
}

// openGraph connects to Neo4j when enabled. A nil graph with a nil error
// means the mirror is disabled.
func (a *app) openGraph(ctx context.Context) (*knowledge.Graph, error) {
	if !a.cfg.Neo4j.Enabled {
		return nil, nil
	}
	if a.graph != nil {
		return a.graph, nil
	}
	driver, err := database.NewNeo4jDriver(ctx, a.cfg.Neo4j.URI, a.cfg.Neo4j.User, a.cfg.Neo4j.Pass)
	if err != nil {
		return nil, fmt.Errorf("neo4j connection: %w", err)
	}
	a.closers = append(a.closers, func() { _ = driver.Close(context.Background()) })
	a.graph = knowledge.NewGraph(driver)
	return a.graph, nil
}

func (a *app) indexer(ctx context.Context) (*ingestion.Indexer, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	embedder, err := a.openEmbedder(ctx)
	if err != nil {
		return nil, err
	}
	graph, err := a.openGraph(ctx)
	if err != nil {
		return nil, err
	}

	var syncer ingestion.GraphSyncer
	if graph != nil {
		syncer = graph
	}
	return ingestion.NewIndexer(store, embedder, syncer, a.logger, ingestion.IndexerOptions{
		RequestsPerSecond: a.cfg.Ingest.RequestsPerSecond,
	}), nil
}

func (a *app) retriever(ctx context.Context) (*retrieval.Retriever, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	embedder, err := a.openEmbedder(ctx)
	if err != nil {
		return nil, err
	}
	return retrieval.NewRetriever(embedder, store, a.logger), nil
}

func (a *app) weather() *tools.WeatherClient {
	return tools.NewWeatherClient(tools.WeatherOptions{
		APIKey:  a.cfg.Weather.APIKey,
		BaseURL: a.cfg.Weather.BaseURL,
		Units:   a.cfg.Weather.Units,
	})
}

// chatService wires the orchestrator. Retrieval and the graph insights are
// only opened when withSearch is set.
func (a *app) chatService(ctx context.Context, withSearch bool) (*chat.Service, error) {
	client, err := llm.NewClient(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("llm setup: %w", err)
	}

	var (
		retriever chat.Retriever
		searcher  tools.Searcher
		insights  chat.InsightSource
	)
	if withSearch {
		r, err := a.retriever(ctx)
		if err != nil {
			return nil, err
		}
		retriever, searcher = r, r

		graph, err := a.openGraph(ctx)
		if err != nil {
			a.logger.Warn("knowledge graph unavailable, sources will not include insights", zap.Error(err))
		} else if graph != nil {
			insights = graph
		}
	}

	executor := tools.NewExecutor(searcher, a.weather(), a.cfg.Chat.TopK, a.logger)
	return chat.NewService(client, retriever, executor, insights, a.logger), nil
}

func (a *app) profile(name string) (chat.Profile, error) {
	return chat.ResolveProfile(name, a.cfg.Chat)
}

func searches(profile chat.Profile) bool {
	if profile.Mode == chat.ModeEager {
		return true
	}
	for _, kind := range profile.Tools {
		if kind == tools.KindOrgSearch {
			return true
		}
	}
	return false
}
