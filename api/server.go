// Package api exposes the assistant over HTTP: sessions, streamed answers,
// context blocks, ingestion, summaries and index maintenance.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fabfab/rag-assistant/chat"
	"github.com/fabfab/rag-assistant/config"
	"github.com/fabfab/rag-assistant/conversation"
	"github.com/fabfab/rag-assistant/ingestion"
	"github.com/fabfab/rag-assistant/logging"
	"github.com/fabfab/rag-assistant/vectorstore"
)

const requestTimeout = 120 * time.Second

// Corpus builds the vector index from a directory.
type Corpus interface {
	BuildCorpus(ctx context.Context, dir string, opts ingestion.BuildOptions) (ingestion.Report, error)
}

// GraphPurger clears the optional knowledge graph mirror.
type GraphPurger interface {
	Purge(ctx context.Context) error
}

type Summarizer interface {
	Summarize(ctx context.Context, text string, format chat.SummaryFormat, language string) (string, error)
}

// FetchFunc downloads a page as text truncated to limit runes.
type FetchFunc func(ctx context.Context, url string, limit int) (string, error)

// Dependencies are the services the handlers call. Any of them may be nil;
// the matching routes then answer 503.
type Dependencies struct {
	Chat       *chat.Service
	Sessions   *conversation.Sessions
	Corpus     Corpus
	Store      vectorstore.Store
	Graph      GraphPurger
	Summarizer Summarizer
	Fetch      FetchFunc
}

// Server exposes HTTP handlers for the assistant workflows.
type Server struct {
	cfg      config.Config
	deps     Dependencies
	logger   *zap.Logger
	handler  http.Handler
	ingestMu sync.Mutex
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New constructs a Server that serves the HTTP API.
func New(cfg config.Config, deps Dependencies, logger *zap.Logger) *Server {
	if deps.Sessions == nil {
		deps.Sessions = conversation.NewSessions()
	}
	if deps.Fetch == nil {
		deps.Fetch = ingestion.FetchURL
	}

	s := &Server{cfg: cfg, deps: deps, logger: logging.OrNop(logger)}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/profiles", s.handleProfiles)
		r.Post("/ingest", s.handleIngest)
		r.Post("/clear", s.handleClear)
		r.Post("/summarize", s.handleSummarize)

		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Post("/context", s.handleAddContext)
			r.Post("/reset", s.handleReset)
			r.Get("/messages", s.handleListMessages)
			r.Post("/messages", s.handlePostMessage)
		})
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("no route for %s", r.URL.Path))
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

type profileResponse struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Mode            string   `json:"mode"`
	Window          int      `json:"window"`
	TopK            int      `json:"top_k,omitempty"`
	Tools           []string `json:"tools,omitempty"`
	AllowURLContext bool     `json:"allow_url_context"`
}

func toProfileResponse(p chat.Profile) profileResponse {
	resp := profileResponse{
		Name:            p.Name,
		Description:     p.Description,
		Mode:            p.Mode.String(),
		Window:          p.Window,
		TopK:            p.TopK,
		AllowURLContext: p.AllowURLContext,
	}
	for _, kind := range p.Tools {
		resp.Tools = append(resp.Tools, kind.String())
	}
	return resp
}

func (s *Server) handleProfiles(w http.ResponseWriter, _ *http.Request) {
	profiles := chat.Profiles()
	out := make([]profileResponse, len(profiles))
	for i, p := range profiles {
		out[i] = toProfileResponse(p)
	}
	s.writeJSON(w, http.StatusOK, out)
}

type ingestRequest struct {
	Dir   string `json:"dir"`
	Force bool   `json:"force"`
}

type ingestFailure struct {
	Path    string `json:"path"`
	ChunkID string `json:"chunk_id,omitempty"`
	Error   string `json:"error"`
}

type ingestResponse struct {
	Documents int             `json:"documents"`
	Chunks    int             `json:"chunks"`
	Skipped   bool            `json:"skipped"`
	Failures  []ingestFailure `json:"failures"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.deps.Corpus == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("ingestion is not configured"))
		return
	}

	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	dir := strings.TrimSpace(req.Dir)
	if dir == "" {
		dir = s.cfg.Ingest.DataDir
	}

	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	s.logger.Info("ingesting documents", zap.String("dir", dir), zap.Bool("force", req.Force),
		zap.String("embeddings", strings.ToUpper(s.cfg.Embeddings.Provider)+"/"+s.cfg.Embeddings.Model))

	report, err := s.deps.Corpus.BuildCorpus(r.Context(), dir, ingestion.BuildOptions{Force: req.Force})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("ingestion failed: %w", err))
		return
	}

	resp := ingestResponse{
		Documents: report.Documents,
		Chunks:    report.Chunks,
		Skipped:   report.Skipped,
		Failures:  make([]ingestFailure, 0, len(report.Failures)),
	}
	for _, f := range report.Failures {
		resp.Failures = append(resp.Failures, ingestFailure{Path: f.Path, ChunkID: f.ChunkID, Error: f.Err.Error()})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type clearRequest struct {
	Confirm bool `json:"confirm"`
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("vector store is not configured"))
		return
	}

	var req clearRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if !req.Confirm {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("confirm must be true to clear data"))
		return
	}

	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	ctx := r.Context()
	if err := s.deps.Store.Clear(ctx); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("clear vector store: %w", err))
		return
	}
	s.logger.Info("vector store cleared")

	if s.deps.Graph != nil {
		if err := s.deps.Graph.Purge(ctx); err != nil {
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("clear neo4j: %w", err))
			return
		}
		s.logger.Info("neo4j documents and chunks cleared")
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "rag data cleared"})
}

type summarizeRequest struct {
	URL      string `json:"url"`
	Text     string `json:"text"`
	Format   string `json:"format"`
	Language string `json:"language"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
	Format  string `json:"format"`
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	if s.deps.Summarizer == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("summarizer is not configured"))
		return
	}

	var req summarizeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	format, err := chat.ParseSummaryFormat(req.Format)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	text := strings.TrimSpace(req.Text)
	if url := strings.TrimSpace(req.URL); url != "" {
		text, err = s.deps.Fetch(r.Context(), url, chat.MaxSummaryInput)
		if err != nil {
			s.writeError(w, http.StatusBadGateway, fmt.Errorf("fetch url: %w", err))
			return
		}
	}
	if text == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("url or text is required"))
		return
	}

	summary, err := s.deps.Summarizer.Summarize(r.Context(), text, format, req.Language)
	if err != nil {
		s.writeError(w, statusForError(err), fmt.Errorf("summarize: %w", err))
		return
	}
	s.writeJSON(w, http.StatusOK, summarizeResponse{Summary: summary, Format: string(format)})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("api error", zap.Int("status", status), zap.Error(err))
	} else {
		s.logger.Info("api error", zap.Int("status", status), zap.Error(err))
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
