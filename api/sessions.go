package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fabfab/rag-assistant/chat"
	"github.com/fabfab/rag-assistant/conversation"
	"github.com/fabfab/rag-assistant/llm"
)

type createSessionRequest struct {
	Profile string `json:"profile"`
}

type sessionResponse struct {
	ID        string          `json:"id"`
	Profile   profileResponse `json:"profile"`
	CreatedAt time.Time       `json:"created_at"`
	Messages  int             `json:"messages"`
	Context   []contextBlock  `json:"context"`
}

type contextBlock struct {
	Label string `json:"label"`
	Chars int    `json:"chars"`
}

type messageView struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	profile, err := chat.ResolveProfile(strings.TrimSpace(req.Profile), s.cfg.Chat)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	session := s.deps.Sessions.Create(profile.Name, profile.Instructions)
	s.logger.Info("session created", zap.String("session", session.ID), zap.String("profile", profile.Name))
	s.writeJSON(w, http.StatusCreated, s.sessionView(session, profile))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, profile, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.sessionView(session, profile))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sessions.Delete(chi.URLParam(r, "sessionID")); err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	session, _, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	messages := session.Buffer.Messages()
	out := make([]messageView, 0, len(messages))
	for _, m := range messages {
		out = append(out, messageView{Role: m.Role, Content: m.Content})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type resetRequest struct {
	DropContext bool `json:"drop_context"`
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	session, _, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req resetRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	release, err := s.deps.Sessions.Begin(session.ID)
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	defer release()

	session.Buffer.Reset(req.DropContext)
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "conversation cleared"})
}

type addContextRequest struct {
	URL   string `json:"url"`
	Label string `json:"label"`
	Text  string `json:"text"`
}

func (s *Server) handleAddContext(w http.ResponseWriter, r *http.Request) {
	session, profile, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	if !profile.AllowURLContext {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("profile %s does not accept context blocks", profile.Name))
		return
	}

	var req addContextRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	// Held across the limit check and the write so concurrent requests
	// cannot both claim the last free slot.
	release, err := s.deps.Sessions.Begin(session.ID)
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	defer release()

	blocks := session.Buffer.ContextBlocks()
	label := strings.TrimSpace(req.Label)
	if label == "" {
		label = fmt.Sprintf("URL %d", len(blocks)+1)
	}
	replacing := false
	for _, b := range blocks {
		if b.Label == label {
			replacing = true
			break
		}
	}
	if !replacing && len(blocks) >= chat.MaxURLContexts {
		s.writeError(w, http.StatusConflict, fmt.Errorf("at most %d context blocks are allowed", chat.MaxURLContexts))
		return
	}

	text := strings.TrimSpace(req.Text)
	if url := strings.TrimSpace(req.URL); url != "" {
		fetched, err := s.deps.Fetch(r.Context(), url, chat.MaxURLContextChars)
		if err != nil {
			s.writeError(w, http.StatusBadGateway, fmt.Errorf("fetch url: %w", err))
			return
		}
		text = fetched
	} else if len([]rune(text)) > chat.MaxURLContextChars {
		text = string([]rune(text)[:chat.MaxURLContextChars])
	}
	if text == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("url or text is required"))
		return
	}

	session.Buffer.SetContext(label, text)
	s.writeJSON(w, http.StatusOK, s.sessionView(session, profile))
}

type postMessageRequest struct {
	Question string `json:"question"`
	Stream   bool   `json:"stream"`
}

type answerResponse struct {
	Answer  string        `json:"answer"`
	Sources []chat.Source `json:"sources"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("chat is not configured"))
		return
	}
	session, profile, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var req postMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	release, err := s.deps.Sessions.Begin(session.ID)
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	defer release()

	turn, err := s.deps.Chat.Ask(r.Context(), session.Buffer, profile, req.Question)
	if err != nil {
		s.writeError(w, statusForError(err), fmt.Errorf("chat failed: %w", err))
		return
	}
	defer turn.Close()

	if !req.Stream {
		answer, err := chat.Drain(turn)
		if err != nil {
			s.writeError(w, statusForError(err), fmt.Errorf("chat failed: %w", err))
			return
		}
		s.writeJSON(w, http.StatusOK, answerResponse{Answer: answer, Sources: nonNilSources(turn.Sources())})
		return
	}

	s.streamTurn(w, session.ID, turn)
}

// streamTurn writes the turn as server-sent events: one "delta" per fragment,
// then "done" with the full answer, or "error".
func (s *Server) streamTurn(w http.ResponseWriter, sessionID string, turn *chat.Turn) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, errors.New("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		fragment, err := turn.Recv()
		if errors.Is(err, io.EOF) {
			writeEvent(w, "done", answerResponse{Answer: turn.Text(), Sources: nonNilSources(turn.Sources())})
			flusher.Flush()
			return
		}
		if err != nil {
			s.logger.Warn("stream failed", zap.String("session", sessionID), zap.Error(err))
			writeEvent(w, "error", errorResponse{Error: err.Error()})
			flusher.Flush()
			return
		}
		writeEvent(w, "delta", map[string]string{"text": fragment})
		flusher.Flush()
	}
}

func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*conversation.Session, chat.Profile, bool) {
	session, err := s.deps.Sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return nil, chat.Profile{}, false
	}
	profile, err := chat.ResolveProfile(session.Profile, s.cfg.Chat)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return nil, chat.Profile{}, false
	}
	return session, profile, true
}

func (s *Server) sessionView(session *conversation.Session, profile chat.Profile) sessionResponse {
	blocks := session.Buffer.ContextBlocks()
	view := sessionResponse{
		ID:        session.ID,
		Profile:   toProfileResponse(profile),
		CreatedAt: session.CreatedAt,
		Messages:  session.Buffer.Len(),
		Context:   make([]contextBlock, 0, len(blocks)),
	}
	for _, b := range blocks {
		view.Context = append(view.Context, contextBlock{Label: b.Label, Chars: len([]rune(b.Text))})
	}
	return view
}

func nonNilSources(sources []chat.Source) []chat.Source {
	if sources == nil {
		return []chat.Source{}
	}
	return sources
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, conversation.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, conversation.ErrTurnInProgress):
		return http.StatusConflict
	case errors.Is(err, chat.ErrEmptyQuestion), errors.Is(err, chat.ErrUnknownProfile):
		return http.StatusBadRequest
	case llm.IsProviderError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
