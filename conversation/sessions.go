package conversation

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTurnInProgress  = errors.New("a turn is already in progress for this session")
)

// Session pairs a Buffer with the profile it was created for.
type Session struct {
	ID        string
	Profile   string
	CreatedAt time.Time
	Buffer    *Buffer

	busy bool
}

// Sessions is an in-process registry of conversations.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[string]*Session)}
}

// Create registers a new session and returns it.
func (s *Sessions) Create(profile, instructions string) *Session {
	session := &Session{
		ID:        uuid.NewString(),
		Profile:   profile,
		CreatedAt: time.Now().UTC(),
		Buffer:    NewBuffer(instructions),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	return session
}

func (s *Sessions) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *Sessions) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Begin marks a turn as active on the session. The returned release func
// ends it and is safe to call more than once.
func (s *Sessions) Begin(id string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if session.busy {
		return nil, ErrTurnInProgress
	}
	session.busy = true

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			session.busy = false
			s.mu.Unlock()
		})
	}, nil
}
