package chat

import (
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/fabfab/rag-assistant/conversation"
	"github.com/fabfab/rag-assistant/llm"
)

// Turn is one in-flight answer. Recv yields text fragments until io.EOF, at
// which point the exchange is committed to the conversation. A provider error
// or an early Close commits nothing.
type Turn struct {
	mu       sync.Mutex
	state    *conversation.Buffer
	pending  llm.Message
	stream   llm.Stream
	sources  []Source
	userOnly bool

	text      strings.Builder
	done      bool
	committed bool
}

func (t *Turn) Recv() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return "", io.EOF
	}

	fragment, err := t.stream.Recv()
	if errors.Is(err, io.EOF) {
		t.finish(true)
		return "", io.EOF
	}
	if err != nil {
		t.finish(false)
		return "", err
	}
	t.text.WriteString(fragment)
	return fragment, nil
}

// Close releases the underlying stream. It is safe to call after io.EOF.
func (t *Turn) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	return t.stream.Close()
}

// Text returns everything received so far.
func (t *Turn) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.text.String()
}

// Committed reports whether the turn was written to the conversation.
func (t *Turn) Committed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.committed
}

// Sources returns the documents that grounded this turn, best first.
func (t *Turn) Sources() []Source {
	return append([]Source(nil), t.sources...)
}

func (t *Turn) finish(commit bool) {
	t.done = true
	_ = t.stream.Close()
	if !commit {
		return
	}
	if t.userOnly {
		t.state.Append(t.pending)
	} else {
		t.state.Append(t.pending, llm.Message{Role: llm.RoleAssistant, Content: t.text.String()})
	}
	t.committed = true
}

// Drain reads the turn to completion and returns the full answer.
func Drain(turn *Turn) (string, error) {
	defer turn.Close()
	for {
		_, err := turn.Recv()
		if errors.Is(err, io.EOF) {
			return turn.Text(), nil
		}
		if err != nil {
			return turn.Text(), err
		}
	}
}
