// Package conversation holds per-session chat state: instructions, persistent
// context blocks and the committed message log.
package conversation

import (
	"strings"
	"sync"

	"github.com/fabfab/rag-assistant/llm"
)

// ContextBlock is reference text that stays in the preamble across turns,
// independent of the message window.
type ContextBlock struct {
	Label string
	Text  string
}

// Buffer is the conversation state of one session. It is safe for concurrent
// use; writers are serialised by the session's turn lock.
type Buffer struct {
	mu           sync.RWMutex
	instructions string
	blocks       []ContextBlock
	messages     []llm.Message
}

func NewBuffer(instructions string) *Buffer {
	return &Buffer{instructions: instructions}
}

// Append adds msgs to the log as one step.
func (b *Buffer) Append(msgs ...llm.Message) {
	if len(msgs) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msgs...)
}

// Window returns a copy of the last min(len, n) messages. n <= 0 returns
// every message.
func (b *Buffer) Window(n int) []llm.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := 0
	if n > 0 && len(b.messages) > n {
		start = len(b.messages) - n
	}
	out := make([]llm.Message, len(b.messages)-start)
	copy(out, b.messages[start:])
	return out
}

func (b *Buffer) Messages() []llm.Message {
	return b.Window(0)
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.messages)
}

func (b *Buffer) Last() (llm.Message, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.messages) == 0 {
		return llm.Message{}, false
	}
	return b.messages[len(b.messages)-1], true
}

// SetContext adds a block or replaces the text of an existing block with the
// same label in place.
func (b *Buffer) SetContext(label, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.blocks {
		if b.blocks[i].Label == label {
			b.blocks[i].Text = text
			return
		}
	}
	b.blocks = append(b.blocks, ContextBlock{Label: label, Text: text})
}

func (b *Buffer) ContextBlocks() []ContextBlock {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]ContextBlock(nil), b.blocks...)
}

func (b *Buffer) Instructions() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.instructions
}

func (b *Buffer) SetInstructions(instructions string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.instructions = instructions
}

// Preamble builds the system message sent ahead of the window: the
// instructions, every context block, then the retrieved text if any.
func (b *Buffer) Preamble(retrieved string) llm.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var sections []string
	if b.instructions != "" {
		sections = append(sections, b.instructions)
	}
	for _, block := range b.blocks {
		sections = append(sections, "Context from "+block.Label+":\n"+block.Text)
	}
	if retrieved != "" {
		sections = append(sections, "Retrieved context:\n"+retrieved)
	}
	return llm.Message{Role: llm.RoleSystem, Content: strings.Join(sections, "\n\n")}
}

// Reset clears the message log, and the context blocks when dropContext is
// set.
func (b *Buffer) Reset(dropContext bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = nil
	if dropContext {
		b.blocks = nil
	}
}
