package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fabfab/rag-assistant/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a model request to invoke a named function. Arguments holds the
// raw JSON object produced by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Client is the completion provider boundary. Generate returns either a final
// assistant message or one carrying tool calls; GenerateStream yields text
// fragments until io.EOF.
type Client interface {
	Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (Message, error)
	GenerateStream(ctx context.Context, messages []Message) (Stream, error)
}

// Stream is a finite, non-restartable sequence of text fragments. Recv
// returns io.EOF once the provider signals the end of the response.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// ProviderError reports a failed call to a completion or embedding provider.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s (status %d): %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsProviderError reports whether err wraps a ProviderError.
func IsProviderError(err error) bool {
	var providerErr *ProviderError
	return errors.As(err, &providerErr)
}

type Options struct {
	Provider string
	Model    string

	OllamaHost       string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string
}

func NewClient(cfg config.Config) (Client, error) {
	opts := Options{
		Provider:         cfg.LLM.Provider,
		Model:            cfg.LLM.Model,
		OllamaHost:       cfg.OllamaHost,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenAIBaseURL:    cfg.OpenAIBaseURL,
		AnthropicAPIKey:  cfg.AnthropicAPIKey,
		AnthropicBaseURL: cfg.AnthropicBaseURL,
	}

	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIClient(opts), nil
	case config.ProviderAnthropic:
		if opts.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("anthropic provider selected but ANTHROPIC_API_KEY not set")
		}
		return NewAnthropicClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
}

// Collect drains a stream into a single string and closes it.
func Collect(stream Stream) (string, error) {
	defer stream.Close()

	var sb strings.Builder
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(fragment)
	}
}

type textStream struct {
	fragments []string
	pos       int
}

// NewTextStream returns a Stream that yields the given fragments in order.
func NewTextStream(fragments ...string) Stream {
	return &textStream{fragments: fragments}
}

func (s *textStream) Recv() (string, error) {
	for s.pos < len(s.fragments) {
		fragment := s.fragments[s.pos]
		s.pos++
		if fragment != "" {
			return fragment, nil
		}
	}
	return "", io.EOF
}

func (s *textStream) Close() error {
	s.pos = len(s.fragments)
	return nil
}
