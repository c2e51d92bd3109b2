package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ollamaClient struct {
	host   string
	model  string
	client *http.Client
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Tools    []ollamaTool        `json:"tools,omitempty"`
	Stream   bool                `json:"stream"`
}

type ollamaChatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunctionCall `json:"function"`
}

type ollamaFunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
	Error   string            `json:"error"`
}

func NewOllamaClient(opts Options) Client {
	host := strings.TrimRight(opts.OllamaHost, "/")
	if host == "" {
		host = "http://localhost:11434"
	}

	return &ollamaClient{
		host:  host,
		model: opts.Model,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (c *ollamaClient) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (Message, error) {
	payload := ollamaChatRequest{
		Model:    c.model,
		Messages: toOllamaMessages(messages),
		Tools:    toOllamaTools(tools),
		Stream:   false,
	}

	resp, err := c.post(ctx, "generate", payload)
	if err != nil {
		return Message{}, err
	}
	defer resp.Body.Close()

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Message{}, &ProviderError{Provider: "ollama", Op: "generate", Err: fmt.Errorf("decode ollama response: %w", err)}
	}

	if parsed.Error != "" {
		return Message{}, &ProviderError{Provider: "ollama", Op: "generate", Err: errors.New(parsed.Error)}
	}

	out := Message{Role: RoleAssistant, Content: parsed.Message.Content}
	for _, call := range parsed.Message.ToolCalls {
		args := strings.TrimSpace(string(call.Function.Arguments))
		if args == "" || args == "null" {
			args = "{}"
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        "call_" + uuid.NewString(),
			Name:      call.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

func (c *ollamaClient) GenerateStream(ctx context.Context, messages []Message) (Stream, error) {
	payload := ollamaChatRequest{
		Model:    c.model,
		Messages: toOllamaMessages(messages),
		Stream:   true,
	}

	resp, err := c.post(ctx, "stream", payload)
	if err != nil {
		return nil, err
	}

	return &ollamaStream{body: resp.Body, dec: json.NewDecoder(resp.Body)}, nil
}

func (c *ollamaClient) post(ctx context.Context, op string, payload ollamaChatRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: "ollama", Op: op, Err: fmt.Errorf("call ollama chat API: %w", err)}
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return nil, &ProviderError{Provider: "ollama", Op: op, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	return resp, nil
}

type ollamaStream struct {
	body io.ReadCloser
	dec  *json.Decoder
	done bool
}

func (s *ollamaStream) Recv() (string, error) {
	for !s.done {
		var chunk ollamaChatResponse
		if err := s.dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				return "", &ProviderError{Provider: "ollama", Op: "stream", Err: fmt.Errorf("stream ended before done: %w", io.ErrUnexpectedEOF)}
			}
			return "", &ProviderError{Provider: "ollama", Op: "stream", Err: fmt.Errorf("decode ollama stream response: %w", err)}
		}

		if chunk.Error != "" {
			return "", &ProviderError{Provider: "ollama", Op: "stream", Err: errors.New(chunk.Error)}
		}

		s.done = chunk.Done
		if chunk.Message.Content != "" {
			return chunk.Message.Content, nil
		}
	}
	return "", io.EOF
}

func (s *ollamaStream) Close() error {
	s.done = true
	return s.body.Close()
}

func toOllamaMessages(messages []Message) []ollamaChatMessage {
	if len(messages) == 0 {
		return nil
	}
	converted := make([]ollamaChatMessage, len(messages))
	for i, msg := range messages {
		converted[i] = ollamaChatMessage{Role: msg.Role, Content: msg.Content}
		for _, call := range msg.ToolCalls {
			args := json.RawMessage(call.Arguments)
			if !json.Valid(args) {
				args = json.RawMessage("{}")
			}
			converted[i].ToolCalls = append(converted[i].ToolCalls, ollamaToolCall{
				Function: ollamaFunctionCall{Name: call.Name, Arguments: args},
			})
		}
	}
	return converted
}

func toOllamaTools(tools []ToolDefinition) []ollamaTool {
	if len(tools) == 0 {
		return nil
	}
	converted := make([]ollamaTool, len(tools))
	for i, tool := range tools {
		converted[i] = ollamaTool{
			Type: "function",
			Function: ollamaToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		}
	}
	return converted
}

var _ Client = (*ollamaClient)(nil)
