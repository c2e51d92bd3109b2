package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	anthropicMaxTokens      = 1024
)

type anthropicClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicResponse struct {
	Content []anthropicBlock `json:"content"`
	Error   *anthropicError  `json:"error,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *anthropicError `json:"error,omitempty"`
}

func NewAnthropicClient(opts Options) Client {
	baseURL := strings.TrimRight(opts.AnthropicBaseURL, "/")
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}

	return &anthropicClient{
		baseURL: baseURL,
		apiKey:  opts.AnthropicAPIKey,
		model:   opts.Model,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (c *anthropicClient) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (Message, error) {
	payload := c.request(messages)
	for _, tool := range tools {
		payload.Tools = append(payload.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}

	resp, err := c.post(ctx, "generate", payload)
	if err != nil {
		return Message{}, err
	}
	defer resp.Body.Close()

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Message{}, &ProviderError{Provider: "anthropic", Op: "generate", Err: fmt.Errorf("decode response: %w", err)}
	}
	if parsed.Error != nil {
		return Message{}, &ProviderError{Provider: "anthropic", Op: "generate", Err: errors.New(parsed.Error.Message)}
	}

	out := Message{Role: RoleAssistant}
	var text strings.Builder
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	out.Content = text.String()
	return out, nil
}

func (c *anthropicClient) GenerateStream(ctx context.Context, messages []Message) (Stream, error) {
	payload := c.request(messages)
	payload.Stream = true

	resp, err := c.post(ctx, "stream", payload)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &anthropicStream{body: resp.Body, scanner: scanner}, nil
}

// request splits out system messages and folds the rest into alternating
// content-block messages, mapping tool results onto user turns.
func (c *anthropicClient) request(messages []Message) anthropicRequest {
	payload := anthropicRequest{Model: c.model, MaxTokens: anthropicMaxTokens}

	var system []string
	for _, msg := range messages {
		var role string
		var blocks []anthropicBlock

		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.Content)
			continue
		case RoleTool:
			role = RoleUser
			blocks = []anthropicBlock{{Type: "tool_result", ToolUseID: msg.ToolCallID, Content: msg.Content}}
		case RoleAssistant:
			role = RoleAssistant
			if msg.Content != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				input := json.RawMessage(call.Arguments)
				if !json.Valid(input) {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropicBlock{Type: "tool_use", ID: call.ID, Name: call.Name, Input: input})
			}
		default:
			role = RoleUser
			blocks = []anthropicBlock{{Type: "text", Text: msg.Content}}
		}

		if len(blocks) == 0 {
			continue
		}
		if n := len(payload.Messages); n > 0 && payload.Messages[n-1].Role == role {
			payload.Messages[n-1].Content = append(payload.Messages[n-1].Content, blocks...)
			continue
		}
		payload.Messages = append(payload.Messages, anthropicMessage{Role: role, Content: blocks})
	}

	payload.System = strings.Join(system, "\n\n")
	return payload
}

func (c *anthropicClient) post(ctx context.Context, op string, payload anthropicRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: "anthropic", Op: op, Err: fmt.Errorf("send request: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(data))
		var parsed anthropicResponse
		if json.Unmarshal(data, &parsed) == nil && parsed.Error != nil {
			msg = parsed.Error.Message
		}
		if msg == "" {
			msg = resp.Status
		}
		return nil, &ProviderError{Provider: "anthropic", Op: op, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	return resp, nil
}

type anthropicStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func (s *anthropicStream) Recv() (string, error) {
	for !s.done && s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return "", &ProviderError{Provider: "anthropic", Op: "stream", Err: fmt.Errorf("decode stream event: %w", err)}
		}

		switch event.Type {
		case "content_block_delta":
			if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				return event.Delta.Text, nil
			}
		case "message_stop":
			s.done = true
		case "error":
			msg := "stream error"
			if event.Error != nil {
				msg = event.Error.Message
			}
			return "", &ProviderError{Provider: "anthropic", Op: "stream", Err: errors.New(msg)}
		}
	}

	if s.done {
		return "", io.EOF
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return "", &ProviderError{Provider: "anthropic", Op: "stream", Err: err}
	}
	return "", &ProviderError{Provider: "anthropic", Op: "stream", Err: fmt.Errorf("stream ended before message_stop: %w", io.ErrUnexpectedEOF)}
}

func (s *anthropicStream) Close() error {
	s.done = true
	return s.body.Close()
}

var _ Client = (*anthropicClient)(nil)
