package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/rag-assistant/config"
)

var weatherTool = ToolDefinition{
	Name:        "get_current_weather",
	Description: "Get the current weather for a location",
	Parameters:  json.RawMessage(`{"type":"object","properties":{"location":{"type":"string"}},"required":["location"]}`),
}

func TestNewClient(t *testing.T) {
	t.Run("ollama needs no key", func(t *testing.T) {
		client, err := NewClient(config.Config{LLM: config.LLMConfig{Provider: config.ProviderOllama}})
		require.NoError(t, err)
		assert.NotNil(t, client)
	})

	t.Run("openai requires key", func(t *testing.T) {
		_, err := NewClient(config.Config{LLM: config.LLMConfig{Provider: config.ProviderOpenAI}})
		assert.ErrorContains(t, err, "OPENAI_API_KEY")
	})

	t.Run("anthropic requires key", func(t *testing.T) {
		_, err := NewClient(config.Config{LLM: config.LLMConfig{Provider: config.ProviderAnthropic}})
		assert.ErrorContains(t, err, "ANTHROPIC_API_KEY")
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewClient(config.Config{LLM: config.LLMConfig{Provider: "bogus"}})
		assert.ErrorContains(t, err, "unknown llm provider")
	})
}

func TestTextStreamAndCollect(t *testing.T) {
	stream := NewTextStream("Hello", "", ", world")

	first, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "Hello", first)

	rest, err := Collect(stream)
	require.NoError(t, err)
	assert.Equal(t, ", world", rest)

	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestProviderError(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", &ProviderError{Provider: "openai", Op: "generate", StatusCode: 429, Err: base})

	assert.True(t, IsProviderError(err))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "status 429")
	assert.False(t, IsProviderError(base))
}

func TestOpenAIClient(t *testing.T) {
	t.Run("generate returns tool calls", func(t *testing.T) {
		var captured map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/chat/completions", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"get_current_weather","arguments":"{\"location\":\"Paris\"}"}}]}}]}`)
		}))
		defer srv.Close()

		client := NewOpenAIClient(Options{OpenAIAPIKey: "test", OpenAIBaseURL: srv.URL + "/v1", Model: "gpt-test"})
		msg, err := client.Generate(context.Background(), []Message{{Role: RoleUser, Content: "weather?"}}, []ToolDefinition{weatherTool})
		require.NoError(t, err)

		require.Len(t, msg.ToolCalls, 1)
		assert.Equal(t, "call_1", msg.ToolCalls[0].ID)
		assert.Equal(t, "get_current_weather", msg.ToolCalls[0].Name)
		assert.JSONEq(t, `{"location":"Paris"}`, msg.ToolCalls[0].Arguments)
		assert.Len(t, captured["tools"], 1)
	})

	t.Run("stream yields deltas until done", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, part := range []string{"Hel", "lo"} {
				fmt.Fprintf(w, "data: {\"id\":\"s\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
			}
			_, _ = io.WriteString(w, "data: [DONE]\n\n")
		}))
		defer srv.Close()

		client := NewOpenAIClient(Options{OpenAIAPIKey: "test", OpenAIBaseURL: srv.URL + "/v1", Model: "gpt-test"})
		stream, err := client.GenerateStream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
		require.NoError(t, err)

		text, err := Collect(stream)
		require.NoError(t, err)
		assert.Equal(t, "Hello", text)
	})

	t.Run("api error carries status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
		}))
		defer srv.Close()

		client := NewOpenAIClient(Options{OpenAIAPIKey: "test", OpenAIBaseURL: srv.URL + "/v1", Model: "gpt-test"})
		_, err := client.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)

		var providerErr *ProviderError
		require.ErrorAs(t, err, &providerErr)
		assert.Equal(t, http.StatusUnauthorized, providerErr.StatusCode)
	})
}

func TestOllamaClient(t *testing.T) {
	t.Run("generate maps tool calls", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req ollamaChatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.False(t, req.Stream)
			assert.Len(t, req.Tools, 1)
			_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"get_current_weather","arguments":{"location":"Rome"}}}]},"done":true}`)
		}))
		defer srv.Close()

		client := NewOllamaClient(Options{OllamaHost: srv.URL, Model: "llama"})
		msg, err := client.Generate(context.Background(), []Message{{Role: RoleUser, Content: "weather?"}}, []ToolDefinition{weatherTool})
		require.NoError(t, err)

		require.Len(t, msg.ToolCalls, 1)
		assert.NotEmpty(t, msg.ToolCalls[0].ID)
		assert.JSONEq(t, `{"location":"Rome"}`, msg.ToolCalls[0].Arguments)
	})

	t.Run("stream decodes json lines", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"Good "},"done":false}`+"\n")
			_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"morning"},"done":false}`+"\n")
			_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":""},"done":true}`+"\n")
		}))
		defer srv.Close()

		client := NewOllamaClient(Options{OllamaHost: srv.URL, Model: "llama"})
		stream, err := client.GenerateStream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
		require.NoError(t, err)

		text, err := Collect(stream)
		require.NoError(t, err)
		assert.Equal(t, "Good morning", text)
	})

	t.Run("stream cut before done is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"The club meets on"},"done":false}`+"\n")
		}))
		defer srv.Close()

		client := NewOllamaClient(Options{OllamaHost: srv.URL, Model: "llama"})
		stream, err := client.GenerateStream(context.Background(), []Message{{Role: RoleUser, Content: "when?"}})
		require.NoError(t, err)

		text, err := Collect(stream)
		assert.Equal(t, "The club meets on", text)
		var providerErr *ProviderError
		require.ErrorAs(t, err, &providerErr)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("http error is provider error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}))
		defer srv.Close()

		client := NewOllamaClient(Options{OllamaHost: srv.URL, Model: "missing"})
		_, err := client.GenerateStream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})

		var providerErr *ProviderError
		require.ErrorAs(t, err, &providerErr)
		assert.Equal(t, http.StatusNotFound, providerErr.StatusCode)
		assert.Contains(t, err.Error(), "model not found")
	})
}

func TestAnthropicClient(t *testing.T) {
	t.Run("request folds system and tool turns", func(t *testing.T) {
		client := NewAnthropicClient(Options{AnthropicAPIKey: "k", Model: "claude"}).(*anthropicClient)
		payload := client.request([]Message{
			{Role: RoleSystem, Content: "be brief"},
			{Role: RoleUser, Content: "weather in Oslo?"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "tu_1", Name: "get_current_weather", Arguments: `{"location":"Oslo"}`}}},
			{Role: RoleTool, ToolCallID: "tu_1", Content: `{"temperature":40}`},
		})

		assert.Equal(t, "be brief", payload.System)
		require.Len(t, payload.Messages, 3)
		assert.Equal(t, "tool_use", payload.Messages[1].Content[0].Type)
		assert.Equal(t, RoleUser, payload.Messages[2].Role)
		assert.Equal(t, "tool_result", payload.Messages[2].Content[0].Type)
		assert.Equal(t, "tu_1", payload.Messages[2].Content[0].ToolUseID)
	})

	t.Run("generate parses tool use", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "k", r.Header.Get("x-api-key"))
			assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
			_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"Checking."},{"type":"tool_use","id":"tu_1","name":"get_current_weather","input":{"location":"Oslo"}}]}`)
		}))
		defer srv.Close()

		client := NewAnthropicClient(Options{AnthropicAPIKey: "k", AnthropicBaseURL: srv.URL, Model: "claude"})
		msg, err := client.Generate(context.Background(), []Message{{Role: RoleUser, Content: "weather?"}}, []ToolDefinition{weatherTool})
		require.NoError(t, err)

		assert.Equal(t, "Checking.", msg.Content)
		require.Len(t, msg.ToolCalls, 1)
		assert.Equal(t, "tu_1", msg.ToolCalls[0].ID)
		assert.JSONEq(t, `{"location":"Oslo"}`, msg.ToolCalls[0].Arguments)
	})

	t.Run("stream reads text deltas", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = io.WriteString(w, "event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
			_, _ = io.WriteString(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hi \"}}\n\n")
			_, _ = io.WriteString(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"there\"}}\n\n")
			_, _ = io.WriteString(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
		}))
		defer srv.Close()

		client := NewAnthropicClient(Options{AnthropicAPIKey: "k", AnthropicBaseURL: srv.URL, Model: "claude"})
		stream, err := client.GenerateStream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
		require.NoError(t, err)

		text, err := Collect(stream)
		require.NoError(t, err)
		assert.Equal(t, "Hi there", text)
	})

	t.Run("stream cut before message_stop is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = io.WriteString(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"The club meets on\"}}\n\n")
		}))
		defer srv.Close()

		client := NewAnthropicClient(Options{AnthropicAPIKey: "k", AnthropicBaseURL: srv.URL, Model: "claude"})
		stream, err := client.GenerateStream(context.Background(), []Message{{Role: RoleUser, Content: "when?"}})
		require.NoError(t, err)

		text, err := Collect(stream)
		assert.Equal(t, "The club meets on", text)
		var providerErr *ProviderError
		require.ErrorAs(t, err, &providerErr)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
		}))
		defer srv.Close()

		client := NewAnthropicClient(Options{AnthropicAPIKey: "k", AnthropicBaseURL: srv.URL, Model: "claude"})
		_, err := client.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)

		var providerErr *ProviderError
		require.ErrorAs(t, err, &providerErr)
		assert.Equal(t, http.StatusTooManyRequests, providerErr.StatusCode)
		assert.Contains(t, err.Error(), "slow down")
	})
}
