// Package chat runs conversation turns: it assembles the outgoing request from
// a session's buffer, grounds it by retrieval or a single tool round, and
// streams the answer back through a Turn.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fabfab/rag-assistant/conversation"
	"github.com/fabfab/rag-assistant/knowledge"
	"github.com/fabfab/rag-assistant/llm"
	"github.com/fabfab/rag-assistant/logging"
	"github.com/fabfab/rag-assistant/retrieval"
	"github.com/fabfab/rag-assistant/tools"
	"github.com/fabfab/rag-assistant/vectorstore"
)

var ErrEmptyQuestion = errors.New("question cannot be empty")

type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]vectorstore.Match, error)
}

type ToolExecutor interface {
	Execute(ctx context.Context, call tools.Call) (tools.Result, error)
}

// InsightSource enriches sources with graph metadata.
type InsightSource interface {
	DocumentInsights(ctx context.Context, docIDs []string) (map[string]knowledge.Insight, error)
}

type Service struct {
	llm       llm.Client
	retriever Retriever
	executor  ToolExecutor
	insights  InsightSource
	logger    *zap.Logger
}

// NewService wires the orchestrator. retriever, executor and insights may be
// nil when no profile in use needs them.
func NewService(client llm.Client, retriever Retriever, executor ToolExecutor, insights InsightSource, logger *zap.Logger) *Service {
	return &Service{
		llm:       client,
		retriever: retriever,
		executor:  executor,
		insights:  insights,
		logger:    logging.OrNop(logger),
	}
}

// Ask starts a turn. Nothing is written to state until the returned Turn is
// read to io.EOF; any error from Ask leaves state untouched.
func (s *Service) Ask(ctx context.Context, state *conversation.Buffer, profile Profile, question string) (*Turn, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if s.llm == nil {
		return nil, fmt.Errorf("llm client is not configured")
	}

	pending := llm.Message{Role: llm.RoleUser, Content: question}
	logger := s.logger.With(zap.String("profile", profile.Name), zap.Stringer("mode", profile.Mode))

	var (
		retrieved string
		matches   []vectorstore.Match
	)
	if profile.Mode == ModeEager {
		if s.retriever == nil {
			return nil, fmt.Errorf("retriever is not configured")
		}
		var err error
		matches, err = s.retriever.Retrieve(ctx, question, profile.TopK)
		if err != nil {
			return nil, fmt.Errorf("retrieve context: %w", err)
		}
		if len(matches) == 0 {
			logger.Info("no context available for question, answering without grounding")
		}
		retrieved = retrieval.JoinContext(matches)
	}

	messages := make([]llm.Message, 0, profile.Window+3)
	messages = append(messages, state.Preamble(retrieved))
	messages = append(messages, history(state, profile.Window)...)
	messages = append(messages, pending)

	var definitions []llm.ToolDefinition
	if profile.Mode == ModeAgentic {
		definitions = tools.Definitions(profile.Tools...)
	}

	if len(definitions) == 0 {
		stream, err := s.llm.GenerateStream(ctx, messages)
		if err != nil {
			return nil, fmt.Errorf("llm stream generate: %w", err)
		}
		return s.newTurn(ctx, state, pending, stream, matches), nil
	}

	resp, err := s.llm.Generate(ctx, messages, definitions)
	if err != nil {
		return nil, fmt.Errorf("llm generate: %w", err)
	}
	if len(resp.ToolCalls) == 0 {
		return s.newTurn(ctx, state, pending, llm.NewTextStream(resp.Content), nil), nil
	}

	if len(resp.ToolCalls) > 1 {
		logger.Debug("model requested several tool calls, resolving the first", zap.Int("calls", len(resp.ToolCalls)))
	}
	toolCall := resp.ToolCalls[0]

	result, err := s.runTool(ctx, toolCall)
	if err != nil {
		logger.Warn("tool call failed", zap.String("tool", toolCall.Name), zap.Error(err))
		turn := s.newTurn(ctx, state, pending, llm.NewTextStream(tools.UserMessage(err)), nil)
		turn.userOnly = true
		return turn, nil
	}
	logger.Debug("tool call resolved", zap.String("tool", toolCall.Name), zap.Int("result_chars", len(result.Content)))

	messages = append(messages,
		llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: []llm.ToolCall{toolCall}},
		llm.Message{Role: llm.RoleTool, Content: result.Content, ToolCallID: toolCall.ID},
	)

	stream, err := s.llm.GenerateStream(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("llm stream generate: %w", err)
	}
	return s.newTurn(ctx, state, pending, stream, result.Sources), nil
}

func (s *Service) runTool(ctx context.Context, toolCall llm.ToolCall) (tools.Result, error) {
	call, err := tools.ParseCall(toolCall)
	if err != nil {
		return tools.Result{}, err
	}
	if s.executor == nil {
		return tools.Result{}, &tools.ToolError{Kind: call.Kind, Err: tools.ErrToolNotConfigured}
	}
	return s.executor.Execute(ctx, call)
}

func (s *Service) newTurn(ctx context.Context, state *conversation.Buffer, pending llm.Message, stream llm.Stream, matches []vectorstore.Match) *Turn {
	return &Turn{
		state:   state,
		pending: pending,
		stream:  stream,
		sources: s.buildSources(ctx, matches),
	}
}

// history returns the committed messages that fit in a window of size
// window once the pending user message is added.
func history(state *conversation.Buffer, window int) []llm.Message {
	switch {
	case window <= 0:
		return state.Messages()
	case window == 1:
		return nil
	default:
		return state.Window(window - 1)
	}
}
