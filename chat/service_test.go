package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/rag-assistant/config"
	"github.com/fabfab/rag-assistant/conversation"
	"github.com/fabfab/rag-assistant/knowledge"
	"github.com/fabfab/rag-assistant/llm"
	"github.com/fabfab/rag-assistant/tools"
	"github.com/fabfab/rag-assistant/vectorstore"
)

type generateCall struct {
	messages []llm.Message
	tools    []llm.ToolDefinition
}

type scriptedLLM struct {
	generated []llm.Message
	genErr    error
	fragments [][]string
	streamErr error
	midErr    error

	generateCalls []generateCall
	streamCalls   [][]llm.Message
}

func (s *scriptedLLM) Generate(_ context.Context, messages []llm.Message, defs []llm.ToolDefinition) (llm.Message, error) {
	s.generateCalls = append(s.generateCalls, generateCall{messages: append([]llm.Message(nil), messages...), tools: defs})
	if s.genErr != nil {
		return llm.Message{}, s.genErr
	}
	resp := s.generated[0]
	s.generated = s.generated[1:]
	return resp, nil
}

func (s *scriptedLLM) GenerateStream(_ context.Context, messages []llm.Message) (llm.Stream, error) {
	s.streamCalls = append(s.streamCalls, append([]llm.Message(nil), messages...))
	if s.streamErr != nil {
		return nil, s.streamErr
	}
	var fragments []string
	if len(s.fragments) > 0 {
		fragments = s.fragments[0]
		s.fragments = s.fragments[1:]
	}
	if s.midErr != nil {
		return &failingStream{fragments: fragments, err: s.midErr}, nil
	}
	return llm.NewTextStream(fragments...), nil
}

func (s *scriptedLLM) modelCalls() int {
	return len(s.generateCalls) + len(s.streamCalls)
}

type failingStream struct {
	fragments []string
	err       error
}

func (f *failingStream) Recv() (string, error) {
	if len(f.fragments) == 0 {
		return "", f.err
	}
	next := f.fragments[0]
	f.fragments = f.fragments[1:]
	return next, nil
}

func (f *failingStream) Close() error { return nil }

type fakeRetriever struct {
	matches []vectorstore.Match
	err     error
	calls   int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, k int) ([]vectorstore.Match, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.matches) > k {
		return f.matches[:k], nil
	}
	return f.matches, nil
}

type fakeExecutor struct {
	result tools.Result
	err    error
	calls  []tools.Call
}

func (f *fakeExecutor) Execute(_ context.Context, call tools.Call) (tools.Result, error) {
	f.calls = append(f.calls, call)
	return f.result, f.err
}

type fakeInsights struct{}

func (fakeInsights) DocumentInsights(_ context.Context, ids []string) (map[string]knowledge.Insight, error) {
	out := make(map[string]knowledge.Insight, len(ids))
	for _, id := range ids {
		out[id] = knowledge.Insight{Title: strings.ToUpper(id), ChunkCount: 2}
	}
	return out, nil
}

func mustProfile(t *testing.T, name string) Profile {
	t.Helper()
	p, err := LookupProfile(name)
	require.NoError(t, err)
	return p
}

func TestAskEagerGroundsPreamble(t *testing.T) {
	model := &scriptedLLM{fragments: [][]string{{"Chess ", "Club meets weekly."}}}
	retriever := &fakeRetriever{matches: []vectorstore.Match{
		{ID: "chess_identity", DocumentID: "chess", Text: "Organization: Chess Club", Distance: 0.1},
		{ID: "chess_contact", DocumentID: "chess", Text: "Email: chess@syr.edu", Distance: 0.2},
		{ID: "go_identity", DocumentID: "go", Text: "Organization: Go Club", Distance: 0.3},
	}}
	svc := NewService(model, retriever, nil, fakeInsights{}, nil)
	state := conversation.NewBuffer(orgsInstructions)

	turn, err := svc.Ask(context.Background(), state, mustProfile(t, "orgs"), "  When does chess club meet?  ")
	require.NoError(t, err)
	assert.Zero(t, state.Len(), "nothing is committed before the stream is drained")

	answer, err := Drain(turn)
	require.NoError(t, err)
	assert.Equal(t, "Chess Club meets weekly.", answer)
	assert.True(t, turn.Committed())

	require.Len(t, model.streamCalls, 1)
	assert.Empty(t, model.generateCalls)
	sent := model.streamCalls[0]
	require.Len(t, sent, 2)
	assert.Equal(t, llm.RoleSystem, sent[0].Role)
	assert.Contains(t, sent[0].Content, "Retrieved context:\nOrganization: Chess Club\n\n---\n\nEmail: chess@syr.edu\n\n---\n\nOrganization: Go Club")
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "When does chess club meet?"}, sent[1])

	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "When does chess club meet?"},
		{Role: llm.RoleAssistant, Content: "Chess Club meets weekly."},
	}, state.Messages())

	sources := turn.Sources()
	require.Len(t, sources, 2)
	assert.Equal(t, "chess", sources[0].DocumentID)
	assert.Equal(t, []string{"chess_identity", "chess_contact"}, sources[0].ChunkIDs)
	assert.Equal(t, "CHESS", sources[0].Insight.Title)
	assert.Equal(t, "go", sources[1].DocumentID)
}

func TestAskEagerEmptyStoreDegrades(t *testing.T) {
	model := &scriptedLLM{fragments: [][]string{{"I don't know."}}}
	svc := NewService(model, &fakeRetriever{}, nil, nil, nil)
	state := conversation.NewBuffer("instructions")

	turn, err := svc.Ask(context.Background(), state, mustProfile(t, "orgs"), "anything?")
	require.NoError(t, err)
	_, err = Drain(turn)
	require.NoError(t, err)

	assert.Equal(t, "instructions", model.streamCalls[0][0].Content)
	assert.Empty(t, turn.Sources())
	assert.Equal(t, 2, state.Len())
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	model := &scriptedLLM{}
	svc := NewService(model, nil, nil, nil, nil)
	_, err := svc.Ask(context.Background(), conversation.NewBuffer(""), mustProfile(t, "tutor"), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
	assert.Zero(t, model.modelCalls())
}

func TestAskWindowLimitsHistory(t *testing.T) {
	model := &scriptedLLM{fragments: [][]string{{"ok"}}}
	svc := NewService(model, nil, nil, nil, nil)
	state := conversation.NewBuffer("tutor")
	for i := 0; i < 6; i++ {
		state.Append(llm.Message{Role: llm.RoleUser, Content: "old"}, llm.Message{Role: llm.RoleAssistant, Content: "reply"})
	}

	turn, err := svc.Ask(context.Background(), state, mustProfile(t, "tutor"), "new")
	require.NoError(t, err)
	_, err = Drain(turn)
	require.NoError(t, err)

	sent := model.streamCalls[0]
	require.Len(t, sent, 1+4)
	assert.Equal(t, llm.RoleSystem, sent[0].Role)
	assert.Equal(t, "new", sent[4].Content)
	assert.Equal(t, 14, state.Len())
}

func TestAskContextBlocksSurviveWindow(t *testing.T) {
	model := &scriptedLLM{fragments: [][]string{{"a"}, {"b"}, {"c"}}}
	svc := NewService(model, nil, nil, nil, nil)
	state := conversation.NewBuffer("You are a helpful assistant.")
	state.SetContext("URL 1", "The museum opens at 9am.")
	profile := mustProfile(t, "web")
	profile.Window = 2

	for _, q := range []string{"first", "second", "third"} {
		turn, err := svc.Ask(context.Background(), state, profile, q)
		require.NoError(t, err)
		_, err = Drain(turn)
		require.NoError(t, err)
	}

	last := model.streamCalls[2]
	require.Len(t, last, 3)
	assert.Contains(t, last[0].Content, "Context from URL 1:\nThe museum opens at 9am.")
	assert.Equal(t, "b", last[1].Content)
	assert.Equal(t, "third", last[2].Content)
}

func TestAskAgenticSingleToolRound(t *testing.T) {
	model := &scriptedLLM{
		generated: []llm.Message{{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{
				{ID: "call_1", Name: tools.OrgSearchName, Arguments: `{"query":"robotics"}`},
				{ID: "call_2", Name: tools.WeatherName, Arguments: `{}`},
			},
		}},
		fragments: [][]string{{"Robotics Club builds robots."}},
	}
	executor := &fakeExecutor{result: tools.Result{
		Content: "Organization: Robotics Club",
		Sources: []vectorstore.Match{{ID: "robotics_identity", DocumentID: "robotics", Text: "Organization: Robotics Club"}},
	}}
	svc := NewService(model, nil, executor, nil, nil)
	state := conversation.NewBuffer("agent")

	turn, err := svc.Ask(context.Background(), state, mustProfile(t, "orgs-agent"), "robotics clubs?")
	require.NoError(t, err)
	answer, err := Drain(turn)
	require.NoError(t, err)
	assert.Equal(t, "Robotics Club builds robots.", answer)

	assert.Equal(t, 2, model.modelCalls())
	require.Len(t, executor.calls, 1)
	assert.Equal(t, tools.KindOrgSearch, executor.calls[0].Kind)
	assert.Equal(t, "robotics", executor.calls[0].OrgSearch.Query)

	require.Len(t, model.generateCalls, 1)
	assert.Len(t, model.generateCalls[0].tools, 2)

	followUp := model.streamCalls[0]
	require.Len(t, followUp, 4)
	assert.Equal(t, llm.RoleAssistant, followUp[2].Role)
	require.Len(t, followUp[2].ToolCalls, 1)
	assert.Equal(t, "call_1", followUp[2].ToolCalls[0].ID)
	assert.Equal(t, llm.Message{Role: llm.RoleTool, Content: "Organization: Robotics Club", ToolCallID: "call_1"}, followUp[3])

	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "robotics clubs?"},
		{Role: llm.RoleAssistant, Content: "Robotics Club builds robots."},
	}, state.Messages())
	require.Len(t, turn.Sources(), 1)
	assert.Equal(t, "robotics", turn.Sources()[0].DocumentID)
}

func TestAskAgenticWithoutToolCall(t *testing.T) {
	model := &scriptedLLM{generated: []llm.Message{{Role: llm.RoleAssistant, Content: "Hello there!"}}}
	executor := &fakeExecutor{}
	svc := NewService(model, nil, executor, nil, nil)
	state := conversation.NewBuffer("")

	turn, err := svc.Ask(context.Background(), state, mustProfile(t, "weather"), "hi")
	require.NoError(t, err)
	answer, err := Drain(turn)
	require.NoError(t, err)

	assert.Equal(t, "Hello there!", answer)
	assert.Equal(t, 1, model.modelCalls())
	assert.Empty(t, executor.calls)
	assert.Equal(t, 2, state.Len())
}

func TestAskToolErrorIsReadable(t *testing.T) {
	model := &scriptedLLM{generated: []llm.Message{{
		Role:      llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{{ID: "call_1", Name: tools.WeatherName, Arguments: `{"location":"Atlantis"}`}},
	}}}
	executor := &fakeExecutor{err: &tools.ToolError{Kind: tools.KindWeather, Err: tools.ErrLocationNotFound}}
	svc := NewService(model, nil, executor, nil, nil)
	state := conversation.NewBuffer("")

	turn, err := svc.Ask(context.Background(), state, mustProfile(t, "weather"), "weather in Atlantis?")
	require.NoError(t, err)
	answer, err := Drain(turn)
	require.NoError(t, err)

	assert.Equal(t, "Sorry, I couldn't complete that request: location not found", answer)
	assert.Equal(t, 1, model.modelCalls())

	last, ok := state.Last()
	require.True(t, ok)
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.Equal(t, 1, state.Len())
}

func TestAskUnknownToolIsReadable(t *testing.T) {
	model := &scriptedLLM{generated: []llm.Message{{
		Role:      llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{{ID: "x", Name: "delete_everything", Arguments: `{}`}},
	}}}
	svc := NewService(model, nil, &fakeExecutor{}, nil, nil)

	turn, err := svc.Ask(context.Background(), conversation.NewBuffer(""), mustProfile(t, "orgs-agent"), "go")
	require.NoError(t, err)
	answer, err := Drain(turn)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(answer, "Sorry, I couldn't complete that request: "))
}

func TestAskProviderErrorLeavesStateUnchanged(t *testing.T) {
	providerErr := &llm.ProviderError{Provider: "openai", Op: "stream", StatusCode: 500, Err: errors.New("upstream down")}
	state := conversation.NewBuffer("")
	state.Append(llm.Message{Role: llm.RoleUser, Content: "earlier"}, llm.Message{Role: llm.RoleAssistant, Content: "reply"})
	before := state.Messages()

	svc := NewService(&scriptedLLM{streamErr: providerErr}, nil, nil, nil, nil)
	_, err := svc.Ask(context.Background(), state, mustProfile(t, "tutor"), "question")
	require.Error(t, err)
	assert.True(t, llm.IsProviderError(err))
	assert.Equal(t, before, state.Messages())

	svc = NewService(&scriptedLLM{genErr: providerErr}, nil, nil, nil, nil)
	_, err = svc.Ask(context.Background(), state, mustProfile(t, "weather"), "question")
	require.Error(t, err)
	assert.Equal(t, before, state.Messages())

	svc = NewService(&scriptedLLM{fragments: [][]string{{"partial "}}, midErr: providerErr}, nil, nil, nil, nil)
	turn, err := svc.Ask(context.Background(), state, mustProfile(t, "tutor"), "question")
	require.NoError(t, err)
	_, err = Drain(turn)
	require.Error(t, err)
	assert.True(t, llm.IsProviderError(err))
	assert.Equal(t, "partial ", turn.Text())
	assert.False(t, turn.Committed())
	assert.Equal(t, before, state.Messages())

	svc = NewService(&scriptedLLM{}, &fakeRetriever{err: providerErr}, nil, nil, nil)
	_, err = svc.Ask(context.Background(), state, mustProfile(t, "orgs"), "question")
	require.Error(t, err)
	assert.Equal(t, before, state.Messages())
}

func TestTurnCloseBeforeExhaustionCommitsNothing(t *testing.T) {
	svc := NewService(&scriptedLLM{fragments: [][]string{{"one ", "two"}}}, nil, nil, nil, nil)
	state := conversation.NewBuffer("")

	turn, err := svc.Ask(context.Background(), state, mustProfile(t, "tutor"), "count")
	require.NoError(t, err)
	fragment, err := turn.Recv()
	require.NoError(t, err)
	assert.Equal(t, "one ", fragment)

	require.NoError(t, turn.Close())
	_, err = turn.Recv()
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, state.Len())
	assert.NoError(t, turn.Close())
}

func TestLookupProfile(t *testing.T) {
	p, err := LookupProfile("")
	require.NoError(t, err)
	assert.Equal(t, DefaultProfile, p.Name)
	assert.Equal(t, ModeEager, p.Mode)
	assert.Equal(t, 10, p.Window)
	assert.Equal(t, 5, p.TopK)

	_, err = LookupProfile("pirate")
	assert.ErrorIs(t, err, ErrUnknownProfile)

	names := make([]string, 0)
	for _, profile := range Profiles() {
		names = append(names, profile.Name)
	}
	assert.Equal(t, []string{"orgs", "orgs-agent", "tutor", "weather", "web"}, names)

	web := mustProfile(t, "web")
	assert.True(t, web.AllowURLContext)
	assert.Equal(t, 6, web.Window)
	assert.Equal(t, "agentic", mustProfile(t, "weather").Mode.String())
}

func TestResolveProfile(t *testing.T) {
	p, err := ResolveProfile("", config.ChatConfig{Profile: "tutor", TopK: 3})
	require.NoError(t, err)
	assert.Equal(t, "tutor", p.Name)
	assert.Zero(t, p.TopK, "profiles without retrieval keep a zero top-k")

	p, err = ResolveProfile("orgs", config.ChatConfig{TopK: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, p.TopK)

	p, err = ResolveProfile("", config.ChatConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultProfile, p.Name)
	assert.Equal(t, 5, p.TopK)

	_, err = ResolveProfile("pirate", config.ChatConfig{TopK: 2})
	assert.ErrorIs(t, err, ErrUnknownProfile)
}
