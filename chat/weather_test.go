package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/rag-assistant/conversation"
	"github.com/fabfab/rag-assistant/llm"
	"github.com/fabfab/rag-assistant/tools"
)

func TestAskWeatherNotFoundFromProvider(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "Atlantis", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"cod":"404","message":"city not found"}`))
	}))
	defer srv.Close()

	weather := tools.NewWeatherClient(tools.WeatherOptions{APIKey: "k", BaseURL: srv.URL, RequestsPerSecond: 100})
	executor := tools.NewExecutor(nil, weather, 0, nil)
	model := &scriptedLLM{generated: []llm.Message{{
		Role:      llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{{ID: "call_1", Name: tools.WeatherName, Arguments: `{"location":"Atlantis"}`}},
	}}}
	svc := NewService(model, nil, executor, nil, nil)
	state := conversation.NewBuffer("")

	turn, err := svc.Ask(context.Background(), state, mustProfile(t, "weather"), "what should I wear in Atlantis?")
	require.NoError(t, err)
	answer, err := Drain(turn)
	require.NoError(t, err)

	assert.Equal(t, "Sorry, I couldn't complete that request: location not found: city not found", answer)
	assert.Equal(t, int32(1), requests.Load())
	assert.Equal(t, 1, model.modelCalls())
	assert.Equal(t, 1, state.Len())
	assert.Empty(t, turn.Sources())
}
