package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatedhealth/missionengine/internal/domain"
	"github.com/curatedhealth/missionengine/internal/expert"
)

func testRequest() domain.ExpertRequest {
	return domain.ExpertRequest{
		RequestID: "m1/0/pharma",
		MissionID: "m1",
		Question:  "What is the maximum daily dose?",
		Context:   "patient weight 70kg",
	}
}

func TestUserPrompt(t *testing.T) {
	prompt := userPrompt(testRequest())
	assert.True(t, strings.HasPrefix(prompt, "What is the maximum daily dose?"))
	assert.Contains(t, prompt, "patient weight 70kg")

	assert.Equal(t, "q", userPrompt(domain.ExpertRequest{Question: "q"}))
}

func TestFactoriesCoverBackends(t *testing.T) {
	factories := Factories()
	for _, backend := range []string{expert.BackendAnthropic, expert.BackendOpenAI, expert.BackendGemini, expert.BackendOllama} {
		assert.Contains(t, factories, backend)
	}
}

// captureServer answers requests ending in pathSuffix and records their JSON body.
func captureServer(t *testing.T, pathSuffix, response string, body *map[string]interface{}) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, pathSuffix) {
			http.NotFound(w, r)
			return
		}
		data, err := io.ReadAll(r.Body)
		if err == nil {
			_ = json.Unmarshal(data, body)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, response)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestAnthropicExpertCall(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-test")
	var body map[string]interface{}
	server := captureServer(t, "/messages", `{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-test",
		"content": [{"type": "text", "text": "Up to 4g per day."}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 12, "output_tokens": 7}
	}`, &body)

	caller, err := NewAnthropicExpert(expert.Definition{
		ID:           "pharma",
		Backend:      expert.BackendAnthropic,
		Endpoint:     server.URL,
		Model:        "claude-test",
		SystemPrompt: "You are a pharmacologist.",
		APIKeyEnv:    "TEST_ANTHROPIC_KEY",
	})
	require.NoError(t, err)

	resp, err := caller.Call(context.Background(), "pharma", testRequest())
	require.NoError(t, err)
	assert.Equal(t, "Up to 4g per day.", resp.Content)
	assert.JSONEq(t, `{"input_tokens":12,"output_tokens":7}`, string(resp.Usage))
	assert.Equal(t, "claude-test", body["model"])
}

func TestOpenAIExpertCall(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test")
	var body map[string]interface{}
	server := captureServer(t, "/chat/completions", `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1700000000,
		"model": "gpt-test",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "Four grams."}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 20, "completion_tokens": 3, "total_tokens": 23}
	}`, &body)

	caller, err := NewOpenAIExpert(expert.Definition{
		ID:           "pharma",
		Backend:      expert.BackendOpenAI,
		Endpoint:     server.URL,
		Model:        "gpt-test",
		SystemPrompt: "You are a pharmacologist.",
		APIKeyEnv:    "TEST_OPENAI_KEY",
	})
	require.NoError(t, err)

	resp, err := caller.Call(context.Background(), "pharma", testRequest())
	require.NoError(t, err)
	assert.Equal(t, "Four grams.", resp.Content)
	assert.JSONEq(t, `{"input_tokens":20,"output_tokens":3}`, string(resp.Usage))

	messages, ok := body["messages"].([]interface{})
	require.True(t, ok)
	assert.Len(t, messages, 2)
}

func TestOpenAIExpertEmptyChoices(t *testing.T) {
	var body map[string]interface{}
	server := captureServer(t, "/chat/completions", `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1700000000,
		"model": "gpt-test",
		"choices": []
	}`, &body)

	t.Setenv("TEST_OPENAI_KEY", "sk-test")
	caller, err := NewOpenAIExpert(expert.Definition{ID: "pharma", Endpoint: server.URL, APIKeyEnv: "TEST_OPENAI_KEY"})
	require.NoError(t, err)

	_, err = caller.Call(context.Background(), "pharma", testRequest())
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOllamaExpertCall(t *testing.T) {
	var body map[string]interface{}
	server := captureServer(t, "/api/generate",
		`{"model":"phi4:latest","response":"Four grams.","done":true,"prompt_eval_count":9,"eval_count":4}`, &body)

	caller, err := NewOllamaExpert(expert.Definition{ID: "local", Backend: expert.BackendOllama, Endpoint: server.URL})
	require.NoError(t, err)

	resp, err := caller.Call(context.Background(), "local", testRequest())
	require.NoError(t, err)
	assert.Equal(t, "Four grams.", resp.Content)
	assert.JSONEq(t, `{"input_tokens":9,"output_tokens":4}`, string(resp.Usage))
	assert.Equal(t, false, body["stream"])
}

func TestGeminiExpertRequiresKey(t *testing.T) {
	_, err := NewGeminiExpert(expert.Definition{ID: "g", Backend: expert.BackendGemini})
	assert.Error(t, err)
}
