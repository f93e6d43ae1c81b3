// Package llm adapts hosted and local language model SDKs to expert callers.
package llm

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/curatedhealth/missionengine/internal/domain"
	"github.com/curatedhealth/missionengine/internal/expert"
)

const defaultMaxTokens = 2048

// ErrEmptyResponse is returned when a model produced no text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Usage is the token accounting attached to expert responses.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

func (u Usage) raw() json.RawMessage {
	data, err := json.Marshal(u)
	if err != nil {
		return nil
	}
	return data
}

// Factories returns the expert factories for every supported model backend.
func Factories() map[string]expert.Factory {
	return map[string]expert.Factory{
		expert.BackendAnthropic: NewAnthropicExpert,
		expert.BackendOpenAI:    NewOpenAIExpert,
		expert.BackendGemini:    NewGeminiExpert,
		expert.BackendOllama:    NewOllamaExpert,
	}
}

// userPrompt renders the request as the user turn.
func userPrompt(req domain.ExpertRequest) string {
	var b strings.Builder
	b.WriteString(req.Question)
	if req.Context != "" {
		b.WriteString("\n\nContext from previous steps:\n")
		b.WriteString(req.Context)
	}
	return b.String()
}

func maxTokens(def expert.Definition) int64 {
	if def.MaxTokens > 0 {
		return int64(def.MaxTokens)
	}
	return defaultMaxTokens
}
