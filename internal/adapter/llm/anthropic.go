package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/curatedhealth/missionengine/internal/domain"
	"github.com/curatedhealth/missionengine/internal/expert"
)

const anthropicDefaultModel = anthropic.ModelClaude3_5Sonnet20241022

// AnthropicExpert answers through the Anthropic Messages API.
type AnthropicExpert struct {
	client    anthropic.Client
	model     anthropic.Model
	system    string
	maxTokens int64
}

// NewAnthropicExpert builds an expert from a definition. Endpoint, when set,
// overrides the API base URL.
func NewAnthropicExpert(def expert.Definition) (expert.Caller, error) {
	var opts []option.RequestOption
	if key := def.APIKey(); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	if def.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(def.Endpoint))
	}
	model := anthropic.Model(def.Model)
	if def.Model == "" {
		model = anthropicDefaultModel
	}
	return &AnthropicExpert{
		client:    anthropic.NewClient(opts...),
		model:     model,
		system:    def.SystemPrompt,
		maxTokens: maxTokens(def),
	}, nil
}

// Call sends one non-streaming message request.
func (a *AnthropicExpert) Call(ctx context.Context, ref string, req domain.ExpertRequest) (domain.ExpertResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt(req))),
		},
	}
	if a.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: a.system}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return domain.ExpertResponse{}, fmt.Errorf("anthropic api error: %w", err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.AsText().Text)
		}
	}
	if out.Len() == 0 {
		return domain.ExpertResponse{}, ErrEmptyResponse
	}
	return domain.ExpertResponse{
		Content: out.String(),
		Usage:   Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}.raw(),
	}, nil
}
