package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/curatedhealth/missionengine/internal/domain"
	"github.com/curatedhealth/missionengine/internal/expert"
)

const openaiDefaultModel = openai.ChatModelGPT4oMini

// OpenAIExpert answers through the Chat Completions API.
type OpenAIExpert struct {
	client    openai.Client
	model     string
	system    string
	maxTokens int64
}

// NewOpenAIExpert builds an expert from a definition. Endpoint, when set,
// points at any Chat Completions compatible server.
func NewOpenAIExpert(def expert.Definition) (expert.Caller, error) {
	var opts []option.RequestOption
	if key := def.APIKey(); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	if def.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(def.Endpoint))
	}
	model := def.Model
	if model == "" {
		model = openaiDefaultModel
	}
	return &OpenAIExpert{
		client:    openai.NewClient(opts...),
		model:     model,
		system:    def.SystemPrompt,
		maxTokens: maxTokens(def),
	}, nil
}

// Call sends one non-streaming chat completion.
func (o *OpenAIExpert) Call(ctx context.Context, ref string, req domain.ExpertRequest) (domain.ExpertResponse, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if o.system != "" {
		messages = append(messages, openai.SystemMessage(o.system))
	}
	messages = append(messages, openai.UserMessage(userPrompt(req)))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               o.model,
		MaxCompletionTokens: openai.Int(o.maxTokens),
	})
	if err != nil {
		return domain.ExpertResponse{}, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return domain.ExpertResponse{}, ErrEmptyResponse
	}
	return domain.ExpertResponse{
		Content: resp.Choices[0].Message.Content,
		Usage:   Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}.raw(),
	}, nil
}
