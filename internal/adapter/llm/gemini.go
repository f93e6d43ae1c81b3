package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/curatedhealth/missionengine/internal/domain"
	"github.com/curatedhealth/missionengine/internal/expert"
)

const geminiDefaultModel = "gemini-2.0-flash"

// GeminiExpert answers through the Gemini API.
type GeminiExpert struct {
	client *genai.Client
	model  string
	system string
}

// NewGeminiExpert builds an expert from a definition.
func NewGeminiExpert(def expert.Definition) (expert.Caller, error) {
	apiKey := def.APIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("gemini backend requires api_key_env to name a set variable")
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if def.Endpoint != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: def.Endpoint}
	}
	client, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini client init: %w", err)
	}
	model := strings.TrimSpace(def.Model)
	if model == "" {
		model = geminiDefaultModel
	}
	return &GeminiExpert{client: client, model: model, system: def.SystemPrompt}, nil
}

// Call generates content for the request.
func (g *GeminiExpert) Call(ctx context.Context, ref string, req domain.ExpertRequest) (domain.ExpertResponse, error) {
	var cfg *genai.GenerateContentConfig
	if g.system != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(g.system, genai.RoleUser),
		}
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(userPrompt(req)), cfg)
	if err != nil {
		return domain.ExpertResponse{}, fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return domain.ExpertResponse{}, ErrEmptyResponse
	}

	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		out.WriteString(part.Text)
	}
	result := domain.ExpertResponse{Content: out.String()}
	if resp.UsageMetadata != nil {
		result.Usage = Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}.raw()
	}
	return result, nil
}
