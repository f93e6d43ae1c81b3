package llm

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/curatedhealth/missionengine/internal/domain"
	"github.com/curatedhealth/missionengine/internal/expert"
)

const ollamaDefaultModel = "phi4:latest"

// OllamaExpert answers through a local Ollama server.
type OllamaExpert struct {
	client *api.Client
	model  string
	system string
}

// NewOllamaExpert builds an expert from a definition. Without an endpoint the
// client follows OLLAMA_HOST.
func NewOllamaExpert(def expert.Definition) (expert.Caller, error) {
	var client *api.Client
	if def.Endpoint != "" {
		u, err := url.Parse(def.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("ollama: bad endpoint %q: %w", def.Endpoint, err)
		}
		client = api.NewClient(u, nil)
	} else {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("ollama client init: %w", err)
		}
		client = c
	}
	model := strings.TrimSpace(def.Model)
	if model == "" {
		model = ollamaDefaultModel
	}
	return &OllamaExpert{client: client, model: model, system: def.SystemPrompt}, nil
}

// Call runs one non-streaming generation.
func (o *OllamaExpert) Call(ctx context.Context, ref string, req domain.ExpertRequest) (domain.ExpertResponse, error) {
	stream := false
	genReq := &api.GenerateRequest{
		Model:  o.model,
		Prompt: userPrompt(req),
		System: o.system,
		Stream: &stream,
	}

	var (
		out   strings.Builder
		usage Usage
	)
	err := o.client.Generate(ctx, genReq, func(gr api.GenerateResponse) error {
		out.WriteString(gr.Response)
		if gr.Done {
			usage = Usage{InputTokens: int64(gr.PromptEvalCount), OutputTokens: int64(gr.EvalCount)}
		}
		return nil
	})
	if err != nil {
		return domain.ExpertResponse{}, fmt.Errorf("ollama generate: %w", err)
	}
	if out.Len() == 0 {
		return domain.ExpertResponse{}, ErrEmptyResponse
	}
	return domain.ExpertResponse{Content: out.String(), Usage: usage.raw()}, nil
}
