package expert

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatedhealth/missionengine/internal/domain"
	"github.com/curatedhealth/missionengine/internal/logging"
)

const sampleExperts = `
experts:
  - id: pharmacology
    backend: anthropic
    model: claude-sonnet-4-5
    api_key_env: ANTHROPIC_API_KEY
    system_prompt: You are a clinical pharmacologist.
  - id: regulatory
    backend: agent
    endpoint: http://localhost:9000
  - id: local
`

func TestParseDefinitions(t *testing.T) {
	defs, err := ParseDefinitions([]byte(sampleExperts))
	require.NoError(t, err)
	require.Len(t, defs, 3)
	assert.Equal(t, "pharmacology", defs[0].ID)
	assert.Equal(t, BackendAnthropic, defs[0].Backend)
	assert.Equal(t, "http://localhost:9000", defs[1].Endpoint)
	assert.Equal(t, BackendMock, defs[2].Backend)
}

func TestParseDefinitionsRejectsDuplicates(t *testing.T) {
	_, err := ParseDefinitions([]byte("experts:\n  - id: a\n  - id: a\n"))
	assert.Error(t, err)

	_, err = ParseDefinitions([]byte("experts:\n  - backend: mock\n"))
	assert.Error(t, err)
}

func TestBuildRegistryUsesFactories(t *testing.T) {
	defs, err := ParseDefinitions([]byte(sampleExperts))
	require.NoError(t, err)

	var built []string
	factory := func(def Definition) (Caller, error) {
		built = append(built, def.ID)
		return CallerFunc(func(ctx context.Context, ref string, req domain.ExpertRequest) (domain.ExpertResponse, error) {
			return domain.ExpertResponse{Content: def.Backend + ":" + ref}, nil
		}), nil
	}
	reg, err := Build(defs, map[string]Factory{BackendAnthropic: factory, BackendAgent: factory}, false, logging.Discard())
	require.NoError(t, err)

	assert.Equal(t, []string{"pharmacology", "regulatory"}, built)
	assert.Equal(t, []string{"local", "pharmacology", "regulatory"}, reg.Refs())

	resp, err := reg.Call(context.Background(), "regulatory", domain.ExpertRequest{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, "agent:regulatory", resp.Content)

	_, err = reg.Call(context.Background(), "missing", domain.ExpertRequest{})
	assert.True(t, errors.Is(err, ErrUnknownExpert))
}

func TestBuildRegistryUnsupportedBackend(t *testing.T) {
	defs := []Definition{{ID: "x", Backend: "carrier-pigeon"}}
	_, err := Build(defs, nil, false, logging.Discard())
	assert.Error(t, err)
}

func TestBuildRegistryMockMode(t *testing.T) {
	defs, err := ParseDefinitions([]byte(sampleExperts))
	require.NoError(t, err)

	reg, err := Build(defs, nil, true, logging.Discard())
	require.NoError(t, err)
	assert.True(t, reg.Has("pharmacology"))

	resp, err := reg.Call(context.Background(), "pharmacology", domain.ExpertRequest{Question: "dose?", StepIndex: 2})
	require.NoError(t, err)
	assert.Contains(t, resp.Content, "[MOCK] pharmacology")
	assert.Contains(t, resp.Content, "step 2")
}
