package expert

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Backend names accepted in the experts file.
const (
	BackendAgent     = "agent"
	BackendAnthropic = "anthropic"
	BackendOpenAI    = "openai"
	BackendGemini    = "gemini"
	BackendOllama    = "ollama"
	BackendMock      = "mock"
)

// Definition describes one expert in the experts file.
type Definition struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Backend      string `yaml:"backend"`
	Endpoint     string `yaml:"endpoint,omitempty"`
	Model        string `yaml:"model,omitempty"`
	SystemPrompt string `yaml:"system_prompt,omitempty"`
	MaxTokens    int    `yaml:"max_tokens,omitempty"`
	APIKeyEnv    string `yaml:"api_key_env,omitempty"`
}

// APIKey resolves the definition's API key from its environment variable.
func (d Definition) APIKey() string {
	if d.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(d.APIKeyEnv)
}

type definitionsFile struct {
	Experts []Definition `yaml:"experts"`
}

// ParseDefinitions parses an experts document.
func ParseDefinitions(data []byte) ([]Definition, error) {
	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse experts file: %w", err)
	}
	seen := make(map[string]bool, len(file.Experts))
	for i, def := range file.Experts {
		if def.ID == "" {
			return nil, fmt.Errorf("expert #%d: id is required", i)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("expert %s: duplicate id", def.ID)
		}
		seen[def.ID] = true
		if def.Backend == "" {
			file.Experts[i].Backend = BackendMock
		}
	}
	return file.Experts, nil
}

// LoadDefinitions reads and parses the experts file at path.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read experts file: %w", err)
	}
	return ParseDefinitions(data)
}
