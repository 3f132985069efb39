package providers

import (
	"fmt"
	"strings"

	"github.com/dotsetgreg/refrag/pkg/config"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
)

const (
	defaultOpenRouterAPIBase = "https://openrouter.ai/api/v1"
	defaultOpenAIAPIBase     = "https://api.openai.com/v1"
)

// CreateGenerator builds the configured chat generator. OpenRouter and
// OpenAI share the chat-completions wire shape; anything else with an
// explicit API base is treated as OpenAI-compatible.
func CreateGenerator(cfg *config.Config) (*ChatGenerator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	name := strings.TrimSpace(strings.ToLower(cfg.Provider.Name))
	if name == "" {
		name = ProviderOpenRouter
	}
	apiBase := strings.TrimSpace(cfg.Provider.APIBase)
	if apiBase == "" {
		switch name {
		case ProviderOpenRouter:
			apiBase = defaultOpenRouterAPIBase
		case ProviderOpenAI:
			apiBase = defaultOpenAIAPIBase
		default:
			return nil, fmt.Errorf("provider %q requires an explicit api_base", name)
		}
	}
	if strings.TrimSpace(cfg.Provider.APIKey) == "" {
		return nil, fmt.Errorf("%s API key is required (set provider.api_key or REFRAG_PROVIDER_API_KEY)", name)
	}

	return NewChatGenerator(GeneratorSettings{
		Name:        name,
		APIBase:     apiBase,
		APIKey:      cfg.Provider.APIKey,
		Model:       cfg.Provider.Model,
		Proxy:       cfg.Provider.Proxy,
		MaxTokens:   cfg.Provider.MaxTokens,
		Temperature: cfg.Provider.Temperature,
	})
}
