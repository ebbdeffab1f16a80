package providers

import (
	"fmt"
	"strings"

	"github.com/dotsetgreg/dotmemory/pkg/config"
	"github.com/dotsetgreg/dotmemory/pkg/memory"
)

const (
	defaultOpenRouterAPIBase = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel   = "openai/gpt-4o-mini"
)

func init() {
	RegisterFactory(ProviderOpenRouter, defaultOpenRouterModel, newOpenRouterProviderFromConfig, validateOpenRouterConfig)
}

func validateOpenRouterConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if strings.TrimSpace(cfg.Providers.OpenRouter.APIKey) == "" {
		return fmt.Errorf("OpenRouter API key is required (set providers.openrouter.api_key, DOTMEMORY_PROVIDERS_OPENROUTER_API_KEY or OPENROUTER_API_KEY)")
	}
	return nil
}

func newOpenRouterProviderFromConfig(cfg *config.Config) (memory.Completer, error) {
	if err := validateOpenRouterConfig(cfg); err != nil {
		return nil, err
	}

	apiBase := strings.TrimSpace(cfg.Providers.OpenRouter.APIBase)
	if apiBase == "" {
		apiBase = defaultOpenRouterAPIBase
	}
	auth := NewAPIKeyAuth(NewStaticTokenSource(cfg.Providers.OpenRouter.APIKey, "providers.openrouter.api_key"))
	return NewHTTPProvider(
		ProviderOpenRouter,
		apiBase,
		defaultOpenRouterModel,
		strings.TrimSpace(cfg.Providers.OpenRouter.Proxy),
		auth,
		map[string]string{"X-Title": "dotmemory"},
	)
}
