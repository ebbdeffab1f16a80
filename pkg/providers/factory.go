package providers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dotsetgreg/dotmemory/pkg/config"
	"github.com/dotsetgreg/dotmemory/pkg/memory"
)

const (
	ProviderOpenAI     = config.ProviderOpenAI
	ProviderAnthropic  = config.ProviderAnthropic
	ProviderOpenRouter = config.ProviderOpenRouter
	ProviderHeuristic  = config.ProviderHeuristic
)

// defaultExtractionModel is the shipped config value. Providers other than
// OpenAI substitute their own default when they see it.
var defaultExtractionModel = config.DefaultConfig().Extraction.Model

type providerFactory struct {
	build        func(cfg *config.Config) (memory.Completer, error)
	validate     func(cfg *config.Config) error
	defaultModel string
}

var (
	factoryMu       sync.RWMutex
	factories       = map[string]providerFactory{}
	registrationErr error
)

func RegisterFactory(name, defaultModel string, build func(cfg *config.Config) (memory.Completer, error), validate func(cfg *config.Config) error) {
	name = NormalizeProviderName(name)
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if build == nil {
		registrationErr = errors.Join(registrationErr, fmt.Errorf("providers: factory build func is required for %s", name))
		return
	}
	factories[name] = providerFactory{
		build:        build,
		validate:     validate,
		defaultModel: strings.TrimSpace(defaultModel),
	}
}

// SupportedProviders lists the LLM-backed extraction providers plus the
// offline heuristic extractor.
func SupportedProviders() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	providers := make([]string, 0, len(factories)+1)
	for name := range factories {
		providers = append(providers, name)
	}
	providers = append(providers, ProviderHeuristic)
	sort.Strings(providers)
	return providers
}

// DefaultModel is the model a provider uses when the config does not name
// one of its own. It is empty for the heuristic extractor.
func DefaultModel(name string) string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	return factories[NormalizeProviderName(name)].defaultModel
}

func NormalizeProviderName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ProviderOpenAI
	}
	return name
}

func ActiveProviderName(cfg *config.Config) string {
	if cfg == nil {
		return ProviderOpenAI
	}
	return NormalizeProviderName(cfg.ExtractionProvider())
}

func ValidateProviderConfig(cfg *config.Config) error {
	if ActiveProviderName(cfg) == ProviderHeuristic {
		return nil
	}
	factory, _, err := getFactory(cfg)
	if err != nil {
		return err
	}
	if factory.validate == nil {
		return nil
	}
	return factory.validate(cfg)
}

// CreateCompleter builds the LLM client for the configured extraction provider.
func CreateCompleter(cfg *config.Config) (memory.Completer, error) {
	factory, _, err := getFactory(cfg)
	if err != nil {
		return nil, err
	}
	if factory.validate != nil {
		if err := factory.validate(cfg); err != nil {
			return nil, err
		}
	}
	return factory.build(cfg)
}

// CreateExtractor wires the configured extraction provider into a
// memory.Extractor.
func CreateExtractor(cfg *config.Config) (memory.Extractor, error) {
	name := ActiveProviderName(cfg)
	if name == ProviderHeuristic {
		return memory.NewHeuristicExtractor(), nil
	}

	factory, _, err := getFactory(cfg)
	if err != nil {
		return nil, err
	}
	completer, err := CreateCompleter(cfg)
	if err != nil {
		return nil, err
	}

	model := strings.TrimSpace(cfg.Extraction.Model)
	if name != ProviderOpenAI && (model == "" || model == defaultExtractionModel) {
		model = factory.defaultModel
	}
	return memory.NewLLMExtractor(completer, memory.LLMExtractorConfig{
		Name:        name,
		Model:       model,
		Temperature: cfg.Extraction.Temperature,
		MaxTokens:   cfg.Extraction.MaxTokens,
	}), nil
}

// CreateEmbedder returns the configured embedder. Local embedders need no
// credentials.
func CreateEmbedder(cfg *config.Config) (memory.Embedder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	switch name := cfg.EmbeddingProvider(); name {
	case config.EmbeddingChargram, config.EmbeddingHash:
		return memory.NewLocalEmbedder(name), nil
	case ProviderOpenAI:
		return newOpenAIEmbedderFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q: supported providers are chargram, hash, openai", name)
	}
}

func getFactory(cfg *config.Config) (providerFactory, string, error) {
	name := ActiveProviderName(cfg)

	factoryMu.RLock()
	if registrationErr != nil {
		err := registrationErr
		factoryMu.RUnlock()
		return providerFactory{}, name, fmt.Errorf("provider registration failed: %w", err)
	}
	factory, ok := factories[name]
	factoryMu.RUnlock()
	if !ok {
		return providerFactory{}, name, fmt.Errorf("unsupported provider %q: supported providers are %s", name, strings.Join(SupportedProviders(), ", "))
	}
	return factory, name, nil
}
