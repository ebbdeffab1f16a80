package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dotsetgreg/dotmemory/pkg/config"
	"github.com/dotsetgreg/dotmemory/pkg/memory"
)

const (
	defaultAnthropicModel     = "claude-3-5-haiku-latest"
	defaultAnthropicMaxTokens = 1024
	anthropicJSONInstruction  = "Respond with a single JSON object and nothing else."
)

func init() {
	RegisterFactory(ProviderAnthropic, defaultAnthropicModel, newAnthropicProviderFromConfig, validateAnthropicConfig)
}

func validateAnthropicConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if strings.TrimSpace(cfg.Providers.Anthropic.APIKey) == "" {
		return fmt.Errorf("Anthropic API key is required (set providers.anthropic.api_key, DOTMEMORY_PROVIDERS_ANTHROPIC_API_KEY or ANTHROPIC_API_KEY)")
	}
	return nil
}

// AnthropicProvider completes extraction prompts with the Messages API.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

func NewAnthropicProvider(defaultModel string, opts ...option.RequestOption) *AnthropicProvider {
	if strings.TrimSpace(defaultModel) == "" {
		defaultModel = defaultAnthropicModel
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: defaultModel,
	}
}

func newAnthropicProviderFromConfig(cfg *config.Config) (memory.Completer, error) {
	if err := validateAnthropicConfig(cfg); err != nil {
		return nil, err
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.Providers.Anthropic.APIKey)),
		option.WithMaxRetries(2),
	}
	if base := strings.TrimSpace(cfg.Providers.Anthropic.APIBase); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return NewAnthropicProvider(defaultAnthropicModel, opts...), nil
}

func (p *AnthropicProvider) Complete(ctx context.Context, req memory.CompletionRequest) (string, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	// The Messages API has no JSON response mode.
	system := strings.TrimSpace(req.System)
	if req.JSONOutput {
		system = strings.TrimSpace(system + "\n\n" + anthropicJSONInstruction)
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", wrapProviderError(ProviderAnthropic, "completion", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}
