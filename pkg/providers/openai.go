package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dotsetgreg/dotmemory/pkg/config"
	"github.com/dotsetgreg/dotmemory/pkg/memory"
)

const (
	defaultOpenAIModel          = "gpt-3.5-turbo"
	defaultOpenAIEmbeddingModel = "text-embedding-ada-002"
	defaultOpenAIEmbeddingDims  = 1536
)

func init() {
	RegisterFactory(ProviderOpenAI, defaultOpenAIModel, newOpenAIProviderFromConfig, validateOpenAIConfig)
}

func validateOpenAIConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if strings.TrimSpace(cfg.Providers.OpenAI.APIKey) == "" {
		return fmt.Errorf("OpenAI API key is required (set providers.openai.api_key, DOTMEMORY_PROVIDERS_OPENAI_API_KEY or OPENAI_API_KEY)")
	}
	return nil
}

func openAIClientOptions(cfg *config.Config) []option.RequestOption {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.Providers.OpenAI.APIKey)),
		option.WithMaxRetries(2),
	}
	if base := strings.TrimSpace(cfg.Providers.OpenAI.APIBase); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if org := strings.TrimSpace(cfg.Providers.OpenAI.Organization); org != "" {
		opts = append(opts, option.WithOrganization(org))
	}
	return opts
}

// OpenAIProvider completes extraction prompts through the official SDK.
type OpenAIProvider struct {
	client       openai.Client
	defaultModel string
}

func NewOpenAIProvider(defaultModel string, opts ...option.RequestOption) *OpenAIProvider {
	if strings.TrimSpace(defaultModel) == "" {
		defaultModel = defaultOpenAIModel
	}
	return &OpenAIProvider{
		client:       openai.NewClient(opts...),
		defaultModel: defaultModel,
	}
}

func newOpenAIProviderFromConfig(cfg *config.Config) (memory.Completer, error) {
	if err := validateOpenAIConfig(cfg); err != nil {
		return nil, err
	}
	return NewOpenAIProvider(defaultOpenAIModel, openAIClientOptions(cfg)...), nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, req memory.CompletionRequest) (string, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.JSONOutput {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", wrapProviderError(ProviderOpenAI, "completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// OpenAIEmbedder produces vectors with the embeddings endpoint.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
	dims   int
}

func NewOpenAIEmbedder(model string, dims int, opts ...option.RequestOption) *OpenAIEmbedder {
	if strings.TrimSpace(model) == "" {
		model = defaultOpenAIEmbeddingModel
	}
	if dims <= 0 {
		dims = defaultOpenAIEmbeddingDims
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(opts...),
		model:  model,
		dims:   dims,
	}
}

func newOpenAIEmbedderFromConfig(cfg *config.Config) (memory.Embedder, error) {
	if err := validateOpenAIConfig(cfg); err != nil {
		return nil, err
	}
	return NewOpenAIEmbedder(cfg.Embedding.Model, cfg.Embedding.Dimensions, openAIClientOptions(cfg)...), nil
}

func (e *OpenAIEmbedder) ModelID() string { return e.model }
func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if !memory.WorthEmbedding(text) {
		return nil, nil
	}
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, wrapProviderError(ProviderOpenAI, "embedding", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embedding: empty response")
	}
	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}
