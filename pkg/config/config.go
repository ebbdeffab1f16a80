package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
)

const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderOpenRouter = "openrouter"
	ProviderHeuristic  = "heuristic"

	EmbeddingChargram = "chargram"
	EmbeddingHash     = "hash"

	BackendRedis    = "redis"
	BackendPGVector = "pgvector"
	BackendChromem  = "chromem"
)

type Config struct {
	Storage    StorageConfig    `json:"storage"`
	Extraction ExtractionConfig `json:"extraction"`
	Embedding  EmbeddingConfig  `json:"embedding"`
	Providers  ProvidersConfig  `json:"providers"`
	Vector     VectorConfig     `json:"vector"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
	mu         sync.RWMutex
}

type StorageConfig struct {
	Path                string  `json:"path" env:"DOTMEMORY_STORAGE_PATH"`
	MaxUserMemories     int     `json:"max_user_memories" env:"DOTMEMORY_STORAGE_MAX_USER_MEMORIES"`
	MaxSessionMemories  int     `json:"max_session_memories" env:"DOTMEMORY_STORAGE_MAX_SESSION_MEMORIES"`
	SimilarityThreshold float64 `json:"similarity_threshold" env:"DOTMEMORY_STORAGE_SIMILARITY_THRESHOLD"`
}

type ExtractionConfig struct {
	Provider       string  `json:"provider" env:"DOTMEMORY_EXTRACTION_PROVIDER"`
	Model          string  `json:"model" env:"DOTMEMORY_EXTRACTION_MODEL"`
	Temperature    float64 `json:"temperature" env:"DOTMEMORY_EXTRACTION_TEMPERATURE"`
	MaxTokens      int     `json:"max_tokens" env:"DOTMEMORY_EXTRACTION_MAX_TOKENS"`
	TimeoutSeconds int     `json:"timeout_seconds" env:"DOTMEMORY_EXTRACTION_TIMEOUT_SECONDS"`
}

type EmbeddingConfig struct {
	Provider      string `json:"provider" env:"DOTMEMORY_EMBEDDING_PROVIDER"`
	Model         string `json:"model" env:"DOTMEMORY_EMBEDDING_MODEL"`
	Dimensions    int    `json:"dimensions" env:"DOTMEMORY_EMBEDDING_DIMENSIONS"`
	CachePath     string `json:"cache_path,omitempty" env:"DOTMEMORY_EMBEDDING_CACHE_PATH"`
	CacheMaxItems int    `json:"cache_max_items" env:"DOTMEMORY_EMBEDDING_CACHE_MAX_ITEMS"`
}

type ProvidersConfig struct {
	OpenAI     ProviderConfig          `json:"openai"`
	Anthropic  AnthropicProviderConfig `json:"anthropic"`
	OpenRouter OpenRouterConfig        `json:"openrouter"`
}

type ProviderConfig struct {
	APIKey       string `json:"api_key" env:"DOTMEMORY_PROVIDERS_OPENAI_API_KEY"`
	APIBase      string `json:"api_base,omitempty" env:"DOTMEMORY_PROVIDERS_OPENAI_API_BASE"`
	Organization string `json:"organization,omitempty" env:"DOTMEMORY_PROVIDERS_OPENAI_ORGANIZATION"`
}

type AnthropicProviderConfig struct {
	APIKey  string `json:"api_key" env:"DOTMEMORY_PROVIDERS_ANTHROPIC_API_KEY"`
	APIBase string `json:"api_base,omitempty" env:"DOTMEMORY_PROVIDERS_ANTHROPIC_API_BASE"`
}

type OpenRouterConfig struct {
	APIKey  string `json:"api_key" env:"DOTMEMORY_PROVIDERS_OPENROUTER_API_KEY"`
	APIBase string `json:"api_base,omitempty" env:"DOTMEMORY_PROVIDERS_OPENROUTER_API_BASE"`
	Proxy   string `json:"proxy,omitempty" env:"DOTMEMORY_PROVIDERS_OPENROUTER_PROXY"`
}

// VectorConfig holds the similarity index backends. When several are
// enabled, the first in redis, pgvector, chromem order wins.
type VectorConfig struct {
	Redis    RedisConfig    `json:"redis"`
	PGVector PGVectorConfig `json:"pgvector"`
	Chromem  ChromemConfig  `json:"chromem"`
}

type RedisConfig struct {
	Enabled   bool   `json:"enabled" env:"DOTMEMORY_VECTOR_REDIS_ENABLED"`
	URL       string `json:"url" env:"DOTMEMORY_VECTOR_REDIS_URL"`
	KeyPrefix string `json:"key_prefix,omitempty" env:"DOTMEMORY_VECTOR_REDIS_KEY_PREFIX"`
}

type PGVectorConfig struct {
	Enabled     bool   `json:"enabled" env:"DOTMEMORY_VECTOR_PGVECTOR_ENABLED"`
	DatabaseURL string `json:"database_url" env:"DOTMEMORY_VECTOR_PGVECTOR_DATABASE_URL"`
	Table       string `json:"table,omitempty" env:"DOTMEMORY_VECTOR_PGVECTOR_TABLE"`
}

type ChromemConfig struct {
	Enabled     bool   `json:"enabled" env:"DOTMEMORY_VECTOR_CHROMEM_ENABLED"`
	PersistPath string `json:"persist_path,omitempty" env:"DOTMEMORY_VECTOR_CHROMEM_PERSIST_PATH"`
	Compress    bool   `json:"compress" env:"DOTMEMORY_VECTOR_CHROMEM_COMPRESS"`
}

type LoggingConfig struct {
	Level  string `json:"level" env:"DOTMEMORY_LOGGING_LEVEL"`
	Format string `json:"format" env:"DOTMEMORY_LOGGING_FORMAT"`
}

type MetricsConfig struct {
	Namespace  string `json:"namespace" env:"DOTMEMORY_METRICS_NAMESPACE"`
	ListenAddr string `json:"listen_addr,omitempty" env:"DOTMEMORY_METRICS_LISTEN_ADDR"`
}

func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:                "~/.dotmemory/memories",
			MaxUserMemories:     100,
			MaxSessionMemories:  30,
			SimilarityThreshold: 0.7,
		},
		Extraction: ExtractionConfig{
			Provider:       ProviderOpenAI,
			Model:          "gpt-3.5-turbo",
			Temperature:    0.1,
			MaxTokens:      800,
			TimeoutSeconds: 60,
		},
		Embedding: EmbeddingConfig{
			Provider:      ProviderOpenAI,
			Model:         "text-embedding-ada-002",
			Dimensions:    1536,
			CacheMaxItems: 10000,
		},
		Vector: VectorConfig{
			Redis: RedisConfig{
				KeyPrefix: "memory",
			},
			PGVector: PGVectorConfig{
				Table: "memories",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Namespace: "dotmemory",
		},
	}
}

// LoadConfig layers defaults, the JSON file at path (if present) and the
// environment, in that order.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(expandHome(path))
		switch {
		case err == nil:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	cfg.applyConventionalEnv()
	return cfg, nil
}

// applyConventionalEnv fills credentials from the unprefixed variables most
// SDKs read, only when the prefixed ones are unset.
func (c *Config) applyConventionalEnv() {
	fill := func(dst *string, key string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = strings.TrimSpace(os.Getenv(key))
		}
	}
	fill(&c.Providers.OpenAI.APIKey, "OPENAI_API_KEY")
	fill(&c.Providers.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	fill(&c.Providers.OpenRouter.APIKey, "OPENROUTER_API_KEY")
	fill(&c.Vector.Redis.URL, "REDIS_URL")
	fill(&c.Vector.PGVector.DatabaseURL, "DATABASE_URL")
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	path = expandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []error
	if strings.TrimSpace(c.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if c.Storage.MaxUserMemories <= 0 {
		errs = append(errs, errors.New("storage.max_user_memories must be positive"))
	}
	if c.Storage.MaxSessionMemories <= 0 {
		errs = append(errs, errors.New("storage.max_session_memories must be positive"))
	}
	if c.Storage.SimilarityThreshold <= 0 || c.Storage.SimilarityThreshold > 1 {
		errs = append(errs, errors.New("storage.similarity_threshold must be in (0,1]"))
	}

	switch provider := c.extractionProvider(); provider {
	case ProviderHeuristic:
	case ProviderOpenAI, ProviderAnthropic, ProviderOpenRouter:
		if err := c.requireCredential(provider); err != nil {
			errs = append(errs, fmt.Errorf("extraction: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("extraction.provider %q is not supported (openai, anthropic, openrouter, heuristic)", provider))
	}

	switch provider := c.embeddingProvider(); provider {
	case EmbeddingChargram, EmbeddingHash:
	case ProviderOpenAI:
		if c.activeVectorBackend() != "" {
			if err := c.requireCredential(ProviderOpenAI); err != nil {
				errs = append(errs, fmt.Errorf("embedding: %w", err))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("embedding.provider %q is not supported (openai, chargram, hash)", provider))
	}

	switch c.activeVectorBackend() {
	case BackendRedis:
		if strings.TrimSpace(c.Vector.Redis.URL) == "" {
			errs = append(errs, errors.New("vector.redis.url is required when redis is enabled (or set REDIS_URL)"))
		}
	case BackendPGVector:
		if strings.TrimSpace(c.Vector.PGVector.DatabaseURL) == "" {
			errs = append(errs, errors.New("vector.pgvector.database_url is required when pgvector is enabled (or set DATABASE_URL)"))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) requireCredential(provider string) error {
	var key, field string
	switch provider {
	case ProviderOpenAI:
		key, field = c.Providers.OpenAI.APIKey, "providers.openai.api_key"
	case ProviderAnthropic:
		key, field = c.Providers.Anthropic.APIKey, "providers.anthropic.api_key"
	case ProviderOpenRouter:
		key, field = c.Providers.OpenRouter.APIKey, "providers.openrouter.api_key"
	default:
		return nil
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%s API key is required (set %s)", provider, field)
	}
	return nil
}

// ActiveVectorBackend returns the first enabled backend, or "".
func (c *Config) ActiveVectorBackend() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeVectorBackend()
}

func (c *Config) activeVectorBackend() string {
	switch {
	case c.Vector.Redis.Enabled:
		return BackendRedis
	case c.Vector.PGVector.Enabled:
		return BackendPGVector
	case c.Vector.Chromem.Enabled:
		return BackendChromem
	default:
		return ""
	}
}

func (c *Config) ExtractionProvider() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.extractionProvider()
}

func (c *Config) extractionProvider() string {
	p := strings.ToLower(strings.TrimSpace(c.Extraction.Provider))
	if p == "" {
		return ProviderOpenAI
	}
	return p
}

func (c *Config) EmbeddingProvider() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.embeddingProvider()
}

func (c *Config) embeddingProvider() string {
	p := strings.ToLower(strings.TrimSpace(c.Embedding.Provider))
	if p == "" {
		return ProviderOpenAI
	}
	return p
}

func (c *Config) StoragePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Storage.Path)
}

func (c *Config) ChromemPersistPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Vector.Chromem.PersistPath)
}

func (c *Config) EmbeddingCachePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Embedding.CachePath)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
