package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dotsetgreg/dotmemory/pkg/logger"
)

const extractionSystemPrompt = `You are a memory extraction system. Analyze the conversation and extract only the most important, factual information worth remembering.

Extract memories in these categories only when they carry significant information:
1. personal_facts: name, age, location, occupation, family
2. preferences: likes, dislikes, hobbies
3. goals: short-term and long-term objectives
4. events: important events or milestones
5. skills: skills and expertise
6. projects: current projects or activities

Rules:
- Extract only factual, specific information.
- Skip generic or obvious statements.
- Keep each memory concise and useful for future conversations.
- Use type "user" for durable facts about the person and "session" for context that only matters now.

Return ONLY a JSON object of this shape:
{"memories":[{"content":"...","category":"personal_facts|preferences|goals|events|skills|projects","importance":"high|medium|low","type":"user|session"}]}

If nothing significant is found, return {"memories":[]}.`

// LLMExtractorConfig tunes the completion call.
type LLMExtractorConfig struct {
	Name        string
	Model       string
	Temperature float64
	MaxTokens   int
}

// LLMExtractor asks a language model for structured memories.
type LLMExtractor struct {
	llm Completer
	cfg LLMExtractorConfig
}

func NewLLMExtractor(llm Completer, cfg LLMExtractorConfig) *LLMExtractor {
	if cfg.Name == "" {
		cfg.Name = "llm"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 800
	}
	return &LLMExtractor{llm: llm, cfg: cfg}
}

func (e *LLMExtractor) Name() string { return e.cfg.Name }

func (e *LLMExtractor) Extract(ctx context.Context, transcript string) ([]Candidate, error) {
	if e.llm == nil {
		return nil, fmt.Errorf("%w: no completion provider", ErrExtraction)
	}
	raw, err := e.llm.Complete(ctx, CompletionRequest{
		System:      extractionSystemPrompt,
		Prompt:      "Analyze this conversation:\n\n" + transcript,
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
		JSONOutput:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExtraction, e.cfg.Name, err)
	}
	candidates, err := ParseExtractionResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExtraction, e.cfg.Name, err)
	}
	logger.DebugCF("extract", "Extracted memories from conversation", map[string]interface{}{
		"extractor": e.cfg.Name,
		"count":     len(candidates),
	})
	return candidates, nil
}

// ParseExtractionResponse decodes {"memories":[...]} and tolerates a
// surrounding markdown code fence or leading prose. Empty output yields no
// candidates.
func ParseExtractionResponse(raw string) ([]Candidate, error) {
	body := strings.TrimSpace(raw)
	if body == "" {
		return nil, nil
	}
	body = stripCodeFence(body)
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	}
	var payload struct {
		Memories []Candidate `json:"memories"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("decode extraction response: %w", err)
	}
	return payload.Memories, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
