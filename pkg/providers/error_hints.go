package providers

import (
	"fmt"
	"strings"
)

func providerHint(providerName, message string) string {
	lower := strings.ToLower(message)

	if strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") {
		return "Hint: the provider is rate limiting requests. Extraction is retried on the next turn; consider the heuristic extractor for bulk imports."
	}

	switch NormalizeProviderName(providerName) {
	case ProviderOpenAI:
		if strings.Contains(lower, "incorrect api key provided") {
			return "Hint: provider openai expects a Platform API key (set providers.openai.api_key or OPENAI_API_KEY)."
		}
		if strings.Contains(lower, "response_format") {
			return "Hint: the selected model does not support JSON mode. Use a newer chat model for extraction."
		}
	case ProviderAnthropic:
		if strings.Contains(lower, "credit balance") {
			return "Hint: the Anthropic account has no remaining credit."
		}
		if strings.Contains(lower, "not_found_error") {
			return "Hint: check extraction.model; Anthropic model names look like claude-3-5-haiku-latest."
		}
	case ProviderOpenRouter:
		if strings.Contains(lower, "no endpoints found") {
			return "Hint: OpenRouter has no provider serving this model with the requested options. Try another extraction.model."
		}
	}
	return ""
}

func augmentProviderError(providerName, message string) string {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return msg
	}
	if hint := providerHint(providerName, msg); hint != "" {
		return msg + " " + hint
	}
	return msg
}

// wrapProviderError keeps the SDK error in the chain and appends any hint.
func wrapProviderError(providerName, op string, err error) error {
	if err == nil {
		return nil
	}
	if hint := providerHint(providerName, err.Error()); hint != "" {
		return fmt.Errorf("%s %s: %w (%s)", providerName, op, err, hint)
	}
	return fmt.Errorf("%s %s: %w", providerName, op, err)
}
