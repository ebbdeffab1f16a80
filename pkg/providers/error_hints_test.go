package providers

import (
	"errors"
	"strings"
	"testing"
)

func TestAugmentProviderError_OpenAIIncorrectAPIKeyHint(t *testing.T) {
	msg := augmentProviderError(ProviderOpenAI, "Incorrect API key provided")
	if !strings.Contains(msg, "OPENAI_API_KEY") {
		t.Fatalf("expected api key hint, got %q", msg)
	}
}

func TestAugmentProviderError_RateLimitHintAnyProvider(t *testing.T) {
	for _, p := range []string{ProviderOpenAI, ProviderAnthropic, ProviderOpenRouter} {
		msg := augmentProviderError(p, "Rate limit reached for requests")
		if !strings.Contains(msg, "rate limiting") {
			t.Fatalf("%s: expected rate-limit hint, got %q", p, msg)
		}
	}
}

func TestAugmentProviderError_OpenRouterNoEndpoints(t *testing.T) {
	msg := augmentProviderError(ProviderOpenRouter, "No endpoints found that support response_format")
	if !strings.Contains(msg, "extraction.model") {
		t.Fatalf("expected model hint, got %q", msg)
	}
}

func TestAugmentProviderError_NoHintPassthrough(t *testing.T) {
	if got := augmentProviderError(ProviderAnthropic, "  overloaded  "); got != "overloaded" {
		t.Fatalf("expected trimmed passthrough, got %q", got)
	}
	if got := augmentProviderError(ProviderOpenAI, ""); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestWrapProviderError_KeepsChain(t *testing.T) {
	base := errors.New("Your credit balance is too low")
	err := wrapProviderError(ProviderAnthropic, "completion", base)
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to match base")
	}
	if !strings.Contains(err.Error(), "no remaining credit") {
		t.Fatalf("expected credit hint, got %q", err.Error())
	}
	if wrapProviderError(ProviderOpenAI, "x", nil) != nil {
		t.Fatalf("nil error should stay nil")
	}
}
