package agent

import (
	"fmt"
	"strings"
)

// ProviderFactory mints handles for the configured providers, choosing the
// backend by model reference.
type ProviderFactory struct {
	anthropic *AnthropicProvider
	openai    *OpenAIProvider
}

// ProviderKeys holds the API credentials for the supported backends. Empty
// keys disable the corresponding backend.
type ProviderKeys struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
}

// NewProviderFactory constructs a factory over the configured backends.
func NewProviderFactory(keys ProviderKeys, maxTokens int) (*ProviderFactory, error) {
	if keys.AnthropicAPIKey == "" && keys.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("at least one provider API key is required")
	}

	f := &ProviderFactory{}
	if keys.AnthropicAPIKey != "" {
		f.anthropic = NewAnthropicProvider(keys.AnthropicAPIKey, maxTokens)
	}
	if keys.OpenAIAPIKey != "" {
		f.openai = NewOpenAIProvider(keys.OpenAIAPIKey, maxTokens)
	}
	return f, nil
}

// NewHandle mints a handle bound to the given model.
func (f *ProviderFactory) NewHandle(model, systemPrompt string) (*Handle, error) {
	switch {
	case strings.HasPrefix(model, "claude"):
		if f.anthropic == nil {
			return nil, fmt.Errorf("anthropic provider is not configured")
		}
		return f.anthropic.NewHandle(model, systemPrompt), nil
	case strings.HasPrefix(model, "gpt") || strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4"):
		if f.openai == nil {
			return nil, fmt.Errorf("openai provider is not configured")
		}
		return f.openai.NewHandle(model, systemPrompt), nil
	default:
		return nil, fmt.Errorf("unsupported model: %s", model)
	}
}
