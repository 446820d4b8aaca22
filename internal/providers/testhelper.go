package providers

import (
	"os"
)

// TestConfig holds provider configurations loaded from environment variables.
// This allows integration tests to use the same configuration pattern as production.
type TestConfig struct {
	OpenRouterAPIKey string
	OpenAIAPIKey     string
	MistralAPIKey    string
	OllamaURL        string
}

// LoadTestConfig loads provider settings from environment variables.
// Returns a TestConfig with whatever values are available.
func LoadTestConfig() TestConfig {
	return TestConfig{
		OpenRouterAPIKey: os.Getenv("OPENROUTER_API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		MistralAPIKey:    os.Getenv("MISTRAL_API_KEY"),
		OllamaURL:        os.Getenv("OLLAMA_URL"),
	}
}

// HasAnyLLM returns true if any LLM provider is configured.
func (c TestConfig) HasAnyLLM() bool {
	return c.OpenRouterAPIKey != "" || c.OpenAIAPIKey != "" || c.OllamaURL != ""
}

// ToRegistryConfig converts test config to a RegistryConfig for the provider registry.
// Only includes providers that are configured.
func (c TestConfig) ToRegistryConfig() RegistryConfig {
	cfg := RegistryConfig{
		OCRProviders: make(map[string]OCRProviderConfig),
		LLMProviders: make(map[string]LLMProviderConfig),
	}

	if c.OpenRouterAPIKey != "" {
		cfg.LLMProviders[OpenRouterName] = LLMProviderConfig{
			Type:      OpenRouterName,
			APIKey:    c.OpenRouterAPIKey,
			RateLimit: 1,
			Enabled:   true,
		}
	}
	if c.OpenAIAPIKey != "" {
		cfg.LLMProviders[OpenAIName] = LLMProviderConfig{
			Type:      OpenAIName,
			APIKey:    c.OpenAIAPIKey,
			RateLimit: 1,
			Enabled:   true,
		}
	}
	if c.OllamaURL != "" {
		cfg.LLMProviders[OllamaName] = LLMProviderConfig{
			Type:    OllamaName,
			URL:     c.OllamaURL,
			Enabled: true,
		}
	}
	if c.MistralAPIKey != "" {
		cfg.OCRProviders[MistralOCRName] = OCRProviderConfig{
			Type:      MistralOCRName,
			APIKey:    c.MistralAPIKey,
			RateLimit: 1,
			Enabled:   true,
		}
	}

	return cfg
}
