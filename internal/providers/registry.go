package providers

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// OCRFactory builds an OCR provider from its config. Engines that live in
// their own package (cgo-backed ones) register a factory with RegisterOCRType.
type OCRFactory func(cfg OCRProviderConfig) (OCRProvider, error)

var (
	factoriesMu  sync.RWMutex
	ocrFactories = map[string]OCRFactory{
		MistralOCRName: func(cfg OCRProviderConfig) (OCRProvider, error) {
			return NewMistralOCRClient(MistralOCRConfig{
				APIKey:    cfg.APIKey,
				BaseURL:   cfg.URL,
				Model:     cfg.Model,
				RateLimit: cfg.RateLimit,
			}), nil
		},
	}
)

// RegisterOCRType makes an OCR provider type available to config-driven
// registries.
func RegisterOCRType(typ string, f OCRFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	ocrFactories[typ] = f
}

// Registry holds references to LLM clients and OCR providers.
// It supports config-driven instantiation, hot-reload, and provides thread-safe access.
type Registry struct {
	mu           sync.RWMutex
	llmClients   map[string]LLMClient
	ocrProviders map[string]OCRProvider
	llmConfigs   map[string]LLMProviderConfig
	ocrConfigs   map[string]OCRProviderConfig
	logger       *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		llmClients:   make(map[string]LLMClient),
		ocrProviders: make(map[string]OCRProvider),
		llmConfigs:   make(map[string]LLMProviderConfig),
		ocrConfigs:   make(map[string]OCRProviderConfig),
		logger:       slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// RegisterLLM registers an LLM client by name.
func (r *Registry) RegisterLLM(name string, client LLMClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llmClients[name] = client
	delete(r.llmConfigs, name)
	r.logger.Info("registered LLM client", "name", name)
}

// RegisterOCR registers an OCR provider by name.
func (r *Registry) RegisterOCR(name string, provider OCRProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ocrProviders[name] = provider
	delete(r.ocrConfigs, name)
	r.logger.Info("registered OCR provider", "name", name)
}

// GetLLM returns an LLM client by name.
func (r *Registry) GetLLM(name string) (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.llmClients[name]
	if !ok {
		return nil, fmt.Errorf("LLM client not found: %s", name)
	}
	return client, nil
}

// GetOCR returns an OCR provider by name.
func (r *Registry) GetOCR(name string) (OCRProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.ocrProviders[name]
	if !ok {
		return nil, fmt.Errorf("OCR provider not found: %s", name)
	}
	return provider, nil
}

// ListLLM returns all registered LLM client names, sorted.
func (r *Registry) ListLLM() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.llmClients))
	for name := range r.llmClients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListOCR returns all registered OCR provider names, sorted.
func (r *Registry) ListOCR() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ocrProviders))
	for name := range r.ocrProviders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegistryConfig defines the providers to instantiate from config.
// This mirrors the config.Config structure for provider setup.
type RegistryConfig struct {
	OCRProviders map[string]OCRProviderConfig
	LLMProviders map[string]LLMProviderConfig
}

// OCRProviderConfig matches config.OCRProviderCfg with resolved API key.
type OCRProviderConfig struct {
	Type      string  // "tesseract", "mistral-ocr"
	Model     string  // Model name (hosted engines)
	URL       string  // Optional base URL override
	APIKey    string  // Resolved API key
	Language  string  // Engine language, e.g. "eng", "deu+eng"
	RateLimit float64 // Requests per second
	Enabled   bool
}

// LLMProviderConfig matches config.LLMProviderCfg with resolved API key.
type LLMProviderConfig struct {
	Type      string  // "openrouter", "openai", "ollama"
	Model     string  // Model name
	URL       string  // Optional base URL override
	APIKey    string  // Resolved API key
	RateLimit float64 // Requests per second
	Enabled   bool
}

// NewRegistryFromConfig creates a registry with providers based on configuration.
func NewRegistryFromConfig(cfg RegistryConfig) *Registry {
	r := NewRegistry()
	r.Reload(cfg)
	return r
}

// Reload updates the registry based on new configuration.
// Providers that are no longer configured are unregistered; providers whose
// settings changed are rebuilt. Providers added with RegisterLLM/RegisterOCR
// are left alone.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wantLLM := make(map[string]bool)
	wantOCR := make(map[string]bool)

	for name, provCfg := range cfg.LLMProviders {
		if !provCfg.Enabled || (llmNeedsKey(provCfg.Type) && provCfg.APIKey == "") {
			continue
		}
		wantLLM[name] = true

		existing, hasExisting := r.llmConfigs[name]
		if hasExisting && existing == provCfg {
			continue
		}
		client, err := createLLMClient(provCfg)
		if err != nil {
			r.logger.Warn("skipping LLM provider", "name", name, "type", provCfg.Type, "error", err)
			continue
		}
		r.llmClients[name] = client
		r.llmConfigs[name] = provCfg
		r.logger.Info("registered LLM client", "name", name, "type", provCfg.Type, "updated", hasExisting)
	}

	for name, provCfg := range cfg.OCRProviders {
		if !provCfg.Enabled || (ocrNeedsKey(provCfg.Type) && provCfg.APIKey == "") {
			continue
		}
		wantOCR[name] = true

		existing, hasExisting := r.ocrConfigs[name]
		if hasExisting && existing == provCfg {
			continue
		}
		provider, err := createOCRProvider(provCfg)
		if err != nil {
			r.logger.Warn("skipping OCR provider", "name", name, "type", provCfg.Type, "error", err)
			continue
		}
		r.ocrProviders[name] = provider
		r.ocrConfigs[name] = provCfg
		r.logger.Info("registered OCR provider", "name", name, "type", provCfg.Type, "updated", hasExisting)
	}

	for name := range r.llmConfigs {
		if !wantLLM[name] {
			delete(r.llmClients, name)
			delete(r.llmConfigs, name)
			r.logger.Info("unregistered LLM client", "name", name)
		}
	}
	for name := range r.ocrConfigs {
		if !wantOCR[name] {
			delete(r.ocrProviders, name)
			delete(r.ocrConfigs, name)
			r.logger.Info("unregistered OCR provider", "name", name)
		}
	}
}

func llmNeedsKey(typ string) bool {
	return typ != OllamaName
}

func ocrNeedsKey(typ string) bool {
	return typ == MistralOCRName
}

// createLLMClient creates an LLM client based on provider type.
func createLLMClient(cfg LLMProviderConfig) (LLMClient, error) {
	switch cfg.Type {
	case OpenRouterName:
		return NewOpenRouterClient(OpenRouterConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.URL,
			DefaultModel: cfg.Model,
			RPS:          cfg.RateLimit,
		}), nil
	case OpenAIName:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.URL,
			DefaultModel: cfg.Model,
			RPS:          cfg.RateLimit,
		}), nil
	case OllamaName:
		return NewOllamaClient(OllamaConfig{
			BaseURL:      cfg.URL,
			DefaultModel: cfg.Model,
			RPS:          cfg.RateLimit,
		}), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider type %q", cfg.Type)
	}
}

// createOCRProvider creates an OCR provider based on provider type.
func createOCRProvider(cfg OCRProviderConfig) (OCRProvider, error) {
	factoriesMu.RLock()
	f, ok := ocrFactories[cfg.Type]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown OCR provider type %q", cfg.Type)
	}
	return f(cfg)
}
