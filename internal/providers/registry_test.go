package providers

import (
	"errors"
	"sync"
	"testing"
)

func TestRegistry(t *testing.T) {
	t.Run("register and get LLM", func(t *testing.T) {
		r := NewRegistry()
		mock := NewMockClient()

		r.RegisterLLM("test-llm", mock)

		client, err := r.GetLLM("test-llm")
		if err != nil {
			t.Fatalf("GetLLM() error = %v", err)
		}
		if client != mock {
			t.Error("got different client than registered")
		}
	})

	t.Run("register and get OCR", func(t *testing.T) {
		r := NewRegistry()
		mock := NewMockOCRProvider()

		r.RegisterOCR("test-ocr", mock)

		provider, err := r.GetOCR("test-ocr")
		if err != nil {
			t.Fatalf("GetOCR() error = %v", err)
		}
		if provider != mock {
			t.Error("got different provider than registered")
		}
	})

	t.Run("get nonexistent", func(t *testing.T) {
		r := NewRegistry()

		if _, err := r.GetLLM("nonexistent"); err == nil {
			t.Error("expected error for nonexistent LLM")
		}
		if _, err := r.GetOCR("nonexistent"); err == nil {
			t.Error("expected error for nonexistent OCR")
		}
	})

	t.Run("list providers sorted", func(t *testing.T) {
		r := NewRegistry()
		r.RegisterLLM("b", NewMockClient())
		r.RegisterLLM("a", NewMockClient())
		r.RegisterOCR("ocr1", NewMockOCRProvider())

		llmList := r.ListLLM()
		if len(llmList) != 2 || llmList[0] != "a" || llmList[1] != "b" {
			t.Errorf("ListLLM() = %v, want [a b]", llmList)
		}
		if got := r.ListOCR(); len(got) != 1 {
			t.Errorf("ListOCR() returned %d items, want 1", len(got))
		}
	})

	t.Run("concurrent access", func(t *testing.T) {
		r := NewRegistry()

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				r.RegisterLLM("concurrent-llm", NewMockClient())
			}()
			go func() {
				defer wg.Done()
				_, _ = r.GetLLM("concurrent-llm") // May fail, that's ok
			}()
		}
		wg.Wait()
	})
}

func TestNewRegistryFromConfig(t *testing.T) {
	t.Run("registers providers from config", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"openrouter": {Type: "openrouter", Model: "mistralai/mistral-small", APIKey: "k", Enabled: true},
				"openai":     {Type: "openai", APIKey: "k", Enabled: true},
				"local":      {Type: "ollama", Enabled: true},
			},
			OCRProviders: map[string]OCRProviderConfig{
				"mistral": {Type: "mistral-ocr", APIKey: "k", Enabled: true},
			},
		})

		for _, name := range []string{"openrouter", "openai", "local"} {
			if _, err := r.GetLLM(name); err != nil {
				t.Errorf("GetLLM(%q) error = %v", name, err)
			}
		}
		if _, err := r.GetOCR("mistral"); err != nil {
			t.Errorf("GetOCR(mistral) error = %v", err)
		}
	})

	t.Run("skips disabled providers", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"openrouter": {Type: "openrouter", APIKey: "k", Enabled: false},
			},
		})
		if len(r.ListLLM()) != 0 {
			t.Errorf("ListLLM() = %v, want empty", r.ListLLM())
		}
	})

	t.Run("skips hosted providers without API keys", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"openrouter": {Type: "openrouter", Enabled: true},
				"local":      {Type: "ollama", Enabled: true},
			},
			OCRProviders: map[string]OCRProviderConfig{
				"mistral": {Type: "mistral-ocr", Enabled: true},
			},
		})
		if got := r.ListLLM(); len(got) != 1 || got[0] != "local" {
			t.Errorf("ListLLM() = %v, want [local]", got)
		}
		if len(r.ListOCR()) != 0 {
			t.Errorf("ListOCR() = %v, want empty", r.ListOCR())
		}
	})

	t.Run("skips unknown types", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			OCRProviders: map[string]OCRProviderConfig{
				"weird": {Type: "no-such-engine", Enabled: true},
			},
		})
		if len(r.ListOCR()) != 0 {
			t.Errorf("ListOCR() = %v, want empty", r.ListOCR())
		}
	})

	t.Run("uses registered OCR factory", func(t *testing.T) {
		mock := NewMockOCRProvider()
		RegisterOCRType("test-engine", func(cfg OCRProviderConfig) (OCRProvider, error) {
			if cfg.Language != "deu" {
				return nil, errors.New("unexpected language")
			}
			return mock, nil
		})

		r := NewRegistryFromConfig(RegistryConfig{
			OCRProviders: map[string]OCRProviderConfig{
				"local": {Type: "test-engine", Language: "deu", Enabled: true},
			},
		})

		p, err := r.GetOCR("local")
		if err != nil {
			t.Fatalf("GetOCR() error = %v", err)
		}
		if p != mock {
			t.Error("factory result not registered")
		}
	})
}

func TestRegistry_Reload(t *testing.T) {
	base := RegistryConfig{
		LLMProviders: map[string]LLMProviderConfig{
			"openrouter": {Type: "openrouter", APIKey: "key-1", Enabled: true},
		},
	}

	t.Run("removes providers on reload", func(t *testing.T) {
		r := NewRegistryFromConfig(base)
		r.Reload(RegistryConfig{})

		if len(r.ListLLM()) != 0 {
			t.Errorf("ListLLM() = %v, want empty", r.ListLLM())
		}
	})

	t.Run("keeps manually registered providers", func(t *testing.T) {
		r := NewRegistryFromConfig(base)
		r.RegisterLLM("mock", NewMockClient())
		r.Reload(RegistryConfig{})

		if got := r.ListLLM(); len(got) != 1 || got[0] != "mock" {
			t.Errorf("ListLLM() = %v, want [mock]", got)
		}
	})

	t.Run("keeps providers with unchanged config", func(t *testing.T) {
		r := NewRegistryFromConfig(base)
		before, _ := r.GetLLM("openrouter")

		r.Reload(base)

		after, _ := r.GetLLM("openrouter")
		if before != after {
			t.Error("client was recreated despite unchanged config")
		}
	})

	t.Run("updates providers with changed API keys", func(t *testing.T) {
		r := NewRegistryFromConfig(base)
		before, _ := r.GetLLM("openrouter")

		r.Reload(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"openrouter": {Type: "openrouter", APIKey: "key-2", Enabled: true},
			},
		})

		after, _ := r.GetLLM("openrouter")
		if before == after {
			t.Error("client was not recreated after key change")
		}
		if after.(*OpenRouterClient).apiKey != "key-2" {
			t.Error("new client has old key")
		}
	})

	t.Run("concurrent reload is safe", func(t *testing.T) {
		r := NewRegistryFromConfig(base)
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				r.Reload(base)
			}()
			go func() {
				defer wg.Done()
				if c, err := r.GetLLM("openrouter"); err == nil {
					_ = c.Name()
				}
			}()
		}
		wg.Wait()
	})
}
