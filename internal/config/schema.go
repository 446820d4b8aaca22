package config

import "time"

// Config holds pdfmark configuration.
// Stored at: ~/.pdfmark/config.yaml
type Config struct {
	OCRProviders map[string]OCRProviderCfg `mapstructure:"ocr_providers" yaml:"ocr_providers"`
	LLMProviders map[string]LLMProviderCfg `mapstructure:"llm_providers" yaml:"llm_providers"`
	Defaults     DefaultsCfg               `mapstructure:"defaults" yaml:"defaults"`
	Pipeline     PipelineCfg               `mapstructure:"pipeline" yaml:"pipeline"`
	Preprocess   PreprocessCfg             `mapstructure:"preprocess" yaml:"preprocess"`
	Store        StoreCfg                  `mapstructure:"store" yaml:"store"`
	Artifacts    ArtifactsCfg              `mapstructure:"artifacts" yaml:"artifacts"`
}

// OCRProviderCfg configures an OCR provider.
type OCRProviderCfg struct {
	Type      string  `mapstructure:"type" yaml:"type"`             // "tesseract", "mistral-ocr"
	Model     string  `mapstructure:"model" yaml:"model,omitempty"` // hosted engines only
	URL       string  `mapstructure:"url" yaml:"url,omitempty"`
	APIKey    string  `mapstructure:"api_key" yaml:"api_key,omitempty"` // supports ${ENV_VAR} syntax
	Language  string  `mapstructure:"language" yaml:"language,omitempty"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second, 0 is unlimited
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
}

// LLMProviderCfg configures a vision model provider.
type LLMProviderCfg struct {
	Type      string  `mapstructure:"type" yaml:"type"` // "openrouter", "openai", "ollama"
	Model     string  `mapstructure:"model" yaml:"model,omitempty"`
	URL       string  `mapstructure:"url" yaml:"url,omitempty"`
	APIKey    string  `mapstructure:"api_key" yaml:"api_key,omitempty"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultsCfg selects the providers used by conversions.
type DefaultsCfg struct {
	OCRProvider string `mapstructure:"ocr_provider" yaml:"ocr_provider"` // empty disables OCR hints
	LLMProvider string `mapstructure:"llm_provider" yaml:"llm_provider"`
}

// PipelineCfg tunes the conversion pipeline.
type PipelineCfg struct {
	DPI                int           `mapstructure:"dpi" yaml:"dpi"`
	Renderer           string        `mapstructure:"renderer" yaml:"renderer"` // "fitz" or "pdftoppm"
	MaxConcurrentPages int           `mapstructure:"max_concurrent_pages" yaml:"max_concurrent_pages"`
	MaxAttempts        int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay          time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay           time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	RenderTimeout      time.Duration `mapstructure:"render_timeout" yaml:"render_timeout"`
	OCRTimeout         time.Duration `mapstructure:"ocr_timeout" yaml:"ocr_timeout"`
	LLMTimeout         time.Duration `mapstructure:"llm_timeout" yaml:"llm_timeout"`
	HeadingCutoff      int           `mapstructure:"heading_cutoff" yaml:"heading_cutoff"`
	ChunkLevel         int           `mapstructure:"chunk_level" yaml:"chunk_level"`
	SkipOCR            bool          `mapstructure:"skip_ocr" yaml:"skip_ocr"`
	TableText          bool          `mapstructure:"table_text" yaml:"table_text"` // rewrite tables as sentences
}

// PreprocessCfg tunes deskewing and column splitting.
type PreprocessCfg struct {
	MaxSkewDegrees  float64 `mapstructure:"max_skew_degrees" yaml:"max_skew_degrees"`
	SkewStepDegrees float64 `mapstructure:"skew_step_degrees" yaml:"skew_step_degrees"`
	GutterInkRatio  float64 `mapstructure:"gutter_ink_ratio" yaml:"gutter_ink_ratio"`
	GutterCoverage  float64 `mapstructure:"gutter_coverage" yaml:"gutter_coverage"`
	MinGutterWidth  float64 `mapstructure:"min_gutter_width" yaml:"min_gutter_width"`
	MinRegionWidth  float64 `mapstructure:"min_region_width" yaml:"min_region_width"`
	ReadingOrder    string  `mapstructure:"reading_order" yaml:"reading_order"` // "ltr" or "rtl"
}

// StoreCfg selects the state store.
type StoreCfg struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // "memory", "sqlite", "postgres"
	// DSN is a file path for sqlite and a connection string for postgres.
	// Empty sqlite DSN uses the home directory.
	DSN string `mapstructure:"dsn" yaml:"dsn"`
	// ManagedPostgres starts a local postgres container and ignores DSN.
	ManagedPostgres bool `mapstructure:"managed_postgres" yaml:"managed_postgres"`
}

// ArtifactsCfg selects where PDFs and results are kept.
type ArtifactsCfg struct {
	Backend string   `mapstructure:"backend" yaml:"backend"` // "fs", "minio", "memory"
	Path    string   `mapstructure:"path" yaml:"path"`       // fs root, empty uses the home directory
	Minio   MinioCfg `mapstructure:"minio" yaml:"minio"`
}

// MinioCfg configures the S3-compatible artifact backend.
type MinioCfg struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
	Region    string `mapstructure:"region" yaml:"region,omitempty"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OCRProviders: map[string]OCRProviderCfg{
			"tesseract": {
				Type:     "tesseract",
				Language: "eng",
				Enabled:  true,
			},
			"mistral": {
				Type:      "mistral-ocr",
				APIKey:    "${MISTRAL_API_KEY}",
				RateLimit: 6.0,
				Enabled:   true,
			},
		},
		LLMProviders: map[string]LLMProviderCfg{
			"openrouter": {
				Type:      "openrouter",
				APIKey:    "${OPENROUTER_API_KEY}",
				RateLimit: 150.0,
				Enabled:   true,
			},
			"openai": {
				Type:    "openai",
				APIKey:  "${OPENAI_API_KEY}",
				Enabled: true,
			},
			"ollama": {
				Type:    "ollama",
				URL:     "http://localhost:11434",
				Enabled: false,
			},
		},
		Defaults: DefaultsCfg{
			OCRProvider: "tesseract",
			LLMProvider: "openrouter",
		},
		Pipeline: PipelineCfg{
			DPI:                300,
			Renderer:           "fitz",
			MaxConcurrentPages: 4,
			MaxAttempts:        3,
			BaseDelay:          time.Second,
			MaxDelay:           30 * time.Second,
			RenderTimeout:      time.Minute,
			OCRTimeout:         2 * time.Minute,
			LLMTimeout:         5 * time.Minute,
			HeadingCutoff:      1,
			ChunkLevel:         3,
		},
		Preprocess: PreprocessCfg{
			MaxSkewDegrees:  5,
			SkewStepDegrees: 0.5,
			GutterInkRatio:  0.01,
			GutterCoverage:  0.8,
			MinGutterWidth:  0.02,
			MinRegionWidth:  0.15,
			ReadingOrder:    "ltr",
		},
		Store: StoreCfg{
			Driver: "sqlite",
		},
		Artifacts: ArtifactsCfg{
			Backend: "fs",
			Minio: MinioCfg{
				Bucket: "pdfmark",
			},
		},
	}
}

// GetOCRProvider returns an OCR provider config by name.
func (c *Config) GetOCRProvider(name string) (OCRProviderCfg, bool) {
	cfg, ok := c.OCRProviders[name]
	return cfg, ok
}

// GetLLMProvider returns an LLM provider config by name.
func (c *Config) GetLLMProvider(name string) (LLMProviderCfg, bool) {
	cfg, ok := c.LLMProviders[name]
	return cfg, ok
}

// EnabledOCRProviders returns all enabled OCR providers.
func (c *Config) EnabledOCRProviders() map[string]OCRProviderCfg {
	result := make(map[string]OCRProviderCfg)
	for name, cfg := range c.OCRProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}

// EnabledLLMProviders returns all enabled LLM providers.
func (c *Config) EnabledLLMProviders() map[string]LLMProviderCfg {
	result := make(map[string]LLMProviderCfg)
	for name, cfg := range c.LLMProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}

// MarshalYAML writes durations as strings ("30s") instead of nanoseconds.
func (p PipelineCfg) MarshalYAML() (interface{}, error) {
	return struct {
		DPI                int    `yaml:"dpi"`
		Renderer           string `yaml:"renderer"`
		MaxConcurrentPages int    `yaml:"max_concurrent_pages"`
		MaxAttempts        int    `yaml:"max_attempts"`
		BaseDelay          string `yaml:"base_delay"`
		MaxDelay           string `yaml:"max_delay"`
		RenderTimeout      string `yaml:"render_timeout"`
		OCRTimeout         string `yaml:"ocr_timeout"`
		LLMTimeout         string `yaml:"llm_timeout"`
		HeadingCutoff      int    `yaml:"heading_cutoff"`
		ChunkLevel         int    `yaml:"chunk_level"`
		SkipOCR            bool   `yaml:"skip_ocr"`
		TableText          bool   `yaml:"table_text"`
	}{
		DPI:                p.DPI,
		Renderer:           p.Renderer,
		MaxConcurrentPages: p.MaxConcurrentPages,
		MaxAttempts:        p.MaxAttempts,
		BaseDelay:          p.BaseDelay.String(),
		MaxDelay:           p.MaxDelay.String(),
		RenderTimeout:      p.RenderTimeout.String(),
		OCRTimeout:         p.OCRTimeout.String(),
		LLMTimeout:         p.LLMTimeout.String(),
		HeadingCutoff:      p.HeadingCutoff,
		ChunkLevel:         p.ChunkLevel,
		SkipOCR:            p.SkipOCR,
		TableText:          p.TableText,
	}, nil
}
