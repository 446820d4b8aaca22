package svcctx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/pdfmark/internal/artifacts"
	"github.com/jackzampolin/pdfmark/internal/config"
	"github.com/jackzampolin/pdfmark/internal/dbcontainer"
	"github.com/jackzampolin/pdfmark/internal/home"
	"github.com/jackzampolin/pdfmark/internal/metrics"
	"github.com/jackzampolin/pdfmark/internal/pipeline"
	"github.com/jackzampolin/pdfmark/internal/preprocess"
	"github.com/jackzampolin/pdfmark/internal/providers"
	"github.com/jackzampolin/pdfmark/internal/providers/tesseract"
	"github.com/jackzampolin/pdfmark/internal/store"
)

// BuildConfig holds what Build needs to assemble the services.
type BuildConfig struct {
	Config *config.Manager
	Home   *home.Dir
	Logger *slog.Logger

	// Registry replaces the config-driven provider registry. Tests use it to
	// inject mocks.
	Registry *providers.Registry
	// Postgres overrides the container settings used for managed_postgres.
	Postgres dbcontainer.Config
}

// Build opens the state store and artifact backend named by the config,
// builds the provider registry and wires the orchestrator. The caller owns
// the result and must Close it.
func Build(ctx context.Context, cfg BuildConfig) (*Services, error) {
	if cfg.Config == nil {
		return nil, errors.New("config manager is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Home == nil {
		h, err := home.New("")
		if err != nil {
			return nil, err
		}
		cfg.Home = h
	}
	c := cfg.Config.Get()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Services{
		Config:  cfg.Config,
		Home:    cfg.Home,
		Metrics: metrics.NewRecorder(),
		Logger:  cfg.Logger,
	}

	registry := cfg.Registry
	if registry == nil {
		tesseract.Register()
		registry = providers.NewRegistry()
		registry.SetLogger(cfg.Logger)
		registry.Reload(c.ToProviderRegistryConfig())
		cfg.Config.OnChange(func(nc *config.Config) {
			registry.Reload(nc.ToProviderRegistryConfig())
			cfg.Logger.Info("provider registry reloaded from config")
		})
	}
	s.Registry = registry

	st, err := s.openStore(ctx, c.Store, cfg.Postgres)
	if err != nil {
		s.closeStore(ctx)
		return nil, err
	}
	s.Store = st

	arts, err := openArtifacts(ctx, c.Artifacts, cfg.Home)
	if err != nil {
		s.closeStore(ctx)
		return nil, err
	}
	s.Artifacts = arts

	orch, err := pipeline.New(PipelineConfig(c, st, arts,
		newRegistryOCR(registry, cfg.Config, s.Metrics, cfg.Logger),
		newRegistryLLM(registry, cfg.Config, s.Metrics, cfg.Logger),
		cfg.Logger))
	if err != nil {
		s.closeStore(ctx)
		return nil, err
	}
	s.Orchestrator = orch

	return s, nil
}

// PipelineConfig maps the pipeline and preprocess sections onto an
// orchestrator config.
func PipelineConfig(c *config.Config, st store.Store, arts artifacts.Store, ocr pipeline.Extractor, llm pipeline.Transcriber, logger *slog.Logger) pipeline.Config {
	p := c.Pipeline
	var tables pipeline.TableWriter
	if tw, ok := llm.(pipeline.TableWriter); ok {
		tables = tw
	}
	return pipeline.Config{
		Store:     st,
		Artifacts: arts,
		OCR:       ocr,
		LLM:       llm,
		Tables:    tables,
		Preprocess: preprocess.Config{
			MaxSkewDegrees:  c.Preprocess.MaxSkewDegrees,
			SkewStepDegrees: c.Preprocess.SkewStepDegrees,
			GutterInkRatio:  c.Preprocess.GutterInkRatio,
			GutterCoverage:  c.Preprocess.GutterCoverage,
			MinGutterWidth:  c.Preprocess.MinGutterWidth,
			MinRegionWidth:  c.Preprocess.MinRegionWidth,
			ReadingOrder:    c.Preprocess.ReadingOrder,
			Logger:          logger,
		},
		Defaults: store.Options{
			DPI:          p.DPI,
			Renderer:     p.Renderer,
			ReadingOrder: c.Preprocess.ReadingOrder,
			SkipOCR:      p.SkipOCR,
			ChunkLevel:   p.ChunkLevel,
			TableText:    p.TableText,
		},
		HeadingCutoff:      p.HeadingCutoff,
		MaxConcurrentPages: p.MaxConcurrentPages,
		RenderTimeout:      p.RenderTimeout,
		Retry: pipeline.RetryConfig{
			MaxAttempts: p.MaxAttempts,
			BaseDelay:   p.BaseDelay,
			MaxDelay:    p.MaxDelay,
		},
		Logger: logger,
	}
}

func (s *Services) openStore(ctx context.Context, sc config.StoreCfg, pg dbcontainer.Config) (store.Store, error) {
	switch sc.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "postgres":
		dsn := sc.DSN
		if sc.ManagedPostgres {
			if pg.HomePath == "" && pg.ContainerName == "" {
				pg.HomePath = s.Home.Path()
			}
			if pg.DataPath == "" {
				if err := s.Home.EnsurePostgresDataDir(); err != nil {
					return nil, err
				}
				pg.DataPath = s.Home.PostgresDataPath()
			}
			mgr, err := dbcontainer.New(pg)
			if err != nil {
				return nil, err
			}
			s.Postgres = mgr
			status, _ := mgr.Status(ctx)
			s.Logger.Info("starting managed postgres", "container", mgr.ContainerName())
			if err := mgr.Start(ctx); err != nil {
				return nil, fmt.Errorf("start managed postgres: %w", err)
			}
			s.stopPostgres = status != dbcontainer.StatusRunning
			dsn = mgr.DSN()
		}
		return store.Open(ctx, store.DriverPostgres, dsn)
	default:
		dsn := sc.DSN
		if dsn == "" {
			if err := s.Home.EnsureExists(); err != nil {
				return nil, err
			}
			dsn = s.Home.DatabasePath()
		}
		return store.Open(ctx, sc.Driver, dsn)
	}
}

func openArtifacts(ctx context.Context, ac config.ArtifactsCfg, h *home.Dir) (artifacts.Store, error) {
	path := ac.Path
	if ac.Backend == artifacts.BackendFS && path == "" {
		path = h.ArtifactsPath()
	}
	return artifacts.New(ctx, artifacts.Config{
		Backend: ac.Backend,
		Path:    path,
		Minio: artifacts.MinioConfig{
			Endpoint:  config.ResolveEnvVars(ac.Minio.Endpoint),
			AccessKey: config.ResolveEnvVars(ac.Minio.AccessKey),
			SecretKey: config.ResolveEnvVars(ac.Minio.SecretKey),
			Bucket:    ac.Minio.Bucket,
			UseSSL:    ac.Minio.UseSSL,
			Region:    ac.Minio.Region,
		},
	})
}

// Close stops the orchestrator, leaving unfinished documents resumable, then
// releases the store and any postgres container this process started.
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	if s.Orchestrator != nil {
		if err := s.Orchestrator.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown orchestrator: %w", err))
		}
	}
	errs = append(errs, s.closeStore(ctx))
	return errors.Join(errs...)
}

func (s *Services) closeStore(ctx context.Context) error {
	var errs []error
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if s.Postgres != nil {
		if s.stopPostgres {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			if err := s.Postgres.Stop(stopCtx); err != nil {
				errs = append(errs, fmt.Errorf("stop postgres: %w", err))
			}
			cancel()
		}
		if err := s.Postgres.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
