package server

import (
	"context"
	"testing"
	"time"

	"github.com/jackzampolin/pdfmark/internal/api"
	"github.com/jackzampolin/pdfmark/internal/config"
	"github.com/jackzampolin/pdfmark/internal/dbcontainer"
	"github.com/jackzampolin/pdfmark/internal/home"
	"github.com/jackzampolin/pdfmark/internal/server/endpoints"
	"github.com/jackzampolin/pdfmark/internal/store"
	"github.com/jackzampolin/pdfmark/internal/testutil"
)

// TestServer_ManagedPostgres runs a conversion against a postgres container
// the server starts itself. Requires Docker.
func TestServer_ManagedPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	_ = testutil.RequireDocker(t)

	content := `
defaults:
  llm_provider: mock
  ocr_provider: mock-ocr
store:
  driver: postgres
  managed_postgres: true
artifacts:
  backend: memory
pipeline:
  base_delay: 10ms
  max_delay: 20ms
`
	cfg := testutil.NewServerConfig(t, content)
	pgPort, err := testutil.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	containerName := testutil.UniqueContainerName(t, "pg")

	mgr, err := config.NewManager(cfg.ConfigFile)
	if err != nil {
		t.Fatal(err)
	}
	h, err := home.New(cfg.HomePath)
	if err != nil {
		t.Fatal(err)
	}
	reg, _ := mockRegistry(0)
	srv, err := New(Config{
		Host:          cfg.Host,
		Port:          cfg.Port,
		ConfigManager: mgr,
		Home:          h,
		Registry:      reg,
		Logger:        cfg.Logger,
		Postgres: dbcontainer.Config{
			ContainerName: containerName,
			HostPort:      pgPort,
			Labels:        testutil.ContainerLabels(t),
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	if err := testutil.WaitForServer(cfg.URL(), 2*time.Minute); err != nil {
		cancel()
		<-done
		t.Fatalf("server did not start: %v", err)
	}

	status, err := testutil.GetStatus(cfg.URL())
	if err != nil {
		t.Fatal(err)
	}
	if status.Store.Driver != "postgres" || status.Store.Container != string(dbcontainer.StatusRunning) {
		t.Errorf("store status = %+v", status.Store)
	}

	client := api.NewClient(cfg.URL())
	var sub endpoints.SubmitConversionResponse
	if err := client.PostFile(context.Background(), "/api/conversions", "pg.pdf", testutil.MinimalPDF(2), nil, &sub); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if final := waitState(t, client, sub.ID); final.State != store.DocComplete {
		t.Errorf("state = %s (%s)", final.State, final.Error)
	}

	cancel()
	if err := testutil.WaitForShutdown(done, time.Minute); err != nil {
		t.Errorf("shutdown: %v", err)
	}

	pg, err := dbcontainer.New(dbcontainer.Config{ContainerName: containerName})
	if err != nil {
		t.Fatal(err)
	}
	defer pg.Close()
	st, err := pg.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st == dbcontainer.StatusRunning {
		t.Error("postgres still running after server shutdown")
	}
}
