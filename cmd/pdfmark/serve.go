package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/pdfmark/internal/server"
)

var (
	serveHost  string
	servePort  string
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pdfmark server",
	Long: `Start the pdfmark HTTP server.

The server opens the state store named in the config, resumes any
conversions left unfinished by a previous run and accepts new ones over
HTTP. With store.managed_postgres the server starts a postgres container
and stops it again on shutdown.

The server provides:
  - /health             - Basic server health check
  - /ready              - Readiness check (includes the state store)
  - /status             - Providers and store details
  - /api/conversions    - Start, list, inspect, cancel and delete conversions

Examples:
  pdfmark serve                    # Start on default port 8080
  pdfmark serve --port 3000        # Start on custom port
  pdfmark serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := getHome()
		if err != nil {
			return err
		}
		mgr, err := loadConfig(h)
		if err != nil {
			return err
		}

		srv, err := server.New(server.Config{
			Host:          serveHost,
			Port:          servePort,
			ConfigManager: mgr,
			WatchConfig:   serveWatch,
			Home:          h,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "Reload providers when the config file changes")

	rootCmd.AddCommand(serveCmd)
}
