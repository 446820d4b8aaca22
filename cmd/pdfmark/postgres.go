package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pdfmark/internal/dbcontainer"
	"github.com/jackzampolin/pdfmark/internal/home"
)

var postgresCmd = &cobra.Command{
	Use:   "postgres",
	Short: "Manage the postgres container",
	Long: `Manage the postgres container used when store.managed_postgres is set.

Data is persisted to ~/.pdfmark/postgres/. The server starts the container
on its own when needed; these commands manage it by hand.

Examples:
  pdfmark postgres start   # Start the container
  pdfmark postgres stop    # Stop the container (data preserved)
  pdfmark postgres status  # Check container status and print the DSN
  pdfmark postgres logs    # View container logs`,
}

var postgresStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the postgres container",
	Long: `Start the postgres container.

If the container doesn't exist, it will be created and started.
If it exists but is stopped, it will be started.
If it's already running, this is a no-op.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getPostgresManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Starting postgres...")
		if err := mgr.Start(cmd.Context()); err != nil {
			return fmt.Errorf("failed to start postgres: %w", err)
		}

		fmt.Printf("Postgres is running: %s\n", mgr.DSN())
		return nil
	},
}

var postgresStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the postgres container",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getPostgresManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Stopping postgres...")
		if err := mgr.Stop(cmd.Context()); err != nil {
			return fmt.Errorf("failed to stop postgres: %w", err)
		}

		fmt.Println("Postgres stopped")
		return nil
	},
}

var postgresStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show postgres container status",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getPostgresManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		status, err := mgr.Status(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		fmt.Printf("Container: %s\n", mgr.ContainerName())
		switch status {
		case dbcontainer.StatusRunning:
			fmt.Printf("Status: %s\n", status)
			fmt.Printf("DSN: %s\n", mgr.DSN())
		case dbcontainer.StatusStopped:
			fmt.Printf("Status: %s (use 'pdfmark postgres start' to start)\n", status)
		case dbcontainer.StatusNotFound:
			fmt.Printf("Status: %s (use 'pdfmark postgres start' to create)\n", status)
		default:
			fmt.Printf("Status: %s\n", status)
		}
		return nil
	},
}

var postgresLogsTail string

var postgresLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show postgres container logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getPostgresManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		logs, err := mgr.Logs(cmd.Context(), postgresLogsTail)
		if err != nil {
			return fmt.Errorf("failed to get logs: %w", err)
		}
		fmt.Print(logs)
		return nil
	},
}

var postgresRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the postgres container",
	Long: `Remove the postgres container.

This stops and removes the container. Data in ~/.pdfmark/postgres/
is NOT deleted - only the container is removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getPostgresManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Removing postgres container...")
		if err := mgr.Remove(cmd.Context()); err != nil {
			return fmt.Errorf("failed to remove container: %w", err)
		}
		fmt.Println("Postgres container removed (data preserved)")
		return nil
	},
}

var postgresWaitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for postgres to accept connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getPostgresManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		timeout, _ := cmd.Flags().GetDuration("timeout")
		fmt.Printf("Waiting for postgres (timeout: %s)...\n", timeout)
		if err := mgr.WaitReady(cmd.Context(), timeout); err != nil {
			return fmt.Errorf("postgres not ready: %w", err)
		}
		fmt.Println("Postgres is ready")
		return nil
	},
}

func init() {
	postgresCmd.AddCommand(postgresStartCmd)
	postgresCmd.AddCommand(postgresStopCmd)
	postgresCmd.AddCommand(postgresStatusCmd)
	postgresCmd.AddCommand(postgresLogsCmd)
	postgresCmd.AddCommand(postgresRemoveCmd)
	postgresCmd.AddCommand(postgresWaitCmd)

	postgresLogsCmd.Flags().StringVar(&postgresLogsTail, "tail", "100", "Number of lines to show from the end")
	postgresWaitCmd.Flags().Duration("timeout", 30*time.Second, "Timeout waiting for postgres")

	rootCmd.AddCommand(postgresCmd)
}

// getPostgresManager returns a container manager named and mounted the same
// way the server's managed postgres is.
func getPostgresManager() (*dbcontainer.Manager, error) {
	h, err := getHome()
	if err != nil {
		return nil, err
	}
	return postgresManager(h)
}

func postgresManager(h *home.Dir) (*dbcontainer.Manager, error) {
	if err := h.EnsurePostgresDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return dbcontainer.New(dbcontainer.Config{
		HomePath: h.Path(),
		DataPath: h.PostgresDataPath(),
	})
}
