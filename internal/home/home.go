package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the pdfmark home directory.
	DefaultDirName = ".pdfmark"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// EnvFileName holds KEY=VALUE secrets loaded before the config.
	EnvFileName = ".env"

	// DatabaseFileName is the default sqlite state database.
	DatabaseFileName = "pdfmark.db"

	artifactsDirName = "artifacts"
	postgresDirName  = "postgres"
)

// Dir represents the pdfmark home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.pdfmark).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnvPath returns the path to the .env file.
func (d *Dir) EnvPath() string {
	return filepath.Join(d.path, EnvFileName)
}

// DatabasePath returns the sqlite database used when no DSN is configured.
func (d *Dir) DatabasePath() string {
	return filepath.Join(d.path, DatabaseFileName)
}

// ArtifactsPath returns the root of the filesystem artifact store.
func (d *Dir) ArtifactsPath() string {
	return filepath.Join(d.path, artifactsDirName)
}

// PostgresDataPath returns the bind mount for the managed postgres container.
func (d *Dir) PostgresDataPath() string {
	return filepath.Join(d.path, postgresDirName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.ArtifactsPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create artifacts directory: %w", err)
	}
	return nil
}

// EnsurePostgresDataDir creates the managed postgres data directory.
func (d *Dir) EnsurePostgresDataDir() error {
	return os.MkdirAll(d.PostgresDataPath(), 0o700)
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
