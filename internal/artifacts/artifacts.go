// Package artifacts stores the binary blobs of a conversion: the uploaded
// PDF, kept so interrupted runs can resume, and the assembled Markdown.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
)

// Backends accepted by New.
const (
	BackendFS     = "fs"
	BackendMinio  = "minio"
	BackendMemory = "memory"
)

var ErrNotFound = errors.New("artifact not found")

// Store is a flat key/blob store. Keys are slash separated.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key under prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// SourceKey is the key of a document's uploaded PDF.
func SourceKey(docID string) string { return docID + "/source.pdf" }

// ResultKey is the key of a document's assembled Markdown.
func ResultKey(docID string) string { return docID + "/result.md" }

// DocumentPrefix covers every artifact of a document.
func DocumentPrefix(docID string) string { return docID + "/" }

// Config selects and configures a backend.
type Config struct {
	Backend string
	Path    string // fs root
	Minio   MinioConfig
}

// New builds the backend named by cfg.Backend.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendFS, "":
		return NewFS(cfg.Path)
	case BackendMinio:
		m, err := NewMinio(cfg.Minio)
		if err != nil {
			return nil, err
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return m, nil
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.Backend)
	}
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key || strings.HasPrefix(key, "..") {
		return fmt.Errorf("invalid artifact key %q", key)
	}
	return nil
}

// Memory keeps artifacts in a map.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, key string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

func (m *Memory) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.blobs {
		if strings.HasPrefix(k, prefix) {
			delete(m.blobs, k)
		}
	}
	return nil
}

// Len returns the number of stored artifacts.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
