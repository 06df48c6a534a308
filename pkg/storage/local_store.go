package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStore implements BlobStore on the local filesystem for development and
// tests. Keys may contain slashes; each segment is sanitized.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates the base directory if missing.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

// Put writes the object under the base directory.
func (l *LocalStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	target := l.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create object: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("write object: %w", err)
	}
	return nil
}

// Get opens a stored object.
func (l *LocalStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(l.path(key))
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	return f, nil
}

// PublicURL returns a file URL; local mode has no presigning.
func (l *LocalStore) PublicURL(_ context.Context, key string, _ time.Duration) (string, error) {
	abs, err := filepath.Abs(l.path(key))
	if err != nil {
		return "", fmt.Errorf("resolve object path: %w", err)
	}
	return "file://" + abs, nil
}

// Delete removes a stored object. Missing objects are not an error.
func (l *LocalStore) Delete(_ context.Context, key string) error {
	err := os.Remove(l.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (l *LocalStore) path(key string) string {
	parts := strings.Split(key, "/")
	safe := make([]string, 0, len(parts))
	for _, part := range parts {
		part = safeSegment(part)
		if part != "" {
			safe = append(safe, part)
		}
	}
	return filepath.Join(append([]string{l.basePath}, safe...)...)
}

func safeSegment(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	name = strings.TrimSpace(name)
	if name == "." || name == ".." {
		return ""
	}
	return name
}
