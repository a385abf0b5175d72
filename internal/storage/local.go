package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
)

// Compile-time check that LocalStorage implements Storage.
var _ Storage = (*LocalStorage)(nil)

// LocalStorage keeps audio on local disk under an output directory.
type LocalStorage struct {
	tempDir   string
	outputDir string
}

// NewLocalStorage creates a LocalStorage. Empty directories default to
// locations under os.TempDir(). Both directories are created if missing.
func NewLocalStorage(tempDir, outputDir string) (*LocalStorage, error) {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "narration")
	}
	if outputDir == "" {
		outputDir = filepath.Join(os.TempDir(), "narration", "output")
	}

	for _, dir := range []string{tempDir, outputDir} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	abs, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, fmt.Errorf("resolve output directory: %w", err)
	}

	return &LocalStorage{tempDir: tempDir, outputDir: abs}, nil
}

// TempDir returns the temporary directory path.
func (s *LocalStorage) TempDir() string {
	return s.tempDir
}

// OutputDir returns the directory audio is written to.
func (s *LocalStorage) OutputDir() string {
	return s.outputDir
}

// SaveAudio writes data to <outputDir>/<key> and returns a file:// URL.
// The file appears atomically: it is written under a temporary name first.
func (s *LocalStorage) SaveAudio(ctx context.Context, key, _ string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(s.outputDir, filepath.FromSlash(cleaned))
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return "", fmt.Errorf("create audio directory: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}

	tmpName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close audio file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("move audio file: %w", err)
	}

	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dest)}).String(), nil
}
