package storage

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLocalStorage(t *testing.T) {
	t.Run("creates directories if not exist", func(t *testing.T) {
		base := t.TempDir()
		tempDir := filepath.Join(base, "tmp")
		outDir := filepath.Join(base, "out")

		storage, err := NewLocalStorage(tempDir, outDir)
		if err != nil {
			t.Fatalf("NewLocalStorage() error = %v", err)
		}

		if storage.TempDir() != tempDir {
			t.Errorf("TempDir() = %v, want %v", storage.TempDir(), tempDir)
		}

		for _, dir := range []string{tempDir, outDir} {
			info, err := os.Stat(dir)
			if err != nil {
				t.Fatalf("directory not created: %v", err)
			}
			if !info.IsDir() {
				t.Errorf("expected %s to be a directory", dir)
			}
		}
	})

	t.Run("uses default directory when empty", func(t *testing.T) {
		storage, err := NewLocalStorage("", "")
		if err != nil {
			t.Fatalf("NewLocalStorage() error = %v", err)
		}

		expected := filepath.Join(os.TempDir(), "narration")
		if storage.TempDir() != expected {
			t.Errorf("TempDir() = %v, want %v", storage.TempDir(), expected)
		}
	})
}

func TestLocalStorage_SaveAudio(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	t.Run("writes file and returns file URL", func(t *testing.T) {
		loc, err := storage.SaveAudio(ctx, "generations/u1/gen_1.mp3", "audio/mpeg", bytes.NewReader([]byte("audio")))
		if err != nil {
			t.Fatalf("SaveAudio() error = %v", err)
		}

		u, err := url.Parse(loc)
		if err != nil {
			t.Fatalf("invalid URL %q: %v", loc, err)
		}
		if u.Scheme != "file" {
			t.Errorf("scheme = %q, want file", u.Scheme)
		}

		want := filepath.Join(storage.OutputDir(), "generations", "u1", "gen_1.mp3")
		if filepath.FromSlash(u.Path) != want {
			t.Errorf("path = %v, want %v", u.Path, want)
		}

		content, err := os.ReadFile(want)
		if err != nil {
			t.Fatalf("failed to read saved file: %v", err)
		}
		if string(content) != "audio" {
			t.Errorf("got %q, want %q", string(content), "audio")
		}
	})

	t.Run("overwrites existing object", func(t *testing.T) {
		for _, body := range []string{"first", "second"} {
			if _, err := storage.SaveAudio(ctx, "same.wav", "audio/wav", bytes.NewReader([]byte(body))); err != nil {
				t.Fatalf("SaveAudio() error = %v", err)
			}
		}
		content, _ := os.ReadFile(filepath.Join(storage.OutputDir(), "same.wav"))
		if string(content) != "second" {
			t.Errorf("got %q, want %q", string(content), "second")
		}
	})

	t.Run("leaves no temporary files", func(t *testing.T) {
		entries, err := os.ReadDir(storage.OutputDir())
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".upload-") {
				t.Errorf("unexpected leftover file %s", e.Name())
			}
		}
	})

	t.Run("rejects keys escaping the output directory", func(t *testing.T) {
		for _, key := range []string{"", "/etc/passwd", "../escape.mp3", "a/../../b.mp3", "."} {
			_, err := storage.SaveAudio(ctx, key, "", bytes.NewReader(nil))
			if !errors.Is(err, ErrInvalidKey) {
				t.Errorf("key %q: expected ErrInvalidKey, got %v", key, err)
			}
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := storage.SaveAudio(ctx, "x.mp3", "", bytes.NewReader([]byte("data")))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestCleanKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{"a/b.mp3", "a/b.mp3", false},
		{"a//b/./c.mp3", "a/b/c.mp3", false},
		{"a/../b.mp3", "b.mp3", false},
		{"..", "", true},
		{"a\\b.mp3", "", true},
	}

	for _, tt := range tests {
		got, err := cleanKey(tt.key)
		if (err != nil) != tt.wantErr {
			t.Errorf("cleanKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("cleanKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func setupTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	base := t.TempDir()

	storage, err := NewLocalStorage(filepath.Join(base, "tmp"), filepath.Join(base, "out"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return storage
}
