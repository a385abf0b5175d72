// Package storage persists final narration audio and returns a retrievable
// location for it. Implementations exist for local disk and S3.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrInvalidKey is returned when an object key is empty or escapes the storage root.
var ErrInvalidKey = errors.New("storage: invalid object key")

// Storage persists audio objects.
type Storage interface {
	// SaveAudio stores data under key and returns a URL the audio can be fetched from.
	SaveAudio(ctx context.Context, key, contentType string, data io.Reader) (url string, err error)

	// TempDir returns the scratch directory used while producing audio.
	TempDir() string
}

// cleanKey normalises a slash-separated key and rejects keys that are empty,
// absolute or reach outside the root.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
