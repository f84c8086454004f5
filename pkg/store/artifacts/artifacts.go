// Package artifacts stores call recordings and transcripts.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var ErrNotFound = errors.New("artifacts: not found")

// Store writes objects under keys and reads them back by the URL Put
// returned.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
	Get(ctx context.Context, url string) ([]byte, error)
}

// cleanKey rejects keys that would escape the store root.
func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("artifact key is required")
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(key, "/") || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}
	return cleaned, nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}

// keyFromURL strips prefix from u and validates the remaining key.
func keyFromURL(u, prefix string) (string, bool) {
	if prefix == "" || !strings.HasPrefix(u, prefix) {
		return "", false
	}
	key, err := cleanKey(strings.TrimPrefix(u, prefix))
	if err != nil {
		return "", false
	}
	return key, true
}
