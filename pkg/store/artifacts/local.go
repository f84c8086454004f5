package artifacts

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Local writes artifacts below a directory.
type Local struct {
	dir     string
	baseURL string
}

var _ Store = (*Local)(nil)

// NewLocal creates dir if needed. When baseURL is empty, Put returns file://
// URLs.
func NewLocal(dir, baseURL string) (*Local, error) {
	abs, err := filepath.Abs(strings.TrimSpace(dir))
	if err != nil {
		return nil, fmt.Errorf("artifact dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Local{dir: abs, baseURL: strings.TrimSpace(baseURL)}, nil
}

func (l *Local) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(l.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if l.baseURL != "" {
		return joinURL(l.baseURL, key), nil
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dst)}).String(), nil
}

func (l *Local) Get(ctx context.Context, u string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		key string
		ok  bool
	)
	if l.baseURL != "" {
		key, ok = keyFromURL(u, strings.TrimRight(l.baseURL, "/")+"/")
	}
	if !ok {
		key, ok = keyFromURL(u, (&url.URL{Scheme: "file", Path: filepath.ToSlash(l.dir) + "/"}).String())
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is not in this store", ErrNotFound, u)
	}
	data, err := os.ReadFile(filepath.Join(l.dir, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return data, err
}
