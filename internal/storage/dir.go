package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Dir serves objects from a local directory. Keys are slash separated paths
// relative to the root; keys that would leave the root are reported missing.
type Dir struct {
	root string
}

func NewDir(root string) (*Dir, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage directory is required")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat storage directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage path %s is not a directory", root)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) Fetch(ctx context.Context, key string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, transient(key, ctx.Err())
	default:
	}

	rel := filepath.FromSlash(key)
	if key == "" || !filepath.IsLocal(rel) {
		return nil, notFound(key, nil)
	}

	path := filepath.Join(d.root, rel)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(key, nil)
		}
		return nil, transient(key, err)
	}
	if info.IsDir() {
		return nil, notFound(key, nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(key, nil)
		}
		return nil, transient(key, err)
	}
	return data, nil
}
