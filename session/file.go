package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// fileBackend keeps one JSON file per slot in a directory, the on-disk
// counterpart of browser local storage.
type fileBackend struct {
	mu  sync.Mutex
	dir string
}

func newFileBackend(dir string) (*fileBackend, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("%w: file store requires a directory", ErrInvalidConfig)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &fileBackend{dir: dir}, nil
}

func (b *fileBackend) path(key string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(key)
	return filepath.Join(b.dir, name+".json")
}

func (b *fileBackend) get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	val, err := os.ReadFile(b.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// set writes through a temp file so a crash never leaves a half written slot.
func (b *fileBackend) set(_ context.Context, key string, val []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	target := b.path(key)
	tmp, err := os.CreateTemp(b.dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(val); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), target)
}

func (b *fileBackend) del(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := os.Remove(b.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (b *fileBackend) close() error {
	return nil
}
