package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FSStore keeps derivatives on a local or mounted filesystem. Writes go
// through a temp file and rename so readers never see a partial object.
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("storage root is required for the fs backend")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) keyPath(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("empty storage key")
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FSStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	p, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return fmt.Errorf("create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close object %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("publish object %s: %w", key, err)
	}
	return nil
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	p, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

var _ Store = (*FSStore)(nil)
