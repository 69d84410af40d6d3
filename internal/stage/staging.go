package stage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Area is the per-job scratch directory stage executors write into. Nothing
// under it is user-visible; the finalizer is the only component that copies
// staged bytes into durable storage.
type Area struct {
	dir string
}

func NewArea(root string, jobID uuid.UUID) *Area {
	return &Area{dir: filepath.Join(root, jobID.String())}
}

func (a *Area) Dir() string {
	return a.dir
}

func (a *Area) Ensure() error {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	return nil
}

func (a *Area) Path(name string) string {
	return filepath.Join(a.dir, name)
}

func (a *Area) WriteFile(name string, data []byte) (string, error) {
	if err := a.Ensure(); err != nil {
		return "", err
	}
	p := a.Path(name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write staged file %s: %w", name, err)
	}
	return p, nil
}

// Cleanup removes every staged artifact for the job. Safe to call when the
// area was never created.
func (a *Area) Cleanup() error {
	if err := os.RemoveAll(a.dir); err != nil {
		return fmt.Errorf("remove staging dir: %w", err)
	}
	return nil
}
