package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFSStore_PutAndDelete(t *testing.T) {
	root := t.TempDir()
	s, err := NewFSStore(root)
	require.NoError(t, err)

	ctx := context.Background()
	key := "derivatives/f1/viewer.pdf"
	require.NoError(t, s.Put(ctx, key, strings.NewReader("pdf bytes"), "application/pdf"))

	b, err := os.ReadFile(filepath.Join(root, "derivatives", "f1", "viewer.pdf"))
	require.NoError(t, err)
	require.Equal(t, "pdf bytes", string(b))

	require.NoError(t, s.Delete(ctx, key))
	require.NoFileExists(t, filepath.Join(root, "derivatives", "f1", "viewer.pdf"))

	// Deleting a missing object is not an error.
	require.NoError(t, s.Delete(ctx, key))
}

func TestFSStore_PutOverwritesAtomically(t *testing.T) {
	root := t.TempDir()
	s, err := NewFSStore(root)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k", strings.NewReader("v1"), "text/plain"))
	require.NoError(t, s.Put(ctx, "k", strings.NewReader("v2"), "text/plain"))

	b, err := os.ReadFile(filepath.Join(root, "k"))
	require.NoError(t, err)
	require.Equal(t, "v2", string(b))

	// No temp file debris left behind.
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestFSStore_PathEscapeStaysUnderRoot(t *testing.T) {
	root := t.TempDir()
	s, err := NewFSStore(root)
	require.NoError(t, err)

	err = s.Put(context.Background(), "../escape", strings.NewReader("x"), "text/plain")
	require.NoError(t, err) // cleaned to <root>/escape
	require.FileExists(t, filepath.Join(root, "escape"))
}
