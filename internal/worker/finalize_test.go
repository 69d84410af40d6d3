package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/seanbetts/sidebar-sub000/internal/db"
)

type recordingStore struct {
	keys     []string
	bodies   map[string][]byte
	mimes    map[string]string
	seekable bool
	deleted  []string
}

func newRecordingStore() *recordingStore {
	return &recordingStore{bodies: map[string][]byte{}, mimes: map[string]string{}}
}

func (s *recordingStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	_, s.seekable = r.(io.Seeker)
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.keys = append(s.keys, key)
	s.bodies[key] = b
	s.mimes[key] = contentType
	return nil
}

func (s *recordingStore) Delete(ctx context.Context, key string) error {
	s.deleted = append(s.deleted, key)
	return nil
}

func TestPutUploadsSeekableBodyWithSizeAndHash(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "summary.json")
	content := []byte(`{"excerpt":"hello"}`)
	require.NoError(t, os.WriteFile(p, content, 0o644))

	store := newRecordingStore()
	f := &Finalizer{Store: store}

	size, hash, err := f.put(context.Background(), "derivatives/f/j/summary.json", StagedDerivative{
		Kind: db.DerivativeKindSummary,
		Path: p,
		Mime: "application/json",
	})
	require.NoError(t, err)

	require.Equal(t, int64(len(content)), size)
	sum := sha256.Sum256(content)
	require.Equal(t, hex.EncodeToString(sum[:]), hash)

	// The store must receive a seekable body so the S3 client can send a
	// Content-Length; a rewound file also means the full bytes arrive
	// despite the hashing pass before it.
	require.True(t, store.seekable)
	require.Equal(t, content, store.bodies["derivatives/f/j/summary.json"])
	require.Equal(t, "application/json", store.mimes["derivatives/f/j/summary.json"])
}

func TestDerivativeKeysAreJobScoped(t *testing.T) {
	fileID := uuid.New()
	job1 := uuid.New()
	job2 := uuid.New()

	k1 := derivativeKey(fileID, job1, db.DerivativeKindViewer, "/staging/j1/viewer.pdf")
	k2 := derivativeKey(fileID, job2, db.DerivativeKindViewer, "/staging/j2/viewer.pdf")

	// Reprocessing the same file must never overwrite the committed
	// objects of the previous job before the new set commits.
	require.NotEqual(t, k1, k2)
	require.Contains(t, k1, fileID.String())
	require.Contains(t, k1, job1.String())
}

func TestStaleKeysCoverSupersededSetOnly(t *testing.T) {
	superseded := []*db.Derivative{
		{Kind: db.DerivativeKindViewer, StorageKey: "derivatives/f/old/viewer.pdf"},
		{Kind: db.DerivativeKindSummary, StorageKey: "derivatives/f/old/summary.json"},
		{Kind: db.DerivativeKindThumbnail, StorageKey: "derivatives/f/old/thumbnail.jpg"},
	}
	uploads := []upload{
		{key: "derivatives/f/new/viewer.pdf"},
		{key: "derivatives/f/new/summary.json"},
		// Defensive: a key the new set reuses must survive.
		{key: "derivatives/f/old/thumbnail.jpg"},
	}

	keys := staleKeys(superseded, uploads)
	require.ElementsMatch(t, []string{
		"derivatives/f/old/viewer.pdf",
		"derivatives/f/old/summary.json",
	}, keys)
}

func TestStaleKeysEmptyOnFirstFinalize(t *testing.T) {
	uploads := []upload{{key: "derivatives/f/j/viewer.pdf"}}
	require.Empty(t, staleKeys(nil, uploads))
}
