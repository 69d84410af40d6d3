package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/seanbetts/sidebar-sub000/internal/db"
)

type sweepQueries struct {
	db.Querier

	ids []pgtype.UUID
	err error
}

func (s *sweepQueries) ReapTerminalLeases(ctx context.Context) ([]pgtype.UUID, error) {
	return s.ids, s.err
}

func TestSweepTerminalLeasesRemovesStagingDirs(t *testing.T) {
	root := t.TempDir()
	var ids []pgtype.UUID
	for range 2 {
		id := uuid.New()
		ids = append(ids, pgtype.UUID{Bytes: id, Valid: true})
		dir := filepath.Join(root, id.String())
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "viewer.pdf"), []byte("x"), 0o644))
	}
	// One reaped job whose staging dir is already gone.
	ids = append(ids, pgtype.UUID{Bytes: uuid.New(), Valid: true})

	SweepTerminalLeases(context.Background(), &sweepQueries{ids: ids}, root)

	for _, id := range ids {
		_, err := os.Stat(filepath.Join(root, uuid.UUID(id.Bytes).String()))
		require.True(t, os.IsNotExist(err))
	}
}

func TestSweepTerminalLeasesToleratesQueryFailure(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, uuid.NewString())
	require.NoError(t, os.MkdirAll(dir, 0o755))

	SweepTerminalLeases(context.Background(), &sweepQueries{err: errors.New("connection reset")}, root)

	// Nothing removed on a failed reap.
	_, err := os.Stat(dir)
	require.NoError(t, err)
}
