package worker

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/seanbetts/sidebar-sub000/internal/db"
)

// SweepTerminalLeases releases leases stranded on terminal jobs and removes
// their staging directories. A job canceled while its worker was already
// dead keeps the lease forever otherwise, and nobody is left to drop its
// staged output.
func SweepTerminalLeases(ctx context.Context, q db.Querier, stagingDir string) {
	ids, err := q.ReapTerminalLeases(ctx)
	if err != nil {
		slog.Error("failed to reap terminal leases", "error", err)
		return
	}
	for _, id := range ids {
		dir := filepath.Join(stagingDir, uuid.UUID(id.Bytes).String())
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("staging cleanup failed", "job_id", uuid.UUID(id.Bytes), "error", err)
		}
	}
	if len(ids) > 0 {
		slog.Warn("released leases stranded on terminal jobs", "count", len(ids))
	}
}
