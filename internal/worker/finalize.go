package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/seanbetts/sidebar-sub000/internal/db"
	"github.com/seanbetts/sidebar-sub000/internal/stage"
	"github.com/seanbetts/sidebar-sub000/internal/storage"
)

// finalize commits the staged derivatives through the Committer and, on
// success, removes the staging area. A pgx.ErrNoRows from the commit means
// the guarded finalize update matched nothing and is passed through so the
// caller can resolve why.
func (w *Worker) finalize(ctx context.Context, job *db.ProcessingJob, outputs map[db.JobStage]*stage.Output, area *stage.Area) error {
	staged, err := collectStaged(outputs)
	if err != nil {
		return err
	}

	updated, err := w.Committer.Commit(ctx, job, w.ID, staged)
	if err != nil {
		return err
	}

	slog.Info("job finalized",
		"job_id", uuid.UUID(updated.ID.Bytes),
		"file_id", uuid.UUID(updated.FileID.Bytes),
		"derivatives", len(staged))

	if err := area.Cleanup(); err != nil {
		slog.Warn("staging cleanup failed", "job_id", uuid.UUID(job.ID.Bytes), "error", err)
	}
	return nil
}

// collectStaged assembles the derivative set in a stable order. Every kind
// must be present: the content stages either produce their artifact or
// error, so a gap here means staged files were lost under us.
func collectStaged(outputs map[db.JobStage]*stage.Output) ([]StagedDerivative, error) {
	wanted := []struct {
		stage db.JobStage
		kind  db.DerivativeKind
	}{
		{db.JobStageConverting, db.DerivativeKindViewer},
		{db.JobStageSummarizing, db.DerivativeKindSummary},
		{db.JobStageThumbnailing, db.DerivativeKindThumbnail},
	}

	staged := make([]StagedDerivative, 0, len(wanted))
	for _, wnt := range wanted {
		out := outputs[wnt.stage]
		if out == nil || out.Path == "" {
			return nil, stage.Retryable(stage.CodeTransientIO, "staged %s output is missing", wnt.kind)
		}
		staged = append(staged, StagedDerivative{Kind: wnt.kind, Path: out.Path, Mime: out.Mime})
	}
	return staged, nil
}

// Finalizer uploads staged derivatives to durable storage and records them
// together with the job's ready transition in one transaction. Readers of
// the derivatives table never see a partially finalized job: rows appear
// only in the same commit that flips the job to ready.
type Finalizer struct {
	DB    *db.DatabaseConnection
	Store storage.Store
}

func NewFinalizer(conn *db.DatabaseConnection, store storage.Store) *Finalizer {
	return &Finalizer{DB: conn, Store: store}
}

type upload struct {
	StagedDerivative
	key  string
	size int64
	hash string
}

func (f *Finalizer) Commit(ctx context.Context, job *db.ProcessingJob, workerID string, staged []StagedDerivative) (*db.ProcessingJob, error) {
	fileID := uuid.UUID(job.FileID.Bytes)
	jobID := uuid.UUID(job.ID.Bytes)

	// Storage first. Keys are job-scoped, so these uploads never collide
	// with a previous job's committed objects: they are invisible until
	// the derivative rows commit, and removing them on failure can never
	// touch an object an existing ready row points at.
	uploads := make([]upload, 0, len(staged))
	fail := func(err error) (*db.ProcessingJob, error) {
		for _, up := range uploads {
			if derr := f.Store.Delete(ctx, up.key); derr != nil {
				slog.Warn("failed to delete orphaned upload", "key", up.key, "error", derr)
			}
		}
		return nil, err
	}

	for _, sd := range staged {
		key := derivativeKey(fileID, jobID, sd.Kind, sd.Path)
		size, hash, err := f.put(ctx, key, sd)
		if err != nil {
			return fail(stage.Retryable(stage.CodeStorageError, "upload %s: %v", sd.Kind, err))
		}
		uploads = append(uploads, upload{StagedDerivative: sd, key: key, size: size, hash: hash})
		slog.Info("uploaded derivative",
			"file_id", fileID,
			"kind", sd.Kind,
			"key", key,
			"size", humanize.Bytes(uint64(size)))
	}

	qtx, tx, err := f.DB.NewWithTX(ctx)
	if err != nil {
		return fail(stage.Retryable(stage.CodeStorageError, "begin finalize tx: %v", err))
	}
	defer tx.Rollback(ctx)

	// A file re-enqueued after a terminal job may already have a committed
	// derivative set. Replacing it in the same transaction keeps at most
	// one set per file: readers see the old set until the instant they see
	// the new one.
	superseded, err := qtx.DeleteDerivativesByFileID(ctx, job.FileID)
	if err != nil {
		return fail(stage.Retryable(stage.CodeStorageError, "delete superseded derivatives: %v", err))
	}

	for _, up := range uploads {
		_, err := qtx.InsertDerivative(ctx, &db.InsertDerivativeParams{
			ID:          pgtype.UUID{Bytes: uuid.New(), Valid: true},
			FileID:      job.FileID,
			JobID:       job.ID,
			Kind:        up.Kind,
			StorageKey:  up.key,
			Mime:        up.Mime,
			SizeBytes:   up.size,
			ContentHash: up.hash,
		})
		if err != nil {
			return fail(stage.Retryable(stage.CodeStorageError, "insert %s derivative: %v", up.Kind, err))
		}
	}

	updated, err := qtx.FinalizeProcessingJob(ctx, &db.FinalizeProcessingJobParams{ID: job.ID, WorkerID: workerID})
	if err != nil {
		// Includes pgx.ErrNoRows when the lease moved or the status
		// changed; the uploads are removed and the error passed up.
		return fail(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fail(stage.Retryable(stage.CodeStorageError, "commit finalize tx: %v", err))
	}

	for _, key := range staleKeys(superseded, uploads) {
		if err := f.Store.Delete(ctx, key); err != nil {
			slog.Warn("failed to delete superseded derivative object", "key", key, "error", err)
		}
	}
	return updated, nil
}

// staleKeys returns the storage keys of superseded derivative rows, minus
// any key the new upload set reuses. Deleted only after the transaction
// commits: if the commit fails the old rows survive and must keep their
// objects.
func staleKeys(superseded []*db.Derivative, uploads []upload) []string {
	reused := make(map[string]struct{}, len(uploads))
	for _, up := range uploads {
		reused[up.key] = struct{}{}
	}
	keys := make([]string, 0, len(superseded))
	for _, d := range superseded {
		if _, ok := reused[d.StorageKey]; ok {
			continue
		}
		keys = append(keys, d.StorageKey)
	}
	return keys
}

// put uploads one staged file, hashing it in a first pass and then handing
// the rewound file to the store. The seekable body lets the S3 client send
// a Content-Length instead of falling back to chunked transfer, which
// strict S3 implementations reject.
func (f *Finalizer) put(ctx context.Context, key string, sd StagedDerivative) (int64, string, error) {
	src, err := os.Open(sd.Path)
	if err != nil {
		return 0, "", fmt.Errorf("open staged file: %w", err)
	}
	defer src.Close()

	h := sha256.New()
	size, err := io.Copy(h, src)
	if err != nil {
		return 0, "", fmt.Errorf("hash staged file: %w", err)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return 0, "", fmt.Errorf("rewind staged file: %w", err)
	}

	if err := f.Store.Put(ctx, key, src, sd.Mime); err != nil {
		return 0, "", err
	}
	return size, hex.EncodeToString(h.Sum(nil)), nil
}

func derivativeKey(fileID, jobID uuid.UUID, kind db.DerivativeKind, stagedPath string) string {
	return fmt.Sprintf("derivatives/%s/%s/%s%s", fileID, jobID, kind, path.Ext(stagedPath))
}
