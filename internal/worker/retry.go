package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/seanbetts/sidebar-sub000/internal/db"
	"github.com/seanbetts/sidebar-sub000/internal/stage"
)

const maxErrorMessageLen = 1000

// onStageFailure decides between retrying the current stage and failing the
// job. Attempt caps are checked before recording another attempt, so a job
// with max_stage_attempts=3 records at most three retries after the initial
// execution. When a retry is scheduled the backoff is slept here, inside
// the held lease, with the heartbeat loop keeping the lease alive. Returns
// the refreshed job row and whether the caller should retry the stage.
func (w *Worker) onStageFailure(ctx context.Context, job *db.ProcessingJob, serr *stage.Error, area *stage.Area, observed <-chan db.JobStatus) (*db.ProcessingJob, bool) {
	jobID := uuid.UUID(job.ID.Bytes)

	if !serr.Retryable {
		w.failJob(ctx, job, serr, area)
		return nil, false
	}
	if job.StageAttempts >= job.MaxStageAttempts || job.TotalAttempts >= job.MaxTotalAttempts {
		w.failJob(ctx, job, &stage.Error{
			Code:    stage.CodeAttemptsExhausted,
			Message: "retry attempts exhausted: " + serr.Message,
		}, area)
		return nil, false
	}

	updated, err := w.Queries.RecordStageRetry(ctx, &db.RecordStageRetryParams{
		ID:           job.ID,
		WorkerID:     w.ID,
		ErrorCode:    serr.Code,
		ErrorMessage: truncate(serr.Message, maxErrorMessageLen),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			w.abandonAfterRejectedWrite(ctx, job, area)
			return nil, false
		}
		slog.Error("failed to record stage retry", "job_id", jobID, "error", err)
		return nil, false
	}

	delay := w.backoffDelay(updated.StageAttempts)
	slog.Warn("stage failed, retrying",
		"job_id", jobID,
		"stage", derefStage(updated.Stage),
		"error_code", serr.Code,
		"error", serr.Message,
		"stage_attempts", updated.StageAttempts,
		"backoff", delay)

	select {
	case <-ctx.Done():
		return nil, false
	case st := <-observed:
		w.handleObserved(ctx, updated, st, area)
		return nil, false
	case <-time.After(delay):
	}
	return updated, true
}

// backoffDelay doubles per recorded attempt: base, 2*base, 4*base, ...
func (w *Worker) backoffDelay(stageAttempts int32) time.Duration {
	if stageAttempts < 1 {
		stageAttempts = 1
	}
	shift := stageAttempts - 1
	if shift > 16 {
		shift = 16
	}
	return w.BackoffBase << shift
}

// failJob marks the job failed and drops its staged output.
func (w *Worker) failJob(ctx context.Context, job *db.ProcessingJob, serr *stage.Error, area *stage.Area) {
	jobID := uuid.UUID(job.ID.Bytes)

	_, err := w.Queries.MarkProcessingJobFailed(ctx, &db.MarkProcessingJobFailedParams{
		ID:           job.ID,
		WorkerID:     w.ID,
		ErrorCode:    serr.Code,
		ErrorMessage: truncate(serr.Message, maxErrorMessageLen),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			w.abandonAfterRejectedWrite(ctx, job, area)
			return
		}
		slog.Error("failed to mark job failed", "job_id", jobID, "error", err)
		return
	}

	slog.Warn("job failed",
		"job_id", jobID,
		"stage", derefStage(job.Stage),
		"error_code", serr.Code,
		"error", serr.Message)

	if err := area.Cleanup(); err != nil {
		slog.Warn("staging cleanup failed", "job_id", jobID, "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
