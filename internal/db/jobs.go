package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const processingJobColumns = `id, file_id, source_path, source_mime, status, stage,
	stage_attempts, total_attempts, max_stage_attempts, max_total_attempts,
	worker_id, lease_expires_at, last_error_code, last_error_message,
	created_at, updated_at, started_at, finished_at`

func scanProcessingJob(row pgx.Row) (*ProcessingJob, error) {
	var j ProcessingJob
	var status string
	var stage *string
	err := row.Scan(
		&j.ID, &j.FileID, &j.SourcePath, &j.SourceMime, &status, &stage,
		&j.StageAttempts, &j.TotalAttempts, &j.MaxStageAttempts, &j.MaxTotalAttempts,
		&j.WorkerID, &j.LeaseExpiresAt, &j.LastErrorCode, &j.LastErrorMessage,
		&j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Status = JobStatus(status)
	j.Stage = (*JobStage)(stage)
	return &j, nil
}

const createProcessingJob = `
INSERT INTO processing_jobs (id, file_id, source_path, source_mime, max_stage_attempts, max_total_attempts)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + processingJobColumns

type CreateProcessingJobParams struct {
	ID               pgtype.UUID
	FileID           pgtype.UUID
	SourcePath       string
	SourceMime       *string
	MaxStageAttempts int32
	MaxTotalAttempts int32
}

// CreateProcessingJob enqueues a job in queued status. The partial unique
// index on file_id rejects a second active job for the same file; callers
// should map that through IsUniqueViolationErr.
func (q *Queries) CreateProcessingJob(ctx context.Context, arg *CreateProcessingJobParams) (*ProcessingJob, error) {
	row := q.db.QueryRow(ctx, createProcessingJob,
		arg.ID, arg.FileID, arg.SourcePath, arg.SourceMime, arg.MaxStageAttempts, arg.MaxTotalAttempts)
	return scanProcessingJob(row)
}

const getProcessingJob = `
SELECT ` + processingJobColumns + `
FROM processing_jobs
WHERE id = $1`

func (q *Queries) GetProcessingJob(ctx context.Context, id pgtype.UUID) (*ProcessingJob, error) {
	return scanProcessingJob(q.db.QueryRow(ctx, getProcessingJob, id))
}

const getProcessingJobByFileID = `
SELECT ` + processingJobColumns + `
FROM processing_jobs
WHERE file_id = $1
ORDER BY created_at DESC
LIMIT 1`

func (q *Queries) GetProcessingJobByFileID(ctx context.Context, fileID pgtype.UUID) (*ProcessingJob, error) {
	return scanProcessingJob(q.db.QueryRow(ctx, getProcessingJobByFileID, fileID))
}

// ClaimProcessingJob atomically claims one claimable job: queued, or
// processing with an expired lease. FOR UPDATE SKIP LOCKED guarantees two
// workers can never claim the same row. Jobs past their total attempt
// budget are never claimed; FailExhaustedProcessingJobs sweeps those.
const claimProcessingJob = `
WITH candidate AS (
    SELECT id
    FROM processing_jobs
    WHERE (status = 'queued' OR (status = 'processing' AND lease_expires_at < now()))
      AND total_attempts < max_total_attempts
    ORDER BY created_at
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
UPDATE processing_jobs j
SET status           = 'processing',
    worker_id        = $1,
    lease_expires_at = now() + make_interval(secs => $2),
    total_attempts   = j.total_attempts + 1,
    stage            = COALESCE(j.stage, 'validating'),
    started_at       = COALESCE(j.started_at, now()),
    updated_at       = now()
FROM candidate
WHERE j.id = candidate.id
RETURNING j.id, j.file_id, j.source_path, j.source_mime, j.status, j.stage,
	j.stage_attempts, j.total_attempts, j.max_stage_attempts, j.max_total_attempts,
	j.worker_id, j.lease_expires_at, j.last_error_code, j.last_error_message,
	j.created_at, j.updated_at, j.started_at, j.finished_at`

type ClaimProcessingJobParams struct {
	WorkerID     string
	LeaseSeconds float64
}

func (q *Queries) ClaimProcessingJob(ctx context.Context, arg *ClaimProcessingJobParams) (*ProcessingJob, error) {
	row := q.db.QueryRow(ctx, claimProcessingJob, arg.WorkerID, arg.LeaseSeconds)
	return scanProcessingJob(row)
}

// HeartbeatProcessingJob extends the lease and reports the current status so
// the worker can observe pause/cancel at heartbeat time. pgx.ErrNoRows means
// the lease was reclaimed by another worker: abandon immediately.
const heartbeatProcessingJob = `
UPDATE processing_jobs
SET lease_expires_at = now() + make_interval(secs => $3),
    updated_at       = now()
WHERE id = $1 AND worker_id = $2
RETURNING status`

type HeartbeatProcessingJobParams struct {
	ID           pgtype.UUID
	WorkerID     string
	LeaseSeconds float64
}

func (q *Queries) HeartbeatProcessingJob(ctx context.Context, arg *HeartbeatProcessingJobParams) (JobStatus, error) {
	var status string
	err := q.db.QueryRow(ctx, heartbeatProcessingJob, arg.ID, arg.WorkerID, arg.LeaseSeconds).Scan(&status)
	return JobStatus(status), err
}

// AdvanceProcessingJobStage moves a job to the next stage, resetting the
// per-stage attempt counter and clearing error fields. Guarded by worker_id
// so a stale worker's stage advance is rejected with pgx.ErrNoRows.
const advanceProcessingJobStage = `
UPDATE processing_jobs
SET stage              = $3,
    stage_attempts     = 0,
    last_error_code    = NULL,
    last_error_message = NULL,
    source_mime        = COALESCE($4, source_mime),
    updated_at         = now()
WHERE id = $1 AND worker_id = $2 AND status = 'processing'
RETURNING ` + processingJobColumns

type AdvanceProcessingJobStageParams struct {
	ID       pgtype.UUID
	WorkerID string
	Stage    JobStage
	// SourceMime persists the validated content type so a reclaiming
	// worker does not depend on local stage output to know it.
	SourceMime *string
}

func (q *Queries) AdvanceProcessingJobStage(ctx context.Context, arg *AdvanceProcessingJobStageParams) (*ProcessingJob, error) {
	row := q.db.QueryRow(ctx, advanceProcessingJobStage, arg.ID, arg.WorkerID, string(arg.Stage), arg.SourceMime)
	return scanProcessingJob(row)
}

const recordStageRetry = `
UPDATE processing_jobs
SET stage_attempts     = stage_attempts + 1,
    last_error_code    = $3,
    last_error_message = $4,
    updated_at         = now()
WHERE id = $1 AND worker_id = $2 AND status = 'processing'
RETURNING ` + processingJobColumns

type RecordStageRetryParams struct {
	ID           pgtype.UUID
	WorkerID     string
	ErrorCode    string
	ErrorMessage string
}

func (q *Queries) RecordStageRetry(ctx context.Context, arg *RecordStageRetryParams) (*ProcessingJob, error) {
	row := q.db.QueryRow(ctx, recordStageRetry, arg.ID, arg.WorkerID, arg.ErrorCode, arg.ErrorMessage)
	return scanProcessingJob(row)
}

const markProcessingJobFailed = `
UPDATE processing_jobs
SET status             = 'failed',
    stage              = NULL,
    worker_id          = NULL,
    lease_expires_at   = NULL,
    last_error_code    = $3,
    last_error_message = $4,
    finished_at        = now(),
    updated_at         = now()
WHERE id = $1 AND worker_id = $2 AND status = 'processing'
RETURNING ` + processingJobColumns

type MarkProcessingJobFailedParams struct {
	ID           pgtype.UUID
	WorkerID     string
	ErrorCode    string
	ErrorMessage string
}

func (q *Queries) MarkProcessingJobFailed(ctx context.Context, arg *MarkProcessingJobFailedParams) (*ProcessingJob, error) {
	row := q.db.QueryRow(ctx, markProcessingJobFailed, arg.ID, arg.WorkerID, arg.ErrorCode, arg.ErrorMessage)
	return scanProcessingJob(row)
}

// ReleaseProcessingJob clears the caller's lease. A processing job goes back
// to queued; a paused or canceled job keeps its status.
const releaseProcessingJob = `
UPDATE processing_jobs
SET worker_id        = NULL,
    lease_expires_at = NULL,
    status           = CASE WHEN status = 'processing' THEN 'queued' ELSE status END,
    updated_at       = now()
WHERE id = $1 AND worker_id = $2`

type ReleaseProcessingJobParams struct {
	ID       pgtype.UUID
	WorkerID string
}

func (q *Queries) ReleaseProcessingJob(ctx context.Context, arg *ReleaseProcessingJobParams) error {
	_, err := q.db.Exec(ctx, releaseProcessingJob, arg.ID, arg.WorkerID)
	return err
}

// FinalizeProcessingJob is the last step of the finalize transaction: it
// flips the job to ready. Run it in the same transaction as the derivative
// inserts so readers never observe ready with a partial derivative set.
const finalizeProcessingJob = `
UPDATE processing_jobs
SET status           = 'ready',
    stage            = NULL,
    worker_id        = NULL,
    lease_expires_at = NULL,
    finished_at      = now(),
    updated_at       = now()
WHERE id = $1 AND worker_id = $2 AND status = 'processing'
RETURNING ` + processingJobColumns

type FinalizeProcessingJobParams struct {
	ID       pgtype.UUID
	WorkerID string
}

func (q *Queries) FinalizeProcessingJob(ctx context.Context, arg *FinalizeProcessingJobParams) (*ProcessingJob, error) {
	row := q.db.QueryRow(ctx, finalizeProcessingJob, arg.ID, arg.WorkerID)
	return scanProcessingJob(row)
}

// PauseProcessingJobByFileID pauses a queued or processing job. The leased
// worker, if any, observes the paused status at its next heartbeat or stage
// boundary and releases its lease.
const pauseProcessingJobByFileID = `
UPDATE processing_jobs
SET status     = 'paused',
    updated_at = now()
WHERE file_id = $1 AND status IN ('queued', 'processing')
RETURNING ` + processingJobColumns

func (q *Queries) PauseProcessingJobByFileID(ctx context.Context, fileID pgtype.UUID) (*ProcessingJob, error) {
	return scanProcessingJob(q.db.QueryRow(ctx, pauseProcessingJobByFileID, fileID))
}

const resumeProcessingJobByFileID = `
UPDATE processing_jobs
SET status           = 'queued',
    worker_id        = NULL,
    lease_expires_at = NULL,
    updated_at       = now()
WHERE file_id = $1 AND status = 'paused'
RETURNING ` + processingJobColumns

func (q *Queries) ResumeProcessingJobByFileID(ctx context.Context, fileID pgtype.UUID) (*ProcessingJob, error) {
	return scanProcessingJob(q.db.QueryRow(ctx, resumeProcessingJobByFileID, fileID))
}

// Cancel deliberately leaves any held lease in place: the leased worker
// observes the canceled status at its next heartbeat, drops its staged
// output, and releases the lease itself. Clearing worker_id here would make
// cancel indistinguishable from a lease reclaim on the worker side.
const cancelProcessingJobByFileID = `
UPDATE processing_jobs
SET status          = 'canceled',
    stage           = NULL,
    last_error_code = 'CANCELED',
    finished_at     = now(),
    updated_at      = now()
WHERE file_id = $1 AND status NOT IN ('ready', 'failed', 'canceled')
RETURNING ` + processingJobColumns

func (q *Queries) CancelProcessingJobByFileID(ctx context.Context, fileID pgtype.UUID) (*ProcessingJob, error) {
	return scanProcessingJob(q.db.QueryRow(ctx, cancelProcessingJobByFileID, fileID))
}

const deleteProcessingJobByFileID = `
DELETE FROM processing_jobs
WHERE file_id = $1 AND status IN ('ready', 'failed', 'canceled')`

// DeleteProcessingJobByFileID removes terminal jobs only. Returns the number
// of rows deleted; an active job is never deleted.
func (q *Queries) DeleteProcessingJobByFileID(ctx context.Context, fileID pgtype.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteProcessingJobByFileID, fileID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// FailExhaustedProcessingJobs permanently fails jobs that are claimable in
// principle but have spent their total attempt budget, so they stop
// clogging the queue.
const failExhaustedProcessingJobs = `
UPDATE processing_jobs
SET status             = 'failed',
    stage              = NULL,
    worker_id          = NULL,
    lease_expires_at   = NULL,
    last_error_code    = 'ATTEMPTS_EXHAUSTED',
    last_error_message = 'total attempt budget exhausted',
    finished_at        = now(),
    updated_at         = now()
WHERE (status = 'queued' OR (status = 'processing' AND lease_expires_at < now()))
  AND total_attempts >= max_total_attempts`

func (q *Queries) FailExhaustedProcessingJobs(ctx context.Context) (int64, error) {
	tag, err := q.db.Exec(ctx, failExhaustedProcessingJobs)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ReapTerminalLeases clears leases stranded on terminal rows. A worker that
// crashes after its job is canceled never observes the status change, so
// nothing else would release the lease. Waits for lease expiry so a live
// worker still gets to observe the status and clean up itself.
const reapTerminalLeases = `
UPDATE processing_jobs
SET worker_id        = NULL,
    lease_expires_at = NULL,
    updated_at       = now()
WHERE status IN ('ready', 'failed', 'canceled')
  AND lease_expires_at IS NOT NULL
  AND lease_expires_at < now()
RETURNING id`

func (q *Queries) ReapTerminalLeases(ctx context.Context) ([]pgtype.UUID, error) {
	rows, err := q.db.Query(ctx, reapTerminalLeases)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []pgtype.UUID
	for rows.Next() {
		var id pgtype.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListenProcessingJobs subscribes the connection to the worker wake channel.
// Must be called on a dedicated connection.
func (q *Queries) ListenProcessingJobs(ctx context.Context) error {
	_, err := q.db.Exec(ctx, `LISTEN processing_jobs`)
	return err
}
