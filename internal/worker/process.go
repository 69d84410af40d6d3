package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/seanbetts/sidebar-sub000/internal/db"
	"github.com/seanbetts/sidebar-sub000/internal/stage"
)

// process drives one claimed job through its remaining stages. It returns
// when the job reaches a terminal state, is paused, or the lease is lost.
func (w *Worker) process(ctx context.Context, job *db.ProcessingJob) {
	jobID := uuid.UUID(job.ID.Bytes)
	area := stage.NewArea(w.StagingDir, jobID)

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	observed := make(chan db.JobStatus, 1)
	go w.heartbeatLoop(hbCtx, job, observed)

	outputs := rehydrateOutputs(job, area)

	stored := db.JobStageValidating
	if job.Stage != nil {
		stored = *job.Stage
	}

	// After a reclaim from a crashed worker, staged outputs of earlier
	// stages may be gone. Re-execute locally from the first missing one;
	// the stored stage never regresses, and re-execution writes only to
	// the staging area.
	cur := stored
	for _, s := range db.StageOrder {
		if s == stored {
			break
		}
		if outputs[s] == nil {
			cur = s
			break
		}
	}

	for {
		// Cooperative checkpoint at every stage boundary.
		select {
		case st := <-observed:
			w.handleObserved(ctx, job, st, area)
			return
		default:
		}
		if ctx.Err() != nil {
			return
		}

		if cur == db.JobStageFinalizing {
			err := w.finalize(ctx, job, outputs, area)
			if err == nil {
				return
			}
			if errors.Is(err, pgx.ErrNoRows) {
				w.abandonAfterRejectedWrite(ctx, job, area)
				return
			}
			updated, retry := w.onStageFailure(ctx, job, stage.Classify(err), area, observed)
			if !retry {
				return
			}
			job = updated
			continue
		}

		exec, ok := w.Registry.Get(cur)
		if !ok {
			w.failJob(ctx, job, stage.Terminal(stage.CodeConverterFailed, "no executor registered for stage %s", cur), area)
			return
		}

		in := &stage.Input{
			JobID:      jobID,
			FileID:     uuid.UUID(job.FileID.Bytes),
			SourcePath: job.SourcePath,
			Staging:    area,
			Prior:      outputs,
		}

		out, err := w.executeStage(ctx, exec, in)
		if err != nil {
			updated, retry := w.onStageFailure(ctx, job, stage.Classify(err), area, observed)
			if !retry {
				return
			}
			job = updated
			continue
		}

		outputs[cur] = out
		next, _ := db.NextStage(cur)

		if stageIndex(cur) < stageIndex(stored) {
			// Catching up to the stored stage after a reclaim; no
			// durable progress to record.
			cur = next
			continue
		}

		var mime *string
		if cur == db.JobStageValidating && out.Mime != "" {
			mime = &out.Mime
		}
		updated, err := w.Queries.AdvanceProcessingJobStage(ctx, &db.AdvanceProcessingJobStageParams{
			ID:         job.ID,
			WorkerID:   w.ID,
			Stage:      next,
			SourceMime: mime,
		})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				w.abandonAfterRejectedWrite(ctx, job, area)
				return
			}
			slog.Error("failed to advance stage", "job_id", jobID, "stage", cur, "error", err)
			return
		}

		slog.Info("stage complete", "job_id", jobID, "stage", cur, "next", next)
		job = updated
		stored = next
		cur = next
	}
}

// executeStage bounds a single stage execution by the configured timeout.
func (w *Worker) executeStage(ctx context.Context, exec stage.Executor, in *stage.Input) (*stage.Output, error) {
	sctx, cancel := context.WithTimeout(ctx, w.StageTimeout)
	defer cancel()
	return exec.Execute(sctx, in)
}

// heartbeatLoop extends the lease until the job leaves the processing
// state or the lease is reclaimed, reporting either through observed.
func (w *Worker) heartbeatLoop(ctx context.Context, job *db.ProcessingJob, observed chan<- db.JobStatus) {
	jobID := uuid.UUID(job.ID.Bytes)
	t := time.NewTicker(w.Heartbeat)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		status, err := w.Queries.HeartbeatProcessingJob(ctx, &db.HeartbeatProcessingJobParams{
			ID:           job.ID,
			WorkerID:     w.ID,
			LeaseSeconds: w.Lease.Seconds(),
		})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Another worker holds the lease now. Abandon.
				slog.Warn("heartbeat rejected, lease reclaimed", "worker_id", w.ID, "job_id", jobID)
				select {
				case observed <- "":
				default:
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
			// Transient heartbeat failures are tolerated: the lease
			// survives at least one missed beat.
			slog.Warn("heartbeat failed", "job_id", jobID, "error", err)
			continue
		}

		if status != db.JobStatusProcessing {
			select {
			case observed <- status:
			default:
			}
			return
		}
	}
}

// handleObserved reacts to a status change seen via heartbeat or a
// rejected write. An empty status means the lease was reclaimed.
func (w *Worker) handleObserved(ctx context.Context, job *db.ProcessingJob, st db.JobStatus, area *stage.Area) {
	jobID := uuid.UUID(job.ID.Bytes)

	switch st {
	case db.JobStatusPaused:
		// Keep staged outputs: completed stages are reused on resume.
		slog.Info("job paused, releasing lease", "job_id", jobID, "worker_id", w.ID)
		if err := w.Queries.ReleaseProcessingJob(ctx, &db.ReleaseProcessingJobParams{ID: job.ID, WorkerID: w.ID}); err != nil {
			slog.Warn("failed to release lease", "job_id", jobID, "error", err)
		}
	case db.JobStatusCanceled:
		slog.Info("job canceled, dropping staged output", "job_id", jobID, "worker_id", w.ID)
		if err := area.Cleanup(); err != nil {
			slog.Warn("staging cleanup failed", "job_id", jobID, "error", err)
		}
		if err := w.Queries.ReleaseProcessingJob(ctx, &db.ReleaseProcessingJobParams{ID: job.ID, WorkerID: w.ID}); err != nil {
			slog.Warn("failed to release lease", "job_id", jobID, "error", err)
		}
	default:
		// Coordination error: the losing worker abandons silently.
		slog.Warn("abandoning job", "job_id", jobID, "worker_id", w.ID, "observed_status", string(st))
	}
}

// abandonAfterRejectedWrite resolves why a worker_id-guarded write matched
// no row: either the lease moved on, or the job's status changed under us.
func (w *Worker) abandonAfterRejectedWrite(ctx context.Context, job *db.ProcessingJob, area *stage.Area) {
	jobID := uuid.UUID(job.ID.Bytes)

	cur, err := w.Queries.GetProcessingJob(ctx, job.ID)
	if err != nil {
		slog.Warn("stale write rejected, abandoning job", "job_id", jobID, "worker_id", w.ID)
		return
	}
	if cur.WorkerID == nil || *cur.WorkerID != w.ID {
		slog.Warn("stale write rejected, abandoning job", "job_id", jobID, "worker_id", w.ID)
		return
	}
	w.handleObserved(ctx, job, cur.Status, area)
}

// rehydrateOutputs rebuilds the prior-output map from the job row and any
// staged files that survived from a previous lease on this job.
func rehydrateOutputs(job *db.ProcessingJob, area *stage.Area) map[db.JobStage]*stage.Output {
	outputs := map[db.JobStage]*stage.Output{}

	if job.SourceMime != nil && *job.SourceMime != "" {
		outputs[db.JobStageValidating] = &stage.Output{Mime: *job.SourceMime}
	}

	viewerCandidates := []struct {
		name string
		mime string
	}{
		{"viewer.pdf", "application/pdf"},
		{"viewer.txt", "text/plain"},
		{"viewer.png", "image/png"},
		{"viewer.jpg", "image/jpeg"},
		{"viewer.gif", "image/gif"},
		{"viewer.webp", "image/webp"},
	}
	for _, c := range viewerCandidates {
		if p := area.Path(c.name); fileExists(p) {
			outputs[db.JobStageConverting] = &stage.Output{Kind: db.DerivativeKindViewer, Path: p, Mime: c.mime}
			break
		}
	}

	if p := area.Path("text.txt"); fileExists(p) {
		outputs[db.JobStageExtracting] = &stage.Output{Path: p, Mime: "text/plain"}
	}
	if p := area.Path("summary.json"); fileExists(p) {
		outputs[db.JobStageSummarizing] = &stage.Output{Kind: db.DerivativeKindSummary, Path: p, Mime: "application/json"}
	}

	thumbCandidates := []struct {
		name string
		mime string
	}{
		{"thumbnail.jpg", "image/jpeg"},
		{"thumbnail.png", "image/png"},
		{"thumbnail.gif", "image/gif"},
		{"thumbnail.webp", "image/webp"},
	}
	for _, c := range thumbCandidates {
		if p := area.Path(c.name); fileExists(p) {
			outputs[db.JobStageThumbnailing] = &stage.Output{Kind: db.DerivativeKindThumbnail, Path: p, Mime: c.mime}
			break
		}
	}

	return outputs
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir() && fi.Size() > 0
}

func stageIndex(s db.JobStage) int {
	for i, cur := range db.StageOrder {
		if cur == s {
			return i
		}
	}
	return -1
}
