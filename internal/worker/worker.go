// Package worker implements the poll–claim–process loop that drives
// processing jobs through their stages. Coordination happens entirely
// through conditional updates against the job store; workers share no
// in-memory state.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/seanbetts/sidebar-sub000/internal/config"
	"github.com/seanbetts/sidebar-sub000/internal/db"
	"github.com/seanbetts/sidebar-sub000/internal/stage"
)

// Committer performs the atomic finalization of a job's staged outputs.
type Committer interface {
	Commit(ctx context.Context, job *db.ProcessingJob, workerID string, staged []StagedDerivative) (*db.ProcessingJob, error)
}

// StagedDerivative is one artifact ready to be committed.
type StagedDerivative struct {
	Kind db.DerivativeKind
	Path string
	Mime string
}

type Worker struct {
	ID        string
	Queries   db.Querier
	Committer Committer
	Registry  stage.Registry

	StagingDir   string
	Lease        time.Duration
	Heartbeat    time.Duration
	StageTimeout time.Duration
	BackoffBase  time.Duration
}

func New(q db.Querier, c Committer, reg stage.Registry, cfg *config.Config) *Worker {
	return &Worker{
		ID:           workerIdentity(),
		Queries:      q,
		Committer:    c,
		Registry:     reg,
		StagingDir:   cfg.StagingDir,
		Lease:        time.Duration(cfg.LeaseSeconds) * time.Second,
		Heartbeat:    time.Duration(cfg.HeartbeatSeconds) * time.Second,
		StageTimeout: time.Duration(cfg.StageTimeoutSeconds) * time.Second,
		BackoffBase:  time.Duration(cfg.RetryBackoffBaseMS) * time.Millisecond,
	}
}

func workerIdentity() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// Run claims and processes jobs until ctx is done. wake is signaled when
// new work arrives; a fixed poll interval is the fallback.
func (w *Worker) Run(ctx context.Context, wake <-chan struct{}) {
	for {
		if ctx.Err() != nil {
			return
		}

		for {
			job, err := w.Queries.ClaimProcessingJob(ctx, &db.ClaimProcessingJobParams{
				WorkerID:     w.ID,
				LeaseSeconds: w.Lease.Seconds(),
			})
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					break
				}
				slog.Error("failed to claim job", "worker_id", w.ID, "error", err)
				time.Sleep(2 * time.Second)
				break
			}

			slog.Info("claimed job",
				"worker_id", w.ID,
				"job_id", uuid.UUID(job.ID.Bytes),
				"stage", derefStage(job.Stage),
				"total_attempts", job.TotalAttempts)
			w.process(ctx, job)
		}

		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-time.After(5 * time.Second):
		}
	}
}

func derefStage(s *db.JobStage) string {
	if s == nil {
		return ""
	}
	return string(*s)
}
