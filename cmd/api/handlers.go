package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/labstack/echo/v4"

	"github.com/seanbetts/sidebar-sub000/internal/config"
	"github.com/seanbetts/sidebar-sub000/internal/db"
	"github.com/seanbetts/sidebar-sub000/internal/storage"
)

type createJobRequest struct {
	FileID     string  `json:"file_id"`
	SourcePath string  `json:"source_path"`
	SourceMime *string `json:"source_mime"`
}

// handleJobCreate enqueues a processing job for a file. One active job per
// file: a second create while the first is still queued, processing, or
// paused is a conflict.
func handleJobCreate(q db.Querier, conf *config.Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		var req createJobRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		}

		var fileUUID pgtype.UUID
		if err := fileUUID.Scan(req.FileID); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid file id"})
		}
		if strings.TrimSpace(req.SourcePath) == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "source_path is required"})
		}

		job, err := q.CreateProcessingJob(ctx, &db.CreateProcessingJobParams{
			ID:               pgtype.UUID{Bytes: uuid.New(), Valid: true},
			FileID:           fileUUID,
			SourcePath:       req.SourcePath,
			SourceMime:       req.SourceMime,
			MaxStageAttempts: int32(conf.MaxStageAttempts),
			MaxTotalAttempts: int32(conf.MaxTotalAttempts),
		})
		if err != nil {
			if db.IsUniqueViolationErr(err) {
				return c.JSON(http.StatusConflict, errorResponse{Error: "an active job already exists for this file"})
			}
			slog.Error("failed to create job", "file_id", req.FileID, "error", err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to create job"})
		}

		return c.JSON(http.StatusCreated, newJobResponse(job))
	}
}

// handleJobStatus returns the latest job for a file, with its derivatives
// once the job is ready.
func handleJobStatus(q db.Querier) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		fileUUID, err := fileIDParam(c)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid file id"})
		}

		job, err := q.GetProcessingJobByFileID(ctx, fileUUID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return c.JSON(http.StatusNotFound, errorResponse{Error: "no job for this file"})
			}
			slog.Error("failed to load job", "file_id", c.Param("file_id"), "error", err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load job"})
		}

		resp := newJobResponse(job)
		if job.Status == db.JobStatusReady {
			derivs, err := q.ListDerivativesByFileID(ctx, fileUUID)
			if err != nil {
				slog.Error("failed to list derivatives", "file_id", c.Param("file_id"), "error", err)
				return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load derivatives"})
			}
			resp.Derivatives = newDerivativeResponses(derivs)
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func handleJobPause(q db.Querier) echo.HandlerFunc {
	return transitionHandler(q, "pause", func(c echo.Context, fileUUID pgtype.UUID) (*db.ProcessingJob, error) {
		return q.PauseProcessingJobByFileID(c.Request().Context(), fileUUID)
	})
}

func handleJobResume(q db.Querier) echo.HandlerFunc {
	return transitionHandler(q, "resume", func(c echo.Context, fileUUID pgtype.UUID) (*db.ProcessingJob, error) {
		return q.ResumeProcessingJobByFileID(c.Request().Context(), fileUUID)
	})
}

// handleJobCancel cancels a job in any non-terminal state. When a worker
// holds the lease it drops its own staged output; for an unleased job
// (queued or paused) nobody else will, so the staging area is removed here.
func handleJobCancel(q db.Querier, conf *config.Config) echo.HandlerFunc {
	return transitionHandler(q, "cancel", func(c echo.Context, fileUUID pgtype.UUID) (*db.ProcessingJob, error) {
		job, err := q.CancelProcessingJobByFileID(c.Request().Context(), fileUUID)
		if err != nil {
			return nil, err
		}
		if job.WorkerID == nil {
			dir := filepath.Join(conf.StagingDir, uuid.UUID(job.ID.Bytes).String())
			if err := os.RemoveAll(dir); err != nil {
				slog.Warn("failed to remove staging dir", "job_id", uuid.UUID(job.ID.Bytes), "error", err)
			}
		}
		return job, nil
	})
}

// transitionHandler wraps the guarded status transitions. A transition that
// matches no row is either a missing job or one in a state the transition
// does not apply to; the two get different status codes.
func transitionHandler(q db.Querier, name string, apply func(echo.Context, pgtype.UUID) (*db.ProcessingJob, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		fileUUID, err := fileIDParam(c)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid file id"})
		}

		job, err := apply(c, fileUUID)
		if err == nil {
			return c.JSON(http.StatusOK, newJobResponse(job))
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			slog.Error("job transition failed", "op", name, "file_id", c.Param("file_id"), "error", err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to " + name + " job"})
		}

		cur, err := q.GetProcessingJobByFileID(ctx, fileUUID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return c.JSON(http.StatusNotFound, errorResponse{Error: "no job for this file"})
			}
			slog.Error("failed to load job", "file_id", c.Param("file_id"), "error", err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load job"})
		}
		return c.JSON(http.StatusConflict, errorResponse{Error: "cannot " + name + " a job in status " + string(cur.Status)})
	}
}

// handleJobDelete removes a terminal job together with its stored
// derivatives. Active jobs must be canceled first.
func handleJobDelete(q db.Querier, store storage.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		fileUUID, err := fileIDParam(c)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid file id"})
		}

		job, err := q.GetProcessingJobByFileID(ctx, fileUUID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return c.JSON(http.StatusNotFound, errorResponse{Error: "no job for this file"})
			}
			slog.Error("failed to load job", "file_id", c.Param("file_id"), "error", err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load job"})
		}
		if !job.Status.Terminal() {
			return c.JSON(http.StatusConflict, errorResponse{Error: "cannot delete a job in status " + string(job.Status)})
		}

		derivs, err := q.ListDerivativesByFileID(ctx, fileUUID)
		if err != nil {
			slog.Error("failed to list derivatives", "file_id", c.Param("file_id"), "error", err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load derivatives"})
		}
		for _, d := range derivs {
			if err := store.Delete(ctx, d.StorageKey); err != nil {
				slog.Warn("failed to delete derivative object", "key", d.StorageKey, "error", err)
			}
		}

		n, err := q.DeleteProcessingJobByFileID(ctx, fileUUID)
		if err != nil {
			slog.Error("failed to delete job", "file_id", c.Param("file_id"), "error", err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to delete job"})
		}
		if n == 0 {
			return c.JSON(http.StatusConflict, errorResponse{Error: "job is no longer deletable"})
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func handleDerivativesList(q db.Querier) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		fileUUID, err := fileIDParam(c)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid file id"})
		}

		if _, err := q.GetProcessingJobByFileID(ctx, fileUUID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return c.JSON(http.StatusNotFound, errorResponse{Error: "no job for this file"})
			}
			slog.Error("failed to load job", "file_id", c.Param("file_id"), "error", err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load job"})
		}

		derivs, err := q.ListDerivativesByFileID(ctx, fileUUID)
		if err != nil {
			slog.Error("failed to list derivatives", "file_id", c.Param("file_id"), "error", err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load derivatives"})
		}
		return c.JSON(http.StatusOK, newDerivativeResponses(derivs))
	}
}

func fileIDParam(c echo.Context) (pgtype.UUID, error) {
	var fileUUID pgtype.UUID
	err := fileUUID.Scan(c.Param("file_id"))
	return fileUUID, err
}
