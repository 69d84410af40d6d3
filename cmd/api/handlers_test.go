package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/seanbetts/sidebar-sub000/internal/config"
	"github.com/seanbetts/sidebar-sub000/internal/db"
)

type fakeQueries struct {
	db.Querier

	job         *db.ProcessingJob
	derivatives []*db.Derivative
	createErr   error
	created     *db.CreateProcessingJobParams
	deleted     bool
}

func (f *fakeQueries) CreateProcessingJob(ctx context.Context, arg *db.CreateProcessingJobParams) (*db.ProcessingJob, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = arg
	return &db.ProcessingJob{
		ID:               arg.ID,
		FileID:           arg.FileID,
		SourcePath:       arg.SourcePath,
		SourceMime:       arg.SourceMime,
		Status:           db.JobStatusQueued,
		MaxStageAttempts: arg.MaxStageAttempts,
		MaxTotalAttempts: arg.MaxTotalAttempts,
	}, nil
}

func (f *fakeQueries) GetProcessingJobByFileID(ctx context.Context, fileID pgtype.UUID) (*db.ProcessingJob, error) {
	if f.job == nil {
		return nil, pgx.ErrNoRows
	}
	return f.job, nil
}

func (f *fakeQueries) PauseProcessingJobByFileID(ctx context.Context, fileID pgtype.UUID) (*db.ProcessingJob, error) {
	if f.job == nil || (f.job.Status != db.JobStatusQueued && f.job.Status != db.JobStatusProcessing) {
		return nil, pgx.ErrNoRows
	}
	f.job.Status = db.JobStatusPaused
	return f.job, nil
}

func (f *fakeQueries) ResumeProcessingJobByFileID(ctx context.Context, fileID pgtype.UUID) (*db.ProcessingJob, error) {
	if f.job == nil || f.job.Status != db.JobStatusPaused {
		return nil, pgx.ErrNoRows
	}
	f.job.Status = db.JobStatusQueued
	return f.job, nil
}

func (f *fakeQueries) CancelProcessingJobByFileID(ctx context.Context, fileID pgtype.UUID) (*db.ProcessingJob, error) {
	if f.job == nil || f.job.Status.Terminal() {
		return nil, pgx.ErrNoRows
	}
	f.job.Status = db.JobStatusCanceled
	return f.job, nil
}

func (f *fakeQueries) DeleteProcessingJobByFileID(ctx context.Context, fileID pgtype.UUID) (int64, error) {
	if f.job == nil || !f.job.Status.Terminal() {
		return 0, nil
	}
	f.deleted = true
	return 1, nil
}

func (f *fakeQueries) ListDerivativesByFileID(ctx context.Context, fileID pgtype.UUID) ([]*db.Derivative, error) {
	return f.derivatives, nil
}

type fakeStore struct {
	deletedKeys []string
}

func (f *fakeStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, key string) error {
	f.deletedKeys = append(f.deletedKeys, key)
	return nil
}

func request(t *testing.T, q *fakeQueries, store *fakeStore, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	conf := &config.Config{MaxStageAttempts: 3, MaxTotalAttempts: 10, StagingDir: t.TempDir()}
	e := newServer(q, store, conf)

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func apiTestJob(status db.JobStatus) *db.ProcessingJob {
	return &db.ProcessingJob{
		ID:     pgtype.UUID{Bytes: uuid.New(), Valid: true},
		FileID: pgtype.UUID{Bytes: uuid.New(), Valid: true},
		Status: status,
	}
}

func TestCreateJobReturnsCreated(t *testing.T) {
	q := &fakeQueries{}
	fileID := uuid.NewString()
	rec := request(t, q, &fakeStore{}, http.MethodPost, "/api/jobs",
		`{"file_id":"`+fileID+`","source_path":"/uploads/report.docx"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, q.created)
	require.Equal(t, int32(3), q.created.MaxStageAttempts)
	require.Equal(t, int32(10), q.created.MaxTotalAttempts)

	var resp jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, fileID, resp.FileID)
	require.Equal(t, string(db.JobStatusQueued), resp.Status)
}

func TestCreateJobRejectsBadFileID(t *testing.T) {
	rec := request(t, &fakeQueries{}, &fakeStore{}, http.MethodPost, "/api/jobs",
		`{"file_id":"not-a-uuid","source_path":"/uploads/report.docx"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateJobConflictsOnActiveDuplicate(t *testing.T) {
	q := &fakeQueries{createErr: &pgconn.PgError{Code: "23505"}}
	rec := request(t, q, &fakeStore{}, http.MethodPost, "/api/jobs",
		`{"file_id":"`+uuid.NewString()+`","source_path":"/uploads/report.docx"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestJobStatusNotFound(t *testing.T) {
	rec := request(t, &fakeQueries{}, &fakeStore{}, http.MethodGet, "/api/jobs/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobStatusReadyIncludesDerivatives(t *testing.T) {
	job := apiTestJob(db.JobStatusReady)
	q := &fakeQueries{
		job: job,
		derivatives: []*db.Derivative{
			{ID: pgtype.UUID{Bytes: uuid.New(), Valid: true}, Kind: db.DerivativeKindViewer, StorageKey: "derivatives/x/viewer.pdf", Mime: "application/pdf", SizeBytes: 1024},
		},
	}
	rec := request(t, q, &fakeStore{}, http.MethodGet, "/api/jobs/"+uuid.UUID(job.FileID.Bytes).String(), "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Derivatives, 1)
	require.Equal(t, "viewer", resp.Derivatives[0].Kind)
}

func TestPauseConflictsOnTerminalJob(t *testing.T) {
	job := apiTestJob(db.JobStatusFailed)
	q := &fakeQueries{job: job}
	rec := request(t, q, &fakeStore{}, http.MethodPost,
		"/api/jobs/"+uuid.UUID(job.FileID.Bytes).String()+"/pause", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestResumeRequiresPausedJob(t *testing.T) {
	job := apiTestJob(db.JobStatusPaused)
	q := &fakeQueries{job: job}
	rec := request(t, q, &fakeStore{}, http.MethodPost,
		"/api/jobs/"+uuid.UUID(job.FileID.Bytes).String()+"/resume", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, db.JobStatusQueued, job.Status)
}

func TestCancelActiveJob(t *testing.T) {
	job := apiTestJob(db.JobStatusProcessing)
	q := &fakeQueries{job: job}
	rec := request(t, q, &fakeStore{}, http.MethodPost,
		"/api/jobs/"+uuid.UUID(job.FileID.Bytes).String()+"/cancel", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, db.JobStatusCanceled, job.Status)
}

func TestDeleteRefusesActiveJob(t *testing.T) {
	job := apiTestJob(db.JobStatusProcessing)
	q := &fakeQueries{job: job}
	rec := request(t, q, &fakeStore{}, http.MethodDelete,
		"/api/jobs/"+uuid.UUID(job.FileID.Bytes).String(), "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.False(t, q.deleted)
}

func TestDeleteTerminalJobRemovesStoredDerivatives(t *testing.T) {
	job := apiTestJob(db.JobStatusReady)
	store := &fakeStore{}
	q := &fakeQueries{
		job: job,
		derivatives: []*db.Derivative{
			{Kind: db.DerivativeKindViewer, StorageKey: "derivatives/f/viewer.pdf"},
			{Kind: db.DerivativeKindSummary, StorageKey: "derivatives/f/summary.json"},
		},
	}
	rec := request(t, q, store, http.MethodDelete,
		"/api/jobs/"+uuid.UUID(job.FileID.Bytes).String(), "")

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, q.deleted)
	require.Equal(t, []string{"derivatives/f/viewer.pdf", "derivatives/f/summary.json"}, store.deletedKeys)
}
