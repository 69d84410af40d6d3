package main

import (
	"time"

	"github.com/google/uuid"

	"github.com/seanbetts/sidebar-sub000/internal/db"
)

type jobResponse struct {
	ID               string               `json:"id"`
	FileID           string               `json:"file_id"`
	SourcePath       string               `json:"source_path"`
	SourceMime       *string              `json:"source_mime,omitempty"`
	Status           string               `json:"status"`
	Stage            *string              `json:"stage,omitempty"`
	StageAttempts    int32                `json:"stage_attempts"`
	TotalAttempts    int32                `json:"total_attempts"`
	MaxStageAttempts int32                `json:"max_stage_attempts"`
	MaxTotalAttempts int32                `json:"max_total_attempts"`
	WorkerID         *string              `json:"worker_id,omitempty"`
	LeaseExpiresAt   *time.Time           `json:"lease_expires_at,omitempty"`
	LastErrorCode    *string              `json:"last_error_code,omitempty"`
	LastErrorMessage *string              `json:"last_error_message,omitempty"`
	CreatedAt        *time.Time           `json:"created_at,omitempty"`
	UpdatedAt        *time.Time           `json:"updated_at,omitempty"`
	StartedAt        *time.Time           `json:"started_at,omitempty"`
	FinishedAt       *time.Time           `json:"finished_at,omitempty"`
	Derivatives      []derivativeResponse `json:"derivatives,omitempty"`
}

type derivativeResponse struct {
	ID          string     `json:"id"`
	JobID       string     `json:"job_id"`
	Kind        string     `json:"kind"`
	StorageKey  string     `json:"storage_key"`
	Mime        string     `json:"mime"`
	SizeBytes   int64      `json:"size_bytes"`
	ContentHash string     `json:"content_hash"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newJobResponse(j *db.ProcessingJob) *jobResponse {
	return &jobResponse{
		ID:               uuid.UUID(j.ID.Bytes).String(),
		FileID:           uuid.UUID(j.FileID.Bytes).String(),
		SourcePath:       j.SourcePath,
		SourceMime:       j.SourceMime,
		Status:           string(j.Status),
		Stage:            (*string)(j.Stage),
		StageAttempts:    j.StageAttempts,
		TotalAttempts:    j.TotalAttempts,
		MaxStageAttempts: j.MaxStageAttempts,
		MaxTotalAttempts: j.MaxTotalAttempts,
		WorkerID:         j.WorkerID,
		LeaseExpiresAt:   db.NilTimePtr(j.LeaseExpiresAt),
		LastErrorCode:    j.LastErrorCode,
		LastErrorMessage: j.LastErrorMessage,
		CreatedAt:        db.NilTimePtr(j.CreatedAt),
		UpdatedAt:        db.NilTimePtr(j.UpdatedAt),
		StartedAt:        db.NilTimePtr(j.StartedAt),
		FinishedAt:       db.NilTimePtr(j.FinishedAt),
	}
}

func newDerivativeResponses(items []*db.Derivative) []derivativeResponse {
	out := make([]derivativeResponse, 0, len(items))
	for _, d := range items {
		out = append(out, derivativeResponse{
			ID:          uuid.UUID(d.ID.Bytes).String(),
			JobID:       uuid.UUID(d.JobID.Bytes).String(),
			Kind:        string(d.Kind),
			StorageKey:  d.StorageKey,
			Mime:        d.Mime,
			SizeBytes:   d.SizeBytes,
			ContentHash: d.ContentHash,
			CreatedAt:   db.NilTimePtr(d.CreatedAt),
		})
	}
	return out
}
