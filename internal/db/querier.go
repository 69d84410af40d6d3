package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

type Querier interface {
	CreateProcessingJob(ctx context.Context, arg *CreateProcessingJobParams) (*ProcessingJob, error)
	GetProcessingJob(ctx context.Context, id pgtype.UUID) (*ProcessingJob, error)
	GetProcessingJobByFileID(ctx context.Context, fileID pgtype.UUID) (*ProcessingJob, error)
	ClaimProcessingJob(ctx context.Context, arg *ClaimProcessingJobParams) (*ProcessingJob, error)
	HeartbeatProcessingJob(ctx context.Context, arg *HeartbeatProcessingJobParams) (JobStatus, error)
	AdvanceProcessingJobStage(ctx context.Context, arg *AdvanceProcessingJobStageParams) (*ProcessingJob, error)
	RecordStageRetry(ctx context.Context, arg *RecordStageRetryParams) (*ProcessingJob, error)
	MarkProcessingJobFailed(ctx context.Context, arg *MarkProcessingJobFailedParams) (*ProcessingJob, error)
	ReleaseProcessingJob(ctx context.Context, arg *ReleaseProcessingJobParams) error
	FinalizeProcessingJob(ctx context.Context, arg *FinalizeProcessingJobParams) (*ProcessingJob, error)
	PauseProcessingJobByFileID(ctx context.Context, fileID pgtype.UUID) (*ProcessingJob, error)
	ResumeProcessingJobByFileID(ctx context.Context, fileID pgtype.UUID) (*ProcessingJob, error)
	CancelProcessingJobByFileID(ctx context.Context, fileID pgtype.UUID) (*ProcessingJob, error)
	DeleteProcessingJobByFileID(ctx context.Context, fileID pgtype.UUID) (int64, error)
	FailExhaustedProcessingJobs(ctx context.Context) (int64, error)
	ReapTerminalLeases(ctx context.Context) ([]pgtype.UUID, error)
	ListenProcessingJobs(ctx context.Context) error
	InsertDerivative(ctx context.Context, arg *InsertDerivativeParams) (*Derivative, error)
	DeleteDerivativesByFileID(ctx context.Context, fileID pgtype.UUID) ([]*Derivative, error)
	ListDerivativesByFileID(ctx context.Context, fileID pgtype.UUID) ([]*Derivative, error)
}

var _ Querier = (*Queries)(nil)
