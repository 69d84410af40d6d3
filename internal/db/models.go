package db

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusPaused     JobStatus = "paused"
	JobStatusReady      JobStatus = "ready"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCanceled   JobStatus = "canceled"
)

// Terminal reports whether no further automatic transition occurs.
func (s JobStatus) Terminal() bool {
	return s == JobStatusReady || s == JobStatusFailed || s == JobStatusCanceled
}

type JobStage string

const (
	JobStageValidating   JobStage = "validating"
	JobStageConverting   JobStage = "converting"
	JobStageExtracting   JobStage = "extracting"
	JobStageSummarizing  JobStage = "summarizing"
	JobStageThumbnailing JobStage = "thumbnailing"
	JobStageFinalizing   JobStage = "finalizing"
)

// StageOrder is the fixed processing order. Stages never run out of order
// and a retried stage re-executes itself only.
var StageOrder = []JobStage{
	JobStageValidating,
	JobStageConverting,
	JobStageExtracting,
	JobStageSummarizing,
	JobStageThumbnailing,
	JobStageFinalizing,
}

// NextStage returns the stage following s, or false for the last stage.
func NextStage(s JobStage) (JobStage, bool) {
	for i, cur := range StageOrder {
		if cur == s && i+1 < len(StageOrder) {
			return StageOrder[i+1], true
		}
	}
	return "", false
}

type DerivativeKind string

const (
	DerivativeKindViewer    DerivativeKind = "viewer"
	DerivativeKindSummary   DerivativeKind = "summary"
	DerivativeKindThumbnail DerivativeKind = "thumbnail"
)

type ProcessingJob struct {
	ID               pgtype.UUID
	FileID           pgtype.UUID
	SourcePath       string
	SourceMime       *string
	Status           JobStatus
	Stage            *JobStage
	StageAttempts    int32
	TotalAttempts    int32
	MaxStageAttempts int32
	MaxTotalAttempts int32
	WorkerID         *string
	LeaseExpiresAt   pgtype.Timestamptz
	LastErrorCode    *string
	LastErrorMessage *string
	CreatedAt        pgtype.Timestamptz
	UpdatedAt        pgtype.Timestamptz
	StartedAt        pgtype.Timestamptz
	FinishedAt       pgtype.Timestamptz
}

type Derivative struct {
	ID          pgtype.UUID
	FileID      pgtype.UUID
	JobID       pgtype.UUID
	Kind        DerivativeKind
	StorageKey  string
	Mime        string
	SizeBytes   int64
	ContentHash string
	CreatedAt   pgtype.Timestamptz
}
