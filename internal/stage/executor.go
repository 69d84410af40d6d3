package stage

import (
	"context"

	"github.com/google/uuid"

	"github.com/seanbetts/sidebar-sub000/internal/config"
	"github.com/seanbetts/sidebar-sub000/internal/db"
)

// Input carries everything a stage may read: the source file, the staging
// area, and the outputs of prior stages. Executors must not touch the job
// store or durable storage.
type Input struct {
	JobID      uuid.UUID
	FileID     uuid.UUID
	SourcePath string
	Staging    *Area
	Prior      map[db.JobStage]*Output
}

// SourceMime returns the content type detected by the validating stage, or
// "" before validation has run.
func (in *Input) SourceMime() string {
	if out, ok := in.Prior[db.JobStageValidating]; ok {
		return out.Mime
	}
	return ""
}

// Output references what a stage produced in the staging area. Kind is set
// only for outputs that become committed derivatives; intermediate outputs
// (detected mime, extracted text) leave it empty.
type Output struct {
	Kind db.DerivativeKind
	Path string
	Mime string
}

type Executor interface {
	Execute(ctx context.Context, in *Input) (*Output, error)
}

// Registry maps each content stage to its executor. Finalizing is not an
// executor; the worker's finalizer owns that step.
type Registry map[db.JobStage]Executor

func (r Registry) Get(s db.JobStage) (Executor, bool) {
	e, ok := r[s]
	return e, ok
}

func DefaultRegistry(cfg *config.Config) Registry {
	return Registry{
		db.JobStageValidating:   &ValidateExecutor{MaxSourceBytes: cfg.MaxSourceBytes},
		db.JobStageConverting:   &ConvertExecutor{Command: cfg.ConvertCommand},
		db.JobStageExtracting:   &ExtractExecutor{},
		db.JobStageSummarizing:  &SummarizeExecutor{},
		db.JobStageThumbnailing: &ThumbnailExecutor{Command: cfg.ThumbnailCommand},
	}
}
