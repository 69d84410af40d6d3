package stage

import (
	"context"
	"os"
	"strings"

	"github.com/seanbetts/sidebar-sub000/internal/db"
)

// ThumbnailExecutor renders a preview image, invoking the external
// thumbnailer as `command <viewer> <output.jpg>`. Image sources fall back
// to a passthrough copy when no thumbnailer is configured.
type ThumbnailExecutor struct {
	Command string
}

func (e *ThumbnailExecutor) Execute(ctx context.Context, in *Input) (*Output, error) {
	viewer, ok := in.Prior[db.JobStageConverting]
	if !ok {
		return nil, Retryable(CodeTransientIO, "converting output missing")
	}

	if e.Command == "" {
		if strings.HasPrefix(viewer.Mime, "image/") {
			p, err := copyIntoStaging(in.Staging, viewer.Path, "thumbnail"+extForMime(viewer.Mime))
			if err != nil {
				return nil, Retryable(CodeTransientIO, "stage thumbnail copy: %v", err)
			}
			return &Output{Kind: db.DerivativeKindThumbnail, Path: p, Mime: viewer.Mime}, nil
		}
		return nil, Terminal(CodeConverterFailed, "no thumbnail command configured for %q", viewer.Mime)
	}

	if err := in.Staging.Ensure(); err != nil {
		return nil, Retryable(CodeTransientIO, "%v", err)
	}
	out := in.Staging.Path("thumbnail.jpg")
	if err := runCommand(ctx, e.Command, viewer.Path, out); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		if commandExitCode(err) == converterExitUnsupported {
			return nil, Terminal(CodeUnsupportedType, "thumbnailer rejected viewer type %q", viewer.Mime)
		}
		return nil, Retryable(CodeConverterFailed, "%v", err)
	}

	if fi, err := os.Stat(out); err != nil || fi.Size() == 0 {
		return nil, Retryable(CodeConverterFailed, "thumbnailer produced no output")
	}
	return &Output{Kind: db.DerivativeKindThumbnail, Path: out, Mime: "image/jpeg"}, nil
}
