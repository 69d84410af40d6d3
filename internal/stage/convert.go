package stage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/seanbetts/sidebar-sub000/internal/db"
)

// Converter exit code contract: 3 means the input type is not convertible.
// Everything else is treated as a transient converter failure.
const converterExitUnsupported = 3

// ConvertExecutor produces the viewer-friendly document. PDFs, text and
// images pass through unchanged; office formats go through the external
// converter command, invoked as `command <source> <output.pdf>`.
type ConvertExecutor struct {
	Command string
}

func (e *ConvertExecutor) Execute(ctx context.Context, in *Input) (*Output, error) {
	mime := in.SourceMime()

	switch {
	case mime == "application/pdf":
		p, err := copyIntoStaging(in.Staging, in.SourcePath, "viewer.pdf")
		if err != nil {
			return nil, Retryable(CodeTransientIO, "stage source pdf: %v", err)
		}
		return &Output{Kind: db.DerivativeKindViewer, Path: p, Mime: "application/pdf"}, nil

	case strings.HasPrefix(mime, "text/"):
		p, err := copyIntoStaging(in.Staging, in.SourcePath, "viewer.txt")
		if err != nil {
			return nil, Retryable(CodeTransientIO, "stage source text: %v", err)
		}
		return &Output{Kind: db.DerivativeKindViewer, Path: p, Mime: "text/plain"}, nil

	case strings.HasPrefix(mime, "image/"):
		p, err := copyIntoStaging(in.Staging, in.SourcePath, "viewer"+extForMime(mime))
		if err != nil {
			return nil, Retryable(CodeTransientIO, "stage source image: %v", err)
		}
		return &Output{Kind: db.DerivativeKindViewer, Path: p, Mime: mime}, nil
	}

	if e.Command == "" {
		return nil, Terminal(CodeUnsupportedType, "no converter configured for %q", mime)
	}

	if err := in.Staging.Ensure(); err != nil {
		return nil, Retryable(CodeTransientIO, "%v", err)
	}
	out := in.Staging.Path("viewer.pdf")
	if err := runCommand(ctx, e.Command, in.SourcePath, out); err != nil {
		if ctx.Err() != nil {
			return nil, err // classified as STAGE_TIMEOUT upstream
		}
		if commandExitCode(err) == converterExitUnsupported {
			return nil, Terminal(CodeUnsupportedType, "converter rejected input type %q", mime)
		}
		return nil, Retryable(CodeConverterFailed, "%v", err)
	}

	if fi, err := os.Stat(out); err != nil || fi.Size() == 0 {
		return nil, Retryable(CodeConverterFailed, "converter produced no output")
	}
	return &Output{Kind: db.DerivativeKindViewer, Path: out, Mime: "application/pdf"}, nil
}

func copyIntoStaging(a *Area, src, name string) (string, error) {
	if err := a.Ensure(); err != nil {
		return "", err
	}
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	dst := a.Path(name)
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return "", fmt.Errorf("copy to %s: %w", dst, err)
	}
	return dst, nil
}

func extForMime(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/jpeg":
		return ".jpg"
	default:
		return ".bin"
	}
}
