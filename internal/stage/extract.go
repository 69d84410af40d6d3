package stage

import (
	"bytes"
	"context"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/seanbetts/sidebar-sub000/internal/db"
)

// ExtractExecutor pulls plain text out of the staged viewer document for
// the summarizing stage. Image sources carry no text; the stage still
// succeeds with an empty text file so the pipeline shape stays fixed.
type ExtractExecutor struct{}

func (e *ExtractExecutor) Execute(ctx context.Context, in *Input) (*Output, error) {
	viewer, ok := in.Prior[db.JobStageConverting]
	if !ok {
		return nil, Retryable(CodeTransientIO, "converting output missing")
	}

	var text []byte
	switch {
	case viewer.Mime == "application/pdf":
		extracted, err := extractPDFText(viewer.Path)
		if err != nil {
			return nil, Terminal(CodeCorruptInput, "extract pdf text: %v", err)
		}
		text = extracted

	case strings.HasPrefix(viewer.Mime, "text/"):
		b, err := os.ReadFile(viewer.Path)
		if err != nil {
			return nil, Retryable(CodeTransientIO, "read viewer text: %v", err)
		}
		text = b

	default:
		// Images and other non-textual viewers: nothing to extract.
		text = nil
	}

	p, err := in.Staging.WriteFile("text.txt", text)
	if err != nil {
		return nil, Retryable(CodeTransientIO, "%v", err)
	}
	return &Output{Path: p, Mime: "text/plain"}, nil
}

func extractPDFText(path string) ([]byte, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
