package stage

import (
	"context"
	"encoding/json"
	"os"
	"time"
	"unicode/utf8"

	"github.com/seanbetts/sidebar-sub000/internal/db"
)

const summaryExcerptLimit = 8000

// SummaryDocument is the machine-facing structured summary envelope. The
// semantics of its content are owned by the consuming assistant; the
// pipeline guarantees only the envelope shape and stability.
type SummaryDocument struct {
	FileID      string    `json:"file_id"`
	SourceMime  string    `json:"source_mime"`
	GeneratedAt time.Time `json:"generated_at"`
	TextBytes   int       `json:"text_bytes"`
	Excerpt     string    `json:"excerpt"`
	Truncated   bool      `json:"truncated"`
}

type SummarizeExecutor struct{}

func (e *SummarizeExecutor) Execute(ctx context.Context, in *Input) (*Output, error) {
	textOut, ok := in.Prior[db.JobStageExtracting]
	if !ok {
		return nil, Retryable(CodeTransientIO, "extracting output missing")
	}

	text, err := os.ReadFile(textOut.Path)
	if err != nil {
		return nil, Retryable(CodeTransientIO, "read extracted text: %v", err)
	}

	excerpt, truncated := truncateUTF8(string(text), summaryExcerptLimit)
	doc := SummaryDocument{
		FileID:      in.FileID.String(),
		SourceMime:  in.SourceMime(),
		GeneratedAt: time.Now().UTC(),
		TextBytes:   len(text),
		Excerpt:     excerpt,
		Truncated:   truncated,
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, Retryable(CodeTransientIO, "marshal summary: %v", err)
	}

	p, err := in.Staging.WriteFile("summary.json", b)
	if err != nil {
		return nil, Retryable(CodeTransientIO, "%v", err)
	}
	return &Output{Kind: db.DerivativeKindSummary, Path: p, Mime: "application/json"}, nil
}

// truncateUTF8 cuts s to at most limit bytes without splitting a rune.
func truncateUTF8(s string, limit int) (string, bool) {
	if len(s) <= limit {
		return s, false
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}
