package stage

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/seanbetts/sidebar-sub000/internal/db"
)

// Runs validate → convert → extract → summarize over a plain-text source,
// threading each stage's output into the next, the way the orchestrator does.
func TestContentStages_TextSource(t *testing.T) {
	body := "quarterly report\n" + strings.Repeat("line of body text\n", 40)
	src := writeTempSource(t, "report.txt", []byte(body))
	in := testInput(t, src)
	ctx := context.Background()

	validated, err := (&ValidateExecutor{MaxSourceBytes: 1 << 20}).Execute(ctx, in)
	require.NoError(t, err)
	in.Prior[db.JobStageValidating] = validated

	viewer, err := (&ConvertExecutor{}).Execute(ctx, in)
	require.NoError(t, err)
	require.Equal(t, db.DerivativeKindViewer, viewer.Kind)
	require.FileExists(t, viewer.Path)
	in.Prior[db.JobStageConverting] = viewer

	text, err := (&ExtractExecutor{}).Execute(ctx, in)
	require.NoError(t, err)
	require.Empty(t, text.Kind)
	extracted, err := os.ReadFile(text.Path)
	require.NoError(t, err)
	require.Equal(t, body, string(extracted))
	in.Prior[db.JobStageExtracting] = text

	summary, err := (&SummarizeExecutor{}).Execute(ctx, in)
	require.NoError(t, err)
	require.Equal(t, db.DerivativeKindSummary, summary.Kind)

	var doc SummaryDocument
	raw, err := os.ReadFile(summary.Path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Equal(t, in.FileID.String(), doc.FileID)
	require.Equal(t, "text/plain", doc.SourceMime)
	require.Equal(t, len(body), doc.TextBytes)
	require.False(t, doc.Truncated)
	require.Contains(t, doc.Excerpt, "quarterly report")
}

func TestSummarize_TruncatesLongText(t *testing.T) {
	long := strings.Repeat("é", summaryExcerptLimit) // 2 bytes per rune
	src := writeTempSource(t, "long.txt", []byte(long))
	in := testInput(t, src)

	textPath, err := in.Staging.WriteFile("text.txt", []byte(long))
	require.NoError(t, err)
	in.Prior[db.JobStageValidating] = &Output{Mime: "text/plain"}
	in.Prior[db.JobStageExtracting] = &Output{Path: textPath, Mime: "text/plain"}

	out, err := (&SummarizeExecutor{}).Execute(context.Background(), in)
	require.NoError(t, err)

	var doc SummaryDocument
	raw, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.True(t, doc.Truncated)
	require.LessOrEqual(t, len(doc.Excerpt), summaryExcerptLimit)
	// No rune may be split at the cut point.
	require.True(t, strings.HasSuffix(doc.Excerpt, "é"))
}

func TestThumbnail_ImagePassthroughWithoutCommand(t *testing.T) {
	in := testInput(t, "unused")
	viewerPath, err := in.Staging.WriteFile("viewer.png", []byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)
	in.Prior[db.JobStageConverting] = &Output{Kind: db.DerivativeKindViewer, Path: viewerPath, Mime: "image/png"}

	out, err := (&ThumbnailExecutor{}).Execute(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, db.DerivativeKindThumbnail, out.Kind)
	require.Equal(t, "image/png", out.Mime)
	require.FileExists(t, out.Path)
}

func TestThumbnail_NoCommandForDocument_Terminal(t *testing.T) {
	in := testInput(t, "unused")
	in.Prior[db.JobStageConverting] = &Output{Kind: db.DerivativeKindViewer, Path: "viewer.pdf", Mime: "application/pdf"}

	_, err := (&ThumbnailExecutor{}).Execute(context.Background(), in)
	require.Error(t, err)
	se := Classify(err)
	require.Equal(t, CodeConverterFailed, se.Code)
	require.False(t, se.Retryable)
}

func TestConvert_NoCommandForOfficeDoc_Terminal(t *testing.T) {
	src := writeTempSource(t, "doc.docx", []byte("irrelevant"))
	in := testInput(t, src)
	in.Prior[db.JobStageValidating] = &Output{Mime: "application/vnd.openxmlformats-officedocument.wordprocessingml.document"}

	_, err := (&ConvertExecutor{}).Execute(context.Background(), in)
	require.Error(t, err)
	se := Classify(err)
	require.Equal(t, CodeUnsupportedType, se.Code)
	require.False(t, se.Retryable)
}

func TestStagingArea_CleanupRemovesEverything(t *testing.T) {
	a := NewArea(t.TempDir(), uuid.New())
	p, err := a.WriteFile("viewer.pdf", []byte("pdf bytes"))
	require.NoError(t, err)
	require.FileExists(t, p)

	require.NoError(t, a.Cleanup())
	require.NoDirExists(t, a.Dir())

	// Idempotent on an area that no longer exists.
	require.NoError(t, a.Cleanup())
}

func TestClassify_UnknownErrorIsRetryable(t *testing.T) {
	se := Classify(os.ErrClosed)
	require.True(t, se.Retryable)
	require.Equal(t, CodeTransientIO, se.Code)
}

func TestClassify_DeadlineIsStageTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()

	se := Classify(ctx.Err())
	require.True(t, se.Retryable)
	require.Equal(t, CodeStageTimeout, se.Code)
}
