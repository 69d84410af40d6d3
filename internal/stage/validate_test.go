package stage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/seanbetts/sidebar-sub000/internal/db"
)

func writeTempSource(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func testInput(t *testing.T, sourcePath string) *Input {
	t.Helper()
	return &Input{
		JobID:      uuid.New(),
		FileID:     uuid.New(),
		SourcePath: sourcePath,
		Staging:    NewArea(t.TempDir(), uuid.New()),
		Prior:      map[db.JobStage]*Output{},
	}
}

func TestValidate_PlainText(t *testing.T) {
	src := writeTempSource(t, "notes.txt", []byte("hello pipeline\nplain text body\n"))
	e := &ValidateExecutor{MaxSourceBytes: 1 << 20}

	out, err := e.Execute(context.Background(), testInput(t, src))
	require.NoError(t, err)
	require.Equal(t, "text/plain", out.Mime)
	require.Empty(t, out.Kind, "validation output is metadata only")
}

func TestValidate_PDFMagicBytes(t *testing.T) {
	src := writeTempSource(t, "doc.pdf", []byte("%PDF-1.7\n1 0 obj\n<<>>\nendobj\n"))
	e := &ValidateExecutor{MaxSourceBytes: 1 << 20}

	out, err := e.Execute(context.Background(), testInput(t, src))
	require.NoError(t, err)
	require.Equal(t, "application/pdf", out.Mime)
}

func TestValidate_UnsupportedType_Terminal(t *testing.T) {
	// ELF magic: definitely not a document.
	src := writeTempSource(t, "binary", []byte{0x7f, 'E', 'L', 'F', 0x02, 0x01, 0x01, 0x00})
	e := &ValidateExecutor{MaxSourceBytes: 1 << 20}

	_, err := e.Execute(context.Background(), testInput(t, src))
	require.Error(t, err)
	se := Classify(err)
	require.Equal(t, CodeUnsupportedType, se.Code)
	require.False(t, se.Retryable)
}

func TestValidate_Oversize_Terminal(t *testing.T) {
	src := writeTempSource(t, "big.txt", []byte("0123456789 some text payload"))
	e := &ValidateExecutor{MaxSourceBytes: 4}

	_, err := e.Execute(context.Background(), testInput(t, src))
	require.Error(t, err)
	se := Classify(err)
	require.Equal(t, CodeFileTooLarge, se.Code)
	require.False(t, se.Retryable)
}

func TestValidate_MissingSource_Terminal(t *testing.T) {
	e := &ValidateExecutor{MaxSourceBytes: 1 << 20}

	_, err := e.Execute(context.Background(), testInput(t, filepath.Join(t.TempDir(), "gone.txt")))
	require.Error(t, err)
	se := Classify(err)
	require.Equal(t, CodeCorruptInput, se.Code)
	require.False(t, se.Retryable)
}

func TestValidate_EmptySource_Terminal(t *testing.T) {
	src := writeTempSource(t, "empty.txt", nil)
	e := &ValidateExecutor{MaxSourceBytes: 1 << 20}

	_, err := e.Execute(context.Background(), testInput(t, src))
	require.Error(t, err)
	require.Equal(t, CodeCorruptInput, Classify(err).Code)
}
