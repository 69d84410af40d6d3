package stage

import (
	"context"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// supportedMimes are the document types the pipeline accepts as-is. Images
// and text are accepted by prefix in addition to this list.
var supportedMimes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.ms-excel",
	"application/vnd.ms-powerpoint",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"application/vnd.oasis.opendocument.text",
	"application/vnd.oasis.opendocument.spreadsheet",
	"application/rtf",
}

// ValidateExecutor is the first stage: it rejects unsupported or oversize
// input before any converter spends cycles on it. Rejections are terminal;
// the job goes straight to failed.
type ValidateExecutor struct {
	MaxSourceBytes int64
}

func (e *ValidateExecutor) Execute(ctx context.Context, in *Input) (*Output, error) {
	info, err := os.Stat(in.SourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Terminal(CodeCorruptInput, "source file missing: %s", in.SourcePath)
		}
		return nil, Retryable(CodeTransientIO, "stat source: %v", err)
	}
	if info.IsDir() {
		return nil, Terminal(CodeCorruptInput, "source is a directory: %s", in.SourcePath)
	}
	if info.Size() == 0 {
		return nil, Terminal(CodeCorruptInput, "source file is empty")
	}
	if e.MaxSourceBytes > 0 && info.Size() > e.MaxSourceBytes {
		return nil, Terminal(CodeFileTooLarge, "source is %d bytes, limit is %d", info.Size(), e.MaxSourceBytes)
	}

	mtype, err := mimetype.DetectFile(in.SourcePath)
	if err != nil {
		return nil, Retryable(CodeTransientIO, "detect content type: %v", err)
	}

	detected := mtype.String()
	if !mimeSupported(detected) {
		return nil, Terminal(CodeUnsupportedType, "unsupported content type %q", detected)
	}

	// Metadata-only output: the detected mime feeds the converting stage.
	return &Output{Mime: normalizeMime(detected)}, nil
}

func mimeSupported(mime string) bool {
	mime = normalizeMime(mime)
	if strings.HasPrefix(mime, "text/") || strings.HasPrefix(mime, "image/") {
		return true
	}
	for _, s := range supportedMimes {
		if mime == s {
			return true
		}
	}
	return false
}

// normalizeMime drops parameters, e.g. "text/plain; charset=utf-8".
func normalizeMime(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.TrimSpace(mime)
}
