// Package ocr extracts text from downloaded images via the tesseract binary.
// The engine is located lazily on first use so deployments without any
// ocr-enabled rules never pay for it.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/watchtower-cti/watchtower/internal/pkg/logs"
)

// Engine runs text extraction over local image files.
type Engine interface {
	Available() bool
	Extract(ctx context.Context, imagePath string) (string, error)
}

// Tesseract shells out to the system tesseract binary. Extraction is
// serialized: tesseract is memory-hungry and routed images are rare enough
// that parallel runs only add contention.
type Tesseract struct {
	initOnce sync.Once
	binPath  string
	initErr  error

	mu sync.Mutex
}

var _ Engine = (*Tesseract)(nil)

func NewTesseract() *Tesseract {
	return &Tesseract{}
}

func (t *Tesseract) init() {
	t.initOnce.Do(func() {
		path, err := exec.LookPath("tesseract")
		if err != nil {
			t.initErr = fmt.Errorf("tesseract binary not found: %w", err)
			logs.Warn("[ocr] %v; image text extraction disabled", t.initErr)
			return
		}
		t.binPath = path
		logs.Info("[ocr] engine ready: %s", path)
	})
}

// Available reports whether the engine can run. Safe to call concurrently.
func (t *Tesseract) Available() bool {
	t.init()
	return t.initErr == nil
}

// Extract OCRs imagePath and returns the trimmed text. An unavailable engine
// or a failed run returns an error; callers treat that as "no OCR text" and
// keep routing on the message body alone.
func (t *Tesseract) Extract(ctx context.Context, imagePath string) (string, error) {
	t.init()
	if t.initErr != nil {
		return "", t.initErr
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var stdout, stderr bytes.Buffer
	// "stdout" as the output base makes tesseract print instead of writing
	// a .txt sidecar file.
	cmd := exec.CommandContext(ctx, t.binPath, imagePath, "stdout")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract %s: %w: %s", imagePath, err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}
