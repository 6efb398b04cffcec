package ocr

import (
	"context"
	"os/exec"
	"testing"
)

func TestTesseractUnavailable(t *testing.T) {
	eng := NewTesseract()
	if _, err := exec.LookPath("tesseract"); err == nil {
		t.Skip("tesseract installed; unavailable path not testable here")
	}
	if eng.Available() {
		t.Fatal("engine reports available without a binary")
	}
	if _, err := eng.Extract(context.Background(), "/tmp/none.png"); err == nil {
		t.Fatal("expected extract to fail when unavailable")
	}
}

func TestTesseractInitOnce(t *testing.T) {
	eng := NewTesseract()
	first := eng.Available()
	for i := 0; i < 3; i++ {
		if eng.Available() != first {
			t.Fatal("availability must be stable across calls")
		}
	}
}
