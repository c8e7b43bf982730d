package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestRotatingWriterRotatesBySize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")

	writer, err := newRotatingWriter(path, 1, 2, 30)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer writer.Close()
	// Shrink the limit so the test does not need a megabyte of writes.
	writer.maxSize = 64

	chunk := bytes.Repeat([]byte("x"), 48)
	for i := 0; i < 3; i++ {
		if _, err := writer.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("active file must exist: %v", err)
	}
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("rotated backup must exist: %v", err)
	}
}

func TestRotatingWriterRequiresPath(t *testing.T) {
	if _, err := newRotatingWriter("", 1, 1, 1); err == nil {
		t.Fatalf("empty path must be rejected")
	}
}
