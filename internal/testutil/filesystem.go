package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates path (and its parents) with content.
func WriteFile(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating parent of %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

// SparseFile creates path with the given apparent size without allocating
// the blocks, so quota tests can simulate gigabytes of existing content.
func SparseFile(t *testing.T, path string, size int64) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating parent of %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating %s: %v", path, err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		t.Fatalf("truncating %s to %d: %v", path, size, err)
	}
}

// ReadFile returns the content of path, failing the test if it cannot be read.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// UnreadableReader fails the test if anything reads from it. Uploads that
// must be rejected before consuming their body use it as the body.
type UnreadableReader struct {
	T *testing.T
}

func (r UnreadableReader) Read(p []byte) (int, error) {
	r.T.Helper()
	r.T.Errorf("reader was consumed")
	return 0, os.ErrClosed
}
