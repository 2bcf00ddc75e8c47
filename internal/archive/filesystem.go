package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"vaultedge/internal/pathguard"
)

// FileSystemSink writes exports into a local directory.
type FileSystemSink struct {
	dir string
}

// NewFileSystemSink creates a sink writing into dir, creating it if needed.
func NewFileSystemSink(dir string) (*FileSystemSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	return &FileSystemSink{dir: dir}, nil
}

// Dir returns the export directory.
func (s *FileSystemSink) Dir() string { return s.dir }

// Put writes r to <dir>/<name> via a temp file and rename, replacing any
// earlier export with the same name.
func (s *FileSystemSink) Put(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := pathguard.ValidateName(name); err != nil {
		return "", fmt.Errorf("export name: %w", err)
	}
	destPath := filepath.Join(s.dir, name)

	tmpFile, err := os.CreateTemp(s.dir, ".tmp-export-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, contextReader{ctx: ctx, r: r}); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("writing export: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("syncing export: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return "", fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return destPath, nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ Sink = (*FileSystemSink)(nil)
