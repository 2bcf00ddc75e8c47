package safebox

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"

	"vaultedge/internal/pathguard"
)

const (
	// SidecarSuffix marks the file holding a client-declared original date.
	SidecarSuffix = ".orig"

	uploadTempPrefix = ".upload-"
)

// isHidden reports whether a file name belongs to engine bookkeeping rather
// than user content.
func isHidden(name string) bool {
	return strings.HasSuffix(name, SidecarSuffix) || strings.HasPrefix(name, uploadTempPrefix)
}

func (m *Manager) lockUploads(dir string) func() {
	mu, _ := m.uploadLocks.LoadOrStore(dir, &sync.Mutex{})
	l := mu.(*sync.Mutex)
	l.Lock()
	return l.Unlock
}

// SaveFile stores size bytes read from r at rel inside the safebox,
// replacing any existing file. The size and quota are checked before r is
// read. When originalDateMs is positive it is kept in a sidecar file.
func (m *Manager) SaveFile(userID, box, rel string, r io.Reader, size int64, originalDateMs *int64) (string, error) {
	const op = "SaveFile"
	userRoot, base, err := m.resolveSafeBox(op, userID, box, true)
	if err != nil {
		return "", err
	}
	target, err := guard(op, base, rel)
	if err != nil {
		return "", err
	}
	if target == base {
		return "", newError(KindInvalidArgument, op, rel, "file path required")
	}
	if isHidden(filepath.Base(target)) {
		return "", newError(KindInvalidArgument, op, rel, "file name is reserved")
	}
	if size < 0 {
		return "", newError(KindInvalidArgument, op, rel, "negative size")
	}
	if size > m.maxUpload {
		return "", newError(KindPayloadTooLarge, op, rel,
			"file size %s exceeds the maximum upload size of %s",
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(m.maxUpload)))
	}

	unlock := m.lockUploads(base)
	defer unlock()

	used, _, err := usageOf(base)
	if err != nil {
		return "", ioError(op, rel, fmt.Errorf("computing usage: %w", err))
	}
	capacity := PickCapacity(box)
	if remaining := capacity - used; size > remaining {
		e := newError(KindQuotaExceeded, op, rel,
			"not enough space in safebox: remaining %s, required %s, capacity %s",
			humanize.IBytes(uint64(max(remaining, 0))), humanize.IBytes(uint64(size)), humanize.IBytes(uint64(capacity)))
		e.Size = size
		return "", e
	}

	if info, err := os.Stat(target); err == nil && info.IsDir() {
		return "", newError(KindInvalidArgument, op, rel, "a folder exists at this path")
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", ioError(op, rel, err)
	}
	if err := writeFileAtomic(target, r, size); err != nil {
		var e *Error
		if errors.As(err, &e) {
			e.Op, e.Path = op, rel
			return "", e
		}
		return "", ioError(op, rel, err)
	}

	now := m.clock.Now()
	if err := os.Chtimes(target, now, now); err != nil {
		m.logger.Warn("touching uploaded file", "path", rel, "error", err)
	}
	if originalDateMs != nil && *originalDateMs > 0 {
		sidecar := target + SidecarSuffix
		if err := os.WriteFile(sidecar, []byte(strconv.FormatInt(*originalDateMs, 10)), 0644); err != nil {
			m.logger.Warn("writing original date sidecar", "path", rel, "error", err)
		}
	}

	m.record(userRoot, box, "UPLOAD_FILE "+pathguard.Relative(base, target))
	return target, nil
}

// writeFileAtomic streams r into a temp file beside destPath and renames it
// into place once exactly expectedSize bytes were written.
func writeFileAtomic(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), uploadTempPrefix+"*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	// Read one byte past the declared size so an oversized body is detected
	// without writing all of it.
	written, err := io.Copy(tmpFile, io.LimitReader(r, expectedSize+1))
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if written != expectedSize {
		return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf("size mismatch: declared %d bytes, received %d", expectedSize, written)}
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}

// ReadFile opens a stored file for download. The caller must close Reader.
func (m *Manager) ReadFile(userID, box, rel string) (*FileContent, error) {
	const op = "ReadFile"
	_, base, err := m.resolveSafeBox(op, userID, box, false)
	if err != nil {
		return nil, err
	}
	if base == "" {
		return nil, newError(KindNotFound, op, rel, "safebox not found")
	}
	target, err := guard(op, base, rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, newError(KindNotFound, op, rel, "file not found")
		}
		return nil, ioError(op, rel, err)
	}
	if !info.Mode().IsRegular() || isHidden(info.Name()) {
		return nil, newError(KindNotFound, op, rel, "file not found")
	}

	f, err := os.Open(target)
	if err != nil {
		return nil, ioError(op, rel, err)
	}
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		f.Close()
		return nil, ioError(op, rel, fmt.Errorf("detecting content type: %w", err))
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, ioError(op, rel, err)
	}

	return &FileContent{
		Name:        info.Name(),
		Size:        info.Size(),
		ModifiedAt:  info.ModTime(),
		ContentType: mt.String(),
		Reader:      f,
	}, nil
}

// DeleteFile removes a file and its sidecar. Contention is retried with
// backoff; a file that vanishes meanwhile counts as deleted.
func (m *Manager) DeleteFile(userID, box, rel string) error {
	const op = "DeleteFile"
	userRoot, base, err := m.resolveSafeBox(op, userID, box, true)
	if err != nil {
		return err
	}
	target, err := guard(op, base, rel)
	if err != nil {
		return err
	}
	if target == base {
		return newError(KindInvalidArgument, op, rel, "cannot delete safebox root")
	}
	info, err := os.Lstat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newError(KindNotFound, op, rel, "file not found")
		}
		return ioError(op, rel, err)
	}
	if info.IsDir() {
		return newError(KindInvalidArgument, op, rel, "path is not a file")
	}

	if err := m.removeWithRetry(op, rel, info.Size(), func() error { return os.Remove(target) }); err != nil {
		return err
	}
	if err := os.Remove(target + SidecarSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.logger.Warn("removing original date sidecar", "path", rel, "error", err)
	}

	m.record(userRoot, box, "DELETE_FILE "+pathguard.Relative(base, target))
	return nil
}

// DeleteFolder removes a folder and everything below it, deepest entries
// first. A failed pass is retried from the top.
func (m *Manager) DeleteFolder(userID, box, rel string) error {
	const op = "DeleteFolder"
	userRoot, base, err := m.resolveSafeBox(op, userID, box, true)
	if err != nil {
		return err
	}
	target, err := guard(op, base, rel)
	if err != nil {
		return err
	}
	if target == base {
		return newError(KindInvalidArgument, op, rel, "cannot delete safebox root")
	}
	info, err := os.Lstat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newError(KindNotFound, op, rel, "folder not found")
		}
		return ioError(op, rel, err)
	}
	if !info.IsDir() {
		return newError(KindInvalidArgument, op, rel, "path is not a folder")
	}

	size, _, _ := usageOf(target)
	if err := m.removeWithRetry(op, rel, size, func() error { return removeTree(target) }); err != nil {
		return err
	}

	m.record(userRoot, box, "DELETE_FOLDER "+pathguard.Relative(base, target))
	return nil
}

// removeTree deletes dir's entries in reverse walk order so children go
// before their parents. Entries already gone are ignored.
func removeTree(dir string) error {
	var paths []string
	err := filepath.WalkDir(dir, func(p string, _ fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return err
	}
	for i := len(paths) - 1; i >= 0; i-- {
		if err := os.Remove(paths[i]); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// RenameFile renames a file within its folder. The sidecar follows the file.
func (m *Manager) RenameFile(userID, box, rel, newName string) error {
	return m.rename("RenameFile", "RENAME_FILE", userID, box, rel, newName, false)
}

// RenameFolder renames a folder within its parent.
func (m *Manager) RenameFolder(userID, box, rel, newName string) error {
	return m.rename("RenameFolder", "RENAME_FOLDER", userID, box, rel, newName, true)
}

func (m *Manager) rename(op, event, userID, box, rel, newName string, folder bool) error {
	userRoot, base, err := m.resolveSafeBox(op, userID, box, true)
	if err != nil {
		return err
	}
	src, err := guard(op, base, rel)
	if err != nil {
		return err
	}
	if src == base {
		return newError(KindInvalidArgument, op, rel, "cannot rename safebox root")
	}

	kind := "file"
	if folder {
		kind = "folder"
	}
	info, err := os.Lstat(src)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return newError(KindNotFound, op, rel, "%s not found", kind)
	case err != nil:
		return ioError(op, rel, err)
	case info.IsDir() != folder:
		return newError(KindNotFound, op, rel, "%s not found", kind)
	}

	if strings.TrimSpace(newName) == "" {
		return newError(KindInvalidArgument, op, rel, "new name required")
	}
	srcRel := pathguard.Relative(base, src)
	dest, err := guard(op, base, filepath.Join(filepath.Dir(filepath.FromSlash(srcRel)), newName))
	if err != nil {
		return err
	}
	if dest == base || dest == src {
		return newError(KindAlreadyExists, op, rel, "a %s with that name already exists", kind)
	}
	if !folder && isHidden(filepath.Base(dest)) {
		return newError(KindInvalidArgument, op, rel, "file name is reserved")
	}
	if _, err := os.Lstat(dest); err == nil {
		return newError(KindAlreadyExists, op, rel, "a %s with that name already exists", kind)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return ioError(op, rel, err)
	}

	if err := os.Rename(src, dest); err != nil {
		return ioError(op, rel, err)
	}
	if !folder {
		now := m.clock.Now()
		if err := os.Chtimes(dest, now, now); err != nil {
			m.logger.Warn("touching renamed file", "path", rel, "error", err)
		}
		if err := os.Rename(src+SidecarSuffix, dest+SidecarSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("moving original date sidecar", "path", rel, "error", err)
		}
	}

	m.record(userRoot, box, event+" "+srcRel+" -> "+pathguard.Relative(base, dest))
	return nil
}
