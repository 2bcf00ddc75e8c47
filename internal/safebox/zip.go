package safebox

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"vaultedge/internal/pathguard"
)

// ZipPath writes a ZIP of rel (a folder or a single file) to w. An empty rel
// archives the whole safebox. Entry names are relative to the safebox root and
// sidecar files are left out. It returns the suggested archive name.
func (m *Manager) ZipPath(userID, box, rel string, w io.Writer) (string, error) {
	const op = "ZipPath"
	_, base, err := m.resolveSafeBox(op, userID, box, true)
	if err != nil {
		return "", err
	}
	target, err := guard(op, base, rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", newError(KindNotFound, op, rel, "path not found")
		}
		return "", ioError(op, rel, err)
	}

	name := box + ".zip"
	if target != base {
		name = filepath.Base(target) + ".zip"
	}

	zw := zip.NewWriter(w)
	if info.IsDir() {
		err = filepath.WalkDir(target, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() || isHidden(d.Name()) {
				return nil
			}
			return addZipEntry(zw, p, pathguard.Relative(base, p))
		})
	} else {
		err = addZipEntry(zw, target, pathguard.Relative(base, target))
	}
	if err != nil {
		zw.Close()
		return "", ioError(op, rel, err)
	}
	if err := zw.Close(); err != nil {
		return "", ioError(op, rel, err)
	}
	return name, nil
}

// ZipFiles writes a ZIP of the listed files to w. Paths that escape the
// safebox, do not exist or are folders are skipped and returned.
func (m *Manager) ZipFiles(userID, box string, paths []string, w io.Writer) (name string, skipped []string, err error) {
	const op = "ZipFiles"
	if len(paths) == 0 {
		return "", nil, newError(KindInvalidArgument, op, "", "at least one path is required")
	}
	_, base, err := m.resolveSafeBox(op, userID, box, true)
	if err != nil {
		return "", nil, err
	}

	zw := zip.NewWriter(w)
	seen := map[string]bool{}
	for _, rel := range paths {
		target, err := pathguard.Resolve(base, rel)
		if err != nil {
			skipped = append(skipped, rel)
			continue
		}
		info, err := os.Stat(target)
		if err != nil || !info.Mode().IsRegular() || isHidden(info.Name()) {
			skipped = append(skipped, rel)
			continue
		}
		entry := pathguard.Relative(base, target)
		if seen[entry] {
			continue
		}
		seen[entry] = true
		if err := addZipEntry(zw, target, entry); err != nil {
			zw.Close()
			return "", nil, ioError(op, rel, err)
		}
	}
	if err := zw.Close(); err != nil {
		return "", nil, ioError(op, "", err)
	}
	return box + "-files.zip", skipped, nil
}

func addZipEntry(zw *zip.Writer, src, name string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("adding %s: %w", name, err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("compressing %s: %w", name, err)
	}
	return nil
}
