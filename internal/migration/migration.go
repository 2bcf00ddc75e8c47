// Package migration moves a user's plaintext safebox directories into the
// masked layout:
//
//	<root>/<userID>/<box>/...  ->  <root>/<masked user>/RootVault/<masked box>/...
//
// recording the original names in the mapping store. Running it again for the
// same user merges whatever is left in the plaintext directory into the
// existing masked destinations.
package migration

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"vaultedge/internal/audit"
	"vaultedge/internal/pathguard"
	"vaultedge/internal/safebox"
)

// Result summarizes one MigrateUser call.
type Result struct {
	UserID       string
	MaskedUserID string

	// NoOp is set when the user had no plaintext directory.
	NoOp bool

	Moved  []string // safeboxes moved as a whole directory
	Merged []string // safeboxes merged into an existing destination
}

// Engine migrates users under one storage root. It must share its mapping
// store with the Manager serving the same root.
type Engine struct {
	root   string
	store  safebox.MappingStore
	logger safebox.Logger

	mu sync.Mutex
}

// New creates a migration Engine.
func New(root string, store safebox.MappingStore, logger safebox.Logger) *Engine {
	return &Engine{root: root, store: store, logger: logger}
}

// Mapping returns the user's mapping, if the user has been migrated.
func (e *Engine) Mapping(userID string) (*safebox.UserMapping, bool) {
	return e.store.Get(userID)
}

// MigrateUser moves every plaintext safebox of userID into the masked layout.
// Calls are serialized per Engine.
func (e *Engine) MigrateUser(userID string) (*Result, error) {
	if err := pathguard.ValidateName(userID); err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	res := &Result{UserID: userID}
	userDir := filepath.Join(e.root, userID)
	info, err := os.Stat(userDir)
	if err != nil || !info.IsDir() {
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("checking user directory: %w", err)
		}
		res.NoOp = true
		if um, ok := e.store.Get(userID); ok {
			res.MaskedUserID = um.MaskedUserID
		}
		return res, nil
	}

	um, err := e.ensureMaskedID(userID)
	if err != nil {
		return nil, err
	}
	res.MaskedUserID = um.MaskedUserID

	maskedRoot := filepath.Join(e.root, um.MaskedUserID)
	if maskedRoot == userDir {
		return nil, fmt.Errorf("masked id %q collides with the user id", um.MaskedUserID)
	}
	vault := filepath.Join(maskedRoot, safebox.RootVaultDir)
	if err := os.MkdirAll(vault, 0755); err != nil {
		return nil, fmt.Errorf("creating masked root: %w", err)
	}

	boxes, err := safeBoxDirs(userDir)
	if err != nil {
		return nil, err
	}
	for _, box := range boxes {
		masked := um.AssignSafeBox(userID, box)
		src := filepath.Join(userDir, box)
		dest := filepath.Join(vault, masked)

		merged, err := e.moveSafeBox(src, dest)
		if err != nil {
			// Persist what was assigned so far; a re-run picks up the rest.
			if saveErr := e.putMapping(userID, um); saveErr != nil {
				e.logger.Error("saving partial mapping", "user", userID, "error", saveErr)
			}
			return nil, fmt.Errorf("migrating safebox %s: %w", box, err)
		}
		if merged {
			res.Merged = append(res.Merged, box)
		} else {
			res.Moved = append(res.Moved, box)
		}
		e.logger.Info("migrated safebox", "user", userID, "safebox", box, "merged", merged)
	}

	if err := e.putMapping(userID, um); err != nil {
		return nil, fmt.Errorf("saving mapping: %w", err)
	}

	e.carryAuditFiles(userDir, maskedRoot)

	if err := os.Remove(userDir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		e.logger.Debug("leaving plaintext user directory", "user", userID, "error", err)
	}
	return res, nil
}

// ensureMaskedID makes sure the stored mapping has a masked user id before
// anything is moved, and returns a working copy of it.
func (e *Engine) ensureMaskedID(userID string) (*safebox.UserMapping, error) {
	var out *safebox.UserMapping
	err := e.store.Update(userID, func(cur *safebox.UserMapping) (*safebox.UserMapping, error) {
		if cur != nil && cur.MaskedUserID != "" {
			out = cur.Clone()
			return nil, nil
		}
		if cur == nil {
			cur = safebox.NewUserMapping(userID)
		} else {
			cur.MaskedUserID = safebox.Mask(userID)
		}
		if cur.SafeBoxes == nil {
			cur.SafeBoxes = map[string]string{}
		}
		out = cur.Clone()
		return cur, nil
	})
	if err != nil {
		return nil, fmt.Errorf("recording masked user id: %w", err)
	}
	if out.SafeBoxes == nil {
		out.SafeBoxes = map[string]string{}
	}
	return out, nil
}

// putMapping merges the working copy's safebox names into the stored mapping.
// Other names already stored are kept.
func (e *Engine) putMapping(userID string, um *safebox.UserMapping) error {
	return e.store.Update(userID, func(cur *safebox.UserMapping) (*safebox.UserMapping, error) {
		if cur == nil {
			cur = um.Clone()
		}
		if cur.SafeBoxes == nil {
			cur.SafeBoxes = map[string]string{}
		}
		for name, masked := range um.SafeBoxes {
			cur.SafeBoxes[name] = masked
		}
		return cur, nil
	})
}

// safeBoxDirs lists the candidate safebox directories of a plaintext user
// directory, sorted by name.
func safeBoxDirs(userDir string) ([]string, error) {
	entries, err := os.ReadDir(userDir)
	if err != nil {
		return nil, fmt.Errorf("listing user directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") ||
			strings.HasSuffix(name, audit.LogSuffix) || strings.HasSuffix(name, audit.RetentionSuffix) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// moveSafeBox renames src to dest, or merges src into dest when dest already
// exists. It reports whether a merge happened.
func (e *Engine) moveSafeBox(src, dest string) (bool, error) {
	if _, err := os.Lstat(dest); errors.Is(err, fs.ErrNotExist) {
		if err := os.Rename(src, dest); err != nil {
			return false, fmt.Errorf("moving directory: %w", err)
		}
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("checking destination: %w", err)
	}

	if err := mergeTree(src, dest); err != nil {
		return true, err
	}
	if err := os.RemoveAll(src); err != nil {
		e.logger.Warn("removing merged source", "path", src, "error", err)
	}
	return true, nil
}

// mergeTree moves every regular file under src to the same relative path
// under dest, replacing existing files.
func mergeTree(src, dest string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		switch {
		case d.IsDir():
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("creating %s: %w", rel, err)
			}
		case d.Type().IsRegular():
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("creating parent of %s: %w", rel, err)
			}
			if err := os.Rename(p, target); err != nil {
				return fmt.Errorf("moving %s: %w", rel, err)
			}
		}
		return nil
	})
}

// carryAuditFiles moves the user's top-level audit logs and retention
// settings into the masked root. Logs are appended to any existing masked
// log; a retention setting already present in the masked root wins.
func (e *Engine) carryAuditFiles(userDir, maskedRoot string) {
	entries, err := os.ReadDir(userDir)
	if err != nil {
		e.logger.Warn("listing audit files", "path", userDir, "error", err)
		return
	}
	for _, de := range entries {
		name := de.Name()
		if !de.Type().IsRegular() {
			continue
		}
		src := filepath.Join(userDir, name)
		dest := filepath.Join(maskedRoot, name)

		var err error
		switch {
		case strings.HasSuffix(name, audit.LogSuffix):
			err = appendFile(src, dest)
		case strings.HasSuffix(name, audit.RetentionSuffix):
			if _, statErr := os.Stat(dest); statErr == nil {
				err = os.Remove(src)
			} else {
				err = os.Rename(src, dest)
			}
		default:
			continue
		}
		if err != nil {
			e.logger.Warn("carrying audit file", "file", name, "error", err)
		}
	}
}

// appendFile appends src's content to dest and removes src.
func appendFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("appending %s: %w", filepath.Base(src), err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	in.Close()
	return os.Remove(src)
}
