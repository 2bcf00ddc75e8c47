package safebox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"vaultedge/internal/pathguard"
)

// Options tunes a Manager. Zero values select the defaults.
type Options struct {
	// MaxUploadBytes rejects larger uploads with PayloadTooLarge. Default 2 GiB.
	MaxUploadBytes int64

	// UsageWorkers bounds how many safeboxes UsageAll walks at once. Default 4.
	UsageWorkers int
}

// Manager is the storage engine. It resolves users and safeboxes to
// directories under the storage root (masked when the user has been migrated),
// guards every relative path, enforces quotas and records an audit trail.
//
// Manager is safe for concurrent use. Uploads into the same safebox are
// serialized; other mutations are not.
type Manager struct {
	root   string
	store  MappingStore
	audit  AuditLog
	logger Logger
	clock  Clock
	sleep  sleepFunc

	maxUpload    int64
	usageWorkers int

	uploadLocks sync.Map // safebox dir -> *sync.Mutex
}

// NewManager creates a Manager rooted at root, creating the directory if needed.
func NewManager(root string, store MappingStore, audit AuditLog, opts Options, logger Logger, clock Clock) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}

	m := &Manager{
		root:         abs,
		store:        store,
		audit:        audit,
		logger:       logger,
		clock:        clock,
		sleep:        time.Sleep,
		maxUpload:    opts.MaxUploadBytes,
		usageWorkers: opts.UsageWorkers,
	}
	if m.maxUpload <= 0 {
		m.maxUpload = DefaultMaxUploadBytes
	}
	if m.usageWorkers <= 0 {
		m.usageWorkers = 4
	}
	return m, nil
}

// Root returns the absolute storage root.
func (m *Manager) Root() string { return m.root }

// MaxUploadBytes returns the effective per-upload limit.
func (m *Manager) MaxUploadBytes() int64 { return m.maxUpload }

func validateID(op, what, value string) error {
	if err := pathguard.ValidateName(value); err != nil {
		return &Error{Kind: KindInvalidArgument, Op: op, Message: what + " is not a valid name", Err: err}
	}
	return nil
}

// validateSafeBoxName also rejects names that clash with audit files or
// that migration would skip.
func validateSafeBoxName(op, box string) error {
	if err := validateID(op, "safebox name", box); err != nil {
		return err
	}
	if ReservedSafeBoxName(box) {
		return newError(KindInvalidArgument, op, "", "safebox name %q is reserved", box)
	}
	return nil
}

// userRootPath returns the user's root without touching the filesystem.
func (m *Manager) userRootPath(userID string) (string, *UserMapping) {
	if um, ok := m.store.Get(userID); ok && um.MaskedUserID != "" {
		return filepath.Join(m.root, um.MaskedUserID), um
	}
	return filepath.Join(m.root, userID), nil
}

// EnsureUserRoot returns the user's root directory, creating it if needed.
// Migrated users resolve to their masked directory.
func (m *Manager) EnsureUserRoot(userID string) (string, error) {
	const op = "EnsureUserRoot"
	if err := validateID(op, "user id", userID); err != nil {
		return "", err
	}
	dir, _ := m.userRootPath(userID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", ioError(op, "", err)
	}
	return dir, nil
}

// resolveSafeBox returns the user root and safebox directory. With create
// set, both are created, and a migrated user's unknown safebox is assigned a
// masked name in the mapping store.
func (m *Manager) resolveSafeBox(op, userID, box string, create bool) (userRoot, dir string, err error) {
	if err := validateID(op, "user id", userID); err != nil {
		return "", "", err
	}
	if err := validateSafeBoxName(op, box); err != nil {
		return "", "", err
	}

	userRoot, um := m.userRootPath(userID)
	switch {
	case um == nil:
		dir = filepath.Join(userRoot, box)
	case um.SafeBoxes[box] != "":
		dir = filepath.Join(userRoot, RootVaultDir, um.SafeBoxes[box])
	case !create:
		return userRoot, "", nil
	default:
		var masked string
		err := m.store.Update(userID, func(cur *UserMapping) (*UserMapping, error) {
			if cur == nil {
				cur = um
			}
			masked = cur.AssignSafeBox(userID, box)
			return cur, nil
		})
		if err != nil {
			return "", "", ioError(op, "", fmt.Errorf("recording safebox mapping: %w", err))
		}
		m.logger.Info("assigned masked safebox", "user", userID, "safebox", box)
		dir = filepath.Join(userRoot, RootVaultDir, masked)
	}

	if create {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", "", ioError(op, "", err)
		}
	}
	return userRoot, dir, nil
}

// EnsureSafeBox returns the safebox directory, creating it if needed.
func (m *Manager) EnsureSafeBox(userID, box string) (string, error) {
	_, dir, err := m.resolveSafeBox("EnsureSafeBox", userID, box, true)
	return dir, err
}

// SafeBoxExists reports whether the safebox directory exists. It creates nothing.
func (m *Manager) SafeBoxExists(userID, box string) (bool, error) {
	_, dir, err := m.resolveSafeBox("SafeBoxExists", userID, box, false)
	if err != nil || dir == "" {
		return false, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, ioError("SafeBoxExists", "", err)
	}
	return info.IsDir(), nil
}

// CreateSafeBox ensures the safebox exists and records a CREATE_SAFEBOX event.
func (m *Manager) CreateSafeBox(userID, box string) (string, error) {
	userRoot, dir, err := m.resolveSafeBox("CreateSafeBox", userID, box, true)
	if err != nil {
		return "", err
	}
	m.record(userRoot, box, "CREATE_SAFEBOX")
	return dir, nil
}

// ListSafeBoxes returns the user's safebox names, sorted. Migrated users get
// the original names from their mapping; masked names are never exposed.
func (m *Manager) ListSafeBoxes(userID string) ([]string, error) {
	const op = "ListSafeBoxes"
	userRoot, err := m.EnsureUserRoot(userID)
	if err != nil {
		return nil, err
	}

	if um, ok := m.store.Get(userID); ok && um.MaskedUserID != "" {
		names := make([]string, 0, len(um.SafeBoxes))
		for name := range um.SafeBoxes {
			names = append(names, name)
		}
		slices.Sort(names)
		return names, nil
	}

	entries, err := os.ReadDir(userRoot)
	if err != nil {
		return nil, ioError(op, "", err)
	}
	names := []string{}
	for _, e := range entries {
		if e.IsDir() && !ReservedSafeBoxName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// record appends an audit event. Failures are logged: the mutation it
// describes has already happened.
func (m *Manager) record(userRoot, box, message string) {
	if err := m.audit.Append(userRoot, box, message); err != nil {
		m.logger.Warn("appending audit entry", "safebox", box, "message", message, "error", err)
	}
}

// guard resolves rel inside base, mapping escapes to SecurityViolation.
func guard(op, base, rel string) (string, error) {
	p, err := pathguard.Resolve(base, rel)
	if err != nil {
		return "", &Error{Kind: KindSecurityViolation, Op: op, Path: rel, Message: "path escapes safebox", Err: err}
	}
	return p, nil
}

// CreateSubfolder creates rel (and any missing parents) inside the safebox.
func (m *Manager) CreateSubfolder(userID, box, rel string) (string, error) {
	const op = "CreateSubfolder"
	userRoot, base, err := m.resolveSafeBox(op, userID, box, true)
	if err != nil {
		return "", err
	}
	target, err := guard(op, base, rel)
	if err != nil {
		return "", err
	}
	if target == base {
		return "", newError(KindInvalidArgument, op, rel, "folder path required")
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		return "", ioError(op, rel, err)
	}
	m.record(userRoot, box, "CREATE_FOLDER "+pathguard.Relative(base, target))
	return target, nil
}

// Usage walks the safebox and reports its consumption against its capacity.
func (m *Manager) Usage(userID, box string) (*Usage, error) {
	const op = "Usage"
	_, base, err := m.resolveSafeBox(op, userID, box, true)
	if err != nil {
		return nil, err
	}
	used, files, err := usageOf(base)
	if err != nil {
		return nil, ioError(op, "", err)
	}
	return &Usage{SafeBox: box, UsedBytes: used, FileCount: files, CapacityBytes: PickCapacity(box)}, nil
}

// usageOf sums regular file sizes under dir, ignoring sidecars and in-flight uploads.
func usageOf(dir string) (bytes, files int64, err error) {
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() || isHidden(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		bytes += info.Size()
		files++
		return nil
	})
	return bytes, files, err
}

// RetentionDays returns the safebox's audit retention window in days.
func (m *Manager) RetentionDays(userID, box string) (int, error) {
	userRoot, _, err := m.resolveSafeBox("RetentionDays", userID, box, false)
	if err != nil {
		return 0, err
	}
	return m.audit.RetentionDays(userRoot, box), nil
}

// SetRetentionDays stores the retention window (minimum 7 days) and prunes
// the safebox log right away. It returns the stored value.
func (m *Manager) SetRetentionDays(userID, box string, days int) (int, error) {
	const op = "SetRetentionDays"
	if err := validateSafeBoxName(op, box); err != nil {
		return 0, err
	}
	userRoot, err := m.EnsureUserRoot(userID)
	if err != nil {
		return 0, err
	}
	stored, err := m.audit.SetRetentionDays(userRoot, box, days)
	if err != nil {
		if stored > 0 {
			m.logger.Warn("pruning after retention change", "safebox", box, "error", err)
			return stored, nil
		}
		return 0, ioError(op, "", err)
	}
	return stored, nil
}

// ReadAudit returns the user's audit entries, most recent first.
func (m *Manager) ReadAudit(userID string, limit int) ([]AuditEntry, error) {
	userRoot, err := m.EnsureUserRoot(userID)
	if err != nil {
		return nil, err
	}
	entries, err := m.audit.Read(userRoot, limit)
	if err != nil {
		return nil, ioError("ReadAudit", "", err)
	}
	return entries, nil
}

// SearchAudit filters and paginates the user's audit entries.
func (m *Manager) SearchAudit(userID string, q AuditQuery) (*AuditPage, error) {
	userRoot, err := m.EnsureUserRoot(userID)
	if err != nil {
		return nil, err
	}
	page, err := m.audit.Search(userRoot, q)
	if err != nil {
		return nil, ioError("SearchAudit", "", err)
	}
	return page, nil
}
