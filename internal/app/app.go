// Package app is the application layer between the CLI and the storage
// engine. It builds every dependency from config, exposes the engine's
// operations to the CLI and journals the commands that change stored data.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"filippo.io/age"
	"github.com/google/uuid"

	"vaultedge/internal/archive"
	"vaultedge/internal/audit"
	"vaultedge/internal/config"
	"vaultedge/internal/database"
	"vaultedge/internal/mapping"
	"vaultedge/internal/migration"
	"vaultedge/internal/safebox"
)

// App wires the storage engine, the migration engine, the operation journal
// and the export sink for one CLI invocation. The caller must call Close.
type App struct {
	cfg      *config.Config
	db       *database.SQLiteDatabase
	store    safebox.MappingStore
	manager  *safebox.Manager
	migrator *migration.Engine
	logger   *slog.Logger
	op       *Operation
	logFile  *os.File
}

// New creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "box create", "migrate").
func New(cfg *config.Config, operation string) (*App, error) {
	opID := uuid.New().String()
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a, err := build(cfg, operation, logger)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.logFile = logFile
	return a, nil
}

func build(cfg *config.Config, operation string, logger *slog.Logger) (*App, error) {
	clock := safebox.RealClock{}
	engineLogger := &slogAdapter{l: logger}

	store, err := mapping.NewStoreFromConfig(cfg.Mappings, cfg.Storage.Root)
	if err != nil {
		return nil, fmt.Errorf("creating mapping store: %w", err)
	}

	mgr, err := safebox.NewManager(cfg.Storage.Root, store, audit.New(clock, engineLogger),
		safebox.Options{MaxUploadBytes: cfg.Storage.MaxUploadBytes}, engineLogger, clock)
	if err != nil {
		return nil, fmt.Errorf("creating safebox manager: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.InstanceID, clock)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if cfg.Database.Type == "memory" {
		err = db.MigrateUp()
	} else {
		err = db.CheckMigrations()
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	return &App{
		cfg:      cfg,
		db:       db,
		store:    store,
		manager:  mgr,
		migrator: migration.New(mgr.Root(), store, engineLogger),
		logger:   logger,
		op:       NewOperation(operation),
	}, nil
}

// Init writes a new config file and creates the journal schema.
func Init(path string, cfg *config.Config) error {
	if err := config.Init(path, cfg); err != nil {
		return err
	}
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.InstanceID, nil)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()
	if err := db.MigrateUp(); err != nil {
		return fmt.Errorf("creating database schema: %w", err)
	}
	return nil
}

// persistOperation saves the operation to the journal, giving it an auto-increment ID.
// This should only be called for mutating commands.
func (a *App) persistOperation(params ...string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.SetParameters(params...)
	dbOp, err := a.db.CreateOperation(a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// mutate journals the operation, runs fn and records its outcome.
func (a *App) mutate(fn func() error, params ...string) error {
	if err := a.persistOperation(params...); err != nil {
		return err
	}
	return a.op.Observe(fn())
}

// Config returns the config the App was built from.
func (a *App) Config() *config.Config { return a.cfg }

// EnsureUser creates the user's root directory and returns it.
func (a *App) EnsureUser(userID string) (string, error) {
	return a.manager.EnsureUserRoot(userID)
}

// CreateSafeBox creates a safebox and returns its directory.
func (a *App) CreateSafeBox(userID, box string) (string, error) {
	var dir string
	err := a.mutate(func() (err error) {
		dir, err = a.manager.CreateSafeBox(userID, box)
		return err
	}, userID, box)
	return dir, err
}

// ListSafeBoxes returns the user's safebox names.
func (a *App) ListSafeBoxes(userID string) ([]string, error) {
	return a.manager.ListSafeBoxes(userID)
}

// SafeBoxExists reports whether the safebox exists.
func (a *App) SafeBoxExists(userID, box string) (bool, error) {
	return a.manager.SafeBoxExists(userID, box)
}

// Usage returns one safebox's usage, or every safebox's when box is empty.
func (a *App) Usage(userID, box string) ([]safebox.Usage, error) {
	if box == "" {
		return a.manager.UsageAll(userID)
	}
	u, err := a.manager.Usage(userID, box)
	if err != nil {
		return nil, err
	}
	return []safebox.Usage{*u}, nil
}

// Tree returns the safebox's file tree.
func (a *App) Tree(userID, box string) (*safebox.Node, error) {
	return a.manager.Tree(userID, box)
}

// RetentionDays returns the safebox's audit retention window.
func (a *App) RetentionDays(userID, box string) (int, error) {
	return a.manager.RetentionDays(userID, box)
}

// SetRetentionDays stores a new retention window and returns the stored value.
func (a *App) SetRetentionDays(userID, box string, days int) (int, error) {
	var stored int
	err := a.mutate(func() (err error) {
		stored, err = a.manager.SetRetentionDays(userID, box, days)
		return err
	}, userID, box, fmt.Sprint(days))
	return stored, err
}

// UploadFile stores the local file at localPath as rel inside the safebox.
// An empty rel uses the local file's base name.
func (a *App) UploadFile(userID, box, localPath, rel string, originalDate *time.Time) (string, error) {
	if rel == "" {
		rel = filepath.Base(localPath)
	}
	var stored string
	err := a.mutate(func() error {
		f, err := os.Open(localPath)
		if err != nil {
			return fmt.Errorf("opening upload: %w", err)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("stat upload: %w", err)
		}
		var ms *int64
		if originalDate != nil {
			v := originalDate.UnixMilli()
			ms = &v
		}
		stored, err = a.manager.SaveFile(userID, box, rel, f, info.Size(), ms)
		return err
	}, userID, box, rel)
	return stored, err
}

// DownloadFile copies rel out of the safebox to dest. A dest that is an
// existing directory (or empty, meaning the working directory) receives the
// file under its stored name. It returns the written path and content type.
func (a *App) DownloadFile(userID, box, rel, dest string) (string, string, error) {
	fc, err := a.manager.ReadFile(userID, box, rel)
	if err != nil {
		return "", "", err
	}
	defer fc.Reader.Close()

	if dest == "" {
		dest = "."
	}
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		dest = filepath.Join(dest, fc.Name)
	}
	if err := writeFileAtomic(dest, fc.Reader); err != nil {
		return "", "", err
	}
	if err := os.Chtimes(dest, fc.ModifiedAt, fc.ModifiedAt); err != nil {
		a.logger.Warn("preserving modification time", "path", dest, "error", err)
	}
	return dest, fc.ContentType, nil
}

// writeFileAtomic writes r to destPath via a temp file in the same directory.
func writeFileAtomic(destPath string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".download-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("writing %s: %w", destPath, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", destPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", destPath, err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	success = true
	return nil
}

// DeleteFile removes a file from the safebox.
func (a *App) DeleteFile(userID, box, rel string) error {
	return a.mutate(func() error {
		return a.manager.DeleteFile(userID, box, rel)
	}, userID, box, rel)
}

// RenameFile renames a file in place.
func (a *App) RenameFile(userID, box, rel, newName string) error {
	return a.mutate(func() error {
		return a.manager.RenameFile(userID, box, rel, newName)
	}, userID, box, rel, newName)
}

// CreateFolder creates a folder (and its parents) inside the safebox.
func (a *App) CreateFolder(userID, box, rel string) (string, error) {
	var dir string
	err := a.mutate(func() (err error) {
		dir, err = a.manager.CreateSubfolder(userID, box, rel)
		return err
	}, userID, box, rel)
	return dir, err
}

// DeleteFolder removes a folder and everything below it.
func (a *App) DeleteFolder(userID, box, rel string) error {
	return a.mutate(func() error {
		return a.manager.DeleteFolder(userID, box, rel)
	}, userID, box, rel)
}

// RenameFolder renames a folder in place.
func (a *App) RenameFolder(userID, box, rel, newName string) error {
	return a.mutate(func() error {
		return a.manager.RenameFolder(userID, box, rel, newName)
	}, userID, box, rel, newName)
}

// ReadAudit returns up to limit audit entries, most recent first.
func (a *App) ReadAudit(userID string, limit int) ([]safebox.AuditEntry, error) {
	return a.manager.ReadAudit(userID, limit)
}

// SearchAudit filters and pages the user's audit entries.
func (a *App) SearchAudit(userID string, q safebox.AuditQuery) (*safebox.AuditPage, error) {
	return a.manager.SearchAudit(userID, q)
}

// MigrateUser moves the user's plaintext safeboxes into the masked layout.
func (a *App) MigrateUser(userID string) (*migration.Result, error) {
	var res *migration.Result
	err := a.mutate(func() (err error) {
		res, err = a.migrator.MigrateUser(userID)
		return err
	}, userID)
	return res, err
}

// Mapping returns the user's masked identifiers, if the user was migrated.
func (a *App) Mapping(userID string) (*safebox.UserMapping, bool) {
	return a.migrator.Mapping(userID)
}

// ExportRequest selects what to archive. Files, when set, wins over Path.
type ExportRequest struct {
	Path       string
	Files      []string
	Recipients []age.Recipient
}

// ExportResult describes a delivered archive.
type ExportResult struct {
	Name     string
	Location string
	Skipped  []string
}

// Export zips part of a safebox and delivers it to the configured sink,
// encrypted when the request or the config names a recipient.
func (a *App) Export(ctx context.Context, userID, box string, req ExportRequest) (*ExportResult, error) {
	recipients := append([]age.Recipient{}, req.Recipients...)
	if a.cfg.Export.Recipient != "" {
		r, err := archive.ParseRecipient(a.cfg.Export.Recipient)
		if err != nil {
			return nil, fmt.Errorf("export recipient: %w", err)
		}
		recipients = append(recipients, r)
	}

	res := &ExportResult{}
	err := a.mutate(func() error {
		sink, err := archive.NewSinkFromConfig(ctx, a.cfg.Export, a.cfg.InstanceID)
		if err != nil {
			return fmt.Errorf("creating export sink: %w", err)
		}
		produce := func(w io.Writer) (string, error) {
			if len(req.Files) > 0 {
				name, skipped, err := a.manager.ZipFiles(userID, box, req.Files, w)
				res.Skipped = skipped
				return name, err
			}
			return a.manager.ZipPath(userID, box, req.Path, w)
		}
		res.Name, res.Location, err = archive.NewExporter(sink, recipients...).Export(ctx, produce)
		if err == nil {
			a.logger.Info("exported archive", "user", userID, "safebox", box, "location", res.Location)
		}
		return err
	}, userID, box, req.Path)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// History returns the most recent journaled operations.
func (a *App) History(limit int) ([]*database.Operation, error) {
	return a.db.ListOperations(limit)
}

// Close finishes the journaled operation, if any, and releases resources.
func (a *App) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.db.FinishOperation(a.op.ID, a.op.Status); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}
	}
	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
