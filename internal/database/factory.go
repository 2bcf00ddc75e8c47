package database

import (
	"fmt"
	"os"
	"path/filepath"

	"vaultedge/internal/config"
	"vaultedge/internal/safebox"
)

// NewDatabaseFromConfig opens the journal described by cfg. SQLite journals
// live at <data_dir>/<instanceID>.db.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, instanceID string, clock safebox.Clock) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, instanceID+".db"), clock)
	case "memory":
		return NewSQLiteDatabase(":memory:", clock)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
