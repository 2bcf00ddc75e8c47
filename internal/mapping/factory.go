// Package mapping persists the masked identifiers of migrated users.
package mapping

import (
	"fmt"

	"vaultedge/internal/config"
	"vaultedge/internal/safebox"
)

// NewStoreFromConfig creates a MappingStore for the storage root based on the config type.
func NewStoreFromConfig(cfg config.MappingsConfig, root string) (safebox.MappingStore, error) {
	switch cfg.Type {
	case "file", "":
		return NewFileStore(root)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown mapping store type: %q", cfg.Type)
	}
}
