// Package archive delivers safebox ZIP exports to a destination outside the
// storage root, optionally encrypted with age.
package archive

import (
	"context"
	"fmt"
	"io"

	"vaultedge/internal/config"
)

// Sink stores a finished export under name and returns where it ended up.
type Sink interface {
	Put(ctx context.Context, name string, r io.Reader) (string, error)
}

// NewSinkFromConfig creates a Sink based on the export config type.
func NewSinkFromConfig(ctx context.Context, cfg config.ExportConfig, instanceID string) (Sink, error) {
	switch cfg.Type {
	case "filesystem":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("filesystem export requires dir to be set")
		}
		return NewFileSystemSink(cfg.Dir)
	case "s3":
		return NewS3Sink(ctx, S3Config{
			Bucket:     cfg.S3Bucket,
			Prefix:     cfg.S3Prefix,
			Region:     cfg.S3Region,
			Endpoint:   cfg.S3Endpoint,
			InstanceID: instanceID,
		})
	default:
		return nil, fmt.Errorf("unknown export type: %s", cfg.Type)
	}
}
