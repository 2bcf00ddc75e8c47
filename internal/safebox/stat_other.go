//go:build !darwin

package safebox

import (
	"io/fs"
	"time"
)

// birthTime falls back to the modification time where the platform's stat
// record carries no creation time.
func birthTime(info fs.FileInfo) *time.Time {
	t := info.ModTime()
	return &t
}
