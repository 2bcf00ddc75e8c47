//go:build darwin

package safebox

import (
	"io/fs"
	"syscall"
	"time"
)

// birthTime returns the file's creation time from the stat record.
func birthTime(info fs.FileInfo) *time.Time {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	t := time.Unix(stat.Birthtimespec.Sec, stat.Birthtimespec.Nsec)
	return &t
}
