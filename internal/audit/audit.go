// Package audit keeps the per-safebox and per-user event logs that live next
// to a user's safeboxes, and prunes them according to each safebox's
// retention window.
//
// Layout under a user root:
//
//	<box>.log        one "<timestamp> <message>" line per safebox event
//	usuario.log      the same events, prefixed with "<box>: "
//	<box>.retention  retention window in days (decimal text)
package audit

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"vaultedge/internal/safebox"
)

const (
	UserLogName     = safebox.UserLogName
	LogSuffix       = safebox.LogSuffix
	RetentionSuffix = safebox.RetentionSuffix

	DefaultRetentionDays = 30
	MinRetentionDays     = 7

	// TimestampFormat is fixed-width UTC so lexical order matches time order.
	TimestampFormat = "2006-01-02T15:04:05.000Z07:00"
)

// Log appends, prunes and queries audit files. One Log should be shared by
// every caller touching the same storage root so appends are serialized.
type Log struct {
	clock  safebox.Clock
	logger safebox.Logger
	locks  sync.Map // log path -> *sync.Mutex
}

// New creates an audit Log.
func New(clock safebox.Clock, logger safebox.Logger) *Log {
	return &Log{clock: clock, logger: logger}
}

func (l *Log) lock(path string) func() {
	mu, _ := l.locks.LoadOrStore(path, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// Append writes message to the safebox log and a summary line to the user
// log. The safebox log is then pruned; pruning failures are logged, not returned.
func (l *Log) Append(userRoot, box, message string) error {
	if err := checkBox(box); err != nil {
		return err
	}
	boxLog := filepath.Join(userRoot, box+LogSuffix)
	userLog := filepath.Join(userRoot, UserLogName)
	message = sanitize(message)
	ts := l.clock.Now().UTC().Format(TimestampFormat)

	// Lock order is always safebox log, then user log.
	unlockBox := l.lock(boxLog)
	defer unlockBox()

	if err := appendLine(boxLog, ts+" "+message); err != nil {
		return fmt.Errorf("appending to %s: %w", filepath.Base(boxLog), err)
	}

	unlockUser := l.lock(userLog)
	err := appendLine(userLog, ts+" "+box+": "+message)
	unlockUser()
	if err != nil {
		return fmt.Errorf("appending to %s: %w", UserLogName, err)
	}

	if err := l.pruneLocked(boxLog, l.RetentionDays(userRoot, box)); err != nil {
		l.logger.Warn("pruning audit log", "path", boxLog, "error", err)
	}
	return nil
}

// checkBox rejects safebox names whose log would be the user log.
func checkBox(box string) error {
	if box+LogSuffix == UserLogName {
		return fmt.Errorf("safebox name %q is reserved for the user log", box)
	}
	return nil
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// sanitize keeps one event on one line.
func sanitize(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}

// Prune drops lines of the log at path whose timestamp is older than
// now - days. Lines whose timestamp cannot be parsed are kept; blank lines are
// dropped. The file is rewritten only when something changed.
func (l *Log) Prune(path string, days int) error {
	unlock := l.lock(path)
	defer unlock()
	return l.pruneLocked(path, days)
}

func (l *Log) pruneLocked(path string, days int) error {
	if days <= 0 {
		return nil
	}
	lines, err := readLines(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	threshold := l.clock.Now().Add(-time.Duration(days) * 24 * time.Hour)
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		ts, _, _ := strings.Cut(line, " ")
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil || !t.Before(threshold) {
			kept = append(kept, line)
		}
	}
	if len(kept) == len(lines) {
		return nil
	}
	return rewrite(path, kept)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	return lines, nil
}

func rewrite(path string, lines []string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-log-*")
	if err != nil {
		return fmt.Errorf("creating temp log: %w", err)
	}
	tmpPath := tmp.Name()

	w := bufio.NewWriter(tmp)
	for _, line := range lines {
		w.WriteString(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing pruned log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing pruned log: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing log: %w", err)
	}
	return nil
}

// RetentionDays returns the safebox's retention window: the stored value
// clamped to MinRetentionDays, or DefaultRetentionDays when unset or unreadable.
func (l *Log) RetentionDays(userRoot, box string) int {
	data, err := os.ReadFile(filepath.Join(userRoot, box+RetentionSuffix))
	if err != nil {
		return DefaultRetentionDays
	}
	d, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return DefaultRetentionDays
	}
	return max(d, MinRetentionDays)
}

// SetRetentionDays stores days (clamped to MinRetentionDays) and prunes the
// safebox log right away. It returns the stored value.
func (l *Log) SetRetentionDays(userRoot, box string, days int) (int, error) {
	if err := checkBox(box); err != nil {
		return 0, err
	}
	days = max(days, MinRetentionDays)
	path := filepath.Join(userRoot, box+RetentionSuffix)
	if err := os.WriteFile(path, []byte(strconv.Itoa(days)), 0644); err != nil {
		return 0, fmt.Errorf("writing retention setting: %w", err)
	}
	if err := l.Prune(filepath.Join(userRoot, box+LogSuffix), days); err != nil {
		return days, fmt.Errorf("pruning after retention change: %w", err)
	}
	return days, nil
}

var _ safebox.AuditLog = (*Log)(nil)
