package audit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"vaultedge/internal/safebox"
)

// DefaultPageSize applies when a search asks for a non-positive page size.
const DefaultPageSize = 200

// Read returns every entry of every *.log file under userRoot, most recent
// first. A positive limit truncates the result.
func (l *Log) Read(userRoot string, limit int) ([]safebox.AuditEntry, error) {
	dirEntries, err := os.ReadDir(userRoot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []safebox.AuditEntry{}, nil
		}
		return nil, fmt.Errorf("listing audit logs: %w", err)
	}

	entries := []safebox.AuditEntry{}
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, LogSuffix) {
			continue
		}
		scope, box := safebox.ScopeSafeBox, strings.TrimSuffix(name, LogSuffix)
		if name == UserLogName {
			scope, box = safebox.ScopeUser, ""
		}

		lines, err := readLines(filepath.Join(userRoot, name))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		for _, line := range lines {
			if strings.TrimSpace(line) == "" {
				continue
			}
			entries = append(entries, l.parseLine(line, scope, box))
		}
	}

	slices.SortStableFunc(entries, func(a, b safebox.AuditEntry) int {
		return strings.Compare(b.Timestamp, a.Timestamp)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (l *Log) parseLine(line string, scope safebox.AuditScope, box string) safebox.AuditEntry {
	e := safebox.AuditEntry{Scope: scope, SafeBoxName: box}
	if i := strings.IndexByte(line, ' '); i > 0 {
		e.Timestamp, e.Message = line[:i], line[i+1:]
	} else {
		e.Timestamp, e.Message = l.clock.Now().UTC().Format(TimestampFormat), line
	}
	return e
}

// Search filters the user's audit entries and returns one page of them.
// Entries whose timestamp cannot be parsed pass the time-range filter.
func (l *Log) Search(userRoot string, q safebox.AuditQuery) (*safebox.AuditPage, error) {
	all, err := l.Read(userRoot, 0)
	if err != nil {
		return nil, err
	}

	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(q.Query))

	filtered := make([]safebox.AuditEntry, 0, len(all))
	for _, e := range all {
		if !inRange(e.Timestamp, q.From, q.To) {
			continue
		}
		if len(q.Scopes) > 0 && !slices.Contains(q.Scopes, e.Scope) {
			continue
		}
		if len(q.SafeBoxes) > 0 && !slices.Contains(q.SafeBoxes, entrySafeBox(e)) {
			continue
		}
		if needle != "" && !strings.Contains(fold.String(e.Message+" "+e.SafeBoxName), needle) {
			continue
		}
		filtered = append(filtered, e)
	}

	page, size := max(q.Page, 0), q.Size
	if size <= 0 {
		size = DefaultPageSize
	}
	total := len(filtered)
	from := total
	if page < total/size+1 {
		from = min(page*size, total)
	}
	to := min(from+size, total)

	return &safebox.AuditPage{
		Items: filtered[from:to],
		Total: total,
		Page:  page,
		Size:  size,
	}, nil
}

func inRange(ts string, from, to *time.Time) bool {
	if from == nil && to == nil {
		return true
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return true
	}
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}

// entrySafeBox returns the safebox an entry belongs to. User-log lines carry
// it as a "<box>: " message prefix.
func entrySafeBox(e safebox.AuditEntry) string {
	if e.SafeBoxName != "" || e.Scope != safebox.ScopeUser {
		return e.SafeBoxName
	}
	if i := strings.IndexByte(e.Message, ':'); i > 0 {
		return strings.TrimSpace(e.Message[:i])
	}
	return ""
}
