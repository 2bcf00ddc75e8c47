package safebox

import (
	"strings"
	"time"
)

// Audit files share the user root with plaintext safebox directories.
const (
	UserLogName     = "usuario.log"
	LogSuffix       = ".log"
	RetentionSuffix = ".retention"
)

// ReservedSafeBoxName reports whether name would collide with the audit
// files next to it or be skipped by migration: dot-prefixed names, names
// ending in .log or .retention, and the user log's base name.
func ReservedSafeBoxName(name string) bool {
	return strings.HasPrefix(name, ".") ||
		strings.HasSuffix(name, LogSuffix) ||
		strings.HasSuffix(name, RetentionSuffix) ||
		name+LogSuffix == UserLogName
}

// AuditScope tells whether an entry came from the user-wide log or a safebox log.
type AuditScope string

const (
	ScopeUser    AuditScope = "USER"
	ScopeSafeBox AuditScope = "SAFEBOX"
)

// AuditEntry is one parsed audit log line.
type AuditEntry struct {
	Scope       AuditScope `json:"scope"`
	SafeBoxName string     `json:"safeBoxName,omitempty"`
	Timestamp   string     `json:"timestamp"`
	Message     string     `json:"message"`
}

// AuditQuery filters a user's audit entries. Zero values disable a filter.
type AuditQuery struct {
	From      *time.Time
	To        *time.Time
	Scopes    []AuditScope
	SafeBoxes []string
	Query     string
	Page      int
	Size      int
}

// AuditPage is one page of search results. Total counts all matches.
type AuditPage struct {
	Items []AuditEntry `json:"items"`
	Total int          `json:"total"`
	Page  int          `json:"page"`
	Size  int          `json:"size"`
}

// AuditLog records safebox events under a user root.
type AuditLog interface {
	// Append writes message to the safebox log and its summary to the user
	// log, then prunes the safebox log best-effort.
	Append(userRoot, box, message string) error
	Read(userRoot string, limit int) ([]AuditEntry, error)
	Search(userRoot string, q AuditQuery) (*AuditPage, error)
	RetentionDays(userRoot, box string) int
	// SetRetentionDays stores the clamped value, prunes the safebox log and
	// returns the stored value.
	SetRetentionDays(userRoot, box string, days int) (int, error)
}
