package safebox

import (
	"fmt"
	"io"
	"time"
)

// RootVaultDir holds a migrated user's safeboxes under the masked user root.
const RootVaultDir = "RootVault"

// UserMapping records the masked identifiers of one migrated user.
type UserMapping struct {
	MaskedUserID string            `json:"maskedUserId"`
	SafeBoxes    map[string]string `json:"safeboxes"` // original name -> masked name
}

// NewUserMapping returns a mapping for userID with no safeboxes.
func NewUserMapping(userID string) *UserMapping {
	return &UserMapping{MaskedUserID: Mask(userID), SafeBoxes: map[string]string{}}
}

// Clone returns a deep copy so callers cannot mutate a store's state.
func (m *UserMapping) Clone() *UserMapping {
	if m == nil {
		return nil
	}
	c := &UserMapping{MaskedUserID: m.MaskedUserID, SafeBoxes: make(map[string]string, len(m.SafeBoxes))}
	for k, v := range m.SafeBoxes {
		c.SafeBoxes[k] = v
	}
	return c
}

// AssignSafeBox returns the masked name for box, deriving and recording one
// from userID + ":" + box when the box is new. If the derived name is already
// taken by a different safebox of the same user, a numeric suffix keeps the
// two directories apart.
func (m *UserMapping) AssignSafeBox(userID, box string) string {
	if m.SafeBoxes == nil {
		m.SafeBoxes = map[string]string{}
	}
	if masked, ok := m.SafeBoxes[box]; ok {
		return masked
	}
	taken := make(map[string]bool, len(m.SafeBoxes))
	for _, v := range m.SafeBoxes {
		taken[v] = true
	}
	base := Mask(userID + ":" + box)
	masked := base
	for n := 2; taken[masked]; n++ {
		masked = fmt.Sprintf("%s-%d", base, n)
	}
	m.SafeBoxes[box] = masked
	return masked
}

// MappingStore persists UserMappings. Implementations must be safe for
// concurrent use; Get returns a copy.
type MappingStore interface {
	Get(userID string) (*UserMapping, bool)
	Put(userID string, m *UserMapping)
	Save() error

	// Update runs fn on the user's mapping (nil when absent) under the store's
	// write lock, stores the returned mapping and saves the document. A nil
	// return leaves the store untouched.
	Update(userID string, fn func(m *UserMapping) (*UserMapping, error)) error
}

// NodeType distinguishes tree entries.
type NodeType string

const (
	NodeFolder NodeType = "folder"
	NodeFile   NodeType = "file"
)

// Node is one entry of a safebox tree. Folders always carry a non-nil
// Children slice; files never do.
type Node struct {
	Type         NodeType   `json:"type"`
	Name         string     `json:"name"`
	Path         string     `json:"path"`
	Size         *int64     `json:"size,omitempty"`
	ModifiedAt   *time.Time `json:"modifiedAt,omitempty"`
	CreatedAt    *time.Time `json:"createdAt,omitempty"`
	OriginalDate *time.Time `json:"originalDate,omitempty"`
	Children     []*Node    `json:"children"`
}

// Usage summarizes a safebox's consumption against its derived capacity.
type Usage struct {
	SafeBox       string `json:"safeBoxName"`
	UsedBytes     int64  `json:"usedBytes"`
	FileCount     int64  `json:"fileCount"`
	CapacityBytes int64  `json:"capacityBytes"`
}

// Remaining returns the bytes still available for uploads.
func (u Usage) Remaining() int64 { return u.CapacityBytes - u.UsedBytes }

// FileContent is an open safebox file ready to stream to a caller.
type FileContent struct {
	Name        string
	Size        int64
	ModifiedAt  time.Time
	ContentType string
	Reader      io.ReadSeekCloser
}
