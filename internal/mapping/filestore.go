package mapping

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"vaultedge/internal/safebox"
)

// FileName is the mapping document's name under the storage root.
const FileName = ".vaultedge_mappings.json"

// document is the on-disk shape of the mapping file.
type document struct {
	Users map[string]*safebox.UserMapping `json:"users"`
}

// FileStore keeps the whole mapping document in memory and rewrites it on
// every save. Exactly one FileStore should exist per storage root.
type FileStore struct {
	mu    sync.Mutex
	path  string
	users map[string]*safebox.UserMapping
}

// NewFileStore loads the mapping document under root. A missing document is
// not an error: it means no user has been migrated yet.
func NewFileStore(root string) (*FileStore, error) {
	s := &FileStore{
		path:  filepath.Join(root, FileName),
		users: map[string]*safebox.UserMapping{},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading mapping document: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing mapping document %s: %w", s.path, err)
	}
	for id, m := range doc.Users {
		if m == nil {
			continue
		}
		if m.SafeBoxes == nil {
			m.SafeBoxes = map[string]string{}
		}
		s.users[id] = m
	}
	return nil
}

// Path returns the location of the mapping document.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(userID string) (*safebox.UserMapping, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.users[userID]
	return m.Clone(), ok
}

func (s *FileStore) Put(userID string, m *safebox.UserMapping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = m.Clone()
}

func (s *FileStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *FileStore) Update(userID string, fn func(m *safebox.UserMapping) (*safebox.UserMapping, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(s.users[userID].Clone())
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	s.users[userID] = next.Clone()
	return s.saveLocked()
}

// saveLocked writes the document via a temp file and rename so readers never
// observe a partially written file.
func (s *FileStore) saveLocked() error {
	data, err := json.MarshalIndent(document{Users: s.users}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding mapping document: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating storage root: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-mappings-*")
	if err != nil {
		return fmt.Errorf("creating temp mapping file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing mapping document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing mapping document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing mapping document: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replacing mapping document: %w", err)
	}

	success = true
	return nil
}

var _ safebox.MappingStore = (*FileStore)(nil)
