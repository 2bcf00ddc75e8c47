package mapping

import (
	"sync"

	"vaultedge/internal/safebox"
)

// MemoryStore is an in-memory MappingStore for tests and dry runs.
// Save only counts calls.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]*safebox.UserMapping
	saves int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: map[string]*safebox.UserMapping{}}
}

func (s *MemoryStore) Get(userID string) (*safebox.UserMapping, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.users[userID]
	return m.Clone(), ok
}

func (s *MemoryStore) Put(userID string, m *safebox.UserMapping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = m.Clone()
}

func (s *MemoryStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	return nil
}

func (s *MemoryStore) Update(userID string, fn func(m *safebox.UserMapping) (*safebox.UserMapping, error)) error {
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
	s.saves++
	return nil
}

// Saves returns how many times the store was saved.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

var _ safebox.MappingStore = (*MemoryStore)(nil)
