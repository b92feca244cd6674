package credstore

import (
	"context"
	"sync"
)

// MemoryStore is a Store backed by a map in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]string)}
}

// Put stores password under username. A second Put for the same username
// returns ErrDuplicate and leaves the stored password unchanged.
func (s *MemoryStore) Put(_ context.Context, username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.creds[username]; exists {
		return ErrDuplicate
	}
	s.creds[username] = password
	return nil
}

// Get returns the password stored for username.
func (s *MemoryStore) Get(_ context.Context, username string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	password, ok := s.creds[username]
	return password, ok, nil
}

// Len returns the number of stored credentials.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.creds), nil
}

// Close drops every stored credential.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.creds = make(map[string]string)
	s.mu.Unlock()
	return nil
}
