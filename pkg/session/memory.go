package session

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository keeps sessions in process memory. It does not survive
// restarts and cannot be shared between processes.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*Session)}
}

// Get implements Repository.
func (m *MemoryRepository) Get(ctx context.Context, userID string) (*Session, error) {
	return getOrNew(ctx, m, userID)
}

// Lookup implements Repository.
func (m *MemoryRepository) Lookup(_ context.Context, userID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	s, ok := m.sessions[userID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

// Save implements Repository.
func (m *MemoryRepository) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	s.UpdatedAt = time.Now().UTC()
	m.sessions[s.UserID] = s.Clone()
	return nil
}

// Delete implements Repository.
func (m *MemoryRepository) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	delete(m.sessions, userID)
	return nil
}

// List implements Repository.
func (m *MemoryRepository) List(_ context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	return out, nil
}

// Close implements Repository.
func (m *MemoryRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
