package gateway

import (
	"context"
	"sync"
)

// SessionStorage persists the current session of an Auth under a key.
// Load returns nil, nil when nothing is stored.
type SessionStorage interface {
	Load(ctx context.Context, key string) (*Session, error)
	Save(ctx context.Context, key string, session *Session) error
	Delete(ctx context.Context, key string) error
}

// MemoryStorage keeps sessions in process memory.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string]Session
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: map[string]Session{}}
}

func (m *MemoryStorage) Load(_ context.Context, key string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.items[key]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

func (m *MemoryStorage) Save(_ context.Context, key string, session *Session) error {
	if session == nil {
		return m.Delete(context.Background(), key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = *session
	return nil
}

func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}
