package keyforge

import (
	"context"
	"fmt"
	"sync"
)

// MemoryTokenStore is an in-memory TokenStore.
// Suitable for tests and for processes that re-activate on every start.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewMemoryTokenStore creates an empty in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]string)}
}

func (m *MemoryTokenStore) Load(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	token, ok := m.tokens[key]
	if !ok {
		return "", ErrTokenNotFound
	}
	return token, nil
}

func (m *MemoryTokenStore) Save(ctx context.Context, key, token string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.tokens[key] = token
	return nil
}

func (m *MemoryTokenStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.tokens, key)
	return nil
}

// Len returns the number of stored tokens.
func (m *MemoryTokenStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tokens)
}
