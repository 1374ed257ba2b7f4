// Package session persists the admin bearer token between runs.
package session

import (
	"context"
	"sync"
)

// TokenKey is the fixed storage key of the admin bearer token.
const TokenKey = "adminToken"

// Store is a small string key/value store.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Tokens reads and writes the admin token in a Store.
type Tokens struct {
	store Store
}

func NewTokens(store Store) *Tokens {
	return &Tokens{store: store}
}

// Token returns the stored token, or "" when no one is logged in.
func (t *Tokens) Token(ctx context.Context) (string, error) {
	v, _, err := t.store.Get(ctx, TokenKey)
	return v, err
}

func (t *Tokens) SetToken(ctx context.Context, token string) error {
	return t.store.Put(ctx, TokenKey, token)
}

func (t *Tokens) ClearToken(ctx context.Context) error {
	return t.store.Delete(ctx, TokenKey)
}

type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *MemoryStore) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}
