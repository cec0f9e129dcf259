// Package store remembers which backend user id belongs to a session key so
// conversations survive restarts.
package store

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"chatroom/pkg/config"
)

// ErrNotFound is returned by Get when no user id is stored for a key.
var ErrNotFound = errors.New("session key not found")

// Store maps session keys to backend user ids.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key string, userID string) error
	Close() error
}

// New builds the store selected by cfg.Driver.
func New(cfg config.StoreConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite":
		return NewSQLite(cfg.Path)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown store driver: " + cfg.Driver)
	}
}

// Memory keeps user ids for the life of the process.
type Memory struct {
	mu   sync.RWMutex
	keys map[string]string
}

func NewMemory() *Memory {
	return &Memory{keys: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	userID, ok := m.keys[key]
	if !ok {
		return "", ErrNotFound
	}
	return userID, nil
}

func (m *Memory) Put(_ context.Context, key string, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.keys[key] = userID
	return nil
}

func (m *Memory) Close() error { return nil }

// ResolveUserID picks the user id for key. An explicit id wins and is saved;
// otherwise a stored id is reused, and a fresh random id is minted and saved
// when none exists.
func ResolveUserID(ctx context.Context, s Store, key string, explicit string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		if err := s.Put(ctx, key, explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}

	userID, err := s.Get(ctx, key)
	if err == nil && userID != "" {
		return userID, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}

	userID = uuid.NewString()
	if err := s.Put(ctx, key, userID); err != nil {
		return "", err
	}
	return userID, nil
}
