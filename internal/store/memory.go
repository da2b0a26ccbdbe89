// File: internal/store/memory.go
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/fitchecklabs/fitcheck-cli/api/schemas"
)

// MemoryStore is a process-local Store. Safe for concurrent use.
type MemoryStore struct {
	mu sync.RWMutex

	avatar    *schemas.AvatarRecord
	settings  *schemas.SettingsRecord
	remoteCfg *schemas.RemoteConfig
	history   []schemas.TryOnRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) SaveAvatar(_ context.Context, rec schemas.AvatarRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.avatar = &rec
	return nil
}

func (m *MemoryStore) GetAvatar(_ context.Context) (schemas.AvatarRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.avatar == nil {
		return schemas.AvatarRecord{}, ErrNotFound
	}
	return *m.avatar, nil
}

func (m *MemoryStore) SaveSettings(_ context.Context, rec schemas.SettingsRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = &rec
	return nil
}

func (m *MemoryStore) GetSettings(_ context.Context) (schemas.SettingsRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings == nil {
		return schemas.DefaultSettings(), nil
	}
	return *m.settings, nil
}

func (m *MemoryStore) SaveRemoteConfig(_ context.Context, cfg schemas.RemoteConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remoteCfg = &cfg
	return nil
}

func (m *MemoryStore) GetRemoteConfig(_ context.Context) (schemas.RemoteConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.remoteCfg == nil {
		return schemas.RemoteConfig{}, ErrNotFound
	}
	return *m.remoteCfg, nil
}

func (m *MemoryStore) AddTryOn(_ context.Context, rec schemas.TryOnRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, rec)
	return nil
}

func (m *MemoryStore) ListTryOns(_ context.Context, limit int) ([]schemas.TryOnRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]schemas.TryOnRecord, len(m.history))
	copy(out, m.history)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Close(context.Context) error {
	return nil
}
