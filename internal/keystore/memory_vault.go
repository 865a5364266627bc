package keystore

import (
	"sort"
	"sync"

	"github.com/hypo-app/hypo-core/internal/model"
)

// MemoryVault is an in-process KeyStore, grounded on the teacher's
// crypto/storage/memory.go, used for tests and the "memory" keystore type.
type MemoryVault struct {
	mu   sync.RWMutex
	keys map[model.DeviceId][32]byte
}

// NewMemoryVault creates an empty in-memory key store.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{keys: make(map[model.DeviceId][32]byte)}
}

func (m *MemoryVault) Store(deviceID model.DeviceId, key [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[deviceID.Canonical()] = key
	return nil
}

func (m *MemoryVault) Load(deviceID model.DeviceId) ([32]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.keys[deviceID.Canonical()]
	if !ok {
		return [32]byte{}, ErrKeyNotFound
	}
	return key, nil
}

func (m *MemoryVault) Delete(deviceID model.DeviceId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[deviceID.Canonical()]; !ok {
		return ErrKeyNotFound
	}
	delete(m.keys, deviceID.Canonical())
	return nil
}

func (m *MemoryVault) ListIDs() []model.DeviceId {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]model.DeviceId, 0, len(m.keys))
	for id := range m.keys {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
