// Package keystore implements C2: persistence of per-peer symmetric keys and
// local identity key material, backed by an encrypted file vault standing in
// for the host's secret storage facility, grounded on the teacher's
// crypto/storage and pkg/agent/crypto/vault packages.
package keystore

import (
	"errors"
	"sync"

	"github.com/hypo-app/hypo-core/internal/model"
)

// ErrKeyNotFound is returned by Load/Delete when device_id has no stored key.
var ErrKeyNotFound = errors.New("keystore: key not found")

// KeyStore is the C2 contract from spec §4.2. Concurrent Store calls for
// distinct ids must not serialize; for the same id the last writer wins but
// never partially.
type KeyStore interface {
	Store(deviceID model.DeviceId, key [32]byte) error
	Load(deviceID model.DeviceId) ([32]byte, error)
	Delete(deviceID model.DeviceId) error
	ListIDs() []model.DeviceId
}

// idLocks serializes Store calls per device id without blocking unrelated ids.
type idLocks struct {
	mu    sync.Mutex
	locks map[model.DeviceId]*sync.Mutex
}

func newIDLocks() *idLocks {
	return &idLocks{locks: make(map[model.DeviceId]*sync.Mutex)}
}

func (l *idLocks) lockFor(id model.DeviceId) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}
