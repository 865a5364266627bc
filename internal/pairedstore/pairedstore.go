// Package pairedstore persists the roster of devices this installation has
// completed pairing with (C7's durable output), so discovery and transport
// wiring can tell a paired peer from an unpaired one across restarts.
package pairedstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hypo-app/hypo-core/internal/model"
)

// Store is the durable roster of model.PairedDevice records.
type Store struct {
	mu   sync.Mutex
	path string
	devs map[model.DeviceId]model.PairedDevice
}

type onDiskRecord struct {
	DeviceID             string    `json:"device_id"`
	Name                 string    `json:"name"`
	Platform             string    `json:"platform"`
	LastSeen             time.Time `json:"last_seen"`
	LastSuccessTransport string    `json:"last_success_transport"`
}

// Open loads the roster from path, creating an empty one if it does not exist.
func Open(path string) (*Store, error) {
	s := &Store{path: path, devs: make(map[model.DeviceId]model.PairedDevice)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("pairedstore: read: %w", err)
	}

	var records []onDiskRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("pairedstore: unmarshal: %w", err)
	}
	for _, r := range records {
		id := model.DeviceId(r.DeviceID).Canonical()
		s.devs[id] = model.PairedDevice{
			DeviceID:             id,
			Name:                 r.Name,
			Platform:             r.Platform,
			LastSeen:             r.LastSeen,
			LastSuccessTransport: model.Transport(r.LastSuccessTransport),
		}
	}
	return s, nil
}

// Upsert records (or updates) a paired device and persists the roster.
func (s *Store) Upsert(dev model.PairedDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev.DeviceID = dev.DeviceID.Canonical()
	s.devs[dev.DeviceID] = dev
	return s.saveLocked()
}

// Remove unpairs a device, persisting the roster.
func (s *Store) Remove(id model.DeviceId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.devs, id.Canonical())
	return s.saveLocked()
}

// IsPaired reports whether id has completed pairing.
func (s *Store) IsPaired(id model.DeviceId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.devs[id.Canonical()]
	return ok
}

// List returns every paired device, sorted by device id.
func (s *Store) List() []model.PairedDevice {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.PairedDevice, 0, len(s.devs))
	for _, d := range s.devs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("pairedstore: mkdir: %w", err)
	}

	records := make([]onDiskRecord, 0, len(s.devs))
	for _, d := range s.devs {
		records = append(records, onDiskRecord{
			DeviceID:             string(d.DeviceID),
			Name:                 d.Name,
			Platform:             d.Platform,
			LastSeen:             d.LastSeen,
			LastSuccessTransport: string(d.LastSuccessTransport),
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].DeviceID < records[j].DeviceID })

	jsonData, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("pairedstore: marshal: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, jsonData, 0600); err != nil {
		return fmt.Errorf("pairedstore: write: %w", err)
	}
	return os.Rename(tmp, s.path)
}
