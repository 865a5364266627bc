package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/hypo-app/hypo-core/internal/model"
)

// encryptedKeyData is the on-disk envelope for one stored key.
type encryptedKeyData struct {
	Version    string    `json:"version"`
	DeviceID   string    `json:"device_id"`
	Algorithm  string    `json:"algorithm"`
	Salt       string    `json:"salt"`
	IV         string    `json:"iv"`
	Ciphertext string    `json:"ciphertext"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FileVault implements KeyStore using filesystem storage, each key wrapped
// with AES-256-GCM under a PBKDF2-derived key from a passphrase.
type FileVault struct {
	basePath   string
	passphrase string
	mu         sync.RWMutex
	locks      *idLocks
}

// NewFileVault creates (or reuses) a vault directory at basePath, wrapping
// every stored key with passphrase.
func NewFileVault(basePath, passphrase string) (*FileVault, error) {
	if err := os.MkdirAll(basePath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}
	return &FileVault{basePath: basePath, passphrase: passphrase, locks: newIDLocks()}, nil
}

func (v *FileVault) keyPath(id model.DeviceId) string {
	safe := filepath.Base(string(id.Canonical()))
	return filepath.Join(v.basePath, safe+".json")
}

// Store encrypts and atomically persists key under device id. Serialized per
// id; distinct ids proceed concurrently.
func (v *FileVault) Store(deviceID model.DeviceId, key [32]byte) error {
	lock := v.locks.lockFor(deviceID.Canonical())
	lock.Lock()
	defer lock.Unlock()

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("keystore: generate salt: %w", err)
	}
	derivedKey := pbkdf2.Key([]byte(v.passphrase), salt, 100000, 32, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return fmt.Errorf("keystore: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("keystore: create gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("keystore: generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, key[:], nil)

	now := time.Now()
	data := encryptedKeyData{
		Version:    "1.0",
		DeviceID:   string(deviceID.Canonical()),
		Algorithm:  "AES-256-GCM",
		Salt:       base64.StdEncoding.EncodeToString(salt),
		IV:         base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("keystore: marshal: %w", err)
	}

	// Write-then-rename keeps Store atomic from a reader's perspective.
	path := v.keyPath(deviceID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, jsonData, 0600); err != nil {
		return fmt.Errorf("keystore: write: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load decrypts and returns the key stored for device id.
func (v *FileVault) Load(deviceID model.DeviceId) ([32]byte, error) {
	var out [32]byte

	jsonData, err := os.ReadFile(v.keyPath(deviceID))
	if err != nil {
		if os.IsNotExist(err) {
			return out, ErrKeyNotFound
		}
		return out, fmt.Errorf("keystore: read: %w", err)
	}

	var data encryptedKeyData
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return out, fmt.Errorf("keystore: unmarshal: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(data.Salt)
	if err != nil {
		return out, fmt.Errorf("keystore: decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(data.IV)
	if err != nil {
		return out, fmt.Errorf("keystore: decode iv: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(data.Ciphertext)
	if err != nil {
		return out, fmt.Errorf("keystore: decode ciphertext: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(v.passphrase), salt, 100000, 32, sha256.New)
	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return out, fmt.Errorf("keystore: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return out, fmt.Errorf("keystore: create gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return out, fmt.Errorf("keystore: invalid passphrase or corrupt key: %w", err)
	}
	copy(out[:], plaintext)
	return out, nil
}

// Delete removes the key stored for device id.
func (v *FileVault) Delete(deviceID model.DeviceId) error {
	lock := v.locks.lockFor(deviceID.Canonical())
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(v.keyPath(deviceID)); err != nil {
		if os.IsNotExist(err) {
			return ErrKeyNotFound
		}
		return fmt.Errorf("keystore: delete: %w", err)
	}
	return nil
}

// ListIDs returns every device id with a stored key, sorted.
func (v *FileVault) ListIDs() []model.DeviceId {
	var ids []model.DeviceId

	files, err := os.ReadDir(v.basePath)
	if err != nil {
		return ids
	}
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		name := f.Name()[:len(f.Name())-len(".json")]
		ids = append(ids, model.DeviceId(name))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
