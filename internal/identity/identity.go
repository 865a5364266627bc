// Package identity persists this installation's long-term device identity:
// the Ed25519 signing key advertised over mDNS and the stable device id
// derived from it (C1/C4). Generated once on first run, then reused across
// restarts so paired peers never see the device id change underneath them.
package identity

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hypo-app/hypo-core/internal/cryptox"
	"github.com/hypo-app/hypo-core/internal/model"
)

// Device is this installation's persisted identity material.
type Device struct {
	ID       model.DeviceId
	Name     string
	Platform string
	Signing  *cryptox.Identity
	// KX is the long-term X25519 key advertised for responder-side pairing:
	// an initiator needs it before any challenge envelope exists, so unlike
	// the initiator's per-attempt ephemeral key it must survive restarts.
	KX *cryptox.KXKeyPair
}

// onDisk is the JSON envelope written to identity.json.
type onDisk struct {
	DeviceID       string `json:"device_id"`
	Name           string `json:"name"`
	Platform       string `json:"platform"`
	SigningPublic  string `json:"signing_public"`  // base64
	SigningPrivate string `json:"signing_private"` // base64
	KXPrivate      string `json:"kx_private"`      // base64
}

// LoadOrCreate reads path, generating and persisting a fresh identity if the
// file does not exist yet. name/platform are only used on first creation.
func LoadOrCreate(path, name, platform string) (*Device, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return decode(data)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("identity: read: %w", err)
	}

	id, genErr := cryptox.GenerateIdentity()
	if genErr != nil {
		return nil, fmt.Errorf("identity: generate: %w", genErr)
	}
	kx, genErr := cryptox.GenerateKX()
	if genErr != nil {
		return nil, fmt.Errorf("identity: generate kx: %w", genErr)
	}
	dev := &Device{
		ID:       model.DeviceId(id.Fingerprint()),
		Name:     name,
		Platform: platform,
		Signing:  id,
		KX:       kx,
	}
	if err := save(path, dev); err != nil {
		return nil, err
	}
	return dev, nil
}

func decode(data []byte) (*Device, error) {
	var rec onDisk
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("identity: unmarshal: %w", err)
	}
	pub, err := base64.StdEncoding.DecodeString(rec.SigningPublic)
	if err != nil {
		return nil, fmt.Errorf("identity: decode public key: %w", err)
	}
	priv, err := base64.StdEncoding.DecodeString(rec.SigningPrivate)
	if err != nil {
		return nil, fmt.Errorf("identity: decode private key: %w", err)
	}
	kxPriv, err := base64.StdEncoding.DecodeString(rec.KXPrivate)
	if err != nil {
		return nil, fmt.Errorf("identity: decode kx key: %w", err)
	}
	kx, err := cryptox.KXKeyPairFromPrivateBytes(kxPriv)
	if err != nil {
		return nil, fmt.Errorf("identity: reconstruct kx key: %w", err)
	}
	return &Device{
		ID:       model.DeviceId(rec.DeviceID),
		Name:     rec.Name,
		Platform: rec.Platform,
		Signing:  &cryptox.Identity{Public: pub, Private: priv},
		KX:       kx,
	}, nil
}

func save(path string, dev *Device) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("identity: mkdir: %w", err)
	}
	rec := onDisk{
		DeviceID:       string(dev.ID),
		Name:           dev.Name,
		Platform:       dev.Platform,
		SigningPublic:  base64.StdEncoding.EncodeToString(dev.Signing.Public),
		SigningPrivate: base64.StdEncoding.EncodeToString(dev.Signing.Private),
		KXPrivate:      base64.StdEncoding.EncodeToString(dev.KX.PrivateBytes()),
	}
	jsonData, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("identity: marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, jsonData, 0600); err != nil {
		return fmt.Errorf("identity: write: %w", err)
	}
	return os.Rename(tmp, path)
}
