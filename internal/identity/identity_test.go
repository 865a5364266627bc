package identity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypo-app/hypo-core/internal/cryptox"
)

func TestLoadOrCreateGeneratesOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")

	dev, err := LoadOrCreate(path, "my-laptop", "linux")
	require.NoError(t, err)
	assert.NotEmpty(t, dev.ID)
	assert.Equal(t, "my-laptop", dev.Name)
	assert.NotEmpty(t, dev.Signing.Public)
	assert.NotEmpty(t, dev.Signing.Private)
	assert.Len(t, dev.KX.PublicBytes(), 32)
}

func TestLoadOrCreatePersistsAcrossCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")

	first, err := LoadOrCreate(path, "my-laptop", "linux")
	require.NoError(t, err)

	second, err := LoadOrCreate(path, "ignored-on-reload", "ignored")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Name, second.Name)
	assert.Equal(t, first.Signing.Public, second.Signing.Public)
	assert.Equal(t, first.Signing.Private, second.Signing.Private)
	assert.Equal(t, first.KX.PublicBytes(), second.KX.PublicBytes())
}

func TestLoadOrCreateSignatureRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")

	dev, err := LoadOrCreate(path, "phone", "android")
	require.NoError(t, err)

	reloaded, err := LoadOrCreate(path, "", "")
	require.NoError(t, err)

	msg := []byte("pairing-challenge")
	sig := dev.Signing.Sign(msg)
	assert.True(t, cryptox.VerifySignature(reloaded.Signing.Public, msg, sig))
}
