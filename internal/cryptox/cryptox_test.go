package cryptox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentitySignVerify(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	msg := []byte("hello hypo")
	sig := id.Sign(msg)
	assert.Len(t, sig, 64)
	assert.True(t, VerifySignature(id.Public, msg, sig))
	assert.False(t, VerifySignature(id.Public, []byte("tampered"), sig))
}

func TestKXDeriveMatchesBothSides(t *testing.T) {
	a, err := GenerateKX()
	require.NoError(t, err)
	b, err := GenerateKX()
	require.NoError(t, err)

	keyA, err := a.Derive(b.PublicBytes(), "hypo-pair-v1")
	require.NoError(t, err)
	keyB, err := b.Derive(a.PublicBytes(), "hypo-pair-v1")
	require.NoError(t, err)

	assert.Equal(t, keyA, keyB)
	assert.Len(t, keyA, 32)
}

func TestDeriveDifferentInfoProducesDifferentKeys(t *testing.T) {
	a, _ := GenerateKX()
	b, _ := GenerateKX()

	key1, _ := a.Derive(b.PublicBytes(), "purpose-1")
	key2, _ := a.Derive(b.PublicBytes(), "purpose-2")
	assert.NotEqual(t, key1, key2)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	aad := []byte("target-device-id")
	plaintext := []byte("Hello, Hypo!")

	nonce, ct, err := Encrypt(key, plaintext, aad, nil)
	require.NoError(t, err)
	assert.Len(t, nonce, 12)

	pt, err := Decrypt(key, nonce, ct, aad)
	require.NoError(t, err)
	assert.Equal(t, plaintext, pt)
}

func TestDecryptBadAuthOnTamperedCiphertext(t *testing.T) {
	key := make([]byte, 32)
	nonce, ct, err := Encrypt(key, []byte("data"), []byte("aad"), nil)
	require.NoError(t, err)

	ct[0] ^= 0xFF
	_, err = Decrypt(key, nonce, ct, []byte("aad"))
	assert.ErrorIs(t, err, ErrBadAuth)
}

func TestDecryptBadAuthOnWrongAAD(t *testing.T) {
	key := make([]byte, 32)
	nonce, ct, err := Encrypt(key, []byte("data"), []byte("aad-a"), nil)
	require.NoError(t, err)

	_, err = Decrypt(key, nonce, ct, []byte("aad-b"))
	assert.ErrorIs(t, err, ErrBadAuth)
}

func TestEd25519ToX25519ConversionAgreesWithECDH(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	xPub, err := Ed25519PubToX25519(id.Public)
	require.NoError(t, err)
	xPriv, err := Ed25519PrivToX25519(id.Private)
	require.NoError(t, err)

	kp, err := KXKeyPairFromPrivateBytes(xPriv)
	require.NoError(t, err)
	assert.Equal(t, xPub, kp.PublicBytes())
}

func TestHPKEExportImportAgree(t *testing.T) {
	kp, err := GenerateKX()
	require.NoError(t, err)

	info := []byte("hypo-pairing-confirm")
	exportCtx := []byte("confirm")

	enc, secretA, err := HPKEExportToPeer(kp.PublicBytes(), info, exportCtx, 32)
	require.NoError(t, err)

	secretB, err := HPKEImportFromEnc(kp.PrivateBytes(), enc, info, exportCtx, 32)
	require.NoError(t, err)

	assert.Equal(t, secretA, secretB)
}
