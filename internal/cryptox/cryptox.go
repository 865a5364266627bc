// Package cryptox implements C1: X25519 key agreement, Ed25519 signing, and
// AES-256-GCM AEAD with HKDF-SHA256 derivation, grounded on the teacher's
// crypto/keys package.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/hkdf"

	"github.com/hypo-app/hypo-core/internal/metrics"
)

// Error taxonomy for C1, per spec §7 ("Crypto": BadAuth, Encrypt, Decrypt, InvalidKey).
var (
	ErrBadAuth    = errors.New("cryptox: authentication tag invalid")
	ErrEncrypt    = errors.New("cryptox: encryption failed")
	ErrDecrypt    = errors.New("cryptox: decryption failed")
	ErrInvalidKey = errors.New("cryptox: invalid key material")
)

const (
	nonceSize = 12
	tagSize   = 16
	keySize   = 32
)

// Identity is an Ed25519 signing key pair used for device identity and
// advertisement signing.
type Identity struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateIdentity creates a new Ed25519 signing identity.
func GenerateIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Identity{Public: pub, Private: priv}, nil
}

// Fingerprint returns the hex-encoded SHA-256 hash of the public key,
// truncated to 8 bytes, matching the teacher's key-id convention.
func (id *Identity) Fingerprint() string {
	sum := sha256.Sum256(id.Public)
	return hex.EncodeToString(sum[:8])
}

// Sign produces a 64-byte Ed25519 signature over msg.
func (id *Identity) Sign(msg []byte) []byte {
	start := time.Now()
	sig := ed25519.Sign(id.Private, msg)
	metrics.CryptoOperations.WithLabelValues("sign", "ed25519").Inc()
	metrics.CryptoOperationDuration.WithLabelValues("sign", "ed25519").Observe(time.Since(start).Seconds())
	return sig
}

// VerifySignature checks an Ed25519 signature against a public key.
func VerifySignature(pub ed25519.PublicKey, msg, sig []byte) bool {
	start := time.Now()
	ok := ed25519.Verify(pub, msg, sig)
	metrics.CryptoOperations.WithLabelValues("verify", "ed25519").Inc()
	metrics.CryptoOperationDuration.WithLabelValues("verify", "ed25519").Observe(time.Since(start).Seconds())
	if !ok {
		metrics.CryptoErrors.WithLabelValues("verify").Inc()
	}
	return ok
}

// KXKeyPair is an X25519 key-agreement key pair.
type KXKeyPair struct {
	priv *ecdh.PrivateKey
	pub  *ecdh.PublicKey
}

// GenerateKX creates a new ephemeral X25519 key pair.
func GenerateKX() (*KXKeyPair, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &KXKeyPair{priv: priv, pub: priv.PublicKey()}, nil
}

// KXKeyPairFromPrivateBytes reconstructs a key pair from a raw 32-byte scalar.
func KXKeyPairFromPrivateBytes(b []byte) (*KXKeyPair, error) {
	priv, err := ecdh.X25519().NewPrivateKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &KXKeyPair{priv: priv, pub: priv.PublicKey()}, nil
}

// PublicBytes returns the 32-byte X25519 public key.
func (kp *KXKeyPair) PublicBytes() []byte { return kp.pub.Bytes() }

// PrivateBytes returns the 32-byte X25519 scalar.
func (kp *KXKeyPair) PrivateBytes() []byte { return kp.priv.Bytes() }

// Derive computes the 32-byte session key shared with peerPub: X25519 ECDH
// followed by HKDF-SHA256 with a fixed salt and a per-purpose info label.
func (kp *KXKeyPair) Derive(peerPub []byte, info string) ([]byte, error) {
	start := time.Now()
	defer func() {
		metrics.CryptoOperationDuration.WithLabelValues("ecdh", "x25519").Observe(time.Since(start).Seconds())
	}()
	metrics.CryptoOperations.WithLabelValues("ecdh", "x25519").Inc()

	peer, err := ecdh.X25519().NewPublicKey(peerPub)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("ecdh").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	shared, err := kp.priv.ECDH(peer)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("ecdh").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	var zero [32]byte
	if subtle.ConstantTimeCompare(shared, zero[:]) == 1 {
		metrics.CryptoErrors.WithLabelValues("ecdh").Inc()
		return nil, fmt.Errorf("%w: low-order point", ErrInvalidKey)
	}

	salt := []byte("hypo-pair-v1-salt")
	h := hkdf.New(sha256.New, shared, salt, []byte(info))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(h, key); err != nil {
		metrics.CryptoErrors.WithLabelValues("ecdh").Inc()
		return nil, fmt.Errorf("%w: hkdf: %v", ErrInvalidKey, err)
	}
	return key, nil
}

// Encrypt seals plaintext with AES-256-GCM under key, with the given AAD.
// If nonce is nil a fresh CSPRNG nonce is generated; otherwise it must be
// exactly 12 bytes. Returns nonce and ciphertext||tag.
func Encrypt(key, plaintext, aad, nonce []byte) (outNonce, ciphertext []byte, err error) {
	start := time.Now()
	metrics.CryptoOperations.WithLabelValues("encrypt", "aes-gcm").Inc()
	defer func() {
		metrics.CryptoOperationDuration.WithLabelValues("encrypt", "aes-gcm").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.CryptoErrors.WithLabelValues("encrypt").Inc()
		}
	}()

	if len(key) != keySize {
		return nil, nil, fmt.Errorf("%w: key must be %d bytes", ErrInvalidKey, keySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrEncrypt, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrEncrypt, err)
	}

	if nonce == nil {
		nonce = make([]byte, nonceSize)
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrEncrypt, err)
		}
	} else if len(nonce) != nonceSize {
		return nil, nil, fmt.Errorf("%w: nonce must be %d bytes", ErrEncrypt, nonceSize)
	}

	ct := aead.Seal(nil, nonce, plaintext, aad)
	return nonce, ct, nil
}

// Decrypt opens ciphertext (which includes the GCM tag) with key, nonce, and aad.
func Decrypt(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	start := time.Now()
	metrics.CryptoOperations.WithLabelValues("decrypt", "aes-gcm").Inc()
	var err error
	defer func() {
		metrics.CryptoOperationDuration.WithLabelValues("decrypt", "aes-gcm").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		}
	}()

	if len(key) != keySize {
		err = fmt.Errorf("%w: key must be %d bytes", ErrInvalidKey, keySize)
		return nil, err
	}
	block, err2 := aes.NewCipher(key)
	if err2 != nil {
		err = fmt.Errorf("%w: %v", ErrDecrypt, err2)
		return nil, err
	}
	aead, err2 := cipher.NewGCM(block)
	if err2 != nil {
		err = fmt.Errorf("%w: %v", ErrDecrypt, err2)
		return nil, err
	}
	pt, err2 := aead.Open(nil, nonce, ciphertext, aad)
	if err2 != nil {
		err = ErrBadAuth
		return nil, err
	}
	return pt, nil
}

// Ed25519PubToX25519 converts an Ed25519 public key to its Montgomery (X25519)
// form via point decompression, for devices whose only advertised key is a
// signing key.
func Ed25519PubToX25519(pub ed25519.PublicKey) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: bad ed25519 pub length %d", ErrInvalidKey, len(pub))
	}
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ed25519 pub: %v", ErrInvalidKey, err)
	}
	return p.BytesMontgomery(), nil
}

// Ed25519PrivToX25519 converts an Ed25519 private key to its X25519 scalar
// per RFC 8032 §5.1.5.
func Ed25519PrivToX25519(priv ed25519.PrivateKey) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: bad ed25519 priv length %d", ErrInvalidKey, len(priv))
	}
	seed := priv.Seed()
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64

	var xPriv [32]byte
	copy(xPriv[:], h[:32])
	return xPriv[:], nil
}
