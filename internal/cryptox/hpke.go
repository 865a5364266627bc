package cryptox

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/hpke"
)

// hpke suite used for the optional key-confirmation export path during
// pairing, mirroring the teacher's HPKE helpers in crypto/keys/x25519.go.
var hpkeSuite = hpke.NewSuite(hpke.KEM_X25519_HKDF_SHA256, hpke.KDF_HKDF_SHA256, hpke.AEAD_ChaCha20Poly1305)

// HPKEExportToPeer establishes an HPKE Base context to peerPub and exports a
// confirmation secret of exportLen bytes; enc must travel to the peer so it
// can reproduce the same secret via HPKEImportFromEnc.
func HPKEExportToPeer(peerPub []byte, info, exportCtx []byte, exportLen int) (enc, secret []byte, err error) {
	kem := hpke.KEM_X25519_HKDF_SHA256.Scheme()
	rp, err := kem.UnmarshalBinaryPublicKey(peerPub)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: hpke unmarshal pub: %v", ErrInvalidKey, err)
	}

	sender, err := hpkeSuite.NewSender(rp, info)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: hpke new sender: %v", ErrEncrypt, err)
	}

	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: hpke setup: %v", ErrEncrypt, err)
	}

	return enc, sealer.Export(exportCtx, uint(exportLen)), nil
}

// HPKEImportFromEnc reproduces the secret exported by HPKEExportToPeer given
// this device's X25519 private scalar and the sender's enc value.
func HPKEImportFromEnc(privBytes, enc []byte, info, exportCtx []byte, exportLen int) ([]byte, error) {
	priv, err := ecdh.X25519().NewPrivateKey(privBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	kem := hpke.KEM_X25519_HKDF_SHA256.Scheme()
	skR, err := kem.UnmarshalBinaryPrivateKey(priv.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: hpke unmarshal priv: %v", ErrInvalidKey, err)
	}

	receiver, err := hpkeSuite.NewReceiver(skR, info)
	if err != nil {
		return nil, fmt.Errorf("%w: hpke new receiver: %v", ErrDecrypt, err)
	}

	opener, err := receiver.Setup(enc)
	if err != nil {
		return nil, fmt.Errorf("%w: hpke receiver setup: %v", ErrDecrypt, err)
	}

	return opener.Export(exportCtx, uint(exportLen)), nil
}
