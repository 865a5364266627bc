// Package codec implements C3: length-prefixed binary frames carrying a JSON
// SyncEnvelope, with gzip-compressed inner payloads and AES-256-GCM envelope
// encryption.
package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/hypo-app/hypo-core/internal/cryptox"
	"github.com/hypo-app/hypo-core/internal/metrics"
	"github.com/hypo-app/hypo-core/internal/model"
)

// Error taxonomy for C3, per spec §7 ("Codec": Malformed, TooLarge, UnknownType).
var (
	ErrMalformed   = errors.New("codec: malformed frame")
	ErrTooLarge    = errors.New("codec: payload exceeds size ceiling")
	ErrUnknownType = errors.New("codec: unknown envelope type")
)

const (
	// MaxFrameBytes is the length-prefixed payload ceiling (spec §4.3).
	MaxFrameBytes = 20 * 1024 * 1024
	// MaxAttachmentBytes is the raw, pre-encoding content ceiling.
	MaxAttachmentBytes = 10 * 1024 * 1024

	lengthPrefixSize = 4
	// gcmTagSize is the AES-GCM authentication tag length, split out of
	// cryptox.Encrypt's ciphertext||tag output so the wire envelope carries
	// nonce and tag as separate fields per spec §3/§6.2.
	gcmTagSize = 16
)

// ReadFrame reads one length-prefixed frame from r. It never returns a
// partially-consumed stream on ErrTooLarge/ErrMalformed for the length
// header itself, but a caller that gets ErrMalformed for a body read should
// treat the connection as unreliable (only the length header guarantees
// resynchronization).
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameBytes {
		// Drain to keep the stream framed, then report TooLarge.
		if _, err := io.CopyN(io.Discard, r, int64(n)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return nil, ErrTooLarge
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return buf, nil
}

// WriteFrame writes payload length-prefixed to w.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameBytes {
		return ErrTooLarge
	}
	var lenBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// EncodeOptions controls how Encode produces the wire payload.
type EncodeOptions struct {
	// PlaintextDebug skips AEAD encryption; Encryption fields are empty.
	PlaintextDebug bool
}

// Encode builds the wire payload for one outbound clipboard entry addressed
// to target, per the pipeline in spec §4.3: inner JSON -> gzip -> AES-GCM
// (unless PlaintextDebug) -> envelope JSON -> length prefix (the length
// prefix itself is added by WriteFrame, not here). Instruments C11's frame
// counters/duration/size metrics around the encode.
func Encode(entry *model.ClipboardEntry, originID, target model.DeviceId, key [32]byte, opts EncodeOptions) ([]byte, error) {
	start := time.Now()
	out, err := encode(entry, originID, target, key, opts)
	metrics.FrameProcessingDuration.WithLabelValues("encode").Observe(time.Since(start).Seconds())
	metrics.FramesProcessed.WithLabelValues("encode", encodeStatusLabel(err)).Inc()
	if err == nil {
		metrics.FrameSize.Observe(float64(len(out)))
	}
	return out, err
}

func encodeStatusLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "malformed"
	}
}

func encode(entry *model.ClipboardEntry, originID, target model.DeviceId, key [32]byte, opts EncodeOptions) ([]byte, error) {
	if len(entry.Data) > MaxAttachmentBytes {
		return nil, ErrTooLarge
	}

	inner := model.InnerPayload{
		ContentType: entry.ContentType,
		DataBase64:  base64.StdEncoding.EncodeToString(entry.Data),
		Metadata:    entry.Metadata,
	}
	innerJSON, err := json.Marshal(inner)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	gzipped, err := gzipBytes(innerJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	aad := []byte(target.Canonical())
	var enc model.Encryption
	var ciphertext []byte

	if opts.PlaintextDebug {
		ciphertext = gzipped
	} else {
		nonce, sealed, err := cryptox.Encrypt(key[:], gzipped, aad, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if len(sealed) < gcmTagSize {
			return nil, fmt.Errorf("%w: sealed output shorter than gcm tag", ErrMalformed)
		}
		tagOffset := len(sealed) - gcmTagSize
		ciphertext = sealed[:tagOffset]
		enc = model.Encryption{
			Nonce: base64.StdEncoding.EncodeToString(nonce),
			Tag:   base64.StdEncoding.EncodeToString(sealed[tagOffset:]),
		}
	}

	envelope := model.SyncEnvelope{
		ID:   uuid.NewString(),
		Type: model.EnvelopeClipboard,
		Payload: model.Payload{
			ContentType: entry.ContentType,
			Ciphertext:  base64.StdEncoding.EncodeToString(ciphertext),
			DeviceID:    originID.Canonical(),
			Target:      target.Canonical(),
			Encryption:  enc,
		},
	}

	out, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(out) > MaxFrameBytes {
		return nil, ErrTooLarge
	}
	return out, nil
}

// Decode reverses Encode: it parses the envelope JSON, decrypts (unless the
// envelope carries empty encryption metadata), ungzips, and returns the
// envelope plus the reconstructed inner payload. Instruments C11's frame
// counters/duration/size metrics around the decode.
func Decode(payload []byte, key [32]byte) (*model.SyncEnvelope, *model.InnerPayload, error) {
	start := time.Now()
	metrics.FrameSize.Observe(float64(len(payload)))
	envelope, inner, err := decode(payload, key)
	metrics.FrameProcessingDuration.WithLabelValues("decode").Observe(time.Since(start).Seconds())
	metrics.FramesProcessed.WithLabelValues("decode", decodeStatusLabel(err)).Inc()
	return envelope, inner, err
}

func decodeStatusLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "malformed"
	}
}

func decode(payload []byte, key [32]byte) (*model.SyncEnvelope, *model.InnerPayload, error) {
	if len(payload) > MaxFrameBytes {
		return nil, nil, ErrTooLarge
	}

	var envelope model.SyncEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch envelope.Type {
	case model.EnvelopeClipboard, model.EnvelopePairingChallenge, model.EnvelopePairingAck, model.EnvelopePing:
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownType, envelope.Type)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(envelope.Payload.Ciphertext)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var gzipped []byte
	plaintextMode := envelope.Payload.Encryption.Nonce == "" && envelope.Payload.Encryption.Tag == ""
	if plaintextMode {
		gzipped = ciphertext
	} else {
		nonce, err := base64.StdEncoding.DecodeString(envelope.Payload.Encryption.Nonce)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		tag, err := base64.StdEncoding.DecodeString(envelope.Payload.Encryption.Tag)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		sealed := append(append([]byte{}, ciphertext...), tag...)
		aad := []byte(envelope.Payload.Target.Canonical())
		gzipped, err = cryptox.Decrypt(key[:], nonce, sealed, aad)
		if err != nil {
			return nil, nil, err // cryptox.ErrBadAuth propagates as-is
		}
	}

	innerJSON, err := gunzipBytes(gzipped)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var inner model.InnerPayload
	if err := json.Unmarshal(innerJSON, &inner); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return &envelope, &inner, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
