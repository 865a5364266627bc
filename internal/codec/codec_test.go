package codec

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypo-app/hypo-core/internal/model"
)

func testKey(b byte) [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = b
	}
	return k
}

func sampleEntry() *model.ClipboardEntry {
	return &model.ClipboardEntry{
		ID:             "entry-1",
		OriginDeviceID: "origin-device",
		ContentType:    model.ContentText,
		Data:           []byte("hello from the clipboard"),
		Metadata:       model.ContentMetadata{Length: 24, MIME: "text/plain"},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	key := testKey(3)
	entry := sampleEntry()

	frame, err := Encode(entry, "origin-device", "target-device", key, EncodeOptions{})
	require.NoError(t, err)

	envelope, inner, err := Decode(frame, key)
	require.NoError(t, err)

	assert.Equal(t, model.EnvelopeClipboard, envelope.Type)
	assert.Equal(t, model.DeviceId("origin-device"), envelope.Payload.DeviceID)
	assert.Equal(t, model.DeviceId("target-device"), envelope.Payload.Target)
	assert.Equal(t, model.ContentText, inner.ContentType)

	decoded, err := base64.StdEncoding.DecodeString(inner.DataBase64)
	require.NoError(t, err)
	assert.Equal(t, entry.Data, decoded)

	assert.NotEmpty(t, envelope.Payload.Encryption.Nonce)
	tag, err := base64.StdEncoding.DecodeString(envelope.Payload.Encryption.Tag)
	require.NoError(t, err)
	assert.Len(t, tag, 16)
}

func TestDecodeFailsWithWrongKey(t *testing.T) {
	frame, err := Encode(sampleEntry(), "origin-device", "target-device", testKey(1), EncodeOptions{})
	require.NoError(t, err)

	_, _, err = Decode(frame, testKey(2))
	assert.Error(t, err)
}

func TestPlaintextDebugSkipsEncryption(t *testing.T) {
	key := testKey(5)
	entry := sampleEntry()

	frame, err := Encode(entry, "origin-device", "target-device", key, EncodeOptions{PlaintextDebug: true})
	require.NoError(t, err)

	envelope, inner, err := Decode(frame, key)
	require.NoError(t, err)
	assert.Equal(t, model.ContentText, inner.ContentType)
	assert.Empty(t, envelope.Payload.Encryption.Nonce)
	assert.Empty(t, envelope.Payload.Encryption.Tag)
}

func TestEncodeTooLargeAttachment(t *testing.T) {
	entry := sampleEntry()
	entry.Data = make([]byte, MaxAttachmentBytes+1)

	_, err := Encode(entry, "origin-device", "target-device", testKey(1), EncodeOptions{})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, _, err := Decode([]byte("not json"), testKey(1))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeUnknownType(t *testing.T) {
	frame, err := Encode(sampleEntry(), "origin-device", "target-device", testKey(1), EncodeOptions{})
	require.NoError(t, err)

	mutated := bytes.Replace(frame, []byte(`"clipboard"`), []byte(`"bogus_type"`), 1)
	_, _, err = Decode(mutated, testKey(1))
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeOverSizeFrameIsTooLarge(t *testing.T) {
	oversized := make([]byte, MaxFrameBytes+1)
	_, _, err := Decode(oversized, testKey(1))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"id":"x"}`)

	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadFrameRejectsOversizeLength(t *testing.T) {
	var buf bytes.Buffer
	big := uint32(MaxFrameBytes + 1)
	buf.Write([]byte{byte(big >> 24), byte(big >> 16), byte(big >> 8), byte(big)})
	buf.Write(make([]byte, 16)) // short body; CopyN will hit EOF and report Malformed

	_, err := ReadFrame(&buf)
	assert.Error(t, err)
}
