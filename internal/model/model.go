// Package model defines the core data types shared by every sync-engine component.
package model

import (
	"strings"
	"time"
)

// DeviceId is an opaque identifier unique per installed instance, stable
// across restarts. The canonical form is always lowercase; it is what gets
// embedded in AAD and on the wire.
type DeviceId string

// Canonical returns the lowercase canonical form of the id.
func (d DeviceId) Canonical() DeviceId {
	return DeviceId(strings.ToLower(string(d)))
}

func (d DeviceId) String() string { return string(d) }

// Transport names the branch an envelope travelled (or will travel) over.
type Transport string

const (
	TransportLAN   Transport = "lan"
	TransportCloud Transport = "cloud"
	TransportNone  Transport = "none"
	TransportLocal Transport = "local"
)

// PairedDevice is a peer this instance has completed pairing with.
type PairedDevice struct {
	DeviceID            DeviceId
	Name                string
	Platform            string
	LastSeen            time.Time
	LastSuccessTransport Transport
}

// DiscoveredPeer is an mDNS/DNS-SD advertisement observed on the LAN.
type DiscoveredPeer struct {
	ServiceName      string
	Host             string
	Port             int
	DeviceID         DeviceId
	Fingerprint      string
	PubKeyB64        string // X25519, base64
	SigningPubKeyB64 string // Ed25519, base64
	Version          string
	Protocols        []string
	LastSeen         time.Time
}

// ContentType enumerates the fixed clipboard payload variants.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentLink  ContentType = "link"
	ContentImage ContentType = "image"
	ContentFile  ContentType = "file"
)

// ContentMetadata carries the non-payload attributes of a clipboard item.
type ContentMetadata struct {
	Length   int    `json:"length,omitempty"`
	MIME     string `json:"mime,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// ClipboardEntry is one clipboard event, local or remote.
type ClipboardEntry struct {
	ID              string
	OriginDeviceID  DeviceId
	OriginPlatform  string
	OriginName      string
	Timestamp       time.Time
	ContentType     ContentType
	Data            []byte
	Metadata        ContentMetadata
	Pinned          bool
	Preview         string
	TransportOrigin Transport
	Encrypted       bool
	SkipBroadcast   bool
	TooLargeToSync  bool
}

// Preview derives the deterministic, ≤200-char preview string for content.
// Two entries with byte-identical normalized content must produce the same preview.
func Preview(contentType ContentType, data []byte) string {
	var s string
	switch contentType {
	case ContentText, ContentLink:
		s = string(data)
	default:
		s = string(contentType)
	}
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// EnvelopeType enumerates the SyncEnvelope message kinds on the wire.
type EnvelopeType string

const (
	EnvelopeClipboard        EnvelopeType = "clipboard"
	EnvelopePairingChallenge EnvelopeType = "pairing_challenge"
	EnvelopePairingAck       EnvelopeType = "pairing_ack"
	EnvelopePing             EnvelopeType = "ping"
)

// Encryption carries the AEAD metadata for an envelope payload. Both fields
// are empty strings iff the envelope travels in plaintext-debug mode.
type Encryption struct {
	Nonce string `json:"nonce"`
	Tag   string `json:"tag"`
}

// Payload is the routed content of a SyncEnvelope.
type Payload struct {
	ContentType ContentType `json:"content_type"`
	Ciphertext  string      `json:"ciphertext"`
	DeviceID    DeviceId    `json:"device_id"`
	Target      DeviceId    `json:"target"`
	Encryption  Encryption  `json:"encryption"`
}

// SyncEnvelope is the outer JSON message carried by the frame codec.
type SyncEnvelope struct {
	ID      string       `json:"id"`
	Type    EnvelopeType `json:"type"`
	Payload Payload      `json:"payload"`
}

// InnerPayload is the cleartext structure gzipped then encrypted into Ciphertext.
type InnerPayload struct {
	ContentType ContentType     `json:"content_type"`
	DataBase64  string          `json:"data_base64"`
	Metadata    ContentMetadata `json:"metadata"`
}

// PairingState tracks one in-flight pairing attempt; destroyed on success or timeout.
type PairingState struct {
	SessionID       string
	LocalPrivKey    []byte // X25519 scalar
	LocalPubKey     []byte
	PeerPubKey      []byte
	DerivedKey      []byte // transient, zeroed after persistence
	ChallengeID     string
	ChallengeNonce  []byte
	IssuedAt        time.Time
	LastEventTime   time.Time
}

// PerPeerKey is the 256-bit symmetric key shared with one peer.
type PerPeerKey struct {
	DeviceID  DeviceId
	Key       [32]byte
	CreatedAt time.Time
}
