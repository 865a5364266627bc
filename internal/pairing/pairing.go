// Package pairing implements C7: PairingSession, the handshake that
// establishes a 32-byte per-peer shared key via either LAN auto-pairing or
// code-based relay pairing, grounded on the teacher's handshake package
// (pending-state map with TTL, cleanup loop, signature verification).
package pairing

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hypo-app/hypo-core/internal/cryptox"
	"github.com/hypo-app/hypo-core/internal/keystore"
	"github.com/hypo-app/hypo-core/internal/metrics"
	"github.com/hypo-app/hypo-core/internal/model"
)

// pairingFlow is the only flow this implementation drives (LAN direct
// pairing); kept as a label value rather than a constant string literal so
// a future relay-code flow slots in without touching the metric call sites.
const pairingFlow = "lan"

// Error taxonomy for C7, per spec §4.7/§7.
var (
	ErrCodeExpired = errors.New("pairing: code expired")
	ErrNotFound    = errors.New("pairing: not found")
	ErrClaimed     = errors.New("pairing: code already claimed")
	ErrInvalidSig  = errors.New("pairing: invalid signature")
	ErrReplay      = errors.New("pairing: duplicate challenge")
	ErrTimeSkew    = errors.New("pairing: timestamp outside allowed skew")
	ErrBadAuth     = errors.New("pairing: decrypt failed")
)

const (
	pairInfo          = "hypo-pair-v1"
	advertisementTTL  = 5 * time.Minute
	clockSkewDefault  = 30 * time.Second
	replaySetCapacity = 32
)

// challengePayload is the AEAD-protected body of a pairing-challenge envelope.
type challengePayload struct {
	Challenge []byte    `json:"challenge"`
	Timestamp time.Time `json:"timestamp"`
}

// ackPayload is the AEAD-protected body of a pairing-ack envelope.
type ackPayload struct {
	ChallengeHash []byte    `json:"challenge_hash"`
	IssuedAt      time.Time `json:"issued_at"`
}

// ChallengeEnvelope is what the initiator sends over the wire.
type ChallengeEnvelope struct {
	ChallengeID     string `json:"challenge_id"`
	InitiatorID     model.DeviceId `json:"initiator_id"`
	InitiatorName   string `json:"initiator_name"`
	InitiatorPubKey []byte `json:"initiator_pub_key"` // X25519
	Nonce           []byte `json:"nonce"`
	Ciphertext      []byte `json:"ciphertext"`
}

// AckEnvelope is what the responder sends back.
type AckEnvelope struct {
	ChallengeID  string         `json:"challenge_id"`
	ResponderID  model.DeviceId `json:"responder_id"`
	ResponderName string        `json:"responder_name"`
	Nonce        []byte         `json:"nonce"`
	Ciphertext   []byte         `json:"ciphertext"`
}

// replaySet is a bounded, insertion-ordered set of recently seen challenge ids.
type replaySet struct {
	mu       sync.Mutex
	capacity int
	order    []string
	seen     map[string]struct{}
}

func newReplaySet(capacity int) *replaySet {
	return &replaySet{capacity: capacity, seen: make(map[string]struct{}, capacity)}
}

// checkAndAdd returns false if id was already recorded (a replay).
func (r *replaySet) checkAndAdd(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[id]; ok {
		return false
	}
	if len(r.order) >= r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.seen, oldest)
	}
	r.order = append(r.order, id)
	r.seen[id] = struct{}{}
	return true
}

// Session drives both flows of the C7 state machine for one device.
type Session struct {
	localID   model.DeviceId
	localName string
	replay    *replaySet
	clockSkew time.Duration
}

// NewSession constructs a pairing Session for the local device.
func NewSession(localID model.DeviceId, localName string) *Session {
	return &Session{
		localID:   localID.Canonical(),
		localName: localName,
		replay:    newReplaySet(replaySetCapacity),
		clockSkew: clockSkewDefault,
	}
}

// VerifyAdvertisement checks that a peer's advertised X25519 bundle was
// signed by its advertised Ed25519 signing key within advertisementTTL,
// per spec §4.7 step 1.
func VerifyAdvertisement(signingPub ed25519.PublicKey, bundle, sig []byte, signedAt time.Time) error {
	if !cryptox.VerifySignature(signingPub, bundle, sig) {
		return ErrInvalidSig
	}
	if time.Since(signedAt) > advertisementTTL {
		return fmt.Errorf("%w: advertisement older than %s", ErrTimeSkew, advertisementTTL)
	}
	return nil
}

// InitiateChallenge builds the outbound pairing-challenge envelope (step 2-3).
// It returns the envelope to send and the derived key K, which the caller
// must not persist until the ack is verified.
func (s *Session) InitiateChallenge(peerPub []byte) (*ChallengeEnvelope, []byte, error) {
	start := time.Now()
	metrics.PairingAttempts.WithLabelValues(pairingFlow, "initiator").Inc()

	kx, err := cryptox.GenerateKX()
	if err != nil {
		metrics.PairingFailed.WithLabelValues("ephemeral_keygen").Inc()
		return nil, nil, fmt.Errorf("pairing: generate ephemeral: %w", err)
	}
	key, err := kx.Derive(peerPub, pairInfo)
	if err != nil {
		metrics.PairingFailed.WithLabelValues("derive").Inc()
		return nil, nil, fmt.Errorf("pairing: derive key: %w", err)
	}

	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		metrics.PairingFailed.WithLabelValues("rand").Inc()
		return nil, nil, fmt.Errorf("pairing: generate challenge: %w", err)
	}

	body := challengePayload{Challenge: challenge, Timestamp: time.Now().UTC()}
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		metrics.PairingFailed.WithLabelValues("marshal").Inc()
		return nil, nil, fmt.Errorf("pairing: marshal challenge body: %w", err)
	}

	aad := []byte(s.localID)
	nonce, ciphertext, err := cryptox.Encrypt(key, bodyJSON, aad, nil)
	if err != nil {
		metrics.PairingFailed.WithLabelValues("encrypt").Inc()
		return nil, nil, fmt.Errorf("pairing: encrypt challenge: %w", err)
	}

	env := &ChallengeEnvelope{
		ChallengeID:     uuid.NewString(),
		InitiatorID:     s.localID,
		InitiatorName:   s.localName,
		InitiatorPubKey: kx.PublicBytes(),
		Nonce:           nonce,
		Ciphertext:      ciphertext,
	}
	metrics.PairingDuration.WithLabelValues("challenge").Observe(time.Since(start).Seconds())
	return env, key, nil
}

// RespondToChallenge implements the responder's side of step 4-5: derive K,
// decrypt and validate the challenge, record it against replay, store K,
// and build the ack envelope.
func (s *Session) RespondToChallenge(localKX *cryptox.KXKeyPair, env *ChallengeEnvelope, store keystore.KeyStore) (*AckEnvelope, error) {
	start := time.Now()
	metrics.PairingAttempts.WithLabelValues(pairingFlow, "responder").Inc()

	key, err := localKX.Derive(env.InitiatorPubKey, pairInfo)
	if err != nil {
		metrics.PairingFailed.WithLabelValues("bad_auth").Inc()
		return nil, fmt.Errorf("%w: %v", ErrBadAuth, err)
	}

	aad := []byte(env.InitiatorID.Canonical())
	plaintext, err := cryptox.Decrypt(key, env.Nonce, env.Ciphertext, aad)
	if err != nil {
		metrics.PairingFailed.WithLabelValues("bad_auth").Inc()
		return nil, ErrBadAuth
	}

	var body challengePayload
	if err := json.Unmarshal(plaintext, &body); err != nil {
		metrics.PairingFailed.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("pairing: malformed challenge body: %w", err)
	}

	if d := time.Since(body.Timestamp); d > s.clockSkew || d < -s.clockSkew {
		metrics.PairingFailed.WithLabelValues("time_skew").Inc()
		return nil, ErrTimeSkew
	}

	if !s.replay.checkAndAdd(env.ChallengeID) {
		metrics.PairingFailed.WithLabelValues("replay").Inc()
		return nil, ErrReplay
	}

	var key32 [32]byte
	copy(key32[:], key)
	if err := store.Store(env.InitiatorID.Canonical(), key32); err != nil {
		metrics.PairingFailed.WithLabelValues("store").Inc()
		return nil, fmt.Errorf("pairing: store key: %w", err)
	}

	hash := sha256.Sum256(body.Challenge)
	ackBody := ackPayload{ChallengeHash: hash[:], IssuedAt: time.Now().UTC()}
	ackJSON, err := json.Marshal(ackBody)
	if err != nil {
		metrics.PairingFailed.WithLabelValues("marshal").Inc()
		return nil, fmt.Errorf("pairing: marshal ack body: %w", err)
	}

	ackAAD := []byte(s.localID)
	nonce, ciphertext, err := cryptox.Encrypt(key, ackJSON, ackAAD, nil)
	if err != nil {
		metrics.PairingFailed.WithLabelValues("encrypt").Inc()
		return nil, fmt.Errorf("pairing: encrypt ack: %w", err)
	}

	metrics.PairingDuration.WithLabelValues("respond").Observe(time.Since(start).Seconds())
	metrics.PairingCompleted.WithLabelValues(pairingFlow).Inc()
	return &AckEnvelope{
		ChallengeID:   env.ChallengeID,
		ResponderID:   s.localID,
		ResponderName: s.localName,
		Nonce:         nonce,
		Ciphertext:    ciphertext,
	}, nil
}

// CompletePairing implements the initiator's final step 6: decrypt the ack,
// verify the challenge hash, and store K under the responder's id.
func (s *Session) CompletePairing(key, challenge []byte, ack *AckEnvelope, store keystore.KeyStore) error {
	start := time.Now()

	aad := []byte(ack.ResponderID.Canonical())
	plaintext, err := cryptox.Decrypt(key, ack.Nonce, ack.Ciphertext, aad)
	if err != nil {
		metrics.PairingFailed.WithLabelValues("bad_auth").Inc()
		return ErrBadAuth
	}

	var body ackPayload
	if err := json.Unmarshal(plaintext, &body); err != nil {
		metrics.PairingFailed.WithLabelValues("malformed").Inc()
		return fmt.Errorf("pairing: malformed ack body: %w", err)
	}

	wantHash := sha256.Sum256(challenge)
	if string(wantHash[:]) != string(body.ChallengeHash) {
		metrics.PairingFailed.WithLabelValues("bad_auth").Inc()
		return ErrBadAuth
	}

	var key32 [32]byte
	copy(key32[:], key)
	if err := store.Store(ack.ResponderID.Canonical(), key32); err != nil {
		metrics.PairingFailed.WithLabelValues("store").Inc()
		return err
	}

	metrics.PairingDuration.WithLabelValues("complete").Observe(time.Since(start).Seconds())
	metrics.PairingCompleted.WithLabelValues(pairingFlow).Inc()
	return nil
}
