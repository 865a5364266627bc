package pairing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypo-app/hypo-core/internal/cryptox"
	"github.com/hypo-app/hypo-core/internal/keystore"
)

func TestFullPairingRoundTrip(t *testing.T) {
	initiator := NewSession("initiator-device", "Initiator's Phone")
	responder := NewSession("responder-device", "Responder's Laptop")

	responderKX, err := cryptox.GenerateKX()
	require.NoError(t, err)

	store := keystore.NewMemoryVault()

	env, key, err := initiator.InitiateChallenge(responderKX.PublicBytes())
	require.NoError(t, err)

	ack, err := responder.RespondToChallenge(responderKX, env, store)
	require.NoError(t, err)

	// Responder already stored K under the initiator's id.
	got, err := store.Load("initiator-device")
	require.NoError(t, err)
	assert.Equal(t, key, got[:])

	// The initiator recovers the original challenge bytes by decrypting its
	// own challenge ciphertext (it generated them, so in a real client these
	// would just be held in memory across the round trip).
	plaintext, err := cryptox.Decrypt(key, env.Nonce, env.Ciphertext, []byte(initiator.localID))
	require.NoError(t, err)
	var body challengePayload
	require.NoError(t, json.Unmarshal(plaintext, &body))

	require.NoError(t, initiator.CompletePairing(key, body.Challenge, ack, store))

	gotResponder, err := store.Load("responder-device")
	require.NoError(t, err)
	assert.Equal(t, key, gotResponder[:])
}

func TestRespondToChallengeRejectsReplay(t *testing.T) {
	initiator := NewSession("initiator-device", "Phone")
	responder := NewSession("responder-device", "Laptop")
	responderKX, err := cryptox.GenerateKX()
	require.NoError(t, err)
	store := keystore.NewMemoryVault()

	env, _, err := initiator.InitiateChallenge(responderKX.PublicBytes())
	require.NoError(t, err)

	_, err = responder.RespondToChallenge(responderKX, env, store)
	require.NoError(t, err)

	_, err = responder.RespondToChallenge(responderKX, env, store)
	assert.ErrorIs(t, err, ErrReplay)
}

func TestRespondToChallengeRejectsTimeSkew(t *testing.T) {
	responder := NewSession("responder-device", "Laptop")
	responder.clockSkew = 30 * time.Second

	responderKX, err := cryptox.GenerateKX()
	require.NoError(t, err)
	initiatorKX, err := cryptox.GenerateKX()
	require.NoError(t, err)
	store := keystore.NewMemoryVault()

	key, err := initiatorKX.Derive(responderKX.PublicBytes(), pairInfo)
	require.NoError(t, err)

	body := challengePayload{Challenge: make([]byte, 32), Timestamp: time.Now().Add(-time.Hour)}
	bodyJSON, err := json.Marshal(body)
	require.NoError(t, err)

	nonce, ciphertext, err := cryptox.Encrypt(key, bodyJSON, []byte("initiator-device"), nil)
	require.NoError(t, err)

	env := &ChallengeEnvelope{
		ChallengeID:     "chal-1",
		InitiatorID:     "initiator-device",
		InitiatorPubKey: initiatorKX.PublicBytes(),
		Nonce:           nonce,
		Ciphertext:      ciphertext,
	}

	_, err = responder.RespondToChallenge(responderKX, env, store)
	assert.ErrorIs(t, err, ErrTimeSkew)
}

func TestCompletePairingRejectsWrongChallenge(t *testing.T) {
	initiator := NewSession("initiator-device", "Phone")
	responder := NewSession("responder-device", "Laptop")
	responderKX, err := cryptox.GenerateKX()
	require.NoError(t, err)
	store := keystore.NewMemoryVault()

	env, key, err := initiator.InitiateChallenge(responderKX.PublicBytes())
	require.NoError(t, err)

	ack, err := responder.RespondToChallenge(responderKX, env, store)
	require.NoError(t, err)

	wrongChallenge := make([]byte, 32)
	wrongChallenge[0] = 0xFF
	err = initiator.CompletePairing(key, wrongChallenge, ack, store)
	assert.ErrorIs(t, err, ErrBadAuth)
}

func TestReplaySetEvictsOldest(t *testing.T) {
	rs := newReplaySet(2)
	assert.True(t, rs.checkAndAdd("a"))
	assert.True(t, rs.checkAndAdd("b"))
	assert.True(t, rs.checkAndAdd("c")) // evicts "a"
	assert.True(t, rs.checkAndAdd("a")) // "a" no longer remembered; evicts "b"
	assert.False(t, rs.checkAndAdd("c"))
}

func TestVerifyAdvertisementRejectsStale(t *testing.T) {
	id, err := cryptox.GenerateIdentity()
	require.NoError(t, err)
	bundle := []byte("pubkey-bundle")
	sig := id.Sign(bundle)

	err = VerifyAdvertisement(id.Public, bundle, sig, time.Now().Add(-time.Hour))
	assert.ErrorIs(t, err, ErrTimeSkew)
}

func TestVerifyAdvertisementRejectsBadSig(t *testing.T) {
	id, err := cryptox.GenerateIdentity()
	require.NoError(t, err)
	bundle := []byte("pubkey-bundle")

	err = VerifyAdvertisement(id.Public, bundle, []byte("not-a-signature-64-bytes-long-000000000000000000000000000000000"), time.Now())
	assert.ErrorIs(t, err, ErrInvalidSig)
}

func TestCodeRegistryIssueClaimLifecycle(t *testing.T) {
	reg := NewCodeRegistry(time.Minute)

	st, err := reg.IssueCode("issuer-1")
	require.NoError(t, err)
	require.Len(t, st.Code, 6)

	claimed, err := reg.Claim(st.Code, "claimant-1")
	require.NoError(t, err)
	assert.Equal(t, "claimant-1", claimed.ClaimedBy)

	_, err = reg.Claim(st.Code, "claimant-2")
	assert.ErrorIs(t, err, ErrClaimed)
}

func TestCodeRegistryExpiredCode(t *testing.T) {
	reg := NewCodeRegistry(time.Millisecond)
	st, err := reg.IssueCode("issuer-1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = reg.Claim(st.Code, "claimant-1")
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestCodeRegistryNotFound(t *testing.T) {
	reg := NewCodeRegistry(time.Minute)
	_, err := reg.Claim("000000", "claimant-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
