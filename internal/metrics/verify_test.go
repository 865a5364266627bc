package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistration(t *testing.T) {
	assert.NotNil(t, PairingAttempts)
	assert.NotNil(t, PairingCompleted)
	assert.NotNil(t, PairingFailed)
	assert.NotNil(t, PairingDuration)

	assert.NotNil(t, ConnectionsActive)
	assert.NotNil(t, SendAttempts)
	assert.NotNil(t, SendWinner)
	assert.NotNil(t, PinningFailures)
	assert.NotNil(t, RoundTripDuration)

	assert.NotNil(t, CryptoOperations)
	assert.NotNil(t, CryptoErrors)
	assert.NotNil(t, CryptoOperationDuration)

	assert.NotNil(t, FramesProcessed)
	assert.NotNil(t, LoopDiscards)
	assert.NotNil(t, MissingKeyDiscards)
}

func TestMetricsIncrement(t *testing.T) {
	PairingAttempts.WithLabelValues("lan", "initiator").Inc()
	PairingCompleted.WithLabelValues("lan").Inc()
	PairingFailed.WithLabelValues("replay").Inc()
	PairingDuration.WithLabelValues("respond").Observe(0.01)

	ConnectionsActive.WithLabelValues("lan").Inc()
	SendAttempts.WithLabelValues("lan", "success").Inc()
	SendWinner.WithLabelValues("lan").Inc()
	PinningFailures.WithLabelValues("relay.hypo.example").Inc()
	RoundTripDuration.WithLabelValues("cloud").Observe(0.25)

	CryptoOperations.WithLabelValues("encrypt", "aes-gcm").Inc()
	CryptoOperations.WithLabelValues("ecdh", "x25519").Inc()

	assert.NotZero(t, testutil.CollectAndCount(PairingAttempts))
	assert.NotZero(t, testutil.CollectAndCount(ConnectionsActive))
	assert.NotZero(t, testutil.CollectAndCount(CryptoOperations))
}
