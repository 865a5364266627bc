package discovery

import (
	"testing"
	"time"

	"github.com/libp2p/zeroconf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypo-app/hypo-core/internal/model"
)

func TestIdentityToTXTRoundTrip(t *testing.T) {
	id := Identity{
		DeviceID:          "Device-ABC",
		PubKeyB64:         "pub==",
		SigningPubKeyB64:  "sig==",
		FingerprintSHA256: "abcd1234",
		Version:           "1.0.0",
		Protocols:         []string{"lan", "cloud"},
	}

	txt := id.toTXT()
	fields := parseTXT(txt)

	assert.Equal(t, "device-abc", fields[TXTDeviceID])
	assert.Equal(t, "pub==", fields[TXTPubKey])
	assert.Equal(t, "sig==", fields[TXTSigningPubKey])
	assert.Equal(t, "abcd1234", fields[TXTFingerprint])
	assert.Equal(t, "1.0.0", fields[TXTVersion])
	assert.Equal(t, []string{"lan", "cloud"}, splitProtocols(fields[TXTProtocols]))
}

func TestOptionsSetDefaults(t *testing.T) {
	var o Options
	o.setDefaults()

	assert.Equal(t, "_hypo._tcp", o.ServiceName)
	assert.Equal(t, "local.", o.Domain)
	assert.Equal(t, 90*time.Second, o.StaleAfter)
	assert.Equal(t, 2*time.Second, o.RegisterBackoff)
}

func TestServicePeersEmptyInitially(t *testing.T) {
	s := NewService(Options{})
	assert.Empty(t, s.Peers())
	assert.Equal(t, StateIdle, s.State())
}

func TestServicePruneRemovesStalePeers(t *testing.T) {
	s := NewService(Options{StaleAfter: 10 * time.Millisecond})

	stale := model.DiscoveredPeer{DeviceID: "stale-device", LastSeen: time.Now().Add(-time.Hour)}
	fresh := model.DiscoveredPeer{DeviceID: "fresh-device", LastSeen: time.Now()}

	s.mu.Lock()
	s.peers[stale.DeviceID] = stale
	s.peers[fresh.DeviceID] = fresh
	s.mu.Unlock()

	// Drain events in background; emit() never blocks, it drops events once
	// the buffer is full.
	go func() {
		for range s.events {
		}
	}()

	s.pruneOnce()

	peers := s.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, model.DeviceId("fresh-device"), peers[0].DeviceID)

	close(s.done)
	close(s.events)
}

func TestHandleEntryEmitsAddedOnce(t *testing.T) {
	s := NewService(Options{})

	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: "svc",
			Port:     7000,
			Text: []string{
				TXTDeviceID + "=peer-1",
				TXTVersion + "=1.0.0",
			},
		},
	}
	s.handleEntry(entry)
	s.handleEntry(entry) // duplicate, should not re-emit

	require.Len(t, s.events, 1)
	ev := <-s.events
	assert.Equal(t, KindAdded, ev.Kind)

	peers := s.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, model.DeviceId("peer-1"), peers[0].DeviceID)

	close(s.done)
	close(s.events)
}
