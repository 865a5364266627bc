package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/hypo-app/hypo-core/internal/cryptox"
	"github.com/hypo-app/hypo-core/internal/discovery"
	"github.com/hypo-app/hypo-core/internal/logger"
	"github.com/hypo-app/hypo-core/internal/model"
	"github.com/hypo-app/hypo-core/internal/pairing"
)

// challengeBody mirrors the JSON shape of pairing's unexported
// challengePayload, so the initiator can recover the random challenge bytes
// it generated by decrypting its own challenge ciphertext with the derived
// key InitiateChallenge already returned.
type challengeBody struct {
	Challenge []byte    `json:"challenge"`
	Timestamp time.Time `json:"timestamp"`
}

var pairTimeout time.Duration

var pairCmd = &cobra.Command{
	Use:   "pair <device-id>",
	Short: "Pair with a device discovered on the LAN",
	Long: `pair browses mDNS for the given device id, dials it directly over
LAN WebSocket, and runs the C7 pairing handshake as the initiator. No relay
server is involved: both devices must be reachable on the same network.`,
	Args: cobra.ExactArgs(1),
	RunE: runPair,
}

func init() {
	rootCmd.AddCommand(pairCmd)
	pairCmd.Flags().DurationVar(&pairTimeout, "timeout", 20*time.Second, "how long to wait for the peer to be discovered and to ack")
}

func runPair(cmd *cobra.Command, args []string) error {
	target := model.DeviceId(args[0]).Canonical()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := buildLogger(cfg)

	dev, err := loadIdentity()
	if err != nil {
		return err
	}
	vault, err := openKeyStore(cfg)
	if err != nil {
		return fmt.Errorf("open keystore: %w", err)
	}
	roster, err := openPairedStore()
	if err != nil {
		return fmt.Errorf("open paired-device roster: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), pairTimeout)
	defer cancel()

	discoverySvc := discovery.NewService(discovery.Options{
		ServiceName: cfg.Discovery.ServiceName,
		Domain:      cfg.Discovery.Domain,
		Port:        0,
		Logger:      log,
	})

	id := discovery.Identity{
		DeviceID:          dev.ID,
		PubKeyB64:         base64.StdEncoding.EncodeToString(dev.KX.PublicBytes()),
		SigningPubKeyB64:  base64.StdEncoding.EncodeToString(dev.Signing.Public),
		FingerprintSHA256: dev.Signing.Fingerprint(),
		Version:           "1",
		Protocols:         []string{"hypo/1"},
	}
	if err := discoverySvc.Start(ctx, id); err != nil {
		return fmt.Errorf("start discovery: %w", err)
	}
	defer discoverySvc.Stop()

	peer, err := waitForPeer(ctx, discoverySvc, target)
	if err != nil {
		return err
	}
	log.Info("pair: found peer", logger.String("peer", string(peer.DeviceID)), logger.String("host", peer.Host))

	peerPub, err := base64.StdEncoding.DecodeString(peer.PubKeyB64)
	if err != nil {
		return fmt.Errorf("pair: decode peer public key: %w", err)
	}

	url := fmt.Sprintf("ws://%s:%d/", peer.Host, peer.Port)
	header := http.Header{"X-Device-Id": []string{string(dev.ID)}}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("pair: dial peer: %w", err)
	}
	defer conn.Close()

	session := pairing.NewSession(dev.ID, dev.Name)
	challengeEnv, sharedKey, err := session.InitiateChallenge(peerPub)
	if err != nil {
		return fmt.Errorf("pair: build challenge: %w", err)
	}

	// Recover the random challenge bytes by decrypting our own ciphertext;
	// InitiateChallenge only hands back the envelope and the derived key.
	plaintext, err := cryptox.Decrypt(sharedKey, challengeEnv.Nonce, challengeEnv.Ciphertext, []byte(dev.ID.Canonical()))
	if err != nil {
		return fmt.Errorf("pair: recover challenge: %w", err)
	}
	var body challengeBody
	if err := json.Unmarshal(plaintext, &body); err != nil {
		return fmt.Errorf("pair: decode challenge body: %w", err)
	}

	challengeFrame, err := encodePairingFrame(model.EnvelopePairingChallenge, challengeEnv)
	if err != nil {
		return fmt.Errorf("pair: encode challenge: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, challengeFrame); err != nil {
		return fmt.Errorf("pair: send challenge: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	_, ackFrame, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("pair: read ack: %w", err)
	}
	wire, err := decodePairingFrame(ackFrame)
	if err != nil {
		return fmt.Errorf("pair: decode ack frame: %w", err)
	}
	if wire.Type != model.EnvelopePairingAck {
		return fmt.Errorf("pair: expected pairing ack, got %q", wire.Type)
	}

	var ack pairing.AckEnvelope
	if err := json.Unmarshal(wire.Body, &ack); err != nil {
		return fmt.Errorf("pair: malformed ack body: %w", err)
	}

	if err := session.CompletePairing(sharedKey, body.Challenge, &ack, vault); err != nil {
		return fmt.Errorf("pair: %w", err)
	}

	if err := roster.Upsert(model.PairedDevice{
		DeviceID:             peer.DeviceID,
		Name:                 ack.ResponderName,
		LastSeen:             time.Now(),
		LastSuccessTransport: model.TransportLAN,
	}); err != nil {
		return fmt.Errorf("pair: persist paired device: %w", err)
	}

	fmt.Printf("paired with %s (%s)\n", ack.ResponderName, peer.DeviceID)
	return nil
}

func waitForPeer(ctx context.Context, svc *discovery.Service, target model.DeviceId) (model.DiscoveredPeer, error) {
	for _, p := range svc.Peers() {
		if p.DeviceID.Canonical() == target {
			return p, nil
		}
	}
	for {
		select {
		case <-ctx.Done():
			return model.DiscoveredPeer{}, fmt.Errorf("pair: timed out waiting for device %q to appear on the LAN", target)
		case ev, ok := <-svc.Events():
			if !ok {
				return model.DiscoveredPeer{}, fmt.Errorf("pair: discovery stopped before device %q appeared", target)
			}
			if ev.Kind == discovery.KindAdded && ev.Peer.DeviceID.Canonical() == target {
				return ev.Peer, nil
			}
		}
	}
}
