package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hypo-app/hypo-core/internal/identity"
	"github.com/hypo-app/hypo-core/internal/keystore"
	"github.com/hypo-app/hypo-core/internal/logger"
	"github.com/hypo-app/hypo-core/internal/model"
	"github.com/hypo-app/hypo-core/internal/pairedstore"
	"github.com/hypo-app/hypo-core/internal/pairing"
	"github.com/hypo-app/hypo-core/internal/transport/lan"
)

// respondToPairing implements the responder half of C7: decode the wire
// envelope, run Session.RespondToChallenge against the local long-term KX
// key, persist the derived per-peer key, upsert the new roster entry, and
// write the ack back on the same transport the challenge arrived on.
func respondToPairing(
	ctx context.Context,
	log logger.Logger,
	session *pairing.Session,
	dev *identity.Device,
	vault keystore.KeyStore,
	roster *pairedstore.Store,
	peer model.DeviceId,
	transport model.Transport,
	frame []byte,
	lanServer *lan.Server,
	cloudSend func(frame []byte) error,
) {
	wire, err := decodePairingFrame(frame)
	if err != nil {
		log.Warn("pairing: malformed wire frame, discarding", logger.Error(err))
		return
	}

	var challenge pairing.ChallengeEnvelope
	if err := json.Unmarshal(wire.Body, &challenge); err != nil {
		log.Warn("pairing: malformed challenge body, discarding", logger.Error(err))
		return
	}

	ack, err := session.RespondToChallenge(dev.KX, &challenge, vault)
	if err != nil {
		log.Warn("pairing: challenge rejected", logger.String("initiator", string(challenge.InitiatorID)), logger.Error(err))
		return
	}

	if err := roster.Upsert(model.PairedDevice{
		DeviceID:             challenge.InitiatorID,
		Name:                 challenge.InitiatorName,
		LastSeen:             time.Now(),
		LastSuccessTransport: transport,
	}); err != nil {
		log.Error("pairing: failed to persist paired device", logger.Error(err))
		return
	}

	ackFrame, err := encodePairingFrame(model.EnvelopePairingAck, ack)
	if err != nil {
		log.Error("pairing: failed to encode ack", logger.Error(err))
		return
	}

	switch transport {
	case model.TransportLAN:
		if err := lanServer.Send(peer, ackFrame); err != nil {
			log.Warn("pairing: failed to send ack over lan", logger.Error(err))
		}
	case model.TransportCloud:
		if cloudSend != nil {
			if err := cloudSend(ackFrame); err != nil {
				log.Warn("pairing: failed to send ack over cloud", logger.Error(err))
			}
		}
	}

	log.Info("pairing: completed as responder", logger.String("peer", string(challenge.InitiatorID)))
}
