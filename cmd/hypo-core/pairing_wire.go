package main

import (
	"encoding/json"
	"fmt"

	"github.com/hypo-app/hypo-core/internal/model"
)

// pairingFrame is the cleartext wire envelope for the C7 handshake, carried
// as a frame's raw payload alongside the C3 codec's own SyncEnvelope
// clipboard frames. Pairing frames travel unencrypted: no shared key exists
// yet for the peer they address.
type pairingFrame struct {
	Type model.EnvelopeType `json:"type"`
	Body json.RawMessage    `json:"body"`
}

func encodePairingFrame(envType model.EnvelopeType, body interface{}) ([]byte, error) {
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal pairing body: %w", err)
	}
	return json.Marshal(pairingFrame{Type: envType, Body: bodyJSON})
}

func decodePairingFrame(frame []byte) (*pairingFrame, error) {
	var env pairingFrame
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("unmarshal pairing frame: %w", err)
	}
	return &env, nil
}

// peekEnvelopeType reports the frame's envelope type without fully decoding
// it, so the transport layer can route pairing frames away from the
// encrypted clipboard path before any key lookup is attempted.
func peekEnvelopeType(frame []byte) model.EnvelopeType {
	var header struct {
		Type model.EnvelopeType `json:"type"`
	}
	if err := json.Unmarshal(frame, &header); err != nil {
		return ""
	}
	return header.Type
}
