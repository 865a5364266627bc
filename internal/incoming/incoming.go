// Package incoming implements C10: IncomingHandler, the inbound pipeline
// that turns a received wire frame into a ClipboardEntry handed to the
// SyncCoordinator, grounded on the teacher's inbound message-dispatch loop
// in pkg/agent/transport/websocket (decode, validate, dispatch, log-and-
// continue on a single malformed message).
package incoming

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/hypo-app/hypo-core/internal/codec"
	"github.com/hypo-app/hypo-core/internal/keystore"
	"github.com/hypo-app/hypo-core/internal/logger"
	"github.com/hypo-app/hypo-core/internal/metrics"
	"github.com/hypo-app/hypo-core/internal/model"
)

// ErrMissingKey is logged (never returned, never surfaced as a pairing
// trigger) when no per-peer key exists for the envelope's origin id.
var ErrMissingKey = errors.New("incoming: no key for origin device")

// ErrLoop names the case of an envelope whose origin id is the local device
// id. HandleFrame drops such frames without returning or logging this error.
var ErrLoop = errors.New("incoming: origin is local device")

// DispatchFunc hands a reconstructed ClipboardEntry to the SyncCoordinator
// without forcing this package to depend on syncer's concrete Outcome type.
type DispatchFunc func(ctx context.Context, entry model.ClipboardEntry)

// pendingOutbound tracks envelope ids sent locally, for round-trip timing.
type pendingOutbound struct {
	mu      sync.Mutex
	sentAt  map[string]time.Time
}

func newPendingOutbound() *pendingOutbound {
	return &pendingOutbound{sentAt: make(map[string]time.Time)}
}

func (p *pendingOutbound) record(envelopeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sentAt[envelopeID] = time.Now()
}

func (p *pendingOutbound) takeRoundTrip(envelopeID string) (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sentAt, ok := p.sentAt[envelopeID]
	if !ok {
		return 0, false
	}
	delete(p.sentAt, envelopeID)
	return time.Since(sentAt), true
}

// RoundTripRecorder receives the elapsed time for an envelope id whose
// outbound send is correlated with this inbound frame (metrics hook).
type RoundTripRecorder func(envelopeID string, elapsed time.Duration)

// Handler is the C10 IncomingHandler.
type Handler struct {
	localID model.DeviceId
	keys    keystore.KeyStore
	dispatch DispatchFunc
	log      logger.Logger

	pending  *pendingOutbound
	onRoundTrip RoundTripRecorder
}

// Options configures a Handler.
type Options struct {
	LocalDeviceID model.DeviceId
	Keys          keystore.KeyStore
	Dispatch      DispatchFunc
	Logger        logger.Logger
	OnRoundTrip   RoundTripRecorder
}

// New constructs a Handler.
func New(opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Handler{
		localID:     opts.LocalDeviceID.Canonical(),
		keys:        opts.Keys,
		dispatch:    opts.Dispatch,
		log:         log,
		pending:     newPendingOutbound(),
		onRoundTrip: opts.OnRoundTrip,
	}
}

// NoteOutboundSent records that envelopeID was just sent, so a later
// inbound echo can be timed. Only meaningful on the originating device.
func (h *Handler) NoteOutboundSent(envelopeID string) {
	h.pending.record(envelopeID)
}

// HandleFrame implements the C5/C6 FrameHandler signature: decode, look up
// the per-peer key by origin, decrypt, ungzip, parse, and dispatch a
// ClipboardEntry tagged skip_broadcast=true, per spec §4.10.
func (h *Handler) HandleFrame(ctx context.Context, transportOrigin model.Transport, frame []byte) {
	// The envelope's routing header (type, origin, target) travels in the
	// clear; only the inner payload is AEAD-protected. Peek it once to
	// resolve the per-peer key before the authenticated Decode.
	var header model.SyncEnvelope
	if err := json.Unmarshal(frame, &header); err != nil {
		h.log.Warn("incoming: malformed frame", logger.Error(err))
		return
	}

	origin := header.Payload.DeviceID.Canonical()
	if origin == h.localID {
		metrics.LoopDiscards.Inc()
		h.log.Debug("incoming: discarding self-originated frame (loop)", logger.String("origin", string(origin)))
		return
	}

	key, err := h.keys.Load(origin)
	if err != nil {
		metrics.MissingKeyDiscards.Inc()
		h.log.Warn("incoming: missing key for origin, discarding without pairing",
			logger.String("origin", string(origin)), logger.Error(ErrMissingKey))
		return
	}

	envelope, inner, err := codec.Decode(frame, key)
	if err != nil {
		h.log.Warn("incoming: decode failed", logger.Error(err))
		return
	}

	if envelope.Type != model.EnvelopeClipboard {
		h.log.Debug("incoming: non-clipboard envelope, ignoring", logger.String("type", string(envelope.Type)))
		return
	}

	data, err := base64.StdEncoding.DecodeString(inner.DataBase64)
	if err != nil {
		h.log.Warn("incoming: malformed inner payload", logger.Error(err))
		return
	}

	entry := model.ClipboardEntry{
		ID:              envelope.ID,
		OriginDeviceID:  origin,
		Timestamp:       time.Now().UTC(),
		ContentType:     inner.ContentType,
		Data:            data,
		Metadata:        inner.Metadata,
		Preview:         model.Preview(inner.ContentType, data),
		TransportOrigin: transportOrigin,
		Encrypted:       envelope.Payload.Encryption.Nonce != "" || envelope.Payload.Encryption.Tag != "",
		SkipBroadcast:   true,
	}

	if elapsed, ok := h.pending.takeRoundTrip(envelope.ID); ok && h.onRoundTrip != nil {
		h.onRoundTrip(envelope.ID, elapsed)
	}

	if h.dispatch != nil {
		h.dispatch(ctx, entry)
	}
}
