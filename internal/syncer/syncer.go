// Package syncer implements C9: SyncCoordinator, the outbound pipeline that
// deduplicates, fans clipboard entries out to every paired peer, and
// persists them into history, grounded on the teacher's session-dispatch
// loop in core/session (single owner goroutine draining a channel, per-item
// isolated failure handling).
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/hypo-app/hypo-core/internal/codec"
	"github.com/hypo-app/hypo-core/internal/keystore"
	"github.com/hypo-app/hypo-core/internal/logger"
	"github.com/hypo-app/hypo-core/internal/model"
	"github.com/hypo-app/hypo-core/internal/transportmgr"
	"github.com/hypo-app/hypo-core/pkg/history"
)

// Sender is the subset of transportmgr.Manager the coordinator depends on,
// kept narrow so tests can substitute a fake.
type Sender interface {
	Send(ctx context.Context, target model.DeviceId, frame []byte) transportmgr.Result
}

// TargetFailure records one target's isolated send failure.
type TargetFailure struct {
	Target model.DeviceId
	Err    error
}

// Outcome summarizes one Dispatch call.
type Outcome struct {
	Persisted        bool
	DroppedEcho      bool
	EchoByOrigin     bool
	SkippedBroadcast bool
	Targets          []model.DeviceId
	Failures         []TargetFailure
}

// Coordinator is the C9 SyncCoordinator.
type Coordinator struct {
	localID        model.DeviceId
	keys           keystore.KeyStore
	sender         Sender
	hist           history.Store
	log            logger.Logger
	plaintextDebug bool

	mu    sync.Mutex
	dedup *dedupWindow
}

// New constructs a Coordinator. plaintextDebug mirrors
// config.HistoryConfig.PlaintextDebug (spec §8 scenario 6): when set, every
// outbound envelope skips AEAD encryption instead of just codec_test.go's
// direct unit-test calls.
func New(localID model.DeviceId, keys keystore.KeyStore, sender Sender, hist history.Store, log logger.Logger, plaintextDebug bool) *Coordinator {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Coordinator{
		localID:        localID.Canonical(),
		keys:           keys,
		sender:         sender,
		hist:           hist,
		log:            log,
		plaintextDebug: plaintextDebug,
		dedup:          newDedupWindow(dedupCapacity),
	}
}

// TargetSet returns the current paired-device target set: every id known
// to the KeyStore excluding the local device id.
func (c *Coordinator) TargetSet() []model.DeviceId {
	ids := c.keys.ListIDs()
	out := make([]model.DeviceId, 0, len(ids))
	for _, id := range ids {
		if id.Canonical() != c.localID {
			out = append(out, id)
		}
	}
	return out
}

// Dispatch runs one entry through the outbound pipeline: echo-suppression,
// exactly-once persistence, and (unless skip_broadcast or the target set is
// empty) a fan-out send to every paired peer with per-target isolated
// failure handling.
func (c *Coordinator) Dispatch(ctx context.Context, entry model.ClipboardEntry) Outcome {
	sig := signatureFor(entry.OriginDeviceID, entry.Data)
	if c.dedup.seenRecently(sig, time.Now()) {
		return Outcome{DroppedEcho: true}
	}

	echoByOrigin := entry.OriginDeviceID.Canonical() != c.localID &&
		c.hist.ByOriginContentMatch(c.localID, model.Preview(entry.ContentType, entry.Data))

	if len(entry.Data) > codec.MaxAttachmentBytes {
		entry.TooLargeToSync = true
	}

	inserted, err := c.hist.Append(entry)
	if err != nil {
		c.log.Error("syncer: history append failed", logger.Error(err))
	}

	out := Outcome{Persisted: inserted, EchoByOrigin: echoByOrigin}

	if entry.TooLargeToSync {
		return out
	}

	if entry.SkipBroadcast {
		out.SkippedBroadcast = true
		return out
	}

	targets := c.TargetSet()
	out.Targets = targets
	if len(targets) == 0 {
		return out
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, target := range targets {
		target := target
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.sendToTarget(ctx, entry, target); err != nil {
				mu.Lock()
				out.Failures = append(out.Failures, TargetFailure{Target: target, Err: err})
				mu.Unlock()
				c.log.Warn("syncer: target send failed",
					logger.String("target", string(target)),
					logger.Error(err))
			}
		}()
	}
	wg.Wait()

	return out
}

func (c *Coordinator) sendToTarget(ctx context.Context, entry model.ClipboardEntry, target model.DeviceId) error {
	key, err := c.keys.Load(target)
	if err != nil {
		return err
	}

	frame, err := codec.Encode(&entry, c.localID, target, key, codec.EncodeOptions{PlaintextDebug: c.plaintextDebug})
	if err != nil {
		return err
	}

	res := c.sender.Send(ctx, target, frame)
	if !res.Succeeded {
		if res.LANErr != nil {
			return res.LANErr
		}
		return res.CloudErr
	}
	return nil
}
