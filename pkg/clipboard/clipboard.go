// Package clipboard defines the capability boundary between the
// platform-agnostic sync engine and the OS-specific clipboard/notification
// surfaces, per spec §9: "the core consumes a ClipboardAdapter with
// on_change stream and set(entry) method, and a Notifier with show(entry);
// everything else is platform-agnostic." Concrete adapters (macOS/Windows/
// Linux/mobile clipboard APIs, OS notification centers) are deliberately
// out of scope; this package is the seam they implement against.
package clipboard

import (
	"context"

	"github.com/hypo-app/hypo-core/internal/model"
)

// Adapter is the platform-specific clipboard surface the sync engine
// consumes. OnChange delivers locally authored entries (skip_broadcast
// always false); Set applies a remote entry to the local OS clipboard.
type Adapter interface {
	// OnChange returns a channel of locally observed clipboard changes.
	// The channel is closed when ctx is cancelled or Close is called.
	OnChange(ctx context.Context) (<-chan model.ClipboardEntry, error)
	// Set writes entry to the local OS clipboard (used for inbound sync).
	Set(ctx context.Context, entry model.ClipboardEntry) error
	// Close releases any OS-level resources the adapter holds.
	Close() error
}

// Notifier is the platform-specific notification surface. Show is called
// for inbound entries that are not an echo-by-origin (spec §4.9).
type Notifier interface {
	Show(ctx context.Context, entry model.ClipboardEntry) error
}

// NoopNotifier discards every notification; useful for headless builds and
// tests where no OS notification center is available.
type NoopNotifier struct{}

func (NoopNotifier) Show(ctx context.Context, entry model.ClipboardEntry) error { return nil }

// ChannelAdapter is an in-process reference Adapter driven by a caller
// feeding entries into Inject, useful for tests and for bridging a platform
// binding implemented in another process over a pipe.
type ChannelAdapter struct {
	changes chan model.ClipboardEntry
	setFn   func(ctx context.Context, entry model.ClipboardEntry) error
}

// NewChannelAdapter constructs a ChannelAdapter. setFn may be nil, in which
// case Set is a no-op (headless/test mode).
func NewChannelAdapter(setFn func(ctx context.Context, entry model.ClipboardEntry) error) *ChannelAdapter {
	return &ChannelAdapter{changes: make(chan model.ClipboardEntry, 16), setFn: setFn}
}

// OnChange returns the adapter's change channel. ctx is not observed: the
// channel is closed only by Close.
func (a *ChannelAdapter) OnChange(ctx context.Context) (<-chan model.ClipboardEntry, error) {
	return a.changes, nil
}

// Inject simulates a local clipboard change, for callers bridging an
// external clipboard-watching process or for tests.
func (a *ChannelAdapter) Inject(ctx context.Context, entry model.ClipboardEntry) error {
	select {
	case a.changes <- entry:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *ChannelAdapter) Set(ctx context.Context, entry model.ClipboardEntry) error {
	if a.setFn == nil {
		return nil
	}
	return a.setFn(ctx, entry)
}

func (a *ChannelAdapter) Close() error {
	close(a.changes)
	return nil
}
