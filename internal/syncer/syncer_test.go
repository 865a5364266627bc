package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypo-app/hypo-core/internal/codec"
	"github.com/hypo-app/hypo-core/internal/keystore"
	"github.com/hypo-app/hypo-core/internal/model"
	"github.com/hypo-app/hypo-core/internal/transportmgr"
	"github.com/hypo-app/hypo-core/pkg/history"
)

type fakeSender struct {
	results map[model.DeviceId]transportmgr.Result
}

func (f *fakeSender) Send(ctx context.Context, target model.DeviceId, frame []byte) transportmgr.Result {
	if r, ok := f.results[target]; ok {
		return r
	}
	return transportmgr.Result{Succeeded: true, Winner: model.TransportLAN}
}

func setup(t *testing.T) (*Coordinator, keystore.KeyStore, *fakeSender, *history.MemoryStore) {
	t.Helper()
	store := keystore.NewMemoryVault()
	require.NoError(t, store.Store("peer-a", [32]byte{1}))
	require.NoError(t, store.Store("peer-b", [32]byte{2}))

	sender := &fakeSender{results: make(map[model.DeviceId]transportmgr.Result)}
	hist := history.NewMemoryStore()
	c := New("local-device", store, sender, hist, nil, false)
	return c, store, sender, hist
}

func sampleEntry(id string, origin model.DeviceId, data []byte) model.ClipboardEntry {
	return model.ClipboardEntry{
		ID:             id,
		OriginDeviceID: origin,
		ContentType:    model.ContentText,
		Data:           data,
		Timestamp:      time.Now(),
		Preview:        model.Preview(model.ContentText, data),
	}
}

func TestTargetSetExcludesLocalID(t *testing.T) {
	c, store, _, _ := setup(t)
	require.NoError(t, store.Store("local-device", [32]byte{9}))

	targets := c.TargetSet()
	assert.ElementsMatch(t, []model.DeviceId{"peer-a", "peer-b"}, targets)
}

func TestDispatchFansOutToAllTargets(t *testing.T) {
	c, _, _, hist := setup(t)

	entry := sampleEntry("entry-1", "local-device", []byte("hello"))
	out := c.Dispatch(context.Background(), entry)

	assert.True(t, out.Persisted)
	assert.False(t, out.SkippedBroadcast)
	assert.ElementsMatch(t, []model.DeviceId{"peer-a", "peer-b"}, out.Targets)
	assert.Empty(t, out.Failures)
	assert.Len(t, hist.Recent(10), 1)
}

func TestDispatchSkipsBroadcastForIncomingEntries(t *testing.T) {
	c, _, _, _ := setup(t)

	entry := sampleEntry("entry-2", "peer-a", []byte("from peer"))
	entry.SkipBroadcast = true
	out := c.Dispatch(context.Background(), entry)

	assert.True(t, out.Persisted)
	assert.True(t, out.SkippedBroadcast)
	assert.Nil(t, out.Targets)
}

func TestDispatchIsolatesPerTargetFailures(t *testing.T) {
	c, _, sender, _ := setup(t)
	sender.results["peer-a"] = transportmgr.Result{Succeeded: false, LANErr: assertErr, CloudErr: assertErr}

	entry := sampleEntry("entry-3", "local-device", []byte("partial failure"))
	out := c.Dispatch(context.Background(), entry)

	require.Len(t, out.Failures, 1)
	assert.Equal(t, model.DeviceId("peer-a"), out.Failures[0].Target)
}

func TestDispatchDropsDuplicateWithinRetentionWindow(t *testing.T) {
	c, _, _, hist := setup(t)

	entry := sampleEntry("entry-4", "peer-a", []byte("dup content"))
	first := c.Dispatch(context.Background(), entry)
	assert.False(t, first.DroppedEcho)

	entry2 := entry
	entry2.ID = "entry-5"
	second := c.Dispatch(context.Background(), entry2)
	assert.True(t, second.DroppedEcho)

	assert.Len(t, hist.Recent(10), 1)
}

func TestDispatchEchoByOriginFlag(t *testing.T) {
	c, _, _, _ := setup(t)

	local := sampleEntry("entry-6", "local-device", []byte("mine"))
	c.Dispatch(context.Background(), local)

	remoteEcho := sampleEntry("entry-7", "peer-a", []byte("mine"))
	remoteEcho.Preview = local.Preview
	out := c.Dispatch(context.Background(), remoteEcho)
	assert.True(t, out.EchoByOrigin)
}

func TestDispatchMarksOversizeEntryTooLargeAndSkipsBroadcast(t *testing.T) {
	c, _, _, hist := setup(t)

	entry := sampleEntry("entry-8", "local-device", make([]byte, codec.MaxAttachmentBytes+1))
	out := c.Dispatch(context.Background(), entry)

	assert.True(t, out.Persisted)
	assert.Nil(t, out.Targets)
	require.Len(t, hist.Recent(10), 1)
	assert.True(t, hist.Recent(10)[0].TooLargeToSync)
}

func TestDispatchPlaintextDebugSkipsEncryption(t *testing.T) {
	store := keystore.NewMemoryVault()
	require.NoError(t, store.Store("peer-a", [32]byte{1}))
	sender := &fakeSender{results: make(map[model.DeviceId]transportmgr.Result)}
	hist := history.NewMemoryStore()
	c := New("local-device", store, sender, hist, nil, true)

	entry := sampleEntry("entry-9", "local-device", []byte("debug me"))
	out := c.Dispatch(context.Background(), entry)

	assert.Empty(t, out.Failures)
}

var assertErr = assertError("send failed")

type assertError string

func (e assertError) Error() string { return string(e) }
