package clipboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypo-app/hypo-core/internal/model"
)

func TestChannelAdapterInjectAndOnChange(t *testing.T) {
	a := NewChannelAdapter(nil)
	defer a.Close()

	ch, err := a.OnChange(context.Background())
	require.NoError(t, err)

	entry := model.ClipboardEntry{ID: "e1", ContentType: model.ContentText, Data: []byte("hi")}
	require.NoError(t, a.Inject(context.Background(), entry))

	select {
	case got := <-ch:
		assert.Equal(t, entry.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for injected entry")
	}
}

func TestChannelAdapterSetInvokesCallback(t *testing.T) {
	var received model.ClipboardEntry
	a := NewChannelAdapter(func(ctx context.Context, entry model.ClipboardEntry) error {
		received = entry
		return nil
	})
	defer a.Close()

	entry := model.ClipboardEntry{ID: "e2"}
	require.NoError(t, a.Set(context.Background(), entry))
	assert.Equal(t, "e2", received.ID)
}

func TestChannelAdapterSetNilIsNoop(t *testing.T) {
	a := NewChannelAdapter(nil)
	defer a.Close()
	assert.NoError(t, a.Set(context.Background(), model.ClipboardEntry{}))
}

func TestNoopNotifierNeverErrors(t *testing.T) {
	var n Notifier = NoopNotifier{}
	assert.NoError(t, n.Show(context.Background(), model.ClipboardEntry{}))
}
