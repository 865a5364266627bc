package lan

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypo-app/hypo-core/internal/model"
)

func TestServerClientRoundTrip(t *testing.T) {
	var mu sync.Mutex
	var received [][]byte

	server := NewServer(func(ctx context.Context, peer model.DeviceId, frame []byte) {
		mu.Lock()
		received = append(received, frame)
		mu.Unlock()
	}, nil)

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"

	client := NewClient("peer-1", url, ClientOptions{LocalDeviceID: "local-device"}, nil)
	client.Start(context.Background())
	defer client.Stop()

	require.Eventually(t, client.Connected, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Send([]byte(`{"id":"abc"}`)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, `{"id":"abc"}`, string(received[0]))
	mu.Unlock()
}

func TestServerSupersedesOldConnection(t *testing.T) {
	server := NewServer(func(ctx context.Context, peer model.DeviceId, frame []byte) {}, nil)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"

	c1 := NewClient("peer-1", url, ClientOptions{LocalDeviceID: "local-device"}, nil)
	c1.Start(context.Background())
	defer c1.Stop()
	require.Eventually(t, c1.Connected, 2*time.Second, 10*time.Millisecond)

	c2 := NewClient("peer-1", url, ClientOptions{LocalDeviceID: "local-device"}, nil)
	c2.Start(context.Background())
	defer c2.Stop()
	require.Eventually(t, c2.Connected, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return server.Connected("local-device") }, 2*time.Second, 10*time.Millisecond)
}

func TestClientSendFullQueueReturnsNotConnected(t *testing.T) {
	client := NewClient("peer-1", "ws://127.0.0.1:0/", ClientOptions{SendQueueSize: 64}, nil)
	// Fill the queue without ever dialing (no Start called).
	for i := 0; i < 64; i++ {
		require.NoError(t, client.Send([]byte("x")))
	}
	err := client.Send([]byte("overflow"))
	assert.ErrorIs(t, err, ErrNotConnected)
}
