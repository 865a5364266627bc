// Package cloud implements C6: CloudClient, a single long-lived pinned-TLS
// WebSocket to the relay, grounded on the teacher's
// pkg/agent/transport/websocket client and its public-key pinning pattern
// in pkg/agent/hpke/client.go, adapted here to TLS leaf-certificate pinning.
package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hypo-app/hypo-core/internal/codec"
	"github.com/hypo-app/hypo-core/internal/logger"
	"github.com/hypo-app/hypo-core/internal/model"
)

// ErrPinningFailure is returned when the relay's leaf certificate does not
// match the configured pin. Per spec §7 this is always fatal to the cloud
// connection.
var ErrPinningFailure = errors.New("cloud: certificate pinning failure")

// ErrNotConnected mirrors the LAN client's back-pressure signal.
var ErrNotConnected = errors.New("cloud: not connected")

// FrameHandler dispatches one inbound binary frame to the IncomingHandler.
type FrameHandler func(ctx context.Context, origin model.DeviceId, frame []byte)

// PinningFailureNotifier is invoked (in addition to returning an error) on
// every pinning failure, so C11 Metrics can record the analytics event.
type PinningFailureNotifier func(host string)

// Options configures the Client.
type Options struct {
	URL              string // wss://<host>/ws
	LocalDeviceID    model.DeviceId
	Platform         string
	ClientVersion    string
	PinnedSHA256Hex  string // hex-encoded SHA-256 of the expected leaf cert; empty disables pinning
	DialTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	SendQueueSize    int
	MaxBackoff       time.Duration
	MaxAttempts      int
	Logger           logger.Logger
	OnPinningFailure PinningFailureNotifier
}

func (o *Options) setDefaults() {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.SendQueueSize < 64 {
		o.SendQueueSize = 64
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 128 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 8
	}
}

// Client maintains the single long-lived WebSocket connection to the relay.
type Client struct {
	opts Options
	log  logger.Logger

	onFrame FrameHandler

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	sendQueue chan []byte
	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewClient constructs a relay Client. onFrame is invoked for every decoded
// inbound frame.
func NewClient(opts Options, onFrame FrameHandler) *Client {
	opts.setDefaults()
	log := opts.Logger
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Client{
		opts:      opts,
		log:       log,
		onFrame:   onFrame,
		sendQueue: make(chan []byte, opts.SendQueueSize),
		stop:      make(chan struct{}),
	}
}

// Start begins the connect-and-reconnect loop.
func (c *Client) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	backoff := time.Second
	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		default:
		}

		err := c.connectOnce(ctx)
		if err == nil {
			attempts = 0
			backoff = time.Second
			continue
		}

		attempts++
		if errors.Is(err, ErrPinningFailure) {
			c.log.Error("cloud: pinning failure, not retrying this cycle", logger.Error(err))
			attempts = c.opts.MaxAttempts
		} else {
			c.log.Warn("cloud: connect failed", logger.Int("attempt", attempts), logger.Error(err))
		}

		if attempts >= c.opts.MaxAttempts {
			select {
			case <-time.After(c.opts.MaxBackoff):
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			}
			attempts = 0
			backoff = time.Second
			continue
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		}
		backoff *= 2
		if backoff > c.opts.MaxBackoff {
			backoff = c.opts.MaxBackoff
		}
	}
}

func (c *Client) tlsConfig() *tls.Config {
	if c.opts.PinnedSHA256Hex == "" {
		return nil
	}
	return &tls.Config{
		InsecureSkipVerify: true, // pinning replaces name-based chain verification
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return c.verifyPin(rawCerts)
		},
	}
}

func (c *Client) verifyPin(rawCerts [][]byte) error {
	if len(rawCerts) == 0 {
		return ErrPinningFailure
	}
	sum := sha256.Sum256(rawCerts[0])
	got := hex.EncodeToString(sum[:])
	want := c.opts.PinnedSHA256Hex
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		if c.opts.OnPinningFailure != nil {
			c.opts.OnPinningFailure(c.opts.URL)
		}
		return ErrPinningFailure
	}
	return nil
}

func (c *Client) connectOnce(ctx context.Context) error {
	header := http.Header{
		"X-Device-Id":       {string(c.opts.LocalDeviceID.Canonical())},
		"X-Device-Platform": {c.opts.Platform},
		"X-Client-Version":  {c.opts.ClientVersion},
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: c.opts.DialTimeout,
		TLSClientConfig:  c.tlsConfig(),
	}

	conn, _, err := dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	writerDone := make(chan struct{})
	go c.writeLoop(conn, writerDone)

	c.readLoop(ctx, conn)

	c.mu.Lock()
	c.connected = false
	c.conn = nil
	c.mu.Unlock()
	conn.Close()
	<-writerDone
	return nil
}

func (c *Client) writeLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.sendQueue:
			if !ok {
				return
			}
			var buf bytes.Buffer
			if err := codec.WriteFrame(&buf, frame); err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.stop:
			return
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * c.opts.PingInterval))
	})

	for {
		conn.SetReadDeadline(time.Now().Add(2 * c.opts.PingInterval))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		frame, err := codec.ReadFrame(bytes.NewReader(data))
		if err != nil {
			c.log.Warn("cloud: dropping malformed frame", logger.Error(err))
			continue
		}
		if c.onFrame != nil {
			c.onFrame(ctx, "", frame) // origin id comes from the envelope, parsed downstream
		}
	}
}

// Send enqueues frame for delivery to the relay and only reports immediate
// back-pressure. Neither Send nor TransportManager.Send retries a frame;
// there is no per-message retry or 10-minute expiry.
func (c *Client) Send(frame []byte) error {
	select {
	case c.sendQueue <- frame:
		return nil
	default:
		return ErrNotConnected
	}
}

// Connected reports whether the relay connection is currently live.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Stop tears down the connection and stops reconnect attempts.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
	})
	c.wg.Wait()
}
